// Copyright (c) 2015 Raytheon BBN Technologies Corp.  All rights reserved.
// SPDX-License-Identifier: Apache-2.0

// Package capturelib adapts external packet-capture libraries to the small
// interface the Capture Worker state machine (spec §4.4) needs. Neither
// backend's Go API exposes libpcap's pcap_dispatch/pcap_breakloop 1:1, so
// Source.Dispatch reads one packet at a time and translates the result into
// the same n ∈ {1, 0, -1, -2} convention the reference implementation relies
// on, and Breakloop is realized by closing the underlying handle to unblock
// whatever read is in flight.
package capturelib

import "github.com/google/gopacket"

// Source is one capture source: a live interface or an offline pcap file.
type Source interface {
	// LinkType reports the datalink type, available once the source is
	// open (spec §4.4 LinktypeNegotiation).
	LinkType() int

	// IsOffline reports whether this source reads from a file rather than
	// a live interface; it distinguishes Dispatch's n==0 cases (EOF vs
	// read timeout).
	IsOffline() bool

	// Dispatch reads at most one packet and, if one was read, invokes cb
	// with its bytes (valid only for the duration of the call) and capture
	// metadata. If Breakloop is invoked, including from within cb, the call
	// returns -2.
	//
	// Returns n and err per the reference pcap_dispatch convention:
	//   n=1,  err=nil  — cb was called with one packet
	//   n=0,  err=nil  — live read timed out, or (IsOffline()) end of file
	//   n=-1, err!=nil — capture library error
	//   n=-2, err=nil  — Breakloop was invoked during this call
	Dispatch(cb func(data []byte, ci gopacket.CaptureInfo)) (n int, err error)

	// Breakloop requests that the Dispatch call in progress (or the next
	// one) return -2 instead of delivering a packet.
	Breakloop()

	// Close releases the source. Safe to call after Breakloop.
	Close() error
}

// Backend selects which third-party capture library a Source is built on.
type Backend string

const (
	// BackendPcap uses github.com/google/gopacket/pcap (libpcap via cgo).
	BackendPcap Backend = "pcap"
	// BackendPacketcap uses github.com/packetcap/go-pcap, a pure-Go
	// AF_PACKET/TPACKET_V3 backend with no libpcap/cgo dependency.
	BackendPacketcap Backend = "packetcap"
)

// Open opens src (an interface name, or a regular file path for offline
// mode) using backend. toMS is the live-capture read timeout in
// milliseconds (spec §4.4: 250 for live sources; ignored for files).
func Open(backend Backend, src string, snaplen int, toMS int, isRegularFile bool) (Source, error) {
	if isRegularFile {
		return openOffline(backend, src)
	}
	return openLive(backend, src, snaplen, toMS)
}
