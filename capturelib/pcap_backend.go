// Copyright (c) 2015 Raytheon BBN Technologies Corp.  All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package capturelib

import (
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/pcap"
)

// pcapSource backs Source with github.com/google/gopacket/pcap, the
// teacher's primary capture dependency.
type pcapSource struct {
	handle   *pcap.Handle
	offline  bool
	breaking int32
}

func openLivePcap(device string, snaplen, toMS int) (Source, error) {
	handle, err := pcap.OpenLive(device, int32(snaplen), true, time.Duration(toMS)*time.Millisecond)
	if err != nil {
		return nil, fmt.Errorf("opening live capture on %s: %w", device, err)
	}
	return &pcapSource{handle: handle}, nil
}

func openOfflinePcap(path string) (Source, error) {
	handle, err := pcap.OpenOffline(path)
	if err != nil {
		return nil, fmt.Errorf("opening capture file %s: %w", path, err)
	}
	return &pcapSource{handle: handle, offline: true}, nil
}

func (s *pcapSource) LinkType() int   { return int(s.handle.LinkType()) }
func (s *pcapSource) IsOffline() bool { return s.offline }

func (s *pcapSource) Dispatch(cb func([]byte, gopacket.CaptureInfo)) (int, error) {
	data, ci, err := s.handle.ReadPacketData()
	if err != nil {
		if atomic.LoadInt32(&s.breaking) != 0 {
			return -2, nil
		}
		if err == io.EOF || err == pcap.NextErrorTimeoutExpired {
			return 0, nil
		}
		return -1, err
	}
	cb(data, ci)
	if atomic.LoadInt32(&s.breaking) != 0 {
		return -2, nil
	}
	return 1, nil
}

func (s *pcapSource) Breakloop() {
	if atomic.CompareAndSwapInt32(&s.breaking, 0, 1) {
		s.handle.Close()
	}
}

func (s *pcapSource) Close() error {
	s.handle.Close()
	return nil
}

// DefaultDevice returns the first live capture device libpcap reports, for
// use when the configuration names no interfaces (spec §6: "one worker
// reads from the capture library's default source").
func DefaultDevice() (string, error) {
	devices, err := pcap.FindAllDevs()
	if err != nil {
		return "", fmt.Errorf("enumerating capture devices: %w", err)
	}
	if len(devices) == 0 {
		return "", fmt.Errorf("no capture devices found")
	}
	return devices[0].Name, nil
}

func openLive(backend Backend, device string, snaplen, toMS int) (Source, error) {
	switch backend {
	case BackendPcap, "":
		return openLivePcap(device, snaplen, toMS)
	case BackendPacketcap:
		return openLivePacketcap(device, snaplen, toMS)
	default:
		return nil, fmt.Errorf("unknown capture backend %q", backend)
	}
}

func openOffline(backend Backend, path string) (Source, error) {
	// Offline (file replay) capture always goes through gopacket/pcap:
	// packetcap/go-pcap only implements the AF_PACKET live-capture path,
	// matching the teacher's own vendored pcap_linux.go, which has no
	// savefile reader.
	return openOfflinePcap(path)
}
