// Copyright (c) 2015 Raytheon BBN Technologies Corp.  All rights reserved.
// SPDX-License-Identifier: Apache-2.0

// Package fingerprint defines the compact protocol fingerprint used to
// route captured packets to an output file.
package fingerprint

import (
	"strconv"
	"strings"
)

// Special values carried by a Fingerprint.
const (
	// EthertypeIP stands for "either IPv4 or IPv6" in routing configuration;
	// the classifier never produces it directly.
	EthertypeIP = -1
	// PortFragment marks a TCP/UDP port that could not be determined
	// because the packet is a non-initial fragment (or its L4 header was
	// split across fragments).
	PortFragment = -1
)

// Fingerprint is the discriminated 1-, 2-, or 3-component tuple described in
// spec §3: (ethertype), (ethertype, proto), or (ethertype, proto, port).
// HasProto and HasPort record which shape this value is; Proto and Port are
// meaningless when the corresponding Has* flag is false.
type Fingerprint struct {
	Ethertype int
	Proto     int
	Port      int
	HasProto  bool
	HasPort   bool
}

// Ethertype1 builds a 1-component fingerprint.
func Ethertype1(ethertype int) Fingerprint {
	return Fingerprint{Ethertype: ethertype}
}

// Ethertype2 builds a 2-component fingerprint.
func Ethertype2(ethertype, proto int) Fingerprint {
	return Fingerprint{Ethertype: ethertype, Proto: proto, HasProto: true}
}

// Ethertype3 builds a 3-component fingerprint.
func Ethertype3(ethertype, proto, port int) Fingerprint {
	return Fingerprint{
		Ethertype: ethertype,
		Proto:     proto,
		Port:      port,
		HasProto:  true,
		HasPort:   true,
	}
}

// FormatPattern substitutes {ethertype}, {proto}, and {port} placeholders in
// pattern with this fingerprint's components. Missing components render as
// the empty string, matching the original's
// "filename_pattern.format(ethertype=ethertype, proto=proto, port=port)"
// where an absent component is passed as None.
func (f Fingerprint) FormatPattern(pattern string) string {
	ethertype := strconv.Itoa(f.Ethertype)
	proto := ""
	if f.HasProto {
		proto = strconv.Itoa(f.Proto)
	}
	port := ""
	if f.HasPort {
		port = strconv.Itoa(f.Port)
	}
	return substitute(pattern, map[string]string{
		"ethertype": ethertype,
		"proto":     proto,
		"port":      port,
	})
}

// substitute performs a single left-to-right scan replacing {name} tokens,
// rather than pulling in text/template for three fixed placeholders.
func substitute(pattern string, values map[string]string) string {
	var out strings.Builder
	out.Grow(len(pattern))
	rest := pattern
	for {
		start := strings.IndexByte(rest, '{')
		if start < 0 {
			out.WriteString(rest)
			return out.String()
		}
		end := strings.IndexByte(rest[start+1:], '}')
		if end < 0 {
			out.WriteString(rest)
			return out.String()
		}
		end += start + 1
		name := rest[start+1 : end]
		if val, ok := values[name]; ok {
			out.WriteString(rest[:start])
			out.WriteString(val)
		} else {
			out.WriteString(rest[:end+1])
		}
		rest = rest[end+1:]
	}
}
