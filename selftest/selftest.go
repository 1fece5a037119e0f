// Copyright (c) 2015 Raytheon BBN Technologies Corp.  All rights reserved.
// SPDX-License-Identifier: Apache-2.0

// Package selftest implements the diagnostic `--self-test` mode (spec §12),
// a thin stand-in for the original's TAP-style unittest harness
// (original_source/test.py's TAPTestResult). It exercises the route
// compiler and classifier against a handful of synthetic configs and
// packets and prints one TAP-ish "ok"/"not ok" line per check, matching the
// original's "1..N" plan line plus per-test status convention without
// pulling in a test framework at runtime.
package selftest

import (
	"fmt"
	"io"
	"net"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"github.com/fasguard/fasguard-benign-traffic-collection/classifier"
	"github.com/fasguard/fasguard-benign-traffic-collection/fingerprint"
	"github.com/fasguard/fasguard-benign-traffic-collection/routecompiler"
	"github.com/fasguard/fasguard-benign-traffic-collection/routetable"
)

// check is one named diagnostic: a description and a function that returns
// a non-nil error on failure.
type check struct {
	name string
	fn   func() error
}

// Run executes every diagnostic check against w in TAP-like form ("1..N"
// plan line, then one "ok <n> <name>" or "not ok <n> <name>" line per
// check) and reports whether every check passed.
func Run(w io.Writer) bool {
	checks := checks()
	fmt.Fprintf(w, "1..%d\n", len(checks))
	allOK := true
	for i, c := range checks {
		if err := c.fn(); err != nil {
			fmt.Fprintf(w, "not ok %d %s\n", i+1, c.name)
			fmt.Fprintf(w, "# %v\n", err)
			allOK = false
		} else {
			fmt.Fprintf(w, "ok %d %s\n", i+1, c.name)
		}
	}
	return allOK
}

func checks() []check {
	return []check{
		{"route compile determinism", checkCompileDeterminism},
		{"last-match-wins narrow override", checkNarrowOverride},
		{"ethertype monotonicity <= 1500", checkEthertypeMonotonicity},
		{"fragment yields port -1", checkFragmentPort},
		{"filename pattern round-trip", checkPatternRoundTrip},
		{"catch-all route matches everything", checkCatchAll},
	}
}

// checkCompileDeterminism is spec §8 property 1: compiling the same
// routing list twice yields Route Tables that resolve identical lookups
// for the same probes.
func checkCompileDeterminism() error {
	raw := []interface{}{
		[]interface{}{"ip.pcap", []interface{}{
			[]interface{}{"ip"},
		}},
		[]interface{}{nil, []interface{}{
			[]interface{}{"ipv4", "tcp", "ssh"},
		}},
	}
	t1, err := routecompiler.Compile(raw)
	if err != nil {
		return err
	}
	t2, err := routecompiler.Compile(raw)
	if err != nil {
		return err
	}
	probes := []fingerprint.Fingerprint{
		fingerprint.Ethertype3(0x800, 6, 22),
		fingerprint.Ethertype3(0x800, 6, 80),
		fingerprint.Ethertype3(0x86dd, 6, 22),
	}
	for _, fp := range probes {
		l1, ok1 := routetable.Lookup(t1, fp)
		l2, ok2 := routetable.Lookup(t2, fp)
		if ok1 != ok2 || (ok1 && (l1.Drop != l2.Drop || l1.Pattern != l2.Pattern)) {
			return fmt.Errorf("lookup(%v) diverged between two compiles of the same config", fp)
		}
	}
	return nil
}

// checkNarrowOverride is spec §8 scenario B: a broad catch-all followed by
// a narrower DROP for ipv4/tcp/ssh drops only that one fingerprint.
func checkNarrowOverride() error {
	raw := []interface{}{
		[]interface{}{"ip.pcap", []interface{}{
			[]interface{}{"ip"},
		}},
		[]interface{}{nil, []interface{}{
			[]interface{}{"ipv4", "tcp", "ssh"},
		}},
	}
	table, err := routecompiler.Compile(raw)
	if err != nil {
		return err
	}

	cases := []struct {
		fp       fingerprint.Fingerprint
		wantDrop bool
	}{
		{fingerprint.Ethertype3(0x800, 6, 22), true},
		{fingerprint.Ethertype3(0x800, 6, 80), false},
		{fingerprint.Ethertype3(0x86dd, 6, 22), false},
	}
	for _, c := range cases {
		leaf, ok := routetable.Lookup(table, c.fp)
		if !ok {
			return fmt.Errorf("lookup(%v): expected a match, got none", c.fp)
		}
		if leaf.Drop != c.wantDrop {
			return fmt.Errorf("lookup(%v): expected drop=%v, got drop=%v", c.fp, c.wantDrop, leaf.Drop)
		}
	}
	return nil
}

// checkCatchAll is spec §8 scenario A: a single []-match route captures an
// ARP frame even though no explicit ethertype entry for ARP was ever
// compiled in.
func checkCatchAll() error {
	raw := []interface{}{
		[]interface{}{"all.pcap", []interface{}{
			[]interface{}{},
		}},
	}
	table, err := routecompiler.Compile(raw)
	if err != nil {
		return err
	}
	leaf, ok := routetable.Lookup(table, fingerprint.Ethertype1(0x806))
	if !ok || leaf.Drop || leaf.Pattern != "all.pcap" {
		return fmt.Errorf("catch-all route did not match an ARP fingerprint")
	}
	return nil
}

// checkEthertypeMonotonicity is spec §8 property 3 / scenario F: a frame
// whose Ethernet type field is a length (<= 1500) always classifies as (0).
func checkEthertypeMonotonicity() error {
	c := classifier.New(classifier.PolicyAbort)
	data := serializeEthernet(layers.EthernetType(1500), nil)
	fp, err := c.Classify(data, gopacket.CaptureInfo{CaptureLength: len(data), Length: len(data)})
	if err != nil {
		return err
	}
	if fp.Ethertype != 0 || fp.HasProto || fp.HasPort {
		return fmt.Errorf("expected fingerprint (0), got %+v", fp)
	}
	return nil
}

// checkFragmentPort is spec §8 property 4 / scenario C: a non-initial IPv4
// fragment classifies with port == -1.
func checkFragmentPort() error {
	c := classifier.New(classifier.PolicyAbort)
	data := serializeFragment()
	fp, err := c.Classify(data, gopacket.CaptureInfo{CaptureLength: len(data), Length: len(data)})
	if err != nil {
		return err
	}
	if !fp.HasPort || fp.Port != fingerprint.PortFragment {
		return fmt.Errorf("expected fragment port -1, got %+v", fp)
	}
	return nil
}

// checkPatternRoundTrip is spec §8 property 8.
func checkPatternRoundTrip() error {
	fp := fingerprint.Ethertype3(0x800, 6, 22)
	got := fp.FormatPattern("{ethertype}/{proto}/{port}")
	if got != "2048/6/22" {
		return fmt.Errorf("expected %q, got %q", "2048/6/22", got)
	}
	return nil
}

func serializeEthernet(ethertype layers.EthernetType, payload []byte) []byte {
	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0x02, 0, 0, 0, 0, 1},
		DstMAC:       net.HardwareAddr{0x02, 0, 0, 0, 0, 2},
		EthernetType: ethertype,
	}
	buf := gopacket.NewSerializeBuffer()
	_ = gopacket.SerializeLayers(buf, gopacket.SerializeOptions{FixLengths: true},
		eth, gopacket.Payload(payload))
	return buf.Bytes()
}

func serializeFragment() []byte {
	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0x02, 0, 0, 0, 0, 1},
		DstMAC:       net.HardwareAddr{0x02, 0, 0, 0, 0, 2},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip4 := &layers.IPv4{
		Version:    4,
		IHL:        5,
		TTL:        64,
		Protocol:   layers.IPProtocolUDP,
		SrcIP:      net.IPv4(10, 0, 0, 1),
		DstIP:      net.IPv4(10, 0, 0, 2),
		FragOffset: 185,
	}
	buf := gopacket.NewSerializeBuffer()
	_ = gopacket.SerializeLayers(buf, gopacket.SerializeOptions{FixLengths: true},
		eth, ip4, gopacket.Payload([]byte{1, 2, 3, 4}))
	return buf.Bytes()
}
