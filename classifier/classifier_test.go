// Copyright (c) 2015 Raytheon BBN Technologies Corp.  All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package classifier

import (
	"net"
	"testing"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var serializeOpts = gopacket.SerializeOptions{FixLengths: true}

func serialize(t *testing.T, layerList ...gopacket.SerializableLayer) []byte {
	t.Helper()
	buf := gopacket.NewSerializeBuffer()
	require.NoError(t, gopacket.SerializeLayers(buf, serializeOpts, layerList...))
	return buf.Bytes()
}

func ethernetTCP(t *testing.T, ethertype layers.EthernetType, sport, dport layers.TCPPort, fragOffset uint16, moreFrag bool) []byte {
	t.Helper()
	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0x02, 0, 0, 0, 0, 1},
		DstMAC:       net.HardwareAddr{0x02, 0, 0, 0, 0, 2},
		EthernetType: ethertype,
	}
	flags := layers.IPv4Flag(0)
	if moreFrag {
		flags |= layers.IPv4MoreFragments
	}
	ip4 := &layers.IPv4{
		Version:    4,
		IHL:        5,
		TTL:        64,
		Protocol:   layers.IPProtocolTCP,
		SrcIP:      net.IPv4(10, 0, 0, 1),
		DstIP:      net.IPv4(10, 0, 0, 2),
		Flags:      flags,
		FragOffset: fragOffset,
	}
	if fragOffset != 0 {
		// A non-initial fragment carries no TCP header at all.
		return serialize(t, eth, ip4, gopacket.Payload([]byte{1, 2, 3, 4}))
	}
	tcp := &layers.TCP{SrcPort: sport, DstPort: dport, Window: 1024}
	return serialize(t, eth, ip4, tcp, gopacket.Payload("hi"))
}

func TestClassifyEthertypeMonotonicity(t *testing.T) {
	// Property 3: any ethertype <= 1500 classifies as (0), regardless of
	// payload.
	for _, et := range []layers.EthernetType{0, 1, 60, 1500} {
		data := ethernetTCP(t, et, 22, 54321, 0, false)
		c := New(PolicyAbort)
		fp, err := c.Classify(data, gopacket.CaptureInfo{CaptureLength: len(data), Length: len(data)})
		require.NoError(t, err)
		assert.Equal(t, 0, fp.Ethertype)
		assert.False(t, fp.HasProto)
	}
}

func TestClassifyScenarioFNonSNAP8023(t *testing.T) {
	data := ethernetTCP(t, 0x05DC, 22, 80, 0, false)
	c := New(PolicyAbort)
	fp, err := c.Classify(data, gopacket.CaptureInfo{CaptureLength: len(data), Length: len(data)})
	require.NoError(t, err)
	assert.Equal(t, 0, fp.Ethertype)
	assert.False(t, fp.HasProto)
}

func TestClassifyNonIPEthertype(t *testing.T) {
	data := ethernetTCP(t, layers.EthernetTypeARP, 0, 0, 0, false)
	c := New(PolicyAbort)
	fp, err := c.Classify(data, gopacket.CaptureInfo{CaptureLength: len(data), Length: len(data)})
	require.NoError(t, err)
	assert.Equal(t, int(layers.EthernetTypeARP), fp.Ethertype)
	assert.False(t, fp.HasProto)
}

func TestClassifyTCPPortIsMinOfSportDport(t *testing.T) {
	data := ethernetTCP(t, layers.EthernetTypeIPv4, 54321, 22, 0, false)
	c := New(PolicyAbort)
	fp, err := c.Classify(data, gopacket.CaptureInfo{CaptureLength: len(data), Length: len(data)})
	require.NoError(t, err)
	assert.Equal(t, int(layers.EthernetTypeIPv4), fp.Ethertype)
	assert.True(t, fp.HasProto)
	assert.Equal(t, 6, fp.Proto)
	assert.True(t, fp.HasPort)
	assert.Equal(t, 22, fp.Port)
}

func TestClassifyFragmentPort(t *testing.T) {
	// Property 4: a non-initial IPv4 fragment yields port == -1.
	data := ethernetTCP(t, layers.EthernetTypeIPv4, 0, 0, 100, false)
	c := New(PolicyAbort)
	fp, err := c.Classify(data, gopacket.CaptureInfo{CaptureLength: len(data), Length: len(data)})
	require.NoError(t, err)
	assert.True(t, fp.HasPort)
	assert.Equal(t, -1, fp.Port)
}

func TestClassifyFirstFragmentMoreFragSetsIsFragButOffsetZero(t *testing.T) {
	// The first fragment of a fragmented datagram still carries its TCP
	// header at offset 0, so the port is still resolvable.
	data := ethernetTCP(t, layers.EthernetTypeIPv4, 54321, 22, 0, true)
	c := New(PolicyAbort)
	fp, err := c.Classify(data, gopacket.CaptureInfo{CaptureLength: len(data), Length: len(data)})
	require.NoError(t, err)
	assert.Equal(t, 22, fp.Port)
}

func TestClassifyNonTCPUDPProto(t *testing.T) {
	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0x02, 0, 0, 0, 0, 1},
		DstMAC:       net.HardwareAddr{0x02, 0, 0, 0, 0, 2},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip4 := &layers.IPv4{
		Version:  4,
		IHL:      5,
		TTL:      64,
		Protocol: layers.IPProtocolGRE,
		SrcIP:    net.IPv4(10, 0, 0, 1),
		DstIP:    net.IPv4(10, 0, 0, 2),
	}
	data := serialize(t, eth, ip4, gopacket.Payload([]byte{0, 0, 0, 0}))
	c := New(PolicyAbort)
	fp, err := c.Classify(data, gopacket.CaptureInfo{CaptureLength: len(data), Length: len(data)})
	require.NoError(t, err)
	assert.Equal(t, int(layers.EthernetTypeIPv4), fp.Ethertype)
	assert.Equal(t, int(layers.IPProtocolGRE), fp.Proto)
	assert.False(t, fp.HasPort)
}

// TestClassifyIPv6HopByHopThenUDP covers spec §4.3's "proto is the
// next-header of the final header": an IPv6 Hop-by-Hop Options header
// sitting in front of a UDP datagram must not be mistaken for the
// transport protocol.
func TestClassifyIPv6HopByHopThenUDP(t *testing.T) {
	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0x02, 0, 0, 0, 0, 1},
		DstMAC:       net.HardwareAddr{0x02, 0, 0, 0, 0, 2},
		EthernetType: layers.EthernetTypeIPv6,
	}
	ip6 := &layers.IPv6{
		Version:    6,
		NextHeader: layers.IPProtocolIPv6HopByHop,
		HopLimit:   64,
		SrcIP:      net.ParseIP("2001:db8::1"),
		DstIP:      net.ParseIP("2001:db8::2"),
	}
	udp := &layers.UDP{SrcPort: 54321, DstPort: 53}
	udpBuf := gopacket.NewSerializeBuffer()
	require.NoError(t, gopacket.SerializeLayers(udpBuf, serializeOpts, udp, gopacket.Payload("hi")))

	// A minimal Hop-by-Hop Options header: next header UDP, HdrExtLen 0
	// (an 8-byte header), padded to 8 bytes with a single PadN option
	// (type 1, length 4, then 4 zero bytes).
	hopByHop := []byte{byte(layers.IPProtocolUDP), 0, 1, 4, 0, 0, 0, 0}

	data := serialize(t, eth, ip6, gopacket.Payload(append(hopByHop, udpBuf.Bytes()...)))
	c := New(PolicyAbort)
	fp, err := c.Classify(data, gopacket.CaptureInfo{CaptureLength: len(data), Length: len(data)})
	require.NoError(t, err)
	assert.Equal(t, int(layers.EthernetTypeIPv6), fp.Ethertype)
	assert.True(t, fp.HasProto)
	assert.Equal(t, int(layers.IPProtocolUDP), fp.Proto)
	assert.True(t, fp.HasPort)
	assert.Equal(t, 53, fp.Port)
}

func TestClassifyDropAndCountPolicy(t *testing.T) {
	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0x02, 0, 0, 0, 0, 1},
		DstMAC:       net.HardwareAddr{0x02, 0, 0, 0, 0, 2},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip4 := &layers.IPv4{
		Version:    4,
		IHL:        5,
		TTL:        64,
		Protocol:   layers.IPProtocolTCP,
		SrcIP:      net.IPv4(10, 0, 0, 1),
		DstIP:      net.IPv4(10, 0, 0, 2),
		Flags:      layers.IPv4DontFragment,
		FragOffset: 10,
	}
	data := serialize(t, eth, ip4, gopacket.Payload([]byte{0, 0, 0, 0}))

	c := New(PolicyDropAndCount)
	_, err := c.Classify(data, gopacket.CaptureInfo{CaptureLength: len(data), Length: len(data)})
	assert.ErrorIs(t, err, ErrFrameDropped)
	assert.EqualValues(t, 1, c.Dropped())

	abortC := New(PolicyAbort)
	_, err = abortC.Classify(data, gopacket.CaptureInfo{CaptureLength: len(data), Length: len(data)})
	var classifierErr *ClassifierError
	assert.ErrorAs(t, err, &classifierErr)
}
