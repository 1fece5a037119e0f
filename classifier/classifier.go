// Copyright (c) 2015 Raytheon BBN Technologies Corp.  All rights reserved.
// SPDX-License-Identifier: Apache-2.0

// Package classifier extracts a routing fingerprint from a captured frame,
// per spec §4.3.
package classifier

import (
	"encoding/hex"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	log "github.com/sirupsen/logrus"

	"github.com/fasguard/fasguard-benign-traffic-collection/fingerprint"
)

// ErrorPolicy selects what happens when a frame cannot be classified. The
// zero value is PolicyDropAndCount, the production default; PolicyAbort
// reproduces the reference implementation's "re-raise and kill the worker"
// behavior for diagnostic runs.
type ErrorPolicy int

const (
	PolicyDropAndCount ErrorPolicy = iota
	PolicyAbort
)

// ClassifierError wraps a malformed-frame condition. It is only ever
// returned when the Classifier's policy is PolicyAbort; under
// PolicyDropAndCount the same condition yields ErrFrameDropped instead.
type ClassifierError struct {
	Cause error
}

func (e *ClassifierError) Error() string { return fmt.Sprintf("classifier: %v", e.Cause) }
func (e *ClassifierError) Unwrap() error { return e.Cause }

// ErrFrameDropped is returned by Classify under PolicyDropAndCount when a
// frame could not be classified; the caller should count it and move on
// rather than treating it as fatal.
var ErrFrameDropped = errors.New("classifier: frame dropped after classification error")

// Classifier extracts fingerprints from raw frame bytes. It is not safe for
// concurrent use: each capture worker owns one, matching spec §4.4's "one
// worker per source" ownership model and avoiding a mutex on the hot path.
type Classifier struct {
	Policy ErrorPolicy

	eth      layers.Ethernet
	ip4      layers.IPv4
	ip6      layers.IPv6
	ip6hop   layers.IPv6HopByHop
	ip6route layers.IPv6Routing
	ip6frag  layers.IPv6Fragment
	ip6dest  layers.IPv6Destination
	tcp      layers.TCP
	udp      layers.UDP

	l3      *gopacket.DecodingLayerParser
	decoded []gopacket.LayerType
	dropped uint64
}

// New builds a Classifier. Only the L3 layers (and the IPv6 extension
// headers spec §4.3 needs to walk to the "next-header of final header") are
// registered with the DecodingLayerParser; the TCP/UDP header is decoded
// separately so a truncated-fragment parse failure can be distinguished
// from a genuinely malformed packet. DecodingLayerParser.DecodeLayers does
// not stop cleanly on its own when it reaches a next-layer type with no
// decoder registered (TCP, UDP, ICMP, ARP's own payload, ...) — it returns
// UnsupportedLayerType, same as any other decode error. IgnoreUnsupported
// tells it to stop there instead, leaving the last decoded layer's Payload
// holding whatever comes next, the same non-fatal-at-the-boundary behavior
// DrJosh9000-caplog's DecodingLayerParser loop gets by logging and
// continuing past the error.
func New(policy ErrorPolicy) *Classifier {
	c := &Classifier{Policy: policy}
	c.l3 = gopacket.NewDecodingLayerParser(
		layers.LayerTypeEthernet, &c.eth, &c.ip4, &c.ip6,
		&c.ip6hop, &c.ip6route, &c.ip6frag, &c.ip6dest)
	c.l3.IgnoreUnsupported = true
	return c
}

// Dropped returns the number of frames dropped under PolicyDropAndCount
// since the Classifier was created.
func (c *Classifier) Dropped() uint64 {
	return atomic.LoadUint64(&c.dropped)
}

// Classify returns the fingerprint for data, the first info.CaptureLength
// bytes of a captured frame. Under PolicyAbort a malformed frame yields a
// *ClassifierError; under PolicyDropAndCount it yields ErrFrameDropped and
// increments Dropped.
func (c *Classifier) Classify(data []byte, info gopacket.CaptureInfo) (fingerprint.Fingerprint, error) {
	c.decoded = c.decoded[:0]
	if err := c.l3.DecodeLayers(data, &c.decoded); err != nil {
		return fingerprint.Fingerprint{}, c.fail(err, data, info)
	}
	if len(c.decoded) == 0 || c.decoded[0] != layers.LayerTypeEthernet {
		return fingerprint.Fingerprint{}, c.fail(errors.New("no Ethernet layer decoded"), data, info)
	}

	ethertype := int(c.eth.EthernetType)
	if ethertype <= 1500 {
		// Non-SNAP 802.3 frame: the 13th/14th octets are a length field, not
		// an ethertype. Spec §4.3/§8 scenario F.
		return fingerprint.Ethertype1(0), nil
	}
	if ethertype != int(layers.EthernetTypeIPv4) && ethertype != int(layers.EthernetTypeIPv6) {
		return fingerprint.Ethertype1(ethertype), nil
	}

	var proto layers.IPProtocol
	var isFrag bool
	var fragOffset uint16

	switch {
	case hasLayer(c.decoded, layers.LayerTypeIPv4):
		if c.ip4.Version != 4 {
			return fingerprint.Fingerprint{}, c.fail(
				fmt.Errorf("IPv4 layer with version %d", c.ip4.Version), data, info)
		}
		dontFrag := c.ip4.Flags&layers.IPv4DontFragment != 0
		moreFrag := c.ip4.Flags&layers.IPv4MoreFragments != 0
		fragOffset = c.ip4.FragOffset
		if dontFrag && (moreFrag || fragOffset != 0) {
			return fingerprint.Fingerprint{}, c.fail(
				errors.New("IPv4 don't-fragment set together with fragment fields"), data, info)
		}
		isFrag = moreFrag || fragOffset != 0
		proto = c.ip4.Protocol

	case hasLayer(c.decoded, layers.LayerTypeIPv6):
		if c.ip6.Version != 6 {
			return fingerprint.Fingerprint{}, c.fail(
				fmt.Errorf("IPv6 layer with version %d", c.ip6.Version), data, info)
		}
		// Walk the extension header chain in decode order so proto ends up
		// as the next-header of the final header, per spec §4.3, rather
		// than the first extension header's type.
		proto = c.ip6.NextHeader
		for _, lt := range c.decoded {
			switch lt {
			case layers.LayerTypeIPv6HopByHop:
				proto = c.ip6hop.NextHeader
			case layers.LayerTypeIPv6Routing:
				proto = c.ip6route.NextHeader
			case layers.LayerTypeIPv6Destination:
				proto = c.ip6dest.NextHeader
			case layers.LayerTypeIPv6Fragment:
				fragOffset = c.ip6frag.FragmentOffset
				isFrag = fragOffset != 0 || c.ip6frag.MoreFragments
				proto = c.ip6frag.NextHeader
			}
		}

	default:
		return fingerprint.Fingerprint{}, c.fail(
			fmt.Errorf("ethertype 0x%x claimed but no IP layer decoded", ethertype), data, info)
	}

	if proto != layers.IPProtocolTCP && proto != layers.IPProtocolUDP {
		return fingerprint.Ethertype2(ethertype, int(proto)), nil
	}

	if fragOffset != 0 {
		return fingerprint.Ethertype3(ethertype, int(proto), fingerprint.PortFragment), nil
	}

	sport, dport, err := c.decodeL4Ports(proto, c.l4Payload())
	if err != nil {
		if isFrag {
			return fingerprint.Ethertype3(ethertype, int(proto), fingerprint.PortFragment), nil
		}
		return fingerprint.Fingerprint{}, c.fail(err, data, info)
	}
	port := sport
	if dport < port {
		port = dport
	}
	return fingerprint.Ethertype3(ethertype, int(proto), port), nil
}

func (c *Classifier) l4Payload() []byte {
	if len(c.decoded) == 0 {
		return nil
	}
	switch c.decoded[len(c.decoded)-1] {
	case layers.LayerTypeIPv6HopByHop:
		return c.ip6hop.Payload
	case layers.LayerTypeIPv6Routing:
		return c.ip6route.Payload
	case layers.LayerTypeIPv6Fragment:
		return c.ip6frag.Payload
	case layers.LayerTypeIPv6Destination:
		return c.ip6dest.Payload
	case layers.LayerTypeIPv6:
		return c.ip6.Payload
	case layers.LayerTypeIPv4:
		return c.ip4.Payload
	default:
		return nil
	}
}

func (c *Classifier) decodeL4Ports(proto layers.IPProtocol, payload []byte) (sport, dport int, err error) {
	switch proto {
	case layers.IPProtocolTCP:
		if err := c.tcp.DecodeFromBytes(payload, gopacket.NilDecodeFeedback); err != nil {
			return 0, 0, err
		}
		return int(c.tcp.SrcPort), int(c.tcp.DstPort), nil
	case layers.IPProtocolUDP:
		if err := c.udp.DecodeFromBytes(payload, gopacket.NilDecodeFeedback); err != nil {
			return 0, 0, err
		}
		return int(c.udp.SrcPort), int(c.udp.DstPort), nil
	default:
		return 0, 0, fmt.Errorf("unsupported transport protocol %v", proto)
	}
}

func hasLayer(decoded []gopacket.LayerType, want gopacket.LayerType) bool {
	for _, lt := range decoded {
		if lt == want {
			return true
		}
	}
	return false
}

// fail logs cause at error severity (logrus's most severe level that neither
// panics nor exits) with a full hex dump of the frame
// (spec §4.3/§7) and returns the error the caller should propagate,
// honoring c.Policy.
func (c *Classifier) fail(cause error, data []byte, info gopacket.CaptureInfo) error {
	log.WithFields(log.Fields{
		"caplen": info.CaptureLength,
		"len":    info.Length,
	}).Errorf("classifier error: %v\n%s", cause, hex.Dump(data))

	if c.Policy == PolicyAbort {
		return &ClassifierError{Cause: cause}
	}
	atomic.AddUint64(&c.dropped, 1)
	return ErrFrameDropped
}
