// Copyright (c) 2015 Raytheon BBN Technologies Corp.  All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package capturelib

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	gopcap "github.com/packetcap/go-pcap"
)

// packetcapSource backs Source with github.com/packetcap/go-pcap, a
// pure-Go AF_PACKET/TPACKET_V3 capture implementation (no libpcap/cgo),
// grounded directly on the teacher's vendored pcap_linux.go Handle type.
// AF_PACKET capture is always Ethernet framed.
type packetcapSource struct {
	handle   *gopcap.Handle
	breaking int32
}

func openLivePacketcap(iface string, snaplen, toMS int) (Source, error) {
	handle, err := gopcap.OpenLive(iface, int32(snaplen), true, time.Duration(toMS)*time.Millisecond, false)
	if err != nil {
		return nil, fmt.Errorf("opening packetcap live capture on %s: %w", iface, err)
	}
	return &packetcapSource{handle: handle}, nil
}

func (s *packetcapSource) LinkType() int   { return int(layers.LinkTypeEthernet) }
func (s *packetcapSource) IsOffline() bool { return false }

func (s *packetcapSource) Dispatch(cb func([]byte, gopacket.CaptureInfo)) (int, error) {
	data, ci, err := s.handle.ReadPacketData()
	if err != nil {
		if atomic.LoadInt32(&s.breaking) != 0 {
			return -2, nil
		}
		return -1, err
	}
	if data == nil {
		// No packet ready within this poll; treated the same as a live
		// read timeout.
		return 0, nil
	}
	cb(data, ci)
	if atomic.LoadInt32(&s.breaking) != 0 {
		return -2, nil
	}
	return 1, nil
}

func (s *packetcapSource) Breakloop() {
	if atomic.CompareAndSwapInt32(&s.breaking, 0, 1) {
		s.handle.Close()
	}
}

func (s *packetcapSource) Close() error {
	s.handle.Close()
	return nil
}
