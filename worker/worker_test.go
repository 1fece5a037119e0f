// Copyright (c) 2015 Raytheon BBN Technologies Corp.  All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package worker

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fasguard/fasguard-benign-traffic-collection/capturelib"
	"github.com/fasguard/fasguard-benign-traffic-collection/classifier"
	"github.com/fasguard/fasguard-benign-traffic-collection/dumpfiles"
	"github.com/fasguard/fasguard-benign-traffic-collection/routetable"
	"github.com/fasguard/fasguard-benign-traffic-collection/stats"
)

// fakeSource is a scripted capturelib.Source for driving Worker through its
// state machine without a real capture library underneath.
type fakeSource struct {
	linktype int
	offline  bool

	packets [][]byte
	pos     int

	breaking int32
	closed   bool
}

func (f *fakeSource) LinkType() int   { return f.linktype }
func (f *fakeSource) IsOffline() bool { return f.offline }

func (f *fakeSource) Dispatch(cb func([]byte, gopacket.CaptureInfo)) (int, error) {
	if atomic.LoadInt32(&f.breaking) != 0 {
		return -2, nil
	}
	if f.pos >= len(f.packets) {
		return 0, nil // offline EOF, or live read timeout
	}
	data := f.packets[f.pos]
	f.pos++
	cb(data, gopacket.CaptureInfo{Timestamp: time.Now(), CaptureLength: len(data), Length: len(data)})
	if atomic.LoadInt32(&f.breaking) != 0 {
		return -2, nil
	}
	return 1, nil
}

func (f *fakeSource) Breakloop() {
	atomic.StoreInt32(&f.breaking, 1)
}

func (f *fakeSource) Close() error {
	f.closed = true
	return nil
}

func ethernetARP() []byte {
	eth := layers.Ethernet{
		SrcMAC:       []byte{0, 0, 0, 0, 0, 1},
		DstMAC:       []byte{0, 0, 0, 0, 0, 2},
		EthernetType: layers.EthernetTypeARP,
	}
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true}
	payload := gopacket.Payload([]byte{1, 2, 3, 4})
	_ = gopacket.SerializeLayers(buf, opts, &eth, payload)
	return buf.Bytes()
}

func newRegistry(t *testing.T, shared *capturelib.SharedParams) *dumpfiles.Registry {
	t.Helper()
	table := routetable.New()
	table.Default = routetable.PatternLeaf(t.TempDir() + "/out.pcap")
	return dumpfiles.New(table, shared, stats.New())
}

// TestWorkerOfflineEOFCompletesCleanly drives a worker to completion via an
// offline source running out of packets.
func TestWorkerOfflineEOFCompletesCleanly(t *testing.T) {
	src := &fakeSource{
		linktype: int(layers.LinkTypeEthernet),
		offline:  true,
		packets:  [][]byte{ethernetARP(), ethernetARP()},
	}
	shared := capturelib.NewSharedParams(65535)
	registry := newRegistry(t, shared)
	defer registry.Close()
	var shutdown int32

	w := New("offline", src, classifier.New(classifier.PolicyDropAndCount), registry, shared, &shutdown)
	go w.Run()

	select {
	case c := <-w.Done():
		require.NoError(t, c.Err)
		assert.Equal(t, "offline", c.Name)
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not complete")
	}
	assert.Equal(t, Terminal, w.State())
	assert.True(t, src.closed)
	assert.Equal(t, 1, registry.NumFiles())
}

// TestWorkerLiveShutdownFlagExits is scenario E: a live-mode worker with no
// packets forthcoming exits promptly once the shutdown flag is set.
func TestWorkerLiveShutdownFlagExits(t *testing.T) {
	src := &fakeSource{linktype: int(layers.LinkTypeEthernet), offline: false}
	shared := capturelib.NewSharedParams(65535)
	registry := newRegistry(t, shared)
	defer registry.Close()
	var shutdown int32

	w := New("live", src, classifier.New(classifier.PolicyDropAndCount), registry, shared, &shutdown)
	go w.Run()

	time.Sleep(20 * time.Millisecond)
	atomic.StoreInt32(&shutdown, 1)

	select {
	case c := <-w.Done():
		require.NoError(t, c.Err)
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not exit after shutdown flag set")
	}
}

// TestWorkerLinktypeMismatchAbortsBeforeRunning is groundwork for scenario D:
// a worker whose source's linktype disagrees with an already-fixed
// SharedParams fails during negotiation and never reaches Running.
func TestWorkerLinktypeMismatchAbortsBeforeRunning(t *testing.T) {
	shared := capturelib.NewSharedParams(65535)
	require.NoError(t, shared.Negotiate(int(layers.LinkTypeEthernet)))
	registry := newRegistry(t, shared)
	defer registry.Close()

	src := &fakeSource{linktype: int(layers.LinkTypeRaw), offline: true}
	var shutdown int32

	w := New("mismatched", src, classifier.New(classifier.PolicyDropAndCount), registry, shared, &shutdown)
	go w.Run()

	select {
	case c := <-w.Done():
		var mismatch *capturelib.LinktypeMismatch
		require.ErrorAs(t, c.Err, &mismatch)
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not complete")
	}
	assert.False(t, src.closed, "source should not be closed when negotiation fails before Running")
}

// TestWorkerClassifierFatalErrorAborts exercises handlePacket's fatal-error
// path: a malformed packet whose classifier error is not ErrFrameDropped
// causes the worker to abort with that error instead of looping forever.
func TestWorkerClassifierFatalErrorAborts(t *testing.T) {
	// A truncated IPv4 header (less than 20 bytes of payload after the
	// Ethernet header) makes DecodingLayerParser fail outright rather than
	// stopping cleanly at a fragment boundary, which PolicyAbort surfaces
	// as a ClassifierError instead of ErrFrameDropped.
	eth := layers.Ethernet{
		SrcMAC:       []byte{0, 0, 0, 0, 0, 1},
		DstMAC:       []byte{0, 0, 0, 0, 0, 2},
		EthernetType: layers.EthernetTypeIPv4,
	}
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true}
	payload := gopacket.Payload([]byte{0x45, 0x00, 0x00}) // truncated IPv4 header
	require.NoError(t, gopacket.SerializeLayers(buf, opts, &eth, payload))

	src := &fakeSource{
		linktype: int(layers.LinkTypeEthernet),
		offline:  true,
		packets:  [][]byte{buf.Bytes()},
	}
	shared := capturelib.NewSharedParams(65535)
	registry := newRegistry(t, shared)
	defer registry.Close()
	var shutdown int32

	w := New("bad-packet", src, classifier.New(classifier.PolicyAbort), registry, shared, &shutdown)
	go w.Run()

	select {
	case c := <-w.Done():
		require.Error(t, c.Err)
		var ce *classifier.ClassifierError
		assert.ErrorAs(t, c.Err, &ce)
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not abort on fatal classifier error")
	}
}
