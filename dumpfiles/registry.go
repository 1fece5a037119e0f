// Copyright (c) 2015 Raytheon BBN Technologies Corp.  All rights reserved.
// SPDX-License-Identifier: Apache-2.0

// Package dumpfiles implements the Dump File Registry (spec §4.5): a
// fingerprint-keyed lookup that lazily opens one pcap writer per distinct
// output filename and shares it across every worker that routes there.
package dumpfiles

import (
	"fmt"
	"sync"

	"github.com/google/gopacket"

	"github.com/fasguard/fasguard-benign-traffic-collection/capturelib"
	"github.com/fasguard/fasguard-benign-traffic-collection/fingerprint"
	"github.com/fasguard/fasguard-benign-traffic-collection/routetable"
	"github.com/fasguard/fasguard-benign-traffic-collection/stats"
)

// dumpfile pairs a writer with the mutex that serializes concurrent workers
// saving to it (spec §4.5's "save() atomically updates Stats... per-writer
// mutex").
type dumpfile struct {
	mu     sync.Mutex
	writer *capturelib.Writer
}

// Registry is the process-wide filename -> writer map. Registry creation is
// serialized with a single mutex (spec §4.5: "a registry-wide mutex is
// sufficient; lookups are off the hot path after warmup"), grounded on the
// original's Dumpfiles(KeyDefaultDict) wrapping a threading.RLock.
type Registry struct {
	table  *routetable.Table
	shared *capturelib.SharedParams
	stats  *stats.Stats

	mu    sync.Mutex
	files map[string]*dumpfile
}

// New builds a Registry bound to table (the compiled routes) and shared,
// the process-wide (linktype, snaplen) pair workers negotiate (spec §4.4).
// The linktype is read lazily when the first writer is created, which is
// always after at least one worker has completed negotiation.
func New(table *routetable.Table, shared *capturelib.SharedParams, st *stats.Stats) *Registry {
	return &Registry{
		table:  table,
		shared: shared,
		stats:  st,
		files:  make(map[string]*dumpfile),
	}
}

// Save routes a packet by its fingerprint: a miss (no route, or a DROP
// route) silently discards the packet, exactly as a normal non-route case
// (spec §4.5 steps 1-2). Otherwise the packet is written to the filename
// the route's pattern renders to, opening that file's writer on first use.
func (r *Registry) Save(fp fingerprint.Fingerprint, ci gopacket.CaptureInfo, data []byte) error {
	leaf, ok := routetable.Lookup(r.table, fp)
	if !ok || leaf.Drop {
		return nil
	}
	filename := fp.FormatPattern(leaf.Pattern)

	df, err := r.getOrCreate(filename)
	if err != nil {
		return err
	}

	df.mu.Lock()
	defer df.mu.Unlock()
	if err := df.writer.WritePacket(ci, data); err != nil {
		return fmt.Errorf("writing to %s: %w", filename, err)
	}
	r.stats.Record(ci.Length)
	return nil
}

func (r *Registry) getOrCreate(filename string) (*dumpfile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if df, ok := r.files[filename]; ok {
		return df, nil
	}
	writer, err := capturelib.CreateWriter(filename, r.shared.Linktype(), r.shared.Snaplen())
	if err != nil {
		return nil, err
	}
	df := &dumpfile{writer: writer}
	r.files[filename] = df
	return df, nil
}

// Close closes every writer exactly once (spec §4.6 teardown). Close always
// attempts to close every writer even if an earlier one fails, and returns
// the first error it met (later errors are not reported).
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var firstErr error
	for filename, df := range r.files {
		if err := df.writer.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("closing %s: %w", filename, err)
		}
	}
	return firstErr
}

// NumFiles reports how many distinct writers have been opened so far.
func (r *Registry) NumFiles() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.files)
}
