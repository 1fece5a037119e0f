// Copyright (c) 2015 Raytheon BBN Technologies Corp.  All rights reserved.
// SPDX-License-Identifier: Apache-2.0

// Package worker implements the Capture Worker state machine (spec §4.4):
// one goroutine per capture source, reading packets, classifying them, and
// routing them through the Dump File Registry until its source is
// exhausted or the process-wide shutdown flag is set.
package worker

import (
	"sync/atomic"

	"github.com/google/gopacket"
	log "github.com/sirupsen/logrus"

	"github.com/fasguard/fasguard-benign-traffic-collection/capturelib"
	"github.com/fasguard/fasguard-benign-traffic-collection/classifier"
	"github.com/fasguard/fasguard-benign-traffic-collection/dumpfiles"
)

// State names the Capture Worker's position in spec §4.4's state machine.
type State int

const (
	Starting State = iota
	LinktypeNegotiation
	Running
	Draining
	Terminal
)

func (s State) String() string {
	switch s {
	case Starting:
		return "starting"
	case LinktypeNegotiation:
		return "linktype-negotiation"
	case Running:
		return "running"
	case Draining:
		return "draining"
	case Terminal:
		return "terminal"
	default:
		return "unknown"
	}
}

// Completion is what a Worker posts to its Supervisor's completion channel
// on reaching Terminal.
type Completion struct {
	Name string
	Err  error
}

// Worker drives one capture source through Starting -> LinktypeNegotiation
// -> Running -> Draining -> Terminal.
type Worker struct {
	Name string

	source     capturelib.Source
	classifier *classifier.Classifier
	registry   *dumpfiles.Registry
	shared     *capturelib.SharedParams
	shutdown   *int32

	state   State
	done    chan Completion
	lastErr error
}

// New builds a Worker around an already-open source. shutdown is a pointer
// to the process-wide shutdown flag (spec §5): the Supervisor owns the
// backing value and sets it with atomic.StoreInt32.
func New(name string, source capturelib.Source, c *classifier.Classifier, registry *dumpfiles.Registry, shared *capturelib.SharedParams, shutdown *int32) *Worker {
	return &Worker{
		Name:       name,
		source:     source,
		classifier: c,
		registry:   registry,
		shared:     shared,
		shutdown:   shutdown,
		state:      Starting,
		done:       make(chan Completion, 1),
	}
}

// Done returns the channel the Supervisor should read this worker's single
// Completion from.
func (w *Worker) Done() <-chan Completion {
	return w.done
}

// State reports the worker's current position in the state machine.
func (w *Worker) State() State {
	return w.state
}

// Run drives the state machine to completion. Intended to be called in its
// own goroutine; Run always posts exactly one Completion before returning.
func (w *Worker) Run() {
	err := w.run()
	w.state = Terminal
	w.done <- Completion{Name: w.Name, Err: err}
}

func (w *Worker) run() error {
	w.state = LinktypeNegotiation
	if err := w.shared.Negotiate(w.source.LinkType()); err != nil {
		return err
	}

	w.state = Running
	if err := w.dispatchLoop(); err != nil {
		return err
	}

	w.state = Draining
	return w.source.Close()
}

// dispatchLoop is spec §4.4's Running state: repeatedly ask the capture
// library to dispatch one packet, branching on its return per the
// reference pcap_dispatch convention.
func (w *Worker) dispatchLoop() error {
	for {
		if w.shuttingDown() {
			return nil
		}
		n, err := w.source.Dispatch(w.handlePacket)
		switch {
		case n > 0:
			// Packet delivered; keep going.
		case n == 0:
			if w.source.IsOffline() {
				return nil // EOF
			}
			// Live read timeout; loop back to check shutdown.
		case n == -1:
			return err
		case n == -2:
			// Breakloop was invoked from within the callback; loop once
			// more to observe the shutdown flag.
			if w.lastErr != nil {
				return w.lastErr
			}
		}
	}
}

func (w *Worker) shuttingDown() bool {
	return atomic.LoadInt32(w.shutdown) != 0
}

// handlePacket is the per-packet callback passed to Source.Dispatch. It
// copies the packet bytes before returning (the slice Dispatch hands in is
// only valid for the callback's duration), classifies the packet, and
// routes it through the Registry. A dropped-and-counted classifier error is
// swallowed; any other classifier or registry error is fatal: it is
// recorded in lastErr and the source is asked to break its dispatch loop so
// dispatchLoop can surface it.
func (w *Worker) handlePacket(data []byte, ci gopacket.CaptureInfo) {
	if w.shuttingDown() {
		w.source.Breakloop()
		return
	}

	buf := make([]byte, len(data))
	copy(buf, data)

	fp, err := w.classifier.Classify(buf, ci)
	if err != nil {
		if err == classifier.ErrFrameDropped {
			return
		}
		log.WithField("worker", w.Name).Errorf("classifier error, aborting worker: %v", err)
		w.lastErr = err
		w.source.Breakloop()
		return
	}

	if err := w.registry.Save(fp, ci, buf); err != nil {
		log.WithField("worker", w.Name).Errorf("dump write error, aborting worker: %v", err)
		w.lastErr = err
		w.source.Breakloop()
	}
}
