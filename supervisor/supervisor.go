// Copyright (c) 2015 Raytheon BBN Technologies Corp.  All rights reserved.
// SPDX-License-Identifier: Apache-2.0

// Package supervisor implements the Supervisor (spec §4.6/§5): it starts
// the Stats logger, spawns one Capture Worker per configured source,
// orchestrates orderly shutdown on the first worker failure or an
// interrupt, and reports the process's exit code.
package supervisor

import (
	"context"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/fasguard/fasguard-benign-traffic-collection/capturelib"
	"github.com/fasguard/fasguard-benign-traffic-collection/classifier"
	"github.com/fasguard/fasguard-benign-traffic-collection/dumpfiles"
	"github.com/fasguard/fasguard-benign-traffic-collection/routetable"
	"github.com/fasguard/fasguard-benign-traffic-collection/stats"
	"github.com/fasguard/fasguard-benign-traffic-collection/worker"
)

// Exit codes per spec §6/§4.6.
const (
	ExitClean       = 0
	ExitInterrupted = 1
	ExitFailed      = 2
)

// pollInterval bounds how long the Supervisor can go between checking for
// an interrupt while waiting on worker completions (spec §5: "the
// Supervisor blocks on the completion channel with a ≤250 ms timeout").
const pollInterval = 200 * time.Millisecond

// Config is everything the Supervisor needs to start capturing: the
// compiled routes, the sources to read from (empty means "one worker
// against the capture library's default source"), and the capture
// parameters common to every source.
type Config struct {
	Table      *routetable.Table
	Sources    []string
	Backend    capturelib.Backend
	Snaplen    int
	ToMS       int
	Policy     classifier.ErrorPolicy
	StatsEvery time.Duration
}

// Supervisor owns one run's shared state: the shutdown flag, the Dump File
// Registry, and the Stats logger.
type Supervisor struct {
	cfg      Config
	shutdown int32

	// openSourceFunc opens the named source. Defaults to the real capture
	// library; tests substitute a fake to drive the Supervisor without a
	// live interface or capture file.
	openSourceFunc func(name string) (capturelib.Source, error)
}

// New builds a Supervisor for cfg. Defaults matching spec §4.4/§5 are
// applied for zero-valued fields.
func New(cfg Config) *Supervisor {
	if cfg.ToMS == 0 {
		cfg.ToMS = 250
	}
	if cfg.Snaplen == 0 {
		cfg.Snaplen = 65535
	}
	if cfg.StatsEvery == 0 {
		cfg.StatsEvery = 5 * time.Second
	}
	s := &Supervisor{cfg: cfg}
	s.openSourceFunc = s.openSource
	return s
}

// Run opens every configured source, spawns one worker per source, and
// blocks until all have completed (or the process is interrupted). It
// returns the process exit code per spec §4.6/§6.
func (s *Supervisor) Run() int {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	shared := capturelib.NewSharedParams(s.cfg.Snaplen)
	st := stats.New()
	registry := dumpfiles.New(s.cfg.Table, shared, st)

	statsCtx, stopStats := context.WithCancel(context.Background())
	statsDone := make(chan struct{})
	go func() {
		st.Run(statsCtx, s.cfg.StatsEvery)
		close(statsDone)
	}()

	sources := s.cfg.Sources
	if len(sources) == 0 {
		sources = []string{""}
	}

	workers := make([]*worker.Worker, 0, len(sources))
	for _, name := range sources {
		src, err := s.openSourceFunc(name)
		if err != nil {
			log.WithField("source", displayName(name)).Errorf("failed to open capture source: %v", err)
			atomic.StoreInt32(&s.shutdown, 1)
			continue
		}
		c := classifier.New(s.cfg.Policy)
		w := worker.New(displayName(name), src, c, registry, shared, &s.shutdown)
		workers = append(workers, w)
		go w.Run()
	}

	interrupted := false
	failed := len(workers) < len(sources)
	pending := make(map[*worker.Worker]bool, len(workers))
	for _, w := range workers {
		pending[w] = true
	}

	for len(pending) > 0 {
		select {
		case sig := <-sigCh:
			log.WithField("signal", sig).Warn("interrupted, shutting down")
			interrupted = true
			atomic.StoreInt32(&s.shutdown, 1)
		default:
		}

		progressed := false
		for w := range pending {
			select {
			case c := <-w.Done():
				delete(pending, w)
				progressed = true
				if c.Err != nil {
					log.WithField("worker", c.Name).Errorf("worker failed: %v", c.Err)
					failed = true
					atomic.StoreInt32(&s.shutdown, 1)
				} else {
					log.WithField("worker", c.Name).Info("worker completed")
				}
			default:
			}
		}
		if !progressed && len(pending) > 0 {
			time.Sleep(pollInterval)
		}
	}

	if err := registry.Close(); err != nil {
		log.Errorf("error closing dump files: %v", err)
		failed = true
	}

	stopStats()
	<-statsDone

	switch {
	case interrupted:
		return ExitInterrupted
	case failed:
		return ExitFailed
	default:
		return ExitClean
	}
}

func (s *Supervisor) openSource(name string) (capturelib.Source, error) {
	if name == "" {
		dev, err := capturelib.DefaultDevice()
		if err != nil {
			return nil, err
		}
		name = dev
	}
	info, err := os.Stat(name)
	isRegularFile := err == nil && info.Mode().IsRegular()
	return capturelib.Open(s.cfg.Backend, name, s.cfg.Snaplen, s.cfg.ToMS, isRegularFile)
}

func displayName(name string) string {
	if name == "" {
		return "default"
	}
	return name
}
