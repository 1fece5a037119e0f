// Copyright (c) 2015 Raytheon BBN Technologies Corp.  All rights reserved.
// SPDX-License-Identifier: Apache-2.0

// Command fasguard-capture is the packet-routing daemon's CLI entrypoint
// (spec §6): parse flags, load the configuration, and hand off to the
// Supervisor. Flag/entrypoint shape follows cmd/client and
// cmd/logmanager's flag-based Run() + package-level Version convention.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/fasguard/fasguard-benign-traffic-collection/capturelib"
	"github.com/fasguard/fasguard-benign-traffic-collection/classifier"
	"github.com/fasguard/fasguard-benign-traffic-collection/config"
	"github.com/fasguard/fasguard-benign-traffic-collection/selftest"
	"github.com/fasguard/fasguard-benign-traffic-collection/supervisor"
)

// Version can be set at build time with -ldflags "-X main.Version=...",
// matching cmd/client and cmd/logmanager's own package-level Version var.
var Version = "No version specified"

func main() {
	os.Exit(Run())
}

// Run parses flags and dispatches to --self-test or the normal capture
// run, returning the process exit code (spec §6).
func Run() int {
	configPtr := flag.String("c", "-", "path to configuration file, or - for stdin")
	selfTestPtr := flag.Bool("self-test", false, "run diagnostic self-tests and exit")
	verbosePtr := flag.Bool("v", false, "enable debug logging")
	flag.BoolVar(verbosePtr, "verbose", false, "enable debug logging")
	versionPtr := flag.Bool("V", false, "print version and exit")
	flag.BoolVar(versionPtr, "version", false, "print version and exit")
	backendPtr := flag.String("capture-backend", string(capturelib.BackendPcap),
		"capture library backend: pcap or packetcap")
	flag.Parse()

	if *versionPtr {
		fmt.Println(Version)
		return 0
	}

	if *verbosePtr {
		log.SetLevel(log.DebugLevel)
	} else {
		log.SetLevel(log.InfoLevel)
	}
	log.SetFormatter(&log.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	if *selfTestPtr {
		ok := selftest.Run(os.Stdout)
		if !ok {
			return supervisor.ExitFailed
		}
		return supervisor.ExitClean
	}

	cfg, err := config.Load(*configPtr)
	if err != nil {
		log.Errorf("loading configuration: %v", err)
		return supervisor.ExitFailed
	}

	sup := supervisor.New(supervisor.Config{
		Table:   cfg.Table,
		Sources: cfg.Interfaces,
		Backend: capturelib.Backend(*backendPtr),
		Policy:  classifier.PolicyDropAndCount,
	})
	return sup.Run()
}
