// Copyright (c) 2015 Raytheon BBN Technologies Corp.  All rights reserved.
// SPDX-License-Identifier: Apache-2.0

// Package config loads the run's configuration tree and hands the
// "outputs" key to the route compiler, per spec §6. Parsing the tree itself
// is a thin YAML loader (config file format is out of scope per spec §1);
// this package's job is the same as the original's process_config: walk the
// top-level keys, dispatch each to its handler, and warn on anything it
// doesn't recognize.
package config

import (
	"fmt"
	"io"
	"io/ioutil"
	"os"

	log "github.com/sirupsen/logrus"
	yaml "gopkg.in/yaml.v2"

	"github.com/fasguard/fasguard-benign-traffic-collection/routecompiler"
	"github.com/fasguard/fasguard-benign-traffic-collection/routetable"
)

// Config is the processed result of a configuration file: the set of
// sources to capture from, and the compiled Route Table.
type Config struct {
	// Interfaces names the capture sources: interface names or paths to
	// saved capture files. Empty means "use the capture library's default
	// source" (spec §6).
	Interfaces []string
	// Table is the compiled Route Table. A nil outputs key yields an empty
	// table, which drops every packet (spec §6).
	Table *routetable.Table
}

// Load reads and processes the configuration at path, or from stdin if path
// is "-". An empty config is not an error: it yields a Config with no
// interfaces and an empty (drop-everything) Table, matching the original's
// parse_config returning None for empty input. A path that cannot be opened
// is an error.
func Load(path string) (*Config, error) {
	raw, err := readTree(path)
	if err != nil {
		return nil, err
	}
	return process(raw)
}

func readTree(path string) (map[interface{}]interface{}, error) {
	var r io.Reader
	if path == "-" {
		log.Debug("parsing config from stdin")
		r = os.Stdin
	} else {
		log.WithField("path", path).Debug("parsing config")
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("opening config: %w", err)
		}
		defer f.Close()
		r = f
	}

	data, err := ioutil.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	if len(data) == 0 {
		return nil, nil
	}

	var tree map[interface{}]interface{}
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return nil, &routecompiler.ConfigError{Msg: fmt.Sprintf("parsing config: %v", err)}
	}
	return tree, nil
}

// process walks raw's top-level keys, matching the original's
// process_config/config_handlers dispatch table. Unknown keywords are
// logged at warning level and ignored rather than rejected.
func process(raw map[interface{}]interface{}) (*Config, error) {
	cfg := &Config{Table: routetable.New()}
	for keyRaw, val := range raw {
		key, ok := keyRaw.(string)
		if !ok {
			log.Warnf("unknown keyword in config: %v", keyRaw)
			continue
		}
		switch key {
		case "interfaces":
			ifaces, err := handleInterfaces(val)
			if err != nil {
				return nil, err
			}
			cfg.Interfaces = ifaces
		case "outputs":
			table, err := routecompiler.Compile(val)
			if err != nil {
				return nil, err
			}
			cfg.Table = table
		default:
			log.Warnf("unknown keyword in config: %s", key)
		}
	}
	return cfg, nil
}

// handleInterfaces builds the set of interfaces/filenames to read from,
// matching config_handle_interfaces. Order is preserved (unlike the
// original's Python set) since it determines worker naming/log order, which
// has no bearing on spec §5's explicit no-ordering-across-sources guarantee.
func handleInterfaces(raw interface{}) ([]string, error) {
	items, ok := raw.([]interface{})
	if !ok {
		return nil, &routecompiler.ConfigError{Msg: fmt.Sprintf("interfaces must be a sequence, got %#v", raw)}
	}
	seen := make(map[string]bool, len(items))
	out := make([]string, 0, len(items))
	for _, item := range items {
		s, ok := item.(string)
		if !ok {
			return nil, &routecompiler.ConfigError{Msg: fmt.Sprintf("interfaces entries must be strings, got %#v", item)}
		}
		if seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out, nil
}
