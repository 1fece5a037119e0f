// Copyright (c) 2015 Raytheon BBN Technologies Corp.  All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fasguard/fasguard-benign-traffic-collection/fingerprint"
	"github.com/fasguard/fasguard-benign-traffic-collection/routecompiler"
	"github.com/fasguard/fasguard-benign-traffic-collection/routetable"
)

func writeTempConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoadEmptyConfigDropsEverything(t *testing.T) {
	path := writeTempConfig(t, "")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Empty(t, cfg.Interfaces)
	_, ok := routetable.Lookup(cfg.Table, fingerprint.Ethertype1(0x800))
	assert.False(t, ok)
}

func TestLoadInterfacesAndOutputs(t *testing.T) {
	path := writeTempConfig(t, `
interfaces:
  - eth0
  - /tmp/capture.pcap
outputs:
  - - all.pcap
    - - []
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"eth0", "/tmp/capture.pcap"}, cfg.Interfaces)

	leaf, ok := routetable.Lookup(cfg.Table, fingerprint.Ethertype3(0x800, 6, 22))
	require.True(t, ok)
	assert.Equal(t, "all.pcap", leaf.Pattern)
}

func TestLoadUnknownTopLevelKeyIsIgnored(t *testing.T) {
	path := writeTempConfig(t, `
bogus: 42
interfaces:
  - eth0
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"eth0"}, cfg.Interfaces)
}

func TestLoadDuplicateInterfacesDeduplicated(t *testing.T) {
	path := writeTempConfig(t, `
interfaces:
  - eth0
  - eth0
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"eth0"}, cfg.Interfaces)
}

func TestLoadMalformedYAMLIsConfigError(t *testing.T) {
	path := writeTempConfig(t, "interfaces: [eth0\n")
	_, err := Load(path)
	require.Error(t, err)
	var cfgErr *routecompiler.ConfigError
	assert.ErrorAs(t, err, &cfgErr)
}
