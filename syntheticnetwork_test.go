// SPDX-License-Identifier: GPL-3.0-or-later

package rush

import (
	"os"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func minimalSyntheticNetwork() *SyntheticNetwork {
	return &SyntheticNetwork{
		Flows: []NamedFlow{
			{Label: "http", Flow: Flow{Proto: ProtoTCP, PortMin: 80, PortMax: 80}},
		},
	}
}

func TestBuildConfigWiresBothDirections(t *testing.T) {
	dir := t.TempDir()
	sn := minimalSyntheticNetwork()
	cfg, err := BuildConfig(sn, "eth0", "eth1", dir+"/ingress.profile", dir+"/egress.profile", "")
	require.NoError(t, err)

	for _, name := range []string{
		"outer", "inner",
		"ingress_checksum", "ingress_split", "ingress_join", "ingress_top",
		"egress_checksum", "egress_split", "egress_join", "egress_top",
		"default_ingress_loss", "default_ingress_latency", "default_ingress_jitter", "default_ingress_rate",
		"http_egress_loss", "http_egress_latency", "http_egress_jitter", "http_egress_rate",
	} {
		_, ok := cfg.apps[name]
		assert.True(t, ok, "expected app %q to be configured", name)
	}

	// No pcap requested: neither tap app should appear.
	_, hasIngressTap := cfg.apps["ingress_pcap"]
	_, hasEgressTap := cfg.apps["egress_pcap"]
	assert.False(t, hasIngressTap)
	assert.False(t, hasEgressTap)
}

func TestBuildConfigSplicesInPCAPTapsWhenPrefixGiven(t *testing.T) {
	dir := t.TempDir()
	sn := minimalSyntheticNetwork()
	prefix := dir + "/capture"
	cfg, err := BuildConfig(sn, "eth0", "eth1", dir+"/ingress.profile", dir+"/egress.profile", prefix)
	require.NoError(t, err)

	_, hasIngressTap := cfg.apps["ingress_pcap"]
	_, hasEgressTap := cfg.apps["egress_pcap"]
	assert.True(t, hasIngressTap)
	assert.True(t, hasEgressTap)

	for _, suffix := range []string{"-ingress.pcap", "-egress.pcap"} {
		_, err := os.Stat(prefix + suffix)
		assert.NoError(t, err)
	}
}

func TestBuildConfigFailsWhenPCAPDirMissing(t *testing.T) {
	sn := minimalSyntheticNetwork()
	_, err := BuildConfig(sn, "eth0", "eth1", "/tmp/ingress.profile", "/tmp/egress.profile", "/no/such/dir/capture")
	assert.ErrorIs(t, err, ErrInit)
}

func TestProgramLoadFailsOnMissingSpec(t *testing.T) {
	p := &Program{
		Engine:   NewEngine(NewPool(16), zerolog.Nop()),
		OuterIf:  "eth0",
		InnerIf:  "eth1",
		SpecPath: "/no/such/spec.json",
		Log:      zerolog.Nop(),
	}
	err := p.Load()
	assert.ErrorIs(t, err, ErrConfig)
}

func TestProgramLoadFailsOnMalformedSpec(t *testing.T) {
	path := t.TempDir() + "/spec.json"
	require.NoError(t, os.WriteFile(path, []byte("not json"), 0o644))
	p := &Program{
		Engine:   NewEngine(NewPool(16), zerolog.Nop()),
		OuterIf:  "eth0",
		InnerIf:  "eth1",
		SpecPath: path,
		Log:      zerolog.Nop(),
	}
	err := p.Load()
	assert.ErrorIs(t, err, ErrConfig)
}

func TestProgramReloadNeverPanicsOnError(t *testing.T) {
	p := &Program{
		Engine:   NewEngine(NewPool(16), zerolog.Nop()),
		OuterIf:  "eth0",
		InnerIf:  "eth1",
		SpecPath: "/no/such/spec.json",
		Log:      zerolog.Nop(),
	}
	assert.NotPanics(t, func() { p.Reload() })
}
