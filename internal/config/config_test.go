package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"cell-tester/internal/model"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func TestLoad_EmptyPathUsesDefaults(t *testing.T) {
	c, err := Load("")
	require.NoError(t, err)

	if diff := cmp.Diff(model.DefaultProtocolParams(), c.Protocol.ToModelParams()); diff != "" {
		t.Errorf("protocol params mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, "sim", c.Instrument.Driver)
	assert.Equal(t, "csv", c.Store.Backend)
}

func TestDefaults_RoundTripDurations(t *testing.T) {
	p := Default().Protocol.ToModelParams()
	assert.Equal(t, 2500*time.Microsecond, p.R0PulseWidth)
	assert.Equal(t, 5*time.Second, p.DCIRDuration)
	assert.Equal(t, 100*time.Millisecond, p.SenseDwell)
}

func TestLoad_ProfileFileWithOverrides(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "profile.yaml", `
protocol:
  name: 18650-30q
  charge_compliance_v: 4.2
  discharge_compliance_v: 2.5
  r0_pulse_current_a: 2
  dcir_duration_s: 10
`)
	cfgPath := writeFile(t, dir, "station.yaml", `
profile_file: profile.yaml
protocol:
  r0_pulse_current_a: 3
instrument:
  driver: scpi
  address: 10.0.0.5:5025
  terminals: rear
store:
  backend: sqlite
  path: results/cells.db
`)

	c, err := Load(cfgPath)
	require.NoError(t, err)

	p := c.Protocol.ToModelParams()
	assert.Equal(t, "18650-30q", c.Protocol.Name)
	assert.Equal(t, 3.0, p.R0PulseCurrent, "main config overrides profile")
	assert.Equal(t, 10*time.Second, p.DCIRDuration, "profile overrides defaults")
	assert.Equal(t, 500000.0, p.SampleRate, "defaults fill the rest")
	assert.Equal(t, "rear", c.Instrument.Terminals)
	assert.Equal(t, "sqlite", c.Store.Backend)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"inverted compliance", func(c *Config) {
			c.Protocol.ChargeComplianceV = 2.0
			c.Protocol.DischargeComplianceV = 3.0
		}},
		{"zero pulse width", func(c *Config) { c.Protocol.R0PulseWidthMs = 0 }},
		{"unknown driver", func(c *Config) { c.Instrument.Driver = "visa" }},
		{"scpi without address", func(c *Config) { c.Instrument.Driver = "scpi" }},
		{"bad terminals", func(c *Config) { c.Instrument.Terminals = "side" }},
		{"unknown backend", func(c *Config) { c.Store.Backend = "postgres" }},
		{"empty store path", func(c *Config) { c.Store.Path = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			tt.mutate(c)
			assert.Error(t, c.Validate())
		})
	}

	assert.NoError(t, Default().Validate())
	var nilCfg *Config
	assert.Error(t, nilCfg.Validate())
}

func TestLoadUnchecked_MissingProfile(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeFile(t, dir, "station.yaml", "profile_file: nope.yaml\n")
	_, err := LoadUnchecked(cfgPath)
	assert.Error(t, err)
}

func TestMerge_KeepsBaseWhenOverrideEmpty(t *testing.T) {
	base := Default()
	got := Merge(base, &Config{})
	if diff := cmp.Diff(base, got); diff != "" {
		t.Errorf("merge changed base (-want +got):\n%s", diff)
	}
}
