package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"cell-tester/internal/model"

	"gopkg.in/yaml.v3"
)

// Config is the on-disk configuration shape (YAML).
type Config struct {
	// Optional: load protocol parameters from a separate cell profile (e.g. profiles/21700-50s.yaml).
	// If both ProfileFile and Protocol are provided, Protocol overrides ProfileFile.
	ProfileFile string           `yaml:"profile_file"`
	Protocol    ProtocolConfig   `yaml:"protocol"`
	Instrument  InstrumentConfig `yaml:"instrument"`
	Store       StoreConfig      `yaml:"store"`
	API         APIConfig        `yaml:"api"`
}

type ProtocolConfig struct {
	Name                 string  `yaml:"name"`
	ChargeComplianceV    float64 `yaml:"charge_compliance_v"`
	DischargeComplianceV float64 `yaml:"discharge_compliance_v"`
	R0PulseCurrentA      float64 `yaml:"r0_pulse_current_a"`
	R0PulseWidthMs       float64 `yaml:"r0_pulse_width_ms"`
	DCIRCurrentA         float64 `yaml:"dcir_current_a"`
	DCIRDurationS        float64 `yaml:"dcir_duration_s"`
	SenseDwellMs         float64 `yaml:"sense_dwell_ms"`
	SampleRateHz         float64 `yaml:"sample_rate_hz"`
	OCVMinV              float64 `yaml:"ocv_min_v"`
	OCVMaxV              float64 `yaml:"ocv_max_v"`
	R0MaxOhm             float64 `yaml:"r0_max_ohm"`
}

type InstrumentConfig struct {
	// Driver is "sim" (no hardware) or "scpi" (raw SCPI socket, e.g. 192.168.0.42:5025).
	Driver    string `yaml:"driver"`
	Address   string `yaml:"address"`
	Terminals string `yaml:"terminals"`
	TimeoutMs int    `yaml:"timeout_ms"`
}

type StoreConfig struct {
	// Backend is "csv" or "sqlite".
	Backend string `yaml:"backend"`
	Path    string `yaml:"path"`
}

type APIConfig struct {
	Addr           string   `yaml:"addr"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	p := model.DefaultProtocolParams()
	return &Config{
		Protocol: FromModelParams(p),
		Instrument: InstrumentConfig{
			Driver:    "sim",
			Terminals: "front",
			TimeoutMs: 5000,
		},
		Store: StoreConfig{
			Backend: "csv",
			Path:    "results/cells.csv",
		},
		API: APIConfig{
			Addr: ":8080",
		},
	}
}

// Load reads path (or only defaults when path is empty), fills unset fields from Default and validates.
func Load(path string) (*Config, error) {
	c := &Config{}
	if path != "" {
		var err error
		c, err = LoadUnchecked(path)
		if err != nil {
			return nil, err
		}
	}
	c = Merge(Default(), c)
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// LoadUnchecked loads and merges config, but does not validate it or apply defaults.
// Useful for debugging/printing partial configs.
func LoadUnchecked(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var c Config
	if err := yaml.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	// If profile_file is set, load it and merge in any explicit overrides from c.Protocol.
	if c.ProfileFile != "" {
		profilePath := c.ProfileFile
		if !filepath.IsAbs(profilePath) {
			// Prefer interpreting relative paths as relative to the config file directory,
			// but fall back to the provided path (relative to cwd) if that doesn't exist.
			cand := filepath.Join(filepath.Dir(path), profilePath)
			if _, err := os.Stat(cand); err == nil {
				profilePath = cand
			}
		}
		loaded, err := LoadProfile(profilePath)
		if err != nil {
			return nil, err
		}
		c.Protocol = MergeProtocol(loaded, c.Protocol)
	}
	return &c, nil
}

func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	if err := c.Protocol.ToModelParams().Validate(); err != nil {
		return fmt.Errorf("protocol config invalid: %w", err)
	}
	switch c.Instrument.Driver {
	case "sim":
	case "scpi":
		if strings.TrimSpace(c.Instrument.Address) == "" {
			return errors.New("instrument.address is required for the scpi driver")
		}
	default:
		return fmt.Errorf("unsupported instrument.driver: %q", c.Instrument.Driver)
	}
	switch strings.ToLower(c.Instrument.Terminals) {
	case "front", "rear":
	default:
		return fmt.Errorf("instrument.terminals must be front or rear, got %q", c.Instrument.Terminals)
	}
	switch c.Store.Backend {
	case "csv", "sqlite":
	default:
		return fmt.Errorf("unsupported store.backend: %q", c.Store.Backend)
	}
	if c.Store.Path == "" {
		return errors.New("store.path is required")
	}
	return nil
}

// Timeout is the per-command instrument I/O timeout.
func (i InstrumentConfig) Timeout() time.Duration {
	return time.Duration(i.TimeoutMs) * time.Millisecond
}

func (p ProtocolConfig) ToModelParams() model.ProtocolParams {
	return model.ProtocolParams{
		ChargeCompliance:    p.ChargeComplianceV,
		DischargeCompliance: p.DischargeComplianceV,
		R0PulseCurrent:      p.R0PulseCurrentA,
		R0PulseWidth:        millis(p.R0PulseWidthMs),
		DCIRCurrent:         p.DCIRCurrentA,
		DCIRDuration:        time.Duration(p.DCIRDurationS * float64(time.Second)),
		SenseDwell:          millis(p.SenseDwellMs),
		SampleRate:          p.SampleRateHz,
		OCVMin:              p.OCVMinV,
		OCVMax:              p.OCVMaxV,
		R0Max:               p.R0MaxOhm,
	}
}

// FromModelParams is the inverse of ToModelParams.
func FromModelParams(p model.ProtocolParams) ProtocolConfig {
	return ProtocolConfig{
		ChargeComplianceV:    p.ChargeCompliance,
		DischargeComplianceV: p.DischargeCompliance,
		R0PulseCurrentA:      p.R0PulseCurrent,
		R0PulseWidthMs:       float64(p.R0PulseWidth) / float64(time.Millisecond),
		DCIRCurrentA:         p.DCIRCurrent,
		DCIRDurationS:        p.DCIRDuration.Seconds(),
		SenseDwellMs:         float64(p.SenseDwell) / float64(time.Millisecond),
		SampleRateHz:         p.SampleRate,
		OCVMinV:              p.OCVMin,
		OCVMaxV:              p.OCVMax,
		R0MaxOhm:             p.R0Max,
	}
}

func millis(ms float64) time.Duration {
	return time.Duration(ms * float64(time.Millisecond))
}

type profileFileWrapper struct {
	Protocol ProtocolConfig `yaml:"protocol"`
}

// LoadProfile reads a cell profile file holding a single protocol: block.
func LoadProfile(path string) (ProtocolConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return ProtocolConfig{}, err
	}
	var w profileFileWrapper
	if err := yaml.Unmarshal(raw, &w); err != nil {
		return ProtocolConfig{}, fmt.Errorf("parse profile %s: %w", path, err)
	}
	return w.Protocol, nil
}

// Merge overlays the non-zero fields of override onto a copy of base.
func Merge(base, override *Config) *Config {
	out := *base
	if override == nil {
		return &out
	}
	if override.ProfileFile != "" {
		out.ProfileFile = override.ProfileFile
	}
	out.Protocol = MergeProtocol(base.Protocol, override.Protocol)
	if override.Instrument.Driver != "" {
		out.Instrument.Driver = override.Instrument.Driver
	}
	if override.Instrument.Address != "" {
		out.Instrument.Address = override.Instrument.Address
	}
	if override.Instrument.Terminals != "" {
		out.Instrument.Terminals = override.Instrument.Terminals
	}
	if override.Instrument.TimeoutMs != 0 {
		out.Instrument.TimeoutMs = override.Instrument.TimeoutMs
	}
	if override.Store.Backend != "" {
		out.Store.Backend = override.Store.Backend
	}
	if override.Store.Path != "" {
		out.Store.Path = override.Store.Path
	}
	if override.API.Addr != "" {
		out.API.Addr = override.API.Addr
	}
	if len(override.API.AllowedOrigins) > 0 {
		out.API.AllowedOrigins = append([]string(nil), override.API.AllowedOrigins...)
	}
	return &out
}

// MergeProtocol overlays non-zero fields from override onto base.
// This is used when loading a profile file and then applying overrides from the main config.
func MergeProtocol(base, override ProtocolConfig) ProtocolConfig {
	out := base
	if override.Name != "" {
		out.Name = override.Name
	}
	if override.ChargeComplianceV != 0 {
		out.ChargeComplianceV = override.ChargeComplianceV
	}
	if override.DischargeComplianceV != 0 {
		out.DischargeComplianceV = override.DischargeComplianceV
	}
	if override.R0PulseCurrentA != 0 {
		out.R0PulseCurrentA = override.R0PulseCurrentA
	}
	if override.R0PulseWidthMs != 0 {
		out.R0PulseWidthMs = override.R0PulseWidthMs
	}
	if override.DCIRCurrentA != 0 {
		out.DCIRCurrentA = override.DCIRCurrentA
	}
	if override.DCIRDurationS != 0 {
		out.DCIRDurationS = override.DCIRDurationS
	}
	// Note: a zero dwell cannot be expressed as an override; profiles always use a non-zero one.
	if override.SenseDwellMs != 0 {
		out.SenseDwellMs = override.SenseDwellMs
	}
	if override.SampleRateHz != 0 {
		out.SampleRateHz = override.SampleRateHz
	}
	if override.OCVMinV != 0 {
		out.OCVMinV = override.OCVMinV
	}
	if override.OCVMaxV != 0 {
		out.OCVMaxV = override.OCVMaxV
	}
	if override.R0MaxOhm != 0 {
		out.R0MaxOhm = override.R0MaxOhm
	}
	return out
}
