package model

import (
	"errors"
	"math"
	"strings"
	"time"
)

// CellIdentifier is the externally supplied key of a cell (usually a scanned barcode).
type CellIdentifier string

func (id CellIdentifier) Validate() error {
	if strings.TrimSpace(string(id)) == "" {
		return errors.New("cell identifier must not be empty")
	}
	return nil
}

func (id CellIdentifier) String() string { return string(id) }

// PulseSpec describes a single current pulse.
// Units:
// - Magnitude: A (signed; positive = charge, negative = discharge)
// - VoltageCompliance: V
type PulseSpec struct {
	Magnitude         float64
	Width             time.Duration
	StartDelay        time.Duration
	VoltageCompliance float64
}

func (p PulseSpec) Validate() error {
	if p.Width <= 0 {
		return errors.New("pulse width must be > 0")
	}
	if p.StartDelay < 0 {
		return errors.New("pulse start delay must be >= 0")
	}
	if p.VoltageCompliance <= 0 {
		return errors.New("pulse voltage compliance must be > 0")
	}
	return nil
}

func (p PulseSpec) Direction() Direction { return DirectionFromCurrent(p.Magnitude) }

// OffTime is the source off-time programmed after the pulse: ten pulse widths, at least 10 ms.
func (p PulseSpec) OffTime() time.Duration {
	off := 10 * p.Width
	if off < 10*time.Millisecond {
		off = 10 * time.Millisecond
	}
	return off
}

// AcquisitionMargin is the number of extra samples requested beyond rate × width.
const AcquisitionMargin = 100

// WaveformTrace is a time-uniform voltage capture taken during a pulse.
type WaveformTrace struct {
	SampleRate float64 // samples per second
	Samples    []float64
}

func (t WaveformTrace) Len() int { return len(t.Samples) }

// Duration is the time spanned by the captured samples.
func (t WaveformTrace) Duration() time.Duration {
	if t.SampleRate <= 0 {
		return 0
	}
	return time.Duration(float64(len(t.Samples)) / t.SampleRate * float64(time.Second))
}

// ExpectedSamples is the number of samples to read back for a pulse of the given width.
func ExpectedSamples(sampleRate float64, width time.Duration) int {
	return int(sampleRate*width.Seconds()) + AcquisitionMargin
}

// DirectionalMeasurement is one idle/loaded voltage pair for one current direction.
type DirectionalMeasurement struct {
	IdleVoltage    float64
	LoadedVoltage  float64
	AppliedCurrent float64 // signed amps
	Direction      Direction
}

// ResistanceEstimate holds both directional resistances and their mean, in ohms.
type ResistanceEstimate struct {
	Value     float64
	Charge    float64
	Discharge float64
}

// NewResistanceEstimate keeps Value = (Charge + Discharge) / 2.
func NewResistanceEstimate(charge, discharge float64) ResistanceEstimate {
	return ResistanceEstimate{
		Value:     (charge + discharge) / 2.0,
		Charge:    charge,
		Discharge: discharge,
	}
}

func (r ResistanceEstimate) Milliohms() float64 { return r.Value * 1000 }

// IsFinite reports whether all three components are finite numbers.
func (r ResistanceEstimate) IsFinite() bool {
	for _, v := range []float64{r.Value, r.Charge, r.Discharge} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// CellTestResult is the outcome of one complete OCV + R0 + DCIR sequence.
// It is not modified after the sequencer returns it; stores append or replace it whole.
type CellTestResult struct {
	Identifier CellIdentifier
	OCV        float64 // volts
	R0         ResistanceEstimate
	DCIR       ResistanceEstimate
	TestedAt   time.Time
}
