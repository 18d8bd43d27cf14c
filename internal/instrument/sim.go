package instrument

import (
	"context"
	"fmt"
	"sync"
	"time"

	"cell-tester/internal/model"
)

// Simulated cell voltages. They model a healthy cell with a 100 mΩ apparent resistance.
const (
	SimIdleVoltage      = 3.7
	SimChargeVoltage    = 3.8
	SimDischargeVoltage = 3.6
)

// Call is one recorded operation on a Simulator.
type Call struct {
	Op         string
	Amps       float64
	Compliance float64
	Enabled    bool
	Width      time.Duration
}

// Simulator is a deterministic Port for hardware-free runs and tests.
// It returns the idle voltage at zero current and the fixed loaded voltages while sourcing.
type Simulator struct {
	IdleVoltage      float64
	ChargeVoltage    float64
	DischargeVoltage float64
	SampleRate       float64

	// Realtime makes pulses block for their programmed duration.
	Realtime bool

	// Fault injection for tests.
	PulseErr   error
	ReadErr    error
	EmptyTrace bool
	ConnectErr error

	mu      sync.Mutex
	output  bool
	current float64
	closed  bool
	calls   []Call
	beeps   int
}

// NewSimulator returns a simulator with the nominal cell voltages.
func NewSimulator(sampleRate float64) *Simulator {
	return &Simulator{
		IdleVoltage:      SimIdleVoltage,
		ChargeVoltage:    SimChargeVoltage,
		DischargeVoltage: SimDischargeVoltage,
		SampleRate:       sampleRate,
	}
}

func (s *Simulator) record(c Call) {
	s.calls = append(s.calls, c)
}

func (s *Simulator) SetSourceCurrent(ctx context.Context, amps, voltageCompliance float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record(Call{Op: "source", Amps: amps, Compliance: voltageCompliance})
	s.current = amps
	return nil
}

func (s *Simulator) SetOutput(ctx context.Context, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record(Call{Op: "output", Enabled: enabled})
	s.output = enabled
	return nil
}

func (s *Simulator) ReadVoltage(ctx context.Context) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record(Call{Op: "read"})
	if s.ReadErr != nil {
		return 0, newError("read voltage", ErrInstrument, s.ReadErr)
	}
	if !s.output {
		// 4-wire sense still reads the cell with the output off in simulation.
		return s.IdleVoltage, nil
	}
	return s.loadedVoltage(s.current), nil
}

func (s *Simulator) loadedVoltage(amps float64) float64 {
	switch model.DirectionFromCurrent(amps) {
	case model.DirectionCharge:
		return s.ChargeVoltage
	case model.DirectionDischarge:
		return s.DischargeVoltage
	default:
		return s.IdleVoltage
	}
}

func (s *Simulator) ApplyCurrentPulse(ctx context.Context, spec model.PulseSpec) (model.WaveformTrace, error) {
	if err := spec.Validate(); err != nil {
		return model.WaveformTrace{}, newError("pulse", ErrInstrument, err)
	}
	s.mu.Lock()
	s.record(Call{Op: "pulse", Amps: spec.Magnitude, Compliance: spec.VoltageCompliance, Width: spec.Width})
	pulseErr, empty, realtime := s.PulseErr, s.EmptyTrace, s.Realtime
	s.mu.Unlock()

	if realtime {
		total := spec.StartDelay + spec.Width + spec.OffTime()
		if err := sleep(ctx, total); err != nil {
			return model.WaveformTrace{}, newError("pulse", ErrInstrument, err)
		}
	}
	if pulseErr != nil {
		return model.WaveformTrace{}, newError("pulse", ErrAcquisition, pulseErr)
	}
	if empty {
		return model.WaveformTrace{}, newError("pulse", ErrAcquisition, fmt.Errorf("no voltage samples captured"))
	}
	return s.trace(spec), nil
}

// trace builds rate×width+margin samples: a ramp from idle over the first and last
// eighth, flat plateau in between.
func (s *Simulator) trace(spec model.PulseSpec) model.WaveformTrace {
	n := model.ExpectedSamples(s.SampleRate, spec.Width)
	plateau := s.loadedVoltage(spec.Magnitude)
	edge := n / 8
	samples := make([]float64, n)
	for i := range samples {
		switch {
		case edge > 0 && i < edge:
			samples[i] = s.IdleVoltage + (plateau-s.IdleVoltage)*float64(i)/float64(edge)
		case edge > 0 && i >= n-edge:
			samples[i] = plateau + (s.IdleVoltage-plateau)*float64(i-(n-edge)+1)/float64(edge)
		default:
			samples[i] = plateau
		}
	}
	return model.WaveformTrace{SampleRate: s.SampleRate, Samples: samples}
}

func (s *Simulator) ConnectionCheck(ctx context.Context) (Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record(Call{Op: "idn"})
	if s.ConnectErr != nil {
		return Identity{}, newError("identity", ErrConnection, s.ConnectErr)
	}
	return ParseIdentity("SIMULATED,MODEL 2461,0000000,sim"), nil
}

func (s *Simulator) Beep(ctx context.Context, success bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.beeps++
	return nil
}

func (s *Simulator) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record(Call{Op: "output", Enabled: false})
	s.output = false
	s.closed = true
	return nil
}

// Calls returns a copy of the recorded operations.
func (s *Simulator) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.calls...)
}

// OutputEnabled reports the current output state.
func (s *Simulator) OutputEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.output
}

func (s *Simulator) Beeps() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.beeps
}

func (s *Simulator) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
