// Package sequencer runs the OCV → R0 → DCIR protocol for one cell at a time.
package sequencer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cell-tester/internal/instrument"
	"cell-tester/internal/model"
	"cell-tester/internal/resistance"
	"cell-tester/internal/waveform"

	"go.uber.org/zap"
)

// safeStateTimeout bounds the output-off command issued after a failed run.
const safeStateTimeout = 5 * time.Second

// TraceSink receives every captured pulse trace, e.g. to plot it.
type TraceSink func(id model.CellIdentifier, state State, trace model.WaveformTrace)

type Option func(*Sequencer)

func WithDelayer(d Delayer) Option { return func(s *Sequencer) { s.delay = d } }

func WithLogger(l *zap.Logger) Option { return func(s *Sequencer) { s.log = l } }

// WithObserver is called on every state transition, including Complete.
func WithObserver(fn func(State)) Option { return func(s *Sequencer) { s.observer = fn } }

func WithTraceSink(fn TraceSink) Option { return func(s *Sequencer) { s.traceSink = fn } }

func WithClock(now func() time.Time) Option { return func(s *Sequencer) { s.now = now } }

// Sequencer owns no state between runs; the protocol parameters are fixed at construction.
type Sequencer struct {
	port      instrument.Port
	params    model.ProtocolParams
	delay     Delayer
	log       *zap.Logger
	observer  func(State)
	traceSink TraceSink
	now       func() time.Time
}

func New(port instrument.Port, params model.ProtocolParams, opts ...Option) (*Sequencer, error) {
	if port == nil {
		return nil, errors.New("instrument port is nil")
	}
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("protocol params invalid: %w", err)
	}
	s := &Sequencer{
		port:   port,
		params: params,
		delay:  RealDelayer{},
		log:    zap.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.Named("sequencer")
	return s, nil
}

func (s *Sequencer) Params() model.ProtocolParams { return s.params }

// Outcome is a completed run: the result plus any advisory warnings.
type Outcome struct {
	Result   model.CellTestResult
	Warnings []Warning
}

// StepError reports the state in which a run was aborted.
type StepError struct {
	State State
	Err   error
}

func (e *StepError) Error() string { return fmt.Sprintf("%s: %v", e.State, e.Err) }

func (e *StepError) Unwrap() error { return e.Err }

// run holds the intermediate measurements of one sequence.
type run struct {
	id      model.CellIdentifier
	ocv     float64
	r0c     model.DirectionalMeasurement
	r0d     model.DirectionalMeasurement
	dcirc   model.DirectionalMeasurement
	dcird   model.DirectionalMeasurement
	r0      model.ResistanceEstimate
	dcir    model.ResistanceEstimate
	started time.Time
}

// Run executes the full protocol. Any failure aborts the whole sequence: no partial
// result is returned and the output is switched off before Run returns.
func (s *Sequencer) Run(ctx context.Context, id model.CellIdentifier) (_ *Outcome, err error) {
	if err := id.Validate(); err != nil {
		return nil, err
	}
	log := s.log.With(zap.String("serial", id.String()))
	r := &run{id: id, started: s.now()}

	defer func() {
		if err == nil {
			return
		}
		if oerr := s.safeState(ctx); oerr != nil {
			log.Error("failed to disable output after abort", zap.Error(oerr))
		}
		log.Warn("cell test aborted", zap.Error(err))
	}()

	log.Info("cell test started")
	for st := StateOCV; st != StateComplete; st = st.Next() {
		s.enter(st)
		if err := s.step(ctx, st, r); err != nil {
			return nil, &StepError{State: st, Err: classify(err)}
		}
	}
	s.enter(StateComplete)

	res := model.CellTestResult{
		Identifier: id,
		OCV:        r.ocv,
		R0:         r.r0,
		DCIR:       r.dcir,
		TestedAt:   r.started,
	}
	warnings := checkPlausibility(s.params, res)
	for _, w := range warnings {
		log.Warn("plausibility check", zap.String("code", w.Code), zap.String("detail", w.Message))
	}
	log.Info("cell test complete",
		zap.Float64("ocv_v", res.OCV),
		zap.Float64("r0_mohm", res.R0.Milliohms()),
		zap.Float64("dcir_mohm", res.DCIR.Milliohms()),
		zap.Duration("elapsed", s.now().Sub(r.started)))
	return &Outcome{Result: res, Warnings: warnings}, nil
}

func (s *Sequencer) enter(st State) {
	s.log.Debug("state", zap.Stringer("state", st))
	if s.observer != nil {
		s.observer(st)
	}
}

func (s *Sequencer) step(ctx context.Context, st State, r *run) error {
	var err error
	switch st {
	case StateOCV:
		r.ocv, err = s.idleVoltage(ctx, s.params.ChargeCompliance)
	case StateR0Charge:
		r.r0c, err = s.pulse(ctx, r.id, st, model.DirectionCharge)
	case StateR0Discharge:
		r.r0d, err = s.pulse(ctx, r.id, st, model.DirectionDischarge)
		if err == nil {
			r.r0, err = resistance.Estimate(r.r0c, r.r0d)
		}
	case StateDCIRCharge:
		r.dcirc, err = s.sustained(ctx, model.DirectionCharge)
	case StateDCIRDischarge:
		r.dcird, err = s.sustained(ctx, model.DirectionDischarge)
		if err == nil {
			r.dcir, err = resistance.Estimate(r.dcirc, r.dcird)
		}
	default:
		err = fmt.Errorf("no step for state %s", st)
	}
	return err
}

// idleVoltage reads the terminal voltage under a zero-current bias after the settling dwell.
func (s *Sequencer) idleVoltage(ctx context.Context, compliance float64) (float64, error) {
	if err := s.port.SetSourceCurrent(ctx, 0, compliance); err != nil {
		return 0, err
	}
	if err := s.port.SetOutput(ctx, true); err != nil {
		return 0, err
	}
	if err := s.delay.Wait(ctx, s.params.SenseDwell); err != nil {
		return 0, err
	}
	v, err := s.port.ReadVoltage(ctx)
	if err != nil {
		return 0, err
	}
	if err := s.port.SetOutput(ctx, false); err != nil {
		return 0, err
	}
	return v, nil
}

// pulse measures R0 for one direction: idle reading, then a short digitized pulse
// reduced to its plateau.
func (s *Sequencer) pulse(ctx context.Context, id model.CellIdentifier, st State, dir model.Direction) (model.DirectionalMeasurement, error) {
	compliance := s.params.Compliance(dir)
	idle, err := s.idleVoltage(ctx, compliance)
	if err != nil {
		return model.DirectionalMeasurement{}, err
	}
	spec := model.PulseSpec{
		Magnitude:         dir.Sign() * s.params.R0PulseCurrent,
		Width:             s.params.R0PulseWidth,
		VoltageCompliance: compliance,
	}
	trace, err := s.port.ApplyCurrentPulse(ctx, spec)
	if err != nil {
		return model.DirectionalMeasurement{}, err
	}
	if s.traceSink != nil {
		s.traceSink(id, st, trace)
	}
	loaded, err := waveform.PlateauVoltage(trace)
	if err != nil {
		return model.DirectionalMeasurement{}, err
	}
	s.log.Debug("pulse measured",
		zap.Stringer("state", st),
		zap.Float64("idle_v", idle),
		zap.Float64("loaded_v", loaded),
		zap.Int("samples", trace.Len()))
	return model.DirectionalMeasurement{
		IdleVoltage:    idle,
		LoadedVoltage:  loaded,
		AppliedCurrent: spec.Magnitude,
		Direction:      dir,
	}, nil
}

// sustained measures DCIR for one direction: idle reading, then constant current for the
// configured duration and a single settled reading at its end.
func (s *Sequencer) sustained(ctx context.Context, dir model.Direction) (model.DirectionalMeasurement, error) {
	compliance := s.params.Compliance(dir)
	idle, err := s.idleVoltage(ctx, compliance)
	if err != nil {
		return model.DirectionalMeasurement{}, err
	}
	amps := dir.Sign() * s.params.DCIRCurrent
	if err := s.port.SetSourceCurrent(ctx, amps, compliance); err != nil {
		return model.DirectionalMeasurement{}, err
	}
	if err := s.port.SetOutput(ctx, true); err != nil {
		return model.DirectionalMeasurement{}, err
	}
	if err := s.delay.Wait(ctx, s.params.DCIRDuration); err != nil {
		return model.DirectionalMeasurement{}, err
	}
	loaded, err := s.port.ReadVoltage(ctx)
	if err != nil {
		return model.DirectionalMeasurement{}, err
	}
	if err := s.port.SetOutput(ctx, false); err != nil {
		return model.DirectionalMeasurement{}, err
	}
	s.log.Debug("sustained current measured",
		zap.String("direction", string(dir)),
		zap.Float64("idle_v", idle),
		zap.Float64("loaded_v", loaded))
	return model.DirectionalMeasurement{
		IdleVoltage:    idle,
		LoadedVoltage:  loaded,
		AppliedCurrent: amps,
		Direction:      dir,
	}, nil
}

// safeState switches the output off even when ctx is already cancelled.
func (s *Sequencer) safeState(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), safeStateTimeout)
	defer cancel()
	return s.port.SetOutput(ctx, false)
}

// classify makes an empty trace indistinguishable from an acquisition failure for callers.
func classify(err error) error {
	if errors.Is(err, waveform.ErrEmptyTrace) && !errors.Is(err, instrument.ErrAcquisition) {
		return fmt.Errorf("%w: %w", instrument.ErrAcquisition, err)
	}
	return err
}
