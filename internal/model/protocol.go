package model

import (
	"errors"
	"time"
)

// ProtocolParams defines the electrical limits and timing of the OCV/R0/DCIR protocol.
// Units:
// - Compliance limits: V
// - Currents: A (magnitudes; the sequencer applies the sign per direction)
// - SampleRate: samples per second
// - OCV bounds: V, R0 bound: ohm (advisory only)
type ProtocolParams struct {
	ChargeCompliance    float64
	DischargeCompliance float64

	R0PulseCurrent float64
	R0PulseWidth   time.Duration

	DCIRCurrent  float64
	DCIRDuration time.Duration

	SenseDwell time.Duration
	SampleRate float64

	OCVMin float64
	OCVMax float64
	R0Max  float64
}

// DefaultProtocolParams matches a 21700 cell (2.5 V to 4.2 V) on a 2461 SourceMeter.
func DefaultProtocolParams() ProtocolParams {
	return ProtocolParams{
		ChargeCompliance:    4.2,
		DischargeCompliance: 2.5,
		R0PulseCurrent:      1.0,
		R0PulseWidth:        2500 * time.Microsecond,
		DCIRCurrent:         1.0,
		DCIRDuration:        5 * time.Second,
		SenseDwell:          100 * time.Millisecond,
		SampleRate:          500000,
		OCVMin:              2.0,
		OCVMax:              4.5,
		R0Max:               0.1,
	}
}

func (p ProtocolParams) Validate() error {
	if p.ChargeCompliance <= 0 || p.DischargeCompliance <= 0 {
		return errors.New("compliance limits must be > 0")
	}
	if p.ChargeCompliance <= p.DischargeCompliance {
		return errors.New("charge compliance must be > discharge compliance")
	}
	if p.R0PulseCurrent <= 0 {
		return errors.New("R0PulseCurrent must be > 0")
	}
	if p.R0PulseWidth <= 0 {
		return errors.New("R0PulseWidth must be > 0")
	}
	if p.DCIRCurrent <= 0 {
		return errors.New("DCIRCurrent must be > 0")
	}
	if p.DCIRDuration <= 0 {
		return errors.New("DCIRDuration must be > 0")
	}
	if p.SenseDwell < 0 {
		return errors.New("SenseDwell must be >= 0")
	}
	if p.SampleRate <= 0 {
		return errors.New("SampleRate must be > 0")
	}
	if p.OCVMin > p.OCVMax {
		return errors.New("OCVMin must be <= OCVMax")
	}
	return nil
}

// Compliance returns the voltage compliance for a direction. Idle uses the charge side.
func (p ProtocolParams) Compliance(d Direction) float64 {
	if d == DirectionDischarge {
		return p.DischargeCompliance
	}
	return p.ChargeCompliance
}
