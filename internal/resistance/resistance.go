// Package resistance converts idle/loaded voltage pairs into directional resistances.
package resistance

import (
	"errors"
	"fmt"
	"math"

	"cell-tester/internal/model"
)

var ErrZeroCurrent = errors.New("applied current must be non-zero")

// Charge is (loaded - idle) / |I|. Voltage rises under charge, so a healthy cell gives a positive value.
func Charge(m model.DirectionalMeasurement) (float64, error) {
	if m.AppliedCurrent == 0 {
		return 0, ErrZeroCurrent
	}
	return (m.LoadedVoltage - m.IdleVoltage) / math.Abs(m.AppliedCurrent), nil
}

// Discharge is (idle - loaded) / |I|. Voltage falls under discharge.
func Discharge(m model.DirectionalMeasurement) (float64, error) {
	if m.AppliedCurrent == 0 {
		return 0, ErrZeroCurrent
	}
	return (m.IdleVoltage - m.LoadedVoltage) / math.Abs(m.AppliedCurrent), nil
}

// Estimate combines one measurement per direction. Values are not clamped: a negative
// resistance is returned as-is for the caller to flag.
func Estimate(charge, discharge model.DirectionalMeasurement) (model.ResistanceEstimate, error) {
	if charge.Direction != model.DirectionCharge {
		return model.ResistanceEstimate{}, fmt.Errorf("charge slot holds a %s measurement", charge.Direction)
	}
	if discharge.Direction != model.DirectionDischarge {
		return model.ResistanceEstimate{}, fmt.Errorf("discharge slot holds a %s measurement", discharge.Direction)
	}
	rc, err := Charge(charge)
	if err != nil {
		return model.ResistanceEstimate{}, fmt.Errorf("charge: %w", err)
	}
	rd, err := Discharge(discharge)
	if err != nil {
		return model.ResistanceEstimate{}, fmt.Errorf("discharge: %w", err)
	}
	return model.NewResistanceEstimate(rc, rd), nil
}
