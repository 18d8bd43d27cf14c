package model

// Direction is the current polarity of an excitation.
// Keep these values stable; they are intended for CSV and JSON output.
type Direction string

const (
	DirectionCharge    Direction = "CHARGE"
	DirectionIdle      Direction = "IDLE"
	DirectionDischarge Direction = "DISCHARGE"
)

// DirectionFromCurrent maps a signed current to a direction.
// Convention: positive amps = charge into the cell, negative amps = discharge.
func DirectionFromCurrent(amps float64) Direction {
	switch {
	case amps > 0:
		return DirectionCharge
	case amps < 0:
		return DirectionDischarge
	default:
		return DirectionIdle
	}
}

// Sign returns +1 for charge, -1 for discharge and 0 for idle.
func (d Direction) Sign() float64 {
	switch d {
	case DirectionCharge:
		return 1
	case DirectionDischarge:
		return -1
	default:
		return 0
	}
}
