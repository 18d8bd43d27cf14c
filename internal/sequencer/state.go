package sequencer

// State is a step of the per-cell protocol. States only move forward.
type State int

const (
	StateIdle State = iota
	StateOCV
	StateR0Charge
	StateR0Discharge
	StateDCIRCharge
	StateDCIRDischarge
	StateComplete
)

var stateNames = [...]string{
	StateIdle:          "Idle",
	StateOCV:           "OCV",
	StateR0Charge:      "R0Charge",
	StateR0Discharge:   "R0Discharge",
	StateDCIRCharge:    "DCIRCharge",
	StateDCIRDischarge: "DCIRDischarge",
	StateComplete:      "Complete",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "Unknown"
	}
	return stateNames[s]
}

// Next returns the following state; Complete is terminal.
func (s State) Next() State {
	if s >= StateComplete {
		return StateComplete
	}
	return s + 1
}
