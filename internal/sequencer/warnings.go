package sequencer

import (
	"fmt"

	"cell-tester/internal/model"
)

// Warning is an advisory plausibility finding. Results carrying warnings are still produced and persisted.
type Warning struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

const (
	WarnOCVRange           = "OCV_OUT_OF_RANGE"
	WarnR0High             = "R0_HIGH"
	WarnNegativeResistance = "NEGATIVE_RESISTANCE"
)

// limitTolerance absorbs float rounding so a reading exactly at a limit is not flagged.
const limitTolerance = 1e-9

func checkPlausibility(p model.ProtocolParams, r model.CellTestResult) []Warning {
	var out []Warning
	if r.OCV < p.OCVMin || r.OCV > p.OCVMax {
		out = append(out, Warning{
			Code:    WarnOCVRange,
			Message: fmt.Sprintf("OCV (%.2fV) outside typical Li-ion range (%.1f-%.1fV)", r.OCV, p.OCVMin, p.OCVMax),
		})
	}
	if p.R0Max > 0 && r.R0.Value > p.R0Max+limitTolerance {
		out = append(out, Warning{
			Code:    WarnR0High,
			Message: fmt.Sprintf("R0 (%.1fmΩ) above %.1fmΩ, check cell contacts", r.R0.Milliohms(), p.R0Max*1000),
		})
	}
	for _, c := range []struct {
		name string
		v    float64
	}{
		{"R0 charge", r.R0.Charge},
		{"R0 discharge", r.R0.Discharge},
		{"DCIR charge", r.DCIR.Charge},
		{"DCIR discharge", r.DCIR.Discharge},
	} {
		if c.v < 0 {
			out = append(out, Warning{
				Code:    WarnNegativeResistance,
				Message: fmt.Sprintf("%s resistance is negative (%.2fmΩ), check polarity and sense leads", c.name, c.v*1000),
			})
		}
	}
	return out
}
