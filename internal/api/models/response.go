package models

import (
	"time"

	"cell-tester/internal/analysis"
	"cell-tester/internal/instrument"
	"cell-tester/internal/model"
	"cell-tester/internal/sequencer"
)

// CellResult is the JSON form of a stored cell result
type CellResult struct {
	Serial   string           `json:"serial"`
	OCV      float64          `json:"ocv_v"`
	R0       ResistanceDetail `json:"r0"`
	DCIR     ResistanceDetail `json:"dcir"`
	TestedAt *time.Time       `json:"tested_at,omitempty"`
}

// ResistanceDetail holds a resistance estimate in ohms
type ResistanceDetail struct {
	Value     float64 `json:"ohm"`
	Charge    float64 `json:"charge_ohm"`
	Discharge float64 `json:"discharge_ohm"`
	Milliohms float64 `json:"milliohm"`
}

// NewCellResult converts a domain result
func NewCellResult(r model.CellTestResult) CellResult {
	out := CellResult{
		Serial: r.Identifier.String(),
		OCV:    r.OCV,
		R0:     newResistance(r.R0),
		DCIR:   newResistance(r.DCIR),
	}
	if !r.TestedAt.IsZero() {
		t := r.TestedAt
		out.TestedAt = &t
	}
	return out
}

func newResistance(e model.ResistanceEstimate) ResistanceDetail {
	return ResistanceDetail{
		Value:     e.Value,
		Charge:    e.Charge,
		Discharge: e.Discharge,
		Milliohms: e.Milliohms(),
	}
}

// TestRunResponse represents the response from a test run
type TestRunResponse struct {
	ID       string              `json:"id"`
	Status   string              `json:"status"` // "completed" | "skipped" | "failed"
	Replaced bool                `json:"replaced,omitempty"`
	Result   *CellResult         `json:"result,omitempty"`
	Warnings []sequencer.Warning `json:"warnings,omitempty"`
	Elapsed  string              `json:"elapsed,omitempty"`
	Error    *ErrorDetail        `json:"error,omitempty"`
}

// ResultsResponse lists stored results
type ResultsResponse struct {
	Results []CellResult `json:"results"`
	Count   int          `json:"count"`
}

// RankResponse is a ranking, or matching groups when a group size was requested
type RankResponse struct {
	By       string        `json:"by"`
	Ranked   []CellResult  `json:"ranked,omitempty"`
	Groups   []GroupResult `json:"groups,omitempty"`
	Leftover []CellResult  `json:"leftover,omitempty"`
}

// GroupResult is one set of matched cells
type GroupResult struct {
	Cells  []CellResult `json:"cells"`
	Spread float64      `json:"spread"`
}

// StatsResponse wraps the batch summary
type StatsResponse struct {
	analysis.BatchSummary
}

// InstrumentResponse describes the connected source-measure unit
type InstrumentResponse struct {
	Driver   string              `json:"driver"`
	Address  string              `json:"address,omitempty"`
	Identity instrument.Identity `json:"identity"`
}

// ProfileInfo represents a protocol profile file
type ProfileInfo struct {
	ID       string       `json:"id"`
	Name     string       `json:"name"`
	File     string       `json:"file"`
	Protocol ProtocolInfo `json:"protocol"`
}

// ProtocolInfo is the JSON view of the protocol parameters
type ProtocolInfo struct {
	ChargeComplianceV    float64 `json:"charge_compliance_v"`
	DischargeComplianceV float64 `json:"discharge_compliance_v"`
	R0PulseCurrentA      float64 `json:"r0_pulse_current_a"`
	R0PulseWidthMs       float64 `json:"r0_pulse_width_ms"`
	DCIRCurrentA         float64 `json:"dcir_current_a"`
	DCIRDurationS        float64 `json:"dcir_duration_s"`
	SampleRateHz         float64 `json:"sample_rate_hz"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains error information
type ErrorDetail struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}
