// Package waveform reduces a digitized pulse capture to a single loaded-state voltage.
//
// Current pulses into a cell produce rise and fall transients at the edges (source slew,
// contact inductance and capacitance). The central half of the capture is taken as the
// plateau: for n samples the window is [n/4, max(n/4+1, 3n/4)).
package waveform

import (
	"errors"
	"fmt"
	"math"

	"cell-tester/internal/model"
)

// ErrEmptyTrace means an acquisition returned no samples. It must never be read as 0 V.
var ErrEmptyTrace = errors.New("empty waveform trace")

// PlateauWindow returns the half-open sample range used for the plateau average.
// n must be > 0.
func PlateauWindow(n int) (start, end int) {
	start = n / 4
	end = (3 * n) / 4
	if end < start+1 {
		end = start + 1
	}
	return start, end
}

// PlateauVoltage is the arithmetic mean of the plateau window.
func PlateauVoltage(trace model.WaveformTrace) (float64, error) {
	n := trace.Len()
	if n == 0 {
		return 0, ErrEmptyTrace
	}
	start, end := PlateauWindow(n)
	sum := 0.0
	for _, v := range trace.Samples[start:end] {
		sum += v
	}
	return sum / float64(end-start), nil
}

// Summary describes a trace for logs and plots.
type Summary struct {
	N       int
	Start   int
	End     int
	Plateau float64
	Min     float64
	Max     float64
	// Ripple is the peak-to-peak spread inside the plateau window.
	Ripple float64
}

func Summarize(trace model.WaveformTrace) (Summary, error) {
	plateau, err := PlateauVoltage(trace)
	if err != nil {
		return Summary{}, err
	}
	start, end := PlateauWindow(trace.Len())
	s := Summary{
		N:       trace.Len(),
		Start:   start,
		End:     end,
		Plateau: plateau,
		Min:     math.Inf(1),
		Max:     math.Inf(-1),
	}
	lo, hi := math.Inf(1), math.Inf(-1)
	for i, v := range trace.Samples {
		s.Min = math.Min(s.Min, v)
		s.Max = math.Max(s.Max, v)
		if i >= start && i < end {
			lo = math.Min(lo, v)
			hi = math.Max(hi, v)
		}
	}
	s.Ripple = hi - lo
	return s, nil
}

func (s Summary) String() string {
	return fmt.Sprintf("n=%d window=[%d,%d) plateau=%.4fV min=%.4fV max=%.4fV ripple=%.2fmV",
		s.N, s.Start, s.End, s.Plateau, s.Min, s.Max, s.Ripple*1000)
}
