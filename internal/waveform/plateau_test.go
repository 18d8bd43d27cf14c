package waveform

import (
	"bytes"
	"math"
	"path/filepath"
	"testing"

	"cell-tester/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func trace(samples ...float64) model.WaveformTrace {
	return model.WaveformTrace{SampleRate: 500000, Samples: samples}
}

func TestPlateauWindow(t *testing.T) {
	tests := []struct {
		n, start, end int
	}{
		{1, 0, 1},
		{2, 0, 1},
		{3, 0, 2},
		{4, 1, 3},
		{5, 1, 3},
		{7, 1, 5},
		{100, 25, 75},
		{1350, 337, 1012},
	}
	for _, tt := range tests {
		start, end := PlateauWindow(tt.n)
		assert.Equal(t, tt.start, start, "start for n=%d", tt.n)
		assert.Equal(t, tt.end, end, "end for n=%d", tt.n)
	}
}

func TestPlateauWindow_AlwaysNonEmptyAndInRange(t *testing.T) {
	for n := 1; n <= 2000; n++ {
		start, end := PlateauWindow(n)
		require.Equal(t, n/4, start)
		require.Equal(t, max(n/4+1, 3*n/4), end)
		require.LessOrEqual(t, end, n)
	}
}

func TestPlateauVoltage_UsesCentralHalf(t *testing.T) {
	// 100 samples: indices [25,75) hold the plateau, the rest are transients.
	s := make([]float64, 100)
	for i := range s {
		switch {
		case i < 25:
			s[i] = 9
		case i >= 75:
			s[i] = -9
		default:
			s[i] = 3.8
		}
	}
	v, err := PlateauVoltage(trace(s...))
	require.NoError(t, err)
	assert.InDelta(t, 3.8, v, 1e-12)
}

func TestPlateauVoltage_SmallTraces(t *testing.T) {
	v, err := PlateauVoltage(trace(3.75))
	require.NoError(t, err)
	assert.Equal(t, 3.75, v)

	v, err = PlateauVoltage(trace(1, 2, 3))
	require.NoError(t, err)
	assert.InDelta(t, 1.5, v, 1e-12, "n=3 keeps indices [0,2)")
}

func TestPlateauVoltage_EmptyIsAnError(t *testing.T) {
	v, err := PlateauVoltage(model.WaveformTrace{})
	assert.ErrorIs(t, err, ErrEmptyTrace)
	assert.Zero(t, v)

	_, err = Summarize(model.WaveformTrace{SampleRate: 1})
	assert.ErrorIs(t, err, ErrEmptyTrace)
}

func TestSummarize(t *testing.T) {
	s, err := Summarize(trace(3.7, 3.79, 3.80, 3.81, 3.80, 3.79, 3.75, 3.7))
	require.NoError(t, err)
	assert.Equal(t, 8, s.N)
	assert.Equal(t, 2, s.Start)
	assert.Equal(t, 6, s.End)
	assert.InDelta(t, 3.80, s.Plateau, 1e-12)
	assert.InDelta(t, 0.02, s.Ripple, 1e-12)
	assert.Equal(t, 3.7, s.Min)
	assert.Equal(t, 3.81, s.Max)
	assert.Contains(t, s.String(), "window=[2,6)")
}

func sine(n int) model.WaveformTrace {
	s := make([]float64, n)
	for i := range s {
		s[i] = 3.8 + 0.001*math.Sin(float64(i))
	}
	return trace(s...)
}

func TestRenderPlot(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, RenderPlot(&buf, sine(200), "R0 charge pulse", "svg"))
	assert.Contains(t, buf.String(), "<svg")

	assert.ErrorIs(t, RenderPlot(&buf, model.WaveformTrace{}, "empty", "svg"), ErrEmptyTrace)
}

func TestSavePlot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plots", "trace.png")
	require.NoError(t, SavePlot(sine(64), "trace", path))
	assert.FileExists(t, path)
}
