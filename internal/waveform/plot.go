package waveform

import (
	"fmt"
	"image/color"
	"io"
	"os"
	"path/filepath"

	"cell-tester/internal/model"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

const (
	plotWidth  = 8 * vg.Inch
	plotHeight = 4 * vg.Inch
)

func newPlot(trace model.WaveformTrace, title string) (*plot.Plot, error) {
	sum, err := Summarize(trace)
	if err != nil {
		return nil, err
	}

	// X axis in milliseconds when the rate is known, sample index otherwise.
	xAt := func(i int) float64 { return float64(i) }
	xLabel := "sample"
	if trace.SampleRate > 0 {
		xAt = func(i int) float64 { return float64(i) / trace.SampleRate * 1000 }
		xLabel = "time (ms)"
	}

	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = xLabel
	p.Y.Label.Text = "voltage (V)"
	p.Add(plotter.NewGrid())

	pts := make(plotter.XYs, trace.Len())
	for i, v := range trace.Samples {
		pts[i].X = xAt(i)
		pts[i].Y = v
	}
	raw, err := plotter.NewLine(pts)
	if err != nil {
		return nil, fmt.Errorf("trace line: %w", err)
	}
	raw.Color = color.RGBA{B: 200, A: 255}

	window := plotter.XYs{
		{X: xAt(sum.Start), Y: sum.Plateau},
		{X: xAt(sum.End - 1), Y: sum.Plateau},
	}
	plateau, err := plotter.NewLine(window)
	if err != nil {
		return nil, fmt.Errorf("plateau line: %w", err)
	}
	plateau.Color = color.RGBA{R: 220, A: 255}
	plateau.Width = vg.Points(2)

	p.Add(raw, plateau)
	p.Legend.Add("samples", raw)
	p.Legend.Add(fmt.Sprintf("plateau %.4f V", sum.Plateau), plateau)
	p.Legend.Top = true
	return p, nil
}

// SavePlot writes the trace with its plateau window to path; the format follows the
// extension (.png, .svg, .pdf).
func SavePlot(trace model.WaveformTrace, title, path string) error {
	p, err := newPlot(trace, title)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return p.Save(plotWidth, plotHeight, path)
}

// RenderPlot writes the plot to w in the given format ("png", "svg", ...).
func RenderPlot(w io.Writer, trace model.WaveformTrace, title, format string) error {
	p, err := newPlot(trace, title)
	if err != nil {
		return err
	}
	wt, err := p.WriterTo(plotWidth, plotHeight, format)
	if err != nil {
		return err
	}
	_, err = wt.WriteTo(w)
	return err
}
