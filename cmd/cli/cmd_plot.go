package main

import (
	"fmt"
	"path/filepath"

	"cell-tester/internal/instrument"
	"cell-tester/internal/model"
	"cell-tester/internal/sequencer"
	"cell-tester/internal/waveform"

	"github.com/spf13/cobra"
)

type plotFlags struct {
	out    string
	format string
}

func newPlotCmd(a *app) *cobra.Command {
	var f plotFlags
	cmd := &cobra.Command{
		Use:   "plot SERIAL",
		Short: "Run the protocol once and plot both R0 pulse waveforms",
		Long: `Diagnostic run: the full protocol is executed on the cell but nothing is
recorded. Each pulse capture is summarized and written as an image with its
plateau window marked.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := model.CellIdentifier(args[0])
			if err := id.Validate(); err != nil {
				return err
			}
			switch f.format {
			case "png", "svg", "pdf":
			default:
				return fmt.Errorf("--format: want png, svg or pdf, got %q", f.format)
			}
			return runPlot(cmd, a, id, f)
		},
	}
	cmd.Flags().StringVarP(&f.out, "out", "o", "plots", "Output directory")
	cmd.Flags().StringVar(&f.format, "format", "png", "Image format: png, svg or pdf")
	return cmd
}

func runPlot(cmd *cobra.Command, a *app, id model.CellIdentifier, f plotFlags) error {
	out := cmd.OutOrStdout()
	_, abort, release := interruptContexts(cmd.Context(), cmd.ErrOrStderr())
	defer release()

	port, err := a.openPort(abort)
	if err != nil {
		return err
	}
	return instrument.Use(port, func(p instrument.Port) error {
		var plotErr error
		sink := func(id model.CellIdentifier, st sequencer.State, trace model.WaveformTrace) {
			path := filepath.Join(f.out, fmt.Sprintf("%s_%s.%s", fileSafe(id.String()), st, f.format))
			sum, err := waveform.Summarize(trace)
			if err != nil {
				fmt.Fprintf(out, "%-12s %v\n", st, err)
				return
			}
			fmt.Fprintf(out, "%-12s %s\n", st, sum)
			if err := waveform.SavePlot(trace, fmt.Sprintf("%s %s", id, st), path); err != nil && plotErr == nil {
				plotErr = fmt.Errorf("plot %s: %w", st, err)
				return
			}
			fmt.Fprintf(out, "%-12s saved %s\n", "", path)
		}
		seq, err := a.newSequencer(p, sequencer.WithTraceSink(sink))
		if err != nil {
			return err
		}
		res, err := seq.Run(abort, id)
		if err != nil {
			return err
		}
		r := res.Result
		fmt.Fprintf(out, "OCV %.4f V  R0 %.2f mΩ (charge %.2f, discharge %.2f)  DCIR %.2f mΩ\n",
			r.OCV, r.R0.Milliohms(), r.R0.Charge*1000, r.R0.Discharge*1000, r.DCIR.Milliohms())
		for _, w := range res.Warnings {
			fmt.Fprintf(out, "[WARNING] %s\n", w.Message)
		}
		return plotErr
	})
}
