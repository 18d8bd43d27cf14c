package main

import (
	"fmt"
	"path/filepath"
	"strings"

	"cell-tester/internal/instrument"
	"cell-tester/internal/model"
	"cell-tester/internal/sequencer"
	"cell-tester/internal/station"
	"cell-tester/internal/waveform"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type stationFlags struct {
	plotDir string
}

func newStationCmd(a *app) *cobra.Command {
	var f stationFlags
	cmd := &cobra.Command{
		Use:     "test [results-file]",
		Aliases: []string{"station"},
		Short:   "Interactive test station: scan cells one after another",
		Long: `Reads cell serial numbers (barcode scanner or keyboard) and runs the full
protocol on each one. Existing results prompt for retest, skip or a new serial.
The first Ctrl+C finishes the current cell and exits; a second one aborts it.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				a.setStorePath(a.cfg, args[0])
			}
			return runStation(cmd, a, f)
		},
	}
	cmd.Flags().StringVar(&f.plotDir, "plot-dir", "", "Save every pulse waveform as a PNG in this directory")
	return cmd
}

func runStation(cmd *cobra.Command, a *app, f stationFlags) error {
	out := cmd.OutOrStdout()
	st, err := a.openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	stop, abort, release := interruptContexts(cmd.Context(), cmd.ErrOrStderr())
	defer release()

	port, err := a.openPort(abort)
	if err != nil {
		return err
	}
	return instrument.Use(port, func(p instrument.Port) error {
		id, err := p.ConnectionCheck(abort)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Connected to %s\n", id)
		fmt.Fprintf(out, "Results file: %s (%s)\n", a.cfg.Store.Path, a.cfg.Store.Backend)

		var seqOpts []sequencer.Option
		if f.plotDir != "" {
			seqOpts = append(seqOpts, sequencer.WithTraceSink(plotSink(f.plotDir, a.log)))
		}
		seq, err := a.newSequencer(p, seqOpts...)
		if err != nil {
			return err
		}

		opts := []station.Option{station.WithLogger(a.log), station.WithAbort(abort)}
		if b, ok := p.(instrument.Beeper); ok {
			opts = append(opts, station.WithBeeper(b))
		}
		sum, err := station.New(seq, st, cmd.InOrStdin(), out, opts...).Run(stop)
		fmt.Fprintf(out, "\nSession: %d tested, %d skipped, %d failed\n", sum.Tested, sum.Skipped, sum.Failed)
		return err
	})
}

// plotSink saves each trace as <dir>/<serial>_<state>.png. Plot failures are logged only.
func plotSink(dir string, log *zap.Logger) sequencer.TraceSink {
	return func(id model.CellIdentifier, st sequencer.State, trace model.WaveformTrace) {
		path := filepath.Join(dir, fmt.Sprintf("%s_%s.png", fileSafe(id.String()), st))
		title := fmt.Sprintf("%s %s", id, st)
		if err := waveform.SavePlot(trace, title, path); err != nil {
			log.Warn("plot failed", zap.String("path", path), zap.Error(err))
			return
		}
		log.Debug("plot saved", zap.String("path", path))
	}
}

func fileSafe(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		default:
			return '_'
		}
	}, s)
}
