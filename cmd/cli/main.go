package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// version is set at build time via -ldflags.
var version = "dev"

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "cell-tester",
		Short: "OCV, R0 and DCIR characterization of lithium-ion cells on a Keithley 2461",
		Long: `cell-tester drives a source-measure unit through a fixed protocol per cell:
open-circuit voltage, bidirectional short-pulse resistance (R0) and bidirectional
sustained-current resistance (DCIR). Results are recorded one row per cell.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			HiddenDefaultCmd: true,
		},
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return a.setup()
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			a.close()
		},
	}

	f := root.PersistentFlags()
	f.StringVarP(&a.flags.configPath, "config", "c", "", "Path to YAML config (defaults apply when empty)")
	f.BoolVarP(&a.flags.verbose, "verbose", "v", false, "Debug logging")
	f.StringVar(&a.flags.logFormat, "log-format", "console", "Log encoding: console or json")
	f.StringVar(&a.flags.driver, "driver", "", "Instrument driver: sim or scpi")
	f.BoolVar(&a.flags.mock, "mock", false, "Use the simulated instrument (same as --driver sim)")
	f.StringVar(&a.flags.address, "address", "", "Instrument address host:port for the scpi driver")
	f.StringVar(&a.flags.terminals, "terminals", "", "Instrument terminals: front or rear")
	f.StringVar(&a.flags.storeBackend, "store", "", "Result store backend: csv or sqlite")
	f.StringVar(&a.flags.storePath, "store-path", "", "Result file path")

	root.AddCommand(
		newStationCmd(a),
		newCheckCmd(a),
		newRunCmd(a),
		newResultsCmd(a),
		newPlotCmd(a),
		newServeCmd(a),
	)
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
