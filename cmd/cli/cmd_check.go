package main

import (
	"fmt"

	"cell-tester/internal/instrument"

	"github.com/spf13/cobra"
)

func newCheckCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Connect to the instrument and print its identity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			port, err := a.openPort(ctx)
			if err != nil {
				return err
			}
			return instrument.Use(port, func(p instrument.Port) error {
				id, err := p.ConnectionCheck(ctx)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintln(out, "Instrument connected")
				fmt.Fprintf(out, "  Driver       : %s\n", a.cfg.Instrument.Driver)
				if a.cfg.Instrument.Driver != "sim" {
					fmt.Fprintf(out, "  Address      : %s\n", a.cfg.Instrument.Address)
				}
				if id.Model == "" {
					fmt.Fprintf(out, "  Identity     : %s\n", id.Raw)
					return nil
				}
				fmt.Fprintf(out, "  Manufacturer : %s\n", id.Manufacturer)
				fmt.Fprintf(out, "  Model        : %s\n", id.Model)
				fmt.Fprintf(out, "  Serial       : %s\n", id.Serial)
				fmt.Fprintf(out, "  Firmware     : %s\n", id.Firmware)
				return nil
			})
		},
	}
}
