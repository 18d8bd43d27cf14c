package main

import (
	"fmt"

	"cell-tester/internal/duplicate"
	"cell-tester/internal/instrument"
	"cell-tester/internal/model"
	"cell-tester/internal/store"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type runFlags struct {
	onDuplicate string
}

func newRunCmd(a *app) *cobra.Command {
	var f runFlags
	cmd := &cobra.Command{
		Use:   "run SERIAL...",
		Short: "Test the given cells without prompting",
		Long: `Runs the protocol on each serial in order. Cells that already have a result
are skipped or retested according to --on-duplicate. A failed cell does not stop
the batch; the command exits non-zero if any cell failed.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			choice, err := parseDuplicateFlag(f.onDuplicate)
			if err != nil {
				return err
			}
			ids := make([]model.CellIdentifier, 0, len(args))
			for _, arg := range args {
				id := model.CellIdentifier(arg)
				if err := id.Validate(); err != nil {
					return fmt.Errorf("serial %q: %w", arg, err)
				}
				ids = append(ids, id)
			}
			return runBatch(cmd, a, ids, choice)
		},
	}
	cmd.Flags().StringVar(&f.onDuplicate, "on-duplicate", "skip", "What to do with cells already tested: skip or retest")
	return cmd
}

func parseDuplicateFlag(s string) (duplicate.Choice, error) {
	c, err := duplicate.ParseChoice(s)
	if err != nil || c == duplicate.NewIdentifier {
		return 0, fmt.Errorf("--on-duplicate: want skip or retest, got %q", s)
	}
	return c, nil
}

func runBatch(cmd *cobra.Command, a *app, ids []model.CellIdentifier, choice duplicate.Choice) error {
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
	var failed int
	err = instrument.Use(port, func(p instrument.Port) error {
		seq, err := a.newSequencer(p)
		if err != nil {
			return err
		}
		for _, id := range ids {
			if stop.Err() != nil {
				fmt.Fprintln(out, "Stopped before", id)
				return nil
			}
			d, err := duplicate.Resolve(abort, id, st, duplicate.Always(choice))
			if err != nil {
				return err
			}
			if d.Kind == duplicate.Skip {
				fmt.Fprintf(out, "%-16s skipped (already tested)\n", id)
				continue
			}
			res, err := seq.Run(abort, d.Identifier)
			if err != nil {
				failed++
				fmt.Fprintf(out, "%-16s FAILED: %v\n", id, err)
				a.log.Error("cell failed", zap.String("serial", id.String()), zap.Error(err))
				if abort.Err() != nil {
					return abort.Err()
				}
				continue
			}
			if err := store.Save(abort, st, res.Result, d.Overwrite); err != nil {
				return fmt.Errorf("save %s: %w", id, err)
			}
			r := res.Result
			fmt.Fprintf(out, "%-16s OCV %.4f V  R0 %.2f mΩ  DCIR %.2f mΩ\n", id, r.OCV, r.R0.Milliohms(), r.DCIR.Milliohms())
			for _, w := range res.Warnings {
				fmt.Fprintf(out, "%-16s [WARNING] %s\n", "", w.Message)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d cells failed", failed, len(ids))
	}
	return nil
}
