package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"cell-tester/internal/analysis"
	"cell-tester/internal/api/models"
	"cell-tester/internal/model"

	"github.com/spf13/cobra"
)

func newResultsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "results",
		Short: "Inspect and manage recorded results",
	}
	cmd.AddCommand(
		newResultsListCmd(a),
		newResultsStatsCmd(a),
		newResultsRankCmd(a),
		newResultsDeleteCmd(a),
	)
	return cmd
}

// withResults opens the store and hands its full listing to fn.
func withResults(cmd *cobra.Command, a *app, fn func([]model.CellTestResult) error) error {
	st, err := a.openStore()
	if err != nil {
		return err
	}
	defer st.Close()
	rs, err := st.List(cmd.Context())
	if err != nil {
		return err
	}
	return fn(rs)
}

func newResultsListCmd(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Print all results",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withResults(cmd, a, func(rs []model.CellTestResult) error {
				if asJSON {
					out := make([]models.CellResult, 0, len(rs))
					for _, r := range rs {
						out = append(out, models.NewCellResult(r))
					}
					return writeJSON(cmd.OutOrStdout(), out)
				}
				return printResults(cmd.OutOrStdout(), rs)
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "JSON output")
	return cmd
}

func newResultsStatsCmd(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Batch statistics for OCV, R0 and DCIR",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withResults(cmd, a, func(rs []model.CellTestResult) error {
				sum := analysis.Summarize(rs)
				if asJSON {
					return writeJSON(cmd.OutOrStdout(), sum)
				}
				printStats(cmd.OutOrStdout(), sum)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "JSON output")
	return cmd
}

func newResultsRankCmd(a *app) *cobra.Command {
	var (
		by        string
		limit     int
		groupSize int
	)
	cmd := &cobra.Command{
		Use:   "rank",
		Short: "Order cells by a metric, or cut them into matched groups",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, err := analysis.ParseMetric(by)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			return withResults(cmd, a, func(rs []model.CellTestResult) error {
				if groupSize > 0 {
					groups, leftover, err := analysis.MatchGroups(rs, m, groupSize)
					if err != nil {
						return err
					}
					for i, g := range groups {
						fmt.Fprintf(out, "Group %d (%s spread %s)\n", i+1, m, formatMetric(m, g.Spread))
						if err := printResults(out, g.Cells); err != nil {
							return err
						}
					}
					if len(leftover) > 0 {
						fmt.Fprintf(out, "Unmatched (%d)\n", len(leftover))
						return printResults(out, leftover)
					}
					return nil
				}
				ranked := analysis.Rank(rs, m)
				if limit > 0 && limit < len(ranked) {
					ranked = ranked[:limit]
				}
				return printResults(out, ranked)
			})
		},
	}
	cmd.Flags().StringVar(&by, "by", "dcir", "Metric: ocv, r0 or dcir")
	cmd.Flags().IntVar(&limit, "limit", 0, "Show only the first N cells")
	cmd.Flags().IntVar(&groupSize, "group-size", 0, "Cut the ranking into groups of N cells")
	return cmd
}

func newResultsDeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete SERIAL...",
		Short: "Remove recorded results",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := a.openStore()
			if err != nil {
				return err
			}
			defer st.Close()
			var missing int
			for _, arg := range args {
				ok, err := st.Delete(cmd.Context(), model.CellIdentifier(arg))
				if err != nil {
					return err
				}
				if !ok {
					missing++
					fmt.Fprintf(cmd.OutOrStdout(), "%s: not found\n", arg)
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: deleted\n", arg)
			}
			if missing > 0 {
				return fmt.Errorf("%d serial(s) not found", missing)
			}
			return nil
		},
	}
}

func printResults(w io.Writer, rs []model.CellTestResult) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SERIAL\tOCV (V)\tR0 (mΩ)\tDCIR (mΩ)\tTESTED")
	for _, r := range rs {
		tested := "-"
		if !r.TestedAt.IsZero() {
			tested = r.TestedAt.Local().Format(time.DateTime)
		}
		fmt.Fprintf(tw, "%s\t%.4f\t%.2f\t%.2f\t%s\n", r.Identifier, r.OCV, r.R0.Milliohms(), r.DCIR.Milliohms(), tested)
	}
	return tw.Flush()
}

func printStats(w io.Writer, sum analysis.BatchSummary) {
	fmt.Fprintf(w, "Cells: %d\n", sum.Count)
	if sum.Count == 0 {
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "METRIC\tMIN\tMEAN\tMAX\tSTDDEV\tP05-P95 SPREAD")
	for _, s := range []analysis.Stats{sum.OCV, sum.R0, sum.DCIR} {
		m := s.Metric
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", m,
			formatMetric(m, s.Min), formatMetric(m, s.Mean), formatMetric(m, s.Max),
			formatMetric(m, s.StdDev), formatMetric(m, s.Spread))
	}
	_ = tw.Flush()
}

// formatMetric prints volts for OCV and milliohms for resistances.
func formatMetric(m analysis.Metric, v float64) string {
	if m == analysis.MetricOCV {
		return fmt.Sprintf("%.4f V", v)
	}
	return fmt.Sprintf("%.2f mΩ", v*1000)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
