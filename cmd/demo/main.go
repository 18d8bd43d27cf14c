package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"cell-tester/internal/analysis"
	"cell-tester/internal/config"
	"cell-tester/internal/instrument"
	"cell-tester/internal/model"
	"cell-tester/internal/sequencer"
	"cell-tester/internal/store"
)

// Demo:
// - Simulate a small batch of cells with slightly different voltages and resistances
// - Run the full protocol on each one without waiting for real dwell times
// - Record the results and print batch statistics and matched groups
func main() {
	cfgPath := flag.String("config", "", "Path to YAML config (optional; protocol section is used)")
	n := flag.Int("n", 8, "Number of cells to simulate")
	group := flag.Int("group", 2, "Cells per matched group")
	out := flag.String("out", "", "Optional path to write results (.csv or .db)")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		panic(err)
	}
	params := cfg.Protocol.ToModelParams()

	storeCfg := config.StoreConfig{Backend: "sqlite", Path: ":memory:"}
	if *out != "" {
		storeCfg = config.StoreConfig{Backend: "csv", Path: *out}
		if filepath.Ext(*out) == ".db" {
			storeCfg.Backend = "sqlite"
		}
	}
	st, err := store.Open(storeCfg)
	if err != nil {
		panic(err)
	}
	defer st.Close()

	ctx := context.Background()
	for i := 0; i < *n; i++ {
		id := model.CellIdentifier(fmt.Sprintf("DEMO-%03d", i+1))
		sim := simulatedCell(params, i)
		seq, err := sequencer.New(sim, params, sequencer.WithDelayer(instant{}))
		if err != nil {
			panic(err)
		}
		res, err := seq.Run(ctx, id)
		if err != nil {
			panic(err)
		}
		if err := store.Save(ctx, st, res.Result, true); err != nil {
			panic(err)
		}
		for _, w := range res.Warnings {
			fmt.Printf("%s: [WARNING] %s\n", id, w.Message)
		}
	}

	results, err := st.List(ctx)
	if err != nil {
		panic(err)
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SERIAL\tOCV (V)\tR0 (mΩ)\tDCIR (mΩ)")
	for _, r := range results {
		fmt.Fprintf(tw, "%s\t%.4f\t%.2f\t%.2f\n", r.Identifier, r.OCV, r.R0.Milliohms(), r.DCIR.Milliohms())
	}
	_ = tw.Flush()

	sum := analysis.Summarize(results)
	fmt.Printf("\nDCIR mean %.2f mΩ, std dev %.2f mΩ, spread %.2f mΩ\n",
		sum.DCIR.Mean*1000, sum.DCIR.StdDev*1000, sum.DCIR.Spread*1000)

	groups, leftover, err := analysis.MatchGroups(results, analysis.MetricDCIR, *group)
	if err != nil {
		panic(err)
	}
	for i, g := range groups {
		fmt.Printf("Group %d:", i+1)
		for _, c := range g.Cells {
			fmt.Printf(" %s", c.Identifier)
		}
		fmt.Printf(" (spread %.2f mΩ)\n", g.Spread*1000)
	}
	if len(leftover) > 0 {
		fmt.Printf("Unmatched: %d cell(s)\n", len(leftover))
	}
	if *out != "" {
		fmt.Printf("\nResults written to %s\n", *out)
	}
}

// simulatedCell spreads OCV and resistance across the batch so ranking has something to do.
func simulatedCell(p model.ProtocolParams, i int) *instrument.Simulator {
	sim := instrument.NewSimulator(p.SampleRate)
	ocv := 3.60 + 0.013*float64(i%7)
	r := 0.020 + 0.0035*float64((i*5)%9)
	sim.IdleVoltage = ocv
	sim.ChargeVoltage = ocv + r*p.R0PulseCurrent
	sim.DischargeVoltage = ocv - r*p.R0PulseCurrent
	return sim
}

type instant struct{}

func (instant) Wait(ctx context.Context, _ time.Duration) error { return ctx.Err() }
