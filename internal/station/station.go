// Package station is the operator loop: scan a cell, resolve duplicates, run the
// protocol and record the result, one cell after another.
package station

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"cell-tester/internal/duplicate"
	"cell-tester/internal/instrument"
	"cell-tester/internal/model"
	"cell-tester/internal/sequencer"
	"cell-tester/internal/store"

	"go.uber.org/zap"
)

// Runner runs the measurement protocol for one cell.
type Runner interface {
	Run(ctx context.Context, id model.CellIdentifier) (*sequencer.Outcome, error)
}

// Summary counts what happened during a session.
type Summary struct {
	Tested  int
	Skipped int
	Failed  int
}

type Station struct {
	runner Runner
	store  store.Store
	beeper instrument.Beeper
	in     io.Reader
	out    io.Writer
	log    *zap.Logger
	abort  context.Context
}

type Option func(*Station)

// WithBeeper enables the audible confirmation after a saved result.
func WithBeeper(b instrument.Beeper) Option { return func(s *Station) { s.beeper = b } }

func WithLogger(l *zap.Logger) Option { return func(s *Station) { s.log = l } }

// WithAbort sets the context measurements run under. Cancelling it aborts the cell in
// progress; cancelling the context given to Run only stops before the next cell.
func WithAbort(ctx context.Context) Option { return func(s *Station) { s.abort = ctx } }

func New(runner Runner, st store.Store, in io.Reader, out io.Writer, opts ...Option) *Station {
	s := &Station{
		runner: runner,
		store:  st,
		in:     in,
		out:    out,
		log:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.Named("station")
	return s
}

// Run reads identifiers until "q", end of input or ctx is done. A failed cell is
// reported and the loop continues with the next one.
func (s *Station) Run(ctx context.Context) (Summary, error) {
	var sum Summary
	abort := s.abort
	if abort == nil {
		abort = context.WithoutCancel(ctx)
	}
	in := newLineReader(s.in)
	defer in.stop()
	prompter := &consolePrompter{ctx: ctx, in: in, out: s.out}

	fmt.Fprintln(s.out, rule('='))
	fmt.Fprintln(s.out, "CELL TESTING READY")
	fmt.Fprintln(s.out, rule('='))
	fmt.Fprintln(s.out, "Scan a cell barcode or type its serial number to begin.")
	fmt.Fprintln(s.out, "Type 'q' or press Ctrl+C to quit.")

	for {
		fmt.Fprint(s.out, "\nCell serial number: ")
		line, err := in.next(ctx)
		if err != nil {
			return sum, ignoreStop(err)
		}
		if strings.EqualFold(line, "q") {
			fmt.Fprintln(s.out, "Exiting...")
			return sum, nil
		}
		if line == "" {
			fmt.Fprintln(s.out, "  (empty input - scan a barcode or type a serial number)")
			continue
		}

		d, err := duplicate.Resolve(ctx, model.CellIdentifier(line), s.store, prompter)
		if err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return sum, ignoreStop(err)
			}
			fmt.Fprintf(s.out, "[ERROR] %v\n", err)
			continue
		}
		if d.Kind == duplicate.Skip {
			sum.Skipped++
			fmt.Fprintln(s.out, "[SKIP] Test cancelled. Enter a new serial number.")
			continue
		}

		if err := s.testCell(abort, d); err != nil {
			sum.Failed++
			fmt.Fprintf(s.out, "\n[ERROR] Test failed for cell %s: %v\n", d.Identifier, err)
			fmt.Fprintln(s.out, "        Check connections and try again.")
			if abort.Err() != nil {
				return sum, abort.Err()
			}
			continue
		}
		sum.Tested++

		if ctx.Err() != nil {
			fmt.Fprintln(s.out, "Stop requested, exiting after this cell.")
			return sum, nil
		}
	}
}

func (s *Station) testCell(ctx context.Context, d duplicate.Decision) error {
	fmt.Fprintln(s.out)
	fmt.Fprintln(s.out, rule('='))
	fmt.Fprintf(s.out, "CELL TEST: %s\n", d.Identifier)
	fmt.Fprintln(s.out, rule('='))

	out, err := s.runner.Run(ctx, d.Identifier)
	if err != nil {
		return err
	}
	r := out.Result
	if err := store.Save(ctx, s.store, r, d.Overwrite); err != nil {
		return fmt.Errorf("save result: %w", err)
	}
	if d.Overwrite {
		fmt.Fprintf(s.out, "Replaced previous result for %s\n", d.Identifier)
	}

	fmt.Fprintln(s.out, rule('='))
	fmt.Fprintln(s.out, "TEST SUMMARY")
	fmt.Fprintln(s.out, rule('='))
	fmt.Fprintf(s.out, "  Serial Number : %s\n", r.Identifier)
	fmt.Fprintf(s.out, "  OCV           : %.4f V\n", r.OCV)
	fmt.Fprintf(s.out, "  R0            : %.2f mΩ\n", r.R0.Milliohms())
	fmt.Fprintf(s.out, "  DCIR          : %.2f mΩ\n", r.DCIR.Milliohms())
	for _, w := range out.Warnings {
		fmt.Fprintf(s.out, "  [WARNING] %s\n", w.Message)
	}
	fmt.Fprintln(s.out, rule('='))

	s.log.Info("result saved", zap.String("serial", r.Identifier.String()), zap.Bool("overwrite", d.Overwrite))
	if s.beeper != nil {
		if err := s.beeper.Beep(ctx, true); err != nil {
			s.log.Warn("beep failed", zap.Error(err))
		}
	}
	return nil
}

// ignoreStop turns the normal ways of ending a session into a nil error.
func ignoreStop(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
