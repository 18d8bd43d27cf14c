package station

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"cell-tester/internal/instrument"
	"cell-tester/internal/model"
	"cell-tester/internal/sequencer"
	"cell-tester/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type noDelay struct{}

func (noDelay) Wait(ctx context.Context, _ time.Duration) error { return ctx.Err() }

type fixture struct {
	sim   *instrument.Simulator
	store *store.CSVStore
	out   *bytes.Buffer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st, err := store.OpenCSV(filepath.Join(t.TempDir(), "cells.csv"))
	require.NoError(t, err)
	return &fixture{
		sim:   instrument.NewSimulator(model.DefaultProtocolParams().SampleRate),
		store: st,
		out:   &bytes.Buffer{},
	}
}

func (f *fixture) run(t *testing.T, ctx context.Context, input string) Summary {
	t.Helper()
	seq, err := sequencer.New(f.sim, model.DefaultProtocolParams(), sequencer.WithDelayer(noDelay{}))
	require.NoError(t, err)
	s := New(seq, f.store, strings.NewReader(input), f.out, WithBeeper(f.sim))
	sum, err := s.Run(ctx)
	require.NoError(t, err)
	return sum
}

func (f *fixture) seed(t *testing.T, id string, ocv float64) {
	t.Helper()
	require.NoError(t, f.store.Append(context.Background(), model.CellTestResult{
		Identifier: model.CellIdentifier(id),
		OCV:        ocv,
		R0:         model.NewResistanceEstimate(0.05, 0.05),
		DCIR:       model.NewResistanceEstimate(0.06, 0.06),
	}))
}

func (f *fixture) list(t *testing.T) []model.CellTestResult {
	t.Helper()
	all, err := f.store.List(context.Background())
	require.NoError(t, err)
	return all
}

func TestRun_TestsCellsUntilQuit(t *testing.T) {
	f := newFixture(t)
	sum := f.run(t, context.Background(), "CELL-001\n\nCELL-002\nq\nCELL-003\n")

	assert.Equal(t, Summary{Tested: 2}, sum)
	all := f.list(t)
	require.Len(t, all, 2)
	assert.Equal(t, model.CellIdentifier("CELL-001"), all[0].Identifier)
	assert.InDelta(t, 3.7, all[0].OCV, 1e-9)
	assert.Equal(t, 2, f.sim.Beeps())
	assert.False(t, f.sim.OutputEnabled())

	out := f.out.String()
	assert.Contains(t, out, "TEST SUMMARY")
	assert.Contains(t, out, "100.00 mΩ")
	assert.Contains(t, out, "(empty input")
	assert.Contains(t, out, "Exiting...")
}

func TestRun_EndOfInputStops(t *testing.T) {
	f := newFixture(t)
	sum := f.run(t, context.Background(), "CELL-001")
	assert.Equal(t, Summary{Tested: 1}, sum)
}

func TestRun_DuplicateRetestOverwrites(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "A1", 3.0)

	sum := f.run(t, context.Background(), "A1\nr\nq\n")
	assert.Equal(t, Summary{Tested: 1}, sum)

	all := f.list(t)
	require.Len(t, all, 1)
	assert.InDelta(t, 3.7, all[0].OCV, 1e-9)
	assert.Contains(t, f.out.String(), "DUPLICATE DETECTED: A1")
	assert.Contains(t, f.out.String(), "3.0000 V")
}

func TestRun_DuplicateSkipKeepsPrior(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "A1", 3.0)

	sum := f.run(t, context.Background(), "A1\nS\n")
	assert.Equal(t, Summary{Skipped: 1}, sum)

	all := f.list(t)
	require.Len(t, all, 1)
	assert.Equal(t, 3.0, all[0].OCV)
	assert.Empty(t, f.sim.Calls(), "skipped cell must not touch the instrument")
}

func TestRun_DuplicateNewIdentifier(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "A1", 3.0)

	sum := f.run(t, context.Background(), "A1\nx\nN\nA2\nq\n")
	assert.Equal(t, Summary{Tested: 1}, sum)
	assert.Contains(t, f.out.String(), "invalid choice")

	all := f.list(t)
	require.Len(t, all, 2)
	assert.Equal(t, model.CellIdentifier("A2"), all[1].Identifier)
}

func TestRun_FailedCellContinues(t *testing.T) {
	f := newFixture(t)
	f.sim.EmptyTrace = true

	sum := f.run(t, context.Background(), "BAD-1\nBAD-2\nq\n")
	assert.Equal(t, Summary{Failed: 2}, sum)
	assert.Empty(t, f.list(t))
	assert.Contains(t, f.out.String(), "Test failed for cell BAD-1")
	assert.Zero(t, f.sim.Beeps())
	assert.False(t, f.sim.OutputEnabled())
}

// funcRunner adapts a function to Runner.
type funcRunner func(ctx context.Context, id model.CellIdentifier) (*sequencer.Outcome, error)

func (f funcRunner) Run(ctx context.Context, id model.CellIdentifier) (*sequencer.Outcome, error) {
	return f(ctx, id)
}

func okOutcome(id model.CellIdentifier) *sequencer.Outcome {
	return &sequencer.Outcome{Result: model.CellTestResult{Identifier: id, OCV: 3.7}}
}

func TestRun_StopFinishesCurrentCell(t *testing.T) {
	f := newFixture(t)
	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	var ran []model.CellIdentifier
	runner := funcRunner(func(ctx context.Context, id model.CellIdentifier) (*sequencer.Outcome, error) {
		ran = append(ran, id)
		stop()
		require.NoError(t, ctx.Err(), "measurement must not see the stop request")
		return okOutcome(id), nil
	})
	s := New(runner, f.store, strings.NewReader("C1\nC2\nC3\n"), f.out)
	sum, err := s.Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, Summary{Tested: 1}, sum)
	assert.Equal(t, []model.CellIdentifier{"C1"}, ran)
	assert.Len(t, f.list(t), 1)
}

func TestRun_AbortEndsSession(t *testing.T) {
	f := newFixture(t)
	abort, cancel := context.WithCancel(context.Background())
	defer cancel()

	runner := funcRunner(func(ctx context.Context, id model.CellIdentifier) (*sequencer.Outcome, error) {
		cancel()
		return nil, ctx.Err()
	})
	s := New(runner, f.store, strings.NewReader("C1\nC2\n"), f.out, WithAbort(abort))
	sum, err := s.Run(context.Background())

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, Summary{Failed: 1}, sum)
}

type brokenStore struct{ store.Store }

func (brokenStore) Lookup(context.Context, model.CellIdentifier) (*model.CellTestResult, bool, error) {
	return nil, false, errors.New("locked")
}

func TestRun_LookupErrorIsReported(t *testing.T) {
	f := newFixture(t)
	runner := funcRunner(func(ctx context.Context, id model.CellIdentifier) (*sequencer.Outcome, error) {
		t.Fatal("runner must not be called")
		return nil, nil
	})
	s := New(runner, brokenStore{f.store}, strings.NewReader("C1\nq\n"), f.out)
	sum, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Summary{}, sum)
	assert.Contains(t, f.out.String(), "locked")
}

func TestRun_CancelWhileWaitingForInput(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := New(funcRunner(nil), f.store, strings.NewReader("C1\n"), f.out)
	sum, err := s.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, Summary{}, sum)
}
