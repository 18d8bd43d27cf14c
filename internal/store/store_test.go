package store

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"cell-tester/internal/config"
	"cell-tester/internal/model"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func result(id string, ocv float64) model.CellTestResult {
	return model.CellTestResult{
		Identifier: model.CellIdentifier(id),
		OCV:        ocv,
		R0:         model.NewResistanceEstimate(0.0123, 0.0131),
		DCIR:       model.NewResistanceEstimate(0.0201, 0.0219),
		TestedAt:   time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC),
	}
}

// backends runs fn against a fresh instance of every store implementation.
func backends(t *testing.T, fn func(t *testing.T, s Store)) {
	t.Run("csv", func(t *testing.T) {
		s, err := OpenCSV(filepath.Join(t.TempDir(), "out", "cells.csv"))
		require.NoError(t, err)
		t.Cleanup(func() { s.Close() })
		fn(t, s)
	})
	t.Run("sqlite", func(t *testing.T) {
		s, err := OpenSQL(filepath.Join(t.TempDir(), "cells.db"))
		require.NoError(t, err)
		t.Cleanup(func() { s.Close() })
		fn(t, s)
	})
}

// csvLossy drops what the CSV format does not store.
var csvLossy = cmpopts.IgnoreFields(model.CellTestResult{}, "TestedAt")

func TestStore_AppendLookup(t *testing.T) {
	backends(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		_, found, err := s.Lookup(ctx, "A1")
		require.NoError(t, err)
		assert.False(t, found)

		want := result("A1", 3.6512)
		require.NoError(t, s.Append(ctx, want))

		got, found, err := s.Lookup(ctx, "A1")
		require.NoError(t, err)
		require.True(t, found)
		if diff := cmp.Diff(want, *got, csvLossy); diff != "" {
			t.Errorf("lookup mismatch (-want +got):\n%s", diff)
		}
	})
}

func TestStore_AppendRejectsDuplicate(t *testing.T) {
	backends(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		require.NoError(t, s.Append(ctx, result("A1", 3.6)))
		err := s.Append(ctx, result("A1", 3.7))
		assert.ErrorIs(t, err, ErrExists)
	})
}

func TestStore_ReplaceLeavesExactlyOneRecord(t *testing.T) {
	backends(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		require.NoError(t, s.Append(ctx, result("A1", 3.6)))
		require.NoError(t, s.Append(ctx, result("A2", 3.6)))

		require.NoError(t, Save(ctx, s, result("A1", 3.9), true))

		all, err := s.List(ctx)
		require.NoError(t, err)
		var a1 []model.CellTestResult
		for _, r := range all {
			if r.Identifier == "A1" {
				a1 = append(a1, r)
			}
		}
		require.Len(t, a1, 1)
		assert.Equal(t, 3.9, a1[0].OCV)
		assert.Len(t, all, 2)
	})
}

func TestStore_ReplaceWithoutPrior(t *testing.T) {
	backends(t, func(t *testing.T, s Store) {
		require.NoError(t, Replace(context.Background(), s, result("B1", 3.7)))
		_, found, err := s.Lookup(context.Background(), "B1")
		require.NoError(t, err)
		assert.True(t, found)
	})
}

func TestStore_Delete(t *testing.T) {
	backends(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		require.NoError(t, s.Append(ctx, result("A1", 3.6)))

		removed, err := s.Delete(ctx, "A1")
		require.NoError(t, err)
		assert.True(t, removed)

		removed, err = s.Delete(ctx, "A1")
		require.NoError(t, err)
		assert.False(t, removed)

		all, err := s.List(ctx)
		require.NoError(t, err)
		assert.Empty(t, all)
	})
}

func TestCSV_FileLayout(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cells.csv")
	s, err := OpenCSV(path)
	require.NoError(t, err)

	r := model.CellTestResult{
		Identifier: "CELL-001",
		OCV:        3.7,
		R0:         model.NewResistanceEstimate(0.1, 0.1),
		DCIR:       model.NewResistanceEstimate(0.1, 0.1),
	}
	require.NoError(t, s.Append(context.Background(), r))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "Serial Number,OCV (V),R0 (Ohm),R0 Charge (Ohm),R0 Discharge (Ohm),DCIR (Ohm),DCIR Charge (Ohm),DCIR Discharge (Ohm)", lines[0])
	assert.Equal(t, "CELL-001,3.7,0.1,0.1,0.1,0.1,0.1,0.1", lines[1])
}

func TestCSV_ReopenKeepsRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cells.csv")
	s, err := OpenCSV(path)
	require.NoError(t, err)
	require.NoError(t, s.Append(context.Background(), result("A1", 3.6)))

	s2, err := OpenCSV(path)
	require.NoError(t, err)
	all, err := s2.List(context.Background())
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, model.CellIdentifier("A1"), all[0].Identifier)
}

func TestCSV_ReadsReorderedColumns(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cells.csv")
	body := "OCV (V),Serial Number,R0 (Ohm),R0 Charge (Ohm),R0 Discharge (Ohm),DCIR (Ohm),DCIR Charge (Ohm),DCIR Discharge (Ohm),Notes\n" +
		"3.65,X9,0.02,0.02,0.02,0.03,0.03,0.03,spare\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	s, err := OpenCSV(path)
	require.NoError(t, err)
	got, found, err := s.Lookup(context.Background(), "X9")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 3.65, got.OCV)
	assert.Equal(t, 0.03, got.DCIR.Value)
}

func TestCSV_BadRows(t *testing.T) {
	tests := map[string]string{
		"missing column": "Serial Number,OCV (V)\nA1,3.7\n",
		"bad number":     strings.Join(Header, ",") + "\nA1,abc,0,0,0,0,0,0\n",
		"short row":      strings.Join(Header, ",") + "\nA1,3.7\n",
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "cells.csv")
			require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
			s, err := OpenCSV(path)
			require.NoError(t, err)
			_, err = s.List(context.Background())
			assert.Error(t, err)
		})
	}
}

func TestSQL_KeepsTimestampAndOrder(t *testing.T) {
	s, err := OpenSQL(":memory:")
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()

	late := result("Z1", 3.7)
	late.TestedAt = late.TestedAt.Add(time.Hour)
	require.NoError(t, s.Append(ctx, late))
	require.NoError(t, s.Append(ctx, result("A1", 3.6)))

	all, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, model.CellIdentifier("A1"), all[0].Identifier)
	assert.True(t, all[1].TestedAt.Equal(late.TestedAt))
}

func TestSQL_ReopenMigratesOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cells.db")
	s, err := OpenSQL(path)
	require.NoError(t, err)
	require.NoError(t, s.Append(context.Background(), result("A1", 3.6)))
	require.NoError(t, s.Close())

	s, err = OpenSQL(path)
	require.NoError(t, err)
	defer s.Close()
	var n int
	require.NoError(t, s.db.QueryRow("SELECT COUNT(*) FROM schema_version").Scan(&n))
	assert.Equal(t, 1, n)
	_, found, err := s.Lookup(context.Background(), "A1")
	require.NoError(t, err)
	assert.True(t, found)
}

func TestOpen_Backends(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(config.StoreConfig{Backend: "csv", Path: filepath.Join(dir, "a.csv")})
	require.NoError(t, err)
	assert.IsType(t, &CSVStore{}, s)

	s, err = Open(config.StoreConfig{Backend: "sqlite", Path: filepath.Join(dir, "a.db")})
	require.NoError(t, err)
	assert.IsType(t, &SQLStore{}, s)
	require.NoError(t, s.Close())

	_, err = Open(config.StoreConfig{Backend: "parquet", Path: "x"})
	assert.Error(t, err)
}
