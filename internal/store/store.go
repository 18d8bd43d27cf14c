// Package store persists completed cell results, one record per cell identifier.
package store

import (
	"context"
	"errors"
	"fmt"

	"cell-tester/internal/config"
	"cell-tester/internal/model"
)

// ErrExists is returned by Append when the identifier already has a record.
var ErrExists = errors.New("result already recorded for cell")

// Store is a durable result sink. Results are only ever written whole.
type Store interface {
	Lookup(ctx context.Context, id model.CellIdentifier) (*model.CellTestResult, bool, error)
	Append(ctx context.Context, r model.CellTestResult) error
	// Delete reports whether a record was removed.
	Delete(ctx context.Context, id model.CellIdentifier) (bool, error)
	List(ctx context.Context) ([]model.CellTestResult, error)
	Close() error
}

// replacer is implemented by stores that can swap a record atomically.
type replacer interface {
	Replace(ctx context.Context, r model.CellTestResult) error
}

// Replace leaves exactly one record for r.Identifier: the new one.
func Replace(ctx context.Context, s Store, r model.CellTestResult) error {
	if rp, ok := s.(replacer); ok {
		return rp.Replace(ctx, r)
	}
	if _, err := s.Delete(ctx, r.Identifier); err != nil {
		return fmt.Errorf("delete previous result: %w", err)
	}
	return s.Append(ctx, r)
}

// Save appends r, or replaces the existing record when overwrite is set.
func Save(ctx context.Context, s Store, r model.CellTestResult, overwrite bool) error {
	if overwrite {
		return Replace(ctx, s, r)
	}
	return s.Append(ctx, r)
}

// Open builds the configured backend.
func Open(cfg config.StoreConfig) (Store, error) {
	switch cfg.Backend {
	case "csv":
		return OpenCSV(cfg.Path)
	case "sqlite":
		return OpenSQL(cfg.Path)
	default:
		return nil, fmt.Errorf("unsupported store backend %q", cfg.Backend)
	}
}
