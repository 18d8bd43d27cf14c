package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"cell-tester/internal/model"

	_ "modernc.org/sqlite"
)

const schemaVersion = 1

const schema = `
CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL);

CREATE TABLE IF NOT EXISTS cell_results (
	serial          TEXT PRIMARY KEY,
	ocv             REAL NOT NULL,
	r0              REAL NOT NULL,
	r0_charge       REAL NOT NULL,
	r0_discharge    REAL NOT NULL,
	dcir            REAL NOT NULL,
	dcir_charge     REAL NOT NULL,
	dcir_discharge  REAL NOT NULL,
	tested_at       TEXT
);
`

const resultColumns = `serial, ocv, r0, r0_charge, r0_discharge, dcir, dcir_charge, dcir_discharge, tested_at`

// SQLStore keeps results in SQLite, keyed by serial.
type SQLStore struct {
	db *sql.DB
}

// OpenSQL opens or creates the database at path and applies the schema.
// Use ":memory:" for a throwaway store.
func OpenSQL(path string) (*SQLStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create store dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A single connection keeps ":memory:" databases alive and serializes writers.
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	s := &SQLStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLStore) migrate() error {
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	var v int
	err := s.db.QueryRow("SELECT version FROM schema_version LIMIT 1").Scan(&v)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if _, err := s.db.Exec("INSERT INTO schema_version(version) VALUES(?)", schemaVersion); err != nil {
			return fmt.Errorf("set schema version: %w", err)
		}
		return nil
	case err != nil:
		return fmt.Errorf("read schema version: %w", err)
	case v != schemaVersion:
		return fmt.Errorf("unknown schema version %d", v)
	}
	return nil
}

func (s *SQLStore) Lookup(ctx context.Context, id model.CellIdentifier) (*model.CellTestResult, bool, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+resultColumns+" FROM cell_results WHERE serial = ?", id.String())
	r, err := scanResult(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("lookup %s: %w", id, err)
	}
	return r, true, nil
}

func (s *SQLStore) Append(ctx context.Context, r model.CellTestResult) error {
	err := insert(ctx, s.db, r)
	if err != nil && isUniqueViolation(err) {
		return fmt.Errorf("%w: %s", ErrExists, r.Identifier)
	}
	return err
}

// Replace deletes and inserts in one transaction.
func (s *SQLStore) Replace(ctx context.Context, r model.CellTestResult) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin replace tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "DELETE FROM cell_results WHERE serial = ?", r.Identifier.String()); err != nil {
		return fmt.Errorf("delete %s: %w", r.Identifier, err)
	}
	if err := insert(ctx, tx, r); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLStore) Delete(ctx context.Context, id model.CellIdentifier) (bool, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM cell_results WHERE serial = ?", id.String())
	if err != nil {
		return false, fmt.Errorf("delete %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// List returns results in test order.
func (s *SQLStore) List(ctx context.Context) ([]model.CellTestResult, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+resultColumns+" FROM cell_results ORDER BY tested_at, serial")
	if err != nil {
		return nil, fmt.Errorf("list results: %w", err)
	}
	defer rows.Close()

	var out []model.CellTestResult
	for rows.Next() {
		r, err := scanResult(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

func (s *SQLStore) Close() error { return s.db.Close() }

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insert(ctx context.Context, db execer, r model.CellTestResult) error {
	_, err := db.ExecContext(ctx,
		"INSERT INTO cell_results("+resultColumns+") VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)",
		r.Identifier.String(), r.OCV,
		r.R0.Value, r.R0.Charge, r.R0.Discharge,
		r.DCIR.Value, r.DCIR.Charge, r.DCIR.Discharge,
		fmtTime(r.TestedAt),
	)
	if err != nil {
		return fmt.Errorf("insert %s: %w", r.Identifier, err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanResult(sc scanner) (*model.CellTestResult, error) {
	var (
		r        model.CellTestResult
		serial   string
		testedAt sql.NullString
	)
	err := sc.Scan(&serial, &r.OCV,
		&r.R0.Value, &r.R0.Charge, &r.R0.Discharge,
		&r.DCIR.Value, &r.DCIR.Charge, &r.DCIR.Discharge,
		&testedAt)
	if err != nil {
		return nil, err
	}
	r.Identifier = model.CellIdentifier(serial)
	if testedAt.Valid && testedAt.String != "" {
		t, err := time.Parse(time.RFC3339Nano, testedAt.String)
		if err != nil {
			return nil, fmt.Errorf("tested_at for %s: %w", serial, err)
		}
		r.TestedAt = t
	}
	return &r, nil
}

func fmtTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "PRIMARY KEY")
}
