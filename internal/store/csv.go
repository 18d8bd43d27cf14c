package store

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"cell-tester/internal/model"
)

// Header is the fixed CSV column order. Downstream spreadsheets key on these names.
var Header = []string{
	"Serial Number",
	"OCV (V)",
	"R0 (Ohm)",
	"R0 Charge (Ohm)",
	"R0 Discharge (Ohm)",
	"DCIR (Ohm)",
	"DCIR Charge (Ohm)",
	"DCIR Discharge (Ohm)",
}

// CSVStore keeps results in a single CSV file. The test timestamp is not stored.
type CSVStore struct {
	mu   sync.Mutex
	path string
}

// OpenCSV creates the file with its header row when missing; an existing file is appended to.
func OpenCSV(path string) (*CSVStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create results dir: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	switch {
	case err == nil:
		w := csv.NewWriter(f)
		if err := w.Write(Header); err != nil {
			f.Close()
			return nil, err
		}
		w.Flush()
		if err := errors.Join(w.Error(), f.Close()); err != nil {
			return nil, fmt.Errorf("write header: %w", err)
		}
	case errors.Is(err, os.ErrExist):
	default:
		return nil, err
	}
	return &CSVStore{path: path}, nil
}

func (s *CSVStore) Path() string { return s.path }

func (s *CSVStore) Lookup(ctx context.Context, id model.CellIdentifier) (*model.CellTestResult, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.readAll()
	if err != nil {
		return nil, false, err
	}
	for i := range rows {
		if rows[i].Identifier == id {
			return &rows[i], true, nil
		}
	}
	return nil, false, nil
}

func (s *CSVStore) Append(ctx context.Context, r model.CellTestResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.readAll()
	if err != nil {
		return err
	}
	for _, row := range rows {
		if row.Identifier == r.Identifier {
			return fmt.Errorf("%w: %s", ErrExists, r.Identifier)
		}
	}
	f, err := os.OpenFile(s.path, os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(toRecord(r)); err != nil {
		return err
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}
	return f.Sync()
}

// Delete rewrites the file without the matching row.
func (s *CSVStore) Delete(ctx context.Context, id model.CellIdentifier) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.readAll()
	if err != nil {
		return false, err
	}
	keep := rows[:0]
	for _, r := range rows {
		if r.Identifier != id {
			keep = append(keep, r)
		}
	}
	if len(keep) == len(rows) {
		return false, nil
	}
	return true, s.rewrite(keep)
}

func (s *CSVStore) List(ctx context.Context) ([]model.CellTestResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readAll()
}

func (s *CSVStore) Close() error { return nil }

func (s *CSVStore) readAll() ([]model.CellTestResult, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[h] = i
	}
	for _, h := range Header {
		if _, ok := cols[h]; !ok {
			return nil, fmt.Errorf("%s: missing column %q", s.path, h)
		}
	}

	var out []model.CellTestResult
	for line := 2; ; line++ {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		res, err := fromRecord(rec, cols)
		if err != nil {
			return nil, fmt.Errorf("%s:%d: %w", s.path, line, err)
		}
		out = append(out, res)
	}
	return out, nil
}

// rewrite replaces the file via a temp file in the same directory.
func (s *CSVStore) rewrite(rows []model.CellTestResult) error {
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".cells-*.csv")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	w := csv.NewWriter(tmp)
	if err := w.Write(Header); err != nil {
		tmp.Close()
		return err
	}
	for _, r := range rows {
		if err := w.Write(toRecord(r)); err != nil {
			tmp.Close()
			return err
		}
	}
	w.Flush()
	if err := errors.Join(w.Error(), tmp.Close()); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), s.path)
}

func toRecord(r model.CellTestResult) []string {
	return []string{
		r.Identifier.String(),
		fmtFloat(r.OCV),
		fmtFloat(r.R0.Value),
		fmtFloat(r.R0.Charge),
		fmtFloat(r.R0.Discharge),
		fmtFloat(r.DCIR.Value),
		fmtFloat(r.DCIR.Charge),
		fmtFloat(r.DCIR.Discharge),
	}
}

func fromRecord(rec []string, cols map[string]int) (model.CellTestResult, error) {
	field := func(name string) (string, error) {
		i := cols[name]
		if i >= len(rec) {
			return "", fmt.Errorf("short row, no %q", name)
		}
		return rec[i], nil
	}
	num := func(name string) (float64, error) {
		v, err := field(name)
		if err != nil {
			return 0, err
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, fmt.Errorf("%s: %w", name, err)
		}
		return f, nil
	}

	serial, err := field(Header[0])
	if err != nil {
		return model.CellTestResult{}, err
	}
	vals := make([]float64, len(Header)-1)
	for i, name := range Header[1:] {
		if vals[i], err = num(name); err != nil {
			return model.CellTestResult{}, err
		}
	}
	return model.CellTestResult{
		Identifier: model.CellIdentifier(serial),
		OCV:        vals[0],
		R0:         model.ResistanceEstimate{Value: vals[1], Charge: vals[2], Discharge: vals[3]},
		DCIR:       model.ResistanceEstimate{Value: vals[4], Charge: vals[5], Discharge: vals[6]},
	}, nil
}

// fmtFloat writes the shortest representation that parses back to x.
func fmtFloat(x float64) string {
	return strconv.FormatFloat(x, 'g', -1, 64)
}
