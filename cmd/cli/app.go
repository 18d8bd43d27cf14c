package main

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"cell-tester/internal/config"
	"cell-tester/internal/instrument"
	"cell-tester/internal/logging"
	"cell-tester/internal/sequencer"
	"cell-tester/internal/store"

	"go.uber.org/zap"
)

type globalFlags struct {
	configPath   string
	verbose      bool
	logFormat    string
	driver       string
	mock         bool
	address      string
	terminals    string
	storeBackend string
	storePath    string
}

// app is the state shared by all subcommands once flags are parsed.
type app struct {
	flags globalFlags
	cfg   *config.Config
	log   *zap.Logger
}

func (a *app) setup() error {
	log, err := logging.New(logging.Options{Verbose: a.flags.verbose, Encoding: a.flags.logFormat})
	if err != nil {
		return err
	}
	a.log = log

	cfg := config.Default()
	if a.flags.configPath != "" {
		loaded, err := config.LoadUnchecked(a.flags.configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = config.Merge(cfg, loaded)
	}
	a.applyOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	a.cfg = cfg
	a.log.Debug("configuration loaded",
		zap.String("config", a.flags.configPath),
		zap.String("driver", cfg.Instrument.Driver),
		zap.String("store", cfg.Store.Backend+":"+cfg.Store.Path),
		zap.String("profile", cfg.Protocol.Name))
	return nil
}

// applyOverrides lets explicit flags win over file values.
func (a *app) applyOverrides(cfg *config.Config) {
	f := a.flags
	if f.driver != "" {
		cfg.Instrument.Driver = f.driver
	}
	if f.mock {
		cfg.Instrument.Driver = "sim"
	}
	if f.address != "" {
		cfg.Instrument.Address = f.address
		if f.driver == "" && !f.mock {
			cfg.Instrument.Driver = "scpi"
		}
	}
	if f.terminals != "" {
		cfg.Instrument.Terminals = f.terminals
	}
	if f.storePath != "" {
		a.setStorePath(cfg, f.storePath)
	}
	if f.storeBackend != "" {
		cfg.Store.Backend = f.storeBackend
	}
}

// setStorePath also picks the backend from the file extension.
func (a *app) setStorePath(cfg *config.Config, path string) {
	cfg.Store.Path = path
	switch strings.ToLower(filepath.Ext(path)) {
	case ".db", ".sqlite", ".sqlite3":
		cfg.Store.Backend = "sqlite"
	case ".csv":
		cfg.Store.Backend = "csv"
	}
}

func (a *app) close() {
	if a.log != nil {
		_ = a.log.Sync()
	}
}

func (a *app) openStore() (store.Store, error) {
	st, err := store.Open(a.cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("open %s store %s: %w", a.cfg.Store.Backend, a.cfg.Store.Path, err)
	}
	return st, nil
}

func (a *app) openPort(ctx context.Context) (instrument.Port, error) {
	p := a.cfg.Protocol.ToModelParams()
	return instrument.Open(ctx, a.cfg.Instrument, p.SampleRate, a.log.Named("instrument"))
}

func (a *app) newSequencer(port instrument.Port, opts ...sequencer.Option) (*sequencer.Sequencer, error) {
	opts = append([]sequencer.Option{sequencer.WithLogger(a.log)}, opts...)
	return sequencer.New(port, a.cfg.Protocol.ToModelParams(), opts...)
}
