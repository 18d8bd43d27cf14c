package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"cell-tester/internal/api"
	"cell-tester/internal/config"
	"cell-tester/internal/instrument"
	"cell-tester/internal/logging"
	"cell-tester/internal/sequencer"
	"cell-tester/internal/store"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {
	// Configuration comes from the environment so the server runs unchanged in a container.
	encoding := "console"
	if os.Getenv("API_ENV") == "production" {
		gin.SetMode(gin.ReleaseMode)
		encoding = "json"
	}
	log, err := logging.New(logging.Options{Verbose: os.Getenv("LOG_LEVEL") == "debug", Encoding: encoding})
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	if err := run(log); err != nil {
		log.Fatal("server failed", zap.Error(err))
	}
}

func run(log *zap.Logger) error {
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		return err
	}
	if port := os.Getenv("API_PORT"); port != "" {
		cfg.API.Addr = ":" + port
	}
	if wd, err := os.Getwd(); err == nil {
		log.Info("starting", zap.String("working_dir", wd), zap.String("store", cfg.Store.Path))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(cfg.Store)
	if err != nil {
		return err
	}
	defer st.Close()

	params := cfg.Protocol.ToModelParams()
	port, err := instrument.Open(ctx, cfg.Instrument, params.SampleRate, log.Named("instrument"))
	if err != nil {
		return err
	}
	return instrument.Use(port, func(p instrument.Port) error {
		seq, err := sequencer.New(p, params, sequencer.WithLogger(log))
		if err != nil {
			return err
		}
		router := api.NewRouter(api.Deps{
			Port:           p,
			Runner:         seq,
			Store:          st,
			Driver:         cfg.Instrument.Driver,
			Address:        cfg.Instrument.Address,
			ProfileDir:     os.Getenv("PROFILE_DIR"),
			AllowedOrigins: cfg.API.AllowedOrigins,
			Logger:         log,
		})
		return api.Serve(ctx, cfg.API.Addr, router, log)
	})
}
