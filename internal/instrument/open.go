package instrument

import (
	"context"
	"errors"
	"fmt"

	"cell-tester/internal/config"

	"go.uber.org/zap"
)

// Open builds the configured port: the simulator or a SCPI session.
func Open(ctx context.Context, cfg config.InstrumentConfig, sampleRate float64, log *zap.Logger) (Port, error) {
	switch cfg.Driver {
	case "sim":
		log.Info("using simulated instrument")
		return NewSimulator(sampleRate), nil
	case "scpi":
		log.Info("connecting to instrument", zap.String("address", cfg.Address))
		return Dial(ctx, cfg.Address, KeithleyOptions{
			Terminals:  cfg.Terminals,
			SampleRate: sampleRate,
			Timeout:    cfg.Timeout(),
			Logger:     log,
		})
	default:
		return nil, fmt.Errorf("unsupported instrument driver %q", cfg.Driver)
	}
}

// Use runs fn with an open port and always closes it (output off) afterwards,
// including when fn fails or panics.
func Use(port Port, fn func(Port) error) (err error) {
	defer func() {
		if cerr := port.Close(); cerr != nil {
			err = errors.Join(err, cerr)
		}
	}()
	return fn(port)
}
