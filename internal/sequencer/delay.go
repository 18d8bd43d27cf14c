package sequencer

import (
	"context"
	"time"
)

// Delayer performs the protocol's timed waits (settling dwell, sustained current).
type Delayer interface {
	Wait(ctx context.Context, d time.Duration) error
}

// RealDelayer blocks the calling goroutine for d, returning early only if ctx is done.
type RealDelayer struct{}

func (RealDelayer) Wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
