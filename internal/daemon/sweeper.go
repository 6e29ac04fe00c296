package daemon

import (
	"context"
	"log/slog"
	"time"
)

// Sweeper removes stale row locks.
type Sweeper interface {
	Sweep(ctx context.Context) (int, error)
}

// LockSweeper clears stale row locks every interval so rows abandoned by a
// closed editor become editable without a takeover.
func LockSweeper(locks Sweeper, interval time.Duration, logger *slog.Logger) DaemonFunc {
	return Every(interval, logger, func(ctx context.Context) error {
		_, err := locks.Sweep(ctx)
		return err
	})
}
