package sessions

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Sweeper periodically force-closes idle sessions as abandoned.
type Sweeper struct {
	store    *Store
	window   time.Duration
	interval time.Duration
	logger   *zap.Logger
}

// NewSweeper creates a sweeper closing sessions idle longer than window,
// checking every interval.
func NewSweeper(store *Store, window, interval time.Duration, logger *zap.Logger) *Sweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sweeper{store: store, window: window, interval: interval, logger: logger}
}

// Run sweeps until ctx is cancelled.
func (sw *Sweeper) Run(ctx context.Context) {
	sw.logger.Info("idle session sweeper started",
		zap.Duration("window", sw.window), zap.Duration("interval", sw.interval))
	ticker := time.NewTicker(sw.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			sw.logger.Info("idle session sweeper stopped")
			return
		case <-ticker.C:
			if n := sw.store.Sweep(ctx, sw.window); n > 0 {
				sw.logger.Info("idle sessions closed", zap.Int("count", n))
			}
		}
	}
}
