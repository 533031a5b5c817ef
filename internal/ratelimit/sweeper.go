package ratelimit

import (
	"context"
	"log/slog"
	"time"
)

// Sweeper purges expired entries from a Store on a fixed interval. It runs as
// a background task tied to process shutdown; tests call Sweep directly for a
// deterministic single pass.
type Sweeper struct {
	Store    Store
	Interval time.Duration
	Logger   *slog.Logger
}

// Run sweeps until ctx is cancelled. Errors are logged and never interrupt
// the loop.
func (s Sweeper) Run(ctx context.Context) {
	interval := s.Interval
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep performs one cleanup pass.
func (s Sweeper) Sweep(ctx context.Context) {
	if err := s.Store.Cleanup(ctx); err != nil && s.Logger != nil {
		s.Logger.Warn("rate limit sweep", slog.Any("error", err))
	}
}
