// Package jobs runs the background maintenance tasks of the security layer
// on an Asynq worker.
package jobs

import (
	"context"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/renthaven/renthaven/internal/jobs"
	"github.com/renthaven/renthaven/internal/ratelimit"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskSecuritySweep purges expired rate-limit and replay-nonce entries.
	TaskSecuritySweep = "security:sweep"
	// CronSecuritySweep runs the sweep every five minutes.
	CronSecuritySweep = "*/5 * * * *"
)

// NewSecuritySweepTask constructs the sweep task. No payload: the sweep is
// idempotent and operates on whatever has expired by run time.
func NewSecuritySweepTask() *asynq.Task {
	return asynq.NewTask(TaskSecuritySweep, nil)
}

// SecuritySweepHandler returns the Asynq handler purging expired entries
// from the given stores.
func SecuritySweepHandler(stores []ratelimit.Store, metrics *jobmetrics.Metrics, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		tracker := metrics.Track(TaskSecuritySweep)
		for _, store := range stores {
			sweeper := ratelimit.Sweeper{Store: store, Logger: logger}
			sweeper.Sweep(ctx)
		}
		if logger != nil {
			logger.Info("security sweep complete", slog.Int("stores", len(stores)))
		}
		return tracker.End(ctx.Err())
	}
}
