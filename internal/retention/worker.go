// Package retention purges audit events past the configured threshold. This
// is the only path that ever deletes from the append-only trail.
package retention

import (
	"context"
	"log/slog"
	"time"
)

// Purger deletes events recorded before a cutoff.
type Purger interface {
	PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// Worker runs the purge on a fixed interval.
type Worker struct {
	purger        Purger
	retentionDays int
	interval      time.Duration
	logger        *slog.Logger
}

func NewWorker(purger Purger, retentionDays int, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		purger:        purger,
		retentionDays: retentionDays,
		interval:      24 * time.Hour,
		logger:        logger,
	}
}

// Run purges once at startup and then on every tick until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	w.purge(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			w.purge(ctx)
		}
	}
}

func (w *Worker) purge(ctx context.Context) {
	cutoff := time.Now().AddDate(0, 0, -w.retentionDays)
	purged, err := w.purger.PurgeOlderThan(ctx, cutoff)
	if err != nil {
		w.logger.ErrorContext(ctx, "audit retention purge failed", "error", err)
		return
	}
	if purged > 0 {
		w.logger.InfoContext(ctx, "purged expired audit events",
			"purged", purged,
			"retention_days", w.retentionDays,
		)
	}
}
