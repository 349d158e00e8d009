package store

import (
	"context"
	"log/slog"
	"time"
)

const retentionInterval = 10 * time.Minute

// StartRetentionWorker runs a background goroutine that periodically
// deletes executions older than retention. It stops when ctx is done.
func StartRetentionWorker(ctx context.Context, repo Repository, retention time.Duration) {
	startRetentionWorker(ctx, repo, retention, retentionInterval)
}

func startRetentionWorker(ctx context.Context, repo Repository, retention, interval time.Duration) {
	if retention <= 0 {
		slog.Info("Retention worker disabled")
		return
	}

	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		slog.Info("Retention worker started", "interval", interval, "retention", retention)

		sweepExpiredExecutions(ctx, repo, retention)
		for {
			select {
			case <-ticker.C:
				sweepExpiredExecutions(ctx, repo, retention)
			case <-ctx.Done():
				slog.Info("Retention worker shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

func sweepExpiredExecutions(ctx context.Context, repo Repository, retention time.Duration) {
	deleted, err := repo.DeleteExecutionsBefore(ctx, time.Now().Add(-retention))
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		slog.Error("Retention worker failed to delete executions", "error", err)
		return
	}
	if deleted > 0 {
		slog.Info("Retention worker removed expired executions", "count", deleted)
	}
}
