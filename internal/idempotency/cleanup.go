package idempotency

import (
	"context"
	"log/slog"
	"time"

	"github.com/vattentrygg/payments/internal/jobs"
)

// DefaultExpiry is how long a stored response is replayed.
const DefaultExpiry = 24 * time.Hour

// CleanupOldKeys removes idempotency keys older than expiry.
func CleanupOldKeys(ctx context.Context, repo Repository, expiry time.Duration) (int64, error) {
	deleted, err := repo.DeleteOlderThan(ctx, expiry)
	if err != nil {
		slog.ErrorContext(ctx, "failed to cleanup old idempotency keys", "error", err)
		return 0, err
	}

	if deleted > 0 {
		slog.InfoContext(ctx, "cleaned up old idempotency keys", "deleted", deleted, "older_than", expiry)
	}

	return deleted, nil
}

// RunPeriodicCleanup runs CleanupOldKeys every interval until ctx is done.
// Each run is recorded in m, which may be nil. It blocks; run it in a goroutine.
func RunPeriodicCleanup(ctx context.Context, repo Repository, interval, expiry time.Duration, m *jobs.Metrics) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	run := func() error {
		start := time.Now()
		_, err := CleanupOldKeys(ctx, repo, expiry)
		errorType := ""
		if err != nil {
			errorType = "store"
		}
		m.Observe(jobs.JobTypeIdempotencyCleanup, time.Since(start).Seconds(), errorType)
		return err
	}

	if err := run(); err != nil {
		slog.ErrorContext(ctx, "initial cleanup failed", "error", err)
	}

	for {
		select {
		case <-ticker.C:
			if err := run(); err != nil {
				slog.ErrorContext(ctx, "periodic cleanup failed", "error", err)
			}
		case <-ctx.Done():
			slog.Info("stopping periodic cleanup")
			return
		}
	}
}
