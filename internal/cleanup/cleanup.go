package cleanup

import (
	"context"
	"time"

	"instockbackend/internal/data"
	"instockbackend/internal/logger"
)

const (
	cleanupHour    = 2   // 2 AM
	batchSize      = 500 // rows deleted per statement
	maxBatchPerRun = 20
)

// StartCleanupRoutine starts the daily subscription pruning job. It stops
// when ctx is cancelled. A non-positive retention disables it.
func StartCleanupRoutine(ctx context.Context, retentionDays int) {
	if retentionDays <= 0 {
		logger.LogInfo("Subscription cleanup disabled")
		return
	}

	go func() {
		logger.LogInfo("Cleanup routine started - will run daily at %d:00 AM, keeping %d days", cleanupHour, retentionDays)

		for {
			now := time.Now()
			sleepDuration := NextRun(now).Sub(now)
			logger.LogInfo("Next cleanup scheduled for %v (in %v)", NextRun(now).Format("2006-01-02 15:04:05"), sleepDuration)

			timer := time.NewTimer(sleepDuration)
			select {
			case <-ctx.Done():
				timer.Stop()
				logger.LogInfo("Cleanup routine stopped")
				return
			case <-timer.C:
			}

			if _, err := RunCleanup(ctx, time.Now(), retentionDays); err != nil {
				logger.LogError("Subscription cleanup failed: %v", err)
			}
		}
	}()
}

// NextRun returns the next cleanup time strictly after now.
func NextRun(now time.Time) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), cleanupHour, 0, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// RunCleanup deletes subscriptions older than the retention window, in
// batches so a large backlog does not hold the write lock for long.
func RunCleanup(ctx context.Context, now time.Time, retentionDays int) (int, error) {
	cutoff := now.AddDate(0, 0, -retentionDays)
	logger.LogInfo("Cleaning subscriptions created before %v", cutoff.Format("2006-01-02 15:04:05"))

	repo := data.NewUserRepository()
	total := 0
	for batch := 0; batch < maxBatchPerRun; batch++ {
		n, err := repo.DeleteSubscriptionsBefore(ctx, cutoff, batchSize)
		if err != nil {
			return total, err
		}
		total += n
		if n < batchSize {
			break
		}
	}

	if total == 0 {
		logger.LogInfo("Cleanup completed - no expired subscriptions found")
	} else {
		logger.LogInfo("Cleanup completed - total %d expired subscriptions removed", total)
	}
	return total, nil
}
