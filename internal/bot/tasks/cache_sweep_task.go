package tasks

import (
	"context"
)

// newCacheSweepTask creates the task that evicts stale conversation cache
// entries so they reload from storage on next use.
func newCacheSweepTask(deps TaskDeps) ScheduledTaskFunc {
	log := deps.Logger.With("task", "cache_sweep")

	return func(ctx context.Context) error {
		evicted := deps.Conversations.Sweep()
		if evicted > 0 {
			log.InfoContext(ctx, "Swept conversation cache", "evicted", evicted, "remaining", deps.Conversations.Len())
		}
		return nil
	}
}
