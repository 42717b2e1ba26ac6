package tasks

import (
	"context"
	"fmt"
)

// newBatchDrainTask creates the task that re-queues deliveries still marked
// queued in storage, recovering work lost to restarts or a full channel.
func newBatchDrainTask(deps TaskDeps) ScheduledTaskFunc {
	log := deps.Logger.With("task", "batch_drain")

	return func(ctx context.Context) error {
		pushed, err := deps.Queue.DrainQueued(ctx)
		if err != nil {
			return fmt.Errorf("batch drain failed: %w", err)
		}
		if pushed > 0 {
			log.InfoContext(ctx, "Drained stored deliveries", "count", pushed)
		}
		return nil
	}
}
