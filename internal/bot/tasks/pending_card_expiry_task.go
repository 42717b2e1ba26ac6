package tasks

import (
	"context"
	"fmt"
)

// newPendingCardExpiryTask creates the task that marks pending cards older
// than the configured age as expired, so late submits get a clear answer.
func newPendingCardExpiryTask(deps TaskDeps) ScheduledTaskFunc {
	log := deps.Logger.With("task", "pending_card_expiry")

	return func(ctx context.Context) error {
		n, err := deps.Pending.ExpireStale(ctx)
		if err != nil {
			return fmt.Errorf("pending card expiry failed: %w", err)
		}
		if n > 0 {
			log.InfoContext(ctx, "Expired pending cards", "count", n)
		}
		return nil
	}
}
