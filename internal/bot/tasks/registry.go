package tasks

import (
	"context"
)

// ScheduledTaskFunc is the signature every scheduled task implements. The
// scheduler's context should be respected for cancellation.
type ScheduledTaskFunc func(ctx context.Context) error

// RegisterAllTasks builds the map of scheduled tasks. The keys match the
// task names used in the scheduler configuration.
func RegisterAllTasks(deps TaskDeps) map[string]ScheduledTaskFunc {
	tasks := make(map[string]ScheduledTaskFunc)

	tasks["batch_drain"] = newBatchDrainTask(deps)
	tasks["cache_sweep"] = newCacheSweepTask(deps)
	tasks["pending_card_expiry"] = newPendingCardExpiryTask(deps)
	tasks["sql_maintenance"] = newSQLMaintenanceTask(deps)

	deps.Logger.Info("Initialized scheduled tasks", "count", len(tasks))
	return tasks
}
