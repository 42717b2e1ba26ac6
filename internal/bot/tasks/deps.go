package tasks

import (
	"log/slog"

	"github.com/averol/huddlebot/internal/cache"
	"github.com/averol/huddlebot/internal/database"
	"github.com/averol/huddlebot/internal/templates"
)

// TaskDeps provides dependencies for scheduled tasks.
type TaskDeps struct {
	Logger        *slog.Logger
	Store         database.Store
	Conversations *cache.ConversationCache
	Queue         *templates.Queue
	Pending       *templates.PendingCardLookup
}
