package handlers

import (
	"log/slog"

	"github.com/averol/huddlebot/internal/cache"
	"github.com/averol/huddlebot/internal/config"
	"github.com/averol/huddlebot/internal/database"
	"github.com/averol/huddlebot/internal/dialog"
	"github.com/averol/huddlebot/internal/templates"
)

// HandlerDeps provides dependencies for the channel activity handlers.
type HandlerDeps struct {
	Logger        *slog.Logger
	Config        *config.Config
	Store         database.Store
	Conversations *cache.ConversationCache
	Dialogs       *dialog.Set
	Pending       *templates.PendingCardLookup
}
