package handlers

import (
	"github.com/averol/huddlebot/internal/teams"
)

// RegisterAll wires every activity handler onto the adapter, along with the
// shared turn middleware.
func RegisterAll(adapter *teams.Adapter, deps HandlerDeps) {
	adapter.Use(teams.TurnLogging(deps.Logger))

	adapter.OnActivity(teams.ActivityMessage, NewMessageHandler(deps))
	adapter.OnActivity(teams.ActivityConversationUpdate, NewConversationUpdateHandler(deps))
	adapter.OnActivity(teams.ActivityInvoke, NewInvokeHandler(deps))

	deps.Logger.Info("Registered activity handlers", "count", 3)
}
