package handlers

import (
	"context"
	"errors"

	"github.com/averol/huddlebot/internal/database"
	"github.com/averol/huddlebot/internal/teams"
	"github.com/averol/huddlebot/internal/templates"
)

// NewInvokeHandler creates the handler for invoke activities. Card actions
// routed as universal actions carry the same submit payload as messages and
// resolve the same pending card record.
func NewInvokeHandler(deps HandlerDeps) teams.HandlerFunc {
	return func(ctx context.Context, tc *teams.TurnContext) {
		log := tc.Logger()

		if tc.Activity.Name != teams.InvokeCardAction {
			log.DebugContext(ctx, "Ignoring unsupported invoke", "name", tc.Activity.Name)
			return
		}

		submit, err := templates.ParseSubmitValue(tc.Activity.Value)
		if err != nil || submit.CorrelationID == "" {
			log.WarnContext(ctx, "Ignoring card invoke without correlation id", "error", err)
			return
		}

		card, err := deps.Pending.Resolve(ctx, submit.CorrelationID)
		switch {
		case errors.Is(err, templates.ErrCardNotPending), errors.Is(err, database.ErrNotFound):
			log.InfoContext(ctx, "Card invoke for expired card", "correlation_id", submit.CorrelationID)
		case err != nil:
			log.ErrorContext(ctx, "Failed to resolve card invoke", "error", err, "correlation_id", submit.CorrelationID)
		default:
			log.InfoContext(ctx, "Card invoke resolved",
				"correlation_id", submit.CorrelationID, "template", card.TemplateName, "action", submit.Action)
			acknowledgeCard(ctx, tc, card)
		}
	}
}
