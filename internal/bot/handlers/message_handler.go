package handlers

import (
	"context"
	"errors"

	"github.com/averol/huddlebot/internal/database"
	"github.com/averol/huddlebot/internal/dialog"
	"github.com/averol/huddlebot/internal/teams"
	"github.com/averol/huddlebot/internal/templates"
)

// NewMessageHandler creates the handler for message activities. It keeps the
// conversation cache current, resolves Adaptive Card submits, honors the
// global cancel/help commands, and otherwise drives the dialogue stack.
func NewMessageHandler(deps HandlerDeps) teams.HandlerFunc {
	return func(ctx context.Context, tc *teams.TurnContext) {
		log := tc.Logger()

		if err := deps.Conversations.Observe(ctx, tc.Activity); err != nil {
			log.WarnContext(ctx, "Failed to record conversation", "error", err)
		}

		// Adaptive Card Action.Submit arrives as a message with a value
		// payload and no text.
		if len(tc.Activity.Value) > 0 {
			handleCardSubmit(ctx, tc, deps)
			return
		}

		state, err := dialog.LoadState(ctx, deps.Store, tc.Activity.ChannelID, tc.Activity.Conversation.ID)
		if err != nil {
			log.ErrorContext(ctx, "Failed to load conversation state", "error", err)
			_ = tc.SendText(ctx, deps.Config.Messages.GeneralError)
			return
		}
		turn := dialog.NewTurn(tc)

		switch dialog.DetectInterrupt(tc.Activity.Text) {
		case dialog.InterruptCancel:
			if err := dialog.Cancel(ctx, deps.Dialogs, state, turn); err != nil {
				log.ErrorContext(ctx, "Failed to cancel dialogue", "error", err)
			}
			_ = tc.SendText(ctx, deps.Config.Messages.Cancelled)
			return
		case dialog.InterruptHelp:
			_ = tc.SendText(ctx, deps.Config.Messages.Help)
			return
		}

		if _, err := dialog.Run(ctx, deps.Dialogs, state, turn, dialog.MainDialogID); err != nil {
			log.ErrorContext(ctx, "Dialogue turn failed", "error", err)
			_ = tc.SendText(ctx, deps.Config.Messages.GeneralError)
		}
	}
}

// handleCardSubmit resolves the pending card named by the submit payload's
// correlation id and acknowledges the action.
func handleCardSubmit(ctx context.Context, tc *teams.TurnContext, deps HandlerDeps) {
	log := tc.Logger()

	submit, err := templates.ParseSubmitValue(tc.Activity.Value)
	if err != nil || submit.CorrelationID == "" {
		log.WarnContext(ctx, "Ignoring card submit without correlation id", "error", err)
		return
	}

	card, err := deps.Pending.Resolve(ctx, submit.CorrelationID)
	switch {
	case errors.Is(err, templates.ErrCardNotPending), errors.Is(err, database.ErrNotFound):
		_ = tc.SendText(ctx, deps.Config.Messages.CardExpired)
		return
	case err != nil:
		log.ErrorContext(ctx, "Failed to resolve card submit", "error", err, "correlation_id", submit.CorrelationID)
		_ = tc.SendText(ctx, deps.Config.Messages.GeneralError)
		return
	}

	log.InfoContext(ctx, "Card action received",
		"correlation_id", submit.CorrelationID, "template", card.TemplateName, "action", submit.Action)
	acknowledgeCard(ctx, tc, card)
}

// acknowledgeCard swaps the sent card for a resolved text activity when the
// pending record knows the card's activity id, falling back to a plain reply.
func acknowledgeCard(ctx context.Context, tc *teams.TurnContext, card *database.PendingCard) {
	const ack = "Thanks, got it!"

	if card.ActivityID != "" {
		err := tc.UpdateActivity(ctx, card.ActivityID, tc.Activity.TextReply(ack))
		if err == nil {
			return
		}
		tc.Logger().WarnContext(ctx, "Failed to update resolved card",
			"error", err, "activity_id", card.ActivityID)
	}
	_ = tc.SendText(ctx, ack)
}
