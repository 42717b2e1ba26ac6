package handlers

import (
	"context"
	"errors"

	"github.com/averol/huddlebot/internal/database"
	"github.com/averol/huddlebot/internal/dialog"
	"github.com/averol/huddlebot/internal/teams"
)

// NewConversationUpdateHandler creates the handler for membership changes:
// welcome newly added members, and drop cached and stored state when the bot
// or a user leaves the conversation.
func NewConversationUpdateHandler(deps HandlerDeps) teams.HandlerFunc {
	return func(ctx context.Context, tc *teams.TurnContext) {
		log := tc.Logger()

		for _, member := range tc.Activity.MembersAdded {
			if member.ID == tc.Activity.Recipient.ID {
				// The bot itself was added; record the conversation so
				// proactive sends can reach it.
				if err := deps.Conversations.Observe(ctx, tc.Activity); err != nil {
					log.WarnContext(ctx, "Failed to record conversation", "error", err)
				}
				continue
			}
			if err := tc.SendText(ctx, deps.Config.Messages.Welcome); err != nil {
				log.WarnContext(ctx, "Failed to send welcome", "error", err, "member_id", member.ID)
			}
		}

		for _, member := range tc.Activity.MembersRemoved {
			if member.ID != tc.Activity.Recipient.ID {
				continue
			}
			// The bot was removed; forget the conversation entirely.
			convID := tc.Activity.Conversation.ID
			deps.Conversations.Invalidate(convID)
			if err := deps.Store.DeleteConversation(ctx, convID); err != nil && !errors.Is(err, database.ErrNotFound) {
				log.WarnContext(ctx, "Failed to delete conversation", "error", err, "conversation_id", convID)
			}
			if err := dialog.ClearState(ctx, deps.Store, tc.Activity.ChannelID, convID); err != nil {
				log.WarnContext(ctx, "Failed to clear conversation state", "error", err, "conversation_id", convID)
			}
			log.InfoContext(ctx, "Removed from conversation", "conversation_id", convID)
		}
	}
}
