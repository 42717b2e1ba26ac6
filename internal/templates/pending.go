package templates

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/averol/huddlebot/internal/database"
)

// ErrCardNotPending is returned when a submitted card was already resolved
// or has expired.
var ErrCardNotPending = errors.New("card is no longer pending")

// PendingCardLookup records cards that are waiting for an Action.Submit and
// resolves them when the submit activity arrives.
type PendingCardLookup struct {
	store  database.Store
	maxAge time.Duration
	logger *slog.Logger
}

// NewPendingCardLookup creates the lookup service. maxAge bounds how long a
// card stays actionable before the expiry task abandons it.
func NewPendingCardLookup(store database.Store, maxAge time.Duration, logger *slog.Logger) *PendingCardLookup {
	if maxAge <= 0 {
		maxAge = 24 * time.Hour
	}
	return &PendingCardLookup{
		store:  store,
		maxAge: maxAge,
		logger: logger.With("component", "pending_cards"),
	}
}

// Record registers a card awaiting action and returns the correlation id to
// embed in it.
func (p *PendingCardLookup) Record(ctx context.Context, conversationID, templateName, payload string) (string, error) {
	correlationID := uuid.NewString()
	card := &database.PendingCard{
		CorrelationID:  correlationID,
		ConversationID: conversationID,
		TemplateName:   templateName,
		Payload:        payload,
	}
	if err := p.store.SavePendingCard(ctx, card); err != nil {
		return "", fmt.Errorf("failed to record pending card: %w", err)
	}
	p.logger.DebugContext(ctx, "Recorded pending card",
		"correlation_id", correlationID, "conversation_id", conversationID, "template", templateName)
	return correlationID, nil
}

// AttachActivity records the channel-assigned activity id of the sent card
// so the card can be updated in place when it resolves.
func (p *PendingCardLookup) AttachActivity(ctx context.Context, correlationID, activityID string) error {
	if activityID == "" {
		return nil
	}
	if err := p.store.AttachPendingCardActivity(ctx, correlationID, activityID); err != nil {
		return fmt.Errorf("failed to attach card activity: %w", err)
	}
	return nil
}

// Resolve looks up a pending card by correlation id and marks it resolved.
// Returns ErrCardNotPending when the card was already resolved or expired,
// and database.ErrNotFound for unknown ids.
func (p *PendingCardLookup) Resolve(ctx context.Context, correlationID string) (*database.PendingCard, error) {
	card, err := p.store.GetPendingCard(ctx, correlationID)
	if err != nil {
		return nil, err
	}
	if card.Status != database.PendingCardOpen {
		return card, ErrCardNotPending
	}
	if err := p.store.ResolvePendingCard(ctx, correlationID); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			// Lost the race with another resolver or the expiry task.
			return card, ErrCardNotPending
		}
		return nil, err
	}
	card.Status = database.PendingCardResolved
	p.logger.InfoContext(ctx, "Resolved pending card", "correlation_id", correlationID, "template", card.TemplateName)
	return card, nil
}

// ExpireStale marks cards older than the configured age as expired and
// returns how many were affected.
func (p *PendingCardLookup) ExpireStale(ctx context.Context) (int64, error) {
	cutoff := time.Now().UTC().Add(-p.maxAge)
	n, err := p.store.ExpirePendingCardsBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		p.logger.InfoContext(ctx, "Expired stale pending cards", "count", n)
	}
	return n, nil
}
