package templates_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/averol/huddlebot/internal/database"
	"github.com/averol/huddlebot/internal/templates"
)

func TestPendingCardRecordAndResolve(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	pending := templates.NewPendingCardLookup(store, time.Hour, testLogger())
	ctx := context.Background()

	correlationID, err := pending.Record(ctx, "conv-1", "survey", `{"q":1}`)
	if err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if correlationID == "" {
		t.Fatal("Record() returned empty correlation id")
	}

	card, err := pending.Resolve(ctx, correlationID)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if card.TemplateName != "survey" || card.Payload != `{"q":1}` {
		t.Errorf("resolved card = %+v", card)
	}
	if card.Status != database.PendingCardResolved {
		t.Errorf("status = %q, want %q", card.Status, database.PendingCardResolved)
	}

	// A second submit for the same card is no longer pending.
	if _, err := pending.Resolve(ctx, correlationID); !errors.Is(err, templates.ErrCardNotPending) {
		t.Fatalf("Resolve() twice = %v, want ErrCardNotPending", err)
	}
}

func TestPendingCardAttachActivity(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	pending := templates.NewPendingCardLookup(store, time.Hour, testLogger())
	ctx := context.Background()

	correlationID, err := pending.Record(ctx, "conv-1", "survey", "")
	if err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if err := pending.AttachActivity(ctx, correlationID, "act-7"); err != nil {
		t.Fatalf("AttachActivity() error = %v", err)
	}

	card, err := pending.Resolve(ctx, correlationID)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if card.ActivityID != "act-7" {
		t.Errorf("ActivityID = %q, want act-7", card.ActivityID)
	}

	// An empty activity id is a no-op, not an error.
	if err := pending.AttachActivity(ctx, "corr-ghost", ""); err != nil {
		t.Errorf("AttachActivity(empty) error = %v", err)
	}
}

func TestPendingCardResolveUnknown(t *testing.T) {
	t.Parallel()

	pending := templates.NewPendingCardLookup(newTestStore(t), time.Hour, testLogger())
	if _, err := pending.Resolve(context.Background(), "nope"); !errors.Is(err, database.ErrNotFound) {
		t.Fatalf("Resolve() = %v, want ErrNotFound", err)
	}
}

func TestPendingCardExpireStale(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	pending := templates.NewPendingCardLookup(store, time.Hour, testLogger())
	ctx := context.Background()

	// A card created beyond the max age expires; a fresh one stays open.
	if err := store.SavePendingCard(ctx, &database.PendingCard{
		CorrelationID:  "corr-old",
		ConversationID: "conv-1",
		TemplateName:   "survey",
		CreatedAt:      time.Now().UTC().Add(-2 * time.Hour),
	}); err != nil {
		t.Fatalf("SavePendingCard() error = %v", err)
	}
	freshID, err := pending.Record(ctx, "conv-1", "survey", "")
	if err != nil {
		t.Fatalf("Record() error = %v", err)
	}

	n, err := pending.ExpireStale(ctx)
	if err != nil {
		t.Fatalf("ExpireStale() error = %v", err)
	}
	if n != 1 {
		t.Errorf("expired = %d, want 1", n)
	}

	if _, err := pending.Resolve(ctx, "corr-old"); !errors.Is(err, templates.ErrCardNotPending) {
		t.Errorf("Resolve(expired) = %v, want ErrCardNotPending", err)
	}
	if _, err := pending.Resolve(ctx, freshID); err != nil {
		t.Errorf("Resolve(fresh) error = %v", err)
	}
}
