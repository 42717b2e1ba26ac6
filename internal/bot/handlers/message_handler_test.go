package handlers_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/averol/huddlebot/internal/bot/handlers"
	"github.com/averol/huddlebot/internal/cache"
	"github.com/averol/huddlebot/internal/config"
	"github.com/averol/huddlebot/internal/database"
	"github.com/averol/huddlebot/internal/dialog"
	"github.com/averol/huddlebot/internal/teams"
	"github.com/averol/huddlebot/internal/templates"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestStore(t *testing.T) database.Store {
	t.Helper()

	db, err := database.NewDB(":memory:")
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { database.CloseDB(db) })

	return database.NewStore(db, testLogger())
}

type connectorCall struct {
	activityID string
	activity   *teams.Activity
}

type fakeConnector struct {
	mu        sync.Mutex
	replies   []connectorCall
	updates   []connectorCall
	updateErr error
}

func (c *fakeConnector) SendToConversation(_ context.Context, _, _ string, activity *teams.Activity) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.replies = append(c.replies, connectorCall{activity: activity})
	return "sent-id", nil
}

func (c *fakeConnector) ReplyToActivity(_ context.Context, _, _, activityID string, activity *teams.Activity) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.replies = append(c.replies, connectorCall{activityID: activityID, activity: activity})
	return "reply-id", nil
}

func (c *fakeConnector) UpdateActivity(_ context.Context, _, _, activityID string, activity *teams.Activity) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.updateErr != nil {
		return c.updateErr
	}
	c.updates = append(c.updates, connectorCall{activityID: activityID, activity: activity})
	return nil
}

func (c *fakeConnector) CreateConversation(context.Context, string, string, teams.ChannelAccount, teams.ChannelAccount) (string, error) {
	return "conv-new", nil
}

func newTestDeps(t *testing.T) (handlers.HandlerDeps, database.Store) {
	t.Helper()

	log := testLogger()
	store := newTestStore(t)
	return handlers.HandlerDeps{
		Logger: log,
		Config: &config.Config{
			Messages: config.MessagesConfig{
				CardExpired:  "That card has expired.",
				GeneralError: "Something went wrong.",
			},
		},
		Store:         store,
		Conversations: cache.New(store, time.Hour, log),
		Dialogs:       dialog.NewSet(),
		Pending:       templates.NewPendingCardLookup(store, time.Hour, log),
	}, store
}

func submitActivity(correlationID string) *teams.Activity {
	return &teams.Activity{
		Type:       teams.ActivityMessage,
		ID:         "msg-2",
		ChannelID:  "msteams",
		ServiceURL: "https://smba.example.com/emea/",
		From:       teams.ChannelAccount{ID: "29:user", Name: "Dana"},
		Recipient:  teams.ChannelAccount{ID: "28:bot", Name: "HuddleBot"},
		Conversation: teams.ConversationAccount{
			ID:       "conv-1",
			TenantID: "tenant-a",
		},
		Value: []byte(fmt.Sprintf(`{"correlationId": %q, "action": "done"}`, correlationID)),
	}
}

func TestCardSubmitUpdatesSentCard(t *testing.T) {
	t.Parallel()

	deps, store := newTestDeps(t)
	ctx := context.Background()

	correlationID, err := deps.Pending.Record(ctx, "conv-1", "survey", "")
	if err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if err := deps.Pending.AttachActivity(ctx, correlationID, "act-9"); err != nil {
		t.Fatalf("AttachActivity() error = %v", err)
	}

	conn := &fakeConnector{}
	tc := teams.NewTurnContext(submitActivity(correlationID), conn, testLogger())
	handlers.NewMessageHandler(deps)(ctx, tc)

	// The sent card is swapped in place for the acknowledgement.
	if len(conn.updates) != 1 {
		t.Fatalf("len(updates) = %d, want 1", len(conn.updates))
	}
	if conn.updates[0].activityID != "act-9" {
		t.Errorf("updated activity = %q, want act-9", conn.updates[0].activityID)
	}
	if conn.updates[0].activity.Text == "" {
		t.Error("updated activity has no text")
	}
	if len(conn.replies) != 0 {
		t.Errorf("len(replies) = %d, want 0", len(conn.replies))
	}

	card, err := store.GetPendingCard(ctx, correlationID)
	if err != nil {
		t.Fatalf("GetPendingCard() error = %v", err)
	}
	if card.Status != database.PendingCardResolved {
		t.Errorf("card status = %q, want %q", card.Status, database.PendingCardResolved)
	}
}

func TestCardSubmitWithoutActivityIDReplies(t *testing.T) {
	t.Parallel()

	deps, _ := newTestDeps(t)
	ctx := context.Background()

	// A card whose sent activity id was never recorded can only be
	// acknowledged with a fresh reply.
	correlationID, err := deps.Pending.Record(ctx, "conv-1", "survey", "")
	if err != nil {
		t.Fatalf("Record() error = %v", err)
	}

	conn := &fakeConnector{}
	tc := teams.NewTurnContext(submitActivity(correlationID), conn, testLogger())
	handlers.NewMessageHandler(deps)(ctx, tc)

	if len(conn.updates) != 0 {
		t.Fatalf("len(updates) = %d, want 0", len(conn.updates))
	}
	if len(conn.replies) != 1 {
		t.Fatalf("len(replies) = %d, want 1", len(conn.replies))
	}
	if conn.replies[0].activity.Text == "" {
		t.Error("acknowledgement reply has no text")
	}
}

func TestCardSubmitUpdateFailureFallsBack(t *testing.T) {
	t.Parallel()

	deps, _ := newTestDeps(t)
	ctx := context.Background()

	correlationID, err := deps.Pending.Record(ctx, "conv-1", "survey", "")
	if err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if err := deps.Pending.AttachActivity(ctx, correlationID, "act-9"); err != nil {
		t.Fatalf("AttachActivity() error = %v", err)
	}

	conn := &fakeConnector{updateErr: errors.New("activity gone")}
	tc := teams.NewTurnContext(submitActivity(correlationID), conn, testLogger())
	handlers.NewMessageHandler(deps)(ctx, tc)

	if len(conn.replies) != 1 {
		t.Fatalf("len(replies) = %d, want 1", len(conn.replies))
	}
	if conn.replies[0].activity.Text == "" {
		t.Error("acknowledgement reply has no text")
	}
}

func TestCardSubmitExpired(t *testing.T) {
	t.Parallel()

	deps, _ := newTestDeps(t)
	ctx := context.Background()

	conn := &fakeConnector{}
	tc := teams.NewTurnContext(submitActivity("corr-ghost"), conn, testLogger())
	handlers.NewMessageHandler(deps)(ctx, tc)

	if len(conn.updates) != 0 {
		t.Fatalf("len(updates) = %d, want 0", len(conn.updates))
	}
	if len(conn.replies) != 1 {
		t.Fatalf("len(replies) = %d, want 1", len(conn.replies))
	}
	if got := conn.replies[0].activity.Text; got != deps.Config.Messages.CardExpired {
		t.Errorf("reply = %q, want %q", got, deps.Config.Messages.CardExpired)
	}
}

func TestInvokeResolvesAndUpdatesCard(t *testing.T) {
	t.Parallel()

	deps, store := newTestDeps(t)
	ctx := context.Background()

	correlationID, err := deps.Pending.Record(ctx, "conv-1", "survey", "")
	if err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if err := deps.Pending.AttachActivity(ctx, correlationID, "act-9"); err != nil {
		t.Fatalf("AttachActivity() error = %v", err)
	}

	activity := submitActivity(correlationID)
	activity.Type = teams.ActivityInvoke
	activity.Name = teams.InvokeCardAction

	conn := &fakeConnector{}
	tc := teams.NewTurnContext(activity, conn, testLogger())
	handlers.NewInvokeHandler(deps)(ctx, tc)

	if len(conn.updates) != 1 {
		t.Fatalf("len(updates) = %d, want 1", len(conn.updates))
	}
	if conn.updates[0].activityID != "act-9" {
		t.Errorf("updated activity = %q, want act-9", conn.updates[0].activityID)
	}

	card, err := store.GetPendingCard(ctx, correlationID)
	if err != nil {
		t.Fatalf("GetPendingCard() error = %v", err)
	}
	if card.Status != database.PendingCardResolved {
		t.Errorf("card status = %q, want %q", card.Status, database.PendingCardResolved)
	}
}
