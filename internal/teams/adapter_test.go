package teams_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/averol/huddlebot/internal/teams"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type connectorCall struct {
	serviceURL     string
	conversationID string
	activityID     string
	activity       *teams.Activity
}

// stubConnector records connector calls instead of hitting the channel.
type stubConnector struct {
	mu      sync.Mutex
	sent    []connectorCall
	replies []connectorCall
	updates []connectorCall
}

func (c *stubConnector) SendToConversation(_ context.Context, serviceURL, conversationID string, activity *teams.Activity) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, connectorCall{serviceURL: serviceURL, conversationID: conversationID, activity: activity})
	return "sent-id", nil
}

func (c *stubConnector) ReplyToActivity(_ context.Context, serviceURL, conversationID, activityID string, activity *teams.Activity) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.replies = append(c.replies, connectorCall{serviceURL: serviceURL, conversationID: conversationID, activityID: activityID, activity: activity})
	return "reply-id", nil
}

func (c *stubConnector) UpdateActivity(_ context.Context, serviceURL, conversationID, activityID string, activity *teams.Activity) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.updates = append(c.updates, connectorCall{serviceURL: serviceURL, conversationID: conversationID, activityID: activityID, activity: activity})
	return nil
}

func (c *stubConnector) CreateConversation(context.Context, string, string, teams.ChannelAccount, teams.ChannelAccount) (string, error) {
	return "conv-new", nil
}

func inboundActivity(activityType string) *teams.Activity {
	return &teams.Activity{
		Type:       activityType,
		ID:         "act-1",
		ChannelID:  "msteams",
		ServiceURL: "https://smba.example.com/emea/",
		From:       teams.ChannelAccount{ID: "29:user", Name: "Dana"},
		Recipient:  teams.ChannelAccount{ID: "28:bot", Name: "HuddleBot"},
		Conversation: teams.ConversationAccount{
			ID:       "conv-1",
			TenantID: "tenant-a",
		},
	}
}

func postActivity(t *testing.T, a *teams.Adapter, body []byte) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodPost, "/api/messages", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	a.ServeHTTP(rec, req)
	return rec
}

func mustMarshal(t *testing.T, v any) []byte {
	t.Helper()

	body, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("failed to encode activity: %v", err)
	}
	return body
}

func TestAdapterDispatchesMessage(t *testing.T) {
	t.Parallel()

	conn := &stubConnector{}
	adapter := teams.NewAdapter(testLogger(), teams.AdapterOptions{Connector: conn})
	adapter.OnActivity(teams.ActivityMessage, func(ctx context.Context, tc *teams.TurnContext) {
		_ = tc.SendText(ctx, "hello back")
	})

	activity := inboundActivity(teams.ActivityMessage)
	activity.Text = "hello"
	rec := postActivity(t, adapter, mustMarshal(t, activity))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if len(conn.replies) != 1 {
		t.Fatalf("len(replies) = %d, want 1", len(conn.replies))
	}

	// The inbound activity has an id, so the reply is threaded onto it.
	reply := conn.replies[0]
	if reply.activityID != "act-1" {
		t.Errorf("reply threaded onto %q, want act-1", reply.activityID)
	}
	if reply.conversationID != "conv-1" {
		t.Errorf("reply conversation = %q, want conv-1", reply.conversationID)
	}
	if reply.activity.Text != "hello back" {
		t.Errorf("reply text = %q, want %q", reply.activity.Text, "hello back")
	}
	if len(conn.sent) != 0 {
		t.Errorf("len(sent) = %d, want 0", len(conn.sent))
	}
}

func TestAdapterInvokeResponseBody(t *testing.T) {
	t.Parallel()

	conn := &stubConnector{}
	adapter := teams.NewAdapter(testLogger(), teams.AdapterOptions{Connector: conn})

	var handled bool
	adapter.OnActivity(teams.ActivityInvoke, func(context.Context, *teams.TurnContext) {
		handled = true
	})

	activity := inboundActivity(teams.ActivityInvoke)
	activity.Name = teams.InvokeCardAction
	rec := postActivity(t, adapter, mustMarshal(t, activity))

	if !handled {
		t.Fatal("invoke handler was not called")
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}

	var body struct {
		Status int `json:"status"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("invoke response is not valid JSON: %v", err)
	}
	if body.Status != http.StatusOK {
		t.Errorf("invoke response status = %d, want 200", body.Status)
	}
}

func TestAdapterIgnoresUnhandledType(t *testing.T) {
	t.Parallel()

	conn := &stubConnector{}
	adapter := teams.NewAdapter(testLogger(), teams.AdapterOptions{Connector: conn})

	rec := postActivity(t, adapter, mustMarshal(t, inboundActivity(teams.ActivityTyping)))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if len(conn.sent) != 0 || len(conn.replies) != 0 {
		t.Error("connector was called for an unhandled activity type")
	}
}

func TestAdapterRejectsBadJSON(t *testing.T) {
	t.Parallel()

	adapter := teams.NewAdapter(testLogger(), teams.AdapterOptions{Connector: &stubConnector{}})

	rec := postActivity(t, adapter, []byte(`{"type": "message"`))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestAdapterRejectsWrongMethod(t *testing.T) {
	t.Parallel()

	adapter := teams.NewAdapter(testLogger(), teams.AdapterOptions{Connector: &stubConnector{}})

	req := httptest.NewRequest(http.MethodGet, "/api/messages", nil)
	rec := httptest.NewRecorder()
	adapter.ServeHTTP(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", rec.Code)
	}
}

func TestAdapterDropsForeignTenant(t *testing.T) {
	t.Parallel()

	conn := &stubConnector{}
	adapter := teams.NewAdapter(testLogger(), teams.AdapterOptions{
		Connector: conn,
		TenantID:  "tenant-a",
	})

	var handled bool
	adapter.OnActivity(teams.ActivityMessage, func(context.Context, *teams.TurnContext) {
		handled = true
	})

	activity := inboundActivity(teams.ActivityMessage)
	activity.Conversation.TenantID = "tenant-b"
	rec := postActivity(t, adapter, mustMarshal(t, activity))

	// Foreign-tenant traffic is acknowledged, not errored, so the channel
	// does not retry the delivery.
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if handled {
		t.Error("handler was called for a foreign-tenant activity")
	}
}

func TestAdapterRequiresAuthWhenVerifying(t *testing.T) {
	t.Parallel()

	adapter := teams.NewAdapter(testLogger(), teams.AdapterOptions{
		Connector:     &stubConnector{},
		Validator:     teams.NewTokenValidator("app-id", testLogger()),
		VerifyInbound: true,
	})

	var handled bool
	adapter.OnActivity(teams.ActivityMessage, func(context.Context, *teams.TurnContext) {
		handled = true
	})

	rec := postActivity(t, adapter, mustMarshal(t, inboundActivity(teams.ActivityMessage)))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	if handled {
		t.Error("handler was called for an unauthenticated activity")
	}
}

func TestAdapterMiddlewareOrder(t *testing.T) {
	t.Parallel()

	conn := &stubConnector{}
	adapter := teams.NewAdapter(testLogger(), teams.AdapterOptions{Connector: conn})

	var order []string
	mark := func(name string) teams.Middleware {
		return func(next teams.HandlerFunc) teams.HandlerFunc {
			return func(ctx context.Context, tc *teams.TurnContext) {
				order = append(order, name)
				next(ctx, tc)
			}
		}
	}
	adapter.Use(mark("outer"), mark("inner"))
	adapter.OnActivity(teams.ActivityMessage, func(context.Context, *teams.TurnContext) {
		order = append(order, "handler")
	})

	postActivity(t, adapter, mustMarshal(t, inboundActivity(teams.ActivityMessage)))

	want := []string{"outer", "inner", "handler"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestTurnContextProactiveSend(t *testing.T) {
	t.Parallel()

	conn := &stubConnector{}
	activity := inboundActivity(teams.ActivityMessage)
	activity.ID = ""
	tc := teams.NewTurnContext(activity, conn, testLogger())

	if err := tc.SendText(context.Background(), "nudge"); err != nil {
		t.Fatalf("SendText() error = %v", err)
	}

	// Without an inbound activity id there is nothing to thread onto.
	if len(conn.sent) != 1 {
		t.Fatalf("len(sent) = %d, want 1", len(conn.sent))
	}
	if len(conn.replies) != 0 {
		t.Fatalf("len(replies) = %d, want 0", len(conn.replies))
	}
	if conn.sent[0].activity.Text != "nudge" {
		t.Errorf("sent text = %q, want nudge", conn.sent[0].activity.Text)
	}
}
