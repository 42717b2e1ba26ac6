package teams

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// HandlerFunc processes one inbound activity within a turn.
type HandlerFunc func(ctx context.Context, tc *TurnContext)

// Middleware wraps a HandlerFunc with cross-cutting behavior.
type Middleware func(next HandlerFunc) HandlerFunc

// TurnContext carries the inbound activity and a connector bound to its
// service URL for the duration of one turn.
type TurnContext struct {
	Activity  *Activity
	User      BotUser
	connector Connector
	logger    *slog.Logger
}

// NewTurnContext builds a turn context for an activity. Exposed for tests
// and for proactive turns created outside the adapter.
func NewTurnContext(activity *Activity, connector Connector, logger *slog.Logger) *TurnContext {
	return &TurnContext{
		Activity:  activity,
		User:      ParseBotUserInfo(activity.From),
		connector: connector,
		logger:    logger,
	}
}

// Logger returns the turn-scoped logger.
func (tc *TurnContext) Logger() *slog.Logger {
	return tc.logger
}

// SendActivity posts an activity to the turn's conversation and returns the
// channel-assigned activity id. Replies to an inbound activity with an id
// are threaded; proactive turns fall back to a plain conversation post.
func (tc *TurnContext) SendActivity(ctx context.Context, activity *Activity) (string, error) {
	if tc.Activity.ID != "" {
		return tc.connector.ReplyToActivity(ctx, tc.Activity.ServiceURL, tc.Activity.Conversation.ID, tc.Activity.ID, activity)
	}
	return tc.connector.SendToConversation(ctx, tc.Activity.ServiceURL, tc.Activity.Conversation.ID, activity)
}

// SendText posts a plain text reply to the turn's conversation.
func (tc *TurnContext) SendText(ctx context.Context, text string) error {
	_, err := tc.SendActivity(ctx, tc.Activity.TextReply(text))
	return err
}

// SendCard posts a single-attachment reply to the turn's conversation.
func (tc *TurnContext) SendCard(ctx context.Context, attachment Attachment) (string, error) {
	return tc.SendActivity(ctx, tc.Activity.CardReply(attachment))
}

// UpdateActivity replaces a previously sent activity in the turn's
// conversation.
func (tc *TurnContext) UpdateActivity(ctx context.Context, activityID string, activity *Activity) error {
	return tc.connector.UpdateActivity(ctx, tc.Activity.ServiceURL, tc.Activity.Conversation.ID, activityID, activity)
}

// Adapter receives Bot Framework activities over HTTP, authenticates them,
// and dispatches to per-activity-type handlers. It fills the role the Bot
// Builder adapter plays on managed hosts.
type Adapter struct {
	logger      *slog.Logger
	connector   Connector
	validator   *TokenValidator
	verify      bool
	tenantID    string
	handlers    map[string]HandlerFunc
	middlewares []Middleware
	turnTimeout time.Duration
}

// AdapterOptions configures an Adapter.
type AdapterOptions struct {
	Connector Connector
	Validator *TokenValidator

	// VerifyInbound toggles inbound token verification. Off only for the
	// local emulator.
	VerifyInbound bool

	// TenantID, when set, drops activities from any other tenant.
	TenantID string

	// TurnTimeout bounds the processing of one activity.
	TurnTimeout time.Duration
}

// NewAdapter creates an activity adapter.
func NewAdapter(logger *slog.Logger, opts AdapterOptions) *Adapter {
	timeout := opts.TurnTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Adapter{
		logger:      logger.With("component", "adapter"),
		connector:   opts.Connector,
		validator:   opts.Validator,
		verify:      opts.VerifyInbound,
		tenantID:    opts.TenantID,
		handlers:    make(map[string]HandlerFunc),
		turnTimeout: timeout,
	}
}

// OnActivity registers a handler for an activity type. Registering the same
// type twice replaces the earlier handler.
func (a *Adapter) OnActivity(activityType string, h HandlerFunc) {
	a.handlers[activityType] = h
}

// Use appends middleware applied to every dispatched turn, outermost first.
func (a *Adapter) Use(mw ...Middleware) {
	a.middlewares = append(a.middlewares, mw...)
}

// ServeHTTP implements the /api/messages endpoint.
func (a *Adapter) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var activity Activity
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&activity); err != nil {
		a.logger.Warn("Rejecting undecodable activity", "error", err)
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	if a.verify {
		if _, err := a.validator.Validate(r.Context(), r.Header.Get("Authorization"), activity.ServiceURL); err != nil {
			a.logger.Warn("Rejecting unauthenticated activity", "error", err, "channel_id", activity.ChannelID)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
	}

	if a.tenantID != "" {
		if got := activity.TenantID(); got != "" && got != a.tenantID {
			// Acknowledge and drop; an error status would make the channel
			// retry the delivery.
			a.logger.Warn("Dropping activity from foreign tenant", "tenant_id", got)
			writeTurnResponse(w, &activity)
			return
		}
	}

	handler, ok := a.handlers[activity.Type]
	if !ok {
		a.logger.Debug("No handler for activity type", "type", activity.Type)
		writeTurnResponse(w, &activity)
		return
	}
	for i := len(a.middlewares) - 1; i >= 0; i-- {
		handler = a.middlewares[i](handler)
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), a.turnTimeout)
	defer cancel()

	tc := NewTurnContext(&activity, a.connector, a.logger.With(
		"channel_id", activity.ChannelID,
		"conversation_id", activity.Conversation.ID,
	))

	defer func() {
		if rec := recover(); rec != nil {
			a.logger.Error("Panic while processing turn",
				"panic", fmt.Sprintf("%v", rec),
				"activity_type", activity.Type,
				"conversation_id", activity.Conversation.ID)
			http.Error(w, "internal error", http.StatusInternalServerError)
		}
	}()

	handler(ctx, tc)
	writeTurnResponse(w, &activity)
}

// writeTurnResponse acknowledges the turn. Invoke activities expect a JSON
// body with a status; everything else gets an empty 200.
func writeTurnResponse(w http.ResponseWriter, activity *Activity) {
	if activity.Type == ActivityInvoke {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]any{"status": http.StatusOK})
		return
	}
	w.WriteHeader(http.StatusOK)
}

// TurnLogging returns middleware that logs every dispatched turn with its
// duration, in the shape the rest of the app logs in.
func TurnLogging(log *slog.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, tc *TurnContext) {
			start := time.Now()
			entry := log.With(
				"activity_type", tc.Activity.Type,
				"channel_id", tc.Activity.ChannelID,
				"conversation_id", tc.Activity.Conversation.ID,
				"user_id", tc.User.UserID,
				"aad_user", tc.User.IsAzureAdUserID,
			)
			entry.InfoContext(ctx, "Processing turn")
			next(ctx, tc)
			entry.InfoContext(ctx, "Finished turn", "duration", time.Since(start))
		}
	}
}
