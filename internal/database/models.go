package database

import (
	"database/sql"
	"time"
)

// Delivery status values.
const (
	DeliveryQueued    = "queued"
	DeliverySent      = "sent"
	DeliveryFailed    = "failed"
	DeliveryAbandoned = "abandoned"
)

// Pending card status values.
const (
	PendingCardOpen     = "pending"
	PendingCardResolved = "resolved"
	PendingCardExpired  = "expired"
)

// ConversationState holds the serialized per-conversation state bags keyed
// by channel and conversation id. The dialog stack and any named property
// bags live inside Data as JSON.
type ConversationState struct {
	ChannelID      string    `db:"channel_id"`
	ConversationID string    `db:"conversation_id"`
	Data           []byte    `db:"data"`
	UpdatedAt      time.Time `db:"updated_at"`
}

// Conversation is the persisted record of a user/bot conversation, kept so
// the bot can send proactive messages after the original turn is long gone.
// It backs the in-memory conversation cache.
type Conversation struct {
	ConversationID string    `db:"conversation_id"`
	ChannelID      string    `db:"channel_id"`
	TenantID       string    `db:"tenant_id"`
	ServiceURL     string    `db:"service_url"`
	UserID         string    `db:"user_id"`
	UserAadID      string    `db:"user_aad_id"`
	UserName       string    `db:"user_name"`
	CreatedAt      time.Time `db:"created_at"`
	UpdatedAt      time.Time `db:"updated_at"`
	LastActivityAt time.Time `db:"last_activity_at"`
}

// MessageTemplate is a named Adaptive Card body with a plain-text fallback.
type MessageTemplate struct {
	ID           uint      `db:"id"`
	Name         string    `db:"name"`
	CardJSON     string    `db:"card_json"`
	TextFallback string    `db:"text_fallback"`
	CreatedAt    time.Time `db:"created_at"`
	UpdatedAt    time.Time `db:"updated_at"`
}

// PendingCard records an Adaptive Card that is waiting for an Action.Submit
// response. The correlation id travels inside the card payload and comes
// back in the submit activity's value.
type PendingCard struct {
	ID             uint   `db:"id"`
	CorrelationID  string `db:"correlation_id"`
	ConversationID string `db:"conversation_id"`
	TemplateName   string `db:"template_name"`
	Payload        string `db:"payload"`

	// ActivityID is the channel-assigned id of the sent card activity,
	// recorded after the send so the card can be updated in place once
	// it resolves.
	ActivityID string `db:"activity_id"`

	Status     string       `db:"status"`
	CreatedAt  time.Time    `db:"created_at"`
	ResolvedAt sql.NullTime `db:"resolved_at"`
}

// Delivery tracks one proactive message job from enqueue to terminal state.
type Delivery struct {
	ID             uint           `db:"id"`
	TemplateName   string         `db:"template_name"`
	ConversationID string         `db:"conversation_id"`
	Status         string         `db:"status"`
	Attempts       int            `db:"attempts"`
	LastError      sql.NullString `db:"last_error"`
	CreatedAt      time.Time      `db:"created_at"`
	UpdatedAt      time.Time      `db:"updated_at"`
}

// DeliveryStats aggregates delivery counts by status for the dashboard.
type DeliveryStats struct {
	Queued    int `db:"queued"    json:"queued"`
	Sent      int `db:"sent"      json:"sent"`
	Failed    int `db:"failed"    json:"failed"`
	Abandoned int `db:"abandoned" json:"abandoned"`
}
