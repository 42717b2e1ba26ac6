package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// Store defines the interface for database operations. Methods accept
// context.Context for cancellation and timeouts.
type Store interface {
	// Ping checks the database connection.
	Ping(ctx context.Context) error

	// Conversation state operations.
	GetConversationState(ctx context.Context, channelID, conversationID string) ([]byte, error)
	SaveConversationState(ctx context.Context, channelID, conversationID string, data []byte) error
	DeleteConversationState(ctx context.Context, channelID, conversationID string) error

	// Conversation reference operations (proactive messaging bookkeeping).
	UpsertConversation(ctx context.Context, conv *Conversation) error
	GetConversation(ctx context.Context, conversationID string) (*Conversation, error)
	ListConversations(ctx context.Context) ([]*Conversation, error)
	DeleteConversation(ctx context.Context, conversationID string) error

	// Message template operations.
	SaveTemplate(ctx context.Context, tpl *MessageTemplate) error
	GetTemplateByName(ctx context.Context, name string) (*MessageTemplate, error)
	ListTemplates(ctx context.Context) ([]*MessageTemplate, error)
	DeleteTemplate(ctx context.Context, name string) error

	// Pending card operations.
	SavePendingCard(ctx context.Context, card *PendingCard) error
	GetPendingCard(ctx context.Context, correlationID string) (*PendingCard, error)
	AttachPendingCardActivity(ctx context.Context, correlationID, activityID string) error
	ResolvePendingCard(ctx context.Context, correlationID string) error
	ExpirePendingCardsBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// Delivery operations.
	CreateDelivery(ctx context.Context, d *Delivery) (uint, error)
	UpdateDelivery(ctx context.Context, id uint, status string, attempts int, lastError string) error
	ListDeliveriesByStatus(ctx context.Context, status string, limit int) ([]*Delivery, error)
	GetDeliveryStats(ctx context.Context) (*DeliveryStats, error)

	// RunSQLMaintenance performs database maintenance tasks like VACUUM.
	RunSQLMaintenance(ctx context.Context) error
}

// sqlxStore provides an implementation of the Store interface using sqlx.
type sqlxStore struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStore creates a Store implementation backed by sqlx. It requires a
// connected sqlx.DB instance and a logger.
func NewStore(db *sqlx.DB, logger *slog.Logger) Store {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &sqlxStore{
		db:     db,
		logger: logger.With("component", "store"),
	}
}

func (s *sqlxStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *sqlxStore) GetConversationState(ctx context.Context, channelID, conversationID string) ([]byte, error) {
	var state ConversationState
	err := s.db.GetContext(ctx, &state,
		`SELECT channel_id, conversation_id, data, updated_at
		   FROM conversation_state
		  WHERE channel_id = ? AND conversation_id = ?`,
		channelID, conversationID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get conversation state: %w", err)
	}
	return state.Data, nil
}

func (s *sqlxStore) SaveConversationState(ctx context.Context, channelID, conversationID string, data []byte) error {
	if channelID == "" || conversationID == "" {
		return fmt.Errorf("conversation state requires channel and conversation ids")
	}
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversation_state (channel_id, conversation_id, data, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (channel_id, conversation_id)
		 DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		channelID, conversationID, data, now)
	if err != nil {
		return fmt.Errorf("failed to save conversation state: %w", err)
	}
	return nil
}

func (s *sqlxStore) DeleteConversationState(ctx context.Context, channelID, conversationID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM conversation_state WHERE channel_id = ? AND conversation_id = ?`,
		channelID, conversationID)
	if err != nil {
		return fmt.Errorf("failed to delete conversation state: %w", err)
	}
	return nil
}

func (s *sqlxStore) UpsertConversation(ctx context.Context, conv *Conversation) error {
	if conv == nil {
		return fmt.Errorf("cannot save nil conversation")
	}
	if conv.ConversationID == "" {
		return fmt.Errorf("conversation must have a non-empty conversation_id")
	}
	if conv.ServiceURL == "" {
		return fmt.Errorf("conversation must have a non-empty service_url")
	}

	now := time.Now().UTC()
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = now
	}
	conv.UpdatedAt = now
	if conv.LastActivityAt.IsZero() {
		conv.LastActivityAt = now
	}

	_, err := s.db.NamedExecContext(ctx,
		`INSERT INTO conversations
		   (conversation_id, channel_id, tenant_id, service_url, user_id, user_aad_id, user_name,
		    created_at, updated_at, last_activity_at)
		 VALUES (:conversation_id, :channel_id, :tenant_id, :service_url, :user_id, :user_aad_id, :user_name,
		    :created_at, :updated_at, :last_activity_at)
		 ON CONFLICT (conversation_id)
		 DO UPDATE SET
		    channel_id = excluded.channel_id,
		    tenant_id = excluded.tenant_id,
		    service_url = excluded.service_url,
		    user_id = excluded.user_id,
		    user_aad_id = excluded.user_aad_id,
		    user_name = excluded.user_name,
		    updated_at = excluded.updated_at,
		    last_activity_at = excluded.last_activity_at`,
		conv)
	if err != nil {
		return fmt.Errorf("failed to upsert conversation: %w", err)
	}
	return nil
}

func (s *sqlxStore) GetConversation(ctx context.Context, conversationID string) (*Conversation, error) {
	var conv Conversation
	err := s.db.GetContext(ctx, &conv,
		`SELECT * FROM conversations WHERE conversation_id = ?`, conversationID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}
	return &conv, nil
}

func (s *sqlxStore) ListConversations(ctx context.Context) ([]*Conversation, error) {
	var convs []*Conversation
	err := s.db.SelectContext(ctx, &convs,
		`SELECT * FROM conversations ORDER BY last_activity_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	return convs, nil
}

func (s *sqlxStore) DeleteConversation(ctx context.Context, conversationID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM conversations WHERE conversation_id = ?`, conversationID)
	if err != nil {
		return fmt.Errorf("failed to delete conversation: %w", err)
	}
	return nil
}

func (s *sqlxStore) SaveTemplate(ctx context.Context, tpl *MessageTemplate) error {
	if tpl == nil {
		return fmt.Errorf("cannot save nil template")
	}
	if tpl.Name == "" {
		return fmt.Errorf("template must have a non-empty name")
	}

	now := time.Now().UTC()
	if tpl.CreatedAt.IsZero() {
		tpl.CreatedAt = now
	}
	tpl.UpdatedAt = now

	_, err := s.db.NamedExecContext(ctx,
		`INSERT INTO message_templates (name, card_json, text_fallback, created_at, updated_at)
		 VALUES (:name, :card_json, :text_fallback, :created_at, :updated_at)
		 ON CONFLICT (name)
		 DO UPDATE SET
		    card_json = excluded.card_json,
		    text_fallback = excluded.text_fallback,
		    updated_at = excluded.updated_at`,
		tpl)
	if err != nil {
		return fmt.Errorf("failed to save template: %w", err)
	}
	return nil
}

func (s *sqlxStore) GetTemplateByName(ctx context.Context, name string) (*MessageTemplate, error) {
	var tpl MessageTemplate
	err := s.db.GetContext(ctx, &tpl,
		`SELECT * FROM message_templates WHERE name = ?`, name)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get template: %w", err)
	}
	return &tpl, nil
}

func (s *sqlxStore) ListTemplates(ctx context.Context) ([]*MessageTemplate, error) {
	var tpls []*MessageTemplate
	err := s.db.SelectContext(ctx, &tpls,
		`SELECT * FROM message_templates ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list templates: %w", err)
	}
	return tpls, nil
}

func (s *sqlxStore) DeleteTemplate(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM message_templates WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("failed to delete template: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *sqlxStore) SavePendingCard(ctx context.Context, card *PendingCard) error {
	if card == nil {
		return fmt.Errorf("cannot save nil pending card")
	}
	if card.CorrelationID == "" {
		return fmt.Errorf("pending card must have a non-empty correlation_id")
	}
	if card.Status == "" {
		card.Status = PendingCardOpen
	}
	if card.CreatedAt.IsZero() {
		card.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.NamedExecContext(ctx,
		`INSERT INTO pending_cards
		   (correlation_id, conversation_id, template_name, payload, activity_id, status, created_at)
		 VALUES (:correlation_id, :conversation_id, :template_name, :payload, :activity_id, :status, :created_at)`,
		card)
	if err != nil {
		return fmt.Errorf("failed to save pending card: %w", err)
	}
	return nil
}

func (s *sqlxStore) AttachPendingCardActivity(ctx context.Context, correlationID, activityID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE pending_cards SET activity_id = ? WHERE correlation_id = ?`,
		activityID, correlationID)
	if err != nil {
		return fmt.Errorf("failed to attach activity to pending card: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *sqlxStore) GetPendingCard(ctx context.Context, correlationID string) (*PendingCard, error) {
	var card PendingCard
	err := s.db.GetContext(ctx, &card,
		`SELECT * FROM pending_cards WHERE correlation_id = ?`, correlationID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get pending card: %w", err)
	}
	return &card, nil
}

func (s *sqlxStore) ResolvePendingCard(ctx context.Context, correlationID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE pending_cards
		    SET status = ?, resolved_at = ?
		  WHERE correlation_id = ? AND status = ?`,
		PendingCardResolved, time.Now().UTC(), correlationID, PendingCardOpen)
	if err != nil {
		return fmt.Errorf("failed to resolve pending card: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *sqlxStore) ExpirePendingCardsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE pending_cards
		    SET status = ?
		  WHERE status = ? AND created_at < ?`,
		PendingCardExpired, PendingCardOpen, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to expire pending cards: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count expired pending cards: %w", err)
	}
	return n, nil
}

func (s *sqlxStore) CreateDelivery(ctx context.Context, d *Delivery) (uint, error) {
	if d == nil {
		return 0, fmt.Errorf("cannot create nil delivery")
	}
	if d.ConversationID == "" {
		return 0, fmt.Errorf("delivery must have a non-empty conversation_id")
	}
	if d.Status == "" {
		d.Status = DeliveryQueued
	}

	now := time.Now().UTC()
	d.CreatedAt = now
	d.UpdatedAt = now

	res, err := s.db.NamedExecContext(ctx,
		`INSERT INTO deliveries
		   (template_name, conversation_id, status, attempts, last_error, created_at, updated_at)
		 VALUES (:template_name, :conversation_id, :status, :attempts, :last_error, :created_at, :updated_at)`,
		d)
	if err != nil {
		return 0, fmt.Errorf("failed to create delivery: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read delivery id: %w", err)
	}
	return uint(id), nil
}

func (s *sqlxStore) UpdateDelivery(ctx context.Context, id uint, status string, attempts int, lastError string) error {
	lastErr := sql.NullString{String: lastError, Valid: lastError != ""}
	_, err := s.db.ExecContext(ctx,
		`UPDATE deliveries
		    SET status = ?, attempts = ?, last_error = ?, updated_at = ?
		  WHERE id = ?`,
		status, attempts, lastErr, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update delivery: %w", err)
	}
	return nil
}

func (s *sqlxStore) ListDeliveriesByStatus(ctx context.Context, status string, limit int) ([]*Delivery, error) {
	if limit <= 0 {
		limit = 100
	}
	var ds []*Delivery
	err := s.db.SelectContext(ctx, &ds,
		`SELECT * FROM deliveries WHERE status = ? ORDER BY created_at LIMIT ?`,
		status, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list deliveries: %w", err)
	}
	return ds, nil
}

func (s *sqlxStore) GetDeliveryStats(ctx context.Context) (*DeliveryStats, error) {
	var stats DeliveryStats
	err := s.db.GetContext(ctx, &stats,
		`SELECT
		   COUNT(CASE WHEN status = 'queued' THEN 1 END) AS queued,
		   COUNT(CASE WHEN status = 'sent' THEN 1 END) AS sent,
		   COUNT(CASE WHEN status = 'failed' THEN 1 END) AS failed,
		   COUNT(CASE WHEN status = 'abandoned' THEN 1 END) AS abandoned
		 FROM deliveries`)
	if err != nil {
		return nil, fmt.Errorf("failed to get delivery stats: %w", err)
	}
	return &stats, nil
}

func (s *sqlxStore) RunSQLMaintenance(ctx context.Context) error {
	s.logger.InfoContext(ctx, "Running SQL maintenance")
	if _, err := s.db.ExecContext(ctx, `VACUUM`); err != nil {
		return fmt.Errorf("vacuum failed: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `ANALYZE`); err != nil {
		return fmt.Errorf("analyze failed: %w", err)
	}
	return nil
}
