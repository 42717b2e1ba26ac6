// Package cache implements the in-memory conversation cache that maps
// conversation ids to the user and routing data needed for proactive
// messages. Entries are populated lazily from incoming activities, written
// through to storage, and swept by TTL.
package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/averol/huddlebot/internal/database"
	"github.com/averol/huddlebot/internal/teams"
)

// UserConversation is the cached pairing of a user and their conversation,
// enough to address a proactive message without an inbound turn.
type UserConversation struct {
	ConversationID string
	ChannelID      string
	TenantID       string
	ServiceURL     string
	UserID         string
	UserAadID      string
	UserName       string
}

type entry struct {
	data     *UserConversation
	cachedAt time.Time
}

// ConversationCache is a TTL-bounded in-memory cache over the conversations
// table. Reads miss through to storage; writes go through to storage.
type ConversationCache struct {
	store  database.Store
	ttl    time.Duration
	logger *slog.Logger

	mu      sync.RWMutex
	entries map[string]entry
}

// New creates a conversation cache with the given TTL.
func New(store database.Store, ttl time.Duration, logger *slog.Logger) *ConversationCache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &ConversationCache{
		store:   store,
		ttl:     ttl,
		logger:  logger.With("component", "conversation_cache"),
		entries: make(map[string]entry),
	}
}

// Get returns the cached record for a conversation, loading it from storage
// on a miss. Returns database.ErrNotFound when the conversation is unknown.
func (c *ConversationCache) Get(ctx context.Context, conversationID string) (*UserConversation, error) {
	c.mu.RLock()
	e, ok := c.entries[conversationID]
	c.mu.RUnlock()

	if ok && time.Since(e.cachedAt) < c.ttl {
		return e.data, nil
	}

	conv, err := c.store.GetConversation(ctx, conversationID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to load conversation %q: %w", conversationID, err)
	}

	data := &UserConversation{
		ConversationID: conv.ConversationID,
		ChannelID:      conv.ChannelID,
		TenantID:       conv.TenantID,
		ServiceURL:     conv.ServiceURL,
		UserID:         conv.UserID,
		UserAadID:      conv.UserAadID,
		UserName:       conv.UserName,
	}

	c.mu.Lock()
	c.entries[conversationID] = entry{data: data, cachedAt: time.Now()}
	c.mu.Unlock()

	return data, nil
}

// Observe records the conversation data carried by an inbound activity,
// refreshing the cache and writing through to storage.
func (c *ConversationCache) Observe(ctx context.Context, activity *teams.Activity) error {
	if activity.Conversation.ID == "" || activity.ServiceURL == "" {
		return fmt.Errorf("activity is missing conversation id or service url")
	}

	user := teams.ParseBotUserInfo(activity.From)
	data := &UserConversation{
		ConversationID: activity.Conversation.ID,
		ChannelID:      activity.ChannelID,
		TenantID:       activity.TenantID(),
		ServiceURL:     activity.ServiceURL,
		UserID:         activity.From.ID,
		UserName:       user.UserName,
	}
	if user.IsAzureAdUserID {
		data.UserAadID = user.UserID
	}

	conv := &database.Conversation{
		ConversationID: data.ConversationID,
		ChannelID:      data.ChannelID,
		TenantID:       data.TenantID,
		ServiceURL:     data.ServiceURL,
		UserID:         data.UserID,
		UserAadID:      data.UserAadID,
		UserName:       data.UserName,
	}
	if err := c.store.UpsertConversation(ctx, conv); err != nil {
		return fmt.Errorf("failed to persist conversation: %w", err)
	}

	c.mu.Lock()
	c.entries[data.ConversationID] = entry{data: data, cachedAt: time.Now()}
	c.mu.Unlock()

	return nil
}

// Invalidate drops a conversation from the cache, for example when the bot
// is removed from the conversation.
func (c *ConversationCache) Invalidate(conversationID string) {
	c.mu.Lock()
	delete(c.entries, conversationID)
	c.mu.Unlock()
}

// Sweep removes expired entries and returns how many were dropped. Storage
// rows are untouched; only the in-memory layer ages out.
func (c *ConversationCache) Sweep() int {
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for id, e := range c.entries {
		if now.Sub(e.cachedAt) >= c.ttl {
			delete(c.entries, id)
			removed++
		}
	}
	if removed > 0 {
		c.logger.Debug("Swept expired cache entries", "removed", removed, "remaining", len(c.entries))
	}
	return removed
}

// Len reports the number of live entries.
func (c *ConversationCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
