package dialog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/averol/huddlebot/internal/database"
)

// State is the per-conversation property store for one turn. Named bags are
// loaded from storage as JSON, mutated in memory, and written back when the
// turn saves.
type State struct {
	store          database.Store
	channelID      string
	conversationID string
	bags           map[string]json.RawMessage
	dirty          bool
}

// LoadState reads the conversation's state bags from storage. A conversation
// with no stored state starts empty.
func LoadState(ctx context.Context, store database.Store, channelID, conversationID string) (*State, error) {
	s := &State{
		store:          store,
		channelID:      channelID,
		conversationID: conversationID,
		bags:           make(map[string]json.RawMessage),
	}

	data, err := store.GetConversationState(ctx, channelID, conversationID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return s, nil
		}
		return nil, err
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &s.bags); err != nil {
			return nil, fmt.Errorf("failed to decode conversation state: %w", err)
		}
	}
	return s, nil
}

// Get unmarshals a named bag into out. The boolean reports whether the bag
// exists.
func (s *State) Get(name string, out any) (bool, error) {
	raw, ok := s.bags[name]
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return true, fmt.Errorf("failed to decode state bag %q: %w", name, err)
	}
	return true, nil
}

// Set stores a named bag.
func (s *State) Set(name string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode state bag %q: %w", name, err)
	}
	s.bags[name] = raw
	s.dirty = true
	return nil
}

// Delete removes a named bag.
func (s *State) Delete(name string) {
	if _, ok := s.bags[name]; ok {
		delete(s.bags, name)
		s.dirty = true
	}
}

// Save writes the state back to storage if anything changed.
func (s *State) Save(ctx context.Context) error {
	if !s.dirty {
		return nil
	}
	data, err := json.Marshal(s.bags)
	if err != nil {
		return fmt.Errorf("failed to encode conversation state: %w", err)
	}
	if err := s.store.SaveConversationState(ctx, s.channelID, s.conversationID, data); err != nil {
		return err
	}
	s.dirty = false
	return nil
}

// ClearState removes all stored state for a conversation.
func ClearState(ctx context.Context, store database.Store, channelID, conversationID string) error {
	return store.DeleteConversationState(ctx, channelID, conversationID)
}
