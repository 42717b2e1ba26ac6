package templates

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/averol/huddlebot/internal/database"
	"github.com/averol/huddlebot/internal/teams"
)

// Service manages message templates and renders them into sendable
// Adaptive Card attachments.
type Service struct {
	store  database.Store
	logger *slog.Logger
}

// NewService creates a template service.
func NewService(store database.Store, logger *slog.Logger) *Service {
	return &Service{
		store:  store,
		logger: logger.With("component", "template_service"),
	}
}

// Save creates or replaces a named template. Card JSON may be empty (the
// template renders as an empty card) but when present it must be valid JSON.
func (s *Service) Save(ctx context.Context, name, cardJSON, textFallback string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("template name is required")
	}
	if body := strings.TrimSpace(cardJSON); body != "" && !json.Valid([]byte(body)) {
		return fmt.Errorf("template %q card body is not valid JSON", name)
	}

	tpl := &database.MessageTemplate{
		Name:         name,
		CardJSON:     cardJSON,
		TextFallback: textFallback,
	}
	if err := s.store.SaveTemplate(ctx, tpl); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "Template saved", "name", name)
	return nil
}

// Get returns a template by name.
func (s *Service) Get(ctx context.Context, name string) (*database.MessageTemplate, error) {
	return s.store.GetTemplateByName(ctx, name)
}

// List returns all templates ordered by name.
func (s *Service) List(ctx context.Context) ([]*database.MessageTemplate, error) {
	return s.store.ListTemplates(ctx)
}

// Delete removes a template by name.
func (s *Service) Delete(ctx context.Context, name string) error {
	if err := s.store.DeleteTemplate(ctx, name); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "Template deleted", "name", name)
	return nil
}

// Render loads a template and produces the attachment to send. When
// correlationID is non-empty it is injected into the card's submit actions.
// The text fallback accompanies the card for channels that cannot render it.
func (s *Service) Render(ctx context.Context, name, correlationID string) (teams.Attachment, string, error) {
	tpl, err := s.store.GetTemplateByName(ctx, name)
	if err != nil {
		return teams.Attachment{}, "", err
	}

	cardJSON := tpl.CardJSON
	if correlationID != "" {
		cardJSON, err = WithCorrelation(cardJSON, correlationID)
		if err != nil {
			return teams.Attachment{}, "", fmt.Errorf("failed to prepare card %q: %w", name, err)
		}
	}

	attachment, err := CardAttachment(cardJSON)
	if err != nil {
		return teams.Attachment{}, "", fmt.Errorf("failed to render card %q: %w", name, err)
	}
	return attachment, tpl.TextFallback, nil
}
