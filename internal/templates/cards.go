// Package templates implements message template management: Adaptive Card
// rendering, pending-card correlation, and the proactive batch queue.
package templates

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/averol/huddlebot/internal/teams"
)

// AdaptiveCardContentType is the attachment content type Teams expects for
// Adaptive Cards.
const AdaptiveCardContentType = "application/vnd.microsoft.card.adaptive"

// correlationKey is the Action.Submit data key used to pair a submit
// activity with its pending card record.
const correlationKey = "correlationId"

// emptyCardJSON is the fallback body used when a template has no card JSON.
const emptyCardJSON = `{"type":"AdaptiveCard","version":"1.4","body":[]}`

// CardAttachment wraps card JSON in a Teams attachment. Empty input falls
// back to an empty Adaptive Card rather than failing the send.
func CardAttachment(cardJSON string) (teams.Attachment, error) {
	body := strings.TrimSpace(cardJSON)
	if body == "" {
		body = emptyCardJSON
	}
	if !json.Valid([]byte(body)) {
		return teams.Attachment{}, fmt.Errorf("card body is not valid JSON")
	}
	return teams.Attachment{
		ContentType: AdaptiveCardContentType,
		Content:     json.RawMessage(body),
	}, nil
}

// WithCorrelation injects the correlation id into the data payload of every
// top-level Action.Submit in the card, so the id comes back in the submit
// activity's value.
func WithCorrelation(cardJSON, correlationID string) (string, error) {
	body := strings.TrimSpace(cardJSON)
	if body == "" {
		body = emptyCardJSON
	}

	var card map[string]any
	if err := json.Unmarshal([]byte(body), &card); err != nil {
		return "", fmt.Errorf("failed to parse card JSON: %w", err)
	}

	actions, _ := card["actions"].([]any)
	for _, raw := range actions {
		action, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		if t, _ := action["type"].(string); t != "Action.Submit" {
			continue
		}
		data, ok := action["data"].(map[string]any)
		if !ok {
			data = make(map[string]any)
		}
		data[correlationKey] = correlationID
		action["data"] = data
	}

	out, err := json.Marshal(card)
	if err != nil {
		return "", fmt.Errorf("failed to encode card JSON: %w", err)
	}
	return string(out), nil
}

// SubmitValue is the portion of an Action.Submit payload the bot reads.
type SubmitValue struct {
	CorrelationID string `json:"correlationId"`
	Action        string `json:"action,omitempty"`
}

// ParseSubmitValue extracts the submit payload from an activity value.
func ParseSubmitValue(value json.RawMessage) (*SubmitValue, error) {
	if len(value) == 0 {
		return nil, fmt.Errorf("activity has no value payload")
	}
	var sv SubmitValue
	if err := json.Unmarshal(value, &sv); err != nil {
		return nil, fmt.Errorf("failed to parse submit payload: %w", err)
	}
	return &sv, nil
}
