package templates_test

import (
	"encoding/json"
	"testing"

	"github.com/averol/huddlebot/internal/templates"
)

func TestCardAttachment(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{name: "Valid card", input: `{"type":"AdaptiveCard","version":"1.4","body":[]}`},
		{name: "Empty input falls back to empty card", input: ""},
		{name: "Whitespace only falls back", input: "   "},
		{name: "Invalid JSON", input: `{"type":`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			att, err := templates.CardAttachment(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("CardAttachment() error = %v", err)
			}
			if att.ContentType != templates.AdaptiveCardContentType {
				t.Errorf("ContentType = %q, want %q", att.ContentType, templates.AdaptiveCardContentType)
			}
			if !json.Valid(att.Content) {
				t.Errorf("attachment content is not valid JSON: %s", att.Content)
			}
		})
	}
}

func TestWithCorrelationInjectsSubmitData(t *testing.T) {
	t.Parallel()

	card := `{
		"type": "AdaptiveCard",
		"version": "1.4",
		"body": [{"type": "TextBlock", "text": "Approve?"}],
		"actions": [
			{"type": "Action.Submit", "title": "Approve", "data": {"action": "approve"}},
			{"type": "Action.Submit", "title": "Reject"},
			{"type": "Action.OpenUrl", "title": "Details", "url": "https://example.com"}
		]
	}`

	out, err := templates.WithCorrelation(card, "corr-123")
	if err != nil {
		t.Fatalf("WithCorrelation() error = %v", err)
	}

	var parsed struct {
		Actions []struct {
			Type string         `json:"type"`
			Data map[string]any `json:"data"`
		} `json:"actions"`
	}
	if err := json.Unmarshal([]byte(out), &parsed); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}

	for _, action := range parsed.Actions {
		id, hasID := action.Data["correlationId"]
		switch action.Type {
		case "Action.Submit":
			if !hasID || id != "corr-123" {
				t.Errorf("submit action data = %v, want correlationId corr-123", action.Data)
			}
		default:
			if hasID {
				t.Errorf("non-submit action got correlation id: %v", action.Data)
			}
		}
	}

	// Existing data keys survive.
	if got := parsed.Actions[0].Data["action"]; got != "approve" {
		t.Errorf("existing data key lost, action = %v", got)
	}
}

func TestParseSubmitValue(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		value         string
		wantCorrID    string
		wantAction    string
		wantErr       bool
	}{
		{
			name:       "Full payload",
			value:      `{"correlationId":"corr-1","action":"approve"}`,
			wantCorrID: "corr-1",
			wantAction: "approve",
		},
		{
			name:       "Correlation only",
			value:      `{"correlationId":"corr-2"}`,
			wantCorrID: "corr-2",
		},
		{name: "Empty value", value: "", wantErr: true},
		{name: "Malformed value", value: "not json", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			sv, err := templates.ParseSubmitValue(json.RawMessage(tt.value))
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseSubmitValue() error = %v", err)
			}
			if sv.CorrelationID != tt.wantCorrID {
				t.Errorf("CorrelationID = %q, want %q", sv.CorrelationID, tt.wantCorrID)
			}
			if sv.Action != tt.wantAction {
				t.Errorf("Action = %q, want %q", sv.Action, tt.wantAction)
			}
		})
	}
}
