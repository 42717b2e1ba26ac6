package teams

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
)

// Connector posts activities back to the channel through the Bot Framework
// connector REST API.
type Connector interface {
	// SendToConversation posts an activity to an existing conversation and
	// returns the id the channel assigned to it.
	SendToConversation(ctx context.Context, serviceURL, conversationID string, activity *Activity) (string, error)

	// ReplyToActivity posts an activity as a threaded reply.
	ReplyToActivity(ctx context.Context, serviceURL, conversationID, activityID string, activity *Activity) (string, error)

	// UpdateActivity replaces a previously sent activity, used to swap an
	// Adaptive Card for its resolved version.
	UpdateActivity(ctx context.Context, serviceURL, conversationID, activityID string, activity *Activity) error

	// CreateConversation opens a new one-on-one conversation with a user and
	// returns the new conversation id. Required for proactive messages to
	// users the bot has no open conversation with.
	CreateConversation(ctx context.Context, serviceURL, tenantID string, bot, user ChannelAccount) (string, error)
}

type conversationParams struct {
	Bot         ChannelAccount   `json:"bot"`
	Members     []ChannelAccount `json:"members"`
	IsGroup     bool             `json:"isGroup"`
	TenantID    string           `json:"tenantId,omitempty"`
	ChannelData json.RawMessage  `json:"channelData,omitempty"`
}

type resourceResponse struct {
	ID string `json:"id"`
}

// restConnector implements Connector over HTTP with AAD bearer tokens.
type restConnector struct {
	cred   azcore.TokenCredential
	client *http.Client
	logger *slog.Logger
}

// NewConnector creates a connector client using the given bot credential.
func NewConnector(cred azcore.TokenCredential, timeout time.Duration, logger *slog.Logger) Connector {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &restConnector{
		cred:   cred,
		client: &http.Client{Timeout: timeout},
		logger: logger.With("component", "connector"),
	}
}

func (c *restConnector) SendToConversation(ctx context.Context, serviceURL, conversationID string, activity *Activity) (string, error) {
	endpoint, err := conversationURL(serviceURL, conversationID, "activities")
	if err != nil {
		return "", err
	}
	var res resourceResponse
	if err := c.do(ctx, http.MethodPost, endpoint, activity, &res); err != nil {
		return "", fmt.Errorf("failed to send activity: %w", err)
	}
	return res.ID, nil
}

func (c *restConnector) ReplyToActivity(ctx context.Context, serviceURL, conversationID, activityID string, activity *Activity) (string, error) {
	endpoint, err := conversationURL(serviceURL, conversationID, "activities", activityID)
	if err != nil {
		return "", err
	}
	var res resourceResponse
	if err := c.do(ctx, http.MethodPost, endpoint, activity, &res); err != nil {
		return "", fmt.Errorf("failed to reply to activity: %w", err)
	}
	return res.ID, nil
}

func (c *restConnector) UpdateActivity(ctx context.Context, serviceURL, conversationID, activityID string, activity *Activity) error {
	endpoint, err := conversationURL(serviceURL, conversationID, "activities", activityID)
	if err != nil {
		return err
	}
	if err := c.do(ctx, http.MethodPut, endpoint, activity, nil); err != nil {
		return fmt.Errorf("failed to update activity: %w", err)
	}
	return nil
}

func (c *restConnector) CreateConversation(ctx context.Context, serviceURL, tenantID string, bot, user ChannelAccount) (string, error) {
	base, err := url.Parse(serviceURL)
	if err != nil {
		return "", fmt.Errorf("invalid service url %q: %w", serviceURL, err)
	}
	endpoint := base.JoinPath("v3", "conversations").String()

	params := conversationParams{
		Bot:      bot,
		Members:  []ChannelAccount{user},
		TenantID: tenantID,
	}
	var res resourceResponse
	if err := c.do(ctx, http.MethodPost, endpoint, params, &res); err != nil {
		return "", fmt.Errorf("failed to create conversation: %w", err)
	}
	if res.ID == "" {
		return "", fmt.Errorf("connector returned empty conversation id")
	}
	return res.ID, nil
}

func (c *restConnector) do(ctx context.Context, method, endpoint string, body, out any) error {
	token, err := connectorToken(ctx, c.cred)
	if err != nil {
		return err
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("connector request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return &ConnectorError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(detail))}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		// Some connector endpoints return an empty body on success.
		if err == io.EOF {
			return nil
		}
		return fmt.Errorf("failed to decode connector response: %w", err)
	}
	return nil
}

// ConnectorError is a non-2xx response from the connector API. Callers use
// Transient to decide whether a retry is worthwhile.
type ConnectorError struct {
	StatusCode int
	Body       string
}

func (e *ConnectorError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("connector returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("connector returned status %d: %s", e.StatusCode, e.Body)
}

// Transient reports whether the failure is worth retrying.
func (e *ConnectorError) Transient() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

func conversationURL(serviceURL, conversationID string, parts ...string) (string, error) {
	if serviceURL == "" {
		return "", fmt.Errorf("service url is empty")
	}
	if conversationID == "" {
		return "", fmt.Errorf("conversation id is empty")
	}
	base, err := url.Parse(serviceURL)
	if err != nil {
		return "", fmt.Errorf("invalid service url %q: %w", serviceURL, err)
	}
	segments := append([]string{"v3", "conversations", conversationID}, parts...)
	return base.JoinPath(segments...).String(), nil
}
