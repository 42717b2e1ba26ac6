// Package graph wraps the Microsoft Graph SDK for the directory lookups the
// bot and dashboard need. All calls run through a circuit breaker so a
// flapping tenant doesn't stall bot turns.
package graph

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	msgraphsdk "github.com/microsoftgraph/msgraph-sdk-go"
	"github.com/microsoftgraph/msgraph-sdk-go/models"
	"github.com/microsoftgraph/msgraph-sdk-go/users"
	"github.com/sony/gobreaker"

	"github.com/averol/huddlebot/internal/config"
)

// ErrDisabled is returned when Graph integration is turned off in config.
var ErrDisabled = errors.New("graph integration is disabled")

var graphScopes = []string{"https://graph.microsoft.com/.default"}

// UserProfile is the subset of a directory user the application consumes.
type UserProfile struct {
	ID             string `json:"id"`
	DisplayName    string `json:"display_name"`
	Mail           string `json:"mail"`
	JobTitle       string `json:"job_title"`
	OfficeLocation string `json:"office_location"`
}

// Client defines the Graph operations used by dialogues and the dashboard.
type Client interface {
	// GetUser looks up a directory user by AAD object id.
	GetUser(ctx context.Context, aadObjectID string) (*UserProfile, error)

	// ListUsers returns up to top directory users for the roster view.
	ListUsers(ctx context.Context, top int32) ([]*UserProfile, error)
}

// sdkClient implements Client over the Graph SDK with a circuit breaker.
type sdkClient struct {
	graph   *msgraphsdk.GraphServiceClient
	breaker *gobreaker.CircuitBreaker
	logger  *slog.Logger
}

// NewClient creates a Graph client from config. When Graph is disabled a
// stub returning ErrDisabled is handed out so callers degrade gracefully.
func NewClient(cfg config.GraphConfig, logger *slog.Logger) (Client, error) {
	log := logger.With("component", "graph_client")

	if !cfg.Enabled {
		log.Info("Graph integration disabled")
		return disabledClient{}, nil
	}

	cred, err := azidentity.NewClientSecretCredential(cfg.TenantID, cfg.ClientID, cfg.ClientSecret, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create graph credential: %w", err)
	}

	client, err := msgraphsdk.NewGraphServiceClientWithCredentials(cred, graphScopes)
	if err != nil {
		return nil, fmt.Errorf("failed to create graph client: %w", err)
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "msgraph",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("Graph circuit breaker state change", "from", from.String(), "to", to.String())
		},
	})

	log.Info("Graph client initialized", "tenant_id", cfg.TenantID)
	return &sdkClient{graph: client, breaker: breaker, logger: log}, nil
}

func (c *sdkClient) GetUser(ctx context.Context, aadObjectID string) (*UserProfile, error) {
	if aadObjectID == "" {
		return nil, fmt.Errorf("aad object id is required")
	}

	result, err := c.breaker.Execute(func() (any, error) {
		return c.graph.Users().ByUserId(aadObjectID).Get(ctx, nil)
	})
	if err != nil {
		return nil, fmt.Errorf("graph user lookup failed: %w", err)
	}

	user, ok := result.(models.Userable)
	if !ok || user == nil {
		return nil, fmt.Errorf("graph returned unexpected user payload")
	}
	return fromUserable(user), nil
}

func (c *sdkClient) ListUsers(ctx context.Context, top int32) ([]*UserProfile, error) {
	if top <= 0 || top > 999 {
		top = 50
	}

	cfg := &users.UsersRequestBuilderGetRequestConfiguration{
		QueryParameters: &users.UsersRequestBuilderGetQueryParameters{
			Top:    &top,
			Select: []string{"id", "displayName", "mail", "jobTitle", "officeLocation"},
		},
	}

	result, err := c.breaker.Execute(func() (any, error) {
		return c.graph.Users().Get(ctx, cfg)
	})
	if err != nil {
		return nil, fmt.Errorf("graph user list failed: %w", err)
	}

	page, ok := result.(models.UserCollectionResponseable)
	if !ok || page == nil {
		return nil, fmt.Errorf("graph returned unexpected user collection payload")
	}

	values := page.GetValue()
	profiles := make([]*UserProfile, 0, len(values))
	for _, u := range values {
		profiles = append(profiles, fromUserable(u))
	}
	return profiles, nil
}

func fromUserable(u models.Userable) *UserProfile {
	p := &UserProfile{}
	if v := u.GetId(); v != nil {
		p.ID = *v
	}
	if v := u.GetDisplayName(); v != nil {
		p.DisplayName = *v
	}
	if v := u.GetMail(); v != nil {
		p.Mail = *v
	}
	if v := u.GetJobTitle(); v != nil {
		p.JobTitle = *v
	}
	if v := u.GetOfficeLocation(); v != nil {
		p.OfficeLocation = *v
	}
	return p
}

// disabledClient satisfies Client when Graph integration is off.
type disabledClient struct{}

func (disabledClient) GetUser(context.Context, string) (*UserProfile, error) {
	return nil, ErrDisabled
}

func (disabledClient) ListUsers(context.Context, int32) ([]*UserProfile, error) {
	return nil, ErrDisabled
}
