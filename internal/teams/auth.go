package teams

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/golang-jwt/jwt/v5"
)

const (
	// botFrameworkScope is the OAuth scope for outbound connector calls.
	botFrameworkScope = "https://api.botframework.com/.default"

	// botFrameworkIssuer is the expected issuer of inbound channel tokens.
	botFrameworkIssuer = "https://api.botframework.com"

	// botFrameworkKeysURL serves the signing keys for inbound channel tokens.
	botFrameworkKeysURL = "https://login.botframework.com/v1/.well-known/keys"

	// botLoginTenant is the AAD tenant used for multi-tenant bot registrations.
	botLoginTenant = "botframework.com"

	jwksRefreshInterval = 24 * time.Hour
)

// NewBotCredential creates the AAD client credential used for outbound
// connector calls. tenantID may be empty for multi-tenant registrations.
func NewBotCredential(appID, appPassword, tenantID string) (azcore.TokenCredential, error) {
	if tenantID == "" {
		tenantID = botLoginTenant
	}
	cred, err := azidentity.NewClientSecretCredential(tenantID, appID, appPassword, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot credential: %w", err)
	}
	return cred, nil
}

type jsonWebKey struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Use string `json:"use"`
	N   string `json:"n"`
	E   string `json:"e"`
}

type jsonWebKeySet struct {
	Keys []jsonWebKey `json:"keys"`
}

// TokenValidator verifies RS256 bearer tokens against a published JWKS.
// Keys are cached and refreshed periodically. The default constructor
// targets the Bot Framework channel keys; NewAADTokenValidator targets the
// AAD keys for validating user SSO assertions.
type TokenValidator struct {
	appID   string
	keysURL string
	issuer  string
	client  *http.Client
	logger  *slog.Logger

	mu        sync.RWMutex
	keys      map[string]*rsa.PublicKey
	fetchedAt time.Time
}

// NewTokenValidator creates a validator for inbound channel requests to the
// given bot app id.
func NewTokenValidator(appID string, logger *slog.Logger) *TokenValidator {
	return &TokenValidator{
		appID:   appID,
		keysURL: botFrameworkKeysURL,
		issuer:  botFrameworkIssuer,
		client:  &http.Client{Timeout: 10 * time.Second},
		logger:  logger.With("component", "token_validator"),
	}
}

// NewAADTokenValidator creates a validator for user SSO assertions issued by
// Azure AD for the bot application. With an empty tenant id the issuer claim
// is not pinned, which is only appropriate for multi-tenant registrations.
func NewAADTokenValidator(appID, tenantID string, logger *slog.Logger) *TokenValidator {
	keysTenant := tenantID
	if keysTenant == "" {
		keysTenant = "common"
	}
	v := &TokenValidator{
		appID:   appID,
		keysURL: fmt.Sprintf("https://login.microsoftonline.com/%s/discovery/v2.0/keys", keysTenant),
		client:  &http.Client{Timeout: 10 * time.Second},
		logger:  logger.With("component", "aad_token_validator"),
	}
	if tenantID != "" {
		v.issuer = fmt.Sprintf("https://login.microsoftonline.com/%s/v2.0", tenantID)
	}
	return v
}

// Validate checks a bearer Authorization header. It verifies the RS256
// signature against the published keys plus the audience, issuer, and
// serviceurl claims, and returns the token claims on success. serviceURL may
// be empty when the token carries no serviceurl claim (AAD assertions).
func (v *TokenValidator) Validate(ctx context.Context, authHeader, serviceURL string) (jwt.MapClaims, error) {
	raw, ok := strings.CutPrefix(authHeader, "Bearer ")
	if !ok || raw == "" {
		return nil, fmt.Errorf("missing bearer token")
	}

	opts := []jwt.ParserOption{
		jwt.WithAudience(v.appID),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(5 * time.Minute),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	token, err := jwt.Parse(raw, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unexpected signing method %q", t.Method.Alg())
		}
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, fmt.Errorf("token has no kid header")
		}
		return v.keyForKid(ctx, kid)
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("token validation failed: %w", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("unexpected claims type")
	}
	if claimedURL, _ := claims["serviceurl"].(string); claimedURL != "" && serviceURL != "" {
		if strings.TrimSuffix(claimedURL, "/") != strings.TrimSuffix(serviceURL, "/") {
			return nil, fmt.Errorf("serviceurl claim %q does not match activity service url %q", claimedURL, serviceURL)
		}
	}
	return claims, nil
}

func (v *TokenValidator) keyForKid(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	v.mu.RLock()
	key, found := v.keys[kid]
	fresh := time.Since(v.fetchedAt) < jwksRefreshInterval
	v.mu.RUnlock()

	if found && fresh {
		return key, nil
	}

	if err := v.refreshKeys(ctx); err != nil {
		// A stale key beats no key when the refresh endpoint is down.
		if found {
			v.logger.WarnContext(ctx, "JWKS refresh failed, using cached key", "error", err, "kid", kid)
			return key, nil
		}
		return nil, err
	}

	v.mu.RLock()
	defer v.mu.RUnlock()
	key, found = v.keys[kid]
	if !found {
		return nil, fmt.Errorf("no signing key for kid %q", kid)
	}
	return key, nil
}

func (v *TokenValidator) refreshKeys(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.keysURL, nil)
	if err != nil {
		return fmt.Errorf("failed to build JWKS request: %w", err)
	}
	resp, err := v.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to fetch JWKS: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("JWKS endpoint returned status %d", resp.StatusCode)
	}

	var set jsonWebKeySet
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		return fmt.Errorf("failed to decode JWKS: %w", err)
	}

	keys := make(map[string]*rsa.PublicKey, len(set.Keys))
	for _, k := range set.Keys {
		if k.Kty != "RSA" || k.Kid == "" {
			continue
		}
		pub, err := parseRSAKey(k)
		if err != nil {
			v.logger.Warn("Skipping unparsable JWKS key", "kid", k.Kid, "error", err)
			continue
		}
		keys[k.Kid] = pub
	}
	if len(keys) == 0 {
		return fmt.Errorf("JWKS contained no usable RSA keys")
	}

	v.mu.Lock()
	v.keys = keys
	v.fetchedAt = time.Now()
	v.mu.Unlock()

	v.logger.Debug("Refreshed Bot Framework signing keys", "count", len(keys))
	return nil
}

func parseRSAKey(k jsonWebKey) (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(k.N)
	if err != nil {
		return nil, fmt.Errorf("bad modulus: %w", err)
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(k.E)
	if err != nil {
		return nil, fmt.Errorf("bad exponent: %w", err)
	}
	e := 0
	for _, b := range eBytes {
		e = e<<8 | int(b)
	}
	if e <= 0 {
		return nil, fmt.Errorf("non-positive exponent")
	}
	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(nBytes),
		E: e,
	}, nil
}

// connectorToken fetches an access token for outbound connector calls.
func connectorToken(ctx context.Context, cred azcore.TokenCredential) (string, error) {
	tk, err := cred.GetToken(ctx, policy.TokenRequestOptions{Scopes: []string{botFrameworkScope}})
	if err != nil {
		return "", fmt.Errorf("failed to acquire connector token: %w", err)
	}
	return tk.Token, nil
}
