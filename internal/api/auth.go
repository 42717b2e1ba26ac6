package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/averol/huddlebot/internal/config"
	"github.com/averol/huddlebot/internal/teams"
)

// sessionIssuer is the issuer claim stamped on dashboard session tokens.
const sessionIssuer = "huddlebot"

type contextKey string

const userContextKey contextKey = "api.user"

// SessionUser identifies the signed-in dashboard user.
type SessionUser struct {
	ID   string
	Name string
}

// UserFromContext returns the authenticated dashboard user, if any.
func UserFromContext(ctx context.Context) (SessionUser, bool) {
	u, ok := ctx.Value(userContextKey).(SessionUser)
	return u, ok
}

type sessionClaims struct {
	Name string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// Authenticator exchanges AAD SSO assertions for short-lived HS256 session
// tokens and guards the dashboard endpoints.
type Authenticator struct {
	secret     []byte
	ttl        time.Duration
	assertions *teams.TokenValidator
	logger     *slog.Logger
}

// NewAuthenticator creates the dashboard authenticator. assertions validates
// the inbound AAD SSO token the Teams tab hands the dashboard client.
func NewAuthenticator(cfg config.HTTPConfig, assertions *teams.TokenValidator, logger *slog.Logger) *Authenticator {
	return &Authenticator{
		secret:     []byte(cfg.JWTSecret),
		ttl:        cfg.TokenTTL,
		assertions: assertions,
		logger:     logger.With("component", "api_auth"),
	}
}

type loginRequest struct {
	Assertion string `json:"assertion"`
}

type loginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
	Name      string    `json:"name,omitempty"`
}

// Login implements POST /api/auth/login: validate the SSO assertion and
// issue a session token.
func (a *Authenticator) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Assertion == "" {
		respondError(w, http.StatusBadRequest, "assertion is required")
		return
	}

	claims, err := a.assertions.Validate(r.Context(), "Bearer "+req.Assertion, "")
	if err != nil {
		a.logger.WarnContext(r.Context(), "Rejected login assertion", "error", err)
		respondError(w, http.StatusUnauthorized, "invalid assertion")
		return
	}

	subject, _ := claims["oid"].(string)
	if subject == "" {
		subject, _ = claims["sub"].(string)
	}
	if subject == "" {
		respondError(w, http.StatusUnauthorized, "assertion has no subject")
		return
	}
	name, _ := claims["name"].(string)
	if name == "" {
		name, _ = claims["preferred_username"].(string)
	}

	token, expiresAt, err := a.issueSession(subject, name)
	if err != nil {
		a.logger.ErrorContext(r.Context(), "Failed to issue session token", "error", err)
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}

	a.logger.InfoContext(r.Context(), "Dashboard login", "user_id", subject)
	respondJSON(w, http.StatusOK, loginResponse{Token: token, ExpiresAt: expiresAt, Name: name})
}

func (a *Authenticator) issueSession(subject, name string) (string, time.Time, error) {
	now := time.Now().UTC()
	expiresAt := now.Add(a.ttl)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, sessionClaims{
		Name: name,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    sessionIssuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	})
	signed, err := token.SignedString(a.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign session token: %w", err)
	}
	return signed, expiresAt, nil
}

// Middleware rejects requests without a valid session token and stores the
// session user on the request context.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || raw == "" {
			respondError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}

		claims := &sessionClaims{}
		_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %q", t.Method.Alg())
			}
			return a.secret, nil
		},
			jwt.WithValidMethods([]string{"HS256"}),
			jwt.WithIssuer(sessionIssuer),
			jwt.WithExpirationRequired(),
		)
		if err != nil {
			respondError(w, http.StatusUnauthorized, "invalid session token")
			return
		}

		user := SessionUser{ID: claims.Subject, Name: claims.Name}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userContextKey, user)))
	})
}
