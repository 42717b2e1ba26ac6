// Package api implements the dashboard HTTP API: login against an AAD SSO
// assertion, template management, proactive broadcasts, and delivery
// reporting for the web client.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/averol/huddlebot/internal/config"
	"github.com/averol/huddlebot/internal/database"
	"github.com/averol/huddlebot/internal/graph"
	"github.com/averol/huddlebot/internal/templates"
)

// Server holds the API's dependencies and builds its router.
type Server struct {
	logger    *slog.Logger
	cfg       config.HTTPConfig
	auth      *Authenticator
	store     database.Store
	templates *templates.Service
	queue     *templates.Queue
	graph     graph.Client
}

// NewServer creates the dashboard API server.
func NewServer(
	logger *slog.Logger,
	cfg config.HTTPConfig,
	auth *Authenticator,
	store database.Store,
	tplService *templates.Service,
	queue *templates.Queue,
	graphClient graph.Client,
) *Server {
	return &Server{
		logger:    logger.With("component", "api"),
		cfg:       cfg,
		auth:      auth,
		store:     store,
		templates: tplService,
		queue:     queue,
		graph:     graphClient,
	}
}

// Router builds the chi router with middleware and all routes configured.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(s.requestLogging)

	origins := s.cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:3000"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", s.health)
	r.Post("/api/auth/login", s.auth.Login)

	r.Route("/api", func(r chi.Router) {
		r.Use(s.auth.Middleware)

		r.Route("/templates", func(r chi.Router) {
			r.Get("/", s.listTemplates)
			r.Post("/", s.saveTemplate)
			r.Get("/{name}", s.getTemplate)
			r.Delete("/{name}", s.deleteTemplate)
		})

		r.Post("/broadcasts", s.createBroadcast)
		r.Get("/deliveries", s.listDeliveries)
		r.Get("/deliveries/stats", s.deliveryStats)
		r.Get("/conversations", s.listConversations)
		r.Get("/users", s.listUsers)
	})

	return r
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		respondError(w, http.StatusServiceUnavailable, "database unavailable")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// requestLogging logs every request in the application's slog shape.
func (s *Server) requestLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.InfoContext(r.Context(), "Handled request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", chimiddleware.GetReqID(r.Context()),
		)
	})
}

func respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
