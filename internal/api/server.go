// Package api provides the HTTP REST handlers for analysis sessions.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hugo-lorenzo-mato/rivalscope/internal/core"
	"github.com/hugo-lorenzo-mato/rivalscope/internal/metrics"
	"github.com/hugo-lorenzo-mato/rivalscope/internal/service"
)

// maxRequestBody bounds the size of a create-session request.
const maxRequestBody = 1 << 20

// SessionService is the part of the orchestrator the API drives.
type SessionService interface {
	StartAnalysis(ctx context.Context, req service.AnalysisRequest) (*service.StartResult, error)
	GetSessionStatus(ctx context.Context, id core.SessionID) (*core.AnalysisSession, error)
	Cancel(ctx context.Context, id core.SessionID) error
	ActiveSessions() []core.SessionID
}

// ProviderOverview reports the availability of every known provider.
type ProviderOverview interface {
	Overview(ctx context.Context) (core.GateDecision, error)
}

// SessionLister enumerates stored sessions.
type SessionLister interface {
	ListSessions(ctx context.Context) ([]core.SessionSummary, error)
}

// StatsSource reports per-provider call statistics.
type StatsSource interface {
	Stats() []metrics.ProviderStats
}

// Server holds the REST handlers.
type Server struct {
	sessions SessionService
	gate     ProviderOverview
	lister   SessionLister
	stats    StatsSource
	logger   *slog.Logger
}

// ServerOption configures the server.
type ServerOption func(*Server)

// WithLogger sets the server logger.
func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithSessionLister enables GET /sessions.
func WithSessionLister(l SessionLister) ServerOption {
	return func(s *Server) { s.lister = l }
}

// WithStats enables GET /stats.
func WithStats(src StatsSource) ServerOption {
	return func(s *Server) { s.stats = src }
}

// NewServer creates the API server.
func NewServer(sessions SessionService, gate ProviderOverview, opts ...ServerOption) *Server {
	s := &Server{
		sessions: sessions,
		gate:     gate,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Routes registers the API routes on r. Streaming routes for a session are
// mounted by the caller through extra.
func (s *Server) Routes(r chi.Router, extra func(r chi.Router)) {
	r.Route("/sessions", func(r chi.Router) {
		r.Get("/", s.handleListSessions)
		r.Post("/", s.handleCreateSession)
		r.Get("/active", s.handleActiveSessions)

		r.Route("/{sessionID}", func(r chi.Router) {
			r.Get("/", s.handleGetSession)
			r.Post("/cancel", s.handleCancelSession)
			if extra != nil {
				extra(r)
			}
		})
	})
	r.Get("/providers", s.handleProviders)
	r.Get("/stats", s.handleStats)
}

// Handler returns a standalone handler with the API routes at its root.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	s.Routes(r, nil)
	return r
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			slog.Error("failed to encode response", "error", err)
		}
	}
}

// respondError sends a JSON error response.
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
