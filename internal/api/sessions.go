package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/hugo-lorenzo-mato/rivalscope/internal/core"
	"github.com/hugo-lorenzo-mato/rivalscope/internal/service"
)

// IdempotencyHeader may carry the idempotency key instead of the body.
const IdempotencyHeader = "Idempotency-Key"

// gateDeniedResponse is returned with 403 when admission is refused.
type gateDeniedResponse struct {
	Error        string            `json:"error"`
	GateDecision core.GateDecision `json:"gate_decision"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req service.AnalysisRequest
	body := http.MaxBytesReader(w, r.Body, maxRequestBody)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		if errors.Is(err, io.EOF) {
			respondError(w, http.StatusBadRequest, "request body required")
			return
		}
		respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = strings.TrimSpace(r.Header.Get(IdempotencyHeader))
	}

	res, err := s.sessions.StartAnalysis(r.Context(), req)
	if err != nil {
		if core.IsCategory(err, core.ErrCatGate) && res != nil {
			respondJSON(w, http.StatusForbidden, gateDeniedResponse{
				Error:        err.Error(),
				GateDecision: res.GateDecision,
			})
			return
		}
		s.respondDomainError(w, err)
		return
	}

	status := http.StatusCreated
	if res.Replayed {
		status = http.StatusOK
	}
	w.Header().Set("Location", "/api/v1/sessions/"+string(res.SessionID))
	respondJSON(w, status, res)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := core.SessionID(chi.URLParam(r, "sessionID"))
	session, err := s.sessions.GetSessionStatus(r.Context(), id)
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, session)
}

func (s *Server) handleCancelSession(w http.ResponseWriter, r *http.Request) {
	id := core.SessionID(chi.URLParam(r, "sessionID"))
	if err := s.sessions.Cancel(r.Context(), id); err != nil {
		s.respondDomainError(w, err)
		return
	}
	s.logger.Info("session cancel requested", "session_id", id)
	respondJSON(w, http.StatusAccepted, map[string]string{
		"session_id": string(id),
		"status":     "cancelling",
	})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	if s.lister == nil {
		respondError(w, http.StatusNotImplemented, "session store cannot list sessions")
		return
	}
	sessions, err := s.lister.ListSessions(r.Context())
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	if sessions == nil {
		sessions = []core.SessionSummary{}
	}
	respondJSON(w, http.StatusOK, sessions)
}

func (s *Server) handleActiveSessions(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string][]core.SessionID{
		"sessions": s.sessions.ActiveSessions(),
	})
}

func (s *Server) handleProviders(w http.ResponseWriter, r *http.Request) {
	decision, err := s.gate.Overview(r.Context())
	if err != nil {
		s.logger.Warn("provider overview failed", "error", err)
		respondError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, decision)
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	if s.stats == nil {
		respondError(w, http.StatusNotImplemented, "stats not enabled")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"providers": s.stats.Stats(),
	})
}
