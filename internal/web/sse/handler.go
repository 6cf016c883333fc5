// Package sse streams session progress events to HTTP clients as
// Server-Sent Events.
package sse

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hugo-lorenzo-mato/rivalscope/internal/core"
	"github.com/hugo-lorenzo-mato/rivalscope/internal/events"
)

// DefaultHeartbeat is the interval between keep-alive comments.
const DefaultHeartbeat = 15 * time.Second

// Source hands out per-session event subscriptions.
type Source interface {
	Subscribe(sessionID string) (*events.Subscription, error)
	Unsubscribe(sub *events.Subscription)
}

// Handler streams the events of one session to each connected client.
type Handler struct {
	source        Source
	logger        *slog.Logger
	mu            sync.Mutex
	clients       map[*client]struct{}
	heartbeatFreq time.Duration
}

type client struct {
	session string
	done    chan struct{}
	closed  bool
}

// NewHandler creates an SSE handler reading from source.
func NewHandler(source Source, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		source:        source,
		logger:        logger,
		clients:       make(map[*client]struct{}),
		heartbeatFreq: DefaultHeartbeat,
	}
}

// SetHeartbeatFrequency sets the interval between heartbeat comments.
func (h *Handler) SetHeartbeatFrequency(d time.Duration) {
	if d > 0 {
		h.heartbeatFreq = d
	}
}

// ServeHTTP streams events for the session named by the sessionID route
// parameter until the session ends or the client goes away.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	sessionID := chi.URLParam(r, "sessionID")
	sub, err := h.source.Subscribe(sessionID)
	if err != nil {
		status := subscribeStatus(err)
		http.Error(w, err.Error(), status)
		return
	}
	defer h.source.Unsubscribe(sub)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	c := &client{session: sessionID, done: make(chan struct{})}
	h.addClient(c)
	defer h.removeClient(c)

	h.logger.Debug("sse client connected", "session_id", sessionID, "remote_addr", r.RemoteAddr)

	heartbeat := time.NewTicker(h.heartbeatFreq)
	defer heartbeat.Stop()

	ctx := r.Context()
	stream := sub.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case <-heartbeat.C:
			sendComment(w, flusher, "heartbeat")
		case ev, ok := <-stream:
			if !ok {
				h.logger.Debug("sse stream finished", "session_id", sessionID)
				return
			}
			if err := sendEvent(w, flusher, ev); err != nil {
				h.logger.Warn("sse write failed", "session_id", sessionID, "error", err)
				return
			}
		}
	}
}

// subscribeStatus maps a subscription error to an HTTP status.
func subscribeStatus(err error) int {
	switch {
	case core.IsCategory(err, core.ErrCatNotFound):
		return http.StatusNotFound
	case errors.Is(err, events.ErrPublisherClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func sendEvent(w http.ResponseWriter, flusher http.Flusher, ev events.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.EventType(), data); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}

func sendComment(w http.ResponseWriter, flusher http.Flusher, comment string) {
	fmt.Fprintf(w, ": %s\n\n", comment)
	flusher.Flush()
}

func (h *Handler) addClient(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}
}

func (h *Handler) removeClient(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, c)
	if !c.closed {
		c.closed = true
		close(c.done)
	}
}

// ClientCount returns the number of connected clients.
func (h *Handler) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Shutdown disconnects every client so the HTTP server can drain.
func (h *Handler) Shutdown(_ context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		if !c.closed {
			c.closed = true
			close(c.done)
		}
	}
	h.clients = make(map[*client]struct{})
	return nil
}

// RegisterRoutes mounts the handler at /events on a session-scoped router.
func RegisterRoutes(r chi.Router, h *Handler) {
	r.Get("/events", h.ServeHTTP)
}
