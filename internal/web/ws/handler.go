// Package ws streams session progress events over WebSocket. Each event is
// sent as one JSON text message; the connection closes normally after the
// session's terminal event.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"

	"github.com/hugo-lorenzo-mato/rivalscope/internal/core"
	"github.com/hugo-lorenzo-mato/rivalscope/internal/events"
)

// DefaultPingInterval is the interval between protocol pings.
const DefaultPingInterval = 15 * time.Second

const writeTimeout = 10 * time.Second

// Source hands out per-session event subscriptions.
type Source interface {
	Subscribe(sessionID string) (*events.Subscription, error)
	Unsubscribe(sub *events.Subscription)
}

// Handler upgrades requests and forwards a session's events.
type Handler struct {
	source         Source
	logger         *slog.Logger
	originPatterns []string
	pingInterval   time.Duration
}

// clientMessage is what a client may send. Only ping is understood.
type clientMessage struct {
	Type string `json:"type"`
}

// NewHandler creates a WebSocket handler. originPatterns follows
// websocket.AcceptOptions; empty means same-origin only.
func NewHandler(source Source, originPatterns []string, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		source:         source,
		logger:         logger,
		originPatterns: originPatterns,
		pingInterval:   DefaultPingInterval,
	}
}

// SetPingInterval sets the keep-alive ping interval.
func (h *Handler) SetPingInterval(d time.Duration) {
	if d > 0 {
		h.pingInterval = d
	}
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	sub, err := h.source.Subscribe(sessionID)
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case core.IsCategory(err, core.ErrCatNotFound):
			status = http.StatusNotFound
		case errors.Is(err, events.ErrPublisherClosed):
			status = http.StatusServiceUnavailable
		}
		http.Error(w, err.Error(), status)
		return
	}
	defer h.source.Unsubscribe(sub)

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.originPatterns,
	})
	if err != nil {
		h.logger.Warn("websocket accept failed", "session_id", sessionID, "error", err)
		return
	}
	defer conn.CloseNow()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	go h.readLoop(ctx, cancel, conn)

	h.logger.Debug("websocket client connected", "session_id", sessionID, "remote_addr", r.RemoteAddr)

	ping := time.NewTicker(h.pingInterval)
	defer ping.Stop()

	stream := sub.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ping.C:
			pingCtx, pingCancel := context.WithTimeout(ctx, writeTimeout)
			err := conn.Ping(pingCtx)
			pingCancel()
			if err != nil {
				h.logger.Debug("websocket ping failed", "session_id", sessionID, "error", err)
				return
			}
		case ev, ok := <-stream:
			if !ok {
				if err := conn.Close(websocket.StatusNormalClosure, "session ended"); err != nil {
					h.logger.Debug("websocket close failed", "session_id", sessionID, "error", err)
				}
				return
			}
			if err := writeJSON(ctx, conn, ev); err != nil {
				h.logger.Debug("websocket write failed", "session_id", sessionID, "error", err)
				return
			}
		}
	}
}

// readLoop answers client pings and cancels the stream when the peer goes
// away. Reading is also what lets protocol pongs through.
func (h *Handler) readLoop(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn) {
	defer cancel()
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		if typ != websocket.MessageText {
			continue
		}
		var msg clientMessage
		if json.Unmarshal(data, &msg) != nil {
			continue
		}
		if msg.Type == "ping" {
			if err := writeJSON(ctx, conn, map[string]string{"type": "pong"}); err != nil {
				return
			}
		}
	}
}

func writeJSON(ctx context.Context, conn *websocket.Conn, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}

// RegisterRoutes mounts the handler at /ws on a session-scoped router.
func RegisterRoutes(r chi.Router, h *Handler) {
	r.Get("/ws", h.ServeHTTP)
}
