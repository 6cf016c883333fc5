package events

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
)

// DefaultSubjectPrefix is the subject root for forwarded events.
const DefaultSubjectPrefix = "rivalscope.sessions"

// MessagePublisher is the subset of *nats.Conn the forwarder needs.
type MessagePublisher interface {
	Publish(subject string, data []byte) error
}

// NATSForwarder republishes progress events as JSON on
// <prefix>.<session id>.<event type>.
type NATSForwarder struct {
	conn   MessagePublisher
	prefix string
	logger *slog.Logger
	closer func()
}

// NewNATSForwarder wraps an existing connection.
func NewNATSForwarder(conn MessagePublisher, prefix string, logger *slog.Logger) *NATSForwarder {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &NATSForwarder{
		conn:   conn,
		prefix: strings.TrimSuffix(prefix, "."),
		logger: logger,
	}
}

// ConnectNATS dials url and returns a forwarder that owns the connection.
func ConnectNATS(url, prefix string, logger *slog.Logger) (*NATSForwarder, error) {
	nc, err := nats.Connect(url,
		nats.Name("rivalscope"),
		nats.MaxReconnects(5),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	f := NewNATSForwarder(nc, prefix, logger)
	f.closer = nc.Close
	return f, nil
}

// Subject returns the subject an event is published on.
func (f *NATSForwarder) Subject(ev Event) string {
	return f.prefix + "." + ev.SessionID() + "." + ev.EventType()
}

// Forward publishes ev. nats.Conn buffers writes, so this does not wait on the network.
func (f *NATSForwarder) Forward(ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		f.logger.Warn("encoding event for NATS", "type", ev.EventType(), "error", err)
		return
	}
	if err := f.conn.Publish(f.Subject(ev), data); err != nil {
		f.logger.Warn("publishing event to NATS", "type", ev.EventType(), "session", ev.SessionID(), "error", err)
	}
}

// Close closes the connection when the forwarder dialed it.
func (f *NATSForwarder) Close() {
	if f.closer != nil {
		f.closer()
	}
}
