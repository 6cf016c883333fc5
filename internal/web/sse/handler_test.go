package sse

import (
	"bufio"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hugo-lorenzo-mato/rivalscope/internal/core"
	"github.com/hugo-lorenzo-mato/rivalscope/internal/events"
)

type frame struct {
	event string
	data  string
}

func newTestServer(t *testing.T, session *core.AnalysisSession, heartbeat time.Duration) (*httptest.Server, *events.Publisher, *Handler) {
	t.Helper()
	pub := events.NewPublisher(events.WithSnapshot(func(sid string) (events.Event, bool, error) {
		if sid != string(session.ID) {
			return nil, false, core.ErrNotFound("session", sid)
		}
		return events.NewSnapshotEvent(session.Clone()), false, nil
	}))
	h := NewHandler(pub, nil)
	h.SetHeartbeatFrequency(heartbeat)

	r := chi.NewRouter()
	r.Route("/sessions/{sessionID}", func(r chi.Router) {
		RegisterRoutes(r, h)
	})
	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		srv.Close()
		pub.Close()
	})
	return srv, pub, h
}

func open(t *testing.T, url string) (*http.Response, *bufio.Reader) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	t.Cleanup(cancel)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp, bufio.NewReader(resp.Body)
}

// readFrame returns the next event frame. Comments come back with event
// "comment".
func readFrame(t *testing.T, r *bufio.Reader) frame {
	t.Helper()
	var f frame
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\n")
		switch {
		case line == "":
			if f.event != "" || f.data != "" {
				return f
			}
		case strings.HasPrefix(line, ":"):
			return frame{event: "comment", data: strings.TrimSpace(line[1:])}
		case strings.HasPrefix(line, "event: "):
			f.event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			f.data = strings.TrimPrefix(line, "data: ")
		}
	}
}

func TestHandler_StreamsUntilTerminal(t *testing.T) {
	session := core.NewAnalysisSession([]string{"Acme"}, []string{"openai"}, "")
	srv, pub, h := newTestServer(t, session, time.Minute)

	resp, reader := open(t, srv.URL+"/sessions/"+string(session.ID)+"/events")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	assert.Equal(t, "no-cache", resp.Header.Get("Cache-Control"))

	first := readFrame(t, reader)
	assert.Equal(t, events.TypeSnapshot, first.event)
	assert.Contains(t, first.data, string(session.ID))
	assert.Eventually(t, func() bool { return h.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	pub.Publish(events.NewProviderDispatchedEvent(session.ID, "openai", "Acme"))
	pub.Publish(events.NewSessionCompletedEvent(session.ID, 0.02, time.Second))

	dispatched := readFrame(t, reader)
	assert.Equal(t, events.TypeProviderDispatched, dispatched.event)
	assert.Contains(t, dispatched.data, `"provider":"openai"`)
	assert.Equal(t, events.TypeSessionCompleted, readFrame(t, reader).event)

	rest, err := io.ReadAll(reader)
	require.NoError(t, err)
	assert.Empty(t, strings.TrimSpace(string(rest)))
	assert.Eventually(t, func() bool { return h.ClientCount() == 0 }, time.Second, 10*time.Millisecond)
}

func TestHandler_Heartbeat(t *testing.T) {
	session := core.NewAnalysisSession([]string{"Acme"}, []string{"openai"}, "")
	srv, _, _ := newTestServer(t, session, 20*time.Millisecond)

	_, reader := open(t, srv.URL+"/sessions/"+string(session.ID)+"/events")
	assert.Equal(t, events.TypeSnapshot, readFrame(t, reader).event)

	hb := readFrame(t, reader)
	assert.Equal(t, frame{event: "comment", data: "heartbeat"}, hb)
}

func TestHandler_UnknownSession(t *testing.T) {
	session := core.NewAnalysisSession([]string{"Acme"}, []string{"openai"}, "")
	srv, _, h := newTestServer(t, session, time.Minute)

	resp, _ := open(t, srv.URL+"/sessions/as-missing/events")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, 0, h.ClientCount())
}

func TestHandler_ShutdownDisconnects(t *testing.T) {
	session := core.NewAnalysisSession([]string{"Acme"}, []string{"openai"}, "")
	srv, _, h := newTestServer(t, session, time.Minute)

	_, reader := open(t, srv.URL+"/sessions/"+string(session.ID)+"/events")
	readFrame(t, reader)
	require.Eventually(t, func() bool { return h.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, h.Shutdown(context.Background()))
	_, err := io.ReadAll(reader)
	assert.NoError(t, err)
	assert.Equal(t, 0, h.ClientCount())
}
