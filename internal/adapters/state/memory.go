package state

import (
	"context"
	"sync"
	"time"

	"github.com/hugo-lorenzo-mato/rivalscope/internal/core"
)

// MemoryStore implements core.SessionStore in process memory. Sessions are
// cloned on the way in and out so callers never share state with the store.
type MemoryStore struct {
	mu        sync.RWMutex
	sessions  map[core.SessionID]*core.AnalysisSession
	retention time.Duration
	now       func() time.Time
}

// MemoryStoreOption configures a MemoryStore.
type MemoryStoreOption func(*MemoryStore)

// WithRetention evicts terminal sessions older than d on each CreateSession.
// Zero keeps sessions for the process lifetime.
func WithRetention(d time.Duration) MemoryStoreOption {
	return func(m *MemoryStore) {
		m.retention = d
	}
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(opts ...MemoryStoreOption) *MemoryStore {
	m := &MemoryStore{
		sessions: make(map[core.SessionID]*core.AnalysisSession),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// CreateSession stores a new session.
func (m *MemoryStore) CreateSession(_ context.Context, s *core.AnalysisSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sweepLocked()
	if _, exists := m.sessions[s.ID]; exists {
		return core.ErrConflict(core.CodeSessionExists, "session already exists: "+string(s.ID))
	}
	m.sessions[s.ID] = s.Clone()
	return nil
}

// AppendResult records one provider result.
func (m *MemoryStore) AppendResult(_ context.Context, id core.SessionID, r *core.ProviderResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return core.ErrNotFound("session", string(id))
	}
	s.ProviderResults = append(s.ProviderResults, r.Clone())
	s.UpdatedAt = m.now().UTC()
	return nil
}

// SaveAggregate records the merged result of one target.
func (m *MemoryStore) SaveAggregate(_ context.Context, id core.SessionID, a *core.AggregatedResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return core.ErrNotFound("session", string(id))
	}
	if s.PerTargetResults == nil {
		s.PerTargetResults = make(map[string]*core.AggregatedResult)
	}
	s.PerTargetResults[a.Target] = a.Clone()
	s.UpdatedAt = m.now().UTC()
	return nil
}

// FinalizeSession writes the terminal status. Results already stored are kept.
func (m *MemoryStore) FinalizeSession(_ context.Context, s *core.AnalysisSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.sessions[s.ID]
	if !ok {
		return core.ErrNotFound("session", string(s.ID))
	}
	if cur.Status.IsTerminal() {
		return core.ErrInvalidTransition(cur.Status, s.Status)
	}
	cur.Status = s.Status
	cur.FailureReason = s.FailureReason
	cur.CostTotal = s.CostTotal
	cur.CostByProvider = append([]core.ProviderCost(nil), s.CostByProvider...)
	cur.UpdatedAt = s.UpdatedAt
	if s.CompletedAt != nil {
		t := *s.CompletedAt
		cur.CompletedAt = &t
	}
	for target, agg := range s.PerTargetResults {
		if _, ok := cur.PerTargetResults[target]; !ok {
			cur.PerTargetResults[target] = agg.Clone()
		}
	}
	return nil
}

// GetSession returns a copy of the session.
func (m *MemoryStore) GetSession(_ context.Context, id core.SessionID) (*core.AnalysisSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, core.ErrNotFound("session", string(id))
	}
	return s.Clone(), nil
}

// FindByIdempotencyKey returns the newest session with key created at or after since.
func (m *MemoryStore) FindByIdempotencyKey(_ context.Context, key string, since time.Time) (*core.AnalysisSession, error) {
	if key == "" {
		return nil, nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var found *core.AnalysisSession
	for _, s := range m.sessions {
		if s.IdempotencyKey != key || s.CreatedAt.Before(since) {
			continue
		}
		if found == nil || s.CreatedAt.After(found.CreatedAt) {
			found = s
		}
	}
	if found == nil {
		return nil, nil
	}
	return found.Clone(), nil
}

// ListSessions returns summaries of all stored sessions, newest first.
func (m *MemoryStore) ListSessions(_ context.Context) ([]core.SessionSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]core.SessionSummary, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s.Summary())
	}
	sortSummaries(out)
	return out, nil
}

// Len returns the number of stored sessions.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Close is a no-op.
func (m *MemoryStore) Close() error {
	return nil
}

func (m *MemoryStore) sweepLocked() {
	if m.retention <= 0 {
		return
	}
	cutoff := m.now().Add(-m.retention)
	for id, s := range m.sessions {
		if s.Status.IsTerminal() && s.CompletedAt != nil && s.CompletedAt.Before(cutoff) {
			delete(m.sessions, id)
		}
	}
}

// snapshot returns copies of every session. Used by FileStore.
func (m *MemoryStore) snapshot() []*core.AnalysisSession {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*core.AnalysisSession, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s.Clone())
	}
	return out
}

func (m *MemoryStore) load(sessions []*core.AnalysisSession) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range sessions {
		if s.PerTargetResults == nil {
			s.PerTargetResults = make(map[string]*core.AggregatedResult)
		}
		m.sessions[s.ID] = s
	}
}
