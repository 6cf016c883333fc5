package core

import (
	"time"

	"github.com/google/uuid"
)

// SessionID uniquely identifies an analysis session.
type SessionID string

// NewSessionID generates a fresh session identifier.
func NewSessionID() SessionID {
	return SessionID("as-" + uuid.NewString())
}

// SessionStatus is the lifecycle state of an analysis session.
type SessionStatus string

const (
	SessionPending   SessionStatus = "pending"
	SessionRunning   SessionStatus = "running"
	SessionCompleted SessionStatus = "completed"
	SessionFailed    SessionStatus = "failed"
)

// Failure reasons recorded on a failed session.
const (
	ReasonCancelled          = "cancelled"
	ReasonTimeout            = "timeout"
	ReasonAllProvidersFailed = "all_providers_failed"
)

// IsTerminal reports whether no further transitions are possible.
func (s SessionStatus) IsTerminal() bool {
	return s == SessionCompleted || s == SessionFailed
}

// CanTransitionTo reports whether moving from s to next is a forward move.
// pending may jump straight to failed (cancel before dispatch).
func (s SessionStatus) CanTransitionTo(next SessionStatus) bool {
	switch s {
	case SessionPending:
		return next == SessionRunning || next == SessionFailed
	case SessionRunning:
		return next == SessionCompleted || next == SessionFailed
	default:
		return false
	}
}

// AnalysisSession is one end-to-end analysis request covering one or more targets.
type AnalysisSession struct {
	ID                SessionID                    `json:"id"`
	Targets           []string                     `json:"targets"`
	SelectedProviders []string                     `json:"selected_providers"`
	Status            SessionStatus                `json:"status"`
	FailureReason     string                       `json:"failure_reason,omitempty"`
	PerTargetResults  map[string]*AggregatedResult `json:"per_target_results"`
	ProviderResults   []*ProviderResult            `json:"provider_results,omitempty"`
	CostTotal         float64                      `json:"cost_total_usd"`
	CostByProvider    []ProviderCost               `json:"cost_by_provider,omitempty"`
	IdempotencyKey    string                       `json:"idempotency_key,omitempty"`
	CreatedAt         time.Time                    `json:"created_at"`
	UpdatedAt         time.Time                    `json:"updated_at"`
	CompletedAt       *time.Time                   `json:"completed_at,omitempty"`
}

// ProviderCost is the spend of one provider within a session.
type ProviderCost struct {
	Provider string  `json:"provider"`
	CostUSD  float64 `json:"cost_usd"`
	Attempts int     `json:"attempts"`
}

// NewAnalysisSession creates a pending session for the given targets and providers.
func NewAnalysisSession(targets, providers []string, idempotencyKey string) *AnalysisSession {
	now := time.Now().UTC()
	return &AnalysisSession{
		ID:                NewSessionID(),
		Targets:           append([]string(nil), targets...),
		SelectedProviders: append([]string(nil), providers...),
		Status:            SessionPending,
		PerTargetResults:  make(map[string]*AggregatedResult),
		IdempotencyKey:    idempotencyKey,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

// Transition moves the session forward. Terminal transitions stamp CompletedAt once.
func (s *AnalysisSession) Transition(next SessionStatus, reason string) error {
	if !s.Status.CanTransitionTo(next) {
		return ErrInvalidTransition(s.Status, next)
	}
	now := time.Now().UTC()
	s.Status = next
	s.UpdatedAt = now
	if next.IsTerminal() {
		s.CompletedAt = &now
		s.FailureReason = reason
	}
	return nil
}

// Clone returns a deep copy suitable for handing to readers outside the owner.
func (s *AnalysisSession) Clone() *AnalysisSession {
	if s == nil {
		return nil
	}
	c := *s
	c.Targets = append([]string(nil), s.Targets...)
	c.SelectedProviders = append([]string(nil), s.SelectedProviders...)
	c.CostByProvider = append([]ProviderCost(nil), s.CostByProvider...)
	c.PerTargetResults = make(map[string]*AggregatedResult, len(s.PerTargetResults))
	for k, v := range s.PerTargetResults {
		c.PerTargetResults[k] = v.Clone()
	}
	c.ProviderResults = make([]*ProviderResult, 0, len(s.ProviderResults))
	for _, r := range s.ProviderResults {
		c.ProviderResults = append(c.ProviderResults, r.Clone())
	}
	if s.CompletedAt != nil {
		t := *s.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

// SessionSummary is a lightweight view of a session for listings and snapshots.
type SessionSummary struct {
	ID              SessionID     `json:"id"`
	Status          SessionStatus `json:"status"`
	FailureReason   string        `json:"failure_reason,omitempty"`
	Targets         []string      `json:"targets"`
	TargetsResolved int           `json:"targets_resolved"`
	CostTotal       float64       `json:"cost_total_usd"`
	CreatedAt       time.Time     `json:"created_at"`
	CompletedAt     *time.Time    `json:"completed_at,omitempty"`
}

// Summary builds the summary view of the session.
func (s *AnalysisSession) Summary() SessionSummary {
	return SessionSummary{
		ID:              s.ID,
		Status:          s.Status,
		FailureReason:   s.FailureReason,
		Targets:         append([]string(nil), s.Targets...),
		TargetsResolved: len(s.PerTargetResults),
		CostTotal:       s.CostTotal,
		CreatedAt:       s.CreatedAt,
		CompletedAt:     s.CompletedAt,
	}
}
