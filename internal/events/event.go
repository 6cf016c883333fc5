// Package events carries analysis progress from the orchestrator to
// subscribers. Each session has its own subscriber set; slow subscribers lose
// their oldest events and are told how many were dropped.
package events

import (
	"time"

	"github.com/hugo-lorenzo-mato/rivalscope/internal/core"
)

// Event type constants.
const (
	TypeSnapshot           = "snapshot"
	TypeSessionCreated     = "session_created"
	TypeSessionStarted     = "session_started"
	TypeProviderDispatched = "provider_dispatched"
	TypeProviderRetry      = "provider_retry"
	TypeProviderCompleted  = "provider_completed"
	TypeProviderFailed     = "provider_failed"
	TypeTargetAggregated   = "target_aggregated"
	TypeSessionCompleted   = "session_completed"
	TypeSessionFailed      = "session_failed"
	TypeEventsDropped      = "events_dropped"
)

// IsTerminalType reports whether an event type ends a session's stream.
func IsTerminalType(eventType string) bool {
	return eventType == TypeSessionCompleted || eventType == TypeSessionFailed
}

// Event is the base interface for all events.
type Event interface {
	EventType() string
	Timestamp() time.Time
	SessionID() string
}

// BaseEvent provides common fields for all events.
type BaseEvent struct {
	Type    string    `json:"type"`
	Time    time.Time `json:"timestamp"`
	Session string    `json:"session_id"`
}

func (e BaseEvent) EventType() string    { return e.Type }
func (e BaseEvent) Timestamp() time.Time { return e.Time }
func (e BaseEvent) SessionID() string    { return e.Session }

// NewBaseEvent creates a new base event.
func NewBaseEvent(eventType string, sessionID core.SessionID) BaseEvent {
	return BaseEvent{
		Type:    eventType,
		Time:    time.Now(),
		Session: string(sessionID),
	}
}

// SnapshotEvent carries the full session view and is always the first event
// a new subscriber receives.
type SnapshotEvent struct {
	BaseEvent
	View *core.AnalysisSession `json:"session"`
}

// NewSnapshotEvent creates a snapshot of s. The caller must pass a copy.
func NewSnapshotEvent(s *core.AnalysisSession) SnapshotEvent {
	return SnapshotEvent{BaseEvent: NewBaseEvent(TypeSnapshot, s.ID), View: s}
}

// SessionCreatedEvent is emitted once the gate approved a session.
type SessionCreatedEvent struct {
	BaseEvent
	Targets   []string          `json:"targets"`
	Providers []string          `json:"providers"`
	Gate      core.GateDecision `json:"gate_decision"`
}

// NewSessionCreatedEvent creates a session created event.
func NewSessionCreatedEvent(id core.SessionID, targets, providers []string, gate core.GateDecision) SessionCreatedEvent {
	return SessionCreatedEvent{
		BaseEvent: NewBaseEvent(TypeSessionCreated, id),
		Targets:   targets,
		Providers: providers,
		Gate:      gate,
	}
}

// SessionStartedEvent is emitted when the first provider call is dispatched.
type SessionStartedEvent struct {
	BaseEvent
	TotalCalls int `json:"total_calls"`
}

// NewSessionStartedEvent creates a session started event.
func NewSessionStartedEvent(id core.SessionID, totalCalls int) SessionStartedEvent {
	return SessionStartedEvent{BaseEvent: NewBaseEvent(TypeSessionStarted, id), TotalCalls: totalCalls}
}

// ProviderDispatchedEvent is emitted when a (target, provider) call begins.
type ProviderDispatchedEvent struct {
	BaseEvent
	Provider string `json:"provider"`
	Target   string `json:"target"`
}

// NewProviderDispatchedEvent creates a provider dispatched event.
func NewProviderDispatchedEvent(id core.SessionID, provider, target string) ProviderDispatchedEvent {
	return ProviderDispatchedEvent{
		BaseEvent: NewBaseEvent(TypeProviderDispatched, id),
		Provider:  provider,
		Target:    target,
	}
}

// ProviderRetryEvent is emitted before a retry wait.
type ProviderRetryEvent struct {
	BaseEvent
	Provider string         `json:"provider"`
	Target   string         `json:"target"`
	Attempt  int            `json:"attempt"`
	Kind     core.ErrorKind `json:"kind"`
	Delay    time.Duration  `json:"delay_ns"`
}

// NewProviderRetryEvent creates a provider retry event.
func NewProviderRetryEvent(id core.SessionID, provider, target string, attempt int, kind core.ErrorKind, delay time.Duration) ProviderRetryEvent {
	return ProviderRetryEvent{
		BaseEvent: NewBaseEvent(TypeProviderRetry, id),
		Provider:  provider,
		Target:    target,
		Attempt:   attempt,
		Kind:      kind,
		Delay:     delay,
	}
}

// ProviderCompletedEvent is emitted when a provider returned usable fields.
type ProviderCompletedEvent struct {
	BaseEvent
	Provider   string        `json:"provider"`
	Target     string        `json:"target"`
	Attempt    int           `json:"attempt"`
	Confidence float64       `json:"confidence"`
	CostUSD    float64       `json:"cost_usd"`
	Duration   time.Duration `json:"duration_ns"`
}

// NewProviderCompletedEvent creates a provider completed event from a result.
func NewProviderCompletedEvent(id core.SessionID, r *core.ProviderResult) ProviderCompletedEvent {
	return ProviderCompletedEvent{
		BaseEvent:  NewBaseEvent(TypeProviderCompleted, id),
		Provider:   r.Provider,
		Target:     r.Target,
		Attempt:    r.Attempt,
		Confidence: r.Confidence,
		CostUSD:    r.CostUSD,
		Duration:   r.Duration,
	}
}

// ProviderFailedEvent is emitted when a provider call ended in a terminal error.
type ProviderFailedEvent struct {
	BaseEvent
	Provider string         `json:"provider"`
	Target   string         `json:"target"`
	Attempt  int            `json:"attempt"`
	Kind     core.ErrorKind `json:"kind"`
	Message  string         `json:"message"`
}

// NewProviderFailedEvent creates a provider failed event from a result.
func NewProviderFailedEvent(id core.SessionID, r *core.ProviderResult) ProviderFailedEvent {
	ev := ProviderFailedEvent{
		BaseEvent: NewBaseEvent(TypeProviderFailed, id),
		Provider:  r.Provider,
		Target:    r.Target,
		Attempt:   r.Attempt,
		Kind:      core.KindUnknown,
	}
	if r.Error != nil {
		ev.Kind = r.Error.Kind
		ev.Message = r.Error.Message
	}
	return ev
}

// TargetAggregatedEvent is emitted once per target.
type TargetAggregatedEvent struct {
	BaseEvent
	Target string                 `json:"target"`
	Result *core.AggregatedResult `json:"result"`
}

// NewTargetAggregatedEvent creates a target aggregated event.
func NewTargetAggregatedEvent(id core.SessionID, a *core.AggregatedResult) TargetAggregatedEvent {
	return TargetAggregatedEvent{
		BaseEvent: NewBaseEvent(TypeTargetAggregated, id),
		Target:    a.Target,
		Result:    a,
	}
}

// SessionCompletedEvent is emitted exactly once when a session completes.
type SessionCompletedEvent struct {
	BaseEvent
	CostTotal float64       `json:"cost_total"`
	Duration  time.Duration `json:"duration_ns"`
}

// NewSessionCompletedEvent creates a session completed event.
func NewSessionCompletedEvent(id core.SessionID, cost float64, duration time.Duration) SessionCompletedEvent {
	return SessionCompletedEvent{
		BaseEvent: NewBaseEvent(TypeSessionCompleted, id),
		CostTotal: cost,
		Duration:  duration,
	}
}

// SessionFailedEvent is emitted exactly once when a session fails.
type SessionFailedEvent struct {
	BaseEvent
	Reason    string  `json:"reason"`
	CostTotal float64 `json:"cost_total"`
}

// NewSessionFailedEvent creates a session failed event.
func NewSessionFailedEvent(id core.SessionID, reason string, cost float64) SessionFailedEvent {
	return SessionFailedEvent{
		BaseEvent: NewBaseEvent(TypeSessionFailed, id),
		Reason:    reason,
		CostTotal: cost,
	}
}

// EventsDroppedEvent tells a subscriber how many events it missed.
type EventsDroppedEvent struct {
	BaseEvent
	Count int `json:"count"`
}

// NewEventsDroppedEvent creates a dropped marker.
func NewEventsDroppedEvent(sessionID string, count int) EventsDroppedEvent {
	return EventsDroppedEvent{
		BaseEvent: NewBaseEvent(TypeEventsDropped, core.SessionID(sessionID)),
		Count:     count,
	}
}
