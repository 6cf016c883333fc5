package core

import (
	"context"
	"time"
)

// =============================================================================
// Provider Port
// =============================================================================

// Provider is the uniform contract for one external AI analysis backend.
type Provider interface {
	// Name returns the provider identifier (e.g., "openai", "perplexity").
	Name() string

	// Invoke runs one analysis attempt for target. Provider-side failures
	// (rate limit, timeout, malformed payload, auth) are returned as
	// ProviderResult.Error; the error return is reserved for configuration
	// and programmer errors.
	Invoke(ctx context.Context, target string, pc PromptContext) (*ProviderResult, error)
}

// PromptContext carries per-session context handed to every provider call.
type PromptContext struct {
	SessionID SessionID
	Attempt   int
	Focus     []Field // Fields the caller cares about most; empty means all
	Notes     string  // Free-form caller context (industry, region)
	Timeout   time.Duration
}

// CostObserver receives one cost observation per provider attempt.
type CostObserver interface {
	Record(provider string, usd float64) bool
}

// =============================================================================
// Availability Port
// =============================================================================

// ProviderStatus is the live availability of one provider.
type ProviderStatus struct {
	Active bool   `json:"active"`
	Status string `json:"status"`
}

// AvailabilitySource reports which providers may be used right now.
type AvailabilitySource interface {
	ProviderStatus(ctx context.Context) (map[string]ProviderStatus, error)
	GlobalAnalysisEnabled(ctx context.Context) (bool, error)
}

// GateDecision is the outcome of admission control for a session.
type GateDecision struct {
	Allowed        bool                      `json:"allowed"`
	Reasons        []string                  `json:"reasons"`
	ProviderStatus map[string]ProviderStatus `json:"provider_status"`
}

// ActiveProviders returns the requested providers that are usable, in request order.
func (d GateDecision) ActiveProviders(requested []string) []string {
	out := make([]string, 0, len(requested))
	for _, p := range requested {
		if st, ok := d.ProviderStatus[p]; ok && st.Active {
			out = append(out, p)
		}
	}
	return out
}

// =============================================================================
// SessionStore Port
// =============================================================================

// SessionStore persists analysis sessions and their results.
type SessionStore interface {
	// CreateSession persists a new session. Returns a conflict error if the ID exists.
	CreateSession(ctx context.Context, s *AnalysisSession) error

	// AppendResult records one provider result for the session.
	AppendResult(ctx context.Context, id SessionID, r *ProviderResult) error

	// SaveAggregate records the aggregated result for one target.
	SaveAggregate(ctx context.Context, id SessionID, a *AggregatedResult) error

	// FinalizeSession writes the terminal status, reason, cost and completion time.
	FinalizeSession(ctx context.Context, s *AnalysisSession) error

	// GetSession loads a session with its results. Returns a not_found error if missing.
	GetSession(ctx context.Context, id SessionID) (*AnalysisSession, error)

	// FindByIdempotencyKey returns the most recent session created with key
	// at or after since, or nil when none exists.
	FindByIdempotencyKey(ctx context.Context, key string, since time.Time) (*AnalysisSession, error)

	// Close releases underlying resources.
	Close() error
}

// =============================================================================
// Archive Port
// =============================================================================

// ReportArchiver stores the final session report outside the session store.
type ReportArchiver interface {
	Archive(ctx context.Context, s *AnalysisSession) (string, error)
}
