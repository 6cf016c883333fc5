package service

import (
	"context"
	"fmt"
	"sort"

	"github.com/hugo-lorenzo-mato/rivalscope/internal/core"
)

// Denial reasons reported by the gate.
const (
	ReasonGlobalDisabled   = "global analysis disabled"
	ReasonNoProviders      = "no providers selected"
	ReasonNoActiveProvider = "no active providers among selection"
)

// StatusUnknown marks providers the availability source does not know.
const StatusUnknown = "unknown"

// GateEvaluator decides whether a session may start or continue.
// It holds no state of its own and is safe for concurrent use.
type GateEvaluator struct {
	source core.AvailabilitySource
}

// NewGateEvaluator creates a gate over the given availability source.
func NewGateEvaluator(source core.AvailabilitySource) *GateEvaluator {
	return &GateEvaluator{source: source}
}

// Evaluate computes a fresh decision for the requested providers.
func (g *GateEvaluator) Evaluate(ctx context.Context, requested []string) core.GateDecision {
	decision := core.GateDecision{
		Reasons:        []string{},
		ProviderStatus: make(map[string]core.ProviderStatus, len(requested)),
	}

	enabled, err := g.source.GlobalAnalysisEnabled(ctx)
	if err != nil {
		decision.Reasons = append(decision.Reasons, fmt.Sprintf("availability source error: %v", err))
		return decision
	}
	if !enabled {
		decision.Reasons = append(decision.Reasons, ReasonGlobalDisabled)
	}

	if len(requested) == 0 {
		decision.Reasons = append(decision.Reasons, ReasonNoProviders)
		return decision
	}

	live, err := g.source.ProviderStatus(ctx)
	if err != nil {
		decision.Reasons = append(decision.Reasons, fmt.Sprintf("availability source error: %v", err))
		return decision
	}

	active := 0
	for _, p := range requested {
		st, ok := live[p]
		if !ok {
			st = core.ProviderStatus{Active: false, Status: StatusUnknown}
		}
		decision.ProviderStatus[p] = st
		if st.Active {
			active++
		}
	}
	if active == 0 {
		decision.Reasons = append(decision.Reasons, ReasonNoActiveProvider)
	}

	decision.Allowed = len(decision.Reasons) == 0
	return decision
}

// Overview reports the status of every provider known to the source.
func (g *GateEvaluator) Overview(ctx context.Context) (core.GateDecision, error) {
	live, err := g.source.ProviderStatus(ctx)
	if err != nil {
		return core.GateDecision{}, fmt.Errorf("reading provider status: %w", err)
	}
	names := make([]string, 0, len(live))
	for name := range live {
		names = append(names, name)
	}
	sort.Strings(names)
	return g.Evaluate(ctx, names), nil
}

// ProviderActive re-checks one provider before a dispatch. A session that
// is already running only cares about that provider and the global flag.
func (g *GateEvaluator) ProviderActive(ctx context.Context, provider string) (bool, string) {
	enabled, err := g.source.GlobalAnalysisEnabled(ctx)
	if err != nil {
		return false, fmt.Sprintf("availability source error: %v", err)
	}
	if !enabled {
		return false, ReasonGlobalDisabled
	}
	live, err := g.source.ProviderStatus(ctx)
	if err != nil {
		return false, fmt.Sprintf("availability source error: %v", err)
	}
	st, ok := live[provider]
	if !ok {
		return false, "provider " + provider + " is " + StatusUnknown
	}
	if !st.Active {
		return false, "provider " + provider + " is " + st.Status
	}
	return true, ""
}
