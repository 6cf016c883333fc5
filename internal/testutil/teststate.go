package testutil

import (
	"time"

	"github.com/hugo-lorenzo-mato/rivalscope/internal/core"
)

// NewTestSession creates an AnalysisSession with sensible defaults for tests.
// Use functional options to override specific fields.
func NewTestSession(opts ...func(*core.AnalysisSession)) *core.AnalysisSession {
	s := core.NewAnalysisSession([]string{"Acme Corp"}, []string{"openai", "perplexity"}, "")
	s.CreatedAt = time.Now().UTC().Truncate(time.Second)
	s.UpdatedAt = s.CreatedAt
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewTestResult creates a successful ProviderResult for tests.
func NewTestResult(provider, target string, confidence float64) *core.ProviderResult {
	return &core.ProviderResult{
		Provider:   provider,
		Target:     target,
		Fields:     core.Fields{core.FieldStrengths: core.ListValue("fast", "cheap")},
		Confidence: confidence,
		CostUSD:    0.01,
		Attempt:    1,
	}
}
