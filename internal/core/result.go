package core

import (
	"sort"
	"time"
)

// ErrorKind tags why a provider call failed.
type ErrorKind string

const (
	KindRateLimited     ErrorKind = "rate_limited"
	KindTimeout         ErrorKind = "timeout"
	KindInvalidResponse ErrorKind = "invalid_response"
	KindUnauthorized    ErrorKind = "unauthorized"
	KindNetwork         ErrorKind = "network"
	KindUnknown         ErrorKind = "unknown"
	KindGateDenied      ErrorKind = "gate_denied"
	KindCancelled       ErrorKind = "cancelled"
)

// Retryable reports whether the retry policy may attempt the call again.
func (k ErrorKind) Retryable() bool {
	switch k {
	case KindRateLimited, KindTimeout, KindNetwork:
		return true
	default:
		return false
	}
}

// ProviderError is a provider-side failure captured on a result.
type ProviderError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

func (e *ProviderError) Error() string {
	return string(e.Kind) + ": " + e.Message
}

// NewProviderError creates a provider error of the given kind.
func NewProviderError(kind ErrorKind, message string) *ProviderError {
	return &ProviderError{Kind: kind, Message: message}
}

// ProviderResult is one provider's output for one target.
type ProviderResult struct {
	Provider   string         `json:"provider"`
	Target     string         `json:"target"`
	Fields     Fields         `json:"fields"`
	Confidence float64        `json:"confidence"`
	CostUSD    float64        `json:"cost_usd"`
	Error      *ProviderError `json:"error,omitempty"`
	Attempt    int            `json:"attempt"`
	TokensIn   int            `json:"tokens_in,omitempty"`
	TokensOut  int            `json:"tokens_out,omitempty"`
	Duration   time.Duration  `json:"duration_ns"`
}

// Succeeded reports whether the result carries usable fields.
func (r *ProviderResult) Succeeded() bool {
	return r != nil && r.Error == nil
}

// FailedResult builds a terminal failure for a (provider, target) pair.
func FailedResult(provider, target string, kind ErrorKind, message string, attempt int) *ProviderResult {
	return &ProviderResult{
		Provider: provider,
		Target:   target,
		Fields:   Fields{},
		Error:    NewProviderError(kind, message),
		Attempt:  attempt,
	}
}

// Clone returns a deep copy.
func (r *ProviderResult) Clone() *ProviderResult {
	if r == nil {
		return nil
	}
	c := *r
	c.Fields = r.Fields.Clone()
	if r.Error != nil {
		e := *r.Error
		c.Error = &e
	}
	return &c
}

// ClampUnit restricts v to [0,1].
func ClampUnit(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

// AggregatedResult is the merged record for one target.
type AggregatedResult struct {
	Target           string               `json:"target"`
	Fields           Fields               `json:"fields"`
	FieldProvenance  map[Field][]string   `json:"field_provenance"`
	DataQualityScore float64              `json:"data_quality_score"`
	ProvidersUsed    []string             `json:"providers_used"`
	ProvidersFailed  []string             `json:"providers_failed"`
	ProviderErrors   map[string]ErrorKind `json:"provider_errors,omitempty"`
	AggregatedAt     time.Time            `json:"aggregated_at"`
}

// HasSuccess reports whether at least one provider contributed.
func (a *AggregatedResult) HasSuccess() bool {
	return a != nil && len(a.ProvidersUsed) > 0
}

// Clone returns a deep copy.
func (a *AggregatedResult) Clone() *AggregatedResult {
	if a == nil {
		return nil
	}
	c := *a
	c.Fields = a.Fields.Clone()
	c.FieldProvenance = make(map[Field][]string, len(a.FieldProvenance))
	for k, v := range a.FieldProvenance {
		c.FieldProvenance[k] = append([]string(nil), v...)
	}
	c.ProvidersUsed = append([]string(nil), a.ProvidersUsed...)
	c.ProvidersFailed = append([]string(nil), a.ProvidersFailed...)
	if a.ProviderErrors != nil {
		c.ProviderErrors = make(map[string]ErrorKind, len(a.ProviderErrors))
		for k, v := range a.ProviderErrors {
			c.ProviderErrors[k] = v
		}
	}
	return &c
}

// SortedKeys returns the field names in a stable order.
func (f Fields) SortedKeys() []Field {
	keys := make([]Field, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
