package providers

import (
	"context"
	"strings"

	"github.com/hugo-lorenzo-mato/rivalscope/internal/core"
)

// StaticProvider answers every target with a fixed payload and no cost.
// It backs dry runs and local setups without API keys.
type StaticProvider struct {
	name       string
	payload    map[string]any
	normalizer *Normalizer
}

// NewStaticProvider creates a static provider from configuration.
func NewStaticProvider(cfg Config) (core.Provider, error) {
	return NewStaticProviderWithPayload(cfg.Name, nil), nil
}

// NewStaticProviderWithPayload creates a static provider answering with
// payload. The placeholder {target} in string values is replaced by the
// target name. A nil payload uses a generic placeholder profile.
func NewStaticProviderWithPayload(name string, payload map[string]any) *StaticProvider {
	if name == "" {
		name = KindStatic
	}
	if payload == nil {
		payload = map[string]any{
			"summary":        "{target} (static placeholder profile)",
			"industry":       "unknown",
			"strengths":      []any{"placeholder strength"},
			"weaknesses":     []any{"placeholder weakness"},
			"confidence":     0.1,
			"marketPosition": "unknown",
		}
	}
	return &StaticProvider{
		name:       name,
		payload:    payload,
		normalizer: NewNormalizer(KindStatic),
	}
}

// Name returns the provider identifier.
func (p *StaticProvider) Name() string {
	return p.name
}

// Invoke returns the fixed payload for target.
func (p *StaticProvider) Invoke(ctx context.Context, target string, pc core.PromptContext) (*core.ProviderResult, error) {
	if err := ctx.Err(); err != nil {
		return core.FailedResult(p.name, target, core.KindCancelled, err.Error(), pc.Attempt), nil
	}

	fields, confidence, err := p.normalizer.NormalizeMap(substitute(p.payload, target).(map[string]any))
	if err != nil {
		return core.FailedResult(p.name, target, core.KindInvalidResponse, err.Error(), pc.Attempt), nil
	}
	return &core.ProviderResult{
		Provider:   p.name,
		Target:     target,
		Fields:     fields,
		Confidence: confidence,
		Attempt:    pc.Attempt,
	}, nil
}

func substitute(v any, target string) any {
	switch t := v.(type) {
	case string:
		return strings.ReplaceAll(t, "{target}", target)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = substitute(e, target)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = substitute(e, target)
		}
		return out
	default:
		return v
	}
}
