package providers

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/hugo-lorenzo-mato/rivalscope/internal/config"
	"github.com/hugo-lorenzo-mato/rivalscope/internal/core"
	"github.com/hugo-lorenzo-mato/rivalscope/internal/logging"
)

// Adapter kinds.
const (
	KindOpenAI     = config.KindOpenAI
	KindPerplexity = config.KindPerplexity
	KindAnthropic  = config.KindAnthropic
	KindStatic     = config.KindStatic
)

// Config configures one provider adapter.
type Config struct {
	Name    string
	Kind    string
	Model   string
	BaseURL string
	APIKey  string
	// Prices are USD per million tokens.
	InputPrice  float64
	OutputPrice float64
	MaxTokens   int
	Temperature float64
	// HTTPClient overrides the transport used by HTTP based adapters.
	HTTPClient *http.Client
	Logger     *logging.Logger
}

// completion is the raw outcome of one model call.
type completion struct {
	Text      string
	TokensIn  int
	TokensOut int
}

// completeFunc performs one model call with rendered prompts.
type completeFunc func(ctx context.Context, system, user string) (*completion, error)

// BaseAdapter holds the behavior shared by the model-backed adapters:
// prompt rendering, timeouts, cost accounting, error classification and
// payload normalization.
type BaseAdapter struct {
	config     Config
	prompts    *PromptRenderer
	normalizer *Normalizer
	logger     *logging.Logger
}

// NewBaseAdapter creates a base adapter.
func NewBaseAdapter(cfg Config) (*BaseAdapter, error) {
	if cfg.Name == "" {
		cfg.Name = cfg.Kind
	}
	prompts, err := NewPromptRenderer()
	if err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	return &BaseAdapter{
		config:     cfg,
		prompts:    prompts,
		normalizer: NewNormalizer(cfg.Kind),
		logger:     logger.WithProvider(cfg.Name),
	}, nil
}

// Name returns the provider identifier.
func (b *BaseAdapter) Name() string {
	return b.config.Name
}

// Config returns the adapter configuration.
func (b *BaseAdapter) Config() Config {
	return b.config
}

// Cost converts token usage to USD with the configured per-million prices.
func (b *BaseAdapter) Cost(tokensIn, tokensOut int) float64 {
	return (float64(tokensIn)*b.config.InputPrice + float64(tokensOut)*b.config.OutputPrice) / 1e6
}

// invoke runs one attempt through complete and maps the outcome to a
// ProviderResult. Provider-side failures never surface as errors.
func (b *BaseAdapter) invoke(ctx context.Context, target string, pc core.PromptContext, complete completeFunc) (*core.ProviderResult, error) {
	system, user, err := b.prompts.RenderResearch(ResearchParams{
		Target: target,
		Focus:  pc.Focus,
		Notes:  pc.Notes,
	})
	if err != nil {
		return nil, core.ErrProviderConfig(b.Name(), err.Error())
	}

	if pc.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, pc.Timeout)
		defer cancel()
	}

	start := time.Now()
	out, err := complete(ctx, system, user)
	duration := time.Since(start)

	if err != nil {
		kind, msg := classifyError(ctx, err)
		b.logger.Debug("provider call failed",
			"target", target,
			"attempt", pc.Attempt,
			"kind", kind,
			"error", msg,
		)
		res := core.FailedResult(b.Name(), target, kind, msg, pc.Attempt)
		res.Duration = duration
		if out != nil {
			res.TokensIn, res.TokensOut = out.TokensIn, out.TokensOut
			res.CostUSD = b.Cost(out.TokensIn, out.TokensOut)
		}
		return res, nil
	}

	res := &core.ProviderResult{
		Provider:  b.Name(),
		Target:    target,
		Attempt:   pc.Attempt,
		TokensIn:  out.TokensIn,
		TokensOut: out.TokensOut,
		CostUSD:   b.Cost(out.TokensIn, out.TokensOut),
		Duration:  duration,
		Fields:    core.Fields{},
	}

	fields, confidence, err := b.normalizer.Normalize(out.Text)
	if err != nil {
		res.Error = core.NewProviderError(core.KindInvalidResponse, fmt.Sprintf("normalizing payload: %v", err))
		return res, nil
	}
	res.Fields = fields
	res.Confidence = confidence

	b.logger.Debug("provider call succeeded",
		"target", target,
		"attempt", pc.Attempt,
		"fields", len(fields),
		"cost_usd", res.CostUSD,
	)
	return res, nil
}

// isReasoningModel reports whether model takes max_completion_tokens
// instead of max_tokens and rejects a custom temperature.
func isReasoningModel(model string) bool {
	m := strings.ToLower(model)
	for _, prefix := range []string{"o1", "o3", "o4", "gpt-5"} {
		if strings.HasPrefix(m, prefix) {
			return true
		}
	}
	return false
}
