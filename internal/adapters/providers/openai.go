package providers

import (
	"context"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/hugo-lorenzo-mato/rivalscope/internal/core"
)

// PerplexityBaseURL is the OpenAI-compatible endpoint of Perplexity.
const PerplexityBaseURL = "https://api.perplexity.ai"

const defaultMaxTokens = 2048

// OpenAIAdapter calls an OpenAI-compatible chat completions API. It serves
// both the openai and the perplexity kinds; the latter only differs in base
// URL and in not supporting JSON response mode.
type OpenAIAdapter struct {
	*BaseAdapter
	client   *openai.Client
	jsonMode bool
}

// NewOpenAIAdapter creates an adapter for the OpenAI API.
func NewOpenAIAdapter(cfg Config) (core.Provider, error) {
	if cfg.Kind == "" {
		cfg.Kind = KindOpenAI
	}
	a, err := newChatAdapter(cfg, true)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// NewPerplexityAdapter creates an adapter for Perplexity's search-augmented
// models through their OpenAI-compatible API.
func NewPerplexityAdapter(cfg Config) (core.Provider, error) {
	if cfg.Kind == "" {
		cfg.Kind = KindPerplexity
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = PerplexityBaseURL
	}
	a, err := newChatAdapter(cfg, false)
	if err != nil {
		return nil, err
	}
	return a, nil
}

func newChatAdapter(cfg Config, jsonMode bool) (*OpenAIAdapter, error) {
	base, err := NewBaseAdapter(cfg)
	if err != nil {
		return nil, err
	}
	if cfg.APIKey == "" {
		return nil, core.ErrProviderConfig(base.Name(), "api key not set")
	}
	if cfg.Model == "" {
		return nil, core.ErrProviderConfig(base.Name(), "model not set")
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	}
	if cfg.HTTPClient != nil {
		clientCfg.HTTPClient = cfg.HTTPClient
	}

	return &OpenAIAdapter{
		BaseAdapter: base,
		client:      openai.NewClientWithConfig(clientCfg),
		jsonMode:    jsonMode,
	}, nil
}

// Invoke runs one analysis attempt for target.
func (a *OpenAIAdapter) Invoke(ctx context.Context, target string, pc core.PromptContext) (*core.ProviderResult, error) {
	return a.invoke(ctx, target, pc, a.complete)
}

func (a *OpenAIAdapter) complete(ctx context.Context, system, user string) (*completion, error) {
	req := a.buildRequest(system, user)

	resp, err := a.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("creating chat completion: %w", err)
	}

	out := &completion{
		TokensIn:  resp.Usage.PromptTokens,
		TokensOut: resp.Usage.CompletionTokens,
	}
	if len(resp.Choices) == 0 {
		return out, fmt.Errorf("%w: no choices returned", errInvalidResponse)
	}
	out.Text = resp.Choices[0].Message.Content
	return out, nil
}

func (a *OpenAIAdapter) buildRequest(system, user string) openai.ChatCompletionRequest {
	cfg := a.Config()
	req := openai.ChatCompletionRequest{
		Model: cfg.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
	}
	if a.jsonMode {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	if isReasoningModel(cfg.Model) {
		req.MaxCompletionTokens = maxTokens
	} else {
		req.MaxTokens = maxTokens
		req.Temperature = float32(cfg.Temperature)
	}
	return req
}
