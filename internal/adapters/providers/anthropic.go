package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/hugo-lorenzo-mato/rivalscope/internal/core"
)

// AnthropicBaseURL is the default Anthropic API endpoint.
const AnthropicBaseURL = "https://api.anthropic.com"

const anthropicVersion = "2023-06-01"

// maxErrorBody bounds how much of an error response is kept in messages.
const maxErrorBody = 4 << 10

// AnthropicAdapter calls the Anthropic messages API.
type AnthropicAdapter struct {
	*BaseAdapter
	httpClient *http.Client
	url        string
}

// NewAnthropicAdapter creates an adapter for the Anthropic API.
func NewAnthropicAdapter(cfg Config) (core.Provider, error) {
	if cfg.Kind == "" {
		cfg.Kind = KindAnthropic
	}
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

	client := cfg.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = AnthropicBaseURL
	}

	return &AnthropicAdapter{
		BaseAdapter: base,
		httpClient:  client,
		url:         strings.TrimSuffix(baseURL, "/") + "/v1/messages",
	}, nil
}

// Invoke runs one analysis attempt for target.
func (a *AnthropicAdapter) Invoke(ctx context.Context, target string, pc core.PromptContext) (*core.ProviderResult, error) {
	return a.invoke(ctx, target, pc, a.complete)
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	System      string             `json:"system,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
	Temperature float64            `json:"temperature"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

type anthropicError struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

func (a *AnthropicAdapter) complete(ctx context.Context, system, user string) (*completion, error) {
	cfg := a.Config()
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	// The messages API has no JSON mode; prefilling the assistant turn with
	// "{" keeps the answer a bare object.
	body, err := json.Marshal(anthropicRequest{
		Model:     cfg.Model,
		MaxTokens: maxTokens,
		System:    system,
		Messages: []anthropicMessage{
			{Role: "user", Content: user},
			{Role: "assistant", Content: "{"},
		},
		Temperature: cfg.Temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", cfg.APIKey)
	req.Header.Set("anthropic-version", anthropicVersion)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling messages API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		var apiErr anthropicError
		msg := strings.TrimSpace(string(raw))
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Error.Message != "" {
			msg = apiErr.Error.Type + ": " + apiErr.Error.Message
		}
		return nil, &StatusError{StatusCode: resp.StatusCode, Message: msg}
	}

	var parsed anthropicResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("%w: decoding response: %v", errInvalidResponse, err)
	}

	out := &completion{
		TokensIn:  parsed.Usage.InputTokens,
		TokensOut: parsed.Usage.OutputTokens,
	}
	var text strings.Builder
	for _, block := range parsed.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return out, fmt.Errorf("%w: no text content", errInvalidResponse)
	}
	out.Text = strings.TrimSpace(text.String())
	if !strings.HasPrefix(out.Text, "{") {
		out.Text = "{" + out.Text
	}
	return out, nil
}
