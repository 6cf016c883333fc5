package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hugo-lorenzo-mato/rivalscope/internal/core"
)

func newAnthropicTestAdapter(t *testing.T, handler http.HandlerFunc) core.Provider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	p, err := NewAnthropicAdapter(Config{
		Name:        "anthropic",
		Model:       "claude-3-5-haiku-latest",
		BaseURL:     srv.URL + "/",
		APIKey:      "sk-ant-test",
		InputPrice:  0.8,
		OutputPrice: 4,
		Temperature: 0.2,
	})
	require.NoError(t, err)
	return p
}

func TestAnthropicAdapter_Success(t *testing.T) {
	var got anthropicRequest
	p := newAnthropicTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "sk-ant-test", r.Header.Get("x-api-key"))
		assert.Equal(t, anthropicVersion, r.Header.Get("anthropic-version"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{
			"content": [{"type": "text", "text": "\"summary\": \"Design tool\", \"key_strengths\": [\"collaboration\"], \"confidence\": 75}"}],
			"stop_reason": "end_turn",
			"usage": {"input_tokens": 1000, "output_tokens": 250}
		}`)
	})

	res, err := p.Invoke(context.Background(), "Figma", core.PromptContext{Attempt: 1, Notes: "focus on enterprise"})
	require.NoError(t, err)
	require.True(t, res.Succeeded(), "unexpected error: %v", res.Error)

	assert.Equal(t, "Design tool", res.Fields[core.FieldSummary].Text)
	assert.Equal(t, []string{"collaboration"}, res.Fields[core.FieldStrengths].Items)
	assert.InDelta(t, 0.75, res.Confidence, 1e-9)
	assert.InDelta(t, 0.0018, res.CostUSD, 1e-12)

	assert.Equal(t, "claude-3-5-haiku-latest", got.Model)
	assert.Equal(t, defaultMaxTokens, got.MaxTokens)
	assert.NotEmpty(t, got.System)
	require.Len(t, got.Messages, 2)
	assert.Contains(t, got.Messages[0].Content, "focus on enterprise")
	assert.Equal(t, "assistant", got.Messages[1].Role)
}

func TestAnthropicAdapter_FullObjectIsNotDoublePrefixed(t *testing.T) {
	p := newAnthropicTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"content":[{"type":"text","text":" {\"industry\":\"Retail\"}"}],"usage":{"input_tokens":1,"output_tokens":1}}`)
	})
	res, err := p.Invoke(context.Background(), "Acme", core.PromptContext{Attempt: 1})
	require.NoError(t, err)
	require.True(t, res.Succeeded(), "unexpected error: %v", res.Error)
	assert.Equal(t, "Retail", res.Fields[core.FieldIndustry].Text)
}

func TestAnthropicAdapter_ErrorKinds(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   core.ErrorKind
		inMsg  string
	}{
		{"rate limited", http.StatusTooManyRequests, `{"type":"error","error":{"type":"rate_limit_error","message":"slow down"}}`, core.KindRateLimited, "rate_limit_error: slow down"},
		{"unauthorized", http.StatusUnauthorized, `{"type":"error","error":{"type":"authentication_error","message":"invalid x-api-key"}}`, core.KindUnauthorized, "invalid x-api-key"},
		{"overloaded", http.StatusServiceUnavailable, `overloaded`, core.KindNetwork, "overloaded"},
		{"server error", http.StatusInternalServerError, `{}`, core.KindUnknown, "status 500"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newAnthropicTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				fmt.Fprint(w, tt.body)
			})
			res, err := p.Invoke(context.Background(), "Acme", core.PromptContext{Attempt: 1})
			require.NoError(t, err)
			require.NotNil(t, res.Error)
			assert.Equal(t, tt.want, res.Error.Kind)
			assert.Contains(t, res.Error.Message, tt.inMsg)
		})
	}
}

func TestAnthropicAdapter_MalformedBody(t *testing.T) {
	p := newAnthropicTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `not json`)
	})
	res, err := p.Invoke(context.Background(), "Acme", core.PromptContext{Attempt: 1})
	require.NoError(t, err)
	require.NotNil(t, res.Error)
	assert.Equal(t, core.KindInvalidResponse, res.Error.Kind)
}

func TestAnthropicAdapter_NoTextContent(t *testing.T) {
	p := newAnthropicTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"content":[],"usage":{"input_tokens":500,"output_tokens":0}}`)
	})
	res, err := p.Invoke(context.Background(), "Acme", core.PromptContext{Attempt: 1})
	require.NoError(t, err)
	require.NotNil(t, res.Error)
	assert.Equal(t, core.KindInvalidResponse, res.Error.Kind)
	assert.InDelta(t, 0.0004, res.CostUSD, 1e-12)
}
