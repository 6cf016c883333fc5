package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hugo-lorenzo-mato/rivalscope/internal/core"
)

func chatCompletionBody(content string, promptTokens, completionTokens int) string {
	body := map[string]any{
		"id":      "chatcmpl-1",
		"object":  "chat.completion",
		"created": 1,
		"model":   "gpt-4o-mini",
		"choices": []any{
			map[string]any{
				"index":         0,
				"message":       map[string]any{"role": "assistant", "content": content},
				"finish_reason": "stop",
			},
		},
		"usage": map[string]any{
			"prompt_tokens":     promptTokens,
			"completion_tokens": completionTokens,
			"total_tokens":      promptTokens + completionTokens,
		},
	}
	b, _ := json.Marshal(body)
	return string(b)
}

func newOpenAITestAdapter(t *testing.T, handler http.HandlerFunc) *OpenAIAdapter {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	p, err := NewOpenAIAdapter(Config{
		Name:        "openai",
		Model:       "gpt-4o-mini",
		BaseURL:     srv.URL + "/v1",
		APIKey:      "sk-test",
		InputPrice:  0.15,
		OutputPrice: 0.60,
	})
	require.NoError(t, err)
	return p.(*OpenAIAdapter)
}

func TestOpenAIAdapter_Success(t *testing.T) {
	var gotReq map[string]any
	a := newOpenAITestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, chatCompletionBody(`{"industry":"Payments","pros":["global reach"],"confidence":90}`, 1000, 500))
	})

	res, err := a.Invoke(context.Background(), "Stripe", core.PromptContext{Attempt: 1, Focus: []core.Field{core.FieldStrengths}})
	require.NoError(t, err)
	require.True(t, res.Succeeded(), "unexpected error: %v", res.Error)

	assert.Equal(t, "openai", res.Provider)
	assert.Equal(t, "Stripe", res.Target)
	assert.Equal(t, 1, res.Attempt)
	assert.Equal(t, "Payments", res.Fields[core.FieldIndustry].Text)
	assert.Equal(t, []string{"global reach"}, res.Fields[core.FieldStrengths].Items)
	assert.InDelta(t, 0.9, res.Confidence, 1e-9)
	assert.InDelta(t, 0.00045, res.CostUSD, 1e-12)
	assert.Equal(t, 1000, res.TokensIn)
	assert.Equal(t, 500, res.TokensOut)

	format, _ := gotReq["response_format"].(map[string]any)
	assert.Equal(t, "json_object", format["type"])
	assert.EqualValues(t, defaultMaxTokens, gotReq["max_tokens"])
	messages, _ := gotReq["messages"].([]any)
	require.Len(t, messages, 2)
	user, _ := messages[1].(map[string]any)
	assert.Contains(t, user["content"], "Stripe")
	assert.Contains(t, user["content"], `"strengths" (array of strings) [priority]`)
}

func TestOpenAIAdapter_ErrorKinds(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   core.ErrorKind
	}{
		{"rate limited", http.StatusTooManyRequests, `{"error":{"message":"Rate limit reached","type":"requests"}}`, core.KindRateLimited},
		{"unauthorized", http.StatusUnauthorized, `{"error":{"message":"Incorrect API key","type":"invalid_request_error"}}`, core.KindUnauthorized},
		{"forbidden", http.StatusForbidden, `{"error":{"message":"denied","type":"permission"}}`, core.KindUnauthorized},
		{"bad gateway", http.StatusBadGateway, `upstream down`, core.KindNetwork},
		{"bad request", http.StatusBadRequest, `{"error":{"message":"bad","type":"invalid_request_error"}}`, core.KindUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := newOpenAITestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				fmt.Fprint(w, tt.body)
			})
			res, err := a.Invoke(context.Background(), "Acme", core.PromptContext{Attempt: 2})
			require.NoError(t, err)
			require.NotNil(t, res.Error)
			assert.Equal(t, tt.want, res.Error.Kind)
			assert.Equal(t, 2, res.Attempt)
			assert.Zero(t, res.CostUSD)
		})
	}
}

func TestOpenAIAdapter_InvalidPayloadStillCosts(t *testing.T) {
	a := newOpenAITestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, chatCompletionBody("sorry, no idea", 2000, 0))
	})
	res, err := a.Invoke(context.Background(), "Acme", core.PromptContext{Attempt: 1})
	require.NoError(t, err)
	require.NotNil(t, res.Error)
	assert.Equal(t, core.KindInvalidResponse, res.Error.Kind)
	assert.InDelta(t, 0.0003, res.CostUSD, 1e-12)
}

func TestOpenAIAdapter_EmptyChoices(t *testing.T) {
	a := newOpenAITestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"x","object":"chat.completion","choices":[],"usage":{"prompt_tokens":10,"completion_tokens":0}}`)
	})
	res, err := a.Invoke(context.Background(), "Acme", core.PromptContext{Attempt: 1})
	require.NoError(t, err)
	require.NotNil(t, res.Error)
	assert.Equal(t, core.KindInvalidResponse, res.Error.Kind)
}

func TestOpenAIAdapter_Timeout(t *testing.T) {
	stop := make(chan struct{})
	a := newOpenAITestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-stop:
		case <-r.Context().Done():
		}
	})
	// Registered after the server's Close, so it runs first and unblocks the handler.
	t.Cleanup(func() { close(stop) })
	res, err := a.Invoke(context.Background(), "Acme", core.PromptContext{Attempt: 1, Timeout: 50 * time.Millisecond})
	require.NoError(t, err)
	require.NotNil(t, res.Error)
	assert.Equal(t, core.KindTimeout, res.Error.Kind)
	assert.True(t, res.Error.Kind.Retryable())
}

func TestOpenAIAdapter_ConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	p, err := NewOpenAIAdapter(Config{Name: "openai", Model: "gpt-4o-mini", BaseURL: url + "/v1", APIKey: "sk-test"})
	require.NoError(t, err)
	res, err := p.Invoke(context.Background(), "Acme", core.PromptContext{Attempt: 1})
	require.NoError(t, err)
	require.NotNil(t, res.Error)
	assert.Equal(t, core.KindNetwork, res.Error.Kind)
}

func TestOpenAIAdapter_ReasoningModelTokens(t *testing.T) {
	a := newOpenAITestAdapter(t, http.NotFound)
	a.config.Model = "o3-mini"
	req := a.buildRequest("sys", "user")
	assert.Equal(t, defaultMaxTokens, req.MaxCompletionTokens)
	assert.Zero(t, req.MaxTokens)
	assert.Zero(t, req.Temperature)
}

func TestPerplexityAdapter_NoJSONMode(t *testing.T) {
	var calls atomic.Int32
	var gotReq map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "/chat/completions", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, chatCompletionBody("Sources say:\n{\"company_overview\":\"Search engine\",\"confidence\":\"high\"}", 100, 100))
	}))
	defer srv.Close()

	p, err := NewPerplexityAdapter(Config{Name: "perplexity", Model: "sonar", BaseURL: srv.URL, APIKey: "pplx-test", InputPrice: 1, OutputPrice: 1})
	require.NoError(t, err)

	res, err := p.Invoke(context.Background(), "Kagi", core.PromptContext{Attempt: 1})
	require.NoError(t, err)
	require.True(t, res.Succeeded(), "unexpected error: %v", res.Error)
	assert.Equal(t, "Search engine", res.Fields[core.FieldSummary].Text)
	assert.InDelta(t, 0.9, res.Confidence, 1e-9)
	assert.InDelta(t, 0.0002, res.CostUSD, 1e-12)
	assert.NotContains(t, gotReq, "response_format")
	assert.Equal(t, int32(1), calls.Load())
}

func TestNewChatAdapter_RequiresKeyAndModel(t *testing.T) {
	_, err := NewOpenAIAdapter(Config{Name: "openai", Model: "gpt-4o-mini"})
	assert.True(t, core.IsCategory(err, core.ErrCatProvider))

	_, err = NewPerplexityAdapter(Config{Name: "perplexity", APIKey: "k"})
	assert.True(t, core.IsCategory(err, core.ErrCatProvider))
}
