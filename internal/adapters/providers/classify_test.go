package providers

import (
	"context"
	"errors"
	"fmt"
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"

	"github.com/hugo-lorenzo-mato/rivalscope/internal/core"
)

func TestClassifyError(t *testing.T) {
	bg := context.Background()
	expired, cancel := context.WithTimeout(bg, 0)
	defer cancel()

	tests := []struct {
		name string
		ctx  context.Context
		err  error
		want core.ErrorKind
	}{
		{"deadline from context", expired, errors.New("read tcp: use of closed connection"), core.KindTimeout},
		{"wrapped deadline", bg, fmt.Errorf("call: %w", context.DeadlineExceeded), core.KindTimeout},
		{"canceled", bg, context.Canceled, core.KindCancelled},
		{"api 429", bg, &openai.APIError{HTTPStatusCode: 429, Message: "slow"}, core.KindRateLimited},
		{"request 401", bg, &openai.RequestError{HTTPStatusCode: 401}, core.KindUnauthorized},
		{"status 504", bg, &StatusError{StatusCode: 504}, core.KindTimeout},
		{"invalid response", bg, fmt.Errorf("%w: empty", errInvalidResponse), core.KindInvalidResponse},
		{"keyword quota", bg, errors.New("You exceeded your current quota"), core.KindRateLimited},
		{"keyword auth", bg, errors.New("Invalid API key provided"), core.KindUnauthorized},
		{"keyword network", bg, errors.New("dial tcp: connection refused"), core.KindNetwork},
		{"unknown", bg, errors.New("something odd"), core.KindUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, msg := classifyError(tt.ctx, tt.err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.err.Error(), msg)
		})
	}
}

func TestKindForStatus(t *testing.T) {
	assert.Equal(t, core.KindRateLimited, kindForStatus(429))
	assert.Equal(t, core.KindUnauthorized, kindForStatus(403))
	assert.Equal(t, core.KindTimeout, kindForStatus(408))
	assert.Equal(t, core.KindNetwork, kindForStatus(502))
	assert.Equal(t, core.KindUnknown, kindForStatus(500))
	assert.Equal(t, core.KindUnknown, kindForStatus(404))
}
