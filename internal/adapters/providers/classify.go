package providers

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/hugo-lorenzo-mato/rivalscope/internal/core"
)

// StatusError is a non-2xx answer from an HTTP provider API.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("status %d", e.StatusCode)
	}
	return fmt.Sprintf("status %d: %s", e.StatusCode, e.Message)
}

// errInvalidResponse marks a structurally unusable answer, such as an empty
// choice list.
var errInvalidResponse = errors.New("invalid response")

// classifyError maps a transport or API error to an ErrorKind and a message
// fit for the result. ctx is the attempt context; its deadline wins over
// whatever error the client surfaced.
func classifyError(ctx context.Context, err error) (core.ErrorKind, string) {
	msg := err.Error()

	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return core.KindTimeout, msg
	}
	if errors.Is(err, context.Canceled) {
		return core.KindCancelled, msg
	}
	if errors.Is(err, errInvalidResponse) {
		return core.KindInvalidResponse, msg
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode != 0 {
		return kindForStatus(apiErr.HTTPStatusCode), msg
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0 {
		return kindForStatus(reqErr.HTTPStatusCode), msg
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return kindForStatus(statusErr.StatusCode), msg
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return core.KindTimeout, msg
		}
		return core.KindNetwork, msg
	}

	lower := strings.ToLower(msg)
	switch {
	case containsAny(lower, []string{"rate limit", "too many requests", "quota"}):
		return core.KindRateLimited, msg
	case containsAny(lower, []string{"unauthorized", "invalid api key", "authentication"}):
		return core.KindUnauthorized, msg
	case containsAny(lower, []string{"connection refused", "connection reset", "no such host", "unreachable"}):
		return core.KindNetwork, msg
	case containsAny(lower, []string{"timeout", "timed out"}):
		return core.KindTimeout, msg
	}
	return core.KindUnknown, msg
}

func kindForStatus(code int) core.ErrorKind {
	switch {
	case code == http.StatusTooManyRequests:
		return core.KindRateLimited
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return core.KindUnauthorized
	case code == http.StatusRequestTimeout || code == http.StatusGatewayTimeout:
		return core.KindTimeout
	case code == http.StatusBadGateway || code == http.StatusServiceUnavailable:
		return core.KindNetwork
	default:
		return core.KindUnknown
	}
}

func containsAny(s string, substrs []string) bool {
	for _, sub := range substrs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
