package service

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/hugo-lorenzo-mato/rivalscope/internal/core"
)

// RetryPolicy defines retry behavior.
type RetryPolicy struct {
	MaxAttempts  int
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	MaxTotalWait time.Duration // Upper bound on the sum of delays for one call
	JitterFactor float64       // 0.0 to 1.0
	Multiplier   float64       // Exponential factor
}

// DefaultRetryPolicy returns a default retry policy.
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts:  3,
		BaseDelay:    time.Second,
		MaxDelay:     30 * time.Second,
		MaxTotalWait: time.Minute,
		JitterFactor: 0.2,
		Multiplier:   2.0,
	}
}

// RetryPolicyOption configures a retry policy.
type RetryPolicyOption func(*RetryPolicy)

// WithMaxAttempts sets the maximum number of attempts.
func WithMaxAttempts(n int) RetryPolicyOption {
	return func(p *RetryPolicy) {
		p.MaxAttempts = n
	}
}

// WithBaseDelay sets the initial delay.
func WithBaseDelay(d time.Duration) RetryPolicyOption {
	return func(p *RetryPolicy) {
		p.BaseDelay = d
	}
}

// WithMaxDelay sets the maximum delay.
func WithMaxDelay(d time.Duration) RetryPolicyOption {
	return func(p *RetryPolicy) {
		p.MaxDelay = d
	}
}

// WithMaxTotalWait caps the cumulative wait across all retries of one call.
func WithMaxTotalWait(d time.Duration) RetryPolicyOption {
	return func(p *RetryPolicy) {
		p.MaxTotalWait = d
	}
}

// WithJitter sets the jitter factor.
func WithJitter(factor float64) RetryPolicyOption {
	return func(p *RetryPolicy) {
		p.JitterFactor = factor
	}
}

// WithMultiplier sets the exponential multiplier.
func WithMultiplier(m float64) RetryPolicyOption {
	return func(p *RetryPolicy) {
		p.Multiplier = m
	}
}

// NewRetryPolicy creates a new retry policy.
func NewRetryPolicy(opts ...RetryPolicyOption) *RetryPolicy {
	p := DefaultRetryPolicy()
	for _, opt := range opts {
		opt(p)
	}
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	return p
}

// AttemptFunc performs one provider attempt. attempt starts at 1.
type AttemptFunc func(ctx context.Context, attempt int) *core.ProviderResult

// RetryNotifyFunc is called before sleeping ahead of the next attempt.
type RetryNotifyFunc func(attempt int, err *core.ProviderError, delay time.Duration)

// Invoke runs fn until it succeeds, fails with a non-retryable kind, runs out
// of attempts, or the total wait budget would be exceeded. It always returns
// a result; provider failures never escape as Go errors.
func (p *RetryPolicy) Invoke(ctx context.Context, fn AttemptFunc, notify RetryNotifyFunc) *core.ProviderResult {
	var (
		last   *core.ProviderResult
		waited time.Duration
	)

	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		last = fn(ctx, attempt)
		last.Attempt = attempt

		if last.Succeeded() || !last.Error.Kind.Retryable() {
			return last
		}
		if attempt == p.MaxAttempts {
			break
		}

		delay := p.CalculateDelay(attempt)
		if p.MaxTotalWait > 0 && waited+delay > p.MaxTotalWait {
			break
		}

		if notify != nil {
			notify(attempt, last.Error, delay)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return last
		case <-timer.C:
		}
		waited += delay
	}

	return last
}

// CalculateDelay computes the delay for a given attempt.
func (p *RetryPolicy) CalculateDelay(attempt int) time.Duration {
	delay := p.delay(attempt)
	if p.JitterFactor > 0 {
		delay = addJitter(delay, p.JitterFactor)
	}
	return time.Duration(delay)
}

// delay is baseDelay * multiplier^(attempt-1), capped at MaxDelay.
func (p *RetryPolicy) delay(attempt int) float64 {
	delay := float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(attempt-1))
	if p.MaxDelay > 0 && delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}
	return delay
}

// addJitter adds random jitter to a delay.
func addJitter(delay float64, factor float64) float64 {
	jitter := delay * factor
	randomJitter := (rand.Float64()*2 - 1) * jitter
	return delay + randomJitter
}
