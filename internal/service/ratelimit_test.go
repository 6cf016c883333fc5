package service

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRateLimiter_Acquire(t *testing.T) {
	limiter := NewRateLimiter(RateLimiterConfig{
		MaxTokens:  3,
		RefillRate: 10, // Fast refill for testing
	})
	ctx := context.Background()

	start := time.Now()
	if err := limiter.Acquire(ctx); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if time.Since(start) > 100*time.Millisecond {
		t.Error("first acquire should be immediate")
	}

	limiter.TryAcquire()
	limiter.TryAcquire()

	start = time.Now()
	if err := limiter.Acquire(ctx); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Errorf("acquire should wait for refill, elapsed = %v", elapsed)
	}
}

func TestRateLimiter_TryAcquire(t *testing.T) {
	limiter := NewRateLimiter(RateLimiterConfig{MaxTokens: 2, RefillRate: 0.1})

	if !limiter.TryAcquire() {
		t.Error("first TryAcquire should succeed")
	}
	if !limiter.TryAcquire() {
		t.Error("second TryAcquire should succeed")
	}
	if limiter.TryAcquire() {
		t.Error("third TryAcquire should fail")
	}
}

func TestRateLimiter_ContextCancellation(t *testing.T) {
	limiter := NewRateLimiter(RateLimiterConfig{MaxTokens: 1, RefillRate: 0.01})
	limiter.TryAcquire()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if err := limiter.Acquire(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Acquire() error = %v, want context.DeadlineExceeded", err)
	}
}

func TestNewRateLimiter_SanitizesConfig(t *testing.T) {
	limiter := NewRateLimiter(RateLimiterConfig{})
	if limiter.RefillRate() <= 0 {
		t.Errorf("RefillRate = %v, want positive", limiter.RefillRate())
	}
	if !limiter.TryAcquire() {
		t.Error("a zero config should still allow one token")
	}
}

func TestRateLimiterRegistry_Get(t *testing.T) {
	registry := NewRateLimiterRegistry(map[string]RateLimiterConfig{
		"openai": {MaxTokens: 5, RefillRate: 0.5},
	})

	openai := registry.Get("openai")
	if openai.RefillRate() != 0.5 {
		t.Errorf("openai RefillRate = %v, want 0.5", openai.RefillRate())
	}

	unknown := registry.Get("unknown")
	if unknown.RefillRate() != DefaultRateLimiterConfig().RefillRate {
		t.Errorf("unknown RefillRate = %v, want default", unknown.RefillRate())
	}

	if registry.Get("openai") != openai {
		t.Error("Get should return same limiter for same provider")
	}
}

func TestRateLimiterRegistry_StatusAndList(t *testing.T) {
	registry := NewRateLimiterRegistry(map[string]RateLimiterConfig{
		"perplexity": {MaxTokens: 2, RefillRate: 1},
		"openai":     {MaxTokens: 2, RefillRate: 1},
	})
	registry.Get("openai")

	if got := registry.Status(); len(got) != 1 {
		t.Errorf("len(Status) = %d, want 1", len(got))
	}
	names := registry.List()
	if len(names) != 2 || names[0] != "openai" || names[1] != "perplexity" {
		t.Errorf("List() = %v", names)
	}
}

func TestAdaptiveRateLimiter_SuccessRaisesRate(t *testing.T) {
	limiter := NewAdaptiveRateLimiter(RateLimiterConfig{MaxTokens: 10, RefillRate: 1.0})
	initial := limiter.RefillRate()

	for i := 0; i < 5; i++ {
		limiter.RecordSuccess()
	}

	if limiter.RefillRate() <= initial {
		t.Errorf("rate should increase after 5 successes: %v -> %v", initial, limiter.RefillRate())
	}
}

func TestAdaptiveRateLimiter_RateLimitedHalvesRate(t *testing.T) {
	limiter := NewAdaptiveRateLimiter(RateLimiterConfig{MaxTokens: 10, RefillRate: 1.0})

	limiter.RecordRateLimited()
	if rate := limiter.RefillRate(); rate < 0.45 || rate > 0.55 {
		t.Errorf("rate = %v, want ~0.5", rate)
	}

	for i := 0; i < 20; i++ {
		limiter.RecordRateLimited()
	}
	if rate := limiter.RefillRate(); rate < 0.1 {
		t.Errorf("rate = %v, should not go below min 0.1", rate)
	}
}

func TestAdaptiveRateLimiter_MaxRate(t *testing.T) {
	limiter := NewAdaptiveRateLimiter(RateLimiterConfig{MaxTokens: 10, RefillRate: 1.0})

	for i := 0; i < 100; i++ {
		limiter.RecordSuccess()
	}

	if rate := limiter.RefillRate(); rate > 2.0 {
		t.Errorf("rate = %v, should not go above max = 2", rate)
	}
}
