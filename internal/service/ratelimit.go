package service

import (
	"context"
	"sort"
	"sync"
	"time"
)

// RateLimiter implements a token bucket rate limiter.
type RateLimiter struct {
	tokens     float64
	maxTokens  float64
	refillRate float64 // tokens per second
	lastRefill time.Time
	mu         sync.Mutex
}

// RateLimiterConfig configures a rate limiter.
type RateLimiterConfig struct {
	MaxTokens  float64 // Maximum bucket capacity
	RefillRate float64 // Tokens added per second
}

// DefaultRateLimiterConfig returns default configuration.
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		MaxTokens:  10,
		RefillRate: 1,
	}
}

// NewRateLimiter creates a new rate limiter.
func NewRateLimiter(cfg RateLimiterConfig) *RateLimiter {
	if cfg.RefillRate <= 0 {
		cfg.RefillRate = DefaultRateLimiterConfig().RefillRate
	}
	if cfg.MaxTokens < 1 {
		cfg.MaxTokens = 1
	}
	return &RateLimiter{
		tokens:     cfg.MaxTokens,
		maxTokens:  cfg.MaxTokens,
		refillRate: cfg.RefillRate,
		lastRefill: time.Now(),
	}
}

// Acquire blocks until a token is available or context is cancelled.
func (r *RateLimiter) Acquire(ctx context.Context) error {
	for {
		r.mu.Lock()
		r.refill()

		if r.tokens >= 1 {
			r.tokens--
			r.mu.Unlock()
			return nil
		}

		waitTime := time.Duration(float64(time.Second) / r.refillRate)
		r.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(waitTime):
		}
	}
}

// TryAcquire attempts to acquire a token without blocking.
func (r *RateLimiter) TryAcquire() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.refill()

	if r.tokens >= 1 {
		r.tokens--
		return true
	}
	return false
}

// Available returns the current number of available tokens.
func (r *RateLimiter) Available() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refill()
	return r.tokens
}

// RefillRate returns the current refill rate.
func (r *RateLimiter) RefillRate() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.refillRate
}

// refill adds tokens based on elapsed time.
func (r *RateLimiter) refill() {
	now := time.Now()
	elapsed := now.Sub(r.lastRefill)
	r.lastRefill = now

	r.tokens = minFloat(r.maxTokens, r.tokens+elapsed.Seconds()*r.refillRate)
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

// AdaptiveRateLimiter adjusts rate based on provider feedback.
type AdaptiveRateLimiter struct {
	*RateLimiter
	adaptiveMu    sync.Mutex
	consecutiveOK int
	minRefillRate float64
	maxRefillRate float64
}

// NewAdaptiveRateLimiter creates an adaptive rate limiter.
func NewAdaptiveRateLimiter(cfg RateLimiterConfig) *AdaptiveRateLimiter {
	rl := NewRateLimiter(cfg)
	return &AdaptiveRateLimiter{
		RateLimiter:   rl,
		minRefillRate: rl.refillRate * 0.1,
		maxRefillRate: rl.refillRate * 2,
	}
}

// RecordSuccess increases the rate after 5 consecutive successes.
func (a *AdaptiveRateLimiter) RecordSuccess() {
	a.adaptiveMu.Lock()
	defer a.adaptiveMu.Unlock()

	a.consecutiveOK++
	if a.consecutiveOK >= 5 {
		a.RateLimiter.mu.Lock()
		if newRate := a.RateLimiter.refillRate * 1.1; newRate <= a.maxRefillRate {
			a.RateLimiter.refillRate = newRate
		}
		a.RateLimiter.mu.Unlock()
		a.consecutiveOK = 0
	}
}

// RecordRateLimited halves the rate immediately.
func (a *AdaptiveRateLimiter) RecordRateLimited() {
	a.adaptiveMu.Lock()
	defer a.adaptiveMu.Unlock()

	a.consecutiveOK = 0
	a.RateLimiter.mu.Lock()
	if newRate := a.RateLimiter.refillRate * 0.5; newRate >= a.minRefillRate {
		a.RateLimiter.refillRate = newRate
	}
	a.RateLimiter.mu.Unlock()
}

// RateLimiterRegistry manages rate limiters for multiple providers.
type RateLimiterRegistry struct {
	limiters map[string]*AdaptiveRateLimiter
	configs  map[string]RateLimiterConfig
	mu       sync.Mutex
}

// NewRateLimiterRegistry creates a registry from per-provider configs.
// Providers without a config get DefaultRateLimiterConfig.
func NewRateLimiterRegistry(configs map[string]RateLimiterConfig) *RateLimiterRegistry {
	cp := make(map[string]RateLimiterConfig, len(configs))
	for k, v := range configs {
		cp[k] = v
	}
	return &RateLimiterRegistry{
		limiters: make(map[string]*AdaptiveRateLimiter),
		configs:  cp,
	}
}

// Get returns the rate limiter for a provider.
func (r *RateLimiterRegistry) Get(provider string) *AdaptiveRateLimiter {
	r.mu.Lock()
	defer r.mu.Unlock()

	if limiter, ok := r.limiters[provider]; ok {
		return limiter
	}

	cfg, ok := r.configs[provider]
	if !ok {
		cfg = DefaultRateLimiterConfig()
	}
	limiter := NewAdaptiveRateLimiter(cfg)
	r.limiters[provider] = limiter
	return limiter
}

// RateLimiterStatus contains status information.
type RateLimiterStatus struct {
	Available  float64 `json:"available"`
	RefillRate float64 `json:"refill_rate"`
}

// Status returns limiter status for all providers seen so far.
func (r *RateLimiterRegistry) Status() map[string]RateLimiterStatus {
	r.mu.Lock()
	defer r.mu.Unlock()

	status := make(map[string]RateLimiterStatus, len(r.limiters))
	for name, limiter := range r.limiters {
		status[name] = RateLimiterStatus{
			Available:  limiter.Available(),
			RefillRate: limiter.RefillRate(),
		}
	}
	return status
}

// List returns configured provider names.
func (r *RateLimiterRegistry) List() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, len(r.configs))
	for name := range r.configs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
