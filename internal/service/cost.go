package service

import (
	"sort"
	"sync"

	"github.com/hugo-lorenzo-mato/rivalscope/internal/core"
)

var _ core.CostObserver = (*CostTracker)(nil)

// CostTracker accumulates provider cost for one session. Safe for concurrent writers.
type CostTracker struct {
	mu           sync.Mutex
	byProvider   map[string]float64
	attempts     map[string]int
	total        float64
	observations int
	discarded    int
	frozen       bool
	onRecord     func(provider string, usd float64)
}

// NewCostTracker creates an empty tracker. onRecord, when non-nil, is called
// for every accepted observation (used to mirror costs into metrics).
func NewCostTracker(onRecord func(provider string, usd float64)) *CostTracker {
	return &CostTracker{
		byProvider: make(map[string]float64),
		attempts:   make(map[string]int),
		onRecord:   onRecord,
	}
}

// Record adds one attempt's cost. Returns false once the tracker is frozen.
func (c *CostTracker) Record(provider string, usd float64) bool {
	if usd < 0 {
		usd = 0
	}

	c.mu.Lock()
	if c.frozen {
		c.discarded++
		c.mu.Unlock()
		return false
	}
	c.byProvider[provider] += usd
	c.attempts[provider]++
	c.total += usd
	c.observations++
	hook := c.onRecord
	c.mu.Unlock()

	if hook != nil {
		hook(provider, usd)
	}
	return true
}

// Freeze rejects all further observations.
func (c *CostTracker) Freeze() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frozen = true
}

// Total returns the session total.
func (c *CostTracker) Total() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.total
}

// Observations returns the number of accepted observations.
func (c *CostTracker) Observations() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.observations
}

// Discarded returns the number of observations rejected after Freeze.
func (c *CostTracker) Discarded() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.discarded
}

// Exceeds reports whether the total has passed limit. A non-positive limit never trips.
func (c *CostTracker) Exceeds(limit float64) bool {
	if limit <= 0 {
		return false
	}
	return c.Total() > limit
}

// ByProvider returns per-provider totals sorted by provider name.
func (c *CostTracker) ByProvider() []core.ProviderCost {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]core.ProviderCost, 0, len(c.byProvider))
	for name, usd := range c.byProvider {
		out = append(out, core.ProviderCost{Provider: name, CostUSD: usd, Attempts: c.attempts[name]})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Provider < out[j].Provider })
	return out
}
