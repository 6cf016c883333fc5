package metrics

import (
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hugo-lorenzo-mato/rivalscope/internal/core"
)

const namespace = "rivalscope"

// outcomeSuccess labels provider calls that returned usable fields.
const outcomeSuccess = "success"

// Collector records orchestrator metrics into a private prometheus registry
// and keeps per-provider totals for the stats endpoint.
type Collector struct {
	registry *prometheus.Registry

	providerCalls    *prometheus.CounterVec
	providerDuration *prometheus.HistogramVec
	providerCost     *prometheus.CounterVec
	running          prometheus.Gauge
	transitions      *prometheus.CounterVec
	quality          prometheus.Histogram

	mu        sync.RWMutex
	providers map[string]*ProviderStats
}

// ProviderStats holds in-process totals for one provider.
type ProviderStats struct {
	Name          string         `json:"name"`
	Invocations   int            `json:"invocations"`
	Errors        int            `json:"errors"`
	ErrorsByKind  map[string]int `json:"errors_by_kind,omitempty"`
	TotalDuration time.Duration  `json:"total_duration"`
	AvgDuration   time.Duration  `json:"avg_duration"`
	CostUSD       float64        `json:"cost_usd"`
}

// New creates a collector with its own registry, including Go runtime and
// process collectors.
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		providerCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_calls_total",
			Help:      "Provider attempts by outcome.",
		}, []string{"provider", "outcome"}),
		providerDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_call_duration_seconds",
			Help:      "Latency of a single provider attempt.",
			Buckets:   []float64{0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"provider"}),
		providerCost: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_cost_usd_total",
			Help:      "Accumulated provider spend in USD.",
		}, []string{"provider"}),
		running: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_running",
			Help:      "Sessions currently dispatching provider calls.",
		}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_transitions_total",
			Help:      "Session status transitions.",
		}, []string{"from", "to"}),
		quality: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "target_data_quality_score",
			Help:      "Data quality score of aggregated targets.",
			Buckets:   prometheus.LinearBuckets(0, 0.1, 11),
		}),
		providers: make(map[string]*ProviderStats),
	}

	c.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		c.providerCalls,
		c.providerDuration,
		c.providerCost,
		c.running,
		c.transitions,
		c.quality,
	)
	return c
}

// EventSource reports delivery health of the progress publisher.
type EventSource interface {
	DroppedCount() int64
	Subscribers() int
}

// ObserveEvents exports the publisher's dropped-event total and live
// subscription count. Call it once per collector.
func (c *Collector) ObserveEvents(src EventSource) {
	c.registry.MustRegister(
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dropped_total",
			Help:      "Progress events dropped because a subscriber fell behind.",
		}, func() float64 { return float64(src.DroppedCount()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "event_subscribers",
			Help:      "Live progress stream subscriptions.",
		}, func() float64 { return float64(src.Subscribers()) }),
	)
}

// ProviderCall records one provider attempt. An empty kind means success.
func (c *Collector) ProviderCall(provider string, kind core.ErrorKind, d time.Duration) {
	outcome := string(kind)
	if outcome == "" {
		outcome = outcomeSuccess
	}
	c.providerCalls.WithLabelValues(provider, outcome).Inc()
	c.providerDuration.WithLabelValues(provider).Observe(d.Seconds())

	c.mu.Lock()
	defer c.mu.Unlock()
	ps := c.statsLocked(provider)
	ps.Invocations++
	ps.TotalDuration += d
	ps.AvgDuration = ps.TotalDuration / time.Duration(ps.Invocations)
	if kind != "" {
		ps.Errors++
		if ps.ErrorsByKind == nil {
			ps.ErrorsByKind = make(map[string]int)
		}
		ps.ErrorsByKind[string(kind)]++
	}
}

// ProviderCost adds an accepted cost observation.
func (c *Collector) ProviderCost(provider string, usd float64) {
	if usd <= 0 {
		return
	}
	c.providerCost.WithLabelValues(provider).Add(usd)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.statsLocked(provider).CostUSD += usd
}

// SessionTransition counts a status change and tracks running sessions.
func (c *Collector) SessionTransition(from, to core.SessionStatus) {
	c.transitions.WithLabelValues(string(from), string(to)).Inc()
	if to == core.SessionRunning {
		c.running.Inc()
	}
	if from == core.SessionRunning {
		c.running.Dec()
	}
}

// TargetAggregated observes the quality score of one merged target.
func (c *Collector) TargetAggregated(score float64) {
	c.quality.Observe(score)
}

// Stats returns per-provider totals sorted by provider name.
func (c *Collector) Stats() []ProviderStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]ProviderStats, 0, len(c.providers))
	for _, ps := range c.providers {
		cp := *ps
		if ps.ErrorsByKind != nil {
			cp.ErrorsByKind = make(map[string]int, len(ps.ErrorsByKind))
			for k, v := range ps.ErrorsByKind {
				cp.ErrorsByKind[k] = v
			}
		}
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Reset clears the in-process totals. Prometheus series are cumulative and
// are left untouched.
func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.providers = make(map[string]*ProviderStats)
}

// Registry exposes the underlying registry, mainly for tests.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

func (c *Collector) statsLocked(provider string) *ProviderStats {
	ps, ok := c.providers[provider]
	if !ok {
		ps = &ProviderStats{Name: provider}
		c.providers[provider] = ps
	}
	return ps
}
