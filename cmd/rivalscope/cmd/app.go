package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/hugo-lorenzo-mato/rivalscope/internal/adapters/archive"
	"github.com/hugo-lorenzo-mato/rivalscope/internal/adapters/availability"
	"github.com/hugo-lorenzo-mato/rivalscope/internal/adapters/providers"
	"github.com/hugo-lorenzo-mato/rivalscope/internal/adapters/state"
	"github.com/hugo-lorenzo-mato/rivalscope/internal/config"
	"github.com/hugo-lorenzo-mato/rivalscope/internal/core"
	"github.com/hugo-lorenzo-mato/rivalscope/internal/events"
	"github.com/hugo-lorenzo-mato/rivalscope/internal/logging"
	"github.com/hugo-lorenzo-mato/rivalscope/internal/metrics"
	"github.com/hugo-lorenzo-mato/rivalscope/internal/service"
)

// appOptions adjusts how the application is assembled.
type appOptions struct {
	// DryRun replaces every provider with a static one and ignores the
	// configured availability source.
	DryRun bool
	// Providers limits the dry-run provider set.
	Providers []string
	// Getenv reads secrets; os.Getenv when nil.
	Getenv func(string) string
}

// app holds the wired orchestrator and everything it depends on.
type app struct {
	cfg            *config.Config
	logger         *logging.Logger
	orch           *service.Orchestrator
	publisher      *events.Publisher
	store          core.SessionStore
	source         core.AvailabilitySource
	metrics        *metrics.Collector
	providerNames  []string
	providerErrors map[string]error
	closers        []func()
}

// newApp wires the orchestrator from cfg. Background work such as the
// availability file watcher lives until ctx is cancelled.
func newApp(ctx context.Context, cfg *config.Config, logger *logging.Logger, opts appOptions) (*app, error) {
	if opts.Getenv == nil {
		opts.Getenv = os.Getenv
	}
	a := &app{cfg: cfg, logger: logger, metrics: metrics.New()}

	built, source, err := a.buildProviders(ctx, opts)
	if err != nil {
		a.close()
		return nil, err
	}
	a.source = source
	for name := range built {
		a.providerNames = append(a.providerNames, name)
	}
	sort.Strings(a.providerNames)

	store, err := state.NewSessionStore(state.StoreOptions{
		Backend:   cfg.Store.Backend,
		DSN:       cfg.Store.DSN,
		Retention: config.Duration(cfg.Store.Retention, 0),
	})
	if err != nil {
		a.close()
		return nil, fmt.Errorf("opening session store: %w", err)
	}
	a.store = store
	if c, ok := store.(io.Closer); ok {
		a.closers = append(a.closers, func() { _ = c.Close() })
	}

	pubOpts := []events.Option{events.WithBufferSize(cfg.Server.EventBuffer)}
	if cfg.NATS.URL != "" {
		fwd, err := events.ConnectNATS(cfg.NATS.URL, cfg.NATS.SubjectPrefix, logger.Logger)
		if err != nil {
			logger.Warn("nats forwarding disabled", "url", cfg.NATS.URL, "error", err)
		} else {
			pubOpts = append(pubOpts, events.WithForwarder(fwd))
			a.closers = append(a.closers, fwd.Close)
		}
	}
	a.publisher = events.NewPublisher(pubOpts...)
	a.metrics.ObserveEvents(a.publisher)

	var archiver core.ReportArchiver
	if cfg.Archive.Enabled && !opts.DryRun {
		arch, err := archive.New(ctx, archive.Options{
			Endpoint:  cfg.Archive.Endpoint,
			Region:    cfg.Archive.Region,
			Bucket:    cfg.Archive.Bucket,
			Prefix:    cfg.Archive.Prefix,
			AccessKey: envValue(opts.Getenv, cfg.Archive.AccessKeyEnv),
			SecretKey: envValue(opts.Getenv, cfg.Archive.SecretKeyEnv),
			UseSSL:    cfg.Archive.UseSSL,
		})
		if err != nil {
			logger.Warn("report archive disabled", "endpoint", cfg.Archive.Endpoint, "error", err)
		} else {
			archiver = arch
		}
	}

	orch, err := service.NewOrchestrator(orchestratorConfig(cfg), service.OrchestratorDeps{
		Providers:    built,
		Availability: source,
		Store:        store,
		Publisher:    a.publisher,
		RateLimits:   rateLimits(cfg),
		Archiver:     archiver,
		Metrics:      a.metrics,
		Logger:       logger,
	})
	if err != nil {
		a.publisher.Close()
		a.close()
		return nil, err
	}
	a.orch = orch
	a.publisher.SetSnapshot(orch.Snapshot)
	return a, nil
}

// buildProviders returns the usable adapters and the availability source
// that governs them.
func (a *app) buildProviders(ctx context.Context, opts appOptions) (map[string]core.Provider, core.AvailabilitySource, error) {
	if opts.DryRun {
		names := opts.Providers
		if len(names) == 0 {
			names = a.cfg.EnabledProviders()
		}
		if len(names) == 0 {
			names = []string{providers.KindStatic}
		}
		built := make(map[string]core.Provider, len(names))
		for _, name := range names {
			built[name] = providers.NewStaticProviderWithPayload(name, nil)
		}
		return built, availability.AllActive(names...), nil
	}

	registry := providers.NewRegistry()
	providers.ConfigureRegistryWithEnv(registry, a.cfg, a.logger, opts.Getenv)
	built, errs := registry.Build()
	a.providerErrors = errs
	for _, name := range sortedKeys(errs) {
		a.logger.Warn("provider unavailable", "provider", name, "error", errs[name])
	}
	if len(built) == 0 {
		if len(errs) == 0 {
			return nil, nil, errors.New("no providers enabled; enable one under providers.<name>.enabled or use --dry-run")
		}
		return nil, nil, fmt.Errorf("no usable providers: %s", joinErrors(errs))
	}

	source, err := a.buildAvailability(ctx)
	if err != nil {
		return nil, nil, err
	}
	return built, source, nil
}

// buildAvailability creates the configured availability source.
func (a *app) buildAvailability(ctx context.Context) (core.AvailabilitySource, error) {
	switch a.cfg.Availability.Source {
	case config.AvailabilityFileSource:
		f, err := availability.NewFile(a.cfg.Availability.Path, a.logger.Logger)
		if err != nil {
			return nil, fmt.Errorf("loading availability file: %w", err)
		}
		if err := f.Watch(ctx); err != nil {
			a.logger.Warn("availability file not watched; changes need a restart", "path", a.cfg.Availability.Path, "error", err)
		}
		return f, nil
	default:
		return availability.FromConfig(a.cfg), nil
	}
}

// close releases resources in reverse order of acquisition.
func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// Shutdown stops the orchestrator and releases everything newApp opened.
func (a *app) Shutdown(ctx context.Context) error {
	var err error
	if a.orch != nil {
		err = a.orch.Shutdown(ctx)
	}
	if a.publisher != nil {
		a.publisher.Close()
	}
	a.close()
	return err
}

// orchestratorConfig maps the loaded configuration onto the orchestrator.
func orchestratorConfig(cfg *config.Config) service.OrchestratorConfig {
	def := service.DefaultOrchestratorConfig()
	an := cfg.Analysis

	retryDef := service.DefaultRetryPolicy()
	retry := service.NewRetryPolicy(
		service.WithMaxAttempts(cfg.Retry.MaxAttempts),
		service.WithBaseDelay(config.Duration(cfg.Retry.BaseDelay, retryDef.BaseDelay)),
		service.WithMaxDelay(config.Duration(cfg.Retry.MaxDelay, retryDef.MaxDelay)),
		service.WithMaxTotalWait(config.Duration(cfg.Retry.MaxTotalWait, retryDef.MaxTotalWait)),
		service.WithMultiplier(orDefault(cfg.Retry.Multiplier, retryDef.Multiplier)),
		service.WithJitter(cfg.Retry.Jitter),
	)

	agg := service.DefaultAggregationPolicy()
	if len(an.QualitativePriority) > 0 {
		agg.QualitativePriority = lowerAll(an.QualitativePriority)
	}
	if len(an.FactualPriority) > 0 {
		agg.FactualPriority = lowerAll(an.FactualPriority)
	}
	if an.MaxListItems > 0 {
		agg.MaxListItems = an.MaxListItems
	}
	w := an.Weights
	if w.Coverage+w.Confidence+w.Agreement > 0 {
		agg.Weights = service.QualityWeights{
			Coverage:   w.Coverage,
			Confidence: w.Confidence,
			Agreement:  w.Agreement,
		}
	}
	if len(an.CrossCheckFields) > 0 {
		agg.CrossCheckFields = toFields(an.CrossCheckFields)
	}

	return service.OrchestratorConfig{
		Concurrency:       an.Concurrency,
		SessionTimeout:    config.Duration(an.SessionTimeout, def.SessionTimeout),
		ProviderTimeout:   config.Duration(an.ProviderTimeout, def.ProviderTimeout),
		TargetWaitTimeout: config.Duration(an.TargetWaitTimeout, def.TargetWaitTimeout),
		MaxCostPerSession: an.MaxCostPerSession,
		IdempotencyWindow: config.Duration(an.IdempotencyWindow, def.IdempotencyWindow),
		MaxTargets:        an.MaxTargets,
		Focus:             toFields(an.Focus),
		Notes:             an.Notes,
		Retry:             retry,
		Aggregation:       agg,
	}
}

// rateLimits builds per-provider token buckets from providers.<id>.rate_limit.
func rateLimits(cfg *config.Config) *service.RateLimiterRegistry {
	configs := make(map[string]service.RateLimiterConfig)
	for name, p := range cfg.Providers {
		if p.RateLimit <= 0 {
			continue
		}
		burst := float64(p.Burst)
		if burst < 1 {
			burst = p.RateLimit
			if burst < 1 {
				burst = 1
			}
		}
		configs[name] = service.RateLimiterConfig{MaxTokens: burst, RefillRate: p.RateLimit}
	}
	return service.NewRateLimiterRegistry(configs)
}

func toFields(names []string) []core.Field {
	out := make([]core.Field, 0, len(names))
	for _, n := range names {
		f := core.Field(strings.TrimSpace(n))
		if _, ok := core.LookupField(f); ok {
			out = append(out, f)
		}
	}
	return out
}

func lowerAll(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = strings.ToLower(strings.TrimSpace(s))
	}
	return out
}

func orDefault(v, def float64) float64 {
	if v <= 0 {
		return def
	}
	return v
}

func envValue(getenv func(string) string, name string) string {
	if name == "" {
		return ""
	}
	return getenv(name)
}

func sortedKeys(m map[string]error) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func joinErrors(errs map[string]error) string {
	parts := make([]string, 0, len(errs))
	for _, name := range sortedKeys(errs) {
		parts = append(parts, fmt.Sprintf("%s: %v", name, errs[name]))
	}
	return strings.Join(parts, "; ")
}
