package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hugo-lorenzo-mato/rivalscope/internal/core"
	"github.com/hugo-lorenzo-mato/rivalscope/internal/events"
	"github.com/hugo-lorenzo-mato/rivalscope/internal/logging"
)

// OrchestratorConfig holds the tunables of the orchestrator. Zero values are
// replaced by the defaults from DefaultOrchestratorConfig.
type OrchestratorConfig struct {
	// Concurrency bounds in-flight provider calls per session.
	Concurrency int
	// SessionTimeout is the wall-clock budget of a whole session.
	SessionTimeout time.Duration
	// ProviderTimeout bounds one provider attempt.
	ProviderTimeout time.Duration
	// TargetWaitTimeout bounds how long a target waits for slow providers
	// before it is aggregated with what arrived.
	TargetWaitTimeout time.Duration
	// MaxCostPerSession stops new dispatches once exceeded. 0 disables it.
	MaxCostPerSession float64
	// IdempotencyWindow is how long an idempotency key maps to its session.
	IdempotencyWindow time.Duration
	// MaxTargets caps the number of companies in one request.
	MaxTargets int
	// Focus and Notes are passed to every provider call.
	Focus []core.Field
	Notes string

	Retry       *RetryPolicy
	Aggregation AggregationPolicy
}

// DefaultOrchestratorConfig returns the default configuration.
func DefaultOrchestratorConfig() OrchestratorConfig {
	return OrchestratorConfig{
		Concurrency:       4,
		SessionTimeout:    10 * time.Minute,
		ProviderTimeout:   2 * time.Minute,
		TargetWaitTimeout: 5 * time.Minute,
		IdempotencyWindow: 24 * time.Hour,
		MaxTargets:        20,
		Retry:             DefaultRetryPolicy(),
		Aggregation:       DefaultAggregationPolicy(),
	}
}

func (c OrchestratorConfig) withDefaults() OrchestratorConfig {
	def := DefaultOrchestratorConfig()
	if c.Concurrency <= 0 {
		c.Concurrency = def.Concurrency
	}
	if c.SessionTimeout <= 0 {
		c.SessionTimeout = def.SessionTimeout
	}
	if c.ProviderTimeout <= 0 {
		c.ProviderTimeout = def.ProviderTimeout
	}
	if c.TargetWaitTimeout <= 0 {
		c.TargetWaitTimeout = def.TargetWaitTimeout
	}
	if c.IdempotencyWindow <= 0 {
		c.IdempotencyWindow = def.IdempotencyWindow
	}
	if c.MaxTargets <= 0 {
		c.MaxTargets = def.MaxTargets
	}
	if c.Retry == nil {
		c.Retry = def.Retry
	}
	return c
}

// ProgressPublisher receives session progress events.
type ProgressPublisher interface {
	Publish(ev events.Event)
}

// Metrics records orchestrator activity. internal/metrics provides the
// prometheus implementation.
type Metrics interface {
	ProviderCall(provider string, kind core.ErrorKind, d time.Duration)
	ProviderCost(provider string, usd float64)
	SessionTransition(from, to core.SessionStatus)
	TargetAggregated(score float64)
}

type nopMetrics struct{}

func (nopMetrics) ProviderCall(string, core.ErrorKind, time.Duration) {}
func (nopMetrics) ProviderCost(string, float64) {}
func (nopMetrics) SessionTransition(core.SessionStatus, core.SessionStatus) {}
func (nopMetrics) TargetAggregated(float64) {}

type nopPublisher struct{}

func (nopPublisher) Publish(events.Event) {}

// OrchestratorDeps are the collaborators of the orchestrator.
type OrchestratorDeps struct {
	Providers    map[string]core.Provider
	Availability core.AvailabilitySource
	Store        core.SessionStore
	Publisher    ProgressPublisher
	RateLimits   *RateLimiterRegistry
	Archiver     core.ReportArchiver
	Metrics      Metrics
	Logger       *logging.Logger
}

// AnalysisRequest is a caller's request to analyze one or more companies.
type AnalysisRequest struct {
	Targets        []string `json:"targets"`
	Providers      []string `json:"providers"`
	IdempotencyKey string   `json:"idempotency_key,omitempty"`
}

// StartResult is returned by StartAnalysis.
type StartResult struct {
	SessionID    core.SessionID    `json:"session_id"`
	GateDecision core.GateDecision `json:"gate_decision"`
	// Replayed is true when an idempotency key matched an existing session.
	Replayed bool `json:"replayed,omitempty"`
}

// ErrShuttingDown is returned by StartAnalysis once Shutdown has begun.
var ErrShuttingDown = errors.New("orchestrator shutting down")

var (
	errSessionCancelled = errors.New("session cancelled")
	errSessionTimeout   = errors.New("session timeout")
)

// Orchestrator admits analysis sessions, fans provider calls out, and drives
// each session through pending → running → completed|failed.
type Orchestrator struct {
	cfg        OrchestratorConfig
	providers  map[string]core.Provider
	gate       *GateEvaluator
	aggregator *Aggregator
	store      core.SessionStore
	publisher  ProgressPublisher
	rateLimits *RateLimiterRegistry
	archiver   core.ReportArchiver
	metrics    Metrics
	logger     *logging.Logger

	baseCtx    context.Context
	baseCancel context.CancelCauseFunc

	mu       sync.Mutex
	runs     map[core.SessionID]*sessionRun
	closing  bool
	startMu  sync.Mutex
	wg       sync.WaitGroup
	storeTTL time.Duration
}

// NewOrchestrator creates an orchestrator. Providers, Availability and Store
// are required.
func NewOrchestrator(cfg OrchestratorConfig, deps OrchestratorDeps) (*Orchestrator, error) {
	if deps.Availability == nil {
		return nil, errors.New("orchestrator: availability source is required")
	}
	if deps.Store == nil {
		return nil, errors.New("orchestrator: session store is required")
	}
	if len(deps.Providers) == 0 {
		return nil, errors.New("orchestrator: at least one provider is required")
	}

	cfg = cfg.withDefaults()
	if deps.Publisher == nil {
		deps.Publisher = nopPublisher{}
	}
	if deps.Metrics == nil {
		deps.Metrics = nopMetrics{}
	}
	if deps.Logger == nil {
		deps.Logger = logging.NewNop()
	}
	if deps.RateLimits == nil {
		deps.RateLimits = NewRateLimiterRegistry(nil)
	}

	providers := make(map[string]core.Provider, len(deps.Providers))
	for name, p := range deps.Providers {
		providers[name] = p
	}

	baseCtx, baseCancel := context.WithCancelCause(context.Background())
	return &Orchestrator{
		cfg:        cfg,
		providers:  providers,
		gate:       NewGateEvaluator(deps.Availability),
		aggregator: NewAggregator(cfg.Aggregation),
		store:      deps.Store,
		publisher:  deps.Publisher,
		rateLimits: deps.RateLimits,
		archiver:   deps.Archiver,
		metrics:    deps.Metrics,
		logger:     deps.Logger,
		baseCtx:    baseCtx,
		baseCancel: baseCancel,
		runs:       make(map[core.SessionID]*sessionRun),
		storeTTL:   30 * time.Second,
	}, nil
}

// Config returns the effective configuration.
func (o *Orchestrator) Config() OrchestratorConfig {
	return o.cfg
}

// Gate exposes the gate evaluator used for admission.
func (o *Orchestrator) Gate() *GateEvaluator {
	return o.gate
}

// StartAnalysis validates the request, evaluates the gate and, when allowed,
// creates a pending session and starts it in the background. A denied request
// returns the decision together with a gate error and creates nothing.
func (o *Orchestrator) StartAnalysis(ctx context.Context, req AnalysisRequest) (*StartResult, error) {
	targets, err := normalizeTargets(req.Targets, o.cfg.MaxTargets)
	if err != nil {
		return nil, err
	}
	providers := normalizeProviders(req.Providers)

	o.startMu.Lock()
	defer o.startMu.Unlock()

	o.mu.Lock()
	closing := o.closing
	o.mu.Unlock()
	if closing {
		return nil, ErrShuttingDown
	}

	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		existing, err := o.store.FindByIdempotencyKey(ctx, key, time.Now().UTC().Add(-o.cfg.IdempotencyWindow))
		if err != nil {
			return nil, fmt.Errorf("looking up idempotency key: %w", err)
		}
		if existing != nil {
			o.logger.Info("idempotent replay", "session_id", existing.ID, "idempotency_key", key)
			return &StartResult{
				SessionID:    existing.ID,
				GateDecision: o.gate.Evaluate(ctx, existing.SelectedProviders),
				Replayed:     true,
			}, nil
		}
	}

	decision := o.gate.Evaluate(ctx, providers)
	if !decision.Allowed {
		o.logger.Info("analysis denied by gate", "reasons", decision.Reasons)
		return &StartResult{GateDecision: decision}, core.ErrGateDenied(decision.Reasons)
	}

	session := core.NewAnalysisSession(targets, providers, strings.TrimSpace(req.IdempotencyKey))
	if err := o.store.CreateSession(ctx, session); err != nil {
		return nil, fmt.Errorf("creating session: %w", err)
	}

	run := o.newRun(session, decision)

	o.mu.Lock()
	o.runs[session.ID] = run
	o.mu.Unlock()

	run.logger.Info("session created",
		"targets", len(targets),
		"providers", strings.Join(run.active, ","),
	)
	o.publisher.Publish(events.NewSessionCreatedEvent(session.ID, targets, providers, decision))

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		run.execute()
	}()

	return &StartResult{SessionID: session.ID, GateDecision: decision}, nil
}

// GetSessionStatus returns the live view of an active session, or the stored
// session once it has finished.
func (o *Orchestrator) GetSessionStatus(ctx context.Context, id core.SessionID) (*core.AnalysisSession, error) {
	if run := o.lookup(id); run != nil {
		return run.view(), nil
	}
	s, err := o.store.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Cancel stops an active session. The session reaches failed with reason
// cancelled shortly after; results arriving later are discarded.
func (o *Orchestrator) Cancel(ctx context.Context, id core.SessionID) error {
	if run := o.lookup(id); run != nil {
		if run.requestCancel() {
			return nil
		}
	}
	s, err := o.store.GetSession(ctx, id)
	if err != nil {
		return err
	}
	if s.Status.IsTerminal() {
		return core.ErrInvalidTransition(s.Status, core.SessionFailed)
	}
	return nil
}

// Wait blocks until the session is terminal or ctx is done, then returns the
// final session view.
func (o *Orchestrator) Wait(ctx context.Context, id core.SessionID) (*core.AnalysisSession, error) {
	if run := o.lookup(id); run != nil {
		select {
		case <-run.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return run.view(), nil
	}
	return o.store.GetSession(ctx, id)
}

// ActiveSessions returns the ids of sessions that have not finished, sorted.
func (o *Orchestrator) ActiveSessions() []core.SessionID {
	o.mu.Lock()
	defer o.mu.Unlock()
	ids := make([]core.SessionID, 0, len(o.runs))
	for id := range o.runs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Snapshot builds the snapshot event handed to new progress subscribers. It
// matches events.SnapshotFunc.
func (o *Orchestrator) Snapshot(sessionID string) (events.Event, bool, error) {
	id := core.SessionID(sessionID)
	if run := o.lookup(id); run != nil {
		view := run.view()
		return events.NewSnapshotEvent(view), view.Status.IsTerminal(), nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), o.storeTTL)
	defer cancel()
	s, err := o.store.GetSession(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return events.NewSnapshotEvent(s), s.Status.IsTerminal(), nil
}

// Shutdown refuses new sessions, cancels active ones and waits for them to
// finalize or for ctx to expire.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	o.closing = true
	o.mu.Unlock()

	o.baseCancel(ErrShuttingDown)

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for sessions to stop: %w", ctx.Err())
	}
}

// SessionError maps a terminal session to the caller-facing outcome: nil for
// completed, a cancellation error, or a total-failure error.
func SessionError(s *core.AnalysisSession) error {
	if s == nil || s.Status != core.SessionFailed {
		return nil
	}
	if s.FailureReason == core.ReasonCancelled {
		return core.ErrCancelled(s.ID)
	}
	return core.ErrSessionTotalFailure(s.ID).WithDetail("reason", s.FailureReason)
}

func (o *Orchestrator) lookup(id core.SessionID) *sessionRun {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.runs[id]
}

func (o *Orchestrator) forget(id core.SessionID) {
	o.mu.Lock()
	delete(o.runs, id)
	o.mu.Unlock()
}

// normalizeTargets trims names, drops blanks and removes case-insensitive
// duplicates while keeping the first spelling and the request order.
func normalizeTargets(raw []string, maxTargets int) ([]string, error) {
	seen := make(map[string]bool, len(raw))
	out := make([]string, 0, len(raw))
	for _, t := range raw {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if len(t) > core.MaxTargetLength {
			return nil, core.ErrValidation(core.CodeTargetTooLong,
				fmt.Sprintf("target name exceeds %d characters", core.MaxTargetLength))
		}
		key := strings.ToLower(t)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, t)
	}
	if len(out) == 0 {
		return nil, core.ErrValidation(core.CodeNoTargets, "at least one target is required")
	}
	if len(out) > maxTargets {
		return nil, core.ErrValidation(core.CodeTooManyTargets,
			fmt.Sprintf("at most %d targets per session", maxTargets))
	}
	return out, nil
}

func normalizeProviders(raw []string) []string {
	seen := make(map[string]bool, len(raw))
	out := make([]string, 0, len(raw))
	for _, p := range raw {
		p = strings.ToLower(strings.TrimSpace(p))
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	return out
}
