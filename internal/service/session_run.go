package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/hugo-lorenzo-mato/rivalscope/internal/core"
	"github.com/hugo-lorenzo-mato/rivalscope/internal/events"
	"github.com/hugo-lorenzo-mato/rivalscope/internal/logging"
)

type callKey struct {
	target   string
	provider string
}

// sessionRun owns one session from admission to its terminal state. All
// mutations of the session go through mu; events are published after mu is
// released because the publisher's snapshot callback reads the session.
type sessionRun struct {
	o       *Orchestrator
	id      core.SessionID
	targets []string
	active  []string
	logger  *logging.Logger
	cost    *CostTracker

	ctx         context.Context
	cancel      context.CancelCauseFunc
	stopTimeout context.CancelFunc

	done          chan struct{}
	allAggregated chan struct{}
	allOnce       sync.Once

	mu          sync.Mutex
	session     *core.AnalysisSession
	dispatched  map[callKey]bool
	outstanding map[string]map[string]bool
	results     map[string][]*core.ProviderResult
	timers      map[string]*time.Timer
	cancelled   bool
	finished    bool
}

func (o *Orchestrator) newRun(session *core.AnalysisSession, decision core.GateDecision) *sessionRun {
	timeoutCtx, stop := context.WithTimeoutCause(o.baseCtx, o.cfg.SessionTimeout, errSessionTimeout)
	ctx, cancel := context.WithCancelCause(timeoutCtx)

	active := decision.ActiveProviders(session.SelectedProviders)
	outstanding := make(map[string]map[string]bool, len(session.Targets))
	for _, t := range session.Targets {
		set := make(map[string]bool, len(active))
		for _, p := range active {
			set[p] = true
		}
		outstanding[t] = set
	}

	return &sessionRun{
		o:             o,
		id:            session.ID,
		targets:       append([]string(nil), session.Targets...),
		active:        active,
		logger:        o.logger.WithSession(string(session.ID)),
		cost:          NewCostTracker(o.metrics.ProviderCost),
		ctx:           ctx,
		cancel:        cancel,
		stopTimeout:   stop,
		done:          make(chan struct{}),
		allAggregated: make(chan struct{}),
		session:       session,
		dispatched:    make(map[callKey]bool),
		outstanding:   outstanding,
		results:       make(map[string][]*core.ProviderResult),
		timers:        make(map[string]*time.Timer),
	}
}

// execute dispatches every (target, provider) pair and finalizes the session
// when all calls resolved, every target aggregated, or the session context
// ended (cancel, timeout, shutdown). In-flight calls are aborted and awaited
// before the terminal state is written, so every attempt's result and cost
// is settled first.
func (r *sessionRun) execute() {
	dispatchDone := make(chan struct{})
	go func() {
		defer close(dispatchDone)
		r.dispatchAll()
	}()

	select {
	case <-dispatchDone:
	case <-r.allAggregated:
	case <-r.ctx.Done():
	}

	r.cancel(context.Canceled)
	<-dispatchDone

	r.finalize()
	r.stopTimeout()
	close(r.done)
	r.o.forget(r.id)
}

// startTargetTimerLocked arms the wait timer of target on its first dispatch.
func (r *sessionRun) startTargetTimerLocked(target string) {
	if _, ok := r.timers[target]; ok {
		return
	}
	r.timers[target] = time.AfterFunc(r.o.cfg.TargetWaitTimeout, func() {
		r.logger.Warn("target wait timeout, aggregating partial results", "target", target)
		r.aggregate(target)
	})
}

func (r *sessionRun) dispatchAll() {
	sem := semaphore.NewWeighted(int64(r.o.cfg.Concurrency))
	var g errgroup.Group

	for _, target := range r.targets {
		for _, provider := range r.active {
			if err := sem.Acquire(r.ctx, 1); err != nil {
				r.record(r.abortedResult(provider, target, 0))
				continue
			}
			r.markRunning()
			g.Go(func() error {
				defer sem.Release(1)
				r.call(target, provider)
				return nil
			})
		}
	}
	_ = g.Wait()
}

// markRunning moves the session to running on its first dispatch.
func (r *sessionRun) markRunning() {
	r.mu.Lock()
	if r.finished || r.session.Status != core.SessionPending {
		r.mu.Unlock()
		return
	}
	if err := r.session.Transition(core.SessionRunning, ""); err != nil {
		r.mu.Unlock()
		r.logger.Error("session transition failed", "error", err)
		return
	}
	r.mu.Unlock()

	total := len(r.targets) * len(r.active)
	r.o.metrics.SessionTransition(core.SessionPending, core.SessionRunning)
	r.o.publisher.Publish(events.NewSessionStartedEvent(r.id, total))
	r.logger.Info("session running", "calls", total)
}

// call runs one (target, provider) pair at most once.
func (r *sessionRun) call(target, provider string) {
	key := callKey{target: target, provider: provider}
	r.mu.Lock()
	if r.finished || r.dispatched[key] {
		r.mu.Unlock()
		return
	}
	if _, done := r.session.PerTargetResults[target]; done {
		r.mu.Unlock()
		r.logger.Debug("target already aggregated, skipping call", "provider", provider, "target", target)
		return
	}
	r.dispatched[key] = true
	r.startTargetTimerLocked(target)
	r.mu.Unlock()

	if r.ctx.Err() != nil {
		r.record(r.abortedResult(provider, target, 0))
		return
	}

	if ok, reason := r.o.gate.ProviderActive(r.ctx, provider); !ok {
		r.logger.Warn("provider skipped by gate re-check",
			"provider", provider,
			"target", target,
			"reason", reason,
		)
		r.record(core.FailedResult(provider, target, core.KindGateDenied, reason, 0))
		return
	}

	if r.cost.Exceeds(r.o.cfg.MaxCostPerSession) {
		r.logger.Warn("provider skipped, session budget exceeded",
			"provider", provider,
			"target", target,
			"cost_usd", r.cost.Total(),
		)
		r.record(core.FailedResult(provider, target, core.KindGateDenied, "budget exceeded", 0))
		return
	}

	adapter, ok := r.o.providers[provider]
	if !ok {
		r.record(core.FailedResult(provider, target, core.KindUnknown, "no adapter configured for provider", 0))
		return
	}

	r.o.publisher.Publish(events.NewProviderDispatchedEvent(r.id, provider, target))
	r.record(r.invoke(adapter, target, provider))
}

// invoke runs the retry loop for one pair. Every attempt is rate limited,
// bounded by the provider timeout and reported to the cost tracker.
func (r *sessionRun) invoke(p core.Provider, target, provider string) *core.ProviderResult {
	limiter := r.o.rateLimits.Get(provider)
	logger := r.logger.WithProvider(provider).WithTarget(target)
	started := time.Now()
	var spent float64

	attemptFn := func(ctx context.Context, attempt int) *core.ProviderResult {
		if err := limiter.Acquire(ctx); err != nil {
			return r.abortedResult(provider, target, attempt)
		}

		callCtx, cancel := context.WithTimeout(ctx, r.o.cfg.ProviderTimeout)
		defer cancel()

		attemptStart := time.Now()
		res, err := p.Invoke(callCtx, target, core.PromptContext{
			SessionID: r.id,
			Attempt:   attempt,
			Focus:     r.o.cfg.Focus,
			Notes:     r.o.cfg.Notes,
			Timeout:   r.o.cfg.ProviderTimeout,
		})
		switch {
		case err != nil:
			logger.Error("provider invocation error", "attempt", attempt, "error", err)
			res = core.FailedResult(provider, target, core.KindUnknown, err.Error(), attempt)
		case res == nil:
			res = core.FailedResult(provider, target, core.KindInvalidResponse, "provider returned no result", attempt)
		}
		res.Provider = provider
		res.Target = target
		if res.Succeeded() && res.Fields == nil {
			res.Fields = core.Fields{}
		}
		if !res.Succeeded() && ctx.Err() != nil {
			res.Error = core.NewProviderError(r.abortKind(), res.Error.Message)
		}

		if r.cost.Record(provider, res.CostUSD) && res.CostUSD > 0 {
			spent += res.CostUSD
		}
		r.o.metrics.ProviderCall(provider, resultKind(res), time.Since(attemptStart))

		switch {
		case res.Succeeded():
			limiter.RecordSuccess()
		case res.Error.Kind == core.KindRateLimited:
			limiter.RecordRateLimited()
		}
		return res
	}

	notify := func(attempt int, perr *core.ProviderError, delay time.Duration) {
		logger.Warn("retrying provider call",
			"attempt", attempt,
			"kind", perr.Kind,
			"delay", delay,
		)
		r.o.publisher.Publish(events.NewProviderRetryEvent(r.id, provider, target, attempt, perr.Kind, delay))
	}

	res := r.o.cfg.Retry.Invoke(r.ctx, attemptFn, notify)
	if !res.Succeeded() && r.ctx.Err() != nil {
		res.Error = core.NewProviderError(r.abortKind(), res.Error.Message)
	}
	res.CostUSD = spent
	res.Duration = time.Since(started)
	return res
}

// record appends a result to the session and aggregates its target once every
// dispatched provider has answered. Results after finalization are dropped.
func (r *sessionRun) record(res *core.ProviderResult) {
	r.mu.Lock()
	_, aggregated := r.session.PerTargetResults[res.Target]
	if r.finished || aggregated {
		r.mu.Unlock()
		r.logger.Debug("discarding late result", "provider", res.Provider, "target", res.Target)
		return
	}
	r.session.ProviderResults = append(r.session.ProviderResults, res)
	r.session.UpdatedAt = time.Now().UTC()
	r.results[res.Target] = append(r.results[res.Target], res)
	pending := r.outstanding[res.Target]
	delete(pending, res.Provider)
	ready := len(pending) == 0
	r.persist("append_result", func(ctx context.Context) error {
		return r.o.store.AppendResult(ctx, r.id, res)
	})
	r.mu.Unlock()

	if res.Succeeded() {
		r.o.publisher.Publish(events.NewProviderCompletedEvent(r.id, res))
	} else {
		r.logger.Info("provider failed",
			"provider", res.Provider,
			"target", res.Target,
			"kind", res.Error.Kind,
			"attempts", res.Attempt,
		)
		r.o.publisher.Publish(events.NewProviderFailedEvent(r.id, res))
	}

	if ready {
		r.aggregate(res.Target)
	}
}

func (r *sessionRun) aggregate(target string) {
	r.mu.Lock()
	agg, all := r.aggregateLocked(target)
	r.mu.Unlock()
	if agg == nil {
		return
	}
	r.publishAggregate(agg)
	if all {
		r.allOnce.Do(func() { close(r.allAggregated) })
	}
}

// aggregateLocked merges target at most once. It reports whether every
// target is now aggregated.
func (r *sessionRun) aggregateLocked(target string) (*core.AggregatedResult, bool) {
	if r.finished {
		return nil, false
	}
	if _, ok := r.session.PerTargetResults[target]; ok {
		return nil, false
	}
	if t := r.timers[target]; t != nil {
		t.Stop()
	}

	agg := r.o.aggregator.Aggregate(target, r.active, r.results[target])
	r.session.PerTargetResults[target] = agg
	r.persist("save_aggregate", func(ctx context.Context) error {
		return r.o.store.SaveAggregate(ctx, r.id, agg)
	})
	return agg, len(r.session.PerTargetResults) == len(r.targets)
}

func (r *sessionRun) publishAggregate(agg *core.AggregatedResult) {
	r.o.metrics.TargetAggregated(agg.DataQualityScore)
	r.o.publisher.Publish(events.NewTargetAggregatedEvent(r.id, agg))
	r.logger.Info("target aggregated",
		"target", agg.Target,
		"quality", agg.DataQualityScore,
		"providers_used", len(agg.ProvidersUsed),
		"providers_failed", len(agg.ProvidersFailed),
	)
}

// finalize aggregates any target still waiting, writes the terminal state
// exactly once and emits the single terminal event.
func (r *sessionRun) finalize() {
	r.mu.Lock()
	if r.finished {
		r.mu.Unlock()
		return
	}

	var late []*core.AggregatedResult
	for _, target := range r.targets {
		if agg, _ := r.aggregateLocked(target); agg != nil {
			late = append(late, agg)
		}
	}

	r.finished = true
	r.cost.Freeze()
	for _, t := range r.timers {
		t.Stop()
	}

	from := r.session.Status
	status, reason := r.outcomeLocked()
	r.session.CostTotal = r.cost.Total()
	r.session.CostByProvider = r.cost.ByProvider()
	if err := r.session.Transition(status, reason); err != nil {
		r.logger.Error("session transition failed", "error", err)
	}
	r.persist("finalize_session", func(ctx context.Context) error {
		return r.o.store.FinalizeSession(ctx, r.session)
	})
	final := r.session.Clone()
	r.mu.Unlock()

	for _, agg := range late {
		r.publishAggregate(agg)
	}
	r.o.metrics.SessionTransition(from, final.Status)

	duration := time.Since(final.CreatedAt)
	if final.Status == core.SessionCompleted {
		r.o.publisher.Publish(events.NewSessionCompletedEvent(r.id, final.CostTotal, duration))
		r.logger.Info("session completed",
			"cost_usd", final.CostTotal,
			"cost_observations", r.cost.Observations(),
			"duration", duration,
		)
	} else {
		r.o.publisher.Publish(events.NewSessionFailedEvent(r.id, final.FailureReason, final.CostTotal))
		r.logger.Warn("session failed",
			"reason", final.FailureReason,
			"cost_usd", final.CostTotal,
			"cost_discarded", r.cost.Discarded(),
		)
	}

	r.archive(final)
}

// outcomeLocked decides the terminal state. Cancellation always fails the
// session; otherwise any successful provider on any target completes it, and
// a session timeout only names the reason of a total failure.
func (r *sessionRun) outcomeLocked() (core.SessionStatus, string) {
	cause := context.Cause(r.ctx)
	if r.cancelled || errors.Is(cause, errSessionCancelled) || errors.Is(cause, ErrShuttingDown) {
		return core.SessionFailed, core.ReasonCancelled
	}
	for _, agg := range r.session.PerTargetResults {
		if agg.HasSuccess() {
			return core.SessionCompleted, ""
		}
	}
	if errors.Is(cause, errSessionTimeout) {
		return core.SessionFailed, core.ReasonTimeout
	}
	return core.SessionFailed, core.ReasonAllProvidersFailed
}

func (r *sessionRun) archive(final *core.AnalysisSession) {
	if r.o.archiver == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), r.o.storeTTL)
	defer cancel()
	location, err := r.o.archiver.Archive(ctx, final)
	if err != nil {
		r.logger.Error("archiving session report failed", "error", err)
		return
	}
	r.logger.Info("session report archived", "location", location)
}

// requestCancel marks the run cancelled. It reports false when the session
// had already finished.
func (r *sessionRun) requestCancel() bool {
	r.mu.Lock()
	if r.finished {
		r.mu.Unlock()
		return false
	}
	r.cancelled = true
	r.mu.Unlock()

	r.cost.Freeze()
	r.cancel(errSessionCancelled)
	r.logger.Info("cancellation requested")
	return true
}

// view returns a deep copy of the session with the live cost total.
func (r *sessionRun) view() *core.AnalysisSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	v := r.session.Clone()
	if !r.finished {
		v.CostTotal = r.cost.Total()
		v.CostByProvider = r.cost.ByProvider()
	}
	return v
}

func (r *sessionRun) abortKind() core.ErrorKind {
	if errors.Is(context.Cause(r.ctx), errSessionTimeout) {
		return core.KindTimeout
	}
	return core.KindCancelled
}

func (r *sessionRun) abortedResult(provider, target string, attempt int) *core.ProviderResult {
	kind := r.abortKind()
	msg := "session cancelled"
	if kind == core.KindTimeout {
		msg = "session timeout"
	}
	return core.FailedResult(provider, target, kind, msg, attempt)
}

func (r *sessionRun) persist(op string, fn func(ctx context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), r.o.storeTTL)
	defer cancel()
	if err := fn(ctx); err != nil {
		r.logger.Error("session store write failed", "op", op, "error", err)
	}
}

func resultKind(res *core.ProviderResult) core.ErrorKind {
	if res.Succeeded() {
		return ""
	}
	return res.Error.Kind
}
