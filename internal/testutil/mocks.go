package testutil

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hugo-lorenzo-mato/rivalscope/internal/core"
)

// ErrTest is a generic error for mocks to return.
var ErrTest = errors.New("test error")

// MockProvider implements core.Provider for testing.
type MockProvider struct {
	name       string
	invokeFunc func(context.Context, string, core.PromptContext) (*core.ProviderResult, error)
	calls      []MockCall
	mu         sync.Mutex

	inFlight    atomic.Int32
	maxInFlight atomic.Int32
}

// MockCall records a call to the mock.
type MockCall struct {
	Target    string
	Attempt   int
	Timestamp time.Time
}

// NewMockProvider creates a mock that succeeds with a summary field.
func NewMockProvider(name string) *MockProvider {
	return &MockProvider{
		name:  name,
		calls: make([]MockCall, 0),
	}
}

// Name returns the mock name.
func (m *MockProvider) Name() string {
	return m.name
}

// Invoke records the call and runs the configured behavior.
func (m *MockProvider) Invoke(ctx context.Context, target string, pc core.PromptContext) (*core.ProviderResult, error) {
	m.recordCall(target, pc.Attempt)

	n := m.inFlight.Add(1)
	defer m.inFlight.Add(-1)
	for {
		cur := m.maxInFlight.Load()
		if n <= cur || m.maxInFlight.CompareAndSwap(cur, n) {
			break
		}
	}

	if m.invokeFunc != nil {
		return m.invokeFunc(ctx, target, pc)
	}
	return &core.ProviderResult{
		Provider:   m.name,
		Target:     target,
		Fields:     core.Fields{core.FieldSummary: core.ScalarValue(target + " by " + m.name)},
		Confidence: 0.8,
		CostUSD:    0.001,
		TokensIn:   100,
		TokensOut:  50,
	}, nil
}

// WithInvokeFunc sets a custom invoke function.
func (m *MockProvider) WithInvokeFunc(fn func(context.Context, string, core.PromptContext) (*core.ProviderResult, error)) *MockProvider {
	m.invokeFunc = fn
	return m
}

// WithFields returns a fixed successful result.
func (m *MockProvider) WithFields(confidence, cost float64, fields core.Fields) *MockProvider {
	m.invokeFunc = func(_ context.Context, target string, _ core.PromptContext) (*core.ProviderResult, error) {
		return &core.ProviderResult{
			Provider:   m.name,
			Target:     target,
			Fields:     fields.Clone(),
			Confidence: confidence,
			CostUSD:    cost,
		}, nil
	}
	return m
}

// WithFailure makes every attempt fail with kind.
func (m *MockProvider) WithFailure(kind core.ErrorKind, cost float64) *MockProvider {
	m.invokeFunc = func(_ context.Context, target string, _ core.PromptContext) (*core.ProviderResult, error) {
		r := core.FailedResult(m.name, target, kind, "mock "+string(kind), 0)
		r.CostUSD = cost
		return r, nil
	}
	return m
}

// WithBlock makes every attempt wait until release is closed or ctx ends.
// A cancelled attempt reports a timeout, as a real adapter would.
func (m *MockProvider) WithBlock(release <-chan struct{}, cost float64) *MockProvider {
	m.invokeFunc = func(ctx context.Context, target string, _ core.PromptContext) (*core.ProviderResult, error) {
		select {
		case <-release:
			return &core.ProviderResult{
				Provider:   m.name,
				Target:     target,
				Fields:     core.Fields{core.FieldSummary: core.ScalarValue("late")},
				Confidence: 0.5,
				CostUSD:    cost,
			}, nil
		case <-ctx.Done():
			r := core.FailedResult(m.name, target, core.KindTimeout, ctx.Err().Error(), 0)
			r.CostUSD = cost
			return r, nil
		}
	}
	return m
}

// WithError makes Invoke return a configuration error.
func (m *MockProvider) WithError(err error) *MockProvider {
	m.invokeFunc = func(context.Context, string, core.PromptContext) (*core.ProviderResult, error) {
		return nil, err
	}
	return m
}

// Calls returns recorded calls.
func (m *MockProvider) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MockCall{}, m.calls...)
}

// CallCount returns the number of Invoke calls.
func (m *MockProvider) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// CallsFor returns the number of Invoke calls for one target.
func (m *MockProvider) CallsFor(target string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, c := range m.calls {
		if c.Target == target {
			count++
		}
	}
	return count
}

// MaxInFlight returns the highest number of concurrent Invoke calls observed.
func (m *MockProvider) MaxInFlight() int {
	return int(m.maxInFlight.Load())
}

// Reset clears call history.
func (m *MockProvider) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = make([]MockCall, 0)
}

func (m *MockProvider) recordCall(target string, attempt int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, MockCall{
		Target:    target,
		Attempt:   attempt,
		Timestamp: time.Now(),
	})
}
