// Package availability provides core.AvailabilitySource implementations.
package availability

import (
	"context"
	"sync"

	"github.com/hugo-lorenzo-mato/rivalscope/internal/core"
)

// Static is an in-memory availability source that can be changed at runtime.
type Static struct {
	mu        sync.RWMutex
	enabled   bool
	providers map[string]core.ProviderStatus
}

// NewStatic creates a source with the given global flag and provider map.
func NewStatic(enabled bool, providers map[string]core.ProviderStatus) *Static {
	s := &Static{enabled: enabled, providers: make(map[string]core.ProviderStatus, len(providers))}
	for name, st := range providers {
		s.providers[name] = st
	}
	return s
}

// AllActive creates an enabled source where every named provider is active.
func AllActive(names ...string) *Static {
	providers := make(map[string]core.ProviderStatus, len(names))
	for _, name := range names {
		providers[name] = core.ProviderStatus{Active: true, Status: StatusHealthy}
	}
	return NewStatic(true, providers)
}

// ProviderStatus returns a copy of the provider map.
func (s *Static) ProviderStatus(_ context.Context) (map[string]core.ProviderStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]core.ProviderStatus, len(s.providers))
	for name, st := range s.providers {
		out[name] = st
	}
	return out, nil
}

// GlobalAnalysisEnabled returns the global flag.
func (s *Static) GlobalAnalysisEnabled(_ context.Context) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.enabled, nil
}

// SetGlobal flips the global analysis flag.
func (s *Static) SetGlobal(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enabled = enabled
}

// SetProvider replaces the status of one provider.
func (s *Static) SetProvider(name string, st core.ProviderStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.providers[name] = st
}

// replace swaps the whole snapshot.
func (s *Static) replace(enabled bool, providers map[string]core.ProviderStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enabled = enabled
	s.providers = providers
}
