package providers

import (
	"fmt"
	"sort"
	"sync"

	"github.com/hugo-lorenzo-mato/rivalscope/internal/core"
)

// Factory creates a provider from configuration.
type Factory func(cfg Config) (core.Provider, error)

// Registry manages provider factories by kind and configured providers by
// name.
type Registry struct {
	factories map[string]Factory
	providers map[string]core.Provider
	configs   map[string]Config
	mu        sync.RWMutex
}

// NewRegistry creates a registry with the built-in adapter kinds.
func NewRegistry() *Registry {
	r := &Registry{
		factories: make(map[string]Factory),
		providers: make(map[string]core.Provider),
		configs:   make(map[string]Config),
	}
	r.registerBuiltins()
	return r
}

func (r *Registry) registerBuiltins() {
	r.RegisterFactory(KindOpenAI, NewOpenAIAdapter)
	r.RegisterFactory(KindPerplexity, NewPerplexityAdapter)
	r.RegisterFactory(KindAnthropic, NewAnthropicAdapter)
	r.RegisterFactory(KindStatic, NewStaticProvider)
}

// RegisterFactory registers a factory for an adapter kind.
func (r *Registry) RegisterFactory(kind string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[kind] = factory
}

// Register adds a provider instance directly.
func (r *Registry) Register(p core.Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Name()] = p
}

// Configure sets the configuration of a named provider. A cached instance
// is dropped so the next Get rebuilds it.
func (r *Registry) Configure(name string, cfg Config) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cfg.Name = name
	if cfg.Kind == "" {
		cfg.Kind = name
	}
	r.configs[name] = cfg
	delete(r.providers, name)
}

// Get returns a provider by name, creating it if necessary.
func (r *Registry) Get(name string) (core.Provider, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if p, ok := r.providers[name]; ok {
		return p, nil
	}

	cfg, ok := r.configs[name]
	if !ok {
		return nil, core.ErrNotFound("provider", name)
	}
	factory, ok := r.factories[cfg.Kind]
	if !ok {
		return nil, core.ErrNotFound("provider kind", cfg.Kind)
	}

	p, err := factory(cfg)
	if err != nil {
		return nil, fmt.Errorf("creating provider %s: %w", name, err)
	}
	r.providers[name] = p
	return p, nil
}

// List returns the names of configured and registered providers, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]bool, len(r.configs)+len(r.providers))
	for name := range r.configs {
		seen[name] = true
	}
	for name := range r.providers {
		seen[name] = true
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Kinds returns the registered adapter kinds, sorted.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]string, 0, len(r.factories))
	for k := range r.factories {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// Has reports whether a provider name is configured or registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, configured := r.configs[name]
	_, registered := r.providers[name]
	return configured || registered
}

// Build instantiates every known provider. Providers that fail to build are
// reported in the error map and left out of the result.
func (r *Registry) Build() (map[string]core.Provider, map[string]error) {
	built := make(map[string]core.Provider)
	failed := make(map[string]error)
	for _, name := range r.List() {
		p, err := r.Get(name)
		if err != nil {
			failed[name] = err
			continue
		}
		built[name] = p
	}
	return built, failed
}
