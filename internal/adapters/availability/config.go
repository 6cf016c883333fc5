package availability

import (
	"github.com/hugo-lorenzo-mato/rivalscope/internal/config"
	"github.com/hugo-lorenzo-mato/rivalscope/internal/core"
)

// Provider status strings.
const (
	StatusHealthy  = "healthy"
	StatusDisabled = "disabled"
)

// FromConfig builds a static source from the analysis and provider sections.
func FromConfig(cfg *config.Config) *Static {
	providers := make(map[string]core.ProviderStatus, len(cfg.Providers))
	for name, p := range cfg.Providers {
		st := core.ProviderStatus{Active: p.Enabled, Status: StatusHealthy}
		if !p.Enabled {
			st.Status = StatusDisabled
		}
		providers[name] = st
	}
	return NewStatic(cfg.Analysis.Enabled, providers)
}
