package providers

import (
	"os"

	"github.com/hugo-lorenzo-mato/rivalscope/internal/config"
	"github.com/hugo-lorenzo-mato/rivalscope/internal/logging"
)

// ConfigureRegistryFromConfig configures every enabled provider in the
// registry. API keys are read from the environment variable each provider
// names. Disabled providers are left unconfigured.
func ConfigureRegistryFromConfig(registry *Registry, cfg *config.Config, logger *logging.Logger) {
	ConfigureRegistryWithEnv(registry, cfg, logger, os.Getenv)
}

// ConfigureRegistryWithEnv is ConfigureRegistryFromConfig with an explicit
// environment lookup.
func ConfigureRegistryWithEnv(registry *Registry, cfg *config.Config, logger *logging.Logger, getenv func(string) string) {
	for _, name := range cfg.EnabledProviders() {
		p := cfg.Providers[name]
		var key string
		if p.APIKeyEnv != "" {
			key = getenv(p.APIKeyEnv)
		}
		registry.Configure(name, Config{
			Name:        name,
			Kind:        p.Kind,
			Model:       p.Model,
			BaseURL:     p.BaseURL,
			APIKey:      key,
			InputPrice:  p.InputPrice,
			OutputPrice: p.OutputPrice,
			MaxTokens:   p.MaxTokens,
			Temperature: p.Temperature,
			Logger:      logger,
		})
	}
}
