package config

import (
	"strings"
	"testing"
)

// validConfig returns a valid configuration for testing.
func validConfig() *Config {
	return &Config{
		Log: LogConfig{
			Level:  "info",
			Format: "auto",
		},
		Server: ServerConfig{
			Host:              "127.0.0.1",
			Port:              8080,
			HeartbeatInterval: "15s",
			EventBuffer:       64,
		},
		Analysis: AnalysisConfig{
			Enabled:           true,
			Concurrency:       4,
			SessionTimeout:    "10m",
			ProviderTimeout:   "2m",
			TargetWaitTimeout: "5m",
			IdempotencyWindow: "24h",
			MaxTargets:        20,
			MaxListItems:      10,
			Weights:           WeightsConfig{Coverage: 0.4, Confidence: 0.4, Agreement: 0.2},
			CrossCheckFields:  []string{"industry", "headquarters", "founded"},
		},
		Retry: RetryConfig{
			MaxAttempts:  3,
			BaseDelay:    "1s",
			MaxDelay:     "30s",
			MaxTotalWait: "60s",
			Multiplier:   2,
			Jitter:       0.1,
		},
		Providers: map[string]ProviderConfig{
			"openai": {
				Enabled:     true,
				Kind:        KindOpenAI,
				Model:       "gpt-4o-mini",
				APIKeyEnv:   "OPENAI_API_KEY",
				InputPrice:  0.15,
				OutputPrice: 0.6,
				Temperature: 0.2,
			},
		},
		Availability: AvailabilityConfig{Source: AvailabilityConfigSource},
		Store:        StoreConfig{Backend: "memory", Retention: "168h"},
		NATS:         NATSConfig{SubjectPrefix: "rivalscope.sessions"},
	}
}

func TestValidator_ValidConfig(t *testing.T) {
	if err := ValidateConfig(validConfig()); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestValidator_InvalidFields(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"log level", func(c *Config) { c.Log.Level = "verbose" }, "log.level"},
		{"log format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
		{"server port", func(c *Config) { c.Server.Port = 70000 }, "server.port"},
		{"concurrency", func(c *Config) { c.Analysis.Concurrency = 0 }, "analysis.concurrency"},
		{"session timeout missing", func(c *Config) { c.Analysis.SessionTimeout = "" }, "analysis.session_timeout"},
		{"provider timeout invalid", func(c *Config) { c.Analysis.ProviderTimeout = "soon" }, "analysis.provider_timeout"},
		{"negative budget", func(c *Config) { c.Analysis.MaxCostPerSession = -1 }, "analysis.max_cost_per_session"},
		{"unknown focus field", func(c *Config) { c.Analysis.Focus = []string{"revenue"} }, "analysis.focus"},
		{"zero weights", func(c *Config) { c.Analysis.Weights = WeightsConfig{} }, "analysis.weights"},
		{"retry attempts", func(c *Config) { c.Retry.MaxAttempts = 0 }, "retry.max_attempts"},
		{"retry jitter", func(c *Config) { c.Retry.Jitter = 1.5 }, "retry.jitter"},
		{"provider kind", func(c *Config) {
			c.Providers["acme"] = ProviderConfig{Kind: "acme"}
		}, "providers.acme.kind"},
		{"provider model", func(c *Config) {
			p := c.Providers["openai"]
			p.Model = ""
			c.Providers["openai"] = p
		}, "providers.openai.model"},
		{"provider base url", func(c *Config) {
			p := c.Providers["openai"]
			p.BaseURL = "api.example.com"
			c.Providers["openai"] = p
		}, "providers.openai.base_url"},
		{"availability source", func(c *Config) { c.Availability.Source = "consul" }, "availability.source"},
		{"availability path", func(c *Config) { c.Availability.Source = AvailabilityFileSource }, "availability.path"},
		{"store backend", func(c *Config) { c.Store.Backend = "redis" }, "store.backend"},
		{"store dsn", func(c *Config) { c.Store.Backend = "postgres" }, "store.dsn"},
		{"archive bucket", func(c *Config) {
			c.Archive = ArchiveConfig{Enabled: true, Endpoint: "localhost:9000"}
		}, "archive.bucket"},
		{"nats url", func(c *Config) { c.NATS.URL = "http://localhost:4222" }, "nats.url"},
		{"nats subject", func(c *Config) {
			c.NATS = NATSConfig{URL: "nats://localhost:4222", SubjectPrefix: "a.*"}
		}, "nats.subject_prefix"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			v := NewValidator()
			err := v.Validate(cfg)
			if err == nil {
				t.Fatal("Validate() expected error")
			}
			found := false
			for _, e := range v.Errors() {
				if e.Field == tt.field {
					found = true
				}
			}
			if !found {
				t.Errorf("expected error for %s, got %v", tt.field, err)
			}
		})
	}
}

func TestValidator_DisabledProviderSkipsChecks(t *testing.T) {
	cfg := validConfig()
	cfg.Providers["anthropic"] = ProviderConfig{Kind: KindAnthropic}
	if err := ValidateConfig(cfg); err != nil {
		t.Errorf("disabled provider without model should validate: %v", err)
	}
}

func TestValidator_StaticProviderNeedsNoKey(t *testing.T) {
	cfg := validConfig()
	cfg.Providers["fixture"] = ProviderConfig{Enabled: true, Kind: KindStatic}
	if err := ValidateConfig(cfg); err != nil {
		t.Errorf("static provider should validate: %v", err)
	}
}

func TestValidationErrors_Error(t *testing.T) {
	errs := ValidationErrors{
		{Field: "a", Value: 1, Message: "bad"},
		{Field: "b", Value: 2, Message: "worse"},
	}
	msg := errs.Error()
	if !strings.Contains(msg, "a: bad") || !strings.Contains(msg, "b: worse") {
		t.Errorf("Error() = %q", msg)
	}
	if !errs.HasErrors() {
		t.Error("HasErrors() = false")
	}
}
