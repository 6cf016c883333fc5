package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of environment variable overrides.
const EnvPrefix = "RIVALSCOPE"

// Loader handles configuration loading from multiple sources.
type Loader struct {
	v          *viper.Viper
	configFile string
	envPrefix  string
}

// NewLoader creates a new configuration loader.
func NewLoader() *Loader {
	return &Loader{
		v:         viper.New(),
		envPrefix: EnvPrefix,
	}
}

// NewLoaderWithViper creates a loader using an existing viper instance.
// This allows integration with CLI flag bindings.
func NewLoaderWithViper(v *viper.Viper) *Loader {
	return &Loader{
		v:         v,
		envPrefix: EnvPrefix,
	}
}

// WithConfigFile sets an explicit config file path.
func (l *Loader) WithConfigFile(path string) *Loader {
	l.configFile = path
	return l
}

// WithEnvPrefix sets the environment variable prefix.
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// Viper returns the underlying viper instance for flag binding.
func (l *Loader) Viper() *viper.Viper {
	return l.v
}

// Load loads configuration from all sources.
// Precedence (highest to lowest):
// 1. CLI flags (set via viper.BindPFlag)
// 2. Environment variables (RIVALSCOPE_*)
// 3. Project config (.rivalscope.yaml in current directory)
// 4. User config (~/.config/rivalscope/config.yaml)
// 5. Defaults
func (l *Loader) Load() (*Config, error) {
	l.setDefaults()

	l.v.SetEnvPrefix(l.envPrefix)
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	l.v.AutomaticEnv()

	if l.configFile != "" {
		l.v.SetConfigFile(l.configFile)
	} else {
		l.v.SetConfigName(".rivalscope")
		l.v.SetConfigType("yaml")

		// First found wins, so the project file shadows the user file.
		l.v.AddConfigPath(".")
		if dir, err := UserConfigDir(); err == nil {
			l.v.AddConfigPath(dir)
		}
	}

	if err := l.v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	normalizeProviders(&cfg)

	return &cfg, nil
}

// UserConfigDir returns ~/.config/rivalscope.
func UserConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "rivalscope"), nil
}

// normalizeProviders lowercases provider names and fills the adapter kind
// from the name when omitted.
func normalizeProviders(cfg *Config) {
	if len(cfg.Providers) == 0 {
		return
	}
	out := make(map[string]ProviderConfig, len(cfg.Providers))
	for name, p := range cfg.Providers {
		name = strings.ToLower(strings.TrimSpace(name))
		if p.Kind == "" {
			p.Kind = name
		}
		p.Kind = strings.ToLower(p.Kind)
		out[name] = p
	}
	cfg.Providers = out
}

// setDefaults configures default values.
func (l *Loader) setDefaults() {
	// Log defaults
	l.v.SetDefault("log.level", "info")
	l.v.SetDefault("log.format", "auto")

	// Server defaults
	l.v.SetDefault("server.host", "127.0.0.1")
	l.v.SetDefault("server.port", 8080)
	l.v.SetDefault("server.cors_origins", []string{})
	l.v.SetDefault("server.read_header_timeout", "10s")
	l.v.SetDefault("server.shutdown_timeout", "30s")
	l.v.SetDefault("server.heartbeat_interval", "15s")
	l.v.SetDefault("server.event_buffer", 64)

	// Analysis defaults
	l.v.SetDefault("analysis.enabled", true)
	l.v.SetDefault("analysis.concurrency", 4)
	l.v.SetDefault("analysis.session_timeout", "10m")
	l.v.SetDefault("analysis.provider_timeout", "2m")
	l.v.SetDefault("analysis.target_wait_timeout", "5m")
	l.v.SetDefault("analysis.max_cost_per_session", 0.0)
	l.v.SetDefault("analysis.idempotency_window", "24h")
	l.v.SetDefault("analysis.max_targets", 20)
	l.v.SetDefault("analysis.max_list_items", 10)
	l.v.SetDefault("analysis.focus", []string{})
	l.v.SetDefault("analysis.weights.coverage", 0.4)
	l.v.SetDefault("analysis.weights.confidence", 0.4)
	l.v.SetDefault("analysis.weights.agreement", 0.2)
	l.v.SetDefault("analysis.qualitative_priority", []string{"openai", "anthropic", "perplexity"})
	l.v.SetDefault("analysis.factual_priority", []string{"perplexity", "openai", "anthropic"})
	l.v.SetDefault("analysis.cross_check_fields", []string{"industry", "headquarters", "founded"})

	// Retry defaults
	l.v.SetDefault("retry.max_attempts", 3)
	l.v.SetDefault("retry.base_delay", "1s")
	l.v.SetDefault("retry.max_delay", "30s")
	l.v.SetDefault("retry.max_total_wait", "60s")
	l.v.SetDefault("retry.multiplier", 2.0)
	l.v.SetDefault("retry.jitter", 0.1)

	// Provider defaults; disabled until a key is configured
	l.v.SetDefault("providers.openai.enabled", false)
	l.v.SetDefault("providers.openai.kind", KindOpenAI)
	l.v.SetDefault("providers.openai.model", "gpt-4o-mini")
	l.v.SetDefault("providers.openai.api_key_env", "OPENAI_API_KEY")
	l.v.SetDefault("providers.openai.input_price", 0.15)
	l.v.SetDefault("providers.openai.output_price", 0.60)
	l.v.SetDefault("providers.openai.max_tokens", 2048)
	l.v.SetDefault("providers.openai.temperature", 0.2)
	l.v.SetDefault("providers.perplexity.enabled", false)
	l.v.SetDefault("providers.perplexity.kind", KindPerplexity)
	l.v.SetDefault("providers.perplexity.model", "sonar")
	l.v.SetDefault("providers.perplexity.base_url", "https://api.perplexity.ai")
	l.v.SetDefault("providers.perplexity.api_key_env", "PERPLEXITY_API_KEY")
	l.v.SetDefault("providers.perplexity.input_price", 1.0)
	l.v.SetDefault("providers.perplexity.output_price", 1.0)
	l.v.SetDefault("providers.perplexity.max_tokens", 2048)
	l.v.SetDefault("providers.perplexity.temperature", 0.2)
	l.v.SetDefault("providers.anthropic.enabled", false)
	l.v.SetDefault("providers.anthropic.kind", KindAnthropic)
	l.v.SetDefault("providers.anthropic.model", "claude-3-5-haiku-latest")
	l.v.SetDefault("providers.anthropic.api_key_env", "ANTHROPIC_API_KEY")
	l.v.SetDefault("providers.anthropic.input_price", 0.80)
	l.v.SetDefault("providers.anthropic.output_price", 4.0)
	l.v.SetDefault("providers.anthropic.max_tokens", 2048)
	l.v.SetDefault("providers.anthropic.temperature", 0.2)

	// Availability defaults
	l.v.SetDefault("availability.source", AvailabilityConfigSource)

	// Store defaults
	l.v.SetDefault("store.backend", "memory")
	l.v.SetDefault("store.retention", "168h")

	// Archive defaults
	l.v.SetDefault("archive.enabled", false)
	l.v.SetDefault("archive.prefix", "sessions")
	l.v.SetDefault("archive.use_ssl", true)
	l.v.SetDefault("archive.access_key_env", "RIVALSCOPE_ARCHIVE_ACCESS_KEY")
	l.v.SetDefault("archive.secret_key_env", "RIVALSCOPE_ARCHIVE_SECRET_KEY")

	// NATS defaults
	l.v.SetDefault("nats.subject_prefix", "rivalscope.sessions")
}

// ConfigFile returns the config file path if one was used.
func (l *Loader) ConfigFile() string {
	return l.v.ConfigFileUsed()
}

// Get returns a configuration value by key.
func (l *Loader) Get(key string) interface{} {
	return l.v.Get(key)
}

// Set sets a configuration value.
func (l *Loader) Set(key string, value interface{}) {
	l.v.Set(key, value)
}

// IsSet checks if a key has been set.
func (l *Loader) IsSet(key string) bool {
	return l.v.IsSet(key)
}

// AllSettings returns all settings as a map.
func (l *Loader) AllSettings() map[string]interface{} {
	return l.v.AllSettings()
}
