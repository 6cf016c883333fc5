package config

import (
	"sort"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Log          LogConfig                 `mapstructure:"log"`
	Server       ServerConfig              `mapstructure:"server"`
	Analysis     AnalysisConfig            `mapstructure:"analysis"`
	Retry        RetryConfig               `mapstructure:"retry"`
	Providers    map[string]ProviderConfig `mapstructure:"providers"`
	Availability AvailabilityConfig        `mapstructure:"availability"`
	Store        StoreConfig               `mapstructure:"store"`
	Archive      ArchiveConfig             `mapstructure:"archive"`
	NATS         NATSConfig                `mapstructure:"nats"`
}

// LogConfig configures logging behavior.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

// ServerConfig configures the HTTP transport.
type ServerConfig struct {
	Host              string   `mapstructure:"host"`
	Port              int      `mapstructure:"port"`
	CORSOrigins       []string `mapstructure:"cors_origins"`
	ReadHeaderTimeout string   `mapstructure:"read_header_timeout"`
	ShutdownTimeout   string   `mapstructure:"shutdown_timeout"`
	HeartbeatInterval string   `mapstructure:"heartbeat_interval"`
	EventBuffer       int      `mapstructure:"event_buffer"`
}

// AnalysisConfig configures session admission and orchestration.
type AnalysisConfig struct {
	// Enabled is the global analysis switch read by the config availability source.
	Enabled             bool          `mapstructure:"enabled"`
	Concurrency         int           `mapstructure:"concurrency"`
	SessionTimeout      string        `mapstructure:"session_timeout"`
	ProviderTimeout     string        `mapstructure:"provider_timeout"`
	TargetWaitTimeout   string        `mapstructure:"target_wait_timeout"`
	MaxCostPerSession   float64       `mapstructure:"max_cost_per_session"`
	IdempotencyWindow   string        `mapstructure:"idempotency_window"`
	MaxTargets          int           `mapstructure:"max_targets"`
	MaxListItems        int           `mapstructure:"max_list_items"`
	Focus               []string      `mapstructure:"focus"`
	Notes               string        `mapstructure:"notes"`
	Weights             WeightsConfig `mapstructure:"weights"`
	QualitativePriority []string      `mapstructure:"qualitative_priority"`
	FactualPriority     []string      `mapstructure:"factual_priority"`
	CrossCheckFields    []string      `mapstructure:"cross_check_fields"`
}

// WeightsConfig configures the data quality score components.
type WeightsConfig struct {
	Coverage   float64 `mapstructure:"coverage"`
	Confidence float64 `mapstructure:"confidence"`
	Agreement  float64 `mapstructure:"agreement"`
}

// RetryConfig configures provider call retries.
type RetryConfig struct {
	MaxAttempts  int     `mapstructure:"max_attempts"`
	BaseDelay    string  `mapstructure:"base_delay"`
	MaxDelay     string  `mapstructure:"max_delay"`
	MaxTotalWait string  `mapstructure:"max_total_wait"`
	Multiplier   float64 `mapstructure:"multiplier"`
	Jitter       float64 `mapstructure:"jitter"`
}

// ProviderConfig configures a single research provider.
type ProviderConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Kind      string `mapstructure:"kind"`
	Model     string `mapstructure:"model"`
	BaseURL   string `mapstructure:"base_url"`
	APIKeyEnv string `mapstructure:"api_key_env"`
	// Prices are USD per million tokens.
	InputPrice  float64 `mapstructure:"input_price"`
	OutputPrice float64 `mapstructure:"output_price"`
	MaxTokens   int     `mapstructure:"max_tokens"`
	Temperature float64 `mapstructure:"temperature"`
	// RateLimit is requests per second; zero uses the limiter default.
	RateLimit float64 `mapstructure:"rate_limit"`
	Burst     int     `mapstructure:"burst"`
}

// AvailabilityConfig selects where provider availability comes from.
type AvailabilityConfig struct {
	Source string `mapstructure:"source"`
	Path   string `mapstructure:"path"`
}

// StoreConfig configures session persistence.
type StoreConfig struct {
	Backend   string `mapstructure:"backend"`
	DSN       string `mapstructure:"dsn"`
	Retention string `mapstructure:"retention"`
}

// ArchiveConfig configures report upload to S3-compatible storage.
type ArchiveConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	Endpoint     string `mapstructure:"endpoint"`
	Bucket       string `mapstructure:"bucket"`
	Prefix       string `mapstructure:"prefix"`
	Region       string `mapstructure:"region"`
	UseSSL       bool   `mapstructure:"use_ssl"`
	AccessKeyEnv string `mapstructure:"access_key_env"`
	SecretKeyEnv string `mapstructure:"secret_key_env"`
}

// NATSConfig configures forwarding of progress events to NATS.
type NATSConfig struct {
	URL           string `mapstructure:"url"`
	SubjectPrefix string `mapstructure:"subject_prefix"`
}

// Availability sources.
const (
	AvailabilityConfigSource = "config"
	AvailabilityFileSource   = "file"
)

// Provider kinds understood by the adapter registry.
const (
	KindOpenAI     = "openai"
	KindPerplexity = "perplexity"
	KindAnthropic  = "anthropic"
	KindStatic     = "static"
)

// EnabledProviders returns the names of enabled providers.
func (c *Config) EnabledProviders() []string {
	var out []string
	for name, p := range c.Providers {
		if p.Enabled {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// Duration parses s, falling back to def when s is empty or invalid.
// The validator reports invalid values; callers use this after validation.
func Duration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}
