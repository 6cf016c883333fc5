package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hugo-lorenzo-mato/rivalscope/internal/core"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config validation: %s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors collects multiple validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// HasErrors returns true if there are any validation errors.
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// Validator validates configuration.
type Validator struct {
	errors ValidationErrors
}

// NewValidator creates a new validator.
func NewValidator() *Validator {
	return &Validator{
		errors: make(ValidationErrors, 0),
	}
}

// Validate validates the entire configuration.
func (v *Validator) Validate(cfg *Config) error {
	v.validateLog(&cfg.Log)
	v.validateServer(&cfg.Server)
	v.validateAnalysis(&cfg.Analysis)
	v.validateRetry(&cfg.Retry)
	v.validateProviders(cfg.Providers)
	v.validateAvailability(&cfg.Availability)
	v.validateStore(&cfg.Store)
	v.validateArchive(&cfg.Archive)
	v.validateNATS(&cfg.NATS)

	if len(v.errors) > 0 {
		return v.errors
	}
	return nil
}

// Errors returns the collected validation errors.
func (v *Validator) Errors() ValidationErrors {
	return v.errors
}

func (v *Validator) addError(field string, value interface{}, msg string) {
	v.errors = append(v.errors, ValidationError{
		Field:   field,
		Value:   value,
		Message: msg,
	})
}

func (v *Validator) validateLog(cfg *LogConfig) {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[cfg.Level] {
		v.addError("log.level", cfg.Level, "must be one of: debug, info, warn, error")
	}

	validFormats := map[string]bool{
		"auto": true, "text": true, "json": true,
	}
	if !validFormats[cfg.Format] {
		v.addError("log.format", cfg.Format, "must be one of: auto, text, json")
	}

	if cfg.File != "" && !isValidPath(cfg.File) {
		v.addError("log.file", cfg.File, "invalid file path")
	}
}

func (v *Validator) validateServer(cfg *ServerConfig) {
	if cfg.Port < 1 || cfg.Port > 65535 {
		v.addError("server.port", cfg.Port, "must be between 1 and 65535")
	}
	if cfg.EventBuffer < 1 {
		v.addError("server.event_buffer", cfg.EventBuffer, "must be at least 1")
	}
	v.validateDuration("server.read_header_timeout", cfg.ReadHeaderTimeout, false)
	v.validateDuration("server.shutdown_timeout", cfg.ShutdownTimeout, false)
	v.validateDuration("server.heartbeat_interval", cfg.HeartbeatInterval, false)
}

func (v *Validator) validateAnalysis(cfg *AnalysisConfig) {
	if cfg.Concurrency < 1 {
		v.addError("analysis.concurrency", cfg.Concurrency, "must be at least 1")
	}
	v.validateDuration("analysis.session_timeout", cfg.SessionTimeout, true)
	v.validateDuration("analysis.provider_timeout", cfg.ProviderTimeout, true)
	v.validateDuration("analysis.target_wait_timeout", cfg.TargetWaitTimeout, true)
	v.validateDuration("analysis.idempotency_window", cfg.IdempotencyWindow, false)

	if cfg.MaxCostPerSession < 0 {
		v.addError("analysis.max_cost_per_session", cfg.MaxCostPerSession, "must be non-negative")
	}
	if cfg.MaxTargets < 1 {
		v.addError("analysis.max_targets", cfg.MaxTargets, "must be at least 1")
	}
	if cfg.MaxListItems < 1 {
		v.addError("analysis.max_list_items", cfg.MaxListItems, "must be at least 1")
	}

	for _, f := range cfg.Focus {
		if _, ok := core.LookupField(core.Field(f)); !ok {
			v.addError("analysis.focus", f, "unknown field")
		}
	}
	for _, f := range cfg.CrossCheckFields {
		if _, ok := core.LookupField(core.Field(f)); !ok {
			v.addError("analysis.cross_check_fields", f, "unknown field")
		}
	}

	w := cfg.Weights
	if w.Coverage < 0 || w.Confidence < 0 || w.Agreement < 0 {
		v.addError("analysis.weights", w, "weights must be non-negative")
	} else if w.Coverage+w.Confidence+w.Agreement == 0 {
		v.addError("analysis.weights", w, "at least one weight must be positive")
	}
}

func (v *Validator) validateRetry(cfg *RetryConfig) {
	if cfg.MaxAttempts < 1 {
		v.addError("retry.max_attempts", cfg.MaxAttempts, "must be at least 1")
	}
	v.validateDuration("retry.base_delay", cfg.BaseDelay, false)
	v.validateDuration("retry.max_delay", cfg.MaxDelay, false)
	v.validateDuration("retry.max_total_wait", cfg.MaxTotalWait, false)
	if cfg.Multiplier < 1 {
		v.addError("retry.multiplier", cfg.Multiplier, "must be at least 1")
	}
	if cfg.Jitter < 0 || cfg.Jitter > 1 {
		v.addError("retry.jitter", cfg.Jitter, "must be between 0 and 1")
	}
}

func (v *Validator) validateProviders(providers map[string]ProviderConfig) {
	validKinds := map[string]bool{
		KindOpenAI: true, KindPerplexity: true, KindAnthropic: true, KindStatic: true,
	}
	for name, p := range providers {
		prefix := "providers." + name
		if !validKinds[p.Kind] {
			v.addError(prefix+".kind", p.Kind, "must be one of: openai, perplexity, anthropic, static")
			continue
		}
		if !p.Enabled {
			continue
		}
		if p.Kind != KindStatic {
			if p.Model == "" {
				v.addError(prefix+".model", p.Model, "model required")
			}
			if p.APIKeyEnv == "" {
				v.addError(prefix+".api_key_env", p.APIKeyEnv, "api key environment variable required")
			}
		}
		if p.BaseURL != "" {
			if u, err := url.Parse(p.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
				v.addError(prefix+".base_url", p.BaseURL, "must be an absolute URL")
			}
		}
		if p.InputPrice < 0 || p.OutputPrice < 0 {
			v.addError(prefix+".price", []float64{p.InputPrice, p.OutputPrice}, "prices must be non-negative")
		}
		if p.MaxTokens < 0 {
			v.addError(prefix+".max_tokens", p.MaxTokens, "must be non-negative")
		}
		if p.Temperature < 0 || p.Temperature > 2 {
			v.addError(prefix+".temperature", p.Temperature, "must be between 0 and 2")
		}
		if p.RateLimit < 0 || p.Burst < 0 {
			v.addError(prefix+".rate_limit", p.RateLimit, "rate limit and burst must be non-negative")
		}
	}
}

func (v *Validator) validateAvailability(cfg *AvailabilityConfig) {
	switch cfg.Source {
	case AvailabilityConfigSource:
	case AvailabilityFileSource:
		if cfg.Path == "" {
			v.addError("availability.path", cfg.Path, "path required for file source")
		} else if !isValidPath(cfg.Path) {
			v.addError("availability.path", cfg.Path, "invalid file path")
		}
	default:
		v.addError("availability.source", cfg.Source, "must be one of: config, file")
	}
}

func (v *Validator) validateStore(cfg *StoreConfig) {
	switch cfg.Backend {
	case "", "memory":
	case "file", "sqlite", "postgres", "mysql":
		if cfg.DSN == "" {
			v.addError("store.dsn", cfg.DSN, "dsn required for "+cfg.Backend+" backend")
		}
	default:
		v.addError("store.backend", cfg.Backend, "must be one of: memory, file, sqlite, postgres, mysql")
	}
	v.validateDuration("store.retention", cfg.Retention, false)
}

func (v *Validator) validateArchive(cfg *ArchiveConfig) {
	if !cfg.Enabled {
		return
	}
	if cfg.Endpoint == "" {
		v.addError("archive.endpoint", cfg.Endpoint, "endpoint required when archive is enabled")
	}
	if cfg.Bucket == "" {
		v.addError("archive.bucket", cfg.Bucket, "bucket required when archive is enabled")
	}
}

func (v *Validator) validateNATS(cfg *NATSConfig) {
	if cfg.URL == "" {
		return
	}
	u, err := url.Parse(cfg.URL)
	if err != nil || (u.Scheme != "nats" && u.Scheme != "tls" && u.Scheme != "ws" && u.Scheme != "wss") {
		v.addError("nats.url", cfg.URL, "must be a nats://, tls://, ws:// or wss:// URL")
	}
	if cfg.SubjectPrefix == "" || strings.ContainsAny(cfg.SubjectPrefix, " *>") {
		v.addError("nats.subject_prefix", cfg.SubjectPrefix, "must be a non-empty literal subject")
	}
}

// validateDuration checks that s parses; required also rejects empty and
// non-positive values.
func (v *Validator) validateDuration(field, s string, required bool) {
	if s == "" {
		if required {
			v.addError(field, s, "duration required")
		}
		return
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		v.addError(field, s, "invalid duration")
		return
	}
	if d < 0 || (required && d == 0) {
		v.addError(field, s, "must be positive")
	}
}

func isValidPath(path string) bool {
	dir := filepath.Dir(path)
	_, err := os.Stat(dir)
	return err == nil || os.IsNotExist(err)
}

// ValidateConfig validates cfg with a fresh Validator.
func ValidateConfig(cfg *Config) error {
	return NewValidator().Validate(cfg)
}
