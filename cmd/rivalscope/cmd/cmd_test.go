package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/hugo-lorenzo-mato/rivalscope/internal/config"
	"github.com/hugo-lorenzo-mato/rivalscope/internal/core"
)

// useConfig points the root command at a temporary config file for the
// duration of the test.
func useConfig(t *testing.T, body string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	old := cfgFile
	cfgFile = path
	t.Cleanup(func() { cfgFile = old })
}

func TestOrchestratorConfig(t *testing.T) {
	cfg := &config.Config{
		Analysis: config.AnalysisConfig{
			Concurrency:         2,
			SessionTimeout:      "90s",
			ProviderTimeout:     "",
			MaxTargets:          5,
			MaxListItems:        3,
			Focus:               []string{"pricing", "bogus"},
			QualitativePriority: []string{" OpenAI ", "Anthropic"},
			Weights:             config.WeightsConfig{Coverage: 1},
		},
		Retry: config.RetryConfig{MaxAttempts: 2, BaseDelay: "10ms"},
	}

	oc := orchestratorConfig(cfg)
	def := orchestratorConfig(&config.Config{})

	assert.Equal(t, 2, oc.Concurrency)
	assert.Equal(t, 90*time.Second, oc.SessionTimeout)
	assert.Equal(t, def.ProviderTimeout, oc.ProviderTimeout)
	assert.Equal(t, 5, oc.MaxTargets)
	assert.Equal(t, 3, oc.Aggregation.MaxListItems)
	assert.Equal(t, []core.Field{core.Field("pricing")}, oc.Focus)
	assert.Equal(t, []string{"openai", "anthropic"}, oc.Aggregation.QualitativePriority)
	assert.Equal(t, 1.0, oc.Aggregation.Weights.Coverage)
	assert.Equal(t, 10*time.Millisecond, oc.Retry.BaseDelay)
	assert.Equal(t, 2, oc.Retry.MaxAttempts)
}

func TestRateLimits(t *testing.T) {
	cfg := &config.Config{Providers: map[string]config.ProviderConfig{
		"openai":     {RateLimit: 2, Burst: 5},
		"perplexity": {RateLimit: 0.5},
		"anthropic":  {},
	}}

	reg := rateLimits(cfg)
	require.NotNil(t, reg)
	reg.Get("openai")
	reg.Get("perplexity")

	status := reg.Status()
	assert.Equal(t, 2.0, status["openai"].RefillRate)
	assert.InDelta(t, 5.0, status["openai"].Available, 0.5)
	assert.Equal(t, 0.5, status["perplexity"].RefillRate)
	assert.InDelta(t, 1.0, status["perplexity"].Available, 0.1)
	assert.ElementsMatch(t, []string{"openai", "perplexity"}, reg.List())
}

func TestRenderSession(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	s := &core.AnalysisSession{
		ID:                "sess-1",
		Targets:           []string{"Acme"},
		SelectedProviders: []string{"openai"},
		Status:            core.SessionCompleted,
		PerTargetResults:  map[string]*core.AggregatedResult{},
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	t.Run("json", func(t *testing.T) {
		data, err := renderSession(s, "json")
		require.NoError(t, err)
		var got map[string]any
		require.NoError(t, json.Unmarshal(data, &got))
		assert.Equal(t, "sess-1", got["id"])
		assert.Equal(t, "completed", got["status"])
	})

	t.Run("yaml", func(t *testing.T) {
		data, err := renderSession(s, "yaml")
		require.NoError(t, err)
		assert.Contains(t, string(data), "id: sess-1\n")
		assert.Contains(t, string(data), "targets:\n  - Acme\n")

		var got map[string]any
		require.NoError(t, yaml.Unmarshal(data, &got))
		assert.Equal(t, "completed", got["status"])
	})
}

func TestCheckFormat(t *testing.T) {
	assert.NoError(t, checkFormat("json"))
	assert.NoError(t, checkFormat("yaml"))
	assert.Error(t, checkFormat("xml"))
}

func TestRunAnalyze_DryRun(t *testing.T) {
	useConfig(t, "log:\n  level: error\nanalysis:\n  provider_timeout: 5s\n")

	dir := t.TempDir()
	outPath := filepath.Join(dir, "report.json")
	analyzeDryRun, analyzeFormat, analyzeOutput = true, "json", outPath
	analyzeProviders = []string{"alpha", "beta"}
	t.Cleanup(func() {
		analyzeDryRun, analyzeFormat, analyzeOutput = false, "json", ""
		analyzeProviders = nil
	})

	var out bytes.Buffer
	analyzeCmd.SetOut(&out)
	analyzeCmd.SetContext(context.Background())
	t.Cleanup(func() { analyzeCmd.SetOut(nil) })

	require.NoError(t, runAnalyze(analyzeCmd, []string{"Acme"}))

	var got core.AnalysisSession
	require.NoError(t, json.Unmarshal(out.Bytes(), &got))
	assert.Equal(t, core.SessionCompleted, got.Status)
	assert.ElementsMatch(t, []string{"alpha", "beta"}, got.SelectedProviders)
	require.Contains(t, got.PerTargetResults, "Acme")

	written, err := os.ReadFile(outPath)
	require.NoError(t, err)
	assert.Equal(t, out.Bytes(), written)
}

func TestRunAnalyze_BadFormat(t *testing.T) {
	analyzeFormat = "xml"
	t.Cleanup(func() { analyzeFormat = "json" })

	err := runAnalyze(analyzeCmd, []string{"Acme"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown format")
}

func TestRunAnalyze_NoProviders(t *testing.T) {
	useConfig(t, "log:\n  level: error\n")
	analyzeCmd.SetContext(context.Background())

	err := runAnalyze(analyzeCmd, []string{"Acme"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no providers enabled")
}

func TestRunInit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	initPath, initForce = path, false
	t.Cleanup(func() { initPath, initForce = "", false })

	var out bytes.Buffer
	initCmd.SetOut(&out)
	t.Cleanup(func() { initCmd.SetOut(nil) })

	require.NoError(t, runInit(initCmd, nil))
	assert.Contains(t, out.String(), "wrote "+path)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, config.DefaultConfigYAML, string(data))

	require.NoError(t, os.WriteFile(path, []byte("custom: true\n"), 0o600))
	out.Reset()
	require.NoError(t, runInit(initCmd, nil))
	assert.Contains(t, out.String(), "already exists")
	data, _ = os.ReadFile(path)
	assert.Equal(t, "custom: true\n", string(data))

	initForce = true
	require.NoError(t, runInit(initCmd, nil))
	data, _ = os.ReadFile(path)
	assert.Equal(t, config.DefaultConfigYAML, string(data))
}

func TestRunProviders(t *testing.T) {
	useConfig(t, `log:
  level: error
providers:
  openai:
    enabled: true
    api_key_env: RIVALSCOPE_TEST_MISSING_KEY
`)
	providersJSON = true
	t.Cleanup(func() { providersJSON = false })

	var out bytes.Buffer
	providersCmd.SetOut(&out)
	providersCmd.SetContext(context.Background())
	t.Cleanup(func() { providersCmd.SetOut(nil) })

	require.NoError(t, runProviders(providersCmd, nil))

	var report providersReport
	require.NoError(t, json.Unmarshal(out.Bytes(), &report))
	rows := map[string]providerRow{}
	for _, r := range report.Providers {
		rows[r.Name] = r
	}
	require.Contains(t, rows, "openai")
	assert.NotEqual(t, "ok", rows["openai"].Adapter)
	assert.Equal(t, "disabled", rows["anthropic"].Adapter)
}

func TestPrintProviders(t *testing.T) {
	var buf bytes.Buffer
	err := printProviders(&buf, providersReport{
		Decision: core.GateDecision{Allowed: false, Reasons: []string{"analysis disabled"}},
		Providers: []providerRow{
			{Name: "openai", Kind: "openai", Model: "gpt-4o-mini", Active: true, Status: "active", Adapter: "ok"},
		},
	})
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "PROVIDER")
	assert.Contains(t, buf.String(), "gpt-4o-mini")
	assert.Contains(t, buf.String(), "analysis: denied (analysis disabled)")
}

func TestLoadEnvFile(t *testing.T) {
	assert.NoError(t, loadEnvFile(""))
	assert.NoError(t, loadEnvFile(filepath.Join(t.TempDir(), "missing.env")))

	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte("RIVALSCOPE_TEST_ENV_VALUE=from-file\n"), 0o600))
	t.Setenv("RIVALSCOPE_TEST_ENV_VALUE", "")
	require.NoError(t, os.Unsetenv("RIVALSCOPE_TEST_ENV_VALUE"))

	require.NoError(t, loadEnvFile(path))
	assert.Equal(t, "from-file", os.Getenv("RIVALSCOPE_TEST_ENV_VALUE"))
}

func TestVersionCommand(t *testing.T) {
	SetVersion("v1.2.3", "abc123", "2026-01-15")
	t.Cleanup(func() { SetVersion("dev", "none", "unknown") })

	var buf bytes.Buffer
	versionCmd.SetOut(&buf)
	t.Cleanup(func() { versionCmd.SetOut(nil) })
	versionCmd.Run(versionCmd, nil)

	assert.Contains(t, buf.String(), "rivalscope v1.2.3")
	assert.Contains(t, buf.String(), "commit: abc123")
	assert.Contains(t, buf.String(), "built:  2026-01-15")
}
