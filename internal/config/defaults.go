package config

// DefaultConfigYAML is written by `rivalscope init`. Keys left out fall back
// to the loader defaults.
const DefaultConfigYAML = `# rivalscope configuration
#
# Environment variables override any key: RIVALSCOPE_ANALYSIS_CONCURRENCY=8

log:
  level: info
  format: auto

server:
  host: 127.0.0.1
  port: 8080
  cors_origins: []
  heartbeat_interval: 15s

analysis:
  # Global switch; when false every new session is denied at the gate.
  enabled: true
  concurrency: 4
  session_timeout: 10m
  provider_timeout: 2m
  target_wait_timeout: 5m
  # 0 disables the per-session budget.
  max_cost_per_session: 0
  idempotency_window: 24h
  max_targets: 20
  max_list_items: 10
  weights:
    coverage: 0.4
    confidence: 0.4
    agreement: 0.2
  qualitative_priority: [openai, anthropic, perplexity]
  factual_priority: [perplexity, openai, anthropic]
  cross_check_fields: [industry, headquarters, founded]

retry:
  max_attempts: 3
  base_delay: 1s
  max_delay: 30s
  max_total_wait: 60s

# Prices are USD per million tokens.
providers:
  openai:
    enabled: true
    model: gpt-4o-mini
    api_key_env: OPENAI_API_KEY
    input_price: 0.15
    output_price: 0.60
  perplexity:
    enabled: true
    model: sonar
    base_url: https://api.perplexity.ai
    api_key_env: PERPLEXITY_API_KEY
    input_price: 1.0
    output_price: 1.0
    rate_limit: 0.8
    burst: 2
  anthropic:
    enabled: false
    model: claude-3-5-haiku-latest
    api_key_env: ANTHROPIC_API_KEY
    input_price: 0.80
    output_price: 4.0

# source: config reads analysis.enabled and providers.<id>.enabled.
# source: file watches a YAML document for live changes.
availability:
  source: config
  # path: availability.yaml

# backend: memory | file | sqlite | postgres | mysql
store:
  backend: sqlite
  dsn: .rivalscope/state.db
  retention: 168h

archive:
  enabled: false
  # endpoint: localhost:9000
  # bucket: rivalscope-reports

nats:
  # url: nats://localhost:4222
  subject_prefix: rivalscope.sessions
`
