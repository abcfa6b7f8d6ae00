package config

// DefaultConfigYAML contains the default configuration YAML content, written
// by `enginectl config init` and used as the fallback when no config file
// is found.
const DefaultConfigYAML = `# Orchestration engine configuration
# Values not specified here use the defaults documented below.

log:
  level: info
  format: auto

state:
  path: .engine/state/engine.db
  retry_max_attempts: 5
  retry_base_wait_ms: 100

dispatcher:
  max_concurrent_tasks: 32
  batch_size: 16
  fairness_window: 8

locks:
  default_ttl_seconds: 300
  max_retries: 5
  base_backoff_ms: 100

agents:
  heartbeat_interval_seconds: 30
  stale_timeout_seconds: 90

tasks:
  default_max_retries: 3
  retry_backoff_base_ms: 1000

guardian:
  interval_seconds: 60
  stuck_threshold_seconds: 300
  intervention_cooldown_seconds: 60
  alignment_threshold: 0.5
  emergency_threshold: 0.2
  analyzer_model: ""
`
