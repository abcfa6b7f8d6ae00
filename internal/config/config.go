package config

// Config holds all configuration for the engine process: ambient concerns
// (logging, state persistence) plus the tunables of every orchestration
// subsystem (dispatcher, resource locks, agent registry, task retries,
// guardian monitoring).
type Config struct {
	Log        LogConfig        `mapstructure:"log"`
	State      StateConfig      `mapstructure:"state"`
	Dispatcher DispatcherConfig `mapstructure:"dispatcher"`
	Locks      LocksConfig      `mapstructure:"locks"`
	Agents     AgentsConfig     `mapstructure:"agents"`
	Tasks      TasksConfig      `mapstructure:"tasks"`
	Guardian   GuardianConfig   `mapstructure:"guardian"`
}

// LogConfig configures structured logging output.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

// StateConfig configures the relational persistence layer.
type StateConfig struct {
	Path             string `mapstructure:"path"`
	RetryMaxAttempts int    `mapstructure:"retry_max_attempts"`
	RetryBaseWaitMs  int    `mapstructure:"retry_base_wait_ms"`
}

// DispatcherConfig configures the task DAG scheduler.
type DispatcherConfig struct {
	MaxConcurrentTasks int `mapstructure:"max_concurrent_tasks"`
	BatchSize          int `mapstructure:"batch_size"`
	FairnessWindow     int `mapstructure:"fairness_window"`
}

// LocksConfig configures the resource-lock coordinator.
type LocksConfig struct {
	DefaultTTLSeconds int `mapstructure:"default_ttl_seconds"`
	MaxRetries        int `mapstructure:"max_retries"`
	BaseBackoffMs     int `mapstructure:"base_backoff_ms"`
}

// AgentsConfig configures the agent registry's heartbeat and liveness rules.
type AgentsConfig struct {
	HeartbeatIntervalSeconds int `mapstructure:"heartbeat_interval_seconds"`
	StaleTimeoutSeconds      int `mapstructure:"stale_timeout_seconds"`
}

// TasksConfig configures default task retry behavior.
type TasksConfig struct {
	DefaultMaxRetries    int `mapstructure:"default_max_retries"`
	RetryBackoffBaseMs   int `mapstructure:"retry_backoff_base_ms"`
}

// GuardianConfig configures the monitoring loop's cadence and trigger thresholds.
type GuardianConfig struct {
	IntervalSeconds            int     `mapstructure:"interval_seconds"`
	StuckThresholdSeconds      int     `mapstructure:"stuck_threshold_seconds"`
	InterventionCooldownSeconds int   `mapstructure:"intervention_cooldown_seconds"`
	AlignmentThreshold         float64 `mapstructure:"alignment_threshold"`
	EmergencyThreshold         float64 `mapstructure:"emergency_threshold"`
	AnalyzerModel              string  `mapstructure:"analyzer_model"`
}
