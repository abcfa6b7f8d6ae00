package config

import (
	"fmt"
	"strings"
)

// ValidationError represents a single configuration validation failure.
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
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// HasErrors returns true if there are any validation errors.
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// Validator validates configuration, collecting every failure rather than
// stopping at the first so a misconfigured deploy gets one complete report.
type Validator struct {
	errors ValidationErrors
}

// NewValidator creates a new validator.
func NewValidator() *Validator {
	return &Validator{errors: make(ValidationErrors, 0)}
}

// Validate validates the entire configuration and returns a ValidationErrors
// if any field is out of range.
func (v *Validator) Validate(cfg *Config) error {
	v.validateLog(&cfg.Log)
	v.validateState(&cfg.State)
	v.validateDispatcher(&cfg.Dispatcher)
	v.validateLocks(&cfg.Locks)
	v.validateAgents(&cfg.Agents)
	v.validateTasks(&cfg.Tasks)
	v.validateGuardian(&cfg.Guardian)

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
	v.errors = append(v.errors, ValidationError{Field: field, Value: value, Message: msg})
}

func (v *Validator) validateLog(cfg *LogConfig) {
	switch cfg.Level {
	case "debug", "info", "warn", "error":
	default:
		v.addError("log.level", cfg.Level, "must be one of: debug, info, warn, error")
	}
	switch cfg.Format {
	case "auto", "json", "text":
	default:
		v.addError("log.format", cfg.Format, "must be one of: auto, json, text")
	}
}

func (v *Validator) validateState(cfg *StateConfig) {
	if strings.TrimSpace(cfg.Path) == "" {
		v.addError("state.path", cfg.Path, "must not be empty")
	}
	if cfg.RetryMaxAttempts < 1 {
		v.addError("state.retry_max_attempts", cfg.RetryMaxAttempts, "must be >= 1")
	}
	if cfg.RetryBaseWaitMs < 1 {
		v.addError("state.retry_base_wait_ms", cfg.RetryBaseWaitMs, "must be >= 1")
	}
}

func (v *Validator) validateDispatcher(cfg *DispatcherConfig) {
	if cfg.MaxConcurrentTasks < 1 {
		v.addError("dispatcher.max_concurrent_tasks", cfg.MaxConcurrentTasks, "must be >= 1")
	}
	if cfg.BatchSize < 1 {
		v.addError("dispatcher.batch_size", cfg.BatchSize, "must be >= 1")
	}
	if cfg.FairnessWindow < 1 {
		v.addError("dispatcher.fairness_window", cfg.FairnessWindow, "must be >= 1")
	}
}

func (v *Validator) validateLocks(cfg *LocksConfig) {
	if cfg.DefaultTTLSeconds < 1 {
		v.addError("locks.default_ttl_seconds", cfg.DefaultTTLSeconds, "must be >= 1")
	}
	if cfg.MaxRetries < 0 {
		v.addError("locks.max_retries", cfg.MaxRetries, "must be >= 0")
	}
	if cfg.BaseBackoffMs < 1 {
		v.addError("locks.base_backoff_ms", cfg.BaseBackoffMs, "must be >= 1")
	}
}

func (v *Validator) validateAgents(cfg *AgentsConfig) {
	if cfg.HeartbeatIntervalSeconds < 1 {
		v.addError("agents.heartbeat_interval_seconds", cfg.HeartbeatIntervalSeconds, "must be >= 1")
	}
	if cfg.StaleTimeoutSeconds <= cfg.HeartbeatIntervalSeconds {
		v.addError("agents.stale_timeout_seconds", cfg.StaleTimeoutSeconds, "must be greater than agents.heartbeat_interval_seconds")
	}
}

func (v *Validator) validateTasks(cfg *TasksConfig) {
	if cfg.DefaultMaxRetries < 0 {
		v.addError("tasks.default_max_retries", cfg.DefaultMaxRetries, "must be >= 0")
	}
	if cfg.RetryBackoffBaseMs < 1 {
		v.addError("tasks.retry_backoff_base_ms", cfg.RetryBackoffBaseMs, "must be >= 1")
	}
}

func (v *Validator) validateGuardian(cfg *GuardianConfig) {
	if cfg.IntervalSeconds < 1 {
		v.addError("guardian.interval_seconds", cfg.IntervalSeconds, "must be >= 1")
	}
	if cfg.StuckThresholdSeconds < 1 {
		v.addError("guardian.stuck_threshold_seconds", cfg.StuckThresholdSeconds, "must be >= 1")
	}
	if cfg.InterventionCooldownSeconds < 0 {
		v.addError("guardian.intervention_cooldown_seconds", cfg.InterventionCooldownSeconds, "must be >= 0")
	}
	if cfg.AlignmentThreshold < 0 || cfg.AlignmentThreshold > 1 {
		v.addError("guardian.alignment_threshold", cfg.AlignmentThreshold, "must be between 0 and 1")
	}
	if cfg.EmergencyThreshold < 0 || cfg.EmergencyThreshold > 1 {
		v.addError("guardian.emergency_threshold", cfg.EmergencyThreshold, "must be between 0 and 1")
	}
	if cfg.EmergencyThreshold > cfg.AlignmentThreshold {
		v.addError("guardian.emergency_threshold", cfg.EmergencyThreshold, "must be <= guardian.alignment_threshold")
	}
}

// ValidateConfig validates cfg and returns a combined error, or nil if valid.
func ValidateConfig(cfg *Config) error {
	return NewValidator().Validate(cfg)
}
