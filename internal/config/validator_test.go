package config

import "testing"

func validConfig() *Config {
	return &Config{
		Log:   LogConfig{Level: "info", Format: "auto"},
		State: StateConfig{Path: ".engine/state/engine.db", RetryMaxAttempts: 5, RetryBaseWaitMs: 100},
		Dispatcher: DispatcherConfig{
			MaxConcurrentTasks: 32,
			BatchSize:          16,
			FairnessWindow:     8,
		},
		Locks: LocksConfig{DefaultTTLSeconds: 300, MaxRetries: 5, BaseBackoffMs: 100},
		Agents: AgentsConfig{
			HeartbeatIntervalSeconds: 30,
			StaleTimeoutSeconds:      90,
		},
		Tasks: TasksConfig{DefaultMaxRetries: 3, RetryBackoffBaseMs: 1000},
		Guardian: GuardianConfig{
			IntervalSeconds:             60,
			StuckThresholdSeconds:       300,
			InterventionCooldownSeconds: 60,
			AlignmentThreshold:          0.5,
			EmergencyThreshold:          0.2,
		},
	}
}

func TestValidateConfig_AcceptsDefaults(t *testing.T) {
	t.Parallel()
	if err := ValidateConfig(validConfig()); err != nil {
		t.Fatalf("ValidateConfig() error = %v, want nil", err)
	}
}

func TestValidateConfig_RejectsFairnessWindowBelowOne(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	cfg.Dispatcher.FairnessWindow = 0

	err := ValidateConfig(cfg)
	if err == nil {
		t.Fatal("expected an error for fairness_window < 1")
	}
	verrs, ok := err.(ValidationErrors)
	if !ok || !verrs.HasErrors() {
		t.Fatalf("expected ValidationErrors, got %T: %v", err, err)
	}
	found := false
	for _, e := range verrs {
		if e.Field == "dispatcher.fairness_window" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected an error on dispatcher.fairness_window, got %v", verrs)
	}
}

func TestValidateConfig_RejectsStaleTimeoutBelowHeartbeat(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	cfg.Agents.StaleTimeoutSeconds = cfg.Agents.HeartbeatIntervalSeconds

	if err := ValidateConfig(cfg); err == nil {
		t.Fatal("expected an error when stale_timeout_seconds <= heartbeat_interval_seconds")
	}
}

func TestValidateConfig_RejectsEmergencyAboveAlignment(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	cfg.Guardian.EmergencyThreshold = 0.9
	cfg.Guardian.AlignmentThreshold = 0.5

	if err := ValidateConfig(cfg); err == nil {
		t.Fatal("expected an error when emergency_threshold > alignment_threshold")
	}
}

func TestValidateConfig_CollectsMultipleErrors(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	cfg.Log.Level = "verbose"
	cfg.Locks.DefaultTTLSeconds = 0
	cfg.Guardian.AlignmentThreshold = 2.0

	err := ValidateConfig(cfg)
	verrs, ok := err.(ValidationErrors)
	if !ok {
		t.Fatalf("expected ValidationErrors, got %T", err)
	}
	if len(verrs) < 3 {
		t.Errorf("expected at least 3 collected errors, got %d: %v", len(verrs), verrs)
	}
}
