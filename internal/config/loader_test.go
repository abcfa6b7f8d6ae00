package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoader_DefaultsOnly(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	cwd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd() error = %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("Chdir() error = %v", err)
	}
	t.Cleanup(func() { _ = os.Chdir(cwd) })

	cfg, err := NewLoader().Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Dispatcher.BatchSize != 16 {
		t.Errorf("Dispatcher.BatchSize = %d, want 16", cfg.Dispatcher.BatchSize)
	}
	if cfg.Guardian.StuckThresholdSeconds != 300 {
		t.Errorf("Guardian.StuckThresholdSeconds = %d, want 300", cfg.Guardian.StuckThresholdSeconds)
	}
	if cfg.State.Path == "" || !filepath.IsAbs(cfg.State.Path) {
		t.Errorf("State.Path = %q, want a resolved absolute path", cfg.State.Path)
	}
}

func TestLoader_ProjectConfigOverridesDefaults(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	engineDir := filepath.Join(dir, ".engine")
	if err := os.MkdirAll(engineDir, 0o750); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}
	yaml := "dispatcher:\n  batch_size: 4\nguardian:\n  alignment_threshold: 0.75\n"
	if err := os.WriteFile(filepath.Join(engineDir, "config.yaml"), []byte(yaml), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	cwd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd() error = %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("Chdir() error = %v", err)
	}
	t.Cleanup(func() { _ = os.Chdir(cwd) })

	cfg, err := NewLoader().Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Dispatcher.BatchSize != 4 {
		t.Errorf("Dispatcher.BatchSize = %d, want 4", cfg.Dispatcher.BatchSize)
	}
	if cfg.Guardian.AlignmentThreshold != 0.75 {
		t.Errorf("Guardian.AlignmentThreshold = %v, want 0.75", cfg.Guardian.AlignmentThreshold)
	}
	// Untouched keys keep their defaults.
	if cfg.Locks.MaxRetries != 5 {
		t.Errorf("Locks.MaxRetries = %d, want 5 (default)", cfg.Locks.MaxRetries)
	}
}

func TestLoader_EnvVarOverridesFile(t *testing.T) {
	dir := t.TempDir()
	engineDir := filepath.Join(dir, ".engine")
	if err := os.MkdirAll(engineDir, 0o750); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}
	if err := os.WriteFile(filepath.Join(engineDir, "config.yaml"), []byte("dispatcher:\n  batch_size: 4\n"), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	cwd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd() error = %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("Chdir() error = %v", err)
	}
	t.Cleanup(func() { _ = os.Chdir(cwd) })

	t.Setenv("ENGINE_DISPATCHER_BATCH_SIZE", "64")

	cfg, err := NewLoader().Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Dispatcher.BatchSize != 64 {
		t.Errorf("Dispatcher.BatchSize = %d, want 64 (env override)", cfg.Dispatcher.BatchSize)
	}
}

func TestResolvePathRelativeTo(t *testing.T) {
	t.Parallel()
	cases := []struct {
		path, base, want string
	}{
		{"state.db", "/project", "/project/state.db"},
		{"/abs/state.db", "/project", "/abs/state.db"},
	}
	for _, c := range cases {
		if got := resolvePathRelativeTo(c.path, c.base); got != c.want {
			t.Errorf("resolvePathRelativeTo(%q, %q) = %q, want %q", c.path, c.base, got, c.want)
		}
	}
}
