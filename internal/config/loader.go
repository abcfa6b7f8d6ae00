package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/viper"
)

// Loader handles configuration loading from multiple sources.
type Loader struct {
	v              *viper.Viper
	configFile     string
	envPrefix      string
	projectDir     string // Resolved project root directory (set by Load)
	projectDirHint string // Optional: override project root directory for path resolution
	resolvePaths   bool   // Whether to resolve relative paths to absolute on Load
	mu             sync.Mutex
}

// NewLoader creates a new configuration loader.
func NewLoader() *Loader {
	return &Loader{
		v:            viper.New(),
		envPrefix:    "ENGINE",
		resolvePaths: true,
	}
}

// NewLoaderWithViper creates a loader using an existing viper instance.
// This allows integration with CLI flag bindings.
func NewLoaderWithViper(v *viper.Viper) *Loader {
	return &Loader{
		v:            v,
		envPrefix:    "ENGINE",
		resolvePaths: true,
	}
}

// WithConfigFile sets an explicit config file path.
func (l *Loader) WithConfigFile(path string) *Loader {
	l.configFile = path
	return l
}

// WithProjectDir provides a project root directory hint for resolving relative paths.
func (l *Loader) WithProjectDir(path string) *Loader {
	l.projectDirHint = path
	return l
}

// WithResolvePaths controls whether relative paths are resolved to absolute paths on Load().
func (l *Loader) WithResolvePaths(resolve bool) *Loader {
	l.resolvePaths = resolve
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
//  1. CLI flags (set via viper.BindPFlag)
//  2. Environment variables (ENGINE_*)
//  3. Project config (.engine/config.yaml)
//  4. User config (~/.config/engine/config.yaml)
//  5. Defaults
func (l *Loader) Load() (*Config, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.setDefaults()

	l.v.SetEnvPrefix(l.envPrefix)
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	l.v.AutomaticEnv()

	if l.configFile != "" {
		l.v.SetConfigFile(l.configFile)
	} else {
		projectConfigPath := filepath.Join(".engine", "config.yaml")
		if _, err := os.Stat(projectConfigPath); err == nil {
			l.v.SetConfigFile(projectConfigPath)
		} else {
			l.v.SetConfigName("config")
			l.v.SetConfigType("yaml")
			l.v.AddConfigPath(".engine")
			if home, err := os.UserHomeDir(); err == nil {
				l.v.AddConfigPath(filepath.Join(home, ".config", "engine"))
			}
		}
	}

	if err := l.v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// no config file on disk: defaults/env/flags still apply
		} else if errors.Is(err, os.ErrNotExist) {
			// explicit config file path does not exist: fall back to defaults
		} else {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	projectDir := ""
	if configPath := l.v.ConfigFileUsed(); configPath != "" {
		if absConfigPath, err := filepath.Abs(configPath); err == nil {
			configDir := filepath.Dir(absConfigPath)
			if filepath.Base(configDir) == ".engine" {
				projectDir = filepath.Dir(configDir)
			} else {
				projectDir = configDir
			}
		}
	}
	if projectDir == "" {
		projectDir, _ = os.Getwd()
	}
	if strings.TrimSpace(l.projectDirHint) != "" {
		projectDir = l.projectDirHint
	}
	l.projectDir = projectDir
	if l.resolvePaths {
		l.resolveAbsolutePaths(&cfg, projectDir)
	}

	return &cfg, nil
}

// ProjectDir returns the resolved project root directory, available after Load().
func (l *Loader) ProjectDir() string {
	return l.projectDir
}

// resolveAbsolutePaths converts relative paths in the config to absolute paths
// relative to baseDir, so the engine behaves the same regardless of CWD.
func (l *Loader) resolveAbsolutePaths(cfg *Config, baseDir string) {
	if cfg.State.Path != "" {
		cfg.State.Path = resolvePathRelativeTo(cfg.State.Path, baseDir)
	}
}

// resolvePathRelativeTo converts a relative path to an absolute path using baseDir as the base.
func resolvePathRelativeTo(path, baseDir string) string {
	if filepath.IsAbs(path) {
		return path
	}
	if len(path) > 0 && (path[0] == '/' || path[0] == '\\') {
		return path
	}
	return filepath.Join(baseDir, path)
}

// setDefaults configures default values, mirroring DefaultConfigYAML.
func (l *Loader) setDefaults() {
	l.v.SetDefault("log.level", "info")
	l.v.SetDefault("log.format", "auto")

	l.v.SetDefault("state.path", ".engine/state/engine.db")
	l.v.SetDefault("state.retry_max_attempts", 5)
	l.v.SetDefault("state.retry_base_wait_ms", 100)

	l.v.SetDefault("dispatcher.max_concurrent_tasks", 32)
	l.v.SetDefault("dispatcher.batch_size", 16)
	l.v.SetDefault("dispatcher.fairness_window", 8)

	l.v.SetDefault("locks.default_ttl_seconds", 300)
	l.v.SetDefault("locks.max_retries", 5)
	l.v.SetDefault("locks.base_backoff_ms", 100)

	l.v.SetDefault("agents.heartbeat_interval_seconds", 30)
	l.v.SetDefault("agents.stale_timeout_seconds", 90)

	l.v.SetDefault("tasks.default_max_retries", 3)
	l.v.SetDefault("tasks.retry_backoff_base_ms", 1000)

	l.v.SetDefault("guardian.interval_seconds", 60)
	l.v.SetDefault("guardian.stuck_threshold_seconds", 300)
	l.v.SetDefault("guardian.intervention_cooldown_seconds", 60)
	l.v.SetDefault("guardian.alignment_threshold", 0.5)
	l.v.SetDefault("guardian.emergency_threshold", 0.2)
}

// ConfigFile returns the config file path if one was used.
func (l *Loader) ConfigFile() string {
	if l.configFile != "" {
		return l.configFile
	}
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
