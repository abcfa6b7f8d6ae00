// Package cmd implements enginectl, the operator CLI for the engine. It
// has no transport of its own: each subcommand opens the same SQLite
// database the engine process uses and builds an in-process
// runtime.Runtime to issue one control-API call, since enginectl is a
// local operator/test tool, not a network client.
package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/flowforge/conductor/internal/config"
	"github.com/flowforge/conductor/internal/runtime"
)

var (
	cfgFile string

	appVersion string
	appCommit  string
	appDate    string
)

var rootCmd = &cobra.Command{
	Use:           "enginectl",
	Short:         "Operate a conductor engine instance",
	Long:          "enginectl inspects and drives a conductor engine's state directly against its SQLite database.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// SetVersion injects build-time version info, mirroring cmd.SetVersion's
// role in the engine binary's own main.go.
func SetVersion(version, commit, date string) {
	appVersion = version
	appCommit = commit
	appDate = date
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: .engine/config.yaml)")
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
}

// loadConfig loads and validates engine config the same way cmd/engine does.
func loadConfig() (*config.Config, error) {
	loader := config.NewLoaderWithViper(viper.GetViper())
	if cfgFile != "" {
		loader = loader.WithConfigFile(cfgFile)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if err := config.ValidateConfig(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// openRuntime builds a runtime.Runtime against the configured database
// and rehydrates it from disk, for a single control-API call. Callers
// must close the returned runtime's store when done; enginectl never
// starts the runtime's background loops.
func openRuntime() (*runtime.Runtime, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	rt, err := runtime.New(cfg, nil)
	if err != nil {
		return nil, fmt.Errorf("opening engine state: %w", err)
	}
	return rt, nil
}

func outputJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
