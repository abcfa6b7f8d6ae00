package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/flowforge/conductor/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage engine configuration files",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default .engine/config.yaml in the current directory",
	RunE:  runConfigInit,
}

var configInitForce bool

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd)
	configInitCmd.Flags().BoolVar(&configInitForce, "force", false, "overwrite an existing config file")
}

func runConfigInit(_ *cobra.Command, _ []string) error {
	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("getting current directory: %w", err)
	}

	engineDir := filepath.Join(cwd, ".engine")
	if err := os.MkdirAll(engineDir, 0o750); err != nil {
		return fmt.Errorf("creating .engine directory: %w", err)
	}

	configPath := filepath.Join(engineDir, "config.yaml")
	if _, err := os.Stat(configPath); err == nil && !configInitForce {
		return fmt.Errorf("configuration already exists at .engine/config.yaml, use --force to overwrite")
	}

	if err := config.AtomicWrite(configPath, []byte(config.DefaultConfigYAML)); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	fmt.Printf("wrote default config to %s\n", configPath)
	return nil
}
