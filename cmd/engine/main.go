// Command engine runs the orchestration engine as a single long-lived
// process: it loads configuration, wires the runtime, starts every
// subsystem loop, and blocks until SIGINT/SIGTERM before draining them.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/flowforge/conductor/internal/config"
	"github.com/flowforge/conductor/internal/guardian"
	"github.com/flowforge/conductor/internal/runtime"
)

// Version information - set by goreleaser at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "engine:", err)
		os.Exit(1)
	}
}

func run() error {
	loader := config.NewLoader()
	cfg, err := loader.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := config.ValidateConfig(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	rt, err := runtime.New(cfg, buildAnalyzer(cfg))
	if err != nil {
		return fmt.Errorf("constructing runtime: %w", err)
	}

	ctx := context.Background()
	if err := rt.Load(ctx); err != nil {
		return fmt.Errorf("loading state: %w", err)
	}

	rt.Start(ctx)
	rt.Logger.Info("engine started",
		slog.String("version", version), slog.String("commit", commit), slog.String("db", cfg.State.Path))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	rt.Logger.Info("shutting down engine...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := rt.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	rt.Logger.Info("engine stopped")
	return nil
}

// buildAnalyzer wires the production trajectory analyzer when an API key is
// available. Without one, the guardian's trajectory pass runs as a no-op and
// the stuck-ticket and fairness loops still operate normally.
func buildAnalyzer(cfg *config.Config) runtime.Analyzer {
	apiKey := os.Getenv("ANTHROPIC_API_KEY")
	if apiKey == "" {
		return nil
	}
	return guardian.NewAnthropicAnalyzer(apiKey, anthropic.Model(cfg.Guardian.AnalyzerModel))
}
