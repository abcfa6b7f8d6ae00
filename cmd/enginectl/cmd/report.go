package cmd

import (
	"context"
	"os"

	"github.com/spf13/cobra"
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Print a run report (tasks, agents, guardian interventions)",
	Long: `Report opens the engine's state, loads tickets and tasks, and prints a
summary built from their current persisted status. Since enginectl runs one
call per process it never observes live task durations the way the engine's
own event-driven metrics collector does — only outcome counts.`,
	RunE: runReport,
}

var (
	reportJSON   bool
	reportOutput string
)

func init() {
	rootCmd.AddCommand(reportCmd)
	reportCmd.Flags().BoolVar(&reportJSON, "json", false, "output as JSON")
	reportCmd.Flags().StringVar(&reportOutput, "output", "", "write the report to this path atomically instead of stdout")
}

func runReport(_ *cobra.Command, _ []string) error {
	rt, err := openRuntime()
	if err != nil {
		return err
	}
	defer func() { _ = rt.Close() }()

	if err := rt.Load(context.Background()); err != nil {
		return err
	}

	rt.SnapshotMetrics()
	if reportOutput != "" {
		return rt.ReportToFile(reportOutput, reportJSON)
	}
	return rt.Report(os.Stdout, reportJSON)
}
