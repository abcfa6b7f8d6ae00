package cmd

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/flowforge/conductor/internal/core"
	"github.com/flowforge/conductor/internal/discovery"
	"github.com/flowforge/conductor/internal/fsutil"
)

var discoveryCmd = &cobra.Command{
	Use:   "discovery",
	Short: "Record discoveries and inspect the workflow graph they branch into",
}

var discoveryRecordCmd = &cobra.Command{
	Use:   "record <ticket-id> <source-task-id> <type> <description>",
	Short: "Record a discovery against a task, optionally spawning follow-up work",
	Args:  cobra.ExactArgs(4),
	RunE:  runDiscoveryRecord,
}

var discoveryGraphCmd = &cobra.Command{
	Use:   "graph <ticket-id>",
	Short: "Print the ticket's task + discovery workflow graph",
	Args:  cobra.ExactArgs(1),
	RunE:  runDiscoveryGraph,
}

var discoverySpawnSpecFile string

func init() {
	rootCmd.AddCommand(discoveryCmd)
	discoveryCmd.AddCommand(discoveryRecordCmd)
	discoveryCmd.AddCommand(discoveryGraphCmd)

	discoveryRecordCmd.Flags().StringVar(&discoverySpawnSpecFile, "spawn-spec-file", "", "path to a JSON-encoded spawn spec for the follow-up task")
}

func runDiscoveryRecord(_ *cobra.Command, args []string) error {
	rt, err := openRuntime()
	if err != nil {
		return err
	}
	defer func() { _ = rt.Close() }()

	ctx := context.Background()
	if err := rt.Load(ctx); err != nil {
		return fmt.Errorf("loading state: %w", err)
	}

	var spec *discovery.SpawnSpec
	if discoverySpawnSpecFile != "" {
		raw, err := fsutil.ReadFileScoped(discoverySpawnSpecFile)
		if err != nil {
			return fmt.Errorf("reading spawn spec file: %w", err)
		}
		spec = &discovery.SpawnSpec{}
		if err := json.Unmarshal(raw, spec); err != nil {
			return fmt.Errorf("parsing spawn spec file: %w", err)
		}
	}

	d, err := rt.RecordDiscovery(ctx, core.TicketID(args[0]), core.TaskID(args[1]), core.DiscoveryType(args[2]), args[3], spec)
	if err != nil {
		return fmt.Errorf("recording discovery: %w", err)
	}

	if d.SpawnedTaskID != "" {
		fmt.Printf("recorded discovery %s, spawned task %s in phase %s\n", d.ID, d.SpawnedTaskID, d.Phase)
	} else {
		fmt.Printf("recorded discovery %s\n", d.ID)
	}
	return nil
}

func runDiscoveryGraph(_ *cobra.Command, args []string) error {
	rt, err := openRuntime()
	if err != nil {
		return err
	}
	defer func() { _ = rt.Close() }()

	ctx := context.Background()
	if err := rt.Load(ctx); err != nil {
		return fmt.Errorf("loading state: %w", err)
	}

	graph, err := rt.WorkflowGraph(ctx, core.TicketID(args[0]))
	if err != nil {
		return fmt.Errorf("building workflow graph: %w", err)
	}
	return outputJSON(graph)
}
