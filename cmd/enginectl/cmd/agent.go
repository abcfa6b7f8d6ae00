package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/flowforge/conductor/internal/core"
)

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Inspect and register agents",
}

var agentListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered agents",
	RunE:  runAgentList,
}

var agentRegisterCmd = &cobra.Command{
	Use:   "register <id> <name>",
	Short: "Register a new agent",
	Args:  cobra.ExactArgs(2),
	RunE:  runAgentRegister,
}

var (
	agentListJSON         bool
	agentRegisterCapacity int
	agentRegisterCaps     []string
)

func init() {
	rootCmd.AddCommand(agentCmd)
	agentCmd.AddCommand(agentListCmd)
	agentCmd.AddCommand(agentRegisterCmd)

	agentListCmd.Flags().BoolVar(&agentListJSON, "json", false, "output as JSON")

	agentRegisterCmd.Flags().IntVar(&agentRegisterCapacity, "capacity", 1, "maximum concurrent tasks this agent accepts")
	agentRegisterCmd.Flags().StringSliceVar(&agentRegisterCaps, "capability", nil, "capability tag this agent offers (repeatable)")
}

func runAgentList(_ *cobra.Command, _ []string) error {
	rt, err := openRuntime()
	if err != nil {
		return err
	}
	defer func() { _ = rt.Close() }()

	ctx := context.Background()
	agents, err := rt.Store.ListAgents(ctx)
	if err != nil {
		return fmt.Errorf("loading agents: %w", err)
	}

	if agentListJSON {
		return outputJSON(agents)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	defer w.Flush()
	fmt.Fprintln(w, "ID\tNAME\tSTATUS\tLOAD\tCAPACITY\tCAPABILITIES")
	for _, a := range agents {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%v\n", a.ID, a.Name, a.Status, a.Load, a.Capacity, a.Capabilities)
	}
	return nil
}

func runAgentRegister(_ *cobra.Command, args []string) error {
	rt, err := openRuntime()
	if err != nil {
		return err
	}
	defer func() { _ = rt.Close() }()

	agent := core.NewAgent(core.AgentID(args[0]), args[1], agentRegisterCapacity).WithCapabilities(agentRegisterCaps...)
	if err := rt.RegisterAgent(context.Background(), agent); err != nil {
		return fmt.Errorf("registering agent: %w", err)
	}
	fmt.Printf("registered agent %s (%s)\n", agent.ID, agent.Name)
	return nil
}
