package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var interventionCmd = &cobra.Command{
	Use:   "intervention",
	Short: "Inspect and acknowledge guardian interventions",
}

var interventionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List guardian interventions issued this run",
	RunE:  runInterventionList,
}

var interventionAckCmd = &cobra.Command{
	Use:   "ack <id>",
	Short: "Acknowledge a guardian intervention",
	Args:  cobra.ExactArgs(1),
	RunE:  runInterventionAck,
}

var interventionListJSON bool

func init() {
	rootCmd.AddCommand(interventionCmd)
	interventionCmd.AddCommand(interventionListCmd)
	interventionCmd.AddCommand(interventionAckCmd)

	interventionListCmd.Flags().BoolVar(&interventionListJSON, "json", false, "output as JSON")
}

func runInterventionList(_ *cobra.Command, _ []string) error {
	rt, err := openRuntime()
	if err != nil {
		return err
	}
	defer func() { _ = rt.Close() }()

	if err := rt.Load(context.Background()); err != nil {
		return fmt.Errorf("loading tickets: %w", err)
	}

	interventions, err := rt.Interventions(context.Background())
	if err != nil {
		return fmt.Errorf("loading interventions: %w", err)
	}
	if interventionListJSON {
		return outputJSON(interventions)
	}
	for _, iv := range interventions {
		acked := ""
		if iv.Acked {
			acked = " (acked)"
		}
		fmt.Printf("%s\tticket=%s\tkind=%s\tconfidence=%.2f%s\t%s\n", iv.ID, iv.TicketID, iv.Kind, iv.Confidence, acked, iv.Reason)
	}
	return nil
}

func runInterventionAck(_ *cobra.Command, args []string) error {
	rt, err := openRuntime()
	if err != nil {
		return err
	}
	defer func() { _ = rt.Close() }()

	if err := rt.Load(context.Background()); err != nil {
		return fmt.Errorf("loading tickets: %w", err)
	}
	if err := rt.AckIntervention(context.Background(), args[0]); err != nil {
		return fmt.Errorf("acknowledging intervention: %w", err)
	}
	fmt.Printf("intervention %s acknowledged\n", args[0])
	return nil
}
