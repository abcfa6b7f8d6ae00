package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/flowforge/conductor/internal/core"
)

var ticketCmd = &cobra.Command{
	Use:   "ticket",
	Short: "Create, list, and transition tickets",
}

var ticketCreateCmd = &cobra.Command{
	Use:   "create <id> <title>",
	Short: "Create a new ticket in the backlog phase",
	Args:  cobra.ExactArgs(2),
	RunE:  runTicketCreate,
}

var ticketListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tracked tickets",
	RunE:  runTicketList,
}

var ticketTransitionCmd = &cobra.Command{
	Use:   "transition <id> <phase>",
	Short: "Force a ticket to a phase",
	Args:  cobra.ExactArgs(2),
	RunE:  runTicketTransition,
}

var (
	ticketListStatus       string
	ticketListJSON         bool
	ticketTransitionReason string
	ticketTransitionBypass bool
)

func init() {
	rootCmd.AddCommand(ticketCmd)
	ticketCmd.AddCommand(ticketCreateCmd)
	ticketCmd.AddCommand(ticketListCmd)
	ticketCmd.AddCommand(ticketTransitionCmd)

	ticketListCmd.Flags().StringVar(&ticketListStatus, "status", "", "filter by status (pending, running, paused, completed, failed, aborted)")
	ticketListCmd.Flags().BoolVar(&ticketListJSON, "json", false, "output as JSON")

	ticketTransitionCmd.Flags().StringVar(&ticketTransitionReason, "reason", "", "reason recorded on the phase history entry")
	ticketTransitionCmd.Flags().BoolVar(&ticketTransitionBypass, "bypass", false, "bypass the phase gate check")
}

func runTicketCreate(_ *cobra.Command, args []string) error {
	rt, err := openRuntime()
	if err != nil {
		return err
	}
	defer func() { _ = rt.Close() }()

	ctx := context.Background()
	ticket, err := rt.CreateTicket(ctx, core.TicketID(args[0]), args[1])
	if err != nil {
		return fmt.Errorf("creating ticket: %w", err)
	}
	fmt.Printf("created ticket %s in phase %s\n", ticket.ID, ticket.CurrentPhase)
	return nil
}

func runTicketList(_ *cobra.Command, _ []string) error {
	rt, err := openRuntime()
	if err != nil {
		return err
	}
	defer func() { _ = rt.Close() }()

	if err := rt.Load(context.Background()); err != nil {
		return fmt.Errorf("loading tickets: %w", err)
	}
	tickets := rt.Tickets.List(core.TicketStatus(ticketListStatus))

	if ticketListJSON {
		return outputJSON(tickets)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	defer w.Flush()
	fmt.Fprintln(w, "ID\tTITLE\tSTATUS\tPHASE")
	for _, t := range tickets {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", t.ID, t.Title, t.Status, t.CurrentPhase)
	}
	return nil
}

func runTicketTransition(_ *cobra.Command, args []string) error {
	rt, err := openRuntime()
	if err != nil {
		return err
	}
	defer func() { _ = rt.Close() }()

	ctx := context.Background()
	if err := rt.Load(ctx); err != nil {
		return fmt.Errorf("loading tickets: %w", err)
	}
	err = rt.TransitionTicket(ctx, core.TicketID(args[0]), core.Phase(args[1]), nil, ticketTransitionReason, ticketTransitionBypass)
	if err != nil {
		return fmt.Errorf("transitioning ticket: %w", err)
	}
	fmt.Printf("ticket %s transitioned to %s\n", args[0], args[1])
	return nil
}
