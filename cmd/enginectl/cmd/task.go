package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/flowforge/conductor/internal/core"
)

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Inspect and add tasks",
}

var taskListCmd = &cobra.Command{
	Use:   "list <ticket-id>",
	Short: "List tasks for a ticket",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskList,
}

var taskAddCmd = &cobra.Command{
	Use:   "add <ticket-id> <task-id> <phase> <name>",
	Short: "Add a task to a ticket's phase",
	Args:  cobra.ExactArgs(4),
	RunE:  runTaskAdd,
}

var (
	taskListJSON        bool
	taskAddPriority     int
	taskAddCapability   string
	taskAddResourceKeys []string
)

func init() {
	rootCmd.AddCommand(taskCmd)
	taskCmd.AddCommand(taskListCmd)
	taskCmd.AddCommand(taskAddCmd)

	taskListCmd.Flags().BoolVar(&taskListJSON, "json", false, "output as JSON")

	taskAddCmd.Flags().IntVar(&taskAddPriority, "priority", 0, "scheduling priority, higher runs first")
	taskAddCmd.Flags().StringVar(&taskAddCapability, "capability", "", "agent capability tag required to run this task")
	taskAddCmd.Flags().StringSliceVar(&taskAddResourceKeys, "resource-key", nil, "resource key this task must lock while running (repeatable)")
}

func runTaskList(_ *cobra.Command, args []string) error {
	rt, err := openRuntime()
	if err != nil {
		return err
	}
	defer func() { _ = rt.Close() }()

	ctx := context.Background()
	if err := rt.Load(ctx); err != nil {
		return fmt.Errorf("loading state: %w", err)
	}
	tasks := rt.ListTasks(core.TicketID(args[0]))

	if taskListJSON {
		return outputJSON(tasks)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	defer w.Flush()
	fmt.Fprintln(w, "ID\tPHASE\tSTATUS\tASSIGNED\tPRIORITY")
	for _, t := range tasks {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\n", t.ID, t.Phase, t.Status, t.AssignedTo, t.Priority)
	}
	return nil
}

func runTaskAdd(_ *cobra.Command, args []string) error {
	rt, err := openRuntime()
	if err != nil {
		return err
	}
	defer func() { _ = rt.Close() }()

	ctx := context.Background()
	if err := rt.Load(ctx); err != nil {
		return fmt.Errorf("loading state: %w", err)
	}

	task := core.NewTask(core.TaskID(args[1]), args[3], core.Phase(args[2])).
		WithPriority(taskAddPriority).
		WithRequiredCapability(taskAddCapability).
		WithResourceKeys(taskAddResourceKeys...)
	task.TicketID = core.TicketID(args[0])

	if err := rt.AddTask(ctx, task); err != nil {
		return fmt.Errorf("adding task: %w", err)
	}
	fmt.Printf("added task %s to ticket %s phase %s\n", task.ID, task.TicketID, task.Phase)
	return nil
}
