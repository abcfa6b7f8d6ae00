package service

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/flowforge/conductor/internal/core"
)

// ReportGenerator renders a MetricsCollector's snapshot as text or JSON.
type ReportGenerator struct {
	metrics *MetricsCollector
}

// NewReportGenerator creates a new report generator.
func NewReportGenerator(metrics *MetricsCollector) *ReportGenerator {
	return &ReportGenerator{metrics: metrics}
}

// GenerateTextReport writes a human-readable run report.
func (r *ReportGenerator) GenerateTextReport(w io.Writer) error {
	wm := r.metrics.GetWorkflowMetrics()

	fmt.Fprintln(w, "")
	fmt.Fprintln(w, strings.Repeat("=", 60))
	fmt.Fprintln(w, "ENGINE RUN REPORT")
	fmt.Fprintln(w, strings.Repeat("=", 60))
	fmt.Fprintln(w, "")

	fmt.Fprintln(w, "SUMMARY")
	fmt.Fprintln(w, strings.Repeat("-", 40))
	fmt.Fprintf(w, "  Duration:        %s\n", wm.TotalDuration.Round(time.Second))
	fmt.Fprintf(w, "  Tasks Total:     %d\n", wm.TasksTotal)
	fmt.Fprintf(w, "  Tasks Completed: %d\n", wm.TasksCompleted)
	fmt.Fprintf(w, "  Tasks Failed:    %d\n", wm.TasksFailed)
	fmt.Fprintf(w, "  Tasks Cancelled: %d\n", wm.TasksCancelled)
	fmt.Fprintf(w, "  Tasks Timed Out: %d\n", wm.TasksTimedOut)
	fmt.Fprintf(w, "  Retries:         %d\n", wm.RetriesTotal)
	fmt.Fprintf(w, "  Interventions:   %d\n", wm.Interventions)
	fmt.Fprintln(w, "")

	if err := r.writeAgentTable(w); err != nil {
		return err
	}
	if err := r.writeTaskTable(w); err != nil {
		return err
	}
	r.writeInterventionSummary(w)

	fmt.Fprintln(w, strings.Repeat("=", 60))
	return nil
}

func (r *ReportGenerator) writeAgentTable(w io.Writer) error {
	agents := r.metrics.GetAgentMetrics()
	if len(agents) == 0 {
		return nil
	}

	fmt.Fprintln(w, "AGENT METRICS")
	fmt.Fprintln(w, strings.Repeat("-", 40))

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "  Agent\tInvocations\tErrors\tAvg Time")
	fmt.Fprintln(tw, "  -----\t-----------\t------\t--------")
	for _, am := range agents {
		fmt.Fprintf(tw, "  %s\t%d\t%d\t%s\n", am.ID, am.Invocations, am.Errors, am.AvgDuration.Round(time.Millisecond))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintln(w, "")
	return nil
}

func (r *ReportGenerator) writeTaskTable(w io.Writer) error {
	tasks := r.metrics.GetAllTaskMetrics()
	if len(tasks) == 0 {
		return nil
	}

	fmt.Fprintln(w, "TASK METRICS")
	fmt.Fprintln(w, strings.Repeat("-", 40))

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "  Task\tPhase\tStatus\tDuration")
	fmt.Fprintln(tw, "  ----\t-----\t------\t--------")
	for _, tm := range tasks {
		status := "ok"
		if !tm.Success {
			status = "failed"
		}
		fmt.Fprintf(tw, "  %s\t%s\t%s\t%s\n", truncate(tm.Name, 20), tm.Phase, status, tm.Duration.Round(time.Millisecond))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintln(w, "")
	return nil
}

func (r *ReportGenerator) writeInterventionSummary(w io.Writer) {
	interventions := r.metrics.GetInterventionMetrics()
	if len(interventions) == 0 {
		return
	}

	fmt.Fprintln(w, "GUARDIAN INTERVENTIONS")
	fmt.Fprintln(w, strings.Repeat("-", 40))
	for _, iv := range interventions {
		fmt.Fprintf(w, "  Ticket: %s (%s)\n", iv.TicketID, iv.Kind)
		fmt.Fprintf(w, "    Reason:     %s\n", iv.Reason)
		fmt.Fprintf(w, "    Confidence: %.2f%%\n", iv.Confidence*100)
		fmt.Fprintln(w, "")
	}
}

// GenerateJSONReport writes the full snapshot as JSON.
func (r *ReportGenerator) GenerateJSONReport(w io.Writer) error {
	report := Report{
		GeneratedAt:   time.Now(),
		Workflow:      r.metrics.GetWorkflowMetrics(),
		Agents:        r.metrics.GetAgentMetrics(),
		Tasks:         r.metrics.GetAllTaskMetrics(),
		Interventions: r.metrics.GetInterventionMetrics(),
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}

// GenerateSummary returns a one-line run summary.
func (r *ReportGenerator) GenerateSummary() string {
	wm := r.metrics.GetWorkflowMetrics()
	return fmt.Sprintf(
		"Duration: %s | Tasks: %d/%d | Interventions: %d",
		wm.TotalDuration.Round(time.Second),
		wm.TasksCompleted,
		wm.TasksTotal,
		wm.Interventions,
	)
}

// Report is the JSON-serializable snapshot a report command emits.
type Report struct {
	GeneratedAt   time.Time                       `json:"generated_at"`
	Workflow      WorkflowMetrics                 `json:"workflow"`
	Agents        map[core.AgentID]*AgentMetrics  `json:"agents"`
	Tasks         []*TaskMetrics                  `json:"tasks"`
	Interventions []InterventionMetrics           `json:"interventions"`
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
