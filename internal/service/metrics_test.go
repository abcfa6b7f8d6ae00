package service

import (
	"errors"
	"testing"
	"time"

	"github.com/flowforge/conductor/internal/core"
)

func TestMetricsCollector_RecordTaskLifecycle(t *testing.T) {
	m := NewMetricsCollector()

	task := core.NewTask("task-1", "Build", core.PhaseImplementation)
	m.RecordTaskCreated(task)
	m.RecordTaskStarted("task-1", "agent-1", time.Now())
	m.RecordTaskCompleted("task-1", 2*time.Second)

	wf := m.GetWorkflowMetrics()
	if wf.TasksTotal != 1 {
		t.Errorf("TasksTotal = %d, want 1", wf.TasksTotal)
	}
	if wf.TasksCompleted != 1 {
		t.Errorf("TasksCompleted = %d, want 1", wf.TasksCompleted)
	}

	tasks := m.GetAllTaskMetrics()
	if len(tasks) != 1 || !tasks[0].Success {
		t.Fatalf("expected one successful task, got %+v", tasks)
	}

	agents := m.GetAgentMetrics()
	am, ok := agents["agent-1"]
	if !ok {
		t.Fatal("expected agent-1 metrics")
	}
	if am.Invocations != 1 || am.Errors != 0 {
		t.Errorf("agent metrics = %+v, want 1 invocation, 0 errors", am)
	}
}

func TestMetricsCollector_RecordTaskFailed(t *testing.T) {
	m := NewMetricsCollector()

	task := core.NewTask("task-1", "Build", core.PhaseImplementation)
	m.RecordTaskCreated(task)
	m.RecordTaskStarted("task-1", "agent-1", time.Now())
	m.RecordTaskFailed("task-1", errors.New("boom"))

	wf := m.GetWorkflowMetrics()
	if wf.TasksFailed != 1 {
		t.Errorf("TasksFailed = %d, want 1", wf.TasksFailed)
	}

	tasks := m.GetAllTaskMetrics()
	if tasks[0].Success {
		t.Error("task should be marked unsuccessful")
	}
	if tasks[0].ErrorMsg != "boom" {
		t.Errorf("ErrorMsg = %q, want %q", tasks[0].ErrorMsg, "boom")
	}

	agents := m.GetAgentMetrics()
	if agents["agent-1"].Errors != 1 {
		t.Errorf("agent errors = %d, want 1", agents["agent-1"].Errors)
	}
}

func TestMetricsCollector_CancelledAndTimedOut(t *testing.T) {
	m := NewMetricsCollector()

	m.RecordTaskCancelled("task-1")
	m.RecordTaskTimedOut("task-2")

	wf := m.GetWorkflowMetrics()
	if wf.TasksCancelled != 1 {
		t.Errorf("TasksCancelled = %d, want 1", wf.TasksCancelled)
	}
	if wf.TasksTimedOut != 1 {
		t.Errorf("TasksTimedOut = %d, want 1", wf.TasksTimedOut)
	}
}

func TestMetricsCollector_RecordRetries(t *testing.T) {
	m := NewMetricsCollector()
	task := core.NewTask("task-1", "Build", core.PhaseImplementation)
	m.RecordTaskCreated(task)

	m.RecordRetries("task-1", 3)

	wf := m.GetWorkflowMetrics()
	if wf.RetriesTotal != 3 {
		t.Errorf("RetriesTotal = %d, want 3", wf.RetriesTotal)
	}
	tasks := m.GetAllTaskMetrics()
	if tasks[0].Retries != 3 {
		t.Errorf("task retries = %d, want 3", tasks[0].Retries)
	}
}

func TestMetricsCollector_RecordIntervention(t *testing.T) {
	m := NewMetricsCollector()

	iv := core.NewGuardianIntervention("iv-1", "tk-1", core.InterventionKind("nudge"), "drifted off task", 0.8)
	m.RecordIntervention(iv)

	interventions := m.GetInterventionMetrics()
	if len(interventions) != 1 {
		t.Fatalf("expected one intervention, got %d", len(interventions))
	}
	if interventions[0].TicketID != "tk-1" {
		t.Errorf("TicketID = %q, want tk-1", interventions[0].TicketID)
	}

	wf := m.GetWorkflowMetrics()
	if wf.Interventions != 1 {
		t.Errorf("Interventions = %d, want 1", wf.Interventions)
	}
}

func TestMetricsCollector_StartEndRun(t *testing.T) {
	m := NewMetricsCollector()
	m.StartRun()
	time.Sleep(time.Millisecond)
	m.EndRun()

	wf := m.GetWorkflowMetrics()
	if wf.TotalDuration <= 0 {
		t.Error("expected positive TotalDuration after EndRun")
	}
}

func TestMetricsCollector_UnknownAgentIgnored(t *testing.T) {
	m := NewMetricsCollector()
	m.RecordTaskStarted("missing-task", "agent-1", time.Now())

	if len(m.GetAllTaskMetrics()) != 0 {
		t.Error("RecordTaskStarted on unknown task should be a no-op")
	}
}
