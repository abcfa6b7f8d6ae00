package events_test

import (
	"errors"
	"testing"
	"time"

	"github.com/flowforge/conductor/internal/core"
	"github.com/flowforge/conductor/internal/events"
)

func TestNewBaseEvent(t *testing.T) {
	e := events.NewBaseEvent("test_type", "tk-1", "proj-1")
	if e.EventType() != "test_type" {
		t.Errorf("got type %q, want %q", e.EventType(), "test_type")
	}
	if e.TicketID() != "tk-1" {
		t.Errorf("got ticket %q, want %q", e.TicketID(), "tk-1")
	}
	if e.ProjectID() != "proj-1" {
		t.Errorf("got project %q, want %q", e.ProjectID(), "proj-1")
	}
	if e.Timestamp().IsZero() {
		t.Error("timestamp should not be zero")
	}
}

func TestNewBaseEventLegacy(t *testing.T) {
	e := events.NewBaseEventLegacy("test_type", "tk-1")
	if e.ProjectID() != "" {
		t.Errorf("expected empty project ID, got %q", e.ProjectID())
	}
}

// --- Control events ---

func TestNewPauseRequestEvent(t *testing.T) {
	e := events.NewPauseRequestEvent("tk-1", "proj-1", "user requested")
	if e.EventType() != events.TypePauseRequest {
		t.Errorf("got type %q", e.EventType())
	}
	if e.Reason != "user requested" {
		t.Errorf("got reason %q", e.Reason)
	}
}

func TestNewResumeRequestEvent(t *testing.T) {
	e := events.NewResumeRequestEvent("tk-1", "proj-1")
	if e.EventType() != events.TypeResumeRequest {
		t.Errorf("got type %q", e.EventType())
	}
}

func TestNewAbortRequestEvent(t *testing.T) {
	e := events.NewAbortRequestEvent("tk-1", "proj-1", "timeout", true)
	if e.EventType() != events.TypeAbortRequest {
		t.Errorf("got type %q", e.EventType())
	}
	if e.Reason != "timeout" {
		t.Errorf("got reason %q", e.Reason)
	}
	if !e.Force {
		t.Error("expected force=true")
	}
}

func TestNewRetryRequestEvent(t *testing.T) {
	e := events.NewRetryRequestEvent("tk-1", "proj-1", "task-1")
	if e.EventType() != events.TypeRetryRequest {
		t.Errorf("got type %q", e.EventType())
	}
	if e.TaskID != "task-1" {
		t.Errorf("got task ID %q", e.TaskID)
	}
}

func TestNewCancelRequestEvent(t *testing.T) {
	e := events.NewCancelRequestEvent("tk-1", "proj-1", "task-1", "not relevant")
	if e.EventType() != events.TypeCancelRequest {
		t.Errorf("got type %q", e.EventType())
	}
	if e.TaskID != "task-1" || e.Reason != "not relevant" {
		t.Errorf("unexpected fields: task=%q reason=%q", e.TaskID, e.Reason)
	}
}

// --- Task events ---

func TestNewTaskCreatedEvent(t *testing.T) {
	e := events.NewTaskCreatedEvent("tk-1", "proj-1", "task-1", "implementation", "write the handler")
	if e.EventType() != events.TypeTaskCreated {
		t.Errorf("got type %q", e.EventType())
	}
	if e.TaskID != "task-1" || e.Phase != "implementation" {
		t.Errorf("task=%q phase=%q", e.TaskID, e.Phase)
	}
}

func TestNewTaskReadyEvent(t *testing.T) {
	e := events.NewTaskReadyEvent("tk-1", "proj-1", "task-1")
	if e.EventType() != events.TypeTaskReady {
		t.Errorf("got type %q", e.EventType())
	}
}

func TestNewTaskAssignedEvent(t *testing.T) {
	e := events.NewTaskAssignedEvent("tk-1", "proj-1", "task-1", "agent-1", 0.82)
	if e.AgentID != "agent-1" || e.Score != 0.82 {
		t.Errorf("agent=%q score=%f", e.AgentID, e.Score)
	}
}

func TestNewTaskStartedEvent(t *testing.T) {
	e := events.NewTaskStartedEvent("tk-1", "proj-1", "task-1", "agent-1")
	if e.TaskID != "task-1" || e.AgentID != "agent-1" {
		t.Errorf("task=%q agent=%q", e.TaskID, e.AgentID)
	}
}

func TestNewTaskProgressEvent(t *testing.T) {
	e := events.NewTaskProgressEvent("tk-1", "proj-1", "task-1", 0.5, "halfway")
	if e.Progress != 0.5 || e.Message != "halfway" {
		t.Errorf("progress=%f msg=%q", e.Progress, e.Message)
	}
}

func TestNewTaskCompletedEvent(t *testing.T) {
	e := events.NewTaskCompletedEvent("tk-1", "proj-1", "task-1", 5*time.Second)
	if e.Duration != 5*time.Second {
		t.Errorf("duration=%v", e.Duration)
	}
}

func TestNewTaskFailedEvent(t *testing.T) {
	e := events.NewTaskFailedEvent("tk-1", "proj-1", "task-1", errors.New("boom"), true)
	if e.Error != "boom" || !e.Retryable {
		t.Errorf("error=%q retryable=%v", e.Error, e.Retryable)
	}
}

func TestNewTaskFailedEvent_NilError(t *testing.T) {
	e := events.NewTaskFailedEvent("tk-1", "proj-1", "task-1", nil, false)
	if e.Error != "" {
		t.Errorf("expected empty error, got %q", e.Error)
	}
}

func TestNewTaskCancelledEvent(t *testing.T) {
	e := events.NewTaskCancelledEvent("tk-1", "proj-1", "task-1", "not needed")
	if e.TaskID != "task-1" || e.Reason != "not needed" {
		t.Errorf("task=%q reason=%q", e.TaskID, e.Reason)
	}
}

func TestNewTaskTimedOutEvent(t *testing.T) {
	e := events.NewTaskTimedOutEvent("tk-1", "proj-1", "task-1", 30*time.Second)
	if e.Timeout != 30*time.Second {
		t.Errorf("got timeout %v", e.Timeout)
	}
}

func TestNewTaskRetryEvent(t *testing.T) {
	e := events.NewTaskRetryEvent("tk-1", "proj-1", "task-1", 2, 3, errors.New("timeout"))
	if e.AttemptNum != 2 || e.MaxAttempts != 3 || e.Error != "timeout" {
		t.Errorf("attempt=%d max=%d error=%q", e.AttemptNum, e.MaxAttempts, e.Error)
	}
}

func TestNewTaskRetryEvent_NilError(t *testing.T) {
	e := events.NewTaskRetryEvent("tk-1", "proj-1", "task-1", 1, 3, nil)
	if e.Error != "" {
		t.Errorf("expected empty error, got %q", e.Error)
	}
}

// --- Ticket events ---

func TestNewTicketStartedEvent(t *testing.T) {
	e := events.NewTicketStartedEvent("tk-1", "proj-1", "fix the bug")
	if e.EventType() != events.TypeTicketStarted {
		t.Errorf("got type %q", e.EventType())
	}
	if e.Title != "fix the bug" {
		t.Errorf("got title %q", e.Title)
	}
}

func TestNewTicketProgressEvent(t *testing.T) {
	e := events.NewTicketProgressEvent("tk-1", "proj-1", "implementation", 5, 3, 1, 1)
	if e.Phase != "implementation" || e.Total != 5 || e.Completed != 3 || e.Failed != 1 {
		t.Errorf("phase=%q total=%d completed=%d failed=%d", e.Phase, e.Total, e.Completed, e.Failed)
	}
}

func TestNewTicketCompletedEvent(t *testing.T) {
	e := events.NewTicketCompletedEvent("tk-1", "proj-1", 10*time.Second)
	if e.EventType() != events.TypeTicketCompleted {
		t.Errorf("got type %q", e.EventType())
	}
	if e.Duration != 10*time.Second {
		t.Errorf("got duration %v", e.Duration)
	}
}

func TestNewTicketFailedEvent(t *testing.T) {
	e := events.NewTicketFailedEvent("tk-1", "proj-1", "implementation", errors.New("agent timeout"))
	if e.Phase != "implementation" || e.Error != "agent timeout" {
		t.Errorf("phase=%q error=%q", e.Phase, e.Error)
	}
	if e.ErrorCode != "" {
		t.Errorf("expected empty error code for plain error, got %q", e.ErrorCode)
	}
}

func TestNewTicketFailedEvent_DomainError(t *testing.T) {
	domErr := core.ErrTimeout("agent timed out")
	e := events.NewTicketFailedEvent("tk-1", "proj-1", "implementation", domErr)
	if e.ErrorCategory != string(core.ErrCatTimeout) {
		t.Errorf("got category %q", e.ErrorCategory)
	}
}

func TestNewTicketFailedEvent_NilError(t *testing.T) {
	e := events.NewTicketFailedEvent("tk-1", "proj-1", "implementation", nil)
	if e.Error != "" {
		t.Errorf("expected empty error, got %q", e.Error)
	}
}

func TestNewTicketPausedEvent(t *testing.T) {
	e := events.NewTicketPausedEvent("tk-1", "proj-1", "implementation", "user pause")
	if e.Phase != "implementation" || e.Reason != "user pause" {
		t.Errorf("phase=%q reason=%q", e.Phase, e.Reason)
	}
}

func TestNewTicketResumedEvent(t *testing.T) {
	e := events.NewTicketResumedEvent("tk-1", "proj-1", "implementation")
	if e.FromPhase != "implementation" {
		t.Errorf("got from_phase %q", e.FromPhase)
	}
}

func TestNewTicketStuckEvent(t *testing.T) {
	e := events.NewTicketStuckEvent("tk-1", "proj-1", "testing", 20*time.Minute, 2)
	if e.StalledFor != 20*time.Minute || e.PendingTasks != 2 {
		t.Errorf("stalled=%v pending=%d", e.StalledFor, e.PendingTasks)
	}
}

// --- Lock events ---

func TestNewLockAcquiredEvent(t *testing.T) {
	e := events.NewLockAcquiredEvent("tk-1", "proj-1", "repo:main", "exclusive", "task-1")
	if e.ResourceKey != "repo:main" || e.Mode != "exclusive" {
		t.Errorf("resource=%q mode=%q", e.ResourceKey, e.Mode)
	}
}

func TestNewLockReleasedEvent(t *testing.T) {
	e := events.NewLockReleasedEvent("tk-1", "proj-1", "repo:main", "task-1", true)
	if !e.Expired {
		t.Error("expected expired=true")
	}
}

func TestNewLockWaitTimeEvent(t *testing.T) {
	e := events.NewLockWaitTimeEvent("tk-1", "proj-1", "repo:main", "task-1", 2*time.Second)
	if e.Waited != 2*time.Second {
		t.Errorf("got waited %v", e.Waited)
	}
}

// --- Discovery events ---

func TestNewDiscoveryRecordedEvent(t *testing.T) {
	e := events.NewDiscoveryRecordedEvent("tk-1", "proj-1", "disc-1", "task-1", "implementation", "needs a migration")
	if e.DiscoveryID != "disc-1" || e.SourceTaskID != "task-1" {
		t.Errorf("discovery=%q source=%q", e.DiscoveryID, e.SourceTaskID)
	}
}

func TestNewDiscoveryAcceptedEvent(t *testing.T) {
	e := events.NewDiscoveryAcceptedEvent("tk-1", "proj-1", "disc-1", "task-2")
	if e.SpawnedTaskID != "task-2" {
		t.Errorf("got spawned task %q", e.SpawnedTaskID)
	}
}

func TestNewDiscoveryDeclinedEvent(t *testing.T) {
	e := events.NewDiscoveryDeclinedEvent("tk-1", "proj-1", "disc-1")
	if e.DiscoveryID != "disc-1" {
		t.Errorf("got discovery %q", e.DiscoveryID)
	}
}

// --- Guardian events ---

func TestNewGuardianInterventionEvent(t *testing.T) {
	e := events.NewGuardianInterventionEvent("tk-1", "proj-1", "int-1", "task-1", "redirect", "looping on the same error", 0.9)
	if e.Kind != "redirect" || e.Confidence != 0.9 {
		t.Errorf("kind=%q confidence=%f", e.Kind, e.Confidence)
	}
}

func TestNewGuardianInterventionAckEvent(t *testing.T) {
	e := events.NewGuardianInterventionAckEvent("tk-1", "proj-1", "int-1")
	if e.InterventionID != "int-1" {
		t.Errorf("got intervention %q", e.InterventionID)
	}
}

func TestNewSystemIncoherenceEvent(t *testing.T) {
	e := events.NewSystemIncoherenceEvent("proj-1", "two tickets editing the same file", []string{"tk-1", "tk-2"})
	if e.Description == "" || len(e.TicketIDs) != 2 {
		t.Errorf("description=%q tickets=%v", e.Description, e.TicketIDs)
	}
}

// --- Registry events ---

func TestNewAgentRegisteredEvent(t *testing.T) {
	e := events.NewAgentRegisteredEvent("proj-1", "agent-1", []string{"go", "testing"})
	if e.AgentID != "agent-1" || len(e.Capabilities) != 2 {
		t.Errorf("agent=%q caps=%v", e.AgentID, e.Capabilities)
	}
}

func TestNewAgentHeartbeatEvent(t *testing.T) {
	e := events.NewAgentHeartbeatEvent("proj-1", "agent-1", 3)
	if e.Load != 3 {
		t.Errorf("got load %d", e.Load)
	}
}

func TestNewAgentStaleEvent(t *testing.T) {
	e := events.NewAgentStaleEvent("proj-1", "agent-1", time.Minute)
	if e.SinceLast != time.Minute {
		t.Errorf("got since last %v", e.SinceLast)
	}
}

func TestNewAgentQuarantineEvent(t *testing.T) {
	e := events.NewAgentQuarantineEvent("proj-1", "agent-1", 4)
	if e.FailureStreak != 4 {
		t.Errorf("got failure streak %d", e.FailureStreak)
	}
}
