package core

import (
	"fmt"
	"time"
)

// TaskID uniquely identifies a task within a ticket.
type TaskID string

// TaskStatus represents the current state of a task.
type TaskStatus string

const (
	TaskStatusPending            TaskStatus = "pending"
	TaskStatusReady              TaskStatus = "ready"
	TaskStatusAssigned           TaskStatus = "assigned"
	TaskStatusRunning            TaskStatus = "running"
	TaskStatusCompleted          TaskStatus = "completed"
	TaskStatusFailed             TaskStatus = "failed"
	TaskStatusCancelled          TaskStatus = "cancelled"
	TaskStatusTimedOut           TaskStatus = "timed_out"
	TaskStatusBlockedOnDiscovery TaskStatus = "blocked_on_discovery"
)

// Task represents a unit of work within a ticket's phase.
type Task struct {
	ID                 TaskID
	TicketID           TicketID
	Phase              Phase
	Name               string
	Description        string
	Status             TaskStatus
	AssignedTo         AgentID
	Dependencies       []TaskID
	ResourceKeys       []string // resource keys this task must hold locks on while running
	RequiredCapability string   // agent capability tag the dispatcher matches candidates against
	Priority           int      // higher runs first in ready_tasks ordering; see dispatcher fairness rule
	Outputs            []Artifact
	DiscoveredBy       TaskID // non-empty if this task was spawned by a discovery
	Retries            int
	MaxRetries         int
	Timeout            time.Duration
	CreatedAt          time.Time
	StartedAt          *time.Time
	CompletedAt        *time.Time
	Error              string
}

// NewTask creates a new task with required fields.
func NewTask(id TaskID, name string, phase Phase) *Task {
	return &Task{
		ID:         id,
		Phase:      phase,
		Name:       name,
		Status:     TaskStatusPending,
		MaxRetries: 3,
		Timeout:    30 * time.Minute,
		CreatedAt:  time.Now(),
	}
}

// WithDescription sets the task description.
func (t *Task) WithDescription(desc string) *Task {
	t.Description = desc
	return t
}

// WithDependencies sets the task dependencies.
func (t *Task) WithDependencies(deps ...TaskID) *Task {
	t.Dependencies = deps
	return t
}

// WithResourceKeys sets the resource keys the task must lock while running.
func (t *Task) WithResourceKeys(keys ...string) *Task {
	t.ResourceKeys = keys
	return t
}

// WithMaxRetries sets the maximum retry count.
func (t *Task) WithMaxRetries(maxRetries int) *Task {
	t.MaxRetries = maxRetries
	return t
}

// WithTimeout sets the per-attempt execution timeout.
func (t *Task) WithTimeout(d time.Duration) *Task {
	t.Timeout = d
	return t
}

// WithDiscoveredBy marks the task as spawned by a discovery.
func (t *Task) WithDiscoveredBy(source TaskID) *Task {
	t.DiscoveredBy = source
	return t
}

// WithPriority sets the task's scheduling priority (higher runs first).
func (t *Task) WithPriority(p int) *Task {
	t.Priority = p
	return t
}

// WithRequiredCapability sets the agent capability tag a candidate must
// declare to be considered for this task.
func (t *Task) WithRequiredCapability(capability string) *Task {
	t.RequiredCapability = capability
	return t
}

// IsReady returns true if the task is pending and all dependencies completed.
func (t *Task) IsReady(completed map[TaskID]bool) bool {
	if t.Status != TaskStatusPending {
		return false
	}
	for _, dep := range t.Dependencies {
		if !completed[dep] {
			return false
		}
	}
	return true
}

// MarkReady transitions a pending task to ready once its dependencies clear.
func (t *Task) MarkReady() error {
	if t.Status != TaskStatusPending {
		return fmt.Errorf("cannot ready task in %s state", t.Status)
	}
	t.Status = TaskStatusReady
	return nil
}

// MarkAssigned binds the task to an agent.
func (t *Task) MarkAssigned(agent AgentID) error {
	if t.Status != TaskStatusReady {
		return fmt.Errorf("cannot assign task in %s state", t.Status)
	}
	t.Status = TaskStatusAssigned
	t.AssignedTo = agent
	return nil
}

// MarkRunning transitions the task to running state.
func (t *Task) MarkRunning() error {
	if t.Status != TaskStatusAssigned {
		return fmt.Errorf("cannot start task in %s state", t.Status)
	}
	t.Status = TaskStatusRunning
	now := time.Now()
	t.StartedAt = &now
	return nil
}

// MarkCompleted transitions the task to completed state.
func (t *Task) MarkCompleted(outputs []Artifact) error {
	if t.Status != TaskStatusRunning {
		return fmt.Errorf("cannot complete task in %s state", t.Status)
	}
	t.Status = TaskStatusCompleted
	t.Outputs = outputs
	now := time.Now()
	t.CompletedAt = &now
	return nil
}

// MarkFailed transitions the task to failed state.
func (t *Task) MarkFailed(err error) error {
	if t.Status != TaskStatusRunning && t.Status != TaskStatusAssigned {
		return fmt.Errorf("cannot fail task in %s state", t.Status)
	}
	t.Status = TaskStatusFailed
	t.Error = err.Error()
	now := time.Now()
	t.CompletedAt = &now
	return nil
}

// MarkTimedOut transitions a running task to timed_out.
func (t *Task) MarkTimedOut() error {
	if t.Status != TaskStatusRunning {
		return fmt.Errorf("cannot time out task in %s state", t.Status)
	}
	t.Status = TaskStatusTimedOut
	t.Error = "execution exceeded timeout"
	now := time.Now()
	t.CompletedAt = &now
	return nil
}

// MarkCancelled transitions the task to cancelled state from any
// non-terminal state. Cancellation is idempotent: cancelling an
// already-terminal task is a no-op, not an error.
func (t *Task) MarkCancelled(reason string) error {
	if t.IsTerminal() {
		return nil
	}
	t.Status = TaskStatusCancelled
	t.Error = reason
	now := time.Now()
	t.CompletedAt = &now
	return nil
}

// MarkBlockedOnDiscovery suspends a running task pending the outcome of
// a task it spawned mid-execution; it resumes to pending (re-entering
// dependency evaluation) once that spawned task completes.
func (t *Task) MarkBlockedOnDiscovery() error {
	if t.Status != TaskStatusRunning {
		return fmt.Errorf("cannot block task in %s state", t.Status)
	}
	t.Status = TaskStatusBlockedOnDiscovery
	return nil
}

// Unblock resumes a task blocked on a discovery back to pending.
func (t *Task) Unblock() error {
	if t.Status != TaskStatusBlockedOnDiscovery {
		return fmt.Errorf("cannot unblock task in %s state", t.Status)
	}
	t.Status = TaskStatusPending
	return nil
}

// CanRetry returns true if the task can be retried.
func (t *Task) CanRetry() bool {
	return (t.Status == TaskStatusFailed || t.Status == TaskStatusTimedOut) && t.Retries < t.MaxRetries
}

// Reset prepares the task for retry, returning to pending so it
// re-enters dependency evaluation.
func (t *Task) Reset() error {
	if !t.CanRetry() {
		return fmt.Errorf("cannot retry task: retries=%d, max=%d", t.Retries, t.MaxRetries)
	}
	t.Retries++
	t.Status = TaskStatusPending
	t.Error = ""
	t.StartedAt = nil
	t.CompletedAt = nil
	return nil
}

// Validate checks task invariants.
func (t *Task) Validate() error {
	if t.ID == "" {
		return &DomainError{Category: ErrCatValidation, Code: "TASK_ID_REQUIRED", Message: "task ID cannot be empty"}
	}
	if t.Name == "" {
		return &DomainError{Category: ErrCatValidation, Code: "TASK_NAME_REQUIRED", Message: "task name cannot be empty"}
	}
	if !ValidPhase(t.Phase) {
		return &DomainError{Category: ErrCatValidation, Code: "TASK_PHASE_INVALID", Message: fmt.Sprintf("invalid phase: %s", t.Phase)}
	}
	return nil
}

// Duration returns the task execution duration.
func (t *Task) Duration() time.Duration {
	if t.StartedAt == nil {
		return 0
	}
	end := time.Now()
	if t.CompletedAt != nil {
		end = *t.CompletedAt
	}
	return end.Sub(*t.StartedAt)
}

// IsTerminal returns true if the task is in a terminal state.
func (t *Task) IsTerminal() bool {
	switch t.Status {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled, TaskStatusTimedOut:
		return true
	default:
		return false
	}
}

// IsSuccess returns true if the task completed successfully.
func (t *Task) IsSuccess() bool {
	return t.Status == TaskStatusCompleted
}
