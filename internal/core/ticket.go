package core

import (
	"fmt"
	"time"
)

// TicketID uniquely identifies a ticket.
type TicketID string

// TicketStatus represents the current state of a ticket.
type TicketStatus string

const (
	TicketStatusPending   TicketStatus = "pending"
	TicketStatusRunning   TicketStatus = "running"
	TicketStatusPaused    TicketStatus = "paused"
	TicketStatusCompleted TicketStatus = "completed"
	TicketStatusFailed    TicketStatus = "failed"
	TicketStatusAborted   TicketStatus = "aborted"
)

// Ticket represents a unit of work moving through the phase graph: the
// top-level object a caller creates, whose phase advances as its tasks
// complete and whose gates are validated by PhaseGateArtifacts.
type Ticket struct {
	ID           TicketID
	Status       TicketStatus
	CurrentPhase Phase
	Title        string
	Description  string
	Tasks        map[TaskID]*Task
	TaskOrder    []TaskID
	History      []PhaseHistoryEntry
	CreatedAt    time.Time
	StartedAt    *time.Time
	CompletedAt  *time.Time
	Error        string
}

// PhaseHistoryEntry records a single transition the ticket made through
// the phase graph, including the artifacts that satisfied its gate.
type PhaseHistoryEntry struct {
	From      Phase
	To        Phase
	At        time.Time
	Artifacts []string // PhaseGateArtifact IDs
	Reason    string   // non-empty for blocked/unblocked transitions
}

// NewTicket creates a new ticket starting in the backlog phase.
func NewTicket(id TicketID, title string) *Ticket {
	return &Ticket{
		ID:           id,
		Status:       TicketStatusPending,
		CurrentPhase: PhaseBacklog,
		Title:        title,
		Tasks:        make(map[TaskID]*Task),
		TaskOrder:    make([]TaskID, 0),
		CreatedAt:    time.Now(),
	}
}

// AddTask adds a task to the ticket.
func (t *Ticket) AddTask(task *Task) error {
	if task == nil {
		return fmt.Errorf("task cannot be nil")
	}
	if _, exists := t.Tasks[task.ID]; exists {
		return fmt.Errorf("task %s already exists", task.ID)
	}
	task.TicketID = t.ID
	t.Tasks[task.ID] = task
	t.TaskOrder = append(t.TaskOrder, task.ID)
	return nil
}

// GetTask retrieves a task by ID.
func (t *Ticket) GetTask(id TaskID) (*Task, bool) {
	task, ok := t.Tasks[id]
	return task, ok
}

// TasksByPhase returns all tasks for a given phase.
func (t *Ticket) TasksByPhase(phase Phase) []*Task {
	var tasks []*Task
	for _, id := range t.TaskOrder {
		if task := t.Tasks[id]; task.Phase == phase {
			tasks = append(tasks, task)
		}
	}
	return tasks
}

// CompletedTasks returns a map of completed task IDs.
func (t *Ticket) CompletedTasks() map[TaskID]bool {
	completed := make(map[TaskID]bool)
	for id, task := range t.Tasks {
		if task.Status == TaskStatusCompleted {
			completed[id] = true
		}
	}
	return completed
}

// ReadyTasks returns tasks in the current phase whose dependencies are
// satisfied and which are still pending.
func (t *Ticket) ReadyTasks() []*Task {
	completed := t.CompletedTasks()
	var ready []*Task
	for _, id := range t.TaskOrder {
		task := t.Tasks[id]
		if task.Phase == t.CurrentPhase && task.IsReady(completed) {
			ready = append(ready, task)
		}
	}
	return ready
}

// Progress returns the completion percentage across all tasks.
func (t *Ticket) Progress() float64 {
	if len(t.Tasks) == 0 {
		return 0
	}
	done := 0
	for _, task := range t.Tasks {
		if task.Status == TaskStatusCompleted || task.Status == TaskStatusCancelled {
			done++
		}
	}
	return float64(done) / float64(len(t.Tasks)) * 100
}

// Start transitions the ticket to running state.
func (t *Ticket) Start() error {
	if t.Status != TicketStatusPending && t.Status != TicketStatusPaused {
		return fmt.Errorf("cannot start ticket in %s state", t.Status)
	}
	t.Status = TicketStatusRunning
	if t.StartedAt == nil {
		now := time.Now()
		t.StartedAt = &now
	}
	return nil
}

// Pause transitions the ticket to paused state.
func (t *Ticket) Pause() error {
	if t.Status != TicketStatusRunning {
		return fmt.Errorf("cannot pause ticket in %s state", t.Status)
	}
	t.Status = TicketStatusPaused
	return nil
}

// Resume transitions the ticket from paused to running.
func (t *Ticket) Resume() error {
	if t.Status != TicketStatusPaused {
		return fmt.Errorf("cannot resume ticket in %s state", t.Status)
	}
	t.Status = TicketStatusRunning
	return nil
}

// Complete transitions the ticket to completed state.
func (t *Ticket) Complete() error {
	if t.Status != TicketStatusRunning {
		return fmt.Errorf("cannot complete ticket in %s state", t.Status)
	}
	if t.CurrentPhase != PhaseDone {
		return fmt.Errorf("cannot complete ticket outside done phase, currently %s", t.CurrentPhase)
	}
	t.Status = TicketStatusCompleted
	now := time.Now()
	t.CompletedAt = &now
	return nil
}

// Fail transitions the ticket to failed state.
func (t *Ticket) Fail(err error) error {
	t.Status = TicketStatusFailed
	t.Error = err.Error()
	now := time.Now()
	t.CompletedAt = &now
	return nil
}

// Abort transitions the ticket to aborted state.
func (t *Ticket) Abort(reason string) error {
	t.Status = TicketStatusAborted
	t.Error = reason
	now := time.Now()
	t.CompletedAt = &now
	return nil
}

// Duration returns the ticket's wall-clock duration so far.
func (t *Ticket) Duration() time.Duration {
	if t.StartedAt == nil {
		return 0
	}
	end := time.Now()
	if t.CompletedAt != nil {
		end = *t.CompletedAt
	}
	return end.Sub(*t.StartedAt)
}

// IsTerminal returns true if the ticket is in a terminal state.
func (t *Ticket) IsTerminal() bool {
	return t.Status == TicketStatusCompleted ||
		t.Status == TicketStatusFailed ||
		t.Status == TicketStatusAborted
}

// Transition moves the ticket to a new phase, recording history. The
// caller (the phase state machine, §4.5) is responsible for gate
// validation before calling this; Transition only enforces that the
// move is legal in the phase graph, unless bypass is set for
// discovery-spawned free-form phases (see DESIGN.md open question).
func (t *Ticket) Transition(to Phase, artifactIDs []string, reason string, bypass bool) error {
	if !bypass && !CanTransition(t.CurrentPhase, to) {
		return &DomainError{
			Category: ErrCatState,
			Code:     "INVALID_PHASE_TRANSITION",
			Message:  fmt.Sprintf("cannot transition from %s to %s", t.CurrentPhase, to),
		}
	}
	t.History = append(t.History, PhaseHistoryEntry{
		From:      t.CurrentPhase,
		To:        to,
		At:        time.Now(),
		Artifacts: artifactIDs,
		Reason:    reason,
	})
	t.CurrentPhase = to
	return nil
}

// Validate checks ticket invariants.
func (t *Ticket) Validate() error {
	if t.ID == "" {
		return &DomainError{Category: ErrCatValidation, Code: "TICKET_ID_REQUIRED", Message: "ticket ID cannot be empty"}
	}
	if t.Title == "" {
		return &DomainError{Category: ErrCatValidation, Code: "TICKET_TITLE_REQUIRED", Message: "ticket title cannot be empty"}
	}
	return nil
}
