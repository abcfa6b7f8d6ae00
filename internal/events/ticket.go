package events

import (
	"errors"
	"time"

	"github.com/flowforge/conductor/internal/core"
)

// Event type constants for ticket lifecycle events.
const (
	TypeTicketStarted   = "ticket.started"
	TypeTicketProgress  = "ticket.progress"
	TypeTicketCompleted = "ticket.completed"
	TypeTicketFailed    = "ticket.failed"
	TypeTicketPaused    = "ticket.paused"
	TypeTicketResumed   = "ticket.resumed"
	TypeTicketStuck     = "ticket.stuck"
)

// TicketStartedEvent is emitted when a ticket begins processing.
type TicketStartedEvent struct {
	BaseEvent
	Title string `json:"title"`
}

// NewTicketStartedEvent creates a new ticket started event.
func NewTicketStartedEvent(ticketID, projectID, title string) TicketStartedEvent {
	return TicketStartedEvent{
		BaseEvent: NewBaseEvent(TypeTicketStarted, ticketID, projectID),
		Title:     title,
	}
}

// TicketProgressEvent reports the ticket's task counts within its current phase.
type TicketProgressEvent struct {
	BaseEvent
	Phase     string `json:"phase"`
	Total     int    `json:"total"`
	Completed int    `json:"completed"`
	Failed    int    `json:"failed"`
	Running   int    `json:"running"`
}

// NewTicketProgressEvent creates a new ticket progress event.
func NewTicketProgressEvent(ticketID, projectID, phase string, total, completed, failed, running int) TicketProgressEvent {
	return TicketProgressEvent{
		BaseEvent: NewBaseEvent(TypeTicketProgress, ticketID, projectID),
		Phase:     phase,
		Total:     total,
		Completed: completed,
		Failed:    failed,
		Running:   running,
	}
}

// TicketCompletedEvent is emitted when a ticket reaches the done phase.
type TicketCompletedEvent struct {
	BaseEvent
	Duration time.Duration `json:"duration"`
}

// NewTicketCompletedEvent creates a new ticket completed event.
func NewTicketCompletedEvent(ticketID, projectID string, duration time.Duration) TicketCompletedEvent {
	return TicketCompletedEvent{
		BaseEvent: NewBaseEvent(TypeTicketCompleted, ticketID, projectID),
		Duration:  duration,
	}
}

// TicketFailedEvent is emitted when a ticket is aborted due to an
// unrecoverable error.
type TicketFailedEvent struct {
	BaseEvent
	Phase         string `json:"phase"`
	Error         string `json:"error"`
	ErrorCategory string `json:"error_category,omitempty"`
	ErrorCode     string `json:"error_code,omitempty"`
}

// NewTicketFailedEvent creates a new ticket failed event. If err is a
// domain error, its category and code are captured for downstream routing.
func NewTicketFailedEvent(ticketID, projectID, phase string, err error) TicketFailedEvent {
	e := TicketFailedEvent{
		BaseEvent: NewBaseEvent(TypeTicketFailed, ticketID, projectID),
		Phase:     phase,
	}
	if err != nil {
		e.Error = err.Error()
		var domErr *core.DomainError
		if errors.As(err, &domErr) {
			e.ErrorCategory = string(domErr.Category)
			e.ErrorCode = domErr.Code
		}
	}
	return e
}

// TicketPausedEvent is emitted when a ticket's processing is paused.
type TicketPausedEvent struct {
	BaseEvent
	Phase  string `json:"phase"`
	Reason string `json:"reason"`
}

// NewTicketPausedEvent creates a new ticket paused event.
func NewTicketPausedEvent(ticketID, projectID, phase, reason string) TicketPausedEvent {
	return TicketPausedEvent{
		BaseEvent: NewBaseEvent(TypeTicketPaused, ticketID, projectID),
		Phase:     phase,
		Reason:    reason,
	}
}

// TicketResumedEvent is emitted when a paused ticket resumes processing.
type TicketResumedEvent struct {
	BaseEvent
	FromPhase string `json:"from_phase"`
}

// NewTicketResumedEvent creates a new ticket resumed event.
func NewTicketResumedEvent(ticketID, projectID, fromPhase string) TicketResumedEvent {
	return TicketResumedEvent{
		BaseEvent: NewBaseEvent(TypeTicketResumed, ticketID, projectID),
		FromPhase: fromPhase,
	}
}

// TicketStuckEvent is emitted by the guardian's stuck-ticket detection loop
// when a ticket has shown no forward progress for longer than its
// configured stall threshold.
type TicketStuckEvent struct {
	BaseEvent
	Phase        string        `json:"phase"`
	StalledFor   time.Duration `json:"stalled_for"`
	PendingTasks int           `json:"pending_tasks"`
}

// NewTicketStuckEvent creates a new ticket stuck event.
func NewTicketStuckEvent(ticketID, projectID, phase string, stalledFor time.Duration, pendingTasks int) TicketStuckEvent {
	return TicketStuckEvent{
		BaseEvent:    NewBaseEvent(TypeTicketStuck, ticketID, projectID),
		Phase:        phase,
		StalledFor:   stalledFor,
		PendingTasks: pendingTasks,
	}
}
