package events

import "time"

// Event type constants for task events.
const (
	TypeTaskCreated   = "task.created"
	TypeTaskReady     = "task.ready"
	TypeTaskAssigned  = "task.assigned"
	TypeTaskStarted   = "task.started"
	TypeTaskProgress  = "task.progress"
	TypeTaskCompleted = "task.completed"
	TypeTaskFailed    = "task.failed"
	TypeTaskCancelled = "task.cancelled"
	TypeTaskTimedOut  = "task.timed_out"
	TypeTaskRetry     = "task.retry"
)

// TaskCreatedEvent is emitted when a task is created within a ticket's phase.
type TaskCreatedEvent struct {
	BaseEvent
	TaskID string `json:"task_id"`
	Phase  string `json:"phase"`
	Title  string `json:"title"`
}

// NewTaskCreatedEvent creates a new task created event.
func NewTaskCreatedEvent(ticketID, projectID, taskID, phase, title string) TaskCreatedEvent {
	return TaskCreatedEvent{
		BaseEvent: NewBaseEvent(TypeTaskCreated, ticketID, projectID),
		TaskID:    taskID,
		Phase:     phase,
		Title:     title,
	}
}

// TaskReadyEvent is emitted once a task's dependencies are satisfied and
// it enters the scheduler's ready set.
type TaskReadyEvent struct {
	BaseEvent
	TaskID string `json:"task_id"`
}

// NewTaskReadyEvent creates a new task ready event.
func NewTaskReadyEvent(ticketID, projectID, taskID string) TaskReadyEvent {
	return TaskReadyEvent{
		BaseEvent: NewBaseEvent(TypeTaskReady, ticketID, projectID),
		TaskID:    taskID,
	}
}

// TaskAssignedEvent is emitted when the dispatcher binds a task to an agent.
type TaskAssignedEvent struct {
	BaseEvent
	TaskID  string  `json:"task_id"`
	AgentID string  `json:"agent_id"`
	Score   float64 `json:"score"`
}

// NewTaskAssignedEvent creates a new task assigned event.
func NewTaskAssignedEvent(ticketID, projectID, taskID, agentID string, score float64) TaskAssignedEvent {
	return TaskAssignedEvent{
		BaseEvent: NewBaseEvent(TypeTaskAssigned, ticketID, projectID),
		TaskID:    taskID,
		AgentID:   agentID,
		Score:     score,
	}
}

// TaskStartedEvent is emitted when a task begins execution.
type TaskStartedEvent struct {
	BaseEvent
	TaskID  string `json:"task_id"`
	AgentID string `json:"agent_id"`
}

// NewTaskStartedEvent creates a new task started event.
func NewTaskStartedEvent(ticketID, projectID, taskID, agentID string) TaskStartedEvent {
	return TaskStartedEvent{
		BaseEvent: NewBaseEvent(TypeTaskStarted, ticketID, projectID),
		TaskID:    taskID,
		AgentID:   agentID,
	}
}

// TaskProgressEvent is emitted during task execution.
type TaskProgressEvent struct {
	BaseEvent
	TaskID   string  `json:"task_id"`
	Progress float64 `json:"progress"`
	Message  string  `json:"message,omitempty"`
}

// NewTaskProgressEvent creates a new task progress event.
func NewTaskProgressEvent(ticketID, projectID, taskID string, progress float64, message string) TaskProgressEvent {
	return TaskProgressEvent{
		BaseEvent: NewBaseEvent(TypeTaskProgress, ticketID, projectID),
		TaskID:    taskID,
		Progress:  progress,
		Message:   message,
	}
}

// TaskCompletedEvent is emitted when a task finishes successfully.
type TaskCompletedEvent struct {
	BaseEvent
	TaskID   string        `json:"task_id"`
	Duration time.Duration `json:"duration"`
}

// NewTaskCompletedEvent creates a new task completed event.
func NewTaskCompletedEvent(ticketID, projectID, taskID string, duration time.Duration) TaskCompletedEvent {
	return TaskCompletedEvent{
		BaseEvent: NewBaseEvent(TypeTaskCompleted, ticketID, projectID),
		TaskID:    taskID,
		Duration:  duration,
	}
}

// TaskFailedEvent is emitted when a task fails.
type TaskFailedEvent struct {
	BaseEvent
	TaskID    string `json:"task_id"`
	Error     string `json:"error"`
	Retryable bool   `json:"retryable"`
}

// NewTaskFailedEvent creates a new task failed event.
func NewTaskFailedEvent(ticketID, projectID, taskID string, err error, retryable bool) TaskFailedEvent {
	errStr := ""
	if err != nil {
		errStr = err.Error()
	}
	return TaskFailedEvent{
		BaseEvent: NewBaseEvent(TypeTaskFailed, ticketID, projectID),
		TaskID:    taskID,
		Error:     errStr,
		Retryable: retryable,
	}
}

// TaskCancelledEvent is emitted when a task is cancelled.
type TaskCancelledEvent struct {
	BaseEvent
	TaskID string `json:"task_id"`
	Reason string `json:"reason"`
}

// NewTaskCancelledEvent creates a new task cancelled event.
func NewTaskCancelledEvent(ticketID, projectID, taskID, reason string) TaskCancelledEvent {
	return TaskCancelledEvent{
		BaseEvent: NewBaseEvent(TypeTaskCancelled, ticketID, projectID),
		TaskID:    taskID,
		Reason:    reason,
	}
}

// TaskTimedOutEvent is emitted when a task exceeds its execution timeout.
type TaskTimedOutEvent struct {
	BaseEvent
	TaskID  string        `json:"task_id"`
	Timeout time.Duration `json:"timeout"`
}

// NewTaskTimedOutEvent creates a new task timed out event.
func NewTaskTimedOutEvent(ticketID, projectID, taskID string, timeout time.Duration) TaskTimedOutEvent {
	return TaskTimedOutEvent{
		BaseEvent: NewBaseEvent(TypeTaskTimedOut, ticketID, projectID),
		TaskID:    taskID,
		Timeout:   timeout,
	}
}

// TaskRetryEvent is emitted when a task is being retried.
type TaskRetryEvent struct {
	BaseEvent
	TaskID      string `json:"task_id"`
	AttemptNum  int    `json:"attempt_num"`
	MaxAttempts int    `json:"max_attempts"`
	Error       string `json:"error"`
}

// NewTaskRetryEvent creates a new task retry event.
func NewTaskRetryEvent(ticketID, projectID, taskID string, attemptNum, maxAttempts int, err error) TaskRetryEvent {
	errStr := ""
	if err != nil {
		errStr = err.Error()
	}
	return TaskRetryEvent{
		BaseEvent:   NewBaseEvent(TypeTaskRetry, ticketID, projectID),
		TaskID:      taskID,
		AttemptNum:  attemptNum,
		MaxAttempts: maxAttempts,
		Error:       errStr,
	}
}
