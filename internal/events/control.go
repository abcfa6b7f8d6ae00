package events

// Event type constants for operator control requests.
const (
	TypePauseRequest  = "control.pause_requested"
	TypeResumeRequest = "control.resume_requested"
	TypeAbortRequest  = "control.abort_requested"
	TypeRetryRequest  = "control.retry_requested"
	TypeCancelRequest = "control.cancel_requested"
)

// PauseRequestEvent requests a ticket be paused.
type PauseRequestEvent struct {
	BaseEvent
	Reason string `json:"reason"`
}

// NewPauseRequestEvent creates a new pause request event.
func NewPauseRequestEvent(ticketID, projectID, reason string) PauseRequestEvent {
	return PauseRequestEvent{
		BaseEvent: NewBaseEvent(TypePauseRequest, ticketID, projectID),
		Reason:    reason,
	}
}

// ResumeRequestEvent requests a paused ticket resume.
type ResumeRequestEvent struct {
	BaseEvent
}

// NewResumeRequestEvent creates a new resume request event.
func NewResumeRequestEvent(ticketID, projectID string) ResumeRequestEvent {
	return ResumeRequestEvent{
		BaseEvent: NewBaseEvent(TypeResumeRequest, ticketID, projectID),
	}
}

// AbortRequestEvent requests a ticket be aborted.
type AbortRequestEvent struct {
	BaseEvent
	Reason string `json:"reason"`
	Force  bool   `json:"force"`
}

// NewAbortRequestEvent creates a new abort request event.
func NewAbortRequestEvent(ticketID, projectID, reason string, force bool) AbortRequestEvent {
	return AbortRequestEvent{
		BaseEvent: NewBaseEvent(TypeAbortRequest, ticketID, projectID),
		Reason:    reason,
		Force:     force,
	}
}

// RetryRequestEvent requests a failed or timed-out task be retried.
type RetryRequestEvent struct {
	BaseEvent
	TaskID string `json:"task_id"`
}

// NewRetryRequestEvent creates a new retry request event.
func NewRetryRequestEvent(ticketID, projectID, taskID string) RetryRequestEvent {
	return RetryRequestEvent{
		BaseEvent: NewBaseEvent(TypeRetryRequest, ticketID, projectID),
		TaskID:    taskID,
	}
}

// CancelRequestEvent requests a pending or running task be cancelled.
type CancelRequestEvent struct {
	BaseEvent
	TaskID string `json:"task_id"`
	Reason string `json:"reason"`
}

// NewCancelRequestEvent creates a new cancel request event.
func NewCancelRequestEvent(ticketID, projectID, taskID, reason string) CancelRequestEvent {
	return CancelRequestEvent{
		BaseEvent: NewBaseEvent(TypeCancelRequest, ticketID, projectID),
		TaskID:    taskID,
		Reason:    reason,
	}
}
