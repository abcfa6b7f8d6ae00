package events

import "time"

// Event type constants for resource lock coordination events.
const (
	TypeLockAcquired = "lock.acquired"
	TypeLockReleased = "lock.released"
	TypeLockWaitTime = "lock.wait_time"
	TypeLockExpired  = "lock.expired"
)

// LockAcquiredEvent is emitted when a task successfully claims a resource lock.
type LockAcquiredEvent struct {
	BaseEvent
	ResourceKey string `json:"resource_key"`
	Mode        string `json:"mode"`
	TaskID      string `json:"task_id"`
}

// NewLockAcquiredEvent creates a new lock acquired event.
func NewLockAcquiredEvent(ticketID, projectID, resourceKey, mode, taskID string) LockAcquiredEvent {
	return LockAcquiredEvent{
		BaseEvent:   NewBaseEvent(TypeLockAcquired, ticketID, projectID),
		ResourceKey: resourceKey,
		Mode:        mode,
		TaskID:      taskID,
	}
}

// LockReleasedEvent is emitted when a task releases a resource lock, either
// voluntarily on completion or because its lease expired.
type LockReleasedEvent struct {
	BaseEvent
	ResourceKey string `json:"resource_key"`
	TaskID      string `json:"task_id"`
	Expired     bool   `json:"expired"`
}

// NewLockReleasedEvent creates a new lock released event.
func NewLockReleasedEvent(ticketID, projectID, resourceKey, taskID string, expired bool) LockReleasedEvent {
	return LockReleasedEvent{
		BaseEvent:   NewBaseEvent(TypeLockReleased, ticketID, projectID),
		ResourceKey: resourceKey,
		TaskID:      taskID,
		Expired:     expired,
	}
}

// LockWaitTimeEvent reports how long a task waited before a lock claim
// succeeded, for coordinator contention telemetry.
type LockWaitTimeEvent struct {
	BaseEvent
	ResourceKey string        `json:"resource_key"`
	TaskID      string        `json:"task_id"`
	Waited      time.Duration `json:"waited"`
}

// NewLockWaitTimeEvent creates a new lock wait time event.
func NewLockWaitTimeEvent(ticketID, projectID, resourceKey, taskID string, waited time.Duration) LockWaitTimeEvent {
	return LockWaitTimeEvent{
		BaseEvent:   NewBaseEvent(TypeLockWaitTime, ticketID, projectID),
		ResourceKey: resourceKey,
		TaskID:      taskID,
		Waited:      waited,
	}
}
