package events

// Event type constants for task discovery events.
const (
	TypeDiscoveryRecorded        = "discovery.recorded"
	TypeDiscoveryAccepted        = "discovery.accepted"
	TypeDiscoveryDeclined        = "discovery.declined"
	TypeTaskSpawnedFromDiscovery = "task.spawned_from_discovery"
)

// DiscoveryRecordedEvent is emitted when a running task surfaces new,
// unplanned work.
type DiscoveryRecordedEvent struct {
	BaseEvent
	DiscoveryID  string `json:"discovery_id"`
	SourceTaskID string `json:"source_task_id"`
	Phase        string `json:"phase"`
	Title        string `json:"title"`
}

// NewDiscoveryRecordedEvent creates a new discovery recorded event.
func NewDiscoveryRecordedEvent(ticketID, projectID, discoveryID, sourceTaskID, phase, title string) DiscoveryRecordedEvent {
	return DiscoveryRecordedEvent{
		BaseEvent:    NewBaseEvent(TypeDiscoveryRecorded, ticketID, projectID),
		DiscoveryID:  discoveryID,
		SourceTaskID: sourceTaskID,
		Phase:        phase,
		Title:        title,
	}
}

// DiscoveryAcceptedEvent is emitted when a discovery is accepted and a
// follow-up task is spawned for it.
type DiscoveryAcceptedEvent struct {
	BaseEvent
	DiscoveryID   string `json:"discovery_id"`
	SpawnedTaskID string `json:"spawned_task_id"`
}

// NewDiscoveryAcceptedEvent creates a new discovery accepted event.
func NewDiscoveryAcceptedEvent(ticketID, projectID, discoveryID, spawnedTaskID string) DiscoveryAcceptedEvent {
	return DiscoveryAcceptedEvent{
		BaseEvent:     NewBaseEvent(TypeDiscoveryAccepted, ticketID, projectID),
		DiscoveryID:   discoveryID,
		SpawnedTaskID: spawnedTaskID,
	}
}

// DiscoveryDeclinedEvent is emitted when a discovery is reviewed and declined.
type DiscoveryDeclinedEvent struct {
	BaseEvent
	DiscoveryID string `json:"discovery_id"`
}

// NewDiscoveryDeclinedEvent creates a new discovery declined event.
func NewDiscoveryDeclinedEvent(ticketID, projectID, discoveryID string) DiscoveryDeclinedEvent {
	return DiscoveryDeclinedEvent{
		BaseEvent:   NewBaseEvent(TypeDiscoveryDeclined, ticketID, projectID),
		DiscoveryID: discoveryID,
	}
}

// TaskSpawnedFromDiscoveryEvent is emitted when an accepted discovery's
// spawn_spec materializes into a new task in its target phase.
type TaskSpawnedFromDiscoveryEvent struct {
	BaseEvent
	DiscoveryID  string `json:"discovery_id"`
	SourceTaskID string `json:"source_task_id"`
	TaskID       string `json:"task_id"`
	Phase        string `json:"phase"`
}

// NewTaskSpawnedFromDiscoveryEvent creates a new task spawned from
// discovery event.
func NewTaskSpawnedFromDiscoveryEvent(ticketID, projectID, discoveryID, sourceTaskID, taskID, phase string) TaskSpawnedFromDiscoveryEvent {
	return TaskSpawnedFromDiscoveryEvent{
		BaseEvent:    NewBaseEvent(TypeTaskSpawnedFromDiscovery, ticketID, projectID),
		DiscoveryID:  discoveryID,
		SourceTaskID: sourceTaskID,
		TaskID:       taskID,
		Phase:        phase,
	}
}
