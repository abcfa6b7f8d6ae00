package core

import "time"

// DiscoveryStatus tracks whether a discovery has been acted on yet.
type DiscoveryStatus string

const (
	DiscoveryStatusOpen     DiscoveryStatus = "open"
	DiscoveryStatusAccepted DiscoveryStatus = "accepted"
	DiscoveryStatusDeclined DiscoveryStatus = "declined"
)

// DiscoveryType classifies the kind of unplanned work a discovery
// surfaces, carried through so the workflow graph and any downstream
// triage can distinguish a bug report from a scope question.
type DiscoveryType string

const (
	DiscoveryTypeBugFound            DiscoveryType = "bug_found"
	DiscoveryTypeOptimization        DiscoveryType = "optimization"
	DiscoveryTypeClarificationNeeded DiscoveryType = "clarification_needed"
	DiscoveryTypeMissingDependency   DiscoveryType = "missing_dependency"
)

// TaskDiscovery records new work a running task surfaced mid-execution —
// follow-up work, an unexpected dependency, or a defect that needs its
// own task. Discoveries reference tasks by ID rather than holding
// pointers, since a discovery and the task it spawns can each outlive
// or reference the other cyclically.
type TaskDiscovery struct {
	ID            string
	SourceTaskID  TaskID
	TicketID      TicketID
	Phase         Phase // target phase for the spawned task, if any
	Type          DiscoveryType
	Title         string
	Description   string
	PriorityBoost bool
	Status        DiscoveryStatus
	SpawnedTaskID TaskID // set once accepted
	CreatedAt     time.Time
	ResolvedAt    *time.Time
}

// NewTaskDiscovery records a new discovery against its source task.
func NewTaskDiscovery(id string, source TaskID, ticket TicketID, phase Phase, discoveryType DiscoveryType, title string) *TaskDiscovery {
	return &TaskDiscovery{
		ID:           id,
		SourceTaskID: source,
		TicketID:     ticket,
		Phase:        phase,
		Type:         discoveryType,
		Title:        title,
		Status:       DiscoveryStatusOpen,
		CreatedAt:    time.Now(),
	}
}

// Accept marks the discovery as accepted and records the task spawned
// to address it. Spawning into a phase outside the standard phase graph
// is permitted — discoveries are the one path that bypasses
// allowed-transition checks, since they represent work nobody could
// have planned for up front.
func (d *TaskDiscovery) Accept(spawnedTask TaskID) error {
	if d.Status != DiscoveryStatusOpen {
		return &DomainError{Category: ErrCatState, Code: "DISCOVERY_NOT_OPEN", Message: "discovery already resolved"}
	}
	d.Status = DiscoveryStatusAccepted
	d.SpawnedTaskID = spawnedTask
	now := time.Now()
	d.ResolvedAt = &now
	return nil
}

// Decline marks the discovery as not actioned.
func (d *TaskDiscovery) Decline() error {
	if d.Status != DiscoveryStatusOpen {
		return &DomainError{Category: ErrCatState, Code: "DISCOVERY_NOT_OPEN", Message: "discovery already resolved"}
	}
	d.Status = DiscoveryStatusDeclined
	now := time.Now()
	d.ResolvedAt = &now
	return nil
}
