package events

import "time"

// Event type constants for agent registry lifecycle events.
const (
	TypeAgentRegistered = "agent.registered"
	TypeAgentHeartbeat  = "agent.heartbeat"
	TypeAgentStale      = "agent.stale"
	TypeAgentQuarantine = "agent.quarantined"
)

// AgentRegisteredEvent is emitted when an agent joins the registry.
type AgentRegisteredEvent struct {
	BaseEvent
	AgentID      string   `json:"agent_id"`
	Capabilities []string `json:"capabilities"`
}

// NewAgentRegisteredEvent creates a new agent registered event.
func NewAgentRegisteredEvent(projectID, agentID string, capabilities []string) AgentRegisteredEvent {
	return AgentRegisteredEvent{
		BaseEvent:    NewBaseEvent(TypeAgentRegistered, "", projectID),
		AgentID:      agentID,
		Capabilities: capabilities,
	}
}

// AgentHeartbeatEvent is emitted each time an agent's liveness is renewed.
type AgentHeartbeatEvent struct {
	BaseEvent
	AgentID string `json:"agent_id"`
	Load    int    `json:"load"`
}

// NewAgentHeartbeatEvent creates a new agent heartbeat event.
func NewAgentHeartbeatEvent(projectID, agentID string, load int) AgentHeartbeatEvent {
	return AgentHeartbeatEvent{
		BaseEvent: NewBaseEvent(TypeAgentHeartbeat, "", projectID),
		AgentID:   agentID,
		Load:      load,
	}
}

// AgentStaleEvent is emitted when an agent misses its heartbeat deadline
// and is marked stale by the registry's zombie sweep.
type AgentStaleEvent struct {
	BaseEvent
	AgentID   string        `json:"agent_id"`
	SinceLast time.Duration `json:"since_last"`
}

// NewAgentStaleEvent creates a new agent stale event.
func NewAgentStaleEvent(projectID, agentID string, sinceLast time.Duration) AgentStaleEvent {
	return AgentStaleEvent{
		BaseEvent: NewBaseEvent(TypeAgentStale, "", projectID),
		AgentID:   agentID,
		SinceLast: sinceLast,
	}
}

// AgentQuarantineEvent is emitted when the registry stops dispatching new
// work to an agent after repeated failures.
type AgentQuarantineEvent struct {
	BaseEvent
	AgentID       string `json:"agent_id"`
	FailureStreak int    `json:"failure_streak"`
}

// NewAgentQuarantineEvent creates a new agent quarantine event.
func NewAgentQuarantineEvent(projectID, agentID string, failureStreak int) AgentQuarantineEvent {
	return AgentQuarantineEvent{
		BaseEvent:     NewBaseEvent(TypeAgentQuarantine, "", projectID),
		AgentID:       agentID,
		FailureStreak: failureStreak,
	}
}
