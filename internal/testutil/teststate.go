package testutil

import (
	"github.com/flowforge/conductor/internal/core"
)

// NewTestTicket creates a Ticket with sensible defaults for tests. Use
// functional options to override specific fields.
func NewTestTicket(id core.TicketID, title string, opts ...func(*core.Ticket)) *core.Ticket {
	tk := core.NewTicket(id, title)
	for _, opt := range opts {
		opt(tk)
	}
	return tk
}

// NewTestTask creates a Task with sensible defaults for tests. Use
// functional options to override specific fields.
func NewTestTask(id core.TaskID, name string, phase core.Phase, opts ...func(*core.Task)) *core.Task {
	task := core.NewTask(id, name, phase)
	for _, opt := range opts {
		opt(task)
	}
	return task
}

// NewTestAgent creates an Agent with sensible defaults for tests. Use
// functional options to override specific fields.
func NewTestAgent(id core.AgentID, name string, capacity int, opts ...func(*core.Agent)) *core.Agent {
	a := core.NewAgent(id, name, capacity)
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// WithDependencies sets a task's dependency list.
func WithDependencies(deps ...core.TaskID) func(*core.Task) {
	return func(t *core.Task) {
		t.Dependencies = deps
	}
}

// WithCapability sets a task's required capability tag.
func WithCapability(tag string) func(*core.Task) {
	return func(t *core.Task) {
		t.RequiredCapability = tag
	}
}

// WithAgentCapabilities sets an agent's capability tags.
func WithAgentCapabilities(tags ...string) func(*core.Agent) {
	return func(a *core.Agent) {
		a.Capabilities = tags
	}
}
