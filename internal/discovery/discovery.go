// Package discovery implements the discovery & branching component (C6):
// record_discovery persists a TaskDiscovery against whichever task
// surfaced it and, when the caller supplies a spawn_spec, materializes a
// follow-up task in its target phase immediately rather than leaving the
// discovery queued for separate review — nothing else in this engine
// observes an "open" discovery, so there is no value in a two-step
// accept/decline workflow here.
package discovery

import (
	"context"
	"fmt"
	"sync"

	"github.com/flowforge/conductor/internal/core"
	"github.com/flowforge/conductor/internal/events"
	"github.com/flowforge/conductor/internal/taskstore"
)

// Persistence is the subset of state.Store the manager needs, kept narrow
// so tests can supply a fake instead of a real SQLite file.
type Persistence interface {
	SaveTaskDiscovery(ctx context.Context, d *core.TaskDiscovery) error
	LoadTaskDiscoveries(ctx context.Context, ticketID core.TicketID) ([]*core.TaskDiscovery, error)
}

// SpawnSpec describes the follow-up task record_discovery should create.
// A nil SpawnSpec records the discovery without spawning anything, for a
// finding that only needs to be on record.
type SpawnSpec struct {
	Phase              core.Phase `json:"phase,omitempty"` // defaults to the source task's own phase
	Name               string     `json:"name,omitempty"`
	Description        string     `json:"description,omitempty"`
	RequiredCapability string     `json:"required_capability,omitempty"`
	ResourceKeys       []string   `json:"resource_keys,omitempty"`
	PriorityBoost      bool       `json:"priority_boost,omitempty"`
	BlockSource        bool       `json:"block_source,omitempty"`
}

// Manager is the C6 discovery & branching component: the durable record
// of every discovery plus the glue that spawns and resumes tasks around
// it, wired into the control API as discovery.record.
type Manager struct {
	store Persistence
	tasks *taskstore.Store
	bus   *events.EventBus

	mu  sync.Mutex
	seq int
}

// New constructs a discovery manager.
func New(store Persistence, tasks *taskstore.Store, bus *events.EventBus) *Manager {
	return &Manager{store: store, tasks: tasks, bus: bus}
}

// Record implements record_discovery(source_task_id, type, description,
// spawn_spec?): persist a TaskDiscovery, and if spec is non-nil, create
// the follow-up task in its target phase (defaulting to the source
// task's phase), optionally boosting its priority one level above the
// source task's and optionally suspending the source task until the
// spawned task completes.
func (m *Manager) Record(ctx context.Context, ticketID core.TicketID, sourceTaskID core.TaskID, discoveryType core.DiscoveryType, description string, spec *SpawnSpec) (*core.TaskDiscovery, error) {
	source, ok := m.tasks.Get(ticketID, sourceTaskID)
	if !ok {
		return nil, core.ErrNotFound("task", string(sourceTaskID))
	}

	phase := source.Phase
	title := description
	if spec != nil {
		if spec.Phase != "" {
			phase = spec.Phase
		}
		if spec.Name != "" {
			title = spec.Name
		}
	}

	m.mu.Lock()
	m.seq++
	seq := m.seq
	m.mu.Unlock()

	id := fmt.Sprintf("%s/%s/discovery/%d", ticketID, sourceTaskID, seq)
	d := core.NewTaskDiscovery(id, sourceTaskID, ticketID, phase, discoveryType, title)
	d.Description = description
	if spec != nil {
		d.PriorityBoost = spec.PriorityBoost
	}

	if err := m.store.SaveTaskDiscovery(ctx, d); err != nil {
		return nil, fmt.Errorf("saving discovery: %w", err)
	}
	if m.bus != nil {
		m.bus.Publish(events.NewDiscoveryRecordedEvent(string(ticketID), "", d.ID, string(sourceTaskID), string(phase), d.Title))
	}

	if spec == nil {
		return d, nil
	}

	spawned := core.NewTask(core.TaskID(fmt.Sprintf("%s-disc-%d", sourceTaskID, seq)), title, phase).
		WithDescription(spec.Description).
		WithRequiredCapability(spec.RequiredCapability).
		WithResourceKeys(spec.ResourceKeys...).
		WithDiscoveredBy(sourceTaskID)
	spawned.TicketID = ticketID
	if spec.PriorityBoost {
		spawned.Priority = source.Priority + 1
	}

	if err := m.tasks.AddTask(ctx, spawned); err != nil {
		return nil, fmt.Errorf("spawning discovered task: %w", err)
	}
	if err := d.Accept(spawned.ID); err != nil {
		return nil, fmt.Errorf("accepting discovery: %w", err)
	}
	if err := m.store.SaveTaskDiscovery(ctx, d); err != nil {
		return nil, fmt.Errorf("persisting discovery acceptance: %w", err)
	}

	if spec.BlockSource {
		if err := m.tasks.MarkBlockedOnDiscovery(ctx, ticketID, sourceTaskID); err != nil {
			return nil, fmt.Errorf("blocking source task %s: %w", sourceTaskID, err)
		}
	}

	if m.bus != nil {
		m.bus.Publish(events.NewTaskSpawnedFromDiscoveryEvent(string(ticketID), "", d.ID, string(sourceTaskID), string(spawned.ID), string(phase)))
	}
	return d, nil
}

// Run watches task.completed for tasks spawned by a discovery and
// resumes their source task (see core.Task.Unblock): the spec's
// "source_task returns to pending once the spawned task completes" rule.
// It never inspects task.failed — a failed spawn follows the ordinary
// retry path and the source task stays blocked until it eventually
// completes or is cancelled by an operator.
func (m *Manager) Run(ctx context.Context) {
	ch := m.bus.Subscribe(events.TypeTaskCompleted)
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			m.handleSpawnedCompletion(ctx, evt)
		}
	}
}

func (m *Manager) handleSpawnedCompletion(ctx context.Context, evt events.Event) {
	e, ok := evt.(events.TaskCompletedEvent)
	if !ok {
		return
	}
	ticketID := core.TicketID(e.TicketID())
	spawned, ok := m.tasks.Get(ticketID, core.TaskID(e.TaskID))
	if !ok || spawned.DiscoveredBy == "" {
		return
	}
	_ = m.tasks.Unblock(ctx, ticketID, spawned.DiscoveredBy)
}
