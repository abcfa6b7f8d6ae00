// Package tickets tracks the in-memory set of tickets the engine is
// actively working, durable through internal/adapters/state, and exposes
// the dispatcher.Tickets view the scheduler polls each tick.
package tickets

import (
	"context"
	"fmt"
	"sync"

	"github.com/flowforge/conductor/internal/core"
	"github.com/flowforge/conductor/internal/dispatcher"
	"github.com/flowforge/conductor/internal/events"
)

// Persistence is the subset of state.Store the manager needs, kept narrow
// so tests can supply a fake instead of a real SQLite file.
type Persistence interface {
	SaveTicket(ctx context.Context, t *core.Ticket) error
	LoadTicket(ctx context.Context, id core.TicketID) (*core.Ticket, error)
	ListTickets(ctx context.Context, status core.TicketStatus) ([]core.TicketID, error)
}

// Manager owns the live core.Ticket set: it is the engine's C5 phase state
// machine wrapper, mediating every transition through persistence and the
// event bus so the dispatcher, guardian, and enginectl all see the same
// picture of what's active.
type Manager struct {
	store Persistence
	bus   *events.EventBus

	mu   sync.RWMutex
	byID map[core.TicketID]*core.Ticket
}

// New creates an empty ticket manager. Call Load to rehydrate from store.
func New(store Persistence, bus *events.EventBus) *Manager {
	return &Manager{store: store, bus: bus, byID: make(map[core.TicketID]*core.Ticket)}
}

// Load rehydrates every non-terminal ticket from persistence into memory,
// run once at startup before the dispatcher and guardian loops begin.
func (m *Manager) Load(ctx context.Context) error {
	statuses := []core.TicketStatus{
		core.TicketStatusPending, core.TicketStatusRunning, core.TicketStatusPaused,
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, status := range statuses {
		ids, err := m.store.ListTickets(ctx, status)
		if err != nil {
			return fmt.Errorf("listing %s tickets: %w", status, err)
		}
		for _, id := range ids {
			t, err := m.store.LoadTicket(ctx, id)
			if err != nil {
				return fmt.Errorf("loading ticket %s: %w", id, err)
			}
			m.byID[t.ID] = t
		}
	}
	return nil
}

// Create registers a new ticket, persists it, and publishes ticket.created.
func (m *Manager) Create(ctx context.Context, id core.TicketID, title string) (*core.Ticket, error) {
	t := core.NewTicket(id, title)
	if err := t.Validate(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	if _, exists := m.byID[id]; exists {
		m.mu.Unlock()
		return nil, core.ErrConflict("ticket", fmt.Sprintf("ticket %s already exists", id))
	}
	m.byID[id] = t
	m.mu.Unlock()

	if err := m.store.SaveTicket(ctx, t); err != nil {
		return nil, fmt.Errorf("saving ticket %s: %w", id, err)
	}
	if m.bus != nil {
		m.bus.Publish(events.NewTicketStartedEvent(string(id), "", title))
	}
	return t, nil
}

// Get returns the in-memory ticket, if tracked.
func (m *Manager) Get(id core.TicketID) (*core.Ticket, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.byID[id]
	return t, ok
}

// List returns every tracked ticket, optionally filtered by status.
func (m *Manager) List(status core.TicketStatus) []*core.Ticket {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*core.Ticket, 0, len(m.byID))
	for _, t := range m.byID {
		if status == "" || t.Status == status {
			out = append(out, t)
		}
	}
	return out
}

// Transition drives a ticket's phase machine, persists the result, and
// publishes phase.entered/phase.blocked so the guardian and dispatcher
// observe it on their next tick.
func (m *Manager) Transition(ctx context.Context, id core.TicketID, to core.Phase, artifactIDs []string, reason string, bypass bool) error {
	m.mu.Lock()
	t, ok := m.byID[id]
	if !ok {
		m.mu.Unlock()
		return core.ErrNotFound("ticket", string(id))
	}
	from := t.CurrentPhase
	if err := t.Transition(to, artifactIDs, reason, bypass); err != nil {
		m.mu.Unlock()
		return err
	}
	m.mu.Unlock()

	if err := m.store.SaveTicket(ctx, t); err != nil {
		return fmt.Errorf("saving ticket %s: %w", id, err)
	}
	if m.bus == nil {
		return nil
	}
	if to == core.PhaseBlocked {
		m.bus.Publish(events.NewPhaseBlockedEvent(string(id), "", string(from), reason))
	} else {
		m.bus.Publish(events.NewPhaseEnteredEvent(string(id), "", string(from), string(to)))
	}
	if to == core.PhaseDone {
		m.bus.Publish(events.NewTicketCompletedEvent(string(id), "", t.Duration()))
	}
	return nil
}

// ActivePhases implements dispatcher.Tickets: every non-terminal ticket's
// current (ticket, phase) pair is eligible for scheduling.
func (m *Manager) ActivePhases(_ context.Context) []dispatcher.PhaseKey {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]dispatcher.PhaseKey, 0, len(m.byID))
	for _, t := range m.byID {
		if t.IsTerminal() {
			continue
		}
		keys = append(keys, dispatcher.PhaseKey{TicketID: t.ID, Phase: t.CurrentPhase})
	}
	return keys
}

var _ dispatcher.Tickets = (*Manager)(nil)
