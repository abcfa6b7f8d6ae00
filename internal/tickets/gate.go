package tickets

import (
	"context"
	"fmt"
	"time"

	"github.com/flowforge/conductor/internal/core"
	"github.com/flowforge/conductor/internal/guardian"
	"github.com/flowforge/conductor/internal/taskstore"
)

// GateWatcher implements guardian.TicketSource and guardian.RecoverySpawner
// by cross-referencing the Manager's phase state with the live task DAG in
// taskstore.Store: a ticket is gate-blocked once every task in its current
// phase has completed but the phase itself hasn't advanced, meaning the
// gate check (human approval, external artifact, whatever holds it) hasn't
// cleared it.
type GateWatcher struct {
	tickets *Manager
	tasks   *taskstore.Store
}

// NewGateWatcher wires a GateWatcher over an existing Manager and Store.
func NewGateWatcher(tickets *Manager, tasks *taskstore.Store) *GateWatcher {
	return &GateWatcher{tickets: tickets, tasks: tasks}
}

// GateBlockedSince implements guardian.TicketSource.
func (g *GateWatcher) GateBlockedSince(_ context.Context) []guardian.GateBlocked {
	var out []guardian.GateBlocked
	for _, t := range g.tickets.List("") {
		if t.IsTerminal() || t.CurrentPhase == core.PhaseBlocked {
			continue
		}
		phaseTasks := t.TasksByPhase(t.CurrentPhase)
		if len(phaseTasks) == 0 {
			continue
		}
		pending := 0
		for _, task := range g.tasks.AllForTicket(t.ID) {
			if task.Phase != t.CurrentPhase {
				continue
			}
			if task.Status != core.TaskStatusCompleted && task.Status != core.TaskStatusCancelled {
				pending++
			}
		}
		if pending > 0 {
			continue
		}
		out = append(out, guardian.GateBlocked{
			TicketID:     t.ID,
			Phase:        t.CurrentPhase,
			StalledFor:   time.Since(g.enteredCurrentPhaseAt(t)),
			PendingTasks: pending,
		})
	}
	return out
}

func (g *GateWatcher) enteredCurrentPhaseAt(t *core.Ticket) time.Time {
	for i := len(t.History) - 1; i >= 0; i-- {
		if t.History[i].To == t.CurrentPhase {
			return t.History[i].At
		}
	}
	return t.CreatedAt
}

// SpawnRecovery implements guardian.RecoverySpawner: it adds a new task to
// the stuck ticket's current phase so the dispatcher picks it up on its
// next tick, nudging the phase gate forward.
func (g *GateWatcher) SpawnRecovery(ctx context.Context, ticketID core.TicketID, phase core.Phase, description string) error {
	id := core.TaskID(fmt.Sprintf("%s-recovery-%d", ticketID, time.Now().UnixNano()))
	task := core.NewTask(id, description, phase).WithPriority(100)
	task.TicketID = ticketID
	return g.tasks.AddTask(ctx, task)
}

var (
	_ guardian.TicketSource    = (*GateWatcher)(nil)
	_ guardian.RecoverySpawner = (*GateWatcher)(nil)
)
