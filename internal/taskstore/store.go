// Package taskstore implements the task store & dependency scheduler
// (C4): per-ticket task persistence, cycle-checked dependency graphs,
// the ready-set computation the dispatcher polls, and the
// transient/permanent retry classification for failed tasks.
package taskstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/flowforge/conductor/internal/core"
	"github.com/flowforge/conductor/internal/events"
	"github.com/flowforge/conductor/internal/service"
)

// Store holds one dependency DAG per ticket, backed by the `tasks`
// table for durability across restarts.
type Store struct {
	mu   sync.RWMutex
	dags map[core.TicketID]*service.DAGBuilder
	bus  *events.EventBus
}

// New creates an empty task store.
func New(bus *events.EventBus) *Store {
	return &Store{dags: make(map[core.TicketID]*service.DAGBuilder), bus: bus}
}

func (s *Store) dagFor(ticketID core.TicketID) *service.DAGBuilder {
	if d, ok := s.dags[ticketID]; ok {
		return d
	}
	d := service.NewDAGBuilder()
	s.dags[ticketID] = d
	return d
}

// AddTask persists a task and registers it in its ticket's DAG.
func (s *Store) AddTask(ctx context.Context, task *core.Task) error {
	if err := task.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.dagFor(task.TicketID).AddTask(task); err != nil {
		return err
	}
	if s.bus != nil {
		s.bus.Publish(events.NewTaskCreatedEvent(string(task.TicketID), "", string(task.ID), task.Phase.String(), task.Name))
	}
	return nil
}

// AddDependency records a dependency edge, rejecting cycles (DFS,
// detected by the underlying DAGBuilder.Build).
func (s *Store) AddDependency(ctx context.Context, ticketID core.TicketID, from, to core.TaskID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := s.dagFor(ticketID)
	if err := d.AddDependency(from, to); err != nil {
		return err
	}
	if _, err := d.Build(); err != nil {
		return err
	}
	return nil
}

// ReadyTasks returns tasks in phaseID (if non-empty, otherwise any
// phase) whose status is pending and whose dependencies are all
// completed, ordered by (priority desc, created_at asc) per spec.md
// §4.4, truncated to limit (0 = unlimited).
func (s *Store) ReadyTasks(ctx context.Context, ticketID core.TicketID, phaseID core.Phase, limit int) []*core.Task {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.dags[ticketID]
	if !ok {
		return nil
	}

	completed := make(map[core.TaskID]bool)
	for _, t := range allTasks(d) {
		if t.Status == core.TaskStatusCompleted {
			completed[t.ID] = true
		}
	}

	ready := d.GetReadyTasks(completed)
	out := make([]*core.Task, 0, len(ready))
	for _, t := range ready {
		// GetReadyTasks only excludes completed/running tasks; narrow to
		// pending here so a task already ready/assigned, or one that
		// terminated failed/cancelled/timed_out, isn't re-offered.
		if t.Status != core.TaskStatusPending {
			continue
		}
		if phaseID != "" && t.Phase != phaseID {
			continue
		}
		out = append(out, t)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Get returns a task by ID.
func (s *Store) Get(ticketID core.TicketID, id core.TaskID) (*core.Task, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.dags[ticketID]
	if !ok {
		return nil, false
	}
	return d.GetTask(id)
}

func (s *Store) lookup(ticketID core.TicketID, id core.TaskID) (*core.Task, error) {
	d, ok := s.dags[ticketID]
	if !ok {
		return nil, core.ErrNotFound("task", string(id))
	}
	t, ok := d.GetTask(id)
	if !ok {
		return nil, core.ErrNotFound("task", string(id))
	}
	return t, nil
}

// MarkReady transitions a pending task to ready, the scheduler's single
// transition point for the pending -> ready edge in the lifecycle
// (spec.md: "pending -> ready (deps met) -> assigned -> running ->
// completed").
func (s *Store) MarkReady(ctx context.Context, ticketID core.TicketID, id core.TaskID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.lookup(ticketID, id)
	if err != nil {
		return err
	}
	if err := t.MarkReady(); err != nil {
		return err
	}
	if s.bus != nil {
		s.bus.Publish(events.NewTaskReadyEvent(string(ticketID), "", string(id)))
	}
	return nil
}

// MarkAssigned binds a ready task to an agent.
func (s *Store) MarkAssigned(ctx context.Context, ticketID core.TicketID, id core.TaskID, agentID core.AgentID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.lookup(ticketID, id)
	if err != nil {
		return err
	}
	return t.MarkAssigned(agentID)
}

// MarkRunning transitions an assigned task to running, applied when the
// engine observes the worker's task.started event.
func (s *Store) MarkRunning(ctx context.Context, ticketID core.TicketID, id core.TaskID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.lookup(ticketID, id)
	if err != nil {
		return err
	}
	return t.MarkRunning()
}

// MarkCompleted transitions a running task to completed with its result
// outputs, applied when the engine observes the worker's task.completed
// event.
func (s *Store) MarkCompleted(ctx context.Context, ticketID core.TicketID, id core.TaskID, outputs []core.Artifact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.lookup(ticketID, id)
	if err != nil {
		return err
	}
	return t.MarkCompleted(outputs)
}

// MarkBlockedOnDiscovery suspends a running task pending a discovery it
// spawned, the C6 branching path's hold on the source task.
func (s *Store) MarkBlockedOnDiscovery(ctx context.Context, ticketID core.TicketID, id core.TaskID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.lookup(ticketID, id)
	if err != nil {
		return err
	}
	return t.MarkBlockedOnDiscovery()
}

// Unblock resumes a task blocked on a discovery back to pending, applied
// once the discovery's spawned task completes.
func (s *Store) Unblock(ctx context.Context, ticketID core.TicketID, id core.TaskID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.lookup(ticketID, id)
	if err != nil {
		return err
	}
	return t.Unblock()
}

// FindRunningByAgent returns the running task currently assigned to an
// agent, if any, across all tickets. Used by the guardian to assemble
// trajectory snapshots without tracking task state of its own.
func (s *Store) FindRunningByAgent(agentID core.AgentID) *core.Task {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, d := range s.dags {
		for _, t := range allTasks(d) {
			if t.Status == core.TaskStatusRunning && t.AssignedTo == agentID {
				return t
			}
		}
	}
	return nil
}

// AllForTicket returns every task registered for a ticket.
func (s *Store) AllForTicket(ticketID core.TicketID) []*core.Task {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.dags[ticketID]
	if !ok {
		return nil
	}
	return allTasks(d)
}

// InFlightCount returns the number of tasks across all tickets currently
// assigned or running, the figure the dispatcher checks against its
// configured concurrency cap before assigning more work.
func (s *Store) InFlightCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, d := range s.dags {
		for _, t := range allTasks(d) {
			if t.Status == core.TaskStatusAssigned || t.Status == core.TaskStatusRunning {
				count++
			}
		}
	}
	return count
}

// allTasks lists every task tracked by a DAG. DAGBuilder exposes tasks
// only through Build's validated snapshot or by individual ID lookup;
// this is the store's single choke point for "all of them".
func allTasks(d *service.DAGBuilder) []*core.Task {
	state, err := d.Build()
	if err != nil {
		return nil
	}
	out := make([]*core.Task, 0, len(state.Tasks))
	for _, t := range state.Tasks {
		out = append(out, t)
	}
	return out
}

// Classification of a task failure, driving spec.md §4.4's retry policy.
type Classification int

const (
	ClassificationPermanent Classification = iota
	ClassificationTransient
)

// Classify buckets a task error as transient (network, lock-wait
// timeout, rate limit — eligible for automatic retry) or permanent
// (validation error, retries exhausted, explicit do-not-retry).
func Classify(task *core.Task, err error) Classification {
	if task.Retries >= task.MaxRetries {
		return ClassificationPermanent
	}
	if core.IsRetryable(err) {
		return ClassificationTransient
	}
	return ClassificationPermanent
}

// HandleFailure applies §4.4's retry policy to a task the caller has
// already observed failing (the worker's task.failed event): transient
// failures are marked failed and immediately reset to pending for
// re-evaluation (the caller schedules the backoff delay before it
// becomes ready again, publishing task.retry); permanent failures are
// left marked failed, since the failure itself was already announced by
// whoever told us about it — this only applies the store-side
// transition, it doesn't re-broadcast task.failed.
func (s *Store) HandleFailure(ctx context.Context, task *core.Task, taskErr error) (Classification, error) {
	class := Classify(task, taskErr)

	s.mu.Lock()
	defer s.mu.Unlock()

	if task.Status != core.TaskStatusFailed {
		if err := task.MarkFailed(taskErr); err != nil {
			return class, err
		}
	}

	if class == ClassificationTransient {
		if err := task.Reset(); err != nil {
			return class, err
		}
		if s.bus != nil {
			s.bus.Publish(events.NewTaskRetryEvent(string(task.TicketID), "", string(task.ID), task.Retries, task.MaxRetries, taskErr))
		}
	}
	return class, nil
}

// TimeoutSweep scans running tasks across all tickets and cancels any
// that exceeded their declared timeout, returning the cancelled tasks
// so the caller (the dispatcher) can notify the holding agent and
// release resource locks.
func (s *Store) TimeoutSweep(ctx context.Context, now time.Time) []*core.Task {
	s.mu.Lock()
	defer s.mu.Unlock()

	var timedOut []*core.Task
	for _, d := range s.dags {
		for _, t := range allTasks(d) {
			if t.Status != core.TaskStatusRunning || t.StartedAt == nil {
				continue
			}
			if now.Sub(*t.StartedAt) <= t.Timeout {
				continue
			}
			if err := t.MarkTimedOut(); err != nil {
				continue
			}
			timedOut = append(timedOut, t)
			if s.bus != nil {
				s.bus.Publish(events.NewTaskTimedOutEvent(string(t.TicketID), "", string(t.ID), t.Timeout))
			}
		}
	}
	return timedOut
}

// Cancel marks a task cancelled. Idempotent per core.Task.MarkCancelled.
func (s *Store) Cancel(ctx context.Context, ticketID core.TicketID, id core.TaskID, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.dags[ticketID]
	if !ok {
		return core.ErrNotFound("task", string(id))
	}
	t, ok := d.GetTask(id)
	if !ok {
		return core.ErrNotFound("task", string(id))
	}
	if err := t.MarkCancelled(reason); err != nil {
		return err
	}
	if s.bus != nil {
		s.bus.Publish(events.NewTaskCancelledEvent(string(ticketID), "", string(id), reason))
	}
	return nil
}
