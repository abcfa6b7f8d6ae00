// Package dispatcher implements the dispatcher (C8): the pull loop that
// binds ready tasks to agent candidates, acquires their resource locks
// in a deterministic order, and emits the assignment. It never runs
// agent work itself — workers are separate processes that communicate
// completion back over the event bus.
package dispatcher

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/flowforge/conductor/internal/core"
	"github.com/flowforge/conductor/internal/events"
	"github.com/flowforge/conductor/internal/kanban"
	"github.com/flowforge/conductor/internal/lock"
	"github.com/flowforge/conductor/internal/logging"
	"github.com/flowforge/conductor/internal/registry"
	"github.com/flowforge/conductor/internal/taskstore"
)

var (
	readyQueueDepth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "dispatcher_ready_queue_depth",
		Help: "Ready tasks observed for a (ticket, phase) pair on the most recent tick.",
	}, []string{"phase"})

	assignLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "dispatcher_assign_seconds",
		Help:    "Time spent binding a ready task to a candidate agent, from rank to event publish.",
		Buckets: prometheus.DefBuckets,
	}, []string{"outcome"})

	assignmentsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatcher_assignments_total",
		Help: "Task assignment attempts by outcome.",
	}, []string{"outcome"})
)

func init() {
	prometheus.MustRegister(readyQueueDepth, assignLatency, assignmentsTotal)
}

// Config controls polling cadence, batch sizing and the fairness rule
// from spec.md §4.8.
type Config struct {
	PollInterval     time.Duration
	BatchSize        int
	LockTTL          time.Duration
	FairnessWindow   int // consecutive high-priority assignments before an oldest-pending task is forced in
	BreakerThreshold int // consecutive per-agent failures before it is circuit-broken out of candidate pools
	MaxInFlight      int // ceiling on assigned+running tasks across all tickets; 0 disables the cap
}

// DefaultConfig matches spec.md §4.8's stated defaults.
func DefaultConfig() Config {
	return Config{
		PollInterval:     2 * time.Second,
		BatchSize:        16,
		LockTTL:          10 * time.Minute,
		FairnessWindow:   8,
		BreakerThreshold: kanban.DefaultCircuitBreakerThreshold,
	}
}

// Tickets is the minimal view of ticket state the dispatcher needs: the
// set of ticket/phase pairs currently eligible for scheduling.
type Tickets interface {
	ActivePhases(ctx context.Context) []PhaseKey
}

// PhaseKey names one (ticket, phase) scheduling domain.
type PhaseKey struct {
	TicketID core.TicketID
	Phase    core.Phase
}

// Dispatcher is the C8 pull loop.
type Dispatcher struct {
	cfg      Config
	tasks    *taskstore.Store
	agents   *registry.Registry
	locks    *lock.Coordinator
	tickets  Tickets
	bus      *events.EventBus
	logger   *logging.Logger
	breakers map[core.AgentID]*kanban.CircuitBreaker

	highPriorityStreak int

	stopCh chan struct{}
	doneCh chan struct{}
}

// New constructs a Dispatcher.
func New(cfg Config, tasks *taskstore.Store, agents *registry.Registry, locks *lock.Coordinator, tickets Tickets, bus *events.EventBus, logger *logging.Logger) *Dispatcher {
	if cfg.BatchSize <= 0 {
		cfg = DefaultConfig()
	}
	return &Dispatcher{
		cfg:      cfg,
		tasks:    tasks,
		agents:   agents,
		locks:    locks,
		tickets:  tickets,
		bus:      bus,
		logger:   logger,
		breakers: make(map[core.AgentID]*kanban.CircuitBreaker),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Run polls for ready tasks and binds them to agents until ctx is
// cancelled or Stop is called. It also subscribes to task completion
// events to release locks and keep agent load counts accurate.
func (d *Dispatcher) Run(ctx context.Context) {
	go d.watchCompletions(ctx)

	go func() {
		defer close(d.doneCh)
		ticker := time.NewTicker(d.cfg.PollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-d.stopCh:
				return
			case <-ticker.C:
				d.tick(ctx)
			}
		}
	}()
}

// Stop signals the dispatcher's loops to exit and waits for the poll
// loop to drain. The completion watcher exits with ctx.
func (d *Dispatcher) Stop() {
	close(d.stopCh)
	<-d.doneCh
}

// tick runs one scheduling pass over every active (ticket, phase), the
// bind/lock/assign step for each ready batch bounded to run
// concurrently — grounded on the ready-batch errgroup pattern this
// codebase already uses for phase execution, but stripped down to a
// fast binding step instead of long-running work.
func (d *Dispatcher) tick(ctx context.Context) {
	for _, key := range d.tickets.ActivePhases(ctx) {
		if d.cfg.MaxInFlight > 0 && d.tasks.InFlightCount() >= d.cfg.MaxInFlight {
			return
		}
		ready := d.tasks.ReadyTasks(ctx, key.TicketID, key.Phase, d.cfg.BatchSize)
		readyQueueDepth.WithLabelValues(string(key.Phase)).Set(float64(len(ready)))
		if len(ready) == 0 {
			continue
		}
		batch := d.applyFairness(ready)

		g, gctx := errgroup.WithContext(ctx)
		for _, task := range batch {
			task := task
			g.Go(func() error {
				d.assign(gctx, task)
				return nil
			})
		}
		_ = g.Wait()
	}
}

// applyFairness enforces spec.md §4.8: after FairnessWindow consecutive
// high-priority assignments, the oldest pending task is forced to the
// front of the batch regardless of priority, so low-priority work is
// never starved indefinitely.
func (d *Dispatcher) applyFairness(ready []*core.Task) []*core.Task {
	if d.cfg.FairnessWindow <= 0 || len(ready) < 2 {
		return ready
	}

	highPriority := ready[0].Priority > 0
	if !highPriority {
		d.highPriorityStreak = 0
		return ready
	}

	d.highPriorityStreak++
	if d.highPriorityStreak < d.cfg.FairnessWindow {
		return ready
	}

	oldest := 0
	for i, t := range ready {
		if t.CreatedAt.Before(ready[oldest].CreatedAt) {
			oldest = i
		}
	}
	if oldest == 0 {
		return ready
	}
	d.highPriorityStreak = 0
	reordered := make([]*core.Task, 0, len(ready))
	reordered = append(reordered, ready[oldest])
	for i, t := range ready {
		if i != oldest {
			reordered = append(reordered, t)
		}
	}
	return reordered
}

// assign performs the bind/lock/assign step for a single task: rank
// candidates, acquire its resource locks in deterministic order, mark
// it assigned, and emit task.assigned. It never invokes agent work —
// agents pick up the assignment by observing the event themselves.
func (d *Dispatcher) assign(ctx context.Context, task *core.Task) {
	start := time.Now()
	outcome := "no_candidate"
	defer func() {
		assignLatency.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
		assignmentsTotal.WithLabelValues(outcome).Inc()
	}()

	var required []string
	if task.RequiredCapability != "" {
		required = []string{task.RequiredCapability}
	}

	candidates := d.agents.FindCandidates(ctx, required, nil, 0)
	candidate := d.firstHealthy(candidates)
	if candidate == nil {
		return // no eligible agent this pass; retried on the next tick
	}

	var handles []*lock.Handle
	if len(task.ResourceKeys) > 0 {
		h, err := d.locks.AcquireAll(ctx, task.TicketID, "", task.ResourceKeys, core.LockModeExclusive, task.ID, d.cfg.LockTTL)
		if err != nil {
			outcome = "lock_unavailable"
			if d.logger != nil {
				d.logger.Warn("task lock acquisition failed", "task_id", task.ID, "error", err)
			}
			return
		}
		handles = h
	}

	if err := d.tasks.MarkReady(ctx, task.TicketID, task.ID); err != nil {
		outcome = "invalid_state"
		d.releaseHandles(ctx, task.TicketID, handles)
		return
	}
	if err := d.tasks.MarkAssigned(ctx, task.TicketID, task.ID, candidate.Agent.ID); err != nil {
		outcome = "invalid_state"
		d.releaseHandles(ctx, task.TicketID, handles)
		return
	}
	if err := d.agents.Update(ctx, candidate.Agent.ID, func(a *core.Agent) { _ = a.Assign() }); err != nil {
		outcome = "agent_at_capacity"
		d.releaseHandles(ctx, task.TicketID, handles)
		return
	}

	outcome = "assigned"
	if d.bus != nil {
		d.bus.Publish(events.NewTaskAssignedEvent(string(task.TicketID), "", string(task.ID), string(candidate.Agent.ID), candidate.Score))
	}
}

func (d *Dispatcher) firstHealthy(candidates []registry.Candidate) *registry.Candidate {
	for i := range candidates {
		id := candidates[i].Agent.ID
		if cb, ok := d.breakers[id]; ok && cb.IsOpen() {
			continue
		}
		return &candidates[i]
	}
	return nil
}

func (d *Dispatcher) releaseHandles(ctx context.Context, ticketID core.TicketID, handles []*lock.Handle) {
	if len(handles) == 0 {
		return
	}
	_ = d.locks.ReleaseAll(ctx, ticketID, "", handles)
}

// watchCompletions subscribes to the worker lifecycle events
// (task.started, task.completed, task.failed) that drive the engine's
// own copy of task state: it applies the running/completed/failed
// transitions to the store, decrements agent load, releases resource
// locks, and trips per-agent circuit breakers on repeated failure.
func (d *Dispatcher) watchCompletions(ctx context.Context) {
	ch := d.bus.Subscribe(events.TypeTaskStarted, events.TypeTaskCompleted, events.TypeTaskFailed)
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			d.handleCompletion(ctx, evt)
		}
	}
}

func (d *Dispatcher) handleCompletion(ctx context.Context, evt events.Event) {
	ticketID := core.TicketID(evt.TicketID())
	var taskID core.TaskID
	var agentID core.AgentID
	var failed bool

	switch e := evt.(type) {
	case events.TaskStartedEvent:
		taskID = core.TaskID(e.TaskID)
		if err := d.tasks.MarkRunning(ctx, ticketID, taskID); err != nil && d.logger != nil {
			d.logger.Warn("failed applying task.started to store", "task_id", taskID, "error", err)
		}
		return
	case events.TaskCompletedEvent:
		taskID = core.TaskID(e.TaskID)
	case events.TaskFailedEvent:
		taskID = core.TaskID(e.TaskID)
		failed = true
	default:
		return
	}

	task, ok := d.tasks.Get(ticketID, taskID)
	if !ok {
		return
	}
	agentID = task.AssignedTo

	if failed {
		taskErr := errors.New("task failed")
		if e, ok := evt.(events.TaskFailedEvent); ok && e.Error != "" {
			taskErr = errors.New(e.Error)
		}
		if _, err := d.tasks.HandleFailure(ctx, task, taskErr); err != nil && d.logger != nil {
			d.logger.Warn("failed applying task.failed to store", "task_id", taskID, "error", err)
		}
	} else if err := d.tasks.MarkCompleted(ctx, ticketID, taskID, nil); err != nil && d.logger != nil {
		d.logger.Warn("failed applying task.completed to store", "task_id", taskID, "error", err)
	}

	if len(task.ResourceKeys) > 0 {
		for _, key := range task.ResourceKeys {
			h := &lock.Handle{ResourceKey: key, HolderTask: taskID, Mode: core.LockModeExclusive}
			_ = d.locks.Release(ctx, ticketID, "", h, false)
		}
	}

	if agentID != "" {
		_ = d.agents.Update(ctx, agentID, func(a *core.Agent) { a.RecordOutcome(!failed) })
	}

	if failed && agentID != "" {
		cb, ok := d.breakers[agentID]
		if !ok {
			cb = kanban.NewCircuitBreaker(d.cfg.BreakerThreshold)
			d.breakers[agentID] = cb
		}
		if cb.RecordFailure() {
			_ = d.agents.Quarantine(ctx, agentID, cb.ConsecutiveFailures())
		}
	} else if agentID != "" {
		if cb, ok := d.breakers[agentID]; ok {
			cb.RecordSuccess()
		}
	}
}

// sortedTicketIDs is used by in-process Tickets implementations that
// want deterministic iteration order without importing "sort" twice.
func sortedTicketIDs(m map[core.TicketID]core.Phase) []PhaseKey {
	out := make([]PhaseKey, 0, len(m))
	for id, phase := range m {
		out = append(out, PhaseKey{TicketID: id, Phase: phase})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TicketID < out[j].TicketID })
	return out
}
