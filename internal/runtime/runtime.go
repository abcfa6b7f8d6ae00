// Package runtime wires the engine's subsystems — persistence, the event
// bus, the resource-lock coordinator, the agent registry, the task store,
// the ticket phase machine, the dispatcher, and the guardian — into one
// long-lived process, and exposes the control surface cmd/engine and
// cmd/enginectl drive.
package runtime

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/flowforge/conductor/internal/adapters/state"
	"github.com/flowforge/conductor/internal/config"
	"github.com/flowforge/conductor/internal/core"
	"github.com/flowforge/conductor/internal/discovery"
	"github.com/flowforge/conductor/internal/dispatcher"
	"github.com/flowforge/conductor/internal/events"
	"github.com/flowforge/conductor/internal/guardian"
	"github.com/flowforge/conductor/internal/lock"
	"github.com/flowforge/conductor/internal/logging"
	"github.com/flowforge/conductor/internal/registry"
	"github.com/flowforge/conductor/internal/service"
	"github.com/flowforge/conductor/internal/taskstore"
	"github.com/flowforge/conductor/internal/tickets"
)

// Runtime holds every subsystem the engine process runs, plus the
// cancellation plumbing that drains them on Shutdown.
type Runtime struct {
	cfg    *config.Config
	Logger *logging.Logger

	Store      *state.Store
	Bus        *events.EventBus
	Locks      *lock.Coordinator
	Agents     *registry.Registry
	Tasks      *taskstore.Store
	Tickets    *tickets.Manager
	Dispatcher *dispatcher.Dispatcher
	Guardian   *guardian.Guardian
	Discovery  *discovery.Manager
	Metrics    *service.MetricsCollector

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Analyzer is satisfied by guardian.Analyzer; accepted here so callers
// can pass nil (trajectory steering disabled) without importing guardian.
type Analyzer = guardian.Analyzer

// New opens the configured store and wires every subsystem together. It
// does not start any loop — call Load then Start.
func New(cfg *config.Config, analyzer Analyzer) (*Runtime, error) {
	logger := logging.New(logging.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
	})

	store, err := state.Open(cfg.State.Path,
		state.WithRetryPolicy(cfg.State.RetryMaxAttempts, time.Duration(cfg.State.RetryBaseWaitMs)*time.Millisecond))
	if err != nil {
		return nil, fmt.Errorf("opening state store: %w", err)
	}

	bus := events.New(256)
	locks := lock.New(state.NewLockStore(store), bus, lock.Config{
		MaxRetries:  cfg.Locks.MaxRetries,
		BaseBackoff: time.Duration(cfg.Locks.BaseBackoffMs) * time.Millisecond,
	})
	agents := registry.New(registry.Config{
		HeartbeatInterval: time.Duration(cfg.Agents.HeartbeatIntervalSeconds) * time.Second,
		StaleThreshold:    time.Duration(cfg.Agents.StaleTimeoutSeconds) * time.Second,
		SweepInterval:     registry.DefaultConfig().SweepInterval,
		Weights:           registry.DefaultWeights(),
	}, bus, logger)
	tasks := taskstore.New(bus)
	ticketMgr := tickets.New(store, bus)
	gate := tickets.NewGateWatcher(ticketMgr, tasks)

	disp := dispatcher.New(dispatcher.Config{
		PollInterval:     dispatcher.DefaultConfig().PollInterval,
		BatchSize:        cfg.Dispatcher.BatchSize,
		LockTTL:          time.Duration(cfg.Locks.DefaultTTLSeconds) * time.Second,
		FairnessWindow:   cfg.Dispatcher.FairnessWindow,
		BreakerThreshold: dispatcher.DefaultConfig().BreakerThreshold,
		MaxInFlight:      cfg.Dispatcher.MaxConcurrentTasks,
	}, tasks, agents, locks, ticketMgr, bus, logger)

	gcfg := guardian.DefaultConfig()
	gcfg.TrajectoryInterval = time.Duration(cfg.Guardian.IntervalSeconds) * time.Second
	gcfg.StuckLoopInterval = time.Duration(cfg.Guardian.IntervalSeconds) * time.Second
	gcfg.StuckTicketThreshold = time.Duration(cfg.Guardian.StuckThresholdSeconds) * time.Second
	gcfg.InterventionCooldown = time.Duration(cfg.Guardian.InterventionCooldownSeconds) * time.Second
	g := guardian.New(gcfg, bus, agents, tasks, analyzer, gate, gate, logger)
	disc := discovery.New(store, tasks, bus)
	metrics := service.NewMetricsCollector()

	return &Runtime{
		cfg:        cfg,
		Logger:     logger,
		Store:      store,
		Bus:        bus,
		Locks:      locks,
		Agents:     agents,
		Tasks:      tasks,
		Tickets:    ticketMgr,
		Dispatcher: disp,
		Guardian:   g,
		Discovery:  disc,
		Metrics:    metrics,
	}, nil
}

// Load rehydrates tracked tickets and their task DAGs from persistence.
// Call once before Start.
func (r *Runtime) Load(ctx context.Context) error {
	if err := r.Tickets.Load(ctx); err != nil {
		return fmt.Errorf("loading tickets: %w", err)
	}
	for _, t := range r.Tickets.List("") {
		for _, id := range t.TaskOrder {
			task, ok := t.GetTask(id)
			if !ok {
				continue
			}
			if err := r.Tasks.AddTask(ctx, task); err != nil {
				return fmt.Errorf("rehydrating task %s: %w", id, err)
			}
		}
		for _, id := range t.TaskOrder {
			task, ok := t.GetTask(id)
			if !ok {
				continue
			}
			for _, dep := range task.Dependencies {
				if err := r.Tasks.AddDependency(ctx, t.ID, dep, task.ID); err != nil {
					return fmt.Errorf("rehydrating dependency %s->%s: %w", dep, task.ID, err)
				}
			}
		}
	}

	agents, err := r.Store.ListAgents(ctx)
	if err != nil {
		return fmt.Errorf("loading agents: %w", err)
	}
	for _, a := range agents {
		if err := r.Agents.Register(ctx, a); err != nil {
			return fmt.Errorf("rehydrating agent %s: %w", a.ID, err)
		}
	}
	return nil
}

// Start launches every background loop: the dispatcher, the guardian's
// three passes, the registry's stale sweep, and the lock/task expiry
// sweeps. Every loop is derived from one Runtime-level cancellation
// context so Shutdown drains them all together.
func (r *Runtime) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

	r.Dispatcher.Run(runCtx)
	r.Guardian.Run(runCtx)
	r.Agents.StartStaleSweep(runCtx)

	r.wg.Add(1)
	go r.taskTimeoutSweep(runCtx)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.Discovery.Run(runCtx)
	}()

	r.Metrics.StartRun()
	r.wg.Add(1)
	go r.recordMetrics(runCtx)
}

// recordMetrics subscribes to task lifecycle events and feeds them to the
// metrics collector a report command later reads back.
func (r *Runtime) recordMetrics(ctx context.Context) {
	defer r.wg.Done()
	ch := r.Bus.Subscribe(
		events.TypeTaskCreated, events.TypeTaskStarted, events.TypeTaskCompleted,
		events.TypeTaskFailed, events.TypeTaskCancelled, events.TypeTaskTimedOut, events.TypeTaskRetry,
		events.TypeGuardianIntervention,
	)
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			r.applyMetricEvent(evt)
		}
	}
}

func (r *Runtime) applyMetricEvent(evt events.Event) {
	switch e := evt.(type) {
	case events.TaskCreatedEvent:
		if task, ok := r.Tasks.Get(core.TicketID(e.TicketID()), core.TaskID(e.TaskID)); ok {
			r.Metrics.RecordTaskCreated(task)
		}
	case events.TaskStartedEvent:
		r.Metrics.RecordTaskStarted(core.TaskID(e.TaskID), core.AgentID(e.AgentID), time.Now())
	case events.TaskCompletedEvent:
		r.Metrics.RecordTaskCompleted(core.TaskID(e.TaskID), e.Duration)
	case events.TaskFailedEvent:
		var err error
		if e.Error != "" {
			err = errors.New(e.Error)
		}
		r.Metrics.RecordTaskFailed(core.TaskID(e.TaskID), err)
	case events.TaskCancelledEvent:
		r.Metrics.RecordTaskCancelled(core.TaskID(e.TaskID))
	case events.TaskTimedOutEvent:
		r.Metrics.RecordTaskTimedOut(core.TaskID(e.TaskID))
	case events.TaskRetryEvent:
		r.Metrics.RecordRetry(core.TaskID(e.TaskID))
	case events.GuardianInterventionEvent:
		gi := &core.GuardianIntervention{
			ID:         e.InterventionID,
			TicketID:   core.TicketID(e.TicketID()),
			TaskID:     core.TaskID(e.TaskID),
			Kind:       core.InterventionKind(e.Kind),
			Reason:     e.Reason,
			Confidence: e.Confidence,
			IssuedAt:   time.Now(),
		}
		r.Metrics.RecordIntervention(gi)
		if err := r.Store.SaveGuardianIntervention(context.Background(), gi); err != nil && r.Logger != nil {
			r.Logger.Warn("persisting guardian intervention failed", "intervention_id", gi.ID, "error", err)
		}
	}
}

// Report renders the run's accumulated metrics as text or JSON via w. Call
// SnapshotMetrics first when the engine's own process never ran (enginectl's
// one-shot commands never start recordMetrics, so the collector otherwise
// stays empty).
func (r *Runtime) Report(w io.Writer, asJSON bool) error {
	r.Metrics.EndRun()
	gen := service.NewReportGenerator(r.Metrics)
	if asJSON {
		return gen.GenerateJSONReport(w)
	}
	return gen.GenerateTextReport(w)
}

// ReportToFile renders the run's accumulated metrics the same way
// Report does, but writes the result to path atomically rather than
// streaming it, so a concurrent reader never observes a partial file.
func (r *Runtime) ReportToFile(path string, asJSON bool) error {
	r.Metrics.EndRun()
	gen := service.NewReportGenerator(r.Metrics)
	var buf bytes.Buffer
	var err error
	if asJSON {
		err = gen.GenerateJSONReport(&buf)
	} else {
		err = gen.GenerateTextReport(&buf)
	}
	if err != nil {
		return err
	}
	return r.Store.ExportReport(path, buf.Bytes())
}

// SnapshotMetrics rebuilds the metrics collector from currently persisted
// task and ticket state, for callers (enginectl) that never ran the live
// event-driven recorder. It does not track live durations, only outcomes.
func (r *Runtime) SnapshotMetrics() {
	for _, t := range r.Tickets.List("") {
		for _, task := range r.Tasks.AllForTicket(t.ID) {
			r.Metrics.RecordTaskCreated(task)
			switch task.Status {
			case core.TaskStatusCompleted:
				r.Metrics.RecordTaskCompleted(task.ID, 0)
			case core.TaskStatusFailed:
				r.Metrics.RecordTaskFailed(task.ID, nil)
			case core.TaskStatusCancelled:
				r.Metrics.RecordTaskCancelled(task.ID)
			case core.TaskStatusTimedOut:
				r.Metrics.RecordTaskTimedOut(task.ID)
			}
			r.Metrics.RecordRetries(task.ID, task.Retries)
		}
	}
	interventions, err := r.Store.LoadGuardianInterventions(context.Background())
	if err != nil && r.Logger != nil {
		r.Logger.Warn("loading persisted guardian interventions failed", "error", err)
	}
	for _, iv := range interventions {
		r.Metrics.RecordIntervention(iv)
	}
}

// taskTimeoutSweep finds tasks that overran their declared timeout and
// releases the resource locks and agent slot they held — TimeoutSweep
// itself only marks the task state, leaving the caller to free what it
// was holding, per its doc comment.
func (r *Runtime) taskTimeoutSweep(ctx context.Context) {
	defer r.wg.Done()
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, task := range r.Tasks.TimeoutSweep(ctx, time.Now()) {
				for _, key := range task.ResourceKeys {
					h := &lock.Handle{ResourceKey: key, HolderTask: task.ID, Mode: core.LockModeExclusive}
					_ = r.Locks.Release(ctx, task.TicketID, "", h, true)
				}
				if task.AssignedTo != "" {
					_ = r.Agents.Update(ctx, task.AssignedTo, func(a *core.Agent) { a.RecordOutcome(false) })
				}
			}
		}
	}
}

// Shutdown cancels every loop's context and waits (bounded by ctx) for
// them to drain, then closes the store.
func (r *Runtime) Shutdown(ctx context.Context) error {
	if r.cancel != nil {
		r.cancel()
	}
	r.Dispatcher.Stop()
	r.Guardian.Stop()
	r.Agents.Stop()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return r.Store.Close()
}

// Close releases the store without stopping any subsystem loop, for
// callers that built a Runtime to make a single control-API call and
// never invoked Start (enginectl's command-per-process model).
func (r *Runtime) Close() error {
	return r.Store.Close()
}

// CreateTicket creates and persists a new ticket.
func (r *Runtime) CreateTicket(ctx context.Context, id core.TicketID, title string) (*core.Ticket, error) {
	return r.Tickets.Create(ctx, id, title)
}

// TransitionTicket drives a ticket's phase machine.
func (r *Runtime) TransitionTicket(ctx context.Context, id core.TicketID, to core.Phase, artifactIDs []string, reason string, bypass bool) error {
	return r.Tickets.Transition(ctx, id, to, artifactIDs, reason, bypass)
}

// AddTask registers a task under a ticket and its phase.
func (r *Runtime) AddTask(ctx context.Context, task *core.Task) error {
	return r.Tasks.AddTask(ctx, task)
}

// ListTasks returns every task tracked for a ticket.
func (r *Runtime) ListTasks(ticketID core.TicketID) []*core.Task {
	return r.Tasks.AllForTicket(ticketID)
}

// ListAgents returns the live agent catalog.
func (r *Runtime) ListAgents() []*core.Agent {
	return r.Agents.List()
}

// RegisterAgent adds or updates an agent and persists it.
func (r *Runtime) RegisterAgent(ctx context.Context, a *core.Agent) error {
	if err := r.Agents.Register(ctx, a); err != nil {
		return err
	}
	return r.Store.SaveAgent(ctx, a)
}

// Interventions returns every guardian intervention issued so far. It
// reads from persisted storage rather than the live Guardian's in-memory
// list so enginectl's one-shot process (which never runs the guardian
// loop itself) sees interventions issued by the running engine.
func (r *Runtime) Interventions(ctx context.Context) ([]*core.GuardianIntervention, error) {
	return r.Store.LoadGuardianInterventions(ctx)
}

// RecordDiscovery implements record_discovery: persists a discovery
// against sourceTaskID and, if spec is non-nil, spawns the follow-up
// task it describes.
func (r *Runtime) RecordDiscovery(ctx context.Context, ticketID core.TicketID, sourceTaskID core.TaskID, discoveryType core.DiscoveryType, description string, spec *discovery.SpawnSpec) (*core.TaskDiscovery, error) {
	return r.Discovery.Record(ctx, ticketID, sourceTaskID, discoveryType, description, spec)
}

// WorkflowGraph returns the materialized task + discovery graph for a
// ticket, for guardian and UI consumption.
func (r *Runtime) WorkflowGraph(ctx context.Context, ticketID core.TicketID) (*discovery.Graph, error) {
	discoveries, err := r.Store.LoadTaskDiscoveries(ctx, ticketID)
	if err != nil {
		return nil, fmt.Errorf("loading discoveries: %w", err)
	}
	return discovery.BuildWorkflowGraph(ticketID, r.Tasks, discoveries), nil
}

// AckIntervention acknowledges a previously issued guardian intervention
// by ID, returning an error if no such intervention was issued. It acks
// the live Guardian's copy too, so an in-process caller's subsequent
// Interventions() call and the guardian.intervention_ack event both
// reflect it immediately rather than waiting on the persisted round trip.
func (r *Runtime) AckIntervention(ctx context.Context, id string) error {
	r.Guardian.AckIntervention(id)
	return r.Store.AckGuardianIntervention(ctx, id)
}
