// Package guardian implements the guardian / monitoring loop (C7):
// three cooperating periodic loops that watch worker trajectories,
// stuck tickets, and system-wide coherence, feeding steering
// interventions and recovery tasks back into the engine.
package guardian

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/flowforge/conductor/internal/core"
	"github.com/flowforge/conductor/internal/events"
	"github.com/flowforge/conductor/internal/logging"
	"github.com/flowforge/conductor/internal/registry"
	"github.com/flowforge/conductor/internal/taskstore"
)

// Config controls the guardian's loop intervals and trigger thresholds,
// per spec.md §4.7's stated defaults.
type Config struct {
	TrajectoryInterval   time.Duration // default 60s
	StuckLoopInterval    time.Duration // default 60s
	CoherenceInterval    time.Duration // default 5m
	SteeringConfidence   float64       // minimum recommended_steering.confidence to act on
	InterventionCooldown time.Duration // default 60s, per (agent, kind)
	StuckTicketThreshold time.Duration // default 5m
	NoProgressWindow     time.Duration // "no progress events for N minutes"
	IdleWindow           time.Duration // "no status update in N seconds"
	ErrorRepeatThreshold int           // same error signature >= N times
	EventWindow          int           // recent events kept per task for trajectory snapshots
	VerdictCacheSize     int
}

// DefaultConfig matches spec.md §4.7.
func DefaultConfig() Config {
	return Config{
		TrajectoryInterval:   60 * time.Second,
		StuckLoopInterval:    60 * time.Second,
		CoherenceInterval:    5 * time.Minute,
		SteeringConfidence:   0.6,
		InterventionCooldown: 60 * time.Second,
		StuckTicketThreshold: 5 * time.Minute,
		NoProgressWindow:     10 * time.Minute,
		IdleWindow:           5 * time.Minute,
		ErrorRepeatThreshold: 5,
		EventWindow:          50,
		VerdictCacheSize:     256,
	}
}

// TicketSource supplies the stuck-ticket loop with phase-gate state the
// guardian itself doesn't own.
type TicketSource interface {
	// GateBlockedSince reports, for each ticket whose current phase has
	// all tasks completed but the gate is unsatisfied, how long it has
	// been stuck in that state and how many tasks remain pending.
	GateBlockedSince(ctx context.Context) []GateBlocked
}

// GateBlocked describes one ticket stalled on an unmet phase gate.
type GateBlocked struct {
	TicketID     core.TicketID
	Phase        core.Phase
	StalledFor   time.Duration
	PendingTasks int
}

// RecoverySpawner creates a recovery task when a stuck ticket is detected.
type RecoverySpawner interface {
	SpawnRecovery(ctx context.Context, ticketID core.TicketID, phase core.Phase, description string) error
}

// Guardian runs the three monitoring loops.
type Guardian struct {
	cfg      Config
	bus      *events.EventBus
	agents   *registry.Registry
	tasks    *taskstore.Store
	analyzer Analyzer
	tickets  TicketSource
	recovery RecoverySpawner
	logger   *logging.Logger

	cache *verdictCache

	mu              sync.Mutex
	recentEvents    map[core.TaskID][]core.ExecutionEvent
	errorSignatures map[core.TaskID]map[string]int
	lastProgressAt  map[core.TaskID]time.Time
	cooldowns       map[string]time.Time // key: agentID+"|"+kind
	stuckSpawned    map[core.TicketID]time.Time
	interventions   []*core.GuardianIntervention

	wg     sync.WaitGroup
	stopCh chan struct{}
}

// New constructs a Guardian. tickets and recovery may be nil, in which
// case the stuck-ticket loop is a no-op (useful before C4/C6 wiring is
// available in tests). analyzer may also be nil, in which case the
// trajectory pass is a no-op and agents run without steering verdicts.
func New(cfg Config, bus *events.EventBus, agents *registry.Registry, tasks *taskstore.Store, analyzer Analyzer, tickets TicketSource, recovery RecoverySpawner, logger *logging.Logger) *Guardian {
	if cfg.TrajectoryInterval <= 0 {
		cfg = DefaultConfig()
	}
	return &Guardian{
		cfg:             cfg,
		bus:             bus,
		agents:          agents,
		tasks:           tasks,
		analyzer:        analyzer,
		tickets:         tickets,
		recovery:        recovery,
		logger:          logger,
		cache:           newVerdictCache(cfg.VerdictCacheSize),
		recentEvents:    make(map[core.TaskID][]core.ExecutionEvent),
		errorSignatures: make(map[core.TaskID]map[string]int),
		lastProgressAt:  make(map[core.TaskID]time.Time),
		cooldowns:       make(map[string]time.Time),
		stuckSpawned:    make(map[core.TicketID]time.Time),
		stopCh:          make(chan struct{}),
	}
}

// Run starts the three loops and the event-recording subscriber. It
// returns immediately; loops exit when ctx is cancelled or Stop is
// called.
func (g *Guardian) Run(ctx context.Context) {
	g.wg.Add(4)
	go g.recordEvents(ctx)
	go g.loop(ctx, g.cfg.TrajectoryInterval, g.trajectoryPass)
	go g.loop(ctx, g.cfg.StuckLoopInterval, g.stuckPass)
	go g.loop(ctx, g.cfg.CoherenceInterval, g.coherencePass)
}

// Stop signals all loops to exit and waits for them to drain.
func (g *Guardian) Stop() {
	close(g.stopCh)
	g.wg.Wait()
}

func (g *Guardian) loop(ctx context.Context, interval time.Duration, pass func(context.Context)) {
	defer g.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-g.stopCh:
			return
		case <-ticker.C:
			pass(ctx)
		}
	}
}

// recordEvents maintains the bounded per-task event windows and
// progress/error bookkeeping the trajectory and stuck-detection loops
// read, and invalidates cached verdicts on task completion/failure —
// each loop iteration stays isolated from a single bad agent by never
// letting one task's bookkeeping failure affect another's map entry.
func (g *Guardian) recordEvents(ctx context.Context) {
	defer g.wg.Done()
	ch := g.bus.Subscribe(events.TypeTaskStarted, events.TypeTaskProgress, events.TypeTaskCompleted, events.TypeTaskFailed)
	for {
		select {
		case <-ctx.Done():
			return
		case <-g.stopCh:
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			g.observe(evt)
		}
	}
}

func (g *Guardian) observe(evt events.Event) {
	g.mu.Lock()
	defer g.mu.Unlock()

	switch e := evt.(type) {
	case events.TaskStartedEvent:
		taskID := core.TaskID(e.TaskID)
		g.pushEvent(taskID, core.NewExecutionEvent("started", "task started"))
		g.lastProgressAt[taskID] = time.Now()
	case events.TaskProgressEvent:
		taskID := core.TaskID(e.TaskID)
		g.pushEvent(taskID, core.NewExecutionEvent("progress", e.Message))
		g.lastProgressAt[taskID] = time.Now()
	case events.TaskCompletedEvent:
		taskID := core.TaskID(e.TaskID)
		delete(g.recentEvents, taskID)
		delete(g.errorSignatures, taskID)
		delete(g.lastProgressAt, taskID)
		if task, ok := g.tasks.Get(core.TicketID(e.TicketID()), taskID); ok {
			g.cache.Invalidate(task.AssignedTo)
		}
	case events.TaskFailedEvent:
		taskID := core.TaskID(e.TaskID)
		g.pushEvent(taskID, core.NewExecutionEvent("error", e.Error))
		sigs, ok := g.errorSignatures[taskID]
		if !ok {
			sigs = make(map[string]int)
			g.errorSignatures[taskID] = sigs
		}
		sigs[e.Error]++
		if task, ok := g.tasks.Get(core.TicketID(e.TicketID()), taskID); ok {
			g.cache.Invalidate(task.AssignedTo)
		}
	}
}

func (g *Guardian) pushEvent(taskID core.TaskID, ev core.ExecutionEvent) {
	window := g.recentEvents[taskID]
	window = append(window, ev)
	if len(window) > g.cfg.EventWindow {
		window = window[len(window)-g.cfg.EventWindow:]
	}
	g.recentEvents[taskID] = window
}

// Interventions returns every intervention issued so far, most recent
// first, for the guardian_interventions query surface.
func (g *Guardian) Interventions() []*core.GuardianIntervention {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]*core.GuardianIntervention, len(g.interventions))
	copy(out, g.interventions)
	sort.Slice(out, func(i, j int) bool { return out[i].IssuedAt.After(out[j].IssuedAt) })
	return out
}

// AckIntervention marks an issued intervention acknowledged by an operator
// or the dispatcher, publishing guardian.intervention_ack. It reports
// false if no intervention with that ID has been issued.
func (g *Guardian) AckIntervention(id string) bool {
	g.mu.Lock()
	var found *core.GuardianIntervention
	for _, iv := range g.interventions {
		if iv.ID == id {
			found = iv
			break
		}
	}
	g.mu.Unlock()
	if found == nil {
		return false
	}
	found.Ack()
	if g.bus != nil {
		g.bus.Publish(events.NewGuardianInterventionAckEvent(string(found.TicketID), "", id))
	}
	return true
}

func (g *Guardian) onCooldown(agentID core.AgentID, kind core.InterventionKind) bool {
	key := string(agentID) + "|" + string(kind)
	g.mu.Lock()
	defer g.mu.Unlock()
	until, ok := g.cooldowns[key]
	if ok && time.Now().Before(until) {
		return true
	}
	g.cooldowns[key] = time.Now().Add(g.cfg.InterventionCooldown)
	return false
}

func (g *Guardian) warn(msg string, args ...any) {
	if g.logger != nil {
		g.logger.Warn(msg, args...)
	}
}
