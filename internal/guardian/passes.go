package guardian

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/flowforge/conductor/internal/core"
	"github.com/flowforge/conductor/internal/events"
)

var (
	interventionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "guardian_interventions_total",
		Help: "Guardian interventions issued by kind.",
	}, []string{"kind"})

	stuckTicketsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "guardian_stuck_tickets_total",
		Help: "Tickets detected stalled past the stuck-ticket threshold.",
	}, []string{"phase"})
)

func init() {
	prometheus.MustRegister(interventionsTotal, stuckTicketsTotal)
}

// busyAgent pairs an agent with the task it is currently running, the
// minimal join the trajectory loop needs.
type busyAgent struct {
	Agent *core.Agent
	Task  *core.Task
}

// activeTrajectories finds every (agent, running task) pair by scanning
// the registry for busy agents and resolving each one's current task
// from the task store — the guardian owns no task state of its own.
func (g *Guardian) activeTrajectories(ctx context.Context) []busyAgent {
	var out []busyAgent
	for _, a := range g.agents.List() {
		if a.Status != core.AgentStatusBusy && a.Status != core.AgentStatusIdle {
			continue
		}
		task := g.tasks.FindRunningByAgent(a.ID)
		if task == nil {
			continue
		}
		out = append(out, busyAgent{Agent: a, Task: task})
	}
	return out
}

// trajectoryPass is guardian loop (a): per-agent trajectory analysis.
// Each agent's snapshot is analyzed independently; one analyzer failure
// downgrades to "no verdict" for that agent only and never blocks the
// rest of the pass.
func (g *Guardian) trajectoryPass(ctx context.Context) {
	if g.analyzer == nil {
		return
	}
	for _, ba := range g.activeTrajectories(ctx) {
		snapshot := g.buildSnapshot(ba)

		verdict, err := g.analyzer.Analyze(ctx, snapshot)
		if err != nil {
			g.warn("guardian analyzer failed", "agent_id", ba.Agent.ID, "task_id", ba.Task.ID, "error", err)
			continue
		}
		g.cache.Put(ba.Agent.ID, verdict)
		g.evaluateVerdict(ba, verdict)
	}
}

func (g *Guardian) buildSnapshot(ba busyAgent) core.TrajectoryContext {
	g.mu.Lock()
	evs := append([]core.ExecutionEvent(nil), g.recentEvents[ba.Task.ID]...)
	g.mu.Unlock()

	started := ba.Task.CreatedAt
	if ba.Task.StartedAt != nil {
		started = *ba.Task.StartedAt
	}
	return core.TrajectoryContext{
		TaskID:    ba.Task.ID,
		AgentID:   ba.Agent.ID,
		TicketID:  ba.Task.TicketID,
		Phase:     ba.Task.Phase,
		Events:    evs,
		StartedAt: started,
		AsOf:      time.Now(),
	}
}

// evaluateVerdict applies the trigger-predicate table from spec.md
// §4.7(a) to classify and, subject to cooldown, issue an intervention.
func (g *Guardian) evaluateVerdict(ba busyAgent, v *core.Verdict) {
	kind, reason, confidence, ok := g.classify(ba, v)
	if !ok {
		return
	}
	if g.onCooldown(ba.Agent.ID, kind) {
		return
	}
	g.issueIntervention(ba.Task.TicketID, ba.Task.ID, kind, reason, confidence)
}

func (g *Guardian) classify(ba busyAgent, v *core.Verdict) (core.InterventionKind, string, float64, bool) {
	if v.AlignmentScore < 0.2 {
		return core.InterventionEmergency, "alignment score critically low: " + v.Summary, 1.0, true
	}
	if len(v.ConstraintViolations) > 0 {
		return core.InterventionViolatingConstraints, joinReasons(v.ConstraintViolations), 1.0, true
	}
	if len(v.SkippedMandatorySteps) > 0 {
		return core.InterventionMissedSteps, joinReasons(v.SkippedMandatorySteps), 1.0, true
	}
	if g.isStuck(ba.Task.ID) {
		return core.InterventionStuck, "repeated error signature or no progress", 1.0, true
	}
	if v.AlignmentScore < 0.5 && !v.TrajectoryAligned {
		return core.InterventionDrifting, joinReasons(v.DetectedDriftReasons), 0.8, true
	}
	if v.RecommendedSteering != nil && v.RecommendedSteering.Confidence >= g.cfg.SteeringConfidence {
		// Analyzer-suggested steering that doesn't fit an explicit
		// predicate above still counts as drift-level guidance.
		return core.InterventionDrifting, v.RecommendedSteering.Message, v.RecommendedSteering.Confidence, true
	}
	return "", "", 0, false
}

func (g *Guardian) isStuck(taskID core.TaskID) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, count := range g.errorSignatures[taskID] {
		if count >= g.cfg.ErrorRepeatThreshold {
			return true
		}
	}
	last, ok := g.lastProgressAt[taskID]
	if !ok {
		return false
	}
	return time.Since(last) >= g.cfg.NoProgressWindow
}

func joinReasons(reasons []string) string {
	if len(reasons) == 0 {
		return ""
	}
	out := reasons[0]
	for _, r := range reasons[1:] {
		out += "; " + r
	}
	return out
}

func (g *Guardian) issueIntervention(ticketID core.TicketID, taskID core.TaskID, kind core.InterventionKind, reason string, confidence float64) {
	id := string(ticketID) + "/" + string(taskID) + "/" + string(kind) + "/" + time.Now().Format(time.RFC3339Nano)
	intervention := core.NewGuardianIntervention(id, ticketID, kind, reason, confidence)
	intervention.TaskID = taskID

	g.mu.Lock()
	g.interventions = append(g.interventions, intervention)
	g.mu.Unlock()
	interventionsTotal.WithLabelValues(string(kind)).Inc()

	if g.bus != nil {
		g.bus.Publish(events.NewGuardianInterventionEvent(string(ticketID), "", intervention.ID, string(taskID), string(kind), reason, confidence))
	}
}

// stuckPass is guardian loop (b): stuck-ticket detection.
func (g *Guardian) stuckPass(ctx context.Context) {
	if g.tickets == nil {
		return
	}
	for _, gb := range g.tickets.GateBlockedSince(ctx) {
		if gb.StalledFor < g.cfg.StuckTicketThreshold {
			continue
		}
		stuckTicketsTotal.WithLabelValues(gb.Phase.String()).Inc()
		if g.bus != nil {
			g.bus.Publish(events.NewTicketStuckEvent(string(gb.TicketID), "", gb.Phase.String(), gb.StalledFor, gb.PendingTasks))
		}
		g.maybeSpawnRecovery(ctx, gb)
	}
}

func (g *Guardian) maybeSpawnRecovery(ctx context.Context, gb GateBlocked) {
	if g.recovery == nil {
		return
	}
	g.mu.Lock()
	last, seen := g.stuckSpawned[gb.TicketID]
	recentlySpawned := seen && time.Since(last) < g.cfg.StuckLoopInterval
	if !recentlySpawned {
		g.stuckSpawned[gb.TicketID] = time.Now()
	}
	g.mu.Unlock()
	if recentlySpawned {
		return
	}
	if err := g.recovery.SpawnRecovery(ctx, gb.TicketID, gb.Phase, "Submit final result with evidence"); err != nil {
		g.warn("guardian recovery task spawn failed", "ticket_id", gb.TicketID, "error", err)
	}
}

// coherencePass is guardian loop (c): conductor-level coherence. It
// never spawns tasks — only reports what it finds.
func (g *Guardian) coherencePass(ctx context.Context) {
	agents := g.agents.List()
	if len(agents) == 0 {
		return
	}

	if desc, tickets := g.detectDuplicateWork(ctx); desc != "" {
		ids := make([]string, len(tickets))
		for i, t := range tickets {
			ids[i] = string(t)
		}
		g.bus.Publish(events.NewSystemIncoherenceEvent("", desc, ids))
	}
	if desc := g.detectLoadImbalance(agents); desc != "" {
		g.bus.Publish(events.NewSystemIncoherenceEvent("", desc, nil))
	}
}

// detectDuplicateWork flags when two or more active tasks across
// different tickets target the same resource keys — a signal that two
// agents may be duplicating effort on the same files.
func (g *Guardian) detectDuplicateWork(ctx context.Context) (string, []core.TicketID) {
	seen := make(map[string]core.TicketID)
	for _, ba := range g.activeTrajectories(ctx) {
		for _, key := range ba.Task.ResourceKeys {
			if other, ok := seen[key]; ok && other != ba.Task.TicketID {
				return "multiple tickets touching resource " + key, []core.TicketID{other, ba.Task.TicketID}
			}
			seen[key] = ba.Task.TicketID
		}
	}
	return "", nil
}

// detectLoadImbalance flags when one agent carries disproportionately
// more load than an idle peer with matching capabilities.
func (g *Guardian) detectLoadImbalance(agents []*core.Agent) string {
	var maxLoad, minLoad = -1, -1
	for _, a := range agents {
		if a.Status == core.AgentStatusStale || a.Status == core.AgentStatusQuarantine {
			continue
		}
		if maxLoad == -1 || a.Load > maxLoad {
			maxLoad = a.Load
		}
		if minLoad == -1 || a.Load < minLoad {
			minLoad = a.Load
		}
	}
	if maxLoad-minLoad >= 3 {
		return "agent load imbalance detected"
	}
	return ""
}
