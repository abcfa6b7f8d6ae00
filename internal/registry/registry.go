// Package registry implements the agent registry (C3): the live catalog
// of worker agents the dispatcher binds ready tasks to, their heartbeat
// tracking, and deterministic candidate ranking.
package registry

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/flowforge/conductor/internal/core"
	"github.com/flowforge/conductor/internal/events"
	"github.com/flowforge/conductor/internal/logging"
)

var agentLoadRatio = prometheus.NewGaugeVec(prometheus.GaugeOpts{
	Name: "registry_agent_load_ratio",
	Help: "Agent's current load divided by its capacity (0 when capacity is 0).",
}, []string{"agent_id"})

func init() {
	prometheus.MustRegister(agentLoadRatio)
}

func recordLoadRatio(a *core.Agent) {
	ratio := 0.0
	if a.Capacity > 0 {
		ratio = float64(a.Load) / float64(a.Capacity)
	}
	agentLoadRatio.WithLabelValues(string(a.ID)).Set(ratio)
}

// Weights controls the ranking formula from spec.md §4.3.
type Weights struct {
	Capability float64
	FreeLoad   float64
	Health     float64
	Staleness  float64
}

// DefaultWeights matches spec.md's stated defaults.
func DefaultWeights() Weights {
	return Weights{Capability: 0.5, FreeLoad: 0.3, Health: 0.2, Staleness: 0.001}
}

// Config configures the registry's staleness sweep.
type Config struct {
	HeartbeatInterval time.Duration // informational; workers call Heartbeat on this cadence
	StaleThreshold    time.Duration
	SweepInterval     time.Duration
	Weights           Weights
}

// DefaultConfig matches spec.md §4.3's 30s heartbeat / 90s stale window.
func DefaultConfig() Config {
	return Config{
		HeartbeatInterval: 30 * time.Second,
		StaleThreshold:    90 * time.Second,
		SweepInterval:     15 * time.Second,
		Weights:           DefaultWeights(),
	}
}

// Registry is the in-memory agent catalog, backed by the `agents` table
// for persistence across restarts.
type Registry struct {
	mu     sync.RWMutex
	agents map[core.AgentID]*core.Agent

	cfg    Config
	bus    *events.EventBus
	logger *logging.Logger
	nowFn  func() time.Time

	stopCh chan struct{}
	doneCh chan struct{}
}

// New creates an agent registry.
func New(cfg Config, bus *events.EventBus, logger *logging.Logger) *Registry {
	if cfg.StaleThreshold <= 0 {
		cfg = DefaultConfig()
	}
	return &Registry{
		agents: make(map[core.AgentID]*core.Agent),
		cfg:    cfg,
		bus:    bus,
		logger: logger,
		nowFn:  time.Now,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Register adds a new agent to the catalog, replacing any existing entry
// with the same ID.
func (r *Registry) Register(ctx context.Context, a *core.Agent) error {
	r.mu.Lock()
	r.agents[a.ID] = a
	recordLoadRatio(a)
	r.mu.Unlock()

	if r.bus != nil {
		r.bus.Publish(events.NewAgentRegisteredEvent("", string(a.ID), a.Capabilities))
	}
	return nil
}

// Update replaces the stored agent's mutable fields (capabilities,
// capacity, status) without resetting heartbeat/load bookkeeping.
func (r *Registry) Update(ctx context.Context, id core.AgentID, fn func(a *core.Agent)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.agents[id]
	if !ok {
		return core.ErrNotFound("agent", string(id))
	}
	fn(a)
	recordLoadRatio(a)
	return nil
}

// Deregister removes an agent from the catalog entirely.
func (r *Registry) Deregister(ctx context.Context, id core.AgentID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.agents, id)
	return nil
}

// Heartbeat records that an agent is alive, clearing any stale status.
func (r *Registry) Heartbeat(ctx context.Context, id core.AgentID, load int) error {
	r.mu.Lock()
	a, ok := r.agents[id]
	if !ok {
		r.mu.Unlock()
		return core.ErrNotFound("agent", string(id))
	}
	a.MarkHeartbeat(r.nowFn())
	if load >= 0 {
		a.Load = load
	}
	recordLoadRatio(a)
	r.mu.Unlock()

	if r.bus != nil {
		r.bus.Publish(events.NewAgentHeartbeatEvent("", string(id), load))
	}
	return nil
}

// MarkUnreachable flips an agent's status to stale, used by the task
// timeout sweep when a worker misses its acknowledgment grace period.
func (r *Registry) MarkUnreachable(ctx context.Context, id core.AgentID) error {
	r.mu.Lock()
	a, ok := r.agents[id]
	if ok {
		a.Status = core.AgentStatusStale
	}
	r.mu.Unlock()
	if !ok {
		return core.ErrNotFound("agent", string(id))
	}
	return nil
}

// Candidate pairs a scored agent with its score for a specific request.
type Candidate struct {
	Agent *core.Agent
	Score float64
}

// FindCandidates returns agents matching requiredCapabilities and
// tagsFilter with health at least minHealth, ranked by the weighted
// formula in spec.md §4.3: ties break by lowest current load, then
// lexicographic agent ID.
func (r *Registry) FindCandidates(ctx context.Context, requiredCapabilities []string, tagsFilter []string, minHealth float64) []Candidate {
	r.mu.RLock()
	defer r.mu.RUnlock()

	now := r.nowFn()
	var out []Candidate
	for _, a := range r.agents {
		if !a.CanAccept() {
			continue
		}
		if !hasAllCapabilities(a, requiredCapabilities) {
			continue
		}
		if !hasAllCapabilities(a, tagsFilter) {
			continue
		}
		health := a.SuccessRate()
		if health < minHealth {
			continue
		}
		score := r.score(a, requiredCapabilities, now)
		out = append(out, Candidate{Agent: a, Score: score})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		if out[i].Agent.Load != out[j].Agent.Load {
			return out[i].Agent.Load < out[j].Agent.Load
		}
		return out[i].Agent.ID < out[j].Agent.ID
	})
	return out
}

// score implements spec.md §4.3's weighted formula directly (rather than
// core.Agent.Score's simplified success/headroom blend, which the
// dispatcher uses for quick re-ranking after an assignment).
func (r *Registry) score(a *core.Agent, requiredCapabilities []string, now time.Time) float64 {
	w := r.cfg.Weights
	capRatio := capabilityMatchRatio(a, requiredCapabilities)
	freeCapacity := 0.0
	if a.Capacity > 0 {
		freeCapacity = 1 - float64(a.Load)/float64(a.Capacity)
	}
	staleness := now.Sub(a.LastHeartbeat).Seconds()
	if staleness < 0 {
		staleness = 0
	}
	return w.Capability*capRatio + w.FreeLoad*freeCapacity + w.Health*a.SuccessRate() - w.Staleness*staleness
}

func capabilityMatchRatio(a *core.Agent, required []string) float64 {
	if len(required) == 0 {
		return 1.0
	}
	matched := 0
	for _, cap := range required {
		if a.HasCapability(cap) {
			matched++
		}
	}
	return float64(matched) / float64(len(required))
}

func hasAllCapabilities(a *core.Agent, tags []string) bool {
	for _, tag := range tags {
		if !a.HasCapability(tag) {
			return false
		}
	}
	return true
}

// Get returns the agent with the given ID.
func (r *Registry) Get(id core.AgentID) (*core.Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[id]
	return a, ok
}

// List returns every registered agent.
func (r *Registry) List() []*core.Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*core.Agent, 0, len(r.agents))
	for _, a := range r.agents {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// StartStaleSweep runs the heartbeat-miss monitor loop until ctx is
// cancelled or Stop is called, mirroring this codebase's heartbeat
// manager / zombie detector shape: a ticking sweep over tracked
// entities with a configurable stale threshold.
func (r *Registry) StartStaleSweep(ctx context.Context) {
	go func() {
		defer close(r.doneCh)
		ticker := time.NewTicker(r.cfg.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-r.stopCh:
				return
			case <-ticker.C:
				r.sweep()
			}
		}
	}()
}

func (r *Registry) sweep() {
	now := r.nowFn()
	r.mu.Lock()
	var gone []core.AgentID
	for id, a := range r.agents {
		if a.Status == core.AgentStatusQuarantine {
			continue
		}
		if a.IsStale(now, r.cfg.StaleThreshold) && a.Status != core.AgentStatusStale {
			a.Status = core.AgentStatusStale
			gone = append(gone, id)
		}
	}
	r.mu.Unlock()

	for _, id := range gone {
		if r.logger != nil {
			r.logger.Warn("agent marked stale", "agent_id", id)
		}
		if r.bus != nil {
			r.bus.Publish(events.NewAgentStaleEvent("", string(id), r.cfg.StaleThreshold))
		}
	}
}

// Stop signals the stale sweep loop to exit and waits for it to drain.
func (r *Registry) Stop() {
	close(r.stopCh)
	<-r.doneCh
}

// Quarantine marks an agent quarantined after repeated task failures,
// removing it from FindCandidates results until an operator clears it.
func (r *Registry) Quarantine(ctx context.Context, id core.AgentID, failureStreak int) error {
	r.mu.Lock()
	a, ok := r.agents[id]
	if ok {
		a.Status = core.AgentStatusQuarantine
	}
	r.mu.Unlock()
	if !ok {
		return core.ErrNotFound("agent", string(id))
	}
	if r.bus != nil {
		r.bus.Publish(events.NewAgentQuarantineEvent("", string(id), failureStreak))
	}
	return nil
}
