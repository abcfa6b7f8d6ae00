package core

import "time"

// InterventionKind classifies why the guardian intervened, per the
// trigger-predicate table: each kind is produced by a distinct
// condition on the analyzer's verdict or on task/ticket observation,
// not chosen freely by the analyzer itself.
type InterventionKind string

const (
	// InterventionStuck fires on a repeated error signature or a
	// progress stall.
	InterventionStuck InterventionKind = "stuck"
	// InterventionDrifting fires when alignment_score < 0.5 and the
	// agent is working outside its declared scope.
	InterventionDrifting InterventionKind = "drifting"
	// InterventionViolatingConstraints fires when the verdict reports
	// any constraint_violations.
	InterventionViolatingConstraints InterventionKind = "violating_constraints"
	// InterventionIdle fires when completion criteria are met but no
	// status update has arrived within the idle window.
	InterventionIdle InterventionKind = "idle"
	// InterventionMissedSteps fires when the verdict reports any
	// skipped_mandatory_steps.
	InterventionMissedSteps InterventionKind = "missed_steps"
	// InterventionEmergency fires when alignment_score < 0.2 or an
	// operator triggers it manually.
	InterventionEmergency InterventionKind = "emergency"
)

// TrajectoryContext is the snapshot the guardian's analyzer evaluates:
// a window of recent execution events plus the task/agent it belongs to.
// It is built fresh for each analysis pass rather than accumulated
// in place, so the analyzer always sees a consistent point-in-time view.
type TrajectoryContext struct {
	TaskID    TaskID
	AgentID   AgentID
	TicketID  TicketID
	Phase     Phase
	Events    []ExecutionEvent
	StartedAt time.Time
	AsOf      time.Time
}

// ExecutionEvent is a single observation of agent activity used to build
// a TrajectoryContext and, separately, to drive task.progress events on
// the bus.
type ExecutionEvent struct {
	Kind      string // e.g. "tool_use", "thinking", "chunk", "progress"
	Message   string
	Timestamp time.Time
	Data      map[string]any
}

// NewExecutionEvent creates an execution event stamped with the current time.
func NewExecutionEvent(kind, message string) ExecutionEvent {
	return ExecutionEvent{Kind: kind, Message: message, Timestamp: time.Now()}
}

// SteeringRecommendation is the analyzer's suggested correction, carried
// inside a Verdict when it believes the agent needs redirection.
type SteeringRecommendation struct {
	Kind       string // e.g. "redirect", "pause", "escalate", "note" — free-form guidance text for the worker, distinct from InterventionKind
	Message    string
	Confidence float64
}

// Verdict is the analyzer's structured judgment of a TrajectoryContext.
type Verdict struct {
	AlignmentScore        float64
	TrajectoryAligned     bool
	Summary               string
	DetectedDriftReasons  []string
	ConstraintViolations  []string
	SkippedMandatorySteps []string
	RecommendedSteering   *SteeringRecommendation
}

// GuardianIntervention records a steering action the guardian issued
// after analyzing a trajectory, a stuck-workflow detection, or a
// conductor-level coherence check.
type GuardianIntervention struct {
	ID         string
	TicketID   TicketID
	TaskID     TaskID // empty for ticket-level (stuck/coherence) interventions
	Kind       InterventionKind
	Reason     string
	Confidence float64
	IssuedAt   time.Time
	Acked      bool
	AckedAt    *time.Time
}

// NewGuardianIntervention records a new intervention.
func NewGuardianIntervention(id string, ticket TicketID, kind InterventionKind, reason string, confidence float64) *GuardianIntervention {
	return &GuardianIntervention{
		ID:         id,
		TicketID:   ticket,
		Kind:       kind,
		Reason:     reason,
		Confidence: confidence,
		IssuedAt:   time.Now(),
	}
}

// Ack marks the intervention as acknowledged by the dispatcher or operator.
func (g *GuardianIntervention) Ack() {
	g.Acked = true
	now := time.Now()
	g.AckedAt = &now
}
