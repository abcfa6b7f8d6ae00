package core

import "fmt"

// Phase represents a stage in a ticket's lifecycle.
type Phase string

const (
	PhaseBacklog        Phase = "backlog"
	PhaseRequirements   Phase = "requirements"
	PhaseDesign         Phase = "design"
	PhaseImplementation Phase = "implementation"
	PhaseTesting        Phase = "testing"
	PhaseDeployment     Phase = "deployment"
	PhaseBlocked        Phase = "blocked"
	PhaseDone           Phase = "done"
)

// allowedTransitions encodes the phase graph. Unlike the old linear
// analyze -> plan -> execute pipeline, several phases have more than one
// successor (testing can bounce back to implementation; blocked can
// return to whichever phase raised it).
var allowedTransitions = map[Phase][]Phase{
	PhaseBacklog:        {PhaseRequirements},
	PhaseRequirements:   {PhaseDesign, PhaseBlocked},
	PhaseDesign:         {PhaseImplementation, PhaseBlocked},
	PhaseImplementation: {PhaseTesting, PhaseBlocked},
	PhaseTesting:        {PhaseDeployment, PhaseImplementation, PhaseBlocked},
	PhaseDeployment:     {PhaseDone, PhaseBlocked},
	PhaseBlocked:        {PhaseRequirements, PhaseDesign, PhaseImplementation, PhaseTesting},
	PhaseDone:           {},
}

// AllPhases returns every phase in the graph, backlog first.
func AllPhases() []Phase {
	return []Phase{
		PhaseBacklog, PhaseRequirements, PhaseDesign, PhaseImplementation,
		PhaseTesting, PhaseDeployment, PhaseBlocked, PhaseDone,
	}
}

// ValidPhase checks if a phase string is a known phase.
func ValidPhase(p Phase) bool {
	_, ok := allowedTransitions[p]
	return ok
}

// ParsePhase converts a string to a Phase with validation.
func ParsePhase(s string) (Phase, error) {
	p := Phase(s)
	if !ValidPhase(p) {
		return "", fmt.Errorf("invalid phase: %s", s)
	}
	return p, nil
}

// CanTransition reports whether moving from `from` to `to` is allowed
// by the phase graph. Discovery-driven free-form phase spawning bypasses
// this check deliberately; see DESIGN.md.
func CanTransition(from, to Phase) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// NextPhases returns the phases reachable directly from p.
func NextPhases(p Phase) []Phase {
	next := allowedTransitions[p]
	out := make([]Phase, len(next))
	copy(out, next)
	return out
}

// IsTerminal reports whether a phase has no outgoing transitions.
func (p Phase) IsTerminal() bool {
	return p == PhaseDone
}

// String returns the string representation of the phase.
func (p Phase) String() string {
	return string(p)
}

// Description returns a human-readable description of the phase.
func (p Phase) Description() string {
	switch p {
	case PhaseBacklog:
		return "Awaiting requirements work"
	case PhaseRequirements:
		return "Gathering and clarifying requirements"
	case PhaseDesign:
		return "Designing the approach"
	case PhaseImplementation:
		return "Implementing the design"
	case PhaseTesting:
		return "Verifying the implementation"
	case PhaseDeployment:
		return "Rolling out the change"
	case PhaseBlocked:
		return "Blocked pending resolution"
	case PhaseDone:
		return "Complete"
	default:
		return "Unknown phase"
	}
}
