package events

import (
	"testing"
	"time"
)

func TestNewPhaseEnteredEvent(t *testing.T) {
	t.Parallel()
	e := NewPhaseEnteredEvent("tk-1", "proj-1", "requirements", "design")
	if e.EventType() != TypePhaseEntered {
		t.Errorf("expected type %q, got %q", TypePhaseEntered, e.EventType())
	}
	if e.TicketID() != "tk-1" {
		t.Errorf("expected ticket_id 'tk-1', got %q", e.TicketID())
	}
	if e.Phase != "design" || e.From != "requirements" {
		t.Errorf("phase=%q from=%q", e.Phase, e.From)
	}
}

func TestNewPhaseCompletedEvent(t *testing.T) {
	t.Parallel()
	e := NewPhaseCompletedEvent("tk-2", "proj-1", "design", 5*time.Second)
	if e.EventType() != TypePhaseCompleted {
		t.Errorf("expected type %q, got %q", TypePhaseCompleted, e.EventType())
	}
	if e.Phase != "design" {
		t.Errorf("expected phase 'design', got %q", e.Phase)
	}
	if e.Duration != 5*time.Second {
		t.Errorf("expected duration 5s, got %v", e.Duration)
	}
}

func TestNewPhaseGateSatisfiedEvent(t *testing.T) {
	t.Parallel()
	e := NewPhaseGateSatisfiedEvent("tk-3", "proj-1", "design", []string{"artifact-1"})
	if e.EventType() != TypePhaseGateSatisfied {
		t.Errorf("expected type %q, got %q", TypePhaseGateSatisfied, e.EventType())
	}
	if len(e.Artifacts) != 1 {
		t.Errorf("expected 1 artifact, got %d", len(e.Artifacts))
	}
}

func TestNewPhaseGateRejectedEvent(t *testing.T) {
	t.Parallel()
	e := NewPhaseGateRejectedEvent("tk-4", "proj-1", "testing", "missing test report")
	if e.EventType() != TypePhaseGateRejected {
		t.Errorf("expected type %q, got %q", TypePhaseGateRejected, e.EventType())
	}
	if e.Reason != "missing test report" {
		t.Errorf("expected reason, got %q", e.Reason)
	}
}

func TestNewPhaseBlockedEvent(t *testing.T) {
	t.Parallel()
	e := NewPhaseBlockedEvent("tk-5", "proj-1", "implementation", "waiting on external dependency")
	if e.EventType() != TypePhaseBlocked {
		t.Errorf("expected type %q, got %q", TypePhaseBlocked, e.EventType())
	}
	if e.From != "implementation" {
		t.Errorf("expected from 'implementation', got %q", e.From)
	}
}

func TestPhaseEventConstants(t *testing.T) {
	t.Parallel()
	if TypePhaseEntered != "phase.entered" {
		t.Errorf("wrong constant: %q", TypePhaseEntered)
	}
	if TypePhaseCompleted != "phase.completed" {
		t.Errorf("wrong constant: %q", TypePhaseCompleted)
	}
	if TypePhaseGateSatisfied != "phase.gate_satisfied" {
		t.Errorf("wrong constant: %q", TypePhaseGateSatisfied)
	}
	if TypePhaseGateRejected != "phase.gate_rejected" {
		t.Errorf("wrong constant: %q", TypePhaseGateRejected)
	}
	if TypePhaseBlocked != "phase.blocked" {
		t.Errorf("wrong constant: %q", TypePhaseBlocked)
	}
}
