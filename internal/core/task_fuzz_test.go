//go:build go1.18

package core

import (
	"errors"
	"testing"
)

// FuzzTaskStateTransitions tests task state machine invariants.
func FuzzTaskStateTransitions(f *testing.F) {
	// 0=MarkReady, 1=MarkAssigned, 2=MarkRunning, 3=MarkCompleted,
	// 4=MarkFailed, 5=MarkTimedOut, 6=MarkCancelled
	f.Add([]byte{0, 1, 2})       // Ready, assign, run
	f.Add([]byte{0, 1, 2, 3})    // Full success path
	f.Add([]byte{0, 1, 2, 4})    // Run then fail
	f.Add([]byte{6})             // Cancel without starting
	f.Add([]byte{0, 0})          // Double ready
	f.Add([]byte{3, 0, 3})       // Complete without running
	f.Add([]byte{0, 1, 2, 3, 6}) // Complete then cancel (should be no-op)

	f.Fuzz(func(t *testing.T, sequence []byte) {
		task := NewTask("test", "test task", PhaseImplementation)

		if task.Status != TaskStatusPending {
			t.Fatalf("new task should be pending, got %s", task.Status)
		}
		if task.StartedAt != nil {
			t.Fatal("new task should not have StartedAt")
		}
		if task.CompletedAt != nil {
			t.Fatal("new task should not have CompletedAt")
		}

		for _, op := range sequence {
			previousStatus := task.Status

			switch op % 7 {
			case 0:
				_ = task.MarkReady()
			case 1:
				_ = task.MarkAssigned("agent-1")
			case 2:
				_ = task.MarkRunning()
			case 3:
				_ = task.MarkCompleted(nil)
			case 4:
				_ = task.MarkFailed(errors.New("test error"))
			case 5:
				_ = task.MarkTimedOut()
			case 6:
				_ = task.MarkCancelled("reason")
			}

			assertTaskInvariants(t, task, previousStatus)
		}
	})
}

// FuzzTaskWithDependencies tests task dependency operations.
func FuzzTaskWithDependencies(f *testing.F) {
	f.Add("dep1", "dep2", "dep3")
	f.Add("", "", "")
	f.Add("same", "same", "same")
	f.Add("a", "b", "c")

	f.Fuzz(func(t *testing.T, dep1, dep2, dep3 string) {
		task := NewTask("test", "test task", PhaseImplementation)

		var deps []TaskID
		for _, dep := range []string{dep1, dep2, dep3} {
			if dep != "" {
				deps = append(deps, TaskID(dep))
			}
		}

		task.WithDependencies(deps...)

		if len(task.Dependencies) != len(deps) {
			t.Errorf("dependency count mismatch: got %d, want %d", len(task.Dependencies), len(deps))
		}
	})
}

// FuzzTaskRetryLogic tests task retry count logic.
func FuzzTaskRetryLogic(f *testing.F) {
	f.Add(0, 3)
	f.Add(1, 3)
	f.Add(3, 3)
	f.Add(10, 3)
	f.Add(0, 0)
	f.Add(0, 10)

	f.Fuzz(func(t *testing.T, retries int, maxRetries int) {
		task := NewTask("test", "test task", PhaseImplementation)

		if retries >= 0 {
			task.Retries = retries
		}
		if maxRetries >= 0 {
			task.MaxRetries = maxRetries
		}

		_ = task.MarkReady()
		_ = task.MarkAssigned("agent-1")
		_ = task.MarkRunning()
		_ = task.MarkFailed(errors.New("test"))

		canRetry1 := task.CanRetry()
		canRetry2 := task.CanRetry()

		if canRetry1 != canRetry2 {
			t.Error("CanRetry should be deterministic")
		}

		if task.Retries >= task.MaxRetries && task.CanRetry() {
			t.Errorf("should not be able to retry when retries (%d) >= maxRetries (%d)",
				task.Retries, task.MaxRetries)
		}
	})
}

// FuzzTaskReset tests task reset for retry.
func FuzzTaskReset(f *testing.F) {
	f.Add(0)
	f.Add(1)
	f.Add(2)
	f.Add(3)
	f.Add(5)

	f.Fuzz(func(t *testing.T, maxRetries int) {
		if maxRetries < 0 {
			return
		}

		task := NewTask("test", "test task", PhaseImplementation)
		task.MaxRetries = maxRetries

		for i := 0; i <= maxRetries; i++ {
			_ = task.MarkReady()
			_ = task.MarkAssigned("agent-1")
			_ = task.MarkRunning()
			_ = task.MarkFailed(errors.New("test error"))

			if i < maxRetries {
				if !task.CanRetry() {
					t.Errorf("should be able to retry at attempt %d (max=%d)", i, maxRetries)
				}
				if err := task.Reset(); err != nil {
					t.Errorf("reset failed at attempt %d: %v", i, err)
				}
				if task.Status != TaskStatusPending {
					t.Errorf("status should be pending after reset, got %s", task.Status)
				}
			} else {
				if task.CanRetry() {
					t.Errorf("should not be able to retry at attempt %d (max=%d)", i, maxRetries)
				}
			}
		}
	})
}

// FuzzTaskValidation tests task validation logic.
func FuzzTaskValidation(f *testing.F) {
	f.Add("task1", "Task Name")
	f.Add("", "Task Name")
	f.Add("task1", "")
	f.Add("", "")
	f.Add("task-with-special-chars-!@#$%", "Special Task")

	f.Fuzz(func(t *testing.T, id string, name string) {
		task := &Task{
			ID:     TaskID(id),
			Name:   name,
			Phase:  PhaseImplementation,
			Status: TaskStatusPending,
		}

		err := task.Validate()

		if id == "" && err == nil {
			t.Error("expected error for empty task ID")
		}

		if id != "" && name == "" && err == nil {
			t.Error("expected error for empty task name")
		}

		if id != "" && name != "" && err != nil {
			t.Errorf("unexpected error for valid task: %v", err)
		}
	})
}

// assertTaskInvariants checks that task state invariants hold.
func assertTaskInvariants(t *testing.T, task *Task, previousStatus TaskStatus) {
	t.Helper()

	validStatuses := map[TaskStatus]bool{
		TaskStatusPending:   true,
		TaskStatusReady:     true,
		TaskStatusAssigned:  true,
		TaskStatusRunning:   true,
		TaskStatusCompleted: true,
		TaskStatusFailed:    true,
		TaskStatusCancelled: true,
		TaskStatusTimedOut:  true,
	}
	if !validStatuses[task.Status] {
		t.Fatalf("invalid status: %s", task.Status)
	}

	if task.Status == TaskStatusRunning && task.StartedAt == nil {
		t.Fatalf("StartedAt should be set when status is %s", task.Status)
	}

	if task.IsTerminal() && task.CompletedAt == nil {
		t.Fatalf("CompletedAt should be set when status is %s", task.Status)
	}

	// Terminal states are sticky, except MarkCancelled which is
	// deliberately idempotent and so never changes the status away
	// from a terminal state either.
	if isTaskTerminal(previousStatus) && task.Status != previousStatus {
		t.Fatalf("terminal status changed from %s to %s", previousStatus, task.Status)
	}
}

// isTaskTerminal returns true if the task status is terminal.
func isTaskTerminal(status TaskStatus) bool {
	switch status {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled, TaskStatusTimedOut:
		return true
	default:
		return false
	}
}
