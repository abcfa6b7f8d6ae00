package discovery

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/flowforge/conductor/internal/core"
	"github.com/flowforge/conductor/internal/events"
	"github.com/flowforge/conductor/internal/taskstore"
)

type fakeStore struct {
	mu   sync.Mutex
	data map[string]*core.TaskDiscovery
}

func newFakeStore() *fakeStore { return &fakeStore{data: make(map[string]*core.TaskDiscovery)} }

func (f *fakeStore) SaveTaskDiscovery(_ context.Context, d *core.TaskDiscovery) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := *d
	f.data[d.ID] = &copied
	return nil
}

func (f *fakeStore) LoadTaskDiscoveries(_ context.Context, ticketID core.TicketID) ([]*core.TaskDiscovery, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*core.TaskDiscovery
	for _, d := range f.data {
		if d.TicketID == ticketID {
			copied := *d
			out = append(out, &copied)
		}
	}
	return out, nil
}

func setup(t *testing.T) (*Manager, *taskstore.Store, *events.EventBus) {
	t.Helper()
	bus := events.New(16)
	t.Cleanup(bus.Close)
	ts := taskstore.New(bus)
	m := New(newFakeStore(), ts, bus)
	return m, ts, bus
}

func TestManager_RecordWithoutSpawnSpec(t *testing.T) {
	t.Parallel()
	m, ts, bus := setup(t)
	ctx := context.Background()

	source := core.NewTask("t-1", "implement login", "build")
	source.TicketID = "tk-1"
	if err := ts.AddTask(ctx, source); err != nil {
		t.Fatalf("AddTask() error = %v", err)
	}

	ch := bus.Subscribe(events.TypeDiscoveryRecorded)

	d, err := m.Record(ctx, "tk-1", "t-1", core.DiscoveryTypeBugFound, "off-by-one in pagination", nil)
	if err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if d.SpawnedTaskID != "" {
		t.Fatalf("SpawnedTaskID = %q, want empty for a nil spawn spec", d.SpawnedTaskID)
	}
	if d.Status != core.DiscoveryStatusOpen {
		t.Fatalf("Status = %s, want open", d.Status)
	}

	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("discovery.recorded was not published")
	}
}

func TestManager_RecordWithSpawnSpecBoostsPriorityAndBlocksSource(t *testing.T) {
	t.Parallel()
	m, ts, bus := setup(t)
	ctx := context.Background()

	source := core.NewTask("t-1", "implement login", "build").WithPriority(5)
	source.TicketID = "tk-1"
	if err := ts.AddTask(ctx, source); err != nil {
		t.Fatalf("AddTask() error = %v", err)
	}
	if err := ts.MarkReady(ctx, "tk-1", "t-1"); err != nil {
		t.Fatalf("MarkReady() error = %v", err)
	}
	if err := ts.MarkAssigned(ctx, "tk-1", "t-1", "agent-1"); err != nil {
		t.Fatalf("MarkAssigned() error = %v", err)
	}
	if err := ts.MarkRunning(ctx, "tk-1", "t-1"); err != nil {
		t.Fatalf("MarkRunning() error = %v", err)
	}

	spawnCh := bus.Subscribe(events.TypeTaskSpawnedFromDiscovery)

	spec := &SpawnSpec{
		Name:          "fix pagination bug",
		Description:   "off by one in page 2",
		PriorityBoost: true,
		BlockSource:   true,
	}
	d, err := m.Record(ctx, "tk-1", "t-1", core.DiscoveryTypeBugFound, "found while implementing login", spec)
	if err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if d.SpawnedTaskID == "" {
		t.Fatal("expected a spawned task ID")
	}

	spawned, ok := ts.Get("tk-1", d.SpawnedTaskID)
	if !ok {
		t.Fatalf("spawned task %s not found in store", d.SpawnedTaskID)
	}
	if spawned.Priority != 6 {
		t.Fatalf("spawned task priority = %d, want 6 (source 5 + 1)", spawned.Priority)
	}
	if spawned.DiscoveredBy != "t-1" {
		t.Fatalf("spawned task DiscoveredBy = %s, want t-1", spawned.DiscoveredBy)
	}

	source, _ = ts.Get("tk-1", "t-1")
	if source.Status != core.TaskStatusBlockedOnDiscovery {
		t.Fatalf("source task status = %s, want blocked_on_discovery", source.Status)
	}

	select {
	case <-spawnCh:
	case <-time.After(time.Second):
		t.Fatal("task.spawned_from_discovery was not published")
	}
}

func TestManager_RunResumesBlockedSourceOnSpawnCompletion(t *testing.T) {
	t.Parallel()
	m, ts, bus := setup(t)
	ctx := context.Background()

	source := core.NewTask("t-1", "implement login", "build")
	source.TicketID = "tk-1"
	if err := ts.AddTask(ctx, source); err != nil {
		t.Fatalf("AddTask() error = %v", err)
	}
	if err := ts.MarkReady(ctx, "tk-1", "t-1"); err != nil {
		t.Fatalf("MarkReady() error = %v", err)
	}
	if err := ts.MarkAssigned(ctx, "tk-1", "t-1", "agent-1"); err != nil {
		t.Fatalf("MarkAssigned() error = %v", err)
	}
	if err := ts.MarkRunning(ctx, "tk-1", "t-1"); err != nil {
		t.Fatalf("MarkRunning() error = %v", err)
	}

	spec := &SpawnSpec{Description: "investigate", BlockSource: true}
	d, err := m.Record(ctx, "tk-1", "t-1", core.DiscoveryTypeClarificationNeeded, "unclear requirement", spec)
	if err != nil {
		t.Fatalf("Record() error = %v", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go m.Run(runCtx)

	if err := ts.MarkReady(ctx, "tk-1", d.SpawnedTaskID); err != nil {
		t.Fatalf("MarkReady(spawned) error = %v", err)
	}
	if err := ts.MarkAssigned(ctx, "tk-1", d.SpawnedTaskID, "agent-1"); err != nil {
		t.Fatalf("MarkAssigned(spawned) error = %v", err)
	}
	if err := ts.MarkRunning(ctx, "tk-1", d.SpawnedTaskID); err != nil {
		t.Fatalf("MarkRunning(spawned) error = %v", err)
	}
	if err := ts.MarkCompleted(ctx, "tk-1", d.SpawnedTaskID, nil); err != nil {
		t.Fatalf("MarkCompleted(spawned) error = %v", err)
	}
	bus.Publish(events.NewTaskCompletedEvent("tk-1", "", string(d.SpawnedTaskID), 0))

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		source, _ := ts.Get("tk-1", "t-1")
		if source.Status == core.TaskStatusPending {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("source task was never unblocked after its spawned task completed")
}
