// Package lock implements the resource-lock coordinator (C2): mutual
// exclusion over arbitrary resource keys (file paths, git refs, external
// API quotas) so that two tasks requiring the same exclusive key never
// run concurrently.
package lock

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/flowforge/conductor/internal/core"
	"github.com/flowforge/conductor/internal/events"
	"github.com/flowforge/conductor/internal/service"
)

// Store persists resource locks. The SQLite-backed implementation lives
// in internal/adapters/state; tests use an in-memory Store.
type Store interface {
	// Get returns the current lock on key, if any.
	Get(ctx context.Context, key string) (*core.ResourceLock, error)
	// Insert installs a new lock, failing if one already exists for the
	// key (the caller is responsible for evicting expired locks first).
	Insert(ctx context.Context, l *core.ResourceLock) error
	// CompareAndDelete removes the lock for key only if held by the given
	// task at the given version, mirroring §4.2's "matching task+version"
	// release rule.
	CompareAndDelete(ctx context.Context, key string, holder core.TaskID, version int64) error
	// CompareAndSwap replaces the lock for key with updated, only if the
	// stored lock still matches the given version.
	CompareAndSwap(ctx context.Context, key string, version int64, updated *core.ResourceLock) error
	// DeleteExpired evicts the lock for key if it has expired as of now,
	// returning true if a lock was evicted.
	DeleteExpired(ctx context.Context, key string, now time.Time) (bool, error)
}

// Handle is returned by Acquire and must be passed to Release/Extend.
type Handle struct {
	ResourceKey string
	HolderTask  core.TaskID
	Mode        core.LockMode
	Version     int64
}

var (
	waitSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "lock_wait_seconds",
		Help:    "Time spent waiting to acquire a resource lock.",
		Buckets: prometheus.DefBuckets,
	}, []string{"resource_prefix", "outcome"})
)

func init() {
	prometheus.MustRegister(waitSeconds)
}

// Coordinator implements acquire/release/extend over a Store.
type Coordinator struct {
	store  Store
	bus    *events.EventBus
	retry  *service.RetryPolicy
	nowFn  func() time.Time
	mu     sync.Mutex // serializes the acquire algorithm's evict-check-insert sequence per process
}

// Config configures a Coordinator's default acquisition behavior.
type Config struct {
	MaxRetries  int
	BaseBackoff time.Duration
}

// DefaultConfig matches spec.md §4.2's defaults.
func DefaultConfig() Config {
	return Config{MaxRetries: 5, BaseBackoff: 100 * time.Millisecond}
}

// New creates a lock coordinator over the given store.
func New(store Store, bus *events.EventBus, cfg Config) *Coordinator {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultConfig().MaxRetries
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = DefaultConfig().BaseBackoff
	}
	return &Coordinator{
		store: store,
		bus:   bus,
		retry: service.NewRetryPolicy(
			service.WithMaxAttempts(cfg.MaxRetries),
			service.WithBaseDelay(cfg.BaseBackoff),
			service.WithMultiplier(2.0),
			service.WithJitter(0.2),
		),
		nowFn: time.Now,
	}
}

// Acquire attempts to claim resourceKey for holderTask, retrying with
// exponential backoff on contention up to the coordinator's configured
// max retries. Returns ErrCatLockUnavailable if the key never frees up.
func (c *Coordinator) Acquire(ctx context.Context, ticketID core.TicketID, projectID, resourceKey string, mode core.LockMode, holderTask core.TaskID, ttl time.Duration) (*Handle, error) {
	start := c.nowFn()
	attempts := 0

	var handle *Handle
	err := c.retry.Execute(ctx, func(ctx context.Context) error {
		attempts++
		h, tryErr := c.tryAcquire(ctx, resourceKey, mode, holderTask, ttl)
		if tryErr != nil {
			return tryErr
		}
		handle = h
		return nil
	})

	waited := c.nowFn().Sub(start)
	outcome := "acquired"
	if err != nil {
		outcome = "abandoned"
	}
	waitSeconds.WithLabelValues(resourcePrefix(resourceKey), outcome).Observe(waited.Seconds())
	if c.bus != nil {
		c.bus.Publish(events.NewLockWaitTimeEvent(string(ticketID), projectID, resourceKey, string(holderTask), waited))
	}

	if err != nil {
		lockErr := core.ErrLockUnavailable(resourceKey)
		return nil, lockErr.WithDetail("attempts", attempts)
	}

	if c.bus != nil {
		c.bus.Publish(events.NewLockAcquiredEvent(string(ticketID), projectID, resourceKey, string(mode), string(holderTask)))
	}
	return handle, nil
}

// tryAcquire runs the single-attempt evict/check/insert sequence from
// spec.md §4.2 within the coordinator's process-local critical section.
// Each call is a DomainError classified retryable so RetryPolicy backs off.
func (c *Coordinator) tryAcquire(ctx context.Context, resourceKey string, mode core.LockMode, holderTask core.TaskID, ttl time.Duration) (*Handle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.nowFn()
	_, _ = c.store.DeleteExpired(ctx, resourceKey, now)

	existing, err := c.store.Get(ctx, resourceKey)
	if err != nil {
		return nil, fmt.Errorf("reading lock %s: %w", resourceKey, err)
	}

	if existing != nil {
		if !existing.CompatibleWith(mode) {
			return nil, core.ErrLockUnavailable(resourceKey)
		}
		// Shared lock coexisting with a shared request: treat as already held.
		return &Handle{ResourceKey: resourceKey, HolderTask: existing.HolderTask, Mode: existing.Mode, Version: existing.Version}, nil
	}

	l := core.NewResourceLock(resourceKey, mode, holderTask, ttl)
	if err := c.store.Insert(ctx, l); err != nil {
		return nil, core.ErrLockUnavailable(resourceKey)
	}
	return &Handle{ResourceKey: resourceKey, HolderTask: holderTask, Mode: mode, Version: l.Version}, nil
}

// AcquireAll acquires every key in deterministic (lexicographic) order
// per spec.md §4.8 step 3, releasing whatever it already holds and
// returning the failing key if any acquisition is unavailable.
func (c *Coordinator) AcquireAll(ctx context.Context, ticketID core.TicketID, projectID string, keys []string, mode core.LockMode, holderTask core.TaskID, ttl time.Duration) ([]*Handle, error) {
	sorted := append([]string(nil), keys...)
	sort.Strings(sorted)

	held := make([]*Handle, 0, len(sorted))
	for _, key := range sorted {
		h, err := c.Acquire(ctx, ticketID, projectID, key, mode, holderTask, ttl)
		if err != nil {
			for _, rh := range held {
				_ = c.Release(ctx, ticketID, projectID, rh, false)
			}
			return nil, err
		}
		held = append(held, h)
	}
	return held, nil
}

// Release drops a held lock, only succeeding if holder+version still
// match (preventing release of a lease that has since been reclaimed).
func (c *Coordinator) Release(ctx context.Context, ticketID core.TicketID, projectID string, h *Handle, expired bool) error {
	if h == nil {
		return nil
	}
	if err := c.store.CompareAndDelete(ctx, h.ResourceKey, h.HolderTask, h.Version); err != nil {
		return fmt.Errorf("releasing lock %s: %w", h.ResourceKey, err)
	}
	if c.bus != nil {
		c.bus.Publish(events.NewLockReleasedEvent(string(ticketID), projectID, h.ResourceKey, string(h.HolderTask), expired))
	}
	return nil
}

// ReleaseAll releases every handle, continuing past individual failures
// and returning the first error encountered, if any.
func (c *Coordinator) ReleaseAll(ctx context.Context, ticketID core.TicketID, projectID string, handles []*Handle) error {
	var firstErr error
	for _, h := range handles {
		if err := c.Release(ctx, ticketID, projectID, h, false); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Extend bumps a held lock's TTL, only succeeding if the holder still
// matches, used by long-running tasks renewing their lease.
func (c *Coordinator) Extend(ctx context.Context, h *Handle, ttl time.Duration) error {
	if h == nil {
		return fmt.Errorf("nil lock handle")
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	existing, err := c.store.Get(ctx, h.ResourceKey)
	if err != nil {
		return fmt.Errorf("reading lock %s: %w", h.ResourceKey, err)
	}
	if existing == nil || existing.HolderTask != h.HolderTask || existing.Version != h.Version {
		return core.ErrLockUnavailable(h.ResourceKey)
	}

	now := c.nowFn()
	updated := *existing
	updated.Extend(ttl, now)
	if err := c.store.CompareAndSwap(ctx, h.ResourceKey, h.Version, &updated); err != nil {
		return fmt.Errorf("extending lock %s: %w", h.ResourceKey, err)
	}
	h.Version = updated.Version
	return nil
}

func resourcePrefix(key string) string {
	for i, r := range key {
		if r == '/' || r == ':' {
			return key[:i]
		}
	}
	return key
}
