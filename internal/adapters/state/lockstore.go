package state

import (
	"context"
	"time"

	"github.com/flowforge/conductor/internal/core"
)

// LockStore adapts Store's resource-lock CAS methods to lock.Store, letting
// the resource-lock coordinator (internal/lock) persist through the same
// SQLite database as everything else instead of lock.MemStore's in-memory
// map. It is a thin delegator: the CAS semantics live in Store itself so
// sqlite_test.go can exercise them directly without importing internal/lock.
type LockStore struct {
	store *Store
}

// NewLockStore wraps store for use as a lock.Store.
func NewLockStore(store *Store) *LockStore {
	return &LockStore{store: store}
}

func (l *LockStore) Get(ctx context.Context, key string) (*core.ResourceLock, error) {
	return l.store.GetResourceLock(ctx, key)
}

func (l *LockStore) Insert(ctx context.Context, lk *core.ResourceLock) error {
	return l.store.InsertResourceLock(ctx, lk)
}

func (l *LockStore) CompareAndDelete(ctx context.Context, key string, holder core.TaskID, version int64) error {
	return l.store.CompareAndDeleteResourceLock(ctx, key, holder, version)
}

func (l *LockStore) CompareAndSwap(ctx context.Context, key string, version int64, updated *core.ResourceLock) error {
	return l.store.CompareAndSwapResourceLock(ctx, key, version, updated)
}

func (l *LockStore) DeleteExpired(ctx context.Context, key string, now time.Time) (bool, error) {
	return l.store.DeleteExpiredResourceLock(ctx, key, now)
}
