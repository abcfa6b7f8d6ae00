// Package state implements the engine's relational persistence layer:
// a single SQLite database (WAL mode, migrated at startup) backing
// tickets, tasks, agents, resource locks, discoveries, guardian
// interventions, and the append-only event log.
package state

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/flowforge/conductor/internal/core"
	"github.com/flowforge/conductor/internal/events"
	_ "modernc.org/sqlite"
)

//go:embed migrations/001_initial_schema.sql
var migrationV1 string

// Store implements persistence for the engine's domain model over a
// single SQLite file. Mirrors this repo's dual read/write connection
// pattern: one single-writer connection (SQLite permits only one
// writer) and a pooled read-only connection for non-blocking reads.
type Store struct {
	dbPath string
	db     *sql.DB
	readDB *sql.DB
	mu     sync.RWMutex

	maxRetries    int
	baseRetryWait time.Duration
}

// Option configures a Store.
type Option func(*Store)

// WithRetryPolicy overrides the write-retry backoff used against
// SQLITE_BUSY. Defaults mirror service.DefaultRetryPolicy (5 attempts,
// 100ms base, doubling).
func WithRetryPolicy(maxRetries int, baseWait time.Duration) Option {
	return func(s *Store) {
		s.maxRetries = maxRetries
		s.baseRetryWait = baseWait
	}
}

// Open creates or opens a SQLite-backed store at path, running any
// pending migrations.
func Open(path string, opts ...Option) (*Store, error) {
	s := &Store{
		dbPath:        path,
		maxRetries:    5,
		baseRetryWait: 100 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(s)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("creating state directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening write database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	s.db = db

	readDB, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&mode=ro&_pragma=busy_timeout(1000)")
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("opening read database: %w", err)
	}
	readDB.SetMaxOpenConns(10)
	readDB.SetMaxIdleConns(5)
	readDB.SetConnMaxLifetime(5 * time.Minute)
	s.readDB = readDB

	if err := s.migrate(); err != nil {
		_ = db.Close()
		_ = readDB.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes both connections.
func (s *Store) Close() error {
	var errs []error
	if s.readDB != nil {
		if err := s.readDB.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return errs[0]
	}
	return nil
}

func (s *Store) migrate() error {
	var version int
	err := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version)
	if err != nil {
		version = 0
	}
	if version < 1 {
		if _, err := s.db.Exec(migrationV1); err != nil {
			return fmt.Errorf("applying migration v1: %w", err)
		}
		if _, err := s.db.Exec("INSERT INTO schema_migrations (version, applied_at) VALUES (1, ?)", time.Now().UTC().Format(time.RFC3339)); err != nil {
			return fmt.Errorf("recording migration v1: %w", err)
		}
	}
	return nil
}

// retryWrite executes a write with exponential backoff on SQLITE_BUSY,
// grounded on this repo's own retryWrite/isSQLiteBusy idiom.
func (s *Store) retryWrite(ctx context.Context, operation string, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		if err := fn(); err != nil {
			if isSQLiteBusy(err) {
				lastErr = err
				if attempt < s.maxRetries {
					wait := s.baseRetryWait * time.Duration(1<<attempt)
					select {
					case <-ctx.Done():
						return fmt.Errorf("%s: %w (last error: %v)", operation, ctx.Err(), lastErr)
					case <-time.After(wait):
						continue
					}
				}
			}
			return err
		}
		return nil
	}
	return fmt.Errorf("%s: max retries exceeded: %w", operation, lastErr)
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "database is locked") ||
		strings.Contains(errStr, "SQLITE_BUSY") ||
		strings.Contains(errStr, "SQLITE_LOCKED")
}

func timeToStr(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func strToTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

func ptrTimeToStr(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: timeToStr(*t), Valid: true}
}

func nullStrToPtrTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := strToTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// SaveTicket upserts a ticket, its tasks, and any new phase-history
// entries in a single transaction.
func (s *Store) SaveTicket(ctx context.Context, t *core.Ticket) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.retryWrite(ctx, "save ticket", func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		if err := upsertTicket(ctx, tx, t); err != nil {
			return err
		}
		if err := replacePhaseHistory(ctx, tx, t); err != nil {
			return err
		}
		for _, id := range t.TaskOrder {
			task := t.Tasks[id]
			if err := upsertTask(ctx, tx, task); err != nil {
				return err
			}
		}
		return tx.Commit()
	})
}

func upsertTicket(ctx context.Context, tx *sql.Tx, t *core.Ticket) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO tickets (id, status, current_phase, title, description, created_at, started_at, completed_at, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status=excluded.status, current_phase=excluded.current_phase,
			title=excluded.title, description=excluded.description,
			started_at=excluded.started_at, completed_at=excluded.completed_at,
			error=excluded.error`,
		string(t.ID), string(t.Status), string(t.CurrentPhase), t.Title, t.Description,
		timeToStr(t.CreatedAt), ptrTimeToStr(t.StartedAt), ptrTimeToStr(t.CompletedAt), t.Error,
	)
	return err
}

// replacePhaseHistory appends any history entries not yet persisted.
// Ticket.History grows monotonically, so the simplest correct strategy
// is delete-and-reinsert inside the same transaction as the ticket row.
func replacePhaseHistory(ctx context.Context, tx *sql.Tx, t *core.Ticket) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM phase_history WHERE ticket_id = ?`, string(t.ID)); err != nil {
		return err
	}
	for _, h := range t.History {
		artifacts, err := json.Marshal(h.Artifacts)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO phase_history (ticket_id, from_phase, to_phase, at, artifacts, reason)
			VALUES (?, ?, ?, ?, ?, ?)`,
			string(t.ID), string(h.From), string(h.To), timeToStr(h.At), string(artifacts), h.Reason,
		); err != nil {
			return err
		}
	}
	return nil
}

func upsertTask(ctx context.Context, tx *sql.Tx, task *core.Task) error {
	deps, err := json.Marshal(task.Dependencies)
	if err != nil {
		return err
	}
	keys, err := json.Marshal(task.ResourceKeys)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO tasks (id, ticket_id, phase, name, description, status, assigned_to,
			dependencies, resource_keys, required_capability, priority, discovered_by,
			retries, max_retries, timeout_seconds, created_at, started_at, completed_at, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(ticket_id, id) DO UPDATE SET
			phase=excluded.phase, status=excluded.status, assigned_to=excluded.assigned_to,
			dependencies=excluded.dependencies, resource_keys=excluded.resource_keys,
			required_capability=excluded.required_capability, priority=excluded.priority,
			retries=excluded.retries, max_retries=excluded.max_retries,
			timeout_seconds=excluded.timeout_seconds, started_at=excluded.started_at,
			completed_at=excluded.completed_at, error=excluded.error`,
		string(task.ID), string(task.TicketID), string(task.Phase), task.Name, task.Description,
		string(task.Status), string(task.AssignedTo), string(deps), string(keys),
		task.RequiredCapability, task.Priority, string(task.DiscoveredBy),
		task.Retries, task.MaxRetries, int64(task.Timeout.Seconds()),
		timeToStr(task.CreatedAt), ptrTimeToStr(task.StartedAt), ptrTimeToStr(task.CompletedAt), task.Error,
	)
	return err
}

// LoadTicket reconstructs a ticket and its tasks from storage.
func (s *Store) LoadTicket(ctx context.Context, id core.TicketID) (*core.Ticket, error) {
	row := s.readDB.QueryRowContext(ctx, `
		SELECT id, status, current_phase, title, description, created_at, started_at, completed_at, error
		FROM tickets WHERE id = ?`, string(id))

	var (
		tID, status, phase, title, desc, createdAt, errStr string
		startedAt, completedAt                             sql.NullString
	)
	if err := row.Scan(&tID, &status, &phase, &title, &desc, &createdAt, &startedAt, &completedAt, &errStr); err != nil {
		if err == sql.ErrNoRows {
			return nil, core.ErrNotFound("ticket", string(id))
		}
		return nil, err
	}

	created, err := strToTime(createdAt)
	if err != nil {
		return nil, err
	}
	started, err := nullStrToPtrTime(startedAt)
	if err != nil {
		return nil, err
	}
	completed, err := nullStrToPtrTime(completedAt)
	if err != nil {
		return nil, err
	}

	t := &core.Ticket{
		ID:           core.TicketID(tID),
		Status:       core.TicketStatus(status),
		CurrentPhase: core.Phase(phase),
		Title:        title,
		Description:  desc,
		Tasks:        make(map[core.TaskID]*core.Task),
		TaskOrder:    make([]core.TaskID, 0),
		CreatedAt:    created,
		StartedAt:    started,
		CompletedAt:  completed,
		Error:        errStr,
	}

	if err := s.loadPhaseHistory(ctx, t); err != nil {
		return nil, err
	}
	if err := s.loadTasks(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

func (s *Store) loadPhaseHistory(ctx context.Context, t *core.Ticket) error {
	rows, err := s.readDB.QueryContext(ctx, `
		SELECT from_phase, to_phase, at, artifacts, reason
		FROM phase_history WHERE ticket_id = ? ORDER BY id ASC`, string(t.ID))
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var from, to, at, artifactsJSON, reason string
		if err := rows.Scan(&from, &to, &at, &artifactsJSON, &reason); err != nil {
			return err
		}
		atTime, err := strToTime(at)
		if err != nil {
			return err
		}
		var artifacts []string
		if err := json.Unmarshal([]byte(artifactsJSON), &artifacts); err != nil {
			return err
		}
		t.History = append(t.History, core.PhaseHistoryEntry{
			From: core.Phase(from), To: core.Phase(to), At: atTime,
			Artifacts: artifacts, Reason: reason,
		})
	}
	return rows.Err()
}

func (s *Store) loadTasks(ctx context.Context, t *core.Ticket) error {
	rows, err := s.readDB.QueryContext(ctx, `
		SELECT id, phase, name, description, status, assigned_to, dependencies,
			resource_keys, required_capability, priority, discovered_by, retries,
			max_retries, timeout_seconds, created_at, started_at, completed_at, error
		FROM tasks WHERE ticket_id = ?`, string(t.ID))
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		task, err := scanTask(rows, t.ID)
		if err != nil {
			return err
		}
		t.Tasks[task.ID] = task
		t.TaskOrder = append(t.TaskOrder, task.ID)
	}
	return rows.Err()
}

func scanTask(rows *sql.Rows, ticketID core.TicketID) (*core.Task, error) {
	var (
		id, phase, name, desc, status, assignedTo, depsJSON, keysJSON string
		requiredCap, discoveredBy, createdAt, errStr                  string
		priority, retries, maxRetries                                 int
		timeoutSeconds                                                int64
		startedAt, completedAt                                        sql.NullString
	)
	if err := rows.Scan(&id, &phase, &name, &desc, &status, &assignedTo, &depsJSON,
		&keysJSON, &requiredCap, &priority, &discoveredBy, &retries, &maxRetries,
		&timeoutSeconds, &createdAt, &startedAt, &completedAt, &errStr); err != nil {
		return nil, err
	}

	var deps []core.TaskID
	if err := json.Unmarshal([]byte(depsJSON), &deps); err != nil {
		return nil, err
	}
	var keys []string
	if err := json.Unmarshal([]byte(keysJSON), &keys); err != nil {
		return nil, err
	}
	created, err := strToTime(createdAt)
	if err != nil {
		return nil, err
	}
	started, err := nullStrToPtrTime(startedAt)
	if err != nil {
		return nil, err
	}
	completed, err := nullStrToPtrTime(completedAt)
	if err != nil {
		return nil, err
	}

	return &core.Task{
		ID: core.TaskID(id), TicketID: ticketID, Phase: core.Phase(phase),
		Name: name, Description: desc, Status: core.TaskStatus(status),
		AssignedTo: core.AgentID(assignedTo), Dependencies: deps, ResourceKeys: keys,
		RequiredCapability: requiredCap, Priority: priority, DiscoveredBy: core.TaskID(discoveredBy),
		Retries: retries, MaxRetries: maxRetries, Timeout: time.Duration(timeoutSeconds) * time.Second,
		CreatedAt: created, StartedAt: started, CompletedAt: completed, Error: errStr,
	}, nil
}

// ListTickets returns every ticket, optionally filtered by status.
func (s *Store) ListTickets(ctx context.Context, status core.TicketStatus) ([]core.TicketID, error) {
	query := `SELECT id FROM tickets`
	args := []any{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at ASC`

	rows, err := s.readDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []core.TicketID
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, core.TicketID(id))
	}
	return out, rows.Err()
}

// SaveAgent upserts an agent's registration record.
func (s *Store) SaveAgent(ctx context.Context, a *core.Agent) error {
	caps, err := json.Marshal(a.Capabilities)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.retryWrite(ctx, "save agent", func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO agents (id, name, status, capabilities, capacity, load,
				success_count, failure_count, registered_at, last_heartbeat)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				name=excluded.name, status=excluded.status, capabilities=excluded.capabilities,
				capacity=excluded.capacity, load=excluded.load, success_count=excluded.success_count,
				failure_count=excluded.failure_count, last_heartbeat=excluded.last_heartbeat`,
			string(a.ID), a.Name, string(a.Status), string(caps), a.Capacity, a.Load,
			a.SuccessCount, a.FailureCount, timeToStr(a.RegisteredAt), timeToStr(a.LastHeartbeat),
		)
		return err
	})
}

// ListAgents returns every registered agent.
func (s *Store) ListAgents(ctx context.Context) ([]*core.Agent, error) {
	rows, err := s.readDB.QueryContext(ctx, `
		SELECT id, name, status, capabilities, capacity, load, success_count,
			failure_count, registered_at, last_heartbeat FROM agents`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*core.Agent
	for rows.Next() {
		var (
			id, name, status, capsJSON, registeredAt, lastHeartbeat string
			capacity, load, successCount, failureCount              int
		)
		if err := rows.Scan(&id, &name, &status, &capsJSON, &capacity, &load,
			&successCount, &failureCount, &registeredAt, &lastHeartbeat); err != nil {
			return nil, err
		}
		var caps []string
		if err := json.Unmarshal([]byte(capsJSON), &caps); err != nil {
			return nil, err
		}
		registered, err := strToTime(registeredAt)
		if err != nil {
			return nil, err
		}
		heartbeat, err := strToTime(lastHeartbeat)
		if err != nil {
			return nil, err
		}
		out = append(out, &core.Agent{
			ID: core.AgentID(id), Name: name, Status: core.AgentStatus(status),
			Capabilities: caps, Capacity: capacity, Load: load,
			SuccessCount: successCount, FailureCount: failureCount,
			RegisteredAt: registered, LastHeartbeat: heartbeat,
		})
	}
	return out, rows.Err()
}

// SaveResourceLock upserts a lock record, bypassing CAS checks. Used to
// snapshot a lock acquired through the CAS surface below, or to restore
// state on startup.
func (s *Store) SaveResourceLock(ctx context.Context, l *core.ResourceLock) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.retryWrite(ctx, "save resource lock", func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO resource_locks (resource_key, mode, holder_task, version, acquired_at, expires_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(resource_key) DO UPDATE SET
				mode=excluded.mode, holder_task=excluded.holder_task, version=excluded.version,
				acquired_at=excluded.acquired_at, expires_at=excluded.expires_at`,
			l.ResourceKey, string(l.Mode), string(l.HolderTask), l.Version,
			timeToStr(l.AcquiredAt), timeToStr(l.ExpiresAt),
		)
		return err
	})
}

// DeleteResourceLock removes a lock record unconditionally.
func (s *Store) DeleteResourceLock(ctx context.Context, resourceKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.retryWrite(ctx, "delete resource lock", func() error {
		_, err := s.db.ExecContext(ctx, `DELETE FROM resource_locks WHERE resource_key = ?`, resourceKey)
		return err
	})
}

// GetResourceLock returns the current lock on key, or nil if unheld.
func (s *Store) GetResourceLock(ctx context.Context, key string) (*core.ResourceLock, error) {
	row := s.readDB.QueryRowContext(ctx, `
		SELECT resource_key, mode, holder_task, version, acquired_at, expires_at
		FROM resource_locks WHERE resource_key = ?`, key)
	return scanResourceLock(row)
}

func scanResourceLock(row *sql.Row) (*core.ResourceLock, error) {
	var key, mode, holder, acquiredAt, expiresAt string
	var version int64
	if err := row.Scan(&key, &mode, &holder, &version, &acquiredAt, &expiresAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	acquired, err := strToTime(acquiredAt)
	if err != nil {
		return nil, err
	}
	expires, err := strToTime(expiresAt)
	if err != nil {
		return nil, err
	}
	return &core.ResourceLock{
		ResourceKey: key, Mode: core.LockMode(mode), HolderTask: core.TaskID(holder),
		Version: version, AcquiredAt: acquired, ExpiresAt: expires,
	}, nil
}

// InsertResourceLock installs a new lock, failing with core.ErrLockUnavailable
// if one already exists for the key, mirroring lock.Store's Insert contract.
func (s *Store) InsertResourceLock(ctx context.Context, l *core.ResourceLock) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.retryWrite(ctx, "insert resource lock", func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO resource_locks (resource_key, mode, holder_task, version, acquired_at, expires_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			l.ResourceKey, string(l.Mode), string(l.HolderTask), l.Version,
			timeToStr(l.AcquiredAt), timeToStr(l.ExpiresAt),
		)
		if isSQLiteUniqueViolation(err) {
			return core.ErrLockUnavailable(l.ResourceKey)
		}
		return err
	})
}

// CompareAndDeleteResourceLock removes the lock for key only if still held
// by holder at version.
func (s *Store) CompareAndDeleteResourceLock(ctx context.Context, key string, holder core.TaskID, version int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.retryWrite(ctx, "compare-and-delete resource lock", func() error {
		res, err := s.db.ExecContext(ctx, `
			DELETE FROM resource_locks WHERE resource_key = ? AND holder_task = ? AND version = ?`,
			key, string(holder), version)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n == 0 {
			return core.ErrLockUnavailable(key)
		}
		return nil
	})
}

// CompareAndSwapResourceLock replaces the lock for key with updated, only if
// the stored lock is still at version.
func (s *Store) CompareAndSwapResourceLock(ctx context.Context, key string, version int64, updated *core.ResourceLock) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.retryWrite(ctx, "compare-and-swap resource lock", func() error {
		res, err := s.db.ExecContext(ctx, `
			UPDATE resource_locks SET mode = ?, holder_task = ?, version = ?, acquired_at = ?, expires_at = ?
			WHERE resource_key = ? AND version = ?`,
			string(updated.Mode), string(updated.HolderTask), updated.Version,
			timeToStr(updated.AcquiredAt), timeToStr(updated.ExpiresAt), key, version)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n == 0 {
			return core.ErrLockUnavailable(key)
		}
		return nil
	})
}

// DeleteExpiredResourceLock evicts the lock for key if it has expired as of
// now, reporting whether a lock was evicted.
func (s *Store) DeleteExpiredResourceLock(ctx context.Context, key string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var evicted bool
	err := s.retryWrite(ctx, "delete expired resource lock", func() error {
		res, execErr := s.db.ExecContext(ctx, `
			DELETE FROM resource_locks WHERE resource_key = ? AND expires_at <= ?`,
			key, timeToStr(now))
		if execErr != nil {
			return execErr
		}
		n, execErr := res.RowsAffected()
		if execErr != nil {
			return execErr
		}
		evicted = n > 0
		return nil
	})
	return evicted, err
}

func isSQLiteUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") || strings.Contains(msg, "sqlite_constraint")
}

// SaveGuardianIntervention persists an issued intervention.
func (s *Store) SaveGuardianIntervention(ctx context.Context, gi *core.GuardianIntervention) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.retryWrite(ctx, "save guardian intervention", func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO guardian_interventions (id, ticket_id, task_id, kind, reason,
				confidence, issued_at, acked, acked_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET acked=excluded.acked, acked_at=excluded.acked_at`,
			gi.ID, string(gi.TicketID), string(gi.TaskID), string(gi.Kind), gi.Reason,
			gi.Confidence, timeToStr(gi.IssuedAt), boolToInt(gi.Acked), ptrTimeToStr(gi.AckedAt),
		)
		return err
	})
}

// LoadGuardianInterventions returns every persisted intervention, most
// recently issued first.
func (s *Store) LoadGuardianInterventions(ctx context.Context) ([]*core.GuardianIntervention, error) {
	rows, err := s.readDB.QueryContext(ctx, `
		SELECT id, ticket_id, task_id, kind, reason, confidence, issued_at, acked, acked_at
		FROM guardian_interventions ORDER BY issued_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*core.GuardianIntervention
	for rows.Next() {
		var gi core.GuardianIntervention
		var ticketID, taskID, issuedAt string
		var ackedAt sql.NullString
		var acked int
		if err := rows.Scan(&gi.ID, &ticketID, &taskID, &gi.Kind, &gi.Reason, &gi.Confidence, &issuedAt, &acked, &ackedAt); err != nil {
			return nil, err
		}
		gi.TicketID = core.TicketID(ticketID)
		gi.TaskID = core.TaskID(taskID)
		gi.Acked = acked != 0
		if t, err := strToTime(issuedAt); err == nil {
			gi.IssuedAt = t
		}
		if ackedAt.Valid {
			if t, err := strToTime(ackedAt.String); err == nil {
				gi.AckedAt = &t
			}
		}
		out = append(out, &gi)
	}
	return out, rows.Err()
}

// AckGuardianIntervention marks a persisted intervention acknowledged. It
// reports core.ErrNotFound if no intervention with that ID was persisted.
func (s *Store) AckGuardianIntervention(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var notFound bool
	err := s.retryWrite(ctx, "ack guardian intervention", func() error {
		res, execErr := s.db.ExecContext(ctx, `
			UPDATE guardian_interventions SET acked = 1, acked_at = ? WHERE id = ?`,
			timeToStr(time.Now()), id)
		if execErr != nil {
			return execErr
		}
		n, execErr := res.RowsAffected()
		if execErr != nil {
			return execErr
		}
		notFound = n == 0
		return nil
	})
	if err != nil {
		return err
	}
	if notFound {
		return core.ErrNotFound("guardian_intervention", id)
	}
	return nil
}

// SaveTaskDiscovery persists a recorded discovery, upserting on
// resolution (accept/decline sets spawned_task_id/status/resolved_at).
func (s *Store) SaveTaskDiscovery(ctx context.Context, d *core.TaskDiscovery) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.retryWrite(ctx, "save task discovery", func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO task_discoveries (id, source_task_id, ticket_id, phase, type, title,
				description, priority_boost, status, spawned_task_id, created_at, resolved_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				status=excluded.status, spawned_task_id=excluded.spawned_task_id,
				resolved_at=excluded.resolved_at`,
			d.ID, string(d.SourceTaskID), string(d.TicketID), string(d.Phase), string(d.Type), d.Title,
			d.Description, boolToInt(d.PriorityBoost), string(d.Status), string(d.SpawnedTaskID),
			timeToStr(d.CreatedAt), ptrTimeToStr(d.ResolvedAt),
		)
		return err
	})
}

// LoadTaskDiscoveries returns every discovery recorded for a ticket,
// oldest first, the set internal/discovery.WorkflowGraph walks to
// materialize discovery edges alongside dependency edges.
func (s *Store) LoadTaskDiscoveries(ctx context.Context, ticketID core.TicketID) ([]*core.TaskDiscovery, error) {
	rows, err := s.readDB.QueryContext(ctx, `
		SELECT id, source_task_id, ticket_id, phase, type, title, description, priority_boost,
			status, spawned_task_id, created_at, resolved_at
		FROM task_discoveries WHERE ticket_id = ? ORDER BY created_at ASC`, string(ticketID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*core.TaskDiscovery
	for rows.Next() {
		var d core.TaskDiscovery
		var sourceTaskID, tid, phase, discType, status, spawnedTaskID, createdAt string
		var resolvedAt sql.NullString
		var priorityBoost int
		if err := rows.Scan(&d.ID, &sourceTaskID, &tid, &phase, &discType, &d.Title, &d.Description,
			&priorityBoost, &status, &spawnedTaskID, &createdAt, &resolvedAt); err != nil {
			return nil, err
		}
		d.SourceTaskID = core.TaskID(sourceTaskID)
		d.TicketID = core.TicketID(tid)
		d.Phase = core.Phase(phase)
		d.Type = core.DiscoveryType(discType)
		d.PriorityBoost = priorityBoost != 0
		d.Status = core.DiscoveryStatus(status)
		d.SpawnedTaskID = core.TaskID(spawnedTaskID)
		if t, err := strToTime(createdAt); err == nil {
			d.CreatedAt = t
		}
		if resolvedAt.Valid {
			if t, err := strToTime(resolvedAt.String); err == nil {
				d.ResolvedAt = &t
			}
		}
		out = append(out, &d)
	}
	return out, rows.Err()
}

// ExportReport atomically writes data to path, the durable counterpart
// to enginectl's usual stdout report: a reader polling for the file
// (CI artifact collection, a scheduled export) never observes a
// truncated write, since the rename is the only visible mutation.
func (s *Store) ExportReport(path string, data []byte) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating report directory: %w", err)
		}
	}
	return atomicWriteFile(path, data, 0o644)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// AppendEvent persists one event-bus event into the append-only log,
// keyed by ticket for the recent(entity_id, since) query pattern.
func (s *Store) AppendEvent(ctx context.Context, evt events.Event) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.retryWrite(ctx, "append event", func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO events (entity_id, project_id, type, at, payload)
			VALUES (?, ?, ?, ?, ?)`,
			evt.TicketID(), evt.ProjectID(), evt.EventType(), timeToStr(evt.Timestamp()), string(payload),
		)
		return err
	})
}

// RecentEvents returns raw event payloads for an entity since a given
// time, newest last — a straight indexed query rather than a bus replay.
func (s *Store) RecentEvents(ctx context.Context, entityID string, since time.Time) ([]json.RawMessage, error) {
	rows, err := s.readDB.QueryContext(ctx, `
		SELECT payload FROM events WHERE entity_id = ? AND at >= ? ORDER BY at ASC`,
		entityID, timeToStr(since))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []json.RawMessage
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		out = append(out, json.RawMessage(payload))
	}
	return out, rows.Err()
}
