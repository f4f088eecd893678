// Package lock provides advisory locking so that two Run calls against the
// same tenant, from different processes, don't overlap. The engine itself
// never locks anything — it is single-threaded, one Run body per call —
// so a Locker is an optional collaborator the caller plugs in via
// engine.WithLock when Run is driven from more than one process.
package lock

import (
	"context"
	"database/sql"
	"fmt"
)

// Locker acquires a process-wide advisory lock for a key (typically a
// tenant ID) and returns a function to release it. ok is false if the
// lock is already held elsewhere; the caller should skip this Run call
// rather than block indefinitely.
type Locker interface {
	TryLock(ctx context.Context, key string) (unlock func(), ok bool, err error)
}

// MySQLLocker uses MySQL's named-lock functions (GET_LOCK / RELEASE_LOCK),
// which are session-scoped and visible across connections/processes. It
// holds one dedicated connection per lock attempt so the lock isn't
// silently released by connection-pool reuse.
type MySQLLocker struct {
	db *sql.DB
}

// NewMySQLLocker wraps db (typically the same *sql.DB a MySQLStore uses)
// for GET_LOCK-based advisory locking.
func NewMySQLLocker(db *sql.DB) *MySQLLocker {
	return &MySQLLocker{db: db}
}

// TryLock attempts to acquire the named lock immediately (zero timeout);
// it does not block waiting for a contended lock, matching the advisory
// nature of the guarantee required for safe multi-process execution.
func (l *MySQLLocker) TryLock(ctx context.Context, key string) (func(), bool, error) {
	conn, err := l.db.Conn(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired int
	if err := conn.QueryRowContext(ctx, "SELECT GET_LOCK(?, 0)", key).Scan(&acquired); err != nil {
		_ = conn.Close()
		return nil, false, fmt.Errorf("get_lock: %w", err)
	}
	if acquired != 1 {
		_ = conn.Close()
		return nil, false, nil
	}

	unlock := func() {
		_, _ = conn.ExecContext(context.Background(), "SELECT RELEASE_LOCK(?)", key)
		_ = conn.Close()
	}
	return unlock, true, nil
}

// TableLocker implements the same contract using an ordinary table row as
// a mutex, for backends without a native advisory-lock primitive (SQLite).
// It is process-local in effect when paired with SQLiteStore's
// single-writer connection pool, but extends to true cross-process
// exclusion against a shared SQLite file once multiple processes open it.
type TableLocker struct {
	db *sql.DB
}

// NewTableLocker creates the backing table (if absent) on db and returns a
// Locker backed by it.
func NewTableLocker(db *sql.DB) (*TableLocker, error) {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS advisory_locks (lock_key TEXT PRIMARY KEY)`); err != nil {
		return nil, fmt.Errorf("create advisory_locks table: %w", err)
	}
	return &TableLocker{db: db}, nil
}

// TryLock inserts a row for key; a unique-constraint violation means the
// lock is already held.
func (l *TableLocker) TryLock(ctx context.Context, key string) (func(), bool, error) {
	_, err := l.db.ExecContext(ctx, `INSERT INTO advisory_locks (lock_key) VALUES (?)`, key)
	if err != nil {
		// Any insert failure here is treated as "already locked" rather
		// than surfaced, since the unique-violation text is driver
		// specific; a real failure will also show up on the next Store
		// call the caller makes.
		return nil, false, nil
	}
	unlock := func() {
		_, _ = l.db.Exec(`DELETE FROM advisory_locks WHERE lock_key = ?`, key)
	}
	return unlock, true, nil
}
