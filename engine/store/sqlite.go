package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteStore is a SQLite-backed Store, implemented with the pure-Go
// modernc.org/sqlite driver (no cgo). It is designed for development,
// single-process deployments, and as the demo CLI's durable store option.
//
// Schema:
//   - state_entries: one row per (tenant_id, run_id, name), history of
//     every visited state.
//   - state_status: at most one row per tenant_id, naming the entry the
//     engine should resume from.
type SQLiteStore struct {
	db       *sql.DB
	mu       sync.RWMutex
	closed   bool
	tenantID string
}

// NewSQLiteStore opens (or creates) a SQLite database at path and ensures
// the schema exists. path may be ":memory:" for an ephemeral database.
func NewSQLiteStore(path, tenantID string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	ctx := context.Background()
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	s := &SQLiteStore{db: db, tenantID: tenantID}
	if err := s.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) createTables(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS state_entries (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			tenant_id TEXT NOT NULL,
			run_id TEXT NOT NULL,
			name TEXT NOT NULL,
			start_time TIMESTAMP NOT NULL,
			end_time TIMESTAMP NOT NULL,
			params TEXT NOT NULL,
			visit_count INTEGER NOT NULL,
			errors TEXT NOT NULL,
			yielded INTEGER NOT NULL DEFAULT 0,
			UNIQUE(tenant_id, run_id, name)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_state_entries_run ON state_entries(tenant_id, run_id)`,
		`CREATE TABLE IF NOT EXISTS state_status (
			tenant_id TEXT PRIMARY KEY,
			last_state_id INTEGER NOT NULL,
			ref_state_name TEXT NOT NULL,
			update_time TIMESTAMP NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// Close releases the underlying database connection.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return s.db.Close()
}

func scanEntry(row interface {
	Scan(dest ...any) error
}) (*StateEntry, int64, error) {
	var (
		id                   int64
		runID, name          string
		start, end           time.Time
		paramsJSON, errsJSON string
		visitCount           int
		yielded              int
	)
	if err := row.Scan(&id, &runID, &name, &start, &end, &paramsJSON, &visitCount, &errsJSON, &yielded); err != nil {
		return nil, 0, err
	}
	entry := &StateEntry{
		RunID:      runID,
		Name:       name,
		StartTime:  start,
		EndTime:    end,
		VisitCount: visitCount,
		Yielded:    yielded != 0,
	}
	if err := json.Unmarshal([]byte(paramsJSON), &entry.Params); err != nil {
		return nil, 0, fmt.Errorf("unmarshal params: %w", err)
	}
	if err := json.Unmarshal([]byte(errsJSON), &entry.Errors); err != nil {
		return nil, 0, fmt.Errorf("unmarshal errors: %w", err)
	}
	return entry, id, nil
}

const entryColumns = "id, run_id, name, start_time, end_time, params, visit_count, errors, yielded"

// GetLastState returns the entry the tenant's status pointer references.
func (s *SQLiteStore) GetLastState(ctx context.Context) (*StateEntry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+entryColumns+` FROM state_entries
		WHERE id = (SELECT last_state_id FROM state_status WHERE tenant_id = ?)`, s.tenantID)
	entry, _, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// NewInitialState allocates a fresh runID and returns an unpersisted
// INITIAL_STATE entry.
func (s *SQLiteStore) NewInitialState(_ context.Context) (*StateEntry, error) {
	now := time.Now().UTC()
	return &StateEntry{
		RunID:      uuid.NewString(),
		Name:       InitialState,
		StartTime:  now,
		EndTime:    now,
		Params:     map[string]any{},
		VisitCount: 1,
	}, nil
}

func (s *SQLiteStore) setLastState(ctx context.Context, tx *sql.Tx, id int64, name string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO state_status (tenant_id, last_state_id, ref_state_name, update_time)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(tenant_id) DO UPDATE SET
			last_state_id = excluded.last_state_id,
			ref_state_name = excluded.ref_state_name,
			update_time = excluded.update_time`,
		s.tenantID, id, name, time.Now().UTC())
	return err
}

// SaveState persists entry and points the status row at it.
func (s *SQLiteStore) SaveState(ctx context.Context, entry *StateEntry) error {
	paramsJSON, err := json.Marshal(entry.Params)
	if err != nil {
		return fmt.Errorf("marshal params: %w", err)
	}
	errsJSON, err := json.Marshal(entry.Errors)
	if err != nil {
		return fmt.Errorf("marshal errors: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO state_entries (tenant_id, run_id, name, start_time, end_time, params, visit_count, errors, yielded)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id, run_id, name) DO UPDATE SET
			start_time = excluded.start_time,
			end_time = excluded.end_time,
			params = excluded.params,
			visit_count = excluded.visit_count,
			errors = excluded.errors,
			yielded = excluded.yielded`,
		s.tenantID, entry.RunID, entry.Name, entry.StartTime, entry.EndTime, string(paramsJSON), entry.VisitCount, string(errsJSON), boolToInt(entry.Yielded))
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil || id == 0 {
		// ON CONFLICT UPDATE doesn't report LastInsertId on sqlite in all
		// driver versions; look the row up explicitly.
		row := tx.QueryRowContext(ctx, `SELECT id FROM state_entries WHERE tenant_id = ? AND run_id = ? AND name = ?`, s.tenantID, entry.RunID, entry.Name)
		if scanErr := row.Scan(&id); scanErr != nil {
			return scanErr
		}
	}
	if err := s.setLastState(ctx, tx, id, entry.Name); err != nil {
		return err
	}
	return tx.Commit()
}

// YieldState flips the yielded flag on an existing entry.
func (s *SQLiteStore) YieldState(ctx context.Context, entry *StateEntry, yielded bool) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE state_entries SET yielded = ? WHERE tenant_id = ? AND run_id = ? AND name = ?`,
		boolToInt(yielded), s.tenantID, entry.RunID, entry.Name)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	entry.Yielded = yielded
	return nil
}

// FindState looks up an entry by composite key; absence is not an error.
func (s *SQLiteStore) FindState(ctx context.Context, name, runID string) (*StateEntry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+entryColumns+` FROM state_entries
		WHERE tenant_id = ? AND run_id = ? AND name = ?`, s.tenantID, runID, name)
	entry, _, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// SetCurrentState upserts the (runID, name) entry and advances the pointer.
func (s *SQLiteStore) SetCurrentState(ctx context.Context, name, runID, errMsg string, params map[string]any, start, end time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var (
		id                   int64
		visitCount           int
		existingErrsJSON     string
		existed              bool
	)
	row := tx.QueryRowContext(ctx, `
		SELECT id, visit_count, errors FROM state_entries
		WHERE tenant_id = ? AND run_id = ? AND name = ?`, s.tenantID, runID, name)
	switch scanErr := row.Scan(&id, &visitCount, &existingErrsJSON); scanErr {
	case nil:
		existed = true
	case sql.ErrNoRows:
		existed = false
	default:
		return scanErr
	}

	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("marshal params: %w", err)
	}

	if existed {
		var errs []ErrorRecord
		if err := json.Unmarshal([]byte(existingErrsJSON), &errs); err != nil {
			return fmt.Errorf("unmarshal errors: %w", err)
		}
		visitCount++
		if errMsg != "" {
			errs = append(errs, ErrorRecord{Error: errMsg, VisitIdx: visitCount})
		}
		errsJSON, err := json.Marshal(errs)
		if err != nil {
			return fmt.Errorf("marshal errors: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE state_entries SET start_time = ?, end_time = ?, params = ?, visit_count = ?, errors = ?
			WHERE id = ?`, start, end, string(paramsJSON), visitCount, string(errsJSON), id); err != nil {
			return err
		}
	} else {
		var errs []ErrorRecord
		if errMsg != "" {
			errs = []ErrorRecord{{Error: errMsg, VisitIdx: 1}}
		}
		errsJSON, err := json.Marshal(errs)
		if err != nil {
			return fmt.Errorf("marshal errors: %w", err)
		}
		res, err := tx.ExecContext(ctx, `
			INSERT INTO state_entries (tenant_id, run_id, name, start_time, end_time, params, visit_count, errors, yielded)
			VALUES (?, ?, ?, ?, ?, ?, 1, ?, 0)`,
			s.tenantID, runID, name, start, end, string(paramsJSON), string(errsJSON))
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		if err != nil {
			return err
		}
	}

	if err := s.setLastState(ctx, tx, id, name); err != nil {
		return err
	}
	return tx.Commit()
}

// Terminate upserts a TERMINAL_STATE entry with the ceiling-exhaustion
// error and advances the pointer.
func (s *SQLiteStore) Terminate(ctx context.Context, runID string) error {
	now := time.Now().UTC()
	return s.SetCurrentState(ctx, TerminalState, runID, "Max retry count reached", map[string]any{}, now, now)
}

// GetDBHistory returns every entry for this tenant in ascending insertion
// order.
func (s *SQLiteStore) GetDBHistory(ctx context.Context) ([]*StateEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+entryColumns+` FROM state_entries WHERE tenant_id = ? ORDER BY id ASC`, s.tenantID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*StateEntry
	for rows.Next() {
		entry, _, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
