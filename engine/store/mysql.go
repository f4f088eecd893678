package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
)

// MySQLStore is a MySQL/MariaDB-backed Store, for production deployments
// that need the engine's history to survive process restarts and to be
// shared across workers (coordinated via engine/lock's GET_LOCK-based
// advisory locker, since MySQLStore and the locker share one *sql.DB).
//
// Schema mirrors SQLiteStore's: state_entries (history) and state_status
// (pointer), both scoped by tenant_id.
type MySQLStore struct {
	db       *sql.DB
	tenantID string
}

// NewMySQLStore opens a connection pool against dsn and ensures the schema
// exists. dsn follows the go-sql-driver/mysql DSN format, e.g.
// "user:password@tcp(127.0.0.1:3306)/statewalk?parseTime=true".
//
// parseTime=true is required: the store scans TIMESTAMP/DATETIME columns
// directly into time.Time.
func NewMySQLStore(dsn, tenantID string) (*MySQLStore, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	cfg.ParseTime = true

	db, err := sql.Open("mysql", cfg.FormatDSN())
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(4)
	db.SetConnMaxLifetime(time.Hour)

	s := &MySQLStore{db: db, tenantID: tenantID}
	if err := s.createTables(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}
	return s, nil
}

func (s *MySQLStore) createTables(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS state_entries (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			tenant_id VARCHAR(191) NOT NULL,
			run_id VARCHAR(191) NOT NULL,
			name VARCHAR(191) NOT NULL,
			start_time DATETIME(6) NOT NULL,
			end_time DATETIME(6) NOT NULL,
			params JSON NOT NULL,
			visit_count INT NOT NULL,
			errors JSON NOT NULL,
			yielded TINYINT(1) NOT NULL DEFAULT 0,
			UNIQUE KEY uniq_tenant_run_name (tenant_id, run_id, name),
			KEY idx_tenant_run (tenant_id, run_id)
		) ENGINE=InnoDB`,
		`CREATE TABLE IF NOT EXISTS state_status (
			tenant_id VARCHAR(191) PRIMARY KEY,
			last_state_id BIGINT NOT NULL,
			ref_state_name VARCHAR(191) NOT NULL,
			update_time DATETIME(6) NOT NULL
		) ENGINE=InnoDB`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// Close releases the underlying connection pool.
func (s *MySQLStore) Close() error {
	return s.db.Close()
}

// DB exposes the underlying *sql.DB so engine/lock can share the
// connection pool for MySQL GET_LOCK-based advisory locking.
func (s *MySQLStore) DB() *sql.DB {
	return s.db
}

const mysqlEntryColumns = "id, run_id, name, start_time, end_time, params, visit_count, errors, yielded"

func scanMySQLEntry(row interface{ Scan(dest ...any) error }) (*StateEntry, int64, error) {
	var (
		id                   int64
		runID, name          string
		start, end           time.Time
		paramsJSON, errsJSON []byte
		visitCount           int
		yielded              bool
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
		Yielded:    yielded,
	}
	if err := json.Unmarshal(paramsJSON, &entry.Params); err != nil {
		return nil, 0, fmt.Errorf("unmarshal params: %w", err)
	}
	if err := json.Unmarshal(errsJSON, &entry.Errors); err != nil {
		return nil, 0, fmt.Errorf("unmarshal errors: %w", err)
	}
	return entry, id, nil
}

// GetLastState returns the entry the tenant's status pointer references.
func (s *MySQLStore) GetLastState(ctx context.Context) (*StateEntry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+mysqlEntryColumns+` FROM state_entries
		WHERE id = (SELECT last_state_id FROM state_status WHERE tenant_id = ?)`, s.tenantID)
	entry, _, err := scanMySQLEntry(row)
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
func (s *MySQLStore) NewInitialState(_ context.Context) (*StateEntry, error) {
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

func (s *MySQLStore) setLastState(ctx context.Context, tx *sql.Tx, id int64, name string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO state_status (tenant_id, last_state_id, ref_state_name, update_time)
		VALUES (?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE last_state_id = VALUES(last_state_id), ref_state_name = VALUES(ref_state_name), update_time = VALUES(update_time)`,
		s.tenantID, id, name, time.Now().UTC())
	return err
}

// SaveState persists entry and points the status row at it.
func (s *MySQLStore) SaveState(ctx context.Context, entry *StateEntry) error {
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

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO state_entries (tenant_id, run_id, name, start_time, end_time, params, visit_count, errors, yielded)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			start_time = VALUES(start_time), end_time = VALUES(end_time), params = VALUES(params),
			visit_count = VALUES(visit_count), errors = VALUES(errors), yielded = VALUES(yielded)`,
		s.tenantID, entry.RunID, entry.Name, entry.StartTime, entry.EndTime, paramsJSON, entry.VisitCount, errsJSON, entry.Yielded); err != nil {
		return err
	}

	var id int64
	row := tx.QueryRowContext(ctx, `SELECT id FROM state_entries WHERE tenant_id = ? AND run_id = ? AND name = ?`, s.tenantID, entry.RunID, entry.Name)
	if err := row.Scan(&id); err != nil {
		return err
	}
	if err := s.setLastState(ctx, tx, id, entry.Name); err != nil {
		return err
	}
	return tx.Commit()
}

// YieldState flips the yielded flag on an existing entry.
func (s *MySQLStore) YieldState(ctx context.Context, entry *StateEntry, yielded bool) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE state_entries SET yielded = ? WHERE tenant_id = ? AND run_id = ? AND name = ?`,
		yielded, s.tenantID, entry.RunID, entry.Name)
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
func (s *MySQLStore) FindState(ctx context.Context, name, runID string) (*StateEntry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+mysqlEntryColumns+` FROM state_entries
		WHERE tenant_id = ? AND run_id = ? AND name = ?`, s.tenantID, runID, name)
	entry, _, err := scanMySQLEntry(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// SetCurrentState upserts the (runID, name) entry and advances the pointer.
func (s *MySQLStore) SetCurrentState(ctx context.Context, name, runID, errMsg string, params map[string]any, start, end time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var (
		id               int64
		visitCount       int
		existingErrsJSON []byte
		existed          bool
	)
	row := tx.QueryRowContext(ctx, `
		SELECT id, visit_count, errors FROM state_entries
		WHERE tenant_id = ? AND run_id = ? AND name = ? FOR UPDATE`, s.tenantID, runID, name)
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
		if err := json.Unmarshal(existingErrsJSON, &errs); err != nil {
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
			WHERE id = ?`, start, end, paramsJSON, visitCount, errsJSON, id); err != nil {
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
			s.tenantID, runID, name, start, end, paramsJSON, errsJSON)
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
func (s *MySQLStore) Terminate(ctx context.Context, runID string) error {
	now := time.Now().UTC()
	return s.SetCurrentState(ctx, TerminalState, runID, "Max retry count reached", map[string]any{}, now, now)
}

// GetDBHistory returns every entry for this tenant in ascending insertion
// order.
func (s *MySQLStore) GetDBHistory(ctx context.Context) ([]*StateEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+mysqlEntryColumns+` FROM state_entries WHERE tenant_id = ? ORDER BY id ASC`, s.tenantID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*StateEntry
	for rows.Next() {
		entry, _, err := scanMySQLEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}
