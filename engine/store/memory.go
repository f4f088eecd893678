package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory Store implementation. It is thread-safe and
// is intended for unit tests, quickstarts, and single-process experiments
// where durability across restarts isn't required.
type MemoryStore struct {
	mu       sync.Mutex
	tenantID string
	entries  map[string]*StateEntry // key: runID + "\x00" + name
	order    []*StateEntry          // insertion order, for GetDBHistory
	lastKey  string                 // key of the entry the pointer references
	hasLast  bool
}

// NewMemoryStore creates an in-memory store scoped to tenantID. tenantID
// may be empty for single-tenant use; it exists purely so MemoryStore's
// constructor shape matches the SQL-backed stores.
func NewMemoryStore(tenantID string) *MemoryStore {
	return &MemoryStore{
		tenantID: tenantID,
		entries:  make(map[string]*StateEntry),
	}
}

func memKey(runID, name string) string {
	return runID + "\x00" + name
}

func cloneEntry(e *StateEntry) *StateEntry {
	if e == nil {
		return nil
	}
	cp := *e
	cp.Params = cloneParams(e.Params)
	cp.Errors = append([]ErrorRecord(nil), e.Errors...)
	return &cp
}

func cloneParams(p map[string]any) map[string]any {
	if p == nil {
		return nil
	}
	cp := make(map[string]any, len(p))
	for k, v := range p {
		cp[k] = v
	}
	return cp
}

// GetLastState returns the entry the status pointer references, if any.
func (m *MemoryStore) GetLastState(_ context.Context) (*StateEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.hasLast {
		return nil, nil
	}
	return cloneEntry(m.entries[m.lastKey]), nil
}

// NewInitialState allocates a fresh runID and returns an unpersisted
// INITIAL_STATE entry.
func (m *MemoryStore) NewInitialState(_ context.Context) (*StateEntry, error) {
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

// SaveState persists entry and advances the pointer.
func (m *MemoryStore) SaveState(_ context.Context, entry *StateEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := cloneEntry(entry)
	key := memKey(stored.RunID, stored.Name)
	if _, exists := m.entries[key]; !exists {
		m.order = append(m.order, stored)
	}
	m.entries[key] = stored
	m.lastKey = key
	m.hasLast = true
	return nil
}

// YieldState flips the yielded flag without moving the pointer.
func (m *MemoryStore) YieldState(_ context.Context, entry *StateEntry, yielded bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := memKey(entry.RunID, entry.Name)
	stored, ok := m.entries[key]
	if !ok {
		return ErrNotFound
	}
	stored.Yielded = yielded
	entry.Yielded = yielded
	return nil
}

// FindState looks up an entry by composite key; absence is not an error.
func (m *MemoryStore) FindState(_ context.Context, name, runID string) (*StateEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.entries[memKey(runID, name)]
	if !ok {
		return nil, nil
	}
	return cloneEntry(stored), nil
}

// SetCurrentState upserts the (runID, name) entry and advances the pointer.
func (m *MemoryStore) SetCurrentState(_ context.Context, name, runID, errMsg string, params map[string]any, start, end time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := memKey(runID, name)
	stored, exists := m.entries[key]
	if exists {
		stored.VisitCount++
		stored.Params = cloneParams(params)
		stored.StartTime = start
		stored.EndTime = end
		if errMsg != "" {
			stored.Errors = append(stored.Errors, ErrorRecord{Error: errMsg, VisitIdx: stored.VisitCount})
		}
	} else {
		stored = &StateEntry{
			RunID:      runID,
			Name:       name,
			StartTime:  start,
			EndTime:    end,
			Params:     cloneParams(params),
			VisitCount: 1,
		}
		if errMsg != "" {
			stored.Errors = []ErrorRecord{{Error: errMsg, VisitIdx: 1}}
		}
		m.entries[key] = stored
		m.order = append(m.order, stored)
	}
	m.lastKey = key
	m.hasLast = true
	return nil
}

// Terminate upserts a TERMINAL_STATE entry with the ceiling-exhaustion
// error and advances the pointer.
func (m *MemoryStore) Terminate(ctx context.Context, runID string) error {
	now := time.Now().UTC()
	return m.SetCurrentState(ctx, TerminalState, runID, "Max retry count reached", map[string]any{}, now, now)
}

// GetDBHistory returns every entry in ascending insertion order.
func (m *MemoryStore) GetDBHistory(_ context.Context) ([]*StateEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*StateEntry, len(m.order))
	for i, e := range m.order {
		out[i] = cloneEntry(e)
	}
	return out, nil
}
