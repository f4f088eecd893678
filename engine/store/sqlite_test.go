package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(":memory:", "tenant-sqlite")
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	return s
}

func TestSQLiteStore_SaveAndGetLastState(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLiteStore(t)
	defer s.Close()

	last, err := s.GetLastState(ctx)
	if err != nil {
		t.Fatalf("GetLastState: %v", err)
	}
	if last != nil {
		t.Fatalf("expected nil on fresh store, got %+v", last)
	}

	fresh, err := s.NewInitialState(ctx)
	if err != nil {
		t.Fatalf("NewInitialState: %v", err)
	}
	if err := s.SaveState(ctx, fresh); err != nil {
		t.Fatalf("SaveState: %v", err)
	}

	last, err = s.GetLastState(ctx)
	if err != nil {
		t.Fatalf("GetLastState: %v", err)
	}
	if last == nil || last.Name != InitialState || last.RunID != fresh.RunID {
		t.Fatalf("expected pointer at INITIAL_STATE for %s, got %+v", fresh.RunID, last)
	}
}

func TestSQLiteStore_SetCurrentStateUpsertAndErrors(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLiteStore(t)
	defer s.Close()

	runID := "run-001"
	now := time.Now().UTC()

	if err := s.SetCurrentState(ctx, "A", runID, "", map[string]any{"k": 1}, now, now); err != nil {
		t.Fatalf("SetCurrentState: %v", err)
	}
	entry, err := s.FindState(ctx, "A", runID)
	if err != nil {
		t.Fatalf("FindState: %v", err)
	}
	if entry == nil || entry.VisitCount != 1 || entry.Params["k"].(float64) != 1 {
		t.Fatalf("unexpected entry after first write: %+v", entry)
	}

	if err := s.SetCurrentState(ctx, "A", runID, "boom", map[string]any{"k": 2}, now, now); err != nil {
		t.Fatalf("SetCurrentState (second): %v", err)
	}
	entry, err = s.FindState(ctx, "A", runID)
	if err != nil {
		t.Fatalf("FindState: %v", err)
	}
	if entry.VisitCount != 2 {
		t.Fatalf("expected VisitCount=2, got %d", entry.VisitCount)
	}
	if len(entry.Errors) != 1 || entry.Errors[0].Error != "boom" || entry.Errors[0].VisitIdx != 2 {
		t.Fatalf("expected one error at visitIdx=2, got %+v", entry.Errors)
	}

	last, err := s.GetLastState(ctx)
	if err != nil {
		t.Fatalf("GetLastState: %v", err)
	}
	if last == nil || last.Name != "A" {
		t.Fatalf("expected pointer to follow SetCurrentState writes, got %+v", last)
	}
}

func TestSQLiteStore_FindStateMissingIsNotError(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLiteStore(t)
	defer s.Close()

	entry, err := s.FindState(ctx, "NOWHERE", "run-x")
	if err != nil {
		t.Fatalf("FindState: %v", err)
	}
	if entry != nil {
		t.Fatalf("expected nil entry for missing state, got %+v", entry)
	}
}

func TestSQLiteStore_YieldState(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLiteStore(t)
	defer s.Close()

	runID := "run-yield"
	now := time.Now().UTC()
	if err := s.SetCurrentState(ctx, "WAITING", runID, "", map[string]any{}, now, now); err != nil {
		t.Fatalf("SetCurrentState: %v", err)
	}
	entry, err := s.FindState(ctx, "WAITING", runID)
	if err != nil {
		t.Fatalf("FindState: %v", err)
	}
	if err := s.YieldState(ctx, entry, true); err != nil {
		t.Fatalf("YieldState: %v", err)
	}
	entry, _ = s.FindState(ctx, "WAITING", runID)
	if !entry.Yielded {
		t.Fatal("expected Yielded=true")
	}

	missing := &StateEntry{RunID: runID, Name: "NOWHERE"}
	if err := s.YieldState(ctx, missing, true); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSQLiteStore_TerminateAndHistory(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLiteStore(t)
	defer s.Close()

	runID := "run-term"
	now := time.Now().UTC()
	if err := s.SetCurrentState(ctx, InitialState, runID, "", map[string]any{}, now, now); err != nil {
		t.Fatalf("SetCurrentState: %v", err)
	}
	if err := s.Terminate(ctx, runID); err != nil {
		t.Fatalf("Terminate: %v", err)
	}

	hist, err := s.GetDBHistory(ctx)
	if err != nil {
		t.Fatalf("GetDBHistory: %v", err)
	}
	if len(hist) != 2 {
		t.Fatalf("expected 2 history entries, got %d", len(hist))
	}
	if hist[0].Name != InitialState || hist[1].Name != TerminalState {
		t.Fatalf("expected ascending INITIAL_STATE, TERMINAL_STATE order, got %+v, %+v", hist[0].Name, hist[1].Name)
	}
	if !hist[1].IsTerminal() {
		t.Fatal("expected second entry to be terminal")
	}
}

func TestSQLiteStore_TenantIsolation(t *testing.T) {
	ctx := context.Background()
	// Both stores share one database file, so only tenant_id scoping keeps
	// tenant-a's rows out of tenant-b's view.
	path := filepath.Join(t.TempDir(), "tenants.db")
	a, err := NewSQLiteStore(path, "tenant-a")
	if err != nil {
		t.Fatalf("NewSQLiteStore a: %v", err)
	}
	defer a.Close()
	b, err := NewSQLiteStore(path, "tenant-b")
	if err != nil {
		t.Fatalf("NewSQLiteStore b: %v", err)
	}
	defer b.Close()

	now := time.Now().UTC()
	if err := a.SetCurrentState(ctx, "A", "run-1", "", map[string]any{}, now, now); err != nil {
		t.Fatalf("SetCurrentState a: %v", err)
	}

	last, err := b.GetLastState(ctx)
	if err != nil {
		t.Fatalf("GetLastState b: %v", err)
	}
	if last != nil {
		t.Fatalf("expected tenant-b to see no state, got %+v", last)
	}
}
