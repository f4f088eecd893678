package engine

import (
	"context"

	"github.com/sdyne/statewalk/engine/store"
)

// visitAccountant enforces the per-state visit ceilings.
type visitAccountant struct {
	limits map[string]int
}

func newVisitAccountant(limits map[string]int) *visitAccountant {
	a := &visitAccountant{limits: make(map[string]int, len(limits))}
	for k, v := range limits {
		a.limits[k] = v
	}
	if _, ok := a.limits[store.DefaultLimitKey]; !ok {
		a.limits[store.DefaultLimitKey] = 1
	}
	return a
}

// limitFor returns the effective ceiling for stateName: its own entry if
// present, else DEFAULT, else 1.
func (a *visitAccountant) limitFor(stateName string) int {
	if n, ok := a.limits[stateName]; ok {
		return n
	}
	return a.limits[store.DefaultLimitKey]
}

// ceilingReached asks st for the current visit count of (runID, stateName)
// and reports whether entering it again would exceed its ceiling.
func (a *visitAccountant) ceilingReached(ctx context.Context, st store.Store, stateName, runID string) (bool, error) {
	existing, err := st.FindState(ctx, stateName, runID)
	if err != nil {
		return false, err
	}
	limit := a.limitFor(stateName)
	if existing != nil && existing.VisitCount >= limit {
		return true, nil
	}
	return false, nil
}
