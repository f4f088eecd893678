package engine

import (
	"context"
	"fmt"

	"github.com/sdyne/statewalk/engine/store"
)

// Action is a transition action: the opaque, user-supplied function the
// engine invokes when it enters a state with a non-nil action. It returns
// the action's raw result as `any` and an error; adaptResult (result.go)
// normalizes whatever comes back into the engine's canonical
// (ok, err, params) triple. Supported raw shapes:
//
//   - a bool: true means success, false failure, no params carried forward
//   - an ActionResult: the engine's own canonical tuple, returned as-is
//   - a map[string]any: success, carrying that map forward as params
//   - nil: success, with an empty params map
//
// A non-nil error return (or a panic, which Run recovers) always yields
// failure, regardless of the value — the action's contract is lenient by
// design so action authors can write "return params, nil" when they have
// nothing more to say.
type Action func(ctx context.Context, params map[string]any) (any, error)

// ActionResult is the canonical action return shape: the (ok, err, params)
// triple a transition action may return directly instead of relying on
// normalization.
type ActionResult struct {
	OK     bool
	Err    string
	Params map[string]any
}

// Transition is one entry of the TransitionGraph: what to run for a state,
// where to go on success or failure, and whether to keep running in the
// same Run call afterward.
//
// A nil Action marks a sink: reaching this state terminates the run
// organically. TERMINAL_STATE is conventionally mapped to a sink.
type Transition struct {
	Action      Action
	OnSuccess   string
	OnFailure   string
	CanContinue bool
}

// Graph is the read-only mapping from state name to Transition. The
// engine never mutates it; lookups on unknown state names fail loudly
// (ErrUnknownState) so graph authors discover typos in successor names.
type Graph map[string]Transition

// Validate checks that g defines INITIAL_STATE, since no run can ever
// start without it. It does not validate that every successor name is
// itself a key — graph validation only requires successor names to be keys if
// they will actually be reached.
func (g Graph) Validate() error {
	if _, ok := g[store.InitialState]; !ok {
		return fmt.Errorf("%w: missing %s", ErrInvalidGraph, store.InitialState)
	}
	return nil
}
