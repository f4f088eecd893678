// Package engine implements the durable, resumable finite-state-machine
// execution engine: the algorithm that selects the next state, invokes its
// transition action, interprets the result, applies the yield/retry/
// termination policy, and maintains the durable history through a Store.
package engine

import "errors"

// ErrUnknownState is returned from Run when the current state has no
// entry in the TransitionGraph. This is a graph-authoring bug — missing
// keys are never silently tolerated, since that's how typos in successor
// names get caught.
var ErrUnknownState = errors.New("engine: unknown state in transition graph")

// ErrInvalidGraph is returned when the graph is missing INITIAL_STATE or
// otherwise malformed enough that no run could ever start.
var ErrInvalidGraph = errors.New("engine: invalid transition graph")

// ErrLockHeld is returned by Run when a Locker is configured and the
// advisory lock for this tenant is already held elsewhere. The caller
// should simply skip this Run call; it is not a fatal condition.
var ErrLockHeld = errors.New("engine: advisory lock already held")

// maxRetryReachedMsg is the exact error text the engine requires on a
// forced-termination entry.
const maxRetryReachedMsg = "Max retry count reached"
