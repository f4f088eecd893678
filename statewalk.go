// Package statewalk re-exports the engine package's constructor and core
// types at the module root, so callers can write statewalk.New(...)
// instead of reaching into engine/ directly. The implementation lives in
// engine/; this file is pure re-export, kept deliberately thin.
package statewalk

import "github.com/sdyne/statewalk/engine"

type (
	// Engine drives one run of a Graph through a Store.
	Engine = engine.Engine
	// Graph is the read-only mapping from state name to Transition.
	Graph = engine.Graph
	// Transition is one entry of a Graph.
	Transition = engine.Transition
	// Action is a transition action.
	Action = engine.Action
	// ActionResult is the canonical action return shape.
	ActionResult = engine.ActionResult
	// Option configures an Engine at construction time.
	Option = engine.Option
)

// New constructs an Engine. See engine.New.
var New = engine.New

// Options re-exported for convenience.
var (
	WithVisitLimits = engine.WithVisitLimits
	WithEmitter     = engine.WithEmitter
	WithMetrics     = engine.WithMetrics
	WithTracer      = engine.WithTracer
	WithClock       = engine.WithClock
	WithLock        = engine.WithLock
)
