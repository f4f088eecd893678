package engine

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/sdyne/statewalk/engine/emit"
	"github.com/sdyne/statewalk/engine/lock"
	"github.com/sdyne/statewalk/engine/store"
)

// Engine drives one run of a Graph through a Store. It is single-threaded
// and blocking: one call to Run executes until the run yields, terminates
// (organically or forced), or a graph/store error occurs. Concurrent Run
// calls against the same tenant are not supported by the engine itself —
// guard them with WithLock if more than one process may call Run.
type Engine struct {
	store store.Store
	graph Graph

	accountant *visitAccountant
	emitter    emit.Emitter
	metrics    *Metrics
	tracer     trace.Tracer
	now        func() time.Time

	locker  lock.Locker
	lockKey string
}

// New constructs an Engine over st and g, applying opts. g is validated
// eagerly (ErrInvalidGraph if INITIAL_STATE is missing) since a graph
// that can never start a run is a construction-time bug, not a runtime
// one.
func New(st store.Store, g Graph, opts ...Option) (*Engine, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{
		store:      st,
		graph:      g,
		accountant: newVisitAccountant(nil),
		emitter:    emit.NewNullEmitter(),
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

func (e *Engine) emit(ctx context.Context, runID, state, msg string, meta map[string]any) {
	ev := emit.Event{RunID: runID, State: state, Msg: msg, Meta: meta}
	e.emitter.Emit(ev)
	if o, ok := e.emitter.(*emit.OTelEmitter); ok {
		o.EmitWithContext(ctx, ev)
	}
}

// Run executes the scheduler loop as an explicit, iterative trampoline
// (never recursive, so arbitrarily long loops don't grow the call
// stack). One invocation performs transitions until:
//
//   - a sink state is reached (organic termination),
//   - a visit ceiling is exceeded (forced termination),
//   - a non-continuing state is entered for the first time (yield), or
//   - the graph or store reports an error.
func (e *Engine) Run(ctx context.Context) error {
	if e.locker != nil {
		unlock, ok, err := e.locker.TryLock(ctx, e.lockKey)
		if err != nil {
			return fmt.Errorf("acquire advisory lock: %w", err)
		}
		if !ok {
			return ErrLockHeld
		}
		defer unlock()
	}

	if e.tracer != nil {
		var span trace.Span
		ctx, span = e.tracer.Start(ctx, "engine.Run")
		defer span.End()
	}

	e.metrics.runStarted()
	defer e.metrics.runFinished()

	sameRun := false
	for {
		current, err := e.bootstrap(ctx, sameRun)
		if err != nil {
			return err
		}
		runID := current.RunID
		e.metrics.recordVisitCount(current.Name, current.VisitCount)

		transition, ok := e.graph[current.Name]
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownState, current.Name)
		}

		if transition.Action == nil {
			e.emit(ctx, runID, current.Name, "sink", nil)
			return nil
		}

		if !transition.CanContinue {
			if !current.Yielded {
				if err := e.store.YieldState(ctx, current, true); err != nil {
					return err
				}
				e.emit(ctx, runID, current.Name, "yield", nil)
				return nil
			}
			if err := e.store.YieldState(ctx, current, false); err != nil {
				return err
			}
			e.emit(ctx, runID, current.Name, "resume", nil)
		}

		reached, err := e.accountant.ceilingReached(ctx, e.store, transition.OnSuccess, runID)
		if err != nil {
			return err
		}
		if reached {
			return e.forceTerminate(ctx, runID, transition.OnSuccess)
		}

		start := e.now()
		result := e.invoke(ctx, current.Name, transition.Action, current.Params)
		end := e.now()

		next := transition.OnSuccess
		if !result.OK {
			next = transition.OnFailure
			reached, err := e.accountant.ceilingReached(ctx, e.store, next, runID)
			if err != nil {
				return err
			}
			if reached {
				return e.forceTerminate(ctx, runID, next)
			}
		}

		if err := e.store.SetCurrentState(ctx, next, runID, result.Err, result.Params, start, end); err != nil {
			return err
		}
		e.emit(ctx, runID, next, "advance", map[string]any{"from": current.Name, "ok": result.OK})

		sameRun = true
	}
}

// bootstrap finds or mints the current state entry for this iteration of
// the loop.
func (e *Engine) bootstrap(ctx context.Context, sameRun bool) (*store.StateEntry, error) {
	last, err := e.store.GetLastState(ctx)
	if err != nil {
		return nil, err
	}

	if last == nil || (last.IsTerminal() && !sameRun) {
		fresh, err := e.store.NewInitialState(ctx)
		if err != nil {
			return nil, err
		}
		if err := e.store.SaveState(ctx, fresh); err != nil {
			return nil, err
		}
		e.emit(ctx, fresh.RunID, fresh.Name, "bootstrap", map[string]any{"new_run": true})
		return fresh, nil
	}
	return last, nil
}

// invoke runs the transition action through the Result Adapter, recording
// metrics and tracing around the call.
func (e *Engine) invoke(ctx context.Context, stateName string, action Action, params map[string]any) ActionResult {
	if e.tracer != nil {
		var span trace.Span
		ctx, span = e.tracer.Start(ctx, "engine.invoke", trace.WithAttributes(attribute.String("state", stateName)))
		defer span.End()
	}

	start := e.now()
	result := adaptResult(ctx, action, params)
	e.metrics.recordTransition(stateName, result.OK, e.now().Sub(start))
	return result
}

// forceTerminate writes a TERMINAL_STATE entry with the ceiling-exhaustion
// error and returns control to the caller.
func (e *Engine) forceTerminate(ctx context.Context, runID, ceilingState string) error {
	if err := e.store.Terminate(ctx, runID); err != nil {
		return err
	}
	e.metrics.recordForcedTermination()
	e.emit(ctx, runID, store.TerminalState, "forced_termination", map[string]any{"ceiling_state": ceilingState})
	return nil
}
