package engine

import (
	"context"
	"fmt"
)

// adaptResult invokes action, catching both the error-return and panic
// paths, and normalizes whatever the action produced into ActionResult.
// This is the Result Adapter: the action's contract is
// never trusted to return a consistent shape.
func adaptResult(ctx context.Context, action Action, params map[string]any) (result ActionResult) {
	defer func() {
		if r := recover(); r != nil {
			result = ActionResult{OK: false, Err: describePanic(r), Params: map[string]any{}}
		}
	}()

	raw, err := action(ctx, params)
	if err != nil {
		return ActionResult{OK: false, Err: describeError(err), Params: map[string]any{}}
	}

	switch v := raw.(type) {
	case nil:
		return ActionResult{OK: true, Params: map[string]any{}}
	case bool:
		return ActionResult{OK: v, Params: map[string]any{}}
	case ActionResult:
		if v.Params == nil {
			v.Params = map[string]any{}
		}
		return v
	case map[string]any:
		return ActionResult{OK: true, Params: v}
	default:
		// Any other return shape is a programmer error in the action,
		// not a recoverable engine condition — surface it the same way
		// a thrown exception would be in the original, through the
		// failure edge rather than a panic out of Run.
		return ActionResult{OK: false, Err: fmt.Sprintf("type: [%T], msg: [unsupported action return shape]", raw), Params: map[string]any{}}
	}
}

// describeError formats an action-raised error the way the original
// FSM's result adapter formatted caught exceptions: enough detail for a
// human to triage, not enough to programmatically dispatch on. Go has no
// docstring/class-hierarchy equivalent, so the type name stands in for
// the Python class name.
func describeError(err error) string {
	return fmt.Sprintf("type: [%T], msg: [%s]", err, err.Error())
}

// describePanic mirrors describeError for the panic path.
func describePanic(r any) string {
	if err, ok := r.(error); ok {
		return describeError(err)
	}
	return fmt.Sprintf("type: [%T], msg: [%v]", r, r)
}
