package engine

import (
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/sdyne/statewalk/engine/emit"
	"github.com/sdyne/statewalk/engine/lock"
)

// Option configures an Engine at construction time.
type Option func(*Engine)

// WithVisitLimits sets the per-state visit ceilings . A
// DEFAULT key of 1 is assumed if not provided.
func WithVisitLimits(limits map[string]int) Option {
	return func(e *Engine) {
		e.accountant = newVisitAccountant(limits)
	}
}

// WithEmitter configures where engine events are sent. Defaults to
// emit.NullEmitter.
func WithEmitter(emitter emit.Emitter) Option {
	return func(e *Engine) {
		e.emitter = emitter
	}
}

// WithMetrics attaches a Prometheus metrics collector.
func WithMetrics(m *Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithTracer wraps every Run call and every transition in a span.
func WithTracer(tracer trace.Tracer) Option {
	return func(e *Engine) {
		e.tracer = tracer
	}
}

// WithClock overrides time.Now, for deterministic tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// WithLock configures an advisory Locker guarding the Run body against
// concurrent execution from other processes . key identifies
// this engine's tenant/run-space to the locker.
func WithLock(locker lock.Locker, key string) Option {
	return func(e *Engine) {
		e.locker = locker
		e.lockKey = key
	}
}
