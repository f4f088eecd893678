package emit

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// OTelEmitter turns each event into a span event on the span held in its
// context, so engine transitions show up inline with whatever trace the
// caller started around Run.
type OTelEmitter struct {
	tracer trace.Tracer
}

// NewOTelEmitter wraps tracer. Pass otel.Tracer("statewalk/engine") from
// the caller's configured TracerProvider.
func NewOTelEmitter(tracer trace.Tracer) *OTelEmitter {
	return &OTelEmitter{tracer: tracer}
}

// EmitWithContext adds event as a span event on the span in ctx, if any.
// Engine code should prefer this over Emit so attributes land on the
// active Run span; Emit (satisfying the plain Emitter interface) falls
// back to a detached background context.
func (o *OTelEmitter) EmitWithContext(ctx context.Context, event Event) {
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String("run_id", event.RunID),
		attribute.String("state", event.State),
	}
	for k, v := range event.Meta {
		attrs = append(attrs, attribute.String(k, fmt.Sprintf("%v", v)))
	}
	span.AddEvent(event.Msg, trace.WithAttributes(attrs...))
	if errMsg, ok := event.Meta["error"].(string); ok && errMsg != "" {
		span.SetStatus(codes.Error, errMsg)
	}
}

// Emit implements Emitter using a background context; engine internals
// call EmitWithContext directly so span association isn't lost.
func (o *OTelEmitter) Emit(event Event) {
	o.EmitWithContext(context.Background(), event)
}

// Flush forces the global TracerProvider to export any buffered spans.
// It is a no-op if the active provider doesn't support flushing (for
// example the default no-op provider).
func (o *OTelEmitter) Flush(ctx context.Context) error {
	tp := otel.GetTracerProvider()
	type flusher interface {
		ForceFlush(context.Context) error
	}
	if f, ok := tp.(flusher); ok {
		return f.ForceFlush(ctx)
	}
	return nil
}
