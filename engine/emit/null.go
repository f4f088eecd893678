package emit

// NullEmitter discards every event. It is the default when no emitter is
// configured, and is useful in tests that don't care about observability.
type NullEmitter struct{}

// NewNullEmitter returns an Emitter that discards all events.
func NewNullEmitter() *NullEmitter { return &NullEmitter{} }

// Emit is a no-op.
func (n *NullEmitter) Emit(Event) {}
