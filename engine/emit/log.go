package emit

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// LogEmitter writes events to an io.Writer, either as human-readable
// key=value text or as JSON lines. It deliberately has no third-party
// logging dependency behind it.
type LogEmitter struct {
	w        io.Writer
	jsonMode bool
}

// NewLogEmitter writes to w (os.Stdout if nil). jsonMode selects
// JSON-lines output over text.
func NewLogEmitter(w io.Writer, jsonMode bool) *LogEmitter {
	if w == nil {
		w = os.Stdout
	}
	return &LogEmitter{w: w, jsonMode: jsonMode}
}

// Emit writes one line per event.
func (l *LogEmitter) Emit(event Event) {
	if l.jsonMode {
		enc := json.NewEncoder(l.w)
		_ = enc.Encode(event)
		return
	}
	fmt.Fprintf(l.w, "[%s] runID=%s state=%s meta=%v\n", event.Msg, event.RunID, event.State, event.Meta)
}
