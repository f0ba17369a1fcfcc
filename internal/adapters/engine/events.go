package engine

import (
	"fmt"

	"github.com/eleven-am/weft/internal/domain"
)

// emit appends one event to the run log. Only the scheduler goroutine
// calls it.
func (r *run) emit(kind domain.EventKind, nodeID string, attempt int, format string, args ...interface{}) {
	r.seq++
	r.result.Events = append(r.result.Events, domain.Event{
		Seq:     r.seq,
		Time:    r.engine.now(),
		Kind:    kind,
		NodeID:  nodeID,
		Attempt: attempt,
		Message: fmt.Sprintf(format, args...),
	})
}
