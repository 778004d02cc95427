package engine

import (
	"time"

	"github.com/slipway-io/slipway/internal/ir"
)

// Event reports one node state transition while a run executes.
type Event struct {
	NodeID   string
	Identity string
	State    ir.NodeState

	// Status, ChangedKeys and Duration are set on terminal transitions
	// (Done or Failed).
	Status      ir.Status
	ChangedKeys []string
	Duration    time.Duration
	Err         error
}

// ProgressFunc receives events as they happen. Callbacks run on the
// executing goroutine and must not block for long.
type ProgressFunc func(Event)

func emit(fn ProgressFunc, ev Event) {
	if fn != nil {
		fn(ev)
	}
}
