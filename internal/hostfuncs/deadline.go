package hostfuncs

import (
	"context"
	"time"
)

// deadliner is the common surface of net.Conn and net.Listener needed
// to propagate a run budget onto a blocking call.
type deadliner interface {
	SetDeadline(t time.Time) error
}

// applyDeadline propagates a context deadline onto a blocking socket
// or listener call, the closest equivalent to Wasmtime's fuel-based
// interruption available under wazero's core-wasm model (see
// DESIGN.md). When ctx has no deadline, any stale deadline left over
// from a prior call on the same handle is cleared rather than left in
// place.
func applyDeadline(ctx context.Context, d deadliner) {
	if dl, ok := ctx.Deadline(); ok {
		d.SetDeadline(dl)
	} else {
		d.SetDeadline(time.Time{})
	}
}
