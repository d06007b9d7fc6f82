package hostfuncs

import "context"

type hostStateKey struct{}

// WithHostState threads a HostState through the context passed to a
// guest invocation, the same way wudi-gateway's contextWithHostState
// makes per-call state reachable from inside host function callbacks
// without a global.
func WithHostState(ctx context.Context, s *HostState) context.Context {
	return context.WithValue(ctx, hostStateKey{}, s)
}

// FromContext recovers the HostState bound by WithHostState. Host
// functions call this first; a missing HostState is a programming
// error, not a guest-triggerable one.
func FromContext(ctx context.Context) *HostState {
	s, _ := ctx.Value(hostStateKey{}).(*HostState)
	return s
}
