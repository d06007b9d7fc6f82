package hostfuncs

import (
	"context"

	"github.com/tetratelabs/wazero/api"

	"github.com/dnswasm/dnswasm/internal/abi"
)

// callNextPlugin implements call_next_plugin(pkt_ptr, pkt_len) ->
// (status, packed(ptr, len)). Absence of a next pool is not an error:
// it returns StatusAbsent, matching the resolved Open Question that a
// plugin at the end of the chain delegating further gets a clean
// "nothing there" signal rather than a synthesized failure.
func callNextPlugin(ctx context.Context, mod api.Module, pktPtr, pktLen uint32) (uint32, uint64) {
	s := FromContext(ctx)
	if s.NextPool == nil {
		return abi.StatusAbsent, 0
	}
	pkt, ok := readGuestBytes(mod, pktPtr, pktLen)
	if !ok {
		return abi.StatusErr, 0
	}

	out, pluginErr, handled := s.NextPool.RunNext(ctx, pkt)
	if !handled {
		// A next pool exists but could not produce a result (pool
		// exhaustion, a failed isolate build, a guest trap) — this is
		// not the same as there being no next plugin at all, so it must
		// not be reported as StatusAbsent: a guest told "absent" treats
		// it as a normal end of chain and may synthesize its own
		// answer, masking what is really a delegate failure.
		packed, ok := writeGuestResult(ctx, mod, []byte("next plugin failed to run"))
		if !ok {
			return abi.StatusErr, 0
		}
		return abi.StatusErr, packed
	}
	if pluginErr != nil {
		packed, ok := writeGuestResult(ctx, mod, []byte(pluginErr.Error()))
		if !ok {
			return abi.StatusErr, 0
		}
		return abi.StatusErr, packed
	}
	packed, ok := writeGuestResult(ctx, mod, out)
	if !ok {
		return abi.StatusErr, 0
	}
	return abi.StatusOK, packed
}
