package hostfuncs

import (
	"context"

	"github.com/tetratelabs/wazero/api"

	"github.com/dnswasm/dnswasm/internal/abi"
)

// readGuestBytes copies len bytes out of the calling module's linear
// memory at ptr. Returns false if the range is out of bounds.
func readGuestBytes(mod api.Module, ptr, length uint32) ([]byte, bool) {
	if length == 0 {
		return nil, true
	}
	return mod.Memory().Read(ptr, length)
}

// writeGuestResult calls the guest's allocate export, writes data into
// the returned region, and packs the result as abi.Pack(ptr, len) —
// the variable-length-return half of the calling convention described
// in the package doc.
func writeGuestResult(ctx context.Context, mod api.Module, data []byte) (uint64, bool) {
	if len(data) == 0 {
		return abi.Pack(0, 0), true
	}
	allocate := mod.ExportedFunction(abi.GuestAllocate)
	if allocate == nil {
		return 0, false
	}
	results, err := allocate.Call(ctx, uint64(len(data)))
	if err != nil || len(results) == 0 || results[0] == 0 {
		return 0, false
	}
	ptr := uint32(results[0])
	if !mod.Memory().Write(ptr, data) {
		return 0, false
	}
	return abi.Pack(ptr, uint32(len(data))), true
}
