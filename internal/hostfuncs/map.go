package hostfuncs

import (
	"context"
	"time"

	"github.com/tetratelabs/wazero/api"

	"github.com/dnswasm/dnswasm/internal/abi"
)

// mapSet implements map_set(key_ptr, key_len, val_ptr, val_len, ttl_secs) -> status.
func mapSet(ctx context.Context, mod api.Module, keyPtr, keyLen, valPtr, valLen, ttlSecs uint32) uint32 {
	s := FromContext(ctx)
	key, ok := readGuestBytes(mod, keyPtr, keyLen)
	if !ok {
		return abi.StatusErr
	}
	val, ok := readGuestBytes(mod, valPtr, valLen)
	if !ok {
		return abi.StatusErr
	}
	s.SharedMap.Set(key, val, time.Duration(ttlSecs)*time.Second)
	return abi.StatusOK
}

// mapGet implements map_get(key_ptr, key_len) -> packed(ptr, len),
// returning a separate status because an empty-but-present value and a
// miss must be distinguishable over a numeric ABI.
func mapGet(ctx context.Context, mod api.Module, keyPtr, keyLen uint32) (uint32, uint64) {
	s := FromContext(ctx)
	key, ok := readGuestBytes(mod, keyPtr, keyLen)
	if !ok {
		return abi.StatusErr, 0
	}
	val, found := s.SharedMap.Get(key)
	if !found {
		return abi.StatusAbsent, 0
	}
	packed, ok := writeGuestResult(ctx, mod, val)
	if !ok {
		return abi.StatusErr, 0
	}
	return abi.StatusOK, packed
}

// mapRemove implements map_remove(key_ptr, key_len) -> status.
func mapRemove(ctx context.Context, mod api.Module, keyPtr, keyLen uint32) uint32 {
	s := FromContext(ctx)
	key, ok := readGuestBytes(mod, keyPtr, keyLen)
	if !ok {
		return abi.StatusErr
	}
	if s.SharedMap.Remove(key) {
		return abi.StatusOK
	}
	return abi.StatusAbsent
}
