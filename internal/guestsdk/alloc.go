//go:build wasip1

package guestsdk

import "unsafe"

// Allocate and Deallocate back the host's half of the variable-length
// result convention: the host calls "allocate" to get a guest buffer
// to write into, and later calls "deallocate" once the guest no longer
// needs it. Exported so a plugin author only has to blank-import
// guestsdk for the host to see them; TinyGo's wasip1 target turns an
// //export comment into a wasm export under the given name.
//
// pinned keeps host-requested buffers reachable until the host frees
// them — TinyGo's GC has no visibility into the raw pointer the host
// holds, so without this a collection between allocate and the host's
// write could reclaim the buffer.
var pinned = map[uint32][]byte{}

//export allocate
func Allocate(size uint32) uint32 {
	buf := make([]byte, size)
	if len(buf) == 0 {
		return 0
	}
	ptr := uint32(uintptr(unsafe.Pointer(&buf[0])))
	pinned[ptr] = buf
	return ptr
}

//export deallocate
func Deallocate(ptr, size uint32) {
	delete(pinned, ptr)
}
