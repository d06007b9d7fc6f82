package hostfuncs

import (
	"errors"
	"syscall"
)

// errnoFromIOError extracts the raw OS errno underlying a socket
// operation's failure, falling back to 1 when the error did not
// originate from a syscall (e.g. a deadline timeout), mirroring
// original_source/rubydns/src/plugins/host_helper/mod.rs's
// io_err_to_errno: "err.raw_os_error().unwrap_or(1)".
func errnoFromIOError(err error) uint32 {
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return uint32(errno)
	}
	return 1
}
