package hostfuncs

import (
	"context"
	"net"

	"github.com/tetratelabs/wazero/api"

	"github.com/dnswasm/dnswasm/internal/abi"
)

// tcpBind implements tcp_bind(addr_ptr, addr_len) -> (status, handle),
// returning a listener handle.
func tcpBind(ctx context.Context, mod api.Module, addrPtr, addrLen uint32) (uint32, uint32) {
	s := FromContext(ctx)
	raw, ok := readGuestBytes(mod, addrPtr, addrLen)
	if !ok {
		return abi.EBADF, 0
	}
	addr, ok := abi.AddrFromBytes(raw)
	if !ok {
		return abi.ENOTSUP, 0
	}
	l, err := net.ListenTCP("tcp4", &net.TCPAddr{IP: net.IP(addr.IP[:]), Port: int(addr.Port)})
	if err != nil {
		return errnoFromIOError(err), 0
	}
	return abi.StatusOK, s.putTCPListener(l)
}

// tcpAccept implements tcp_accept(listener_handle) -> (status, conn_handle).
// It blocks until a connection arrives or the context deadline fires.
func tcpAccept(ctx context.Context, handle uint32) (uint32, uint32) {
	s := FromContext(ctx)
	l, ok := s.getTCPListener(handle)
	if !ok {
		return abi.EBADF, 0
	}
	applyDeadline(ctx, l)
	conn, err := l.AcceptTCP()
	if err != nil {
		return errnoFromIOError(err), 0
	}
	return abi.StatusOK, s.putTCPConn(conn)
}

// tcpConnect implements tcp_connect(addr_ptr, addr_len) -> (status, handle).
func tcpConnect(ctx context.Context, mod api.Module, addrPtr, addrLen uint32) (uint32, uint32) {
	s := FromContext(ctx)
	raw, ok := readGuestBytes(mod, addrPtr, addrLen)
	if !ok {
		return abi.EBADF, 0
	}
	addr, ok := abi.AddrFromBytes(raw)
	if !ok {
		return abi.ENOTSUP, 0
	}
	conn, err := net.DialTCP("tcp4", nil, &net.TCPAddr{IP: net.IP(addr.IP[:]), Port: int(addr.Port)})
	if err != nil {
		return errnoFromIOError(err), 0
	}
	return abi.StatusOK, s.putTCPConn(conn)
}

// tcpWrite implements tcp_write(handle, data_ptr, data_len) -> status.
// The data is written straight to the connection; nothing is buffered
// on the host side, so tcp_flush has nothing to force out.
func tcpWrite(ctx context.Context, mod api.Module, handle, dataPtr, dataLen uint32) uint32 {
	s := FromContext(ctx)
	conn, ok := s.getTCPConn(handle)
	if !ok {
		return abi.EBADF
	}
	data, ok := readGuestBytes(mod, dataPtr, dataLen)
	if !ok {
		return abi.EBADF
	}
	if _, err := conn.Write(data); err != nil {
		return errnoFromIOError(err)
	}
	return abi.StatusOK
}

// tcpFlush implements tcp_flush(handle) -> status. Go's net.TCPConn
// does not buffer writes internally, so this is a well-formedness
// check rather than a real flush.
func tcpFlush(ctx context.Context, handle uint32) uint32 {
	s := FromContext(ctx)
	if _, ok := s.getTCPConn(handle); !ok {
		return abi.EBADF
	}
	return abi.StatusOK
}

// tcpRead implements tcp_read(handle, max_len) -> (status, packed(ptr, len)).
func tcpRead(ctx context.Context, mod api.Module, handle, maxLen uint32) (uint32, uint64) {
	s := FromContext(ctx)
	conn, ok := s.getTCPConn(handle)
	if !ok {
		return abi.EBADF, 0
	}
	applyDeadline(ctx, conn)
	buf := make([]byte, maxLen)
	n, err := conn.Read(buf)
	if err != nil && n == 0 {
		return errnoFromIOError(err), 0
	}
	packed, ok := writeGuestResult(ctx, mod, buf[:n])
	if !ok {
		return abi.EBADF, 0
	}
	return abi.StatusOK, packed
}

// tcpClose implements tcp_close(handle) -> status, accepting either a
// listener or connection handle.
func tcpClose(ctx context.Context, handle uint32) uint32 {
	s := FromContext(ctx)
	if s.dropTCPConnOrListener(handle) {
		return abi.StatusOK
	}
	return abi.EBADF
}
