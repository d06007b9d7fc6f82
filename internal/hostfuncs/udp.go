package hostfuncs

import (
	"context"
	"net"

	"github.com/tetratelabs/wazero/api"

	"github.com/dnswasm/dnswasm/internal/abi"
)

// udpBind implements udp_bind(addr_ptr, addr_len) -> (status, handle).
// Only IPv4 addresses are accepted; anything else is ENOTSUP per spec §7.
func udpBind(ctx context.Context, mod api.Module, addrPtr, addrLen uint32) (uint32, uint32) {
	s := FromContext(ctx)
	raw, ok := readGuestBytes(mod, addrPtr, addrLen)
	if !ok {
		return abi.EBADF, 0
	}
	addr, ok := abi.AddrFromBytes(raw)
	if !ok {
		return abi.ENOTSUP, 0
	}
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IP(addr.IP[:]), Port: int(addr.Port)})
	if err != nil {
		return errnoFromIOError(err), 0
	}
	return abi.StatusOK, s.putUDP(conn)
}

// udpConnect implements udp_connect(addr_ptr, addr_len) -> (status, handle).
func udpConnect(ctx context.Context, mod api.Module, addrPtr, addrLen uint32) (uint32, uint32) {
	s := FromContext(ctx)
	raw, ok := readGuestBytes(mod, addrPtr, addrLen)
	if !ok {
		return abi.EBADF, 0
	}
	addr, ok := abi.AddrFromBytes(raw)
	if !ok {
		return abi.ENOTSUP, 0
	}
	conn, err := net.DialUDP("udp4", nil, &net.UDPAddr{IP: net.IP(addr.IP[:]), Port: int(addr.Port)})
	if err != nil {
		return errnoFromIOError(err), 0
	}
	return abi.StatusOK, s.putUDP(conn)
}

// udpSend implements udp_send(handle, data_ptr, data_len) -> status,
// writing to a connected socket.
func udpSend(ctx context.Context, mod api.Module, handle, dataPtr, dataLen uint32) uint32 {
	s := FromContext(ctx)
	conn, ok := s.getUDP(handle)
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

// udpSendTo implements udp_send_to(handle, addr_ptr, addr_len, data_ptr, data_len) -> status.
func udpSendTo(ctx context.Context, mod api.Module, handle, addrPtr, addrLen, dataPtr, dataLen uint32) uint32 {
	s := FromContext(ctx)
	conn, ok := s.getUDP(handle)
	if !ok {
		return abi.EBADF
	}
	rawAddr, ok := readGuestBytes(mod, addrPtr, addrLen)
	if !ok {
		return abi.EBADF
	}
	addr, ok := abi.AddrFromBytes(rawAddr)
	if !ok {
		return abi.ENOTSUP
	}
	data, ok := readGuestBytes(mod, dataPtr, dataLen)
	if !ok {
		return abi.EBADF
	}
	if _, err := conn.WriteToUDP(data, &net.UDPAddr{IP: net.IP(addr.IP[:]), Port: int(addr.Port)}); err != nil {
		return errnoFromIOError(err)
	}
	return abi.StatusOK
}

// udpRecv implements udp_recv(handle, max_len) -> (status, packed(ptr, len)).
// It blocks the calling isolate's goroutine until data arrives or the
// surrounding context is cancelled (cooperative yield budget, spec §5).
func udpRecv(ctx context.Context, mod api.Module, handle, maxLen uint32) (uint32, uint64) {
	s := FromContext(ctx)
	conn, ok := s.getUDP(handle)
	if !ok {
		return abi.EBADF, 0
	}
	applyDeadline(ctx, conn)
	buf := make([]byte, maxLen)
	n, err := conn.Read(buf)
	if err != nil {
		return errnoFromIOError(err), 0
	}
	packed, ok := writeGuestResult(ctx, mod, buf[:n])
	if !ok {
		return abi.EBADF, 0
	}
	return abi.StatusOK, packed
}

// udpRecvFrom implements udp_recv_from(handle, max_len) -> (status, packed(ptr, len)),
// where the returned payload is the wire Addr followed by the datagram.
func udpRecvFrom(ctx context.Context, mod api.Module, handle, maxLen uint32) (uint32, uint64) {
	s := FromContext(ctx)
	conn, ok := s.getUDP(handle)
	if !ok {
		return abi.EBADF, 0
	}
	applyDeadline(ctx, conn)
	buf := make([]byte, maxLen)
	n, from, err := conn.ReadFromUDP(buf)
	if err != nil {
		return errnoFromIOError(err), 0
	}
	v4 := from.IP.To4()
	if v4 == nil {
		return abi.ENOTSUP, 0
	}
	var addr abi.Addr
	copy(addr.IP[:], v4)
	addr.Port = uint16(from.Port)

	payload := append(addr.Bytes(), buf[:n]...)
	packed, ok := writeGuestResult(ctx, mod, payload)
	if !ok {
		return abi.EBADF, 0
	}
	return abi.StatusOK, packed
}

// udpClose implements udp_close(handle) -> status.
func udpClose(ctx context.Context, handle uint32) uint32 {
	s := FromContext(ctx)
	if s.dropUDP(handle) {
		return abi.StatusOK
	}
	return abi.EBADF
}

