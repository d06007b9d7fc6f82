// Package abi defines the wire-stable capability surface between the
// host and a guest plugin module (spec §4.1). Every name and struct
// layout here must stay bit-stable across a given Version: guest
// modules compiled against version V only link against a host of the
// same V.
package abi

import "encoding/binary"

// Version is the capability ABI version implemented by this host.
const Version uint32 = 1

// Host function names exported on the "env" module instantiated for
// every guest. Guests import these exact names.
const (
	FuncLoadConfig     = "load_config"
	FuncCallNextPlugin = "call_next_plugin"
	FuncMapSet         = "map_set"
	FuncMapGet         = "map_get"
	FuncMapRemove      = "map_remove"

	FuncUDPBind    = "udp_bind"
	FuncUDPConnect = "udp_connect"
	FuncUDPSend    = "udp_send"
	FuncUDPRecv    = "udp_recv"
	FuncUDPSendTo  = "udp_send_to"
	FuncUDPRecvFrom = "udp_recv_from"
	FuncUDPClose   = "udp_close"

	FuncTCPBind    = "tcp_bind"
	FuncTCPAccept  = "tcp_accept"
	FuncTCPConnect = "tcp_connect"
	FuncTCPWrite   = "tcp_write"
	FuncTCPFlush   = "tcp_flush"
	FuncTCPRead    = "tcp_read"
	FuncTCPClose   = "tcp_close"

	// Guest-exported entry points a compiled plugin module must provide.
	GuestRun         = "run"
	GuestValidConfig = "valid_config"

	// Guest-exported allocator pair used for host->guest variable length
	// returns (see package doc in internal/hostfuncs for the calling
	// convention: the host calls "allocate" in the guest, writes bytes,
	// and packs the result as described by Pack/Unpack below).
	GuestAllocate   = "allocate"
	GuestDeallocate = "deallocate"
)

// Status codes returned alongside a packed pointer/length result,
// mirroring the tri-state that spec §4.1's optional<result<...>> types
// require across a plain core-wasm numeric ABI (the host does not have
// wasmtime's component model available to it; see DESIGN.md).
const (
	StatusOK     uint32 = 0 // value present / call succeeded
	StatusAbsent uint32 = 1 // optional was absent (e.g. no next plugin, map miss)
	StatusErr    uint32 = 2 // call failed; packed result is a PluginError payload
)

// Errno mirrors OS errno values surfaced to guest code from socket
// calls. EBADF and ENOTSUP are used directly by the host for the fd
// and IPv6 edge cases spec §7 names.
const (
	EBADF   uint32 = 9
	ENOTSUP uint32 = 95
)

// PluginError is returned from a guest's run/valid_config, or
// synthesized by the host for host-side failures surfaced to a caller
// of call_next_plugin.
type PluginError struct {
	Code uint32
	Msg  string
}

func (e *PluginError) Error() string {
	if e == nil {
		return ""
	}
	return e.Msg
}

// NewPluginError builds a PluginError with the generic code spec §4.1
// assigns when no OS errno applies.
func NewPluginError(msg string) *PluginError {
	return &PluginError{Code: 1, Msg: msg}
}

// Addr is the wire encoding of a socket endpoint guests exchange with
// the host: a big-endian IPv4 address and big-endian port, matching
// the original implementation's Addr{addr: u32_be, port: u16_be}.
type Addr struct {
	IP   [4]byte
	Port uint16
}

// AddrFromBytes decodes a 6-byte wire Addr (4 bytes IPv4 + 2 bytes
// port, both big-endian) as passed across the guest boundary. It
// reports false when b is shorter than 6 bytes; bytes past the sixth
// are ignored.
func AddrFromBytes(b []byte) (Addr, bool) {
	if len(b) < 6 {
		return Addr{}, false
	}
	var a Addr
	copy(a.IP[:], b[0:4])
	a.Port = binary.BigEndian.Uint16(b[4:6])
	return a, true
}

// Bytes encodes Addr back to its 6-byte wire form.
func (a Addr) Bytes() []byte {
	b := make([]byte, 6)
	copy(b[0:4], a.IP[:])
	binary.BigEndian.PutUint16(b[4:6], a.Port)
	return b
}

// String renders the address in dotted-quad:port form for logging.
func (a Addr) String() string {
	return ipString(a.IP) + ":" + portString(a.Port)
}

func ipString(ip [4]byte) string {
	const digits = "0123456789"
	buf := make([]byte, 0, 15)
	for i, b := range ip {
		if i > 0 {
			buf = append(buf, '.')
		}
		buf = appendUint8(buf, b, digits)
	}
	return string(buf)
}

func appendUint8(buf []byte, v byte, digits string) []byte {
	if v >= 100 {
		buf = append(buf, digits[v/100])
		v %= 100
		buf = append(buf, digits[v/10])
		v %= 10
		buf = append(buf, digits[v])
	} else if v >= 10 {
		buf = append(buf, digits[v/10])
		v %= 10
		buf = append(buf, digits[v])
	} else {
		buf = append(buf, digits[v])
	}
	return buf
}

func portString(p uint16) string {
	if p == 0 {
		return "0"
	}
	var buf [5]byte
	i := len(buf)
	for p > 0 {
		i--
		buf[i] = byte('0' + p%10)
		p /= 10
	}
	return string(buf[i:])
}

// Pack combines a guest memory pointer and a byte length into the
// single uint64 result wazero host functions return to the guest,
// matching the ptr<<32|len convention used throughout the retrieved
// wazero-based plugin hosts (wudi-gateway, reglet-dev-reglet).
func Pack(ptr, length uint32) uint64 {
	return uint64(ptr)<<32 | uint64(length)
}

// Unpack reverses Pack.
func Unpack(packed uint64) (ptr, length uint32) {
	return uint32(packed >> 32), uint32(packed)
}
