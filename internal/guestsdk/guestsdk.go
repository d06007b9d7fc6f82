//go:build wasip1

// Package guestsdk is the guest-side counterpart to internal/hostfuncs,
// meant to be imported by plugin modules built with TinyGo targeting
// wasip1. It plays the role AssetsArt-nylon-ring's abi/sdk split plays
// for its cgo/dlopen plugins — abi/types.go's C-ABI-stable structs and
// sdk/plugin.go's ergonomic Go wrapper — re-expressed over wazero's
// plain numeric import convention (//go:wasmimport) instead of cgo,
// since wazero guests have no C runtime to link against.
package guestsdk

import (
	"sort"
	"strings"
	"unsafe"

	"github.com/dnswasm/dnswasm/internal/abi"
)

//go:wasmimport env load_config
func hostLoadConfig() uint64

//go:wasmimport env call_next_plugin
func hostCallNextPlugin(pktPtr, pktLen uint32) (status uint32, packed uint64)

//go:wasmimport env map_set
func hostMapSet(keyPtr, keyLen, valPtr, valLen, ttlSecs uint32) uint32

//go:wasmimport env map_get
func hostMapGet(keyPtr, keyLen uint32) (status uint32, packed uint64)

//go:wasmimport env map_remove
func hostMapRemove(keyPtr, keyLen uint32) uint32

//go:wasmimport env udp_bind
func hostUDPBind(addrPtr, addrLen uint32) (status, handle uint32)

//go:wasmimport env udp_connect
func hostUDPConnect(addrPtr, addrLen uint32) (status, handle uint32)

//go:wasmimport env udp_send
func hostUDPSend(handle, dataPtr, dataLen uint32) uint32

//go:wasmimport env udp_send_to
func hostUDPSendTo(handle, addrPtr, addrLen, dataPtr, dataLen uint32) uint32

//go:wasmimport env udp_recv
func hostUDPRecv(handle, maxLen uint32) (status uint32, packed uint64)

//go:wasmimport env udp_recv_from
func hostUDPRecvFrom(handle, maxLen uint32) (status uint32, packed uint64)

//go:wasmimport env udp_close
func hostUDPClose(handle uint32) uint32

//go:wasmimport env tcp_bind
func hostTCPBind(addrPtr, addrLen uint32) (status, handle uint32)

//go:wasmimport env tcp_accept
func hostTCPAccept(handle uint32) (status, connHandle uint32)

//go:wasmimport env tcp_connect
func hostTCPConnect(addrPtr, addrLen uint32) (status, handle uint32)

//go:wasmimport env tcp_write
func hostTCPWrite(handle, dataPtr, dataLen uint32) uint32

//go:wasmimport env tcp_flush
func hostTCPFlush(handle uint32) uint32

//go:wasmimport env tcp_read
func hostTCPRead(handle, maxLen uint32) (status uint32, packed uint64)

//go:wasmimport env tcp_close
func hostTCPClose(handle uint32) uint32

// LoadConfig returns the plugin's canonical YAML configuration text.
func LoadConfig() string {
	return string(unpackBytes(hostLoadConfig()))
}

// CallNextPlugin delegates to the next plugin pool in the chain.
// ok is false if there is no next plugin (spec.md's resolved Open
// Question: absence is not an error).
func CallNextPlugin(pkt []byte) (out []byte, pluginErr string, ok bool) {
	ptr, n := bytesPtr(pkt)
	status, packed := hostCallNextPlugin(ptr, n)
	switch status {
	case abi.StatusAbsent:
		return nil, "", false
	case abi.StatusErr:
		return nil, string(unpackBytes(packed)), true
	default:
		return unpackBytes(packed), "", true
	}
}

// MapSet stores data under key for ttlSeconds (0 means no expiry).
func MapSet(key, data []byte, ttlSeconds uint32) bool {
	kp, kl := bytesPtr(key)
	vp, vl := bytesPtr(data)
	return hostMapSet(kp, kl, vp, vl, ttlSeconds) == abi.StatusOK
}

// MapGet fetches the value stored under key.
func MapGet(key []byte) (data []byte, ok bool) {
	kp, kl := bytesPtr(key)
	status, packed := hostMapGet(kp, kl)
	if status != abi.StatusOK {
		return nil, false
	}
	return unpackBytes(packed), true
}

// MapRemove deletes key, returning whether it was present.
func MapRemove(key []byte) bool {
	kp, kl := bytesPtr(key)
	return hostMapRemove(kp, kl) == abi.StatusOK
}

// Addr is an IPv4 socket address, the guest-side counterpart to
// abi.Addr's wire encoding.
type Addr struct {
	IP   [4]byte
	Port uint16
}

func (a Addr) bytes() []byte {
	b := make([]byte, 6)
	copy(b[0:4], a.IP[:])
	b[4] = byte(a.Port >> 8)
	b[5] = byte(a.Port)
	return b
}

// UDPSocket is an ergonomic wrapper over the udp_* host calls, the Go
// counterpart to plugin-utils's UdpSocket (bind/connect/send/recv/
// send_to/recv_from, closed via a finalizer-equivalent Close call
// rather than Rust's Drop, since Go has no guest-visible destructor).
type UDPSocket struct {
	handle uint32
}

// UDPBind opens a bound (listening) UDP socket.
func UDPBind(addr Addr) (*UDPSocket, bool) {
	p, n := bytesPtr(addr.bytes())
	status, handle := hostUDPBind(p, n)
	if status != abi.StatusOK {
		return nil, false
	}
	return &UDPSocket{handle: handle}, true
}

// UDPConnect opens a UDP socket connected to addr.
func UDPConnect(addr Addr) (*UDPSocket, bool) {
	p, n := bytesPtr(addr.bytes())
	status, handle := hostUDPConnect(p, n)
	if status != abi.StatusOK {
		return nil, false
	}
	return &UDPSocket{handle: handle}, true
}

// Send writes buf to a connected socket.
func (s *UDPSocket) Send(buf []byte) bool {
	p, n := bytesPtr(buf)
	return hostUDPSend(s.handle, p, n) == abi.StatusOK
}

// SendTo writes buf to addr over an unconnected (bound) socket.
func (s *UDPSocket) SendTo(buf []byte, addr Addr) bool {
	dp, dn := bytesPtr(buf)
	ap, an := bytesPtr(addr.bytes())
	return hostUDPSendTo(s.handle, ap, an, dp, dn) == abi.StatusOK
}

// Recv reads up to maxLen bytes from a connected socket.
func (s *UDPSocket) Recv(maxLen uint32) ([]byte, bool) {
	status, packed := hostUDPRecv(s.handle, maxLen)
	if status != abi.StatusOK {
		return nil, false
	}
	return unpackBytes(packed), true
}

// RecvFrom reads up to maxLen bytes from a bound socket, returning the
// sender's address alongside the datagram.
func (s *UDPSocket) RecvFrom(maxLen uint32) (data []byte, from Addr, ok bool) {
	status, packed := hostUDPRecvFrom(s.handle, maxLen)
	if status != abi.StatusOK {
		return nil, Addr{}, false
	}
	payload := unpackBytes(packed)
	if len(payload) < 6 {
		return nil, Addr{}, false
	}
	copy(from.IP[:], payload[0:4])
	from.Port = uint16(payload[4])<<8 | uint16(payload[5])
	return payload[6:], from, true
}

// Close releases the socket's host-side handle.
func (s *UDPSocket) Close() bool {
	return hostUDPClose(s.handle) == abi.StatusOK
}

// TCPListener wraps a bound, listening TCP socket.
type TCPListener struct {
	handle uint32
}

// TCPBind opens a listening TCP socket.
func TCPBind(addr Addr) (*TCPListener, bool) {
	p, n := bytesPtr(addr.bytes())
	status, handle := hostTCPBind(p, n)
	if status != abi.StatusOK {
		return nil, false
	}
	return &TCPListener{handle: handle}, true
}

// Accept blocks for the next inbound connection.
func (l *TCPListener) Accept() (*TCPConn, bool) {
	status, handle := hostTCPAccept(l.handle)
	if status != abi.StatusOK {
		return nil, false
	}
	return &TCPConn{handle: handle}, true
}

// Close releases the listener's host-side handle.
func (l *TCPListener) Close() bool {
	return hostTCPClose(l.handle) == abi.StatusOK
}

// TCPConn wraps a connected TCP socket.
type TCPConn struct {
	handle uint32
}

// TCPConnect dials addr over TCP.
func TCPConnect(addr Addr) (*TCPConn, bool) {
	p, n := bytesPtr(addr.bytes())
	status, handle := hostTCPConnect(p, n)
	if status != abi.StatusOK {
		return nil, false
	}
	return &TCPConn{handle: handle}, true
}

// Write sends data on the connection; the host writes it immediately.
func (c *TCPConn) Write(data []byte) bool {
	p, n := bytesPtr(data)
	return hostTCPWrite(c.handle, p, n) == abi.StatusOK
}

// Flush calls tcp_flush; the host does not buffer writes, so this only
// reports whether the handle still names an open connection.
func (c *TCPConn) Flush() bool {
	return hostTCPFlush(c.handle) == abi.StatusOK
}

// Read reads up to maxLen bytes from the connection.
func (c *TCPConn) Read(maxLen uint32) ([]byte, bool) {
	status, packed := hostTCPRead(c.handle, maxLen)
	if status != abi.StatusOK {
		return nil, false
	}
	return unpackBytes(packed), true
}

// Close releases the connection's host-side handle.
func (c *TCPConn) Close() bool {
	return hostTCPClose(c.handle) == abi.StatusOK
}

// Question mirrors the fields of a DNS question relevant to cache
// keying, kept independent of any particular DNS library so guest
// plugins aren't forced to vendor one.
type Question struct {
	Name   string
	Qtype  uint16
	Qclass uint16
}

// CanonicalQueryKey builds a deterministic shared-map cache key from a
// DNS question set: questions sorted by name+type+class, joined by a
// separator unlikely to occur in a name. This is a supplemented
// feature (spec.md left the exact cache-key convention for plugin
// authors to agree on); it follows the sort-then-join approach the
// original Rust cache plugin used ad hoc per call
// (original_source/plugin/cache/src/lib.rs) promoted to a shared
// helper so every guest plugin agrees on one format.
func CanonicalQueryKey(questions []Question) []byte {
	sorted := make([]Question, len(questions))
	copy(sorted, questions)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Name != sorted[j].Name {
			return sorted[i].Name < sorted[j].Name
		}
		if sorted[i].Qtype != sorted[j].Qtype {
			return sorted[i].Qtype < sorted[j].Qtype
		}
		return sorted[i].Qclass < sorted[j].Qclass
	})

	var b strings.Builder
	for i, q := range sorted {
		if i > 0 {
			b.WriteByte('\x00')
		}
		b.WriteString(q.Name)
		b.WriteByte('/')
		b.WriteString(uintToString(uint64(q.Qtype)))
		b.WriteByte('/')
		b.WriteString(uintToString(uint64(q.Qclass)))
	}
	return []byte(b.String())
}

func uintToString(v uint64) string {
	if v == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}

func bytesPtr(b []byte) (ptr, length uint32) {
	if len(b) == 0 {
		return 0, 0
	}
	return uint32(uintptr(unsafe.Pointer(&b[0]))), uint32(len(b))
}

func unpackBytes(packed uint64) []byte {
	ptr, length := abi.Unpack(packed)
	if length == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(uintptr(ptr))), length)
}
