// Package hostfuncs implements the host side of the capability ABI
// (spec §4.1, component C2): the named functions a guest plugin module
// imports from the "env" module, and the per-isolate state those
// functions operate on.
//
// The calling convention follows the wazero-hosted plugins in the
// retrieved corpus (wudi-gateway's callGuest, reglet-dev-reglet's
// Plugin): every host function takes and returns plain numeric wasm
// values (uint32/uint64), a caller passes variable-length data as a
// (ptr, len) pair into guest linear memory, and a host function that
// must return variable-length data calls the guest's own "allocate"
// export, writes into the returned region, and packs the result as
// internal/abi.Pack(ptr, len). The guest is responsible for later
// calling "deallocate" on anything the host allocated for it.
package hostfuncs

import (
	"context"
	"net"
	"sync"

	"github.com/dnswasm/dnswasm/internal/abi"
	"github.com/dnswasm/dnswasm/internal/sharedmap"
)

// NextPoolRunner is the subset of *pluginpool.Pool a HostState needs
// to drive call_next_plugin, expressed as an interface so hostfuncs
// does not import pluginpool (which itself depends on isolate, which
// depends on hostfuncs) — avoids an import cycle, mirrors the
// accept-interfaces shape used for Isolate in internal/isolate. ctx
// carries the calling isolate's own run budget, so a delegated
// acquire/run shares the same cooperative-yield deadline instead of
// blocking indefinitely underneath it.
type NextPoolRunner interface {
	RunNext(ctx context.Context, pkt []byte) ([]byte, *abi.PluginError, bool)
}

// HostState is the per-isolate handle bundle bound into a guest
// instance's context before each run, matching the original
// implementation's per-request host_helper state
// (original_source/rubydns/src/plugins/host_helper/mod.rs) scoped to a
// single leased Isolate rather than shared globally.
type HostState struct {
	ConfigText string
	SharedMap  *sharedmap.Map
	NextPool   NextPoolRunner // nil if this plugin is last in the chain

	mu   sync.Mutex
	udp  map[uint32]*net.UDPConn
	tcpL map[uint32]*net.TCPListener
	tcpC map[uint32]*net.TCPConn
	next uint32
}

// NewHostState builds an empty HostState ready to be reset and reused
// across leases of the same pooled isolate.
func NewHostState() *HostState {
	return &HostState{}
}

// Reset clears all open sockets and handle tables, releasing any OS
// resources, so a recycled isolate starts its next lease clean (spec
// §5's pool recycle/reset requirement).
func (s *HostState) Reset(configText string, shared *sharedmap.Map, next NextPoolRunner) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range s.udp {
		c.Close()
	}
	for _, l := range s.tcpL {
		l.Close()
	}
	for _, c := range s.tcpC {
		c.Close()
	}

	s.udp = make(map[uint32]*net.UDPConn)
	s.tcpL = make(map[uint32]*net.TCPListener)
	s.tcpC = make(map[uint32]*net.TCPConn)
	s.next = 1

	s.ConfigText = configText
	s.SharedMap = shared
	s.NextPool = next
}

func (s *HostState) allocHandle() uint32 {
	h := s.next
	s.next++
	return h
}

func (s *HostState) putUDP(c *net.UDPConn) uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := s.allocHandle()
	s.udp[h] = c
	return h
}

func (s *HostState) getUDP(h uint32) (*net.UDPConn, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.udp[h]
	return c, ok
}

func (s *HostState) dropUDP(h uint32) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.udp[h]
	if !ok {
		return false
	}
	c.Close()
	delete(s.udp, h)
	return true
}

func (s *HostState) putTCPListener(l *net.TCPListener) uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := s.allocHandle()
	s.tcpL[h] = l
	return h
}

func (s *HostState) getTCPListener(h uint32) (*net.TCPListener, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.tcpL[h]
	return l, ok
}

func (s *HostState) putTCPConn(c *net.TCPConn) uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := s.allocHandle()
	s.tcpC[h] = c
	return h
}

func (s *HostState) getTCPConn(h uint32) (*net.TCPConn, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.tcpC[h]
	return c, ok
}

func (s *HostState) dropTCPConnOrListener(h uint32) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.tcpC[h]; ok {
		c.Close()
		delete(s.tcpC, h)
		return true
	}
	if l, ok := s.tcpL[h]; ok {
		l.Close()
		delete(s.tcpL, h)
		return true
	}
	return false
}
