package hostfuncs

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dnswasm/dnswasm/internal/abi"
	"github.com/dnswasm/dnswasm/internal/sharedmap"
)

func loopbackUDP(t *testing.T) *net.UDPConn {
	t.Helper()
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func loopbackTCPListener(t *testing.T) *net.TCPListener {
	t.Helper()
	l, err := net.ListenTCP("tcp4", &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0})
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l
}

func TestHostStateHandlesStartAtOne(t *testing.T) {
	s := NewHostState()
	s.Reset("", nil, nil)

	h := s.putUDP(loopbackUDP(t))
	assert.Equal(t, uint32(1), h, "first allocated handle must be 1, matching the pseudo-fd convention")
}

func TestHostStateUDPRoundTrip(t *testing.T) {
	s := NewHostState()
	s.Reset("", nil, nil)

	conn := loopbackUDP(t)
	h := s.putUDP(conn)

	got, ok := s.getUDP(h)
	require.True(t, ok)
	assert.Same(t, conn, got)

	_, ok = s.getUDP(h + 1)
	assert.False(t, ok, "an unallocated handle must not resolve")
}

func TestHostStateDropUDPInvalidatesHandle(t *testing.T) {
	s := NewHostState()
	s.Reset("", nil, nil)

	h := s.putUDP(loopbackUDP(t))
	require.True(t, s.dropUDP(h))

	_, ok := s.getUDP(h)
	assert.False(t, ok, "a dropped handle must return EBADF-equivalent absence until reused")
	assert.False(t, s.dropUDP(h), "dropping an already-dropped handle is a no-op, not a crash")
}

func TestHostStateTCPListenerAndConnShareHandleSpace(t *testing.T) {
	s := NewHostState()
	s.Reset("", nil, nil)

	lh := s.putTCPListener(loopbackTCPListener(t))
	ch := s.allocHandle()

	assert.NotEqual(t, lh, ch, "listener and connection handles must not collide")

	l, ok := s.getTCPListener(lh)
	require.True(t, ok)
	assert.NotNil(t, l)
}

func TestHostStateDropTCPConnOrListenerHandlesBoth(t *testing.T) {
	s := NewHostState()
	s.Reset("", nil, nil)

	lh := s.putTCPListener(loopbackTCPListener(t))
	assert.True(t, s.dropTCPConnOrListener(lh))
	_, ok := s.getTCPListener(lh)
	assert.False(t, ok)

	l := loopbackTCPListener(t)
	conn, err := net.DialTCP("tcp4", nil, l.Addr().(*net.TCPAddr))
	require.NoError(t, err)
	ch := s.putTCPConn(conn)
	assert.True(t, s.dropTCPConnOrListener(ch))
	_, ok = s.getTCPConn(ch)
	assert.False(t, ok)

	assert.False(t, s.dropTCPConnOrListener(999), "dropping an unknown handle reports false, not EBADF-by-panic")
}

// TestHostStateResetClearsFdTables is the fd-table half of spec.md
// §8's scenario 6 ("fd reuse across requests"): after Reset, a lease
// that opened sockets but never closed them observes an empty fd
// table on its next use, and every previously open socket is actually
// closed rather than merely forgotten.
func TestHostStateResetClearsFdTables(t *testing.T) {
	s := NewHostState()
	s.Reset("", nil, nil)

	udpConn := loopbackUDP(t)
	udpHandle := s.putUDP(udpConn)
	tcpListener := loopbackTCPListener(t)
	tcpHandle := s.putTCPListener(tcpListener)

	s.Reset("next-config", nil, nil)

	_, ok := s.getUDP(udpHandle)
	assert.False(t, ok, "udp fd table must be empty after reset")
	_, ok = s.getTCPListener(tcpHandle)
	assert.False(t, ok, "tcp fd table must be empty after reset")

	// The previous lease's socket must actually be closed, not just
	// unreferenced: any operation on it now fails.
	err := udpConn.SetDeadline(time.Now())
	assert.Error(t, err, "socket from the prior lease must be closed by Reset")

	assert.Equal(t, "next-config", s.ConfigText)

	// Handles start from 1 again after reset, matching a freshly
	// created HostState, so a guest that assumes low handle numbers
	// behaves consistently across leases.
	h := s.putUDP(loopbackUDP(t))
	assert.Equal(t, uint32(1), h)
}

func TestHostStateResetRebindsConfigSharedMapAndNext(t *testing.T) {
	s := NewHostState()
	next := fakeNextPoolRunner{}
	shared := sharedmap.New()

	s.Reset("name: proxy", shared, next)

	assert.Equal(t, "name: proxy", s.ConfigText)
	assert.Same(t, shared, s.SharedMap)
	assert.Equal(t, next, s.NextPool)
}

type fakeNextPoolRunner struct{}

func (fakeNextPoolRunner) RunNext(ctx context.Context, pkt []byte) ([]byte, *abi.PluginError, bool) {
	return nil, nil, false
}
