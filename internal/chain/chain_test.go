package chain

import (
	"context"
	"fmt"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dnswasm/dnswasm/internal/abi"
	"github.com/dnswasm/dnswasm/internal/hostfuncs"
	"github.com/dnswasm/dnswasm/internal/isolate"
	"github.com/dnswasm/dnswasm/internal/pluginpool"
	"github.com/dnswasm/dnswasm/internal/sharedmap"
)

func TestBuildRequiresAtLeastOnePlugin(t *testing.T) {
	_, err := Build(context.Background(), nil, "/plugins", nil, nil)
	assert.Error(t, err)
}

func TestSynthesizeServfailPreservesFlags(t *testing.T) {
	req := new(dns.Msg)
	req.SetQuestion("example.com.", dns.TypeA)
	req.RecursionDesired = true
	req.AuthenticatedData = true

	resp := synthesizeServfail(req)

	assert.Equal(t, dns.RcodeServerFailure, resp.Rcode)
	assert.True(t, resp.Response)
	assert.True(t, resp.RecursionDesired)
	assert.True(t, resp.AuthenticatedData)
	assert.Equal(t, req.Id, resp.Id)
}

func TestSynthesizeServfailWithoutRDOrAD(t *testing.T) {
	req := new(dns.Msg)
	req.SetQuestion("example.com.", dns.TypeAAAA)

	resp := synthesizeServfail(req)

	assert.False(t, resp.RecursionDesired)
	assert.False(t, resp.AuthenticatedData)
}

// The remaining tests stand in the proxy/cache/identity plugin
// behaviors spec.md §8's concrete scenarios describe as Go closures
// satisfying isolate.Runner, wired into real *pluginpool.Pool and
// Chain instances via pluginpool.NewWithFactory — no compiled .wasm
// binary is involved, but the pool recycle, delegation, and SERVFAIL
// paths all run for real.

func aQuery(t *testing.T, name string) (*dns.Msg, []byte) {
	t.Helper()
	req := new(dns.Msg)
	req.SetQuestion(dns.Fqdn(name), dns.TypeA)
	pkt, err := req.Pack()
	require.NoError(t, err)
	return req, pkt
}

func aAnswer(req *dns.Msg, ip string, ttl uint32) *dns.Msg {
	resp := new(dns.Msg)
	resp.SetReply(req)
	resp.Answer = []dns.RR{&dns.A{
		Hdr: dns.RR_Header{Name: req.Question[0].Name, Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: ttl},
		A:   mustParseIP(ip),
	}}
	return resp
}

func cacheKey(req *dns.Msg) []byte {
	q := req.Question[0]
	return []byte(fmt.Sprintf("%s/%d/%d", q.Name, q.Qtype, q.Qclass))
}

// proxyPoolStub builds a one-plugin pool whose Runner answers every
// query with a canned A record, counting how many times it is
// actually invoked (i.e. how many times the upstream was hit).
func proxyPoolStub(answerIP string, ttl uint32) (*pluginpool.Pool, *atomic.Int32) {
	var calls atomic.Int32
	pool := pluginpool.NewWithFactory("proxy", "", nil, nil, func(context.Context) (isolate.Isolate, error) {
		return isolate.Runner(func(ctx context.Context, pkt []byte) ([]byte, *abi.PluginError, error) {
			calls.Add(1)
			req := new(dns.Msg)
			if err := req.Unpack(pkt); err != nil {
				return nil, nil, err
			}
			out, err := aAnswer(req, answerIP, ttl).Pack()
			if err != nil {
				return nil, nil, err
			}
			return out, nil, nil
		}), nil
	})
	return pool, &calls
}

// Scenario 1: proxy-only chain.
func TestScenarioProxyOnlyChain(t *testing.T) {
	proxy, calls := proxyPoolStub("93.184.216.34", 300)
	c := &Chain{pools: []*pluginpool.Pool{proxy}}

	req, pkt := aQuery(t, "example.com")
	resp, _, err := c.HandleDNS(context.Background(), req, pkt)
	require.NoError(t, err)

	assert.Equal(t, req.Id, resp.Id)
	assert.Equal(t, dns.RcodeSuccess, resp.Rcode)
	require.Len(t, resp.Answer, 1)
	assert.Equal(t, int32(1), calls.Load())
}

// Scenario 2 & 3: cache + proxy chain, with TTL expiry forcing a fresh
// upstream call on the third identical query.
func TestScenarioCacheProxyChainAndTTLExpiry(t *testing.T) {
	shared := sharedmap.New()
	const ttl = 30 * time.Millisecond

	proxy, calls := proxyPoolStub("93.184.216.34", 1)
	cache := pluginpool.NewWithFactory("cache", "", shared, proxy, func(context.Context) (isolate.Isolate, error) {
		return isolate.Runner(func(ctx context.Context, pkt []byte) ([]byte, *abi.PluginError, error) {
			req := new(dns.Msg)
			if err := req.Unpack(pkt); err != nil {
				return nil, nil, err
			}
			key := cacheKey(req)
			if cached, ok := shared.Get(key); ok {
				hit := new(dns.Msg)
				if err := hit.Unpack(cached); err != nil {
					return nil, nil, err
				}
				hit.Id = req.Id
				out, err := hit.Pack()
				return out, nil, err
			}
			out, pluginErr, handled := proxy.RunNext(ctx, pkt)
			if !handled || pluginErr != nil {
				return out, pluginErr, nil
			}
			shared.Set(key, out, ttl)
			return out, nil, nil
		}), nil
	})

	c := &Chain{pools: []*pluginpool.Pool{cache}}

	req1, pkt1 := aQuery(t, "example.com")
	resp1, _, err := c.HandleDNS(context.Background(), req1, pkt1)
	require.NoError(t, err)
	require.Len(t, resp1.Answer, 1)
	assert.Equal(t, int32(1), calls.Load(), "first query must miss and forward upstream")

	req2, pkt2 := aQuery(t, "example.com")
	resp2, _, err := c.HandleDNS(context.Background(), req2, pkt2)
	require.NoError(t, err)
	assert.Equal(t, req2.Id, resp2.Id)
	require.Len(t, resp2.Answer, 1)
	assert.Equal(t, int32(1), calls.Load(), "second identical query must be served from cache")

	time.Sleep(ttl + 20*time.Millisecond)

	req3, pkt3 := aQuery(t, "example.com")
	resp3, _, err := c.HandleDNS(context.Background(), req3, pkt3)
	require.NoError(t, err)
	require.Len(t, resp3.Answer, 1)
	assert.Equal(t, int32(2), calls.Load(), "query after TTL expiry must miss and forward upstream again")
}

// Scenario 4: a plugin-reported error is turned into a SERVFAIL whose
// question section matches the request.
func TestScenarioPluginErrorBecomesServfail(t *testing.T) {
	pool := pluginpool.NewWithFactory("broken", "", nil, nil, func(context.Context) (isolate.Isolate, error) {
		return isolate.Runner(func(ctx context.Context, pkt []byte) ([]byte, *abi.PluginError, error) {
			return nil, abi.NewPluginError("upstream exploded"), nil
		}), nil
	})
	c := &Chain{pools: []*pluginpool.Pool{pool}}

	req, pkt := aQuery(t, "example.com")
	resp, _, err := c.HandleDNS(context.Background(), req, pkt)
	require.NoError(t, err)

	assert.True(t, resp.Response)
	assert.Equal(t, dns.RcodeServerFailure, resp.Rcode)
	assert.Empty(t, resp.Answer)
	require.Len(t, resp.Question, 1)
	assert.Equal(t, req.Question[0], resp.Question[0])
}

// rejectingIsolate fails ValidConfig, standing in for a plugin whose
// configuration is malformed (scenario 5: the valid_config gate).
type rejectingIsolate struct{}

func (rejectingIsolate) Run(ctx context.Context, pkt []byte) ([]byte, *abi.PluginError, error) {
	return nil, nil, fmt.Errorf("must not run: config was never validated")
}
func (rejectingIsolate) ValidConfig(ctx context.Context) error {
	return fmt.Errorf("nameservers must be a sequence")
}
func (rejectingIsolate) Reset(string, *sharedmap.Map, hostfuncs.NextPoolRunner) {}
func (rejectingIsolate) Close(ctx context.Context) error                       { return nil }

// Scenario 5: a plugin whose valid_config rejects its configuration
// fails the pool's ValidateConfig gate, the check Build runs on every
// pool before any server can bind a socket.
func TestScenarioValidConfigGateRejectsBadConfig(t *testing.T) {
	pool := pluginpool.NewWithFactory("proxy", "", nil, nil, func(context.Context) (isolate.Isolate, error) {
		return rejectingIsolate{}, nil
	})

	err := pool.ValidateConfig(context.Background())
	assert.Error(t, err, "a plugin that rejects its own config must fail the startup gate")
}

// countingIsolate tracks how many times Reset has been applied, the
// pool-level half of scenario 6's fd-reuse guarantee: every lease,
// including a recycled one, is reset before the guest sees it. The
// other half — that HostState's fd tables are actually empty after
// Reset — is exercised directly in internal/hostfuncs.
type countingIsolate struct {
	resets *atomic.Int32
}

func (c countingIsolate) Run(ctx context.Context, pkt []byte) ([]byte, *abi.PluginError, error) {
	req := new(dns.Msg)
	if err := req.Unpack(pkt); err != nil {
		return nil, nil, err
	}
	out, err := aAnswer(req, "127.0.0.1", 60).Pack()
	return out, nil, err
}
func (c countingIsolate) ValidConfig(ctx context.Context) error { return nil }
func (c countingIsolate) Reset(string, *sharedmap.Map, hostfuncs.NextPoolRunner) {
	c.resets.Add(1)
}
func (c countingIsolate) Close(ctx context.Context) error { return nil }

func TestScenarioRecycledIsolateIsResetEveryLease(t *testing.T) {
	var resets atomic.Int32
	iso := countingIsolate{resets: &resets}
	pool := pluginpool.NewWithFactory("identity", "", nil, nil, func(context.Context) (isolate.Isolate, error) {
		return iso, nil
	})
	c := &Chain{pools: []*pluginpool.Pool{pool}}

	req1, pkt1 := aQuery(t, "a.example.")
	_, _, err := c.HandleDNS(context.Background(), req1, pkt1)
	require.NoError(t, err)

	req2, pkt2 := aQuery(t, "b.example.")
	_, _, err = c.HandleDNS(context.Background(), req2, pkt2)
	require.NoError(t, err)

	assert.Equal(t, int32(2), resets.Load(), "each lease of the recycled isolate must call Reset")
}

func mustParseIP(s string) net.IP {
	return net.ParseIP(s).To4()
}
