// Package chain implements component C5: an ordered list of plugin
// pools, wired into a linked chain of delegation handles so the head
// plugin's call_next_plugin reaches the second, the second's reaches
// the third, and so on. The host drives only the head pool; everything
// past that is the guest's own choice to delegate, per spec.md's
// guest-driven chain design (contrast with
// original_source/rubydns/src/plugins/mod.rs::PluginChain::handle_dns,
// which iterates plugins itself — the host here stays out of the way
// once dispatch starts).
package chain

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/miekg/dns"
	"github.com/tetratelabs/wazero"

	"github.com/dnswasm/dnswasm/internal/abi"
	"github.com/dnswasm/dnswasm/internal/config"
	"github.com/dnswasm/dnswasm/internal/dnslog"
	"github.com/dnswasm/dnswasm/internal/pluginpool"
	"github.com/dnswasm/dnswasm/internal/sharedmap"
)

// Chain is a built, validated sequence of plugin pools for one server.
type Chain struct {
	pools []*pluginpool.Pool
}

// Build compiles every plugin named in configs (in order), wires each
// pool's next-pool handle to the following pool, and validates every
// plugin's configuration before returning. Pools are constructed tail
// first so each one's delegate handle exists before it is needed.
func Build(ctx context.Context, rt wazero.Runtime, pluginDir string, configs []config.PluginConfig, shared *sharedmap.Map) (*Chain, error) {
	if len(configs) == 0 {
		return nil, fmt.Errorf("chain: at least one plugin is required")
	}

	log := dnslog.New("chain")

	pools := make([]*pluginpool.Pool, len(configs))
	for i := len(configs) - 1; i >= 0; i-- {
		pc := configs[i]
		pool, err := buildPool(ctx, rt, pluginDir, pc, shared)
		if err != nil {
			return nil, fmt.Errorf("chain: plugin %q: %w", pc.Name, err)
		}
		if i+1 < len(pools) {
			pool.SetNext(pools[i+1])
		}
		pools[i] = pool
	}

	// valid_config is the startup gate spec.md §7 makes fatal; a
	// rejection is logged here and an acceptance by
	// Pool.ValidateConfig, both before Build returns and the server
	// binds its listening socket.
	for i, pool := range pools {
		if err := pool.ValidateConfig(ctx); err != nil {
			log.Errorw("valid_config rejected plugin", "plugin", configs[i].Name, "error", err)
			return nil, err
		}
	}
	log.Infow("plugin chain built", "plugins", len(pools))

	return &Chain{pools: pools}, nil
}

func buildPool(ctx context.Context, rt wazero.Runtime, pluginDir string, pc config.PluginConfig, shared *sharedmap.Map) (*pluginpool.Pool, error) {
	path := pc.PluginPath
	if path == "" {
		path = filepath.Join(pluginDir, pc.Name+".wasm")
	}

	binary, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plugin binary %s: %w", path, err)
	}

	compiled, err := rt.CompileModule(ctx, binary)
	if err != nil {
		return nil, fmt.Errorf("compile plugin binary %s: %w", path, err)
	}

	configText, err := pc.CanonicalText()
	if err != nil {
		return nil, err
	}

	return pluginpool.New(pc.Name, rt, compiled, configText, shared, nil), nil
}

// HandleDNS dispatches a query packet to the head plugin pool. A
// PluginError from the guest is turned into a SERVFAIL response rather
// than propagated as a Go error, matching spec.md's lean that guest
// application failures are not host-fatal.
func (c *Chain) HandleDNS(ctx context.Context, reqMsg *dns.Msg, reqPacket []byte) (*dns.Msg, []byte, error) {
	head := c.pools[0]

	out, pluginErr, handled := head.RunNext(ctx, reqPacket)
	if !handled {
		return nil, nil, fmt.Errorf("chain: head plugin pool failed to run")
	}
	if pluginErr != nil {
		dnslog.New("chain").Warnw("plugin chain returned an error, synthesizing SERVFAIL",
			"error", pluginErr.Error())
		return synthesizeServfail(reqMsg), nil, nil
	}

	respMsg := new(dns.Msg)
	if err := respMsg.Unpack(out); err != nil {
		return nil, nil, fmt.Errorf("chain: unpack plugin response: %w", err)
	}
	return respMsg, out, nil
}

// synthesizeServfail builds a SERVFAIL response that otherwise mirrors
// the request header: only QR and Rcode change, RD/AD are preserved
// (spec.md §9 Open Question, resolved in DESIGN.md).
func synthesizeServfail(req *dns.Msg) *dns.Msg {
	resp := new(dns.Msg)
	resp.SetRcode(req, dns.RcodeServerFailure)
	resp.RecursionDesired = req.RecursionDesired
	resp.AuthenticatedData = req.AuthenticatedData
	return resp
}

// Close releases every pool's idle isolates.
func (c *Chain) Close(ctx context.Context) {
	for _, p := range c.pools {
		p.Close(ctx)
	}
}

// AbiVersion is exposed for diagnostics/logging only.
const AbiVersion = abi.Version
