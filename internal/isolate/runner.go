package isolate

import (
	"context"

	"github.com/dnswasm/dnswasm/internal/abi"
	"github.com/dnswasm/dnswasm/internal/hostfuncs"
	"github.com/dnswasm/dnswasm/internal/sharedmap"
)

// Runner adapts a plain closure to the full Isolate interface, letting
// tests express a plugin's run behavior without hand-rolling Reset,
// ValidConfig, and Close for every case. It is exported for
// internal/chain's scenario tests, which stand in proxy/cache/identity
// behavior this way rather than loading compiled .wasm binaries.
type Runner func(ctx context.Context, pkt []byte) ([]byte, *abi.PluginError, error)

// Run implements Isolate by calling the closure.
func (r Runner) Run(ctx context.Context, pkt []byte) ([]byte, *abi.PluginError, error) {
	return r(ctx, pkt)
}

// ValidConfig implements Isolate. Runner always accepts its config;
// tests that need to exercise config rejection use a dedicated fake.
func (r Runner) ValidConfig(ctx context.Context) error { return nil }

// Reset implements Isolate as a no-op; Runner closures close over
// whatever state they need directly.
func (r Runner) Reset(string, *sharedmap.Map, hostfuncs.NextPoolRunner) {}

// Close implements Isolate as a no-op.
func (r Runner) Close(ctx context.Context) error { return nil }

var _ Isolate = Runner(nil)
