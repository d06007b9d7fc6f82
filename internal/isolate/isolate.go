// Package isolate implements component C3: a single sandboxed guest
// instance, compiled once per plugin and instantiated fresh per
// isolate, matching reglet-dev-reglet's Plugin.createInstance ("fresh
// instance every time - no caching") and wudi-gateway's compile-once,
// instantiate-per-pool-slot split.
package isolate

import (
	"context"
	"fmt"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	wasi "github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"

	"github.com/dnswasm/dnswasm/internal/abi"
	"github.com/dnswasm/dnswasm/internal/hostfuncs"
	"github.com/dnswasm/dnswasm/internal/sharedmap"
)

// RunBudget is the cooperative-yield fuel substitute spec.md §4.3 asks
// for: wazero has no Wasmtime-style fuel counter, so a guest call is
// instead bounded by wall-clock deadline, generous enough that no
// well-behaved plugin body ever trips it. WithCloseOnContextDone
// ensures a guest stuck past the budget is torn down rather than left
// to spin forever holding its isolate's lease. Run and ValidConfig
// re-arm the budget by deriving a fresh deadline on every call, so
// each lease starts with a full budget.
const RunBudget = 5 * time.Second

// Isolate is the narrow interface the plugin pool and chain depend on,
// so tests can substitute a fake implementation instead of a real
// compiled wasm module (accept interfaces, return structs).
type Isolate interface {
	// Run invokes the guest's "run" export on pkt, returning the
	// guest's output packet or a PluginError on guest-reported failure.
	Run(ctx context.Context, pkt []byte) ([]byte, *abi.PluginError, error)
	// ValidConfig invokes the guest's "valid_config" export against
	// the currently-bound configuration text.
	ValidConfig(ctx context.Context) error
	// Reset clears host-side socket/handle state and rebinds the
	// isolate's config/shared-map/next-pool before reuse.
	Reset(configText string, shared *sharedmap.Map, next hostfuncs.NextPoolRunner)
	// Close releases the underlying guest instance.
	Close(ctx context.Context) error
}

// WasmIsolate is the concrete Isolate backed by a wazero module
// instance.
type WasmIsolate struct {
	pluginName string
	module     api.Module
	state      *hostfuncs.HostState

	runFn         api.Function
	validConfigFn api.Function
}

// New instantiates a fresh guest instance from compiled, calling
// module-level initialization the way reglet's createInstance does for
// WASI-built modules.
func New(ctx context.Context, rt wazero.Runtime, compiled wazero.CompiledModule, pluginName string) (*WasmIsolate, error) {
	cfg := wazero.NewModuleConfig().
		WithName(""). // anonymous: many instances of the same compiled module
		WithCloseOnContextDone(true)
	mod, err := rt.InstantiateModule(ctx, compiled, cfg)
	if err != nil {
		return nil, fmt.Errorf("isolate: instantiate %s: %w", pluginName, err)
	}

	if init := mod.ExportedFunction("_initialize"); init != nil {
		if _, err := init.Call(ctx); err != nil {
			_ = mod.Close(ctx)
			return nil, fmt.Errorf("isolate: initialize %s: %w", pluginName, err)
		}
	}

	runFn := mod.ExportedFunction(abi.GuestRun)
	if runFn == nil {
		_ = mod.Close(ctx)
		return nil, fmt.Errorf("isolate: plugin %s does not export %q", pluginName, abi.GuestRun)
	}
	validFn := mod.ExportedFunction(abi.GuestValidConfig)
	if validFn == nil {
		_ = mod.Close(ctx)
		return nil, fmt.Errorf("isolate: plugin %s does not export %q", pluginName, abi.GuestValidConfig)
	}

	return &WasmIsolate{
		pluginName:    pluginName,
		module:        mod,
		state:         hostfuncs.NewHostState(),
		runFn:         runFn,
		validConfigFn: validFn,
	}, nil
}

// Reset implements Isolate.
func (w *WasmIsolate) Reset(configText string, shared *sharedmap.Map, next hostfuncs.NextPoolRunner) {
	w.state.Reset(configText, shared, next)
}

// Run implements Isolate. The packet is written into guest memory via
// the shared allocate/deallocate convention, "run" is invoked, and its
// packed (status, ptr<<32|len) result is decoded per the tri-state
// convention in internal/abi.
func (w *WasmIsolate) Run(ctx context.Context, pkt []byte) ([]byte, *abi.PluginError, error) {
	ctx, cancel := context.WithTimeout(ctx, RunBudget)
	defer cancel()
	ctx = hostfuncs.WithHostState(ctx, w.state)

	ptr, ok := writeRequest(ctx, w.module, pkt)
	if !ok {
		return nil, nil, fmt.Errorf("isolate: %s: failed to stage request packet", w.pluginName)
	}

	results, err := w.runFn.Call(ctx, ptr, uint64(len(pkt)))
	if err != nil {
		return nil, nil, fmt.Errorf("isolate: %s: run trapped: %w", w.pluginName, err)
	}
	if len(results) != 2 {
		return nil, nil, fmt.Errorf("isolate: %s: run returned %d values, want 2", w.pluginName, len(results))
	}

	status := uint32(results[0])
	packed := results[1]
	ptrOut, lenOut := abi.Unpack(packed)

	switch status {
	case abi.StatusOK:
		out, ok := w.module.Memory().Read(ptrOut, lenOut)
		if !ok {
			return nil, nil, fmt.Errorf("isolate: %s: run returned out-of-bounds result", w.pluginName)
		}
		return append([]byte(nil), out...), nil, nil
	case abi.StatusErr:
		msg, _ := w.module.Memory().Read(ptrOut, lenOut)
		return nil, &abi.PluginError{Code: 1, Msg: string(msg)}, nil
	default:
		return nil, nil, fmt.Errorf("isolate: %s: run returned unknown status %d", w.pluginName, status)
	}
}

// ValidConfig implements Isolate.
func (w *WasmIsolate) ValidConfig(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, RunBudget)
	defer cancel()
	ctx = hostfuncs.WithHostState(ctx, w.state)
	results, err := w.validConfigFn.Call(ctx)
	if err != nil {
		return fmt.Errorf("isolate: %s: valid_config trapped: %w", w.pluginName, err)
	}
	if len(results) != 1 {
		return fmt.Errorf("isolate: %s: valid_config returned %d values, want 1", w.pluginName, len(results))
	}
	if results[0] != 0 {
		return fmt.Errorf("isolate: %s: configuration rejected by plugin", w.pluginName)
	}
	return nil
}

// Close implements Isolate.
func (w *WasmIsolate) Close(ctx context.Context) error {
	return w.module.Close(ctx)
}

func writeRequest(ctx context.Context, mod api.Module, pkt []byte) (uint64, bool) {
	if len(pkt) == 0 {
		return 0, true
	}
	allocate := mod.ExportedFunction(abi.GuestAllocate)
	if allocate == nil {
		return 0, false
	}
	results, err := allocate.Call(ctx, uint64(len(pkt)))
	if err != nil || len(results) == 0 || results[0] == 0 {
		return 0, false
	}
	ptr := uint32(results[0])
	if !mod.Memory().Write(ptr, pkt) {
		return 0, false
	}
	return uint64(ptr), true
}

// NewRuntime builds a wazero runtime with WASI preview1 and the "env"
// capability module instantiated, ready to compile and run plugins
// from. One runtime is shared by every pool in a chain.
func NewRuntime(ctx context.Context) (wazero.Runtime, error) {
	rt := wazero.NewRuntime(ctx)
	if _, err := wasi.Instantiate(ctx, rt); err != nil {
		rt.Close(ctx)
		return nil, fmt.Errorf("isolate: instantiate wasi: %w", err)
	}
	if err := hostfuncs.Instantiate(ctx, rt); err != nil {
		rt.Close(ctx)
		return nil, fmt.Errorf("isolate: instantiate env module: %w", err)
	}
	return rt, nil
}
