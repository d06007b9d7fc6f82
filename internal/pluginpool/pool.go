// Package pluginpool implements component C4: a LIFO pool of leased,
// reusable Isolate instances for a single compiled plugin, grounded on
// original_source/rubydns/src/plugins/pool.rs's deadpool Manager
// (create/recycle), adapted from async Rust's managed::Pool to a plain
// Go mutex-guarded free list since deadpool has no Go equivalent in
// the retrieved corpus.
package pluginpool

import (
	"context"
	"fmt"
	"sync"

	"github.com/tetratelabs/wazero"
	"go.uber.org/zap"

	"github.com/dnswasm/dnswasm/internal/abi"
	"github.com/dnswasm/dnswasm/internal/dnslog"
	"github.com/dnswasm/dnswasm/internal/hostfuncs"
	"github.com/dnswasm/dnswasm/internal/isolate"
	"github.com/dnswasm/dnswasm/internal/metrics"
	"github.com/dnswasm/dnswasm/internal/sharedmap"
)

// DefaultMaxSize bounds how many isolates a pool will create
// concurrently, the implicit per-plugin concurrency ceiling recorded
// as a resolved Open Question in DESIGN.md.
const DefaultMaxSize = 32

// Pool manages a free list of Isolates compiled from one plugin
// module, plus the shared state (config text, shared map, delegate
// pool) every leased isolate is reset to before use.
type Pool struct {
	name       string
	newIsolate func(ctx context.Context) (isolate.Isolate, error)
	configText string
	shared     *sharedmap.Map
	next       hostfuncs.NextPoolRunner
	maxSize    int

	log *zap.SugaredLogger

	mu       sync.Mutex
	cond     *sync.Cond
	free     []isolate.Isolate
	inFlight int
}

// New builds a pool bound to an already-compiled plugin module. The
// pool does not precreate isolates; the first Acquire call creates
// one on demand, matching deadpool's lazy creation.
func New(name string, rt wazero.Runtime, compiled wazero.CompiledModule, configText string, shared *sharedmap.Map, next hostfuncs.NextPoolRunner) *Pool {
	return newPool(name, configText, shared, next, func(ctx context.Context) (isolate.Isolate, error) {
		return isolate.New(ctx, rt, compiled, name)
	})
}

// NewWithFactory builds a pool whose isolates come from factory instead
// of a compiled wasm module. This is the seam internal/chain's tests
// use to exercise real pool/recycle behavior against Runner closures
// standing in for proxy/cache/identity plugins, since no compiled
// .wasm binary can be produced without running a build.
func NewWithFactory(name, configText string, shared *sharedmap.Map, next hostfuncs.NextPoolRunner, factory func(ctx context.Context) (isolate.Isolate, error)) *Pool {
	return newPool(name, configText, shared, next, factory)
}

func newPool(name, configText string, shared *sharedmap.Map, next hostfuncs.NextPoolRunner, factory func(ctx context.Context) (isolate.Isolate, error)) *Pool {
	p := &Pool{
		name:       name,
		newIsolate: factory,
		configText: configText,
		shared:     shared,
		next:       next,
		maxSize:    DefaultMaxSize,
		log:        dnslog.New("pool." + name),
	}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// SetNext rebinds the delegate pool a leased isolate's call_next_plugin
// reaches, used when a chain is being assembled in reverse order (the
// last pool is built first, with a nil next).
func (p *Pool) SetNext(next hostfuncs.NextPoolRunner) {
	p.mu.Lock()
	p.next = next
	p.mu.Unlock()
}

// ValidateConfig leases one isolate and calls its valid_config export,
// the startup-time gate chain.Build runs on every pool before the
// chain is considered usable.
func (p *Pool) ValidateConfig(ctx context.Context) error {
	iso, release, err := p.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("pluginpool: %s: acquire for validation: %w", p.name, err)
	}
	defer release(true)

	if err := iso.ValidConfig(ctx); err != nil {
		return fmt.Errorf("pluginpool: %s: %w", p.name, err)
	}
	p.log.Infow("plugin configuration accepted", "plugin", p.name)
	return nil
}

// Acquire leases an isolate, creating one if the free list is empty
// and the pool has not reached maxSize. Once the pool is saturated,
// Acquire blocks until releaseFunc frees a slot, the deadpool
// Pool::get().await contract original_source/rubydns/src/plugins/pool.rs
// relies on — it only returns an error for a genuine resource failure
// (isolate.New failing) or for ctx being done, never for mere transient
// saturation. The returned release func recycles the isolate back into
// the free list on success (keep=true) or discards it on failure
// (keep=false), matching deadpool's recycle semantics: a failed lease
// is never returned to the pool.
func (p *Pool) Acquire(ctx context.Context) (isolate.Isolate, func(keep bool), error) {
	stop := context.AfterFunc(ctx, func() {
		p.mu.Lock()
		p.cond.Broadcast()
		p.mu.Unlock()
	})
	defer stop()

	p.mu.Lock()
	for {
		if n := len(p.free); n > 0 {
			iso := p.free[n-1]
			p.free = p.free[:n-1]
			p.inFlight++
			p.setInFlightMetricLocked()
			p.mu.Unlock()
			iso.Reset(p.configText, p.shared, p.next)
			return iso, p.releaseFunc(iso), nil
		}

		if p.inFlight < p.maxSize {
			p.inFlight++
			p.setInFlightMetricLocked()
			p.mu.Unlock()

			iso, err := p.newIsolate(ctx)
			if err != nil {
				p.mu.Lock()
				p.inFlight--
				p.setInFlightMetricLocked()
				p.cond.Broadcast() // the slot we failed to fill is free again
				p.mu.Unlock()
				return nil, nil, fmt.Errorf("pluginpool: %s: build isolate: %w", p.name, err)
			}
			iso.Reset(p.configText, p.shared, p.next)
			return iso, p.releaseFunc(iso), nil
		}

		if err := ctx.Err(); err != nil {
			p.mu.Unlock()
			return nil, nil, fmt.Errorf("pluginpool: %s: acquire: %w", p.name, err)
		}
		p.cond.Wait()
		if err := ctx.Err(); err != nil {
			p.mu.Unlock()
			return nil, nil, fmt.Errorf("pluginpool: %s: acquire: %w", p.name, err)
		}
	}
}

func (p *Pool) releaseFunc(iso isolate.Isolate) func(keep bool) {
	return func(keep bool) {
		p.mu.Lock()
		p.inFlight--
		if keep {
			p.free = append(p.free, iso)
		}
		p.setInFlightMetricLocked()
		p.cond.Broadcast()
		p.mu.Unlock()

		if !keep {
			if err := iso.Close(context.Background()); err != nil {
				p.log.Warnw("failed to close discarded isolate", "error", err)
			}
		}
	}
}

// setInFlightMetricLocked publishes p.inFlight to the pool_isolates_in_flight
// gauge. Callers must hold p.mu.
func (p *Pool) setInFlightMetricLocked() {
	metrics.PoolInFlight.WithLabelValues(p.name).Set(float64(p.inFlight))
}

// RunNext implements hostfuncs.NextPoolRunner: acquire an isolate, run
// it, and recycle it when Run returns no error; an isolate whose Run
// fails (a trap or host-side error) is discarded instead. Application-
// level failures reported via PluginError are returned with
// handled=true. handled is false when the pool could not produce an
// isolate to run on or when Run itself failed. ctx carries the caller's run budget so
// a delegated call_next_plugin cannot outlive its caller's deadline; a
// nil ctx (the head of a chain, with no enclosing guest call) falls
// back to context.Background(), and isolate.Run re-arms its own
// RunBudget timeout on top regardless.
func (p *Pool) RunNext(ctx context.Context, pkt []byte) ([]byte, *abi.PluginError, bool) {
	if ctx == nil {
		ctx = context.Background()
	}
	iso, release, err := p.Acquire(ctx)
	if err != nil {
		p.log.Warnw("failed to acquire isolate for delegated call", "error", err)
		return nil, nil, false
	}

	out, pluginErr, runErr := iso.Run(ctx, pkt)
	release(runErr == nil)
	if runErr != nil {
		p.log.Warnw("delegated plugin run failed", "error", runErr)
		return nil, nil, false
	}
	return out, pluginErr, true
}

// Close closes every idle isolate currently in the free list. Isolates
// leased at the time of the call are not closed by it: releasing one
// afterwards with keep=true puts it back on the free list.
func (p *Pool) Close(ctx context.Context) {
	p.mu.Lock()
	free := p.free
	p.free = nil
	p.mu.Unlock()

	for _, iso := range free {
		if err := iso.Close(ctx); err != nil {
			p.log.Warnw("failed to close idle isolate", "error", err)
		}
	}
}
