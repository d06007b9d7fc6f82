// Package metrics exposes Prometheus counters for query handling, the
// ambient observability layer SPEC_FULL.md carries; it exposes
// counters only, not an admin or control surface. Registration
// follows the teacher's pattern of package-level vars registered
// against a private registry rather than the global default one, so
// multiple servers in a process don't collide.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Registry is the private registry every collector in this package is
// registered against; cmd/dnswasm mounts it under /metrics when
// config.MetricsAddr is set.
var Registry = prometheus.NewRegistry()

var (
	QueriesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dnswasm",
		Name:      "queries_total",
		Help:      "DNS queries received, by listen address.",
	}, []string{"listen_addr"})

	ServfailTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dnswasm",
		Name:      "servfail_total",
		Help:      "Queries answered with a synthesized SERVFAIL due to a plugin chain error.",
	}, []string{"listen_addr"})

	ChainDurationSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "dnswasm",
		Name:      "chain_duration_seconds",
		Help:      "Time spent running a query through its plugin chain.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"listen_addr"})

	PoolInFlight = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "dnswasm",
		Name:      "pool_isolates_in_flight",
		Help:      "Isolates currently leased from a plugin pool.",
	}, []string{"plugin"})
)

func init() {
	Registry.MustRegister(QueriesTotal, ServfailTotal, ChainDurationSeconds, PoolInFlight)
}
