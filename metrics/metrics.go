// Package metrics exposes the node's Prometheus collectors on the
// --metrics-addr endpoint: block heights, blocks produced and finalized, and
// mempool size,
// the observability surface spec §1 excludes from the consensus core
// itself but which the ambient stack still carries.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collectors groups every gauge/counter the node updates as it runs.
type Collectors struct {
	ConfirmedHeight prometheus.Gauge
	FinalizedHeight prometheus.Gauge
	MempoolSize     prometheus.Gauge
	BlocksProduced  prometheus.Counter
	BlocksFinalized prometheus.Counter
}

// New registers a fresh set of collectors against their own registry, so
// multiple nodes in the same process (as in tests) don't collide on the
// default global registry.
func New() (*Collectors, *prometheus.Registry) {
	reg := prometheus.NewRegistry()

	c := &Collectors{
		ConfirmedHeight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rensa_confirmed_height",
			Help: "Height of the highest confirmed block.",
		}),
		FinalizedHeight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rensa_finalized_height",
			Help: "Height of the highest finalized block.",
		}),
		MempoolSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rensa_mempool_size",
			Help: "Number of transactions currently pending in the mempool.",
		}),
		BlocksProduced: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rensa_blocks_produced_total",
			Help: "Number of blocks this validator has produced as leader.",
		}),
		BlocksFinalized: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rensa_blocks_finalized_total",
			Help: "Number of blocks finalized by the commitment engine.",
		}),
	}

	reg.MustRegister(
		c.ConfirmedHeight,
		c.FinalizedHeight,
		c.MempoolSize,
		c.BlocksProduced,
		c.BlocksFinalized,
	)
	return c, reg
}

// Handler returns the HTTP handler to serve reg on --metrics-addr.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
