package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector bundles the Prometheus instruments for the tracker. A nil
// *Collector is valid everywhere it is consumed; callers nil-check before
// observing.
type Collector struct {
	reg *prometheus.Registry

	SnapshotsComputed prometheus.Counter
	SnapshotErrors    prometheus.Counter
	SnapshotDuration  prometheus.Histogram

	CacheHits   prometheus.Counter
	CacheMisses prometheus.Counter

	PrewarmDays *prometheus.CounterVec // outcome label: warmed|already_cached|skipped|failed

	PolledVehicles prometheus.Counter
	PollErrors     prometheus.Counter
}

// NewCollector creates a Collector with its own registry.
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		reg: reg,
		SnapshotsComputed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bustracker_snapshots_computed_total",
			Help: "Total bus-count snapshots computed from the database.",
		}),
		SnapshotErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bustracker_snapshot_errors_total",
			Help: "Total snapshot computations that failed.",
		}),
		SnapshotDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "bustracker_snapshot_duration_seconds",
			Help:    "Duration of one snapshot computation (seven concurrent queries).",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		}),
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bustracker_cache_hits_total",
			Help: "Total snapshot cache hits.",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bustracker_cache_misses_total",
			Help: "Total snapshot cache misses for settled instants.",
		}),
		PrewarmDays: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bustracker_prewarm_days_total",
			Help: "Days processed by the cache prewarm job.",
		}, []string{"outcome"}),
		PolledVehicles: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bustracker_polled_vehicles_total",
			Help: "Total vehicle observations written by the poller.",
		}),
		PollErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bustracker_poll_errors_total",
			Help: "Total poll cycles that failed.",
		}),
	}

	reg.MustRegister(
		c.SnapshotsComputed, c.SnapshotErrors, c.SnapshotDuration,
		c.CacheHits, c.CacheMisses, c.PrewarmDays,
		c.PolledVehicles, c.PollErrors,
	)

	return c
}

// Handler returns the /metrics handler for this collector's registry.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{})
}
