package telemetry

import "github.com/prometheus/client_golang/prometheus"

var CacheLookupsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "tenantfabric",
		Subsystem: "cache",
		Name:      "lookups_total",
		Help:      "Total number of config resolutions by tier that served them.",
	},
	[]string{"tier"},
)

var CacheResolutionDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "tenantfabric",
		Subsystem: "cache",
		Name:      "resolution_duration_seconds",
		Help:      "Time to resolve a tenant config, end to end.",
		Buckets:   []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5},
	},
	[]string{"database"},
)

var PoolsActive = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "tenantfabric",
		Subsystem: "pool",
		Name:      "active_pools",
		Help:      "Current number of live per-(tenant, database) connection pools.",
	},
)

var PoolCreationsTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "tenantfabric",
		Subsystem: "pool",
		Name:      "creations_total",
		Help:      "Total number of connection pools created.",
	},
)

var PoolCreationFailuresTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "tenantfabric",
		Subsystem: "pool",
		Name:      "creation_failures_total",
		Help:      "Total number of failed pool creation attempts.",
	},
)

var EventsProcessedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "tenantfabric",
		Subsystem: "events",
		Name:      "processed_total",
		Help:      "Total number of tenant lifecycle events processed, by tag and outcome.",
	},
	[]string{"tag", "outcome"},
)

var MiddlewareRejectionsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "tenantfabric",
		Subsystem: "middleware",
		Name:      "rejections_total",
		Help:      "Total number of requests rejected by the tenant middleware, by reason.",
	},
	[]string{"reason"},
)

// All returns every tenant-fabric metric for registration with a Prometheus
// registry.
func All() []prometheus.Collector {
	return []prometheus.Collector{
		CacheLookupsTotal,
		CacheResolutionDuration,
		PoolsActive,
		PoolCreationsTotal,
		PoolCreationFailuresTotal,
		EventsProcessedTotal,
		MiddlewareRejectionsTotal,
	}
}
