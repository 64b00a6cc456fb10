package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// Gateway metrics
	GatewayRequestsTotal   *prometheus.CounterVec
	GatewayRequestDuration *prometheus.HistogramVec
	GatewayBarrierWait     prometheus.Histogram

	// Cascade metrics
	CascadeFetchesTotal  *prometheus.CounterVec
	CascadeFetchDuration *prometheus.HistogramVec
	CascadeStaleDropped  prometheus.Counter

	// Shared KV store metrics
	KVOperationsTotal *prometheus.CounterVec

	// Catalog cache metrics
	CatalogCacheHitsTotal   prometheus.Counter
	CatalogCacheMissesTotal prometheus.Counter

	// HTTP server metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		GatewayRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "console_gateway_requests_total",
				Help: "Total number of outbound requests through the authorization gateway",
			},
			[]string{"endpoint", "class", "status"},
		),
		GatewayRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "console_gateway_request_duration_seconds",
				Help:    "Outbound request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"endpoint"},
		),
		GatewayBarrierWait: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "console_gateway_barrier_wait_seconds",
				Help:    "Time gated requests spent waiting on the init barrier",
				Buckets: prometheus.DefBuckets,
			},
		),
		CascadeFetchesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "console_cascade_fetches_total",
				Help: "Total number of resource cascade list fetches",
			},
			[]string{"kind", "status"},
		),
		CascadeFetchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "console_cascade_fetch_duration_seconds",
				Help:    "Resource cascade fetch duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"kind"},
		),
		CascadeStaleDropped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "console_cascade_stale_responses_dropped_total",
				Help: "Late list responses discarded by the generation guard",
			},
		),
		KVOperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "console_kv_operations_total",
				Help: "Total number of shared KV store operations",
			},
			[]string{"operation", "backend", "status"},
		),
		CatalogCacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "console_catalog_cache_hits_total",
				Help: "Spanner catalog cache hits",
			},
		),
		CatalogCacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "console_catalog_cache_misses_total",
				Help: "Spanner catalog cache misses",
			},
		),
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "console_http_requests_total",
				Help: "Total number of HTTP requests served",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "console_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
	}

	if registry != nil {
		registry.MustRegister(
			m.GatewayRequestsTotal,
			m.GatewayRequestDuration,
			m.GatewayBarrierWait,
			m.CascadeFetchesTotal,
			m.CascadeFetchDuration,
			m.CascadeStaleDropped,
			m.KVOperationsTotal,
			m.CatalogCacheHitsTotal,
			m.CatalogCacheMissesTotal,
			m.HTTPRequestsTotal,
			m.HTTPRequestDuration,
		)
	}

	return m
}

// Handler returns an HTTP handler for the given metrics registry
func Handler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
