package observability

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~20s
		},
		[]string{"method", "route", "status"},
	)

	upstreamLatencySeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "upstream_latency_seconds",
			Help:    "Latency of upstream calls in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		},
		[]string{"upstream", "status"},
	)

	cacheResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "response_cache_results_total",
			Help: "Raw response cache lookups by outcome.",
		},
		[]string{"outcome"},
	)

	cacheEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "response_cache_entries",
			Help: "Number of distinct query texts with a cached response.",
		},
	)

	ingestResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_queries_total",
			Help: "Catalog queries processed by the ingest stage, by result.",
		},
		[]string{"result"},
	)

	storeCollections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "result_store_collections",
			Help: "Number of styled collections held by the result store.",
		},
	)

	filterDurationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "viewport_filter_duration_seconds",
			Help:    "Duration of one full viewport filter pass.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14),
		},
	)

	visibleFeatures = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "viewport_visible_features",
			Help: "Features fully inside the current viewport after the last pass.",
		},
	)

	viewportUpdates = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "viewport_updates_total",
			Help: "Viewport updates by source and result.",
		},
		[]string{"source", "result"},
	)
)

func ObserveHTTP(method, route string, status int, durationSeconds float64) {
	st := strconv.Itoa(status)
	httpRequestsTotal.WithLabelValues(method, route, st).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route, st).Observe(durationSeconds)
}

// ObserveUpstreamLatency records one upstream call; status is the HTTP code or
// "error" for transport failures.
func ObserveUpstreamLatency(upstream, status string, durationSeconds float64) {
	upstreamLatencySeconds.WithLabelValues(upstream, status).Observe(durationSeconds)
}

func IncCacheHit()  { cacheResults.WithLabelValues("hit").Inc() }
func IncCacheMiss() { cacheResults.WithLabelValues("miss").Inc() }

func IncCacheFailure() { cacheResults.WithLabelValues("error").Inc() }

func SetCacheEntries(n int) { cacheEntries.Set(float64(n)) }

// IncIngest counts one catalog query; result is inserted|duplicate|fetch_error|conversion_error.
func IncIngest(result string) { ingestResults.WithLabelValues(result).Inc() }

func SetStoreCollections(n int) { storeCollections.Set(float64(n)) }

func ObserveFilter(durationSeconds float64, visible int) {
	filterDurationSeconds.Observe(durationSeconds)
	visibleFeatures.Set(float64(visible))
}

func IncViewportUpdate(source string, err error) {
	result := "ok"
	if err != nil {
		result = "rejected"
	}
	viewportUpdates.WithLabelValues(source, result).Inc()
}
