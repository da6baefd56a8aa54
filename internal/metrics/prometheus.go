// Package metrics exposes Prometheus instrumentation for the tracker.
package metrics

import (
	"strconv"

	"github.com/gofiber/adaptor/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// IngestCycleDuration tracks how long one collect-and-store cycle takes.
	IngestCycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "gmv_ingest_cycle_duration_seconds",
		Help:    "Duration of a full ingest cycle",
		Buckets: prometheus.DefBuckets,
	})

	// IngestBatches counts ingest cycles by outcome.
	IngestBatches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gmv_ingest_batches_total",
		Help: "Ingest batches by status",
	}, []string{"status"})

	// RowsWritten counts product rows replaced into live storage.
	RowsWritten = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gmv_rows_written_total",
		Help: "Product rows written to live storage",
	})

	// ArchiveOps counts archive attempts by result.
	ArchiveOps = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gmv_archive_operations_total",
		Help: "Archive operations by result",
	}, []string{"result"})

	// CacheHits and CacheMisses are labelled by cache type (read, mapping).
	CacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gmv_cache_hits_total",
		Help: "Cache hits by cache type",
	}, []string{"cache_type"})

	CacheMisses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gmv_cache_misses_total",
		Help: "Cache misses by cache type",
	}, []string{"cache_type"})

	// DealListSyncs counts deal-list synchronizations by instance and outcome.
	DealListSyncs = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gmv_deallist_syncs_total",
		Help: "Deal-list sync runs by instance and status",
	}, []string{"instance", "status"})

	// HTTPRequests counts API requests by route and status class.
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gmv_http_requests_total",
		Help: "HTTP requests by path and status",
	}, []string{"path", "status"})
)

// Handler returns a Fiber handler serving the Prometheus scrape endpoint.
func Handler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.HandlerFor(
		prometheus.DefaultGatherer,
		promhttp.HandlerOpts{EnableOpenMetrics: true},
	))
}

// HTTPMiddleware records a counter per request after the handler runs.
func HTTPMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		err := c.Next()
		status := strconv.Itoa(c.Response().StatusCode())
		HTTPRequests.WithLabelValues(c.Route().Path, status).Inc()
		return err
	}
}
