// Package metrics provides Prometheus metrics for the output store.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Store metrics
	storeOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outputstore_store_operations_total",
			Help: "Total store calls by backend kind and outcome",
		},
		[]string{"kind", "status"},
	)

	storeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "outputstore_store_duration_seconds",
			Help:    "Store call duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	bytesStored = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outputstore_bytes_stored_total",
			Help: "Total artifact bytes placed by backend kind",
		},
		[]string{"kind"},
	)

	capacityRejectionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "outputstore_capacity_rejections_total",
			Help: "Stores refused by the local admission check",
		},
	)

	availableBytes = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "outputstore_available_bytes",
			Help: "Free bytes last observed for a target directory",
		},
		[]string{"dir"},
	)

	// Remote transfer metrics
	remoteOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "outputstore_remote_operation_duration_seconds",
			Help:    "Remote backend operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"backend", "operation"},
	)

	remoteOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outputstore_remote_operations_total",
			Help: "Total remote backend operations",
		},
		[]string{"backend", "operation", "status"},
	)

	// HTTP request metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outputstore_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "outputstore_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	// Catalog metrics
	dbQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "outputstore_db_query_duration_seconds",
			Help:    "Catalog query duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"query"},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordStore records the outcome of one store call. status is "ok" or an error kind.
func RecordStore(kind, status string, bytes int64, duration time.Duration) {
	storeOperationsTotal.WithLabelValues(kind, status).Inc()
	storeDuration.WithLabelValues(kind).Observe(duration.Seconds())
	if status == "ok" && bytes > 0 {
		bytesStored.WithLabelValues(kind).Add(float64(bytes))
	}
}

// RecordCapacityRejection counts a store refused before any write.
func RecordCapacityRejection() {
	capacityRejectionsTotal.Inc()
}

// SetAvailableBytes records the free space observed for dir.
func SetAvailableBytes(dir string, bytes int64) {
	availableBytes.WithLabelValues(dir).Set(float64(bytes))
}

// RecordRemoteOperation records a remote backend call (login, upload, share).
func RecordRemoteOperation(backend, operation string, duration time.Duration, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	remoteOperationDuration.WithLabelValues(backend, operation).Observe(duration.Seconds())
	remoteOperationsTotal.WithLabelValues(backend, operation, status).Inc()
}

// RecordHTTPRequest records an HTTP request metric.
func RecordHTTPRequest(method string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// RecordDBQuery records a catalog query duration.
func RecordDBQuery(query string, duration time.Duration) {
	dbQueryDuration.WithLabelValues(query).Observe(duration.Seconds())
}
