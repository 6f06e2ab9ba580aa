// Package metrics defines the Prometheus metrics of the blob store.
package metrics

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// registerOnce ensures Register() is idempotent.
var registerOnce sync.Once

// sizeBuckets are exponential buckets for request/response size histograms (bytes).
var sizeBuckets = []float64{256, 1024, 4096, 16384, 65536, 262144, 1048576, 4194304, 16777216, 67108864}

// HTTP metrics (RED: Rate, Errors, Duration).
var (
	// HTTPRequestsTotal counts total HTTP requests by method, path, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "s3blob_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency in seconds by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "s3blob_http_request_duration_seconds",
			Help:    "Request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// HTTPResponseSize observes response body size in bytes.
	HTTPResponseSize = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "s3blob_http_response_size_bytes",
			Help:    "Response body size in bytes",
			Buckets: sizeBuckets,
		},
		[]string{"method", "path"},
	)
)

// Blob store metrics.
var (
	// BlobOperationsTotal counts object-storage requests by operation and
	// outcome (success, not_found, already_exists, error).
	BlobOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "s3blob_operations_total",
			Help: "Object storage requests by operation and outcome",
		},
		[]string{"operation", "status"},
	)

	// BytesUploadedTotal counts bytes sent by blob writers.
	BytesUploadedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "s3blob_bytes_uploaded_total",
			Help: "Total bytes uploaded by blob writers",
		},
	)

	// BytesDownloadedTotal counts bytes read from blob readers.
	BytesDownloadedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "s3blob_bytes_downloaded_total",
			Help: "Total bytes read by blob readers",
		},
	)

	// MultipartPartsTotal counts multipart parts by kind (upload, copy).
	MultipartPartsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "s3blob_multipart_parts_total",
			Help: "Multipart parts transferred by kind",
		},
		[]string{"kind"},
	)

	// MultipartAbortsTotal counts multipart uploads aborted after a failure.
	MultipartAbortsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "s3blob_multipart_aborts_total",
			Help: "Multipart uploads aborted",
		},
	)

	// DeleteFailuresTotal counts keys a bulk delete reported as not deleted.
	DeleteFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "s3blob_delete_failures_total",
			Help: "Keys left behind by bulk deletes",
		},
	)
)

// Register registers all Prometheus collectors with the default registry.
// This must be called explicitly (typically from main) so that metrics
// registration can be made conditional on configuration. It is safe to call
// multiple times; subsequent calls are no-ops.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			HTTPRequestsTotal,
			HTTPRequestDuration,
			HTTPResponseSize,
			BlobOperationsTotal,
			BytesUploadedTotal,
			BytesDownloadedTotal,
			MultipartPartsTotal,
			MultipartAbortsTotal,
			DeleteFailuresTotal,
		)
		// Initialize the part counters so they appear in /metrics output
		// before the first multipart transfer.
		MultipartPartsTotal.WithLabelValues("upload")
		MultipartPartsTotal.WithLabelValues("copy")
	})
}

// NormalizePath maps actual request paths to normalized path templates
// suitable for use as Prometheus metric labels. This avoids high-cardinality
// labels from individual store and blob names.
func NormalizePath(path string) string {
	switch path {
	case "/health", "/metrics", "/openapi.json":
		return path
	case "/docs", "/docs/":
		return "/docs"
	case "/", "":
		return "/"
	}

	if strings.HasPrefix(path, "/docs") {
		return "/docs"
	}

	rest, ok := strings.CutPrefix(path, "/v1/")
	if !ok {
		return "other"
	}
	store, blob, _ := strings.Cut(rest, "/")
	switch {
	case store == "":
		return "/v1"
	case blob == "":
		return "/v1/{store}"
	}
	return "/v1/{store}/{path}"
}
