// Package observability holds the Prometheus collectors and the HTTP
// middleware that feeds them.
package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// FilesIngested counts accepted file uploads.
	FilesIngested = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "stocktally_files_ingested_total",
			Help: "Total number of files ingested",
		},
	)

	// FilesRemoved counts retracted files.
	FilesRemoved = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "stocktally_files_removed_total",
			Help: "Total number of files removed",
		},
	)

	// RowsExtracted counts line items accepted from uploaded grids.
	RowsExtracted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "stocktally_rows_extracted_total",
			Help: "Total number of line items extracted from uploads",
		},
	)

	// RowsSkipped counts malformed rows dropped during extraction.
	RowsSkipped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "stocktally_rows_skipped_total",
			Help: "Total number of malformed rows skipped during extraction",
		},
	)

	// DetectionOutcomes counts detection runs by outcome.
	DetectionOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stocktally_detection_total",
			Help: "Column detection runs by outcome",
		},
		[]string{"outcome"},
	)

	// RequestsTotal tracks HTTP requests by path and status code.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stocktally_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"path", "code"},
	)

	// RequestDuration tracks HTTP request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "stocktally_http_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"path"},
	)
)

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Middleware records request counts and latencies per route pattern.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		// The mux fills in Pattern after matching; labeling on it keeps the
		// cardinality bounded where raw paths carry ids. Unmatched requests
		// have no pattern and share one label.
		path := r.Pattern
		if path == "" {
			path = "unmatched"
		}
		RequestsTotal.WithLabelValues(path, strconv.Itoa(rec.status)).Inc()
		RequestDuration.WithLabelValues(path).Observe(time.Since(start).Seconds())
	})
}
