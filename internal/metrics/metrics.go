// Package metrics provides Prometheus metrics for the meshdrive server.
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
	// HTTP request metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meshdrive_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "meshdrive_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// Usage aggregation metrics
	usageAggregationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "meshdrive_usage_aggregation_duration_seconds",
			Help:    "Time to rebuild the usage trees from the flat record list",
			Buckets: prometheus.DefBuckets,
		},
	)

	fileRecordsTotal = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "meshdrive_file_records",
			Help: "Number of file records currently held for all nodes",
		},
	)

	usageNodesTotal = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "meshdrive_usage_nodes",
			Help: "Number of nodes in the last computed usage result",
		},
	)

	// Announce metrics
	announcesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meshdrive_announces_total",
			Help: "Total peer file-list announcements",
		},
		[]string{"status"},
	)

	// Auth metrics
	authAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meshdrive_auth_attempts_total",
			Help: "Total authentication attempts",
		},
		[]string{"result"},
	)

	// Database metrics
	dbQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "meshdrive_db_query_duration_seconds",
			Help:    "Database query duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"query"},
	)

	dbConnectionsOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "meshdrive_db_connections_open",
			Help: "Number of open database connections",
		},
	)

	// SSE metrics
	sseConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "meshdrive_sse_connections_active",
			Help: "Number of active SSE connections",
		},
	)

	sseEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meshdrive_sse_events_total",
			Help: "Total SSE events published",
		},
		[]string{"type"},
	)

	// Rate limit metrics
	rateLimitHitsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "meshdrive_rate_limit_hits_total",
			Help: "Total rate limit rejections (429s)",
		},
	)

	// Peer cache metrics
	peerCacheLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meshdrive_peer_cache_lookups_total",
			Help: "Peer cache lookups by outcome",
		},
		[]string{"outcome"},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordHTTPRequest records an HTTP request metric.
func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordUsageAggregation records one full rebuild of the usage trees.
func RecordUsageAggregation(duration time.Duration, nodes int) {
	usageAggregationDuration.Observe(duration.Seconds())
	usageNodesTotal.Set(float64(nodes))
}

// SetFileRecords sets the current number of stored file records.
func SetFileRecords(count int64) {
	fileRecordsTotal.Set(float64(count))
}

// RecordAnnounce records a peer announcement.
func RecordAnnounce(success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	announcesTotal.WithLabelValues(status).Inc()
}

// RecordAuthAttempt records an authentication attempt.
func RecordAuthAttempt(success bool) {
	result := "success"
	if !success {
		result = "failure"
	}
	authAttemptsTotal.WithLabelValues(result).Inc()
}

// RecordDBQuery records a database query duration.
func RecordDBQuery(query string, duration time.Duration) {
	dbQueryDuration.WithLabelValues(query).Observe(duration.Seconds())
}

// SetDBConnectionsOpen sets the number of open database connections.
func SetDBConnectionsOpen(count int) {
	dbConnectionsOpen.Set(float64(count))
}

// SetSSEConnectionsActive sets the number of active SSE connections.
func SetSSEConnectionsActive(count int64) {
	sseConnectionsActive.Set(float64(count))
}

// RecordSSEEvent records an SSE event publication.
func RecordSSEEvent(eventType string) {
	sseEventsTotal.WithLabelValues(eventType).Inc()
}

// RecordRateLimitHit records a rate limit rejection.
func RecordRateLimitHit() {
	rateLimitHitsTotal.Inc()
}

// RecordPeerCacheLookup records a peer cache hit or miss.
func RecordPeerCacheLookup(hit bool) {
	outcome := "hit"
	if !hit {
		outcome = "miss"
	}
	peerCacheLookupsTotal.WithLabelValues(outcome).Inc()
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// Middleware returns HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)
		RecordHTTPRequest(r.Method, r.URL.Path, rw.statusCode, time.Since(start))
	})
}
