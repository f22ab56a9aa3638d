package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "polargo_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"path", "method", "code"},
	)

	httpDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "polargo_http_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"path", "method"},
	)

	samplesAddedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "polargo_samples_added_total",
			Help: "Total number of alignment samples accepted.",
		},
	)

	axisSolvesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "polargo_axis_solves_total",
			Help: "Total number of axis solve attempts by outcome.",
		},
		[]string{"outcome"},
	)

	refreshesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "polargo_refreshes_total",
			Help: "Total number of refresh computations by outcome.",
		},
		[]string{"outcome"},
	)

	refreshResidualDegrees = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "polargo_refresh_residual_degrees",
			Help:    "Residual of successful refresh rotation fits, in degrees.",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		},
	)

	pixelQueriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "polargo_pixel_queries_total",
			Help: "Total number of pixel correction and error queries by outcome.",
		},
		[]string{"kind", "outcome"},
	)

	streamClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "polargo_stream_clients",
			Help: "Number of connected alignment stream clients.",
		},
	)

	streamEventsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "polargo_stream_events_total",
			Help: "Total number of events broadcast to stream clients.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpDurationSeconds,
		samplesAddedTotal,
		axisSolvesTotal,
		refreshesTotal,
		refreshResidualDegrees,
		pixelQueriesTotal,
		streamClients,
		streamEventsTotal,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// SampleAdded records one accepted alignment sample.
func SampleAdded() {
	samplesAddedTotal.Inc()
}

// AxisSolve records one axis solve attempt.
func AxisSolve(outcome string) {
	axisSolvesTotal.WithLabelValues(outcome).Inc()
}

// Refresh records one refresh computation; residual is only observed for
// successful fits.
func Refresh(outcome string, residual float64) {
	refreshesTotal.WithLabelValues(outcome).Inc()
	if outcome == "ok" {
		refreshResidualDegrees.Observe(residual)
	}
}

// PixelQuery records one corrected-pixel or pixel-error query.
func PixelQuery(kind, outcome string) {
	pixelQueriesTotal.WithLabelValues(kind, outcome).Inc()
}

// StreamClientConnected adjusts the connected-client gauge.
func StreamClientConnected(delta int) {
	streamClients.Add(float64(delta))
}

// StreamEventBroadcast counts one broadcast event.
func StreamEventBroadcast() {
	streamEventsTotal.Inc()
}

// responseWriter wraps http.ResponseWriter to capture the status code.
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

// Unwrap lets http.ResponseController reach the underlying writer, which the
// SSE stream needs for its per-write deadlines.
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// Middleware records request count and duration for each request.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rw, r)

		duration := time.Since(start).Seconds()
		code := strconv.Itoa(rw.statusCode)
		path := normalizeRoute(r.URL.Path)

		httpRequestsTotal.WithLabelValues(path, r.Method, code).Inc()
		httpDurationSeconds.WithLabelValues(path, r.Method).Observe(duration)
	})
}

// knownRoutes are the exact paths the server serves. Anything else is a
// probe or a typo and collapses to one label so scanners cannot blow up
// the label cardinality.
var knownRoutes = map[string]bool{
	"/":                               true,
	"/healthz":                        true,
	"/readyz":                         true,
	"/metrics":                        true,
	"/api/v1/session":                 true,
	"/api/v1/session/reset":           true,
	"/api/v1/session/samples":         true,
	"/api/v1/session/solve":           true,
	"/api/v1/session/refresh":         true,
	"/api/v1/session/corrected-pixel": true,
	"/api/v1/session/pixel-error":     true,
	"/api/v1/runs":                    true,
	"/api/v1/stream/alignment":        true,
}

func normalizeRoute(path string) string {
	if knownRoutes[path] {
		return path
	}
	if rest, ok := strings.CutPrefix(path, "/api/v1/runs/"); ok && isDigits(rest) {
		return "/api/v1/runs/{id}"
	}
	return "other"
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
