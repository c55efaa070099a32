// Package metrics exposes Prometheus instrumentation for the gateway.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// RequestsTotal counts HTTP requests to the gateway itself (health,
	// metrics, and every mounted route).
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mcphub_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// RequestDuration tracks request latency.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mcphub_request_duration_seconds",
			Help:    "Request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// MountedRoutes tracks the current size of the route table.
	MountedRoutes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "mcphub_mounted_routes",
			Help: "Number of routes currently mounted",
		},
	)

	// ChildSessionTransitions counts ChildSession state transitions by
	// (server, to-state).
	ChildSessionTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mcphub_child_session_transitions_total",
			Help: "Child session state transitions",
		},
		[]string{"server", "state"},
	)

	// ReconfigApplies counts reconfiguration outcomes.
	ReconfigApplies = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mcphub_reconfig_applies_total",
			Help: "Reconfiguration controller apply outcomes",
		},
		[]string{"outcome"}, // success, rollback
	)

	// ProxyMethodCalls counts proxy endpoint method invocations by outcome.
	ProxyMethodCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mcphub_proxy_method_calls_total",
			Help: "Proxy endpoint JSON-RPC method calls",
		},
		[]string{"method", "outcome"}, // ok, not_initialized, unsupported, not_connected, error
	)

	// HTTPSessionTableSize tracks the per-route HttpSession table size.
	HTTPSessionTableSize = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mcphub_http_session_table_size",
			Help: "Number of tracked HttpSessions per route",
		},
		[]string{"route"},
	)
)

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Flush implements http.Flusher for streaming responses.
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Middleware records request counts and duration for every request.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		duration := time.Since(start).Seconds()
		path := normalizePath(r.URL.Path)

		RequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.statusCode)).Inc()
		RequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// normalizePath collapses per-route mount paths to avoid high cardinality:
// every "<prefix><name>/mcp/" path normalizes to "/mcp".
func normalizePath(path string) string {
	switch path {
	case "/health", "/metrics":
		return path
	default:
		if strings.HasSuffix(path, "/mcp/") || strings.HasSuffix(path, "/mcp") {
			return "/mcp"
		}
		return "other"
	}
}

// Handler returns the Prometheus scrape handler, mounted at GET /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordChildSessionTransition records a ChildSession state change.
func RecordChildSessionTransition(server, state string) {
	ChildSessionTransitions.WithLabelValues(server, state).Inc()
}

// RecordReconfigApply records whether an apply succeeded or rolled back.
func RecordReconfigApply(outcome string) {
	ReconfigApplies.WithLabelValues(outcome).Inc()
}

// RecordProxyMethodCall records a proxy endpoint method outcome.
func RecordProxyMethodCall(method, outcome string) {
	ProxyMethodCalls.WithLabelValues(method, outcome).Inc()
}

// SetHTTPSessionTableSize sets the current HttpSession table size for a route.
func SetHTTPSessionTableSize(route string, size float64) {
	HTTPSessionTableSize.WithLabelValues(route).Set(size)
}

// SetMountedRoutes sets the current route table size.
func SetMountedRoutes(count float64) {
	MountedRoutes.Set(count)
}
