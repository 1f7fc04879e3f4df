package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// staticRoutes are reported under their own path.
var staticRoutes = map[string]bool{
	"/":                            true,
	"/api/checkout/create-session": true,
	"/create-checkout-session":     true,
	"/api/stripe/webhook":          true,
	"/api/payments/refund":         true,
	"/api/payouts":                 true,
	"/api/health":                  true,
	"/health":                      true,
	"/ready":                       true,
	"/metrics":                     true,
}

// normalizePath maps paths with IDs to route patterns so metric label
// cardinality stays bounded: /api/payments/cs_123 becomes
// /api/payments/{sessionId}. Unknown paths collapse to "other".
func normalizePath(path string) string {
	if staticRoutes[path] {
		return path
	}

	parts := strings.Split(strings.Trim(path, "/"), "/")
	switch {
	case len(parts) == 3 && parts[0] == "api" && parts[1] == "payments" && parts[2] != "":
		return "/api/payments/{sessionId}"
	case len(parts) == 3 && parts[0] == "api" && parts[1] == "payouts" && parts[2] != "":
		return "/api/payouts/{id}"
	case len(parts) == 4 && parts[0] == "api" && parts[1] == "payouts" && parts[3] == "transactions":
		return "/api/payouts/{id}/transactions"
	case strings.HasPrefix(path, "/debug/pprof"):
		return "/debug/pprof"
	}
	return "other"
}

// metricsResponseWriter wraps http.ResponseWriter to capture status code and response size.
type metricsResponseWriter struct {
	http.ResponseWriter
	statusCode  int
	size        int64
	wroteHeader bool
}

// WriteHeader captures the status code before writing it.
func (mrw *metricsResponseWriter) WriteHeader(code int) {
	if mrw.wroteHeader {
		return
	}
	mrw.statusCode = code
	mrw.wroteHeader = true
	mrw.ResponseWriter.WriteHeader(code)
}

// Write captures the response size and writes the data.
func (mrw *metricsResponseWriter) Write(b []byte) (int, error) {
	n, err := mrw.ResponseWriter.Write(b)
	mrw.size += int64(n)
	return n, err
}

// Unwrap exposes the underlying writer.
func (mrw *metricsResponseWriter) Unwrap() http.ResponseWriter {
	return mrw.ResponseWriter
}

// newMetricsResponseWriter creates a new metricsResponseWriter with default 200 status.
func newMetricsResponseWriter(w http.ResponseWriter) *metricsResponseWriter {
	return &metricsResponseWriter{
		ResponseWriter: w,
		statusCode:     http.StatusOK,
	}
}

// HTTPMetrics is a middleware that records HTTP request metrics.
// Health and metrics endpoints are excluded.
func HTTPMetrics(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.URL.Path {
			case "/health", "/ready", "/api/health", "/metrics":
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			mrw := newMetricsResponseWriter(w)

			requestSize := r.ContentLength
			if requestSize < 0 {
				requestSize = 0
			}

			next.ServeHTTP(mrw, r)

			metrics.ObserveHTTPRequest(
				r.Method,
				normalizePath(r.URL.Path),
				strconv.Itoa(mrw.statusCode),
				time.Since(start).Seconds(),
				requestSize,
				mrw.size,
			)
		})
	}
}
