package http

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// endpoints are the API path prefixes used as metric labels. Longest first,
// so /v1/policies/save is not counted as /v1/policies.
var endpoints = []string{
	"/v1/policies/save",
	"/v1/decisions",
	"/v1/policies",
	"/v1/enforce",
	"/v1/reload",
	"/v1/roles",
}

// endpointLabel maps a request path to a bounded label set. Per-user paths
// like /v1/roles/alice collapse to /v1/roles.
func endpointLabel(path string) string {
	for _, e := range endpoints {
		if path == e || strings.HasPrefix(path, e+"/") {
			return e
		}
	}
	return "other"
}

// statusClass returns "2xx", "4xx" and so on.
func statusClass(code int) string {
	return strconv.Itoa(code/100) + "xx"
}

// MetricsMiddleware records request count and latency per API endpoint.
// /metrics and /health are not counted.
func MetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/metrics" || r.URL.Path == "/health" {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			wrapped := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(wrapped, r)

			endpoint := endpointLabel(r.URL.Path)
			metrics.RequestDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
			metrics.RequestsTotal.WithLabelValues(endpoint, r.Method, statusClass(wrapped.status)).Inc()
		})
	}
}

// statusRecorder captures the response status for metrics and access logs.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
