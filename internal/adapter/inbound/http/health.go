package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/Sentinel-Gate/Sentinelauthz/internal/service"
)

// healthTimeout bounds the storage ping of one health check.
const healthTimeout = 2 * time.Second

// HealthResponse is the JSON response from the /health endpoint.
type HealthResponse struct {
	Status  string            `json:"status"`            // "healthy" or "unhealthy"
	Checks  map[string]string `json:"checks"`            // Component check results
	Version string            `json:"version,omitempty"` // Optional version info
}

// Pinger is implemented by policy storage that can report connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthChecker verifies component health.
type HealthChecker struct {
	authz   *service.AuthzService
	storage Pinger
	audit   AuditQueue
	version string
}

// NewHealthChecker creates a HealthChecker. Pass nil for components that aren't available.
func NewHealthChecker(authz *service.AuthzService, storage Pinger, version string) *HealthChecker {
	return &HealthChecker{
		authz:   authz,
		storage: storage,
		version: version,
	}
}

// Check performs health checks on all components.
func (h *HealthChecker) Check(ctx context.Context) HealthResponse {
	checks := make(map[string]string)
	healthy := true

	if h.authz != nil {
		checks["policy"] = fmt.Sprintf("ok: %d rules", len(h.authz.Rules(ctx)))
		st := h.authz.CacheStats()
		checks["decision_cache"] = fmt.Sprintf("%d/%d entries, %d hits, %d misses", st.Entries, st.Capacity, st.Hits, st.Misses)
	} else {
		checks["policy"] = "not configured"
	}

	if h.storage != nil {
		pingCtx, cancel := context.WithTimeout(ctx, healthTimeout)
		defer cancel()
		if err := h.storage.Ping(pingCtx); err != nil {
			checks["storage"] = "error: " + err.Error()
			healthy = false
		} else {
			checks["storage"] = "ok"
		}
	} else {
		checks["storage"] = "not configured"
	}

	if h.audit != nil {
		checks["audit"] = fmt.Sprintf("ok: %d queued, %d dropped", h.audit.ChannelDepth(), h.audit.DroppedRecords())
	}

	checks["goroutines"] = fmt.Sprintf("%d", runtime.NumGoroutine())

	status := "healthy"
	if !healthy {
		status = "unhealthy"
	}
	return HealthResponse{
		Status:  status,
		Checks:  checks,
		Version: h.version,
	}
}

// Handler returns an HTTP handler for the health endpoint.
func (h *HealthChecker) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		health := h.Check(r.Context())

		w.Header().Set("Content-Type", "application/json")
		if health.Status != "healthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}
		_ = json.NewEncoder(w).Encode(health)
	})
}
