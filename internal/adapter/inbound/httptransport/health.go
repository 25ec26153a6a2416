package httptransport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
)

// HealthResponse is the JSON body returned by GET /health.
type HealthResponse struct {
	Status  string            `json:"status"`
	Checks  map[string]string `json:"checks"`
	Version string            `json:"version,omitempty"`
}

// StorageProbe reports whether the storage handle is reachable.
type StorageProbe interface {
	Ping(ctx context.Context) error
}

// CaptureDepth reports the capture engine's channel backpressure.
type CaptureDepth interface {
	ChannelDepth() int
	ChannelCapacity() int
	DroppedRecords() int64
}

// HealthChecker answers GET /health by probing storage reachability
// and capture channel backpressure.
type HealthChecker struct {
	storage StorageProbe
	capture CaptureDepth
	version string
}

// NewHealthChecker builds a HealthChecker. Either dependency may be nil
// to report "not configured" instead of probing it.
func NewHealthChecker(storage StorageProbe, capture CaptureDepth, version string) *HealthChecker {
	return &HealthChecker{storage: storage, capture: capture, version: version}
}

// Check runs every configured probe and aggregates the result.
func (h *HealthChecker) Check(ctx context.Context) HealthResponse {
	checks := make(map[string]string)
	healthy := true

	if h.storage != nil {
		if err := h.storage.Ping(ctx); err != nil {
			checks["storage"] = "error: " + err.Error()
			healthy = false
		} else {
			checks["storage"] = "ok"
		}
	} else {
		checks["storage"] = "not configured"
	}

	if h.capture != nil {
		depth := h.capture.ChannelDepth()
		capacity := h.capture.ChannelCapacity()
		percentFull := 0
		if capacity > 0 {
			percentFull = depth * 100 / capacity
		}
		if percentFull > 90 {
			checks["capture"] = fmt.Sprintf("degraded: %d/%d (%d%%)", depth, capacity, percentFull)
			healthy = false
		} else {
			checks["capture"] = fmt.Sprintf("ok: %d/%d (%d%%)", depth, capacity, percentFull)
		}
		if drops := h.capture.DroppedRecords(); drops > 0 {
			checks["capture_drops"] = fmt.Sprintf("%d dropped", drops)
		}
	} else {
		checks["capture"] = "not configured"
	}

	checks["goroutines"] = fmt.Sprintf("%d", runtime.NumGoroutine())

	status := "healthy"
	if !healthy {
		status = "unhealthy"
	}
	return HealthResponse{Status: status, Checks: checks, Version: h.version}
}

// Handler returns the /health HTTP handler: 200 when every check
// passes, 503 otherwise.
func (h *HealthChecker) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		result := h.Check(r.Context())
		w.Header().Set("Content-Type", "application/json")
		if result.Status != "healthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}
		_ = json.NewEncoder(w).Encode(result)
	})
}
