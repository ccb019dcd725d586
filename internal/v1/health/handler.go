// Package health exposes liveness and readiness probes for a joint process.
package health

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// RegistryStats reports point-in-time counters from the joint core.
// internal/v1/joint.Joint satisfies this.
type RegistryStats interface {
	ClientCount() int
	RoomCount() int
}

// Handler manages health check endpoints.
type Handler struct {
	stats RegistryStats
}

// NewHandler creates a new health check handler. stats may be nil, in
// which case readiness reports zero counts but still succeeds.
func NewHandler(stats RegistryStats) *Handler {
	return &Handler{stats: stats}
}

// LivenessResponse represents the liveness probe response.
type LivenessResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// ReadinessResponse represents the readiness probe response.
type ReadinessResponse struct {
	Status    string         `json:"status"`
	Checks    map[string]any `json:"checks"`
	Timestamp string         `json:"timestamp"`
}

// Liveness handles the liveness probe endpoint.
// GET /health/live
// Returns 200 if the process is alive (no dependency checks).
func (h *Handler) Liveness(c *gin.Context) {
	response := LivenessResponse{
		Status:    "alive",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	c.JSON(http.StatusOK, response)
}

// Readiness handles the readiness probe endpoint.
// GET /health/ready
// A joint process has no external dependencies to check (no Non-goal'd
// persistence, no auth provider), so readiness always succeeds once the
// process has started; it still reports registry size for operators.
func (h *Handler) Readiness(c *gin.Context) {
	checks := map[string]any{
		"clients_active": 0,
		"rooms_active":   0,
	}
	if h.stats != nil {
		checks["clients_active"] = h.stats.ClientCount()
		checks["rooms_active"] = h.stats.RoomCount()
	}

	response := ReadinessResponse{
		Status:    "ready",
		Checks:    checks,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	c.JSON(http.StatusOK, response)
}

// MarshalJSON implements custom JSON marshaling for better formatting.
func (r ReadinessResponse) MarshalJSON() ([]byte, error) {
	type Alias ReadinessResponse
	return json.Marshal(&struct {
		*Alias
	}{
		Alias: (*Alias)(&r),
	})
}
