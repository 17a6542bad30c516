// Package handler provides HTTP handlers for all API endpoints. Handlers
// resolve the user's session through the manager and delegate to it — no
// service layer in between.
package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/mrktfy/prospector/internal/api/respond"
	"github.com/mrktfy/prospector/internal/config"
	"github.com/mrktfy/prospector/internal/engine"
	"github.com/mrktfy/prospector/internal/kv"
)

// healthChecker is satisfied by kv backends with a real connection to probe.
type healthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Handler holds shared dependencies for all endpoint handlers.
type Handler struct {
	manager *engine.Manager
	kv      kv.Store
	cfg     *config.Config
}

// New creates a Handler with shared dependencies.
func New(manager *engine.Manager, kvStore kv.Store, cfg *config.Config) *Handler {
	return &Handler{
		manager: manager,
		kv:      kvStore,
		cfg:     cfg,
	}
}

// Root serves API info at /.
func (h *Handler) Root(w http.ResponseWriter, r *http.Request) {
	respond.WriteJSONObject(w, http.StatusOK, map[string]interface{}{
		"name":    "Prospector Notification Engine",
		"version": "1.0.0",
		"status":  "running",
		"features": []string{
			"movement_detection",
			"dwell_detection",
			"listing_match_scoring",
			"tier_aware_throttling",
			"adaptive_delivery_timing",
		},
	})
}

// HealthCheck returns basic health status.
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respond.WriteJSONObject(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"sessions":  h.manager.Count(),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// HealthCheckDB verifies state-store connectivity. With the in-memory
// backend there is nothing to probe and the store reports healthy.
func (h *Handler) HealthCheckDB(w http.ResponseWriter, r *http.Request) {
	checker, ok := h.kv.(healthChecker)
	if !ok {
		respond.WriteJSONObject(w, http.StatusOK, map[string]interface{}{
			"status":    "healthy",
			"store":     "memory",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
		return
	}

	if err := checker.HealthCheck(r.Context()); err != nil {
		respond.WriteJSONObject(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status":    "unhealthy",
			"store":     "disconnected",
			"error":     "State store connection check failed",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
		return
	}
	respond.WriteJSONObject(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"store":     "connected",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
