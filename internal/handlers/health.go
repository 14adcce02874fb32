package handlers

import (
	"context"
	"net/http"
	"time"

	"storefront-fulfillment/internal/common/logging"
)

// HealthCheck godoc
// @Summary Health check
// @Description Reports whether the order store (and Redis, when configured) is reachable
// @Tags system
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Failure 503 {object} map[string]interface{}
// @Router /health [get]
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	status := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"database":  "ok",
	}
	code := http.StatusOK

	if h.health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()
		if err := h.health.Health(ctx); err != nil {
			h.logger.Warn("Health check failed", logging.Field{Key: "error", Value: err.Error()})
			status["status"] = "unhealthy"
			status["database"] = err.Error()
			code = http.StatusServiceUnavailable
		}
	}

	if h.redis != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()
		if err := h.redis.Health(ctx); err != nil {
			status["redis"] = err.Error()
			if code == http.StatusOK {
				status["status"] = "degraded"
			}
		} else {
			status["redis"] = "ok"
		}
	}

	writeJSON(w, code, status)
}
