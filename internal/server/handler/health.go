package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// StatusSource reports the engine figures shown by the health check.
type StatusSource interface {
	MarketCount(ctx context.Context) int
	TotalPositions(ctx context.Context) int
	ClaimsPaused(ctx context.Context) bool
}

// HealthHandler serves the health-check endpoint.
type HealthHandler struct {
	status StatusSource
	logger *slog.Logger
}

// NewHealthHandler creates a HealthHandler. status may be nil in modes that
// run without an engine.
func NewHealthHandler(status StatusSource, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{status: status, logger: logHandler(logger, "health")}
}

// HealthCheck responds with a simple JSON status indicating the server is alive.
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	if h.status != nil {
		ctx := r.Context()
		body["markets"] = h.status.MarketCount(ctx)
		body["positions"] = h.status.TotalPositions(ctx)
		body["claims_paused"] = h.status.ClaimsPaused(ctx)
	}
	writeJSON(w, http.StatusOK, body)
}
