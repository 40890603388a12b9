package handler

import (
	"log/slog"
	"net/http"
	"time"
)

// StateReporter exposes the engine's per-symbol states; nil when the engine
// is not running in this process.
type StateReporter interface {
	States() map[string]string
}

// HealthHandler serves the health-check endpoint.
type HealthHandler struct {
	mode      string
	states    StateReporter
	startedAt time.Time
	logger    *slog.Logger
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(mode string, states StateReporter, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{
		mode:      mode,
		states:    states,
		startedAt: time.Now().UTC(),
		logger:    logger,
	}
}

// HealthCheck responds with the server status, mode and per-symbol engine
// states.
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"status":         "ok",
		"mode":           h.mode,
		"uptime_seconds": int64(time.Since(h.startedAt).Seconds()),
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
	}
	if h.states != nil {
		resp["symbols"] = h.states.States()
	}
	writeJSON(w, http.StatusOK, resp)
}
