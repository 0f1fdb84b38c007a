package api

import (
	"context"
	"net/http"
	"time"
)

const healthTimeout = 2 * time.Second

// Health handles GET /health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"status":      "ok",
		"sessions":    len(h.Engine.Sessions()),
		"in_flight":   len(h.Engine.InFlight()),
		"messages":    h.Transcript.Len(),
		"subscribers": h.Hub.Subscribers(),
	}

	status := http.StatusOK
	if h.Repo != nil {
		ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		defer cancel()
		if err := h.Repo.Ping(ctx); err != nil {
			h.Logger.Warn("[API] Archive health check failed", "error", err)
			resp["status"] = "degraded"
			resp["archive"] = "unreachable"
			status = http.StatusServiceUnavailable
		} else {
			resp["archive"] = "ok"
		}
	}
	JSON(w, status, resp)
}
