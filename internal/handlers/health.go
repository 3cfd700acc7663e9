package handlers

import (
	"net/http"
	"time"

	"chatrelay/internal/registry"
	"chatrelay/internal/utils"
)

type HealthHandler struct {
	Registry *registry.Registry
	Start    time.Time
}

// ServeHTTP handles GET /health
func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	utils.JSON(w, http.StatusOK, utils.APIResponse{
		Success: true,
		Data: map[string]interface{}{
			"status":         "ok",
			"uptime_seconds": int64(time.Since(h.Start).Seconds()),
			"connections":    h.Registry.Len(),
			"live_rooms":     len(h.Registry.Rooms()),
		},
	})
}
