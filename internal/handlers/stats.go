package handlers

import (
	"net/http"

	"chatrelay/internal/store"
	"chatrelay/internal/utils"
)

type StatsHandler struct {
	Store *store.Store
}

// ServeHTTP handles GET /stats
func (h *StatsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	stats, err := h.Store.AggregateStats(r.Context())
	if err != nil {
		utils.Fail(w, http.StatusInternalServerError, "failed to aggregate stats")
		return
	}
	utils.JSON(w, http.StatusOK, utils.APIResponse{Success: true, Data: stats})
}
