package room

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"chatrelay/internal/models"
	"chatrelay/internal/store"
	"chatrelay/internal/utils"
)

type RoomSearchHandler struct {
	Store *store.Store
}

// ServeHTTP handles GET /rooms/{id}/search?q=<substring>
func (h *RoomSearchHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "id")

	q := r.URL.Query().Get("q")
	if q == "" {
		utils.Fail(w, http.StatusBadRequest, "q parameter required")
		return
	}

	msgs, err := h.Store.ByRoomAndText(r.Context(), roomID, q)
	if err != nil {
		utils.Fail(w, http.StatusInternalServerError, "search failed")
		return
	}
	if msgs == nil {
		msgs = []models.Message{}
	}
	utils.JSON(w, http.StatusOK, utils.APIResponse{Success: true, Message: "search results", Data: msgs})
}
