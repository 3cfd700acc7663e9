package room

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"chatrelay/internal/models"
	"chatrelay/internal/store"
	"chatrelay/internal/utils"
)

const (
	defaultPageSize = 50
	maxPageSize     = 100
)

type RoomMessagesHandler struct {
	Store *store.Store
}

// ServeHTTP handles GET /rooms/{id}/messages?page=1&size=50
//
// Pages are most-recent-first; the client prepends each page and stops
// loading more when a page comes back shorter than size.
func (h *RoomMessagesHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "id")

	page := 1
	if p := r.URL.Query().Get("page"); p != "" {
		v, err := strconv.Atoi(p)
		if err != nil || v < 1 {
			utils.Fail(w, http.StatusBadRequest, "page must be a positive integer")
			return
		}
		page = v
	}

	size := defaultPageSize
	if s := r.URL.Query().Get("size"); s != "" {
		v, err := strconv.Atoi(s)
		if err != nil || v < 1 {
			utils.Fail(w, http.StatusBadRequest, "size must be a positive integer")
			return
		}
		if v > maxPageSize {
			v = maxPageSize
		}
		size = v
	}

	msgs, err := h.Store.PageByRoom(r.Context(), roomID, page, size)
	if err != nil {
		utils.Fail(w, http.StatusInternalServerError, "failed to load messages")
		return
	}
	if msgs == nil {
		msgs = []models.Message{}
	}
	utils.JSON(w, http.StatusOK, utils.APIResponse{Success: true, Message: "messages fetched", Data: msgs})
}
