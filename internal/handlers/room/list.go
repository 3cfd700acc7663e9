package room

import (
	"net/http"
	"sort"

	"chatrelay/internal/registry"
	"chatrelay/internal/store"
	"chatrelay/internal/utils"
)

type RoomListHandler struct {
	Store    *store.Store
	Registry *registry.Registry
}

// ServeHTTP handles GET /rooms
//
// Room existence is derived: the union of rooms seen in message history and
// rooms with live members right now. The rooms reference table feeds the
// former but is never trusted on its own.
func (h *RoomListHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	stored, err := h.Store.ListRooms(r.Context())
	if err != nil {
		utils.Fail(w, http.StatusInternalServerError, "failed to list rooms")
		return
	}

	seen := make(map[string]struct{}, len(stored))
	for _, id := range stored {
		seen[id] = struct{}{}
	}
	for _, id := range h.Registry.Rooms() {
		seen[id] = struct{}{}
	}

	rooms := make([]string, 0, len(seen))
	for id := range seen {
		rooms = append(rooms, id)
	}
	sort.Strings(rooms)

	utils.JSON(w, http.StatusOK, utils.APIResponse{Success: true, Message: "rooms fetched", Data: rooms})
}
