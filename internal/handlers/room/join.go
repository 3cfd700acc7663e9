package room

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"chatrelay/internal/relay"
	"chatrelay/internal/utils"
)

type JoinRequest struct {
	SenderID string `json:"sender_id"`
}

// JoinRoomHandler lets polling clients announce their presence in a room;
// they hold no live connection, so the announcement fans out to everyone
// currently connected.
type JoinRoomHandler struct {
	Relay *relay.Relay
}

// ServeHTTP handles POST /rooms/{id}/join
func (h *JoinRoomHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "id")

	var req JoinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.Fail(w, http.StatusBadRequest, "invalid request body")
		return
	}

	msg, err := h.Relay.AnnounceJoin(r.Context(), roomID, req.SenderID)
	if err != nil {
		var ve *relay.ValidationError
		if errors.As(err, &ve) {
			utils.Fail(w, http.StatusBadRequest, ve.Error())
			return
		}
		utils.Fail(w, http.StatusInternalServerError, "failed to announce join")
		return
	}

	utils.JSON(w, http.StatusOK, utils.APIResponse{Success: true, Message: "join announced", Data: msg})
}
