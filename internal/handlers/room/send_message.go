package room

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"chatrelay/internal/models"
	"chatrelay/internal/relay"
	"chatrelay/internal/utils"
)

type SendMessageRequest struct {
	SenderID string `json:"sender_id"`
	Content  string `json:"content"`
	Kind     string `json:"kind,omitempty"`

	FileName  string `json:"file_name,omitempty"`
	FileSize  int64  `json:"file_size,omitempty"`
	Duration  int    `json:"duration,omitempty"`
	Thumbnail string `json:"thumbnail,omitempty"`
	MimeType  string `json:"mime_type,omitempty"`
}

type SendMessageHandler struct {
	Relay *relay.Relay
}

// ServeHTTP handles POST /rooms/{id}/messages
func (h *SendMessageHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "id")

	var req SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.Fail(w, http.StatusBadRequest, "invalid request body")
		return
	}

	msg, err := h.Relay.Publish(r.Context(), models.Message{
		Kind:      models.Kind(req.Kind),
		RoomID:    roomID,
		SenderID:  req.SenderID,
		Content:   req.Content,
		FileName:  req.FileName,
		FileSize:  req.FileSize,
		Duration:  req.Duration,
		Thumbnail: req.Thumbnail,
		MimeType:  req.MimeType,
	})
	if err != nil {
		var ve *relay.ValidationError
		if errors.As(err, &ve) {
			utils.Fail(w, http.StatusBadRequest, ve.Error())
			return
		}
		utils.Fail(w, http.StatusInternalServerError, "failed to send message")
		return
	}

	utils.JSON(w, http.StatusCreated, utils.APIResponse{Success: true, Message: "message sent", Data: msg})
}
