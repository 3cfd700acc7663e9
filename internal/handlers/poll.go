package handlers

import (
	"net/http"
	"strconv"

	"chatrelay/internal/models"
	"chatrelay/internal/poll"
	"chatrelay/internal/utils"
)

// PollHandler serves the pull channel's cursor query over the in-memory
// mirror. Clients track the max timestamp they have seen and pass it back.
type PollHandler struct {
	Mirror *poll.Buffer
}

// ServeHTTP handles GET /poll?since=<epoch_ms>&sender=<id>
func (h *PollHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var since int64
	if s := r.URL.Query().Get("since"); s != "" {
		v, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			utils.Fail(w, http.StatusBadRequest, "invalid since timestamp")
			return
		}
		since = v
	}
	sender := r.URL.Query().Get("sender")

	msgs := h.Mirror.Since(since, sender)
	if msgs == nil {
		msgs = []models.Message{}
	}
	utils.JSON(w, http.StatusOK, utils.APIResponse{Success: true, Data: msgs})
}
