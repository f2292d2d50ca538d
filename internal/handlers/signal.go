package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/thereayou/signal-relay/internal/handlers/dto"
	"github.com/thereayou/signal-relay/internal/models"
	"github.com/thereayou/signal-relay/internal/services"
)

type SignalHandler struct {
	signals *services.SignalService
}

func NewSignalHandler(signals *services.SignalService) *SignalHandler {
	return &SignalHandler{signals: signals}
}

// Signal queues one handshake message for the other side.
func (h *SignalHandler) Signal(c *gin.Context) {
	var req dto.SignalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortBindError(c, err, msgMissingFields)
		return
	}

	err := h.signals.Signal(c.Request.Context(), services.SignalRequest{
		RoomID: req.RoomID,
		From:   req.From,
		Type:   req.Type,
		Data:   req.Data,
		To:     req.To,
	})
	if err != nil {
		abortServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

// Poll drains the caller's queue and reports room membership.
func (h *SignalHandler) Poll(c *gin.Context) {
	var q dto.PollQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		abortBindError(c, err, msgMissingPollQuery)
		return
	}

	res, err := h.signals.Poll(c.Request.Context(), q.RoomID, models.ParsePeerID(q.As))
	if err != nil {
		abortServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, formatPollResponse(res))
}

// formatPollResponse shapes a poll answer by room mode
func formatPollResponse(res *services.PollResult) gin.H {
	resp := gin.H{
		"messages": res.Messages,
		"state":    res.Room.State(),
	}
	if res.Room.Mode == models.ModeMulti {
		resp["client_ids"] = res.Room.ClientIDs
		resp["player_count"] = res.Room.PlayerCount()
	} else {
		resp["joined"] = res.Room.Joined
	}
	return resp
}
