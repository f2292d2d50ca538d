package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/thereayou/signal-relay/internal/handlers/dto"
	"github.com/thereayou/signal-relay/internal/models"
	"github.com/thereayou/signal-relay/internal/services"
)

type RoomHandler struct {
	rooms *services.RoomService
}

func NewRoomHandler(rooms *services.RoomService) *RoomHandler {
	return &RoomHandler{rooms: rooms}
}

// CreateRoom opens a room. The body is optional.
func (h *RoomHandler) CreateRoom(c *gin.Context) {
	var req dto.CreateRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		abortBindError(c, err, msgInvalidJSON)
		return
	}

	var mode models.RoomMode
	if req.Mode != "" {
		m, err := models.ParseRoomMode(req.Mode)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Invalid mode"})
			return
		}
		mode = m
	}

	room, err := h.rooms.CreateRoom(c.Request.Context(), mode)
	if err != nil {
		abortServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"room_id": room.ID,
		"mode":    room.Mode,
	})
}

// JoinRoom marks a pair room joined, or hands a multi room joiner its id.
func (h *RoomHandler) JoinRoom(c *gin.Context) {
	var req dto.JoinRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortBindError(c, err, msgMissingRoomID)
		return
	}

	res, err := h.rooms.JoinRoom(c.Request.Context(), req.RoomID)
	if err != nil {
		abortServiceError(c, err)
		return
	}

	resp := gin.H{"success": true}
	if res.Room.Mode == models.ModeMulti {
		resp["client_id"] = res.ClientID
		resp["player_count"] = res.Room.PlayerCount()
	}
	c.JSON(http.StatusOK, resp)
}
