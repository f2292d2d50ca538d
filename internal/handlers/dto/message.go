package dto

import (
	"encoding/json"

	"github.com/thereayou/signal-relay/internal/models"
)

// SignalRequest is the body of a signal call. Data is relayed untouched.
// Peer ids end up in store keys, hence the length cap.
type SignalRequest struct {
	RoomID string          `json:"room_id" binding:"required"`
	From   models.PeerID   `json:"from" binding:"required,max=64"`
	Type   string          `json:"type" binding:"required"`
	Data   json.RawMessage `json:"data"`
	To     models.PeerID   `json:"to,omitempty" binding:"omitempty,max=64"`
}

type PollQuery struct {
	RoomID string `form:"room_id" binding:"required"`
	As     string `form:"as" binding:"required,max=64"`
}
