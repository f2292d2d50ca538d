package dto

type CreateRoomRequest struct {
	// Mode is "pair" or "multi"; empty picks the server default.
	Mode string `json:"mode"`
}

type JoinRoomRequest struct {
	RoomID string `json:"room_id" binding:"required"`
}
