package store

const (
	RoomPrefix  = "room:"
	QueuePrefix = "signals:"
)

func RoomKey(roomID string) string {
	return RoomPrefix + roomID
}

// QueueKey addresses the inbox of one recipient inside one room.
func QueueKey(roomID, recipient string) string {
	return QueuePrefix + roomID + ":" + recipient
}
