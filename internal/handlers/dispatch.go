package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/thereayou/signal-relay/internal/services"
)

// Dispatcher serves every operation from one route, selected by the
// "action" query parameter. Create, join and signal need POST; poll takes
// any verb.
type Dispatcher struct {
	rooms   *RoomHandler
	signals *SignalHandler
	svc     *services.RoomService
}

func NewDispatcher(rooms *RoomHandler, signals *SignalHandler, svc *services.RoomService) *Dispatcher {
	return &Dispatcher{rooms: rooms, signals: signals, svc: svc}
}

func (d *Dispatcher) Handle(c *gin.Context) {
	switch c.Query("action") {
	case "create":
		if requirePost(c) {
			d.rooms.CreateRoom(c)
		}
	case "join":
		if requirePost(c) {
			d.rooms.JoinRoom(c)
		}
	case "signal":
		if requirePost(c) {
			d.signals.Signal(c)
		}
	case "poll":
		d.signals.Poll(c)
	default:
		resp := gin.H{"error": "Unknown action"}
		if n, err := d.svc.ApproxRoomCount(c.Request.Context()); err == nil {
			resp["rooms_count"] = n
		}
		c.AbortWithStatusJSON(http.StatusBadRequest, resp)
	}
}

func requirePost(c *gin.Context) bool {
	if c.Request.Method != http.MethodPost {
		c.AbortWithStatusJSON(http.StatusMethodNotAllowed, gin.H{"error": msgPostRequired})
		return false
	}
	return true
}

// CreateScope limits room creation on both the dedicated route and the
// combined one.
func CreateScope(c *gin.Context) string {
	if c.FullPath() == "/api/create-room" || c.Query("action") == "create" {
		return "create"
	}
	return ""
}
