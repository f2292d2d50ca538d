package models

import (
	"encoding/json"
	"fmt"
	"strings"
)

type RoomMode string

const (
	ModePair  RoomMode = "pair"
	ModeMulti RoomMode = "multi"
)

// FirstClientID is the id handed to the first joiner of a multi room.
// The host is implicitly 1.
const FirstClientID = 2

func ParseRoomMode(s string) (RoomMode, error) {
	switch RoomMode(strings.ToLower(strings.TrimSpace(s))) {
	case ModePair, "two", "":
		return ModePair, nil
	case ModeMulti, "group":
		return ModeMulti, nil
	default:
		return "", fmt.Errorf("unknown room mode %q", s)
	}
}

// RoomState is derived from membership and never stored.
type RoomState int

const (
	StateCreated RoomState = iota
	StateJoined
)

func (s RoomState) String() string {
	switch s {
	case StateJoined:
		return "joined"
	default:
		return "created"
	}
}

func (s RoomState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

type Room struct {
	ID           string
	CreatedAt    int64
	Mode         RoomMode
	Joined       bool
	ClientIDs    []int
	NextClientID int
}

func NewRoom(id string, mode RoomMode, createdAt int64) *Room {
	r := &Room{
		ID:        id,
		CreatedAt: createdAt,
		Mode:      mode,
	}
	if mode == ModeMulti {
		r.ClientIDs = []int{}
		r.NextClientID = FirstClientID
	}
	return r
}

// State is the single place that decides whether a room has been joined.
// Membership only grows, so the result never goes back to StateCreated.
func (r *Room) State() RoomState {
	if r.Mode == ModeMulti {
		if len(r.ClientIDs) > 0 {
			return StateJoined
		}
		return StateCreated
	}
	if r.Joined {
		return StateJoined
	}
	return StateCreated
}

// PlayerCount counts the host plus every client that joined.
func (r *Room) PlayerCount() int {
	if r.Mode == ModeMulti {
		return len(r.ClientIDs) + 1
	}
	if r.Joined {
		return 2
	}
	return 1
}

func (r *Room) MarkJoined() {
	r.Joined = true
}

// AddClient allocates the next client id and records it.
func (r *Room) AddClient() int {
	if r.NextClientID < FirstClientID {
		r.NextClientID = FirstClientID
	}
	id := r.NextClientID
	r.ClientIDs = append(r.ClientIDs, id)
	r.NextClientID++
	return id
}

type pairRecord struct {
	ID        string   `json:"room_id"`
	CreatedAt int64    `json:"created_at"`
	Mode      RoomMode `json:"mode"`
	Joined    bool     `json:"joined"`
}

type multiRecord struct {
	ID           string   `json:"room_id"`
	CreatedAt    int64    `json:"created_at"`
	Mode         RoomMode `json:"mode"`
	ClientIDs    []int    `json:"client_ids"`
	NextClientID int      `json:"next_client_id"`
}

// MarshalJSON writes the persisted record. Pair rooms carry "joined",
// multi rooms carry "client_ids" and "next_client_id".
func (r Room) MarshalJSON() ([]byte, error) {
	if r.Mode == ModeMulti {
		ids := r.ClientIDs
		if ids == nil {
			ids = []int{}
		}
		return json.Marshal(multiRecord{
			ID:           r.ID,
			CreatedAt:    r.CreatedAt,
			Mode:         r.Mode,
			ClientIDs:    ids,
			NextClientID: r.NextClientID,
		})
	}
	return json.Marshal(pairRecord{
		ID:        r.ID,
		CreatedAt: r.CreatedAt,
		Mode:      ModePair,
		Joined:    r.Joined,
	})
}

func (r *Room) UnmarshalJSON(b []byte) error {
	var rec struct {
		ID           string   `json:"room_id"`
		CreatedAt    int64    `json:"created_at"`
		Mode         RoomMode `json:"mode"`
		Joined       bool     `json:"joined"`
		ClientIDs    []int    `json:"client_ids"`
		NextClientID int      `json:"next_client_id"`
	}
	if err := json.Unmarshal(b, &rec); err != nil {
		return err
	}

	*r = Room{
		ID:        rec.ID,
		CreatedAt: rec.CreatedAt,
		Mode:      rec.Mode,
		Joined:    rec.Joined,
	}
	// records without a mode but with client ids were written by a multi room
	if r.Mode == "" {
		r.Mode = ModePair
		if rec.ClientIDs != nil {
			r.Mode = ModeMulti
		}
	}
	if r.Mode == ModeMulti {
		r.ClientIDs = rec.ClientIDs
		if r.ClientIDs == nil {
			r.ClientIDs = []int{}
		}
		r.NextClientID = rec.NextClientID
		if r.NextClientID < FirstClientID {
			r.NextClientID = FirstClientID
		}
	}
	return nil
}

// NormalizeRoomID upper-cases and trims a user supplied room code.
func NormalizeRoomID(id string) string {
	return strings.ToUpper(strings.TrimSpace(id))
}
