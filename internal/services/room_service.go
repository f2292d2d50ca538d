package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/thereayou/signal-relay/internal/models"
	"github.com/thereayou/signal-relay/internal/store"
)

const (
	DefaultRoomTTL = 300 * time.Second
	// DefaultCountCacheTTL bounds how often the public room count hits the store.
	DefaultCountCacheTTL = 10 * time.Second

	maxCreateAttempts = 5
)

type (
	RoomConfig struct {
		Store       store.Store
		Logger      *zerolog.Logger
		TTL         time.Duration
		DefaultMode models.RoomMode
		// MaxClients caps joiners of a multi room; 0 means no cap.
		MaxClients int
		// CountCacheTTL is how long ApproxRoomCount reuses a count.
		CountCacheTTL time.Duration
		// GenerateID and Now are replaceable for tests.
		GenerateID func() (string, error)
		Now        func() time.Time
	}

	// RoomService owns room identity, membership and expiry.
	RoomService struct {
		store       store.Store
		logger      zerolog.Logger
		ttl         time.Duration
		defaultMode models.RoomMode
		maxClients  int
		generateID  func() (string, error)
		now         func() time.Time

		countTTL time.Duration
		countMx  sync.Mutex
		count    int64
		countAt  time.Time
	}

	JoinResult struct {
		Room *models.Room
		// ClientID is set for multi rooms only.
		ClientID int
	}
)

func NewRoomService(cfg RoomConfig) *RoomService {
	svc := &RoomService{
		store:       cfg.Store,
		ttl:         cfg.TTL,
		defaultMode: cfg.DefaultMode,
		maxClients:  cfg.MaxClients,
		generateID:  cfg.GenerateID,
		now:         cfg.Now,
		countTTL:    cfg.CountCacheTTL,
	}
	if cfg.Logger != nil {
		svc.logger = cfg.Logger.With().Str("component", "rooms").Logger()
	} else {
		svc.logger = zerolog.Nop()
	}
	if svc.ttl <= 0 {
		svc.ttl = DefaultRoomTTL
	}
	if svc.defaultMode == "" {
		svc.defaultMode = models.ModePair
	}
	if svc.generateID == nil {
		svc.generateID = GenerateRoomID
	}
	if svc.now == nil {
		svc.now = time.Now
	}
	if svc.countTTL <= 0 {
		svc.countTTL = DefaultCountCacheTTL
	}
	return svc
}

// TTL is the lifetime of a room and of every queue inside it.
func (svc *RoomService) TTL() time.Duration {
	return svc.ttl
}

// CreateRoom stores a fresh room under a new code. An empty mode picks the
// configured default.
func (svc *RoomService) CreateRoom(ctx context.Context, mode models.RoomMode) (*models.Room, error) {
	if mode == "" {
		mode = svc.defaultMode
	}

	for attempt := 0; attempt < maxCreateAttempts; attempt++ {
		id, err := svc.generateID()
		if err != nil {
			return nil, fmt.Errorf("generate room id: %w", err)
		}

		// a collision with a live room is unlikely, but cheap to rule out
		_, err = svc.store.Get(ctx, store.RoomKey(id))
		if err == nil {
			svc.logger.Debug().Str("roomID", id).Msg("room id collision, drawing again")
			continue
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, errors.Join(ErrStore, err)
		}

		room := models.NewRoom(id, mode, svc.now().UnixMilli())
		b, err := json.Marshal(room)
		if err != nil {
			return nil, err
		}
		if err := svc.store.Set(ctx, store.RoomKey(id), b, svc.ttl); err != nil {
			return nil, errors.Join(ErrStore, err)
		}

		svc.logger.Debug().
			Str("roomID", id).
			Str("mode", string(mode)).
			Msg("room created")
		return room, nil
	}
	return nil, fmt.Errorf("%w: could not find a free room id", ErrStore)
}

// GetRoom loads a live room. Never-created and expired rooms are both
// ErrRoomNotFound.
func (svc *RoomService) GetRoom(ctx context.Context, roomID string) (*models.Room, error) {
	roomID = models.NormalizeRoomID(roomID)
	if !ValidRoomID(roomID) {
		return nil, ErrRoomNotFound
	}

	b, err := svc.store.Get(ctx, store.RoomKey(roomID))
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrRoomNotFound
	}
	if err != nil {
		return nil, errors.Join(ErrStore, err)
	}

	var room models.Room
	if err := json.Unmarshal(b, &room); err != nil {
		return nil, errors.Join(ErrStore, fmt.Errorf("decode room %s: %w", roomID, err))
	}
	return &room, nil
}

// JoinRoom records a new peer. It goes through Store.Update, so the room
// keeps the expiry it got at creation.
func (svc *RoomService) JoinRoom(ctx context.Context, roomID string) (*JoinResult, error) {
	roomID = models.NormalizeRoomID(roomID)
	if !ValidRoomID(roomID) {
		return nil, ErrRoomNotFound
	}

	var result JoinResult
	err := svc.store.Update(ctx, store.RoomKey(roomID), func(cur []byte) ([]byte, error) {
		var room models.Room
		if err := json.Unmarshal(cur, &room); err != nil {
			return nil, fmt.Errorf("decode room %s: %w", roomID, err)
		}

		result = JoinResult{}
		if room.Mode == models.ModeMulti {
			if svc.maxClients > 0 && len(room.ClientIDs) >= svc.maxClients {
				return nil, ErrRoomFull
			}
			result.ClientID = room.AddClient()
		} else {
			room.MarkJoined()
		}
		result.Room = &room
		return json.Marshal(&room)
	})
	switch {
	case err == nil:
	case errors.Is(err, store.ErrNotFound):
		return nil, ErrRoomNotFound
	case errors.Is(err, ErrRoomFull):
		return nil, ErrRoomFull
	default:
		return nil, errors.Join(ErrStore, err)
	}

	ev := svc.logger.Debug().Str("roomID", roomID)
	if result.ClientID != 0 {
		ev = ev.Int("clientID", result.ClientID)
	}
	ev.Msg("peer joined room")
	return &result, nil
}

// CountRooms reports live rooms when the store can count keys.
func (svc *RoomService) CountRooms(ctx context.Context) (int64, error) {
	c, ok := svc.store.(store.Counter)
	if !ok {
		return 0, ErrNotSupported
	}
	n, err := c.Count(ctx, store.RoomPrefix)
	if err != nil {
		return 0, errors.Join(ErrStore, err)
	}
	return n, nil
}

// ApproxRoomCount is CountRooms cached for countTTL. Concurrent callers
// share one store count.
func (svc *RoomService) ApproxRoomCount(ctx context.Context) (int64, error) {
	svc.countMx.Lock()
	defer svc.countMx.Unlock()

	now := svc.now()
	if !svc.countAt.IsZero() && now.Sub(svc.countAt) < svc.countTTL {
		return svc.count, nil
	}
	n, err := svc.CountRooms(ctx)
	if err != nil {
		return 0, err
	}
	svc.count, svc.countAt = n, now
	return n, nil
}
