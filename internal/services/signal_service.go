package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/thereayou/signal-relay/internal/models"
	"github.com/thereayou/signal-relay/internal/store"
)

type (
	SignalConfig struct {
		Store  store.Store
		Rooms  *RoomService
		Logger *zerolog.Logger
		Now    func() time.Time
	}

	// SignalService routes opaque handshake messages into per-recipient
	// queues and drains them on poll.
	SignalService struct {
		store  store.Store
		rooms  *RoomService
		logger zerolog.Logger
		now    func() time.Time
	}

	SignalRequest struct {
		RoomID string
		From   models.PeerID
		Type   string
		Data   json.RawMessage
		// To is only honoured when the host sends.
		To models.PeerID
	}

	PollResult struct {
		Messages []models.Entry
		Room     *models.Room
	}
)

func NewSignalService(cfg SignalConfig) *SignalService {
	svc := &SignalService{
		store: cfg.Store,
		rooms: cfg.Rooms,
		now:   cfg.Now,
	}
	if cfg.Logger != nil {
		svc.logger = cfg.Logger.With().Str("component", "signals").Logger()
	} else {
		svc.logger = zerolog.Nop()
	}
	if svc.now == nil {
		svc.now = time.Now
	}
	return svc
}

// Recipient applies the addressing rule: the host reaches "to" (or the
// single client of a pair room), every client reaches the host.
func Recipient(from, to models.PeerID) models.PeerID {
	if !from.IsHost() {
		return models.PeerHost
	}
	if to != "" {
		return to
	}
	return models.PeerClient
}

func (svc *SignalService) Signal(ctx context.Context, req SignalRequest) error {
	if req.RoomID == "" || req.From == "" || req.Type == "" {
		return fmt.Errorf("%w: room_id, from and type are required", ErrInvalidArgument)
	}

	room, err := svc.rooms.GetRoom(ctx, req.RoomID)
	if err != nil {
		return err
	}

	to := Recipient(req.From, req.To)
	entry := models.Entry{
		Type:       req.Type,
		Data:       req.Data,
		From:       req.From,
		EnqueuedAt: svc.now().UnixMilli(),
	}
	b, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}

	// the queue ttl is pushed out on every append so an active mailbox
	// outlives a room that is about to expire
	key := store.QueueKey(room.ID, to.String())
	if err := store.AppendExpire(ctx, svc.store, key, b, svc.rooms.TTL()); err != nil {
		return errors.Join(ErrStore, err)
	}

	svc.logger.Debug().
		Str("roomID", room.ID).
		Str("from", req.From.String()).
		Str("to", to.String()).
		Str("type", req.Type).
		Msg("signal queued")
	return nil
}

// Poll drains everything queued for as, in the order it was queued. An
// empty queue is not an error.
func (svc *SignalService) Poll(ctx context.Context, roomID string, as models.PeerID) (*PollResult, error) {
	if roomID == "" || as == "" {
		return nil, fmt.Errorf("%w: room_id and as are required", ErrInvalidArgument)
	}

	room, err := svc.rooms.GetRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}

	raw, err := svc.store.ListDrain(ctx, store.QueueKey(room.ID, as.String()))
	if err != nil {
		return nil, errors.Join(ErrStore, err)
	}

	messages := make([]models.Entry, 0, len(raw))
	for _, b := range raw {
		var e models.Entry
		if err := json.Unmarshal(b, &e); err != nil {
			// already drained; nothing can be done except report it
			svc.logger.Error().Err(err).
				Str("roomID", room.ID).
				Str("as", as.String()).
				Msg("dropping undecodable queue entry")
			continue
		}
		messages = append(messages, e)
	}

	if len(messages) > 0 {
		svc.logger.Debug().
			Str("roomID", room.ID).
			Str("as", as.String()).
			Int("count", len(messages)).
			Msg("signals delivered")
	}
	return &PollResult{Messages: messages, Room: room}, nil
}
