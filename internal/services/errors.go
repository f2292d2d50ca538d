package services

import "errors"

var (
	ErrRoomNotFound    = errors.New("room not found")
	ErrRoomFull        = errors.New("room is full")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrStore           = errors.New("store failure")
	ErrNotSupported    = errors.New("not supported by the configured store")
)
