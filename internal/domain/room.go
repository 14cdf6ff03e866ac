package domain

import (
	"errors"

	"github.com/google/uuid"
)

type RoomID string

var (
	ErrRoomNotFound     = errors.New("room not found")
	ErrAlreadyJoined    = errors.New("already joined")
	ErrNotAuthenticated = errors.New("not authenticated")
)

func NewRoomID() RoomID {
	return RoomID(uuid.NewString())
}
