package core

import (
	"github.com/dkeye/Meet/internal/domain"
)

type RoomInfo struct {
	ID          domain.RoomID `json:"roomId"`
	MemberCount int           `json:"participantCount"`
}
