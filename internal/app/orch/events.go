package orch

import (
	"encoding/json"

	"github.com/dkeye/Meet/internal/domain"
	"github.com/rs/zerolog/log"
)

// Outbound event types.
const (
	EventAuthenticated      = "authenticated"
	EventMeetingCreated     = "meeting-created"
	EventCreateFailed       = "create-failed"
	EventUserJoined         = "user-joined"
	EventMeetingJoined      = "meeting-joined"
	EventJoinFailed         = "join-failed"
	EventUserLeft           = "user-left"
	EventParticipantsUpdate = "participants-update"
	EventMeetingLeft        = "meeting-left"
	EventSessionReplaced    = "session-replaced"
	EventWhoAmI             = "whoami"
	EventError              = "error"
)

// Failure reasons carried by *-failed and error events.
const (
	ReasonInvalidCredential = "invalid_credential"
	ReasonExpiredCredential = "expired_credential"
	ReasonRoomNotFound      = "room_not_found"
	ReasonAlreadyJoined     = "already_joined"
	ReasonNotAuthenticated  = "not_authenticated"
	ReasonBadPayload        = "bad_payload"
	ReasonRateLimited       = "rate_limited"
	ReasonUnavailable       = "unavailable"
)

type Authenticated struct {
	Type       string            `json:"type"`
	Success    bool              `json:"success"`
	UserID     domain.UserID     `json:"userId,omitempty"`
	CallHandle domain.CallHandle `json:"callHandle,omitempty"`
	Reason     string            `json:"reason,omitempty"`
}

type MeetingCreated struct {
	Type             string            `json:"type"`
	RoomID           domain.RoomID     `json:"roomId"`
	CallHandle       domain.CallHandle `json:"callHandle"`
	ParticipantCount int               `json:"participantCount"`
}

type UserJoined struct {
	Type       string            `json:"type"`
	RoomID     domain.RoomID     `json:"roomId"`
	UserID     domain.UserID     `json:"userId"`
	CallHandle domain.CallHandle `json:"callHandle"`
}

type MeetingJoined struct {
	Type             string              `json:"type"`
	RoomID           domain.RoomID       `json:"roomId"`
	UserID           domain.UserID       `json:"userId"`
	CallHandle       domain.CallHandle   `json:"callHandle"`
	ExistingUsers    []domain.CallHandle `json:"existingUsers"`
	ParticipantCount int                 `json:"participantCount"`
}

type UserLeft struct {
	Type       string            `json:"type"`
	RoomID     domain.RoomID     `json:"roomId"`
	UserID     domain.UserID     `json:"userId"`
	CallHandle domain.CallHandle `json:"callHandle"`
}

type ParticipantsUpdate struct {
	Type        string              `json:"type"`
	RoomID      domain.RoomID       `json:"roomId"`
	Count       int                 `json:"count"`
	CallHandles []domain.CallHandle `json:"callHandles"`
}

type MeetingLeft struct {
	Type           string        `json:"type"`
	RoomID         domain.RoomID `json:"roomId"`
	RemainingCount int           `json:"remainingCount"`
}

// Failure answers create-failed, join-failed and error.
type Failure struct {
	Type   string        `json:"type"`
	RoomID domain.RoomID `json:"roomId,omitempty"`
	Reason string        `json:"reason"`
}

type WhoAmI struct {
	Type       string            `json:"type"`
	UserID     domain.UserID     `json:"userId"`
	CallHandle domain.CallHandle `json:"callHandle"`
	Rooms      []domain.RoomID   `json:"rooms"`
}

// Signal is a forwarded offer, answer or ice-candidate. Payload is opaque.
type Signal struct {
	Type    string            `json:"type"`
	Sender  domain.CallHandle `json:"sender"`
	Payload json.RawMessage   `json:"payload"`
}

type notice struct {
	Type string `json:"type"`
}

func marshal(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "orch").Msg("encode event")
	}
	return b, err
}
