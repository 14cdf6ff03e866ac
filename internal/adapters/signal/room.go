package signal

import (
	"encoding/json"

	"github.com/dkeye/Meet/internal/app/orch"
	"github.com/dkeye/Meet/internal/domain"
	"github.com/rs/zerolog/log"
)

type roomPayload struct {
	Type   string        `json:"type"`
	RoomID domain.RoomID `json:"roomId"`
}

func (ctl *SignalWSController) createRoom(
	conn *WsSignalConn,
) {
	if userID, ok := ctl.Orch.Registry.ResolveUser(conn.id); ok && ctl.Limiter != nil && !ctl.Limiter.Allow(userID) {
		log.Warn().Str("module", "signal").Str("user", string(userID)).Msg("create-room rate limited")
		ctl.sendError(conn, orch.EventCreateFailed, orch.ReasonRateLimited)
		return
	}

	id, err := ctl.Orch.CreateMeeting(conn.id)
	if err != nil {
		return
	}
	log.Info().Str("module", "signal").Str("conn", string(conn.id)).Str("room", string(id)).Msg("create-room")
}

func (ctl *SignalWSController) handleJoin(
	conn *WsSignalConn,
	data []byte,
) {
	var p roomPayload
	if err := json.Unmarshal(data, &p); err != nil || p.RoomID == "" {
		log.Warn().Err(err).Str("module", "signal").Msg("bad join payload")
		ctl.sendError(conn, orch.EventJoinFailed, reasonBadPayload)
		return
	}

	log.Info().Str("module", "signal").Str("conn", string(conn.id)).Str("room", string(p.RoomID)).Msg("join")
	_ = ctl.Orch.JoinMeeting(conn.id, p.RoomID)
}

// handleLeave leaves one room; the connection stays open.
func (ctl *SignalWSController) handleLeave(
	conn *WsSignalConn,
	data []byte,
) {
	var p roomPayload
	if err := json.Unmarshal(data, &p); err != nil || p.RoomID == "" {
		log.Warn().Err(err).Str("module", "signal").Msg("bad leave payload")
		ctl.sendError(conn, "", reasonBadPayload)
		return
	}

	log.Info().Str("module", "signal").Str("conn", string(conn.id)).Str("room", string(p.RoomID)).Msg("leave")
	ctl.Orch.LeaveMeeting(conn.id, p.RoomID)
}
