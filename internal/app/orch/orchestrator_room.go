package orch

import (
	"github.com/dkeye/Meet/internal/app"
	"github.com/dkeye/Meet/internal/core"
	"github.com/dkeye/Meet/internal/domain"
	"github.com/rs/zerolog/log"
)

// CreateMeeting opens a room for the caller and joins it.
func (o *Orchestrator) CreateMeeting(conn domain.ConnID) (domain.RoomID, error) {
	sig, ok := o.Registry.Signal(conn)
	if !ok {
		return "", core.ErrConnClosed
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	sess, ok := o.Registry.Session(conn)
	if !ok {
		_ = o.Deliver(conn, sig, Failure{Type: EventCreateFailed, Reason: ReasonNotAuthenticated})
		return "", domain.ErrNotAuthenticated
	}
	id, res := o.createLocked(sess.Member())
	_ = o.Deliver(conn, sig, MeetingCreated{
		Type:             EventMeetingCreated,
		RoomID:           id,
		CallHandle:       res.Self.CallHandle,
		ParticipantCount: res.Count,
	})
	return id, nil
}

// Create opens a room on behalf of m, which becomes its first participant.
func (o *Orchestrator) Create(m domain.Member) (domain.RoomID, app.JoinResult) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.createLocked(m)
}

// liveMemberLocked prefers the handle of userID's live session, which is the
// one the Relay resolves.
func (o *Orchestrator) liveMemberLocked(m domain.Member) domain.Member {
	if sess, ok := o.Registry.SessionOf(m.UserID); ok {
		return sess.Member()
	}
	return m
}

func (o *Orchestrator) createLocked(m domain.Member) (domain.RoomID, app.JoinResult) {
	m = o.liveMemberLocked(m)
	id := o.Rooms.CreateRoom()
	res, err := o.Rooms.Join(id, m.UserID, m.CallHandle)
	if err != nil {
		// A fresh room cannot reject its creator.
		o.Rooms.StopRoom(id)
		o.syncGaugesLocked()
		log.Error().Err(err).Str("module", "orch").Str("room", string(id)).Msg("creator join failed")
		return id, res
	}
	o.Metrics.IncJoins()
	o.syncGaugesLocked()
	return id, res
}

// JoinMeeting joins the caller into id. Existing participants hear user-joined
// before the caller receives the roster.
func (o *Orchestrator) JoinMeeting(conn domain.ConnID, id domain.RoomID) error {
	sig, ok := o.Registry.Signal(conn)
	if !ok {
		return core.ErrConnClosed
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	sess, ok := o.Registry.Session(conn)
	if !ok {
		_ = o.Deliver(conn, sig, Failure{Type: EventJoinFailed, RoomID: id, Reason: ReasonNotAuthenticated})
		return domain.ErrNotAuthenticated
	}
	res, err := o.joinLocked(sess.Member(), id)
	if err != nil {
		_ = o.Deliver(conn, sig, Failure{Type: EventJoinFailed, RoomID: id, Reason: ReasonOf(err)})
		return err
	}
	_ = o.Deliver(conn, sig, MeetingJoined{
		Type:             EventMeetingJoined,
		RoomID:           id,
		UserID:           sess.UserID,
		CallHandle:       res.Self.CallHandle,
		ExistingUsers:    domain.Handles(res.Existing),
		ParticipantCount: res.Count,
	})
	return nil
}

// Join adds m to room id and notifies the participants already there.
func (o *Orchestrator) Join(m domain.Member, id domain.RoomID) (app.JoinResult, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.joinLocked(m, id)
}

func (o *Orchestrator) joinLocked(m domain.Member, id domain.RoomID) (app.JoinResult, error) {
	m = o.liveMemberLocked(m)
	res, err := o.Rooms.Join(id, m.UserID, m.CallHandle)
	if err != nil {
		log.Info().Err(err).Str("module", "orch").Str("room", string(id)).Str("user", string(m.UserID)).Msg("join refused")
		return res, err
	}
	o.Metrics.IncJoins()
	o.broadcastLocked(res.Existing, UserJoined{
		Type:       EventUserJoined,
		RoomID:     id,
		UserID:     m.UserID,
		CallHandle: m.CallHandle,
	})
	return res, nil
}

// LeaveMeeting removes the caller from id. Leaving a room one is not in is a no-op.
func (o *Orchestrator) LeaveMeeting(conn domain.ConnID, id domain.RoomID) {
	sig, ok := o.Registry.Signal(conn)
	if !ok {
		return
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	sess, ok := o.Registry.Session(conn)
	if !ok {
		_ = o.Deliver(conn, sig, Failure{Type: EventError, RoomID: id, Reason: ReasonNotAuthenticated})
		return
	}
	res, ok := o.leaveLocked(id, sess.UserID)
	_ = o.Deliver(conn, sig, MeetingLeft{Type: EventMeetingLeft, RoomID: id, RemainingCount: o.remainingLocked(id, res, ok)})
}

// Leave removes userID from id and returns how many participants remain.
// ok is false when userID was not a participant; remaining is then the
// room's current size.
func (o *Orchestrator) Leave(userID domain.UserID, id domain.RoomID) (remaining int, ok bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	res, ok := o.leaveLocked(id, userID)
	return o.remainingLocked(id, res, ok), ok
}

func (o *Orchestrator) remainingLocked(id domain.RoomID, res app.LeaveResult, left bool) int {
	if left {
		return len(res.Remaining)
	}
	members, _ := o.Rooms.Members(id)
	return len(members)
}

func (o *Orchestrator) leaveLocked(id domain.RoomID, userID domain.UserID) (app.LeaveResult, bool) {
	res, ok := o.Rooms.Leave(id, userID)
	if !ok {
		return res, false
	}
	o.Metrics.IncLeaves()
	o.broadcastLocked(res.Remaining, UserLeft{
		Type:       EventUserLeft,
		RoomID:     id,
		UserID:     userID,
		CallHandle: res.Left.CallHandle,
	})
	o.broadcastLocked(res.Remaining, ParticipantsUpdate{
		Type:        EventParticipantsUpdate,
		RoomID:      id,
		Count:       len(res.Remaining),
		CallHandles: domain.Handles(res.Remaining),
	})
	o.syncGaugesLocked()
	return res, true
}

func (o *Orchestrator) leaveAllLocked(userID domain.UserID) {
	for _, id := range o.Rooms.RoomsOf(userID) {
		o.leaveLocked(id, userID)
	}
}

// broadcastLocked sends v once to every member holding a live connection.
func (o *Orchestrator) broadcastLocked(to []domain.Member, v any) {
	if len(to) == 0 {
		return
	}
	frame, err := marshal(v)
	if err != nil {
		return
	}
	sent := 0
	for _, m := range to {
		conn, sig, ok := o.Registry.Endpoint(m.UserID)
		if !ok {
			continue
		}
		if err := o.deliverFrame(conn, sig, frame); err == nil {
			sent++
		}
	}
	log.Debug().Str("module", "orch").Int("sent_to", sent).Int("members", len(to)).Msg("broadcast result")
}
