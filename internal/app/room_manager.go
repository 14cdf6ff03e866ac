package app

import (
	"cmp"
	"slices"
	"sync"

	"github.com/dkeye/Meet/internal/core"
	"github.com/dkeye/Meet/internal/domain"
	"github.com/rs/zerolog/log"
)

// JoinResult is what the joiner is told about the room it entered.
type JoinResult struct {
	Self     domain.Member
	Existing []domain.Member
	Count    int
}

// LeaveResult describes the room right after a participant left it.
type LeaveResult struct {
	Left      domain.Member
	Remaining []domain.Member
	Destroyed bool
}

type room struct {
	id      domain.RoomID
	order   []domain.UserID
	members map[domain.UserID]domain.CallHandle
}

func (r *room) snapshot() []domain.Member {
	out := make([]domain.Member, 0, len(r.order))
	for _, u := range r.order {
		out = append(out, domain.NewMember(u, r.members[u]))
	}
	return out
}

// RoomManager owns every room and the participant sets inside them.
// Rooms live only while they have participants.
type RoomManager struct {
	mu     sync.RWMutex
	rooms  map[domain.RoomID]*room
	byUser map[domain.UserID]map[domain.RoomID]struct{}
}

func NewRoomManager() *RoomManager {
	return &RoomManager{
		rooms:  make(map[domain.RoomID]*room),
		byUser: make(map[domain.UserID]map[domain.RoomID]struct{}),
	}
}

// CreateRoom registers an empty room under a fresh id. The caller joins it right
// away or drops it with StopRoom.
func (f *RoomManager) CreateRoom() domain.RoomID {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := domain.NewRoomID()
	for f.rooms[id] != nil {
		id = domain.NewRoomID()
	}
	f.rooms[id] = &room{id: id, members: make(map[domain.UserID]domain.CallHandle)}
	log.Info().Str("module", "app.rooms").Str("room", string(id)).Msg("room created")
	return id
}

func (f *RoomManager) Join(id domain.RoomID, userID domain.UserID, handle domain.CallHandle) (JoinResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.rooms[id]
	if !ok {
		return JoinResult{}, domain.ErrRoomNotFound
	}
	if _, dup := r.members[userID]; dup {
		return JoinResult{}, domain.ErrAlreadyJoined
	}

	existing := r.snapshot()
	r.order = append(r.order, userID)
	r.members[userID] = handle
	if f.byUser[userID] == nil {
		f.byUser[userID] = make(map[domain.RoomID]struct{})
	}
	f.byUser[userID][id] = struct{}{}

	log.Info().Str("module", "app.rooms").Str("room", string(id)).Str("user", string(userID)).Int("count", len(r.order)).Msg("member added")
	return JoinResult{
		Self:     domain.NewMember(userID, handle),
		Existing: existing,
		Count:    len(r.order),
	}, nil
}

// Leave removes userID from the room. ok is false when userID was not a
// participant, which is not an error.
func (f *RoomManager) Leave(id domain.RoomID, userID domain.UserID) (res LeaveResult, ok bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, exists := f.rooms[id]
	if !exists {
		return LeaveResult{}, false
	}
	handle, member := r.members[userID]
	if !member {
		return LeaveResult{}, false
	}

	delete(r.members, userID)
	r.order = slices.DeleteFunc(r.order, func(u domain.UserID) bool { return u == userID })
	if rooms := f.byUser[userID]; rooms != nil {
		delete(rooms, id)
		if len(rooms) == 0 {
			delete(f.byUser, userID)
		}
	}

	res = LeaveResult{Left: domain.NewMember(userID, handle), Remaining: r.snapshot()}
	if len(r.order) == 0 {
		delete(f.rooms, id)
		res.Destroyed = true
		log.Info().Str("module", "app.rooms").Str("room", string(id)).Msg("room destroyed")
	}
	log.Info().Str("module", "app.rooms").Str("room", string(id)).Str("user", string(userID)).Int("count", len(r.order)).Msg("member removed")
	return res, true
}

// RoomsOf lists the rooms userID currently belongs to.
func (f *RoomManager) RoomsOf(userID domain.UserID) []domain.RoomID {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]domain.RoomID, 0, len(f.byUser[userID]))
	for id := range f.byUser[userID] {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

func (f *RoomManager) Members(id domain.RoomID) ([]domain.Member, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	r, ok := f.rooms[id]
	if !ok {
		return nil, false
	}
	return r.snapshot(), true
}

func (f *RoomManager) Exists(id domain.RoomID) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	_, ok := f.rooms[id]
	return ok
}

func (f *RoomManager) List() []core.RoomInfo {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]core.RoomInfo, 0, len(f.rooms))
	for id, r := range f.rooms {
		out = append(out, core.RoomInfo{ID: id, MemberCount: len(r.order)})
	}
	slices.SortFunc(out, func(a, b core.RoomInfo) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

func (f *RoomManager) Count() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.rooms)
}

// StopRoom drops a room that never got a participant.
func (f *RoomManager) StopRoom(id domain.RoomID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.rooms[id]; ok && len(r.order) == 0 {
		delete(f.rooms, id)
	}
}
