package app

import (
	"sync"

	"github.com/dkeye/Meet/internal/core"
	"github.com/dkeye/Meet/internal/domain"
	"github.com/rs/zerolog/log"
)

// Session is the authenticated identity bound to one live connection.
type Session struct {
	ConnID     domain.ConnID
	UserID     domain.UserID
	CallHandle domain.CallHandle
}

func (s Session) Member() domain.Member {
	return domain.NewMember(s.UserID, s.CallHandle)
}

type connEntry struct {
	signal  core.SignalConnection
	session *Session
}

// Registry pairs live connections with authenticated users.
// A user owns at most one connection; a connection carries at most one user.
type Registry struct {
	mu      sync.RWMutex
	conns   map[domain.ConnID]*connEntry
	users   map[domain.UserID]domain.ConnID
	handles map[domain.CallHandle]domain.UserID
}

func NewRegistry() *Registry {
	return &Registry{
		conns:   make(map[domain.ConnID]*connEntry),
		users:   make(map[domain.UserID]domain.ConnID),
		handles: make(map[domain.CallHandle]domain.UserID),
	}
}

// Attach registers a connected, not yet authenticated transport.
func (r *Registry) Attach(id domain.ConnID, sig core.SignalConnection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[id] = &connEntry{signal: sig}
	log.Debug().Str("module", "app.registry").Str("conn", string(id)).Msg("attached connection")
}

// Bind installs userID on connection id. A different connection already owned by
// userID is unbound first and returned as evicted. A different user already bound
// to id is unbound as well.
func (r *Registry) Bind(id domain.ConnID, userID domain.UserID, handle domain.CallHandle) (evicted domain.ConnID, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, exists := r.conns[id]
	if !exists {
		entry = &connEntry{}
		r.conns[id] = entry
	}

	if prev, owned := r.users[userID]; owned && prev != id {
		r.unbindLocked(prev)
		evicted, ok = prev, true
		log.Info().Str("module", "app.registry").Str("user", string(userID)).Str("evicted", string(prev)).Msg("evicted previous connection")
	}
	if entry.session != nil && entry.session.UserID != userID {
		r.unbindLocked(id)
	}
	if entry.session != nil {
		delete(r.handles, entry.session.CallHandle)
	}

	entry.session = &Session{ConnID: id, UserID: userID, CallHandle: handle}
	r.users[userID] = id
	r.handles[handle] = userID
	log.Info().Str("module", "app.registry").Str("conn", string(id)).Str("user", string(userID)).Msg("bound session")
	return evicted, ok
}

// Unbind drops the identity from id but keeps the transport attached.
func (r *Registry) Unbind(id domain.ConnID) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.unbindLocked(id)
}

// Detach removes the connection entirely. The returned session is the identity it
// still carried, if any.
func (r *Registry) Detach(id domain.ConnID) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.unbindLocked(id)
	delete(r.conns, id)
	log.Debug().Str("module", "app.registry").Str("conn", string(id)).Msg("detached connection")
	return sess, ok
}

func (r *Registry) unbindLocked(id domain.ConnID) (Session, bool) {
	entry, ok := r.conns[id]
	if !ok || entry.session == nil {
		return Session{}, false
	}
	sess := *entry.session
	entry.session = nil
	if r.users[sess.UserID] == id {
		delete(r.users, sess.UserID)
	}
	if r.handles[sess.CallHandle] == sess.UserID {
		delete(r.handles, sess.CallHandle)
	}
	log.Info().Str("module", "app.registry").Str("conn", string(id)).Str("user", string(sess.UserID)).Msg("unbind session")
	return sess, true
}

func (r *Registry) ResolveConnection(userID domain.UserID) (domain.ConnID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.users[userID]
	return id, ok
}

func (r *Registry) ResolveUser(id domain.ConnID) (domain.UserID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.conns[id]; ok && e.session != nil {
		return e.session.UserID, true
	}
	return "", false
}

func (r *Registry) Session(id domain.ConnID) (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.conns[id]; ok && e.session != nil {
		return *e.session, true
	}
	return Session{}, false
}

// SessionOf returns the live session owned by userID.
func (r *Registry) SessionOf(userID domain.UserID) (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.users[userID]
	if !ok {
		return Session{}, false
	}
	return *r.conns[id].session, true
}

// UserByHandle resolves a handle against live sessions only.
func (r *Registry) UserByHandle(handle domain.CallHandle) (domain.UserID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.handles[handle]
	return u, ok
}

func (r *Registry) Signal(id domain.ConnID) (core.SignalConnection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.conns[id]
	if !ok {
		return nil, false
	}
	return e.signal, e.signal != nil
}

// Endpoint returns the live connection and transport owned by userID.
func (r *Registry) Endpoint(userID domain.UserID) (domain.ConnID, core.SignalConnection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.users[userID]
	if !ok || r.conns[id].signal == nil {
		return "", nil, false
	}
	return id, r.conns[id].signal, true
}

// Attached reports whether the transport id is still open.
func (r *Registry) Attached(id domain.ConnID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.conns[id]
	return ok
}

func (r *Registry) ConnCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

func (r *Registry) SessionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users)
}
