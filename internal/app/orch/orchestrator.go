package orch

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/dkeye/Meet/internal/adapters/identity"
	"github.com/dkeye/Meet/internal/app"
	"github.com/dkeye/Meet/internal/core"
	"github.com/dkeye/Meet/internal/domain"
	"github.com/dkeye/Meet/internal/metrics"
	"github.com/rs/zerolog/log"
)

// Orchestrator drives every connection through
// Connected -> Authenticated -> (room member)* -> Disconnected.
// Registry and Rooms are only mutated while holding mu; Directory and
// Identity calls happen outside it.
type Orchestrator struct {
	Registry  *app.Registry
	Rooms     *app.RoomManager
	Relay     *app.Relay
	Policy    app.Policy
	Directory core.Directory
	Identity  core.IdentityProvider
	Metrics   *metrics.Metrics

	AuthTimeout      time.Duration
	DirectoryTimeout time.Duration

	mu    sync.Mutex
	users keyedMutex
}

// Connect registers a freshly opened transport.
func (o *Orchestrator) Connect(conn domain.ConnID, sig core.SignalConnection) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.Registry.Attach(conn, sig)
	o.syncGaugesLocked()
	log.Info().Str("module", "orch").Str("conn", string(conn)).Msg("connected")
}

// Verify checks a credential without binding anything.
func (o *Orchestrator) Verify(ctx context.Context, credential string) (domain.UserID, error) {
	ctx, cancel := withTimeout(ctx, o.AuthTimeout)
	defer cancel()
	return o.Identity.Verify(ctx, credential)
}

// Authenticate binds the credential's user to conn and answers with an
// authenticated event. A failed attempt leaves conn as it was.
func (o *Orchestrator) Authenticate(ctx context.Context, conn domain.ConnID, credential string) (domain.CallHandle, error) {
	sig, ok := o.Registry.Signal(conn)
	if !ok {
		return "", core.ErrConnClosed
	}

	userID, err := o.Verify(ctx, credential)
	if err != nil {
		reason := ReasonOf(err)
		o.Metrics.IncAuthentications(reason)
		log.Info().Str("module", "orch").Str("conn", string(conn)).Str("reason", reason).Msg("authentication refused")
		_ = o.Deliver(conn, sig, Authenticated{Type: EventAuthenticated, Reason: reason})
		return "", err
	}

	unlock := o.users.Lock(userID)
	defer unlock()

	if cur, ok := o.Registry.Session(conn); ok && cur.UserID == userID {
		o.setPresence(ctx, userID, true)
		o.Metrics.IncAuthentications("ok")
		_ = o.Deliver(conn, sig, Authenticated{Type: EventAuthenticated, Success: true, UserID: userID, CallHandle: cur.CallHandle})
		return cur.CallHandle, nil
	}

	handle := domain.NewCallHandle()
	dctx, cancel := withTimeout(ctx, o.DirectoryTimeout)
	if err := o.Directory.AssignCallHandle(dctx, userID, handle); err != nil {
		log.Warn().Err(err).Str("module", "orch").Str("user", string(userID)).Msg("call handle not persisted")
	}
	cancel()

	o.mu.Lock()
	if !o.Registry.Attached(conn) {
		o.mu.Unlock()
		return "", core.ErrConnClosed
	}
	var previous domain.UserID
	if prev, ok := o.Registry.Session(conn); ok && prev.UserID != userID {
		o.leaveAllLocked(prev.UserID)
		o.Registry.Unbind(conn)
		previous = prev.UserID
	}
	// A new binding starts without rooms; memberships under an older handle go.
	o.leaveAllLocked(userID)
	evicted, replaced := o.Registry.Bind(conn, userID, handle)
	var evictedSig core.SignalConnection
	if replaced {
		evictedSig, _ = o.Registry.Signal(evicted)
	}
	_ = o.Deliver(conn, sig, Authenticated{Type: EventAuthenticated, Success: true, UserID: userID, CallHandle: handle})
	o.syncGaugesLocked()
	o.mu.Unlock()

	if evictedSig != nil {
		_ = o.Deliver(evicted, evictedSig, notice{Type: EventSessionReplaced})
		evictedSig.Close()
	}
	if previous != "" {
		o.setPresence(ctx, previous, false)
	}
	o.setPresence(ctx, userID, true)
	o.Metrics.IncAuthentications("ok")
	log.Info().Str("module", "orch").Str("conn", string(conn)).Str("user", string(userID)).Msg("authenticated")
	return handle, nil
}

// Disconnect is the terminal transition. It is safe to call more than once.
func (o *Orchestrator) Disconnect(ctx context.Context, conn domain.ConnID) {
	if userID, ok := o.Registry.ResolveUser(conn); ok {
		unlock := o.users.Lock(userID)
		defer unlock()
	}

	o.mu.Lock()
	sess, bound := o.Registry.Detach(conn)
	if bound {
		o.leaveAllLocked(sess.UserID)
	}
	o.syncGaugesLocked()
	o.mu.Unlock()

	if bound {
		o.setPresence(ctx, sess.UserID, false)
	}
	log.Info().Str("module", "orch").Str("conn", string(conn)).Bool("was_authenticated", bound).Msg("disconnected")
}

// WhoAmI answers the caller with its identity and rooms.
func (o *Orchestrator) WhoAmI(conn domain.ConnID) {
	sig, ok := o.Registry.Signal(conn)
	if !ok {
		return
	}
	sess, ok := o.Registry.Session(conn)
	if !ok {
		_ = o.Deliver(conn, sig, Failure{Type: EventError, Reason: ReasonNotAuthenticated})
		return
	}
	_ = o.Deliver(conn, sig, WhoAmI{
		Type:       EventWhoAmI,
		UserID:     sess.UserID,
		CallHandle: sess.CallHandle,
		Rooms:      o.Rooms.RoomsOf(sess.UserID),
	})
}

// Deliver encodes v and queues it on sig, applying the backpressure policy.
func (o *Orchestrator) Deliver(conn domain.ConnID, sig core.SignalConnection, v any) error {
	b, err := marshal(v)
	if err != nil {
		return err
	}
	return o.deliverFrame(conn, sig, b)
}

func (o *Orchestrator) deliverFrame(conn domain.ConnID, sig core.SignalConnection, f core.Frame) error {
	err := sig.TrySend(f)
	if err == nil || !errors.Is(err, core.ErrBackpressure) {
		return err
	}
	o.Metrics.IncSlowConsumers()
	if o.Policy == nil {
		return err
	}
	switch o.Policy.OnBackPressure(conn) {
	case app.KickMember:
		log.Warn().Str("module", "orch").Str("conn", string(conn)).Msg("slow consumer kicked")
		sig.Close()
	case app.DropFrame, app.NoAction:
		log.Debug().Str("module", "orch").Str("conn", string(conn)).Msg("slow consumer, frame dropped")
	}
	return err
}

// MemberFor returns the identity userID participates with: the live session
// handle, else the Directory handle, else a freshly assigned one. It holds the
// user lock so a concurrent Authenticate cannot interleave a rotation.
func (o *Orchestrator) MemberFor(ctx context.Context, userID domain.UserID) domain.Member {
	unlock := o.users.Lock(userID)
	defer unlock()

	if sess, ok := o.Registry.SessionOf(userID); ok {
		return sess.Member()
	}
	ctx, cancel := withTimeout(ctx, o.DirectoryTimeout)
	defer cancel()
	if u, err := o.Directory.Get(ctx, userID); err == nil && u.CallHandle != "" {
		return domain.NewMember(userID, u.CallHandle)
	}
	handle := domain.NewCallHandle()
	if err := o.Directory.AssignCallHandle(ctx, userID, handle); err != nil {
		log.Warn().Err(err).Str("module", "orch").Str("user", string(userID)).Msg("call handle not persisted")
	}
	return domain.NewMember(userID, handle)
}

func (o *Orchestrator) setPresence(ctx context.Context, userID domain.UserID, online bool) {
	ctx, cancel := withTimeout(ctx, o.DirectoryTimeout)
	defer cancel()
	if err := o.Directory.SetPresence(ctx, userID, online, time.Now()); err != nil {
		log.Warn().Err(err).Str("module", "orch").Str("user", string(userID)).Bool("online", online).Msg("presence not persisted")
	}
}

func (o *Orchestrator) syncGaugesLocked() {
	o.Metrics.SetConnections(o.Registry.ConnCount())
	o.Metrics.SetSessions(o.Registry.SessionCount())
	o.Metrics.SetRooms(o.Rooms.Count())
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

// ReasonOf maps an error onto the reason string clients see.
func ReasonOf(err error) string {
	switch {
	case errors.Is(err, identity.ErrExpiredCredential):
		return ReasonExpiredCredential
	case errors.Is(err, identity.ErrInvalidCredential):
		return ReasonInvalidCredential
	case errors.Is(err, domain.ErrRoomNotFound):
		return ReasonRoomNotFound
	case errors.Is(err, domain.ErrAlreadyJoined):
		return ReasonAlreadyJoined
	case errors.Is(err, domain.ErrNotAuthenticated):
		return ReasonNotAuthenticated
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return ReasonInvalidCredential
	}
	return ReasonUnavailable
}
