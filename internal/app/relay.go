package app

import (
	"context"
	"errors"
	"time"

	"github.com/dkeye/Meet/internal/core"
	"github.com/dkeye/Meet/internal/domain"
	"github.com/rs/zerolog/log"
)

type Kind string

const (
	KindOffer        Kind = "offer"
	KindAnswer       Kind = "answer"
	KindIceCandidate Kind = "ice-candidate"
)

var (
	ErrUnresolvableSender = errors.New("sender not authenticated")
	ErrUnresolvableTarget = errors.New("target not reachable")
)

// Route is a resolved one-to-one signaling path.
type Route struct {
	Sender     domain.Member
	TargetConn domain.ConnID
	Target     core.SignalConnection
}

// Relay resolves call handles to live connections for offer/answer/candidate
// forwarding. The Directory's handle index is consulted first; the Registry
// handle must agree or the route is refused.
type Relay struct {
	Registry  *Registry
	Directory core.Directory
	Timeout   time.Duration
}

func (r *Relay) Resolve(ctx context.Context, from domain.ConnID, target domain.CallHandle) (Route, error) {
	sender, ok := r.Registry.Session(from)
	if !ok {
		return Route{}, ErrUnresolvableSender
	}

	userID, err := r.lookup(ctx, target)
	if err != nil {
		return Route{}, err
	}

	live, ok := r.Registry.SessionOf(userID)
	if !ok || live.CallHandle != target {
		return Route{}, ErrUnresolvableTarget
	}
	sig, ok := r.Registry.Signal(live.ConnID)
	if !ok {
		return Route{}, ErrUnresolvableTarget
	}
	return Route{Sender: sender.Member(), TargetConn: live.ConnID, Target: sig}, nil
}

func (r *Relay) lookup(ctx context.Context, handle domain.CallHandle) (domain.UserID, error) {
	if r.Directory == nil {
		if u, ok := r.Registry.UserByHandle(handle); ok {
			return u, nil
		}
		return "", ErrUnresolvableTarget
	}

	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}
	userID, err := r.Directory.ResolveCallHandle(ctx, handle)
	switch {
	case err == nil:
		return userID, nil
	case errors.Is(err, core.ErrUnknownHandle):
		return "", ErrUnresolvableTarget
	}

	// Directory is down: in-memory sessions stay authoritative.
	log.Warn().Err(err).Str("module", "app.relay").Msg("directory lookup failed, using live sessions")
	if u, ok := r.Registry.UserByHandle(handle); ok {
		return u, nil
	}
	return "", ErrUnresolvableTarget
}
