package core

import (
	"context"
	"errors"
	"time"

	"github.com/dkeye/Meet/internal/domain"
)

var (
	ErrUnknownHandle        = errors.New("unknown call handle")
	ErrUserNotFound         = errors.New("user not found")
	ErrDirectoryUnavailable = errors.New("directory unavailable")
)

// Directory is the persistent user store. Each method is atomic per user record.
type Directory interface {
	// AssignCallHandle makes handle the user's only handle. The previous handle
	// stops resolving in the same step.
	AssignCallHandle(ctx context.Context, id domain.UserID, handle domain.CallHandle) error
	// ResolveCallHandle returns ErrUnknownHandle for stale or never-issued handles.
	ResolveCallHandle(ctx context.Context, handle domain.CallHandle) (domain.UserID, error)
	SetPresence(ctx context.Context, id domain.UserID, online bool, lastSeen time.Time) error
	Get(ctx context.Context, id domain.UserID) (domain.User, error)
	Ping(ctx context.Context) error
}
