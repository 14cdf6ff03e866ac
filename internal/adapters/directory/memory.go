// Package directory holds the User Directory backends: profile record,
// rotating call handle and presence per user.
package directory

import (
	"context"
	"sync"
	"time"

	"github.com/dkeye/Meet/internal/core"
	"github.com/dkeye/Meet/internal/domain"
)

// Memory is a process-local Directory. Thread-safe via RWMutex.
type Memory struct {
	mu      sync.RWMutex
	users   map[domain.UserID]*domain.User
	handles map[domain.CallHandle]domain.UserID
}

func NewMemory() *Memory {
	return &Memory{
		users:   make(map[domain.UserID]*domain.User),
		handles: make(map[domain.CallHandle]domain.UserID),
	}
}

func (m *Memory) AssignCallHandle(ctx context.Context, id domain.UserID, handle domain.CallHandle) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	u := m.userLocked(id)
	if u.CallHandle != "" {
		delete(m.handles, u.CallHandle)
	}
	u.CallHandle = handle
	m.handles[handle] = id
	return nil
}

func (m *Memory) ResolveCallHandle(ctx context.Context, handle domain.CallHandle) (domain.UserID, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.handles[handle]
	if !ok {
		return "", core.ErrUnknownHandle
	}
	return id, nil
}

func (m *Memory) SetPresence(ctx context.Context, id domain.UserID, online bool, lastSeen time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	u := m.userLocked(id)
	u.IsOnline = online
	u.LastSeen = lastSeen
	return nil
}

func (m *Memory) Get(ctx context.Context, id domain.UserID) (domain.User, error) {
	if err := ctx.Err(); err != nil {
		return domain.User{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return domain.User{}, core.ErrUserNotFound
	}
	return *u, nil
}

func (m *Memory) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (m *Memory) userLocked(id domain.UserID) *domain.User {
	u, ok := m.users[id]
	if !ok {
		u = &domain.User{ID: id}
		m.users[id] = u
	}
	return u
}
