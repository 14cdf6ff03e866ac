package directory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/dkeye/Meet/internal/core"
	"github.com/dkeye/Meet/internal/domain"
)

// SchemaSQL creates the directory table. call_handle is UNIQUE so the handle
// index and the user row change in the same statement.
const SchemaSQL = `
CREATE TABLE IF NOT EXISTS directory_users (
	user_id     TEXT PRIMARY KEY,
	call_handle TEXT UNIQUE,
	is_online   BOOLEAN NOT NULL DEFAULT FALSE,
	last_seen   TIMESTAMPTZ
)`

const (
	assignHandleSQL = `INSERT INTO directory_users (user_id, call_handle) VALUES ($1, $2)
ON CONFLICT (user_id) DO UPDATE SET call_handle = EXCLUDED.call_handle`
	resolveHandleSQL = `SELECT user_id FROM directory_users WHERE call_handle = $1`
	setPresenceSQL   = `INSERT INTO directory_users (user_id, is_online, last_seen) VALUES ($1, $2, $3)
ON CONFLICT (user_id) DO UPDATE SET is_online = EXCLUDED.is_online, last_seen = EXCLUDED.last_seen`
	getUserSQL = `SELECT user_id, COALESCE(call_handle, ''), is_online, last_seen FROM directory_users WHERE user_id = $1`
)

// pq error code for unique_violation.
const uniqueViolation = "23505"

var ErrHandleTaken = errors.New("call handle already assigned")

// Postgres implements core.Directory on a directory_users table.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// OpenPostgres connects through lib/pq and makes sure the schema exists.
func OpenPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	p := NewPostgres(db)
	if err := p.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return p, nil
}

func (p *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, SchemaSQL); err != nil {
		return unavailable("ensure schema", err)
	}
	return nil
}

func (p *Postgres) Close() error {
	return p.db.Close()
}

func (p *Postgres) AssignCallHandle(ctx context.Context, id domain.UserID, handle domain.CallHandle) error {
	_, err := p.db.ExecContext(ctx, assignHandleSQL, string(id), string(handle))
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return fmt.Errorf("assign call handle: %w", ErrHandleTaken)
		}
		return unavailable("assign call handle", err)
	}
	return nil
}

func (p *Postgres) ResolveCallHandle(ctx context.Context, handle domain.CallHandle) (domain.UserID, error) {
	var id string
	err := p.db.QueryRowContext(ctx, resolveHandleSQL, string(handle)).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", core.ErrUnknownHandle
	}
	if err != nil {
		return "", unavailable("resolve call handle", err)
	}
	return domain.UserID(id), nil
}

func (p *Postgres) SetPresence(ctx context.Context, id domain.UserID, online bool, lastSeen time.Time) error {
	if _, err := p.db.ExecContext(ctx, setPresenceSQL, string(id), online, lastSeen.UTC()); err != nil {
		return unavailable("set presence", err)
	}
	return nil
}

func (p *Postgres) Get(ctx context.Context, id domain.UserID) (domain.User, error) {
	var (
		u        domain.User
		uid      string
		handle   string
		lastSeen pq.NullTime
	)
	err := p.db.QueryRowContext(ctx, getUserSQL, string(id)).Scan(&uid, &handle, &u.IsOnline, &lastSeen)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.User{}, core.ErrUserNotFound
	}
	if err != nil {
		return domain.User{}, unavailable("get user", err)
	}
	u.ID = domain.UserID(uid)
	u.CallHandle = domain.CallHandle(handle)
	if lastSeen.Valid {
		u.LastSeen = lastSeen.Time
	}
	return u, nil
}

func (p *Postgres) Ping(ctx context.Context) error {
	if err := p.db.PingContext(ctx); err != nil {
		return unavailable("ping", err)
	}
	return nil
}
