package directory

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Meet/internal/core"
	"github.com/dkeye/Meet/internal/domain"
)

const (
	redisUserPrefix   = "meet:user:"
	redisHandlePrefix = "meet:handle:"
	redisMaxRetries   = 5
)

// Redis keeps one hash per user and a handle -> user index key per live handle.
// Handle rotation runs under WATCH on the user hash so the index never holds
// two handles for one user.
type Redis struct {
	client *redis.Client
}

func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client}
}

func userKey(id domain.UserID) string { return redisUserPrefix + string(id) }

func handleKey(h domain.CallHandle) string { return redisHandlePrefix + string(h) }

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, core.ErrDirectoryUnavailable, err)
}

func (r *Redis) AssignCallHandle(ctx context.Context, id domain.UserID, handle domain.CallHandle) error {
	key := userKey(id)
	txf := func(tx *redis.Tx) error {
		old, err := tx.HGet(ctx, key, "handle").Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if old != "" && old != string(handle) {
				pipe.Del(ctx, handleKey(domain.CallHandle(old)))
			}
			pipe.HSet(ctx, key, "id", string(id), "handle", string(handle))
			pipe.Set(ctx, handleKey(handle), string(id), 0)
			return nil
		})
		return err
	}

	for i := 0; i < redisMaxRetries; i++ {
		err := r.client.Watch(ctx, txf, key)
		if err == nil {
			return nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			log.Debug().Str("module", "directory.redis").Str("user", string(id)).Msg("handle rotation raced, retrying")
			continue
		}
		return unavailable("assign call handle", err)
	}
	return unavailable("assign call handle", redis.TxFailedErr)
}

func (r *Redis) ResolveCallHandle(ctx context.Context, handle domain.CallHandle) (domain.UserID, error) {
	id, err := r.client.Get(ctx, handleKey(handle)).Result()
	if errors.Is(err, redis.Nil) {
		return "", core.ErrUnknownHandle
	}
	if err != nil {
		return "", unavailable("resolve call handle", err)
	}
	return domain.UserID(id), nil
}

func (r *Redis) SetPresence(ctx context.Context, id domain.UserID, online bool, lastSeen time.Time) error {
	err := r.client.HSet(ctx, userKey(id),
		"id", string(id),
		"online", strconv.FormatBool(online),
		"last_seen", strconv.FormatInt(lastSeen.UnixMilli(), 10),
	).Err()
	if err != nil {
		return unavailable("set presence", err)
	}
	return nil
}

func (r *Redis) Get(ctx context.Context, id domain.UserID) (domain.User, error) {
	fields, err := r.client.HGetAll(ctx, userKey(id)).Result()
	if err != nil {
		return domain.User{}, unavailable("get user", err)
	}
	if len(fields) == 0 {
		return domain.User{}, core.ErrUserNotFound
	}
	u := domain.User{ID: id, CallHandle: domain.CallHandle(fields["handle"])}
	u.IsOnline, _ = strconv.ParseBool(fields["online"])
	if ms, err := strconv.ParseInt(fields["last_seen"], 10, 64); err == nil {
		u.LastSeen = time.UnixMilli(ms)
	}
	return u, nil
}

func (r *Redis) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return unavailable("ping", err)
	}
	return nil
}
