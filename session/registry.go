package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrRedisUnavailable wraps Redis transport failures.
	ErrRedisUnavailable = errors.New("redis unavailable")
	// ErrRecordNotFound is returned for unknown or expired sessions.
	ErrRecordNotFound = errors.New("session record not found")
	// ErrRecordExpired is returned when saving a record whose expiry has passed.
	ErrRecordExpired = errors.New("session record already expired")
)

const deleteRecordScript = `
local existed = redis.call("EXISTS", KEYS[1])
redis.call("SREM", KEYS[2], ARGV[1])
if existed == 1 then
  redis.call("DEL", KEYS[1])
  local count = tonumber(redis.call("GET", KEYS[3]) or "0")
  if count > 1 then
    redis.call("DECR", KEYS[3])
  elseif count == 1 then
    redis.call("DEL", KEYS[3])
  end
end
return existed
`

var deleteRecordLua = redis.NewScript(deleteRecordScript)

// Registry is the Redis-backed index of established sessions.
type Registry struct {
	redis  redis.UniversalClient
	prefix string
	now    func() time.Time
}

// NewRegistry returns a Registry storing keys under prefix.
func NewRegistry(rdb redis.UniversalClient, prefix string) *Registry {
	if prefix == "" {
		prefix = "ls"
	}
	return &Registry{redis: rdb, prefix: prefix, now: time.Now}
}

func (r *Registry) key(sessionID string) string {
	return r.prefix + ":s:" + sessionID
}

func (r *Registry) userKey(userID string) string {
	return r.prefix + ":u:" + userID
}

func (r *Registry) countKey() string {
	return r.prefix + ":count"
}

// Save stores rec until rec.ExpiresAt and indexes it under its user.
func (r *Registry) Save(ctx context.Context, rec *Record) error {
	ttl := time.Unix(rec.ExpiresAt, 0).Sub(r.now())
	if ttl <= 0 {
		return ErrRecordExpired
	}
	data, err := Encode(rec)
	if err != nil {
		return err
	}

	key := r.key(rec.SessionID)
	existed, err := r.redis.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	_, err = r.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, key, data, ttl)
		pipe.SAdd(ctx, r.userKey(rec.UserID), rec.SessionID)
		if existed == 0 {
			pipe.Incr(ctx, r.countKey())
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Get loads the record for sessionID. Records in an older schema are
// rewritten in the current one.
func (r *Registry) Get(ctx context.Context, sessionID string) (*Record, error) {
	key := r.key(sessionID)
	data, err := r.redis.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	rec, err := Decode(data)
	if err != nil {
		return nil, err
	}
	rec.SessionID = sessionID

	if rec.ExpiresAt <= r.now().Unix() {
		if err := r.delete(ctx, rec.UserID, sessionID); err != nil {
			return nil, err
		}
		return nil, ErrRecordNotFound
	}

	if rec.SchemaVersion != CurrentSchemaVersion {
		if err := r.migrate(ctx, key, rec); err != nil {
			return nil, err
		}
	}
	return rec, nil
}

func (r *Registry) migrate(ctx context.Context, key string, rec *Record) error {
	rec.SchemaVersion = CurrentSchemaVersion
	data, err := Encode(rec)
	if err != nil {
		return err
	}
	if err := r.redis.SetArgs(ctx, key, data, redis.SetArgs{KeepTTL: true, Mode: "XX"}).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Delete removes the record for sessionID. Deleting an unknown session is
// not an error.
func (r *Registry) Delete(ctx context.Context, sessionID string) error {
	data, err := r.redis.Get(ctx, r.key(sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	rec, err := Decode(data)
	if err != nil {
		return err
	}
	return r.delete(ctx, rec.UserID, sessionID)
}

func (r *Registry) delete(ctx context.Context, userID, sessionID string) error {
	keys := []string{r.key(sessionID), r.userKey(userID), r.countKey()}
	if err := deleteRecordLua.Run(ctx, r.redis, keys, sessionID).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// DeleteAllForUser removes every session indexed under userID.
//
// The user index is read before the records are deleted, so a session saved
// concurrently can survive the call.
func (r *Registry) DeleteAllForUser(ctx context.Context, userID string) error {
	ids, err := r.ActiveSessionIDs(ctx, userID)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if err := r.delete(ctx, userID, id); err != nil {
			return err
		}
	}
	if err := r.redis.Del(ctx, r.userKey(userID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Count returns the number of live sessions tracked by the counter.
func (r *Registry) Count(ctx context.Context) (int, error) {
	n, err := r.redis.Get(ctx, r.countKey()).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if n < 0 {
		return 0, nil
	}
	return int(n), nil
}

// ActiveSessionIDs returns the session ids indexed under userID.
func (r *Registry) ActiveSessionIDs(ctx context.Context, userID string) ([]string, error) {
	ids, err := r.redis.SMembers(ctx, r.userKey(userID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return ids, nil
}

// Ping reports Redis availability and round-trip latency.
func (r *Registry) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if err := r.redis.Ping(ctx).Err(); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return time.Since(start), nil
}
