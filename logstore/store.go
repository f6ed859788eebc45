package logstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const defaultMaxEntries = 1000

// ErrRedisUnavailable wraps Redis failures.
var ErrRedisUnavailable = errors.New("log store redis unavailable")

// Config configures a Store.
type Config struct {
	// Prefix namespaces the keys; "ls" when empty.
	Prefix string
	// MaxEntries caps each user's list; older entries are trimmed.
	MaxEntries int64
	// TTL expires a user's list after inactivity; zero keeps it.
	TTL time.Duration
}

// Store keeps log entries per user in Redis lists, oldest first.
type Store struct {
	redis  redis.UniversalClient
	config Config
	now    func() time.Time
}

// New creates a Store.
func New(rdb redis.UniversalClient, cfg Config) *Store {
	if cfg.Prefix == "" {
		cfg.Prefix = "ls"
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = defaultMaxEntries
	}
	return &Store{redis: rdb, config: cfg, now: time.Now}
}

// Append stores entries under their users, assigning ids and creation times.
// Entries are appended in one pipeline per call.
func (s *Store) Append(ctx context.Context, entries ...Entry) ([]string, error) {
	if len(entries) == 0 {
		return nil, nil
	}

	now := s.now().UTC()
	ids := make([]string, 0, len(entries))
	pipe := s.redis.TxPipeline()
	touched := make(map[string]struct{})

	for _, e := range entries {
		if e.User == "" {
			return nil, ErrNoOwner
		}
		if e.ID == "" {
			e.ID = uuid.NewString()
		}
		e.CreatedAt = now
		if e.Time.IsZero() {
			e.Time = now
		}
		e.Level = NormalizeLevel(e.Level)

		raw, err := json.Marshal(e)
		if err != nil {
			return nil, fmt.Errorf("logstore: encode entry: %w", err)
		}
		key := s.key(e.User)
		pipe.RPush(ctx, key, raw)
		touched[key] = struct{}{}
		ids = append(ids, e.ID)
	}

	for key := range touched {
		pipe.LTrim(ctx, key, -s.config.MaxEntries, -1)
		if s.config.TTL > 0 {
			pipe.Expire(ctx, key, s.config.TTL)
		}
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return ids, nil
}

// List returns up to limit of the newest entries of user, oldest first.
// A limit of zero or less returns everything kept.
func (s *Store) List(ctx context.Context, user string, limit int64) ([]Entry, error) {
	start := int64(0)
	if limit > 0 {
		start = -limit
	}
	raws, err := s.redis.LRange(ctx, s.key(user), start, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	out := make([]Entry, 0, len(raws))
	for _, raw := range raws {
		var e Entry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			return nil, fmt.Errorf("logstore: decode entry: %w", err)
		}
		out = append(out, e)
	}
	return out, nil
}

// Clear removes all entries of user.
func (s *Store) Clear(ctx context.Context, user string) error {
	if err := s.redis.Del(ctx, s.key(user)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

func (s *Store) key(user string) string {
	return s.config.Prefix + ":log:users~" + user
}
