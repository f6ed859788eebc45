package rate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config holds rate limiter tuning parameters.
type Config struct {
	Prefix                 string
	EnableDomainThrottle   bool
	MaxLoginAttempts       int
	LoginCooldownDuration  time.Duration
	MaxRetrieveAttempts    int
	RetrieveCooldownWindow time.Duration
}

// DefaultConfig returns the limits used by the LIEStudio server.
func DefaultConfig() Config {
	return Config{
		Prefix:                 "ls",
		EnableDomainThrottle:   true,
		MaxLoginAttempts:       5,
		LoginCooldownDuration:  15 * time.Minute,
		MaxRetrieveAttempts:    3,
		RetrieveCooldownWindow: time.Hour,
	}
}

// Limiter counts failed ticket logins per username and per peer domain, and
// password retrieval requests per email address, using Redis counters.
type Limiter struct {
	redis  redis.UniversalClient
	config Config
}

// New creates a rate [Limiter] backed by the given Redis client.
func New(redisClient redis.UniversalClient, cfg Config) *Limiter {
	if cfg.Prefix == "" {
		cfg.Prefix = "ls"
	}
	return &Limiter{
		redis:  redisClient,
		config: cfg,
	}
}

// CheckLogin returns ErrRateLimited when either the username or the domain
// has used up its failed-login budget.
func (l *Limiter) CheckLogin(ctx context.Context, username, domain string) error {
	if l == nil {
		return nil
	}
	if err := l.checkCounter(ctx, l.loginUserKey(username), l.config.MaxLoginAttempts); err != nil {
		return err
	}

	if l.config.EnableDomainThrottle && domain != "" {
		if err := l.checkCounter(ctx, l.loginDomainKey(domain), l.config.MaxLoginAttempts); err != nil {
			return err
		}
	}

	return nil
}

// IncrementLogin records a failed login attempt.
func (l *Limiter) IncrementLogin(ctx context.Context, username, domain string) error {
	if l == nil {
		return nil
	}
	count, err := l.incrementWithTTL(ctx, l.loginUserKey(username), l.config.LoginCooldownDuration)
	if err != nil {
		return err
	}
	if count > int64(l.config.MaxLoginAttempts) {
		return ErrRateLimited
	}

	if l.config.EnableDomainThrottle && domain != "" {
		count, err = l.incrementWithTTL(ctx, l.loginDomainKey(domain), l.config.LoginCooldownDuration)
		if err != nil {
			return err
		}
		if count > int64(l.config.MaxLoginAttempts) {
			return ErrRateLimited
		}
	}

	return nil
}

// ResetLogin clears the failed-login counters after a successful login.
func (l *Limiter) ResetLogin(ctx context.Context, username, domain string) error {
	if l == nil {
		return nil
	}
	keys := []string{l.loginUserKey(username)}
	if l.config.EnableDomainThrottle && domain != "" {
		keys = append(keys, l.loginDomainKey(domain))
	}

	if err := l.redis.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	return nil
}

// CheckRetrieve counts a password retrieval request for email and returns
// ErrRateLimited once the window's budget is exceeded.
func (l *Limiter) CheckRetrieve(ctx context.Context, email string) error {
	if l == nil || l.config.MaxRetrieveAttempts <= 0 {
		return nil
	}

	count, err := l.incrementWithTTL(ctx, l.retrieveKey(email), l.config.RetrieveCooldownWindow)
	if err != nil {
		return err
	}
	if count > int64(l.config.MaxRetrieveAttempts) {
		return ErrRateLimited
	}

	return nil
}

// LoginAttempts returns the current failed-login counter for a username.
// Missing keys return zero.
func (l *Limiter) LoginAttempts(ctx context.Context, username string) (int, error) {
	count, err := l.redis.Get(ctx, l.loginUserKey(username)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if count < 0 {
		return 0, nil
	}
	return int(count), nil
}

func (l *Limiter) checkCounter(ctx context.Context, key string, maxAttempts int) error {
	count, err := l.redis.Get(ctx, key).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	if count >= int64(maxAttempts) {
		return ErrRateLimited
	}

	return nil
}

func (l *Limiter) incrementWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	// Fixed window: the TTL is set on the first hit only.
	if count == 1 {
		if err := l.redis.Expire(ctx, key, ttl).Err(); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}

	return count, nil
}

func (l *Limiter) loginUserKey(username string) string {
	return l.config.Prefix + ":rl:lu:" + strings.ToLower(username)
}

func (l *Limiter) loginDomainKey(domain string) string {
	return l.config.Prefix + ":rl:ld:" + strings.ToLower(domain)
}

func (l *Limiter) retrieveKey(email string) string {
	return l.config.Prefix + ":rl:rp:" + strings.ToLower(email)
}
