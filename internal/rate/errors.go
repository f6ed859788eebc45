package rate

import "errors"

var (
	// ErrRateLimited means the caller exhausted the attempt budget of the current window.
	ErrRateLimited = errors.New("rate limited")
	// ErrRedisUnavailable wraps Redis failures.
	ErrRedisUnavailable = errors.New("redis unavailable")
)
