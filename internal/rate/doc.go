// Package rate provides the Redis-backed fixed-window counters that throttle
// failed ticket logins and password retrieval requests.
//
// # Window semantics
//
// Fixed-window counters: INCR + conditional EXPIRE on first hit. Keys live
// under the configured prefix:
//   - <prefix>:rl:lu:<username> failed logins per user
//   - <prefix>:rl:ld:<domain>   failed logins per peer domain
//   - <prefix>:rl:rp:<email>    password retrieval requests
//
// A nil *Limiter allows everything.
package rate
