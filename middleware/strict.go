package middleware

import (
	"context"
	"net/http"

	"github.com/liestudio/studio/remember"
	"github.com/liestudio/studio/session"
)

// SessionLookup finds a registry record. *session.Registry satisfies it.
type SessionLookup interface {
	Get(ctx context.Context, sessionID string) (*session.Record, error)
}

// RequireSession is Guard plus a registry check: the token must name a
// session that is still registered for the same user. Tokens without a
// session id are refused.
func RequireSession(verifier Verifier, sessions SessionLookup, loginPath string) func(http.Handler) http.Handler {
	return guard(verifier, func(ctx context.Context, claims *remember.Claims) bool {
		if sessions == nil || claims.SID == "" {
			return false
		}
		rec, err := sessions.Get(ctx, claims.SID)
		if err != nil {
			return false
		}
		return rec.Username == claims.Username
	}, loginPath)
}
