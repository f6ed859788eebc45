package flows

import (
	"context"
	"time"

	"github.com/liestudio/studio/session"
	"github.com/liestudio/studio/user"
)

// Deps groups flow dependency sets. internal/services builds this once and
// delegates each procedure to the matching flow.
type Deps struct {
	Login    LoginDeps
	Logout   LogoutDeps
	SSO      SSODeps
	Retrieve RetrieveDeps
}

// AuditRecord is the flow-local shape of an audit event.
type AuditRecord struct {
	Event     string
	Username  string
	UserID    string
	SessionID string
	Domain    string
	Success   bool
	Err       error
}

// RememberClaims is the flow-local view of a verified remember-me token.
type RememberClaims struct {
	UID      string
	Username string
	SID      string
}

func newRecord(u *user.User, sessionID, method string, now time.Time, ttl time.Duration) *session.Record {
	return &session.Record{
		SessionID:  sessionID,
		UserID:     u.UIDString(),
		Username:   u.Username,
		Role:       u.Role,
		AuthMethod: method,
		CreatedAt:  now.Unix(),
		ExpiresAt:  now.Add(ttl).Unix(),
	}
}

func noAudit(context.Context, AuditRecord) {}

func noWarn(string, ...any) {}

func noMetric(int) {}
