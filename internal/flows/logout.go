package flows

import (
	"context"

	"github.com/liestudio/studio/user"
)

// LogoutMetrics carries metric IDs used by the logout flow.
type LogoutMetrics struct {
	Logout             int
	SessionInvalidated int
}

// LogoutDeps captures logout flow dependencies.
type LogoutDeps struct {
	Unbind       func(ctx context.Context, sessionID string) (*user.User, error)
	DeleteRecord func(ctx context.Context, sessionID string) error

	MetricInc func(int)
	EmitAudit func(context.Context, AuditRecord)
	Warn      func(string, ...any)

	Metrics   LogoutMetrics
	AuditName string
}

// RunLogout unbinds the user holding sessionID and drops its registry
// record. A nil user means nobody was bound to the session.
func RunLogout(ctx context.Context, sessionID string, deps LogoutDeps) (*user.User, error) {
	if deps.MetricInc == nil {
		deps.MetricInc = noMetric
	}
	if deps.EmitAudit == nil {
		deps.EmitAudit = noAudit
	}
	if deps.Warn == nil {
		deps.Warn = noWarn
	}

	u, err := deps.Unbind(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	if deps.DeleteRecord != nil && sessionID != "" {
		if err := deps.DeleteRecord(ctx, sessionID); err != nil {
			deps.Warn("session record not removed: %v", err)
		} else if u != nil {
			deps.MetricInc(deps.Metrics.SessionInvalidated)
		}
	}

	if u == nil {
		deps.EmitAudit(ctx, AuditRecord{Event: deps.AuditName, SessionID: sessionID})
		return nil, nil
	}

	deps.MetricInc(deps.Metrics.Logout)
	deps.EmitAudit(ctx, AuditRecord{
		Event:     deps.AuditName,
		Username:  u.Username,
		UserID:    u.UIDString(),
		SessionID: sessionID,
		Success:   true,
	})
	return u, nil
}
