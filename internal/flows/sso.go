package flows

import (
	"context"
	"time"

	"github.com/liestudio/studio/session"
	"github.com/liestudio/studio/user"
)

// SSOMetrics carries metric IDs used by the sso flow.
type SSOMetrics struct {
	ResumeSuccess  int
	ResumeFailure  int
	SessionCreated int
}

// SSOErrors carries host-level sentinel errors used by the sso flow.
type SSOErrors struct {
	NotReady     error
	InvalidToken error
}

// SSODeps captures dependencies of the remember-me re-authentication flow.
type SSODeps struct {
	SessionTTL time.Duration
	Now        func() time.Time

	VerifyRemember    func(token string) (*RememberClaims, error)
	GetUserByUsername func(ctx context.Context, username string) (*user.User, error)
	BindSession       func(ctx context.Context, uid int64, sessionID string) (*user.User, error)
	SaveRecord        func(ctx context.Context, rec *session.Record) error

	MetricInc func(int)
	EmitAudit func(context.Context, AuditRecord)

	Metrics   SSOMetrics
	Errors    SSOErrors
	AuditName string
}

// RunSSO verifies a remember-me token and binds sessionID to its user.
func RunSSO(ctx context.Context, token, sessionID string, deps SSODeps) (*user.User, error) {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.MetricInc == nil {
		deps.MetricInc = noMetric
	}
	if deps.EmitAudit == nil {
		deps.EmitAudit = noAudit
	}
	if deps.VerifyRemember == nil || deps.GetUserByUsername == nil || deps.BindSession == nil {
		return nil, deps.Errors.NotReady
	}

	reject := func(username string, err error) (*user.User, error) {
		deps.MetricInc(deps.Metrics.ResumeFailure)
		deps.EmitAudit(ctx, AuditRecord{
			Event:     deps.AuditName,
			Username:  username,
			SessionID: sessionID,
			Err:       err,
		})
		return nil, err
	}

	claims, err := deps.VerifyRemember(token)
	if err != nil || claims == nil {
		return reject("", deps.Errors.InvalidToken)
	}

	u, err := deps.GetUserByUsername(ctx, claims.Username)
	if err != nil {
		return reject(claims.Username, err)
	}
	if u == nil || u.UIDString() != claims.UID {
		return reject(claims.Username, deps.Errors.InvalidToken)
	}

	if sessionID != "" {
		bound, err := deps.BindSession(ctx, u.UID, sessionID)
		if err != nil {
			return reject(u.Username, err)
		}
		if bound != nil {
			u = bound
		}
		if deps.SaveRecord != nil {
			if err := deps.SaveRecord(ctx, newRecord(u, sessionID, "remember", deps.Now(), deps.SessionTTL)); err != nil {
				return reject(u.Username, err)
			}
			deps.MetricInc(deps.Metrics.SessionCreated)
		}
	}

	deps.MetricInc(deps.Metrics.ResumeSuccess)
	deps.EmitAudit(ctx, AuditRecord{
		Event:     deps.AuditName,
		Username:  u.Username,
		UserID:    u.UIDString(),
		SessionID: sessionID,
		Success:   true,
	})
	return u, nil
}
