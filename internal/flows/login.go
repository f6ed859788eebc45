package flows

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/liestudio/studio/session"
	"github.com/liestudio/studio/user"
)

// LoginRequest is a ticket login as received by the login procedure.
type LoginRequest struct {
	AuthID    string
	Ticket    string
	Domain    string
	SessionID string
	Remember  bool
}

// LoginResult is the flow-local login response.
type LoginResult struct {
	User *user.User
	// RememberToken is set when the request asked for one.
	RememberToken string
	// ViaToken reports that the ticket was a remember-me token rather than
	// a password.
	ViaToken bool
}

// LoginMetrics carries metric IDs used by the login flow.
type LoginMetrics struct {
	LoginSuccess     int
	LoginFailure     int
	LoginRateLimited int
	SessionCreated   int
	LoginLatency     int
}

// LoginErrors carries host-level sentinel errors used by the login flow.
type LoginErrors struct {
	NotReady      error
	InvalidTicket error
	RateLimited   error
}

// LoginDeps captures ticket login dependencies.
type LoginDeps struct {
	SessionTTL time.Duration
	Now        func() time.Time

	CheckAccess   func(domain string) error
	CheckRate     func(ctx context.Context, username, domain string) error
	IncrementRate func(ctx context.Context, username, domain string) error
	ResetRate     func(ctx context.Context, username, domain string) error

	ValidatePassword  func(ctx context.Context, username, plain string) (*user.User, error)
	VerifyRemember    func(token string) (*RememberClaims, error)
	GetUserByUsername func(ctx context.Context, username string) (*user.User, error)
	BindSession       func(ctx context.Context, uid int64, sessionID string) (*user.User, error)
	SaveRecord        func(ctx context.Context, rec *session.Record) error
	IssueRemember     func(uid, username, sessionID string) (string, error)

	MetricInc     func(int)
	MetricObserve func(int, time.Duration)
	EmitAudit     func(context.Context, AuditRecord)
	Warn          func(string, ...any)

	Metrics   LoginMetrics
	Errors    LoginErrors
	AuditName string
}

// RunLogin authenticates a ticket login and binds the WAMP session to the
// user. The ticket is tried as password first and then as a remember-me
// token issued to the same username.
func RunLogin(ctx context.Context, req LoginRequest, deps LoginDeps) (*LoginResult, error) {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.MetricInc == nil {
		deps.MetricInc = noMetric
	}
	if deps.MetricObserve == nil {
		deps.MetricObserve = func(int, time.Duration) {}
	}
	if deps.EmitAudit == nil {
		deps.EmitAudit = noAudit
	}
	if deps.Warn == nil {
		deps.Warn = noWarn
	}
	if deps.ValidatePassword == nil || deps.BindSession == nil {
		return nil, deps.Errors.NotReady
	}

	start := deps.Now()
	username := strings.TrimSpace(req.AuthID)
	fail := func(err error) (*LoginResult, error) {
		deps.EmitAudit(ctx, AuditRecord{
			Event:     deps.AuditName,
			Username:  username,
			SessionID: req.SessionID,
			Domain:    req.Domain,
			Err:       err,
		})
		return nil, err
	}

	if deps.CheckAccess != nil {
		if err := deps.CheckAccess(req.Domain); err != nil {
			deps.MetricInc(deps.Metrics.LoginFailure)
			return fail(err)
		}
	}

	if deps.CheckRate != nil {
		if err := deps.CheckRate(ctx, username, req.Domain); err != nil {
			if deps.Errors.RateLimited != nil && errors.Is(err, deps.Errors.RateLimited) {
				deps.MetricInc(deps.Metrics.LoginRateLimited)
			}
			return fail(err)
		}
	}

	u, err := deps.ValidatePassword(ctx, username, req.Ticket)
	if err != nil {
		return fail(err)
	}

	viaToken := false
	if u == nil {
		u, err = loginWithToken(ctx, username, req.Ticket, deps)
		if err != nil {
			return fail(err)
		}
		viaToken = u != nil
	}

	if u == nil {
		if deps.IncrementRate != nil {
			if err := deps.IncrementRate(ctx, username, req.Domain); err != nil && !errors.Is(err, deps.Errors.RateLimited) {
				deps.Warn("login rate counter update failed: %v", err)
			}
		}
		deps.MetricInc(deps.Metrics.LoginFailure)
		return fail(deps.Errors.InvalidTicket)
	}

	if req.SessionID != "" {
		bound, err := deps.BindSession(ctx, u.UID, req.SessionID)
		if err != nil {
			return fail(err)
		}
		if bound != nil {
			u = bound
		}
		if deps.SaveRecord != nil {
			method := "ticket"
			if viaToken {
				method = "remember"
			}
			if err := deps.SaveRecord(ctx, newRecord(u, req.SessionID, method, deps.Now(), deps.SessionTTL)); err != nil {
				return fail(err)
			}
			deps.MetricInc(deps.Metrics.SessionCreated)
		}
	}

	if deps.ResetRate != nil {
		if err := deps.ResetRate(ctx, username, req.Domain); err != nil {
			deps.Warn("login rate counter reset failed: %v", err)
		}
	}

	res := &LoginResult{User: u, ViaToken: viaToken}
	if req.Remember && deps.IssueRemember != nil {
		token, err := deps.IssueRemember(u.UIDString(), u.Username, req.SessionID)
		if err != nil {
			deps.Warn("remember-me token not issued: %v", err)
		} else {
			res.RememberToken = token
		}
	}

	deps.MetricInc(deps.Metrics.LoginSuccess)
	deps.MetricObserve(deps.Metrics.LoginLatency, deps.Now().Sub(start))
	deps.EmitAudit(ctx, AuditRecord{
		Event:     deps.AuditName,
		Username:  u.Username,
		UserID:    u.UIDString(),
		SessionID: req.SessionID,
		Domain:    req.Domain,
		Success:   true,
	})
	return res, nil
}

func loginWithToken(ctx context.Context, username, ticket string, deps LoginDeps) (*user.User, error) {
	if deps.VerifyRemember == nil || deps.GetUserByUsername == nil || ticket == "" {
		return nil, nil
	}
	claims, err := deps.VerifyRemember(ticket)
	if err != nil || claims == nil {
		return nil, nil
	}
	if !strings.EqualFold(claims.Username, username) {
		return nil, nil
	}
	u, err := deps.GetUserByUsername(ctx, claims.Username)
	if err != nil || u == nil {
		return nil, err
	}
	if u.UIDString() != claims.UID {
		return nil, nil
	}
	return u, nil
}
