package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	studio "github.com/liestudio/studio"
	"github.com/liestudio/studio/internal/flows"
	"github.com/liestudio/studio/internal/rate"
	"github.com/liestudio/studio/logstore"
	"github.com/liestudio/studio/remember"
	"github.com/liestudio/studio/session"
	"github.com/liestudio/studio/user"
	"github.com/liestudio/studio/validate"
	"github.com/liestudio/studio/wamp"
	"github.com/liestudio/studio/wamp/router"
)

// Procedure URIs.
const (
	ProcLogin    wamp.URI = "liestudio.user.login"
	ProcLogout   wamp.URI = "liestudio.user.logout"
	ProcRetrieve wamp.URI = "liestudio.user.retrieve"
	ProcSSO      wamp.URI = "liestudio.user.sso"
	ProcLog      wamp.URI = "liestudio.logger.log"
	ProcLogGet   wamp.URI = "liestudio.logger.get"
)

// Error URIs returned to callers.
const (
	ErrInvalidTicket wamp.URI = "liestudio.error.invalid_ticket"
	ErrApplication   wamp.URI = "liestudio.error.application"
	ErrRateLimited   wamp.URI = "liestudio.error.rate_limited"
)

var (
	errNotReady     = errors.New("services: dependencies not configured")
	errInvalidLogin = errors.New("could not authenticate session")
	errInvalidToken = errors.New("invalid remember-me token")
)

// Config configures the procedures and the router authenticators.
type Config struct {
	Realm wamp.URI
	// AppID and AppTicket are the shared credentials every client transport
	// presents before a user logs in.
	AppID     string
	AppTicket string
	AppRole   string
	// Principals are service accounts allowed to join with wampcra.
	Principals map[string]router.CRASecret
	SessionTTL time.Duration
	// LogLimit caps the entries returned by liestudio.logger.get.
	LogLimit int64
}

// DefaultConfig returns the procedure defaults. The application ticket has
// no default.
func DefaultConfig() Config {
	return Config{
		Realm:      "liestudio",
		AppID:      "liestudio",
		AppRole:    "app",
		SessionTTL: 24 * time.Hour,
		LogLimit:   200,
	}
}

// Deps are the components the procedures operate on. Users is required;
// every other dependency is optional.
type Deps struct {
	Users    *user.Manager
	Sessions *session.Registry
	Limiter  *rate.Limiter
	Remember *remember.Manager
	Logs     *logstore.Store
	Metrics  *studio.Metrics
	Audit    *studio.AuditDispatcher
	Logger   zerolog.Logger
}

// Services holds the wired procedures.
type Services struct {
	cfg   Config
	deps  Deps
	flows flows.Service
	log   zerolog.Logger
}

// New wires the flows for deps.
func New(cfg Config, deps Deps) (*Services, error) {
	if deps.Users == nil {
		return nil, errNotReady
	}
	if cfg.Realm == "" {
		return nil, errors.New("services: realm required")
	}
	if cfg.AppID == "" || cfg.AppTicket == "" {
		return nil, errors.New("services: application id and ticket required")
	}
	if cfg.AppRole == "" {
		cfg.AppRole = "app"
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 24 * time.Hour
	}
	if cfg.LogLimit <= 0 {
		cfg.LogLimit = 200
	}

	s := &Services{
		cfg:  cfg,
		deps: deps,
		log:  deps.Logger.With().Str("component", "services").Logger(),
	}
	s.flows = flows.New(s.buildDeps())
	return s, nil
}

// Authenticators returns the router authenticators: the static application
// ticket and, when principals are configured, wampcra.
func (s *Services) Authenticators() []router.Authenticator {
	auths := []router.Authenticator{
		router.Ticket(router.StaticTicket(s.cfg.AppID, s.cfg.AppTicket, s.cfg.AppRole)),
	}
	if len(s.cfg.Principals) > 0 {
		auths = append(auths, router.CRA(s.lookupPrincipal))
	}
	return auths
}

// Register exposes every procedure on r.
func (s *Services) Register(r *router.Router) error {
	procs := []struct {
		uri  wamp.URI
		proc router.Procedure
	}{
		{ProcLogin, s.login},
		{ProcLogout, s.logout},
		{ProcRetrieve, s.retrieve},
		{ProcSSO, s.sso},
		{ProcLog, s.logEvent},
		{ProcLogGet, s.logGet},
	}
	for _, p := range procs {
		if err := r.Register(p.uri, p.proc); err != nil {
			return fmt.Errorf("services: register %s: %w", p.uri, err)
		}
	}
	return nil
}

func (s *Services) lookupPrincipal(_ context.Context, req *router.AuthRequest) (*router.CRASecret, error) {
	secret, ok := s.cfg.Principals[req.AuthID]
	if !ok {
		return nil, wamp.NewError(wamp.ErrAuthFailed, "unknown principal")
	}
	return &secret, nil
}

func (s *Services) buildDeps() flows.Deps {
	users := s.deps.Users
	metricInc := func(id int) { s.deps.Metrics.Inc(studio.MetricID(id)) }
	emitAudit := func(ctx context.Context, r flows.AuditRecord) {
		ev := studio.AuditEvent{
			EventType: r.Event,
			Username:  r.Username,
			UserID:    r.UserID,
			SessionID: r.SessionID,
			Domain:    r.Domain,
			Success:   r.Success,
		}
		if r.Err != nil {
			ev.Error = r.Err.Error()
		}
		s.deps.Audit.Emit(ctx, ev)
	}
	warn := func(format string, args ...any) {
		s.log.Warn().Msgf(format, args...)
	}

	var saveRecord func(context.Context, *session.Record) error
	var deleteRecord func(context.Context, string) error
	if s.deps.Sessions != nil {
		saveRecord = s.deps.Sessions.Save
		deleteRecord = s.deps.Sessions.Delete
	}

	var verifyRemember func(string) (*flows.RememberClaims, error)
	var issueRemember func(string, string, string) (string, error)
	if s.deps.Remember != nil {
		verifyRemember = func(token string) (*flows.RememberClaims, error) {
			c, err := s.deps.Remember.Verify(token)
			if err != nil {
				return nil, err
			}
			return &flows.RememberClaims{UID: c.UID, Username: c.Username, SID: c.SID}, nil
		}
		issueRemember = s.deps.Remember.Issue
	}

	var checkRate, incRate, resetRate func(context.Context, string, string) error
	var checkRetrieve func(context.Context, string) error
	if s.deps.Limiter != nil {
		checkRate = s.deps.Limiter.CheckLogin
		incRate = s.deps.Limiter.IncrementLogin
		resetRate = s.deps.Limiter.ResetLogin
		checkRetrieve = s.deps.Limiter.CheckRetrieve
	}

	getByUsername := func(ctx context.Context, username string) (*user.User, error) {
		return users.Repository().GetByUsername(ctx, username)
	}

	return flows.Deps{
		Login: flows.LoginDeps{
			SessionTTL:        s.cfg.SessionTTL,
			CheckAccess:       users.CheckAccess,
			CheckRate:         checkRate,
			IncrementRate:     incRate,
			ResetRate:         resetRate,
			ValidatePassword:  users.ValidateLogin,
			VerifyRemember:    verifyRemember,
			GetUserByUsername: getByUsername,
			BindSession:       users.SetSessionID,
			SaveRecord:        saveRecord,
			IssueRemember:     issueRemember,
			MetricInc:         metricInc,
			MetricObserve: func(id int, d time.Duration) {
				s.deps.Metrics.Observe(studio.MetricID(id), d)
			},
			EmitAudit: emitAudit,
			Warn:      warn,
			Metrics: flows.LoginMetrics{
				LoginSuccess:     int(studio.MetricLoginSuccess),
				LoginFailure:     int(studio.MetricLoginFailure),
				LoginRateLimited: int(studio.MetricLoginRateLimited),
				SessionCreated:   int(studio.MetricSessionCreated),
				LoginLatency:     int(studio.MetricLoginLatency),
			},
			Errors: flows.LoginErrors{
				NotReady:      errNotReady,
				InvalidTicket: errInvalidLogin,
				RateLimited:   rate.ErrRateLimited,
			},
			AuditName: studio.AuditLogin,
		},
		Logout: flows.LogoutDeps{
			Unbind:       users.Logout,
			DeleteRecord: deleteRecord,
			MetricInc:    metricInc,
			EmitAudit:    emitAudit,
			Warn:         warn,
			Metrics: flows.LogoutMetrics{
				Logout:             int(studio.MetricLogout),
				SessionInvalidated: int(studio.MetricSessionInvalidated),
			},
			AuditName: studio.AuditLogout,
		},
		SSO: flows.SSODeps{
			SessionTTL:        s.cfg.SessionTTL,
			VerifyRemember:    verifyRemember,
			GetUserByUsername: getByUsername,
			BindSession:       users.SetSessionID,
			SaveRecord:        saveRecord,
			MetricInc:         metricInc,
			EmitAudit:         emitAudit,
			Metrics: flows.SSOMetrics{
				ResumeSuccess:  int(studio.MetricResumeSuccess),
				ResumeFailure:  int(studio.MetricResumeFailure),
				SessionCreated: int(studio.MetricSessionCreated),
			},
			Errors: flows.SSOErrors{
				NotReady:     errNotReady,
				InvalidToken: errInvalidToken,
			},
			AuditName: studio.AuditSSO,
		},
		Retrieve: flows.RetrieveDeps{
			CheckRate: checkRetrieve,
			Retrieve:  users.RetrievePassword,
			MetricInc: metricInc,
			EmitAudit: emitAudit,
			Metric:    int(studio.MetricPasswordRetrieve),
			AuditName: studio.AuditPasswordRetrieve,
		},
	}
}

// sessionString renders a session id the way user records store it.
func sessionString(id wamp.ID) string {
	return strconv.FormatUint(uint64(id), 10)
}

// sessionArg reads a session id sent as number or string.
func sessionArg(v any) (string, bool) {
	if str, ok := wamp.AsString(v); ok && str != "" {
		return str, true
	}
	if id, ok := wamp.AsID(v); ok && id != 0 {
		return sessionString(id), true
	}
	return "", false
}

func transportHost(transport wamp.Dict) string {
	headers, ok := wamp.AsDict(transport["http_headers_received"])
	if !ok {
		return ""
	}
	return headers.String("host")
}

// translate maps flow errors onto the URIs callers understand.
func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, errInvalidLogin), errors.Is(err, errInvalidToken):
		return wamp.NewError(ErrInvalidTicket, err.Error())
	case errors.Is(err, rate.ErrRateLimited):
		return wamp.NewError(ErrRateLimited, "too many attempts, try again later")
	case errors.Is(err, user.ErrLocalOnly), errors.Is(err, user.ErrDomainDenied):
		return wamp.NewError(ErrApplication, err.Error())
	case errors.Is(err, validate.ErrEmailRequired), errors.Is(err, validate.ErrEmailInvalid),
		errors.Is(err, logstore.ErrNoOwner):
		return wamp.NewError(wamp.ErrInvalidArgument, err.Error())
	}
	return err
}
