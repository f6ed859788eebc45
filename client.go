package studio

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/liestudio/studio/cookiejar"
	"github.com/liestudio/studio/logstore"
	"github.com/liestudio/studio/route"
	"github.com/liestudio/studio/session"
	"github.com/liestudio/studio/validate"
	"github.com/liestudio/studio/wamp"
)

// Client is the dashboard side of a LIEStudio session. It owns the
// transport, the session store and the view router.
//
// All methods are safe for concurrent use. At most one Login or Resume runs
// at a time.
type Client struct {
	config  Config
	dialer  *wamp.Dialer
	store   *session.Store
	router  *route.Router
	jar     cookiejar.Jar
	log     zerolog.Logger
	metrics *Metrics
	audit   *AuditDispatcher
	now     func() time.Time

	state   atomic.Int32
	pending atomic.Bool
	closed  atomic.Bool

	mu     sync.Mutex
	conn   *wamp.Client
	status string
}

// Close ends the transport and stops the audit dispatcher.
func (c *Client) Close(ctx context.Context) error {
	if c == nil || !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := c.dropConn(ctx)
	if c.audit != nil {
		c.audit.Close()
	}
	return err
}

// Status returns the message the login view shows.
func (c *Client) Status() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// State returns the login flow state.
func (c *Client) State() LoginState {
	return LoginState(c.state.Load())
}

// Busy reports whether a login is pending or a call is outstanding.
func (c *Client) Busy() bool {
	if c.pending.Load() {
		return true
	}
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	return conn != nil && conn.Active()
}

// Session returns a snapshot of the session store.
func (c *Client) Session() Session {
	return c.store.Snapshot()
}

// Store returns the shared session store.
func (c *Client) Store() *session.Store { return c.store }

// Router returns the view router.
func (c *Client) Router() *route.Router { return c.router }

// MetricsSnapshot returns the client's counters.
func (c *Client) MetricsSnapshot() MetricsSnapshot {
	return c.metrics.Snapshot()
}

// AuditDropped reports audit events lost to a full buffer.
func (c *Client) AuditDropped() uint64 {
	if c == nil || c.audit == nil {
		return 0
	}
	return c.audit.Dropped()
}

// RememberToken returns the stored remember-me token, for handing to HTTP
// views guarded by the same token.
func (c *Client) RememberToken() (string, error) {
	if c.jar == nil || !c.config.Remember.Enabled {
		return "", ErrNotRemembered
	}
	cookie, err := c.jar.Get(c.config.Remember.CookieName)
	if err != nil || cookie.Value == "" {
		return "", ErrNotRemembered
	}
	return cookie.Value, nil
}

// Login runs the login flow for cred. Input is validated before any network
// traffic. On success the session store holds the user's identity, the
// router moved to the home view and the status greets the user.
func (c *Client) Login(ctx context.Context, cred Credential) (*Identity, error) {
	if c.closed.Load() {
		return nil, ErrClientClosed
	}
	if err := validate.Credentials(cred.Username, cred.Password); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if !c.pending.CompareAndSwap(false, true) {
		c.metrics.Inc(MetricLoginPending)
		return nil, ErrLoginPending
	}
	defer c.pending.Store(false)
	if c.loggedInOnLiveConn() {
		return nil, ErrAlreadyLoggedIn
	}

	start := c.now()
	username := strings.TrimSpace(cred.Username)

	c.setState(StateAwaitingConnection)
	conn, err := c.reconnect(ctx)
	if err != nil {
		return nil, c.loginFailed(ctx, username, fmt.Errorf("%w: %w", ErrTransport, err))
	}

	c.setState(StateAwaitingLoginReply)
	details := wamp.Dict{
		"authmethod": "ticket",
		"ticket":     cred.Password,
		"session":    uint64(conn.ID()),
	}
	if cred.Remember && c.config.Remember.Enabled {
		details["remember"] = true
	}
	if domain := domainFromContext(ctx); domain != "" {
		details["domain"] = domain
	}

	res, err := c.call(ctx, conn, c.config.Procedures.Login, wamp.List{string(c.config.Realm), username, details})
	if err != nil {
		return nil, c.loginFailed(ctx, username, err)
	}
	if !res.Truthy() {
		return nil, c.loginFailed(ctx, username, ErrLoginRejected)
	}

	reply, _ := wamp.AsDict(res.First())
	extra, ok := wamp.AsDict(reply["extra"])
	if !ok {
		extra = reply
	}
	id := identityFrom(extra, conn.ID())
	if id.Username == "" {
		id.Username = username
	}
	if err := c.store.Login(id); err != nil {
		return nil, c.loginFailed(ctx, username, fmt.Errorf("%w: %v", ErrMalformedReply, err))
	}

	if token := extra.String("token"); token != "" && cred.Remember {
		c.rememberToken(token)
	}

	c.metrics.Inc(MetricLoginSuccess)
	c.metrics.Observe(MetricLoginLatency, c.now().Sub(start))
	c.emitAudit(ctx, AuditLogin, true, id.Username, id.UserID, id.SessionID, nil)
	c.loggedIn(id.Username)
	return &id, nil
}

// Resume logs in silently with the remember-me token from the cookie jar.
// A token the server rejects is deleted and ErrNotRemembered returned.
func (c *Client) Resume(ctx context.Context) (*Identity, error) {
	if c.closed.Load() {
		return nil, ErrClientClosed
	}
	if c.jar == nil || !c.config.Remember.Enabled {
		return nil, ErrNotRemembered
	}
	cookie, err := c.jar.Get(c.config.Remember.CookieName)
	if err != nil || cookie.Value == "" {
		return nil, ErrNotRemembered
	}
	if !c.pending.CompareAndSwap(false, true) {
		c.metrics.Inc(MetricLoginPending)
		return nil, ErrLoginPending
	}
	defer c.pending.Store(false)
	if c.loggedInOnLiveConn() {
		return nil, ErrAlreadyLoggedIn
	}

	c.setState(StateAwaitingConnection)
	conn, err := c.reconnect(ctx)
	if err != nil {
		c.setState(StateFailed)
		c.setStatus(StatusUnreachable)
		return nil, fmt.Errorf("%w: %w", ErrTransport, err)
	}

	c.setState(StateAwaitingLoginReply)
	res, err := c.call(ctx, conn, c.config.Procedures.SSO, wamp.List{cookie.Value})
	var werr *wamp.Error
	switch {
	case errors.As(err, &werr):
		return nil, c.forget(ctx, fmt.Errorf("%w: %w", ErrNotRemembered, werr))
	case err != nil:
		c.setState(StateFailed)
		c.setStatus(StatusUnreachable)
		return nil, fmt.Errorf("%w: %w", ErrTransport, err)
	case !res.Truthy():
		return nil, c.forget(ctx, ErrNotRemembered)
	}

	reply, _ := wamp.AsDict(res.First())
	id := identityFrom(reply, conn.ID())
	if err := c.store.Login(id); err != nil {
		return nil, c.forget(ctx, fmt.Errorf("%w: %v", ErrMalformedReply, err))
	}

	c.metrics.Inc(MetricResumeSuccess)
	c.emitAudit(ctx, AuditResume, true, id.Username, id.UserID, id.SessionID, nil)
	c.loggedIn(id.Username)
	return &id, nil
}

// Logout ends the user's session on the server. On a truthy reply the store
// is cleared, the remember-me cookie deleted and the router sent to the
// login view; the server's message is returned. On error the session is
// left untouched.
func (c *Client) Logout(ctx context.Context) (string, error) {
	conn := c.currentConn()
	snap := c.store.Snapshot()
	if !snap.IsLoggedIn {
		return "", ErrNotLoggedIn
	}
	if conn == nil {
		return "", fmt.Errorf("%w: %w", ErrTransport, wamp.ErrClosed)
	}

	res, err := c.call(ctx, conn, c.config.Procedures.Logout, wamp.List{snap.SessionToken})
	if err != nil {
		c.emitAudit(ctx, AuditLogout, false, snap.Username, snap.UserID, snap.SessionToken, err)
		var werr *wamp.Error
		if errors.As(err, &werr) {
			return "", fmt.Errorf("%w: %w", ErrLogoutRejected, werr)
		}
		return "", fmt.Errorf("%w: %w", ErrTransport, err)
	}
	if !res.Truthy() {
		c.emitAudit(ctx, AuditLogout, false, snap.Username, snap.UserID, snap.SessionToken, ErrLogoutRejected)
		return "", ErrLogoutRejected
	}

	message, _ := wamp.AsString(res.First())
	c.store.Clear()
	c.forgetToken()
	c.router.Login()
	c.setState(StateIdle)
	c.setStatus(message)
	c.metrics.Inc(MetricLogout)
	c.emitAudit(ctx, AuditLogout, true, snap.Username, snap.UserID, snap.SessionToken, nil)

	if err := c.dropConn(ctx); err != nil {
		c.log.Debug().Err(err).Msg("closing transport after logout")
	}
	return message, nil
}

// RetrievePassword asks the server to mail a new password to email. It
// reports whether a mail was sent.
func (c *Client) RetrievePassword(ctx context.Context, email string) (bool, error) {
	if err := validate.RequiredEmail(email); err != nil {
		return false, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	email = strings.TrimSpace(email)

	conn, err := c.ensureConn(ctx)
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrTransport, err)
	}
	res, err := c.call(ctx, conn, c.config.Procedures.Retrieve, wamp.List{email})
	c.metrics.Inc(MetricPasswordRetrieve)
	if err != nil {
		c.emitAudit(ctx, AuditPasswordRetrieve, false, "", "", "", err)
		return false, err
	}
	c.emitAudit(ctx, AuditPasswordRetrieve, res.Truthy(), "", "", "", nil)
	return res.Truthy(), nil
}

// Log sends one log event for the logged-in user and returns its id.
func (c *Client) Log(ctx context.Context, level, format string, fields map[string]any) (string, error) {
	snap := c.store.Snapshot()
	if !snap.IsLoggedIn {
		return "", ErrNotLoggedIn
	}
	event := wamp.Dict{
		"log_level":  logstore.NormalizeLevel(level),
		"log_format": format,
		"time":       c.now().UTC().Format(time.RFC3339Nano),
	}
	for k, v := range fields {
		if _, reserved := event[k]; !reserved {
			event[k] = v
		}
	}

	res, err := c.Call(ctx, c.config.Procedures.Log, wamp.List{event}, nil)
	if err != nil {
		return "", err
	}
	id, _ := wamp.AsString(res.First())
	return id, nil
}

// Logs fetches the stored log events of the logged-in user, oldest first.
func (c *Client) Logs(ctx context.Context) ([]LogEntry, error) {
	snap := c.store.Snapshot()
	if !snap.IsLoggedIn {
		return nil, ErrNotLoggedIn
	}
	res, err := c.Call(ctx, c.config.Procedures.LogGet, wamp.List{snap.Username}, nil)
	if err != nil {
		return nil, err
	}
	list, ok := wamp.AsList(res.First())
	if !ok {
		if res.First() == nil {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: log list is %T", ErrMalformedReply, res.First())
	}

	out := make([]LogEntry, 0, len(list))
	for _, item := range list {
		d, ok := wamp.AsDict(item)
		if !ok {
			return nil, fmt.Errorf("%w: log entry is %T", ErrMalformedReply, item)
		}
		out = append(out, logstore.FromMap(d))
	}
	return out, nil
}

// Call invokes procedure on the current transport. It needs a logged-in
// session.
func (c *Client) Call(ctx context.Context, procedure wamp.URI, args wamp.List, kwargs wamp.Dict) (*wamp.CallResult, error) {
	conn := c.currentConn()
	if !c.store.IsLoggedIn() {
		return nil, ErrNotLoggedIn
	}
	if conn == nil {
		return nil, fmt.Errorf("%w: %w", ErrTransport, wamp.ErrClosed)
	}
	return c.callKw(ctx, conn, procedure, args, kwargs)
}

func (c *Client) call(ctx context.Context, conn *wamp.Client, procedure wamp.URI, args wamp.List) (*wamp.CallResult, error) {
	return c.callKw(ctx, conn, procedure, args, nil)
}

func (c *Client) callKw(ctx context.Context, conn *wamp.Client, procedure wamp.URI, args wamp.List, kwargs wamp.Dict) (*wamp.CallResult, error) {
	ctx, cancel := context.WithTimeout(ctx, c.config.CallTimeout)
	defer cancel()

	start := c.now()
	res, err := conn.Call(ctx, procedure, args, kwargs)
	c.metrics.Observe(MetricCallLatency, c.now().Sub(start))
	if err != nil {
		c.log.Debug().Err(err).Str("procedure", string(procedure)).Msg("call failed")
	}
	return res, err
}

// loginFailed records a failed login and returns the error to hand back.
// Errors already wrapping ErrTransport happened before the call was sent.
func (c *Client) loginFailed(ctx context.Context, username string, err error) error {
	var werr *wamp.Error
	switch {
	case errors.Is(err, ErrTransport):
		c.setStatus(StatusUnreachable)
		c.metrics.Inc(MetricLoginTransportError)
	case errors.Is(err, ErrLoginRejected):
		c.setStatus(StatusWrongPassword)
		c.metrics.Inc(MetricLoginFailure)
	case errors.As(err, &werr):
		c.setStatus(StatusWrongPassword)
		c.metrics.Inc(MetricLoginFailure)
		err = fmt.Errorf("%w: %w", ErrLoginRejected, werr)
	case errors.Is(err, ErrMalformedReply):
		c.setStatus(StatusUnreachable)
		c.metrics.Inc(MetricLoginFailure)
	default:
		c.setStatus(StatusUnreachable)
		c.metrics.Inc(MetricLoginTransportError)
		err = fmt.Errorf("%w: %w", ErrTransport, err)
	}

	c.setState(StateFailed)
	c.emitAudit(ctx, AuditLogin, false, username, "", "", err)
	c.log.Info().Err(err).Str("username", username).Msg("login failed")
	if dropErr := c.dropConn(ctx); dropErr != nil {
		c.log.Debug().Err(dropErr).Msg("closing transport after failed login")
	}
	return err
}

// forget handles a rejected remember-me token.
func (c *Client) forget(ctx context.Context, err error) error {
	c.forgetToken()
	c.setState(StateIdle)
	c.metrics.Inc(MetricResumeFailure)
	c.emitAudit(ctx, AuditResume, false, "", "", "", err)
	if dropErr := c.dropConn(ctx); dropErr != nil {
		c.log.Debug().Err(dropErr).Msg("closing transport after rejected token")
	}
	return err
}

func (c *Client) loggedIn(username string) {
	c.setState(StateLoggedIn)
	c.setStatus(StatusWelcome + username)
	if _, err := c.router.Home(); err != nil {
		c.log.Warn().Err(err).Msg("home view not reachable after login")
	}
}

func (c *Client) rememberToken(token string) {
	if c.jar == nil || !c.config.Remember.Enabled {
		return
	}
	err := c.jar.Set(cookiejar.Cookie{
		Name:    c.config.Remember.CookieName,
		Value:   token,
		Expires: c.now().Add(c.config.Remember.TTL),
	})
	if err != nil {
		c.log.Warn().Err(err).Msg("remember-me token not stored")
	}
}

func (c *Client) forgetToken() {
	if c.jar == nil {
		return
	}
	if err := c.jar.Delete(c.config.Remember.CookieName); err != nil {
		c.log.Warn().Err(err).Msg("remember-me token not deleted")
	}
}

func (c *Client) setState(s LoginState) {
	c.state.Store(int32(s))
}

func (c *Client) setStatus(msg string) {
	c.mu.Lock()
	c.status = msg
	c.mu.Unlock()
}

// currentConn returns the open transport. A transport that ended under a
// logged-in session takes the session with it.
func (c *Client) currentConn() *wamp.Client {
	c.mu.Lock()
	conn := c.conn
	if conn == nil {
		c.mu.Unlock()
		return nil
	}
	select {
	case <-conn.Done():
		c.conn = nil
		c.mu.Unlock()
		c.sessionLost()
		return nil
	default:
		c.mu.Unlock()
		return conn
	}
}

// loggedInOnLiveConn reports whether the store holds a user whose
// transport is still open.
func (c *Client) loggedInOnLiveConn() bool {
	c.currentConn()
	return c.store.IsLoggedIn()
}

// sessionLost resets the client after the transport of a logged-in
// session went away. The session id belonged to that transport.
func (c *Client) sessionLost() {
	snap := c.store.Snapshot()
	if !snap.IsLoggedIn {
		return
	}
	c.store.Clear()
	c.router.Login()
	c.setState(StateIdle)
	c.setStatus(StatusSessionLost)
	c.metrics.Inc(MetricSessionLost)
	c.emitAudit(context.Background(), AuditLogout, false, snap.Username, snap.UserID, snap.SessionToken, wamp.ErrClosed)
	c.log.Warn().Str("username", snap.Username).Str("session", snap.SessionToken).Msg("transport closed under a logged-in session")
}

// ensureConn returns the open transport or opens one.
func (c *Client) ensureConn(ctx context.Context) (*wamp.Client, error) {
	if conn := c.currentConn(); conn != nil {
		return conn, nil
	}
	return c.reconnect(ctx)
}

// reconnect replaces the current transport with a fresh one. Each login
// attempt joins with a new WAMP session.
func (c *Client) reconnect(ctx context.Context) (*wamp.Client, error) {
	if err := c.dropConn(ctx); err != nil {
		c.log.Debug().Err(err).Msg("closing previous transport")
	}
	conn, err := c.dialer.Open(ctx)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	return conn, nil
}

func (c *Client) dropConn(ctx context.Context) error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	if conn == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, c.config.HandshakeTimeout)
	defer cancel()
	return conn.Close(ctx)
}

// identityFrom reads the user fields of a login or sso reply. The session
// id falls back to the transport's own session.
func identityFrom(d wamp.Dict, sessionID wamp.ID) Identity {
	id := Identity{
		UserID:    scalarString(d["uid"]),
		Username:  scalarString(d["username"]),
		Email:     scalarString(d["email"]),
		SessionID: scalarString(d["session_id"]),
	}
	if id.SessionID == "" {
		id.SessionID = strconv.FormatUint(uint64(sessionID), 10)
	}
	return id
}

func scalarString(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := wamp.AsString(v); ok {
		return s
	}
	if n, ok := wamp.AsInt64(v); ok {
		return strconv.FormatInt(n, 10)
	}
	return fmt.Sprint(v)
}
