package services

import (
	"context"
	"strings"

	studio "github.com/liestudio/studio"
	"github.com/liestudio/studio/internal/flows"
	"github.com/liestudio/studio/logstore"
	"github.com/liestudio/studio/user"
	"github.com/liestudio/studio/validate"
	"github.com/liestudio/studio/wamp"
	"github.com/liestudio/studio/wamp/router"
)

// login authenticates a user on behalf of a connected client:
// [realm, authid, details] -> {realm, role, extra}.
func (s *Services) login(ctx context.Context, inv *router.Invocation) (*wamp.CallResult, error) {
	realm := s.cfg.Realm
	if len(inv.Args) > 0 {
		if r, ok := wamp.AsString(inv.Args[0]); ok && r != "" {
			realm = wamp.URI(r)
		}
	}
	if realm != s.cfg.Realm {
		return nil, wamp.NewError(wamp.ErrNoSuchRealm, string(realm))
	}

	var authid string
	if len(inv.Args) > 1 {
		authid, _ = wamp.AsString(inv.Args[1])
	}
	authid = strings.TrimSpace(authid)
	if authid == "" {
		return nil, wamp.NewError(wamp.ErrInvalidArgument, "authid required")
	}

	details := wamp.Dict{}
	if len(inv.Args) > 2 {
		if d, ok := wamp.AsDict(inv.Args[2]); ok {
			details = d
		}
	}

	method := details.String("authmethod")
	if method == "" {
		method = "ticket"
	}

	switch method {
	case "ticket":
		return s.ticketLogin(ctx, inv, realm, authid, details)
	case "wampcra":
		secret, ok := s.cfg.Principals[authid]
		if !ok {
			return nil, wamp.NewError(ErrInvalidTicket, "could not authenticate session")
		}
		reply := wamp.Dict{
			"realm":  string(realm),
			"role":   secret.Role,
			"secret": secret.Secret,
			"extra":  wamp.Dict{},
		}
		if secret.Salt != "" {
			reply["salt"] = secret.Salt
			reply["iterations"] = secret.Iterations
			reply["keylen"] = secret.KeyLen
		}
		return &wamp.CallResult{Args: wamp.List{reply}}, nil
	}
	return nil, wamp.NewError(ErrApplication, "No such authentication method known: "+method)
}

func (s *Services) ticketLogin(ctx context.Context, inv *router.Invocation, realm wamp.URI, authid string, details wamp.Dict) (*wamp.CallResult, error) {
	ticket := details.String("ticket")
	if ticket == "" {
		return nil, wamp.NewError(ErrInvalidTicket, "could not authenticate session")
	}

	sessionID, err := s.ownSession(inv, details["session"])
	if err != nil {
		return nil, err
	}

	domain := details.String("domain")
	if domain == "" {
		domain = transportHost(inv.Transport)
	}
	domain = user.ResolveDomain(domain)

	remember, _ := wamp.AsBool(details["remember"])

	res, err := s.flows.Login(ctx, flows.LoginRequest{
		AuthID:    authid,
		Ticket:    ticket,
		Domain:    domain,
		SessionID: sessionID,
		Remember:  remember,
	})
	if err != nil {
		s.log.Info().Err(err).Str("authid", authid).Str("domain", domain).Msg("login rejected")
		return nil, translate(err)
	}

	extra := wamp.Dict(res.User.Safe())
	if res.RememberToken != "" {
		extra["token"] = res.RememberToken
	}
	return &wamp.CallResult{Args: wamp.List{wamp.Dict{
		"realm": string(realm),
		"role":  res.User.Role,
		"extra": extra,
	}}}, nil
}

// logout unbinds the user of a session: [session_id] -> message.
func (s *Services) logout(ctx context.Context, inv *router.Invocation) (*wamp.CallResult, error) {
	var arg any
	if len(inv.Args) > 0 {
		arg = inv.Args[0]
	}
	sessionID, err := s.ownSession(inv, arg)
	if err != nil {
		return nil, err
	}

	username, ok, err := s.flows.Logout(ctx, sessionID)
	if err != nil {
		return nil, translate(err)
	}
	if !ok {
		return &wamp.CallResult{Args: wamp.List{"Unknown user, unable to logout"}}, nil
	}
	return &wamp.CallResult{Args: wamp.List{username + " you are now logged out"}}, nil
}

// retrieve mails a new password: [email] -> true | null.
func (s *Services) retrieve(ctx context.Context, inv *router.Invocation) (*wamp.CallResult, error) {
	var email string
	if len(inv.Args) > 0 {
		email, _ = wamp.AsString(inv.Args[0])
	}
	if err := validate.RequiredEmail(email); err != nil {
		return nil, translate(err)
	}

	sent, err := s.flows.Retrieve(ctx, email)
	if err != nil {
		return nil, translate(err)
	}
	if !sent {
		return &wamp.CallResult{Args: wamp.List{nil}}, nil
	}
	return &wamp.CallResult{Args: wamp.List{true}}, nil
}

// sso binds the calling session to the owner of a remember-me token:
// [token] -> safe user.
func (s *Services) sso(ctx context.Context, inv *router.Invocation) (*wamp.CallResult, error) {
	var token string
	if len(inv.Args) > 0 {
		token, _ = wamp.AsString(inv.Args[0])
	}
	if token == "" {
		return nil, wamp.NewError(wamp.ErrInvalidArgument, "token required")
	}

	safe, err := s.flows.SSO(ctx, token, sessionString(inv.Session))
	if err != nil {
		return nil, translate(err)
	}
	return &wamp.CallResult{Args: wamp.List{wamp.Dict(safe)}}, nil
}

// ownSession resolves the session id named by a call, defaulting to the
// caller's. Clients joined with the app ticket may only name their own
// session; service principals act for any.
func (s *Services) ownSession(inv *router.Invocation, arg any) (string, error) {
	own := sessionString(inv.Session)
	id, ok := sessionArg(arg)
	if !ok {
		return own, nil
	}
	if id != own && inv.AuthRole == s.cfg.AppRole {
		s.log.Warn().Str("authid", inv.AuthID).Str("caller", own).Str("session", id).Msg("call names a foreign session")
		return "", wamp.NewError(wamp.ErrNotAuthorized, "session "+id+" does not belong to the caller")
	}
	return id, nil
}

// caller returns the user bound to the invoking session, if any.
func (s *Services) caller(ctx context.Context, inv *router.Invocation) (*user.User, error) {
	return s.deps.Users.Repository().GetBySessionID(ctx, sessionString(inv.Session))
}

// logEvent stores a client log event: [event] -> id.
func (s *Services) logEvent(ctx context.Context, inv *router.Invocation) (*wamp.CallResult, error) {
	if s.deps.Logs == nil {
		return nil, wamp.NewError(ErrApplication, "log store not configured")
	}
	if len(inv.Args) == 0 {
		return nil, wamp.NewError(wamp.ErrInvalidArgument, "event required")
	}
	event, ok := wamp.AsDict(inv.Args[0])
	if !ok {
		return nil, wamp.NewError(wamp.ErrInvalidArgument, "event must be a dictionary")
	}

	owner := inv.AuthID
	u, err := s.caller(ctx, inv)
	if err != nil {
		return nil, err
	}
	if u != nil {
		owner = u.Username
	}

	entry := logstore.FromEvent(event, owner)
	ids, err := s.deps.Logs.Append(ctx, entry)
	if err != nil {
		return nil, translate(err)
	}
	s.deps.Metrics.Inc(studio.MetricLogEventStored)

	s.log.WithLevel(logstore.ZerologLevel(entry.Level)).
		Str("authid", entry.User).
		Str("namespace", entry.Namespace).
		Fields(entry.Fields).
		Msg(entry.Format)

	return &wamp.CallResult{Args: wamp.List{ids[0]}}, nil
}

// logGet lists stored events: [username, limit?] -> [entry...]. Users may
// read their own events; admins and service principals read anyone's.
func (s *Services) logGet(ctx context.Context, inv *router.Invocation) (*wamp.CallResult, error) {
	if s.deps.Logs == nil {
		return nil, wamp.NewError(ErrApplication, "log store not configured")
	}
	var username string
	if len(inv.Args) > 0 {
		username, _ = wamp.AsString(inv.Args[0])
	}
	if username == "" {
		return nil, wamp.NewError(wamp.ErrInvalidArgument, "username required")
	}
	limit := s.cfg.LogLimit
	if len(inv.Args) > 1 {
		if n, ok := wamp.AsInt64(inv.Args[1]); ok && n > 0 && n < limit {
			limit = n
		}
	}

	if inv.AuthRole == s.cfg.AppRole {
		u, err := s.caller(ctx, inv)
		if err != nil {
			return nil, err
		}
		if u == nil || (u.Role != user.RoleAdmin && !strings.EqualFold(u.Username, username)) {
			return nil, wamp.NewError(wamp.ErrNotAuthorized, "not allowed to read events of "+username)
		}
	}

	entries, err := s.deps.Logs.List(ctx, username, limit)
	if err != nil {
		return nil, err
	}
	out := make(wamp.List, 0, len(entries))
	for _, e := range entries {
		out = append(out, wamp.Dict(e.Map()))
	}
	return &wamp.CallResult{Args: wamp.List{out}}, nil
}
