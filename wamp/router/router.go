package router

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/liestudio/studio/wamp"
)

// Invocation is what a procedure receives for one CALL.
type Invocation struct {
	Session   wamp.ID
	AuthID    string
	AuthRole  string
	Procedure wamp.URI
	Args      wamp.List
	Kwargs    wamp.Dict
	Transport wamp.Dict
}

// Procedure handles a call. Returning a *wamp.Error sends that error URI to
// the caller; any other error becomes wamp.error.runtime_error.
type Procedure func(ctx context.Context, inv *Invocation) (*wamp.CallResult, error)

// Config configures a Router.
type Config struct {
	Realm          wamp.URI
	Authenticators []Authenticator
	// AllowAnonymous welcomes sessions that offer no supported method with
	// role "anonymous".
	AllowAnonymous bool

	HandshakeTimeout time.Duration
	LongPollTimeout  time.Duration
	Logger           zerolog.Logger
}

// Router hosts one realm.
type Router struct {
	cfg   Config
	log   zerolog.Logger
	auths map[string]Authenticator

	procMu sync.RWMutex
	procs  map[wamp.URI]Procedure

	sessMu   sync.Mutex
	sessions map[wamp.ID]*session

	lp *longPollHub

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New validates cfg and returns a Router.
func New(cfg Config) (*Router, error) {
	if cfg.Realm == "" {
		return nil, errors.New("router: realm required")
	}
	if len(cfg.Authenticators) == 0 && !cfg.AllowAnonymous {
		return nil, errors.New("router: no authenticators and anonymous access disabled")
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	if cfg.LongPollTimeout <= 0 {
		cfg.LongPollTimeout = 25 * time.Second
	}

	auths := make(map[string]Authenticator, len(cfg.Authenticators))
	for _, a := range cfg.Authenticators {
		if _, dup := auths[a.Method()]; dup {
			return nil, fmt.Errorf("router: duplicate authenticator for %q", a.Method())
		}
		auths[a.Method()] = a
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &Router{
		cfg:      cfg,
		log:      cfg.Logger.With().Str("realm", string(cfg.Realm)).Logger(),
		auths:    auths,
		procs:    map[wamp.URI]Procedure{},
		sessions: map[wamp.ID]*session{},
		ctx:      ctx,
		cancel:   cancel,
	}
	r.lp = newLongPollHub(r)
	return r, nil
}

// Register exposes proc under uri.
func (r *Router) Register(uri wamp.URI, proc Procedure) error {
	r.procMu.Lock()
	defer r.procMu.Unlock()
	if _, ok := r.procs[uri]; ok {
		return wamp.NewError(wamp.ErrProcedureExists, string(uri))
	}
	r.procs[uri] = proc
	return nil
}

// Unregister removes uri.
func (r *Router) Unregister(uri wamp.URI) {
	r.procMu.Lock()
	delete(r.procs, uri)
	r.procMu.Unlock()
}

func (r *Router) procedure(uri wamp.URI) (Procedure, bool) {
	r.procMu.RLock()
	defer r.procMu.RUnlock()
	p, ok := r.procs[uri]
	return p, ok
}

// SessionCount returns the number of established sessions.
func (r *Router) SessionCount() int {
	r.sessMu.Lock()
	defer r.sessMu.Unlock()
	return len(r.sessions)
}

// Close ends every session with GOODBYE wamp.close.system_shutdown and
// waits for their goroutines.
func (r *Router) Close() error {
	r.cancel()
	r.lp.closeAll()
	r.wg.Wait()
	return nil
}

// Attach runs the handshake and serves the session on peer until it ends.
// transport describes the connection and is passed to authenticators and
// procedures.
func (r *Router) Attach(ctx context.Context, peer wamp.Peer, transport wamp.Dict) error {
	r.wg.Add(1)
	defer r.wg.Done()
	defer peer.Close()

	ctx, cancel := mergeCancel(ctx, r.ctx)
	defer cancel()

	s, err := r.handshake(ctx, peer, transport)
	if err != nil {
		r.log.Debug().Err(err).Msg("session rejected")
		return err
	}

	r.sessMu.Lock()
	r.sessions[s.id] = s
	r.sessMu.Unlock()
	defer func() {
		r.sessMu.Lock()
		delete(r.sessions, s.id)
		r.sessMu.Unlock()
	}()

	r.log.Info().Uint64("session", uint64(s.id)).Str("authid", s.principal.AuthID).Str("authrole", s.principal.Role).Msg("session joined")
	err = s.serve(ctx)
	r.log.Info().Uint64("session", uint64(s.id)).Msg("session left")
	return err
}

func (r *Router) newSessionID() wamp.ID {
	r.sessMu.Lock()
	defer r.sessMu.Unlock()
	for {
		u := uuid.New()
		id := wamp.ID(binary.BigEndian.Uint64(u[:8]) % uint64(wamp.MaxID))
		id++
		if _, taken := r.sessions[id]; !taken {
			return id
		}
	}
}

func (r *Router) pickAuthenticator(offered any) Authenticator {
	methods, _ := wamp.AsList(offered)
	for _, m := range methods {
		name, _ := wamp.AsString(m)
		if a, ok := r.auths[name]; ok {
			return a
		}
	}
	return nil
}

func (r *Router) handshake(ctx context.Context, peer wamp.Peer, transport wamp.Dict) (*session, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.HandshakeTimeout)
	defer cancel()

	msg, err := receive(ctx, peer)
	if err != nil {
		return nil, err
	}
	hello, ok := msg.(*wamp.Hello)
	if !ok {
		return nil, abort(ctx, peer, wamp.NewError(wamp.ErrProtocolViolation, "expected HELLO, got "+msg.MessageType().String()))
	}
	if hello.Realm != r.cfg.Realm {
		return nil, abort(ctx, peer, wamp.NewError(wamp.ErrNoSuchRealm, string(hello.Realm)))
	}

	authExtra, _ := wamp.AsDict(hello.Details["authextra"])
	req := &AuthRequest{
		Realm:     hello.Realm,
		AuthID:    hello.Details.String("authid"),
		Session:   r.newSessionID(),
		AuthExtra: authExtra,
		Transport: transport,
	}

	var (
		principal *Principal
		method    string
	)
	auth := r.pickAuthenticator(hello.Details["authmethods"])
	switch {
	case auth != nil:
		method = auth.Method()
		principal, err = r.challenge(ctx, peer, auth, req)
		if err != nil {
			return nil, abort(ctx, peer, err)
		}
	case r.cfg.AllowAnonymous:
		method = "anonymous"
		principal = &Principal{AuthID: req.AuthID, Role: "anonymous", Provider: "static"}
		if principal.AuthID == "" {
			principal.AuthID = fmt.Sprintf("anonymous-%d", req.Session)
		}
	default:
		return nil, abort(ctx, peer, wamp.NewError(wamp.ErrNoAuthMethod, "no acceptable authmethod"))
	}

	details := wamp.Dict{
		"realm":        string(r.cfg.Realm),
		"authid":       principal.AuthID,
		"authrole":     principal.Role,
		"authmethod":   method,
		"authprovider": principal.Provider,
		"roles":        wamp.Dict{"dealer": wamp.Dict{"features": wamp.Dict{}}},
	}
	if len(principal.Extra) > 0 {
		details["authextra"] = principal.Extra
	}
	if err := peer.Send(ctx, &wamp.Welcome{ID: req.Session, Details: details}); err != nil {
		return nil, err
	}

	return &session{
		router:    r,
		peer:      peer,
		id:        req.Session,
		principal: principal,
		transport: transport,
	}, nil
}

func (r *Router) challenge(ctx context.Context, peer wamp.Peer, auth Authenticator, req *AuthRequest) (*Principal, error) {
	extra, err := auth.Challenge(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := peer.Send(ctx, &wamp.Challenge{AuthMethod: auth.Method(), Extra: extra}); err != nil {
		return nil, err
	}

	msg, err := receive(ctx, peer)
	if err != nil {
		return nil, err
	}
	answer, ok := msg.(*wamp.Authenticate)
	if !ok {
		return nil, wamp.NewError(wamp.ErrProtocolViolation, "expected AUTHENTICATE, got "+msg.MessageType().String())
	}
	principal, err := auth.Verify(ctx, req, extra, answer)
	if err != nil {
		return nil, err
	}
	if principal == nil {
		return nil, errNoPrincipal
	}
	if principal.AuthID == "" {
		principal.AuthID = req.AuthID
	}
	if principal.Provider == "" {
		principal.Provider = "dynamic"
	}
	return principal, nil
}

// abort rejects the joining session. A client that ABORTs by itself is
// reported with its own reason.
func abort(ctx context.Context, peer wamp.Peer, err error) error {
	var werr *wamp.Error
	if !errors.As(err, &werr) {
		var clientAbort *clientAborted
		if errors.As(err, &clientAbort) {
			return err
		}
		werr = wamp.NewError(wamp.ErrAuthFailed, err.Error())
	}
	details := wamp.Dict{}
	if len(werr.Args) > 0 {
		details["message"] = fmt.Sprint(werr.Args[0])
	}
	_ = peer.Send(ctx, &wamp.Abort{Details: details, Reason: werr.URI})
	return werr
}

type clientAborted struct {
	reason wamp.URI
}

func (e *clientAborted) Error() string { return "router: client aborted: " + string(e.reason) }

func receive(ctx context.Context, peer wamp.Peer) (wamp.Message, error) {
	select {
	case msg, ok := <-peer.Recv():
		if !ok {
			return nil, wamp.ErrClosed
		}
		if a, isAbort := msg.(*wamp.Abort); isAbort {
			return nil, &clientAborted{reason: a.Reason}
		}
		return msg, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// mergeCancel returns a context derived from a that is also cancelled when
// b is done.
func mergeCancel(a, b context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(a)
	stop := context.AfterFunc(b, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}
