package services

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	studio "github.com/liestudio/studio"
	"github.com/liestudio/studio/internal/rate"
	"github.com/liestudio/studio/logstore"
	"github.com/liestudio/studio/password"
	"github.com/liestudio/studio/remember"
	"github.com/liestudio/studio/session"
	"github.com/liestudio/studio/user"
	"github.com/liestudio/studio/user/memstore"
	"github.com/liestudio/studio/wamp"
	"github.com/liestudio/studio/wamp/router"
)

type mailbox struct {
	mu   sync.Mutex
	sent []string
}

func (m *mailbox) Send(_ context.Context, to, _, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, to+"|"+body)
	return nil
}

type fixture struct {
	svc      *Services
	users    *user.Manager
	sessions *session.Registry
	limiter  *rate.Limiter
	remember *remember.Manager
	logs     *logstore.Store
	metrics  *studio.Metrics
	mail     *mailbox
	mr       *miniredis.Miniredis
}

func newFixture(t *testing.T, mutate func(*Config, *user.Config)) *fixture {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	repo, err := memstore.New()
	require.NoError(t, err)
	hasher, err := password.NewArgon2(password.Config{
		Memory:      8 * 1024,
		Time:        1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   16,
		MinLength:   4,
	})
	require.NoError(t, err)

	cfg := DefaultConfig()
	cfg.AppTicket = "app-ticket"
	cfg.Principals = map[string]router.CRASecret{
		"backend": {Secret: "backend-secret", Role: "service"},
	}
	ucfg := user.DefaultConfig()
	ucfg.AdminPassword = "admin-pw"
	if mutate != nil {
		mutate(&cfg, &ucfg)
	}

	mail := &mailbox{}
	users, err := user.NewManager(repo, hasher, mail, ucfg, zerolog.Nop())
	require.NoError(t, err)
	_, err = users.Bootstrap(context.Background())
	require.NoError(t, err)
	_, err = users.Create(context.Background(), &user.Create{Username: "alice", Email: "alice@example.com"}, "wonderland")
	require.NoError(t, err)

	rem, err := remember.NewManager(remember.Config{PrivateKey: []byte("0123456789abcdef0123456789abcdef")})
	require.NoError(t, err)

	rcfg := rate.DefaultConfig()
	rcfg.MaxLoginAttempts = 2

	f := &fixture{
		users:    users,
		sessions: session.NewRegistry(rdb, "test"),
		limiter:  rate.New(rdb, rcfg),
		remember: rem,
		logs:     logstore.New(rdb, logstore.Config{Prefix: "test"}),
		metrics:  studio.NewMetrics(studio.MetricsConfig{Enabled: true}),
		mail:     mail,
		mr:       mr,
	}
	f.svc, err = New(cfg, Deps{
		Users:    users,
		Sessions: f.sessions,
		Limiter:  f.limiter,
		Remember: rem,
		Logs:     f.logs,
		Metrics:  f.metrics,
		Logger:   zerolog.Nop(),
	})
	require.NoError(t, err)
	return f
}

func invocation(session wamp.ID, args ...any) *router.Invocation {
	return &router.Invocation{
		Session:  session,
		AuthID:   "liestudio",
		AuthRole: "app",
		Args:     wamp.List(args),
		Transport: wamp.Dict{
			"http_headers_received": wamp.Dict{"host": "localhost:8080"},
		},
	}
}

func loginArgs(username, ticket string, extra wamp.Dict) []any {
	details := wamp.Dict{"authmethod": "ticket", "ticket": ticket}
	for k, v := range extra {
		details[k] = v
	}
	return []any{"liestudio", username, details}
}

func replyDict(t *testing.T, res *wamp.CallResult) wamp.Dict {
	t.Helper()
	require.NotNil(t, res)
	require.NotEmpty(t, res.Args)
	d, ok := wamp.AsDict(res.Args[0])
	require.True(t, ok, "reply is %T", res.Args[0])
	return d
}

func TestNewRequiresTicket(t *testing.T) {
	_, err := New(DefaultConfig(), Deps{Users: &user.Manager{}})
	require.Error(t, err)
	_, err = New(Config{Realm: "r", AppID: "a", AppTicket: "t"}, Deps{})
	require.Error(t, err)
}

func TestLoginTicketBindsSession(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	res, err := f.svc.login(ctx, invocation(101, loginArgs("alice", "wonderland", wamp.Dict{"session": float64(101)})...))
	require.NoError(t, err)

	reply := replyDict(t, res)
	assert.Equal(t, "liestudio", reply["realm"])
	assert.Equal(t, user.RoleDefault, reply["role"])
	extra, ok := wamp.AsDict(reply["extra"])
	require.True(t, ok)
	assert.Equal(t, "alice", extra["username"])
	assert.Equal(t, "101", extra["session_id"])
	assert.Equal(t, "alice@example.com", extra["email"])
	assert.NotContains(t, extra, "token")

	rec, err := f.sessions.Get(ctx, "101")
	require.NoError(t, err)
	assert.Equal(t, "alice", rec.Username)
	assert.Equal(t, "ticket", rec.AuthMethod)

	assert.Equal(t, uint64(1), f.metrics.Value(studio.MetricLoginSuccess))
	assert.Equal(t, uint64(1), f.metrics.Value(studio.MetricSessionCreated))
}

func TestLoginWithRememberIssuesToken(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	res, err := f.svc.login(ctx, invocation(7, loginArgs("alice", "wonderland", wamp.Dict{"remember": true})...))
	require.NoError(t, err)
	extra, _ := wamp.AsDict(replyDict(t, res)["extra"])
	token, _ := wamp.AsString(extra["token"])
	require.NotEmpty(t, token)

	claims, err := f.remember.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Username)
	assert.Equal(t, "7", claims.SID)

	// The token is accepted as ticket on a later login.
	res, err = f.svc.login(ctx, invocation(8, loginArgs("alice", token, nil)...))
	require.NoError(t, err)
	extra, _ = wamp.AsDict(replyDict(t, res)["extra"])
	assert.Equal(t, "8", extra["session_id"])
}

func TestLoginWrongPassword(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.svc.login(ctx, invocation(1, loginArgs("alice", "mirror", nil)...))
	require.Error(t, err)
	assert.True(t, wamp.IsError(err, ErrInvalidTicket), "got %v", err)
	assert.Equal(t, uint64(1), f.metrics.Value(studio.MetricLoginFailure))

	_, err = f.svc.login(ctx, invocation(1, loginArgs("alice", "mirror", nil)...))
	require.Error(t, err)

	_, err = f.svc.login(ctx, invocation(1, loginArgs("alice", "wonderland", nil)...))
	require.Error(t, err)
	assert.True(t, wamp.IsError(err, ErrRateLimited), "got %v", err)
	assert.Equal(t, uint64(1), f.metrics.Value(studio.MetricLoginRateLimited))
}

func TestLoginArgumentErrors(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.svc.login(ctx, invocation(1, "liestudio", "", wamp.Dict{}))
	assert.True(t, wamp.IsError(err, wamp.ErrInvalidArgument), "got %v", err)

	_, err = f.svc.login(ctx, invocation(1, "other.realm", "alice", wamp.Dict{}))
	assert.True(t, wamp.IsError(err, wamp.ErrNoSuchRealm), "got %v", err)

	_, err = f.svc.login(ctx, invocation(1, "liestudio", "alice", wamp.Dict{"authmethod": "cryptosign"}))
	require.Error(t, err)
	assert.True(t, wamp.IsError(err, ErrApplication))
	assert.Contains(t, err.Error(), "No such authentication method known: cryptosign")
}

func TestLoginWampCRAReturnsSecret(t *testing.T) {
	f := newFixture(t, nil)
	res, err := f.svc.login(context.Background(), invocation(1, "liestudio", "backend", wamp.Dict{"authmethod": "wampcra"}))
	require.NoError(t, err)
	reply := replyDict(t, res)
	assert.Equal(t, "backend-secret", reply["secret"])
	assert.Equal(t, "service", reply["role"])

	_, err = f.svc.login(context.Background(), invocation(1, "liestudio", "nobody", wamp.Dict{"authmethod": "wampcra"}))
	assert.True(t, wamp.IsError(err, ErrInvalidTicket))
}

func TestLoginDomainRules(t *testing.T) {
	f := newFixture(t, func(_ *Config, u *user.Config) {
		u.DomainBlacklist = []string{"*.blocked.example"}
	})
	ctx := context.Background()

	_, err := f.svc.login(ctx, invocation(1, loginArgs("alice", "wonderland", wamp.Dict{"domain": "https://app.blocked.example:443/x"})...))
	require.Error(t, err)
	assert.True(t, wamp.IsError(err, ErrApplication), "got %v", err)

	local := newFixture(t, func(_ *Config, u *user.Config) { u.OnlyLocalhost = true })
	_, err = local.svc.login(ctx, invocation(1, loginArgs("alice", "wonderland", wamp.Dict{"domain": "example.com"})...))
	assert.True(t, wamp.IsError(err, ErrApplication), "got %v", err)

	// The Host header of the transport is used when details carry no domain.
	_, err = local.svc.login(ctx, invocation(1, loginArgs("alice", "wonderland", nil)...))
	require.NoError(t, err)
}

func TestLogout(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.svc.login(ctx, invocation(55, loginArgs("alice", "wonderland", nil)...))
	require.NoError(t, err)

	res, err := f.svc.logout(ctx, invocation(55, float64(55)))
	require.NoError(t, err)
	assert.Equal(t, "alice you are now logged out", res.Args[0])

	_, err = f.sessions.Get(ctx, "55")
	assert.ErrorIs(t, err, session.ErrRecordNotFound)

	res, err = f.svc.logout(ctx, invocation(55, "55"))
	require.NoError(t, err)
	assert.Equal(t, "Unknown user, unable to logout", res.Args[0])
	assert.True(t, res.Truthy())
}

func TestForeignSessionIsRefused(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.svc.login(ctx, invocation(55, loginArgs("alice", "wonderland", wamp.Dict{"session": float64(55)})...))
	require.NoError(t, err)

	// An app client may not log out someone else's session.
	_, err = f.svc.logout(ctx, invocation(66, float64(55)))
	assert.True(t, wamp.IsError(err, wamp.ErrNotAuthorized), "got %v", err)
	rec, err := f.sessions.Get(ctx, "55")
	require.NoError(t, err)
	assert.Equal(t, "alice", rec.Username)

	// Nor bind a login to it.
	_, err = f.svc.login(ctx, invocation(66, loginArgs("alice", "wonderland", wamp.Dict{"session": "55"})...))
	assert.True(t, wamp.IsError(err, wamp.ErrNotAuthorized), "got %v", err)

	// Service principals act for any session.
	inv := invocation(77, "55")
	inv.AuthRole = "service"
	res, err := f.svc.logout(ctx, inv)
	require.NoError(t, err)
	assert.Equal(t, "alice you are now logged out", res.Args[0])
	_, err = f.sessions.Get(ctx, "55")
	assert.ErrorIs(t, err, session.ErrRecordNotFound)
}

func TestRetrieve(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	res, err := f.svc.retrieve(ctx, invocation(1, "alice@example.com"))
	require.NoError(t, err)
	assert.Equal(t, true, res.Args[0])
	require.Len(t, f.mail.sent, 1)
	assert.True(t, strings.HasPrefix(f.mail.sent[0], "alice@example.com|"))

	_, err = f.svc.login(ctx, invocation(2, loginArgs("alice", "wonderland", nil)...))
	assert.True(t, wamp.IsError(err, ErrInvalidTicket), "old password must stop working")

	res, err = f.svc.retrieve(ctx, invocation(1, "nobody@example.com"))
	require.NoError(t, err)
	assert.False(t, res.Truthy())

	_, err = f.svc.retrieve(ctx, invocation(1, "not-an-email"))
	assert.True(t, wamp.IsError(err, wamp.ErrInvalidArgument), "got %v", err)
}

func TestSSO(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	alice, err := f.users.Repository().GetByUsername(ctx, "alice")
	require.NoError(t, err)
	token, err := f.remember.Issue(alice.UIDString(), "alice", "")
	require.NoError(t, err)

	res, err := f.svc.sso(ctx, invocation(900, token))
	require.NoError(t, err)
	safe := replyDict(t, res)
	assert.Equal(t, "alice", safe["username"])
	assert.Equal(t, "900", safe["session_id"])
	assert.Equal(t, uint64(1), f.metrics.Value(studio.MetricResumeSuccess))

	_, err = f.svc.sso(ctx, invocation(901, token+"x"))
	assert.True(t, wamp.IsError(err, ErrInvalidTicket), "got %v", err)
	assert.Equal(t, uint64(1), f.metrics.Value(studio.MetricResumeFailure))

	_, err = f.svc.sso(ctx, invocation(901))
	assert.True(t, wamp.IsError(err, wamp.ErrInvalidArgument))
}

func TestLoggerLogAndGet(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.svc.login(ctx, invocation(31, loginArgs("alice", "wonderland", nil)...))
	require.NoError(t, err)

	res, err := f.svc.logEvent(ctx, invocation(31, wamp.Dict{
		"log_level":     "warning",
		"log_format":    "dock {name} closed",
		"log_namespace": "lie.docking",
		"name":          "left",
	}))
	require.NoError(t, err)
	id, _ := wamp.AsString(res.Args[0])
	assert.NotEmpty(t, id)

	res, err = f.svc.logGet(ctx, invocation(31, "alice"))
	require.NoError(t, err)
	list, ok := wamp.AsList(res.Args[0])
	require.True(t, ok)
	require.Len(t, list, 1)
	entry, _ := wamp.AsDict(list[0])
	got := logstore.FromMap(entry)
	assert.Equal(t, id, got.ID)
	assert.Equal(t, logstore.LevelWarn, got.Level)
	assert.Equal(t, "alice", got.User)
	assert.Equal(t, "left", got.Fields["name"])

	// Another user's events are off limits for a non-admin session.
	_, err = f.svc.logGet(ctx, invocation(31, "admin"))
	assert.True(t, wamp.IsError(err, wamp.ErrNotAuthorized), "got %v", err)

	// An unbound application session cannot read at all.
	_, err = f.svc.logGet(ctx, invocation(32, "alice"))
	assert.True(t, wamp.IsError(err, wamp.ErrNotAuthorized), "got %v", err)

	// Service principals can.
	inv := invocation(33, "alice")
	inv.AuthRole = "service"
	_, err = f.svc.logGet(ctx, inv)
	require.NoError(t, err)
}

func TestEndToEndOverWebSocket(t *testing.T) {
	f := newFixture(t, nil)

	r, err := router.New(router.Config{
		Realm:            "liestudio",
		Authenticators:   f.svc.Authenticators(),
		HandshakeTimeout: 2 * time.Second,
		Logger:           zerolog.Nop(),
	})
	require.NoError(t, err)
	require.NoError(t, f.svc.Register(r))
	srv := httptest.NewServer(r.Handler())
	t.Cleanup(func() {
		_ = r.Close()
		srv.Close()
	})

	d, err := wamp.NewDialer(wamp.Config{
		Realm:  "liestudio",
		AuthID: "liestudio",
		Auth:   []wamp.ChallengeHandler{wamp.TicketAuth("app-ticket")},
		Transports: []wamp.TransportSpec{
			{Kind: wamp.KindWebSocket, URL: "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"},
		},
		HandshakeTimeout: 2 * time.Second,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, err := d.Open(ctx)
	require.NoError(t, err)
	defer c.Close(ctx)

	res, err := c.Call(ctx, ProcLogin, wamp.List(loginArgs("alice", "wonderland", wamp.Dict{"session": uint64(c.ID())})), nil)
	require.NoError(t, err)
	require.True(t, res.Truthy())
	extra, _ := wamp.AsDict(replyDict(t, res)["extra"])
	assert.Equal(t, sessionString(c.ID()), extra["session_id"])

	// Another client holding the app ticket cannot end alice's session.
	other, err := d.Open(ctx)
	require.NoError(t, err)
	defer other.Close(ctx)
	_, err = other.Call(ctx, ProcLogout, wamp.List{uint64(c.ID())}, nil)
	assert.True(t, wamp.IsError(err, wamp.ErrNotAuthorized), "got %v", err)
	_, err = f.sessions.Get(ctx, sessionString(c.ID()))
	require.NoError(t, err)

	res, err = c.Call(ctx, ProcLogout, wamp.List{uint64(c.ID())}, nil)
	require.NoError(t, err)
	assert.Equal(t, "alice you are now logged out", res.Args[0])

	assert.Equal(t, 2, r.SessionCount())
}
