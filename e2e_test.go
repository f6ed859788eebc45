package studio_test

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	studio "github.com/liestudio/studio"
	"github.com/liestudio/studio/cookiejar"
	"github.com/liestudio/studio/internal/rate"
	"github.com/liestudio/studio/internal/services"
	"github.com/liestudio/studio/logstore"
	"github.com/liestudio/studio/password"
	"github.com/liestudio/studio/remember"
	"github.com/liestudio/studio/session"
	"github.com/liestudio/studio/user"
	"github.com/liestudio/studio/user/memstore"
	"github.com/liestudio/studio/wamp"
	"github.com/liestudio/studio/wamp/router"
)

type nopMailer struct{}

func (nopMailer) Send(context.Context, string, string, string) error { return nil }

type stack struct {
	url      string
	sessions *session.Registry
	metrics  *studio.Metrics
}

func newStack(t *testing.T) *stack {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	repo, err := memstore.New()
	if err != nil {
		t.Fatalf("memstore: %v", err)
	}
	hasher, err := password.NewArgon2(password.Config{
		Memory:      8 * 1024,
		Time:        1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   16,
		MinLength:   4,
	})
	if err != nil {
		t.Fatalf("argon2: %v", err)
	}

	ucfg := user.DefaultConfig()
	ucfg.AdminPassword = "admin-pw"
	users, err := user.NewManager(repo, hasher, nopMailer{}, ucfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("users: %v", err)
	}
	ctx := context.Background()
	if _, err := users.Bootstrap(ctx); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	if _, err := users.Create(ctx, &user.Create{Username: "alice", Email: "alice@example.com"}, "wonderland"); err != nil {
		t.Fatalf("create alice: %v", err)
	}

	rem, err := remember.NewManager(remember.Config{PrivateKey: []byte("0123456789abcdef0123456789abcdef")})
	if err != nil {
		t.Fatalf("remember: %v", err)
	}
	rcfg := rate.DefaultConfig()
	rcfg.MaxLoginAttempts = 3

	st := &stack{
		sessions: session.NewRegistry(rdb, "e2e"),
		metrics:  studio.NewMetrics(studio.MetricsConfig{Enabled: true}),
	}

	cfg := services.DefaultConfig()
	cfg.AppTicket = "app-ticket"
	svc, err := services.New(cfg, services.Deps{
		Users:    users,
		Sessions: st.sessions,
		Limiter:  rate.New(rdb, rcfg),
		Remember: rem,
		Logs:     logstore.New(rdb, logstore.Config{Prefix: "e2e"}),
		Metrics:  st.metrics,
		Logger:   zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("services: %v", err)
	}

	r, err := router.New(router.Config{
		Realm:            cfg.Realm,
		Authenticators:   svc.Authenticators(),
		HandshakeTimeout: 2 * time.Second,
		Logger:           zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("router: %v", err)
	}
	if err := svc.Register(r); err != nil {
		t.Fatalf("register: %v", err)
	}
	srv := httptest.NewServer(r.Handler())
	t.Cleanup(func() {
		_ = r.Close()
		srv.Close()
	})
	st.url = srv.URL
	return st
}

func (st *stack) client(t *testing.T, jar cookiejar.Jar, transports ...wamp.TransportSpec) *studio.Client {
	t.Helper()

	if len(transports) == 0 {
		transports = []wamp.TransportSpec{
			{Kind: wamp.KindWebSocket, URL: "ws" + strings.TrimPrefix(st.url, "http") + "/ws"},
			{Kind: wamp.KindLongPoll, URL: st.url + "/lp"},
		}
	}
	cfg := studio.DefaultConfig()
	cfg.AppTicket = "app-ticket"
	cfg.Transports = transports
	cfg.HandshakeTimeout = 2 * time.Second
	cfg.CallTimeout = 3 * time.Second

	c, err := studio.New().WithConfig(cfg).WithCookieJar(jar).Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	t.Cleanup(func() { _ = c.Close(context.Background()) })
	return c
}

func e2eContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestEndToEndLoginLogout(t *testing.T) {
	st := newStack(t)
	c := st.client(t, cookiejar.NewMemory())
	ctx := e2eContext(t)

	id, err := c.Login(ctx, studio.Credential{Username: "alice", Password: "wonderland"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if id.Username != "alice" || id.Email != "alice@example.com" {
		t.Fatalf("unexpected identity %+v", id)
	}
	if got := c.Status(); got != "Welcome in alice" {
		t.Fatalf("unexpected status %q", got)
	}

	rec, err := st.sessions.Get(ctx, id.SessionID)
	if err != nil {
		t.Fatalf("session record: %v", err)
	}
	if rec.Username != "alice" || rec.AuthMethod != "ticket" {
		t.Fatalf("unexpected record %+v", rec)
	}

	msg, err := c.Logout(ctx)
	if err != nil {
		t.Fatalf("logout: %v", err)
	}
	if msg != "alice you are now logged out" {
		t.Fatalf("unexpected logout message %q", msg)
	}
	if _, err := st.sessions.Get(ctx, id.SessionID); err == nil {
		t.Fatal("expected session record to be removed")
	}
	if c.Session().IsLoggedIn {
		t.Fatal("expected logged-out session")
	}
}

func TestEndToEndWrongPasswordIsRateLimited(t *testing.T) {
	st := newStack(t)
	c := st.client(t, nil)
	ctx := e2eContext(t)

	for i := 0; i < 3; i++ {
		_, err := c.Login(ctx, studio.Credential{Username: "alice", Password: "nope"})
		if !errors.Is(err, studio.ErrLoginRejected) {
			t.Fatalf("attempt %d: expected ErrLoginRejected, got %v", i, err)
		}
		if got := c.Status(); got != studio.StatusWrongPassword {
			t.Fatalf("attempt %d: unexpected status %q", i, got)
		}
	}

	_, err := c.Login(ctx, studio.Credential{Username: "alice", Password: "wonderland"})
	if !wamp.IsError(err, services.ErrRateLimited) {
		t.Fatalf("expected rate limit after repeated failures, got %v", err)
	}
	if got := st.metrics.Value(studio.MetricLoginRateLimited); got != 1 {
		t.Fatalf("expected 1 rate-limited login, got %d", got)
	}
}

func TestEndToEndRememberResume(t *testing.T) {
	st := newStack(t)
	jar := cookiejar.NewMemory()
	ctx := e2eContext(t)

	first := st.client(t, jar)
	if _, err := first.Login(ctx, studio.Credential{Username: "alice", Password: "wonderland", Remember: true}); err != nil {
		t.Fatalf("login: %v", err)
	}
	if _, err := jar.Get("liestudio"); err != nil {
		t.Fatalf("expected remember cookie: %v", err)
	}
	if err := first.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}

	second := st.client(t, jar)
	id, err := second.Resume(ctx)
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if id.Username != "alice" {
		t.Fatalf("unexpected identity %+v", id)
	}
	if got := second.Router().Current().Path; got != "/app" {
		t.Fatalf("expected home view, got %q", got)
	}
}

func TestEndToEndLongPollOnly(t *testing.T) {
	st := newStack(t)
	c := st.client(t, nil, wamp.TransportSpec{Kind: wamp.KindLongPoll, URL: st.url + "/lp"})
	ctx := e2eContext(t)

	if _, err := c.Login(ctx, studio.Credential{Username: "admin", Password: "admin-pw"}); err != nil {
		t.Fatalf("login over long-poll: %v", err)
	}
	if _, err := c.Log(ctx, "error", "render failed in {view}", map[string]any{"view": "md"}); err != nil {
		t.Fatalf("log: %v", err)
	}
	entries, err := c.Logs(ctx)
	if err != nil {
		t.Fatalf("logs: %v", err)
	}
	if len(entries) != 1 || entries[0].Level != logstore.LevelError || entries[0].User != "admin" {
		t.Fatalf("unexpected entries %+v", entries)
	}
	if entries[0].Fields["view"] != "md" {
		t.Fatalf("expected view field, got %+v", entries[0].Fields)
	}
}

func TestEndToEndRetrievePassword(t *testing.T) {
	st := newStack(t)
	c := st.client(t, nil)
	ctx := e2eContext(t)

	sent, err := c.RetrievePassword(ctx, "alice@example.com")
	if err != nil || !sent {
		t.Fatalf("expected mail to alice, got %v / %v", sent, err)
	}
	sent, err = c.RetrievePassword(ctx, "nobody@example.com")
	if err != nil || sent {
		t.Fatalf("expected no mail, got %v / %v", sent, err)
	}
}
