package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	studio "github.com/liestudio/studio"
	"github.com/liestudio/studio/internal/config"
	"github.com/liestudio/studio/wamp"
)

func devConfig() *config.Server {
	return &config.Server{
		Environment:         "development",
		Realm:               "liestudio",
		AppID:               "liestudio",
		AppTicket:           "app-ticket",
		AppRole:             "app",
		RedisPrefix:         "ls",
		RememberTTL:         time.Hour,
		SessionTTL:          time.Hour,
		AdminUsername:       "admin",
		AdminPassword:       "admin-pw",
		MaxLoginAttempts:    5,
		LoginCooldown:       time.Minute,
		MaxRetrieveAttempts: 3,
		LogLimit:            50,
		MetricsPath:         "/metrics",
		AuditEnabled:        true,
	}
}

func startServer(t *testing.T, cfg *config.Server) (*server, *httptest.Server) {
	t.Helper()

	srv, err := newServer(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)
	ts := httptest.NewServer(srv.handler())
	t.Cleanup(func() {
		ts.Close()
		srv.close()
	})
	return srv, ts
}

func noRedirect(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }

func TestDevServerGeneratesSecrets(t *testing.T) {
	cfg := devConfig()
	cfg.AppTicket = ""
	cfg.AdminPassword = ""
	startServer(t, cfg)

	assert.NotEmpty(t, cfg.AppTicket)
	assert.NotEmpty(t, cfg.AdminPassword)
	assert.GreaterOrEqual(t, len(cfg.RememberKey), 32)
}

func TestProductionServerRequiresSecrets(t *testing.T) {
	cfg := devConfig()
	cfg.Environment = "production"
	_, err := newServer(context.Background(), cfg, zerolog.Nop())
	require.Error(t, err)
}

func TestHealthAndMetrics(t *testing.T) {
	_, ts := startServer(t, devConfig())

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var health map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, "ok", health["status"])

	resp, err = http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/plain")
}

func TestViewsAreGuarded(t *testing.T) {
	_, ts := startServer(t, devConfig())
	client := &http.Client{CheckRedirect: noRedirect}

	resp, err := client.Get(ts.URL + "/views/")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode, "login view is open")

	resp, err = client.Get(ts.URL + "/views/dashboard")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/views", resp.Header.Get("Location"))

	resp, err = client.Get(ts.URL + "/views/nowhere")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRememberedLoginOpensGuardedView(t *testing.T) {
	_, ts := startServer(t, devConfig())

	cfg := studio.DefaultConfig()
	cfg.AppTicket = "app-ticket"
	cfg.Transports = []wamp.TransportSpec{
		{Kind: wamp.KindWebSocket, URL: "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"},
	}
	c, err := studio.New().WithConfig(cfg).Build()
	require.NoError(t, err)
	defer c.Close(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, err = c.Login(ctx, studio.Credential{Username: "admin", Password: "admin-pw", Remember: true})
	require.NoError(t, err)

	cookie, err := c.RememberToken()
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/views/dashboard", nil)
	require.NoError(t, err)
	req.AddCookie(&http.Cookie{Name: "liestudio", Value: cookie})
	resp, err := (&http.Client{CheckRedirect: noRedirect}).Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var view map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&view))
	assert.Equal(t, "dashboard", view["view"])
	assert.Equal(t, "admin", view["username"])
}

type syncBuffer struct {
	mu sync.Mutex
	b  strings.Builder
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.b.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.b.String()
}

func TestOtelLogsServerMetrics(t *testing.T) {
	cfg := devConfig()
	cfg.OtelEnabled = true
	cfg.OtelInterval = 20 * time.Millisecond

	out := &syncBuffer{}
	srv, err := newServer(context.Background(), cfg, zerolog.New(out))
	require.NoError(t, err)
	defer srv.close()

	srv.metrics.Inc(studio.MetricSessionCreated)
	assert.Eventually(t, func() bool {
		return strings.Contains(out.String(), `"liestudio_session_created_total":1`)
	}, 2*time.Second, 10*time.Millisecond)
	assert.Contains(t, out.String(), `"component":"otel"`)
}
