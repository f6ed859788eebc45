package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/smtp"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	studio "github.com/liestudio/studio"
	"github.com/liestudio/studio/internal"
	"github.com/liestudio/studio/internal/config"
	"github.com/liestudio/studio/internal/rate"
	"github.com/liestudio/studio/internal/services"
	"github.com/liestudio/studio/logstore"
	"github.com/liestudio/studio/metrics/export/prometheus"
	"github.com/liestudio/studio/middleware"
	"github.com/liestudio/studio/password"
	"github.com/liestudio/studio/remember"
	"github.com/liestudio/studio/route"
	"github.com/liestudio/studio/session"
	"github.com/liestudio/studio/user"
	"github.com/liestudio/studio/user/memstore"
	"github.com/liestudio/studio/user/pgstore"
	"github.com/liestudio/studio/wamp"
	"github.com/liestudio/studio/wamp/router"
)

// server is one assembled liestudio-server.
type server struct {
	cfg *config.Server
	log zerolog.Logger

	redis    redis.UniversalClient
	sessions *session.Registry
	remember *remember.Manager
	metrics  *studio.Metrics
	audit    *studio.AuditDispatcher
	table    *route.Table
	router   *router.Router

	closers []func()
}

// newServer wires every component for cfg. Development servers fill in
// missing secrets and fall back to an in-process Redis.
func newServer(ctx context.Context, cfg *config.Server, log zerolog.Logger) (*server, error) {
	s := &server{cfg: cfg, log: log}
	if err := s.init(ctx); err != nil {
		s.close()
		return nil, err
	}
	return s, nil
}

func (s *server) init(ctx context.Context) error {
	cfg := s.cfg
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := s.devSecrets(); err != nil {
		return err
	}

	// Redis
	addr := cfg.RedisAddr
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			return fmt.Errorf("start miniredis: %w", err)
		}
		s.closers = append(s.closers, mr.Close)
		addr = mr.Addr()
		s.log.Warn().Str("addr", addr).Msg("no redis configured, using in-process miniredis")
	}
	s.redis = redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
	s.closers = append(s.closers, func() { _ = s.redis.Close() })
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}

	// Users
	var repo user.Repository
	if cfg.PostgresDSN != "" {
		driver := pgstore.New(cfg.PostgresDSN)
		if err := driver.Initialize(ctx); err != nil {
			return fmt.Errorf("initialize postgres: %w", err)
		}
		s.closers = append(s.closers, driver.Close)
		repo = driver.Users()
	} else {
		store, err := memstore.New()
		if err != nil {
			return err
		}
		repo = store
		s.log.Warn().Msg("no postgres configured, users are kept in memory")
	}

	hasher, err := password.NewArgon2(password.DefaultConfig())
	if err != nil {
		return err
	}
	users, err := user.NewManager(repo, hasher, s.mailer(), user.Config{
		AdminUsername:   cfg.AdminUsername,
		AdminEmail:      cfg.AdminEmail,
		AdminPassword:   cfg.AdminPassword,
		OnlyLocalhost:   cfg.OnlyLocalhost,
		DomainBlacklist: cfg.DomainBlacklist,
	}, s.log.With().Str("component", "users").Logger())
	if err != nil {
		return err
	}
	created, err := users.Bootstrap(ctx)
	if err != nil {
		return err
	}
	if created {
		s.log.Info().Str("username", cfg.AdminUsername).Msg("created admin account")
	}

	// Sessions, remember-me, limits, logs
	s.sessions = session.NewRegistry(s.redis, cfg.RedisPrefix)
	s.remember, err = remember.NewManager(remember.Config{
		TTL:        cfg.RememberTTL,
		PrivateKey: []byte(cfg.RememberKey),
		Secure:     cfg.IsEnvProduction(),
	})
	if err != nil {
		return err
	}
	limiter := rate.New(s.redis, rate.Config{
		Prefix:                 cfg.RedisPrefix,
		EnableDomainThrottle:   true,
		MaxLoginAttempts:       cfg.MaxLoginAttempts,
		LoginCooldownDuration:  cfg.LoginCooldown,
		MaxRetrieveAttempts:    cfg.MaxRetrieveAttempts,
		RetrieveCooldownWindow: time.Hour,
	})
	logs := logstore.New(s.redis, logstore.Config{Prefix: cfg.RedisPrefix})

	s.metrics = studio.NewMetrics(studio.MetricsConfig{Enabled: true, EnableLatencyHistograms: true})
	if cfg.AuditEnabled {
		s.audit = studio.NewAuditDispatcher(studio.AuditConfig{
			Enabled:    true,
			BufferSize: 1024,
			DropIfFull: true,
			Types:      cfg.AuditTypes,
		}, studio.LogSink{Logger: s.log.With().Str("component", "audit").Logger()})
		s.closers = append(s.closers, s.audit.Close)
	}
	if cfg.OtelEnabled {
		if err := s.startOtel(); err != nil {
			return err
		}
	}

	// Procedures and router
	realm := wamp.URI(cfg.Realm)
	svc, err := services.New(services.Config{
		Realm:      realm,
		AppID:      cfg.AppID,
		AppTicket:  cfg.AppTicket,
		AppRole:    cfg.AppRole,
		SessionTTL: cfg.SessionTTL,
		LogLimit:   cfg.LogLimit,
	}, services.Deps{
		Users:    users,
		Sessions: s.sessions,
		Limiter:  limiter,
		Remember: s.remember,
		Logs:     logs,
		Metrics:  s.metrics,
		Audit:    s.audit,
		Logger:   s.log,
	})
	if err != nil {
		return err
	}

	s.router, err = router.New(router.Config{
		Realm:          realm,
		Authenticators: svc.Authenticators(),
		Logger:         s.log.With().Str("component", "router").Logger(),
	})
	if err != nil {
		return err
	}
	s.closers = append(s.closers, func() { _ = s.router.Close() })
	if err := svc.Register(s.router); err != nil {
		return err
	}

	s.table = route.DefaultTable()
	if cfg.RouteTable != "" {
		f, err := os.Open(cfg.RouteTable)
		if err != nil {
			return err
		}
		defer f.Close()
		if s.table, err = route.LoadTable(f); err != nil {
			return err
		}
	}
	return nil
}

// devSecrets generates the application ticket, the remember-me key and the
// admin password of development servers when they are not configured.
func (s *server) devSecrets() error {
	cfg := s.cfg
	if cfg.IsEnvProduction() {
		return nil
	}
	if cfg.AppTicket == "" {
		ticket, err := internal.NewToken(24)
		if err != nil {
			return err
		}
		cfg.AppTicket = ticket
		s.log.Warn().Str("ticket", ticket).Msg("generated application ticket")
	}
	if cfg.RememberKey == "" {
		key, err := internal.NewSecret(32)
		if err != nil {
			return err
		}
		cfg.RememberKey = string(key)
	}
	if cfg.AdminPassword == "" {
		pw, err := internal.NewToken(16)
		if err != nil {
			return err
		}
		cfg.AdminPassword = pw
		s.log.Warn().Str("username", cfg.AdminUsername).Str("password", pw).Msg("generated admin password")
	}
	return nil
}

func (s *server) mailer() user.Mailer {
	cfg := s.cfg
	if cfg.SMTPAddr == "" {
		return user.LogMailer{Logger: s.log.With().Str("component", "mail").Logger()}
	}
	m := user.SMTPMailer{Addr: cfg.SMTPAddr, From: cfg.SMTPFrom}
	if cfg.SMTPUser != "" {
		host, _, _ := strings.Cut(cfg.SMTPAddr, ":")
		m.Auth = smtp.PlainAuth("", cfg.SMTPUser, cfg.SMTPPassword, host)
	}
	return m
}

// handler returns the HTTP surface: the WAMP transports, the views behind
// the login guard, metrics and a health check.
func (s *server) handler() http.Handler {
	mux := chi.NewRouter()
	mux.Use(chimw.RequestID)
	mux.Use(chimw.Recoverer)

	wampHandler := s.router.Handler()
	mux.Handle("/ws", wampHandler)
	mux.Handle("/lp/*", wampHandler)

	login := path.Join("/views", s.table.LoginPath())
	open := http.HandlerFunc(s.serveView)
	guarded := middleware.RequireSession(s.remember, s.sessions, login)(open)
	mux.Get("/views/*", func(w http.ResponseWriter, r *http.Request) {
		def, ok := s.table.Lookup("/" + chi.URLParam(r, "*"))
		if !ok {
			http.NotFound(w, r)
			return
		}
		if def.Guarded {
			guarded.ServeHTTP(w, r)
			return
		}
		open.ServeHTTP(w, r)
	})

	mux.Handle(s.cfg.MetricsPath, prometheus.NewServerExporter(s.metrics, s.audit).Handler())
	mux.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		rtt, err := s.sessions.Ping(r.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, map[string]any{
			"status":   "ok",
			"redis_ms": rtt.Milliseconds(),
			"sessions": s.router.SessionCount(),
		})
	})
	return mux
}

// serveView renders the view a path maps to. With a views directory the
// view's HTML file is served; otherwise its definition is returned as JSON.
func (s *server) serveView(w http.ResponseWriter, r *http.Request) {
	def, _ := s.table.Lookup("/" + chi.URLParam(r, "*"))
	if s.cfg.ViewsDir != "" {
		http.ServeFile(w, r, filepath.Join(s.cfg.ViewsDir, filepath.Base(def.View)+".html"))
		return
	}
	body := map[string]any{"path": def.Path, "view": def.View, "guarded": def.Guarded}
	if claims, ok := middleware.ClaimsFromContext(r.Context()); ok {
		body["username"] = claims.Username
	}
	writeJSON(w, body)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func (s *server) close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	s.closers = nil
}
