package studio

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/liestudio/studio/wamp"
)

func validConfig() Config {
	cfg := DefaultConfig()
	cfg.AppTicket = "ticket"
	return cfg
}

func containsCode(codes []string, code string) bool {
	for _, c := range codes {
		if c == code {
			return true
		}
	}
	return false
}

func TestDefaultConfigNeedsOnlyTicket(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected missing AppTicket to fail")
	}
	cfg.AppTicket = "ticket"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config with ticket: %v", err)
	}
}

func TestConfigValidateRejects(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"realm", func(c *Config) { c.Realm = "" }, "Realm"},
		{"appid", func(c *Config) { c.AppID = " " }, "AppID"},
		{"no transports", func(c *Config) { c.Transports = nil }, "transport"},
		{"ws over http scheme", func(c *Config) {
			c.Transports = []wamp.TransportSpec{{Kind: wamp.KindWebSocket, URL: "http://localhost/ws"}}
		}, "ws or wss"},
		{"longpoll over ws scheme", func(c *Config) {
			c.Transports = []wamp.TransportSpec{{Kind: wamp.KindLongPoll, URL: "ws://localhost/lp"}}
		}, "http or https"},
		{"unknown kind", func(c *Config) {
			c.Transports = []wamp.TransportSpec{{Kind: "carrier-pigeon", URL: "ws://localhost/ws"}}
		}, "unknown transport kind"},
		{"no host", func(c *Config) {
			c.Transports = []wamp.TransportSpec{{Kind: wamp.KindWebSocket, URL: "ws:///ws"}}
		}, "no host"},
		{"serializer", func(c *Config) {
			c.Transports = []wamp.TransportSpec{{Kind: wamp.KindWebSocket, URL: "ws://localhost/ws", Serializer: "wamp.2.xml"}}
		}, "serializer"},
		{"handshake timeout", func(c *Config) { c.HandshakeTimeout = 0 }, "HandshakeTimeout"},
		{"call timeout", func(c *Config) { c.CallTimeout = -time.Second }, "CallTimeout"},
		{"procedure", func(c *Config) { c.Procedures.SSO = "" }, "procedure"},
		{"cookie name", func(c *Config) { c.Remember.CookieName = "" }, "CookieName"},
		{"remember ttl", func(c *Config) { c.Remember.TTL = 0 }, "TTL"},
		{"audit buffer", func(c *Config) {
			c.Audit.Enabled = true
			c.Audit.BufferSize = 0
		}, "BufferSize"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected %q in %q", tc.want, err.Error())
			}
		})
	}
}

func TestConfigRememberDisabledSkipsCookieChecks(t *testing.T) {
	cfg := validConfig()
	cfg.Remember = RememberConfig{}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestWithConfigCopiesTransports(t *testing.T) {
	cfg := validConfig()
	b := New().WithConfig(cfg)
	cfg.Transports[0].URL = "ws://elsewhere/ws"
	if got := b.config.Transports[0].URL; got != "ws://localhost:8080/ws" {
		t.Fatalf("builder config shares transport slice, got %q", got)
	}
}

func TestLintDefaultConfig(t *testing.T) {
	cfg := validConfig()
	codes := cfg.Lint().Codes()

	if containsCode(codes, "plaintext_transport") {
		t.Error("loopback transports should not warn about plaintext")
	}
	if containsCode(codes, "single_transport") {
		t.Error("default config has a fallback transport")
	}
	if !containsCode(codes, "audit_disabled") {
		t.Error("expected audit_disabled for the default config")
	}
}

func TestLintPlaintextRemote(t *testing.T) {
	cfg := validConfig()
	cfg.Transports = []wamp.TransportSpec{{Kind: wamp.KindWebSocket, URL: "ws://studio.example.com/ws"}}
	codes := cfg.Lint().Codes()

	if !containsCode(codes, "plaintext_transport") {
		t.Error("expected plaintext_transport")
	}
	if !containsCode(codes, "single_transport") {
		t.Error("expected single_transport")
	}

	cfg.Transports[0].URL = "wss://studio.example.com/ws"
	if containsCode(cfg.Lint().Codes(), "plaintext_transport") {
		t.Error("wss must not warn about plaintext")
	}
}

func TestLintLongDurations(t *testing.T) {
	cfg := validConfig()
	cfg.Remember.TTL = 365 * 24 * time.Hour
	cfg.CallTimeout = 5 * time.Minute
	cfg.Audit.Enabled = true
	codes := cfg.Lint().Codes()

	for _, want := range []string{"remember_ttl_long", "call_timeout_long"} {
		if !containsCode(codes, want) {
			t.Errorf("expected %s", want)
		}
	}
	if containsCode(codes, "audit_disabled") {
		t.Error("audit is enabled")
	}
}

func TestErrorKind(t *testing.T) {
	cases := []struct {
		err  error
		want Kind
	}{
		{nil, KindNone},
		{fmt.Errorf("%w: username is required", ErrValidation), KindValidation},
		{fmt.Errorf("%w: %w", ErrTransport, errors.New("dial tcp: refused")), KindTransport},
		{fmt.Errorf("open: %w", wamp.ErrNoTransport), KindTransport},
		{wamp.ErrClosed, KindTransport},
		{context.DeadlineExceeded, KindTransport},
		{fmt.Errorf("%w: %w", ErrLoginRejected, wamp.NewError("liestudio.error.invalid_ticket")), KindApplication},
		{ErrLogoutRejected, KindApplication},
	}

	for _, tc := range cases {
		if got := ErrorKind(tc.err); got != tc.want {
			t.Errorf("ErrorKind(%v) = %s, want %s", tc.err, got, tc.want)
		}
	}
}

func TestAuditErrorCode(t *testing.T) {
	cases := map[AuditErrorCode]error{
		auditErrValidation:     fmt.Errorf("%w: x", ErrValidation),
		auditErrPending:        ErrLoginPending,
		auditErrRejected:       fmt.Errorf("%w: x", ErrLoginRejected),
		auditErrNotLoggedIn:    ErrNotLoggedIn,
		auditErrLoggedIn:       ErrAlreadyLoggedIn,
		auditErrNotRemembered:  ErrNotRemembered,
		auditErrMalformedReply: ErrMalformedReply,
		auditErrTransport:      fmt.Errorf("%w: x", ErrTransport),
		auditErrInternal:       errors.New("boom"),
	}
	for want, err := range cases {
		if got := auditErrorCode(err); got != want {
			t.Errorf("auditErrorCode(%v) = %s, want %s", err, got, want)
		}
	}
	if got := auditErrorCode(nil); got != "" {
		t.Errorf("nil error should have no code, got %s", got)
	}
}

func TestLoginStateString(t *testing.T) {
	if StateAwaitingLoginReply.String() != "awaiting_login_reply" {
		t.Fatalf("unexpected %s", StateAwaitingLoginReply)
	}
	if LoginState(99).String() != "unknown" {
		t.Fatal("expected unknown")
	}
}
