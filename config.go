package studio

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/liestudio/studio/wamp"
)

// Config configures a Client.
//
// Config values are set once before Build and treated as immutable
// afterwards.
type Config struct {
	// Realm is the WAMP realm every session joins.
	Realm wamp.URI
	// AppID and AppTicket are the shared application credentials the
	// transport authenticates with before any user logs in.
	AppID     string
	AppTicket string
	// Transports are tried in order, once each, on every connect.
	Transports []wamp.TransportSpec

	HandshakeTimeout time.Duration
	CallTimeout      time.Duration

	Procedures ProcedureConfig
	Remember   RememberConfig
	Audit      AuditConfig
	Metrics    MetricsConfig
}

/*
====================================
PROCEDURES
====================================
*/

// ProcedureConfig names the server procedures the client calls.
type ProcedureConfig struct {
	Login    wamp.URI
	Logout   wamp.URI
	SSO      wamp.URI
	Retrieve wamp.URI
	Log      wamp.URI
	LogGet   wamp.URI
}

/*
====================================
REMEMBER-ME
====================================
*/

// RememberConfig controls how the remember-me token is kept in the cookie
// jar.
type RememberConfig struct {
	Enabled    bool
	CookieName string
	TTL        time.Duration
}

/*
====================================
AUDIT / METRICS
====================================
*/

// AuditConfig configures the asynchronous audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
	// Types limits auditing to these event types, for example only
	// AuditGuardDenied. Empty audits every type.
	Types []string
}

// MetricsConfig configures in-process counters.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

// DefaultConfig returns a configuration for a router on localhost. The
// application ticket has no default and must be set.
func DefaultConfig() Config {
	return Config{
		Realm: "liestudio",
		AppID: "liestudio",
		Transports: []wamp.TransportSpec{
			{Kind: wamp.KindWebSocket, URL: "ws://localhost:8080/ws"},
			{Kind: wamp.KindLongPoll, URL: "http://localhost:8080/lp"},
		},
		HandshakeTimeout: 10 * time.Second,
		CallTimeout:      30 * time.Second,
		Procedures: ProcedureConfig{
			Login:    "liestudio.user.login",
			Logout:   "liestudio.user.logout",
			SSO:      "liestudio.user.sso",
			Retrieve: "liestudio.user.retrieve",
			Log:      "liestudio.logger.log",
			LogGet:   "liestudio.logger.get",
		},
		Remember: RememberConfig{
			Enabled:    true,
			CookieName: "liestudio",
			TTL:        30 * 24 * time.Hour,
		},
		Audit: AuditConfig{
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.Transports = append([]wamp.TransportSpec(nil), cfg.Transports...)
	out.Audit.Types = append([]string(nil), cfg.Audit.Types...)
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate checks that the configuration can be used to build a Client.
func (c *Config) Validate() error {
	if c.Realm == "" {
		return errors.New("Realm must not be empty")
	}
	if strings.TrimSpace(c.AppID) == "" {
		return errors.New("AppID must not be empty")
	}
	if c.AppTicket == "" {
		return errors.New("AppTicket must not be empty")
	}

	if len(c.Transports) == 0 {
		return errors.New("at least one transport is required")
	}
	for i, spec := range c.Transports {
		if err := validateTransport(spec); err != nil {
			return fmt.Errorf("transport %d: %w", i, err)
		}
	}

	if c.HandshakeTimeout <= 0 {
		return errors.New("HandshakeTimeout must be > 0")
	}
	if c.CallTimeout <= 0 {
		return errors.New("CallTimeout must be > 0")
	}

	p := c.Procedures
	if p.Login == "" || p.Logout == "" || p.SSO == "" || p.Retrieve == "" || p.Log == "" || p.LogGet == "" {
		return errors.New("all procedure URIs must be set")
	}

	if c.Remember.Enabled {
		if c.Remember.CookieName == "" {
			return errors.New("Remember CookieName must not be empty")
		}
		if c.Remember.TTL <= 0 {
			return errors.New("Remember TTL must be > 0")
		}
	}

	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0")
	}
	return nil
}

func validateTransport(spec wamp.TransportSpec) error {
	u, err := url.Parse(spec.URL)
	if err != nil {
		return err
	}
	switch spec.Kind {
	case wamp.KindWebSocket:
		if u.Scheme != "ws" && u.Scheme != "wss" {
			return fmt.Errorf("websocket URL %q must use ws or wss", spec.URL)
		}
	case wamp.KindLongPoll:
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("long-poll URL %q must use http or https", spec.URL)
		}
	default:
		return fmt.Errorf("unknown transport kind %q", spec.Kind)
	}
	if u.Host == "" {
		return fmt.Errorf("URL %q has no host", spec.URL)
	}
	if _, err := wamp.SerializerFor(spec.Serializer); err != nil {
		return err
	}
	return nil
}

/*
====================================
LINT
====================================
*/

// LintWarning is a configuration that works but is probably not intended.
type LintWarning struct {
	Code    string
	Message string
}

// LintWarnings is the result of Config.Lint.
type LintWarnings []LintWarning

// Codes returns the warning codes in order.
func (ws LintWarnings) Codes() []string {
	out := make([]string, 0, len(ws))
	for _, w := range ws {
		out = append(out, w.Code)
	}
	return out
}

// Lint reports settings that are valid but risky.
func (c *Config) Lint() LintWarnings {
	var ws LintWarnings

	for _, spec := range c.Transports {
		u, err := url.Parse(spec.URL)
		if err != nil {
			continue
		}
		if (u.Scheme == "ws" || u.Scheme == "http") && !isLoopback(u.Hostname()) {
			ws = append(ws, LintWarning{
				Code:    "plaintext_transport",
				Message: fmt.Sprintf("%s sends the application ticket and passwords unencrypted", spec.URL),
			})
			break
		}
	}

	if len(c.Transports) == 1 {
		ws = append(ws, LintWarning{
			Code:    "single_transport",
			Message: "no fallback transport configured",
		})
	}

	if c.Remember.Enabled && c.Remember.TTL > 90*24*time.Hour {
		ws = append(ws, LintWarning{
			Code:    "remember_ttl_long",
			Message: "remember-me cookie outlives 90 days",
		})
	}

	if c.CallTimeout > 2*time.Minute {
		ws = append(ws, LintWarning{
			Code:    "call_timeout_long",
			Message: "calls may block views for more than two minutes",
		})
	}

	if !c.Audit.Enabled {
		ws = append(ws, LintWarning{
			Code:    "audit_disabled",
			Message: "login and logout events are not audited",
		})
	}
	return ws
}

func isLoopback(host string) bool {
	return host == "localhost" || host == "127.0.0.1" || host == "::1"
}
