package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	studio "github.com/liestudio/studio"
	"github.com/liestudio/studio/wamp"
)

// Prefix is the prefix of every environment variable, e.g.
// LIESTUDIO_APP_TICKET.
const Prefix = "liestudio"

// Server represents the configuration of liestudio-server.
type Server struct {
	Environment   string `default:"development"`
	ListenAddress string `split_words:"true" default:":8080"`

	Realm     string `default:"liestudio"`
	AppID     string `split_words:"true" default:"liestudio"`
	AppTicket string `split_words:"true"`
	AppRole   string `split_words:"true" default:"app"`

	RedisAddr   string `split_words:"true"`
	RedisPrefix string `split_words:"true" default:"ls"`
	PostgresDSN string `split_words:"true"`

	RememberKey string        `split_words:"true"`
	RememberTTL time.Duration `split_words:"true" default:"720h"`
	SessionTTL  time.Duration `split_words:"true" default:"24h"`

	AdminUsername   string   `split_words:"true" default:"admin"`
	AdminEmail      string   `split_words:"true"`
	AdminPassword   string   `split_words:"true"`
	OnlyLocalhost   bool     `split_words:"true"`
	DomainBlacklist []string `split_words:"true"`

	MaxLoginAttempts    int           `split_words:"true" default:"5"`
	LoginCooldown       time.Duration `split_words:"true" default:"15m"`
	MaxRetrieveAttempts int           `split_words:"true" default:"3"`

	SMTPAddr     string `envconfig:"SMTP_ADDR"`
	SMTPFrom     string `envconfig:"SMTP_FROM"`
	SMTPUser     string `envconfig:"SMTP_USER"`
	SMTPPassword string `envconfig:"SMTP_PASSWORD"`

	ViewsDir     string `split_words:"true"`
	RouteTable   string `split_words:"true"`
	LogLimit     int64  `split_words:"true" default:"200"`
	MetricsPath  string `split_words:"true" default:"/metrics"`
	AuditEnabled bool   `split_words:"true" default:"true"`

	// AuditTypes limits the audit log to these event types.
	AuditTypes []string `split_words:"true"`

	// OtelEnabled publishes the metrics through an OpenTelemetry meter
	// provider that logs every OtelInterval.
	OtelEnabled  bool          `split_words:"true"`
	OtelInterval time.Duration `split_words:"true" default:"1m"`
}

// IsEnvProduction reports whether the server runs in production mode.
func (c *Server) IsEnvProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}

// Validate checks the settings a production server cannot run without.
// Development servers generate the missing secrets.
func (c *Server) Validate() error {
	if !c.IsEnvProduction() {
		return nil
	}
	if c.AppTicket == "" {
		return errors.New("LIESTUDIO_APP_TICKET is required in production")
	}
	if c.RedisAddr == "" {
		return errors.New("LIESTUDIO_REDIS_ADDR is required in production")
	}
	if len(c.RememberKey) < 32 {
		return errors.New("LIESTUDIO_REMEMBER_KEY must be at least 32 bytes in production")
	}
	return nil
}

// LoadServer loads the server configuration from the environment and an
// optional .env file.
func LoadServer() (*Server, error) {
	_ = godotenv.Overload()

	cfg := new(Server)
	if err := envconfig.Process(Prefix, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Client represents the configuration of the liestudio command.
type Client struct {
	URL         string        `default:"ws://localhost:8080/ws"`
	LongPollURL string        `split_words:"true" default:"http://localhost:8080/lp"`
	Serializer  string        `default:"wamp.2.json"`
	Realm       string        `default:"liestudio"`
	AppID       string        `split_words:"true" default:"liestudio"`
	AppTicket   string        `split_words:"true"`
	CookieJar   string        `split_words:"true"`
	CallTimeout time.Duration `split_words:"true" default:"30s"`
	Audit       bool          `default:"false"`
}

// LoadClient loads the client configuration from the environment and an
// optional .env file.
func LoadClient() (*Client, error) {
	_ = godotenv.Load()

	cfg := new(Client)
	if err := envconfig.Process(Prefix, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Studio converts c into a studio.Config. An empty LongPollURL drops the
// fallback transport.
func (c *Client) Studio() (studio.Config, error) {
	cfg := studio.DefaultConfig()
	cfg.Realm = wamp.URI(c.Realm)
	cfg.AppID = c.AppID
	cfg.AppTicket = c.AppTicket
	cfg.CallTimeout = c.CallTimeout
	cfg.Audit.Enabled = c.Audit

	cfg.Transports = []wamp.TransportSpec{{Kind: wamp.KindWebSocket, URL: c.URL, Serializer: c.Serializer}}
	if c.LongPollURL != "" {
		cfg.Transports = append(cfg.Transports, wamp.TransportSpec{Kind: wamp.KindLongPoll, URL: c.LongPollURL, Serializer: c.Serializer})
	}

	if err := cfg.Validate(); err != nil {
		return studio.Config{}, fmt.Errorf("client configuration: %w", err)
	}
	return cfg, nil
}
