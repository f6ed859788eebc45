package studio

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/liestudio/studio/cookiejar"
	"github.com/liestudio/studio/route"
	"github.com/liestudio/studio/session"
	"github.com/liestudio/studio/wamp"
)

// Builder assembles a Client.
//
// Builder instances are configured during initialization and used once.
type Builder struct {
	config Config

	jar        cookiejar.Jar
	table      *route.Table
	logger     zerolog.Logger
	auditSink  AuditSink
	httpClient *http.Client
	dials      map[wamp.TransportKind]wamp.DialFunc
	now        func() time.Time

	built bool
}

// New returns a Builder holding DefaultConfig.
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
		logger: zerolog.Nop(),
		dials:  map[wamp.TransportKind]wamp.DialFunc{},
	}
}

// WithConfig replaces the configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithCookieJar sets where the remember-me token is kept. Without it an
// in-memory jar is used.
func (b *Builder) WithCookieJar(jar cookiejar.Jar) *Builder {
	b.jar = jar
	return b
}

// WithRouteTable sets the view table. Without it route.DefaultTable is used.
func (b *Builder) WithRouteTable(t *route.Table) *Builder {
	b.table = t
	return b
}

// WithLogger sets the logger of the client and its transports.
func (b *Builder) WithLogger(l zerolog.Logger) *Builder {
	b.logger = l
	return b
}

// WithAuditSink sets the audit sink. Audit must also be enabled in the
// configuration.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithMetricsEnabled toggles in-process counters.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// WithLatencyHistograms toggles the call and login latency histograms.
func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// WithDial replaces how transports of kind are dialed.
func (b *Builder) WithDial(kind wamp.TransportKind, fn wamp.DialFunc) *Builder {
	b.dials[kind] = fn
	return b
}

// WithHTTPClient sets the client used by long-poll transports.
func (b *Builder) WithHTTPClient(c *http.Client) *Builder {
	b.httpClient = c
	return b
}

// Build validates the configuration and returns the Client. It does not
// connect; the first Login, Resume or RetrievePassword does.
func (b *Builder) Build() (*Client, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	dialer, err := wamp.NewDialer(wamp.Config{
		Realm:            cfg.Realm,
		AuthID:           cfg.AppID,
		Auth:             []wamp.ChallengeHandler{wamp.TicketAuth(cfg.AppTicket)},
		Transports:       cfg.Transports,
		HandshakeTimeout: cfg.HandshakeTimeout,
		HTTPClient:       b.httpClient,
		Logger:           b.logger,
	})
	if err != nil {
		return nil, err
	}
	for kind, fn := range b.dials {
		dialer.WithDial(kind, fn)
	}

	table := b.table
	if table == nil {
		table = route.DefaultTable()
	}
	jar := b.jar
	if jar == nil {
		jar = cookiejar.NewMemory()
	}
	now := b.now
	if now == nil {
		now = time.Now
	}

	c := &Client{
		config:  cfg,
		dialer:  dialer,
		store:   session.NewStore(),
		jar:     jar,
		log:     b.logger.With().Str("component", "studio").Logger(),
		metrics: NewMetrics(cfg.Metrics),
		now:     now,
	}
	if cfg.Audit.Enabled {
		sink := b.auditSink
		if sink == nil {
			sink = LogSink{Logger: c.log}
		}
		c.audit = NewAuditDispatcher(cfg.Audit, sink)
	}

	guard := route.NewLoginGuard(c.store, table.LoginPath(), func(string) {
		c.metrics.Inc(MetricGuardDenied)
		c.emitAudit(context.Background(), AuditGuardDenied, false, "", "", "", ErrNotLoggedIn)
	})
	c.router = route.NewRouter(table, guard)

	b.built = true
	return c, nil
}
