package wamp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// TransportKind selects how a TransportSpec is dialed.
type TransportKind string

const (
	KindWebSocket TransportKind = "websocket"
	KindLongPoll  TransportKind = "longpoll"
)

// TransportSpec is one entry of the ordered transport list.
type TransportSpec struct {
	Kind TransportKind `yaml:"kind" json:"kind"`
	URL  string        `yaml:"url" json:"url"`
	// Serializer is a subprotocol name; empty selects JSON.
	Serializer string `yaml:"serializer" json:"serializer,omitempty"`
}

// DialFunc establishes a transport for spec.
type DialFunc func(ctx context.Context, spec TransportSpec) (Peer, error)

// Config describes how to reach and join a realm.
type Config struct {
	Realm      URI
	AuthID     string
	AuthExtra  Dict
	Auth       []ChallengeHandler
	Transports []TransportSpec

	HandshakeTimeout time.Duration
	HTTPClient       *http.Client
	Logger           zerolog.Logger
}

// Dialer opens sessions according to a Config.
type Dialer struct {
	cfg   Config
	dials map[TransportKind]DialFunc
}

// NewDialer validates cfg and returns a Dialer with the WebSocket and
// long-poll transports registered.
func NewDialer(cfg Config) (*Dialer, error) {
	if cfg.Realm == "" {
		return nil, errors.New("wamp: realm required")
	}
	if len(cfg.Transports) == 0 {
		return nil, errors.New("wamp: at least one transport required")
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	for _, spec := range cfg.Transports {
		if _, err := SerializerFor(spec.Serializer); err != nil {
			return nil, err
		}
	}

	d := &Dialer{cfg: cfg, dials: map[TransportKind]DialFunc{}}
	d.dials[KindWebSocket] = func(ctx context.Context, spec TransportSpec) (Peer, error) {
		ser, _ := SerializerFor(spec.Serializer)
		return DialWebSocket(ctx, spec.URL, ser, nil, cfg.Logger)
	}
	d.dials[KindLongPoll] = func(ctx context.Context, spec TransportSpec) (Peer, error) {
		ser, _ := SerializerFor(spec.Serializer)
		return DialLongPoll(ctx, cfg.HTTPClient, spec.URL, ser, cfg.Logger)
	}
	return d, nil
}

// WithDial registers or replaces the dial function for kind.
func (d *Dialer) WithDial(kind TransportKind, fn DialFunc) *Dialer {
	d.dials[kind] = fn
	return d
}

// WithAuth returns a copy of the dialer that authenticates as authID with
// the given handlers instead of the configured ones.
func (d *Dialer) WithAuth(authID string, handlers ...ChallengeHandler) *Dialer {
	cp := &Dialer{cfg: d.cfg, dials: make(map[TransportKind]DialFunc, len(d.dials))}
	for k, v := range d.dials {
		cp.dials[k] = v
	}
	cp.cfg.AuthID = authID
	cp.cfg.Auth = handlers
	return cp
}

// Open tries the configured transports in order and joins the realm over
// the first one that connects. Connection failures fall through to the
// next transport; a router rejection (*Error) does not.
func (d *Dialer) Open(ctx context.Context) (*Client, error) {
	var failures []error
	for _, spec := range d.cfg.Transports {
		dial, ok := d.dials[spec.Kind]
		if !ok {
			failures = append(failures, fmt.Errorf("unknown transport kind %q", spec.Kind))
			continue
		}

		peer, err := dial(ctx, spec)
		if err != nil {
			d.cfg.Logger.Debug().Err(err).Str("kind", string(spec.Kind)).Str("url", spec.URL).Msg("transport unavailable, trying next")
			failures = append(failures, err)
			if ctx.Err() != nil {
				break
			}
			continue
		}

		client, err := d.join(ctx, peer)
		if err != nil {
			_ = peer.Close()
			return nil, err
		}
		d.cfg.Logger.Debug().Str("kind", string(spec.Kind)).Uint64("session", uint64(client.ID())).Msg("joined realm")
		return client, nil
	}
	return nil, fmt.Errorf("%w: %v", ErrNoTransport, errors.Join(failures...))
}

func (d *Dialer) join(ctx context.Context, peer Peer) (*Client, error) {
	ctx, cancel := context.WithTimeout(ctx, d.cfg.HandshakeTimeout)
	defer cancel()

	methods := make(List, 0, len(d.cfg.Auth))
	handlers := make(map[string]ChallengeHandler, len(d.cfg.Auth))
	for _, h := range d.cfg.Auth {
		methods = append(methods, h.Method())
		handlers[h.Method()] = h
	}
	details := Dict{
		"roles": Dict{"caller": Dict{"features": Dict{}}},
	}
	if len(methods) > 0 {
		details["authmethods"] = methods
	}
	if d.cfg.AuthID != "" {
		details["authid"] = d.cfg.AuthID
	}
	if len(d.cfg.AuthExtra) > 0 {
		details["authextra"] = d.cfg.AuthExtra
	}

	if err := peer.Send(ctx, &Hello{Realm: d.cfg.Realm, Details: details}); err != nil {
		return nil, err
	}

	for {
		var msg Message
		select {
		case m, ok := <-peer.Recv():
			if !ok {
				return nil, fmt.Errorf("%w: transport closed during handshake", ErrClosed)
			}
			msg = m
		case <-ctx.Done():
			return nil, ctx.Err()
		}

		switch m := msg.(type) {
		case *Welcome:
			return newClient(peer, d.cfg.Realm, m, d.cfg.Logger), nil
		case *Abort:
			return nil, &Error{URI: m.Reason, Kwargs: m.Details}
		case *Challenge:
			h, ok := handlers[m.AuthMethod]
			if !ok {
				d.abort(ctx, peer, ErrCannotAuthenticate, "no handler for "+m.AuthMethod)
				return nil, fmt.Errorf("%w: %s", ErrAuthMethod, m.AuthMethod)
			}
			sig, extra, err := h.Respond(m)
			if err != nil {
				d.abort(ctx, peer, ErrCannotAuthenticate, err.Error())
				return nil, err
			}
			if err := peer.Send(ctx, &Authenticate{Signature: sig, Extra: extra}); err != nil {
				return nil, err
			}
		default:
			d.abort(ctx, peer, ErrProtocolViolation, "unexpected "+msg.MessageType().String())
			return nil, fmt.Errorf("%w: unexpected %s during handshake", ErrProtocol, msg.MessageType())
		}
	}
}

func (d *Dialer) abort(ctx context.Context, peer Peer, reason URI, message string) {
	_ = peer.Send(ctx, &Abort{Details: Dict{"message": message}, Reason: reason})
}
