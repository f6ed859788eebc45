package router

import (
	"context"
	"crypto/hmac"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/liestudio/studio/wamp"
)

// AuthRequest describes the session asking to join.
type AuthRequest struct {
	Realm     wamp.URI
	AuthID    string
	Session   wamp.ID
	AuthExtra wamp.Dict
	Transport wamp.Dict
}

// Principal is the identity a session is welcomed as.
type Principal struct {
	AuthID   string
	Role     string
	Provider string
	Extra    wamp.Dict
}

// Authenticator runs one challenge-response method.
type Authenticator interface {
	Method() string
	// Challenge returns the CHALLENGE extra for req.
	Challenge(ctx context.Context, req *AuthRequest) (wamp.Dict, error)
	// Verify checks the AUTHENTICATE answer against the issued challenge.
	Verify(ctx context.Context, req *AuthRequest, challenge wamp.Dict, answer *wamp.Authenticate) (*Principal, error)
}

// TicketVerifier validates a ticket presented by req.
type TicketVerifier func(ctx context.Context, req *AuthRequest, ticket string) (*Principal, error)

type ticketAuthenticator struct {
	verify TicketVerifier
}

// Ticket returns the "ticket" authenticator.
func Ticket(verify TicketVerifier) Authenticator {
	return ticketAuthenticator{verify: verify}
}

func (ticketAuthenticator) Method() string { return "ticket" }

func (ticketAuthenticator) Challenge(context.Context, *AuthRequest) (wamp.Dict, error) {
	return wamp.Dict{}, nil
}

func (t ticketAuthenticator) Verify(ctx context.Context, req *AuthRequest, _ wamp.Dict, answer *wamp.Authenticate) (*Principal, error) {
	if answer.Signature == "" {
		return nil, wamp.NewError(wamp.ErrAuthFailed, "empty ticket")
	}
	return t.verify(ctx, req, answer.Signature)
}

// StaticTicket accepts exactly one authid/ticket pair and welcomes it with
// role.
func StaticTicket(authID, ticket, role string) TicketVerifier {
	return func(_ context.Context, req *AuthRequest, got string) (*Principal, error) {
		idOK := subtle.ConstantTimeCompare([]byte(req.AuthID), []byte(authID)) == 1
		ticketOK := subtle.ConstantTimeCompare([]byte(got), []byte(ticket)) == 1
		if !idOK || !ticketOK {
			return nil, wamp.NewError(wamp.ErrAuthFailed, "invalid ticket")
		}
		return &Principal{AuthID: authID, Role: role, Provider: "static"}, nil
	}
}

// CRASecret is the shared secret of a WAMP-CRA principal. Salt, Iterations
// and KeyLen are optional; when Salt is set the signing key is derived with
// PBKDF2.
type CRASecret struct {
	Secret     string
	Role       string
	Salt       string
	Iterations int
	KeyLen     int
}

// CRALookup finds the secret for req.AuthID. Unknown principals should
// return an error.
type CRALookup func(ctx context.Context, req *AuthRequest) (*CRASecret, error)

type craAuthenticator struct {
	lookup CRALookup
	now    func() time.Time
}

// CRA returns the "wampcra" authenticator.
func CRA(lookup CRALookup) Authenticator {
	return &craAuthenticator{lookup: lookup, now: time.Now}
}

func (*craAuthenticator) Method() string { return "wampcra" }

func (c *craAuthenticator) Challenge(ctx context.Context, req *AuthRequest) (wamp.Dict, error) {
	secret, err := c.lookup(ctx, req)
	if err != nil {
		return nil, err
	}
	if secret == nil {
		return nil, wamp.NewError(wamp.ErrAuthFailed, "unknown principal")
	}

	challenge, err := json.Marshal(map[string]any{
		"authid":       req.AuthID,
		"authrole":     secret.Role,
		"authmethod":   "wampcra",
		"authprovider": "dynamic",
		"nonce":        uuid.NewString(),
		"timestamp":    c.now().UTC().Format(time.RFC3339),
		"session":      uint64(req.Session),
	})
	if err != nil {
		return nil, err
	}

	extra := wamp.Dict{"challenge": string(challenge)}
	if secret.Salt != "" {
		extra["salt"] = secret.Salt
		extra["iterations"] = secret.Iterations
		extra["keylen"] = secret.KeyLen
	}
	return extra, nil
}

func (c *craAuthenticator) Verify(ctx context.Context, req *AuthRequest, challenge wamp.Dict, answer *wamp.Authenticate) (*Principal, error) {
	secret, err := c.lookup(ctx, req)
	if err != nil {
		return nil, err
	}
	if secret == nil {
		return nil, wamp.NewError(wamp.ErrAuthFailed, "unknown principal")
	}

	key := []byte(secret.Secret)
	if secret.Salt != "" {
		key = []byte(wamp.DeriveCRAKey(secret.Secret, secret.Salt, secret.Iterations, secret.KeyLen))
	}
	want := wamp.SignCRA(key, challenge.String("challenge"))
	if !hmac.Equal([]byte(want), []byte(answer.Signature)) {
		return nil, wamp.NewError(wamp.ErrAuthFailed, "signature mismatch")
	}
	return &Principal{AuthID: req.AuthID, Role: secret.Role, Provider: "dynamic"}, nil
}

var errNoPrincipal = errors.New("router: authenticator returned no principal")
