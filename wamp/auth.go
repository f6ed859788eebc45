package wamp

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"

	"golang.org/x/crypto/pbkdf2"
)

// ChallengeHandler answers CHALLENGE messages for one authentication method.
type ChallengeHandler interface {
	Method() string
	Respond(ch *Challenge) (signature string, extra Dict, err error)
}

type ticketAuth struct {
	ticket string
}

// TicketAuth answers "ticket" challenges with a pre-shared secret string.
func TicketAuth(ticket string) ChallengeHandler {
	return ticketAuth{ticket: ticket}
}

func (ticketAuth) Method() string { return "ticket" }

func (t ticketAuth) Respond(*Challenge) (string, Dict, error) {
	return t.ticket, Dict{}, nil
}

type craAuth struct {
	secret string
}

// CRAAuth answers "wampcra" challenges by signing the challenge string with
// HMAC-SHA256. When the challenge carries salt, iterations and keylen the
// signing key is derived from the secret with PBKDF2 first.
func CRAAuth(secret string) ChallengeHandler {
	return craAuth{secret: secret}
}

func (craAuth) Method() string { return "wampcra" }

func (c craAuth) Respond(ch *Challenge) (string, Dict, error) {
	challenge := ch.Extra.String("challenge")
	if challenge == "" {
		return "", nil, errors.New("wampcra challenge without challenge string")
	}
	key := []byte(c.secret)
	if salt := ch.Extra.String("salt"); salt != "" {
		iterations, _ := AsInt64(ch.Extra["iterations"])
		keylen, _ := AsInt64(ch.Extra["keylen"])
		key = []byte(DeriveCRAKey(c.secret, salt, int(iterations), int(keylen)))
	}
	return SignCRA(key, challenge), Dict{}, nil
}

// SignCRA computes the WAMP-CRA signature of challenge under key.
func SignCRA(key []byte, challenge string) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(challenge))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// DeriveCRAKey derives a salted WAMP-CRA key. Zero iterations and keylen
// fall back to 1000 and 32.
func DeriveCRAKey(secret, salt string, iterations, keylen int) string {
	if iterations <= 0 {
		iterations = 1000
	}
	if keylen <= 0 {
		keylen = 32
	}
	dk := pbkdf2.Key([]byte(secret), []byte(salt), iterations, keylen, sha256.New)
	return base64.StdEncoding.EncodeToString(dk)
}
