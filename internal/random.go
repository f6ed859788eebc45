package internal

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
)

const minTokenSize = 16

// NewToken returns size random bytes encoded as unpadded base64url. It backs
// generated app tickets and signing secrets in development mode.
func NewToken(size int) (string, error) {
	if size < minTokenSize {
		return "", errors.New("token size must be >= 16 bytes")
	}
	raw := make([]byte, size)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// NewSecret is NewToken returned as bytes, for HMAC keys.
func NewSecret(size int) ([]byte, error) {
	token, err := NewToken(size)
	if err != nil {
		return nil, err
	}
	return []byte(token), nil
}
