// Package validate checks form input before any network call is made.
package validate

import (
	"errors"
	"regexp"
	"strings"
)

// EmailState is the outcome of validating an email field.
type EmailState int

const (
	// EmailEmpty means nothing was entered.
	EmailEmpty EmailState = iota
	// EmailValid means the value looks like an address.
	EmailValid
	// EmailInvalid means the value is not an address.
	EmailInvalid
)

func (s EmailState) String() string {
	switch s {
	case EmailEmpty:
		return "empty"
	case EmailValid:
		return "valid"
	case EmailInvalid:
		return "invalid"
	}
	return "unknown"
}

var emailPattern = regexp.MustCompile(`^[a-zA-Z0-9.!#$%&'*+/=?^_{|}~-]+@[a-zA-Z0-9](?:[a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?(?:\.[a-zA-Z0-9](?:[a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?)*\.[a-zA-Z]{2,}$`)

// Email classifies value. Surrounding whitespace is ignored.
func Email(value string) EmailState {
	value = strings.TrimSpace(value)
	if value == "" {
		return EmailEmpty
	}
	if len(value) > 254 || !emailPattern.MatchString(value) {
		return EmailInvalid
	}
	return EmailValid
}

var (
	// ErrUsernameRequired is returned for an empty username.
	ErrUsernameRequired = errors.New("username is required")
	// ErrPasswordRequired is returned for an empty password.
	ErrPasswordRequired = errors.New("password is required")
	// ErrUsernameTooLong is returned for usernames that do not fit a session record.
	ErrUsernameTooLong = errors.New("username is too long")
	// ErrEmailRequired is returned when an email is needed but missing.
	ErrEmailRequired = errors.New("email is required")
	// ErrEmailInvalid is returned for malformed email addresses.
	ErrEmailInvalid = errors.New("email is invalid")
)

// MaxUsernameLength bounds usernames.
const MaxUsernameLength = 255

// Credentials checks the login form fields. Both are required.
func Credentials(username, password string) error {
	username = strings.TrimSpace(username)
	if username == "" {
		return ErrUsernameRequired
	}
	if len(username) > MaxUsernameLength {
		return ErrUsernameTooLong
	}
	if password == "" {
		return ErrPasswordRequired
	}
	return nil
}

// RequiredEmail checks a field that must hold a valid address.
func RequiredEmail(value string) error {
	switch Email(value) {
	case EmailEmpty:
		return ErrEmailRequired
	case EmailInvalid:
		return ErrEmailInvalid
	}
	return nil
}
