package studio

import (
	"context"
	"errors"

	"github.com/liestudio/studio/wamp"
)

var (
	// ErrValidation wraps form input rejected before any network call.
	ErrValidation = errors.New("invalid input")
	// ErrTransport wraps failures to reach or join the router.
	ErrTransport = errors.New("transport unavailable")
	// ErrLoginRejected is returned when the server refused the credentials.
	ErrLoginRejected = errors.New("login rejected")
	// ErrLoginPending is returned by Login and Resume while another attempt
	// is in flight.
	ErrLoginPending = errors.New("login already in progress")
	// ErrAlreadyLoggedIn is returned by Login and Resume while a user is
	// logged in. Log out first.
	ErrAlreadyLoggedIn = errors.New("already logged in")
	// ErrNotLoggedIn is returned by operations that need a logged-in session.
	ErrNotLoggedIn = errors.New("not logged in")
	// ErrNotRemembered is returned by Resume when no valid remember-me token
	// is stored.
	ErrNotRemembered = errors.New("no remembered login")
	// ErrLogoutRejected is returned when the server answered a logout with a
	// falsy reply.
	ErrLogoutRejected = errors.New("logout rejected")
	// ErrMalformedReply is returned for replies that do not have the
	// expected shape.
	ErrMalformedReply = errors.New("malformed reply")
	// ErrClientClosed is returned after Close.
	ErrClientClosed = errors.New("client closed")
)

// Status messages shown by the login view.
const (
	StatusWelcome       = "Welcome in "
	StatusWrongPassword = "Oh... wrong username or password"
	StatusUnreachable   = "Unable to authenticate"
	StatusSessionLost   = "Your session has ended"
)

// Kind classifies an error for display.
type Kind int

const (
	KindNone Kind = iota
	// KindValidation errors come from form input.
	KindValidation
	// KindTransport errors mean the router could not be reached.
	KindTransport
	// KindApplication errors were returned by the server.
	KindApplication
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindValidation:
		return "validation"
	case KindTransport:
		return "transport"
	case KindApplication:
		return "application"
	}
	return "unknown"
}

// ErrorKind maps err to the category a view should react to.
func ErrorKind(err error) Kind {
	if err == nil {
		return KindNone
	}
	if errors.Is(err, ErrValidation) {
		return KindValidation
	}
	if errors.Is(err, ErrTransport) ||
		errors.Is(err, wamp.ErrNoTransport) ||
		errors.Is(err, wamp.ErrClosed) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled) {
		return KindTransport
	}
	return KindApplication
}
