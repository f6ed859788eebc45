package wamp

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrProtocol reports a malformed or unexpected message.
	ErrProtocol = errors.New("wamp: protocol violation")
	// ErrClosed is returned for calls on a session that has ended.
	ErrClosed = errors.New("wamp: session closed")
	// ErrNoTransport is returned when none of the configured transports connects.
	ErrNoTransport = errors.New("wamp: no transport could be established")
	// ErrUnsupportedSerializer is returned for an unknown subprotocol.
	ErrUnsupportedSerializer = errors.New("wamp: unsupported serializer")
	// ErrAuthMethod is returned when the router challenges with a method the
	// client has no handler for.
	ErrAuthMethod = errors.New("wamp: unsupported authentication method")
)

// Well-known error and close reasons.
const (
	ErrNoSuchProcedure    URI = "wamp.error.no_such_procedure"
	ErrNoSuchRealm        URI = "wamp.error.no_such_realm"
	ErrProcedureExists    URI = "wamp.error.procedure_already_exists"
	ErrInvalidArgument    URI = "wamp.error.invalid_argument"
	ErrRuntime            URI = "wamp.error.runtime_error"
	ErrNotAuthorized      URI = "wamp.error.not_authorized"
	ErrAuthFailed         URI = "wamp.error.authentication_failed"
	ErrCannotAuthenticate URI = "wamp.error.cannot_authenticate"
	ErrProtocolViolation  URI = "wamp.error.protocol_violation"
	ErrNoAuthMethod       URI = "wamp.error.no_auth_method"
	ErrCanceled           URI = "wamp.error.canceled"
	CloseRealm            URI = "wamp.close.close_realm"
	CloseGoodbyeAndOut    URI = "wamp.close.goodbye_and_out"
	CloseSystemShutdown   URI = "wamp.close.system_shutdown"
)

// Error is an application or router error carried by ERROR or ABORT.
type Error struct {
	URI    URI
	Args   List
	Kwargs Dict
}

// NewError builds an *Error with positional arguments.
func NewError(uri URI, args ...any) *Error {
	return &Error{URI: uri, Args: List(args)}
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if len(e.Args) == 0 {
		if msg := e.Kwargs.String("message"); msg != "" {
			return fmt.Sprintf("%s: %s", e.URI, msg)
		}
		return string(e.URI)
	}
	parts := make([]string, 0, len(e.Args))
	for _, a := range e.Args {
		parts = append(parts, fmt.Sprint(a))
	}
	return fmt.Sprintf("%s: %s", e.URI, strings.Join(parts, ", "))
}

// IsError reports whether err is a *Error with the given URI.
func IsError(err error, uri URI) bool {
	var werr *Error
	return errors.As(err, &werr) && werr.URI == uri
}
