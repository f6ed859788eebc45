package studio

import (
	"github.com/liestudio/studio/logstore"
	"github.com/liestudio/studio/session"
)

// LoginState is the position of a Client in the login flow.
//
//	Idle -> AwaitingConnection -> AwaitingLoginReply -> LoggedIn | Failed
//
// Logout returns a LoggedIn client to Idle. Failed clients may log in again.
type LoginState int32

const (
	StateIdle LoginState = iota
	StateAwaitingConnection
	StateAwaitingLoginReply
	StateLoggedIn
	StateFailed
)

func (s LoginState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingConnection:
		return "awaiting_connection"
	case StateAwaitingLoginReply:
		return "awaiting_login_reply"
	case StateLoggedIn:
		return "logged_in"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// Credential is what the login form submits. It is never stored.
type Credential struct {
	Username string
	Password string
	// Remember asks the server for a remember-me token, which the client
	// keeps in its cookie jar for Resume.
	Remember bool
}

// Identity is what a successful login reports about the user.
type Identity = session.Identity

// Session is a snapshot of the client-side session.
type Session = session.Session

// LogEntry is one stored log event.
type LogEntry = logstore.Entry
