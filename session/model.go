package session

import "time"

// AnonymousUsername is the username of a client nobody is logged in on.
const AnonymousUsername = "anonymous"

// Session is a snapshot of the client-side session. Empty strings stand for
// "unset".
type Session struct {
	UserID       string
	Username     string
	Email        string
	SessionToken string
	IsLoggedIn   bool
	CreatedAt    time.Time
}

// Anonymous returns the logged-out defaults.
func Anonymous() Session {
	return Session{Username: AnonymousUsername}
}

// Identity is what a successful login reports about the user.
type Identity struct {
	UserID    string
	Username  string
	Email     string
	SessionID string
}

// Record is the server-side registry entry for one established session.
type Record struct {
	SchemaVersion uint8

	SessionID  string
	UserID     string
	Username   string
	Role       string
	AuthMethod string

	CreatedAt int64
	ExpiresAt int64
}
