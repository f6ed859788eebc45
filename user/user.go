package user

import (
	"context"
	"errors"
	"strconv"
)

// Roles known to the LIEStudio realm.
const (
	RoleAdmin   = "admin"
	RoleDefault = "default"
)

// AdminUID is the uid reserved for the bootstrap administrator.
const AdminUID int64 = 0

var (
	// ErrUsernameTaken is returned by Create when the username is in use.
	ErrUsernameTaken = errors.New("username already in use")
	// ErrEmailTaken is returned by Create when the email is in use.
	ErrEmailTaken = errors.New("email already in use")
	// ErrUserNotFound is returned by operations that require an existing user.
	ErrUserNotFound = errors.New("user not found")
	// ErrMissingField is returned by Create when username or email is empty.
	ErrMissingField = errors.New("username and email are required")
)

// User represents a LIEStudio account
type User struct {
	UID          int64  `json:"uid"`
	Username     string `json:"username"`
	Email        string `json:"email"`
	PasswordHash string `json:"-"`
	Role         string `json:"role"`
	SessionID    string `json:"session_id"`
}

// Safe returns the user without the password hash, in the shape sent to
// clients as WAMP authextra. An empty email or session id is sent as nil.
func (u *User) Safe() map[string]any {
	out := map[string]any{
		"uid":        u.UID,
		"username":   u.Username,
		"role":       u.Role,
		"email":      nil,
		"session_id": nil,
	}
	if u.Email != "" {
		out["email"] = u.Email
	}
	if u.SessionID != "" {
		out["session_id"] = u.SessionID
	}
	return out
}

// UIDString is the uid as sent in session identities.
func (u *User) UIDString() string {
	return strconv.FormatInt(u.UID, 10)
}

// Repository defines the user repository API.
// Lookups return a nil user and a nil error when nothing matches.
type Repository interface {
	// GetByUID retrieves a user by uid
	GetByUID(ctx context.Context, uid int64) (*User, error)

	// GetByUsername retrieves a user by username
	GetByUsername(ctx context.Context, username string) (*User, error)

	// GetByEmail retrieves a user by email address
	GetByEmail(ctx context.Context, email string) (*User, error)

	// GetBySessionID retrieves the user currently bound to a WAMP session
	GetBySessionID(ctx context.Context, sessionID string) (*User, error)

	// Count returns the number of users
	Count(ctx context.Context) (int, error)

	// Create creates a new user with the next free uid (0 for the first user)
	Create(ctx context.Context, create *Create) (*User, error)

	// Update updates an existing user
	Update(ctx context.Context, uid int64, update *Update) (*User, error)

	// ClearSessions unbinds every user from its session and returns how many were bound
	ClearSessions(ctx context.Context) (int, error)

	// Delete deletes a user by uid
	Delete(ctx context.Context, uid int64) error
}

// Create is used to create a new user
type Create struct {
	Username     string
	Email        string
	PasswordHash string
	Role         string
}

// Update is used to update an existing user
type Update struct {
	Email        *string
	PasswordHash *string
	Role         *string
	SessionID    *string
}
