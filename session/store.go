package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"
)

// ErrEmptySessionID is returned by [Store.Login] for an identity without a
// session id.
var ErrEmptySessionID = errors.New("session id required")

// Patch keys accepted by [Store.Update].
const (
	KeyUserID    = "uid"
	KeyUsername  = "username"
	KeyEmail     = "email"
	KeySessionID = "session_id"
	KeyCreatedAt = "created_at"
)

// Store is the client-side session. It is safe for concurrent use.
type Store struct {
	mu  sync.RWMutex
	cur Session
	now func() time.Time
}

// NewStore returns a Store holding the anonymous defaults.
func NewStore() *Store {
	return &Store{cur: Anonymous(), now: time.Now}
}

// Snapshot returns a copy of the current session.
func (s *Store) Snapshot() Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cur
}

// IsLoggedIn reports whether a user is logged in.
func (s *Store) IsLoggedIn() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cur.IsLoggedIn
}

// Update merges the declared keys of patch into the session. Unknown keys
// are ignored and values are not validated. Clearing session_id logs the
// session out.
func (s *Store) Update(patch map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for k, v := range patch {
		switch k {
		case KeyUserID:
			s.cur.UserID = stringValue(v)
		case KeyUsername:
			s.cur.Username = stringValue(v)
		case KeyEmail:
			s.cur.Email = stringValue(v)
		case KeySessionID:
			s.cur.SessionToken = stringValue(v)
		case KeyCreatedAt:
			if t, ok := timeValue(v); ok {
				s.cur.CreatedAt = t
			}
		}
	}
	if s.cur.SessionToken == "" {
		s.cur.IsLoggedIn = false
	}
}

// Login stores id and marks the session logged in, in one step.
func (s *Store) Login(id Identity) error {
	if id.SessionID == "" {
		return ErrEmptySessionID
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cur.UserID = id.UserID
	s.cur.Username = id.Username
	s.cur.Email = id.Email
	s.cur.SessionToken = id.SessionID
	s.cur.IsLoggedIn = true
	s.cur.CreatedAt = s.now()
	return nil
}

// Clear resets the session to the anonymous defaults.
func (s *Store) Clear() {
	s.mu.Lock()
	s.cur = Anonymous()
	s.mu.Unlock()
}

func stringValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case json.Number:
		return x.String()
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case uint64:
		return strconv.FormatUint(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case fmt.Stringer:
		return x.String()
	}
	return fmt.Sprint(v)
}

func timeValue(v any) (time.Time, bool) {
	switch x := v.(type) {
	case nil:
		return time.Time{}, true
	case time.Time:
		return x, true
	case int64:
		return time.Unix(x, 0), true
	case int:
		return time.Unix(int64(x), 0), true
	case string:
		t, err := time.Parse(time.RFC3339, x)
		return t, err == nil
	}
	return time.Time{}, false
}
