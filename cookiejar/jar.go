// Package cookiejar persists client-side cookies such as the remember-me
// token between runs of a LIEStudio client.
package cookiejar

import (
	"errors"
	"sync"
	"time"
)

// ErrNotFound is returned for missing or expired cookies.
var ErrNotFound = errors.New("cookie not found")

// Cookie is a stored name/value pair. A zero Expires never expires.
type Cookie struct {
	Name    string    `json:"name"`
	Value   string    `json:"value"`
	Expires time.Time `json:"expires"`
}

func (c Cookie) expired(now time.Time) bool {
	return !c.Expires.IsZero() && !now.Before(c.Expires)
}

// Jar stores cookies by name.
type Jar interface {
	Get(name string) (Cookie, error)
	Set(c Cookie) error
	Delete(name string) error
}

// Memory is a Jar that lives as long as the process.
type Memory struct {
	mu      sync.Mutex
	cookies map[string]Cookie
	now     func() time.Time
}

// NewMemory returns an empty in-memory jar.
func NewMemory() *Memory {
	return &Memory{cookies: map[string]Cookie{}, now: time.Now}
}

func (m *Memory) Get(name string) (Cookie, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.cookies[name]
	if !ok {
		return Cookie{}, ErrNotFound
	}
	if c.expired(m.now()) {
		delete(m.cookies, name)
		return Cookie{}, ErrNotFound
	}
	return c, nil
}

func (m *Memory) Set(c Cookie) error {
	if c.Name == "" {
		return errors.New("cookie name required")
	}
	m.mu.Lock()
	m.cookies[c.Name] = c
	m.mu.Unlock()
	return nil
}

func (m *Memory) Delete(name string) error {
	m.mu.Lock()
	delete(m.cookies, name)
	m.mu.Unlock()
	return nil
}
