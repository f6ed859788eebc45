package route

import (
	"errors"
	"sync"
)

// ErrRedirected is returned by Navigate when the guard sent the user to the
// login view instead.
var ErrRedirected = errors.New("navigation redirected to login")

// Guard decides whether a definition may be activated.
type Guard interface {
	CanActivate(def Definition) bool
}

// LoginState reports whether someone is logged in. *session.Store satisfies
// it.
type LoginState interface {
	IsLoggedIn() bool
}

// LoginGuard admits logged-in users and redirects everyone else.
type LoginGuard struct {
	state    LoginState
	login    string
	redirect func(path string)
}

// NewLoginGuard returns a guard reading state. redirect is called with
// loginPath on every denial and may be nil.
func NewLoginGuard(state LoginState, loginPath string, redirect func(path string)) *LoginGuard {
	return &LoginGuard{state: state, login: loginPath, redirect: redirect}
}

// CanActivate reports whether def may be shown.
func (g *LoginGuard) CanActivate(Definition) bool {
	if g.state.IsLoggedIn() {
		return true
	}
	if g.redirect != nil {
		g.redirect(g.login)
	}
	return false
}

// Router tracks the current view.
type Router struct {
	table *Table
	guard Guard

	mu      sync.Mutex
	current Definition
	onEnter []func(Definition)
}

// NewRouter starts on the login view of table.
func NewRouter(table *Table, guard Guard) *Router {
	login, _ := table.Lookup(table.LoginPath())
	return &Router{table: table, guard: guard, current: login}
}

// OnEnter registers fn to run after every view change.
func (r *Router) OnEnter(fn func(Definition)) {
	r.mu.Lock()
	r.onEnter = append(r.onEnter, fn)
	r.mu.Unlock()
}

// Navigate moves to path. Guarded definitions are checked first; on denial
// the router moves to the login view and returns ErrRedirected.
func (r *Router) Navigate(path string) (Definition, error) {
	def, ok := r.table.Lookup(path)
	if !ok {
		return r.Current(), ErrRouteNotFound
	}
	if def.Guarded && r.guard != nil && !r.guard.CanActivate(def) {
		login, _ := r.table.Lookup(r.table.LoginPath())
		r.enter(login)
		return login, ErrRedirected
	}
	r.enter(def)
	return def, nil
}

// Home navigates to the default view after login.
func (r *Router) Home() (Definition, error) {
	return r.Navigate(r.table.HomePath())
}

// Login navigates to the login view.
func (r *Router) Login() Definition {
	def, _ := r.Navigate(r.table.LoginPath())
	return def
}

// Current returns the active definition.
func (r *Router) Current() Definition {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

// Table returns the router's table.
func (r *Router) Table() *Table { return r.table }

func (r *Router) enter(def Definition) {
	r.mu.Lock()
	r.current = def
	hooks := append(([]func(Definition))(nil), r.onEnter...)
	r.mu.Unlock()
	for _, fn := range hooks {
		fn(def)
	}
}
