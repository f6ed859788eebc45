package route

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"
)

// Definition maps a path to a view.
type Definition struct {
	Path    string `yaml:"path" json:"path"`
	View    string `yaml:"view" json:"view"`
	Guarded bool   `yaml:"guarded" json:"guarded"`
}

// Table is an immutable set of definitions.
type Table struct {
	defs   []Definition
	byPath map[string]int
	login  string
	home   string
}

// ErrRouteNotFound is returned for paths the table does not know.
var ErrRouteNotFound = errors.New("route not found")

// TableOption tunes NewTable.
type TableOption func(*Table)

// WithLogin sets the path of the login view. It defaults to the first
// unguarded definition.
func WithLogin(path string) TableOption {
	return func(t *Table) { t.login = path }
}

// WithHome sets the default view after login. It defaults to the first
// guarded definition.
func WithHome(path string) TableOption {
	return func(t *Table) { t.home = path }
}

// NewTable copies defs into a Table. Paths must be unique and non-empty.
func NewTable(defs []Definition, opts ...TableOption) (*Table, error) {
	t := &Table{
		defs:   make([]Definition, 0, len(defs)),
		byPath: make(map[string]int, len(defs)),
	}
	for _, d := range defs {
		d.Path = normalize(d.Path)
		if d.Path == "" {
			return nil, errors.New("route path required")
		}
		if _, dup := t.byPath[d.Path]; dup {
			return nil, fmt.Errorf("duplicate route %q", d.Path)
		}
		t.byPath[d.Path] = len(t.defs)
		t.defs = append(t.defs, d)
	}
	for _, opt := range opts {
		opt(t)
	}

	if t.login == "" {
		for _, d := range t.defs {
			if !d.Guarded {
				t.login = d.Path
				break
			}
		}
	}
	if t.home == "" {
		for _, d := range t.defs {
			if d.Guarded {
				t.home = d.Path
				break
			}
		}
	}
	t.login = normalize(t.login)
	t.home = normalize(t.home)

	login, ok := t.Lookup(t.login)
	if !ok {
		return nil, errors.New("route table needs an unguarded login route")
	}
	if login.Guarded {
		return nil, fmt.Errorf("login route %q must not be guarded", t.login)
	}
	if _, ok := t.Lookup(t.home); !ok {
		t.home = t.login
	}
	return t, nil
}

func normalize(path string) string {
	path = strings.TrimSpace(path)
	if path == "" {
		return ""
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	if len(path) > 1 {
		path = strings.TrimRight(path, "/")
	}
	return path
}

type tableFile struct {
	Login  string       `yaml:"login"`
	Home   string       `yaml:"home"`
	Routes []Definition `yaml:"routes"`
}

// LoadTable parses a YAML document of the form
//
//	login: /
//	home: /app
//	routes:
//	  - {path: /, view: login}
//	  - {path: /app, view: app, guarded: true}
func LoadTable(r io.Reader) (*Table, error) {
	var f tableFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("parse route table: %w", err)
	}
	var opts []TableOption
	if f.Login != "" {
		opts = append(opts, WithLogin(f.Login))
	}
	if f.Home != "" {
		opts = append(opts, WithHome(f.Home))
	}
	return NewTable(f.Routes, opts...)
}

// DefaultTable is the LIEStudio layout: the login view at the root and the
// application views behind the guard.
func DefaultTable() *Table {
	t, err := NewTable([]Definition{
		{Path: "/", View: "login"},
		{Path: "/app", View: "app", Guarded: true},
		{Path: "/dashboard", View: "dashboard", Guarded: true},
		{Path: "/log", View: "log", Guarded: true},
		{Path: "/docking", View: "docking", Guarded: true},
		{Path: "/md", View: "md", Guarded: true},
	}, WithLogin("/"), WithHome("/app"))
	if err != nil {
		panic(err)
	}
	return t
}

// Lookup returns the definition for path.
func (t *Table) Lookup(path string) (Definition, bool) {
	i, ok := t.byPath[normalize(path)]
	if !ok {
		return Definition{}, false
	}
	return t.defs[i], true
}

// Definitions returns a copy of the table in declaration order.
func (t *Table) Definitions() []Definition {
	out := make([]Definition, len(t.defs))
	copy(out, t.defs)
	return out
}

// LoginPath returns the path of the login view.
func (t *Table) LoginPath() string { return t.login }

// HomePath returns the default view after login.
func (t *Table) HomePath() string { return t.home }
