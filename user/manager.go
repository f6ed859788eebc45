package user

import (
	"context"
	"errors"
	"fmt"
	"net"
	"path"
	"strings"

	"github.com/liestudio/studio/password"
	"github.com/rs/zerolog"
)

var (
	// ErrLocalOnly is returned by CheckAccess for non-local domains when the
	// server only accepts local users.
	ErrLocalOnly = errors.New("access granted only to local users")
	// ErrDomainDenied is returned by CheckAccess for blacklisted domains.
	ErrDomainDenied = errors.New("access from domain not allowed")
)

const (
	defaultRetrievalSubject  = "Password retrieval request for LIEStudio"
	defaultRetrievalTemplate = "Dear {user},\n\nA new password was requested for your LIEStudio account.\nYour temporary password is: {password}\n\nPlease change it after logging in.\n"
)

// Config configures a Manager.
type Config struct {
	AdminUsername   string
	AdminEmail      string
	AdminPassword   string
	OnlyLocalhost   bool
	DomainBlacklist []string

	RetrievalSubject  string
	RetrievalTemplate string
	PasswordLength    int
}

// DefaultConfig returns the settings of a stock LIEStudio installation.
func DefaultConfig() Config {
	return Config{
		AdminUsername:     "admin",
		RetrievalSubject:  defaultRetrievalSubject,
		RetrievalTemplate: defaultRetrievalTemplate,
		PasswordLength:    password.GeneratedLength,
	}
}

// Validate checks the blacklist patterns and the admin account settings.
func (c Config) Validate() error {
	if strings.TrimSpace(c.AdminUsername) == "" {
		return errors.New("user: admin username must not be empty")
	}
	for _, pattern := range c.DomainBlacklist {
		if _, err := path.Match(pattern, ""); err != nil {
			return fmt.Errorf("user: invalid domain blacklist pattern %q: %w", pattern, err)
		}
	}
	if c.PasswordLength != 0 && c.PasswordLength < password.MinGeneratedLength {
		return fmt.Errorf("user: generated password length must be >= %d", password.MinGeneratedLength)
	}
	return nil
}

// Manager implements the account operations behind the liestudio.user.*
// procedures on top of a Repository.
type Manager struct {
	repo   Repository
	hasher password.Hasher
	mailer Mailer
	config Config
	log    zerolog.Logger
}

// NewManager creates a Manager. A nil mailer disables password retrieval.
func NewManager(repo Repository, hasher password.Hasher, mailer Mailer, cfg Config, log zerolog.Logger) (*Manager, error) {
	if repo == nil || hasher == nil {
		return nil, errors.New("user: repository and hasher are required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.RetrievalSubject == "" {
		cfg.RetrievalSubject = defaultRetrievalSubject
	}
	if cfg.RetrievalTemplate == "" {
		cfg.RetrievalTemplate = defaultRetrievalTemplate
	}
	if cfg.PasswordLength == 0 {
		cfg.PasswordLength = password.GeneratedLength
	}
	return &Manager{
		repo:   repo,
		hasher: hasher,
		mailer: mailer,
		config: cfg,
		log:    log,
	}, nil
}

// Repository exposes the underlying repository.
func (m *Manager) Repository() Repository {
	return m.repo
}

// Bootstrap creates the administrator account (uid 0) when it does not
// exist yet and unbinds sessions left over from a previous run. It reports
// whether the admin was created.
func (m *Manager) Bootstrap(ctx context.Context) (bool, error) {
	if n, err := m.repo.ClearSessions(ctx); err != nil {
		return false, err
	} else if n > 0 {
		m.log.Info().Int("sessions", n).Msg("terminated leftover user sessions")
	}

	admin, err := m.repo.GetByUID(ctx, AdminUID)
	if err != nil {
		return false, err
	}
	if admin != nil {
		return false, nil
	}

	m.log.Info().Msg("empty user table, creating default admin account")
	_, err = m.Create(ctx, &Create{
		Username: m.config.AdminUsername,
		Email:    m.config.AdminEmail,
		Role:     RoleAdmin,
	}, m.config.AdminPassword)
	if err != nil {
		return false, fmt.Errorf("user: create admin: %w", err)
	}
	return true, nil
}

// Create adds a user. The plain password is hashed; an empty one is replaced
// by a generated password. The admin account may be created without email.
func (m *Manager) Create(ctx context.Context, create *Create, plain string) (*User, error) {
	if strings.TrimSpace(create.Username) == "" {
		return nil, ErrMissingField
	}
	if create.Email == "" && create.Role != RoleAdmin {
		return nil, ErrMissingField
	}
	if create.Role == "" {
		create.Role = RoleDefault
	}
	if plain == "" {
		generated, err := password.Generate(m.config.PasswordLength)
		if err != nil {
			return nil, err
		}
		plain = generated
	}
	hash, err := m.hasher.Hash(plain)
	if err != nil {
		return nil, err
	}
	create.PasswordHash = hash

	u, err := m.repo.Create(ctx, create)
	if err != nil {
		return nil, err
	}
	m.log.Debug().Str("username", u.Username).Int64("uid", u.UID).Msg("added new user")
	return u, nil
}

// ValidateLogin checks a username and password. Surrounding white space is
// ignored. The user is returned only when the password matches.
func (m *Manager) ValidateLogin(ctx context.Context, username, plain string) (*User, error) {
	username = strings.TrimSpace(username)
	plain = strings.TrimSpace(plain)

	u, err := m.repo.GetByUsername(ctx, username)
	if err != nil {
		return nil, err
	}

	ok := false
	if u != nil {
		ok, err = m.hasher.Verify(plain, u.PasswordHash)
		if err != nil {
			m.log.Warn().Err(err).Str("user", username).Msg("stored password hash rejected")
			ok = false
		}
	}

	status := "incorrect"
	if ok {
		status = "correct"
	}
	m.log.Info().Str("user", username).Str("status", status).Msg("login attempt")

	if !ok {
		return nil, nil
	}
	m.rehash(ctx, u, plain)
	return u, nil
}

// rehash replaces a stored hash made with weaker parameters than the
// hasher's current ones. Failures are logged; the login still succeeds.
func (m *Manager) rehash(ctx context.Context, u *User, plain string) {
	up, ok := m.hasher.(interface {
		NeedsUpgrade(encodedHash string) (bool, error)
	})
	if !ok {
		return
	}
	if stale, err := up.NeedsUpgrade(u.PasswordHash); err != nil || !stale {
		return
	}
	hash, err := m.hasher.Hash(plain)
	if err != nil {
		m.log.Warn().Err(err).Int64("uid", u.UID).Msg("rehash password")
		return
	}
	if _, err := m.repo.Update(ctx, u.UID, &Update{PasswordHash: &hash}); err != nil {
		m.log.Warn().Err(err).Int64("uid", u.UID).Msg("store rehashed password")
		return
	}
	u.PasswordHash = hash
	m.log.Debug().Int64("uid", u.UID).Msg("password hash upgraded")
}

// SetSessionID binds a WAMP session to the user.
func (m *Manager) SetSessionID(ctx context.Context, uid int64, sessionID string) (*User, error) {
	u, err := m.repo.Update(ctx, uid, &Update{SessionID: &sessionID})
	if err != nil {
		return nil, err
	}
	m.log.Debug().Str("session", sessionID).Int64("uid", uid).Msg("open session")
	return u, nil
}

// Logout unbinds the user holding sessionID. It returns nil when no user is
// bound to that session.
func (m *Manager) Logout(ctx context.Context, sessionID string) (*User, error) {
	if sessionID == "" {
		return nil, nil
	}
	u, err := m.repo.GetBySessionID(ctx, sessionID)
	if err != nil || u == nil {
		return nil, err
	}
	empty := ""
	if _, err := m.repo.Update(ctx, u.UID, &Update{SessionID: &empty}); err != nil {
		return nil, err
	}
	m.log.Info().Str("user", u.Username).Int64("uid", u.UID).Msg("logout user")
	return u, nil
}

// RetrievePassword replaces the password of the user owning email with a
// generated one and mails it. The new hash is saved only after the mail was
// sent. Unknown addresses return nil without error.
func (m *Manager) RetrievePassword(ctx context.Context, email string) (*User, error) {
	if m.mailer == nil {
		return nil, errors.New("user: password retrieval is not configured")
	}
	u, err := m.repo.GetByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if u == nil {
		m.log.Info().Str("email", email).Msg("no user with email")
		return nil, nil
	}

	plain, err := password.Generate(m.config.PasswordLength)
	if err != nil {
		return nil, err
	}
	hash, err := m.hasher.Hash(plain)
	if err != nil {
		return nil, err
	}

	body := strings.NewReplacer("{user}", u.Username, "{password}", plain).Replace(m.config.RetrievalTemplate)
	if err := m.mailer.Send(ctx, email, m.config.RetrievalSubject, body); err != nil {
		return nil, fmt.Errorf("user: send retrieval mail: %w", err)
	}

	return m.repo.Update(ctx, u.UID, &Update{PasswordHash: &hash})
}

// CheckAccess applies the localhost-only and domain blacklist rules to the
// domain a client connected through. An empty domain is not checked against
// the localhost rule.
func (m *Manager) CheckAccess(domain string) error {
	if domain != "" && m.config.OnlyLocalhost && domain != "localhost" {
		return fmt.Errorf("%w, access via domain %s", ErrLocalOnly, domain)
	}
	for _, pattern := range m.config.DomainBlacklist {
		if ok, _ := path.Match(pattern, domain); ok {
			m.log.Info().Str("domain", domain).Str("pattern", pattern).Msg("access for domain blacklisted")
			return fmt.Errorf("%w: %s", ErrDomainDenied, domain)
		}
	}
	return nil
}

// ResolveDomain extracts the host name from a Host header or URL, dropping
// scheme and port.
func ResolveDomain(raw string) string {
	raw = strings.TrimSpace(raw)
	if i := strings.Index(raw, "://"); i >= 0 {
		raw = raw[i+3:]
	}
	if i := strings.IndexAny(raw, "/?#"); i >= 0 {
		raw = raw[:i]
	}
	if host, _, err := net.SplitHostPort(raw); err == nil {
		return host
	}
	return strings.Trim(raw, "[]")
}
