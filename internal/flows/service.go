package flows

import "context"

// Service is the centralized flow runner built once by internal/services.
type Service struct {
	deps Deps
}

// New returns a flow service with immutable dependency wiring.
func New(deps Deps) Service {
	return Service{deps: deps}
}

// Initialized reports whether the service has been wired with flow deps.
func (s Service) Initialized() bool {
	return s.deps.Login.ValidatePassword != nil && s.deps.Logout.Unbind != nil
}

func (s Service) Login(ctx context.Context, req LoginRequest) (*LoginResult, error) {
	return RunLogin(ctx, req, s.deps.Login)
}

func (s Service) Logout(ctx context.Context, sessionID string) (string, bool, error) {
	u, err := RunLogout(ctx, sessionID, s.deps.Logout)
	if err != nil || u == nil {
		return "", false, err
	}
	return u.Username, true, nil
}

func (s Service) SSO(ctx context.Context, token, sessionID string) (map[string]any, error) {
	u, err := RunSSO(ctx, token, sessionID, s.deps.SSO)
	if err != nil {
		return nil, err
	}
	return u.Safe(), nil
}

func (s Service) Retrieve(ctx context.Context, email string) (bool, error) {
	return RunRetrieve(ctx, email, s.deps.Retrieve)
}
