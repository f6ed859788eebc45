package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/liestudio/studio/remember"
)

// Verifier checks remember-me tokens. *remember.Manager satisfies it.
type Verifier interface {
	CookieName() string
	Verify(token string) (*remember.Claims, error)
}

type claimsContextKey struct{}

// ClaimsFromContext returns the claims stored by a guard.
func ClaimsFromContext(ctx context.Context) (*remember.Claims, bool) {
	c, ok := ctx.Value(claimsContextKey{}).(*remember.Claims)
	return c, ok
}

// Guard admits requests carrying a valid remember-me token and redirects
// everything else to loginPath.
func Guard(verifier Verifier, loginPath string) func(http.Handler) http.Handler {
	return guard(verifier, nil, loginPath)
}

func guard(verifier Verifier, check func(context.Context, *remember.Claims) bool, loginPath string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if verifier == nil {
				deny(w, r, loginPath)
				return
			}
			token, ok := tokenFrom(r, verifier.CookieName())
			if !ok {
				deny(w, r, loginPath)
				return
			}
			claims, err := verifier.Verify(token)
			if err != nil {
				deny(w, r, loginPath)
				return
			}
			if check != nil && !check(r.Context(), claims) {
				deny(w, r, loginPath)
				return
			}

			ctx := context.WithValue(r.Context(), claimsContextKey{}, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func deny(w http.ResponseWriter, r *http.Request, loginPath string) {
	if loginPath == "" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	http.Redirect(w, r, loginPath, http.StatusSeeOther)
}

func tokenFrom(r *http.Request, cookieName string) (string, bool) {
	if c, err := r.Cookie(cookieName); err == nil && c.Value != "" {
		return c.Value, true
	}
	return bearerToken(r.Header.Get("Authorization"))
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if !strings.HasPrefix(value, bearer) {
		return "", false
	}

	token := value[len(bearer):]
	if token == "" {
		return "", false
	}

	return token, true
}
