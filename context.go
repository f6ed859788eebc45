package studio

import "context"

type domainContextKey struct{}

// WithDomain attaches the domain the user reached the dashboard through.
// Login sends it along so the server can apply its domain rules; without it
// the server falls back to the Host header of the transport.
func WithDomain(ctx context.Context, domain string) context.Context {
	return context.WithValue(ctx, domainContextKey{}, domain)
}

func domainFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}

	domain, _ := ctx.Value(domainContextKey{}).(string)
	return domain
}
