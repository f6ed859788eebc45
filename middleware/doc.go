// Package middleware guards the server's view endpoints the way the route
// guard protects client views.
//
// # Guards
//
//   - [Guard] verifies the remember-me token from the cookie (or a Bearer
//     header) and redirects to the login path with 303 See Other on failure.
//   - [RequireSession] also requires the token's session to still be
//     present in the session registry, so a logout elsewhere takes effect.
//
// Verified claims are stored in the request context; read them with
// [ClaimsFromContext].
//
// # What this package must NOT do
//
//   - Issue tokens or set cookies.
//   - Make role based decisions.
package middleware
