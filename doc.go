// Package studio is the dashboard client of LIEStudio. It logs users in over
// a ticket-authenticated WAMP session, keeps the client-side session, and
// guards the dashboard views behind the login.
//
// A Client is built once with [Builder] and is safe for concurrent use:
//
//	c, err := studio.New().
//		WithConfig(cfg).
//		WithCookieJar(jar).
//		Build()
//	id, err := c.Login(ctx, studio.Credential{Username: "alice", Password: pw})
//
// # Login flow
//
// Login validates the form input, opens a transport (WebSocket first, then
// long-poll) authenticated with the application ticket, and calls the
// login procedure with the user's password. Only one login may be pending;
// a second one fails with [ErrLoginPending] without touching the network.
// On success the session store holds the user's identity and the router
// moves to the home view. Status reports the message the login view shows.
//
// # Error kinds
//
// [ErrorKind] sorts errors into validation, transport and application
// failures. Transport errors wrap [ErrTransport]; rejected credentials wrap
// [ErrLoginRejected].
//
// # What this package must NOT do
//
//   - Keep the password after Login returns.
//   - Import internal/services, which imports this package for metrics and
//     audit.
package studio
