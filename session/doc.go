// Package session holds the two sides of a LIEStudio session.
//
// # Client store
//
// [Store] is the in-memory record of who is logged in on this client. It is
// shared by pointer between the login flow, the route guard and the views,
// and keeps one invariant: IsLoggedIn implies a non-empty SessionToken.
//
// # Server registry
//
// [Registry] tracks established sessions in Redis, keyed by the WAMP session
// id, with a per-user index and a global counter. Records use a compact
// versioned binary encoding with forward migration on read. The encoder is
// append-only: new versions add fields but never reinterpret old ones.
//
// # What this package must NOT do
//
//   - Import the root package, wamp or user (no upward imports).
//   - Store passwords or remember-me tokens.
package session
