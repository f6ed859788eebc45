// Package wamp implements the client side of the WAMP v2 basic profile used
// by LIEStudio: session establishment with challenge-response
// authentication, the caller role and the transports and serializers needed
// to reach a router.
//
// # Transports
//
// A [Dialer] holds an ordered list of [TransportSpec] values. Open tries
// each entry once, in order, and runs the handshake on the first transport
// that connects. A router that rejects the session with ABORT ends the
// attempt; only connection failures move on to the next transport.
//
// # Architecture boundaries
//
// This package owns wire messages, serialization and the [Client] session.
// It does not know about LIEStudio procedures, users or the session store;
// those live in the root package and in internal/services.
//
// # What this package must NOT do
//
//   - Retry a failed call or reconnect on its own.
//   - Import the root package or any package that imports it.
package wamp
