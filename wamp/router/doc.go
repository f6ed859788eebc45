// Package router is a single-realm WAMP dealer for in-process procedures.
//
// It accepts sessions over WebSocket and HTTP long-poll, authenticates them
// through pluggable [Authenticator] values (ticket and WAMP-CRA are
// provided) and routes CALL messages to procedures registered with
// [Router.Register]. There is no broker role and no remote callee role:
// every procedure runs inside the server process.
package router
