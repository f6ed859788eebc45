// Package audit relays audit events (logins, logouts, guard redirects,
// password retrievals) to a Sink without blocking the caller.
//
// [Dispatcher] is a buffered async relay that either drops events when full
// (counting them) or blocks until the caller's context ends. Sinks decide
// where events go: a channel, JSON lines on a writer, or a zerolog logger.
package audit
