// Package logstore keeps the structured log events that clients send through
// liestudio.logger.log, one capped Redis list per user, and returns them for
// liestudio.logger.get.
package logstore
