package studio

import (
	"io"

	"github.com/liestudio/studio/internal/audit"
)

// AuditEvent is one audit record emitted by the client or the server
// procedures.
type AuditEvent = audit.Event

// AuditSink receives audit events.
type AuditSink = audit.Sink

// AuditDispatcher relays events to a sink asynchronously.
type AuditDispatcher = audit.Dispatcher

// NoOpSink drops audit events.
type NoOpSink = audit.NoOpSink

// LogSink writes audit events to a zerolog logger.
type LogSink = audit.LogSink

// Audit event types.
const (
	AuditLogin            = audit.EventLogin
	AuditLogout           = audit.EventLogout
	AuditResume           = audit.EventResume
	AuditGuardDenied      = audit.EventGuardDenied
	AuditPasswordRetrieve = audit.EventPasswordRetrieve
	AuditSSO              = audit.EventSSO
)

// NewChannelSink returns a sink that buffers events in a channel.
func NewChannelSink(buffer int) *audit.ChannelSink {
	return audit.NewChannelSink(buffer)
}

// NewJSONWriterSink returns a sink writing one JSON object per line to w.
func NewJSONWriterSink(w io.Writer) *audit.JSONWriterSink {
	return audit.NewJSONWriterSink(w)
}

// NewAuditDispatcher starts a dispatcher for sink. It returns nil when cfg
// is disabled.
func NewAuditDispatcher(cfg AuditConfig, sink AuditSink) *AuditDispatcher {
	return audit.NewDispatcher(audit.Config{
		Enabled:    cfg.Enabled,
		BufferSize: cfg.BufferSize,
		DropIfFull: cfg.DropIfFull,
		Types:      cfg.Types,
	}, sink)
}
