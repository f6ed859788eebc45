package internaldefs

import (
	studio "github.com/liestudio/studio"
)

// CounterDef names one counter of studio.Metrics.
type CounterDef struct {
	ID   studio.MetricID
	Name string
	Help string
}

// HistogramDef names one latency histogram of studio.Metrics.
type HistogramDef struct {
	ID   studio.MetricID
	Name string
	Help string
}

// CounterDefs lists every exported counter in render order.
var CounterDefs = []CounterDef{
	{ID: studio.MetricLoginSuccess, Name: "liestudio_login_success_total", Help: "Accepted logins."},
	{ID: studio.MetricLoginFailure, Name: "liestudio_login_failure_total", Help: "Logins rejected for bad credentials."},
	{ID: studio.MetricLoginTransportError, Name: "liestudio_login_transport_error_total", Help: "Logins that never reached the server."},
	{ID: studio.MetricLoginPending, Name: "liestudio_login_pending_total", Help: "Logins refused while another was in flight."},
	{ID: studio.MetricLoginRateLimited, Name: "liestudio_login_rate_limited_total", Help: "Ticket logins refused by the rate limiter."},
	{ID: studio.MetricLogout, Name: "liestudio_logout_total", Help: "Successful logouts."},
	{ID: studio.MetricResumeSuccess, Name: "liestudio_resume_success_total", Help: "Logins resumed from a remember-me token."},
	{ID: studio.MetricResumeFailure, Name: "liestudio_resume_failure_total", Help: "Rejected remember-me tokens."},
	{ID: studio.MetricGuardDenied, Name: "liestudio_guard_denied_total", Help: "Navigations redirected to the login view."},
	{ID: studio.MetricSessionCreated, Name: "liestudio_session_created_total", Help: "Session records written on login."},
	{ID: studio.MetricSessionInvalidated, Name: "liestudio_session_invalidated_total", Help: "Session records removed on logout."},
	{ID: studio.MetricPasswordRetrieve, Name: "liestudio_password_retrieve_total", Help: "Password retrieval requests."},
	{ID: studio.MetricLogEventStored, Name: "liestudio_log_event_stored_total", Help: "Log events appended to the log store."},
	{ID: studio.MetricSessionLost, Name: "liestudio_session_lost_total", Help: "Logged-in sessions whose transport closed."},
}

// HistogramDefs lists every exported histogram in render order.
var HistogramDefs = []HistogramDef{
	{ID: studio.MetricCallLatency, Name: "liestudio_call_latency_seconds", Help: "RPC round-trip latency."},
	{ID: studio.MetricLoginLatency, Name: "liestudio_login_latency_seconds", Help: "Complete login flow latency."},
}

// HistogramBounds are the upper bounds of the eight buckets, in seconds.
var HistogramBounds = []string{
	"0.005",
	"0.01",
	"0.025",
	"0.05",
	"0.1",
	"0.25",
	"0.5",
	"+Inf",
}

// HistogramBoundSuffix spells HistogramBounds for instrument names, which
// cannot carry '.' next to digits or '+'.
var HistogramBoundSuffix = []string{
	"0_005",
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"inf",
}

// ServerSource reads the metrics and audit dispatcher of the server
// procedures. Audit may be nil.
type ServerSource struct {
	Metrics *studio.Metrics
	Audit   *studio.AuditDispatcher
}

func (s ServerSource) MetricsSnapshot() studio.MetricsSnapshot { return s.Metrics.Snapshot() }

func (s ServerSource) AuditDropped() uint64 {
	if s.Audit == nil {
		return 0
	}
	return s.Audit.Dropped()
}

// NormalizeBuckets pads or truncates raw to eight buckets.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets turns per-bucket counts into running totals.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
