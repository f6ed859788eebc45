// Package otel binds LIEStudio counters and latency histograms to
// OpenTelemetry observable instruments.
//
// [NewOTelExporter] registers an Int64ObservableCounter per counter and an
// Int64ObservableGauge per histogram bucket. One callback reads the
// source's MetricsSnapshot on every collection cycle.
//
// # What this package must NOT do
//
//   - Own the MeterProvider; callers supply the Meter.
//   - Mutate client or server state.
package otel
