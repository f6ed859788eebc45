// Package prometheus renders LIEStudio metrics in Prometheus text exposition
// format.
//
// [NewPrometheusExporter] reads a *studio.Client; [NewServerExporter] reads
// the metrics of the server procedures. Counter names are liestudio_*_total;
// the histograms are liestudio_call_latency_seconds and
// liestudio_login_latency_seconds.
//
// # What this package must NOT do
//
//   - Register metrics in a global Prometheus registry; callers mount the Handler.
package prometheus
