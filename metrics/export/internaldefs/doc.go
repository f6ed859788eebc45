// Package internaldefs holds the exported metric names and bucket bounds
// shared by the exporters, and the source reading the server's metrics.
//
// Names are stable: dashboards and alerts key on them.
package internaldefs
