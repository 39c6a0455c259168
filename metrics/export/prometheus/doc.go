// Package prometheus exposes engine counters and latency histograms as a
// client_golang [prometheus.Collector].
//
// Counter names are gotoken_*_total. The issuance and rotation latency
// histograms are gotoken_issue_latency_seconds and
// gotoken_rotate_latency_seconds.
//
// # What this package must NOT do
//
//   - Register in the global Prometheus registry. Callers register the
//     collector or mount [Exporter.Handler].
//   - Mutate engine state.
package prometheus
