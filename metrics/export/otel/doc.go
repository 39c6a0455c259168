// Package otel publishes engine metrics through an OpenTelemetry
// [metric.Meter].
//
// Instruments follow the token lifecycle rather than the engine's flat
// counter list:
//
//   - gotoken.issuances and gotoken.rotations carry an outcome attribute;
//     reuse, conflicts, throttling and policy denials have their own counters.
//   - gotoken.revocations counts revoked records by reason;
//     gotoken.revocation.operations counts family and user revokes by scope.
//   - gotoken.sessions carries an event attribute (created, removed);
//     cap evictions are gotoken.session.evictions.
//   - gotoken.cleanup.records carries the sweeper action.
//   - gotoken.latency.bucket is a cumulative gauge keyed by operation and le,
//     with gotoken.latency.count alongside.
//
// # What this package must NOT do
//
//   - Own the MeterProvider. Callers supply the Meter.
//   - Mutate engine state.
package otel
