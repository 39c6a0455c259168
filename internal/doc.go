// Package internal contains helpers private to goToken: identifier
// generation and device fingerprinting.
//
// # Sub-packages
//
//   - audit: async event dispatch (Dispatcher + Sink implementations)
//   - flows: the rotation flow, free of metrics and audit concerns
//   - rate: Redis-backed fixed-window limiter for refresh attempts
//   - security: posture report and session heuristics
//   - sweeper: periodic cleanup of expired and revoked records
//
// # What this package must NOT do
//
//   - Export types that appear in the public goToken API.
//   - Be imported by any package outside the goToken module.
package internal
