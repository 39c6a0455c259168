// Package flows contains the pure-function orchestrator behind Engine.Rotate.
//
// [RunRotate] accepts a typed dependency struct and returns a result whose
// failure kind the root package maps onto its public errors, metrics and audit
// events.
//
// # What this package must NOT do
//
//   - Hold mutable state between calls.
//   - Import goToken (to avoid import cycles).
//   - Perform I/O directly; all I/O is mediated through dependency funcs.
package flows
