// Package security holds the pure scoring used to flag suspicious token
// issuance and the configuration posture report.
//
// [Evaluate] is advisory: it returns counts and flags and never blocks or
// revokes anything itself.
package security
