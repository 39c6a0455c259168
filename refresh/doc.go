// Package refresh derives the at-rest form of a refresh token.
//
// Raw refresh tokens are never persisted. Stores hold [Hash] of the raw
// string and lookups compare with [Verify], which runs in constant time.
//
// # What this package must NOT do
//
//   - Access Redis or any I/O.
//   - Sign or parse tokens (see jwt).
//   - Implement rotation or replay logic.
package refresh
