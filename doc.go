// Package goToken manages the lifecycle of access and refresh tokens for an
// already authenticated user: issuance, single-use rotation with reuse
// detection, revocation, a per-user session cap and periodic cleanup.
//
// Access tokens are stateless JWTs verified without a store round-trip.
// Refresh tokens are JWTs too, but every one is backed by a stored record
// keyed by the SHA-256 of the token. The raw token is never persisted.
//
// Engine methods are safe for concurrent use once [Builder.Build] returns.
//
// # Rotation
//
// [Engine.Rotate] consumes the presented refresh token with a
// version-conditioned write and issues its successor in the same family.
// Of N concurrent rotations of one token exactly one succeeds; the others
// get [ErrRotationConflict]. Presenting a token that was already consumed is
// treated as theft: every token of the family is revoked and the call
// returns a [*ReuseError].
//
// # What this package must NOT do
//
//   - Authenticate users. Credentials are checked by the caller.
//   - Persist raw token strings or log them.
//   - Expose Redis or Postgres clients in its public API.
package goToken
