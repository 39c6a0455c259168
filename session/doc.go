// Package session provides the Redis-backed device session registry and the
// compact binary session encoding.
//
// # Session cap
//
// [Registry.Create] evicts the least recently active sessions of a user before
// inserting, in one Lua script. The evicted records are returned; revoking their
// refresh-token families is the caller's job.
//
// # Architecture boundaries
//
// This package owns the [Registry] (Redis operations) and the [Record] model.
// It does NOT interpret tokens or touch the token store.
//
// # What this package must NOT do
//
//   - Import goToken or jwt (no upward imports).
//   - Store raw tokens in [Record] fields.
package session
