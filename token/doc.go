// Package token owns the refresh token record: its data model, the pure state
// transitions that move it through its lifecycle, and the [Store] backends that
// persist it.
//
// # Lifecycle
//
//	Active -> Exhausted (usage cap reached)
//	Active -> Revoked
//	Active -> Expired -> Revoked (cleanup)
//	any    -> Deleted (cleanup only)
//
// [ApplyUse] and [ApplyRevoke] compute the next record without I/O. Persisting
// it is a separate [Store.CompareAndSwap] conditioned on the version the caller
// read, which is what gives rotation a single winner.
//
// # Backends
//
//   - [RedisStore]: Lua scripts make create, swap and delete atomic.
//   - [PostgresStore]: conditional UPDATE/DELETE on the version column.
//
// # What this package must NOT do
//
//   - Sign, parse or hash tokens (see jwt and refresh).
//   - Decide policy such as reuse handling or session eviction.
package token
