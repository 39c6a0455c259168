// Package audit implements async dispatch of token lifecycle events.
//
// # Components
//
//   - [Sink]: interface for event consumers (channel, JSON writer, slog, no-op, fan-out).
//   - [Dispatcher]: buffered async relay with drop-if-full or block-if-full semantics.
//   - [Event]: structured record with timestamp, type, user, session, family and metadata.
//
// # What this package must NOT do
//
//   - Decide which events to emit.
//   - Import goToken or any sibling internal package.
package audit
