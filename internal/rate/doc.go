// Package rate provides the Redis-backed refresh throttle.
//
// # Window semantics
//
// Fixed-window counters: INCR + conditional PEXPIRE on first hit, executed as
// one script so a crash between the two cannot leave an immortal counter.
// Keys are `{prefix}:rl:{tokenFamily}`.
//
// # What this package must NOT do
//
//   - Decide what happens to a throttled caller.
//   - Be imported outside the goToken module.
package rate
