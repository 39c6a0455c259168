// Package sweeper reclaims token records that can no longer be used.
//
// Each run pages through the token store and, per record:
//
//   - deletes it when its owner no longer resolves (orphan);
//   - revokes it with reason "expired" once its expiry has passed;
//   - deletes it once it has been revoked for longer than the retention window.
//
// Every write is conditioned on the version read during the scan, so a record
// touched by live traffic in the meantime is skipped, not clobbered. Finally
// the run prunes family revocation markers older than the retention window.
//
// # What this package must NOT do
//
//   - Mutate a record that is still usable, except to remove an orphan.
//   - Abort a run because one record failed.
package sweeper
