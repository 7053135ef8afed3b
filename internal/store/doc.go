// Package store provides a SQLite-backed sync target.
//
// A Store persists the documents a sync pass selected, the sync state of the
// last committed pass, and a journal of every session and disposition:
//   - documents: one row per identity, holding the current revision
//   - sync_state: the replica id and filter of the last committed pass
//   - watermarks: one watermark per source instance
//   - sessions: every pass, with its terminal status
//   - dispositions: every apply call, in dispatch order
//
// # Sessions
//
// Every write carries the session that performed it. A session ends exactly
// once, either through EndingSync (committed) or Abort (aborted); later
// writes on it fail with ErrSessionClosed.
//
// # Idempotency
//
// Apply calls are idempotent per revision. Re-applying the same version key
// with the same content hash leaves the documents table untouched, and the
// journal records the disposition as not applied.
//
// # Deterministic Query Results
//
// All list queries order by identity (or by journal seq), so status output
// and test expectations are stable.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
