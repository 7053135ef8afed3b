// Package engine implements the docsync reconciliation engine.
//
// The engine moves document revisions from a Source into a Target. Each call
// to Engine.Sync is one pass:
//
//  1. Read the target's last replica id, filter and watermark
//  2. Open a session, wiping the target if the source replica changed
//  3. Choose a mode: full reconciliation when the filter changed or no
//     watermark exists, otherwise an incremental replay since the watermark
//  4. In full mode, diff source and target version keys (Reconcile), purge
//     orphans if the filter changed, and copy only what the diff selected
//  5. Dispatch every scanned event to the target, in scan order
//  6. Commit the session with the new watermark, or abort it on failure
//
// The pass is single-threaded: each event is applied before the next one is
// requested. The engine holds no locks. Callers serialize passes against the
// same source and target pair.
//
// Failures fall into two classes. A document that vanishes between
// enumeration and content load is skipped and counted in SyncResult.Skipped.
// Anything else aborts the session and is returned as a *SyncError.
package engine
