package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/roach88/docsync/internal/ir"
)

// Target is the destination store a sync pass writes into.
//
// Every method is mandatory. Apply calls must be independently idempotent:
// re-applying the same VersionKey must leave the target unchanged.
type Target interface {
	// SyncState returns the persisted state of the last successful sync.
	// The watermark is looked up for the given source instance.
	SyncState(ctx context.Context, instanceID string) (ir.SyncState, error)

	// StartingSync opens a session for a pass over the given replica.
	StartingSync(ctx context.Context, replicaID string) (ir.Session, error)

	// EndingSync commits the session and persists the new state.
	EndingSync(ctx context.Context, s ir.Session, filter string, source ir.SourceIdentity, watermark time.Time) error

	// Abort closes the session after a pass-fatal failure.
	Abort(ctx context.Context, s ir.Session, cause error) error

	// Clear wipes all previously synchronized documents and watermarks.
	Clear(ctx context.Context, s ir.Session) error

	// ScanAll enumerates every version key the target holds.
	// An empty result is a valid first-sync state.
	ScanAll(ctx context.Context) ([]ir.TargetKey, error)

	// ApplyMatching adds or updates a document. Content is nil when the
	// target declared DataNone.
	ApplyMatching(ctx context.Context, s ir.Session, key ir.VersionKey, content *ir.Content) error

	// ApplyNonMatching removes a document that no longer satisfies the filter.
	ApplyNonMatching(ctx context.Context, s ir.Session, key ir.VersionKey) error

	// ApplyDeleted removes a document deleted at the source.
	ApplyDeleted(ctx context.Context, s ir.Session, key ir.VersionKey) error

	// DataRequirement declares how much content ApplyMatching needs.
	DataRequirement() ir.DataRequirement

	// Log is a diagnostic sink. It never fails.
	Log(level slog.Level, msg string, err error)
}

// SearchRequest describes one source scan.
type SearchRequest struct {
	// Filter is the selection expression.
	Filter string

	// Since restricts the scan to revisions modified at or after it.
	// The zero time requests a full scan, which reports matching documents
	// only. A since scan also reports non-matching revisions and deletion
	// stubs.
	Since time.Time

	// Candidates restricts the scan to a resolved identity set.
	// Nil means unrestricted.
	Candidates CandidateSet
}

// CandidateSet is a scoped restriction of native ids produced by
// Source.Restrict. It must be released exactly once.
type CandidateSet interface {
	Len() int
	Release() error
}

// Source is the collection being synchronized.
type Source interface {
	// Identity names the collection and the physical copy being read.
	Identity() ir.SourceIdentity

	// ValidateFilter rejects expressions the source cannot evaluate.
	ValidateFilter(expr string) error

	// Search streams events to fn in source order and returns the
	// point-in-time watermark at which the scan started. An error from fn
	// stops the scan and is returned unchanged.
	Search(ctx context.Context, req SearchRequest, fn func(ir.Event) error) (time.Time, error)

	// Restrict resolves identities to a candidate set. Identities that no
	// longer exist are dropped.
	Restrict(ctx context.Context, identities []string) (CandidateSet, error)

	// Load materializes content for a matching event. A document that
	// vanished since enumeration is reported as ir.LoadVanished; an error is
	// reserved for failures that make the whole source unusable.
	Load(ctx context.Context, ev ir.Event, data ir.DataRequirement) (ir.LoadResult, error)
}
