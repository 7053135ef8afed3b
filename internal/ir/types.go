package ir

import (
	"fmt"
	"time"
)

// VersionKey identifies one revision of a logical document.
//
// Identity is stable across replicas and targets. Sequence is the monotonic
// revision counter; SequenceTime is the time the sequence was assigned and
// breaks ties when two replicas assign the same sequence independently.
type VersionKey struct {
	Identity     string    `json:"identity"`
	Sequence     uint64    `json:"sequence"`
	SequenceTime time.Time `json:"sequence_time"`
}

// SameRevision reports whether both keys describe the identical revision.
func (k VersionKey) SameRevision(other VersionKey) bool {
	return k.Sequence == other.Sequence && k.SequenceTime.Equal(other.SequenceTime)
}

// String renders the key for log output.
func (k VersionKey) String() string {
	return fmt.Sprintf("%s@%d/%s", k.Identity, k.Sequence, k.SequenceTime.UTC().Format(time.RFC3339Nano))
}

// TargetKey is a VersionKey as known by a target, together with the
// target's own local row identifier.
type TargetKey struct {
	VersionKey
	LocalID int64 `json:"local_id"`
}

// SourceIdentity names the source collection being synchronized.
//
// ReplicaID is shared by every copy of the same logical collection. A change
// of ReplicaID means the target can no longer be trusted to correspond to the
// source and must be wiped.
//
// InstanceID identifies one physical copy. Watermarks are kept per instance:
// switching to another copy of the same replica keeps target data but forces
// a full reconciliation, because the copies' change times are unrelated.
type SourceIdentity struct {
	ReplicaID  string `json:"replica_id"`
	InstanceID string `json:"instance_id"`
}

// SyncState is the persisted outcome of the last successful sync, as
// reported by a target. Zero values mean "never recorded".
type SyncState struct {
	ReplicaID string    `json:"replica_id,omitempty"`
	Filter    string    `json:"filter,omitempty"`
	Watermark time.Time `json:"watermark,omitempty"`
}

// Session is the opaque context a target hands out at the start of a sync.
// It is passed to every subsequent target call and closed exactly once.
type Session interface {
	// ID returns a unique identifier for log correlation.
	ID() string
}

// Category classifies a source event.
type Category int

const (
	// CategoryMatching is a document revision matching the filter.
	CategoryMatching Category = iota + 1
	// CategoryNonMatching is a document revision that no longer matches the filter.
	CategoryNonMatching
	// CategoryDeleted is a deletion stub.
	CategoryDeleted
)

// String implements fmt.Stringer.
func (c Category) String() string {
	switch c {
	case CategoryMatching:
		return "matching"
	case CategoryNonMatching:
		return "non_matching"
	case CategoryDeleted:
		return "deleted"
	default:
		return fmt.Sprintf("category(%d)", int(c))
	}
}

// Event is one entry of a source scan.
type Event struct {
	Key      VersionKey
	Category Category
	// NativeID is the source-local lookup key for content loads.
	NativeID uint32
}

// DataRequirement declares how much content a target needs per matching
// document.
type DataRequirement int

const (
	// DataNone means the target only needs version keys.
	DataNone DataRequirement = iota
	// DataSummary means summary fields only.
	DataSummary
	// DataFull means summary fields and body.
	DataFull
)

// String implements fmt.Stringer.
func (d DataRequirement) String() string {
	switch d {
	case DataNone:
		return "none"
	case DataSummary:
		return "summary"
	case DataFull:
		return "full"
	default:
		return fmt.Sprintf("data(%d)", int(d))
	}
}

// ParseDataRequirement parses the String form of a DataRequirement.
func ParseDataRequirement(s string) (DataRequirement, error) {
	switch s {
	case "none":
		return DataNone, nil
	case "summary":
		return DataSummary, nil
	case "full", "":
		return DataFull, nil
	default:
		return DataNone, fmt.Errorf("unknown data requirement %q: must be none, summary or full", s)
	}
}

// Content is the materialized payload of a matching document.
// Body is nil unless DataFull was requested.
type Content struct {
	Fields Fields `json:"fields"`
	Body   []byte `json:"body,omitempty"`
}

// LoadOutcome distinguishes a successful content load from a document that
// vanished between enumeration and fetch.
type LoadOutcome int

const (
	// LoadOK means Content holds the requested data.
	LoadOK LoadOutcome = iota + 1
	// LoadVanished means the document is gone; Cause explains why.
	LoadVanished
)

// LoadResult is the typed result of a per-document content load.
// A vanished document is an expected outcome, not an error.
type LoadResult struct {
	Outcome LoadOutcome
	Content *Content
	Cause   error
}

// Loaded wraps content in a LoadOK result.
func Loaded(c *Content) LoadResult {
	return LoadResult{Outcome: LoadOK, Content: c}
}

// Vanished builds a LoadVanished result.
func Vanished(cause error) LoadResult {
	return LoadResult{Outcome: LoadVanished, Cause: cause}
}

// Mode records how a sync pass ran.
type Mode string

const (
	// ModeFull is a full reconciliation followed by a copy scan.
	ModeFull Mode = "full"
	// ModeFullNoop is a full reconciliation that found nothing to move.
	ModeFullNoop Mode = "full-noop"
	// ModeIncremental is a since-watermark replay.
	ModeIncremental Mode = "incremental"
)

// SyncResult summarizes a successful sync pass.
type SyncResult struct {
	Matched    int  `json:"matched"`
	NonMatched int  `json:"non_matched"`
	Deleted    int  `json:"deleted"`
	Purged     int  `json:"purged"`
	Skipped    int  `json:"skipped"`
	Mode       Mode `json:"mode"`
}
