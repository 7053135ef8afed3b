package testutil

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/roach88/docsync/internal/ir"
)

// Call is one recorded target call.
type Call struct {
	Op       string    `json:"op"`
	Session  string    `json:"session,omitempty"`
	Identity string    `json:"identity,omitempty"`
	Sequence uint64    `json:"sequence,omitempty"`
	Fields   ir.Fields `json:"fields,omitempty"`
	Body     string    `json:"body,omitempty"`
	Detail   string    `json:"detail,omitempty"`
}

// LogEntry is one message received through Log.
type LogEntry struct {
	Level slog.Level
	Msg   string
	Err   string
}

// StoredDoc is a document held by a MemoryTarget.
type StoredDoc struct {
	Key     ir.VersionKey
	LocalID int64
	Content *ir.Content
}

type memSession struct {
	id string
}

func (s *memSession) ID() string { return s.id }

// MemoryTarget is a recording in-memory sync target.
//
// It satisfies the engine's Target contract, records every call in order,
// and can be told to fail specific calls. Session ids are "session-1",
// "session-2", ... in creation order.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type MemoryTarget struct {
	mu         sync.Mutex
	data       ir.DataRequirement
	replicaID  string
	filter     string
	watermarks map[string]time.Time
	docs       map[string]*StoredDoc
	nextLocal  int64
	sessions   int
	open       map[string]bool
	calls      []Call
	logs       []LogEntry
	failures   map[string]error
}

// NewMemoryTarget creates an empty target declaring the given data requirement.
func NewMemoryTarget(data ir.DataRequirement) *MemoryTarget {
	return &MemoryTarget{
		data:       data,
		watermarks: make(map[string]time.Time),
		docs:       make(map[string]*StoredDoc),
		open:       make(map[string]bool),
		failures:   make(map[string]error),
	}
}

// Seed stores documents directly, without recording calls.
func (t *MemoryTarget) Seed(keys ...ir.VersionKey) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, k := range keys {
		t.store(k, nil)
	}
}

// SeedState sets the persisted sync state as if a previous pass committed
// it for instanceID.
func (t *MemoryTarget) SeedState(instanceID string, state ir.SyncState) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.replicaID = state.ReplicaID
	t.filter = state.Filter
	if !state.Watermark.IsZero() {
		t.watermarks[instanceID] = state.Watermark
	}
}

// FailOn makes op fail with err. When identity is non-empty only calls for
// that identity fail.
func (t *MemoryTarget) FailOn(op, identity string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failures[failureKey(op, identity)] = err
}

func failureKey(op, identity string) string {
	if identity == "" {
		return op
	}
	return op + ":" + identity
}

// Calls returns a copy of the recorded calls.
func (t *MemoryTarget) Calls() []Call {
	t.mu.Lock()
	defer t.mu.Unlock()
	return slices.Clone(t.calls)
}

// Ops returns the recorded operation names in order.
func (t *MemoryTarget) Ops() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	ops := make([]string, len(t.calls))
	for i, c := range t.calls {
		ops[i] = c.Op
	}
	return ops
}

// CallsFor returns the recorded calls of one operation.
func (t *MemoryTarget) CallsFor(op string) []Call {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []Call
	for _, c := range t.calls {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

// Logs returns a copy of the received log entries.
func (t *MemoryTarget) Logs() []LogEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	return slices.Clone(t.logs)
}

// HasLog reports whether any log message contains substr.
func (t *MemoryTarget) HasLog(substr string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, l := range t.logs {
		if strings.Contains(l.Msg, substr) {
			return true
		}
	}
	return false
}

// Doc returns the stored document for identity.
func (t *MemoryTarget) Doc(identity string) (StoredDoc, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	d, ok := t.docs[identity]
	if !ok {
		return StoredDoc{}, false
	}
	return *d, true
}

// Identities returns the stored identities in order.
func (t *MemoryTarget) Identities() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	ids := make([]string, 0, len(t.docs))
	for id := range t.docs {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// OpenSessions returns the number of sessions not yet ended or aborted.
func (t *MemoryTarget) OpenSessions() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.open)
}

// ResetCalls forgets recorded calls and logs, keeping stored state.
func (t *MemoryTarget) ResetCalls() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.calls = nil
	t.logs = nil
}

// SyncState returns the last committed state for instanceID.
func (t *MemoryTarget) SyncState(_ context.Context, instanceID string) (ir.SyncState, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.record(Call{Op: "SyncState", Detail: instanceID})
	if err := t.failure("SyncState", ""); err != nil {
		return ir.SyncState{}, err
	}
	return ir.SyncState{
		ReplicaID: t.replicaID,
		Filter:    t.filter,
		Watermark: t.watermarks[instanceID],
	}, nil
}

// StartingSync opens a new session.
func (t *MemoryTarget) StartingSync(_ context.Context, replicaID string) (ir.Session, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.failure("StartingSync", ""); err != nil {
		t.record(Call{Op: "StartingSync", Detail: replicaID})
		return nil, err
	}
	t.sessions++
	s := &memSession{id: fmt.Sprintf("session-%d", t.sessions)}
	t.open[s.id] = true
	t.record(Call{Op: "StartingSync", Session: s.id, Detail: replicaID})
	return s, nil
}

// EndingSync commits the session and stores the new state.
func (t *MemoryTarget) EndingSync(_ context.Context, s ir.Session, filter string, source ir.SourceIdentity, watermark time.Time) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.record(Call{
		Op:      "EndingSync",
		Session: s.ID(),
		Detail:  fmt.Sprintf("filter=%s watermark=%s", filter, formatTime(watermark)),
	})
	if err := t.checkOpen(s); err != nil {
		return err
	}
	if err := t.failure("EndingSync", ""); err != nil {
		return err
	}
	delete(t.open, s.ID())
	t.replicaID = source.ReplicaID
	t.filter = filter
	if watermark.IsZero() {
		delete(t.watermarks, source.InstanceID)
	} else {
		t.watermarks[source.InstanceID] = watermark
	}
	return nil
}

// Abort closes the session without committing state.
func (t *MemoryTarget) Abort(_ context.Context, s ir.Session, cause error) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	detail := ""
	if cause != nil {
		detail = cause.Error()
	}
	t.record(Call{Op: "Abort", Session: s.ID(), Detail: detail})
	if err := t.checkOpen(s); err != nil {
		return err
	}
	delete(t.open, s.ID())
	return nil
}

// Clear wipes all documents and watermarks.
func (t *MemoryTarget) Clear(_ context.Context, s ir.Session) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.record(Call{Op: "Clear", Session: s.ID()})
	if err := t.checkOpen(s); err != nil {
		return err
	}
	if err := t.failure("Clear", ""); err != nil {
		return err
	}
	t.docs = make(map[string]*StoredDoc)
	t.watermarks = make(map[string]time.Time)
	return nil
}

// ScanAll lists stored version keys in identity order.
func (t *MemoryTarget) ScanAll(_ context.Context) ([]ir.TargetKey, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.record(Call{Op: "ScanAll"})
	if err := t.failure("ScanAll", ""); err != nil {
		return nil, err
	}
	keys := make([]ir.TargetKey, 0, len(t.docs))
	for _, d := range t.docs {
		keys = append(keys, ir.TargetKey{VersionKey: d.Key, LocalID: d.LocalID})
	}
	slices.SortFunc(keys, func(a, b ir.TargetKey) int {
		return strings.Compare(a.Identity, b.Identity)
	})
	return keys, nil
}

// ApplyMatching stores the revision.
func (t *MemoryTarget) ApplyMatching(_ context.Context, s ir.Session, key ir.VersionKey, content *ir.Content) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	c := Call{Op: "ApplyMatching", Session: s.ID(), Identity: key.Identity, Sequence: key.Sequence}
	if content != nil {
		c.Fields = content.Fields.Clone()
		c.Body = string(content.Body)
	}
	t.record(c)
	if err := t.checkOpen(s); err != nil {
		return err
	}
	if err := t.failure("ApplyMatching", key.Identity); err != nil {
		return err
	}
	t.store(key, content)
	return nil
}

// ApplyNonMatching removes the document.
func (t *MemoryTarget) ApplyNonMatching(_ context.Context, s ir.Session, key ir.VersionKey) error {
	return t.remove("ApplyNonMatching", s, key)
}

// ApplyDeleted removes the document.
func (t *MemoryTarget) ApplyDeleted(_ context.Context, s ir.Session, key ir.VersionKey) error {
	return t.remove("ApplyDeleted", s, key)
}

// DataRequirement returns the declared requirement.
func (t *MemoryTarget) DataRequirement() ir.DataRequirement {
	return t.data
}

// Log records the message.
func (t *MemoryTarget) Log(level slog.Level, msg string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e := LogEntry{Level: level, Msg: msg}
	if err != nil {
		e.Err = err.Error()
	}
	t.logs = append(t.logs, e)
}

func (t *MemoryTarget) remove(op string, s ir.Session, key ir.VersionKey) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.record(Call{Op: op, Session: s.ID(), Identity: key.Identity, Sequence: key.Sequence})
	if err := t.checkOpen(s); err != nil {
		return err
	}
	if err := t.failure(op, key.Identity); err != nil {
		return err
	}
	delete(t.docs, key.Identity)
	return nil
}

// store upserts a document. Caller must hold the lock.
func (t *MemoryTarget) store(key ir.VersionKey, content *ir.Content) {
	d, ok := t.docs[key.Identity]
	if !ok {
		t.nextLocal++
		d = &StoredDoc{LocalID: t.nextLocal}
		t.docs[key.Identity] = d
	}
	d.Key = key
	d.Content = content
}

func (t *MemoryTarget) record(c Call) {
	t.calls = append(t.calls, c)
}

func (t *MemoryTarget) checkOpen(s ir.Session) error {
	if s == nil {
		return errors.New("nil session")
	}
	if !t.open[s.ID()] {
		return fmt.Errorf("session %s is not open", s.ID())
	}
	return nil
}

func (t *MemoryTarget) failure(op, identity string) error {
	if identity != "" {
		if err, ok := t.failures[failureKey(op, identity)]; ok {
			return err
		}
	}
	return t.failures[op]
}

func formatTime(ts time.Time) string {
	if ts.IsZero() {
		return "none"
	}
	return ts.UTC().Format(time.RFC3339Nano)
}
