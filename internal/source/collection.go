// Package source provides an in-memory versioned document collection and
// the engine.Source adapter over it.
//
// Every document carries a stable identity and a revision stamp (sequence
// and sequence time). Deleting a document leaves a deletion stub so that
// incremental scans can report it. Collections can be built in code or
// loaded from a YAML file.
package source

import (
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/roach88/docsync/internal/filter"
	"github.com/roach88/docsync/internal/ir"
)

// Document is one entry of a collection, either a live document or a
// deletion stub.
type Document struct {
	Identity     string
	Sequence     uint64
	SequenceTime time.Time
	// Modified is the time the entry last changed in this copy. Since scans
	// compare against it.
	Modified time.Time
	Fields   ir.Fields
	Body     []byte
	Deleted  bool

	nativeID uint32
}

// Key returns the document's version key.
func (d Document) Key() ir.VersionKey {
	return ir.VersionKey{Identity: d.Identity, Sequence: d.Sequence, SequenceTime: d.SequenceTime}
}

func (d Document) clone() Document {
	d.Fields = d.Fields.Clone()
	if d.Body != nil {
		d.Body = slices.Clone(d.Body)
	}
	return d
}

// Collection is a versioned document collection.
//
// Thread-safety: all methods are safe for concurrent use.
type Collection struct {
	mu         sync.RWMutex
	identity   ir.SourceIdentity
	clock      Clock
	docs       map[string]*Document
	byNative   map[uint32]*Document
	nextNative uint32
	filters    map[string]*filter.Filter
	openSets   int
}

// Option configures a Collection.
type Option func(*Collection)

// WithClock sets the clock used for revision stamps and watermarks.
// Default: SystemClock.
func WithClock(c Clock) Option {
	return func(col *Collection) {
		if c != nil {
			col.clock = c
		}
	}
}

// NewCollection creates an empty collection.
func NewCollection(replicaID, instanceID string, opts ...Option) *Collection {
	c := &Collection{
		identity: ir.SourceIdentity{ReplicaID: replicaID, InstanceID: instanceID},
		clock:    SystemClock{},
		docs:     make(map[string]*Document),
		byNative: make(map[uint32]*Document),
		filters:  make(map[string]*filter.Filter),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Identity implements engine.Source.
func (c *Collection) Identity() ir.SourceIdentity {
	return c.identity
}

// Put stores a new revision of a document, assigning the next sequence and
// the current time. A deletion stub with the same identity is revived.
func (c *Collection) Put(identity string, fields ir.Fields, body []byte) ir.VersionKey {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	d := c.entry(identity)
	d.Sequence++
	d.SequenceTime = now
	d.Modified = now
	d.Fields = fields.Clone()
	d.Body = slices.Clone(body)
	d.Deleted = false
	return d.Key()
}

// Delete replaces a live document with a deletion stub. It returns false if
// the identity is unknown or already deleted.
func (c *Collection) Delete(identity string) (ir.VersionKey, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	d, ok := c.docs[identity]
	if !ok || d.Deleted {
		return ir.VersionKey{}, false
	}
	now := c.clock.Now()
	d.Sequence++
	d.SequenceTime = now
	d.Modified = now
	d.Fields = nil
	d.Body = nil
	d.Deleted = true
	return d.Key(), true
}

// Import stores a revision exactly as given, as replication from another
// copy would. Modified defaults to the sequence time.
func (c *Collection) Import(doc Document) error {
	if strings.TrimSpace(doc.Identity) == "" {
		return fmt.Errorf("import: identity is required")
	}
	if doc.Sequence == 0 {
		return fmt.Errorf("import %s: sequence must be positive", doc.Identity)
	}
	if doc.SequenceTime.IsZero() {
		return fmt.Errorf("import %s: sequence time is required", doc.Identity)
	}
	if doc.Modified.IsZero() {
		doc.Modified = doc.SequenceTime
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	d := c.entry(doc.Identity)
	native := d.nativeID
	*d = doc.clone()
	d.nativeID = native
	if d.Deleted {
		d.Fields = nil
		d.Body = nil
	}
	return nil
}

// Remove erases a document without leaving a stub, as a purge of the
// underlying store would. Later loads of it report the document vanished.
func (c *Collection) Remove(identity string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	d, ok := c.docs[identity]
	if !ok {
		return false
	}
	delete(c.docs, identity)
	delete(c.byNative, d.nativeID)
	return true
}

// Get returns a copy of the entry for identity.
func (c *Collection) Get(identity string) (Document, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	d, ok := c.docs[identity]
	if !ok {
		return Document{}, false
	}
	return d.clone(), true
}

// Len returns the number of entries, stubs included.
func (c *Collection) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.docs)
}

// Documents returns copies of all entries in identity order.
func (c *Collection) Documents() []Document {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshot()
}

// Matching returns the identities of live documents matching f.
func (c *Collection) Matching(f *filter.Filter) ([]string, error) {
	var out []string
	for _, d := range c.Documents() {
		if d.Deleted {
			continue
		}
		ok, err := f.Match(d.Fields)
		if err != nil {
			return nil, fmt.Errorf("match %s: %w", d.Identity, err)
		}
		if ok {
			out = append(out, d.Identity)
		}
	}
	return out, nil
}

// OpenCandidateSets reports how many candidate sets have not been released.
func (c *Collection) OpenCandidateSets() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.openSets
}

// entry returns the document for identity, creating it with a fresh native
// id. Caller must hold the write lock.
func (c *Collection) entry(identity string) *Document {
	if d, ok := c.docs[identity]; ok {
		return d
	}
	c.nextNative++
	d := &Document{Identity: identity, nativeID: c.nextNative}
	c.docs[identity] = d
	c.byNative[d.nativeID] = d
	return d
}

// snapshot copies all entries in identity order. Caller must hold a lock.
func (c *Collection) snapshot() []Document {
	out := make([]Document, 0, len(c.docs))
	for _, d := range c.docs {
		out = append(out, d.clone())
	}
	slices.SortFunc(out, func(a, b Document) int {
		return strings.Compare(a.Identity, b.Identity)
	})
	return out
}
