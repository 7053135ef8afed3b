package source

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/roach88/docsync/internal/engine"
	"github.com/roach88/docsync/internal/filter"
	"github.com/roach88/docsync/internal/ir"
)

var _ engine.Source = (*Collection)(nil)

// ValidateFilter implements engine.Source.
func (c *Collection) ValidateFilter(expr string) error {
	_, err := c.compile(expr)
	return err
}

// compile returns the cached compiled filter for expr.
func (c *Collection) compile(expr string) (*filter.Filter, error) {
	c.mu.RLock()
	f, ok := c.filters[expr]
	c.mu.RUnlock()
	if ok {
		return f, nil
	}

	f, err := filter.Compile(expr)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.filters[expr] = f
	c.mu.Unlock()
	return f, nil
}

// Search implements engine.Source.
//
// Entries are visited in identity order. A full scan (zero Since) reports
// live matching documents only. A since scan visits entries modified at or
// after Since and reports each as matching, non-matching or deleted.
//
// The returned watermark is the clock reading taken with the snapshot, so
// any change made after the snapshot is picked up by the next since scan.
func (c *Collection) Search(ctx context.Context, req engine.SearchRequest, fn func(ir.Event) error) (time.Time, error) {
	f, err := c.compile(req.Filter)
	if err != nil {
		return time.Time{}, fmt.Errorf("search: %w", err)
	}

	var allowed *candidateSet
	if req.Candidates != nil {
		cs, ok := req.Candidates.(*candidateSet)
		if !ok || cs.owner != c {
			return time.Time{}, fmt.Errorf("search: %w", ErrForeignCandidates)
		}
		if cs.isReleased() {
			return time.Time{}, fmt.Errorf("search: %w", ErrReleased)
		}
		allowed = cs
	}

	c.mu.RLock()
	docs := c.snapshot()
	watermark := c.clock.Now()
	c.mu.RUnlock()

	incremental := !req.Since.IsZero()
	for _, d := range docs {
		if err := ctx.Err(); err != nil {
			return time.Time{}, fmt.Errorf("search: %w", err)
		}
		if allowed != nil && !allowed.contains(d.nativeID) {
			continue
		}
		if incremental && d.Modified.Before(req.Since) {
			continue
		}

		var cat ir.Category
		switch {
		case d.Deleted:
			if !incremental {
				continue
			}
			cat = ir.CategoryDeleted
		default:
			match, err := f.Match(d.Fields)
			if err != nil {
				return time.Time{}, fmt.Errorf("search: match %s: %w", d.Identity, err)
			}
			if match {
				cat = ir.CategoryMatching
			} else {
				if !incremental {
					continue
				}
				cat = ir.CategoryNonMatching
			}
		}

		if err := fn(ir.Event{Key: d.Key(), Category: cat, NativeID: d.nativeID}); err != nil {
			return time.Time{}, err
		}
	}
	return watermark, nil
}

// Restrict implements engine.Source. Identities that are unknown or
// deleted are dropped.
func (c *Collection) Restrict(ctx context.Context, identities []string) (engine.CandidateSet, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("restrict: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	cs := &candidateSet{owner: c, ids: make(map[uint32]struct{}, len(identities))}
	for _, id := range identities {
		d, ok := c.docs[id]
		if !ok || d.Deleted {
			continue
		}
		cs.ids[d.nativeID] = struct{}{}
	}
	c.openSets++
	return cs, nil
}

// Load implements engine.Source.
func (c *Collection) Load(ctx context.Context, ev ir.Event, data ir.DataRequirement) (ir.LoadResult, error) {
	if err := ctx.Err(); err != nil {
		return ir.LoadResult{}, fmt.Errorf("load %s: %w", ev.Key.Identity, err)
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	d, ok := c.byNative[ev.NativeID]
	if !ok || d.Deleted || d.Identity != ev.Key.Identity {
		return ir.Vanished(fmt.Errorf("%w: %s", ErrUnknownIdentity, ev.Key.Identity)), nil
	}

	content := &ir.Content{Fields: d.Fields.Clone()}
	if content.Fields == nil {
		content.Fields = ir.Fields{}
	}
	if data == ir.DataFull {
		content.Body = slices.Clone(d.Body)
	}
	return ir.Loaded(content), nil
}
