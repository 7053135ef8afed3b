package engine

import (
	"slices"
	"strings"

	"github.com/roach88/docsync/internal/ir"
)

// Conflict is an identity whose source and target share a sequence number
// but disagree on its time. The later time is authoritative.
type Conflict struct {
	Identity   string
	Source     ir.VersionKey
	Target     ir.VersionKey
	SourceWins bool
}

// Plan is the outcome of a full reconciliation. All identity slices are
// sorted. The plan is discarded after the pass.
type Plan struct {
	Missing       []string
	Stale         []string
	NewerInTarget []string
	Equal         []string
	Conflicts     []Conflict
	Orphaned      []ir.TargetKey

	// Transfer is Missing + Stale + conflicts the source wins.
	Transfer []string

	// Purge is Orphaned when the filter changed, else empty.
	Purge []ir.TargetKey
}

// NothingToDo reports whether the pass can commit without scanning.
func (p *Plan) NothingToDo() bool {
	return len(p.Transfer) == 0 && len(p.Purge) == 0
}

// Reconcile classifies every identity by comparing the source's version keys
// against the target's.
//
// When the target holds nothing, every source identity is missing and no
// orphan or conflict classification runs.
func Reconcile(source []ir.VersionKey, target []ir.TargetKey, filterChanged bool) *Plan {
	p := &Plan{}

	if len(target) == 0 {
		for _, k := range source {
			p.Missing = append(p.Missing, k.Identity)
		}
		slices.Sort(p.Missing)
		p.Missing = slices.Compact(p.Missing)
		p.Transfer = slices.Clone(p.Missing)
		return p
	}

	inTarget := make(map[string]ir.TargetKey, len(target))
	for _, k := range target {
		inTarget[k.Identity] = k
	}
	inSource := make(map[string]ir.VersionKey, len(source))
	for _, k := range source {
		inSource[k.Identity] = k
	}

	for id, src := range inSource {
		tgt, ok := inTarget[id]
		switch {
		case !ok:
			p.Missing = append(p.Missing, id)
		case tgt.Sequence < src.Sequence:
			p.Stale = append(p.Stale, id)
		case tgt.Sequence > src.Sequence:
			p.NewerInTarget = append(p.NewerInTarget, id)
		case tgt.SequenceTime.Equal(src.SequenceTime):
			p.Equal = append(p.Equal, id)
		default:
			p.Conflicts = append(p.Conflicts, Conflict{
				Identity:   id,
				Source:     src,
				Target:     tgt.VersionKey,
				SourceWins: src.SequenceTime.After(tgt.SequenceTime),
			})
		}
	}

	for id, tgt := range inTarget {
		if _, ok := inSource[id]; !ok {
			p.Orphaned = append(p.Orphaned, tgt)
		}
	}

	slices.Sort(p.Missing)
	slices.Sort(p.Stale)
	slices.Sort(p.NewerInTarget)
	slices.Sort(p.Equal)
	slices.SortFunc(p.Conflicts, func(a, b Conflict) int {
		return strings.Compare(a.Identity, b.Identity)
	})
	slices.SortFunc(p.Orphaned, func(a, b ir.TargetKey) int {
		return strings.Compare(a.Identity, b.Identity)
	})

	p.Transfer = append(p.Transfer, p.Missing...)
	p.Transfer = append(p.Transfer, p.Stale...)
	for _, c := range p.Conflicts {
		if c.SourceWins {
			p.Transfer = append(p.Transfer, c.Identity)
		}
	}
	slices.Sort(p.Transfer)

	if filterChanged {
		p.Purge = slices.Clone(p.Orphaned)
	}
	return p
}
