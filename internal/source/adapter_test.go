package source

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/docsync/internal/engine"
	"github.com/roach88/docsync/internal/ir"
)

type seen struct {
	id  string
	cat ir.Category
}

func collect(t *testing.T, c *Collection, req engine.SearchRequest) ([]seen, time.Time) {
	t.Helper()
	var out []seen
	wm, err := c.Search(context.Background(), req, func(ev ir.Event) error {
		out = append(out, seen{ev.Key.Identity, ev.Category})
		return nil
	})
	require.NoError(t, err)
	return out, wm
}

// populate builds A (Memo, t0), B (Task, t1), C (Memo, deleted at t3).
func populate(c *Collection) {
	c.Put("A", ir.Fields{"form": ir.Str("Memo")}, []byte("a"))
	c.Put("B", ir.Fields{"form": ir.Str("Task")}, nil)
	c.Put("C", ir.Fields{"form": ir.Str("Memo")}, nil)
	c.Delete("C")
}

func TestSearchFullReportsMatchingOnly(t *testing.T) {
	c, clock := newTestCollection()
	populate(c)
	scanAt := clock.now

	got, wm := collect(t, c, engine.SearchRequest{Filter: `form: "Memo"`})

	assert.Equal(t, []seen{{"A", ir.CategoryMatching}}, got)
	assert.True(t, wm.Equal(scanAt))
}

func TestSearchSinceReportsAllCategories(t *testing.T) {
	c, _ := newTestCollection()
	populate(c)

	got, _ := collect(t, c, engine.SearchRequest{Filter: `form: "Memo"`, Since: epoch})

	assert.Equal(t, []seen{
		{"A", ir.CategoryMatching},
		{"B", ir.CategoryNonMatching},
		{"C", ir.CategoryDeleted},
	}, got)
}

func TestSearchSinceIsInclusive(t *testing.T) {
	c, _ := newTestCollection()
	populate(c)

	// B was modified at epoch+1m; C at epoch+3m.
	got, _ := collect(t, c, engine.SearchRequest{Filter: `form: "Memo"`, Since: epoch.Add(time.Minute)})

	assert.Equal(t, []seen{
		{"B", ir.CategoryNonMatching},
		{"C", ir.CategoryDeleted},
	}, got)
}

func TestSearchRestrictedToCandidates(t *testing.T) {
	c, _ := newTestCollection()
	c.Put("A", ir.Fields{"form": ir.Str("Memo")}, nil)
	c.Put("B", ir.Fields{"form": ir.Str("Memo")}, nil)
	c.Put("C", ir.Fields{"form": ir.Str("Memo")}, nil)

	cs, err := c.Restrict(context.Background(), []string{"C", "A", "nope"})
	require.NoError(t, err)
	defer cs.Release()
	assert.Equal(t, 2, cs.Len())

	got, _ := collect(t, c, engine.SearchRequest{Filter: `form: "Memo"`, Candidates: cs})
	assert.Equal(t, []seen{{"A", ir.CategoryMatching}, {"C", ir.CategoryMatching}}, got)
}

func TestRestrictDropsStubs(t *testing.T) {
	c, _ := newTestCollection()
	populate(c)

	cs, err := c.Restrict(context.Background(), []string{"A", "C"})
	require.NoError(t, err)
	assert.Equal(t, 1, cs.Len())
	require.NoError(t, cs.Release())
}

func TestCandidateSetRelease(t *testing.T) {
	c, _ := newTestCollection()
	c.Put("A", ir.Fields{}, nil)

	cs, err := c.Restrict(context.Background(), []string{"A"})
	require.NoError(t, err)
	assert.Equal(t, 1, c.OpenCandidateSets())

	require.NoError(t, cs.Release())
	assert.Equal(t, 0, c.OpenCandidateSets())
	assert.ErrorIs(t, cs.Release(), ErrReleased)
	assert.Equal(t, 0, c.OpenCandidateSets())

	_, err = c.Search(context.Background(), engine.SearchRequest{Filter: `{}`, Candidates: cs}, func(ir.Event) error { return nil })
	assert.ErrorIs(t, err, ErrReleased)
}

func TestSearchRejectsForeignCandidates(t *testing.T) {
	c1, _ := newTestCollection()
	c2, _ := newTestCollection()
	cs, err := c2.Restrict(context.Background(), nil)
	require.NoError(t, err)
	defer cs.Release()

	_, err = c1.Search(context.Background(), engine.SearchRequest{Filter: `{}`, Candidates: cs}, func(ir.Event) error { return nil })
	assert.ErrorIs(t, err, ErrForeignCandidates)
}

func TestSearchStopsOnCallbackError(t *testing.T) {
	c, _ := newTestCollection()
	c.Put("A", ir.Fields{}, nil)
	c.Put("B", ir.Fields{}, nil)
	stop := errors.New("stop")

	calls := 0
	_, err := c.Search(context.Background(), engine.SearchRequest{Filter: `{}`}, func(ir.Event) error {
		calls++
		return stop
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 1, calls)
}

func TestSearchRejectsBadFilter(t *testing.T) {
	c, _ := newTestCollection()
	_, err := c.Search(context.Background(), engine.SearchRequest{Filter: `form: `}, func(ir.Event) error { return nil })
	require.Error(t, err)
	assert.Error(t, c.ValidateFilter(""))
	assert.NoError(t, c.ValidateFilter(`form: "Memo"`))
}

func TestLoadByDataRequirement(t *testing.T) {
	c, _ := newTestCollection()
	c.Put("A", ir.Fields{"form": ir.Str("Memo")}, []byte("body"))

	var ev ir.Event
	_, err := c.Search(context.Background(), engine.SearchRequest{Filter: `{}`}, func(e ir.Event) error {
		ev = e
		return nil
	})
	require.NoError(t, err)

	summary, err := c.Load(context.Background(), ev, ir.DataSummary)
	require.NoError(t, err)
	require.Equal(t, ir.LoadOK, summary.Outcome)
	assert.Equal(t, ir.Fields{"form": ir.Str("Memo")}, summary.Content.Fields)
	assert.Nil(t, summary.Content.Body)

	full, err := c.Load(context.Background(), ev, ir.DataFull)
	require.NoError(t, err)
	assert.Equal(t, []byte("body"), full.Content.Body)
}

func TestLoadVanished(t *testing.T) {
	c, _ := newTestCollection()
	c.Put("A", ir.Fields{}, nil)
	c.Put("B", ir.Fields{}, nil)

	var events []ir.Event
	_, err := c.Search(context.Background(), engine.SearchRequest{Filter: `{}`}, func(e ir.Event) error {
		events = append(events, e)
		return nil
	})
	require.NoError(t, err)

	c.Remove("A")
	c.Delete("B")

	for _, ev := range events {
		res, err := c.Load(context.Background(), ev, ir.DataFull)
		require.NoError(t, err)
		assert.Equal(t, ir.LoadVanished, res.Outcome, ev.Key.Identity)
		assert.ErrorIs(t, res.Cause, ErrUnknownIdentity)
	}
}
