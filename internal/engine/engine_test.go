package engine_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/docsync/internal/engine"
	"github.com/roach88/docsync/internal/ir"
	"github.com/roach88/docsync/internal/source"
	"github.com/roach88/docsync/internal/testutil"
)

var epoch = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

const memoFilter = `form: "Memo"`

type fixture struct {
	clock  *testutil.ManualClock
	col    *source.Collection
	target *testutil.MemoryTarget
	engine *engine.Engine
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newFixture(t *testing.T, data ir.DataRequirement) *fixture {
	t.Helper()
	clock := testutil.NewManualClock(epoch)
	col := source.NewCollection("replica-1", "instance-1", source.WithClock(clock))
	return &fixture{
		clock:  clock,
		col:    col,
		target: testutil.NewMemoryTarget(data),
		engine: engine.New(col, engine.WithLogger(quietLogger())),
	}
}

func (f *fixture) put(id, form string) ir.VersionKey {
	k := f.col.Put(id, ir.Fields{"form": ir.Str(form), "subject": ir.Str("subject " + id)}, []byte("body "+id))
	f.clock.Advance(time.Minute)
	return k
}

func (f *fixture) sync(t *testing.T, filter string) (ir.SyncResult, error) {
	t.Helper()
	return f.engine.Sync(context.Background(), filter, f.target)
}

func TestSyncEndToEndFirstPass(t *testing.T) {
	f := newFixture(t, ir.DataFull)
	f.put("A", "Memo")
	f.put("B", "Memo")
	f.put("C", "Memo")
	scanTime := f.clock.Peek()

	res, err := f.sync(t, memoFilter)
	require.NoError(t, err)

	assert.Equal(t, ir.SyncResult{Matched: 3, Mode: ir.ModeFull}, res)
	assert.Equal(t, []string{
		"SyncState", "StartingSync", "ScanAll",
		"ApplyMatching", "ApplyMatching", "ApplyMatching",
		"EndingSync",
	}, f.target.Ops())

	applied := f.target.CallsFor("ApplyMatching")
	assert.Equal(t, "A", applied[0].Identity)
	assert.Equal(t, ir.Fields{"form": ir.Str("Memo"), "subject": ir.Str("subject A")}, applied[0].Fields)
	assert.Equal(t, "body A", applied[0].Body)

	state, err := f.target.SyncState(context.Background(), "instance-1")
	require.NoError(t, err)
	assert.Equal(t, "replica-1", state.ReplicaID)
	assert.Equal(t, memoFilter, state.Filter)
	assert.True(t, scanTime.Equal(state.Watermark))
	assert.Equal(t, 0, f.target.OpenSessions())
}

func TestSyncIncrementalDeletionStub(t *testing.T) {
	f := newFixture(t, ir.DataFull)
	f.put("A", "Memo")
	f.put("D", "Memo")
	_, err := f.sync(t, memoFilter)
	require.NoError(t, err)
	f.clock.Advance(time.Minute)

	_, ok := f.col.Delete("D")
	require.True(t, ok)
	f.clock.Advance(time.Minute)
	f.target.ResetCalls()

	res, err := f.sync(t, memoFilter)
	require.NoError(t, err)

	assert.Equal(t, ir.SyncResult{Deleted: 1, Mode: ir.ModeIncremental}, res)
	assert.Equal(t, []string{"SyncState", "StartingSync", "ApplyDeleted", "EndingSync"}, f.target.Ops())
	deleted := f.target.CallsFor("ApplyDeleted")
	assert.Equal(t, "D", deleted[0].Identity)
	assert.Equal(t, uint64(2), deleted[0].Sequence)
	assert.Equal(t, []string{"A"}, f.target.Identities())
}

func TestSyncIncrementalReportsNonMatchingRevision(t *testing.T) {
	f := newFixture(t, ir.DataFull)
	f.put("A", "Memo")
	f.put("B", "Memo")
	_, err := f.sync(t, memoFilter)
	require.NoError(t, err)
	f.clock.Advance(time.Minute)

	f.put("B", "Task")
	f.put("C", "Memo")
	f.target.ResetCalls()

	res, err := f.sync(t, memoFilter)
	require.NoError(t, err)

	assert.Equal(t, ir.SyncResult{Matched: 1, NonMatched: 1, Mode: ir.ModeIncremental}, res)
	assert.Equal(t, []string{"SyncState", "StartingSync", "ApplyNonMatching", "ApplyMatching", "EndingSync"}, f.target.Ops())
	assert.Equal(t, []string{"A", "C"}, f.target.Identities())
}

func TestSyncFilterChangePurgesOrphans(t *testing.T) {
	f := newFixture(t, ir.DataFull)
	f.put("A", "Memo")
	f.put("B", "Task")
	_, err := f.sync(t, memoFilter)
	require.NoError(t, err)
	require.Equal(t, []string{"A"}, f.target.Identities())
	f.target.ResetCalls()

	res, err := f.sync(t, `form: "Task"`)
	require.NoError(t, err)

	assert.Equal(t, ir.SyncResult{Matched: 1, Purged: 1, Mode: ir.ModeFull}, res)
	assert.Equal(t, []string{
		"SyncState", "StartingSync", "ScanAll",
		"ApplyNonMatching", "ApplyMatching", "EndingSync",
	}, f.target.Ops())
	assert.Equal(t, "A", f.target.CallsFor("ApplyNonMatching")[0].Identity)
	assert.Equal(t, "B", f.target.CallsFor("ApplyMatching")[0].Identity)
	assert.Equal(t, []string{"B"}, f.target.Identities())
	assert.Equal(t, 0, f.col.OpenCandidateSets())
}

func TestSyncOrphansUntouchedWithoutFilterChange(t *testing.T) {
	f := newFixture(t, ir.DataFull)
	a := f.put("A", "Memo")
	f.target.Seed(a, ir.VersionKey{Identity: "Y", Sequence: 3, SequenceTime: epoch})

	res, err := f.sync(t, memoFilter)
	require.NoError(t, err)

	assert.Equal(t, ir.SyncResult{Matched: 1, Mode: ir.ModeFullNoop}, res)
	assert.Equal(t, []string{"SyncState", "StartingSync", "ScanAll", "EndingSync"}, f.target.Ops())
	assert.Equal(t, []string{"A", "Y"}, f.target.Identities())
}

func TestSyncPurgeOnlyPassKeepsPrescanWatermark(t *testing.T) {
	f := newFixture(t, ir.DataFull)
	f.col.Put("A", ir.Fields{"form": ir.Str("Memo"), "priority": ir.Int(1)}, nil)
	f.clock.Advance(time.Minute)
	f.col.Put("C", ir.Fields{"form": ir.Str("Memo"), "priority": ir.Int(2)}, nil)
	f.clock.Advance(time.Minute)
	_, err := f.sync(t, memoFilter)
	require.NoError(t, err)
	f.clock.Advance(time.Minute)
	prescan := f.clock.Peek()
	f.target.ResetCalls()

	res, err := f.sync(t, `form: "Memo", priority: 1`)
	require.NoError(t, err)

	assert.Equal(t, ir.SyncResult{Purged: 1, Mode: ir.ModeFull}, res)
	assert.Equal(t, []string{"SyncState", "StartingSync", "ScanAll", "ApplyNonMatching", "EndingSync"}, f.target.Ops())

	state, err := f.target.SyncState(context.Background(), "instance-1")
	require.NoError(t, err)
	assert.True(t, prescan.Equal(state.Watermark))
}

func TestSyncRestrictedCopyCommitsPrescanWatermark(t *testing.T) {
	clock := testutil.NewSteppingClock(epoch, time.Second)
	col := source.NewCollection("replica-1", "instance-1", source.WithClock(clock))
	target := testutil.NewMemoryTarget(ir.DataFull)
	e := engine.New(col, engine.WithLogger(quietLogger()))
	ctx := context.Background()

	col.Put("A", ir.Fields{"form": ir.Str("Memo")}, nil)
	col.Put("B", ir.Fields{"form": ir.Str("Task")}, nil)
	_, err := e.Sync(ctx, memoFilter, target)
	require.NoError(t, err)

	prescan := clock.Peek()
	res, err := e.Sync(ctx, `form: "Task"`, target)
	require.NoError(t, err)
	assert.Equal(t, ir.SyncResult{Matched: 1, Purged: 1, Mode: ir.ModeFull}, res)

	state, err := target.SyncState(ctx, "instance-1")
	require.NoError(t, err)
	assert.True(t, prescan.Equal(state.Watermark), "watermark %v, want prescan time %v", state.Watermark, prescan)
}

func TestSyncReplicaChangeWipesTarget(t *testing.T) {
	f := newFixture(t, ir.DataFull)
	f.put("A", "Memo")
	f.target.Seed(ir.VersionKey{Identity: "OLD", Sequence: 9, SequenceTime: epoch})
	f.target.SeedState("instance-1", ir.SyncState{
		ReplicaID: "replica-0",
		Filter:    memoFilter,
		Watermark: epoch.Add(time.Hour),
	})

	res, err := f.sync(t, memoFilter)
	require.NoError(t, err)

	assert.Equal(t, ir.ModeFull, res.Mode)
	assert.Equal(t, 1, res.Matched)
	assert.Equal(t, []string{
		"SyncState", "StartingSync", "Clear", "ScanAll", "ApplyMatching", "EndingSync",
	}, f.target.Ops())
	assert.Equal(t, []string{"A"}, f.target.Identities())
}

func TestSyncInstanceSwitchForcesFullWithoutWipe(t *testing.T) {
	f := newFixture(t, ir.DataFull)
	f.put("A", "Memo")
	_, err := f.sync(t, memoFilter)
	require.NoError(t, err)

	other := source.NewCollection("replica-1", "instance-2", source.WithClock(f.clock))
	a, _ := f.col.Get("A")
	require.NoError(t, other.Import(a))
	f.target.ResetCalls()

	res, err := engine.New(other, engine.WithLogger(quietLogger())).Sync(context.Background(), memoFilter, f.target)
	require.NoError(t, err)

	assert.Equal(t, ir.SyncResult{Matched: 1, Mode: ir.ModeFullNoop}, res)
	assert.NotContains(t, f.target.Ops(), "Clear")
	assert.Contains(t, f.target.Ops(), "ScanAll")
}

func TestSyncConflictResolution(t *testing.T) {
	t.Run("target later keeps target", func(t *testing.T) {
		f := newFixture(t, ir.DataFull)
		require.NoError(t, f.col.Import(source.Document{
			Identity: "X", Sequence: 5, SequenceTime: epoch.Add(10 * time.Minute),
			Fields: ir.Fields{"form": ir.Str("Memo")},
		}))
		f.target.Seed(ir.VersionKey{Identity: "X", Sequence: 5, SequenceTime: epoch.Add(12 * time.Minute)})

		res, err := f.sync(t, memoFilter)
		require.NoError(t, err)
		assert.Equal(t, ir.ModeFullNoop, res.Mode)
		assert.Empty(t, f.target.CallsFor("ApplyMatching"))
		assert.True(t, f.target.HasLog("conflict on X"))
	})

	t.Run("source later transfers", func(t *testing.T) {
		f := newFixture(t, ir.DataFull)
		require.NoError(t, f.col.Import(source.Document{
			Identity: "X", Sequence: 5, SequenceTime: epoch.Add(10 * time.Minute),
			Fields: ir.Fields{"form": ir.Str("Memo")},
		}))
		f.target.Seed(ir.VersionKey{Identity: "X", Sequence: 5, SequenceTime: epoch.Add(8 * time.Minute)})

		res, err := f.sync(t, memoFilter)
		require.NoError(t, err)
		assert.Equal(t, ir.SyncResult{Matched: 1, Mode: ir.ModeFull}, res)
		doc, ok := f.target.Doc("X")
		require.True(t, ok)
		assert.True(t, doc.Key.SequenceTime.Equal(epoch.Add(10*time.Minute)))
		assert.Equal(t, 0, f.col.OpenCandidateSets())
	})
}

func TestSyncNewerInTargetIsSkippedAndLogged(t *testing.T) {
	f := newFixture(t, ir.DataFull)
	require.NoError(t, f.col.Import(source.Document{
		Identity: "X", Sequence: 7, SequenceTime: epoch,
		Fields: ir.Fields{"form": ir.Str("Memo")},
	}))
	f.target.Seed(ir.VersionKey{Identity: "X", Sequence: 9, SequenceTime: epoch})

	res, err := f.sync(t, memoFilter)
	require.NoError(t, err)

	assert.Equal(t, ir.ModeFullNoop, res.Mode)
	assert.Empty(t, f.target.CallsFor("ApplyMatching"))
	assert.True(t, f.target.HasLog("newer revision of X"))
	doc, _ := f.target.Doc("X")
	assert.Equal(t, uint64(9), doc.Key.Sequence)
}

// vanishingSource reports selected documents as gone when loaded.
type vanishingSource struct {
	*source.Collection
	gone map[string]bool
}

func (s vanishingSource) Load(ctx context.Context, ev ir.Event, data ir.DataRequirement) (ir.LoadResult, error) {
	if s.gone[ev.Key.Identity] {
		return ir.Vanished(source.ErrUnknownIdentity), nil
	}
	return s.Collection.Load(ctx, ev, data)
}

func TestSyncSkipsVanishedDocument(t *testing.T) {
	f := newFixture(t, ir.DataSummary)
	f.put("A", "Memo")
	f.put("B", "Memo")
	f.put("C", "Memo")
	src := vanishingSource{Collection: f.col, gone: map[string]bool{"B": true}}

	res, err := engine.New(src, engine.WithLogger(quietLogger())).Sync(context.Background(), memoFilter, f.target)
	require.NoError(t, err)

	assert.Equal(t, ir.SyncResult{Matched: 2, Skipped: 1, Mode: ir.ModeFull}, res)
	assert.Equal(t, []string{"A", "C"}, f.target.Identities())
	assert.True(t, f.target.HasLog("B vanished"))
	assert.Contains(t, f.target.Ops(), "EndingSync")
}

func TestSyncDataRequirement(t *testing.T) {
	t.Run("none", func(t *testing.T) {
		f := newFixture(t, ir.DataNone)
		f.put("A", "Memo")
		_, err := f.sync(t, memoFilter)
		require.NoError(t, err)

		call := f.target.CallsFor("ApplyMatching")[0]
		assert.Nil(t, call.Fields)
		assert.Empty(t, call.Body)
	})

	t.Run("summary", func(t *testing.T) {
		f := newFixture(t, ir.DataSummary)
		f.put("A", "Memo")
		_, err := f.sync(t, memoFilter)
		require.NoError(t, err)

		call := f.target.CallsFor("ApplyMatching")[0]
		assert.Equal(t, ir.Str("Memo"), call.Fields["form"])
		assert.Empty(t, call.Body)
	})

	t.Run("full", func(t *testing.T) {
		f := newFixture(t, ir.DataFull)
		f.put("A", "Memo")
		_, err := f.sync(t, memoFilter)
		require.NoError(t, err)

		call := f.target.CallsFor("ApplyMatching")[0]
		assert.Equal(t, ir.Str("Memo"), call.Fields["form"])
		assert.Equal(t, "body A", call.Body)
	})
}

func TestSyncRejectsInvalidArguments(t *testing.T) {
	f := newFixture(t, ir.DataFull)

	_, err := f.sync(t, "  ")
	require.Error(t, err)
	assert.True(t, engine.IsInvalidArgument(err))

	_, err = f.sync(t, `form: "Memo`)
	require.Error(t, err)
	assert.True(t, engine.IsInvalidArgument(err))

	_, err = f.engine.Sync(context.Background(), memoFilter, nil)
	require.Error(t, err)
	assert.True(t, engine.IsInvalidArgument(err))

	assert.Empty(t, f.target.Ops())
}

func TestSyncDispatchFailureAbortsSession(t *testing.T) {
	f := newFixture(t, ir.DataFull)
	f.put("A", "Memo")
	f.put("B", "Memo")
	injected := errors.New("disk full")
	f.target.FailOn("ApplyMatching", "B", injected)

	_, err := f.sync(t, memoFilter)
	require.Error(t, err)

	assert.True(t, engine.IsDispatchError(err))
	assert.ErrorIs(t, err, injected)
	var serr *engine.SyncError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, "apply", serr.Phase)

	ops := f.target.Ops()
	assert.Equal(t, "Abort", ops[len(ops)-1])
	assert.NotContains(t, ops, "EndingSync")
	assert.Equal(t, 0, f.target.OpenSessions())
	assert.True(t, f.target.HasLog("sync failed"))

	state, _ := f.target.SyncState(context.Background(), "instance-1")
	assert.True(t, state.Watermark.IsZero())
}

func TestSyncReleasesCandidatesOnFailure(t *testing.T) {
	f := newFixture(t, ir.DataFull)
	a := f.put("A", "Memo")
	f.put("B", "Memo")
	f.target.Seed(a)
	f.target.FailOn("ApplyMatching", "B", errors.New("boom"))

	_, err := f.sync(t, memoFilter)
	require.Error(t, err)
	assert.True(t, engine.IsDispatchError(err))
	assert.Equal(t, 0, f.col.OpenCandidateSets())
}

func TestSyncEnumerationFailureAborts(t *testing.T) {
	f := newFixture(t, ir.DataFull)
	f.put("A", "Memo")
	f.target.FailOn("ScanAll", "", errors.New("corrupt index"))

	_, err := f.sync(t, memoFilter)
	require.Error(t, err)
	assert.True(t, engine.IsScanError(err))
	assert.Equal(t, []string{"SyncState", "StartingSync", "ScanAll", "Abort"}, f.target.Ops())
}

func TestSyncStartFailureHasNoSessionToAbort(t *testing.T) {
	f := newFixture(t, ir.DataFull)
	f.target.FailOn("StartingSync", "", errors.New("locked"))

	_, err := f.sync(t, memoFilter)
	require.Error(t, err)
	assert.True(t, engine.IsSessionError(err))
	assert.Equal(t, []string{"SyncState", "StartingSync"}, f.target.Ops())
}

func TestSyncCommitFailureAborts(t *testing.T) {
	f := newFixture(t, ir.DataFull)
	f.put("A", "Memo")
	f.target.FailOn("EndingSync", "", errors.New("readonly"))

	_, err := f.sync(t, memoFilter)
	require.Error(t, err)
	assert.True(t, engine.IsSessionError(err))

	ops := f.target.Ops()
	assert.Equal(t, []string{"EndingSync", "Abort"}, ops[len(ops)-2:])
	assert.Equal(t, 0, f.target.OpenSessions())
}

func TestSyncCancelledContextStillClosesSession(t *testing.T) {
	f := newFixture(t, ir.DataFull)
	f.put("A", "Memo")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.engine.Sync(ctx, memoFilter, f.target)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, engine.IsScanError(err))
	assert.Equal(t, 0, f.target.OpenSessions())
}
