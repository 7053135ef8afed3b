package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/roach88/docsync/internal/ir"
)

// Engine drives sync passes from one Source into any Target.
//
// Thread-safety: an Engine holds no per-pass state, so Sync may be called
// from several goroutines. Passes against the same target are not
// coordinated and must be serialized by the caller.
type Engine struct {
	source  Source
	logger  *slog.Logger
	metrics *Metrics
	now     func() time.Time
}

// EngineOption allows configuration of engine parameters.
type EngineOption func(*Engine)

// WithLogger sets the logger for pass diagnostics. Default: slog.Default().
func WithLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithMetrics records pass outcomes on m.
func WithMetrics(m *Metrics) EngineOption {
	return func(e *Engine) {
		e.metrics = m
	}
}

// New creates an Engine reading from source.
func New(source Source, opts ...EngineOption) *Engine {
	e := &Engine{
		source: source,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Sync runs one pass, bringing target up to date with the source documents
// selected by filter.
//
// Argument errors are returned before any session is opened. Every other
// failure aborts the session and is returned as a *SyncError wrapping the
// cause.
func (e *Engine) Sync(ctx context.Context, filter string, target Target) (ir.SyncResult, error) {
	filter = strings.TrimSpace(filter)
	if target == nil {
		return ir.SyncResult{}, newSyncError(ErrCodeInvalidArgument, "", "target is required", nil)
	}
	if filter == "" {
		return ir.SyncResult{}, newSyncError(ErrCodeInvalidArgument, "", "filter expression is required", nil)
	}
	if err := e.source.ValidateFilter(filter); err != nil {
		return ir.SyncResult{}, newSyncError(ErrCodeInvalidArgument, "", "invalid filter expression", err)
	}

	id := e.source.Identity()
	p := &pass{
		source:   e.source,
		target:   target,
		metrics:  e.metrics,
		filter:   filter,
		identity: id,
		log:      e.logger.With("replica", id.ReplicaID, "instance", id.InstanceID),
	}

	start := e.now()
	res, watermark, err := p.run(ctx)
	e.metrics.observePass(p.mode, err, e.now().Sub(start))
	if err != nil {
		return ir.SyncResult{}, err
	}
	e.metrics.observeResult(res, watermark)
	return res, nil
}

// pass holds the state of one Sync call.
type pass struct {
	source   Source
	target   Target
	metrics  *Metrics
	filter   string
	identity ir.SourceIdentity
	log      *slog.Logger
	mode     ir.Mode
	session  ir.Session
}

func (p *pass) run(ctx context.Context) (ir.SyncResult, time.Time, error) {
	state, err := p.target.SyncState(ctx, p.identity.InstanceID)
	if err != nil {
		serr := newSyncError(ErrCodeStateRead, "state", "read sync state", err)
		p.target.Log(slog.LevelError, "sync failed", serr)
		return ir.SyncResult{}, time.Time{}, serr
	}

	instanceChanged := state.ReplicaID != "" && state.ReplicaID != p.identity.ReplicaID
	filterChanged := state.Filter != "" && state.Filter != p.filter
	watermark := state.Watermark

	session, err := p.target.StartingSync(ctx, p.identity.ReplicaID)
	if err != nil {
		serr := newSyncError(ErrCodeSession, "start", "start sync session", err)
		p.target.Log(slog.LevelError, "sync failed", serr)
		return ir.SyncResult{}, time.Time{}, serr
	}
	p.session = session
	p.log = p.log.With("session", session.ID())

	if instanceChanged {
		p.log.Info("source replica changed, clearing target",
			"previous_replica", state.ReplicaID)
		if err := p.target.Clear(ctx, session); err != nil {
			return p.abort(ctx, newSyncError(ErrCodeSession, "clear", "clear target", err))
		}
		watermark = time.Time{}
	}

	var res ir.SyncResult
	var newWatermark time.Time
	if filterChanged || watermark.IsZero() {
		p.mode = ir.ModeFull
		p.log.Info("sync starting", "mode", p.mode, "filter_changed", filterChanged)
		res, newWatermark, err = p.full(ctx, filterChanged)
	} else {
		p.mode = ir.ModeIncremental
		p.log.Info("sync starting", "mode", p.mode, "since", watermark)
		res, newWatermark, err = p.incremental(ctx, watermark)
	}
	if err != nil {
		return p.abort(ctx, err)
	}
	if newWatermark.IsZero() {
		newWatermark = watermark
	}
	res.Mode = p.mode

	if err := p.target.EndingSync(ctx, session, p.filter, p.identity, newWatermark); err != nil {
		return p.abort(ctx, newSyncError(ErrCodeSession, "commit", "end sync session", err))
	}

	p.log.Info("sync committed",
		"mode", res.Mode,
		"matched", res.Matched,
		"non_matched", res.NonMatched,
		"deleted", res.Deleted,
		"purged", res.Purged,
		"skipped", res.Skipped,
		"watermark", newWatermark)
	return res, newWatermark, nil
}

// abort reports err to the target, closes the session and returns err.
// The abort call runs on a context detached from cancellation so that a
// cancelled pass still closes its session.
func (p *pass) abort(ctx context.Context, err error) (ir.SyncResult, time.Time, error) {
	p.target.Log(slog.LevelError, "sync failed", err)
	p.log.Error("sync aborted", "mode", p.mode, "error", err)
	if aerr := p.target.Abort(context.WithoutCancel(ctx), p.session, err); aerr != nil {
		p.log.Warn("abort failed", "error", aerr)
	}
	return ir.SyncResult{}, time.Time{}, err
}

func (p *pass) incremental(ctx context.Context, since time.Time) (ir.SyncResult, time.Time, error) {
	var res ir.SyncResult
	wm, err := p.scan(ctx, SearchRequest{Filter: p.filter, Since: since}, &res)
	return res, wm, err
}

func (p *pass) full(ctx context.Context, filterChanged bool) (ir.SyncResult, time.Time, error) {
	var res ir.SyncResult

	targetKeys, err := p.target.ScanAll(ctx)
	if err != nil {
		return res, time.Time{}, newSyncError(ErrCodeEnumeration, "enumerate", "enumerate target", err)
	}

	req := SearchRequest{Filter: p.filter}
	if len(targetKeys) == 0 {
		// First sync: everything is missing, copy unrestricted.
		wm, err := p.scan(ctx, req, &res)
		return res, wm, err
	}

	var sourceKeys []ir.VersionKey
	prescanWM, err := p.source.Search(ctx, req, func(ev ir.Event) error {
		if ev.Category == ir.CategoryMatching {
			sourceKeys = append(sourceKeys, ev.Key)
		}
		return nil
	})
	if err != nil {
		return res, time.Time{}, newSyncError(ErrCodeEnumeration, "prescan", "enumerate source", err)
	}

	plan := Reconcile(sourceKeys, targetKeys, filterChanged)
	p.metrics.observePlan(plan)
	p.reportPlan(plan)

	if plan.NothingToDo() {
		p.mode = ir.ModeFullNoop
		res.Matched = len(plan.Equal)
		return res, prescanWM, nil
	}

	for _, k := range plan.Purge {
		if err := p.target.ApplyNonMatching(ctx, p.session, k.VersionKey); err != nil {
			return res, time.Time{}, newSyncError(ErrCodeDispatch, "purge",
				fmt.Sprintf("purge %s", k.Identity), err)
		}
		res.Purged++
	}

	if len(plan.Transfer) == 0 {
		return res, prescanWM, nil
	}

	candidates, err := p.source.Restrict(ctx, plan.Transfer)
	if err != nil {
		return res, time.Time{}, newSyncError(ErrCodeEnumeration, "restrict", "resolve transfer candidates", err)
	}
	if candidates == nil {
		return res, time.Time{}, newSyncError(ErrCodeEnumeration, "restrict", "source returned no candidate set", nil)
	}
	defer func() {
		if rerr := candidates.Release(); rerr != nil {
			p.log.Warn("release candidate set failed", "error", rerr)
		}
	}()

	if candidates.Len() == 0 {
		p.log.Info("all transfer candidates vanished before copy", "requested", len(plan.Transfer))
		return res, prescanWM, nil
	}

	// Documents outside the transfer set are only known as of the prescan,
	// so the later copy snapshot must not advance the watermark past it.
	req.Candidates = candidates
	wm, err := p.scan(ctx, req, &res)
	if err == nil && (wm.IsZero() || prescanWM.Before(wm)) {
		wm = prescanWM
	}
	return res, wm, err
}

func (p *pass) reportPlan(plan *Plan) {
	p.log.Info("reconciled",
		"missing", len(plan.Missing),
		"stale", len(plan.Stale),
		"newer_in_target", len(plan.NewerInTarget),
		"equal", len(plan.Equal),
		"conflicts", len(plan.Conflicts),
		"orphaned", len(plan.Orphaned),
		"transfer", len(plan.Transfer),
		"purge", len(plan.Purge))

	for _, id := range plan.NewerInTarget {
		p.target.Log(slog.LevelInfo,
			fmt.Sprintf("target holds a newer revision of %s, skipped", id), nil)
	}
	for _, c := range plan.Conflicts {
		if !c.SourceWins {
			p.target.Log(slog.LevelInfo,
				fmt.Sprintf("conflict on %s resolved in favour of target (source %s, target %s)",
					c.Identity, c.Source, c.Target), nil)
		}
	}
}

// scan runs one source search and dispatches every event to the target.
func (p *pass) scan(ctx context.Context, req SearchRequest, res *ir.SyncResult) (time.Time, error) {
	data := p.target.DataRequirement()
	wm, err := p.source.Search(ctx, req, func(ev ir.Event) error {
		return p.dispatch(ctx, ev, data, res)
	})
	if err != nil {
		var serr *SyncError
		if errors.As(err, &serr) {
			return time.Time{}, err
		}
		return time.Time{}, newSyncError(ErrCodeScan, "scan", "source scan", err)
	}
	return wm, nil
}

func (p *pass) dispatch(ctx context.Context, ev ir.Event, data ir.DataRequirement, res *ir.SyncResult) error {
	if err := ctx.Err(); err != nil {
		return newSyncError(ErrCodeScan, "scan", "scan interrupted", err)
	}

	switch ev.Category {
	case ir.CategoryMatching:
		var content *ir.Content
		if data != ir.DataNone {
			lr, err := p.source.Load(ctx, ev, data)
			if err != nil {
				return newSyncError(ErrCodeScan, "load", fmt.Sprintf("load %s", ev.Key.Identity), err)
			}
			if lr.Outcome != ir.LoadOK {
				p.target.Log(slog.LevelWarn,
					fmt.Sprintf("document %s vanished before load, skipped", ev.Key.Identity), lr.Cause)
				res.Skipped++
				return nil
			}
			content = lr.Content
		}
		if err := p.target.ApplyMatching(ctx, p.session, ev.Key, content); err != nil {
			return newSyncError(ErrCodeDispatch, "apply", fmt.Sprintf("apply matching %s", ev.Key.Identity), err)
		}
		res.Matched++

	case ir.CategoryNonMatching:
		if err := p.target.ApplyNonMatching(ctx, p.session, ev.Key); err != nil {
			return newSyncError(ErrCodeDispatch, "apply", fmt.Sprintf("apply non-matching %s", ev.Key.Identity), err)
		}
		res.NonMatched++

	case ir.CategoryDeleted:
		if err := p.target.ApplyDeleted(ctx, p.session, ev.Key); err != nil {
			return newSyncError(ErrCodeDispatch, "apply", fmt.Sprintf("apply deleted %s", ev.Key.Identity), err)
		}
		res.Deleted++

	default:
		return newSyncError(ErrCodeScan, "scan", fmt.Sprintf("unknown event category %s for %s", ev.Category, ev.Key.Identity), nil)
	}
	return nil
}
