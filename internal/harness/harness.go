package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/roach88/docsync/internal/engine"
	"github.com/roach88/docsync/internal/ir"
	"github.com/roach88/docsync/internal/source"
	"github.com/roach88/docsync/internal/testutil"
)

// Harness is the scenario execution engine.
// It drives the real sync engine against a recording in-memory target with
// a manual clock, so every run of a scenario yields the same trace.
type Harness struct {
	clock  *testutil.ManualClock
	source *source.Collection
	engine *engine.Engine
	target *testutil.MemoryTarget
	logger *slog.Logger
}

// Run executes a test scenario and returns the result.
//
// Execution flow:
// 1. Build the source collection and seed the target
// 2. Run each step, advancing the clock one minute before it
// 3. Trace target calls, log sink entries and the outcome of each sync
// 4. Evaluate expect clauses and assertions
func Run(scenario *Scenario) (*Result, error) {
	start := scenario.Start
	if start.IsZero() {
		start = DefaultStart
	}

	data, err := ir.ParseDataRequirement(scenario.Target.Data)
	if err != nil {
		return nil, fmt.Errorf("target.data: %w", err)
	}

	h := &Harness{
		clock:  testutil.NewManualClock(start),
		target: testutil.NewMemoryTarget(data),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)), // Suppress engine logs in scenarios
	}

	if err := h.useSource(&scenario.Source); err != nil {
		return nil, fmt.Errorf("failed to build source: %w", err)
	}
	h.seedTarget(scenario.Target)

	ctx := context.Background()
	result := NewResult()
	for i, step := range scenario.Steps {
		h.clock.Advance(time.Minute)
		if err := h.executeStep(ctx, i+1, step, result); err != nil {
			return nil, fmt.Errorf("step %d: %w", i+1, err)
		}
	}

	result.State = h.target.Identities()

	for _, msg := range EvaluateAssertions(result, scenario.Assertions, h.target) {
		result.AddError(msg)
	}
	return result, nil
}

// useSource replaces the collection (and the engine reading it).
func (h *Harness) useSource(f *source.File) error {
	col, err := f.Build(source.WithClock(h.clock))
	if err != nil {
		return err
	}
	h.source = col
	h.engine = engine.New(col, engine.WithLogger(h.logger))
	return nil
}

func (h *Harness) seedTarget(setup TargetSetup) {
	keys := make([]ir.VersionKey, 0, len(setup.Documents))
	for _, d := range setup.Documents {
		keys = append(keys, ir.VersionKey{
			Identity:     d.Identity,
			Sequence:     d.Sequence,
			SequenceTime: d.SequenceTime.UTC(),
		})
	}
	h.target.Seed(keys...)

	if st := setup.State; st != nil {
		h.target.SeedState(st.InstanceID, ir.SyncState{
			ReplicaID: st.ReplicaID,
			Filter:    st.Filter,
			Watermark: st.Watermark.UTC(),
		})
	}
}

// executeStep runs one step. Only sync steps produce trace events.
func (h *Harness) executeStep(ctx context.Context, n int, step Step, result *Result) error {
	switch {
	case step.Sync != nil:
		h.executeSync(ctx, n, step.Sync, result)

	case step.Put != nil:
		fields, err := ir.FieldsFromMap(step.Put.Fields)
		if err != nil {
			return fmt.Errorf("put %s: %w", step.Put.Identity, err)
		}
		var body []byte
		if step.Put.Body != "" {
			body = []byte(step.Put.Body)
		}
		h.source.Put(step.Put.Identity, fields, body)

	case step.Delete != "":
		if _, ok := h.source.Delete(step.Delete); !ok {
			return fmt.Errorf("delete %s: no live document", step.Delete)
		}

	case step.Remove != "":
		if !h.source.Remove(step.Remove) {
			return fmt.Errorf("remove %s: unknown identity", step.Remove)
		}

	case step.ReplaceSource != nil:
		if err := h.useSource(step.ReplaceSource); err != nil {
			return fmt.Errorf("replace source: %w", err)
		}

	case step.FailOn != nil:
		h.target.FailOn(step.FailOn.Op, step.FailOn.Identity, errors.New(step.FailOn.Error))
	}

	h.logger.Debug("step completed", "step", n)
	return nil
}

// executeSync runs one pass and validates its expect clause.
func (h *Harness) executeSync(ctx context.Context, n int, step *SyncStep, result *Result) {
	h.target.ResetCalls()
	res, err := h.engine.Sync(ctx, step.Filter, h.target)

	result.addCalls(n, h.target.Calls())
	result.addLogs(n, h.target.Logs())

	code := ""
	if err != nil {
		code = errorCode(err)
		result.addFailure(n, code)
	} else {
		result.addOutcome(n, res)
	}

	if step.Expect == nil {
		if err != nil {
			result.AddError(fmt.Sprintf("step %d: sync failed: %v", n, err))
		}
		return
	}
	for _, msg := range checkExpect(step.Expect, res, code, err) {
		result.AddError(fmt.Sprintf("step %d: %s", n, msg))
	}
}

// errorCode extracts the SyncError code, or "UNKNOWN".
func errorCode(err error) string {
	var serr *engine.SyncError
	if errors.As(err, &serr) {
		return string(serr.Code)
	}
	return "UNKNOWN"
}

func checkExpect(exp *ExpectClause, res ir.SyncResult, code string, err error) []string {
	var msgs []string

	if exp.Error != "" {
		if err == nil {
			return []string{fmt.Sprintf("expected error %s, sync succeeded (%s)", exp.Error, formatSyncResult(res))}
		}
		if code != exp.Error {
			msgs = append(msgs, fmt.Sprintf("expected error %s, got %s", exp.Error, code))
		}
		return msgs
	}
	if err != nil {
		return []string{fmt.Sprintf("sync failed: %v", err)}
	}

	if exp.Mode != "" && exp.Mode != string(res.Mode) {
		msgs = append(msgs, fmt.Sprintf("mode = %s, expected %s", res.Mode, exp.Mode))
	}
	counts := []struct {
		name string
		want *int
		got  int
	}{
		{"matched", exp.Matched, res.Matched},
		{"non_matched", exp.NonMatched, res.NonMatched},
		{"deleted", exp.Deleted, res.Deleted},
		{"purged", exp.Purged, res.Purged},
		{"skipped", exp.Skipped, res.Skipped},
	}
	for _, c := range counts {
		if c.want != nil && *c.want != c.got {
			msgs = append(msgs, fmt.Sprintf("%s = %d, expected %d", c.name, c.got, *c.want))
		}
	}
	return msgs
}
