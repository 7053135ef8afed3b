package harness

import (
	"fmt"

	"github.com/roach88/docsync/internal/ir"
	"github.com/roach88/docsync/internal/testutil"
)

// Synthetic trace operations. Every other Op is a target method name.
const (
	OpResult = "Result"
	OpError  = "Error"
	OpLog    = "Log"
)

// TraceEvent is one observable effect of a sync step: a target call, a
// diagnostic sent to the target's log sink, or the outcome of the pass.
type TraceEvent struct {
	Step     int       `json:"step"`
	Op       string    `json:"op"`
	Session  string    `json:"session,omitempty"`
	Identity string    `json:"identity,omitempty"`
	Sequence uint64    `json:"sequence,omitempty"`
	Fields   ir.Fields `json:"fields,omitempty"`
	Body     string    `json:"body,omitempty"`
	Detail   string    `json:"detail,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every expect clause and assertion held.
	Pass bool `json:"pass"`

	// Trace holds the events of every sync step in order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains validation error messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// State lists the identities the target holds after the last step.
	State []string `json:"state"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
		State:  []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// addCalls appends recorded target calls for one step.
func (r *Result) addCalls(step int, calls []testutil.Call) {
	for _, c := range calls {
		r.Trace = append(r.Trace, TraceEvent{
			Step:     step,
			Op:       c.Op,
			Session:  c.Session,
			Identity: c.Identity,
			Sequence: c.Sequence,
			Fields:   c.Fields,
			Body:     c.Body,
			Detail:   c.Detail,
		})
	}
}

// addLogs appends log sink entries for one step. Only level and message are
// traced; error text is left out so traces stay stable when wording of
// wrapped causes changes.
func (r *Result) addLogs(step int, logs []testutil.LogEntry) {
	for _, l := range logs {
		r.Trace = append(r.Trace, TraceEvent{
			Step:   step,
			Op:     OpLog,
			Detail: fmt.Sprintf("%s: %s", l.Level, l.Msg),
		})
	}
}

func (r *Result) addOutcome(step int, res ir.SyncResult) {
	r.Trace = append(r.Trace, TraceEvent{
		Step:   step,
		Op:     OpResult,
		Detail: formatSyncResult(res),
	})
}

func (r *Result) addFailure(step int, code string) {
	r.Trace = append(r.Trace, TraceEvent{
		Step:   step,
		Op:     OpError,
		Detail: code,
	})
}

func formatSyncResult(res ir.SyncResult) string {
	return fmt.Sprintf("mode=%s matched=%d non_matched=%d deleted=%d purged=%d skipped=%d",
		res.Mode, res.Matched, res.NonMatched, res.Deleted, res.Purged, res.Skipped)
}
