package harness

import (
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/docsync/internal/testutil"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for i, event := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] step %d %s\n", i+1, event.Step, callName(event))
		}
	}

	return buf.String()
}

// callName renders an event as "Op" or "Op Identity".
func callName(e TraceEvent) string {
	if e.Identity == "" {
		return e.Op
	}
	return e.Op + " " + e.Identity
}

// matchesCall reports whether e is a call to op, narrowed to identity when
// identity is non-empty.
func matchesCall(e TraceEvent, op, identity string) bool {
	if e.Op != op {
		return false
	}
	return identity == "" || e.Identity == identity
}

// assertTraceContains checks that the trace holds a matching call.
func assertTraceContains(trace []TraceEvent, a Assertion) error {
	for _, event := range trace {
		if matchesCall(event, a.Op, a.Identity) {
			return nil
		}
	}

	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: fmt.Sprintf("call %s", callName(TraceEvent{Op: a.Op, Identity: a.Identity})),
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

// assertTraceOrder checks that the first occurrences of the listed calls
// appear in the given order. Intervening calls are allowed.
func assertTraceOrder(trace []TraceEvent, a Assertion) error {
	positions := make(map[string]int)
	for i, event := range trace {
		for _, want := range a.Calls {
			if positions[want] != 0 {
				continue
			}
			op, identity, _ := strings.Cut(want, " ")
			if matchesCall(event, op, identity) {
				positions[want] = i + 1 // 1-indexed for readability
			}
		}
	}

	for _, want := range a.Calls {
		if positions[want] == 0 {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("all calls present: %v", a.Calls),
				Actual:   fmt.Sprintf("missing call: %s", want),
				Trace:    trace,
			}
		}
	}

	for i := 1; i < len(a.Calls); i++ {
		prev, curr := a.Calls[i-1], a.Calls[i]
		if positions[prev] >= positions[curr] {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("calls in order: %v", a.Calls),
				Actual: fmt.Sprintf("%s (pos %d) should be before %s (pos %d)",
					prev, positions[prev], curr, positions[curr]),
				Trace: trace,
			}
		}
	}

	return nil
}

// assertTraceCount checks that a call appears exactly Count times.
func assertTraceCount(trace []TraceEvent, a Assertion) error {
	count := 0
	for _, event := range trace {
		if matchesCall(event, a.Op, a.Identity) {
			count++
		}
	}

	if count != a.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%d occurrences of %s", a.Count, callName(TraceEvent{Op: a.Op, Identity: a.Identity})),
			Actual:   fmt.Sprintf("%d occurrences", count),
			Trace:    trace,
		}
	}

	return nil
}

// assertFinalState checks the identities and sequences the target holds.
func assertFinalState(target *testutil.MemoryTarget, a Assertion) error {
	held := target.Identities()

	if a.Identities != nil {
		want := slices.Clone(a.Identities)
		slices.Sort(want)
		if !slices.Equal(want, held) {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("target holds %v", want),
				Actual:   fmt.Sprintf("target holds %v", held),
			}
		}
	}

	ids := make([]string, 0, len(a.Sequences))
	for id := range a.Sequences {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	for _, id := range ids {
		doc, ok := target.Doc(id)
		if !ok {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("%s stored at sequence %d", id, a.Sequences[id]),
				Actual:   "not stored",
			}
		}
		if doc.Key.Sequence != a.Sequences[id] {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("%s stored at sequence %d", id, a.Sequences[id]),
				Actual:   fmt.Sprintf("sequence %d", doc.Key.Sequence),
			}
		}
	}

	return nil
}

// assertLogContains checks that a log sink message contains Message.
func assertLogContains(trace []TraceEvent, a Assertion) error {
	for _, event := range trace {
		if event.Op == OpLog && strings.Contains(event.Detail, a.Message) {
			return nil
		}
	}
	return &AssertionError{
		Type:     AssertLogContains,
		Expected: fmt.Sprintf("log message containing %q", a.Message),
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
// The target provides final contents for final_state assertions.
func EvaluateAssertions(result *Result, assertions []Assertion, target *testutil.MemoryTarget) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertTraceContains:
			err = assertTraceContains(result.Trace, assertion)
		case AssertTraceOrder:
			err = assertTraceOrder(result.Trace, assertion)
		case AssertTraceCount:
			err = assertTraceCount(result.Trace, assertion)
		case AssertFinalState:
			if target == nil {
				err = fmt.Errorf("assertion[%d]: final_state requires a target", i)
			} else {
				err = assertFinalState(target, assertion)
			}
		case AssertLogContains:
			err = assertLogContains(result.Trace, assertion)
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}

	return errors
}
