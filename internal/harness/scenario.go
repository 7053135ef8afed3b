package harness

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/docsync/internal/ir"
	"github.com/roach88/docsync/internal/source"
)

// DefaultStart is the scenario clock reading before the first step.
var DefaultStart = time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

// Scenario defines a conformance test scenario.
// A scenario seeds a source collection and a recording target, runs a list
// of steps (edits and sync passes) and asserts on the resulting trace and
// final target contents.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Start is the clock reading before the first step. The clock advances
	// one minute before every step and is frozen within a step.
	Start time.Time `yaml:"start,omitempty"`

	// Source is the initial collection, in collection-file layout.
	Source source.File `yaml:"source"`

	// Target seeds the recording target.
	Target TargetSetup `yaml:"target,omitempty"`

	// Steps run in order.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final trace and target contents.
	// Supported types: trace_contains, trace_order, trace_count,
	// final_state, log_contains
	Assertions []Assertion `yaml:"assertions"`
}

// TargetSetup seeds the recording target before the first step.
type TargetSetup struct {
	// Data is the declared data requirement: none, summary or full.
	Data string `yaml:"data,omitempty"`

	// State is the sync state a previous pass committed.
	State *StateSetup `yaml:"state,omitempty"`

	// Documents are version keys the target already holds.
	Documents []SeedDocument `yaml:"documents,omitempty"`
}

// StateSetup is a previously committed sync state.
type StateSetup struct {
	ReplicaID  string    `yaml:"replica_id"`
	InstanceID string    `yaml:"instance_id"`
	Filter     string    `yaml:"filter"`
	Watermark  time.Time `yaml:"watermark,omitempty"`
}

// SeedDocument is a version key held by the target.
type SeedDocument struct {
	Identity     string    `yaml:"identity"`
	Sequence     uint64    `yaml:"sequence"`
	SequenceTime time.Time `yaml:"sequence_time"`
}

// Step is one scenario action. Exactly one field must be set.
type Step struct {
	// Sync runs one pass with the given filter.
	Sync *SyncStep `yaml:"sync,omitempty"`

	// Put writes a new revision at the current clock reading.
	Put *PutStep `yaml:"put,omitempty"`

	// Delete replaces a document with a deletion stub.
	Delete string `yaml:"delete,omitempty"`

	// Remove erases a document without leaving a stub.
	Remove string `yaml:"remove,omitempty"`

	// ReplaceSource swaps in a different collection, as when the target is
	// pointed at another replica or another copy of the same replica.
	ReplaceSource *source.File `yaml:"replace_source,omitempty"`

	// FailOn makes a target operation fail from this step on.
	FailOn *FailStep `yaml:"fail_on,omitempty"`
}

// SyncStep runs one pass.
type SyncStep struct {
	Filter string `yaml:"filter"`

	// Expect validates the pass outcome. If nil, any outcome is accepted.
	Expect *ExpectClause `yaml:"expect,omitempty"`
}

// ExpectClause specifies the expected pass outcome. Counts left out are
// not checked.
type ExpectClause struct {
	Mode       string `yaml:"mode,omitempty"`
	Matched    *int   `yaml:"matched,omitempty"`
	NonMatched *int   `yaml:"non_matched,omitempty"`
	Deleted    *int   `yaml:"deleted,omitempty"`
	Purged     *int   `yaml:"purged,omitempty"`
	Skipped    *int   `yaml:"skipped,omitempty"`

	// Error is the expected SyncError code. When set the pass must fail.
	Error string `yaml:"error,omitempty"`
}

// PutStep writes one document revision.
type PutStep struct {
	Identity string         `yaml:"identity"`
	Fields   map[string]any `yaml:"fields,omitempty"`
	Body     string         `yaml:"body,omitempty"`
}

// FailStep configures a target failure.
type FailStep struct {
	Op       string `yaml:"op"`
	Identity string `yaml:"identity,omitempty"`
	Error    string `yaml:"error"`
}

// Assertion validates trace or final state.
type Assertion struct {
	// Type specifies the assertion type:
	// - "trace_contains": Check a target call appears in the trace
	// - "trace_order": Check calls appear in order
	// - "trace_count": Check a call appears exactly N times
	// - "final_state": Check the identities (and sequences) the target holds
	// - "log_contains": Check a message reached the target's log sink
	Type string `yaml:"type"`

	// Op is the target operation (trace_contains, trace_count).
	Op string `yaml:"op,omitempty"`

	// Identity narrows Op to one document (trace_contains, trace_count).
	Identity string `yaml:"identity,omitempty"`

	// Count is the expected number of occurrences (trace_count).
	Count int `yaml:"count,omitempty"`

	// Calls is the expected call order, each "Op" or "Op Identity"
	// (trace_order).
	Calls []string `yaml:"calls,omitempty"`

	// Identities is the exact set of identities the target holds
	// (final_state).
	Identities []string `yaml:"identities,omitempty"`

	// Sequences maps identities to their expected stored sequence
	// (final_state).
	Sequences map[string]uint64 `yaml:"sequences,omitempty"`

	// Message is a substring of an expected log message (log_contains).
	Message string `yaml:"message,omitempty"`
}

// Assertion type constants.
const (
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
	AssertFinalState    = "final_state"
	AssertLogContains   = "log_contains"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario decodes and validates a scenario.
func ParseScenario(data []byte) (*Scenario, error) {
	// Strict field validation catches typos like "assertion:" vs "assertions:"
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}

	if s.Description == "" {
		return fmt.Errorf("description is required")
	}

	if s.Source.ReplicaID == "" {
		return fmt.Errorf("source.replica_id is required")
	}

	if _, err := ir.ParseDataRequirement(s.Target.Data); err != nil {
		return fmt.Errorf("target.data: %w", err)
	}

	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i, doc := range s.Target.Documents {
		if doc.Identity == "" {
			return fmt.Errorf("target.documents[%d]: identity is required", i)
		}
		if doc.Sequence == 0 {
			return fmt.Errorf("target.documents[%d]: sequence must be positive", i)
		}
	}

	for i, step := range s.Steps {
		if err := validateStep(i, &step); err != nil {
			return err
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}

	return nil
}

// validateStep checks that exactly one action is set.
func validateStep(index int, st *Step) error {
	set := 0
	if st.Sync != nil {
		set++
		if st.Sync.Filter == "" {
			return fmt.Errorf("steps[%d].sync: filter is required", index)
		}
	}
	if st.Put != nil {
		set++
		if st.Put.Identity == "" {
			return fmt.Errorf("steps[%d].put: identity is required", index)
		}
	}
	if st.Delete != "" {
		set++
	}
	if st.Remove != "" {
		set++
	}
	if st.ReplaceSource != nil {
		set++
		if st.ReplaceSource.ReplicaID == "" {
			return fmt.Errorf("steps[%d].replace_source: replica_id is required", index)
		}
	}
	if st.FailOn != nil {
		set++
		if st.FailOn.Op == "" {
			return fmt.Errorf("steps[%d].fail_on: op is required", index)
		}
	}

	switch set {
	case 0:
		return fmt.Errorf("steps[%d]: no action specified", index)
	case 1:
		return nil
	default:
		return fmt.Errorf("steps[%d]: exactly one action per step, got %d", index, set)
	}
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertTraceContains:
		if a.Op == "" {
			return fmt.Errorf("assertions[%d]: op is required for trace_contains", index)
		}
	case AssertTraceOrder:
		if len(a.Calls) == 0 {
			return fmt.Errorf("assertions[%d]: calls list is required for trace_order", index)
		}
	case AssertTraceCount:
		if a.Op == "" {
			return fmt.Errorf("assertions[%d]: op is required for trace_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	case AssertFinalState:
		if a.Identities == nil && len(a.Sequences) == 0 {
			return fmt.Errorf("assertions[%d]: identities or sequences is required for final_state", index)
		}
	case AssertLogContains:
		if a.Message == "" {
			return fmt.Errorf("assertions[%d]: message is required for log_contains", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	return nil
}
