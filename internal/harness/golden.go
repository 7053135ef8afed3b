package harness

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/docsync/internal/ir"
)

// GoldenDir is where RunWithGolden keeps golden traces, relative to the
// test's package directory.
const GoldenDir = "testdata/scenarios/golden"

// Snapshot renders a trace for golden comparison: a header line naming the
// scenario, then one canonical JSON object per event. Every line, including
// the last, ends with a newline.
func Snapshot(scenarioName string, trace []TraceEvent) ([]byte, error) {
	var buf bytes.Buffer

	header, err := ir.MarshalCanonical(ir.Fields{"scenario_name": ir.Str(scenarioName)})
	if err != nil {
		return nil, err
	}
	buf.Write(header)
	buf.WriteByte('\n')

	for i, event := range trace {
		line, err := ir.MarshalCanonical(eventFields(event))
		if err != nil {
			return nil, fmt.Errorf("trace[%d]: %w", i, err)
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}

// eventFields converts an event to canonical fields, leaving out empty
// members so goldens only show what a call carried.
func eventFields(e TraceEvent) ir.Fields {
	f := ir.Fields{
		"step": ir.Int(e.Step),
		"op":   ir.Str(e.Op),
	}
	if e.Session != "" {
		f["session"] = ir.Str(e.Session)
	}
	if e.Identity != "" {
		f["identity"] = ir.Str(e.Identity)
	}
	if e.Sequence != 0 {
		f["sequence"] = ir.Int(int64(e.Sequence))
	}
	if e.Fields != nil {
		f["fields"] = e.Fields
	}
	if e.Body != "" {
		f["body"] = ir.Str(e.Body)
	}
	if e.Detail != "" {
		f["detail"] = ir.Str(e.Detail)
	}
	return f
}

// RunWithGolden executes a scenario and compares the trace against a golden
// file in GoldenDir named after the scenario.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns the result so callers can also check Pass and Errors.
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}

	if err := AssertGolden(t, scenario.Name, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares an already computed result's trace against a
// golden file.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	data, err := Snapshot(scenarioName, result.Trace)
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir(GoldenDir),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, data)
	return nil
}
