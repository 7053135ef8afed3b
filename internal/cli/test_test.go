package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const harnessScenarios = "../harness/testdata/scenarios"

func newTestCmd(format string, args ...string) (*bytes.Buffer, error) {
	buf := &bytes.Buffer{}
	cmd := NewTestCommand(&RootOptions{Format: format})
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(args)
	return buf, cmd.Execute()
}

// copyScenario copies one harness scenario into a fresh directory.
func copyScenario(t *testing.T, name string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(harnessScenarios, name+".yaml"))
	require.NoError(t, err)
	dir := t.TempDir()
	writeFile(t, dir, name+".yaml", string(data))
	return dir
}

func TestTestCommandMissingArgs(t *testing.T) {
	_, err := newTestCmd("text")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "accepts 1 arg")
}

func TestTestCommandNonExistentScenariosDir(t *testing.T) {
	buf, err := newTestCmd("text", "/nonexistent/scenarios")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, buf.String(), "scenarios directory not found")
}

func TestTestCommandEmptyScenariosDir(t *testing.T) {
	buf, err := newTestCmd("text", t.TempDir())
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "No scenarios found")
}

func TestTestCommandEmptyScenariosDirJSON(t *testing.T) {
	buf, err := newTestCmd("json", t.TempDir())
	require.NoError(t, err)

	var response CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &response))
	assert.Equal(t, "ok", response.Status)
}

func TestTestCommandRunsHarnessScenarios(t *testing.T) {
	buf, err := newTestCmd("text", harnessScenarios)
	require.NoError(t, err, buf.String())

	output := buf.String()
	assert.Contains(t, output, "✓ conflict_tie_break")
	assert.Contains(t, output, "✓ dispatch_failure_abort")
	assert.Contains(t, output, "0 failed")
	assert.Contains(t, output, "✓ All scenarios passed")
}

func TestTestCommandFilterJSON(t *testing.T) {
	buf, err := newTestCmd("json", harnessScenarios, "--filter", "replica_*")
	require.NoError(t, err)

	var response struct {
		Status string     `json:"status"`
		Data   TestResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &response))
	assert.Equal(t, "ok", response.Status)
	require.Equal(t, 1, response.Data.Total)
	assert.Equal(t, "replica_change_wipe", response.Data.Scenarios[0].Name)
	assert.Equal(t, "match", response.Data.Scenarios[0].Golden)
}

func TestTestCommandUpdateWritesGolden(t *testing.T) {
	dir := copyScenario(t, "full_reconcile_idempotent")

	// Without a golden file, assertions alone decide.
	buf, err := newTestCmd("json", dir)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), `"golden": "missing"`)

	buf, err = newTestCmd("text", dir, "--update")
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "✓ full_reconcile_idempotent (golden updated)")

	written, err := os.ReadFile(filepath.Join(dir, "golden", "full_reconcile_idempotent.golden"))
	require.NoError(t, err)
	want, err := os.ReadFile(filepath.Join(harnessScenarios, "golden", "full_reconcile_idempotent.golden"))
	require.NoError(t, err)
	assert.Equal(t, string(want), string(written))
}

func TestTestCommandGoldenMismatch(t *testing.T) {
	dir := copyScenario(t, "end_to_end_empty_target")
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "golden"), 0755))
	writeFile(t, filepath.Join(dir, "golden"), "end_to_end_empty_target.golden", "{\"scenario_name\":\"stale\"}\n")

	buf, err := newTestCmd("text", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, buf.String(), "✗ end_to_end_empty_target")
	assert.Contains(t, buf.String(), "trace does not match golden file")
	assert.Contains(t, buf.String(), "1 failed")
}

func TestTestCommandLoadErrorJSON(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "broken.yaml", "name: broken\n")

	buf, err := newTestCmd("json", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var response CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &response))
	assert.Equal(t, "error", response.Status)
	require.NotNil(t, response.Error)
	assert.Equal(t, "E_TEST_FAILED", response.Error.Code)
	assert.Equal(t, "1 scenario(s) failed", response.Error.Message)
}

func TestTestHelpText(t *testing.T) {
	buf, err := newTestCmd("text", "--help")
	require.NoError(t, err)

	output := buf.String()
	assert.Contains(t, output, "conformance")
	assert.Contains(t, output, "--update")
	assert.Contains(t, output, "--filter")
	assert.Contains(t, output, "scenarios-dir")
}

func TestFindScenarioFiles(t *testing.T) {
	tmpDir := t.TempDir()

	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "test1.yaml"), []byte(""), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "test2.yml"), []byte(""), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "ignore.txt"), []byte(""), 0644))

	files, err := findScenarioFiles(tmpDir, "")
	require.NoError(t, err)
	assert.Len(t, files, 2)
}

func TestFindScenarioFilesWithFilter(t *testing.T) {
	tmpDir := t.TempDir()

	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "conflict-a.yaml"), []byte(""), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "conflict-b.yaml"), []byte(""), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "purge.yaml"), []byte(""), 0644))

	files, err := findScenarioFiles(tmpDir, "conflict-*")
	require.NoError(t, err)
	assert.Len(t, files, 2)

	for _, f := range files {
		assert.Contains(t, filepath.Base(f), "conflict-")
	}

	_, err = findScenarioFiles(tmpDir, "[")
	require.Error(t, err)
}

func TestFindScenarioFilesSkipsGolden(t *testing.T) {
	tmpDir := t.TempDir()
	subDir := filepath.Join(tmpDir, "subdir")
	goldenDir := filepath.Join(tmpDir, "golden")
	require.NoError(t, os.MkdirAll(subDir, 0755))
	require.NoError(t, os.MkdirAll(goldenDir, 0755))

	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "root.yaml"), []byte(""), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(subDir, "sub.yaml"), []byte(""), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(goldenDir, "stray.yaml"), []byte(""), 0644))

	files, err := findScenarioFiles(tmpDir, "")
	require.NoError(t, err)
	assert.Len(t, files, 2)
}

func TestGoldenFilePath(t *testing.T) {
	testCases := []struct {
		file     string
		name     string
		expected string
	}{
		{"/path/to/scenario.yaml", "scenario", "/path/to/golden/scenario.golden"},
		{"/path/to/scenario.yml", "scenario", "/path/to/golden/scenario.golden"},
		{"scenarios/test.yaml", "renamed", "scenarios/golden/renamed.golden"},
	}

	for _, tc := range testCases {
		assert.Equal(t, tc.expected, goldenFilePath(tc.file, tc.name))
	}
}

func TestCompareWithGolden(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "x.golden", "line\n")

	got, err := compareWithGolden(path, []byte("line\n"))
	require.NoError(t, err)
	assert.Equal(t, "match", got)

	got, err = compareWithGolden(path, []byte("other\n"))
	require.NoError(t, err)
	assert.Equal(t, "mismatch", got)

	got, err = compareWithGolden(filepath.Join(dir, "none.golden"), nil)
	require.NoError(t, err)
	assert.Equal(t, "missing", got)
}
