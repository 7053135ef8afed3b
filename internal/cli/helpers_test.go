package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// salesCollection holds two Memos and a Task, all older than its pinned
// clock, so a second pass over it has nothing new.
const salesCollection = `replica_id: sales
instance_id: sales@host-a
as_of: 2024-05-01T12:00:00Z
documents:
  - identity: A
    sequence: 1
    sequence_time: 2024-05-01T09:00:00Z
    fields: {form: Memo, subject: hello}
    body: alpha
  - identity: B
    sequence: 1
    sequence_time: 2024-05-01T09:30:00Z
    fields: {form: Task, priority: 2}
  - identity: C
    sequence: 2
    sequence_time: 2024-05-01T10:00:00Z
    fields: {form: Memo, subject: budget}
    body: gamma
  - identity: D
    sequence: 3
    sequence_time: 2024-05-01T11:00:00Z
    deleted: true
`

const memoFilter = `form: "Memo"`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

// workspace writes the sales collection to a temp dir and returns its path
// and a target database path next to it.
func workspace(t *testing.T) (src, db string) {
	t.Helper()
	dir := t.TempDir()
	return writeFile(t, dir, "sales.yaml", salesCollection), filepath.Join(dir, "target.db")
}

// execute runs the root command with args and returns what it printed.
func execute(t *testing.T, args ...string) (stdout, stderr string, err error) {
	t.Helper()
	out, errOut := &bytes.Buffer{}, &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	cmd.SetArgs(args)
	err = cmd.Execute()
	return out.String(), errOut.String(), err
}

// syncMemos runs one text-mode pass of the Memo filter and fails the test
// if it does not commit.
func syncMemos(t *testing.T, src, db string) string {
	t.Helper()
	out, _, err := execute(t, "sync", "--db", db, "--source", src, "--filter", memoFilter)
	require.NoError(t, err)
	return out
}
