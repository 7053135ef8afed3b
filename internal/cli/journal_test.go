package cli

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/docsync/internal/store"
)

func TestJournalMostRecentSession(t *testing.T) {
	src, db := workspace(t)
	syncMemos(t, src, db)

	out, _, err := execute(t, "journal", "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, "(committed)")
	assert.Contains(t, out, "replica: sales")
	assert.Contains(t, out, "✓ matching     A@1")
	assert.Contains(t, out, "✓ matching     C@2")
	assert.Contains(t, out, "Stats: 2 dispositions, 2 applied, 0 unchanged")
}

func TestJournalSelectSession(t *testing.T) {
	src, db := workspace(t)
	syncMemos(t, src, db)
	syncMemos(t, src, db)

	out, _, err := execute(t, "--format", "json", "status", "--db", db, "--limit", "0")
	require.NoError(t, err)
	var status struct {
		Data StatusReport `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &status))
	require.Len(t, status.Data.Sessions, 2)
	first := status.Data.Sessions[1]

	// The latest pass was incremental with nothing new.
	out, _, err = execute(t, "journal", "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, "No dispositions.")

	out, _, err = execute(t, "--format", "json", "journal", "--db", db, "--session", first.ID)
	require.NoError(t, err)
	var resp struct {
		Data JournalReport `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, first.ID, resp.Data.Session.ID)
	require.Len(t, resp.Data.Dispositions, 2)
	assert.Equal(t, store.KindMatching, resp.Data.Dispositions[0].Kind)
	assert.Equal(t, JournalStats{Total: 2, Applied: 2}, resp.Data.Stats)
}

func TestJournalKindFilter(t *testing.T) {
	src, db := workspace(t)
	syncMemos(t, src, db)
	_, _, err := execute(t, "sync", "--db", db, "--source", src, "--filter", `form: "Task"`)
	require.NoError(t, err)

	out, _, err := execute(t, "--format", "json", "journal", "--db", db, "--kind", store.KindNonMatching)
	require.NoError(t, err)
	var resp struct {
		Data JournalReport `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Len(t, resp.Data.Dispositions, 2)
	for _, d := range resp.Data.Dispositions {
		assert.Equal(t, store.KindNonMatching, d.Kind)
		assert.True(t, d.Applied)
	}
}

func TestJournalErrors(t *testing.T) {
	src, db := workspace(t)

	out, _, err := execute(t, "journal", "--db", db, "--kind", "bogus")
	require.Error(t, err)
	assert.Contains(t, out, "unknown disposition kind")

	syncMemos(t, src, db)
	out, _, err = execute(t, "journal", "--db", db, "--session", "no-such-session")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "Error [E002]: session not found")
}
