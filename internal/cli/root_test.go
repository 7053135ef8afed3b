package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "docsync", cmd.Use)
	assert.Contains(t, cmd.Long, "DOCSYNC_")
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	commands := []string{"sync", "watch", "status", "scan", "journal", "filter", "test"}

	for _, cmdName := range commands {
		t.Run(cmdName, func(t *testing.T) {
			subCmd, _, err := cmd.Find([]string{cmdName})
			require.NoError(t, err, "Command %s should exist", cmdName)
			require.NotNil(t, subCmd)
			assert.Equal(t, cmdName, subCmd.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	verboseFlag := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, verboseFlag)
	assert.Equal(t, "v", verboseFlag.Shorthand)
	assert.Equal(t, "false", verboseFlag.DefValue)

	formatFlag := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, formatFlag)
	assert.Equal(t, "text", formatFlag.DefValue)

	configFlag := cmd.PersistentFlags().Lookup("config")
	require.NotNil(t, configFlag)
	assert.Equal(t, "", configFlag.DefValue)
}

func TestSyncCommandFlags(t *testing.T) {
	cmd := NewRootCommand()

	for _, name := range []string{"sync", "watch"} {
		t.Run(name, func(t *testing.T) {
			sub, _, err := cmd.Find([]string{name})
			require.NoError(t, err)

			for _, flag := range []string{"db", "source", "filter"} {
				f := sub.Flags().Lookup(flag)
				require.NotNil(t, f, flag)
				assert.Equal(t, "", f.DefValue)
			}

			data := sub.Flags().Lookup("data")
			require.NotNil(t, data)
			assert.Equal(t, "full", data.DefValue)
		})
	}
}

func TestWatchCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	watchCmd, _, err := cmd.Find([]string{"watch"})
	require.NoError(t, err)

	debounce := watchCmd.Flags().Lookup("debounce")
	require.NotNil(t, debounce)
	assert.Equal(t, "250ms", debounce.DefValue)

	require.NotNil(t, watchCmd.Flags().Lookup("metrics-addr"))
	require.NotNil(t, watchCmd.Flags().Lookup("log-file"))
}

func TestInspectCommandFlags(t *testing.T) {
	cmd := NewRootCommand()

	statusCmd, _, err := cmd.Find([]string{"status"})
	require.NoError(t, err)
	limit := statusCmd.Flags().Lookup("limit")
	require.NotNil(t, limit)
	assert.Equal(t, "5", limit.DefValue)

	scanCmd, _, err := cmd.Find([]string{"scan"})
	require.NoError(t, err)
	require.NotNil(t, scanCmd.Flags().Lookup("bodies"))

	journalCmd, _, err := cmd.Find([]string{"journal"})
	require.NoError(t, err)
	require.NotNil(t, journalCmd.Flags().Lookup("session"))
	require.NotNil(t, journalCmd.Flags().Lookup("kind"))
}

func TestTestCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	testCmd, _, err := cmd.Find([]string{"test"})
	require.NoError(t, err)

	updateFlag := testCmd.Flags().Lookup("update")
	require.NotNil(t, updateFlag)
	assert.Equal(t, "false", updateFlag.DefValue)

	filterFlag := testCmd.Flags().Lookup("filter")
	require.NotNil(t, filterFlag)
}

func TestFormatValidation(t *testing.T) {
	assert.True(t, isValidFormat("text"))
	assert.True(t, isValidFormat("json"))

	assert.False(t, isValidFormat("xml"))
	assert.False(t, isValidFormat(""))
	assert.False(t, isValidFormat("TEXT"))
}

func TestFormatValidationIntegration(t *testing.T) {
	_, _, err := execute(t, "--format", "invalid", "status", "--db", "x.db")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "invalid format")
}

func TestSyncLogsToStderr(t *testing.T) {
	src, db := workspace(t)

	_, stderr, err := execute(t, "-v", "sync", "--db", db, "--source", src, "--filter", memoFilter)
	require.NoError(t, err)
	assert.Contains(t, stderr, "level=INFO")
	assert.Contains(t, stderr, "sync committed")
}
