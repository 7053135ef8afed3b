package cli

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/docsync/internal/store"
)

// StatusOptions holds flags for the status command.
type StatusOptions struct {
	*RootOptions
	Database string
	Limit    int
}

// StatusReport is what status prints.
type StatusReport struct {
	store.Status
	Sessions []store.SessionRecord `json:"sessions"`
}

func (r StatusReport) String() string {
	var b strings.Builder

	replica := r.ReplicaID
	if replica == "" {
		replica = "(never synced)"
	}
	fmt.Fprintf(&b, "Replica:   %s\n", replica)
	if r.Filter != "" {
		fmt.Fprintf(&b, "Filter:    %s\n", r.Filter)
	}
	fmt.Fprintf(&b, "Documents: %d\n", r.Documents)

	if len(r.Watermarks) > 0 {
		fmt.Fprintln(&b, "\nWatermarks:")
		for _, w := range r.Watermarks {
			fmt.Fprintf(&b, "  %s  %s  (session %s)\n", w.InstanceID, w.Watermark.Format(time.RFC3339Nano), w.SessionID)
		}
	}

	if len(r.Sessions) > 0 {
		fmt.Fprintln(&b, "\nRecent sessions:")
		for _, s := range r.Sessions {
			fmt.Fprintf(&b, "  %s  %-9s  %s  matched=%d non_matched=%d deleted=%d\n",
				s.ID, s.Status, s.StartedAt.Format(time.RFC3339), s.Matched, s.NonMatched, s.Deleted)
			if s.Error != "" {
				fmt.Fprintf(&b, "      error: %s\n", s.Error)
			}
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &StatusOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the committed sync state of a target",
		Long: `Show the replica and filter of the last committed pass, the document
count, the watermark of every source instance and the most recent
sessions.

Examples:
  docsync status --db ./target.db
  docsync status --db ./target.db --limit 20 --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to the SQLite target (required)")
	cmd.Flags().IntVar(&opts.Limit, "limit", 5, "number of recent sessions to show (0 for all)")

	return cmd
}

func runStatus(opts *StatusOptions, cmd *cobra.Command) error {
	f := opts.formatter(cmd)

	st, err := openExisting(opts.Database)
	if err != nil {
		return f.Report(err)
	}
	defer st.Close()

	ctx := commandContext(cmd)
	status, err := st.Status(ctx)
	if err != nil {
		return f.Report(fail(ExitCommandError, ErrCodeGeneric, "failed to read status", err))
	}
	sessions, err := st.Sessions(ctx, opts.Limit)
	if err != nil {
		return f.Report(fail(ExitCommandError, ErrCodeGeneric, "failed to read sessions", err))
	}

	return f.Success(StatusReport{Status: status, Sessions: sessions})
}

// openExisting opens a target database that must already exist. Read-only
// commands never create one.
func openExisting(path string) (*store.Store, error) {
	if path == "" {
		return nil, fail(ExitCommandError, ErrCodeBadArgs, "--db is required", nil)
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fail(ExitCommandError, ErrCodeNotFound, "database not found", err)
	}
	st, err := store.Open(path)
	if err != nil {
		return nil, fail(ExitCommandError, ErrCodeStoreOpen, "failed to open target database", err)
	}
	return st, nil
}
