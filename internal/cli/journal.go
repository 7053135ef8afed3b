package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/docsync/internal/store"
)

// JournalOptions holds flags for the journal command.
type JournalOptions struct {
	*RootOptions
	Database string
	Session  string // empty selects the most recent session
	Kind     string // optional - filter to one disposition kind
}

// JournalReport is one session and the apply calls it journaled.
type JournalReport struct {
	Session      store.SessionRecord `json:"session"`
	Dispositions []store.Disposition `json:"dispositions"`
	Stats        JournalStats        `json:"stats"`
}

// JournalStats summarizes the dispositions of a session.
type JournalStats struct {
	Total     int `json:"total"`
	Applied   int `json:"applied"`
	Unchanged int `json:"unchanged"`
}

func (r JournalReport) String() string {
	var b strings.Builder
	s := r.Session

	fmt.Fprintf(&b, "Session %s (%s)\n", s.ID, s.Status)
	fmt.Fprintf(&b, "  replica: %s\n", s.ReplicaID)
	fmt.Fprintf(&b, "  started: %s\n", s.StartedAt.Format(time.RFC3339Nano))
	if !s.EndedAt.IsZero() {
		fmt.Fprintf(&b, "  ended:   %s\n", s.EndedAt.Format(time.RFC3339Nano))
	}
	if s.Filter != "" {
		fmt.Fprintf(&b, "  filter:  %s\n", s.Filter)
	}
	if s.Error != "" {
		fmt.Fprintf(&b, "  error:   %s\n", s.Error)
	}

	if len(r.Dispositions) == 0 {
		fmt.Fprintln(&b, "\nNo dispositions.")
	} else {
		fmt.Fprintln(&b, "\nDispositions:")
		for _, d := range r.Dispositions {
			mark := "✓"
			if !d.Applied {
				mark = "="
			}
			if d.Identity == "" {
				fmt.Fprintf(&b, "  [%d] %s %s\n", d.Seq, mark, d.Kind)
				continue
			}
			fmt.Fprintf(&b, "  [%d] %s %-12s %s@%d\n", d.Seq, mark, d.Kind, d.Identity, d.Sequence)
		}
	}

	fmt.Fprintf(&b, "\nStats: %d dispositions, %d applied, %d unchanged",
		r.Stats.Total, r.Stats.Applied, r.Stats.Unchanged)
	return b.String()
}

// NewJournalCommand creates the journal command.
func NewJournalCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &JournalOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "journal",
		Short: "Show what a session applied",
		Long: `Show one session and every apply call it made, in order.

Each disposition is marked ✓ when it changed the target and = when the
target already held the same content (or nothing to remove).

Examples:
  docsync journal --db ./target.db
  docsync journal --db ./target.db --session 01909d6e-...
  docsync journal --db ./target.db --kind deleted --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runJournal(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to the SQLite target (required)")
	cmd.Flags().StringVar(&opts.Session, "session", "", "session id (default: most recent)")
	cmd.Flags().StringVar(&opts.Kind, "kind", "", "only show one kind: matching, non_matching, deleted or clear")

	return cmd
}

func runJournal(opts *JournalOptions, cmd *cobra.Command) error {
	f := opts.formatter(cmd)
	ctx := commandContext(cmd)

	switch opts.Kind {
	case "", store.KindMatching, store.KindNonMatching, store.KindDeleted, store.KindClear:
	default:
		return f.Report(fail(ExitCommandError, ErrCodeBadArgs, fmt.Sprintf("unknown disposition kind %q", opts.Kind), nil))
	}

	st, err := openExisting(opts.Database)
	if err != nil {
		return f.Report(err)
	}
	defer st.Close()

	sessions, err := st.Sessions(ctx, 0)
	if err != nil {
		return f.Report(fail(ExitCommandError, ErrCodeGeneric, "failed to read sessions", err))
	}
	if len(sessions) == 0 {
		return f.Report(fail(ExitCommandError, ErrCodeNotFound, "no sessions recorded", nil))
	}

	session := sessions[0]
	if opts.Session != "" {
		found := false
		for _, s := range sessions {
			if s.ID == opts.Session {
				session, found = s, true
				break
			}
		}
		if !found {
			return f.Report(fail(ExitCommandError, ErrCodeNotFound, fmt.Sprintf("session not found: %s", opts.Session), nil))
		}
	}

	all, err := st.Dispositions(ctx, session.ID)
	if err != nil {
		return f.Report(fail(ExitCommandError, ErrCodeGeneric, "failed to read dispositions", err))
	}

	report := JournalReport{Session: session, Dispositions: []store.Disposition{}}
	for _, d := range all {
		if opts.Kind != "" && d.Kind != opts.Kind {
			continue
		}
		report.Dispositions = append(report.Dispositions, d)
		report.Stats.Total++
		if d.Applied {
			report.Stats.Applied++
		} else {
			report.Stats.Unchanged++
		}
	}

	return f.Success(report)
}
