package cli

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/docsync/internal/store"
)

// ScanOptions holds flags for the scan command.
type ScanOptions struct {
	*RootOptions
	Database string
	Bodies   bool
}

// ScanReport lists what a target holds.
type ScanReport struct {
	Documents []store.Record `json:"documents"`
}

func (r ScanReport) String() string {
	if len(r.Documents) == 0 {
		return "Target holds no documents."
	}

	var b strings.Builder
	tw := tabwriter.NewWriter(&b, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "IDENTITY\tSEQUENCE\tSEQUENCE TIME\tLOCAL ID\tHASH")
	for _, d := range r.Documents {
		hash := d.ContentHash
		if len(hash) > 12 {
			hash = hash[:12]
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\t%d\t%s\n",
			d.Key.Identity, d.Key.Sequence, d.Key.SequenceTime.Format(time.RFC3339Nano), d.Key.LocalID, hash)
	}
	tw.Flush()
	return strings.TrimRight(b.String(), "\n")
}

// NewScanCommand creates the scan command.
func NewScanCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ScanOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "List the documents a target holds",
		Long: `List every document in a target with its version key, the target's
local row id and the content hash of what was stored.

Examples:
  docsync scan --db ./target.db
  docsync scan --db ./target.db --format json --bodies`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScan(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to the SQLite target (required)")
	cmd.Flags().BoolVar(&opts.Bodies, "bodies", false, "include document bodies in JSON output")

	return cmd
}

func runScan(opts *ScanOptions, cmd *cobra.Command) error {
	f := opts.formatter(cmd)

	st, err := openExisting(opts.Database)
	if err != nil {
		return f.Report(err)
	}
	defer st.Close()

	docs, err := st.Documents(commandContext(cmd))
	if err != nil {
		return f.Report(fail(ExitCommandError, ErrCodeGeneric, "failed to read documents", err))
	}
	if !opts.Bodies {
		for i := range docs {
			docs[i].Body = nil
		}
	}

	return f.Success(ScanReport{Documents: docs})
}
