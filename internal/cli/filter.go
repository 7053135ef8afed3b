package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/docsync/internal/filter"
	"github.com/roach88/docsync/internal/source"
)

// FilterOptions holds flags for the filter command.
type FilterOptions struct {
	*RootOptions
	Source string
	Filter string
}

// FilterReport lists the live documents a filter selects.
type FilterReport struct {
	Filter   string   `json:"filter"`
	Total    int      `json:"total"`
	Matching []string `json:"matching"`
}

func (r FilterReport) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Filter %s selects %d of %d live documents", r.Filter, len(r.Matching), r.Total)
	for _, id := range r.Matching {
		fmt.Fprintf(&b, "\n  %s", id)
	}
	return b.String()
}

// NewFilterCommand creates the filter command.
func NewFilterCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &FilterOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "filter",
		Short: "Check a filter against a collection",
		Long: `Compile a CUE filter and list the live documents of a collection it
selects, without touching any target.

A filter is a CUE struct constraint over document fields. A document
matches when every field the constraint names is present and unifies.

Examples:
  docsync filter --source ./sales.yaml --filter 'form: "Memo"'
  docsync filter --source ./sales.yaml --filter 'priority: >=2' --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFilter(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Source, "source", "", "path to the collection file (required)")
	cmd.Flags().StringVar(&opts.Filter, "filter", "", "CUE filter to check (required)")

	return cmd
}

func runFilter(opts *FilterOptions, cmd *cobra.Command) error {
	f := opts.formatter(cmd)

	if opts.Source == "" {
		return f.Report(fail(ExitCommandError, ErrCodeBadArgs, "--source is required", nil))
	}

	flt, err := filter.Compile(opts.Filter)
	if err != nil {
		if errors.Is(err, filter.ErrEmptyExpression) {
			return f.Report(fail(ExitCommandError, ErrCodeBadArgs, "--filter is required", nil))
		}
		return f.Report(fail(ExitCommandError, ErrCodeInvalidFilter, "invalid filter", err))
	}

	col, err := source.LoadFile(opts.Source)
	if err != nil {
		return f.Report(fail(ExitCommandError, ErrCodeSourceLoad, "failed to load collection", err))
	}

	matching, err := col.Matching(flt)
	if err != nil {
		return f.Report(fail(ExitFailure, ErrCodeGeneric, "failed to evaluate filter", err))
	}
	if matching == nil {
		matching = []string{}
	}

	live := 0
	for _, d := range col.Documents() {
		if !d.Deleted {
			live++
		}
	}

	f.VerboseLog("compiled filter %s", flt)
	return f.Success(FilterReport{Filter: opts.Filter, Total: live, Matching: matching})
}
