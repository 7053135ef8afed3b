package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/roach88/docsync/internal/engine"
	"github.com/roach88/docsync/internal/ir"
	"github.com/roach88/docsync/internal/source"
	"github.com/roach88/docsync/internal/store"
)

// SyncOptions holds flags for the sync command.
type SyncOptions struct {
	*RootOptions
	Database string
	Source   string
	Filter   string
	Data     string // none | summary | full
}

// SyncReport is the outcome of one pass.
type SyncReport struct {
	ReplicaID  string        `json:"replica_id"`
	InstanceID string        `json:"instance_id"`
	Filter     string        `json:"filter"`
	Result     ir.SyncResult `json:"result"`
}

func (r SyncReport) String() string {
	return fmt.Sprintf("synced %s (%s): mode=%s matched=%d non_matched=%d deleted=%d purged=%d skipped=%d",
		r.ReplicaID, r.InstanceID, r.Result.Mode,
		r.Result.Matched, r.Result.NonMatched, r.Result.Deleted, r.Result.Purged, r.Result.Skipped)
}

// NewSyncCommand creates the sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SyncOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run one sync pass",
		Long: `Run one sync pass from a collection file into a SQLite target.

The first pass, a pass after the filter changed and a pass from another
copy of the collection reconcile the whole target. Every other pass only
replays what changed since the last committed watermark.

Passes against the same target are serialized through <db>.lock; a second
pass fails fast while one is running.

Exit codes:
  0 - Pass committed
  1 - Pass failed and was aborted
  2 - Command error (bad flags, unreadable collection, lock held, etc.)

Examples:
  docsync sync --db ./target.db --source ./sales.yaml --filter 'form: "Memo"'
  docsync sync --db ./target.db --source ./sales.yaml --filter 'form: "Memo"' --data summary
  DOCSYNC_DB=./target.db docsync sync --source ./sales.yaml --filter '{}' --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(opts, cmd)
		},
	}

	addSyncFlags(cmd, opts)
	return cmd
}

func addSyncFlags(cmd *cobra.Command, opts *SyncOptions) {
	cmd.Flags().StringVar(&opts.Database, "db", "", "path to the SQLite target (required)")
	cmd.Flags().StringVar(&opts.Source, "source", "", "path to the collection file (required)")
	cmd.Flags().StringVar(&opts.Filter, "filter", "", "CUE filter selecting documents (required)")
	cmd.Flags().StringVar(&opts.Data, "data", "full", "content the target stores: none, summary or full")
}

// validate checks required flags. Flags may come from the environment or
// the config file, so cobra's required-flag check is not used.
func (o *SyncOptions) validate() error {
	switch {
	case o.Database == "":
		return fail(ExitCommandError, ErrCodeBadArgs, "--db is required", nil)
	case o.Source == "":
		return fail(ExitCommandError, ErrCodeBadArgs, "--source is required", nil)
	case o.Filter == "":
		return fail(ExitCommandError, ErrCodeBadArgs, "--filter is required", nil)
	}
	if _, err := ir.ParseDataRequirement(o.Data); err != nil {
		return fail(ExitCommandError, ErrCodeBadArgs, "invalid --data", err)
	}
	return nil
}

func runSync(opts *SyncOptions, cmd *cobra.Command) error {
	f := opts.formatter(cmd)
	if err := opts.validate(); err != nil {
		return f.Report(err)
	}

	report, err := syncOnce(commandContext(cmd), opts, opts.logger(cmd.ErrOrStderr()), nil)
	if err != nil {
		return f.Report(err)
	}
	return f.Success(report)
}

// syncOnce runs one pass under the target lock. metrics may be nil.
func syncOnce(ctx context.Context, o *SyncOptions, logger *slog.Logger, metrics *engine.Metrics) (SyncReport, error) {
	data, err := ir.ParseDataRequirement(o.Data)
	if err != nil {
		return SyncReport{}, fail(ExitCommandError, ErrCodeBadArgs, "invalid --data", err)
	}

	lock, err := acquireLock(o.Database)
	if err != nil {
		code := ErrCodeGeneric
		if errors.Is(err, ErrLocked) {
			code = ErrCodeLocked
		}
		return SyncReport{}, fail(ExitCommandError, code, "target is busy", err)
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			logger.Warn("release sync lock failed", "error", err)
		}
	}()

	col, err := source.LoadFile(o.Source)
	if err != nil {
		return SyncReport{}, fail(ExitCommandError, ErrCodeSourceLoad, "failed to load collection", err)
	}

	st, err := store.Open(o.Database,
		store.WithDataRequirement(data),
		store.WithLogger(logger),
	)
	if err != nil {
		return SyncReport{}, fail(ExitCommandError, ErrCodeStoreOpen, "failed to open target database", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.Error("error closing database", "error", err)
		}
	}()

	eng := engine.New(col, engine.WithLogger(logger), engine.WithMetrics(metrics))
	res, err := eng.Sync(ctx, o.Filter, st)
	if err != nil {
		var serr *engine.SyncError
		if !errors.As(err, &serr) {
			return SyncReport{}, fail(ExitFailure, ErrCodeGeneric, "sync failed", err)
		}
		if serr.Code == engine.ErrCodeInvalidArgument {
			return SyncReport{}, fail(ExitCommandError, ErrCodeInvalidFilter, "invalid filter", err)
		}
		return SyncReport{}, fail(ExitFailure, string(serr.Code), "sync failed", err)
	}

	id := col.Identity()
	return SyncReport{
		ReplicaID:  id.ReplicaID,
		InstanceID: id.InstanceID,
		Filter:     o.Filter,
		Result:     res,
	}, nil
}

// commandContext returns the command's context, or Background when the
// command runs outside Execute (tests).
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
