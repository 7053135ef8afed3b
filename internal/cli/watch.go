package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/roach88/docsync/internal/engine"
)

// WatchOptions holds flags for the watch command.
type WatchOptions struct {
	SyncOptions
	Debounce    time.Duration
	MetricsAddr string
	LogFile     string
}

// NewWatchCommand creates the watch command.
func NewWatchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &WatchOptions{SyncOptions: SyncOptions{RootOptions: rootOpts}}

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Sync on every change of the collection file",
		Long: `Run a sync pass now and again every time the collection file changes.

Bursts of changes are coalesced: a pass starts once the file has been
quiet for --debounce. A failed pass is logged and retried on the next
change. Stop with Ctrl-C.

Examples:
  docsync watch --db ./target.db --source ./sales.yaml --filter 'form: "Memo"'
  docsync watch --db ./target.db --source ./sales.yaml --filter '{}' \
    --metrics-addr :9464 --log-file /var/log/docsync.log`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(opts, cmd)
		},
	}

	addSyncFlags(cmd, &opts.SyncOptions)
	cmd.Flags().DurationVar(&opts.Debounce, "debounce", 250*time.Millisecond, "quiet period before a pass starts")
	cmd.Flags().StringVar(&opts.MetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address (e.g. :9464)")
	cmd.Flags().StringVar(&opts.LogFile, "log-file", "", "write logs to this file, rotated by size, instead of stderr")

	return cmd
}

func runWatch(opts *WatchOptions, cmd *cobra.Command) error {
	f := opts.formatter(cmd)
	if err := opts.validate(); err != nil {
		return f.Report(err)
	}
	if opts.Debounce <= 0 {
		return f.Report(fail(ExitCommandError, ErrCodeBadArgs, "--debounce must be positive", nil))
	}

	var logOut io.Writer = cmd.ErrOrStderr()
	if opts.LogFile != "" {
		lj := rotatingLog(opts.LogFile)
		defer lj.Close()
		logOut = lj
	}
	logger := opts.logger(logOut)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := engine.NewMetrics(reg)

	if opts.MetricsAddr != "" {
		server := serveMetrics(opts.MetricsAddr, reg, logger)
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = server.Shutdown(ctx)
		}()
	}

	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	w, err := newSourceWatcher(opts.Source, opts.Debounce, logger)
	if err != nil {
		return f.Report(fail(ExitCommandError, ErrCodeNotFound, "cannot watch collection file", err))
	}
	defer w.Close()

	pass := func() {
		report, err := syncOnce(ctx, &opts.SyncOptions, logger, metrics)
		if err != nil {
			logger.Error("sync pass failed", "error", err)
			return
		}
		if err := f.Success(report); err != nil {
			logger.Warn("write report failed", "error", err)
		}
	}

	logger.Info("watch starting", "source", opts.Source, "db", opts.Database)
	pass()
	w.Run(ctx, pass)
	logger.Info("watch stopped")
	return nil
}

// sourceWatcher reports changes to one file. It watches the parent
// directory so editors that replace the file on save are seen too.
type sourceWatcher struct {
	watcher  *fsnotify.Watcher
	name     string
	debounce time.Duration
	logger   *slog.Logger
}

func newSourceWatcher(path string, debounce time.Duration, logger *slog.Logger) (*sourceWatcher, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", filepath.Dir(path), err)
	}

	return &sourceWatcher{
		watcher:  watcher,
		name:     filepath.Base(path),
		debounce: debounce,
		logger:   logger,
	}, nil
}

// Run calls fn once per burst of writes to the file, until ctx is done.
func (w *sourceWatcher) Run(ctx context.Context, fn func()) {
	var (
		timer *time.Timer
		fire  <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != w.name || !(event.Has(fsnotify.Write) || event.Has(fsnotify.Create)) {
				continue
			}
			w.logger.Debug("collection changed", "op", event.Op.String())
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watch error", "error", err)

		case <-fire:
			fire = nil
			fn()
		}
	}
}

// Close stops watching.
func (w *sourceWatcher) Close() error {
	return w.watcher.Close()
}

// serveMetrics exposes reg on /metrics in the background.
func serveMetrics(addr string, reg *prometheus.Registry, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))

	server := &http.Server{
		Addr:        addr,
		Handler:     mux,
		ReadTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "addr", addr, "error", err)
		}
	}()

	return server
}
