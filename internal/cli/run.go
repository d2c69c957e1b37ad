package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/xfilter/internal/engine"
	"github.com/roach88/xfilter/internal/ir"
	"github.com/roach88/xfilter/internal/view"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	ConnectOptions
	Refresh time.Duration
	Once    bool
	Timeout time.Duration
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <dashboard>",
		Short: "Run a dashboard and print view updates",
		Long: `Build a dashboard, register its views with the coordinator and print
every view update as it is delivered.

Tables come from --data CSV files loaded into an embedded SQLite store, or
from a running "xfilter serve" through --connector socket|rest.

Example:
  xfilter run --data penguins=./penguins.csv ./dashboards/penguins.cue
  xfilter run --connector socket --url ws://localhost:8080/ws ./dash.cue
  xfilter run --once --format json --data ./penguins.csv ./dash.cue`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDashboard(opts, args[0], cmd)
		},
	}

	opts.addFlags(cmd)
	cmd.Flags().DurationVar(&opts.Refresh, "refresh", 0, "re-query every view at this interval (0 disables)")
	cmd.Flags().BoolVar(&opts.Once, "once", false, "exit after the initial queries are delivered")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", 30*time.Second, "with --once, how long to wait for the initial queries")

	return cmd
}

func runDashboard(opts *RunOptions, path string, cmd *cobra.Command) error {
	logger := setupLogging(opts.RootOptions, cmd.ErrOrStderr())

	loadResult, loadErrors := LoadDashboard(path, LoadModeFailFast)
	if len(loadErrors) > 0 {
		return WrapExitError(ExitCommandError, "failed to load dashboard", loadErrors[0])
	}
	spec := loadResult.Spec
	for _, w := range loadResult.Warnings {
		logger.Warn("view feedback", "path", w.Path, "message", w.Message)
	}

	ctx, cancel := signalContext(cmd, logger)
	defer cancel()

	be, err := openBackend(ctx, &opts.ConnectOptions, logger)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to connect", err)
	}
	defer func() {
		if closeErr := be.Close(); closeErr != nil {
			logger.Error("error closing backend", "error", closeErr)
		}
	}()

	printer := &updatePrinter{w: cmd.OutOrStdout(), format: opts.Format}
	dash, err := view.Build(spec, view.WithObserver(printer.observe), view.WithLogger(logger))
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to build dashboard", err)
	}

	co := engine.NewCoordinator(be.conn, engine.WithLogger(logger))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return co.Run(gctx)
	})

	if err := dash.Register(co); err != nil {
		cancel()
		_ = g.Wait()
		return WrapExitError(ExitCommandError, "failed to register views", err)
	}
	logger.Info("dashboard running", "dashboard", spec.Name, "views", len(spec.Views))

	if opts.Once {
		return runOnce(ctx, opts, co, cancel, g, printer)
	}

	if opts.Refresh > 0 {
		g.Go(func() error {
			return engine.Refresh(gctx, co, opts.Refresh, func(err error) {
				logger.Warn("refresh failed", "error", err)
			})
		})
	}

	if opts.Format != "json" {
		fmt.Fprintln(cmd.ErrOrStderr(), "Press Ctrl-C to stop.")
	}

	if err := g.Wait(); err != nil && !isShutdown(err) {
		return WrapExitError(ExitFailure, "coordinator error", err)
	}
	_ = dash.Unregister(co)

	logger.Info("dashboard stopped")
	return nil
}

// runOnce waits for every initial query, then stops the coordinator. A
// view that received an error makes the command fail.
func runOnce(ctx context.Context, opts *RunOptions, co *engine.Coordinator, cancel context.CancelFunc, g *errgroup.Group, printer *updatePrinter) error {
	drainCtx, drainCancel := context.WithTimeout(ctx, opts.Timeout)
	drainErr := co.Manager().Drain(drainCtx)
	drainCancel()

	cancel()
	if err := g.Wait(); err != nil && !isShutdown(err) {
		return WrapExitError(ExitFailure, "coordinator error", err)
	}
	if drainErr != nil {
		return WrapExitError(ExitFailure, "views did not settle", drainErr)
	}
	if n := printer.failures(); n > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d view update(s) failed", n))
	}
	return nil
}

func isShutdown(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, engine.ErrManagerStopped)
}

// updatePrinter writes view updates as they arrive. Updates are delivered
// on the coordinator's goroutine.
type updatePrinter struct {
	mu     sync.Mutex
	w      io.Writer
	format string
	failed int
}

// viewUpdate is the JSON line written per update.
type viewUpdate struct {
	View  string    `json:"view"`
	Rows  int       `json:"rows"`
	Table *ir.Table `json:"table,omitempty"`
	Error string    `json:"error,omitempty"`
}

func (p *updatePrinter) observe(name string, t *ir.Table, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err != nil {
		p.failed++
	}

	if p.format == "json" {
		u := viewUpdate{View: name}
		if err != nil {
			u.Error = err.Error()
		} else {
			u.Rows = t.NumRows()
			u.Table = t
		}
		_ = json.NewEncoder(p.w).Encode(u)
		return
	}

	if err != nil {
		fmt.Fprintf(p.w, "%s: error: %v\n", name, err)
		return
	}
	fmt.Fprintf(p.w, "%s: %d rows\n", name, t.NumRows())
}

func (p *updatePrinter) failures() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.failed
}
