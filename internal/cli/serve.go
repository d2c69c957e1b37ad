package cli

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/xfilter/internal/engine"
	"github.com/roach88/xfilter/internal/ir"
	"github.com/roach88/xfilter/internal/querysql"
	"github.com/roach88/xfilter/internal/server"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	ConnectOptions
	Addr          string
	Refresh       time.Duration
	MaxInFlight   int
	QueryTimeout  time.Duration
	MaxConcurrent int

	// listener replaces Addr when set (for testing).
	listener net.Listener
	// ready is called with the bound address once the server is up (for testing).
	ready func(addr string)
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the embedded store to remote connectors",
		Long: `Load CSV tables into a SQLite store and answer queries over HTTP.

Queries from every client pass through one coordinator, so identical
requests share its cache and are consolidated while in flight.

Routes:
  POST /query    one query per request
  GET  /ws       WebSocket, multiplexed requests
  GET  /healthz  liveness
  GET  /metrics  Prometheus metrics

Example:
  xfilter serve --data penguins=./penguins.csv --addr :8080`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, cmd)
		},
	}

	opts.addStoreFlags(cmd)
	cmd.Flags().StringVar(&opts.Addr, "addr", ":8080", "listen address")
	cmd.Flags().DurationVar(&opts.Refresh, "refresh", 0, "clear the result cache at this interval (0 disables)")
	cmd.Flags().IntVar(&opts.MaxInFlight, "max-in-flight", server.DefaultMaxInFlight, "concurrent queries per WebSocket connection")
	cmd.Flags().DurationVar(&opts.QueryTimeout, "query-timeout", server.DefaultQueryTimeout, "timeout for a single query")
	cmd.Flags().IntVar(&opts.MaxConcurrent, "max-concurrent", 0, "concurrent store queries (0 uses the engine default)")

	return cmd
}

func runServe(opts *ServeOptions, cmd *cobra.Command) error {
	logger := setupLogging(opts.RootOptions, cmd.ErrOrStderr())
	if !opts.Verbose {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, cancel := signalContext(cmd, logger)
	defer cancel()

	st, cleanup, err := openStore(ctx, &opts.ConnectOptions, logger)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open store", err)
	}
	defer func() {
		if closeErr := cleanup(); closeErr != nil {
			logger.Error("error closing database", "error", closeErr)
		}
	}()

	coOpts := []engine.Option{engine.WithLogger(logger)}
	if opts.MaxConcurrent > 0 {
		coOpts = append(coOpts, engine.WithMaxConcurrent(opts.MaxConcurrent))
	}
	co := engine.NewCoordinator(st, coOpts...)

	shared := engine.ConnectorFunc(func(ctx context.Context, q querysql.PhysicalQuery) (*ir.Table, error) {
		return co.Exec(ctx, q, engine.PriorityNormal)
	})
	srv := server.New(shared,
		server.WithLogger(logger),
		server.WithMaxInFlight(opts.MaxInFlight),
		server.WithQueryTimeout(opts.QueryTimeout),
	)

	ln := opts.listener
	if ln == nil {
		ln, err = net.Listen("tcp", opts.Addr)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to listen", err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return co.Run(gctx)
	})
	g.Go(func() error {
		return srv.Serve(gctx, ln)
	})
	if opts.Refresh > 0 {
		// Remote clients hold no registrations here, so a refresh only
		// invalidates the shared cache.
		g.Go(func() error {
			return engine.Refresh(gctx, cacheClearer{co}, opts.Refresh, func(err error) {
				logger.Warn("cache refresh failed", "error", err)
			})
		})
	}

	addr := ln.Addr().String()
	if opts.Format == "json" {
		_ = (&OutputFormatter{Format: "json", Writer: cmd.OutOrStdout()}).Success(map[string]string{"addr": addr})
	} else {
		fmt.Fprintf(cmd.OutOrStdout(), "Serving on %s\n", addr)
	}
	if opts.ready != nil {
		opts.ready(addr)
	}

	if err := g.Wait(); err != nil && !isShutdown(err) {
		return WrapExitError(ExitFailure, "server error", err)
	}
	logger.Info("server stopped")
	return nil
}

// cacheClearer adapts a coordinator to engine.Refresher by clearing its
// result cache.
type cacheClearer struct {
	co *engine.Coordinator
}

func (c cacheClearer) RefreshAll() error {
	return c.co.Manager().ClearCache()
}
