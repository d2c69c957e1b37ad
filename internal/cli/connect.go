package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/xfilter/internal/connector/rest"
	"github.com/roach88/xfilter/internal/connector/socket"
	"github.com/roach88/xfilter/internal/engine"
	"github.com/roach88/xfilter/internal/store"
)

// Connector kinds accepted by --connector.
const (
	ConnectorEmbedded = "embedded"
	ConnectorSocket   = "socket"
	ConnectorREST     = "rest"
)

// ConnectOptions selects and configures the query backend.
type ConnectOptions struct {
	Connector string
	URL       string
	Database  string
	Data      []string // name=path.csv or path.csv
}

func (o *ConnectOptions) addStoreFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&o.Database, "db", "", "path to SQLite database (temporary when empty)")
	cmd.Flags().StringArrayVar(&o.Data, "data", nil, "load a CSV file as a table: name=path.csv (repeatable)")
}

func (o *ConnectOptions) addFlags(cmd *cobra.Command) {
	o.addStoreFlags(cmd)
	cmd.Flags().StringVar(&o.Connector, "connector", ConnectorEmbedded, "query backend (embedded|socket|rest)")
	cmd.Flags().StringVar(&o.URL, "url", "", "server URL for the socket and rest connectors")
}

// backend is an opened connector plus whatever must be closed with it.
type backend struct {
	conn  engine.Connector
	store *store.Store // nil for remote connectors
	close func() error
}

func (b *backend) Close() error {
	if b.close == nil {
		return nil
	}
	return b.close()
}

// openBackend connects to the backend named by opts. The embedded backend
// opens the store and loads every --data table into it.
func openBackend(ctx context.Context, opts *ConnectOptions, logger *slog.Logger) (*backend, error) {
	switch opts.Connector {
	case "", ConnectorEmbedded:
		st, cleanup, err := openStore(ctx, opts, logger)
		if err != nil {
			return nil, err
		}
		return &backend{conn: st, store: st, close: cleanup}, nil

	case ConnectorSocket:
		if opts.URL == "" {
			return nil, errors.New("--url is required for the socket connector")
		}
		if len(opts.Data) > 0 {
			return nil, errors.New("--data only applies to the embedded connector")
		}
		c, err := socket.Dial(ctx, opts.URL, socket.WithLogger(logger))
		if err != nil {
			return nil, fmt.Errorf("dial %s: %w", opts.URL, err)
		}
		return &backend{conn: c, close: c.Close}, nil

	case ConnectorREST:
		if opts.URL == "" {
			return nil, errors.New("--url is required for the rest connector")
		}
		if len(opts.Data) > 0 {
			return nil, errors.New("--data only applies to the embedded connector")
		}
		c := rest.New(opts.URL, rest.WithLogger(logger))
		if err := c.Health(ctx); err != nil {
			return nil, fmt.Errorf("server %s not healthy: %w", opts.URL, err)
		}
		return &backend{conn: c}, nil

	default:
		return nil, fmt.Errorf("unknown connector %q: must be embedded, socket or rest", opts.Connector)
	}
}

// openStore opens the SQLite store and loads the --data tables. Without
// --db the store lives in a temporary directory removed by the returned
// cleanup.
func openStore(ctx context.Context, opts *ConnectOptions, logger *slog.Logger) (*store.Store, func() error, error) {
	sources, err := parseDataFlags(opts.Data)
	if err != nil {
		return nil, nil, err
	}

	path := opts.Database
	tmpDir := ""
	if path == "" {
		tmpDir, err = os.MkdirTemp("", "xfilter-*")
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create temp dir: %w", err)
		}
		path = filepath.Join(tmpDir, "xfilter.db")
	}

	logger.Debug("opening database", "path", path)
	st, err := store.Open(path, store.WithLogger(logger))
	if err != nil {
		if tmpDir != "" {
			os.RemoveAll(tmpDir)
		}
		return nil, nil, fmt.Errorf("failed to open database: %w", err)
	}

	cleanup := func() error {
		err := st.Close()
		if tmpDir != "" {
			if rmErr := os.RemoveAll(tmpDir); rmErr != nil && err == nil {
				err = rmErr
			}
		}
		return err
	}

	for _, src := range sources {
		n, err := st.LoadCSVFile(ctx, src.name, src.path)
		if err != nil {
			_ = cleanup()
			return nil, nil, err
		}
		logger.Info("table loaded", "table", src.tableName(), "rows", n, "file", src.path)
	}

	return st, cleanup, nil
}

type dataSource struct {
	name string // may be empty: derived from the file name
	path string
}

func (d dataSource) tableName() string {
	if d.name != "" {
		return d.name
	}
	return strings.TrimSuffix(filepath.Base(d.path), filepath.Ext(d.path))
}

// parseDataFlags parses --data values of the form name=path or path.
func parseDataFlags(values []string) ([]dataSource, error) {
	out := make([]dataSource, 0, len(values))
	for _, v := range values {
		name, path, ok := strings.Cut(v, "=")
		if !ok {
			name, path = "", v
		}
		if path == "" {
			return nil, fmt.Errorf("invalid --data %q: missing file path", v)
		}
		if ok && name == "" {
			return nil, fmt.Errorf("invalid --data %q: empty table name", v)
		}
		out = append(out, dataSource{name: name, path: path})
	}
	return out, nil
}

// signalContext returns a context cancelled on SIGINT/SIGTERM or when the
// command's context ends.
func signalContext(cmd *cobra.Command, logger *slog.Logger) (context.Context, context.CancelFunc) {
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigChan)
		select {
		case sig := <-sigChan:
			logger.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, cancel
}
