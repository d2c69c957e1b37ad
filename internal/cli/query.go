package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/xfilter/internal/ir"
	"github.com/roach88/xfilter/internal/querysql"
)

// QueryOptions holds flags for the query command.
type QueryOptions struct {
	*RootOptions
	ConnectOptions
	Params  []string
	Timeout time.Duration
}

// QueryResult is the JSON payload of the query command.
type QueryResult struct {
	Columns []string      `json:"columns"`
	Rows    []ir.IRObject `json:"rows"`
	Count   int           `json:"count"`
}

// NewQueryCommand creates the query command.
func NewQueryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &QueryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "query <sql>",
		Short: "Execute one SQL query through a connector",
		Long: `Execute a SQL query against the embedded store or a remote server and
print the result table.

Each --param is a JSON value bound to the next ? placeholder.

Example:
  xfilter query --data penguins=./penguins.csv "SELECT species, count(*) FROM penguins GROUP BY 1"
  xfilter query --connector rest --url http://localhost:8080 --param '"Adelie"' \
    "SELECT * FROM penguins WHERE species = ?"`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(opts, args[0], cmd)
		},
	}

	opts.addFlags(cmd)
	cmd.Flags().StringArrayVar(&opts.Params, "param", nil, "JSON value for the next ? placeholder (repeatable)")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", time.Minute, "query timeout")

	return cmd
}

func runQuery(opts *QueryOptions, sql string, cmd *cobra.Command) error {
	logger := setupLogging(opts.RootOptions, cmd.ErrOrStderr())
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	params, err := parseParams(opts.Params)
	if err != nil {
		_ = formatter.Error(ErrCodeGeneric, err.Error(), nil)
		return WrapExitError(ExitCommandError, "invalid parameters", err)
	}

	ctx, cancel := signalContext(cmd, logger)
	defer cancel()

	be, err := openBackend(ctx, &opts.ConnectOptions, logger)
	if err != nil {
		_ = formatter.Error(ErrCodeConnect, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to connect", err)
	}
	defer func() {
		if closeErr := be.Close(); closeErr != nil {
			logger.Error("error closing backend", "error", closeErr)
		}
	}()

	execCtx, execCancel := context.WithTimeout(ctx, opts.Timeout)
	defer execCancel()

	formatter.VerboseLog("Executing: %s", sql)
	table, err := be.conn.Execute(execCtx, querysql.PhysicalQuery{SQL: sql, Params: params})
	if err != nil {
		_ = formatter.Error(ErrCodeGeneric, err.Error(), map[string]any{"sql": sql})
		return WrapExitError(ExitFailure, "query failed", err)
	}

	if opts.Format == "json" {
		return formatter.Success(QueryResult{
			Columns: table.Columns,
			Rows:    table.Objects(),
			Count:   table.NumRows(),
		})
	}
	return PrintTable(formatter.Writer, table)
}

// parseParams decodes each --param as JSON into an IR value. Integral
// numbers stay integers.
func parseParams(raw []string) ([]ir.IRValue, error) {
	params := make([]ir.IRValue, 0, len(raw))
	for i, s := range raw {
		dec := json.NewDecoder(strings.NewReader(s))
		dec.UseNumber()
		var v any
		if err := dec.Decode(&v); err != nil {
			return nil, fmt.Errorf("param %d: invalid JSON %q: %w", i+1, s, err)
		}
		val, err := ir.FromAny(v)
		if err != nil {
			return nil, fmt.Errorf("param %d: %w", i+1, err)
		}
		params = append(params, val)
	}
	return params, nil
}
