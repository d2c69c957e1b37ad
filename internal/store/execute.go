package store

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"time"

	"github.com/roach88/xfilter/internal/ir"
	"github.com/roach88/xfilter/internal/querysql"
)

// Execute runs a compiled query and converts the result set into an
// ir.Table. It satisfies engine.Connector.
//
// Every call is recorded in query_log (when enabled), including failures.
// A failure to write the log entry is logged and otherwise ignored: the
// query result is what callers asked for.
func (s *Store) Execute(ctx context.Context, q querysql.PhysicalQuery) (*ir.Table, error) {
	args, err := q.Args()
	if err != nil {
		return nil, fmt.Errorf("execute: %w", err)
	}

	start := s.now()
	table, err := s.query(ctx, q.SQL, args)
	elapsed := s.now().Sub(start)

	if s.logQuery {
		if logErr := s.recordQuery(ctx, q, table.NumRows(), err, elapsed); logErr != nil {
			s.logger.Warn("query log write failed", "error", logErr)
		}
	}
	if err != nil {
		s.logger.Debug("query failed", "sql", q.SQL, "error", err)
		return nil, fmt.Errorf("execute: %w", err)
	}

	s.logger.Debug("query executed",
		"sql", q.SQL,
		"rows", table.NumRows(),
		"duration", elapsed,
	)
	return table, nil
}

func (s *Store) query(ctx context.Context, query string, args []any) (*ir.Table, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTable(rows)
}

// scanTable reads every row into an ir.Table. A result with zero rows is a
// valid table with its column names and no rows.
func scanTable(rows *sql.Rows) (*ir.Table, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("read columns: %w", err)
	}

	table := &ir.Table{Columns: cols, Rows: [][]ir.IRValue{}}
	raw := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range raw {
		ptrs[i] = &raw[i]
	}

	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan row %d: %w", len(table.Rows), err)
		}
		row := make([]ir.IRValue, len(cols))
		for i, v := range raw {
			val, err := scanValue(v)
			if err != nil {
				return nil, fmt.Errorf("row %d column %q: %w", len(table.Rows), cols[i], err)
			}
			row[i] = val
		}
		table.Rows = append(table.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return table, nil
}

// scanValue converts a driver value into an IRValue. go-sqlite3 returns
// int64, float64, string, []byte, bool, time.Time or nil.
func scanValue(v any) (ir.IRValue, error) {
	switch val := v.(type) {
	case time.Time:
		return ir.IRString(val.UTC().Format(time.RFC3339Nano)), nil
	case float64:
		// A REAL column can hold values JSON has no spelling for.
		if math.IsNaN(val) || math.IsInf(val, 0) {
			return ir.IRNull{}, nil
		}
	}
	return ir.FromAny(v)
}
