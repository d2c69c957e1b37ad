package store

import (
	"context"
	"fmt"
	"time"

	"github.com/roach88/xfilter/internal/ir"
	"github.com/roach88/xfilter/internal/querysql"
)

// QueryLogEntry is one row of query_log.
type QueryLogEntry struct {
	ID         int64         `json:"id"`
	Key        string        `json:"key"`
	SQL        string        `json:"sql"`
	Params     []ir.IRValue  `json:"params"`
	RowCount   int           `json:"row_count"`
	Error      string        `json:"error,omitempty"`
	Duration   time.Duration `json:"duration"`
	ExecutedAt time.Time     `json:"executed_at"`
}

func (s *Store) recordQuery(ctx context.Context, q querysql.PhysicalQuery, rowCount int, execErr error, elapsed time.Duration) error {
	key, err := q.Key()
	if err != nil {
		return fmt.Errorf("record query: %w", err)
	}
	params, err := marshalParams(q.Params)
	if err != nil {
		return fmt.Errorf("record query: %w", err)
	}
	errText := ""
	if execErr != nil {
		errText = execErr.Error()
	}

	// The query context may already be cancelled when the query failed
	// because of it; the log entry is still wanted.
	_, err = s.db.ExecContext(context.WithoutCancel(ctx), `
		INSERT INTO query_log
		(query_key, sql, params, row_count, error, duration_us, executed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		key,
		q.SQL,
		params,
		rowCount,
		errText,
		elapsed.Microseconds(),
		s.now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("record query: %w", err)
	}
	return nil
}

// QueryLog returns the most recent query_log entries in execution order.
// A non-positive limit returns every entry.
//
// Returns an empty slice (not nil) if nothing has been logged.
func (s *Store) QueryLog(ctx context.Context, limit int) ([]QueryLogEntry, error) {
	query := `
		SELECT id, query_key, sql, params, row_count, error, duration_us, executed_at
		FROM (
			SELECT * FROM query_log ORDER BY id DESC LIMIT ?
		)
		ORDER BY id ASC
	`
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query log: %w", err)
	}
	defer rows.Close()

	entries := []QueryLogEntry{}
	for rows.Next() {
		var (
			e        QueryLogEntry
			params   string
			micros   int64
			executed string
		)
		if err := rows.Scan(&e.ID, &e.Key, &e.SQL, &params, &e.RowCount, &e.Error, &micros, &executed); err != nil {
			return nil, fmt.Errorf("scan query log: %w", err)
		}
		if e.Params, err = unmarshalParams(params); err != nil {
			return nil, fmt.Errorf("query log entry %d: %w", e.ID, err)
		}
		e.Duration = time.Duration(micros) * time.Microsecond
		if e.ExecutedAt, err = time.Parse(time.RFC3339Nano, executed); err != nil {
			return nil, fmt.Errorf("query log entry %d: parse timestamp: %w", e.ID, err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate query log: %w", err)
	}
	return entries, nil
}

// QueryCount returns how many times the query with the given key has been
// executed against this store.
func (s *Store) QueryCount(ctx context.Context, key string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM query_log WHERE query_key = ?`, key).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("query count: %w", err)
	}
	return n, nil
}

// marshalParams converts query parameters to canonical JSON TEXT.
func marshalParams(params []ir.IRValue) (string, error) {
	arr := ir.IRArray(params)
	if arr == nil {
		arr = ir.IRArray{}
	}
	data, err := ir.MarshalCanonical(arr)
	if err != nil {
		return "", fmt.Errorf("marshal params: %w", err)
	}
	return string(data), nil
}

// unmarshalParams parses canonical JSON TEXT back into parameters. Large
// integers survive because IRArray decodes through json.Number.
func unmarshalParams(data string) ([]ir.IRValue, error) {
	if data == "" {
		return []ir.IRValue{}, nil
	}
	var arr ir.IRArray
	if err := arr.UnmarshalJSON([]byte(data)); err != nil {
		return nil, fmt.Errorf("unmarshal params: %w", err)
	}
	return []ir.IRValue(arr), nil
}
