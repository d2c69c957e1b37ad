package store

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/roach88/xfilter/internal/querysql"
)

// ColumnType is the SQLite storage class chosen for a loaded column.
type ColumnType string

const (
	ColumnInteger ColumnType = "INTEGER"
	ColumnReal    ColumnType = "REAL"
	ColumnText    ColumnType = "TEXT"
)

// LoadedTable describes a table created by LoadCSV.
type LoadedTable struct {
	Name     string    `json:"name"`
	Source   string    `json:"source"`
	RowCount int       `json:"row_count"`
	LoadedAt time.Time `json:"loaded_at"`
}

// ErrReservedTable is returned when LoadCSV is asked to overwrite one of
// the store's own tables.
var ErrReservedTable = errors.New("table name is reserved")

var reservedTables = map[string]bool{
	"query_log":     true,
	"loaded_tables": true,
}

// LoadCSVFile loads a CSV file into a table. An empty name uses the file's
// base name without extension.
func (s *Store) LoadCSVFile(ctx context.Context, name, path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("load csv: %w", err)
	}
	defer f.Close()

	if name == "" {
		name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return s.loadCSV(ctx, name, path, f)
}

// LoadCSV creates (or replaces) a table from CSV data and returns the number
// of rows loaded. The first record is the header.
//
// Column types are inferred over every row: INTEGER when each non-empty
// cell parses as an integer, REAL when each parses as a number, TEXT
// otherwise. Empty cells load as NULL.
//
// The load is transactional: on error the previous table, if any, is kept.
func (s *Store) LoadCSV(ctx context.Context, name string, r io.Reader) (int, error) {
	return s.loadCSV(ctx, name, "reader", r)
}

func (s *Store) loadCSV(ctx context.Context, name, source string, r io.Reader) (int, error) {
	if name == "" {
		return 0, fmt.Errorf("load csv: empty table name")
	}
	if reservedTables[strings.ToLower(name)] || strings.HasPrefix(strings.ToLower(name), "sqlite_") {
		return 0, fmt.Errorf("load csv %q: %w", name, ErrReservedTable)
	}

	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	records, err := cr.ReadAll()
	if err != nil {
		return 0, fmt.Errorf("load csv %q: %w", name, err)
	}
	if len(records) == 0 {
		return 0, fmt.Errorf("load csv %q: missing header", name)
	}

	header, err := normalizeHeader(records[0])
	if err != nil {
		return 0, fmt.Errorf("load csv %q: %w", name, err)
	}
	data := records[1:]
	types := inferTypes(len(header), data)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("load csv %q: begin tx: %w", name, err)
	}
	defer tx.Rollback() // No-op if committed

	table := querysql.QuoteIdent(name)
	if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+table); err != nil {
		return 0, fmt.Errorf("load csv %q: drop: %w", name, err)
	}

	defs := make([]string, len(header))
	marks := make([]string, len(header))
	for i, col := range header {
		defs[i] = querysql.QuoteIdent(col) + " " + string(types[i])
		marks[i] = "?"
	}
	create := fmt.Sprintf("CREATE TABLE %s (%s)", table, strings.Join(defs, ", "))
	if _, err := tx.ExecContext(ctx, create); err != nil {
		return 0, fmt.Errorf("load csv %q: create: %w", name, err)
	}

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf("INSERT INTO %s VALUES (%s)", table, strings.Join(marks, ", ")))
	if err != nil {
		return 0, fmt.Errorf("load csv %q: prepare: %w", name, err)
	}
	defer stmt.Close()

	args := make([]any, len(header))
	for i, rec := range data {
		for j := range header {
			cell := ""
			if j < len(rec) {
				cell = rec[j]
			}
			args[j] = convertCell(cell, types[j])
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return 0, fmt.Errorf("load csv %q: row %d: %w", name, i+1, err)
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO loaded_tables (name, source, row_count, loaded_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			source = excluded.source,
			row_count = excluded.row_count,
			loaded_at = excluded.loaded_at
	`, name, source, len(data), s.now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return 0, fmt.Errorf("load csv %q: record table: %w", name, err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("load csv %q: commit: %w", name, err)
	}

	s.logger.Info("table loaded",
		"table", name,
		"source", source,
		"rows", len(data),
		"columns", len(header),
	)
	return len(data), nil
}

// Tables lists the tables created by LoadCSV, ordered by name.
func (s *Store) Tables(ctx context.Context) ([]LoadedTable, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, source, row_count, loaded_at
		FROM loaded_tables
		ORDER BY name COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	defer rows.Close()

	tables := []LoadedTable{}
	for rows.Next() {
		var (
			t      LoadedTable
			loaded string
		)
		if err := rows.Scan(&t.Name, &t.Source, &t.RowCount, &loaded); err != nil {
			return nil, fmt.Errorf("scan table: %w", err)
		}
		if t.LoadedAt, err = time.Parse(time.RFC3339Nano, loaded); err != nil {
			return nil, fmt.Errorf("table %q: parse timestamp: %w", t.Name, err)
		}
		tables = append(tables, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tables: %w", err)
	}
	return tables, nil
}

// normalizeHeader trims header names and names blank columns by position.
// Duplicate names (case-insensitive, as SQLite compares them) are rejected.
func normalizeHeader(raw []string) ([]string, error) {
	header := make([]string, len(raw))
	seen := make(map[string]bool, len(raw))
	for i, h := range raw {
		if i == 0 {
			h = strings.TrimPrefix(h, "\ufeff")
		}
		h = strings.TrimSpace(h)
		if h == "" {
			h = fmt.Sprintf("column_%d", i+1)
		}
		key := strings.ToLower(h)
		if seen[key] {
			return nil, fmt.Errorf("duplicate column %q", h)
		}
		seen[key] = true
		header[i] = h
	}
	return header, nil
}

func inferTypes(width int, rows [][]string) []ColumnType {
	types := make([]ColumnType, width)
	for col := 0; col < width; col++ {
		isInt, isReal, present := true, true, false
		for _, rec := range rows {
			if col >= len(rec) || rec[col] == "" {
				continue
			}
			present = true
			cell := rec[col]
			if isInt {
				if _, err := strconv.ParseInt(cell, 10, 64); err != nil {
					isInt = false
				}
			}
			if !isInt && isReal {
				if f, err := strconv.ParseFloat(cell, 64); err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
					isReal = false
				}
			}
			if !isReal {
				break
			}
		}
		switch {
		case !present:
			types[col] = ColumnText
		case isInt:
			types[col] = ColumnInteger
		case isReal:
			types[col] = ColumnReal
		default:
			types[col] = ColumnText
		}
	}
	return types
}

func convertCell(cell string, typ ColumnType) any {
	if cell == "" {
		return nil
	}
	switch typ {
	case ColumnInteger:
		if v, err := strconv.ParseInt(cell, 10, 64); err == nil {
			return v
		}
	case ColumnReal:
		if v, err := strconv.ParseFloat(cell, 64); err == nil {
			return v
		}
	}
	return cell
}
