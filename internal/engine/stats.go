package engine

import (
	"fmt"
	"math"

	"github.com/roach88/xfilter/internal/ir"
	"github.com/roach88/xfilter/internal/queryir"
)

// Stat names a column statistic.
type Stat string

const (
	StatCount    Stat = "count"
	StatNulls    Stat = "nulls"
	StatMin      Stat = "min"
	StatMax      Stat = "max"
	StatDistinct Stat = "distinct"
	StatSum      Stat = "sum"
)

// DefaultStats are fetched when a FieldRequest names none.
var DefaultStats = []Stat{StatCount, StatNulls, StatMin, StatMax}

// FieldRequest asks for statistics over one column.
type FieldRequest struct {
	Table  string
	Column string
	Stats  []Stat
}

// FieldStats holds the statistics of one column. Only the requested
// statistics are filled in; Min, Max and Sum are IRNull for a column with
// no values.
type FieldStats struct {
	Table    string
	Column   string
	Count    int64
	Nulls    int64
	Distinct int64
	Min      ir.IRValue
	Max      ir.IRValue
	Sum      ir.IRValue
}

func (r FieldRequest) stats() []Stat {
	if len(r.Stats) == 0 {
		return DefaultStats
	}
	return r.Stats
}

// SummaryQuery builds the single-row aggregate query for r.
func SummaryQuery(r FieldRequest) (queryir.Select, error) {
	if r.Table == "" || r.Column == "" {
		return queryir.Select{}, fmt.Errorf("field request needs table and column")
	}

	sel := queryir.Select{From: r.Table}
	seen := make(map[Stat]bool)
	for _, s := range r.stats() {
		if seen[s] {
			continue
		}
		seen[s] = true

		var e queryir.Expr
		switch s {
		case StatCount:
			e = queryir.Count{}
		case StatNulls:
			e = queryir.CountNulls{Field: r.Column}
		case StatMin:
			e = queryir.Min{Field: r.Column}
		case StatMax:
			e = queryir.Max{Field: r.Column}
		case StatDistinct:
			e = queryir.CountDistinct{Field: r.Column}
		case StatSum:
			e = queryir.Sum{Field: r.Column}
		default:
			return queryir.Select{}, fmt.Errorf("unknown statistic %q for %s.%s", s, r.Table, r.Column)
		}
		sel.Columns = append(sel.Columns, queryir.Column{As: string(s), Expr: e})
	}
	return sel, nil
}

// ParseSummary reads the result of SummaryQuery(r).
func ParseSummary(r FieldRequest, t *ir.Table) (FieldStats, error) {
	if t.NumRows() != 1 {
		return FieldStats{}, fmt.Errorf("summary of %s.%s: want 1 row, got %d", r.Table, r.Column, t.NumRows())
	}

	fs := FieldStats{Table: r.Table, Column: r.Column}
	for _, s := range r.stats() {
		v := t.Value(0, string(s))
		var err error
		switch s {
		case StatCount:
			fs.Count, err = toCount(v)
		case StatNulls:
			fs.Nulls, err = toCount(v)
		case StatDistinct:
			fs.Distinct, err = toCount(v)
		case StatMin:
			fs.Min = v
		case StatMax:
			fs.Max = v
		case StatSum:
			fs.Sum = v
		}
		if err != nil {
			return FieldStats{}, fmt.Errorf("summary of %s.%s: %s: %w", r.Table, r.Column, s, err)
		}
	}
	return fs, nil
}

func toCount(v ir.IRValue) (int64, error) {
	switch n := v.(type) {
	case ir.IRInt:
		return int64(n), nil
	case ir.IRFloat:
		if n != ir.IRFloat(math.Trunc(float64(n))) {
			return 0, fmt.Errorf("non-integral count %v", float64(n))
		}
		return int64(n), nil
	case ir.IRNull, nil:
		return 0, nil
	default:
		return 0, fmt.Errorf("count has type %T", v)
	}
}
