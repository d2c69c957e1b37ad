package view

import (
	"fmt"

	"github.com/roach88/xfilter/internal/ir"
	"github.com/roach88/xfilter/internal/queryir"
	"github.com/roach88/xfilter/internal/selection"
)

// TableView shows the filtered rows of a table. Its row limit is fixed,
// or read from a param when one is bound.
type TableView struct {
	base
	columns    []string
	limit      int64
	limitParam *selection.Param
}

// NewTableView creates a table view over columns. limit of zero means no
// limit; limitParam, when set, overrides limit with its current value.
func NewTableView(cfg Config, columns []string, limit int64, limitParam *selection.Param) (*TableView, error) {
	if err := cfg.validate(KindTable); err != nil {
		return nil, err
	}
	if len(columns) == 0 {
		return nil, fmt.Errorf("table %q has no columns", cfg.Name)
	}
	if limit < 0 {
		return nil, fmt.Errorf("table %q: limit must not be negative, got %d", cfg.Name, limit)
	}
	return &TableView{
		base:       newBase(cfg),
		columns:    append([]string(nil), columns...),
		limit:      limit,
		limitParam: limitParam,
	}, nil
}

func (v *TableView) Kind() string { return KindTable }

// Params implements engine.ParamClient.
func (v *TableView) Params() []*selection.Param {
	if v.limitParam == nil {
		return nil
	}
	return []*selection.Param{v.limitParam}
}

// Limit returns the effective row limit. A limit param holding anything
// but a non-negative integer falls back to the configured limit.
func (v *TableView) Limit() int64 {
	if v.limitParam != nil {
		if n, ok := v.limitParam.Value().(ir.IRInt); ok && n >= 0 {
			return int64(n)
		}
	}
	return v.limit
}

func (v *TableView) Query(filter queryir.Predicate) queryir.Query {
	cols := make([]queryir.Column, len(v.columns))
	for i, c := range v.columns {
		cols[i] = queryir.Column{As: c, Expr: queryir.Field{Name: c}}
	}
	return queryir.Select{
		From:    v.cfg.From,
		Columns: cols,
		Filter:  filter,
		Limit:   v.Limit(),
	}
}

// Rows returns the latest result as column-keyed objects.
func (v *TableView) Rows() []ir.IRObject {
	return v.Data().Objects()
}
