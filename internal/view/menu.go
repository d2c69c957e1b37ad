package view

import (
	"fmt"

	"github.com/roach88/xfilter/internal/ir"
	"github.com/roach88/xfilter/internal/queryir"
	"github.com/roach88/xfilter/internal/selection"
)

// MenuOption is one distinct value of the menu column with its row count
// under the current filter.
type MenuOption struct {
	Value ir.IRValue
	Count int64
}

// Menu lists the distinct values of a column and publishes the chosen one
// as a point clause.
type Menu struct {
	base
	column string
	as     Target

	selected ir.IRValue
}

// NewMenu creates a menu over column. as may be zero for a read-only menu.
func NewMenu(cfg Config, column string, as Target) (*Menu, error) {
	if err := cfg.validate(KindMenu); err != nil {
		return nil, err
	}
	if column == "" {
		return nil, fmt.Errorf("menu %q has no column", cfg.Name)
	}
	return &Menu{base: newBase(cfg), column: column, as: as}, nil
}

func (m *Menu) Kind() string { return KindMenu }

// Query counts rows per distinct value, ordered by value.
func (m *Menu) Query(filter queryir.Predicate) queryir.Query {
	return queryir.Select{
		From: m.cfg.From,
		Columns: []queryir.Column{
			{As: "value", Expr: queryir.Field{Name: m.column}},
			{As: "count", Expr: queryir.Count{}},
		},
		Filter:  filter,
		GroupBy: []string{m.column},
		OrderBy: []queryir.Order{{Column: m.column}},
	}
}

// Options returns the options from the latest result.
func (m *Menu) Options() []MenuOption {
	t := m.Data()
	out := make([]MenuOption, 0, t.NumRows())
	for i := 0; i < t.NumRows(); i++ {
		opt := MenuOption{Value: t.Value(i, "value")}
		if n, ok := t.Value(i, "count").(ir.IRInt); ok {
			opt.Count = int64(n)
		}
		out = append(out, opt)
	}
	return out
}

// Select publishes value. A nil value is the "All" option: it withdraws
// the menu's clause (or sets the param to null).
func (m *Menu) Select(value ir.IRValue) error {
	m.mu.Lock()
	m.selected = value
	m.mu.Unlock()

	switch {
	case m.as.Selection != nil:
		c, err := selection.Point(m, m.column, value)
		if err != nil {
			return fmt.Errorf("menu %q: %w", m.cfg.Name, err)
		}
		return m.as.Selection.Update(c)
	case m.as.Param != nil:
		return m.as.Param.Update(value)
	default:
		return nil
	}
}

// Selected returns the last value passed to Select.
func (m *Menu) Selected() ir.IRValue {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.selected
}
