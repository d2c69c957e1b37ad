package view

import (
	"fmt"

	"github.com/roach88/xfilter/internal/engine"
	"github.com/roach88/xfilter/internal/ir"
	"github.com/roach88/xfilter/internal/queryir"
	"github.com/roach88/xfilter/internal/selection"
)

// RangeInput publishes an interval over a numeric column. Its bounds come
// from the column's statistics; it issues no query of its own.
type RangeInput struct {
	base
	column string
	as     Target

	min, max ir.IRValue
	current  ir.IRValue
}

// NewRangeInput creates a range input over column.
func NewRangeInput(cfg Config, column string, as Target) (*RangeInput, error) {
	if err := cfg.validate(KindRange); err != nil {
		return nil, err
	}
	if column == "" {
		return nil, fmt.Errorf("range %q has no column", cfg.Name)
	}
	if as.IsZero() {
		return nil, fmt.Errorf("range %q publishes nowhere", cfg.Name)
	}
	return &RangeInput{base: newBase(cfg), column: column, as: as}, nil
}

func (r *RangeInput) Kind() string { return KindRange }

func (r *RangeInput) Query(queryir.Predicate) queryir.Query { return nil }

// Fields implements engine.FieldInfoClient.
func (r *RangeInput) Fields() []engine.FieldRequest {
	return []engine.FieldRequest{{
		Table:  r.cfg.From,
		Column: r.column,
		Stats:  []engine.Stat{engine.StatMin, engine.StatMax},
	}}
}

// FieldInfo implements engine.FieldInfoClient. The extent is also
// delivered as the view's data, one row of "min" and "max".
func (r *RangeInput) FieldInfo(stats []engine.FieldStats) {
	if len(stats) == 0 {
		return
	}
	lo, hi := stats[0].Min, stats[0].Max
	r.mu.Lock()
	r.min, r.max = lo, hi
	r.mu.Unlock()

	r.QueryResult(&ir.Table{
		Columns: []string{"min", "max"},
		Rows:    [][]ir.IRValue{{lo, hi}},
	})
}

// Extent returns the column's bounds, or nils before field info arrives.
func (r *RangeInput) Extent() (lo, hi ir.IRValue) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.min, r.max
}

// SetRange publishes [lo, hi]. Bounds given high-to-low are reordered.
func (r *RangeInput) SetRange(lo, hi ir.IRValue) error {
	if _, ok := numeric(lo); !ok {
		return fmt.Errorf("range %q: lower bound must be numeric, got %T", r.cfg.Name, lo)
	}
	if _, ok := numeric(hi); !ok {
		return fmt.Errorf("range %q: upper bound must be numeric, got %T", r.cfg.Name, hi)
	}
	return r.publish(lo, hi)
}

// Reset withdraws the range.
func (r *RangeInput) Reset() error {
	return r.publish(nil, nil)
}

// Value returns the published range as [lo, hi], or nil.
func (r *RangeInput) Value() ir.IRValue {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current
}

func (r *RangeInput) publish(lo, hi ir.IRValue) error {
	if r.as.Selection != nil {
		c, err := selection.Interval(r, r.column, lo, hi)
		if err != nil {
			return fmt.Errorf("range %q: %w", r.cfg.Name, err)
		}
		r.setCurrent(c.Value)
		return r.as.Selection.Update(c)
	}

	var v ir.IRValue
	if lo != nil {
		if ir.Compare(lo, hi) > 0 {
			lo, hi = hi, lo
		}
		v = ir.IRArray{lo, hi}
	}
	r.setCurrent(v)
	return r.as.Param.Update(v)
}

func (r *RangeInput) setCurrent(v ir.IRValue) {
	r.mu.Lock()
	r.current = v
	r.mu.Unlock()
}
