package view

import (
	"fmt"
	"math"

	"github.com/roach88/xfilter/internal/engine"
	"github.com/roach88/xfilter/internal/ir"
	"github.com/roach88/xfilter/internal/queryir"
	"github.com/roach88/xfilter/internal/selection"
)

// DefaultBins is the target bin count when none is configured.
const DefaultBins = 10

// Bin is one histogram bar: rows with Lo <= value < Lo+Step.
type Bin struct {
	Lo    float64
	Count int64
}

// Histogram counts rows per fixed-width bin of a numeric column. Bin
// boundaries are derived once from the column's min and max, so they stay
// put while the filter changes. Brushing publishes an interval clause.
type Histogram struct {
	base
	column string
	bins   int64
	as     Target

	start, step ir.IRValue // nil until field info arrives, or for a non-numeric column
	brush       ir.IRValue
}

// NewHistogram creates a histogram over column with about bins bins.
func NewHistogram(cfg Config, column string, bins int64, as Target) (*Histogram, error) {
	if err := cfg.validate(KindHistogram); err != nil {
		return nil, err
	}
	if column == "" {
		return nil, fmt.Errorf("histogram %q has no column", cfg.Name)
	}
	if bins < 0 {
		return nil, fmt.Errorf("histogram %q: bins must be positive, got %d", cfg.Name, bins)
	}
	if bins == 0 {
		bins = DefaultBins
	}
	return &Histogram{base: newBase(cfg), column: column, bins: bins, as: as}, nil
}

func (h *Histogram) Kind() string { return KindHistogram }

// Fields implements engine.FieldInfoClient.
func (h *Histogram) Fields() []engine.FieldRequest {
	return []engine.FieldRequest{{
		Table:  h.cfg.From,
		Column: h.column,
		Stats:  []engine.Stat{engine.StatMin, engine.StatMax},
	}}
}

// FieldInfo implements engine.FieldInfoClient.
func (h *Histogram) FieldInfo(stats []engine.FieldStats) {
	if len(stats) == 0 {
		return
	}
	start, step, ok := binning(stats[0].Min, stats[0].Max, h.bins)

	h.mu.Lock()
	defer h.mu.Unlock()
	if !ok {
		h.start, h.step = nil, nil
		return
	}
	h.start, h.step = start, step
}

// Query counts non-null rows per bin. A column without numeric bounds
// needs no query.
func (h *Histogram) Query(filter queryir.Predicate) queryir.Query {
	h.mu.RLock()
	start, step := h.start, h.step
	h.mu.RUnlock()
	if start == nil {
		return nil
	}

	return queryir.Select{
		From: h.cfg.From,
		Columns: []queryir.Column{
			{As: "bin", Expr: queryir.Bin{Field: h.column, Start: start, Step: step}},
			{As: "count", Expr: queryir.Count{}},
		},
		Filter: queryir.AndOf(filter, queryir.Not{
			Predicate: queryir.Equals{Field: h.column, Value: ir.IRNull{}},
		}),
		GroupBy: []string{"bin"},
		OrderBy: []queryir.Order{{Column: "bin"}},
	}
}

// Step returns the bin width, or nil before field info arrives.
func (h *Histogram) Step() ir.IRValue {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.step
}

// Bins returns the non-empty bins of the latest result.
func (h *Histogram) Bins() []Bin {
	t := h.Data()
	out := make([]Bin, 0, t.NumRows())
	for i := 0; i < t.NumRows(); i++ {
		lo, ok := numeric(t.Value(i, "bin"))
		if !ok {
			continue
		}
		b := Bin{Lo: lo}
		if n, ok := t.Value(i, "count").(ir.IRInt); ok {
			b.Count = int64(n)
		}
		out = append(out, b)
	}
	return out
}

// Brush publishes [lo, hi] over the column.
func (h *Histogram) Brush(lo, hi ir.IRValue) error {
	if _, ok := numeric(lo); !ok {
		return fmt.Errorf("histogram %q: brush bounds must be numeric, got %T", h.cfg.Name, lo)
	}
	if _, ok := numeric(hi); !ok {
		return fmt.Errorf("histogram %q: brush bounds must be numeric, got %T", h.cfg.Name, hi)
	}
	return h.publish(lo, hi)
}

// ClearBrush withdraws the brush.
func (h *Histogram) ClearBrush() error {
	return h.publish(nil, nil)
}

// Brushed returns the published brush as [lo, hi], or nil.
func (h *Histogram) Brushed() ir.IRValue {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.brush
}

func (h *Histogram) publish(lo, hi ir.IRValue) error {
	if h.as.Selection == nil {
		if h.as.Param != nil {
			return fmt.Errorf("histogram %q can only publish into a selection", h.cfg.Name)
		}
		return fmt.Errorf("histogram %q publishes nowhere", h.cfg.Name)
	}
	c, err := selection.Interval(h, h.column, lo, hi)
	if err != nil {
		return fmt.Errorf("histogram %q: %w", h.cfg.Name, err)
	}
	h.mu.Lock()
	h.brush = c.Value
	h.mu.Unlock()
	return h.as.Selection.Update(c)
}

// binning picks a 1, 2 or 5 times a power of ten step giving about bins
// bins over [minV, maxV], and the aligned start below min. Integral values
// come back as IRInt so integer columns bin with integer arithmetic.
func binning(minV, maxV ir.IRValue, bins int64) (start, step ir.IRValue, ok bool) {
	lo, ok1 := numeric(minV)
	hi, ok2 := numeric(maxV)
	if !ok1 || !ok2 || bins <= 0 {
		return nil, nil, false
	}

	s := niceStep((hi - lo) / float64(bins))
	st := math.Floor(lo/s) * s
	return numberValue(st), numberValue(s), true
}

func niceStep(raw float64) float64 {
	if raw <= 0 || math.IsNaN(raw) || math.IsInf(raw, 0) {
		return 1
	}
	mag := math.Pow(10, math.Floor(math.Log10(raw)))
	switch r := raw / mag; {
	case r <= 1:
		return mag
	case r <= 2:
		return 2 * mag
	case r <= 5:
		return 5 * mag
	default:
		return 10 * mag
	}
}

func numberValue(f float64) ir.IRValue {
	if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
		return ir.IRInt(int64(f))
	}
	return ir.IRFloat(f)
}
