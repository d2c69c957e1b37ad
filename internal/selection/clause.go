package selection

import (
	"reflect"
	"slices"
	"strings"

	"github.com/roach88/xfilter/internal/ir"
	"github.com/roach88/xfilter/internal/queryir"
)

// Kind is the closed set of clause kinds. The kind decides how a clause
// without an explicit predicate is interpreted.
type Kind int

const (
	// KindPoint is an exact match over one field.
	KindPoint Kind = iota
	// KindPoints is a multi-value pick: this tuple OR that tuple.
	KindPoints
	// KindInterval is an inclusive range over one field.
	KindInterval
	// KindIntervals is a range per field, e.g. a 2-D brush.
	KindIntervals
	// KindMatch is set membership over one field.
	KindMatch
	// KindValue is a scalar binding that does not filter rows.
	KindValue
)

var kindNames = [...]string{"point", "points", "interval", "intervals", "match", "value"}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown"
}

// Clause is one source's contribution to a Selection.
//
// Clauses are values: publishing a new clause replaces the old one, the
// published copy is never mutated. Source is compared with == and must be
// a comparable value; clients normally pass themselves (a pointer).
//
// A clause with neither Predicate nor Value is a removal: publishing it
// withdraws the source's prior clause over the same fields.
type Clause struct {
	Source    any
	Kind      Kind
	Fields    []string
	Value     ir.IRValue
	Predicate queryir.Predicate
}

// IsEmpty reports whether the clause is a removal.
func (c Clause) IsEmpty() bool {
	return c.Predicate == nil && c.Value == nil
}

// Resolve returns the predicate the clause contributes to a filter. An
// explicit predicate wins; a point clause with only a value constrains its
// field by equality; anything else contributes nothing.
func (c Clause) Resolve() queryir.Predicate {
	if c.Predicate != nil {
		return c.Predicate
	}
	if c.Kind == KindPoint && len(c.Fields) == 1 && c.Value != nil {
		return queryir.Equals{Field: c.Fields[0], Value: c.Value}
	}
	return nil
}

// fieldsKey identifies the logical field set for replace-by-source.
func (c Clause) fieldsKey() string {
	fs := slices.Clone(c.Fields)
	slices.Sort(fs)
	return strings.Join(fs, "\x00")
}

func (c Clause) validate() error {
	if c.Source == nil {
		return malformed("", "clause has no source")
	}
	if !reflect.TypeOf(c.Source).Comparable() {
		return malformed("", "clause source %T is not comparable", c.Source)
	}
	if c.Kind < KindPoint || c.Kind > KindValue {
		return malformed("", "unknown clause kind %d", int(c.Kind))
	}
	for _, f := range c.Fields {
		if f == "" {
			return malformed("", "clause has an empty field name")
		}
	}
	if c.Kind != KindValue && len(c.Fields) == 0 {
		return malformed("", "%s clause has no fields", c.Kind)
	}
	return nil
}

// Point builds an exact-match clause over one field. A nil value builds the
// removal clause used by "All" options; ir.IRNull matches missing values.
func Point(source any, field string, value ir.IRValue) (Clause, error) {
	c := Clause{Source: source, Kind: KindPoint, Fields: []string{field}, Value: value}
	if field == "" {
		return Clause{}, malformed("", "point clause has no field")
	}
	if value != nil {
		if !isScalar(value) {
			return Clause{}, malformed(field, "point value must be a scalar, got %T", value)
		}
		c.Predicate = queryir.Equals{Field: field, Value: value}
	}
	return c, c.validate()
}

// Points builds a multi-value pick: each tuple matches when every field
// equals the tuple's value at the same position, and tuples are ORed.
// No tuples builds the removal clause.
func Points(source any, fields []string, tuples [][]ir.IRValue) (Clause, error) {
	c := Clause{Source: source, Kind: KindPoints, Fields: slices.Clone(fields)}
	if len(fields) == 0 {
		return Clause{}, malformed("", "points clause has no fields")
	}
	if len(tuples) == 0 {
		return c, c.validate()
	}

	value := make(ir.IRArray, len(tuples))
	disjuncts := make([]queryir.Predicate, len(tuples))
	for i, tuple := range tuples {
		if len(tuple) != len(fields) {
			return Clause{}, malformed(strings.Join(fields, ","),
				"tuple %d has %d values for %d fields", i, len(tuple), len(fields))
		}
		conj := make([]queryir.Predicate, len(fields))
		for j, f := range fields {
			if !isScalar(tuple[j]) {
				return Clause{}, malformed(f, "tuple %d value must be a scalar, got %T", i, tuple[j])
			}
			conj[j] = queryir.Equals{Field: f, Value: tuple[j]}
		}
		value[i] = ir.IRArray(slices.Clone(tuple))
		disjuncts[i] = queryir.AndOf(conj...)
	}

	c.Value = value
	c.Predicate = queryir.OrOf(disjuncts...)
	return c, c.validate()
}

// Interval builds an inclusive range clause over one field. Bounds are
// reordered when given high-to-low, as a brush dragged leftward produces.
// A nil bound builds the removal clause.
func Interval(source any, field string, lo, hi ir.IRValue) (Clause, error) {
	c := Clause{Source: source, Kind: KindInterval, Fields: []string{field}}
	if field == "" {
		return Clause{}, malformed("", "interval clause has no field")
	}
	if lo == nil || hi == nil {
		return c, c.validate()
	}
	lo, hi, err := orderBounds(field, lo, hi)
	if err != nil {
		return Clause{}, err
	}
	c.Value = ir.IRArray{lo, hi}
	c.Predicate = queryir.Range{Field: field, Lo: lo, Hi: hi}
	return c, c.validate()
}

// Extent is one [lo, hi] pair for Intervals.
type Extent [2]ir.IRValue

// Intervals builds a conjunction of ranges, one per field, e.g. an x/y
// brush. No extents builds the removal clause.
func Intervals(source any, fields []string, extents []Extent) (Clause, error) {
	c := Clause{Source: source, Kind: KindIntervals, Fields: slices.Clone(fields)}
	if len(fields) == 0 {
		return Clause{}, malformed("", "intervals clause has no fields")
	}
	if len(extents) == 0 {
		return c, c.validate()
	}
	if len(extents) != len(fields) {
		return Clause{}, malformed(strings.Join(fields, ","),
			"%d extents for %d fields", len(extents), len(fields))
	}

	value := make(ir.IRArray, len(fields))
	ranges := make([]queryir.Predicate, len(fields))
	for i, f := range fields {
		if extents[i][0] == nil || extents[i][1] == nil {
			return Clause{}, malformed(f, "extent %d needs both bounds", i)
		}
		lo, hi, err := orderBounds(f, extents[i][0], extents[i][1])
		if err != nil {
			return Clause{}, err
		}
		value[i] = ir.IRArray{lo, hi}
		ranges[i] = queryir.Range{Field: f, Lo: lo, Hi: hi}
	}

	c.Value = value
	c.Predicate = queryir.AndOf(ranges...)
	return c, c.validate()
}

// Match builds a set-membership clause. A nil values slice builds the
// removal clause; an empty non-nil slice matches nothing.
func Match(source any, field string, values []ir.IRValue) (Clause, error) {
	c := Clause{Source: source, Kind: KindMatch, Fields: []string{field}}
	if field == "" {
		return Clause{}, malformed("", "match clause has no field")
	}
	if values == nil {
		return c, c.validate()
	}
	for i, v := range values {
		if !isScalar(v) {
			return Clause{}, malformed(field, "match value %d must be a scalar, got %T", i, v)
		}
	}
	c.Value = ir.IRArray(slices.Clone(values))
	c.Predicate = queryir.In{Field: field, Values: slices.Clone(values)}
	return c, c.validate()
}

// ValueClause builds a non-filtering clause that only carries a value,
// for inputs that publish a scalar into a selection.
func ValueClause(source any, value ir.IRValue) (Clause, error) {
	c := Clause{Source: source, Kind: KindValue, Value: value}
	return c, c.validate()
}

func orderBounds(field string, lo, hi ir.IRValue) (ir.IRValue, ir.IRValue, error) {
	if !isScalar(lo) || !isScalar(hi) {
		return nil, nil, malformed(field, "interval bounds must be scalars")
	}
	if ir.Compare(lo, hi) > 0 {
		return hi, lo, nil
	}
	return lo, hi, nil
}

func isScalar(v ir.IRValue) bool {
	switch v.(type) {
	case ir.IRArray, ir.IRObject:
		return false
	}
	return true
}
