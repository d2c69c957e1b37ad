package queryir

import (
	"fmt"

	"github.com/roach88/xfilter/internal/ir"
)

// ValidationResult contains the structural analysis of a query.
//
// A query that fails validation cannot be compiled: querysql.Compile runs
// Validate first and reports the problems as a single error.
type ValidationResult struct {
	// Valid indicates the query can be compiled by every backend.
	Valid bool

	// Problems lists each structural defect found. Empty when Valid is true.
	Problems []string
}

// Validate checks that a query is well formed.
//
// Rules:
//  1. From names a table and Columns is non-empty (no SELECT *)
//  2. Column aliases are non-empty and unique
//  3. Every field reference is non-empty
//  4. Bin steps are positive numbers
//  5. Predicate values are scalars (arrays and objects are not SQL parameters)
//  6. Range bounds are both present; Limit is not negative
//
// Validate is a pure function with no side effects.
func Validate(query Query) ValidationResult {
	v := &validator{
		problems: []string{},
	}
	v.validateQuery(query)

	return ValidationResult{
		Valid:    len(v.problems) == 0,
		Problems: v.problems,
	}
}

// validator accumulates problems during traversal.
type validator struct {
	problems []string
}

func (v *validator) addProblem(format string, args ...any) {
	v.problems = append(v.problems, fmt.Sprintf(format, args...))
}

func (v *validator) validateQuery(q Query) {
	if q == nil {
		v.addProblem("nil query")
		return
	}

	switch query := q.(type) {
	case Select:
		v.validateSelect(query)
	case *Select:
		v.validateSelect(*query)
	default:
		v.addProblem("unknown query type: %T", q)
	}
}

func (v *validator) validateSelect(sel Select) {
	if sel.From == "" {
		v.addProblem("select has no table")
	}
	if len(sel.Columns) == 0 {
		v.addProblem("select has no columns - explicit projection required")
	}

	seen := make(map[string]bool, len(sel.Columns))
	for i, col := range sel.Columns {
		if col.As == "" {
			v.addProblem("column %d has no alias", i)
		} else if seen[col.As] {
			v.addProblem("duplicate column alias %q", col.As)
		}
		seen[col.As] = true
		v.validateExpr(col.As, col.Expr)
	}

	for _, g := range sel.GroupBy {
		if g == "" {
			v.addProblem("empty group by key")
		}
	}
	for _, o := range sel.OrderBy {
		if o.Column == "" {
			v.addProblem("empty order by key")
		}
	}
	if sel.Limit < 0 {
		v.addProblem("negative limit %d", sel.Limit)
	}

	v.validatePredicate(sel.Filter)
}

func (v *validator) validateExpr(alias string, e Expr) {
	requireField := func(kind, field string) {
		if field == "" {
			v.addProblem("column %q: %s has no field", alias, kind)
		}
	}

	switch expr := e.(type) {
	case nil:
		v.addProblem("column %q has no expression", alias)
	case Field:
		requireField("field", expr.Name)
	case Count:
		// Field is optional: "" means COUNT(*)
	case CountDistinct:
		requireField("count distinct", expr.Field)
	case CountNulls:
		requireField("count nulls", expr.Field)
	case Min:
		requireField("min", expr.Field)
	case Max:
		requireField("max", expr.Field)
	case Sum:
		requireField("sum", expr.Field)
	case Avg:
		requireField("avg", expr.Field)
	case Bin:
		requireField("bin", expr.Field)
		if !isNumber(expr.Start) {
			v.addProblem("column %q: bin start must be a number, got %T", alias, expr.Start)
		}
		if !isNumber(expr.Step) || ir.Compare(expr.Step, ir.IRInt(0)) <= 0 {
			v.addProblem("column %q: bin step must be a positive number", alias)
		}
	default:
		v.addProblem("column %q: unknown expression type %T", alias, e)
	}
}

func (v *validator) validatePredicate(p Predicate) {
	if p == nil {
		return // nil predicates are valid (no filter)
	}

	switch pred := p.(type) {
	case Equals:
		v.validateComparison("equals", pred.Field, pred.Value)
	case *Equals:
		v.validateComparison("equals", pred.Field, pred.Value)
	case In:
		v.validateIn(pred)
	case *In:
		v.validateIn(*pred)
	case Range:
		v.validateRange(pred)
	case *Range:
		v.validateRange(*pred)
	case And:
		v.validateAll(pred.Predicates)
	case *And:
		v.validateAll(pred.Predicates)
	case Or:
		v.validateAll(pred.Predicates)
	case *Or:
		v.validateAll(pred.Predicates)
	case Not:
		v.validateNot(pred)
	case *Not:
		v.validateNot(*pred)
	default:
		v.addProblem("unknown predicate type: %T", p)
	}
}

func (v *validator) validateComparison(kind, field string, val ir.IRValue) {
	if field == "" {
		v.addProblem("%s predicate has no field", kind)
	}
	switch val.(type) {
	case ir.IRArray, ir.IRObject:
		v.addProblem("field '%s' compared to %T - only scalar values are allowed", field, val)
	}
}

func (v *validator) validateIn(in In) {
	if in.Field == "" {
		v.addProblem("in predicate has no field")
	}
	for _, val := range in.Values {
		v.validateComparison("in", in.Field, val)
	}
}

func (v *validator) validateRange(r Range) {
	if r.Lo == nil || r.Hi == nil {
		v.addProblem("range on '%s' needs both bounds", r.Field)
	}
	v.validateComparison("range", r.Field, r.Lo)
	v.validateComparison("range", r.Field, r.Hi)
}

func (v *validator) validateNot(n Not) {
	if n.Predicate == nil {
		v.addProblem("not predicate has no operand")
		return
	}
	v.validatePredicate(n.Predicate)
}

func (v *validator) validateAll(preds []Predicate) {
	for _, sub := range preds {
		if sub == nil {
			v.addProblem("nil predicate inside compound predicate")
			continue
		}
		v.validatePredicate(sub)
	}
}

func isNumber(v ir.IRValue) bool {
	switch v.(type) {
	case ir.IRInt, ir.IRFloat:
		return true
	}
	return false
}
