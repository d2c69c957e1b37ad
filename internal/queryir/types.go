package queryir

import "github.com/roach88/xfilter/internal/ir"

// Query represents an abstract query in the QueryIR.
//
// This is a sealed interface - only types in this package implement it.
// The marker method pattern prevents external implementations and enables
// exhaustive type switches in backend compilers.
//
// Query types:
//   - Select: table access with projection, filtering, grouping and ordering
type Query interface {
	queryNode() // Marker method - seals interface to this package
}

// Predicate represents a filter condition in the QueryIR.
//
// This is a sealed interface - only types in this package implement it.
// Predicates are what clauses contribute and selections combine. A nil
// Predicate means "unconstrained" everywhere in this module.
//
// Predicate types:
//   - Equals: field = value (field IS NULL when value is null)
//   - In: field IN (values...)
//   - Range: lo <= field <= hi
//   - And: all predicates must be true
//   - Or: at least one predicate must be true
//   - Not: negation
type Predicate interface {
	predicateNode() // Marker method - seals interface to this package
}

// Expr is a column expression in a Select projection.
//
// This is a sealed interface. Aggregates (Count, Min, Max, Sum, Avg,
// CountDistinct, CountNulls) collapse rows; Field and Bin do not.
type Expr interface {
	exprNode() // Marker method - seals interface to this package
}

// Select represents a table access query.
//
// Semantics:
//
//	SELECT [DISTINCT] <columns> FROM <from> WHERE <filter>
//	GROUP BY <group_by> ORDER BY <order_by> LIMIT <limit>
//
// Example (histogram over a filtered table):
//
//	Select{
//	  From: "penguins",
//	  Columns: []Column{
//	    {As: "x0", Expr: Bin{Field: "body_mass", Start: ir.IRInt(2700), Step: ir.IRInt(200)}},
//	    {As: "count", Expr: Count{}},
//	  },
//	  Filter:  Equals{Field: "species", Value: ir.IRString("Adelie")},
//	  GroupBy: []string{"x0"},
//	  OrderBy: []Order{{Column: "x0"}},
//	}
//
// RULES:
//   - From names a single table
//   - Columns must be explicit (no SELECT *) with unique aliases
//   - GroupBy and OrderBy refer to field names or column aliases
//   - Limit of zero means no limit
type Select struct {
	From     string    // Table name
	Columns  []Column  // Projection, in output order
	Distinct bool      // SELECT DISTINCT
	Filter   Predicate // WHERE conditions (nil = no filter)
	GroupBy  []string  // Field names or column aliases
	OrderBy  []Order   // Sort keys
	Limit    int64     // 0 = no limit
}

func (Select) queryNode() {}

// Column is one projected output column.
type Column struct {
	As   string // Output column name
	Expr Expr   // Column expression
}

// Order is one ORDER BY key.
type Order struct {
	Column string // Field name or column alias
	Desc   bool
}

// Field references a table column by name.
type Field struct {
	Name string
}

func (Field) exprNode() {}

// Count counts rows. With a Field it counts non-null values of that field.
type Count struct {
	Field string // "" = COUNT(*)
}

func (Count) exprNode() {}

// CountDistinct counts distinct non-null values of a field.
type CountDistinct struct {
	Field string
}

func (CountDistinct) exprNode() {}

// CountNulls counts rows where the field is NULL.
type CountNulls struct {
	Field string
}

func (CountNulls) exprNode() {}

// Min is the smallest non-null value of a field.
type Min struct {
	Field string
}

func (Min) exprNode() {}

// Max is the largest non-null value of a field.
type Max struct {
	Field string
}

func (Max) exprNode() {}

// Sum totals the non-null values of a field.
type Sum struct {
	Field string
}

func (Sum) exprNode() {}

// Avg is the mean of the non-null values of a field.
type Avg struct {
	Field string
}

func (Avg) exprNode() {}

// Bin maps a numeric field onto the lower edge of a fixed-width bin:
//
//	Start + Step * floor((field - Start) / Step)
//
// Values below Start are not expected; callers derive Start from the field
// minimum so the truncation in SQL matches floor.
type Bin struct {
	Field string
	Start ir.IRValue // IRInt or IRFloat
	Step  ir.IRValue // IRInt or IRFloat, must be > 0
}

func (Bin) exprNode() {}

// Equals represents a field-equals-literal predicate.
//
// Semantics:
//
//	<field> = <value>
//
// An IRNull value compiles to "<field> IS NULL" so that a menu option for
// missing values selects the missing rows.
type Equals struct {
	Field string     // Field name in current query source
	Value ir.IRValue // Literal value
}

func (Equals) predicateNode() {}

// In represents set membership: <field> IN (<values>).
// An empty Values slice matches nothing.
type In struct {
	Field  string
	Values []ir.IRValue
}

func (In) predicateNode() {}

// Range represents an inclusive interval: <field> BETWEEN <lo> AND <hi>.
type Range struct {
	Field string
	Lo    ir.IRValue
	Hi    ir.IRValue
}

func (Range) predicateNode() {}

// And represents a conjunction of predicates (all must be true).
// Empty Predicates slice means "always true".
type And struct {
	Predicates []Predicate
}

func (And) predicateNode() {}

// Or represents a disjunction of predicates (at least one must be true).
// Empty Predicates slice means "always false".
type Or struct {
	Predicates []Predicate
}

func (Or) predicateNode() {}

// Not negates a predicate.
type Not struct {
	Predicate Predicate
}

func (Not) predicateNode() {}
