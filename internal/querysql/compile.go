package querysql

import (
	"fmt"
	"strings"

	"github.com/roach88/xfilter/internal/ir"
	"github.com/roach88/xfilter/internal/queryir"
)

// PhysicalQuery is a compiled, backend-ready query: SQL text plus positional
// parameters. It is what connectors execute and what request keys hash.
type PhysicalQuery struct {
	SQL    string       `json:"sql"`
	Params []ir.IRValue `json:"params"`
}

// Key returns the canonical request key for the query.
func (q PhysicalQuery) Key() (string, error) {
	return ir.QueryKey(q.SQL, q.Params)
}

// Args converts Params into database/sql arguments.
func (q PhysicalQuery) Args() ([]any, error) {
	args := make([]any, len(q.Params))
	for i, p := range q.Params {
		v, err := ir.ToNative(p)
		if err != nil {
			return nil, fmt.Errorf("param %d: %w", i, err)
		}
		args[i] = v
	}
	return args, nil
}

// SQLCompiler compiles QueryIR to parameterized SQL for SQLite.
//
// CRITICAL: All values are parameterized (never interpolated). Identifiers
// are double-quoted so column names from CSV headers are safe.
// Output is deterministic: the same IR always yields byte-identical SQL,
// which is what makes request keys stable.
type SQLCompiler struct{}

// NewSQLCompiler creates a new SQLCompiler.
func NewSQLCompiler() *SQLCompiler {
	return &SQLCompiler{}
}

// Compile converts a QueryIR query to a PhysicalQuery.
// The query is validated first; structural problems are reported together.
func (c *SQLCompiler) Compile(q queryir.Query) (PhysicalQuery, error) {
	if q == nil {
		return PhysicalQuery{}, fmt.Errorf("cannot compile nil query")
	}
	if res := queryir.Validate(q); !res.Valid {
		return PhysicalQuery{}, fmt.Errorf("invalid query: %s", strings.Join(res.Problems, "; "))
	}

	switch query := q.(type) {
	case queryir.Select:
		return c.compileSelect(query)
	case *queryir.Select:
		return c.compileSelect(*query)
	default:
		return PhysicalQuery{}, fmt.Errorf("unsupported query type: %T", q)
	}
}

// CompilePredicate compiles a predicate on its own. A nil predicate
// compiles to the always-true "1 = 1".
func (c *SQLCompiler) CompilePredicate(p queryir.Predicate) (string, []ir.IRValue, error) {
	return c.compilePredicate(p)
}

func (c *SQLCompiler) compileSelect(q queryir.Select) (PhysicalQuery, error) {
	var b strings.Builder
	var params []ir.IRValue

	b.WriteString("SELECT ")
	if q.Distinct {
		b.WriteString("DISTINCT ")
	}
	for i, col := range q.Columns {
		if i > 0 {
			b.WriteString(", ")
		}
		exprSQL, exprParams, err := c.compileExpr(col.Expr)
		if err != nil {
			return PhysicalQuery{}, fmt.Errorf("column %q: %w", col.As, err)
		}
		b.WriteString(exprSQL)
		b.WriteString(" AS ")
		b.WriteString(QuoteIdent(col.As))
		params = append(params, exprParams...)
	}

	b.WriteString(" FROM ")
	b.WriteString(QuoteIdent(q.From))

	if q.Filter != nil {
		filterSQL, filterParams, err := c.compilePredicate(q.Filter)
		if err != nil {
			return PhysicalQuery{}, fmt.Errorf("compile filter: %w", err)
		}
		b.WriteString(" WHERE ")
		b.WriteString(filterSQL)
		params = append(params, filterParams...)
	}

	if len(q.GroupBy) > 0 {
		b.WriteString(" GROUP BY ")
		for i, g := range q.GroupBy {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(QuoteIdent(g))
		}
	}

	if len(q.OrderBy) > 0 {
		b.WriteString(" ORDER BY ")
		for i, o := range q.OrderBy {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(QuoteIdent(o.Column))
			if o.Desc {
				b.WriteString(" DESC")
			} else {
				b.WriteString(" ASC")
			}
		}
	}

	if q.Limit > 0 {
		b.WriteString(" LIMIT ?")
		params = append(params, ir.IRInt(q.Limit))
	}

	return PhysicalQuery{SQL: b.String(), Params: params}, nil
}

// compileExpr compiles a column expression. Only Bin carries parameters.
func (c *SQLCompiler) compileExpr(e queryir.Expr) (string, []ir.IRValue, error) {
	switch expr := e.(type) {
	case queryir.Field:
		return QuoteIdent(expr.Name), nil, nil
	case queryir.Count:
		if expr.Field == "" {
			return "COUNT(*)", nil, nil
		}
		return fmt.Sprintf("COUNT(%s)", QuoteIdent(expr.Field)), nil, nil
	case queryir.CountDistinct:
		return fmt.Sprintf("COUNT(DISTINCT %s)", QuoteIdent(expr.Field)), nil, nil
	case queryir.CountNulls:
		f := QuoteIdent(expr.Field)
		return fmt.Sprintf("(COUNT(*) - COUNT(%s))", f), nil, nil
	case queryir.Min:
		return fmt.Sprintf("MIN(%s)", QuoteIdent(expr.Field)), nil, nil
	case queryir.Max:
		return fmt.Sprintf("MAX(%s)", QuoteIdent(expr.Field)), nil, nil
	case queryir.Sum:
		return fmt.Sprintf("SUM(%s)", QuoteIdent(expr.Field)), nil, nil
	case queryir.Avg:
		return fmt.Sprintf("AVG(%s)", QuoteIdent(expr.Field)), nil, nil
	case queryir.Bin:
		// CAST truncates toward zero, which equals floor for field >= Start.
		sql := fmt.Sprintf("(? + ? * CAST((%s - ?) / ? AS INTEGER))", QuoteIdent(expr.Field))
		return sql, []ir.IRValue{expr.Start, expr.Step, expr.Start, expr.Step}, nil
	default:
		return "", nil, fmt.Errorf("unsupported expression type: %T", e)
	}
}

// compilePredicate compiles a queryir.Predicate to a SQL WHERE fragment.
// CRITICAL: Values NEVER interpolated - always use ? placeholders.
func (c *SQLCompiler) compilePredicate(p queryir.Predicate) (string, []ir.IRValue, error) {
	if p == nil {
		return "1 = 1", nil, nil // Always true
	}

	switch pred := p.(type) {
	case queryir.Equals:
		return c.compileEquals(pred)
	case *queryir.Equals:
		return c.compileEquals(*pred)
	case queryir.In:
		return c.compileIn(pred)
	case *queryir.In:
		return c.compileIn(*pred)
	case queryir.Range:
		return c.compileRange(pred)
	case *queryir.Range:
		return c.compileRange(*pred)
	case queryir.And:
		return c.compileJunction(pred.Predicates, " AND ", "1 = 1")
	case *queryir.And:
		return c.compileJunction(pred.Predicates, " AND ", "1 = 1")
	case queryir.Or:
		return c.compileJunction(pred.Predicates, " OR ", "1 = 0")
	case *queryir.Or:
		return c.compileJunction(pred.Predicates, " OR ", "1 = 0")
	case queryir.Not:
		return c.compileNot(pred)
	case *queryir.Not:
		return c.compileNot(*pred)
	default:
		return "", nil, fmt.Errorf("unsupported predicate type: %T", p)
	}
}

// compileEquals compiles an Equals predicate to "field = ?", or to
// "field IS NULL" when the value is null.
func (c *SQLCompiler) compileEquals(eq queryir.Equals) (string, []ir.IRValue, error) {
	if isNull(eq.Value) {
		return fmt.Sprintf("%s IS NULL", QuoteIdent(eq.Field)), nil, nil
	}
	return fmt.Sprintf("%s = ?", QuoteIdent(eq.Field)), []ir.IRValue{eq.Value}, nil
}

func (c *SQLCompiler) compileIn(in queryir.In) (string, []ir.IRValue, error) {
	if len(in.Values) == 0 {
		return "1 = 0", nil, nil // Empty set matches nothing
	}
	marks := strings.Repeat(", ?", len(in.Values))[2:]
	params := append([]ir.IRValue(nil), in.Values...)
	return fmt.Sprintf("%s IN (%s)", QuoteIdent(in.Field), marks), params, nil
}

func (c *SQLCompiler) compileRange(r queryir.Range) (string, []ir.IRValue, error) {
	return fmt.Sprintf("%s BETWEEN ? AND ?", QuoteIdent(r.Field)), []ir.IRValue{r.Lo, r.Hi}, nil
}

// compileJunction compiles And/Or. Each compound is parenthesised so
// nesting never depends on operator precedence.
func (c *SQLCompiler) compileJunction(preds []queryir.Predicate, sep, empty string) (string, []ir.IRValue, error) {
	if len(preds) == 0 {
		return empty, nil, nil
	}

	parts := make([]string, 0, len(preds))
	var allParams []ir.IRValue
	for _, pred := range preds {
		sql, params, err := c.compilePredicate(pred)
		if err != nil {
			return "", nil, err
		}
		parts = append(parts, sql)
		allParams = append(allParams, params...)
	}

	if len(parts) == 1 {
		return parts[0], allParams, nil
	}
	return "(" + strings.Join(parts, sep) + ")", allParams, nil
}

func (c *SQLCompiler) compileNot(n queryir.Not) (string, []ir.IRValue, error) {
	sql, params, err := c.compilePredicate(n.Predicate)
	if err != nil {
		return "", nil, err
	}
	return "NOT (" + sql + ")", params, nil
}

// QuoteIdent double-quotes a SQL identifier, doubling embedded quotes.
func QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func isNull(v ir.IRValue) bool {
	switch v.(type) {
	case nil, ir.IRNull:
		return true
	}
	return false
}
