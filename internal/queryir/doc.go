// Package queryir provides an abstract query intermediate representation (IR)
// for xfilter's views and clauses.
//
// QueryIR is the abstraction boundary between the clients that describe what
// they need and the backends that execute it. Clients build a Select; clause
// constructors build Predicates; selections combine Predicates with AndOf and
// OrOf. Only querysql turns any of it into text.
//
//	[view.Query(filter)] -> [Query IR] -> [querysql] -> [Connector]
//
// FRAGMENT:
//
// The IR includes:
//   - Select(from, columns, distinct, filter, group by, order by, limit)
//   - Expressions: Field, Count, CountDistinct, CountNulls, Min, Max, Sum, Avg, Bin
//   - Predicates: Equals, In, Range, And, Or, Not
//
// It EXCLUDES joins, subqueries and window functions. Every view in the
// dashboard reads one table.
//
// SEALED INTERFACES:
//
// Query, Expr and Predicate are sealed using the marker method pattern.
// Only types in this package can implement them, which keeps backend type
// switches exhaustive:
//
//	switch p := pred.(type) {
//	case Equals:
//	    // field = value
//	case And:
//	    // recurse
//	default:
//	    // impossible - compiler knows all Predicate types
//	}
//
// NIL MEANS UNCONSTRAINED:
//
// A nil Predicate is the always-true filter. AndOf and OrOf drop nil
// operands. A Selection with no clauses resolves to nil.
package queryir
