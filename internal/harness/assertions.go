package harness

import (
	"fmt"
	"sort"
	"strings"

	"github.com/roach88/xfilter/internal/ir"
	"github.com/roach88/xfilter/internal/view"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string    // Assertion type for categorization
	Expected string    // Human-readable expected outcome
	Actual   string    // Human-readable actual outcome
	Data     *ir.Table // The view's data, when the assertion targets a view
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if e.Data != nil {
		fmt.Fprintf(&buf, "\nView data (%s):\n", strings.Join(e.Data.Columns, ", "))
		for i, row := range e.Data.Rows {
			fmt.Fprintf(&buf, "  [%d] %s\n", i+1, formatRow(row))
		}
	}

	return buf.String()
}

// EvaluateAssertions checks every assertion and returns the failure
// messages. An empty slice means all passed.
func EvaluateAssertions(result *Result, assertions []Assertion, dash *view.Dashboard) []string {
	var errs []string
	for i, a := range assertions {
		if err := evaluate(result, a, dash); err != nil {
			errs = append(errs, fmt.Sprintf("assertion %d (%s): %v", i, a.Type, err))
		}
	}
	return errs
}

func evaluate(result *Result, a Assertion, dash *view.Dashboard) error {
	switch a.Type {
	case AssertDeliveries:
		return assertDeliveries(result, a)
	case AssertParam:
		return assertParam(dash, a)
	case AssertClauses:
		return assertClauses(dash, a)
	}

	v, ok := dash.View(a.View)
	if !ok {
		return fmt.Errorf("unknown view %q", a.View)
	}

	switch a.Type {
	case AssertRows:
		return assertRows(v, a)
	case AssertContains:
		return assertContains(v, a, true)
	case AssertNotContains:
		return assertContains(v, a, false)
	case AssertError:
		return assertError(v, a)
	default:
		return fmt.Errorf("unknown assertion type: %s", a.Type)
	}
}

// assertRows checks the view's row count.
func assertRows(v view.View, a Assertion) error {
	if err := v.Err(); err != nil {
		return &AssertionError{
			Type:     AssertRows,
			Expected: fmt.Sprintf("%d rows in %s", a.Count, a.View),
			Actual:   fmt.Sprintf("error: %v", err),
		}
	}
	data := v.Data()
	if got := data.NumRows(); got != a.Count {
		return &AssertionError{
			Type:     AssertRows,
			Expected: fmt.Sprintf("%d rows in %s", a.Count, a.View),
			Actual:   fmt.Sprintf("%d rows", got),
			Data:     data,
		}
	}
	return nil
}

// assertContains checks whether some row matches Where (subset match).
func assertContains(v view.View, a Assertion, want bool) error {
	where, err := convertWhere(a.Where)
	if err != nil {
		return err
	}

	found := false
	for _, row := range v.Data().Objects() {
		if matchRow(row, where) {
			found = true
			break
		}
	}
	if found == want {
		return nil
	}

	expected := fmt.Sprintf("a row of %s matching %s", a.View, formatWhere(where))
	actual := "no matching row"
	if !want {
		expected = fmt.Sprintf("no row of %s matching %s", a.View, formatWhere(where))
		actual = "found a matching row"
	}
	return &AssertionError{Type: a.Type, Expected: expected, Actual: actual, Data: v.Data()}
}

// assertError checks that the view's last delivery failed.
func assertError(v view.View, a Assertion) error {
	err := v.Err()
	if err == nil {
		return &AssertionError{
			Type:     AssertError,
			Expected: fmt.Sprintf("%s to hold an error", a.View),
			Actual:   "no error",
			Data:     v.Data(),
		}
	}
	if a.Message != "" && !strings.Contains(err.Error(), a.Message) {
		return &AssertionError{
			Type:     AssertError,
			Expected: fmt.Sprintf("error mentioning %q", a.Message),
			Actual:   err.Error(),
		}
	}
	return nil
}

// assertDeliveries checks how many deliveries the view has seen so far.
func assertDeliveries(result *Result, a Assertion) error {
	if got := result.Deliveries(a.View); got != a.Count {
		return &AssertionError{
			Type:     AssertDeliveries,
			Expected: fmt.Sprintf("%d deliveries to %s", a.Count, a.View),
			Actual:   fmt.Sprintf("%d deliveries", got),
		}
	}
	return nil
}

// assertParam checks a param's current value.
func assertParam(dash *view.Dashboard, a Assertion) error {
	p, ok := dash.Param(a.Param)
	if !ok {
		return fmt.Errorf("unknown param %q", a.Param)
	}
	want, err := convertToIRValue(a.Value)
	if err != nil {
		return fmt.Errorf("value: %w", err)
	}
	if got := p.Value(); !valuesEqual(got, want) {
		return &AssertionError{
			Type:     AssertParam,
			Expected: fmt.Sprintf("%s = %s", a.Param, formatValue(want)),
			Actual:   formatValue(got),
		}
	}
	return nil
}

// assertClauses checks the number of active clauses in a selection.
func assertClauses(dash *view.Dashboard, a Assertion) error {
	sel, ok := dash.Selection(a.Selection)
	if !ok {
		return fmt.Errorf("unknown selection %q", a.Selection)
	}
	if got := len(sel.Clauses()); got != a.Count {
		return &AssertionError{
			Type:     AssertClauses,
			Expected: fmt.Sprintf("%d clauses in %s", a.Count, a.Selection),
			Actual:   fmt.Sprintf("%d clauses", got),
		}
	}
	return nil
}

func convertWhere(where map[string]any) (ir.IRObject, error) {
	out := make(ir.IRObject, len(where))
	for k, raw := range where {
		v, err := ir.FromAny(raw)
		if err != nil {
			return nil, fmt.Errorf("where.%s: %w", k, err)
		}
		out[k] = v
	}
	return out, nil
}

// matchRow reports whether row holds every key of where with an equal value.
func matchRow(row, where ir.IRObject) bool {
	for k, want := range where {
		got, ok := row[k]
		if !ok || !valuesEqual(got, want) {
			return false
		}
	}
	return true
}

// valuesEqual compares IRValues the way a reader of a YAML file would:
// numbers compare numerically across IRInt and IRFloat, and a missing
// value equals null.
func valuesEqual(a, b ir.IRValue) bool {
	switch x := a.(type) {
	case ir.IRArray:
		y, ok := b.(ir.IRArray)
		if !ok || len(x) != len(y) {
			return false
		}
		for i := range x {
			if !valuesEqual(x[i], y[i]) {
				return false
			}
		}
		return true
	case ir.IRObject:
		y, ok := b.(ir.IRObject)
		if !ok || len(x) != len(y) {
			return false
		}
		for k, xv := range x {
			yv, ok := y[k]
			if !ok || !valuesEqual(xv, yv) {
				return false
			}
		}
		return true
	}
	switch b.(type) {
	case ir.IRArray, ir.IRObject:
		return false
	}
	return ir.Compare(a, b) == 0
}

func formatValue(v ir.IRValue) string {
	if v == nil {
		return "null"
	}
	data, err := ir.MarshalCanonical(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}

func formatRow(row []ir.IRValue) string {
	parts := make([]string, len(row))
	for i, v := range row {
		parts[i] = formatValue(v)
	}
	return strings.Join(parts, ", ")
}

func formatWhere(where ir.IRObject) string {
	keys := make([]string, 0, len(where))
	for k := range where {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + formatValue(where[k])
	}
	return "{" + strings.Join(parts, ", ") + "}"
}
