package compiler

import (
	"fmt"
	"sort"
	"strings"

	"cuelang.org/go/cue"

	"github.com/roach88/xfilter/internal/ir"
)

// viewFields lists the fields a view struct may declare.
var viewFields = map[string]bool{
	"kind":       true,
	"from":       true,
	"column":     true,
	"columns":    true,
	"filterBy":   true,
	"as":         true,
	"bins":       true,
	"limit":      true,
	"limitParam": true,
	"priority":   true,
}

// CompileDashboard parses a CUE value into a DashboardSpec.
// Uses CUE SDK's Go API directly (not CLI subprocess).
//
// The CUE value is the dashboard root, e.g.:
//
//	dashboard: "penguins"
//	selection: brush: strategy: "crossfilter"
//	param: rows: value: 20
//	view: species: {kind: "menu", from: "penguins", column: "species", filterBy: "brush", as: "brush"}
//
// Selections, params and views keep their declaration order. Structural
// errors are returned here; cross-references are checked by Validate.
func CompileDashboard(v cue.Value) (*ir.DashboardSpec, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	spec := &ir.DashboardSpec{}

	name, _, err := optionalString(v, "dashboard")
	if err != nil {
		return nil, err
	}
	spec.Name = name

	if spec.Selections, err = parseSelections(v); err != nil {
		return nil, err
	}
	if spec.Params, err = parseParams(v); err != nil {
		return nil, err
	}
	if spec.Views, err = parseViews(v); err != nil {
		return nil, err
	}
	if len(spec.Views) == 0 {
		return nil, &CompileError{
			Field:   "view",
			Message: "at least one view is required",
			Pos:     v.Pos(),
		}
	}
	return spec, nil
}

// parseSelections extracts `selection: <name>: {strategy: ...}` entries.
func parseSelections(v cue.Value) ([]ir.SelectionSpec, error) {
	var out []ir.SelectionSpec
	err := eachField(v, "selection", func(name string, sv cue.Value) error {
		strategy, ok, err := optionalString(sv, "strategy")
		if err != nil {
			return err
		}
		if !ok {
			return &CompileError{
				Field:   fmt.Sprintf("selection.%s.strategy", name),
				Message: "strategy is required",
				Pos:     sv.Pos(),
			}
		}
		out = append(out, ir.SelectionSpec{Name: name, Strategy: strategy})
		return nil
	})
	return out, err
}

// parseParams extracts `param: <name>: {value: ...}` entries. A param
// without a value starts undefined.
func parseParams(v cue.Value) ([]ir.ParamSpec, error) {
	var out []ir.ParamSpec
	err := eachField(v, "param", func(name string, pv cue.Value) error {
		p := ir.ParamSpec{Name: name}
		if val := pv.LookupPath(cue.ParsePath("value")); val.Exists() {
			iv, err := toIRValue(val, fmt.Sprintf("param.%s.value", name))
			if err != nil {
				return err
			}
			p.Value = iv
		}
		out = append(out, p)
		return nil
	})
	return out, err
}

// parseViews extracts `view: <name>: {...}` entries.
func parseViews(v cue.Value) ([]ir.ViewSpec, error) {
	var out []ir.ViewSpec
	err := eachField(v, "view", func(name string, vv cue.Value) error {
		view, err := parseView(name, vv)
		if err != nil {
			return err
		}
		out = append(out, view)
		return nil
	})
	return out, err
}

func parseView(name string, v cue.Value) (ir.ViewSpec, error) {
	view := ir.ViewSpec{Name: name}
	field := func(f string) string { return fmt.Sprintf("view.%s.%s", name, f) }

	// Reject unknown fields so a misspelt filterBy is not silently ignored.
	iter, err := v.Fields()
	if err != nil {
		return view, formatCUEError(err)
	}
	for iter.Next() {
		if !viewFields[iter.Label()] {
			return view, &CompileError{
				Field:   field(iter.Label()),
				Message: fmt.Sprintf("unknown view field, expected one of %s", knownViewFields()),
				Pos:     iter.Value().Pos(),
			}
		}
	}

	kind, ok, err := optionalString(v, "kind")
	if err != nil {
		return view, err
	}
	if !ok {
		return view, &CompileError{Field: field("kind"), Message: "kind is required", Pos: v.Pos()}
	}
	view.Kind = kind

	from, ok, err := optionalString(v, "from")
	if err != nil {
		return view, err
	}
	if !ok {
		return view, &CompileError{Field: field("from"), Message: "from is required", Pos: v.Pos()}
	}
	view.From = from

	strs := []struct {
		name string
		dst  *string
	}{
		{"column", &view.Column},
		{"filterBy", &view.FilterBy},
		{"as", &view.As},
		{"limitParam", &view.LimitParam},
		{"priority", &view.Priority},
	}
	for _, s := range strs {
		if *s.dst, _, err = optionalString(v, s.name); err != nil {
			return view, err
		}
	}

	if view.Bins, _, err = optionalInt(v, "bins"); err != nil {
		return view, err
	}
	if view.Limit, _, err = optionalInt(v, "limit"); err != nil {
		return view, err
	}

	if cv := v.LookupPath(cue.ParsePath("columns")); cv.Exists() {
		list, err := cv.List()
		if err != nil {
			return view, formatCUEError(err)
		}
		for list.Next() {
			col, err := list.Value().String()
			if err != nil {
				return view, formatCUEError(err)
			}
			view.Columns = append(view.Columns, col)
		}
	}
	return view, nil
}

// eachField calls fn for every field of the struct at path, in order.
// A missing path is not an error.
func eachField(v cue.Value, path string, fn func(name string, v cue.Value) error) error {
	sv := v.LookupPath(cue.ParsePath(path))
	if !sv.Exists() {
		return nil
	}
	iter, err := sv.Fields()
	if err != nil {
		return formatCUEError(err)
	}
	for iter.Next() {
		if err := fn(iter.Label(), iter.Value()); err != nil {
			return err
		}
	}
	return nil
}

func optionalString(v cue.Value, path string) (string, bool, error) {
	fv := v.LookupPath(cue.ParsePath(path))
	if !fv.Exists() {
		return "", false, nil
	}
	s, err := fv.String()
	if err != nil {
		return "", false, formatCUEError(err)
	}
	return s, true, nil
}

func optionalInt(v cue.Value, path string) (int64, bool, error) {
	fv := v.LookupPath(cue.ParsePath(path))
	if !fv.Exists() {
		return 0, false, nil
	}
	n, err := fv.Int64()
	if err != nil {
		return 0, false, formatCUEError(err)
	}
	return n, true, nil
}

func knownViewFields() string {
	names := make([]string, 0, len(viewFields))
	for n := range viewFields {
		names = append(names, n)
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}
