package compiler

import (
	"fmt"
	"regexp"

	"github.com/roach88/xfilter/internal/ir"
)

// Validation error codes (E100-E199)
const (
	// General validation errors (E100)
	ErrUnsupportedIRType = "E100" // unsupported IR type for validation

	// Declaration errors (E101-E109)
	ErrDuplicateName     = "E101" // name declared twice across selections, params and views
	ErrInvalidName       = "E102" // name is not an identifier
	ErrUnknownStrategy   = "E103" // selection strategy not recognised
	ErrUnknownViewKind   = "E104" // view kind not recognised
	ErrUnknownPriority   = "E105" // priority not recognised
	ErrMissingViewField  = "E106" // field required by the view kind is missing
	ErrInvalidViewField  = "E107" // field value out of range or not allowed for the kind
	ErrInvalidParamValue = "E108" // param value cannot be used where it is bound

	// Reference errors (E110-E119)
	ErrUnknownSelection = "E110" // filterBy names no selection
	ErrUnknownTarget    = "E111" // as names no selection or param
	ErrUnknownParam     = "E112" // limitParam names no param
)

// ValidationError represents a schema validation error.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
	Line    int    `json:"line,omitempty"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("[%s] line %d: %s: %s", e.Code, e.Line, e.Field, e.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// Validate validates a compiled dashboard against schema rules.
// Returns all errors found (does not fail-fast).
func Validate(v any) []ValidationError {
	switch spec := v.(type) {
	case *ir.DashboardSpec:
		return validateDashboard(spec)
	case ir.DashboardSpec:
		return validateDashboard(&spec)
	default:
		return []ValidationError{{
			Field:   "type",
			Message: fmt.Sprintf("unsupported IR type: %T", v),
			Code:    ErrUnsupportedIRType,
		}}
	}
}

// identPattern matches names usable as selection, param and view names.
var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_-]*$`)

func validateDashboard(spec *ir.DashboardSpec) []ValidationError {
	var errs []ValidationError
	add := func(field, code, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Code: code, Message: fmt.Sprintf(format, args...)})
	}

	// Names share one namespace: a view's "as" may name a selection or a param.
	declared := make(map[string]string)
	declare := func(field, kind, name string) {
		if !identPattern.MatchString(name) {
			add(field, ErrInvalidName, "invalid %s name %q", kind, name)
		}
		if prev, ok := declared[name]; ok {
			add(field, ErrDuplicateName, "%s name %q already used by a %s", kind, name, prev)
			return
		}
		declared[name] = kind
	}

	strategies := make(map[string]string)
	for i, s := range spec.Selections {
		field := fmt.Sprintf("selections[%d]", i)
		declare(field+".name", "selection", s.Name)
		if !ir.ValidStrategies[s.Strategy] {
			add(field+".strategy", ErrUnknownStrategy,
				"unknown strategy %q, must be crossfilter, intersect, union or single", s.Strategy)
		}
		strategies[s.Name] = s.Strategy
	}

	params := make(map[string]ir.IRValue)
	for i, p := range spec.Params {
		declare(fmt.Sprintf("params[%d].name", i), "param", p.Name)
		params[p.Name] = p.Value
	}

	for i, v := range spec.Views {
		field := fmt.Sprintf("views[%d]", i)
		declare(field+".name", "view", v.Name)
		errs = append(errs, validateView(field, v, strategies, params)...)
	}

	return errs
}

func validateView(field string, v ir.ViewSpec, strategies map[string]string, params map[string]ir.IRValue) []ValidationError {
	var errs []ValidationError
	add := func(f, code, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field + "." + f, Code: code, Message: fmt.Sprintf(format, args...)})
	}

	if !ir.ValidViewKinds[v.Kind] {
		add("kind", ErrUnknownViewKind, "unknown view kind %q, must be menu, range, histogram or table", v.Kind)
	}
	if v.Priority != "" && !ir.ValidPriorities[v.Priority] {
		add("priority", ErrUnknownPriority, "unknown priority %q, must be high, normal or low", v.Priority)
	}
	if v.From == "" {
		add("from", ErrMissingViewField, "view %q needs a table", v.Name)
	}

	switch v.Kind {
	case "menu", "range", "histogram":
		if v.Column == "" {
			add("column", ErrMissingViewField, "%s view %q needs a column", v.Kind, v.Name)
		}
		if len(v.Columns) > 0 {
			add("columns", ErrInvalidViewField, "%s view %q takes column, not columns", v.Kind, v.Name)
		}
	case "table":
		if len(v.Columns) == 0 {
			add("columns", ErrMissingViewField, "table view %q needs columns", v.Name)
		}
		if v.As != "" {
			add("as", ErrInvalidViewField, "table view %q does not publish", v.Name)
		}
	}

	if v.Bins < 0 {
		add("bins", ErrInvalidViewField, "bins must not be negative, got %d", v.Bins)
	}
	if v.Bins != 0 && v.Kind != "histogram" {
		add("bins", ErrInvalidViewField, "bins only applies to histogram views")
	}
	if v.Limit < 0 {
		add("limit", ErrInvalidViewField, "limit must not be negative, got %d", v.Limit)
	}
	if (v.Limit != 0 || v.LimitParam != "") && v.Kind != "table" {
		add("limit", ErrInvalidViewField, "limit only applies to table views")
	}
	if v.Kind == "range" && v.As == "" {
		add("as", ErrMissingViewField, "range view %q must publish into a selection or param", v.Name)
	}

	if v.FilterBy != "" {
		if _, ok := strategies[v.FilterBy]; !ok {
			add("filterBy", ErrUnknownSelection, "unknown selection %q", v.FilterBy)
		}
	}
	if v.As != "" {
		_, isSel := strategies[v.As]
		_, isParam := params[v.As]
		switch {
		case !isSel && !isParam:
			add("as", ErrUnknownTarget, "unknown selection or param %q", v.As)
		case isParam && v.Kind == "histogram":
			add("as", ErrInvalidViewField, "histogram view %q must publish into a selection, %q is a param", v.Name, v.As)
		}
	}
	if v.LimitParam != "" {
		val, ok := params[v.LimitParam]
		switch {
		case !ok:
			add("limitParam", ErrUnknownParam, "unknown param %q", v.LimitParam)
		case val != nil:
			if n, isInt := val.(ir.IRInt); !isInt || n < 0 {
				add("limitParam", ErrInvalidParamValue,
					"param %q must start as a non-negative integer to limit rows", v.LimitParam)
			}
		}
	}

	return errs
}
