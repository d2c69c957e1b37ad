package ir

// DashboardSpec is a compiled dashboard definition: the reactive containers
// and the views that consume them.
type DashboardSpec struct {
	Name       string          `json:"name"`
	Selections []SelectionSpec `json:"selections"`
	Params     []ParamSpec     `json:"params"`
	Views      []ViewSpec      `json:"views"`
}

// SelectionSpec declares a named selection and its resolution strategy.
type SelectionSpec struct {
	Name     string `json:"name"`
	Strategy string `json:"strategy"` // "crossfilter", "intersect", "union", "single"
}

// ParamSpec declares a named scalar param with an initial value.
type ParamSpec struct {
	Name  string  `json:"name"`
	Value IRValue `json:"value"`
}

// ViewSpec declares a headless view bound to a table.
type ViewSpec struct {
	Name       string   `json:"name"`
	Kind       string   `json:"kind"` // "menu", "range", "histogram", "table"
	From       string   `json:"from"`
	Column     string   `json:"column,omitempty"`
	Columns    []string `json:"columns,omitempty"`
	FilterBy   string   `json:"filter_by,omitempty"` // Selection consumed as filter
	As         string   `json:"as,omitempty"`        // Selection or param the view publishes into
	Bins       int64    `json:"bins,omitempty"`
	Limit      int64    `json:"limit,omitempty"`
	LimitParam string   `json:"limit_param,omitempty"` // Param overriding Limit
	Priority   string   `json:"priority,omitempty"`   // "high", "normal", "low"
}

// Valid enumerations for dashboard specs.
var (
	ValidStrategies = map[string]bool{
		"crossfilter": true,
		"intersect":   true,
		"union":       true,
		"single":      true,
	}

	ValidViewKinds = map[string]bool{
		"menu":      true,
		"range":     true,
		"histogram": true,
		"table":     true,
	}

	ValidPriorities = map[string]bool{
		"high":   true,
		"normal": true,
		"low":    true,
	}
)

// Selection returns the named selection spec.
func (d *DashboardSpec) Selection(name string) (SelectionSpec, bool) {
	for _, s := range d.Selections {
		if s.Name == name {
			return s, true
		}
	}
	return SelectionSpec{}, false
}
