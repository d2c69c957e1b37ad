package harness

import "github.com/roach88/xfilter/internal/ir"

// TraceEvent is one delivery to a view, observed while a step settled.
type TraceEvent struct {
	Step   int       `json:"step"`   // 0 is the initial load
	Action string    `json:"action"` // step action, "load" for step 0
	View   string    `json:"view"`
	Table  *ir.Table `json:"table,omitempty"`
	Error  string    `json:"error,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every expectation and assertion held.
	Pass bool `json:"pass"`

	// Trace holds every view delivery, grouped by step. Within a step,
	// deliveries are ordered by view declaration order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains assertion failure messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// State holds each view's data after the last step.
	State map[string]*ir.Table `json:"state,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
		State:  make(map[string]*ir.Table),
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// Deliveries counts the trace events for view.
func (r *Result) Deliveries(view string) int {
	n := 0
	for _, ev := range r.Trace {
		if ev.View == view {
			n++
		}
	}
	return n
}
