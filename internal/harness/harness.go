package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/xfilter/internal/compiler"
	"github.com/roach88/xfilter/internal/engine"
	"github.com/roach88/xfilter/internal/ir"
	"github.com/roach88/xfilter/internal/store"
	"github.com/roach88/xfilter/internal/testutil"
	"github.com/roach88/xfilter/internal/view"
)

// DefaultSettleTimeout bounds how long one step may take to settle.
const DefaultSettleTimeout = 10 * time.Second

// harnessEpoch is the fixed wall clock for store bookkeeping.
var harnessEpoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// Option configures a scenario run.
type Option func(*options)

type options struct {
	logger        *slog.Logger
	settleTimeout time.Duration
}

// WithLogger sets the logger handed to the store, engine and views.
// Default: logs are discarded.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithSettleTimeout bounds how long each step may take to settle.
func WithSettleTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.settleTimeout = d
		}
	}
}

// Harness drives one scenario. It owns a fresh store, a coordinator
// and the dashboard's views.
type Harness struct {
	store  *store.Store
	co     *engine.Coordinator
	dash   *view.Dashboard
	logger *slog.Logger
	opts   options

	// order maps view name to declaration index, for sorting a step's
	// deliveries.
	order map[string]int

	mu      sync.Mutex
	pending []TraceEvent
}

// Run executes a scenario and returns the result.
//
// Each scenario runs against a fresh database in a temporary directory.
// Client identities are sequential and the store clock is fixed, so two
// runs of the same scenario produce the same trace.
//
// Execution flow:
//  1. Load the tables and the dashboard
//  2. Register every view and settle (step 0, "load")
//  3. Apply each step, settle, and check its expectations
//  4. Check the final assertions
//
// An error is returned when the scenario cannot run at all; failed
// expectations are reported in Result.Errors instead.
func Run(ctx context.Context, scenario *Scenario, opts ...Option) (*Result, error) {
	o := options{
		logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
		settleTimeout: DefaultSettleTimeout,
	}
	for _, opt := range opts {
		opt(&o)
	}

	dir, err := os.MkdirTemp("", "xfilter-harness-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	st, err := store.Open(filepath.Join(dir, "harness.db"),
		store.WithLogger(o.logger),
		store.WithNow(func() time.Time { return harnessEpoch }),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create store: %w", err)
	}
	defer st.Close()

	if err := loadTables(ctx, st, scenario); err != nil {
		return nil, err
	}

	spec, err := loadDashboard(scenario)
	if err != nil {
		return nil, fmt.Errorf("failed to load dashboard: %w", err)
	}

	h := &Harness{
		store:  st,
		logger: o.logger,
		opts:   o,
		order:  make(map[string]int, len(spec.Views)),
	}
	for i, v := range spec.Views {
		h.order[v.Name] = i
	}

	h.dash, err = view.Build(spec, view.WithObserver(h.observe), view.WithLogger(o.logger))
	if err != nil {
		return nil, fmt.Errorf("failed to build dashboard: %w", err)
	}

	h.co = engine.NewCoordinator(st,
		engine.WithLogger(o.logger),
		engine.WithClientIDGenerator(testutil.NewSequentialIDs("view")),
	)

	runCtx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		if err := h.co.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	result, runErr := h.execute(ctx, scenario)

	cancel()
	if err := g.Wait(); err != nil && runErr == nil {
		runErr = fmt.Errorf("coordinator: %w", err)
	}
	if runErr != nil {
		return nil, runErr
	}
	return result, nil
}

func (h *Harness) execute(ctx context.Context, scenario *Scenario) (*Result, error) {
	result := NewResult()

	if err := h.dash.Register(h.co); err != nil {
		return nil, fmt.Errorf("failed to register views: %w", err)
	}
	if err := h.settle(ctx, 0, "load", result); err != nil {
		return nil, err
	}

	for i, step := range scenario.Steps {
		if err := h.apply(step); err != nil {
			return nil, fmt.Errorf("step %d (%s): %w", i+1, step.Action, err)
		}
		if err := h.settle(ctx, i+1, step.Action, result); err != nil {
			return nil, fmt.Errorf("step %d (%s): %w", i+1, step.Action, err)
		}
		for _, msg := range EvaluateAssertions(result, step.Expect, h.dash) {
			result.AddError(fmt.Sprintf("step %d (%s): %s", i+1, step.Action, msg))
		}

		h.logger.Info("scenario step settled",
			"scenario", scenario.Name,
			"step", i+1,
			"action", step.Action,
		)
	}

	for _, msg := range EvaluateAssertions(result, scenario.Assertions, h.dash) {
		result.AddError(msg)
	}

	for _, v := range h.dash.Views() {
		result.State[v.Name()] = v.Data()
	}

	if err := h.dash.Unregister(h.co); err != nil {
		return nil, fmt.Errorf("failed to unregister views: %w", err)
	}
	return result, nil
}

// apply performs one interaction against the dashboard.
func (h *Harness) apply(step Step) error {
	switch step.Action {
	case ActionSetParam:
		p, ok := h.dash.Param(step.Param)
		if !ok {
			return fmt.Errorf("unknown param %q", step.Param)
		}
		v, err := convertToIRValue(step.Value)
		if err != nil {
			return fmt.Errorf("value: %w", err)
		}
		return p.Update(v)
	case ActionRefresh:
		return h.co.RefreshAll()
	}

	v, ok := h.dash.View(step.View)
	if !ok {
		return fmt.Errorf("unknown view %q", step.View)
	}

	switch step.Action {
	case ActionSelect:
		m, ok := v.(*view.Menu)
		if !ok {
			return fmt.Errorf("view %q is a %s, select needs a menu", step.View, v.Kind())
		}
		val, err := convertToIRValue(step.Value)
		if err != nil {
			return fmt.Errorf("value: %w", err)
		}
		return m.Select(val)
	case ActionSetRange:
		r, ok := v.(*view.RangeInput)
		if !ok {
			return fmt.Errorf("view %q is a %s, set_range needs a range", step.View, v.Kind())
		}
		lo, hi, err := convertRange(step.Range)
		if err != nil {
			return err
		}
		return r.SetRange(lo, hi)
	case ActionBrush:
		hist, ok := v.(*view.Histogram)
		if !ok {
			return fmt.Errorf("view %q is a %s, brush needs a histogram", step.View, v.Kind())
		}
		lo, hi, err := convertRange(step.Range)
		if err != nil {
			return err
		}
		return hist.Brush(lo, hi)
	case ActionClear:
		switch w := v.(type) {
		case *view.Menu:
			return w.Select(nil)
		case *view.RangeInput:
			return w.Reset()
		case *view.Histogram:
			return w.ClearBrush()
		default:
			return fmt.Errorf("view %q is a %s and holds no interaction to clear", step.View, v.Kind())
		}
	}
	return fmt.Errorf("unknown action %q", step.Action)
}

// settle waits until every triggered query has been delivered, then moves
// the step's deliveries into the trace.
func (h *Harness) settle(ctx context.Context, step int, action string, result *Result) error {
	ctx, cancel := context.WithTimeout(ctx, h.opts.settleTimeout)
	defer cancel()
	if err := h.co.Manager().Drain(ctx); err != nil {
		return fmt.Errorf("settling: %w", err)
	}

	h.mu.Lock()
	events := h.pending
	h.pending = nil
	h.mu.Unlock()

	// Deliveries within a step arrive in completion order; the trace
	// orders them by view declaration so it is reproducible.
	sort.SliceStable(events, func(i, j int) bool {
		return h.order[events[i].View] < h.order[events[j].View]
	})
	for i := range events {
		events[i].Step = step
		events[i].Action = action
	}
	result.Trace = append(result.Trace, events...)
	return nil
}

// observe is the dashboard observer. It runs on the coordinator's loop.
func (h *Harness) observe(name string, t *ir.Table, err error) {
	ev := TraceEvent{View: name, Table: t}
	if err != nil {
		ev.Error = err.Error()
	}
	h.mu.Lock()
	h.pending = append(h.pending, ev)
	h.mu.Unlock()
}

func loadTables(ctx context.Context, st *store.Store, scenario *Scenario) error {
	for _, t := range scenario.Tables {
		var err error
		if t.File != "" {
			_, err = st.LoadCSVFile(ctx, t.Name, scenario.resolve(t.File))
		} else {
			_, err = st.LoadCSV(ctx, t.Name, strings.NewReader(t.CSV))
		}
		if err != nil {
			return fmt.Errorf("failed to load table %q: %w", t.Name, err)
		}
	}
	return nil
}

func loadDashboard(scenario *Scenario) (*ir.DashboardSpec, error) {
	if scenario.Spec != "" {
		return compiler.LoadDashboardSource(scenario.Name+".cue", []byte(scenario.Spec))
	}
	return compiler.LoadDashboard(scenario.resolve(scenario.Dashboard))
}

// convertToIRValue converts a YAML-parsed value to an IRValue. A missing
// or null value stays nil, which views read as "no value".
func convertToIRValue(val any) (ir.IRValue, error) {
	if val == nil {
		return nil, nil
	}
	return ir.FromAny(val)
}

func convertRange(r []any) (lo, hi ir.IRValue, err error) {
	if len(r) != 2 {
		return nil, nil, fmt.Errorf("range must be [lo, hi], got %d values", len(r))
	}
	if lo, err = convertToIRValue(r[0]); err != nil {
		return nil, nil, fmt.Errorf("range[0]: %w", err)
	}
	if hi, err = convertToIRValue(r[1]); err != nil {
		return nil, nil, fmt.Errorf("range[1]: %w", err)
	}
	return lo, hi, nil
}
