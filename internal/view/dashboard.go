package view

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/roach88/xfilter/internal/engine"
	"github.com/roach88/xfilter/internal/ir"
	"github.com/roach88/xfilter/internal/selection"
)

// Dashboard is the live form of an ir.DashboardSpec: its selections,
// params and views, wired to each other but not yet to a coordinator.
type Dashboard struct {
	name       string
	selections map[string]*selection.Selection
	params     map[string]*selection.Param
	views      []View
	byName     map[string]View
}

// BuildOption configures Build.
type BuildOption func(*buildOptions)

type buildOptions struct {
	observer Observer
	selOpts  []selection.Option
}

// WithObserver reports every view update to fn.
func WithObserver(fn Observer) BuildOption {
	return func(o *buildOptions) { o.observer = fn }
}

// WithSelectionOptions passes opts to every selection and param created.
func WithSelectionOptions(opts ...selection.Option) BuildOption {
	return func(o *buildOptions) { o.selOpts = append(o.selOpts, opts...) }
}

// WithLogger sets the logger of every selection and param created.
func WithLogger(l *slog.Logger) BuildOption {
	return WithSelectionOptions(selection.WithLogger(l))
}

// Build creates the selections, params and views spec declares. Names are
// shared across the three: a view's "as" may name either a selection or a
// param, so a name may be declared only once.
func Build(spec *ir.DashboardSpec, opts ...BuildOption) (*Dashboard, error) {
	if spec == nil {
		return nil, errors.New("build dashboard: nil spec")
	}
	var o buildOptions
	for _, opt := range opts {
		opt(&o)
	}

	d := &Dashboard{
		name:       spec.Name,
		selections: make(map[string]*selection.Selection, len(spec.Selections)),
		params:     make(map[string]*selection.Param, len(spec.Params)),
		byName:     make(map[string]View, len(spec.Views)),
	}
	declared := make(map[string]string)
	declare := func(kind, name string) error {
		if name == "" {
			return fmt.Errorf("%s with empty name", kind)
		}
		if prev, ok := declared[name]; ok {
			return fmt.Errorf("%s %q: name already used by a %s", kind, name, prev)
		}
		declared[name] = kind
		return nil
	}

	for _, ss := range spec.Selections {
		if err := declare("selection", ss.Name); err != nil {
			return nil, err
		}
		sel, err := selection.NewNamed(ss.Name, ss.Strategy, o.selOpts...)
		if err != nil {
			return nil, err
		}
		d.selections[ss.Name] = sel
	}
	for _, ps := range spec.Params {
		if err := declare("param", ps.Name); err != nil {
			return nil, err
		}
		d.params[ps.Name] = selection.NewParam(ps.Name, ps.Value, o.selOpts...)
	}

	for _, vs := range spec.Views {
		if err := declare("view", vs.Name); err != nil {
			return nil, err
		}
		v, err := d.buildView(vs, o.observer)
		if err != nil {
			return nil, fmt.Errorf("view %q: %w", vs.Name, err)
		}
		d.views = append(d.views, v)
		d.byName[vs.Name] = v
	}
	return d, nil
}

func (d *Dashboard) buildView(vs ir.ViewSpec, observer Observer) (View, error) {
	prio, err := engine.ParsePriority(vs.Priority)
	if err != nil {
		return nil, err
	}
	cfg := Config{Name: vs.Name, From: vs.From, Priority: prio, Observer: observer}
	if vs.FilterBy != "" {
		sel, ok := d.selections[vs.FilterBy]
		if !ok {
			return nil, fmt.Errorf("filterBy: unknown selection %q", vs.FilterBy)
		}
		cfg.FilterBy = sel
	}

	var as Target
	if vs.As != "" {
		if sel, ok := d.selections[vs.As]; ok {
			as.Selection = sel
		} else if p, ok := d.params[vs.As]; ok {
			as.Param = p
		} else {
			return nil, fmt.Errorf("as: unknown selection or param %q", vs.As)
		}
	}

	switch vs.Kind {
	case KindMenu:
		return NewMenu(cfg, vs.Column, as)
	case KindRange:
		return NewRangeInput(cfg, vs.Column, as)
	case KindHistogram:
		if as.Param != nil {
			return nil, fmt.Errorf("as: histogram must publish into a selection, %q is a param", vs.As)
		}
		return NewHistogram(cfg, vs.Column, vs.Bins, as)
	case KindTable:
		if !as.IsZero() {
			return nil, errors.New("as: table views do not publish")
		}
		var lp *selection.Param
		if vs.LimitParam != "" {
			p, ok := d.params[vs.LimitParam]
			if !ok {
				return nil, fmt.Errorf("limit_param: unknown param %q", vs.LimitParam)
			}
			lp = p
		}
		return NewTableView(cfg, vs.Columns, vs.Limit, lp)
	default:
		return nil, fmt.Errorf("unknown view kind %q", vs.Kind)
	}
}

// Name returns the dashboard name.
func (d *Dashboard) Name() string { return d.name }

// Selection returns the named selection.
func (d *Dashboard) Selection(name string) (*selection.Selection, bool) {
	s, ok := d.selections[name]
	return s, ok
}

// Param returns the named param.
func (d *Dashboard) Param(name string) (*selection.Param, bool) {
	p, ok := d.params[name]
	return p, ok
}

// View returns the named view.
func (d *Dashboard) View(name string) (View, bool) {
	v, ok := d.byName[name]
	return v, ok
}

// Views returns the views in declaration order.
func (d *Dashboard) Views() []View {
	return append([]View(nil), d.views...)
}

// Register registers every view with co, in declaration order. Views
// registered before a failure stay registered.
func (d *Dashboard) Register(co *engine.Coordinator) error {
	for _, v := range d.views {
		if _, err := co.RegisterClient(v); err != nil {
			return fmt.Errorf("register view %q: %w", v.Name(), err)
		}
	}
	return nil
}

// Unregister removes every view from co, collecting failures.
func (d *Dashboard) Unregister(co *engine.Coordinator) error {
	var errs []error
	for _, v := range d.views {
		if err := co.UnregisterClient(v); err != nil && !errors.Is(err, engine.ErrNotRegistered) {
			errs = append(errs, fmt.Errorf("unregister view %q: %w", v.Name(), err))
		}
	}
	return errors.Join(errs...)
}
