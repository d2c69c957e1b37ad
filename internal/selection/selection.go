package selection

import (
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/roach88/xfilter/internal/ir"
	"github.com/roach88/xfilter/internal/queryir"
)

// Strategy is the closed set of resolution strategies.
type Strategy int

const (
	// Crossfilter excludes the asking client's own clauses, ORs clauses
	// from the same source, and ANDs across sources.
	Crossfilter Strategy = iota
	// Intersect ANDs every clause, including the asking client's own.
	Intersect
	// Union ORs every clause, including the asking client's own.
	Union
	// Single keeps only the most recently published clause.
	Single
)

var strategyNames = [...]string{"crossfilter", "intersect", "union", "single"}

func (s Strategy) String() string {
	if s >= 0 && int(s) < len(strategyNames) {
		return strategyNames[s]
	}
	return fmt.Sprintf("Strategy(%d)", int(s))
}

// ParseStrategy maps a strategy name to its Strategy.
func ParseStrategy(name string) (Strategy, error) {
	for i, n := range strategyNames {
		if n == name {
			return Strategy(i), nil
		}
	}
	return 0, &ConfigError{
		Code:    ErrCodeUnknownStrategy,
		Message: fmt.Sprintf("unknown selection strategy %q", name),
		Name:    name,
	}
}

// Option configures a Selection or Param.
type Option func(*options)

type options struct {
	logger         *slog.Logger
	maxNotifyDepth int32
}

// WithLogger sets the logger used for debug output.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithMaxNotifyDepth bounds how deeply listeners may synchronously
// re-trigger updates on the same container. Zero (the default) disables
// the guard: breaking feedback loops is then the caller's responsibility.
func WithMaxNotifyDepth(n int) Option {
	return func(o *options) {
		o.maxNotifyDepth = int32(n)
	}
}

func buildOptions(opts []Option) options {
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Selection is a named reactive container of clauses that resolves to a
// per-client filter predicate.
//
// Thread-safety: clause state is guarded by mu. Listeners run after the
// lock is released, so a listener may call back into the Selection.
type Selection struct {
	name     string
	strategy Strategy
	opts     options

	mu      sync.RWMutex
	clauses []Clause

	listeners listeners
	depth     atomic.Int32
}

// New creates a Selection. An out-of-range strategy is a ConfigError.
func New(name string, strategy Strategy, opts ...Option) (*Selection, error) {
	if strategy < Crossfilter || strategy > Single {
		return nil, &ConfigError{
			Code:    ErrCodeUnknownStrategy,
			Message: fmt.Sprintf("unknown selection strategy %d", int(strategy)),
			Name:    name,
		}
	}
	return &Selection{
		name:     name,
		strategy: strategy,
		opts:     buildOptions(opts),
	}, nil
}

// NewNamed creates a Selection from a strategy name, as found in a
// dashboard spec.
func NewNamed(name, strategy string, opts ...Option) (*Selection, error) {
	s, err := ParseStrategy(strategy)
	if err != nil {
		return nil, err
	}
	return New(name, s, opts...)
}

// NewCrossfilter creates a crossfilter Selection.
func NewCrossfilter(name string, opts ...Option) *Selection {
	return mustNew(name, Crossfilter, opts)
}

// NewIntersect creates an intersect Selection.
func NewIntersect(name string, opts ...Option) *Selection {
	return mustNew(name, Intersect, opts)
}

// NewUnion creates a union Selection.
func NewUnion(name string, opts ...Option) *Selection {
	return mustNew(name, Union, opts)
}

// NewSingle creates a single Selection.
func NewSingle(name string, opts ...Option) *Selection {
	return mustNew(name, Single, opts)
}

func mustNew(name string, s Strategy, opts []Option) *Selection {
	sel, err := New(name, s, opts...)
	if err != nil {
		panic(err)
	}
	return sel
}

// Name returns the selection name.
func (s *Selection) Name() string { return s.name }

// Strategy returns the resolution strategy.
func (s *Selection) Strategy() Strategy { return s.strategy }

// Update publishes a clause.
//
// Under Single every prior clause is evicted and the new clause (even a
// removal) becomes the only one. Under the other strategies the clause
// replaces the prior clause with the same source and field set; a removal
// clause only withdraws. Listeners for EventValue are then notified.
func (s *Selection) Update(c Clause) error {
	if err := c.validate(); err != nil {
		return fmt.Errorf("selection %q: %w", s.name, err)
	}
	c.Fields = slices.Clone(c.Fields)

	s.mu.Lock()
	if s.strategy == Single {
		s.clauses = []Clause{c}
	} else {
		key := c.fieldsKey()
		s.clauses = slices.DeleteFunc(s.clauses, func(old Clause) bool {
			return old.Source == c.Source && old.fieldsKey() == key
		})
		if !c.IsEmpty() {
			s.clauses = append(s.clauses, c)
		}
	}
	value := s.valueLocked()
	s.mu.Unlock()

	s.opts.logger.Debug("selection updated",
		"selection", s.name,
		"strategy", s.strategy.String(),
		"kind", c.Kind.String(),
		"fields", c.Fields,
		"removal", c.IsEmpty())

	return s.notify(Event{Type: EventValue, Value: value, Clause: &c})
}

// Clear withdraws every clause published by source.
func (s *Selection) Clear(source any) error {
	s.mu.Lock()
	before := len(s.clauses)
	s.clauses = slices.DeleteFunc(s.clauses, func(c Clause) bool {
		return c.Source == source
	})
	changed := len(s.clauses) != before
	value := s.valueLocked()
	s.mu.Unlock()

	if !changed {
		return nil
	}
	return s.notify(Event{Type: EventValue, Value: value})
}

// Activate signals that source is about to publish c, without changing
// state. Only EventActivate listeners are notified.
func (s *Selection) Activate(c Clause) error {
	if err := c.validate(); err != nil {
		return fmt.Errorf("selection %q: %w", s.name, err)
	}
	return s.notify(Event{Type: EventActivate, Value: s.Value(), Clause: &c})
}

// Value returns the value of the most recently published clause, or nil
// when the selection is empty.
func (s *Selection) Value() ir.IRValue {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.valueLocked()
}

func (s *Selection) valueLocked() ir.IRValue {
	if len(s.clauses) == 0 {
		return nil
	}
	return s.clauses[len(s.clauses)-1].Value
}

// ValueFor returns the value of the most recent clause published by
// source, or nil.
func (s *Selection) ValueFor(source any) ir.IRValue {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := len(s.clauses) - 1; i >= 0; i-- {
		if s.clauses[i].Source == source {
			return s.clauses[i].Value
		}
	}
	return nil
}

// Clauses returns a copy of the active clauses, oldest first.
func (s *Selection) Clauses() []Clause {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.clauses)
}

// Predicate returns the filter forClient should apply. A nil result is
// unconstrained. forClient need not have published anything; under
// Crossfilter an unknown client simply sees every clause.
func (s *Selection) Predicate(forClient any) queryir.Predicate {
	s.mu.RLock()
	clauses := slices.Clone(s.clauses)
	s.mu.RUnlock()

	switch s.strategy {
	case Intersect:
		return queryir.AndOf(resolveAll(clauses)...)
	case Union:
		return queryir.OrOf(resolveAll(clauses)...)
	case Crossfilter:
		return resolveCrossfilter(clauses, forClient)
	case Single:
		if len(clauses) == 0 {
			return nil
		}
		return clauses[len(clauses)-1].Resolve()
	default:
		return nil
	}
}

func resolveAll(clauses []Clause) []queryir.Predicate {
	preds := make([]queryir.Predicate, len(clauses))
	for i, c := range clauses {
		preds[i] = c.Resolve()
	}
	return preds
}

// resolveCrossfilter drops forClient's clauses, ORs per source in order of
// first appearance, and ANDs the per-source results.
func resolveCrossfilter(clauses []Clause, forClient any) queryir.Predicate {
	var order []any
	bySource := make(map[any][]queryir.Predicate)
	for _, c := range clauses {
		if c.Source == forClient {
			continue
		}
		if _, seen := bySource[c.Source]; !seen {
			order = append(order, c.Source)
		}
		bySource[c.Source] = append(bySource[c.Source], c.Resolve())
	}

	perSource := make([]queryir.Predicate, len(order))
	for i, src := range order {
		perSource[i] = queryir.OrOf(bySource[src]...)
	}
	return queryir.AndOf(perSource...)
}

// AddListener registers fn for events of type t.
func (s *Selection) AddListener(t EventType, fn Listener) ListenerID {
	return s.listeners.add(t, fn)
}

// RemoveListener unregisters a listener. It reports whether id was found.
func (s *Selection) RemoveListener(t EventType, id ListenerID) bool {
	return s.listeners.remove(t, id)
}

func (s *Selection) notify(ev Event) error {
	return guardedEmit(&s.listeners, &s.depth, s.opts.maxNotifyDepth, s.name, ev)
}

// guardedEmit delivers ev, enforcing the optional re-entrancy limit.
func guardedEmit(l *listeners, depth *atomic.Int32, max int32, name string, ev Event) error {
	d := depth.Add(1)
	defer depth.Add(-1)
	if max > 0 && d > max {
		return &ConfigError{
			Code:    ErrCodeNotifyDepth,
			Message: fmt.Sprintf("listener re-entered update %d levels deep (max %d)", d, max),
			Name:    name,
		}
	}
	l.emit(ev)
	return nil
}
