package view

import (
	"fmt"
	"sync"

	"github.com/roach88/xfilter/internal/engine"
	"github.com/roach88/xfilter/internal/ir"
	"github.com/roach88/xfilter/internal/selection"
)

// Kind names, as used in dashboard specs.
const (
	KindMenu      = "menu"
	KindRange     = "range"
	KindHistogram = "histogram"
	KindTable     = "table"
)

// View is a headless client: it keeps its latest result instead of
// rendering it.
type View interface {
	engine.Client
	Name() string
	Kind() string
	// Data returns the latest delivered result, or nil before the first.
	Data() *ir.Table
	// Err returns the latest delivered failure. A later result clears it.
	Err() error
	// Updates counts results and failures delivered so far.
	Updates() int
}

// Observer is told about every result or failure a view ingests, on the
// goroutine that delivers it.
type Observer func(view string, t *ir.Table, err error)

// Config holds the settings every view shares.
type Config struct {
	Name     string
	From     string               // Table the view reads
	FilterBy *selection.Selection // nil = unfiltered
	// Priority of the view's requests. The zero value is PriorityHigh;
	// Build derives it from the spec, defaulting to PriorityNormal.
	Priority engine.Priority
	Observer Observer
}

func (c Config) validate(kind string) error {
	if c.Name == "" {
		return fmt.Errorf("%s view has no name", kind)
	}
	if c.From == "" {
		return fmt.Errorf("%s view %q has no table", kind, c.Name)
	}
	return nil
}

// Target is where an input view publishes: a Selection (as a clause
// sourced by the view) or a Param (as a plain value). At most one is set.
type Target struct {
	Selection *selection.Selection
	Param     *selection.Param
}

// IsZero reports whether the target publishes nowhere.
func (t Target) IsZero() bool {
	return t.Selection == nil && t.Param == nil
}

// base carries the state common to all views.
//
// Thread-safety: results are ingested on the query manager's goroutine and
// read from anywhere, so state is guarded by mu.
type base struct {
	engine.BaseClient
	cfg Config

	mu      sync.RWMutex
	table   *ir.Table
	err     error
	updates int
	pending bool
}

func newBase(cfg Config) base {
	return base{cfg: cfg}
}

func (b *base) Name() string                   { return b.cfg.Name }
func (b *base) FilterBy() *selection.Selection { return b.cfg.FilterBy }
func (b *base) Priority() engine.Priority      { return b.cfg.Priority }

// QueryPending implements engine.PendingNotifier.
func (b *base) QueryPending() {
	b.mu.Lock()
	b.pending = true
	b.mu.Unlock()
}

func (b *base) QueryResult(t *ir.Table) {
	b.mu.Lock()
	b.table = t
	b.err = nil
	b.updates++
	b.pending = false
	b.mu.Unlock()

	if b.cfg.Observer != nil {
		b.cfg.Observer(b.cfg.Name, t, nil)
	}
}

func (b *base) QueryError(err error) {
	b.mu.Lock()
	b.err = err
	b.updates++
	b.pending = false
	b.mu.Unlock()

	if b.cfg.Observer != nil {
		b.cfg.Observer(b.cfg.Name, nil, err)
	}
}

func (b *base) Data() *ir.Table {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.table
}

func (b *base) Err() error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.err
}

func (b *base) Updates() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.updates
}

// Pending reports whether a request was submitted and has not been
// answered yet.
func (b *base) Pending() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.pending
}

// numeric converts an IRInt or IRFloat to float64.
func numeric(v ir.IRValue) (float64, bool) {
	switch n := v.(type) {
	case ir.IRInt:
		return float64(n), true
	case ir.IRFloat:
		return float64(n), true
	default:
		return 0, false
	}
}
