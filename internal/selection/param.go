package selection

import (
	"sync"
	"sync/atomic"

	"github.com/roach88/xfilter/internal/ir"
)

// Param is a named reactive scalar. It has no clause algebra: Update
// replaces the value and notifies only when the value actually changed.
//
// Thread-safety: the value is guarded by mu; listeners run without it.
type Param struct {
	name string
	opts options

	mu    sync.RWMutex
	value ir.IRValue

	listeners listeners
	depth     atomic.Int32
}

// NewParam creates a Param with an initial value (nil for undefined).
func NewParam(name string, initial ir.IRValue, opts ...Option) *Param {
	return &Param{
		name:  name,
		opts:  buildOptions(opts),
		value: initial,
	}
}

// Name returns the param name.
func (p *Param) Name() string { return p.name }

// Value returns the current value.
func (p *Param) Value() ir.IRValue {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.value
}

// Update sets the value. Listeners are notified only when the new value
// differs from the old one under shallow equality.
func (p *Param) Update(v ir.IRValue) error {
	p.mu.Lock()
	if shallowEqual(p.value, v) {
		p.mu.Unlock()
		return nil
	}
	p.value = v
	p.mu.Unlock()

	p.opts.logger.Debug("param updated", "param", p.name)
	return guardedEmit(&p.listeners, &p.depth, p.opts.maxNotifyDepth, p.name,
		Event{Type: EventValue, Value: v})
}

// AddListener registers fn for events of type t.
func (p *Param) AddListener(t EventType, fn Listener) ListenerID {
	return p.listeners.add(t, fn)
}

// RemoveListener unregisters a listener. It reports whether id was found.
func (p *Param) RemoveListener(t EventType, id ListenerID) bool {
	return p.listeners.remove(t, id)
}

// shallowEqual compares scalars by value and containers element by element
// one level deep. Nested containers are never considered equal, so
// replacing a nested value always notifies.
func shallowEqual(a, b ir.IRValue) bool {
	switch x := a.(type) {
	case ir.IRArray:
		y, ok := b.(ir.IRArray)
		if !ok || len(x) != len(y) {
			return false
		}
		for i := range x {
			if !scalarEqual(x[i], y[i]) {
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
			if !ok || !scalarEqual(xv, yv) {
				return false
			}
		}
		return true
	default:
		return scalarEqual(a, b)
	}
}

func scalarEqual(a, b ir.IRValue) bool {
	if !isScalar(a) || !isScalar(b) {
		return false
	}
	return a == b
}
