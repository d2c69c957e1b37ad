package selection

import (
	"sync"

	"github.com/roach88/xfilter/internal/ir"
)

// EventType names a notification channel on a reactive container.
type EventType string

const (
	// EventValue fires after every state change.
	EventValue EventType = "value"

	// EventActivate fires when a source signals intent to publish (for
	// example on hover) without changing state. Consumers may use it to
	// warm caches.
	EventActivate EventType = "activate"
)

// Event is delivered to listeners.
type Event struct {
	Type EventType

	// Value is the container's current value after the change. For a
	// Selection this is the most recently published clause value.
	Value ir.IRValue

	// Clause is the clause that caused the event, if any.
	Clause *Clause
}

// Listener receives events. Listeners run synchronously on the goroutine
// that mutated the container, in registration order, with no lock held,
// so they may read or update any container.
type Listener func(Event)

// ListenerID identifies a registration for removal.
type ListenerID uint64

type registration struct {
	id ListenerID
	fn Listener
}

// listeners is an ordered observer registry keyed by event type.
//
// Thread-safety: registration and snapshotting are guarded by mu; delivery
// happens on a snapshot outside the lock.
type listeners struct {
	mu     sync.Mutex
	nextID ListenerID
	byType map[EventType][]registration
}

func (l *listeners) add(t EventType, fn Listener) ListenerID {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.byType == nil {
		l.byType = make(map[EventType][]registration)
	}
	l.nextID++
	l.byType[t] = append(l.byType[t], registration{id: l.nextID, fn: fn})
	return l.nextID
}

func (l *listeners) remove(t EventType, id ListenerID) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	regs := l.byType[t]
	for i, r := range regs {
		if r.id == id {
			l.byType[t] = append(regs[:i:i], regs[i+1:]...)
			return true
		}
	}
	return false
}

func (l *listeners) snapshot(t EventType) []Listener {
	l.mu.Lock()
	defer l.mu.Unlock()

	regs := l.byType[t]
	out := make([]Listener, len(regs))
	for i, r := range regs {
		out[i] = r.fn
	}
	return out
}

func (l *listeners) emit(ev Event) {
	for _, fn := range l.snapshot(ev.Type) {
		fn(ev)
	}
}
