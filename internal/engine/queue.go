package engine

import (
	"sync"

	"github.com/roach88/xfilter/internal/ir"
	"github.com/roach88/xfilter/internal/querysql"
)

// eventKind distinguishes manager events.
type eventKind int

const (
	// eventRequest carries a stamped request from a client.
	eventRequest eventKind = iota + 1
	// eventCompletion carries a connector response back to the loop.
	eventCompletion
	// eventCancel detaches a client from every pending request.
	eventCancel
	// eventRelease cancels a client and forgets its generation clock.
	eventRelease
	// eventClearCache empties the cache and advances the epoch.
	eventClearCache
	// eventBarrier is acknowledged once every earlier event is processed.
	eventBarrier
	// eventDrain is acknowledged once no request is pending or in flight.
	eventDrain
)

func (k eventKind) String() string {
	switch k {
	case eventRequest:
		return "request"
	case eventCompletion:
		return "completion"
	case eventCancel:
		return "cancel"
	case eventRelease:
		return "release"
	case eventClearCache:
		return "clear_cache"
	case eventBarrier:
		return "barrier"
	case eventDrain:
		return "drain"
	default:
		return "unknown"
	}
}

// event is the unit of work for the manager's Run loop. Only the fields
// relevant to its kind are set.
type event struct {
	kind eventKind

	// request, cancel and release
	client     ClientID
	generation int64
	key        string
	query      querysql.PhysicalQuery
	priority   Priority
	handler    Handler

	// completion
	pending *pendingRequest
	table   *ir.Table
	err     error

	// barrier and drain
	done chan struct{}
}

// eventQueue is a thread-safe FIFO queue for manager events.
//
// The queue is unbounded so that Request never blocks its caller, even when
// the caller is a listener running inside a delivery.
//
// The queue uses a channel for signaling to enable context-aware waiting
// in the Run loop.
type eventQueue struct {
	mu     sync.Mutex
	events []event
	closed bool
	signal chan struct{} // buffered, size 1
}

// newEventQueue creates an empty event queue.
func newEventQueue() *eventQueue {
	return &eventQueue{
		events: make([]event, 0, 64),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue adds an event to the back of the queue.
// Thread-safe: may be called from any goroutine.
// Returns false if the queue is closed.
func (q *eventQueue) Enqueue(e event) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	q.events = append(q.events, e)

	// Non-blocking; the buffer of 1 coalesces signals.
	select {
	case q.signal <- struct{}{}:
	default:
	}

	return true
}

// TryDequeue attempts to dequeue without blocking.
// Returns (event{}, false) if queue is empty.
func (q *eventQueue) TryDequeue() (event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.events) == 0 {
		return event{}, false
	}

	e := q.events[0]

	// Release the slot's pointers (tables, handlers) for GC.
	q.events[0] = event{}

	if len(q.events) == 1 {
		q.events = q.events[:0]
	} else {
		q.events = q.events[1:]
	}

	return e, true
}

// Wait returns a channel that signals when events may be available.
// The channel is closed when the queue is closed.
func (q *eventQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the current queue length.
func (q *eventQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

// Closed reports whether Close has been called.
func (q *eventQueue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Close signals that no more events will be enqueued.
// Wakes any blocked waiters by closing the signal channel.
func (q *eventQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}

	q.closed = true
	close(q.signal)
}
