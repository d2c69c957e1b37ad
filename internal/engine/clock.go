package engine

import (
	"sync"
	"sync/atomic"
)

// Clock is a monotonic counter. The manager keeps one per client and stamps
// every request with Clock.Next(); a result is current only while its stamp
// equals Clock.Current().
//
// Thread-safety: Clock is safe for concurrent use (atomic operations).
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a new clock starting at 0.
func NewClock() *Clock {
	return &Clock{}
}

// Next returns the next sequence number and increments the clock.
// Calls are linearizable - each call returns a unique, increasing value.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the current sequence number without incrementing.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}

// generations maps each client to its generation clock.
//
// Stamping happens on the caller's goroutine so Request can return the
// generation synchronously; the Run loop reads Current to fence stale
// deliveries.
type generations struct {
	mu     sync.Mutex
	clocks map[ClientID]*Clock
}

func newGenerations() *generations {
	return &generations{clocks: make(map[ClientID]*Clock)}
}

func (g *generations) clock(id ClientID) *Clock {
	g.mu.Lock()
	defer g.mu.Unlock()
	c, ok := g.clocks[id]
	if !ok {
		c = NewClock()
		g.clocks[id] = c
	}
	return c
}

// next issues a new generation for id, superseding all earlier ones.
func (g *generations) next(id ClientID) int64 {
	return g.clock(id).Next()
}

// current reports the latest generation issued to id (0 if none).
func (g *generations) current(id ClientID) int64 {
	g.mu.Lock()
	c, ok := g.clocks[id]
	g.mu.Unlock()
	if !ok {
		return 0
	}
	return c.Current()
}

// stale reports whether gen has been superseded for id.
func (g *generations) stale(id ClientID, gen int64) bool {
	return gen < g.current(id)
}

// forget drops the clock for id. A later request for id starts a fresh
// clock, so forget is only safe once nothing is pending for id.
func (g *generations) forget(id ClientID) {
	g.mu.Lock()
	delete(g.clocks, id)
	g.mu.Unlock()
}

// len reports how many clients have a clock.
func (g *generations) len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.clocks)
}
