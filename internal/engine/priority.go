package engine

import (
	"container/heap"
	"fmt"
	"strings"
)

// Priority orders the submission of distinct queued keys. It never
// preempts a connector call that is already in flight.
type Priority int

const (
	// PriorityHigh is submitted before everything else.
	PriorityHigh Priority = iota
	// PriorityNormal is the default.
	PriorityNormal
	// PriorityLow is submitted last.
	PriorityLow
)

// DefaultPriority is used when a client declares none.
const DefaultPriority = PriorityNormal

// String returns the priority name.
func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityNormal:
		return "normal"
	case PriorityLow:
		return "low"
	default:
		return fmt.Sprintf("priority(%d)", int(p))
	}
}

// ParsePriority parses "high", "normal" or "low". The empty string is the
// default priority.
func ParsePriority(s string) (Priority, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "high":
		return PriorityHigh, nil
	case "", "normal":
		return PriorityNormal, nil
	case "low":
		return PriorityLow, nil
	default:
		return DefaultPriority, fmt.Errorf("unknown priority %q", s)
	}
}

// valid clamps unknown priorities to the default.
func (p Priority) valid() Priority {
	if p < PriorityHigh || p > PriorityLow {
		return DefaultPriority
	}
	return p
}

// dispatchQueue is a heap of undispatched pending requests ordered by
// priority, then by arrival.
type dispatchQueue []*pendingRequest

func (q dispatchQueue) Len() int { return len(q) }

func (q dispatchQueue) Less(i, j int) bool {
	if q[i].priority != q[j].priority {
		return q[i].priority < q[j].priority
	}
	return q[i].seq < q[j].seq
}

func (q dispatchQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *dispatchQueue) Push(x any) {
	p := x.(*pendingRequest)
	p.index = len(*q)
	*q = append(*q, p)
}

func (q *dispatchQueue) Pop() any {
	old := *q
	n := len(old)
	p := old[n-1]
	old[n-1] = nil
	p.index = -1
	*q = old[:n-1]
	return p
}

// raise moves p ahead if prio beats its current priority.
func (q *dispatchQueue) raise(p *pendingRequest, prio Priority) {
	if prio >= p.priority {
		return
	}
	p.priority = prio
	if p.index >= 0 {
		heap.Fix(q, p.index)
	}
}

// remove drops p from the heap if it is queued.
func (q *dispatchQueue) remove(p *pendingRequest) {
	if p.index >= 0 {
		heap.Remove(q, p.index)
	}
}
