package testutil

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/roach88/xfilter/internal/ir"
	"github.com/roach88/xfilter/internal/querysql"
)

// ErrNoCall is returned by Next when no call arrives in time.
var ErrNoCall = errors.New("no connector call arrived")

// Call is one Execute invocation seen by a FakeConnector.
type Call struct {
	Query querysql.PhysicalQuery

	reply chan reply
}

type reply struct {
	table *ir.Table
	err   error
}

// Reply releases a gated call. Only the first reply counts.
func (c *Call) Reply(t *ir.Table, err error) {
	select {
	case c.reply <- reply{table: t, err: err}:
	default:
	}
}

// FakeConnector records every Execute call. In immediate mode it answers
// with its handler; in gated mode each call blocks until the test replies
// to it, which lets tests control the order in which results arrive.
//
// It satisfies engine.Connector.
//
// Thread-safety: FakeConnector is safe for concurrent use.
type FakeConnector struct {
	handler func(querysql.PhysicalQuery) (*ir.Table, error)
	gated   bool

	mu       sync.Mutex
	calls    []*Call
	arrivals chan *Call
}

// NewFakeConnector creates an immediate connector. A nil handler answers
// every query with an empty table.
func NewFakeConnector(handler func(querysql.PhysicalQuery) (*ir.Table, error)) *FakeConnector {
	if handler == nil {
		handler = func(querysql.PhysicalQuery) (*ir.Table, error) { return &ir.Table{}, nil }
	}
	return &FakeConnector{handler: handler, arrivals: make(chan *Call, 1024)}
}

// NewGatedConnector creates a connector whose calls wait for Reply.
func NewGatedConnector() *FakeConnector {
	return &FakeConnector{gated: true, arrivals: make(chan *Call, 1024)}
}

// Execute implements engine.Connector.
func (f *FakeConnector) Execute(ctx context.Context, q querysql.PhysicalQuery) (*ir.Table, error) {
	call := &Call{Query: q, reply: make(chan reply, 1)}

	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()

	select {
	case f.arrivals <- call:
	default:
	}

	if !f.gated {
		return f.handler(q)
	}

	select {
	case r := <-call.reply:
		return r.table, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Next waits for the next call to arrive.
func (f *FakeConnector) Next(timeout time.Duration) (*Call, error) {
	select {
	case c := <-f.arrivals:
		return c, nil
	case <-time.After(timeout):
		return nil, ErrNoCall
	}
}

// NextN waits for n calls.
func (f *FakeConnector) NextN(n int, timeout time.Duration) ([]*Call, error) {
	out := make([]*Call, 0, n)
	deadline := time.After(timeout)
	for len(out) < n {
		select {
		case c := <-f.arrivals:
			out = append(out, c)
		case <-deadline:
			return out, fmt.Errorf("%w: got %d of %d", ErrNoCall, len(out), n)
		}
	}
	return out, nil
}

// Calls returns every query executed so far, in arrival order.
func (f *FakeConnector) Calls() []querysql.PhysicalQuery {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]querysql.PhysicalQuery, len(f.calls))
	for i, c := range f.calls {
		out[i] = c.Query
	}
	return out
}

// CallCount returns the number of Execute calls.
func (f *FakeConnector) CallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// CountSQL returns how many calls executed exactly sql.
func (f *FakeConnector) CountSQL(sql string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c.Query.SQL == sql {
			n++
		}
	}
	return n
}

// Table builds a table from column names and rows of native values. It
// panics on values FromAny rejects.
func Table(columns []string, rows ...[]any) *ir.Table {
	t := &ir.Table{Columns: columns}
	for _, row := range rows {
		vals := make([]ir.IRValue, len(row))
		for i, v := range row {
			vals[i] = ir.MustFromAny(v)
		}
		t.Rows = append(t.Rows, vals)
	}
	return t
}
