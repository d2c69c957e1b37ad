package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/xfilter/internal/ir"
	"github.com/roach88/xfilter/internal/queryir"
	"github.com/roach88/xfilter/internal/querysql"
	"github.com/roach88/xfilter/internal/selection"
	"github.com/roach88/xfilter/internal/testutil"
)

// countClient counts rows of penguins under its filter.
type countClient struct {
	BaseClient

	sel      *selection.Selection
	params   []*selection.Param
	skip     bool
	priority Priority
	fields   []FieldRequest

	mu      sync.Mutex
	log     []string
	filters []queryir.Predicate
	results []*ir.Table
	errs    []error
	stats   []FieldStats
}

func (c *countClient) Query(filter queryir.Predicate) queryir.Query {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.log = append(c.log, "query")
	c.filters = append(c.filters, filter)
	if c.skip {
		return nil
	}
	sel := queryir.Select{
		From:    "penguins",
		Columns: []queryir.Column{{As: "n", Expr: queryir.Count{}}},
		Filter:  filter,
	}
	for _, p := range c.params {
		if v, ok := p.Value().(ir.IRInt); ok {
			sel.Limit = int64(v)
		}
	}
	return sel
}

func (c *countClient) QueryResult(t *ir.Table) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.log = append(c.log, "result")
	c.results = append(c.results, t)
}

func (c *countClient) QueryError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.log = append(c.log, "error")
	c.errs = append(c.errs, err)
}

func (c *countClient) FilterBy() *selection.Selection { return c.sel }

func (c *countClient) lastFilter() queryir.Predicate {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.filters) == 0 {
		return nil
	}
	return c.filters[len(c.filters)-1]
}

func (c *countClient) lastResult() *ir.Table {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.results) == 0 {
		return nil
	}
	return c.results[len(c.results)-1]
}

func (c *countClient) events() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.log...)
}

// statsClient adds field info and priority to countClient.
type statsClient struct {
	*countClient
}

func (c statsClient) Fields() []FieldRequest { return c.fields }

func (c statsClient) FieldInfo(stats []FieldStats) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.log = append(c.log, "fieldinfo")
	c.stats = stats
}

func (c statsClient) Priority() Priority { return c.priority }

// paramClient exposes params.
type paramClient struct {
	*countClient
}

func (c paramClient) Params() []*selection.Param { return c.params }

func startCoordinator(t *testing.T, conn Connector, opts ...Option) *Coordinator {
	t.Helper()
	co := NewCoordinator(conn, opts...)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- co.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return co
}

func drain(t *testing.T, co *Coordinator) {
	t.Helper()
	require.NoError(t, co.Manager().Drain(testCtx(t)))
}

func TestCoordinator_RegisterIssuesFirstQuery(t *testing.T) {
	fake := echoConnector()
	co := startCoordinator(t, fake, WithClientIDGenerator(NewFixedGenerator("menu")))

	c := &countClient{}
	id, err := co.RegisterClient(c)
	require.NoError(t, err)
	assert.Equal(t, ClientID("menu"), id)
	drain(t, co)

	require.NotNil(t, c.lastResult())
	assert.Equal(t, ir.IRString(`SELECT COUNT(*) AS "n" FROM "penguins"`), c.lastResult().Value(0, "sql"))
	assert.Nil(t, c.lastFilter())

	got, ok := co.ClientID(c)
	assert.True(t, ok)
	assert.Equal(t, id, got)
	assert.Equal(t, []Client{c}, co.Clients())

	_, err = co.RegisterClient(c)
	assert.ErrorIs(t, err, ErrAlreadyRegistered)
}

// Two views share a crossfilter selection: each sees the other's filter,
// never its own.
func TestCoordinator_CrossfilterRequery(t *testing.T) {
	fake := echoConnector()
	co := startCoordinator(t, fake)

	s := selection.NewCrossfilter("brush")
	a := &countClient{sel: s}
	b := &countClient{sel: s}
	_, err := co.RegisterClient(a)
	require.NoError(t, err)
	_, err = co.RegisterClient(b)
	require.NoError(t, err)
	drain(t, co)

	species, err := selection.Point(a, "species", ir.IRString("Adelie"))
	require.NoError(t, err)
	require.NoError(t, s.Update(species))
	drain(t, co)

	assert.Nil(t, a.lastFilter())
	assert.Equal(t, queryir.Equals{Field: "species", Value: ir.IRString("Adelie")}, b.lastFilter())
	assert.Equal(t, ir.IRString(`SELECT COUNT(*) AS "n" FROM "penguins" WHERE "species" = ?`), b.lastResult().Value(0, "sql"))

	weight, err := selection.Interval(b, "body_mass", ir.IRInt(3000), ir.IRInt(4000))
	require.NoError(t, err)
	require.NoError(t, s.Update(weight))
	drain(t, co)

	assert.Equal(t, queryir.Range{Field: "body_mass", Lo: ir.IRInt(3000), Hi: ir.IRInt(4000)}, a.lastFilter())
	assert.Equal(t, queryir.Equals{Field: "species", Value: ir.IRString("Adelie")}, b.lastFilter())

	// The unfiltered count was computed once and reused from the cache.
	assert.Equal(t, 1, fake.CountSQL(`SELECT COUNT(*) AS "n" FROM "penguins"`))
}

func TestCoordinator_UnregisterStopsUpdates(t *testing.T) {
	fake := testutil.NewGatedConnector()
	co := startCoordinator(t, fake)

	s := selection.NewCrossfilter("brush")
	c := &countClient{sel: s}
	_, err := co.RegisterClient(c)
	require.NoError(t, err)
	call, err := fake.Next(waitTimeout)
	require.NoError(t, err)

	require.NoError(t, co.UnregisterClient(c))
	call.Reply(echoTable(call.Query), nil)
	drain(t, co)

	assert.Nil(t, c.lastResult(), "in-flight results are not delivered after unregistering")
	assert.ErrorIs(t, c.RequestUpdate(), ErrNotRegistered)
	assert.ErrorIs(t, co.UnregisterClient(c), ErrNotRegistered)
	assert.ErrorIs(t, co.RequestQuery(c), ErrNotRegistered)

	other := &countClient{}
	clause, err := selection.Point(other, "island", ir.IRString("Dream"))
	require.NoError(t, err)
	require.NoError(t, s.Update(clause))
	drain(t, co)

	assert.Equal(t, 1, fake.CallCount(), "the selection listener was removed")
	assert.Empty(t, co.Clients())
}

func TestCoordinator_RequestUpdate(t *testing.T) {
	fake := echoConnector()
	co := startCoordinator(t, fake)

	c := &countClient{}
	assert.ErrorIs(t, c.RequestUpdate(), ErrNotRegistered)

	_, err := co.RegisterClient(c)
	require.NoError(t, err)
	drain(t, co)

	require.NoError(t, c.RequestUpdate())
	drain(t, co)

	assert.Equal(t, []string{"query", "result", "query", "result"}, c.events())
	assert.Equal(t, 1, fake.CallCount(), "the repeat is a cache hit")
}

func TestCoordinator_NilQuerySkipsFetch(t *testing.T) {
	fake := echoConnector()
	co := startCoordinator(t, fake)

	c := &countClient{skip: true}
	_, err := co.RegisterClient(c)
	require.NoError(t, err)
	drain(t, co)

	assert.Equal(t, 0, fake.CallCount())
	assert.Equal(t, []string{"query"}, c.events())
}

func TestCoordinator_FailureReachesClient(t *testing.T) {
	boom := errors.New("database is locked")
	fake := testutil.NewFakeConnector(func(querysql.PhysicalQuery) (*ir.Table, error) {
		return nil, boom
	})
	co := startCoordinator(t, fake)

	c := &countClient{}
	_, err := co.RegisterClient(c)
	require.NoError(t, err)
	drain(t, co)

	assert.Equal(t, []string{"query", "error"}, c.events())
	require.Len(t, c.errs, 1)
	assert.True(t, IsConnectorError(c.errs[0]))
	assert.ErrorIs(t, c.errs[0], boom)
}

func TestCoordinator_InvalidQueryReachesClient(t *testing.T) {
	co := startCoordinator(t, echoConnector())

	c := &countClient{params: []*selection.Param{selection.NewParam("limit", ir.IRInt(-1))}}
	_, err := co.RegisterClient(c)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid query")
	assert.Equal(t, []string{"query", "error"}, c.events())
}

func TestCoordinator_FieldInfoBeforeFirstQuery(t *testing.T) {
	fake := testutil.NewFakeConnector(func(q querysql.PhysicalQuery) (*ir.Table, error) {
		if strings.Contains(q.SQL, "MIN(") {
			return testutil.Table([]string{"count", "nulls", "min", "max"}, []any{344, 2, 2700, 6300}), nil
		}
		return echoTable(q), nil
	})
	co := startCoordinator(t, fake)

	c := statsClient{&countClient{
		priority: PriorityHigh,
		fields:   []FieldRequest{{Table: "penguins", Column: "body_mass"}},
	}}
	_, err := co.RegisterClient(c)
	require.NoError(t, err)
	drain(t, co)

	assert.Equal(t, []string{"fieldinfo", "query", "result"}, c.events())
	require.Len(t, c.stats, 1)
	assert.Equal(t, FieldStats{
		Table:  "penguins",
		Column: "body_mass",
		Count:  344,
		Nulls:  2,
		Min:    ir.IRInt(2700),
		Max:    ir.IRInt(6300),
	}, c.stats[0])
}

func TestCoordinator_FieldInfoFailure(t *testing.T) {
	fake := testutil.NewFakeConnector(func(querysql.PhysicalQuery) (*ir.Table, error) {
		return nil, errors.New("no such column: body_mass")
	})
	co := startCoordinator(t, fake)

	c := statsClient{&countClient{fields: []FieldRequest{
		{Table: "penguins", Column: "body_mass"},
		{Table: "penguins", Column: "flipper_length"},
	}}}
	_, err := co.RegisterClient(c)
	require.NoError(t, err)
	drain(t, co)

	assert.Equal(t, []string{"error"}, c.events(), "one failure is reported once and blocks the query")
	assert.Contains(t, c.errs[0].Error(), "field info penguins.")
}

func TestCoordinator_FieldInfoRetriedOnUpdate(t *testing.T) {
	var calls atomic.Int64
	fake := testutil.NewFakeConnector(func(q querysql.PhysicalQuery) (*ir.Table, error) {
		if strings.Contains(q.SQL, "MIN(") {
			if calls.Add(1) == 1 {
				return nil, errors.New("database is locked")
			}
			return testutil.Table([]string{"count", "nulls", "min", "max"}, []any{344, 2, 2700, 6300}), nil
		}
		return echoTable(q), nil
	})
	co := startCoordinator(t, fake)

	c := statsClient{&countClient{fields: []FieldRequest{{Table: "penguins", Column: "body_mass"}}}}
	_, err := co.RegisterClient(c)
	require.NoError(t, err)
	drain(t, co)
	require.Equal(t, []string{"error"}, c.events())

	require.NoError(t, c.RequestUpdate())
	drain(t, co)

	assert.Equal(t, []string{"error", "fieldinfo", "query", "result"}, c.events())
	require.Len(t, c.stats, 1)
	assert.Equal(t, ir.IRInt(6300), c.stats[0].Max)
	assert.NotNil(t, c.lastResult())
}

func TestCoordinator_RefreshAllRetriesFieldInfo(t *testing.T) {
	var fail atomic.Bool
	fail.Store(true)
	fake := testutil.NewFakeConnector(func(q querysql.PhysicalQuery) (*ir.Table, error) {
		if fail.Load() {
			return nil, errors.New("connection refused")
		}
		if strings.Contains(q.SQL, "MIN(") {
			return testutil.Table([]string{"count", "nulls", "min", "max"}, []any{3, 0, 1, 9}), nil
		}
		return echoTable(q), nil
	})
	co := startCoordinator(t, fake)

	c := statsClient{&countClient{fields: []FieldRequest{{Table: "penguins", Column: "body_mass"}}}}
	_, err := co.RegisterClient(c)
	require.NoError(t, err)
	drain(t, co)

	fail.Store(false)
	require.NoError(t, co.RefreshAll())
	drain(t, co)

	assert.Equal(t, []string{"error", "fieldinfo", "query", "result"}, c.events())
}

func TestCoordinator_ParamChangeRequeries(t *testing.T) {
	fake := echoConnector()
	co := startCoordinator(t, fake)

	limit := selection.NewParam("limit", ir.IRInt(10))
	c := paramClient{&countClient{params: []*selection.Param{limit}}}
	_, err := co.RegisterClient(c)
	require.NoError(t, err)
	drain(t, co)

	require.NoError(t, limit.Update(ir.IRInt(5)))
	drain(t, co)
	require.NoError(t, limit.Update(ir.IRInt(5)))
	drain(t, co)

	assert.Equal(t, 2, fake.CallCount(), "an unchanged param does not re-query")
	assert.Equal(t, ir.IRString(`SELECT COUNT(*) AS "n" FROM "penguins" LIMIT ?`), c.lastResult().Value(0, "sql"))

	require.NoError(t, co.UnregisterClient(c))
	require.NoError(t, limit.Update(ir.IRInt(7)))
	drain(t, co)
	assert.Equal(t, 2, fake.CallCount())
}

func TestCoordinator_RefreshAllBypassesCache(t *testing.T) {
	fake := echoConnector()
	co := startCoordinator(t, fake)

	a, b := &countClient{}, &countClient{}
	_, err := co.RegisterClient(a)
	require.NoError(t, err)
	_, err = co.RegisterClient(b)
	require.NoError(t, err)
	drain(t, co)
	assert.Equal(t, 1, fake.CallCount(), "identical queries are consolidated or cached")

	require.NoError(t, co.RefreshAll())
	drain(t, co)

	assert.Equal(t, 2, fake.CallCount(), "one new call after the cache is cleared")
	assert.Len(t, a.results, 2)
	assert.Len(t, b.results, 2)
}

func TestCoordinator_ConnectSwitchesBackend(t *testing.T) {
	co := startCoordinator(t, nil)

	c := &countClient{}
	_, err := co.RegisterClient(c)
	require.NoError(t, err)
	drain(t, co)
	require.Len(t, c.errs, 1)
	assert.ErrorIs(t, c.errs[0], ErrNoConnector)

	fake := echoConnector()
	require.NoError(t, co.Connect(fake))
	drain(t, co)

	assert.Equal(t, 1, fake.CallCount())
	assert.NotNil(t, c.lastResult())
	assert.ErrorIs(t, co.Connect(nil), ErrNoConnector)
}

func TestCoordinator_AdHocQuery(t *testing.T) {
	fake := echoConnector()
	co := startCoordinator(t, fake)
	ctx := testCtx(t)

	q := queryir.Select{From: "penguins", Columns: []queryir.Column{{As: "n", Expr: queryir.Count{}}}}
	tbl, err := co.Query(ctx, q, PriorityNormal)
	require.NoError(t, err)
	assert.Equal(t, 1, tbl.NumRows())

	_, err = co.Query(ctx, queryir.Select{}, PriorityNormal)
	assert.Error(t, err)
}

func TestCoordinator_AdHocQueryHonoursContext(t *testing.T) {
	co := startCoordinator(t, testutil.NewGatedConnector())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := co.Exec(ctx, pq("SELECT 1"), PriorityNormal)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCoordinator_AdHocQueriesFreeClocks(t *testing.T) {
	co := startCoordinator(t, echoConnector())
	ctx := testCtx(t)

	for i := 0; i < 50; i++ {
		_, err := co.Exec(ctx, pq(fmt.Sprintf("SELECT %d", i%5)), PriorityNormal)
		require.NoError(t, err)
	}
	drain(t, co)
	assert.Equal(t, 0, co.Manager().Stats().Clients)
}

func TestCoordinator_AbandonedAdHocQueryFreesClock(t *testing.T) {
	fake := testutil.NewGatedConnector()
	co := startCoordinator(t, fake)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		_, err := co.Exec(ctx, pq("SELECT 1"), PriorityNormal)
		errc <- err
	}()
	call, err := fake.Next(waitTimeout)
	require.NoError(t, err)
	cancel()
	assert.ErrorIs(t, <-errc, context.Canceled)

	call.Reply(echoTable(call.Query), nil)
	drain(t, co)
	assert.Equal(t, 0, co.Manager().Stats().Clients)
}

func TestCoordinator_UnregisterFreesClocks(t *testing.T) {
	fake := testutil.NewFakeConnector(func(q querysql.PhysicalQuery) (*ir.Table, error) {
		if strings.Contains(q.SQL, "MIN(") {
			return testutil.Table([]string{"count", "nulls", "min", "max"}, []any{3, 0, 1, 9}), nil
		}
		return echoTable(q), nil
	})
	co := startCoordinator(t, fake)

	a := statsClient{&countClient{fields: []FieldRequest{
		{Table: "penguins", Column: "body_mass"},
		{Table: "penguins", Column: "flipper_length"},
	}}}
	b := &countClient{}
	_, err := co.RegisterClient(a)
	require.NoError(t, err)
	_, err = co.RegisterClient(b)
	require.NoError(t, err)
	drain(t, co)
	assert.Equal(t, 2, co.Manager().Stats().Clients, "field info requesters are freed once answered")

	require.NoError(t, co.UnregisterClient(a))
	require.NoError(t, co.UnregisterClient(b))
	drain(t, co)
	assert.Equal(t, 0, co.Manager().Stats().Clients)
}

func TestCoordinator_ResultForRemovedClientIsDropped(t *testing.T) {
	fake := testutil.NewGatedConnector()
	co := startCoordinator(t, fake)

	c := &countClient{}
	_, err := co.RegisterClient(c)
	require.NoError(t, err)
	call, err := fake.Next(waitTimeout)
	require.NoError(t, err)

	// The registration is gone but the manager was never told, as when a
	// re-query is submitted while UnregisterClient runs.
	co.mu.Lock()
	delete(co.clients, c)
	co.order = removeClient(co.order, c)
	co.mu.Unlock()

	call.Reply(echoTable(call.Query), nil)
	drain(t, co)

	assert.Nil(t, c.lastResult())
	assert.Equal(t, 0, co.Manager().Stats().Clients)
}
