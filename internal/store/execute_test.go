package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/xfilter/internal/engine"
	"github.com/roach88/xfilter/internal/ir"
	"github.com/roach88/xfilter/internal/queryir"
	"github.com/roach88/xfilter/internal/querysql"
)

var _ engine.Connector = (*Store)(nil)

func compile(t *testing.T, q queryir.Query) querysql.PhysicalQuery {
	t.Helper()
	pq, err := querysql.NewSQLCompiler().Compile(q)
	require.NoError(t, err)
	return pq
}

func TestExecute_GroupedCounts(t *testing.T) {
	s, _ := createTestStore(t)
	loadPenguins(t, s)

	pq := compile(t, queryir.Select{
		From: "penguins",
		Columns: []queryir.Column{
			{As: "species", Expr: queryir.Field{Name: "species"}},
			{As: "n", Expr: queryir.Count{}},
		},
		GroupBy: []string{"species"},
		OrderBy: []queryir.Order{{Column: "species"}},
	})

	table, err := s.Execute(context.Background(), pq)
	require.NoError(t, err)

	assert.Equal(t, []string{"species", "n"}, table.Columns)
	assert.Equal(t, [][]ir.IRValue{
		{ir.IRString("Adelie"), ir.IRInt(2)},
		{ir.IRString("Chinstrap"), ir.IRInt(1)},
		{ir.IRString("Gentoo"), ir.IRInt(2)},
	}, table.Rows)
}

func TestExecute_FilterAndNulls(t *testing.T) {
	s, _ := createTestStore(t)
	loadPenguins(t, s)

	pq := compile(t, queryir.Select{
		From: "penguins",
		Columns: []queryir.Column{
			{As: "lo", Expr: queryir.Min{Field: "bill_length"}},
			{As: "hi", Expr: queryir.Max{Field: "bill_length"}},
			{As: "missing", Expr: queryir.CountNulls{Field: "bill_length"}},
		},
		Filter: queryir.In{Field: "island", Values: []ir.IRValue{ir.IRString("Biscoe")}},
	})

	table, err := s.Execute(context.Background(), pq)
	require.NoError(t, err)
	require.Equal(t, 1, table.NumRows())

	assert.Equal(t, ir.IRFloat(46.1), table.Value(0, "lo"))
	assert.Equal(t, ir.IRFloat(50.0), table.Value(0, "hi"))
	assert.Equal(t, ir.IRInt(1), table.Value(0, "missing"))
}

func TestExecute_NullValuesScanAsIRNull(t *testing.T) {
	s, _ := createTestStore(t)
	loadPenguins(t, s)

	pq := compile(t, queryir.Select{
		From:    "penguins",
		Columns: []queryir.Column{{As: "mass", Expr: queryir.Field{Name: "body_mass"}}},
		Filter:  queryir.Equals{Field: "body_mass", Value: ir.IRNull{}},
	})

	table, err := s.Execute(context.Background(), pq)
	require.NoError(t, err)
	require.Equal(t, 1, table.NumRows())
	assert.Equal(t, ir.IRNull{}, table.Rows[0][0])
}

func TestExecute_EmptyResultKeepsColumns(t *testing.T) {
	s, _ := createTestStore(t)
	loadPenguins(t, s)

	pq := compile(t, queryir.Select{
		From:    "penguins",
		Columns: []queryir.Column{{As: "species", Expr: queryir.Field{Name: "species"}}},
		Filter:  queryir.Or{},
	})

	table, err := s.Execute(context.Background(), pq)
	require.NoError(t, err)
	assert.Equal(t, []string{"species"}, table.Columns)
	assert.NotNil(t, table.Rows)
	assert.Equal(t, 0, table.NumRows())
}

func TestExecute_BinnedHistogram(t *testing.T) {
	s, _ := createTestStore(t)
	loadPenguins(t, s)

	pq := compile(t, queryir.Select{
		From: "penguins",
		Columns: []queryir.Column{
			{As: "bin", Expr: queryir.Bin{Field: "body_mass", Start: ir.IRInt(3000), Step: ir.IRInt(1000)}},
			{As: "n", Expr: queryir.Count{}},
		},
		Filter:  queryir.Not{Predicate: queryir.Equals{Field: "body_mass", Value: ir.IRNull{}}},
		GroupBy: []string{"bin"},
		OrderBy: []queryir.Order{{Column: "bin"}},
	})

	table, err := s.Execute(context.Background(), pq)
	require.NoError(t, err)

	require.Equal(t, 2, table.NumRows())
	assert.Equal(t, ir.IRInt(3000), table.Value(0, "bin"))
	assert.Equal(t, ir.IRInt(3), table.Value(0, "n"), "3500, 3750 and 3800 share a bin")
	assert.Equal(t, ir.IRInt(5000), table.Value(1, "bin"))
	assert.Equal(t, ir.IRInt(1), table.Value(1, "n"))
}

func TestExecute_UnknownTable(t *testing.T) {
	s, _ := createTestStore(t)

	_, err := s.Execute(context.Background(), querysql.PhysicalQuery{SQL: `SELECT 1 FROM "nope"`})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no such table")
}

func TestExecute_RejectsNonScalarParams(t *testing.T) {
	s, _ := createTestStore(t)

	_, err := s.Execute(context.Background(), querysql.PhysicalQuery{
		SQL:    "SELECT ?",
		Params: []ir.IRValue{ir.IRArray{ir.IRInt(1)}},
	})
	assert.Error(t, err)
}

func TestExecute_CancelledContext(t *testing.T) {
	s, _ := createTestStore(t)
	loadPenguins(t, s)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Execute(ctx, querysql.PhysicalQuery{SQL: `SELECT COUNT(*) FROM "penguins"`})
	require.Error(t, err)

	entries, err := s.QueryLog(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, entries, 1, "failed executions are logged")
	assert.NotEmpty(t, entries[0].Error)
}

// The coordinator consolidates and caches, so repeated identical requests
// reach the store once.
func TestExecute_BehindCoordinator(t *testing.T) {
	s, _ := createTestStore(t)
	loadPenguins(t, s)

	co := engine.NewCoordinator(s)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- co.Run(ctx) }()
	defer func() {
		co.Stop()
		<-done
	}()

	q := queryir.Select{
		From:    "penguins",
		Columns: []queryir.Column{{As: "n", Expr: queryir.Count{}}},
	}
	for i := 0; i < 3; i++ {
		table, err := co.Query(ctx, q, engine.PriorityNormal)
		require.NoError(t, err)
		assert.Equal(t, ir.IRInt(5), table.Value(0, "n"))
	}

	key, err := compile(t, q).Key()
	require.NoError(t, err)
	n, err := s.QueryCount(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
