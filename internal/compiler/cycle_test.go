package compiler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/xfilter/internal/ir"
)

func menuView(name, filterBy, as string) ir.ViewSpec {
	return ir.ViewSpec{Name: name, Kind: "menu", From: "t", Column: name, FilterBy: filterBy, As: as}
}

// TestAnalyzeCycles_Empty tests that empty input produces no warnings.
func TestAnalyzeCycles_Empty(t *testing.T) {
	assert.Empty(t, AnalyzeCycles(nil))
	assert.Empty(t, AnalyzeCycles(&ir.DashboardSpec{}))
}

// TestAnalyzeCycles_CrossfilterHasNoSelfLoop tests that linked views on one
// crossfilter selection are fine on their own.
func TestAnalyzeCycles_CrossfilterHasNoSelfLoop(t *testing.T) {
	spec := &ir.DashboardSpec{
		Selections: []ir.SelectionSpec{{Name: "brush", Strategy: "crossfilter"}},
		Views:      []ir.ViewSpec{menuView("a", "brush", "brush")},
	}
	assert.Empty(t, AnalyzeCycles(spec))
}

// TestAnalyzeCycles_DAG tests that one-way filtering produces no warnings.
func TestAnalyzeCycles_DAG(t *testing.T) {
	spec := &ir.DashboardSpec{
		Selections: []ir.SelectionSpec{{Name: "s", Strategy: "intersect"}},
		Views: []ir.ViewSpec{
			menuView("a", "", "s"),
			menuView("b", "s", ""),
			{Name: "rows", Kind: "table", From: "t", Columns: []string{"x"}, FilterBy: "s"},
		},
	}
	assert.Empty(t, AnalyzeCycles(spec))
}

// TestAnalyzeCycles_SelfLoop tests a view filtered by its own clauses.
func TestAnalyzeCycles_SelfLoop(t *testing.T) {
	spec := &ir.DashboardSpec{
		Selections: []ir.SelectionSpec{{Name: "s", Strategy: "intersect"}},
		Views:      []ir.ViewSpec{menuView("a", "s", "s")},
	}

	warnings := AnalyzeCycles(spec)
	require.Len(t, warnings, 1)
	assert.Equal(t, []string{"a", "a"}, warnings[0].Path)
	assert.Contains(t, warnings[0].Message, "filtered by its own selection")
	assert.Equal(t, "warning", warnings[0].Level)
}

// TestAnalyzeCycles_TwoNodeCycle tests A -> B -> A across two selections.
func TestAnalyzeCycles_TwoNodeCycle(t *testing.T) {
	spec := &ir.DashboardSpec{
		Selections: []ir.SelectionSpec{
			{Name: "s1", Strategy: "intersect"},
			{Name: "s2", Strategy: "intersect"},
		},
		Views: []ir.ViewSpec{
			menuView("a", "s2", "s1"),
			menuView("b", "s1", "s2"),
		},
	}

	warnings := AnalyzeCycles(spec)
	require.Len(t, warnings, 1)
	w := warnings[0]
	assert.Len(t, w.Path, 3, "2-cycle path should have 3 elements: A -> B -> A")
	assert.Equal(t, w.Path[0], w.Path[len(w.Path)-1], "cycle should return to start")
	assert.ElementsMatch(t, []string{"a", "b"}, w.Path[:2])
	assert.Contains(t, w.Message, "views filter each other")
	assert.Equal(t, "info", w.Level)
}

// TestAnalyzeCycles_SharedCrossfilter tests that several views on one
// crossfilter selection form one SCC.
func TestAnalyzeCycles_SharedCrossfilter(t *testing.T) {
	spec := &ir.DashboardSpec{
		Selections: []ir.SelectionSpec{{Name: "brush", Strategy: "crossfilter"}},
		Views: []ir.ViewSpec{
			menuView("a", "brush", "brush"),
			menuView("b", "brush", "brush"),
			menuView("c", "brush", "brush"),
		},
	}

	warnings := AnalyzeCycles(spec)
	require.Len(t, warnings, 1)
	assert.Equal(t, "info", warnings[0].Level)
	assert.Len(t, warnings[0].Path, 4)
}

func TestAnalyzeCycles_Deterministic(t *testing.T) {
	spec := &ir.DashboardSpec{
		Selections: []ir.SelectionSpec{
			{Name: "s1", Strategy: "union"},
			{Name: "s2", Strategy: "union"},
		},
		Views: []ir.ViewSpec{
			menuView("a", "s2", "s1"),
			menuView("b", "s1", "s2"),
			menuView("c", "s1", "s1"),
		},
	}

	first := AnalyzeCycles(spec)
	for i := 0; i < 20; i++ {
		assert.Equal(t, first, AnalyzeCycles(spec))
	}
}

func TestBuildDependencyGraph_Basic(t *testing.T) {
	spec := &ir.DashboardSpec{
		Selections: []ir.SelectionSpec{{Name: "s", Strategy: "crossfilter"}},
		Views: []ir.ViewSpec{
			menuView("a", "s", "s"),
			menuView("b", "s", ""),
		},
	}

	graph := buildDependencyGraph(spec)
	assert.Equal(t, []string{"b"}, graph["a"])
	assert.Empty(t, graph["b"])
}

func TestHasSelfLoop(t *testing.T) {
	graph := dependencyGraph{"a": {"a", "b"}, "b": {}}
	assert.True(t, hasSelfLoop("a", graph))
	assert.False(t, hasSelfLoop("b", graph))
}

func TestTarjanSCC_TwoNodeCycle(t *testing.T) {
	graph := dependencyGraph{"a": {"b"}, "b": {"a"}, "c": {}}
	sccs := tarjanSCC(graph, []string{"a", "b", "c"})
	require.Len(t, sccs, 2)
	assert.ElementsMatch(t, []string{"a", "b"}, sccs[0])
	assert.Equal(t, []string{"c"}, sccs[1])
}

func TestReconstructCyclePath_Empty(t *testing.T) {
	assert.Empty(t, reconstructCyclePath(nil, dependencyGraph{}))
}
