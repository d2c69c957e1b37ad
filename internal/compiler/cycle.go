package compiler

import (
	"fmt"
	"strings"

	"github.com/roach88/xfilter/internal/ir"
)

// CycleWarning reports views whose published clauses feed back into
// their own filters.
//
// Feedback is a warning, not an error, because it may be intentional:
//   - A single-strategy selection shared by linked inputs
//   - Two crossfiltered views narrowing each other across selections
type CycleWarning struct {
	Path    []string `json:"path"`    // Cycle path: ["view-a", "view-b", "view-a"]
	Message string   `json:"message"` // Human-readable description
	Level   string   `json:"level"`   // "warning" or "info"
}

// AnalyzeCycles performs static feedback analysis on a dashboard.
//
// View A depends on view B when B publishes into the selection A filters
// by. A crossfilter selection never applies a view's own clause to that
// view, so a view publishing into the crossfilter selection it filters by
// has no self edge.
//
// The algorithm:
//  1. Build view -> view dependency graph from as/filterBy pairs
//  2. Use Tarjan's algorithm to find strongly connected components
//  3. Report self-loops as warnings (the view filters away its own
//     alternatives) and larger SCCs as info
//
// A DAG (no cycles) returns an empty warning list.
func AnalyzeCycles(spec *ir.DashboardSpec) []CycleWarning {
	if spec == nil || len(spec.Views) == 0 {
		return []CycleWarning{}
	}

	graph := buildDependencyGraph(spec)
	sccs := tarjanSCC(graph, viewOrder(spec))

	warnings := []CycleWarning{}
	for _, scc := range sccs {
		if len(scc) > 1 || (len(scc) == 1 && hasSelfLoop(scc[0], graph)) {
			warnings = append(warnings, cycleSCCToWarning(scc, graph))
		}
	}

	return warnings
}

// dependencyGraph maps view name -> views its published clauses filter.
type dependencyGraph map[string][]string

// buildDependencyGraph constructs the view dependency graph.
//
// For each view:
//   - Take the selection it publishes into (its "as")
//   - Find all views filtering by that selection
//   - Add edges: this_view -> filtered_views, skipping itself when the
//     selection is a crossfilter
func buildDependencyGraph(spec *ir.DashboardSpec) dependencyGraph {
	graph := make(dependencyGraph)

	strategies := make(map[string]string, len(spec.Selections))
	for _, s := range spec.Selections {
		strategies[s.Name] = s.Strategy
	}

	// Build selection -> views mapping (which views filter by each selection)
	filteredBy := make(map[string][]string)
	for _, v := range spec.Views {
		if v.FilterBy != "" {
			filteredBy[v.FilterBy] = append(filteredBy[v.FilterBy], v.Name)
		}
	}

	for _, v := range spec.Views {
		// Initialize with empty slice if no edges (ensures node exists in graph)
		if graph[v.Name] == nil {
			graph[v.Name] = []string{}
		}
		if v.As == "" {
			continue
		}
		for _, target := range filteredBy[v.As] {
			if target == v.Name && strategies[v.As] == "crossfilter" {
				continue
			}
			graph[v.Name] = append(graph[v.Name], target)
		}
	}

	return graph
}

func viewOrder(spec *ir.DashboardSpec) []string {
	names := make([]string, len(spec.Views))
	for i, v := range spec.Views {
		names[i] = v.Name
	}
	return names
}

// hasSelfLoop checks if a node has an edge to itself.
func hasSelfLoop(node string, graph dependencyGraph) bool {
	for _, neighbor := range graph[node] {
		if neighbor == node {
			return true
		}
	}
	return false
}

// tarjanSCC finds strongly connected components using Tarjan's algorithm.
//
// Returns a list of SCCs, where each SCC is a list of view names. Nodes are
// visited in the given order so results are deterministic.
// Single-node SCCs without self-loops are NOT cycles.
func tarjanSCC(graph dependencyGraph, order []string) [][]string {
	var (
		index   = 0
		stack   []string
		indices = make(map[string]int)
		lowlink = make(map[string]int)
		onStack = make(map[string]bool)
		sccs    [][]string
	)

	var strongConnect func(string)
	strongConnect = func(v string) {
		// Set the depth index for v
		indices[v] = index
		lowlink[v] = index
		index++
		stack = append(stack, v)
		onStack[v] = true

		// Consider successors of v
		for _, w := range graph[v] {
			if _, visited := indices[w]; !visited {
				// Successor w has not yet been visited; recurse on it
				strongConnect(w)
				lowlink[v] = min(lowlink[v], lowlink[w])
			} else if onStack[w] {
				// Successor w is on stack and hence in the current SCC
				lowlink[v] = min(lowlink[v], indices[w])
			}
		}

		// If v is a root node, pop the stack and create an SCC
		if lowlink[v] == indices[v] {
			var scc []string
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				scc = append(scc, w)
				if w == v {
					break
				}
			}
			sccs = append(sccs, scc)
		}
	}

	// Visit all nodes
	for _, node := range order {
		if _, visited := indices[node]; !visited {
			strongConnect(node)
		}
	}

	return sccs
}

// cycleSCCToWarning converts an SCC to a CycleWarning.
//
// The path shows the cycle sequence by reconstructing a path through the SCC.
// For self-loops, the path is [view, view].
// For multi-node cycles, the path shows a cycle traversal.
func cycleSCCToWarning(scc []string, graph dependencyGraph) CycleWarning {
	if len(scc) == 1 {
		// Self-loop
		name := scc[0]
		return CycleWarning{
			Path:    []string{name, name},
			Message: fmt.Sprintf("view %s is filtered by its own selection: %s -> %s", name, name, name),
			Level:   "warning",
		}
	}

	// Multi-node cycle - reconstruct a cycle path
	path := reconstructCyclePath(scc, graph)

	pathStr := strings.Join(path, " -> ")
	return CycleWarning{
		Path:    path,
		Message: fmt.Sprintf("views filter each other: %s", pathStr),
		Level:   "info",
	}
}

// reconstructCyclePath builds a cycle path from an SCC.
//
// Strategy: Start at first node in SCC, follow edges to other SCC members,
// continue until we return to start node.
func reconstructCyclePath(scc []string, graph dependencyGraph) []string {
	if len(scc) == 0 {
		return []string{}
	}

	// Build set of SCC members for fast lookup
	sccSet := make(map[string]bool)
	for _, node := range scc {
		sccSet[node] = true
	}

	// Start at first node
	start := scc[0]
	current := start
	path := []string{current}
	visited := make(map[string]bool)

	// Follow edges within SCC until we return to start
	for {
		visited[current] = true

		// Find next SCC member reachable from current
		var next string
		for _, neighbor := range graph[current] {
			if sccSet[neighbor] && (!visited[neighbor] || neighbor == start) {
				next = neighbor
				break
			}
		}

		if next == "" {
			// No more unvisited neighbors in SCC
			break
		}

		path = append(path, next)

		if next == start {
			// Completed the cycle
			break
		}

		current = next
	}

	return path
}
