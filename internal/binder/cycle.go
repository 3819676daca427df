package binder

import (
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/relq/internal/mapping"
)

// IncludeCycle is a loop in an include policy: following included
// associations from an entity leads back to it.
//
// Cycles are warnings, not errors. An association already included on the
// path to an entity is not included again, so loading terminates, but what
// gets loaded then depends on which entity a query starts from.
type IncludeCycle struct {
	Path    []string `json:"path"`    // Entity path: ["Customer", "Order", "Customer"]
	Message string   `json:"message"` // Human-readable description
}

// includeGraph maps an entity to the entities its included associations
// lead to.
type includeGraph map[string][]string

// Cycles reports the loops of the policy over m.
//
// The algorithm:
//  1. Build the entity graph from included associations
//  2. Use Tarjan's algorithm to find strongly connected components
//  3. Report each SCC with size > 1 or self-loops as a cycle
//
// Entities are visited in mapping order, so the result is deterministic.
// Associations the mapping does not declare are ignored here; binding
// reports them.
func (p Policy) Cycles(m *mapping.Mapping) []IncludeCycle {
	if m == nil || len(p.Include) == 0 {
		return nil
	}

	var order []string
	graph := make(includeGraph)
	for _, e := range m.Entities() {
		order = append(order, e.Name)
		for _, name := range p.Includes(e.Name) {
			a, ok := e.Association(name)
			if !ok {
				continue
			}
			if !slices.Contains(graph[e.Name], a.Related) {
				graph[e.Name] = append(graph[e.Name], a.Related)
			}
		}
	}

	var cycles []IncludeCycle
	for _, scc := range tarjanSCC(order, graph) {
		if len(scc) > 1 || slices.Contains(graph[scc[0]], scc[0]) {
			cycles = append(cycles, sccToCycle(scc, graph))
		}
	}
	return cycles
}

// tarjanSCC finds strongly connected components using Tarjan's algorithm,
// starting from the nodes in order.
func tarjanSCC(order []string, graph includeGraph) [][]string {
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
		indices[v] = index
		lowlink[v] = index
		index++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range graph[v] {
			if _, visited := indices[w]; !visited {
				strongConnect(w)
				lowlink[v] = min(lowlink[v], lowlink[w])
			} else if onStack[w] {
				lowlink[v] = min(lowlink[v], indices[w])
			}
		}

		// v is a root node: pop its component
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

	for _, node := range order {
		if _, visited := indices[node]; !visited {
			strongConnect(node)
		}
	}
	return sccs
}

// sccToCycle walks the component from its first-declared member back to
// itself.
func sccToCycle(scc []string, graph includeGraph) IncludeCycle {
	if len(scc) == 1 {
		return IncludeCycle{
			Path:    []string{scc[0], scc[0]},
			Message: fmt.Sprintf("entity %s includes itself", scc[0]),
		}
	}

	members := make(map[string]bool, len(scc))
	for _, node := range scc {
		members[node] = true
	}
	start := scc[len(scc)-1]
	path := []string{start}
	visited := map[string]bool{start: true}
	for current := start; ; {
		next := ""
		for _, w := range graph[current] {
			if members[w] && (!visited[w] || w == start) {
				next = w
				break
			}
		}
		if next == "" {
			break
		}
		path = append(path, next)
		if next == start {
			break
		}
		visited[next] = true
		current = next
	}
	return IncludeCycle{
		Path:    path,
		Message: fmt.Sprintf("include cycle: %s", strings.Join(path, " → ")),
	}
}
