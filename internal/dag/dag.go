package dag

import (
	"fmt"
	"sort"

	"github.com/specq-dev/specq/internal/model"
)

// Graph is a validated, acyclic dependency graph over work-item IDs. The edge
// direction is dependent -> dependency. Graphs are immutable after Build.
type Graph struct {
	// order holds all node IDs in ascending order for deterministic iteration.
	order []string
	// deps maps an item ID to the sorted IDs it depends on.
	deps map[string][]string
	// dependents maps an item ID to the sorted IDs that depend on it.
	dependents map[string][]string
}

// Build constructs a validated graph from the declared dependencies of items.
// It fails with SelfDependencyError, UnknownDependencyError, or CycleError;
// on failure no graph is returned.
func Build(items []*model.WorkItem) (*Graph, error) {
	g := &Graph{
		deps:       make(map[string][]string, len(items)),
		dependents: make(map[string][]string, len(items)),
	}

	for _, item := range items {
		if _, dup := g.deps[item.ID]; dup {
			return nil, fmt.Errorf("duplicate work item ID %q", item.ID)
		}
		g.deps[item.ID] = nil
		g.order = append(g.order, item.ID)
	}
	sort.Strings(g.order)

	for _, item := range items {
		seen := make(map[string]bool, len(item.Deps))
		for _, dep := range item.Deps {
			if dep == item.ID {
				return nil, &SelfDependencyError{Item: item.ID}
			}
			if _, known := g.deps[dep]; !known {
				return nil, &UnknownDependencyError{Item: item.ID, Missing: dep}
			}
			if seen[dep] {
				continue
			}
			seen[dep] = true
			g.deps[item.ID] = append(g.deps[item.ID], dep)
			g.dependents[dep] = append(g.dependents[dep], item.ID)
		}
	}
	for id := range g.deps {
		sort.Strings(g.deps[id])
	}
	for id := range g.dependents {
		sort.Strings(g.dependents[id])
	}

	if cycle := g.findCycle(); cycle != nil {
		return nil, &CycleError{Path: cycle}
	}
	return g, nil
}

// findCycle runs a depth-first search with the classic three-color marking.
// It returns the cycle as an ordered ID path (first node repeated at the end),
// or nil when the graph is acyclic. Iteration order is deterministic.
func (g *Graph) findCycle() []string {
	const (
		white = iota // unvisited
		gray         // on the current recursion stack
		black        // fully explored
	)
	color := make(map[string]int, len(g.order))
	var stack []string

	var visit func(id string) []string
	visit = func(id string) []string {
		color[id] = gray
		stack = append(stack, id)
		for _, dep := range g.deps[id] {
			switch color[dep] {
			case gray:
				// Found the back edge; slice the stack from the first
				// occurrence of dep to close the cycle.
				for i, sid := range stack {
					if sid == dep {
						cycle := append([]string{}, stack[i:]...)
						return append(cycle, dep)
					}
				}
			case white:
				if cycle := visit(dep); cycle != nil {
					return cycle
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[id] = black
		return nil
	}

	for _, id := range g.order {
		if color[id] == white {
			if cycle := visit(id); cycle != nil {
				return cycle
			}
		}
	}
	return nil
}

// IDs returns all node IDs in ascending order.
func (g *Graph) IDs() []string {
	return g.order
}

// Dependencies returns the sorted dependency IDs of id.
func (g *Graph) Dependencies(id string) []string {
	return g.deps[id]
}

// Dependents returns the sorted IDs of items that depend on id.
func (g *Graph) Dependents(id string) []string {
	return g.dependents[id]
}

// Contains reports whether id is a node of the graph.
func (g *Graph) Contains(id string) bool {
	_, ok := g.deps[id]
	return ok
}

// TopoOrder returns the node IDs in a deterministic topological order,
// dependencies before dependents. The graph is validated acyclic at Build, so
// this cannot fail.
func (g *Graph) TopoOrder() []string {
	indegree := make(map[string]int, len(g.order))
	for _, id := range g.order {
		indegree[id] = len(g.deps[id])
	}

	// Kahn's algorithm over a sorted frontier keeps the order stable across
	// runs regardless of map iteration.
	frontier := make([]string, 0, len(g.order))
	for _, id := range g.order {
		if indegree[id] == 0 {
			frontier = append(frontier, id)
		}
	}

	out := make([]string, 0, len(g.order))
	for len(frontier) > 0 {
		id := frontier[0]
		frontier = frontier[1:]
		out = append(out, id)

		var unlocked []string
		for _, dep := range g.dependents[id] {
			indegree[dep]--
			if indegree[dep] == 0 {
				unlocked = append(unlocked, dep)
			}
		}
		sort.Strings(unlocked)
		frontier = mergeSorted(frontier, unlocked)
	}
	return out
}

// mergeSorted merges two ascending string slices into one.
func mergeSorted(a, b []string) []string {
	out := make([]string, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		if a[i] <= b[j] {
			out = append(out, a[i])
			i++
		} else {
			out = append(out, b[j])
			j++
		}
	}
	out = append(out, a[i:]...)
	out = append(out, b[j:]...)
	return out
}
