// Package dag builds and validates the dependency graph over work-item IDs
// and answers the topological queries the scheduler needs each tick.
//
// The graph is a pure query structure: it is rebuilt from authoritative
// WorkItem state on every scan and holds no execution state of its own.
// Construction fails atomically; a graph with a cycle or an unknown
// dependency is never returned in a partially usable form.
package dag
