// Package graph provides the dependency graph used for task ordering.
package graph

import (
	"errors"
	"fmt"
	"sync"
)

// ErrCycleDetected indicates a circular dependency was found in the task graph.
var ErrCycleDetected = errors.New("circular dependency detected")

// ErrUnknownDependency indicates a task references a dependency that was
// never added to the graph.
var ErrUnknownDependency = errors.New("unknown dependency")

// Graph is a directed acyclic graph of task dependencies. Nodes are task IDs
// and edges point at the tasks a node is blocked by. Unlike a build-once
// graph, nodes may be added at any time: the coordinator inserts remediation
// tasks while the original plan is still executing.
type Graph struct {
	mu sync.RWMutex
	// edges maps task ID to the IDs it depends on.
	edges map[string][]string
	// dependents is the reverse index of edges.
	dependents map[string][]string
	// completed tracks which tasks have finished successfully.
	completed map[string]bool
}

// New creates an empty graph.
func New() *Graph {
	return &Graph{
		edges:      make(map[string][]string),
		dependents: make(map[string][]string),
		completed:  make(map[string]bool),
	}
}

// Add registers a task and its dependencies. Every dependency must already
// be present in the graph, and the new edges must not introduce a cycle.
// Adding a node twice is an error.
func (g *Graph) Add(id string, deps []string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, exists := g.edges[id]; exists {
		return fmt.Errorf("task %s already in graph", id)
	}
	for _, dep := range deps {
		if _, exists := g.edges[dep]; !exists {
			return fmt.Errorf("task %s depends on %s: %w", id, dep, ErrUnknownDependency)
		}
	}

	g.edges[id] = append([]string(nil), deps...)
	for _, dep := range deps {
		g.dependents[dep] = append(g.dependents[dep], id)
	}

	if g.hasCycleLocked() {
		// Roll back the insertion so the graph stays consistent.
		for _, dep := range deps {
			rev := g.dependents[dep]
			g.dependents[dep] = rev[:len(rev)-1]
		}
		delete(g.edges, id)
		return ErrCycleDetected
	}
	return nil
}

// AddBatch registers a set of tasks that may depend on each other in any
// order, as produced by decomposition.
func (g *Graph) AddBatch(deps map[string][]string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	added := make([]string, 0, len(deps))
	rollback := func() {
		for _, id := range added {
			for _, dep := range g.edges[id] {
				rev := g.dependents[dep]
				for i, d := range rev {
					if d == id {
						g.dependents[dep] = append(rev[:i], rev[i+1:]...)
						break
					}
				}
			}
			delete(g.edges, id)
		}
	}

	for id := range deps {
		if _, exists := g.edges[id]; exists {
			return fmt.Errorf("task %s already in graph", id)
		}
		g.edges[id] = nil
		added = append(added, id)
	}
	for id, dd := range deps {
		for _, dep := range dd {
			if _, exists := g.edges[dep]; !exists {
				rollback()
				return fmt.Errorf("task %s depends on %s: %w", id, dep, ErrUnknownDependency)
			}
			g.edges[id] = append(g.edges[id], dep)
			g.dependents[dep] = append(g.dependents[dep], id)
		}
	}

	if g.hasCycleLocked() {
		rollback()
		return ErrCycleDetected
	}
	return nil
}

// hasCycleLocked runs a depth-first search with coloring to detect back
// edges. Caller must hold g.mu.
func (g *Graph) hasCycleLocked() bool {
	// 0 = unvisited, 1 = in progress, 2 = done.
	colors := make(map[string]int, len(g.edges))

	var visit func(id string) bool
	visit = func(id string) bool {
		colors[id] = 1
		for _, dep := range g.edges[id] {
			switch colors[dep] {
			case 1:
				return true
			case 0:
				if visit(dep) {
					return true
				}
			}
		}
		colors[id] = 2
		return false
	}

	for id := range g.edges {
		if colors[id] == 0 && visit(id) {
			return true
		}
	}
	return false
}

// MarkComplete records that a task finished successfully, which may unblock
// its dependents.
func (g *Graph) MarkComplete(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.completed[id] = true
}

// Completed returns true if the task has been marked complete.
func (g *Graph) Completed(id string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.completed[id]
}

// Satisfied returns true if every dependency of the task is complete.
func (g *Graph) Satisfied(id string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, dep := range g.edges[id] {
		if !g.completed[dep] {
			return false
		}
	}
	return true
}

// Dependents returns the IDs of tasks that depend on the given task.
func (g *Graph) Dependents(id string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]string(nil), g.dependents[id]...)
}

// Dependencies returns the IDs the given task depends on.
func (g *Graph) Dependencies(id string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]string(nil), g.edges[id]...)
}

// Size returns the number of tasks in the graph.
func (g *Graph) Size() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.edges)
}

// TopologicalSort returns task IDs with all dependencies ordered before
// their dependents. Returns ErrCycleDetected if the graph has a cycle.
func (g *Graph) TopologicalSort() ([]string, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if g.hasCycleLocked() {
		return nil, ErrCycleDetected
	}

	visited := make(map[string]bool, len(g.edges))
	result := make([]string, 0, len(g.edges))

	var visit func(id string)
	visit = func(id string) {
		if visited[id] {
			return
		}
		visited[id] = true
		for _, dep := range g.edges[id] {
			visit(dep)
		}
		result = append(result, id)
	}

	for id := range g.edges {
		visit(id)
	}
	return result, nil
}
