// Package graph stores and validates depends-on edges between task labels.
// All validation happens at insertion time, so the graph a run executes
// against is known to be acyclic and fully resolvable before anything starts.
package graph

import (
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrSelfDependency is returned when a task lists itself as a dependency.
	ErrSelfDependency = errors.New("task cannot depend on itself")
	// ErrUnknownDependency is returned when a dependency names a label that
	// has not been registered yet.
	ErrUnknownDependency = errors.New("unknown dependency")
	// ErrCycle is returned when inserting the edge set would create a cycle.
	ErrCycle = errors.New("circular dependency detected")
)

// Graph is a mutex-guarded dependency graph. It is append-only: nodes and
// edges are added while tasks register and never change once the run starts.
type Graph struct {
	mu    sync.RWMutex
	nodes map[string]*node
}

type node struct {
	label      string
	deps       map[string]*node
	dependents map[string]*node
}

// New creates an initialized, empty Graph.
func New() *Graph {
	return &Graph{nodes: make(map[string]*node)}
}

// Add registers label with its depends-on edges. Edge invariants are enforced
// before anything is stored: no self-dependency, every dependency already
// registered, and no cycle through the existing edges.
func (g *Graph) Add(label string, dependsOn []string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.nodes[label]; ok {
		return fmt.Errorf("label %q already registered", label)
	}
	for _, dep := range dependsOn {
		if dep == label {
			return fmt.Errorf("%w: %q", ErrSelfDependency, label)
		}
		if _, ok := g.nodes[dep]; !ok {
			return fmt.Errorf("%w: %q depends on unregistered task %q", ErrUnknownDependency, label, dep)
		}
	}
	// All other edges are acyclic by induction, so a new cycle must pass
	// through this label: check reachability from each dependency back to it.
	for _, dep := range dependsOn {
		if g.reachableLocked(dep, label) {
			return fmt.Errorf("%w: %q -> %q", ErrCycle, label, dep)
		}
	}

	n := &node{
		label:      label,
		deps:       make(map[string]*node, len(dependsOn)),
		dependents: make(map[string]*node),
	}
	g.nodes[label] = n
	for _, dep := range dependsOn {
		target := g.nodes[dep]
		n.deps[dep] = target
		target.dependents[label] = n
	}
	return nil
}

// reachableLocked reports whether target is reachable from start by walking
// depends-on edges. Caller must hold the lock.
func (g *Graph) reachableLocked(start, target string) bool {
	seen := make(map[string]bool)
	stack := []string{start}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if cur == target {
			return true
		}
		if seen[cur] {
			continue
		}
		seen[cur] = true
		if n, ok := g.nodes[cur]; ok {
			for dep := range n.deps {
				stack = append(stack, dep)
			}
		}
	}
	return false
}

// Dependencies returns the labels the given label depends on.
func (g *Graph) Dependencies(label string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	n, ok := g.nodes[label]
	if !ok {
		return nil
	}
	deps := make([]string, 0, len(n.deps))
	for dep := range n.deps {
		deps = append(deps, dep)
	}
	return deps
}

// Ready reports whether every dependency of label is in succeeded.
func (g *Graph) Ready(label string, succeeded map[string]struct{}) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()

	n, ok := g.nodes[label]
	if !ok {
		return false
	}
	for dep := range n.deps {
		if _, ok := succeeded[dep]; !ok {
			return false
		}
	}
	return true
}

// Blocked reports whether any dependency of label is in stopped (failed or
// terminated), returning the first such dependency. A blocked label must be
// skipped: it can never become ready.
func (g *Graph) Blocked(label string, stopped map[string]struct{}) (string, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	n, ok := g.nodes[label]
	if !ok {
		return "", false
	}
	for dep := range n.deps {
		if _, ok := stopped[dep]; ok {
			return dep, true
		}
	}
	return "", false
}

// Len returns the number of registered labels.
func (g *Graph) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}
