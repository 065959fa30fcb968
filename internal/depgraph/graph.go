// Package depgraph builds and validates the "must be Running before I may
// Start" DAG over service specs. The graph is constructed once at manager
// construction and is read-only afterwards.
package depgraph

import "fmt"

// Graph is an acyclic dependency graph over service names. Edges point from
// a service to the services it depends on.
type Graph struct {
	order      []string            // declaration order
	deps       map[string][]string // name -> dependencies
	dependents map[string][]string // name -> services depending on it
}

// New builds a graph from name -> dependency-list pairs given in
// declaration order. It fails fast on duplicate names, references to
// unknown services, and cycles.
func New(names []string, deps map[string][]string) (*Graph, error) {
	seen := make(map[string]bool, len(names))
	for _, n := range names {
		if seen[n] {
			return nil, fmt.Errorf("duplicate service name %q", n)
		}
		seen[n] = true
	}
	g := &Graph{
		order:      append([]string(nil), names...),
		deps:       make(map[string][]string, len(names)),
		dependents: make(map[string][]string, len(names)),
	}
	for _, n := range names {
		for _, d := range deps[n] {
			if !seen[d] {
				return nil, fmt.Errorf("service %q depends on unknown service %q", n, d)
			}
			g.deps[n] = append(g.deps[n], d)
			g.dependents[d] = append(g.dependents[d], n)
		}
	}
	if cycle := g.findCycle(); cycle != "" {
		return nil, fmt.Errorf("dependency cycle involving service %q", cycle)
	}
	return g, nil
}

// findCycle returns the name of a service on a cycle, or "".
func (g *Graph) findCycle() string {
	const (
		white = 0 // unvisited
		gray  = 1 // on stack
		black = 2 // done
	)
	color := make(map[string]int, len(g.order))
	var visit func(n string) string
	visit = func(n string) string {
		color[n] = gray
		for _, d := range g.deps[n] {
			switch color[d] {
			case gray:
				return d
			case white:
				if c := visit(d); c != "" {
					return c
				}
			}
		}
		color[n] = black
		return ""
	}
	for _, n := range g.order {
		if color[n] == white {
			if c := visit(n); c != "" {
				return c
			}
		}
	}
	return ""
}

// Names returns all service names in declaration order.
func (g *Graph) Names() []string { return append([]string(nil), g.order...) }

// Dependencies returns the direct dependencies of name.
func (g *Graph) Dependencies(name string) []string {
	return append([]string(nil), g.deps[name]...)
}

// Dependents returns the services directly depending on name.
func (g *Graph) Dependents(name string) []string {
	return append([]string(nil), g.dependents[name]...)
}

// Roots returns services with no dependencies, in declaration order.
func (g *Graph) Roots() []string {
	var roots []string
	for _, n := range g.order {
		if len(g.deps[n]) == 0 {
			roots = append(roots, n)
		}
	}
	return roots
}

// TopoOrder returns a dependency-respecting order: every service appears
// after all of its dependencies. Ties follow declaration order.
func (g *Graph) TopoOrder() []string {
	indeg := make(map[string]int, len(g.order))
	for _, n := range g.order {
		indeg[n] = len(g.deps[n])
	}
	queue := g.Roots()
	out := make([]string, 0, len(g.order))
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		out = append(out, n)
		for _, m := range g.dependents[n] {
			indeg[m]--
			if indeg[m] == 0 {
				queue = append(queue, m)
			}
		}
	}
	return out
}

// ReverseTopoOrder returns the stop order: every service appears before all
// of its dependencies (dependents stop first).
func (g *Graph) ReverseTopoOrder() []string {
	fwd := g.TopoOrder()
	out := make([]string, len(fwd))
	for i, n := range fwd {
		out[len(fwd)-1-i] = n
	}
	return out
}
