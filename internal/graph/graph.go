// Package graph holds the service dependency graph the detector uses to
// decide which alerts may be causally related. A parent is an upstream
// dependency: a failure on a parent can surface as alerts on its children.
package graph

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"slices"
	"sync"
)

var (
	// ErrNotFound reports an unknown service id.
	ErrNotFound = errors.New("service not found")
	// ErrInvalidOperation reports structural misuse of the graph.
	ErrInvalidOperation = errors.New("invalid graph operation")
)

// Node is a read-only snapshot of one service and its one-hop neighbours.
// Parents and Children are sorted.
type Node struct {
	ID       string
	Parents  []string
	Children []string
}

// Edge is a dependency: Child calls (depends on) Parent.
type Edge struct {
	Parent string
	Child  string
}

// Source supplies the full edge set for Update.
type Source interface {
	Edges(ctx context.Context) ([]Edge, error)
}

type vertex struct {
	parents  map[string]struct{}
	children map[string]struct{}
}

func newVertex() *vertex {
	return &vertex{parents: make(map[string]struct{}), children: make(map[string]struct{})}
}

// ServiceGraph is safe for concurrent readers and writers.
type ServiceGraph struct {
	mu       sync.RWMutex
	vertices map[string]*vertex
	source   Source
	logger   *slog.Logger
}

// Option customises a ServiceGraph.
type Option func(*ServiceGraph)

// WithSource attaches the source Update rebuilds from.
func WithSource(src Source) Option {
	return func(g *ServiceGraph) { g.source = src }
}

// WithLogger sets the logger used for refresh reporting.
func WithLogger(logger *slog.Logger) Option {
	return func(g *ServiceGraph) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// New returns an empty graph.
func New(opts ...Option) *ServiceGraph {
	g := &ServiceGraph{vertices: make(map[string]*vertex), logger: slog.Default()}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *ServiceGraph) ensure(id string) *vertex {
	v, ok := g.vertices[id]
	if !ok {
		v = newVertex()
		g.vertices[id] = v
	}
	return v
}

func (g *ServiceGraph) snapshot(id string, v *vertex) Node {
	return Node{ID: id, Parents: sortedKeys(v.parents), Children: sortedKeys(v.children)}
}

// Add inserts id or merges into an existing node, wiring both directions of
// every edge. Neighbours that do not exist yet are created.
func (g *ServiceGraph) Add(id string, parents, children []string) Node {
	g.mu.Lock()
	defer g.mu.Unlock()
	v := g.ensure(id)
	for _, p := range parents {
		if p == id {
			continue
		}
		v.parents[p] = struct{}{}
		g.ensure(p).children[id] = struct{}{}
	}
	for _, c := range children {
		if c == id {
			continue
		}
		v.children[c] = struct{}{}
		g.ensure(c).parents[id] = struct{}{}
	}
	return g.snapshot(id, v)
}

// Remove detaches id from all neighbours and deletes it.
func (g *ServiceGraph) Remove(id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	v, ok := g.vertices[id]
	if !ok {
		return fmt.Errorf("remove %s: %w", id, ErrInvalidOperation)
	}
	for p := range v.parents {
		delete(g.vertices[p].children, id)
	}
	for c := range v.children {
		delete(g.vertices[c].parents, id)
	}
	delete(g.vertices, id)
	return nil
}

// Node returns a snapshot of id.
func (g *ServiceGraph) Node(id string) (Node, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	v, ok := g.vertices[id]
	if !ok {
		return Node{}, fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	return g.snapshot(id, v), nil
}

// HasNode reports whether id is in the graph.
func (g *ServiceGraph) HasNode(id string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.vertices[id]
	return ok
}

// Len returns the number of services.
func (g *ServiceGraph) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.vertices)
}

// Dependents returns the immediate children of id.
func (g *ServiceGraph) Dependents(id string) ([]Node, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	v, ok := g.vertices[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	out := make([]Node, 0, len(v.children))
	for _, c := range sortedKeys(v.children) {
		out = append(out, g.snapshot(c, g.vertices[c]))
	}
	return out, nil
}

// Roots returns every service without parents.
func (g *ServiceGraph) Roots() []Node {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var out []Node
	for _, id := range sortedKeys(g.vertices) {
		if v := g.vertices[id]; len(v.parents) == 0 {
			out = append(out, g.snapshot(id, v))
		}
	}
	return out
}

// Ancestors walks upstream from id one level at a time, nearest level first,
// ids sorted within a level. Each ancestor is yielded once. maxDepth <= 0
// means unlimited. The lock is held only while a level is computed, so the
// consumer may call back into the graph.
func (g *ServiceGraph) Ancestors(id string, maxDepth int) iter.Seq[Node] {
	return func(yield func(Node) bool) {
		seen := map[string]struct{}{id: {}}
		frontier := []string{id}
		for depth := 1; len(frontier) > 0; depth++ {
			if maxDepth > 0 && depth > maxDepth {
				return
			}
			level := g.nextLevel(frontier, seen)
			for _, n := range level {
				if !yield(n) {
					return
				}
			}
			frontier = frontier[:0]
			for _, n := range level {
				frontier = append(frontier, n.ID)
			}
		}
	}
}

func (g *ServiceGraph) nextLevel(frontier []string, seen map[string]struct{}) []Node {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var ids []string
	for _, id := range frontier {
		v, ok := g.vertices[id]
		if !ok {
			continue
		}
		for p := range v.parents {
			if _, dup := seen[p]; dup {
				continue
			}
			seen[p] = struct{}{}
			ids = append(ids, p)
		}
	}
	slices.Sort(ids)
	level := make([]Node, 0, len(ids))
	for _, p := range ids {
		level = append(level, g.snapshot(p, g.vertices[p]))
	}
	return level
}

// Replace swaps the whole adjacency for the given node list. A list that
// contains a cycle is rejected and the current graph is kept.
func (g *ServiceGraph) Replace(specs []NodeSpec) error {
	next := make(map[string]*vertex)
	get := func(id string) *vertex {
		v, ok := next[id]
		if !ok {
			v = newVertex()
			next[id] = v
		}
		return v
	}
	for _, s := range specs {
		v := get(s.ID)
		for _, p := range s.Parents {
			if p == s.ID {
				return fmt.Errorf("%s depends on itself: %w", s.ID, ErrInvalidOperation)
			}
			v.parents[p] = struct{}{}
			get(p).children[s.ID] = struct{}{}
		}
		for _, c := range s.Children {
			if c == s.ID {
				return fmt.Errorf("%s depends on itself: %w", s.ID, ErrInvalidOperation)
			}
			v.children[c] = struct{}{}
			get(c).parents[s.ID] = struct{}{}
		}
	}
	if cycle := findCycle(next); cycle != "" {
		return fmt.Errorf("cycle through %s: %w", cycle, ErrInvalidOperation)
	}

	g.mu.Lock()
	g.vertices = next
	g.mu.Unlock()
	return nil
}

// Update rebuilds the graph from the attached Source; without one it does
// nothing.
func (g *ServiceGraph) Update(ctx context.Context) error {
	if g.source == nil {
		return nil
	}
	edges, err := g.source.Edges(ctx)
	if err != nil {
		return fmt.Errorf("refresh service graph: %w", err)
	}
	specs := make(map[string]*NodeSpec)
	order := make([]string, 0)
	spec := func(id string) *NodeSpec {
		s, ok := specs[id]
		if !ok {
			s = &NodeSpec{ID: id}
			specs[id] = s
			order = append(order, id)
		}
		return s
	}
	for _, e := range edges {
		if e.Parent == "" || e.Child == "" {
			continue
		}
		spec(e.Parent)
		child := spec(e.Child)
		child.Parents = append(child.Parents, e.Parent)
	}
	list := make([]NodeSpec, 0, len(order))
	for _, id := range order {
		list = append(list, *specs[id])
	}
	if err := g.Replace(list); err != nil {
		return err
	}
	g.logger.Info("service graph refreshed", slog.Int("services", len(list)), slog.Int("edges", len(edges)))
	return nil
}

// findCycle returns a node on a cycle, or "" for a DAG.
func findCycle(vertices map[string]*vertex) string {
	indegree := make(map[string]int, len(vertices))
	for id, v := range vertices {
		indegree[id] = len(v.parents)
	}
	queue := make([]string, 0)
	for id, d := range indegree {
		if d == 0 {
			queue = append(queue, id)
		}
	}
	visited := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		visited++
		for c := range vertices[id].children {
			indegree[c]--
			if indegree[c] == 0 {
				queue = append(queue, c)
			}
		}
	}
	if visited == len(vertices) {
		return ""
	}
	for _, id := range sortedKeys(indegree) {
		if indegree[id] > 0 {
			return id
		}
	}
	return ""
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
