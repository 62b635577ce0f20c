// Package deps tracks which glyphs are built from which components.
//
// madeOf maps a glyph to the base glyphs of its components; usedBy is its
// transpose. Only loaded glyphs contribute edges. Component graphs in real
// fonts are not guaranteed to be acyclic, so the transitive iterators carry
// a visited set.
package deps

import (
	"sort"
	"sync"
)

type set map[string]struct{}

// Graph is safe for concurrent use.
type Graph struct {
	mu     sync.RWMutex
	madeOf map[string]set
	usedBy map[string]set
}

// NewGraph returns an empty dependency graph.
func NewGraph() *Graph {
	return &Graph{
		madeOf: make(map[string]set),
		usedBy: make(map[string]set),
	}
}

// Update replaces the component list of a glyph. Used-by edges from the
// previous component list are swept before the new ones are added.
func (g *Graph) Update(name string, componentNames []string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.sweep(name)

	if len(componentNames) == 0 {
		delete(g.madeOf, name)
		return
	}
	components := make(set, len(componentNames))
	for _, c := range componentNames {
		components[c] = struct{}{}
		users, ok := g.usedBy[c]
		if !ok {
			users = make(set)
			g.usedBy[c] = users
		}
		users[name] = struct{}{}
	}
	g.madeOf[name] = components
}

// Forget removes the outgoing edges of a glyph that is no longer loaded.
// Incoming edges stay: glyphs that use it are still loaded.
func (g *Graph) Forget(name string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sweep(name)
	delete(g.madeOf, name)
}

func (g *Graph) sweep(name string) {
	for c := range g.madeOf[name] {
		users := g.usedBy[c]
		delete(users, name)
		if len(users) == 0 {
			delete(g.usedBy, c)
		}
	}
}

// MadeOf returns the direct components of a glyph, sorted.
func (g *Graph) MadeOf(name string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return sorted(g.madeOf[name])
}

// UsedBy returns the glyphs that directly use name as a component, sorted.
func (g *Graph) UsedBy(name string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return sorted(g.usedBy[name])
}

// IterMadeOf returns all glyphs name is transitively built from, depth first
// in sorted order. name itself is never included.
func (g *Graph) IterMadeOf(name string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return walk(g.madeOf, name)
}

// IterUsedBy returns all glyphs that transitively use name, depth first in
// sorted order. name itself is never included.
func (g *Graph) IterUsedBy(name string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return walk(g.usedBy, name)
}

func walk(edges map[string]set, start string) []string {
	var result []string
	visited := set{start: {}}
	stack := reversed(sorted(edges[start]))
	for len(stack) > 0 {
		name := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, seen := visited[name]; seen {
			continue
		}
		visited[name] = struct{}{}
		result = append(result, name)
		stack = append(stack, reversed(sorted(edges[name]))...)
	}
	return result
}

func sorted(s set) []string {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func reversed(names []string) []string {
	for i, j := 0, len(names)-1; i < j; i, j = i+1, j-1 {
		names[i], names[j] = names[j], names[i]
	}
	return names
}
