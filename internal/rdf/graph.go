package rdf

import (
	"iter"
	"slices"
)

// Graph is an immutable quad set. Readers may hold a *Graph indefinitely:
// updates produce a new Graph rather than mutating an existing one.
type Graph struct {
	name  string
	quads []Quad
	set   map[Quad]struct{}
}

// NewGraph builds a graph named by the wire form of its address. Duplicate
// quads collapse; first-seen order is kept.
func NewGraph(name string, quads []Quad) *Graph {
	g := &Graph{
		name:  name,
		quads: make([]Quad, 0, len(quads)),
		set:   make(map[Quad]struct{}, len(quads)),
	}
	for _, q := range quads {
		g.add(q)
	}
	return g
}

// EmptyGraph is a graph with no quads.
func EmptyGraph(name string) *Graph {
	return &Graph{name: name, set: map[Quad]struct{}{}}
}

func (g *Graph) add(q Quad) {
	if _, ok := g.set[q]; ok {
		return
	}
	g.set[q] = struct{}{}
	g.quads = append(g.quads, q)
}

// Name is the wire form of the address the graph was read from.
func (g *Graph) Name() string { return g.name }

func (g *Graph) Len() int {
	if g == nil {
		return 0
	}
	return len(g.quads)
}

// Quads returns a copy of the quads in insertion order.
func (g *Graph) Quads() []Quad {
	if g == nil {
		return nil
	}
	return slices.Clone(g.quads)
}

// All iterates the quads without copying.
func (g *Graph) All() iter.Seq[Quad] {
	return func(yield func(Quad) bool) {
		if g == nil {
			return
		}
		for _, q := range g.quads {
			if !yield(q) {
				return
			}
		}
	}
}

func (g *Graph) Contains(q Quad) bool {
	if g == nil {
		return false
	}
	_, ok := g.set[q]
	return ok
}

// Equal reports set equality of the quads; names are ignored.
func (g *Graph) Equal(other *Graph) bool {
	if g.Len() != other.Len() {
		return false
	}
	for _, q := range g.quads {
		if !other.Contains(q) {
			return false
		}
	}
	return true
}

// Union merges graphs under a new name. Quads keep their own graph tags, so
// quads from distinct documents never collapse.
func Union(name string, graphs ...*Graph) *Graph {
	n := 0
	for _, g := range graphs {
		n += g.Len()
	}
	u := &Graph{name: name, quads: make([]Quad, 0, n), set: make(map[Quad]struct{}, n)}
	for _, g := range graphs {
		if g == nil {
			continue
		}
		for _, q := range g.quads {
			u.add(q)
		}
	}
	return u
}
