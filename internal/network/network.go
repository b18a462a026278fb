// Package network maintains the live household graph: a fixed node set whose
// edges churn every tick, plus the structural queries (distances, clustering)
// the dynamics engine reads.
package network

import (
	"errors"
	"slices"

	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/simple"
)

var (
	// ErrLatticeDegree is returned when a ring lattice cannot be built with the requested degree.
	ErrLatticeDegree = errors.New("network: ring degree must be even, positive and smaller than the node count")
	// ErrNotEmpty is returned when a lattice is built on a graph that already has edges.
	ErrNotEmpty = errors.New("network: graph already has edges")
)

// Rand is the subset of a random stream the substrate needs.
type Rand interface {
	Intn(n int) int
	Float64() float64
}

// Edge is an undirected link, always stored with Source < Target.
type Edge struct {
	Source int64 `json:"source" db:"source_id"`
	Target int64 `json:"target" db:"target_id"`
}

// Graph is the network substrate. Node IDs are 0..Size()-1 and never change;
// inactive nodes stay in the identity space but carry no edges.
type Graph struct {
	g      *simple.UndirectedGraph
	n      int
	active []bool

	// version increments on every structural mutation and keys the distance cache.
	version    uint64
	distVer    uint64
	distMatrix [][]Distance
}

// New creates a graph of n active, unlinked nodes.
func New(n int) *Graph {
	g := simple.NewUndirectedGraph()
	active := make([]bool, n)
	for i := 0; i < n; i++ {
		g.AddNode(simple.Node(int64(i)))
		active[i] = true
	}
	return &Graph{g: g, n: n, active: active, version: 1}
}

// Size returns the number of nodes, active or not.
func (g *Graph) Size() int { return g.n }

// Version returns the mutation counter. Two equal versions mean an identical edge set.
func (g *Graph) Version() uint64 { return g.version }

func (g *Graph) valid(id int64) bool { return id >= 0 && id < int64(g.n) }

// Active reports whether the node participates in the live graph.
func (g *Graph) Active(id int64) bool { return g.valid(id) && g.active[id] }

// ActiveCount returns the number of active nodes.
func (g *Graph) ActiveCount() int {
	c := 0
	for _, a := range g.active {
		if a {
			c++
		}
	}
	return c
}

// Deactivate removes every edge of id and excludes it from structural queries.
// Returns the number of edges removed.
func (g *Graph) Deactivate(id int64) int {
	if !g.valid(id) {
		return 0
	}
	removed := 0
	for _, nb := range g.Neighbors(id) {
		g.g.RemoveEdge(id, nb)
		removed++
	}
	if g.active[id] || removed > 0 {
		g.active[id] = false
		g.version++
	}
	return removed
}

// Activate returns id to the live graph with no edges.
func (g *Graph) Activate(id int64) {
	if !g.valid(id) || g.active[id] {
		return
	}
	g.active[id] = true
	g.version++
}

// HasEdge reports whether a and b are linked.
func (g *Graph) HasEdge(a, b int64) bool {
	if !g.valid(a) || !g.valid(b) || a == b {
		return false
	}
	return g.g.HasEdgeBetween(a, b)
}

// AddEdge links a and b. It is a no-op (returning false) for self loops,
// inactive endpoints and existing edges.
func (g *Graph) AddEdge(a, b int64) bool {
	if a == b || !g.Active(a) || !g.Active(b) || g.g.HasEdgeBetween(a, b) {
		return false
	}
	g.g.SetEdge(g.g.NewEdge(simple.Node(a), simple.Node(b)))
	g.version++
	return true
}

// RemoveEdge unlinks a and b. Returns false if there was no such edge.
func (g *Graph) RemoveEdge(a, b int64) bool {
	if !g.HasEdge(a, b) {
		return false
	}
	g.g.RemoveEdge(a, b)
	g.version++
	return true
}

// Degree returns the number of neighbours of id.
func (g *Graph) Degree(id int64) int {
	if !g.valid(id) {
		return 0
	}
	return g.g.From(id).Len()
}

// Neighbors returns the neighbour IDs of id in ascending order, so that random
// draws over them are reproducible.
func (g *Graph) Neighbors(id int64) []int64 {
	if !g.valid(id) {
		return nil
	}
	nodes := graph.NodesOf(g.g.From(id))
	ids := make([]int64, len(nodes))
	for i, n := range nodes {
		ids[i] = n.ID()
	}
	slices.Sort(ids)
	return ids
}

// Edges returns every edge ordered by (Source, Target).
func (g *Graph) Edges() []Edge {
	raw := graph.EdgesOf(g.g.Edges())
	edges := make([]Edge, 0, len(raw))
	for _, e := range raw {
		a, b := e.From().ID(), e.To().ID()
		if a > b {
			a, b = b, a
		}
		edges = append(edges, Edge{Source: a, Target: b})
	}
	slices.SortFunc(edges, func(x, y Edge) int {
		if x.Source != y.Source {
			return int(x.Source - y.Source)
		}
		return int(x.Target - y.Target)
	})
	return edges
}

// EdgeCount returns the number of edges.
func (g *Graph) EdgeCount() int {
	return g.g.Edges().Len()
}

// ActiveIDs returns the active node IDs in ascending order.
func (g *Graph) ActiveIDs() []int64 {
	ids := make([]int64, 0, g.n)
	for i, a := range g.active {
		if a {
			ids = append(ids, int64(i))
		}
	}
	return ids
}

// Clear removes every edge and reactivates every node.
func (g *Graph) Clear() {
	for _, e := range g.Edges() {
		g.g.RemoveEdge(e.Source, e.Target)
	}
	for i := range g.active {
		g.active[i] = true
	}
	g.version++
}
