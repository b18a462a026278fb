package network

import (
	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/traverse"
)

// UnreachableHops is the export-only stand-in for an unreachable pair.
// Arithmetic always goes through Distance, never through this value.
const UnreachableHops = 999999

// Distance is a hop count that may be undefined (unreachable).
type Distance struct {
	hops int
	ok   bool
}

// Hops returns a reachable distance of n hops.
func Hops(n int) Distance { return Distance{hops: n, ok: true} }

// Unreachable is the distance between nodes in different components.
var Unreachable = Distance{}

// Reachable reports whether the distance is defined.
func (d Distance) Reachable() bool { return d.ok }

// Value returns the hop count and whether it is defined.
func (d Distance) Value() (int, bool) { return d.hops, d.ok }

// Within reports whether the distance is defined and lo <= hops <= hi.
func (d Distance) Within(lo, hi int) bool { return d.ok && d.hops >= lo && d.hops <= hi }

// Export returns the hop count, or UnreachableHops when undefined.
func (d Distance) Export() int {
	if !d.ok {
		return UnreachableHops
	}
	return d.hops
}

// PathLength is the graph's average shortest path length, undefined when the
// active subgraph is disconnected or has fewer than two nodes.
type PathLength struct {
	Value   float64
	Defined bool
}

// DistancesFrom runs a breadth-first search from src over the active
// subgraph. The result is indexed by node ID.
func (g *Graph) DistancesFrom(src int64) []Distance {
	if g.distVer == g.version && g.distMatrix != nil && g.valid(src) {
		return g.distMatrix[src]
	}
	return g.bfs(src)
}

func (g *Graph) bfs(src int64) []Distance {
	dist := make([]Distance, g.n)
	if !g.Active(src) {
		return dist
	}
	var bf traverse.BreadthFirst
	bf.Walk(g.g, simple.Node(src), func(n graph.Node, d int) bool {
		dist[n.ID()] = Hops(d)
		return false
	})
	return dist
}

// ShortestPathLengths returns the all-pairs hop matrix for the active
// subgraph. The matrix is cached until the next mutation; callers must not
// modify it.
func (g *Graph) ShortestPathLengths() [][]Distance {
	if g.distVer == g.version && g.distMatrix != nil {
		return g.distMatrix
	}
	m := make([][]Distance, g.n)
	for i := 0; i < g.n; i++ {
		m[i] = g.bfs(int64(i))
	}
	g.distMatrix = m
	g.distVer = g.version
	return m
}

// Distance returns the hop distance between a and b.
func (g *Graph) Distance(a, b int64) Distance {
	if !g.valid(a) || !g.valid(b) {
		return Unreachable
	}
	return g.ShortestPathLengths()[a][b]
}

// AveragePathLength averages the distance over all ordered pairs of distinct
// active nodes. Any unreachable pair makes the result undefined.
func (g *Graph) AveragePathLength() PathLength {
	ids := g.ActiveIDs()
	if len(ids) < 2 {
		return PathLength{}
	}
	m := g.ShortestPathLengths()
	total, pairs := 0, 0
	for _, a := range ids {
		for _, b := range ids {
			if a == b {
				continue
			}
			h, ok := m[a][b].Value()
			if !ok {
				return PathLength{}
			}
			total += h
			pairs++
		}
	}
	return PathLength{Value: float64(total) / float64(pairs), Defined: true}
}

// Connected reports whether every active node can reach every other.
func (g *Graph) Connected() bool {
	ids := g.ActiveIDs()
	if len(ids) < 2 {
		return true
	}
	dist := g.DistancesFrom(ids[0])
	for _, id := range ids {
		if !dist[id].Reachable() {
			return false
		}
	}
	return true
}
