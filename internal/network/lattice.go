// Construction and churn: the ring lattice, one-shot Watts-Strogatz rewiring,
// and the perpetual low-rate edge drop/add process.
package network

// BuildLattice wires every node to its ringDegree/2 nearest neighbours on
// each side of the ring. For the default degree 4 this alternates a direct
// (+1) and a skip-one (+2) edge per side.
func (g *Graph) BuildLattice(ringDegree int) error {
	if ringDegree <= 0 || ringDegree%2 != 0 || ringDegree >= g.n {
		return ErrLatticeDegree
	}
	if g.EdgeCount() > 0 {
		return ErrNotEmpty
	}
	half := ringDegree / 2
	for i := 0; i < g.n; i++ {
		for k := 1; k <= half; k++ {
			g.AddEdge(int64(i), int64((i+k)%g.n))
		}
	}
	return nil
}

// Rewire applies one Watts-Strogatz pass: each edge, with probability p,
// keeps its source and moves its target to a uniformly chosen active
// non-neighbour. Returns the number of rewired edges.
func (g *Graph) Rewire(p float64, rng Rand) int {
	if p <= 0 {
		return 0
	}
	rewired := 0
	for _, e := range g.Edges() {
		if rng.Float64() >= p {
			continue
		}
		candidates := g.nonNeighbors(e.Source)
		if len(candidates) == 0 {
			continue
		}
		target := candidates[rng.Intn(len(candidates))]
		g.RemoveEdge(e.Source, e.Target)
		g.AddEdge(e.Source, target)
		rewired++
	}
	return rewired
}

// DropRandomEdge removes one uniformly chosen edge. Returns the removed edge
// and false if the graph had no edges.
func (g *Graph) DropRandomEdge(rng Rand) (Edge, bool) {
	edges := g.Edges()
	if len(edges) == 0 {
		return Edge{}, false
	}
	e := edges[rng.Intn(len(edges))]
	g.RemoveEdge(e.Source, e.Target)
	return e, true
}

// AddRandomEdge links a uniformly chosen active node to a uniformly chosen
// active non-neighbour. Returns false if the chosen node is saturated or
// fewer than two nodes are active.
func (g *Graph) AddRandomEdge(rng Rand) (Edge, bool) {
	ids := g.ActiveIDs()
	if len(ids) < 2 {
		return Edge{}, false
	}
	a := ids[rng.Intn(len(ids))]
	candidates := g.nonNeighbors(a)
	if len(candidates) == 0 {
		return Edge{}, false
	}
	b := candidates[rng.Intn(len(candidates))]
	g.AddEdge(a, b)
	if a > b {
		a, b = b, a
	}
	return Edge{Source: a, Target: b}, true
}

// NearestActive returns up to k active nodes other than id, ordered by ring
// distance from id (ties broken by lower ID). A dead node has no edges, so
// its lattice position is the only stable notion of where it lives.
func (g *Graph) NearestActive(id int64, k int) []int64 {
	out := make([]int64, 0, k)
	for step := 1; step <= g.n/2 && len(out) < k; step++ {
		left := (id - int64(step) + int64(g.n)) % int64(g.n)
		right := (id + int64(step)) % int64(g.n)
		pair := []int64{left, right}
		if right < left {
			pair[0], pair[1] = right, left
		}
		for _, c := range pair {
			if len(out) == k {
				break
			}
			if c == id || !g.Active(c) {
				continue
			}
			if len(out) > 0 && out[len(out)-1] == c {
				continue
			}
			out = append(out, c)
		}
	}
	return out
}

// nonNeighbors lists the active nodes that id could be linked to.
func (g *Graph) nonNeighbors(id int64) []int64 {
	var out []int64
	for _, c := range g.ActiveIDs() {
		if c != id && !g.g.HasEdgeBetween(id, c) {
			out = append(out, c)
		}
	}
	return out
}
