package network

// Coefficient is a local clustering value, undefined for degree <= 1.
type Coefficient struct {
	value float64
	ok    bool
}

// Defined returns a defined coefficient.
func Defined(v float64) Coefficient { return Coefficient{value: v, ok: true} }

// Undefined is the coefficient of a node with fewer than two neighbours.
var Undefined = Coefficient{}

// Value returns the coefficient and whether it is defined.
func (c Coefficient) Value() (float64, bool) { return c.value, c.ok }

// IsDefined reports whether the coefficient has a value.
func (c Coefficient) IsDefined() bool { return c.ok }

// LocalClustering returns 2e/(k(k-1)) where k is the degree of id and e the
// number of edges among its neighbours.
func (g *Graph) LocalClustering(id int64) Coefficient {
	nbs := g.Neighbors(id)
	k := len(nbs)
	if k <= 1 {
		return Undefined
	}
	links := 0
	for i := 0; i < k; i++ {
		for j := i + 1; j < k; j++ {
			if g.g.HasEdgeBetween(nbs[i], nbs[j]) {
				links++
			}
		}
	}
	return Defined(2 * float64(links) / float64(k*(k-1)))
}

// Clustering returns every node's local coefficient (indexed by ID) and the
// global mean over defined values. The global value is 0 when no node has
// degree above one.
func (g *Graph) Clustering() ([]Coefficient, float64) {
	locals := make([]Coefficient, g.n)
	sum, count := 0.0, 0
	for i := 0; i < g.n; i++ {
		if !g.active[i] {
			continue
		}
		c := g.LocalClustering(int64(i))
		locals[i] = c
		if v, ok := c.Value(); ok {
			sum += v
			count++
		}
	}
	if count == 0 {
		return locals, 0
	}
	return locals, sum / float64(count)
}
