package engine

import (
	"github.com/talgya/scapegoat/internal/agents"
	"github.com/talgya/scapegoat/internal/entropy"
	"github.com/talgya/scapegoat/internal/network"
)

// repair is phase 12: isolated agents reconnect toward the accusation
// hotspots, then stale victim chains lose their links.
func (s *Simulation) repair() {
	s.reindex()
	s.reconnect()
	s.pruneStale()
	s.pruneLeaderLinks()
}

// reconnect links each agent at or below RepairDegree to a random agent
// adjacent to a Victim or a Leader. Closer candidates and friendlier
// populations link more often.
func (s *Simulation) reconnect() {
	hot := s.hotspotNeighbours()
	if len(hot) == 0 {
		return
	}
	f := s.Params.Friendliness / 100
	for _, id := range s.liveShuffled() {
		if s.degree(id) > s.Params.RepairDegree {
			continue
		}
		var cands []agents.AgentID
		for _, c := range hot {
			if c != id && !s.Net.HasEdge(int64(id), int64(c)) {
				cands = append(cands, c)
			}
		}
		c, ok := entropy.Pick(s.rng, cands)
		if !ok {
			continue
		}
		p := f / 2
		if hops, ok := s.Net.DistancesFrom(int64(id))[c].Value(); ok && hops > 0 {
			p = f / float64(hops)
		}
		if s.rng.Chance(p) {
			s.link(id, c)
		}
	}
}

// hotspotNeighbours returns the live agents adjacent to a Victim or a Leader, ascending.
func (s *Simulation) hotspotNeighbours() []agents.AgentID {
	seen := make(map[agents.AgentID]bool)
	for _, r := range []agents.Role{agents.RoleVictim, agents.RoleLeader} {
		for _, id := range s.index.Of(r) {
			for _, nb := range s.neighbors(id) {
				seen[nb] = true
			}
		}
	}
	out := make([]agents.AgentID, 0, len(seen))
	for _, id := range s.index.Live {
		if seen[id] {
			out = append(out, id)
		}
	}
	return out
}

// pruneStale cuts the victim-chain links of victim-chain agents that have
// drifted beyond WindowMax hops of every Leader.
func (s *Simulation) pruneStale() {
	leaders := s.index.Of(agents.RoleLeader)
	if len(leaders) == 0 {
		return
	}
	dists := make([][]network.Distance, len(leaders))
	for i, l := range leaders {
		dists[i] = s.Net.DistancesFrom(int64(l))
	}
	for _, id := range s.index.Live {
		a := s.agent(id)
		if !a.Role.IsVictimChain() || s.InRitual(id) {
			continue
		}
		stale := true
		for _, d := range dists {
			if hops, ok := d[id].Value(); ok && hops <= s.Params.WindowMax {
				stale = false
				break
			}
		}
		if !stale {
			continue
		}
		for _, nb := range s.neighbors(id) {
			if s.agent(nb).Role.IsVictimChain() && !s.InRitual(nb) && s.rng.Chance(s.Params.Rates.Prune) {
				s.unlink(id, nb)
			}
		}
	}
}

// pruneLeaderLinks cuts Leader to FailedVictim links; friendlier populations keep more of them.
func (s *Simulation) pruneLeaderLinks() {
	p := s.Params.Rates.Prune * (1 - s.Params.Friendliness/100)
	for _, l := range s.index.Of(agents.RoleLeader) {
		for _, nb := range s.neighbors(l) {
			if s.agent(nb).Role == agents.RoleFailedVictim && s.rng.Chance(p) {
				s.unlink(l, nb)
			}
		}
	}
}
