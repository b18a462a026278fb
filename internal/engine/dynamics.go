// Tension, health, structural churn, death and revival.
package engine

import (
	"fmt"
	"log/slog"

	"github.com/talgya/scapegoat/internal/agents"
	"github.com/talgya/scapegoat/internal/entropy"
)

// MaxPollution is the top of the pollution scale.
const MaxPollution = 3

// churn drops one random edge and adds one random edge, each with a small
// fixed probability: a perpetual low-rate random walk over the edge set.
func (s *Simulation) churn() {
	if s.rng.Chance(s.Params.Rates.EdgeDrop) {
		s.Net.DropRandomEdge(s.rng)
	}
	if s.rng.Chance(s.Params.Rates.EdgeAdd) {
		s.Net.AddRandomEdge(s.rng)
	}
}

// revive resurrects one random dead agent with a small probability.
func (s *Simulation) revive() {
	if !s.rng.Chance(s.Params.Rates.Revival) {
		return
	}
	var dead []agents.AgentID
	for _, a := range s.Agents {
		if !a.Alive {
			dead = append(dead, a.ID)
		}
	}
	id, ok := entropy.Pick(s.rng, dead)
	if !ok {
		return
	}
	if err := s.Revive(id); err != nil {
		slog.Warn("revival skipped", "id", id, "error", err)
		return
	}
	s.reindex()
}

// Revive resets a dead agent to defaults and reconnects it to the nearest
// live agents on the ring before it takes part in any further dynamics.
func (s *Simulation) Revive(id agents.AgentID) error {
	a := s.Agent(id)
	if a == nil {
		return fmt.Errorf("revive: no agent %d", id)
	}
	if a.Alive {
		return fmt.Errorf("revive: agent %d is alive", id)
	}

	a.Reset()
	s.Net.Activate(int64(id))
	for _, nb := range s.Net.NearestActive(int64(id), s.Params.RevivalDegree) {
		s.Net.AddEdge(int64(id), nb)
	}
	d := s.degree(id)
	a.PrevDegree = d
	a.DegreeDelta = 0
	a.Clustering = s.Net.LocalClustering(int64(id))

	s.Revivals++
	s.LastRevival = &Revival{
		Tick:    s.Tick,
		ID:      id,
		Health:  a.Health,
		Tension: a.Tension,
		Degree:  d,
	}
	slog.Debug("agent revived", "tick", s.Tick, "id", id, "degree", d)
	return nil
}

// injectTension gives every live agent a small chance of +1 tension.
func (s *Simulation) injectTension() {
	for _, id := range s.index.Live {
		if s.rng.Chance(s.Params.Rates.SpontaneousTension) {
			s.agent(id).AdjustTension(1)
		}
	}
}

// propagateTension applies the pollution drift, then lets elevated agents
// raise a random neighbour's tension. A node is hit at most once per tick.
func (s *Simulation) propagateTension() {
	r := s.Params.Rates
	for _, id := range s.index.Live {
		a := s.agent(id)
		switch s.Pollution {
		case 0:
			if s.rng.Chance(r.PollutionRelief) {
				a.AdjustTension(-1)
			}
		case 1:
			if s.rng.Chance(r.PollutionRelief / 2) {
				a.AdjustTension(-1)
			}
		case 2:
			if s.rng.Chance(r.PollutionDrift) {
				a.AdjustTension(1)
			}
		default:
			if a.Tension > 0 {
				a.AdjustTension(1)
			}
		}
	}

	for _, id := range s.liveShuffled() {
		a := s.agent(id)
		if a.State() < agents.Elevated || !s.rng.Chance(r.Propagation) {
			continue
		}
		nb, ok := entropy.Pick(s.rng, s.neighbors(id))
		if !ok {
			continue
		}
		target := s.agent(nb)
		if target.Hit {
			continue
		}
		target.AdjustTension(1)
		target.Hit = true
	}
}

// attritHealth damages agents fully surrounded by critical neighbours and
// lets calmer agents regenerate. Accused agents never regenerate.
func (s *Simulation) attritHealth() {
	r := s.Params.Rates
	for _, id := range s.index.Live {
		a := s.agent(id)
		nbs := s.neighbors(id)
		surrounded := len(nbs) > 0
		for _, nb := range nbs {
			if s.agent(nb).State() != agents.Critical {
				surrounded = false
				break
			}
		}
		switch {
		case surrounded:
			if s.rng.Chance(r.Attrition) {
				a.AdjustHealth(-r.AttritionDamage)
			}
		case !a.Accused && a.State() != agents.Critical:
			a.AdjustHealth(r.HealthRegen)
		}
	}
}

// checkDeaths kills every live agent whose health fell below DeathHealth.
func (s *Simulation) checkDeaths() {
	died := false
	for _, id := range s.index.Live {
		a := s.agent(id)
		if a.Health < agents.DeathHealth {
			s.kill(a)
			died = true
		}
	}
	if died {
		s.reindex()
	}
}

func (s *Simulation) kill(a *agents.Agent) {
	switch a.Role {
	case agents.RoleLeader:
		s.Deaths.Leader++
	case agents.RoleVictim:
		s.Deaths.Victim++
	default:
		s.Deaths.General++
	}
	a.Alive = false
	a.ClearFlags()
	a.Hit = false
	s.Net.Deactivate(int64(a.ID))
	a.PrevDegree = 0
	a.DegreeDelta = 0
	slog.Debug("agent died", "tick", s.Tick, "id", a.ID, "role", a.Role.Kind())
}
