// Ritual bookkeeping: the single active accuser/victim pairing, its timers,
// and the per-tick reset of accusation flags.
package engine

import (
	"log/slog"

	"github.com/talgya/scapegoat/internal/agents"
)

// Ritual is the committed pairing of one accuser and one accused. At most
// one exists at a time; it ends when the accused (or the accuser) has died.
type Ritual struct {
	Accuser   agents.AgentID `json:"accuser"`
	Victim    agents.AgentID `json:"victim"`
	StartTick uint64         `json:"start_tick"`
	Kind      EventKind      `json:"kind"`
}

// InRitual reports whether id is a participant of the active ritual.
func (s *Simulation) InRitual(id agents.AgentID) bool {
	r := s.Ritual
	return r != nil && (r.Accuser == id || r.Victim == id)
}

// advanceRitual runs the ritual timers: the duration of the active ritual,
// or the latency since victims appeared while no ritual is active.
func (s *Simulation) advanceRitual() {
	if r := s.Ritual; r != nil {
		s.RitualDuration++
		if !s.agent(r.Victim).Alive || !s.agent(r.Accuser).Alive {
			s.completeRitual()
		}
		return
	}
	if s.index.Count(agents.RoleVictim) > 0 {
		s.TicksToRitual++
	}
}

func (s *Simulation) completeRitual() {
	r := s.Ritual
	s.LastRitualDuration = s.RitualDuration
	s.RitualDuration = 0
	s.Ritual = nil
	s.Rituals++
	s.completed = append(s.completed, r.Accuser, r.Victim)

	slog.Debug("ritual completed",
		"tick", s.Tick,
		"accuser", r.Accuser,
		"victim", r.Victim,
		"duration", s.LastRitualDuration,
	)
}

// resetFlags clears the transient flags of every live agent outside the
// active ritual, and gives participants of a just-completed accusation a
// full tension reset.
func (s *Simulation) resetFlags() {
	s.accuseSwitch = s.Ritual != nil
	for _, a := range s.Agents {
		a.Hit = false
		if !a.Alive || s.InRitual(a.ID) {
			continue
		}
		a.ClearFlags()
	}
	for _, id := range s.completed {
		a := s.agent(id)
		a.ClearFlags()
		a.SetTension(0)
	}
	s.completed = s.completed[:0]
}

// deriveTension clamps tension and takes the census of tension states.
func (s *Simulation) deriveTension() {
	s.agg.Census = [4]int{}
	for _, id := range s.index.Live {
		a := s.agent(id)
		a.SetTension(a.Tension)
		s.agg.Census[a.State()]++
	}
}
