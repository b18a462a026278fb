// Scapegoat protocol: the ritual path and the two accusation ladders.
package engine

import (
	"fmt"
	"log/slog"

	"github.com/talgya/scapegoat/internal/agents"
	"github.com/talgya/scapegoat/internal/entropy"
)

// AccusationKind selects the mutation ApplyAccusation performs.
type AccusationKind uint8

const (
	// AccuseFailed marks both ends with the failed roles.
	AccuseFailed AccusationKind = iota
	// AccuseEscalate turns the target into a Victim. The source joins the
	// failed chain unless it already leads.
	AccuseEscalate
	// AccusePromote makes the source a Leader and the target a Victim.
	AccusePromote
	// AccuseRitual starts a ritual with a newly promoted Leader.
	AccuseRitual
	// AccuseRitualExisting starts a ritual led by an existing Leader.
	AccuseRitualExisting
)

var accusationNames = [...]string{"failed", "escalate", "promote", "ritual", "ritual_existing"}

func (k AccusationKind) String() string {
	if int(k) < len(accusationNames) {
		return accusationNames[k]
	}
	return "unknown"
}

// Event returns the etype logged for the kind.
func (k AccusationKind) Event() EventKind {
	switch k {
	case AccuseFailed:
		return EventFailedAccuse
	case AccuseRitual:
		return EventRitualAccuse
	case AccuseRitualExisting:
		return EventRitualAccuseExisting
	default:
		return EventAccuse
	}
}

// IsRitual reports whether the kind starts a ritual.
func (k AccusationKind) IsRitual() bool { return k == AccuseRitual || k == AccuseRitualExisting }

// ApplyAccusation performs one accusation of target by source, logs the
// event and sets the accusation latch. Both identities are explicit.
func (s *Simulation) ApplyAccusation(source, target agents.AgentID, kind AccusationKind) error {
	src, dst := s.Agent(source), s.Agent(target)
	switch {
	case src == nil || dst == nil:
		return fmt.Errorf("accusation %d -> %d: unknown agent", source, target)
	case source == target:
		return fmt.Errorf("accusation %d -> %d: self accusation", source, target)
	case !src.Alive || !dst.Alive:
		return fmt.Errorf("accusation %d -> %d: dead participant", source, target)
	case kind.IsRitual() && s.Ritual != nil:
		return fmt.Errorf("accusation %d -> %d: ritual already active", source, target)
	}

	r := s.Params.Rates
	switch kind {
	case AccuseFailed:
		src.Role, src.FailedAccuser = agents.RoleFailedAccuser, true
		dst.Role, dst.FailedAccused = agents.RoleFailedVictim, true
		dst.AdjustHealth(-r.FailedAccusationDamage)
		s.FailedAccusations++
	case AccuseEscalate:
		if src.Role == agents.RoleLeader {
			src.Accuser = true
		} else {
			src.Role, src.FailedAccuser = agents.RoleFailedAccuser, true
		}
		dst.Role, dst.Accused = agents.RoleVictim, true
		dst.AdjustHealth(-r.AccusationDamage)
		s.Accusations++
	case AccusePromote:
		src.Role, src.Accuser = agents.RoleLeader, true
		dst.Role, dst.Accused = agents.RoleVictim, true
		dst.AdjustHealth(-r.AccusationDamage)
		s.Accusations++
	case AccuseRitual, AccuseRitualExisting:
		src.Role, src.Accuser = agents.RoleLeader, true
		dst.Role, dst.Accused = agents.RoleVictim, true
		dst.SetHealth(0)
		s.Ritual = &Ritual{Accuser: source, Victim: target, StartTick: s.Tick, Kind: kind.Event()}
		s.LastRitualLatency = s.TicksToRitual
		s.TicksToRitual = 0
		s.RitualDuration = 0
	default:
		return fmt.Errorf("accusation %d -> %d: unknown kind %d", source, target, kind)
	}
	if !kind.IsRitual() {
		s.completed = append(s.completed, source, target)
	}
	s.accuseSwitch = true

	s.emit(Event{
		Tick:       s.Tick,
		Source:     source,
		Target:     target,
		Kind:       kind.Event(),
		SourceKind: src.Role.Kind(),
		TargetKind: dst.Role.Kind(),
		Weight:     1,
	})
	return nil
}

// runScapegoat is phase 11. The accusation latch is held for the whole of a
// ritual and by any accusation already committed this tick.
func (s *Simulation) runScapegoat() {
	if s.accuseSwitch {
		return
	}
	s.reindex()
	if !s.tryRitual() {
		s.runLadder()
	}
}

// ritualDue reports whether victims make up at least VictimThreshold percent
// of the live population.
func (s *Simulation) ritualDue() bool {
	live := len(s.index.Live)
	victims := s.index.Count(agents.RoleVictim)
	return live > 0 && victims > 0 && float64(victims)*100 >= s.Params.VictimThreshold*float64(live)
}

// tryRitual starts a ritual when enough victims exist and a leader-shaped
// agent is available. An existing Leader is preferred over promoting a
// FailedAccuser.
func (s *Simulation) tryRitual() bool {
	if !s.ritualDue() {
		return false
	}
	kind := AccuseRitualExisting
	accuser, ok := entropy.Pick(s.rng, s.index.Of(agents.RoleLeader))
	if !ok {
		kind = AccuseRitual
		if accuser, ok = entropy.Pick(s.rng, s.index.Of(agents.RoleFailedAccuser)); !ok {
			return false
		}
	}
	victim, ok := entropy.Pick(s.rng, s.index.Of(agents.RoleVictim))
	if !ok {
		return false
	}
	if err := s.ApplyAccusation(accuser, victim, kind); err != nil {
		slog.Warn("ritual not started", "error", err)
		return false
	}
	s.broadcastReset(accuser, victim)
	s.reindex()

	slog.Info("ritual started",
		"tick", s.Tick,
		"run", s.Run,
		"accuser", accuser,
		"victim", victim,
		"kind", kind,
		"latency", s.LastRitualLatency,
	)
	return true
}

// broadcastReset returns every other live agent to calm Neutral and links
// each to the leader with a probability that grows with friendliness and
// decays with distance from the leader.
func (s *Simulation) broadcastReset(leader, victim agents.AgentID) {
	dist := s.Net.DistancesFrom(int64(leader))
	f := s.Params.Friendliness / 100
	for _, id := range s.index.Live {
		if id == leader || id == victim {
			continue
		}
		a := s.agent(id)
		a.ClearFlags()
		a.SetTension(0)
		a.Role = agents.RoleNeutral

		hops, ok := dist[id].Value()
		if !ok || hops < 1 {
			continue
		}
		if s.rng.Chance(f / float64(hops)) {
			s.link(id, leader)
		}
	}
}

// accusationStage is one rung of a ladder: who may accuse, whom they may
// target, and the chance the accusation is accepted.
type accusationStage struct {
	name    string
	sources func() []agents.AgentID
	targets func(src agents.AgentID) []agents.AgentID
	accept  float64
	kind    AccusationKind
}

// runLadder runs the escalation ladder when FailedVictims exist and the
// leadership ladder otherwise.
func (s *Simulation) runLadder() {
	s.runStages(s.ladder(s.ladderOutcome()))
}

// ladderOutcome is the kind of accusation the window stages commit.
func (s *Simulation) ladderOutcome() AccusationKind {
	if s.index.Count(agents.RoleFailedVictim) > 0 {
		return AccuseEscalate
	}
	return AccusePromote
}

// runStages tries the stages in order and commits the first accusation whose
// candidate sets are non-empty and whose acceptance draw succeeds. It
// returns the name of the stage that fired.
func (s *Simulation) runStages(stages []accusationStage) (string, bool) {
	for _, st := range stages {
		src, ok := entropy.Pick(s.rng, st.sources())
		if !ok {
			continue
		}
		dst, ok := entropy.Pick(s.rng, st.targets(src))
		if !ok {
			continue
		}
		if !s.rng.Chance(st.accept) {
			continue
		}
		if err := s.ApplyAccusation(src, dst, st.kind); err != nil {
			slog.Warn("accusation rejected", "stage", st.name, "error", err)
			continue
		}
		slog.Debug("accusation",
			"tick", s.Tick,
			"stage", st.name,
			"kind", st.kind,
			"source", src,
			"target", dst,
		)
		s.reindex()
		return st.name, true
	}
	return "", false
}

func (s *Simulation) ladder(outcome AccusationKind) []accusationStage {
	p := s.Params
	trust := 1 - p.Skepticism/100
	return []accusationStage{
		{
			name:    "low_degree",
			sources: func() []agents.AgentID { return s.lowDegree(s.accusers()) },
			targets: func(src agents.AgentID) []agents.AgentID {
				return s.lowDegree(s.targets(src, nil))
			},
			accept: p.Skepticism / 100,
			kind:   AccuseFailed,
		},
		{
			name:    "failed_victim",
			sources: s.accusers,
			targets: s.windowFailedVictims,
			accept:  trust * 0.5,
			kind:    outcome,
		},
		{
			name:    "window",
			sources: s.accusers,
			targets: s.windowTargets,
			accept:  trust * 0.25,
			kind:    outcome,
		},
		{
			name:    "unconditional",
			sources: s.accusers,
			targets: func(src agents.AgentID) []agents.AgentID { return s.targets(src, nil) },
			accept:  p.Rates.UnconditionalAccept,
			kind:    outcome,
		},
	}
}

// accusers returns the live agents able to accuse: critical tension, not
// flagged this tick, not on the victim side.
func (s *Simulation) accusers() []agents.AgentID {
	var out []agents.AgentID
	for _, id := range s.index.Live {
		a := s.agent(id)
		if a.State() == agents.Critical && !a.Flagged() && !a.Role.IsVictimChain() && !s.InRitual(id) {
			out = append(out, id)
		}
	}
	return out
}

// targets returns the agents src may accuse, optionally narrowed by keep.
// Leaders and flagged agents are never targeted.
func (s *Simulation) targets(src agents.AgentID, keep func(*agents.Agent) bool) []agents.AgentID {
	var out []agents.AgentID
	for _, id := range s.index.Live {
		if id == src || s.InRitual(id) {
			continue
		}
		a := s.agent(id)
		if a.Role == agents.RoleLeader || a.Flagged() {
			continue
		}
		if keep != nil && !keep(a) {
			continue
		}
		out = append(out, id)
	}
	return out
}

// windowTargets returns the targets of src within the accusation distance window.
func (s *Simulation) windowTargets(src agents.AgentID) []agents.AgentID {
	dist := s.Net.DistancesFrom(int64(src))
	lo, hi := s.Params.WindowMin, s.Params.WindowMax
	return s.targets(src, func(a *agents.Agent) bool { return dist[a.ID].Within(lo, hi) })
}

// windowFailedVictims is windowTargets narrowed to FailedVictims.
func (s *Simulation) windowFailedVictims(src agents.AgentID) []agents.AgentID {
	dist := s.Net.DistancesFrom(int64(src))
	lo, hi := s.Params.WindowMin, s.Params.WindowMax
	return s.targets(src, func(a *agents.Agent) bool {
		return a.Role == agents.RoleFailedVictim && dist[a.ID].Within(lo, hi)
	})
}

// lowDegree narrows ids to agents with at most LowDegree links.
func (s *Simulation) lowDegree(ids []agents.AgentID) []agents.AgentID {
	var out []agents.AgentID
	for _, id := range ids {
		if s.degree(id) <= s.Params.LowDegree {
			out = append(out, id)
		}
	}
	return out
}
