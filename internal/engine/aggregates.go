package engine

import (
	"gonum.org/v1/gonum/stat"

	"github.com/talgya/scapegoat/internal/agents"
)

// Partition is one of the three role partitions aggregates are kept for.
type Partition int

const (
	General Partition = iota // live agents that are neither Leader nor Victim
	Leaders
	Victims
	numPartitions
)

var partitionNames = [numPartitions]string{"general", "leader", "victim"}

func (p Partition) String() string { return partitionNames[p] }

// Aggregates is the global aggregate state. A partition's means keep their
// previous value on ticks where the partition is empty.
type Aggregates struct {
	// Census counts live agents per TensionState.
	Census      [4]int                 `json:"census"`
	Counts      [numPartitions]int     `json:"counts"`
	Health      [numPartitions]float64 `json:"health"`
	Degree      [numPartitions]float64 `json:"degree"`
	DegreeDelta [numPartitions]float64 `json:"degree_delta"`
	Clustering  [numPartitions]float64 `json:"clustering"`

	// DeathRatio is each partition's share of the run's deaths.
	DeathRatio [numPartitions]float64 `json:"death_ratio"`
}

func partitionOf(r agents.Role) Partition {
	switch r {
	case agents.RoleLeader:
		return Leaders
	case agents.RoleVictim:
		return Victims
	default:
		return General
	}
}

// updateAggregates is phase 13.
func (s *Simulation) updateAggregates() {
	s.reindex()
	s.refreshStructure()

	var health, degree, delta, cc [numPartitions][]float64
	for _, id := range s.index.Live {
		a := s.agent(id)
		p := partitionOf(a.Role)
		health[p] = append(health[p], a.Health)
		degree[p] = append(degree[p], float64(s.degree(id)))
		delta[p] = append(delta[p], float64(a.DegreeDelta))
		if v, ok := a.Clustering.Value(); ok {
			cc[p] = append(cc[p], v)
		}
	}

	g := &s.agg
	for p := Partition(0); p < numPartitions; p++ {
		g.Counts[p] = len(health[p])
		if len(health[p]) == 0 {
			continue
		}
		g.Health[p] = stat.Mean(health[p], nil)
		g.Degree[p] = stat.Mean(degree[p], nil)
		g.DegreeDelta[p] = stat.Mean(delta[p], nil)
		if len(cc[p]) > 0 {
			g.Clustering[p] = stat.Mean(cc[p], nil)
		}
	}

	if total := s.Deaths.Total(); total > 0 {
		g.DeathRatio[General] = float64(s.Deaths.General) / float64(total)
		g.DeathRatio[Leaders] = float64(s.Deaths.Leader) / float64(total)
		g.DeathRatio[Victims] = float64(s.Deaths.Victim) / float64(total)
	}

	s.stepPollution()
	s.record(s.row())
}

// stepPollution moves pollution one level up or down with probability
// PollutionStep, staying within [0, MaxPollution].
func (s *Simulation) stepPollution() {
	if !s.rng.Chance(s.Params.Rates.PollutionStep) {
		return
	}
	if s.rng.Intn(2) == 0 {
		s.Pollution--
	} else {
		s.Pollution++
	}
	switch {
	case s.Pollution < 0:
		s.Pollution = 0
	case s.Pollution > MaxPollution:
		s.Pollution = MaxPollution
	}
}

func (s *Simulation) row() TimeseriesRow {
	g := &s.agg
	alive := len(s.index.Live)
	victims := s.index.Count(agents.RoleVictim)
	var pct float64
	if alive > 0 {
		pct = 100 * float64(victims) / float64(alive)
	}
	return TimeseriesRow{
		Tick:       s.Tick,
		NAlive:     alive,
		NLeaders:   s.index.Count(agents.RoleLeader),
		NVictims:   victims,
		PctVictims: pct,

		AvgHealthGeneral: g.Health[General],
		AvgHealthLeader:  g.Health[Leaders],
		AvgHealthVictim:  g.Health[Victims],

		AvgDegreeGeneral: g.Degree[General],
		AvgDegreeVictim:  g.Degree[Victims],
		AvgDegreeLeader:  g.Degree[Leaders],

		AvgClusteringGeneral: g.Clustering[General],
		AvgClusteringLeader:  g.Clustering[Leaders],
		AvgClusteringVictim:  g.Clustering[Victims],

		Pollution:      s.Pollution,
		TicksToRitual:  s.TicksToRitual,
		RitualDuration: s.RitualDuration,
	}
}
