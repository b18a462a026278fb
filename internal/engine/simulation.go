// Simulation ties the agents, the network substrate and the random stream
// together and runs the ordered phases of one tick.
package engine

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/talgya/scapegoat/internal/agents"
	"github.com/talgya/scapegoat/internal/entropy"
	"github.com/talgya/scapegoat/internal/network"
)

// DeathCounts tracks deaths per role partition.
type DeathCounts struct {
	General int `json:"general"`
	Leader  int `json:"leader"`
	Victim  int `json:"victim"`
}

// Total returns the number of deaths across partitions.
func (d DeathCounts) Total() int { return d.General + d.Leader + d.Victim }

// Revival records the state of an agent immediately after it was revived.
type Revival struct {
	Tick    uint64         `json:"tick"`
	ID      agents.AgentID `json:"id"`
	Health  float64        `json:"health"`
	Tension int            `json:"tension"`
	Degree  int            `json:"degree"`
}

// Simulation is the complete mutable state of one model instance. Step is
// the only mutator; readers use Snapshot.
type Simulation struct {
	Params Params

	RunID      string
	Run        int    // setups performed, 1-based
	Tick       uint64 // ticks in the current run
	TotalTicks uint64 // ticks across runs, never resets

	Agents []*agents.Agent // index == ID
	Net    *network.Graph

	rng   *entropy.Source
	index agents.RoleIndex

	// Environment and ritual state.
	Pollution          int
	Ritual             *Ritual
	accuseSwitch       bool
	TicksToRitual      int
	RitualDuration     int
	LastRitualLatency  int
	LastRitualDuration int
	completed          []agents.AgentID

	// Counters for the current run.
	Rituals           int
	Accusations       int
	FailedAccusations int
	Deaths            DeathCounts
	Revivals          int
	LastRevival       *Revival

	agg Aggregates

	// Recent history for readers, trimmed to maxRecent.
	Events []Event
	Series []TimeseriesRow

	pending []Batch

	mu        sync.RWMutex
	published *Snapshot
}

// NewSimulation validates p and performs the initial setup.
func NewSimulation(p Params) (*Simulation, error) {
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}
	s := &Simulation{
		Params: p,
		rng:    entropy.New(p.Seed),
	}
	if err := s.Setup(); err != nil {
		return nil, err
	}
	return s, nil
}

// Seed returns the seed of the random stream.
func (s *Simulation) Seed() int64 { return s.rng.Seed() }

// Setup rebuilds the population and the lattice from scratch, starting a new
// run. The random stream continues, so repeated setups stay reproducible.
func (s *Simulation) Setup() error {
	n := s.Params.Population
	s.Run++
	s.RunID = uuid.NewString()
	s.Tick = 0

	s.Agents = make([]*agents.Agent, n)
	for i := 0; i < n; i++ {
		s.Agents[i] = agents.New(agents.AgentID(i))
	}
	s.Net = network.New(n)
	if err := s.Net.BuildLattice(s.Params.RingDegree); err != nil {
		return fmt.Errorf("build lattice: %w", err)
	}
	if s.Params.RewireProbability > 0 {
		s.Net.Rewire(s.Params.RewireProbability, s.rng)
	}

	s.Pollution = 0
	s.Ritual = nil
	s.accuseSwitch = false
	s.TicksToRitual = 0
	s.RitualDuration = 0
	s.LastRitualLatency = 0
	s.LastRitualDuration = 0
	s.completed = nil
	s.Rituals = 0
	s.Accusations = 0
	s.FailedAccusations = 0
	s.Deaths = DeathCounts{}
	s.Revivals = 0
	s.LastRevival = nil
	s.agg = Aggregates{}
	s.Events = nil
	s.Series = nil

	s.refreshStructure()
	for _, a := range s.Agents {
		a.DegreeDelta = 0
	}
	s.reindex()
	s.pending = append(s.pending, Batch{RunID: s.RunID, Run: s.Run, Seed: s.rng.Seed()})
	s.publish()

	slog.Info("simulation setup",
		"run", s.Run,
		"run_id", s.RunID,
		"population", n,
		"edges", s.Net.EdgeCount(),
		"seed", s.rng.Seed(),
	)
	return nil
}

// Step advances the simulation by one tick. Phases run in a fixed order
// because later phases read what earlier ones wrote.
func (s *Simulation) Step() error {
	if s.Params.TickBudget > 0 && s.Tick >= uint64(s.Params.TickBudget) {
		slog.Info("tick budget reached, running setup again", "run", s.Run, "tick", s.Tick)
		if err := s.Setup(); err != nil {
			return err
		}
	}
	s.Tick++
	s.TotalTicks++

	s.reindex()
	s.advanceRitual()    // 1
	s.resetFlags()       // 2
	s.deriveTension()    // 3
	s.churn()            // 5
	s.revive()           // 6
	s.injectTension()    // 7
	s.propagateTension() // 8
	s.attritHealth()     // 9
	s.checkDeaths()      // 10
	if s.Params.ScapegoatEnabled {
		s.runScapegoat() // 11
	}
	s.repair()           // 12
	s.updateAggregates() // 13

	s.publish()

	if s.Params.CheckInvariants {
		if err := s.CheckInvariants(); err != nil {
			return fmt.Errorf("tick %d: %w", s.Tick, err)
		}
	}
	return nil
}

// Drain returns the events and timeseries rows accumulated since the last
// call, grouped by run.
func (s *Simulation) Drain() []Batch {
	out := s.pending
	cur := out[len(out)-1]
	s.pending = []Batch{{RunID: cur.RunID, Run: cur.Run, Seed: cur.Seed}}
	return out
}

func (s *Simulation) emit(e Event) {
	b := &s.pending[len(s.pending)-1]
	b.Events = append(b.Events, e)
	s.Events = append(s.Events, e)
	if len(s.Events) > maxRecent {
		s.Events = s.Events[len(s.Events)-maxRecent:]
	}
}

func (s *Simulation) record(row TimeseriesRow) {
	b := &s.pending[len(s.pending)-1]
	b.Rows = append(b.Rows, row)
	s.Series = append(s.Series, row)
	if len(s.Series) > maxRecent {
		s.Series = s.Series[len(s.Series)-maxRecent:]
	}
}

// Agent returns the agent with the given ID, or nil.
func (s *Simulation) Agent(id agents.AgentID) *agents.Agent {
	if id < 0 || int(id) >= len(s.Agents) {
		return nil
	}
	return s.Agents[id]
}

func (s *Simulation) agent(id agents.AgentID) *agents.Agent { return s.Agents[id] }

// reindex rebuilds the per-role live sets.
func (s *Simulation) reindex() { s.index = agents.BuildIndex(s.Agents) }

// Index returns the per-role live sets as of the last phase boundary.
func (s *Simulation) Index() agents.RoleIndex { return s.index }

func (s *Simulation) degree(id agents.AgentID) int { return s.Net.Degree(int64(id)) }

func (s *Simulation) neighbors(id agents.AgentID) []agents.AgentID {
	nbs := s.Net.Neighbors(int64(id))
	out := make([]agents.AgentID, len(nbs))
	for i, nb := range nbs {
		out[i] = agents.AgentID(nb)
	}
	return out
}

func (s *Simulation) link(a, b agents.AgentID) bool { return s.Net.AddEdge(int64(a), int64(b)) }

func (s *Simulation) unlink(a, b agents.AgentID) bool { return s.Net.RemoveEdge(int64(a), int64(b)) }

// liveShuffled returns the live agent IDs in a fresh random order, the way
// "ask all agents" visits them.
func (s *Simulation) liveShuffled() []agents.AgentID {
	ids := append([]agents.AgentID(nil), s.index.Live...)
	entropy.Shuffle(s.rng, ids)
	return ids
}

// refreshStructure recomputes degree history and local clustering for every agent.
func (s *Simulation) refreshStructure() {
	locals, _ := s.Net.Clustering()
	for _, a := range s.Agents {
		d := s.degree(a.ID)
		a.DegreeDelta = d - a.PrevDegree
		a.PrevDegree = d
		a.Clustering = locals[a.ID]
	}
}
