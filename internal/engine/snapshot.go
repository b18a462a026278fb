package engine

import (
	"github.com/talgya/scapegoat/internal/agents"
	"github.com/talgya/scapegoat/internal/network"
)

// NodeRow is one agent in a node snapshot. Clustering is nil when the
// local coefficient is undefined.
type NodeRow struct {
	ID         agents.AgentID `json:"id" db:"agent_id"`
	Kind       string         `json:"kind" db:"kind"`
	Health     float64        `json:"health" db:"health"`
	Tension    int            `json:"tension" db:"tension"`
	State      string         `json:"state" db:"state"`
	Clustering *float64       `json:"cc_node" db:"cc_node"`
	Degree     int            `json:"degree" db:"degree"`
	Alive      bool           `json:"alive" db:"alive"`
}

// Stats summarises the current run.
type Stats struct {
	Alive       int `json:"alive"`
	Leaders     int `json:"leaders"`
	Victims     int `json:"victims"`
	Edges       int `json:"edges"`
	Pollution   int `json:"pollution"`
	Rituals     int `json:"rituals"`
	Accusations int `json:"accusations"`
	Failed      int `json:"failed_accusations"`
	Revivals    int `json:"revivals"`

	Deaths     DeathCounts `json:"deaths"`
	Aggregates Aggregates  `json:"aggregates"`

	GlobalClustering float64  `json:"global_clustering"`
	AvgPathLength    *float64 `json:"avg_path_length"` // nil when the live graph is disconnected

	TicksToRitual     int     `json:"ticks_to_ritual"`
	RitualDuration    int     `json:"ritual_duration"`
	LastRitualLatency int     `json:"last_ritual_latency"`
	ActiveRitual      *Ritual `json:"active_ritual,omitempty"`
}

// Snapshot is a settled, immutable view of the simulation after a tick.
type Snapshot struct {
	RunID      string `json:"run_id"`
	Run        int    `json:"run"`
	Seed       int64  `json:"seed"`
	Tick       uint64 `json:"tick"`
	TotalTicks uint64 `json:"total_ticks"`

	Stats       Stats          `json:"stats"`
	Nodes       []NodeRow      `json:"nodes"`
	Edges       []network.Edge `json:"edges"`
	Last        *TimeseriesRow `json:"last,omitempty"`
	LastRevival *Revival       `json:"last_revival,omitempty"`

	Events []Event         `json:"-"`
	Series []TimeseriesRow `json:"-"`
}

// Snapshot returns the view published after the most recent tick. It is
// safe to call from any goroutine.
func (s *Simulation) Snapshot() *Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.published
}

// publish builds a snapshot of the settled state and swaps it in.
func (s *Simulation) publish() {
	locals, global := s.Net.Clustering()
	nodes := make([]NodeRow, len(s.Agents))
	for i, a := range s.Agents {
		row := NodeRow{
			ID:      a.ID,
			Kind:    a.Kind(),
			Health:  a.Health,
			Tension: a.Tension,
			State:   a.State().String(),
			Degree:  s.degree(a.ID),
			Alive:   a.Alive,
		}
		if v, ok := locals[i].Value(); ok {
			row.Clustering = &v
		}
		nodes[i] = row
	}

	st := Stats{
		Alive:             len(s.index.Live),
		Leaders:           s.index.Count(agents.RoleLeader),
		Victims:           s.index.Count(agents.RoleVictim),
		Edges:             s.Net.EdgeCount(),
		Pollution:         s.Pollution,
		Rituals:           s.Rituals,
		Accusations:       s.Accusations,
		Failed:            s.FailedAccusations,
		Revivals:          s.Revivals,
		Deaths:            s.Deaths,
		Aggregates:        s.agg,
		GlobalClustering:  global,
		TicksToRitual:     s.TicksToRitual,
		RitualDuration:    s.RitualDuration,
		LastRitualLatency: s.LastRitualLatency,
	}
	if pl := s.Net.AveragePathLength(); pl.Defined {
		v := pl.Value
		st.AvgPathLength = &v
	}
	if s.Ritual != nil {
		r := *s.Ritual
		st.ActiveRitual = &r
	}

	snap := &Snapshot{
		RunID:      s.RunID,
		Run:        s.Run,
		Seed:       s.rng.Seed(),
		Tick:       s.Tick,
		TotalTicks: s.TotalTicks,
		Stats:      st,
		Nodes:      nodes,
		Edges:      s.Net.Edges(),
		Events:     append([]Event(nil), s.Events...),
		Series:     append([]TimeseriesRow(nil), s.Series...),
	}
	if n := len(s.Series); n > 0 {
		last := s.Series[n-1]
		snap.Last = &last
	}
	if s.LastRevival != nil {
		r := *s.LastRevival
		snap.LastRevival = &r
	}

	s.mu.Lock()
	s.published = snap
	s.mu.Unlock()
}
