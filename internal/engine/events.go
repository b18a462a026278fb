package engine

import "github.com/talgya/scapegoat/internal/agents"

// EventKind is the etype column of the event log.
type EventKind string

const (
	EventAccuse               EventKind = "accuse"
	EventFailedAccuse         EventKind = "faccuse"
	EventRitualAccuse         EventKind = "ritual_accuse"
	EventRitualAccuseExisting EventKind = "ritual_accuse_existing"
)

// Event is one accusation-type mutation. Roles are recorded after the mutation.
type Event struct {
	Tick       uint64         `json:"tick" db:"tick"`
	Source     agents.AgentID `json:"source" db:"source_id"`
	Target     agents.AgentID `json:"target" db:"target_id"`
	Kind       EventKind      `json:"etype" db:"etype"`
	SourceKind string         `json:"source_kind" db:"source_kind"`
	TargetKind string         `json:"target_kind" db:"target_kind"`
	Weight     int            `json:"weight" db:"weight"`
}

// TimeseriesRow is the per-tick aggregate record.
type TimeseriesRow struct {
	Tick       uint64  `json:"tick" db:"tick"`
	NAlive     int     `json:"n_alive" db:"n_alive"`
	NLeaders   int     `json:"n_leaders" db:"n_leaders"`
	NVictims   int     `json:"n_victims" db:"n_victims"`
	PctVictims float64 `json:"pct_victims" db:"pct_victims"`

	AvgHealthGeneral float64 `json:"avg_health_general" db:"avg_health_general"`
	AvgHealthLeader  float64 `json:"avg_health_leader" db:"avg_health_leader"`
	AvgHealthVictim  float64 `json:"avg_health_victim" db:"avg_health_victim"`

	AvgDegreeGeneral float64 `json:"avg_degree_general" db:"avg_degree_general"`
	AvgDegreeVictim  float64 `json:"avg_degree_victim" db:"avg_degree_victim"`
	AvgDegreeLeader  float64 `json:"avg_degree_leader" db:"avg_degree_leader"`

	AvgClusteringGeneral float64 `json:"avg_clustering_general" db:"avg_clustering_general"`
	AvgClusteringLeader  float64 `json:"avg_clustering_leader" db:"avg_clustering_leader"`
	AvgClusteringVictim  float64 `json:"avg_clustering_victim" db:"avg_clustering_victim"`

	Pollution      int `json:"pollution" db:"pollution"`
	TicksToRitual  int `json:"ticks_to_ritual" db:"ticks_to_ritual"`
	RitualDuration int `json:"ritual_duration" db:"ritual_duration"`
}

// Batch is the output of one run accumulated since the last Drain.
type Batch struct {
	RunID  string          `json:"run_id"`
	Run    int             `json:"run"`
	Seed   int64           `json:"seed"`
	Events []Event         `json:"events"`
	Rows   []TimeseriesRow `json:"rows"`
}

// maxRecent bounds the in-memory event and timeseries history kept for readers.
const maxRecent = 1000
