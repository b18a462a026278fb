// Package agents provides the household agent data model: role, tension,
// health, the per-tick accusation flags, and the clamps that keep every
// mutation in range.
package agents

import "github.com/talgya/scapegoat/internal/network"

// AgentID is the stable identity of a household. It equals the agent's node
// ID in the network and never changes.
type AgentID int64

// Role is the agent's position in the accusation dynamics. Exactly one at a time.
type Role uint8

const (
	RoleNeutral       Role = iota
	RoleLeader             // Accuser; carries the ritual when flagged
	RoleVictim             // Accused
	RoleFailedAccuser      // Accusation did not take hold
	RoleFailedVictim       // Target of a failed accusation
)

// NumRoles is the number of Role values.
const NumRoles = 5

var roleKinds = [NumRoles]string{"neutral", "leader", "victim", "accuser_failed", "victim_failed"}

// KindDead is the snapshot kind written for dead agents.
const KindDead = "dead"

// Kind returns the export name used by the event log and node snapshots.
func (r Role) Kind() string {
	if int(r) < len(roleKinds) {
		return roleKinds[r]
	}
	return "unknown"
}

func (r Role) String() string { return r.Kind() }

// IsVictimChain reports whether the role sits on the accused side of an accusation.
func (r Role) IsVictimChain() bool { return r == RoleVictim || r == RoleFailedVictim }

// Bounds for the clamped attributes.
const (
	MinTension = 0
	MaxTension = 3

	MinHealth = 0.0
	MaxHealth = 4.0

	// DeathHealth: an agent whose health drops below this dies.
	DeathHealth = 1.0

	// Attribute values after setup or revival.
	DefaultHealth  = 3.0
	DefaultTension = 0
)

// TensionState is the four-level state derived purely from tension.
type TensionState uint8

const (
	Calm TensionState = iota
	Mild
	Elevated
	Critical
)

var tensionNames = [4]string{"calm", "mild", "elevated", "critical"}

func (s TensionState) String() string {
	if int(s) < len(tensionNames) {
		return tensionNames[s]
	}
	return "unknown"
}

// Agent is one household node.
type Agent struct {
	ID      AgentID `json:"id"`
	Role    Role    `json:"role"`
	Tension int     `json:"tension"` // 0–3
	Health  float64 `json:"health"`  // 0–4
	Alive   bool    `json:"alive"`

	// Per-tick accusation flags.
	Accuser       bool `json:"accuser"`
	Accused       bool `json:"accused"`
	FailedAccuser bool `json:"failed_accuser"`
	FailedAccused bool `json:"failed_accused"`

	// Hit gates tension propagation: a node is raised by a neighbour at most once per tick.
	Hit bool `json:"-"`

	// Structure
	PrevDegree  int                 `json:"prev_degree"`
	DegreeDelta int                 `json:"degree_delta"`
	Clustering  network.Coefficient `json:"-"`
}

// New returns a live neutral agent with default attributes.
func New(id AgentID) *Agent {
	a := &Agent{ID: id}
	a.Reset()
	return a
}

// Reset restores setup/revival defaults. Structure fields are left to the caller.
func (a *Agent) Reset() {
	a.Role = RoleNeutral
	a.Tension = DefaultTension
	a.Health = DefaultHealth
	a.Alive = true
	a.ClearFlags()
	a.Hit = false
}

// ClearFlags clears the per-tick accusation flags.
func (a *Agent) ClearFlags() {
	a.Accuser = false
	a.Accused = false
	a.FailedAccuser = false
	a.FailedAccused = false
}

// Flagged reports whether any accusation flag is set.
func (a *Agent) Flagged() bool {
	return a.Accuser || a.Accused || a.FailedAccuser || a.FailedAccused
}

// SetTension assigns tension, clamped to [MinTension, MaxTension].
func (a *Agent) SetTension(v int) {
	switch {
	case v < MinTension:
		v = MinTension
	case v > MaxTension:
		v = MaxTension
	}
	a.Tension = v
}

// AdjustTension adds delta to tension and clamps. Returns true if tension changed.
func (a *Agent) AdjustTension(delta int) bool {
	before := a.Tension
	a.SetTension(a.Tension + delta)
	return a.Tension != before
}

// SetHealth assigns health, clamped to [MinHealth, MaxHealth].
func (a *Agent) SetHealth(v float64) {
	switch {
	case v < MinHealth:
		v = MinHealth
	case v > MaxHealth:
		v = MaxHealth
	}
	a.Health = v
}

// AdjustHealth adds delta to health and clamps.
func (a *Agent) AdjustHealth(delta float64) { a.SetHealth(a.Health + delta) }

// State derives the tension state.
func (a *Agent) State() TensionState {
	switch {
	case a.Tension <= 0:
		return Calm
	case a.Tension == 1:
		return Mild
	case a.Tension == 2:
		return Elevated
	default:
		return Critical
	}
}

// Kind returns the snapshot kind: the role's export name, or "dead".
func (a *Agent) Kind() string {
	if !a.Alive {
		return KindDead
	}
	return a.Role.Kind()
}
