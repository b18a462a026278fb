package engine

import (
	"errors"
	"math"
	"reflect"
	"testing"

	"github.com/talgya/scapegoat/internal/agents"
)

func newSim(t *testing.T, p Params) *Simulation {
	t.Helper()
	sim, err := NewSimulation(p)
	if err != nil {
		t.Fatalf("NewSimulation: %v", err)
	}
	return sim
}

func step(t *testing.T, sim *Simulation, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		if err := sim.Step(); err != nil {
			t.Fatalf("step %d: %v", i+1, err)
		}
	}
}

// calmParams switches off every source of tension so that only the
// mechanism under test moves agents.
func calmParams() Params {
	p := DefaultParams()
	p.Seed = 11
	p.CheckInvariants = true
	p.Rates.SpontaneousTension = 0
	p.Rates.Propagation = 0
	p.Rates.PollutionStep = 0
	p.Rates.Revival = 0
	return p
}

func TestNewSimulationRejectsBadParams(t *testing.T) {
	p := DefaultParams()
	p.RingDegree = 3
	if _, err := NewSimulation(p); err == nil {
		t.Fatal("expected error for odd ring degree")
	}
}

func TestSetupBuildsLattice(t *testing.T) {
	sim := newSim(t, DefaultParams())
	if got := sim.Net.EdgeCount(); got != 200 {
		t.Errorf("edges = %d, want 200", got)
	}
	for _, a := range sim.Agents {
		if a.Role != agents.RoleNeutral || a.Health != agents.DefaultHealth || a.Tension != 0 || !a.Alive {
			t.Fatalf("agent %d not at defaults: %+v", a.ID, a)
		}
		if a.DegreeDelta != 0 {
			t.Errorf("agent %d degree delta = %d after setup", a.ID, a.DegreeDelta)
		}
	}
	if sim.Snapshot() == nil {
		t.Fatal("no snapshot published after setup")
	}
}

func TestInvariantsHoldOverLongRun(t *testing.T) {
	p := DefaultParams()
	p.Seed = 3
	p.CheckInvariants = true
	p.Rates.SpontaneousTension = 0.1
	sim := newSim(t, p)

	for i := 0; i < 1500; i++ {
		if err := sim.Step(); err != nil {
			t.Fatalf("tick %d: %v", sim.Tick, err)
		}
		for _, a := range sim.Agents {
			if a.Tension < 0 || a.Tension > 3 {
				t.Fatalf("tick %d: agent %d tension %d", sim.Tick, a.ID, a.Tension)
			}
			if a.Health < 0 || a.Health > 4 {
				t.Fatalf("tick %d: agent %d health %v", sim.Tick, a.ID, a.Health)
			}
			if !a.Alive && sim.Net.Degree(int64(a.ID)) != 0 {
				t.Fatalf("tick %d: dead agent %d has edges", sim.Tick, a.ID)
			}
		}
	}
}

func TestAtMostOneAccusationPerTick(t *testing.T) {
	p := DefaultParams()
	p.Seed = 5
	p.Rates.SpontaneousTension = 0.2
	sim := newSim(t, p)
	step(t, sim, 800)

	perTick := make(map[uint64]int)
	total := 0
	for _, b := range sim.Drain() {
		for _, e := range b.Events {
			perTick[e.Tick]++
			total++
		}
	}
	if total == 0 {
		t.Fatal("expected accusations under high tension")
	}
	for tick, n := range perTick {
		if n > 1 {
			t.Errorf("tick %d logged %d accusations", tick, n)
		}
	}
}

func TestSameSeedSameOutput(t *testing.T) {
	run := func() ([]Event, []TimeseriesRow) {
		p := DefaultParams()
		p.Seed = 99
		p.Rates.SpontaneousTension = 0.1
		sim := newSim(t, p)
		step(t, sim, 400)
		var evs []Event
		var rows []TimeseriesRow
		for _, b := range sim.Drain() {
			evs = append(evs, b.Events...)
			rows = append(rows, b.Rows...)
		}
		return evs, rows
	}
	e1, r1 := run()
	e2, r2 := run()
	if !reflect.DeepEqual(e1, e2) {
		t.Error("event logs differ for the same seed")
	}
	if !reflect.DeepEqual(r1, r2) {
		t.Error("timeseries differ for the same seed")
	}
	if len(r1) != 400 {
		t.Errorf("rows = %d, want 400", len(r1))
	}
}

func TestRitualScenario(t *testing.T) {
	sim := newSim(t, calmParams())
	sim.Agents[0].Role = agents.RoleFailedAccuser
	for id := 10; id < 20; id++ {
		sim.Agents[id].Role = agents.RoleVictim
	}

	step(t, sim, 1)

	var rituals []Event
	for _, b := range sim.Drain() {
		for _, e := range b.Events {
			if e.Kind == EventRitualAccuse {
				rituals = append(rituals, e)
			}
		}
	}
	if len(rituals) != 1 {
		t.Fatalf("ritual_accuse events = %d, want 1", len(rituals))
	}
	ev := rituals[0]
	if ev.Source != 0 || ev.SourceKind != "leader" || ev.TargetKind != "victim" || ev.Weight != 1 {
		t.Errorf("unexpected event %+v", ev)
	}
	victim := sim.Agent(ev.Target)
	if victim.Health != 0 {
		t.Errorf("victim health = %v, want 0", victim.Health)
	}
	if sim.Ritual == nil || sim.Ritual.Victim != ev.Target {
		t.Fatalf("ritual not active: %+v", sim.Ritual)
	}

	// Everyone outside the ritual was reset to calm neutral.
	for _, a := range sim.Agents {
		if sim.InRitual(a.ID) || !a.Alive {
			continue
		}
		if a.Role != agents.RoleNeutral || a.Tension != 0 {
			t.Fatalf("agent %d not reset: role %s tension %d", a.ID, a.Role, a.Tension)
		}
	}
}

func TestSingleRitualLifecycle(t *testing.T) {
	sim := newSim(t, calmParams())
	sim.Agents[0].Role = agents.RoleFailedAccuser
	for id := 10; id < 20; id++ {
		sim.Agents[id].Role = agents.RoleVictim
	}
	step(t, sim, 1)
	victim := sim.Ritual.Victim
	sim.Drain()

	// The victim dies on the next tick; no new accusation may start meanwhile.
	step(t, sim, 1)
	if sim.Agent(victim).Alive {
		t.Fatal("ritual victim survived")
	}
	if d := sim.Net.Degree(int64(victim)); d != 0 {
		t.Errorf("dead victim degree = %d", d)
	}
	if sim.Deaths.Victim != 1 {
		t.Errorf("victim deaths = %d, want 1", sim.Deaths.Victim)
	}
	for _, b := range sim.Drain() {
		if len(b.Events) != 0 {
			t.Fatalf("accusations during active ritual: %+v", b.Events)
		}
	}

	step(t, sim, 1)
	if sim.Ritual != nil {
		t.Fatal("ritual still active after victim death")
	}
	if sim.Rituals != 1 {
		t.Errorf("rituals = %d, want 1", sim.Rituals)
	}
	if sim.LastRitualLatency != 1 {
		t.Errorf("ritual latency = %d, want 1", sim.LastRitualLatency)
	}
}

func TestNoRitualBelowThreshold(t *testing.T) {
	sim := newSim(t, calmParams())
	sim.Agents[0].Role = agents.RoleFailedAccuser
	for id := 10; id < 19; id++ {
		sim.Agents[id].Role = agents.RoleVictim
	}
	step(t, sim, 1)
	if sim.Ritual != nil {
		t.Fatalf("ritual started with 9%% victims")
	}
	if sim.TicksToRitual != 1 {
		t.Errorf("ticks to ritual = %d, want 1", sim.TicksToRitual)
	}
}

func TestDeathAndRevival(t *testing.T) {
	p := calmParams()
	p.ScapegoatEnabled = false
	p.Rates.Revival = 0.5
	p.Rates.EdgeDrop = 0
	p.Rates.EdgeAdd = 0
	sim := newSim(t, p)

	const id = agents.AgentID(5)
	sim.Agent(id).SetHealth(0.5)
	step(t, sim, 1)

	a := sim.Agent(id)
	if a.Alive {
		t.Fatal("agent with health below 1 is still alive")
	}
	if d := sim.Net.Degree(int64(id)); d != 0 {
		t.Fatalf("dead agent degree = %d, want 0", d)
	}
	if sim.Deaths.General != 1 {
		t.Errorf("general deaths = %d, want 1", sim.Deaths.General)
	}

	for i := 0; i < 100 && !a.Alive; i++ {
		step(t, sim, 1)
	}
	if !a.Alive {
		t.Fatal("agent not revived within 100 ticks")
	}
	rv := sim.LastRevival
	if rv == nil || rv.ID != id {
		t.Fatalf("last revival = %+v", rv)
	}
	if rv.Health != 3 || rv.Tension != 0 || rv.Degree != 4 {
		t.Errorf("revived state = %+v, want health 3, tension 0, degree 4", rv)
	}
	if sim.Net.Degree(int64(id)) < 4 {
		t.Errorf("revived degree = %d, want >= 4", sim.Net.Degree(int64(id)))
	}
}

func TestReviveRejectsLiveAgent(t *testing.T) {
	sim := newSim(t, calmParams())
	if err := sim.Revive(3); err == nil {
		t.Error("expected error reviving a live agent")
	}
	if err := sim.Revive(1000); err == nil {
		t.Error("expected error reviving an unknown agent")
	}
}

func TestEmptyVictimPartitionKeepsPriorMean(t *testing.T) {
	p := calmParams()
	p.ScapegoatEnabled = false
	sim := newSim(t, p)
	for id := 10; id < 13; id++ {
		sim.Agents[id].Role = agents.RoleVictim
		sim.Agents[id].SetHealth(2)
	}
	step(t, sim, 1)
	prior := sim.Series[len(sim.Series)-1].AvgHealthVictim
	if prior == 0 {
		t.Fatal("victim mean not computed")
	}

	for id := 10; id < 13; id++ {
		sim.Agents[id].Role = agents.RoleNeutral
	}
	step(t, sim, 1)
	row := sim.Series[len(sim.Series)-1]
	if row.NVictims != 0 {
		t.Fatalf("victims = %d, want 0", row.NVictims)
	}
	if math.IsNaN(row.AvgHealthVictim) || row.AvgHealthVictim != prior {
		t.Errorf("victim mean = %v, want prior %v", row.AvgHealthVictim, prior)
	}
}

func TestClusteringWithinBounds(t *testing.T) {
	p := DefaultParams()
	p.Seed = 17
	p.Rates.SpontaneousTension = 0.1
	sim := newSim(t, p)
	for i := 0; i < 300; i++ {
		step(t, sim, 1)
		snap := sim.Snapshot()
		if g := snap.Stats.GlobalClustering; g < 0 || g > 1 {
			t.Fatalf("tick %d: global clustering %v", snap.Tick, g)
		}
		for _, n := range snap.Nodes {
			if n.Clustering != nil && (*n.Clustering < 0 || *n.Clustering > 1) {
				t.Fatalf("tick %d: node %d clustering %v", snap.Tick, n.ID, *n.Clustering)
			}
			if !n.Alive && n.Clustering != nil {
				t.Fatalf("tick %d: dead node %d has clustering", snap.Tick, n.ID)
			}
		}
	}
}

func TestTickBudgetStartsNewRun(t *testing.T) {
	p := calmParams()
	p.TickBudget = 5
	sim := newSim(t, p)
	first := sim.RunID
	step(t, sim, 12)

	if sim.Run != 3 || sim.Tick != 2 || sim.TotalTicks != 12 {
		t.Fatalf("run %d tick %d total %d, want 3/2/12", sim.Run, sim.Tick, sim.TotalTicks)
	}
	if sim.RunID == first {
		t.Error("run ID not renewed")
	}
	batches := sim.Drain()
	if len(batches) != 3 {
		t.Fatalf("batches = %d, want 3", len(batches))
	}
	for i, want := range []int{5, 5, 2} {
		if got := len(batches[i].Rows); got != want {
			t.Errorf("batch %d rows = %d, want %d", i, got, want)
		}
		if batches[i].Run != i+1 {
			t.Errorf("batch %d run = %d", i, batches[i].Run)
		}
	}
	if rest := sim.Drain(); len(rest) != 1 || len(rest[0].Rows) != 0 || rest[0].RunID != sim.RunID {
		t.Errorf("second drain = %+v", rest)
	}
}

func TestApplyAccusation(t *testing.T) {
	sim := newSim(t, calmParams())

	if err := sim.ApplyAccusation(1, 1, AccuseFailed); err == nil {
		t.Error("expected error for self accusation")
	}
	if err := sim.ApplyAccusation(1, 4, AccuseFailed); err != nil {
		t.Fatalf("failed accusation: %v", err)
	}
	src, dst := sim.Agent(1), sim.Agent(4)
	if src.Role != agents.RoleFailedAccuser || !src.FailedAccuser {
		t.Errorf("source = %s flagged %v", src.Role, src.FailedAccuser)
	}
	if dst.Role != agents.RoleFailedVictim || !dst.FailedAccused || dst.Health != 2.5 {
		t.Errorf("target = %s flagged %v health %v", dst.Role, dst.FailedAccused, dst.Health)
	}

	if err := sim.ApplyAccusation(2, 7, AccusePromote); err != nil {
		t.Fatalf("promote: %v", err)
	}
	if sim.Agent(2).Role != agents.RoleLeader || sim.Agent(7).Role != agents.RoleVictim {
		t.Error("promotion did not produce a leader and a victim")
	}
	if err := sim.CheckInvariants(); err != nil {
		t.Errorf("invariants after accusations: %v", err)
	}

	batches := sim.Drain()
	evs := batches[len(batches)-1].Events
	if len(evs) != 2 || evs[0].Kind != EventFailedAccuse || evs[1].Kind != EventAccuse {
		t.Fatalf("events = %+v", evs)
	}
	if evs[0].SourceKind != "accuser_failed" || evs[0].TargetKind != "victim_failed" {
		t.Errorf("failed accusation kinds = %s/%s", evs[0].SourceKind, evs[0].TargetKind)
	}
}

func TestCheckInvariantsDetectsViolations(t *testing.T) {
	sim := newSim(t, calmParams())
	sim.Agents[3].Accused = true
	sim.Agents[4].Tension = 7
	err := sim.CheckInvariants()
	if !errors.Is(err, ErrInvariant) {
		t.Fatalf("err = %v, want ErrInvariant", err)
	}
}
