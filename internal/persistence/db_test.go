package persistence

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/talgya/scapegoat/internal/engine"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func runSim(t *testing.T, ticks int) (*engine.Simulation, []engine.Batch) {
	t.Helper()
	p := engine.DefaultParams()
	p.Seed = 21
	p.Rates.SpontaneousTension = 0.15
	sim, err := engine.NewSimulation(p)
	if err != nil {
		t.Fatalf("NewSimulation: %v", err)
	}
	for i := 0; i < ticks; i++ {
		if err := sim.Step(); err != nil {
			t.Fatalf("Step: %v", err)
		}
	}
	return sim, sim.Drain()
}

func TestSaveAndLoadBatch(t *testing.T) {
	db := openTestDB(t)
	sim, batches := runSim(t, 200)
	b := batches[0]

	if err := db.SaveBatch(b, sim.Params); err != nil {
		t.Fatalf("SaveBatch: %v", err)
	}
	// Saving the run record twice is harmless.
	if err := db.BeginRun(b.RunID, b.Run, b.Seed, sim.Params); err != nil {
		t.Fatalf("BeginRun again: %v", err)
	}

	runs, err := db.Runs()
	if err != nil {
		t.Fatalf("Runs: %v", err)
	}
	if len(runs) != 1 || runs[0].ID != b.RunID || runs[0].Seed != 21 {
		t.Fatalf("runs = %+v", runs)
	}

	rows, err := db.LoadTimeseries(b.RunID, 0, 0, 1000)
	if err != nil {
		t.Fatalf("LoadTimeseries: %v", err)
	}
	if len(rows) != 200 {
		t.Fatalf("rows = %d, want 200", len(rows))
	}
	if rows[0] != b.Rows[len(b.Rows)-1] {
		t.Errorf("newest row = %+v, want %+v", rows[0], b.Rows[len(b.Rows)-1])
	}

	window, err := db.LoadTimeseries(b.RunID, 10, 19, 5)
	if err != nil {
		t.Fatalf("LoadTimeseries window: %v", err)
	}
	if len(window) != 5 || window[0].Tick != 19 || window[4].Tick != 15 {
		t.Errorf("window ticks = %v", window)
	}

	events, err := db.LoadEvents(b.RunID, 100000)
	if err != nil {
		t.Fatalf("LoadEvents: %v", err)
	}
	if len(events) != len(b.Events) {
		t.Fatalf("events = %d, want %d", len(events), len(b.Events))
	}
	if len(events) > 0 && events[0] != b.Events[len(b.Events)-1] {
		t.Errorf("newest event = %+v, want %+v", events[0], b.Events[len(b.Events)-1])
	}
}

func TestSaveSnapshot(t *testing.T) {
	db := openTestDB(t)
	sim, batches := runSim(t, 50)
	if err := db.BeginRun(batches[0].RunID, 1, sim.Seed(), sim.Params); err != nil {
		t.Fatalf("BeginRun: %v", err)
	}

	snap := sim.Snapshot()
	for i := 0; i < 2; i++ {
		if err := db.SaveSnapshot(snap); err != nil {
			t.Fatalf("SaveSnapshot #%d: %v", i+1, err)
		}
	}

	nodes, err := db.LoadSnapshotNodes(snap.RunID, snap.Tick)
	if err != nil {
		t.Fatalf("LoadSnapshotNodes: %v", err)
	}
	if len(nodes) != len(snap.Nodes) {
		t.Fatalf("nodes = %d, want %d", len(nodes), len(snap.Nodes))
	}
	for i, n := range nodes {
		want := snap.Nodes[i]
		if n.ID != want.ID || n.Kind != want.Kind || n.Degree != want.Degree || n.Alive != want.Alive {
			t.Fatalf("node %d = %+v, want %+v", i, n, want)
		}
		if (n.Clustering == nil) != (want.Clustering == nil) {
			t.Fatalf("node %d clustering definedness differs", i)
		}
	}
}

func TestMeta(t *testing.T) {
	db := openTestDB(t)
	if _, err := db.GetMeta("last_run"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing key err = %v, want ErrNotFound", err)
	}
	if err := db.SetMeta("last_run", "abc"); err != nil {
		t.Fatalf("SetMeta: %v", err)
	}
	if err := db.SetMeta("last_run", "def"); err != nil {
		t.Fatalf("SetMeta overwrite: %v", err)
	}
	v, err := db.GetMeta("last_run")
	if err != nil || v != "def" {
		t.Fatalf("GetMeta = %q, %v", v, err)
	}
}
