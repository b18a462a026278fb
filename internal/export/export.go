// Package export writes the simulation's artifacts as CSV files: the
// append-only event and timeseries logs, and node/link snapshots.
package export

import (
	"encoding/csv"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"github.com/talgya/scapegoat/internal/engine"
)

// Dialect selects the column names written in CSV headers.
type Dialect string

const (
	// NetLogo uses the column names of the downstream analysis scripts.
	NetLogo Dialect = "netlogo"
	// Canonical uses descriptive snake_case names.
	Canonical Dialect = "canonical"
)

// NA is written for values that are undefined, such as the clustering
// coefficient of a node with fewer than two neighbours.
const NA = "NA"

// File names inside a run directory.
const (
	EventsFile     = "events.csv"
	TimeseriesFile = "timeseries.csv"
	NodesFile      = "nodes.csv"
	LinksFile      = "links.csv"
)

// ErrDialect is returned for an unknown dialect name.
var ErrDialect = errors.New("unknown export dialect")

// ParseDialect maps a config value to a Dialect. Empty means NetLogo.
func ParseDialect(s string) (Dialect, error) {
	switch Dialect(s) {
	case "", NetLogo:
		return NetLogo, nil
	case Canonical:
		return Canonical, nil
	}
	return "", fmt.Errorf("%w: %q", ErrDialect, s)
}

type headers struct {
	events, timeseries, nodes, links []string
}

var dialects = map[Dialect]headers{
	NetLogo: {
		events: []string{"tick", "source", "target", "etype", "source_kind", "target_kind", "weight"},
		timeseries: []string{"tick", "n_alive", "n_leaders", "n_victims", "pct_victims",
			"avggeneralhealth", "avgleaderhealth", "avgvictimhealth",
			"avggenerallinkneighbors", "avgvictimlinkneighbors", "avgleaderlinkneighbors",
			"avggeneralcc", "avgleadercc", "avgvictimcc",
			"pollution", "timetoritual", "ritualtime"},
		nodes: []string{"id", "kind", "health", "tension", "cc_node", "degree"},
		links: []string{"source", "target"},
	},
	Canonical: {
		events: []string{"tick", "source_id", "target_id", "event_type", "source_role", "target_role", "weight"},
		timeseries: []string{"tick", "n_alive", "n_leaders", "n_victims", "pct_victims",
			"avg_health_general", "avg_health_leader", "avg_health_victim",
			"avg_degree_general", "avg_degree_victim", "avg_degree_leader",
			"avg_clustering_general", "avg_clustering_leader", "avg_clustering_victim",
			"pollution", "ticks_to_ritual", "ritual_duration"},
		nodes: []string{"id", "role", "health", "tension", "local_clustering_coefficient", "degree"},
		links: []string{"source_id", "target_id"},
	},
}

// Writer writes artifacts under Dir, one subdirectory per run ID.
type Writer struct {
	Dir     string
	Dialect Dialect
}

// NewWriter returns a writer for dir using dialect d.
func NewWriter(dir string, d Dialect) (*Writer, error) {
	if _, ok := dialects[d]; !ok {
		return nil, fmt.Errorf("%w: %q", ErrDialect, d)
	}
	return &Writer{Dir: dir, Dialect: d}, nil
}

// RunDir returns the directory holding the artifacts of a run.
func (w *Writer) RunDir(runID string) string { return filepath.Join(w.Dir, runID) }

// WriteBatch appends a drained batch to the run's event and timeseries logs.
func (w *Writer) WriteBatch(b engine.Batch) error {
	h := dialects[w.Dialect]
	dir := w.RunDir(b.RunID)

	events := make([][]string, len(b.Events))
	for i, e := range b.Events {
		events[i] = EventRecord(e)
	}
	if err := appendCSV(filepath.Join(dir, EventsFile), h.events, events); err != nil {
		return fmt.Errorf("write events: %w", err)
	}

	rows := make([][]string, len(b.Rows))
	for i, r := range b.Rows {
		rows[i] = TimeseriesRecord(r)
	}
	if err := appendCSV(filepath.Join(dir, TimeseriesFile), h.timeseries, rows); err != nil {
		return fmt.Errorf("write timeseries: %w", err)
	}
	return nil
}

// WriteSnapshot overwrites the run's node and link snapshots.
func (w *Writer) WriteSnapshot(snap *engine.Snapshot) error {
	h := dialects[w.Dialect]
	dir := w.RunDir(snap.RunID)

	nodes := make([][]string, len(snap.Nodes))
	for i, n := range snap.Nodes {
		nodes[i] = NodeRecord(n)
	}
	if err := writeCSV(filepath.Join(dir, NodesFile), h.nodes, nodes); err != nil {
		return fmt.Errorf("write nodes: %w", err)
	}

	links := make([][]string, len(snap.Edges))
	for i, e := range snap.Edges {
		links[i] = []string{itoa(e.Source), itoa(e.Target)}
	}
	if err := writeCSV(filepath.Join(dir, LinksFile), h.links, links); err != nil {
		return fmt.Errorf("write links: %w", err)
	}

	slog.Debug("snapshot exported", "dir", dir, "tick", snap.Tick, "nodes", len(nodes), "links", len(links))
	return nil
}

// EventRecord formats one event in column order.
func EventRecord(e engine.Event) []string {
	return []string{
		utoa(e.Tick),
		itoa(int64(e.Source)),
		itoa(int64(e.Target)),
		string(e.Kind),
		e.SourceKind,
		e.TargetKind,
		strconv.Itoa(e.Weight),
	}
}

// TimeseriesRecord formats one timeseries row in column order.
func TimeseriesRecord(r engine.TimeseriesRow) []string {
	return []string{
		utoa(r.Tick),
		strconv.Itoa(r.NAlive),
		strconv.Itoa(r.NLeaders),
		strconv.Itoa(r.NVictims),
		ftoa(r.PctVictims),
		ftoa(r.AvgHealthGeneral),
		ftoa(r.AvgHealthLeader),
		ftoa(r.AvgHealthVictim),
		ftoa(r.AvgDegreeGeneral),
		ftoa(r.AvgDegreeVictim),
		ftoa(r.AvgDegreeLeader),
		ftoa(r.AvgClusteringGeneral),
		ftoa(r.AvgClusteringLeader),
		ftoa(r.AvgClusteringVictim),
		strconv.Itoa(r.Pollution),
		strconv.Itoa(r.TicksToRitual),
		strconv.Itoa(r.RitualDuration),
	}
}

// NodeRecord formats one node row in column order.
func NodeRecord(n engine.NodeRow) []string {
	cc := NA
	if n.Clustering != nil {
		cc = ftoa(*n.Clustering)
	}
	return []string{
		itoa(int64(n.ID)),
		n.Kind,
		ftoa(n.Health),
		strconv.Itoa(n.Tension),
		cc,
		strconv.Itoa(n.Degree),
	}
}

// appendCSV appends records to path, writing header first if the file is new or empty.
func appendCSV(path string, header []string, records [][]string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	cw := csv.NewWriter(f)
	if info.Size() == 0 {
		if err := cw.Write(header); err != nil {
			return err
		}
	}
	if err := cw.WriteAll(records); err != nil {
		return err
	}
	return f.Close()
}

// writeCSV replaces path with header and records. Each call writes its own
// temp file, so concurrent writers never see each other's partial output.
func writeCSV(path string, header []string, records [][]string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmp := f.Name()
	cw := csv.NewWriter(f)
	if err := cw.Write(header); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := cw.WriteAll(records); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Chmod(tmp, 0o644); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

func itoa(v int64) string   { return strconv.FormatInt(v, 10) }
func utoa(v uint64) string  { return strconv.FormatUint(v, 10) }
func ftoa(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
