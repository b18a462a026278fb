// Package persistence provides SQLite-based storage for simulation runs:
// event logs, per-tick timeseries and node/edge snapshots.
package persistence

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/talgya/scapegoat/internal/engine"
	"github.com/talgya/scapegoat/internal/network"
)

// ErrNotFound is returned when a requested run or meta key does not exist.
var ErrNotFound = errors.New("not found")

// DB wraps a SQLite connection for run storage.
type DB struct {
	conn *sqlx.DB
}

// Run describes one stored run.
type Run struct {
	ID        string `json:"id" db:"id"`
	Run       int    `json:"run" db:"run"`
	Seed      int64  `json:"seed" db:"seed"`
	Params    string `json:"params" db:"params_json"`
	StartedAt string `json:"started_at" db:"started_at"`
}

// Open opens or creates a SQLite database at the given path.
func Open(path string) (*DB, error) {
	conn, err := sqlx.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	conn.SetMaxOpenConns(1)

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		run INTEGER NOT NULL,
		seed INTEGER NOT NULL,
		params_json TEXT NOT NULL,
		started_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL REFERENCES runs(id),
		tick INTEGER NOT NULL,
		source_id INTEGER NOT NULL,
		target_id INTEGER NOT NULL,
		etype TEXT NOT NULL,
		source_kind TEXT NOT NULL,
		target_kind TEXT NOT NULL,
		weight INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS timeseries (
		run_id TEXT NOT NULL REFERENCES runs(id),
		tick INTEGER NOT NULL,
		n_alive INTEGER NOT NULL,
		n_leaders INTEGER NOT NULL,
		n_victims INTEGER NOT NULL,
		pct_victims REAL NOT NULL,
		avg_health_general REAL NOT NULL,
		avg_health_leader REAL NOT NULL,
		avg_health_victim REAL NOT NULL,
		avg_degree_general REAL NOT NULL,
		avg_degree_victim REAL NOT NULL,
		avg_degree_leader REAL NOT NULL,
		avg_clustering_general REAL NOT NULL,
		avg_clustering_leader REAL NOT NULL,
		avg_clustering_victim REAL NOT NULL,
		pollution INTEGER NOT NULL,
		ticks_to_ritual INTEGER NOT NULL,
		ritual_duration INTEGER NOT NULL,
		PRIMARY KEY (run_id, tick)
	);

	CREATE TABLE IF NOT EXISTS node_snapshots (
		run_id TEXT NOT NULL REFERENCES runs(id),
		tick INTEGER NOT NULL,
		agent_id INTEGER NOT NULL,
		kind TEXT NOT NULL,
		health REAL NOT NULL,
		tension INTEGER NOT NULL,
		state TEXT NOT NULL,
		cc_node REAL,
		degree INTEGER NOT NULL,
		alive INTEGER NOT NULL,
		PRIMARY KEY (run_id, tick, agent_id)
	);

	CREATE TABLE IF NOT EXISTS edge_snapshots (
		run_id TEXT NOT NULL REFERENCES runs(id),
		tick INTEGER NOT NULL,
		source_id INTEGER NOT NULL,
		target_id INTEGER NOT NULL,
		PRIMARY KEY (run_id, tick, source_id, target_id)
	);

	CREATE TABLE IF NOT EXISTS run_meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_events_run_tick ON events(run_id, tick);
	`
	_, err := db.conn.Exec(schema)
	return err
}

// BeginRun records a new run. Calling it again for the same ID is a no-op.
func (db *DB) BeginRun(id string, run int, seed int64, params engine.Params) error {
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("encode params: %w", err)
	}
	_, err = db.conn.Exec(
		"INSERT OR IGNORE INTO runs (id, run, seed, params_json, started_at) VALUES (?, ?, ?, ?, ?)",
		id, run, seed, string(paramsJSON), time.Now().UTC().Format(time.RFC3339),
	)
	return err
}

// Runs returns every stored run, oldest first.
func (db *DB) Runs() ([]Run, error) {
	var runs []Run
	err := db.conn.Select(&runs, "SELECT id, run, seed, params_json, started_at FROM runs ORDER BY started_at, run")
	return runs, err
}

type eventRow struct {
	RunID string `db:"run_id"`
	engine.Event
}

// SaveEvents appends events of a run.
func (db *DB) SaveEvents(runID string, events []engine.Event) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := db.conn.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareNamed(`INSERT INTO events
		(run_id, tick, source_id, target_id, etype, source_kind, target_kind, weight)
		VALUES (:run_id, :tick, :source_id, :target_id, :etype, :source_kind, :target_kind, :weight)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, e := range events {
		if _, err := stmt.Exec(eventRow{RunID: runID, Event: e}); err != nil {
			return fmt.Errorf("insert event at tick %d: %w", e.Tick, err)
		}
	}

	return tx.Commit()
}

type seriesRow struct {
	RunID string `db:"run_id"`
	engine.TimeseriesRow
}

const seriesColumns = `tick, n_alive, n_leaders, n_victims, pct_victims,
	avg_health_general, avg_health_leader, avg_health_victim,
	avg_degree_general, avg_degree_victim, avg_degree_leader,
	avg_clustering_general, avg_clustering_leader, avg_clustering_victim,
	pollution, ticks_to_ritual, ritual_duration`

// SaveTimeseries appends per-tick aggregate rows of a run.
func (db *DB) SaveTimeseries(runID string, rows []engine.TimeseriesRow) error {
	if len(rows) == 0 {
		return nil
	}

	tx, err := db.conn.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareNamed(`INSERT OR REPLACE INTO timeseries (run_id, ` + seriesColumns + `)
		VALUES (:run_id, :tick, :n_alive, :n_leaders, :n_victims, :pct_victims,
		 :avg_health_general, :avg_health_leader, :avg_health_victim,
		 :avg_degree_general, :avg_degree_victim, :avg_degree_leader,
		 :avg_clustering_general, :avg_clustering_leader, :avg_clustering_victim,
		 :pollution, :ticks_to_ritual, :ritual_duration)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range rows {
		if _, err := stmt.Exec(seriesRow{RunID: runID, TimeseriesRow: r}); err != nil {
			return fmt.Errorf("insert timeseries at tick %d: %w", r.Tick, err)
		}
	}

	return tx.Commit()
}

// SaveBatch stores one drained batch: the run record, its events and its rows.
func (db *DB) SaveBatch(b engine.Batch, params engine.Params) error {
	if err := db.BeginRun(b.RunID, b.Run, b.Seed, params); err != nil {
		return fmt.Errorf("begin run: %w", err)
	}
	if err := db.SaveEvents(b.RunID, b.Events); err != nil {
		return fmt.Errorf("save events: %w", err)
	}
	if err := db.SaveTimeseries(b.RunID, b.Rows); err != nil {
		return fmt.Errorf("save timeseries: %w", err)
	}
	return nil
}

type nodeRow struct {
	RunID string `db:"run_id"`
	Tick  uint64 `db:"tick"`
	engine.NodeRow
}

type edgeRow struct {
	RunID string `db:"run_id"`
	Tick  uint64 `db:"tick"`
	network.Edge
}

// SaveSnapshot stores the node and edge tables of a published snapshot,
// replacing any earlier snapshot of the same run and tick.
func (db *DB) SaveSnapshot(snap *engine.Snapshot) error {
	tx, err := db.conn.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, table := range []string{"node_snapshots", "edge_snapshots"} {
		if _, err := tx.Exec("DELETE FROM "+table+" WHERE run_id = ? AND tick = ?", snap.RunID, snap.Tick); err != nil {
			return err
		}
	}

	nodes, err := tx.PrepareNamed(`INSERT INTO node_snapshots
		(run_id, tick, agent_id, kind, health, tension, state, cc_node, degree, alive)
		VALUES (:run_id, :tick, :agent_id, :kind, :health, :tension, :state, :cc_node, :degree, :alive)`)
	if err != nil {
		return err
	}
	defer nodes.Close()
	for _, n := range snap.Nodes {
		if _, err := nodes.Exec(nodeRow{RunID: snap.RunID, Tick: snap.Tick, NodeRow: n}); err != nil {
			return fmt.Errorf("insert node %d: %w", n.ID, err)
		}
	}

	edges, err := tx.PrepareNamed(`INSERT INTO edge_snapshots (run_id, tick, source_id, target_id)
		VALUES (:run_id, :tick, :source_id, :target_id)`)
	if err != nil {
		return err
	}
	defer edges.Close()
	for _, e := range snap.Edges {
		if _, err := edges.Exec(edgeRow{RunID: snap.RunID, Tick: snap.Tick, Edge: e}); err != nil {
			return fmt.Errorf("insert edge %d-%d: %w", e.Source, e.Target, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	slog.Info("snapshot saved", "run_id", snap.RunID, "tick", snap.Tick, "nodes", len(snap.Nodes), "edges", len(snap.Edges))
	return nil
}

// LoadSnapshotNodes returns the stored node rows of a run at a tick.
func (db *DB) LoadSnapshotNodes(runID string, tick uint64) ([]engine.NodeRow, error) {
	var rows []engine.NodeRow
	err := db.conn.Select(&rows,
		`SELECT agent_id, kind, health, tension, state, cc_node, degree, alive
		 FROM node_snapshots WHERE run_id = ? AND tick = ? ORDER BY agent_id`,
		runID, tick,
	)
	return rows, err
}

// LoadTimeseries returns the rows of a run with from <= tick <= to, newest
// first, at most limit rows. A zero to means no upper bound.
func (db *DB) LoadTimeseries(runID string, from, to uint64, limit int) ([]engine.TimeseriesRow, error) {
	if to == 0 {
		to = 1<<63 - 1
	}
	var rows []engine.TimeseriesRow
	err := db.conn.Select(&rows,
		"SELECT "+seriesColumns+` FROM timeseries
		 WHERE run_id = ? AND tick >= ? AND tick <= ?
		 ORDER BY tick DESC LIMIT ?`,
		runID, from, to, limit,
	)
	return rows, err
}

// LoadEvents returns the most recent limit events of a run.
func (db *DB) LoadEvents(runID string, limit int) ([]engine.Event, error) {
	var events []engine.Event
	err := db.conn.Select(&events,
		`SELECT tick, source_id, target_id, etype, source_kind, target_kind, weight
		 FROM events WHERE run_id = ? ORDER BY id DESC LIMIT ?`,
		runID, limit,
	)
	return events, err
}

// SetMeta stores a key-value pair in run metadata.
func (db *DB) SetMeta(key, value string) error {
	_, err := db.conn.Exec(
		"INSERT OR REPLACE INTO run_meta (key, value) VALUES (?, ?)",
		key, value,
	)
	return err
}

// GetMeta retrieves a metadata value, or ErrNotFound.
func (db *DB) GetMeta(key string) (string, error) {
	var value string
	err := db.conn.Get(&value, "SELECT value FROM run_meta WHERE key = ?", key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("meta %q: %w", key, ErrNotFound)
	}
	return value, err
}
