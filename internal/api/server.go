// Package api provides the HTTP API for observing a running simulation.
// GET endpoints are public (read-only observation of the published snapshot).
// POST endpoints require a bearer token (admin control plane).
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/talgya/scapegoat/internal/engine"
	"github.com/talgya/scapegoat/internal/export"
	"github.com/talgya/scapegoat/internal/network"
	"github.com/talgya/scapegoat/internal/persistence"
)

// Server serves the simulation state over HTTP.
type Server struct {
	Sim      *engine.Simulation
	Eng      *engine.Engine
	DB       *persistence.DB // optional
	Export   *export.Writer  // optional
	Port     int
	AdminKey string // Bearer token for POST endpoints. Empty = POST disabled.

	// ExportLimit is the number of export requests per hour per IP.
	ExportLimit int
}

// Handler builds the routed handler with CORS applied.
func (s *Server) Handler() http.Handler {
	limit := s.ExportLimit
	if limit <= 0 {
		limit = 30
	}
	exportLimiter := NewRateLimiter(limit, time.Hour)

	mux := http.NewServeMux()

	// Public endpoints (GET, read-only).
	mux.HandleFunc("/api/v1/status", s.handleStatus)
	mux.HandleFunc("/api/v1/stats", s.handleStats)
	mux.HandleFunc("/api/v1/stats/history", s.handleStatsHistory)
	mux.HandleFunc("/api/v1/timeseries", s.handleTimeseries)
	mux.HandleFunc("/api/v1/events", s.handleEvents)
	mux.HandleFunc("/api/v1/nodes", s.handleNodes)
	mux.HandleFunc("/api/v1/node/", s.handleNodeDetail)
	mux.HandleFunc("/api/v1/edges", s.handleEdges)
	mux.HandleFunc("/api/v1/network", s.handleNetwork)
	mux.HandleFunc("/api/v1/runs", s.handleRuns)

	// Admin endpoints (POST, require bearer token).
	mux.HandleFunc("/api/v1/speed", s.adminOnly(s.handleSpeed))
	mux.HandleFunc("/api/v1/reset", s.adminOnly(s.handleReset))
	mux.HandleFunc("/api/v1/export", s.adminOnly(RateLimitMiddleware(exportLimiter, s.handleExport)))

	return corsMiddleware(mux)
}

// Start begins serving the HTTP API in a goroutine. The returned server
// can be shut down by the caller.
func (s *Server) Start() *http.Server {
	addr := fmt.Sprintf(":%d", s.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	slog.Info("HTTP API starting", "addr", addr, "admin_auth", s.AdminKey != "")

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server error", "error", err)
		}
	}()
	return srv
}

// corsMiddleware adds CORS headers for allowed frontend origins.
// Set CORS_ORIGINS env var to a comma-separated list of allowed origins.
// Localhost dev servers are always allowed.
func corsMiddleware(next http.Handler) http.Handler {
	allowedOrigins := map[string]bool{
		"http://localhost:5173": true,
		"http://localhost:4173": true,
		"http://localhost:3000": true,
	}
	if env := os.Getenv("CORS_ORIGINS"); env != "" {
		for _, origin := range strings.Split(env, ",") {
			origin = strings.TrimSpace(origin)
			if origin != "" {
				allowedOrigins[origin] = true
			}
		}
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if allowedOrigins[origin] {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// checkBearerToken returns true if the request has a valid admin bearer token.
func (s *Server) checkBearerToken(r *http.Request) bool {
	auth := r.Header.Get("Authorization")
	return strings.HasPrefix(auth, "Bearer ") && strings.TrimPrefix(auth, "Bearer ") == s.AdminKey
}

// adminOnly wraps a handler to require bearer token auth on POST requests.
// GET requests pass through (for endpoints that support both GET and POST).
func (s *Server) adminOnly(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			if s.AdminKey == "" {
				http.Error(w, "admin endpoints disabled (no SCAPEGOAT_ADMIN_KEY set)", http.StatusForbidden)
				return
			}

			if !s.checkBearerToken(r) {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
		}

		next(w, r)
	}
}

// snapshot returns the published snapshot or writes 503.
func (s *Server) snapshot(w http.ResponseWriter) *engine.Snapshot {
	snap := s.Sim.Snapshot()
	if snap == nil {
		http.Error(w, "simulation not ready", http.StatusServiceUnavailable)
	}
	return snap
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap := s.snapshot(w)
	if snap == nil {
		return
	}
	status := map[string]any{
		"name":        "scapegoat",
		"run_id":      snap.RunID,
		"run":         snap.Run,
		"seed":        snap.Seed,
		"tick":        snap.Tick,
		"total_ticks": snap.TotalTicks,
		"alive":       snap.Stats.Alive,
		"leaders":     snap.Stats.Leaders,
		"victims":     snap.Stats.Victims,
		"pollution":   snap.Stats.Pollution,
		"rituals":     snap.Stats.Rituals,
		"ritual":      snap.Stats.ActiveRitual,
	}
	if s.Eng != nil {
		status["speed"] = s.Eng.Speed()
		status["running"] = s.Eng.Running()
	}
	writeJSON(w, status)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if snap := s.snapshot(w); snap != nil {
		writeJSON(w, snap.Stats)
	}
}

// handleTimeseries returns the most recent in-memory rows of the current run.
func (s *Server) handleTimeseries(w http.ResponseWriter, r *http.Request) {
	snap := s.snapshot(w)
	if snap == nil {
		return
	}
	limit := queryInt(r, "limit", 100, 1000)
	rows := snap.Series
	if len(rows) > limit {
		rows = rows[len(rows)-limit:]
	}
	if rows == nil {
		rows = []engine.TimeseriesRow{}
	}
	writeJSON(w, rows)
}

// handleStatsHistory returns stored timeseries rows of a run (default: the current run).
func (s *Server) handleStatsHistory(w http.ResponseWriter, r *http.Request) {
	if s.DB == nil {
		http.Error(w, "database not available", http.StatusServiceUnavailable)
		return
	}

	runID := r.URL.Query().Get("run")
	if runID == "" {
		if snap := s.Sim.Snapshot(); snap != nil {
			runID = snap.RunID
		}
	}
	fromTick := uint64(0)
	toTick := uint64(1<<63 - 1) // Max int64; the SQLite driver rejects uint64 values with the high bit set.
	if f := r.URL.Query().Get("from"); f != "" {
		if v, err := strconv.ParseUint(f, 10, 64); err == nil {
			fromTick = v
		}
	}
	if t := r.URL.Query().Get("to"); t != "" {
		if v, err := strconv.ParseUint(t, 10, 63); err == nil {
			toTick = v
		}
	}
	limit := queryInt(r, "limit", 30, 1000)

	rows, err := s.DB.LoadTimeseries(runID, fromTick, toTick, limit)
	if err != nil {
		slog.Error("stats history query failed", "error", err)
		// Return an empty array; the table may not have data yet.
		writeJSON(w, []engine.TimeseriesRow{})
		return
	}
	if rows == nil {
		rows = []engine.TimeseriesRow{}
	}
	writeJSON(w, rows)
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if s.DB == nil {
		http.Error(w, "database not available", http.StatusServiceUnavailable)
		return
	}
	runs, err := s.DB.Runs()
	if err != nil {
		slog.Error("runs query failed", "error", err)
		http.Error(w, "query failed", http.StatusInternalServerError)
		return
	}
	if runs == nil {
		runs = []persistence.Run{}
	}
	writeJSON(w, runs)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	snap := s.snapshot(w)
	if snap == nil {
		return
	}
	limit := queryInt(r, "limit", 50, 500)
	events := snap.Events

	// Optional etype filter.
	if etype := r.URL.Query().Get("etype"); etype != "" {
		var filtered []engine.Event
		for _, e := range events {
			if string(e.Kind) == etype {
				filtered = append(filtered, e)
			}
		}
		events = filtered
	}

	start := 0
	if len(events) > limit {
		start = len(events) - limit
	}
	out := events[start:]
	if out == nil {
		out = []engine.Event{}
	}
	writeJSON(w, out)
}

// handleNodes returns the node table; ?kind= filters by kind and ?alive=true drops dead agents.
func (s *Server) handleNodes(w http.ResponseWriter, r *http.Request) {
	snap := s.snapshot(w)
	if snap == nil {
		return
	}
	kind := r.URL.Query().Get("kind")
	aliveOnly := r.URL.Query().Get("alive") == "true"

	nodes := make([]engine.NodeRow, 0, len(snap.Nodes))
	for _, n := range snap.Nodes {
		if kind != "" && n.Kind != kind {
			continue
		}
		if aliveOnly && !n.Alive {
			continue
		}
		nodes = append(nodes, n)
	}
	writeJSON(w, nodes)
}

// handleNodeDetail returns one node with its neighbour IDs: GET /api/v1/node/:id.
func (s *Server) handleNodeDetail(w http.ResponseWriter, r *http.Request) {
	snap := s.snapshot(w)
	if snap == nil {
		return
	}
	idStr := strings.TrimPrefix(r.URL.Path, "/api/v1/node/")
	id, err := strconv.Atoi(idStr)
	if err != nil || id < 0 || id >= len(snap.Nodes) {
		http.Error(w, "invalid node id", http.StatusNotFound)
		return
	}

	neighbours := []int64{}
	for _, e := range snap.Edges {
		switch {
		case e.Source == int64(id):
			neighbours = append(neighbours, e.Target)
		case e.Target == int64(id):
			neighbours = append(neighbours, e.Source)
		}
	}
	writeJSON(w, map[string]any{
		"node":       snap.Nodes[id],
		"neighbours": neighbours,
	})
}

func (s *Server) handleEdges(w http.ResponseWriter, r *http.Request) {
	snap := s.snapshot(w)
	if snap == nil {
		return
	}
	edges := snap.Edges
	if edges == nil {
		edges = []network.Edge{}
	}
	writeJSON(w, edges)
}

// handleNetwork returns the global structural summary.
func (s *Server) handleNetwork(w http.ResponseWriter, r *http.Request) {
	snap := s.snapshot(w)
	if snap == nil {
		return
	}
	st := snap.Stats
	writeJSON(w, map[string]any{
		"tick":              snap.Tick,
		"nodes":             len(snap.Nodes),
		"alive":             st.Alive,
		"edges":             st.Edges,
		"global_clustering": st.GlobalClustering,
		"avg_path_length":   st.AvgPathLength,
		"connected":         st.AvgPathLength != nil,
		"avg_degree":        st.Aggregates.Degree,
	})
}

func (s *Server) handleSpeed(w http.ResponseWriter, r *http.Request) {
	if s.Eng == nil {
		http.Error(w, "engine not available", http.StatusServiceUnavailable)
		return
	}
	if r.Method == http.MethodPost {
		var req struct {
			Speed float64 `json:"speed"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		if req.Speed < 0 || req.Speed > 1000 {
			http.Error(w, "speed must be 0-1000", http.StatusBadRequest)
			return
		}
		s.Eng.SetSpeed(req.Speed)
		slog.Info("speed changed", "speed", req.Speed)
	}

	writeJSON(w, map[string]float64{"speed": s.Eng.Speed()})
}

// handleReset runs setup again between ticks, starting a new run.
func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var err error
	reset := func() { err = s.Sim.Setup() }
	if s.Eng != nil {
		s.Eng.Do(reset)
	} else {
		reset()
	}
	if err != nil {
		slog.Error("reset failed", "error", err)
		http.Error(w, "reset failed", http.StatusInternalServerError)
		return
	}

	snap := s.Sim.Snapshot()
	slog.Info("simulation reset via API", "run_id", snap.RunID)
	writeJSON(w, map[string]any{
		"run_id":  snap.RunID,
		"run":     snap.Run,
		"message": "simulation reset",
	})
}

// handleExport writes the current node/link snapshot to CSV and the database.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.Export == nil && s.DB == nil {
		http.Error(w, "no export target configured", http.StatusServiceUnavailable)
		return
	}
	snap := s.snapshot(w)
	if snap == nil {
		return
	}

	resp := map[string]any{"run_id": snap.RunID, "tick": snap.Tick}
	if s.Export != nil {
		if err := s.Export.WriteSnapshot(snap); err != nil {
			slog.Error("snapshot export failed", "error", err)
			http.Error(w, "export failed", http.StatusInternalServerError)
			return
		}
		resp["dir"] = s.Export.RunDir(snap.RunID)
	}
	if s.DB != nil {
		if err := s.DB.BeginRun(snap.RunID, snap.Run, snap.Seed, s.Sim.Params); err != nil {
			slog.Error("snapshot save failed", "error", err)
			http.Error(w, "export failed", http.StatusInternalServerError)
			return
		}
		if err := s.DB.SaveSnapshot(snap); err != nil {
			slog.Error("snapshot save failed", "error", err)
			http.Error(w, "export failed", http.StatusInternalServerError)
			return
		}
		resp["saved"] = true
	}
	resp["message"] = "snapshot exported"
	writeJSON(w, resp)
}

// queryInt reads a positive integer query parameter no larger than ceiling.
func queryInt(r *http.Request, key string, def, ceiling int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= ceiling {
			return n
		}
	}
	return def
}

func writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.Encode(data)
}
