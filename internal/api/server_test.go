package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/talgya/scapegoat/internal/engine"
	"github.com/talgya/scapegoat/internal/export"
	"github.com/talgya/scapegoat/internal/persistence"
)

const testKey = "test-admin-key"

func newTestServer(t *testing.T, ticks int) *Server {
	t.Helper()
	p := engine.DefaultParams()
	p.Seed = 8
	p.Rates.SpontaneousTension = 0.15
	sim, err := engine.NewSimulation(p)
	if err != nil {
		t.Fatalf("NewSimulation: %v", err)
	}
	eng := engine.NewEngine()
	eng.OnTick = func(uint64) error { return sim.Step() }
	if err := eng.RunTicks(ticks); err != nil {
		t.Fatalf("RunTicks: %v", err)
	}
	return &Server{Sim: sim, Eng: eng, AdminKey: testKey, ExportLimit: 2}
}

func do(t *testing.T, h http.Handler, method, path, body string, admin bool) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if admin {
		req.Header.Set("Authorization", "Bearer "+testKey)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode: %v (%s)", err, rec.Body.String())
	}
}

func TestStatusAndStats(t *testing.T) {
	s := newTestServer(t, 20)
	h := s.Handler()

	var status map[string]any
	decode(t, do(t, h, http.MethodGet, "/api/v1/status", "", false), &status)
	if status["tick"] != float64(20) || status["run"] != float64(1) {
		t.Errorf("status = %v", status)
	}
	if status["speed"] != float64(1) {
		t.Errorf("speed = %v", status["speed"])
	}

	var stats engine.Stats
	decode(t, do(t, h, http.MethodGet, "/api/v1/stats", "", false), &stats)
	if stats.Alive == 0 || stats.Edges == 0 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestTimeseriesAndEvents(t *testing.T) {
	s := newTestServer(t, 300)
	h := s.Handler()

	var rows []engine.TimeseriesRow
	decode(t, do(t, h, http.MethodGet, "/api/v1/timeseries?limit=10", "", false), &rows)
	if len(rows) != 10 || rows[9].Tick != 300 {
		t.Fatalf("timeseries = %d rows, last tick %v", len(rows), rows)
	}

	var events []engine.Event
	decode(t, do(t, h, http.MethodGet, "/api/v1/events?limit=500&etype=faccuse", "", false), &events)
	for _, e := range events {
		if e.Kind != engine.EventFailedAccuse {
			t.Errorf("etype filter leaked %s", e.Kind)
		}
	}
}

func TestNodesEdgesNetwork(t *testing.T) {
	s := newTestServer(t, 5)
	h := s.Handler()

	var nodes []engine.NodeRow
	decode(t, do(t, h, http.MethodGet, "/api/v1/nodes?alive=true", "", false), &nodes)
	if len(nodes) == 0 {
		t.Fatal("no nodes")
	}
	for _, n := range nodes {
		if !n.Alive {
			t.Errorf("dead node %d returned with alive=true", n.ID)
		}
	}

	var detail struct {
		Node       engine.NodeRow `json:"node"`
		Neighbours []int64        `json:"neighbours"`
	}
	decode(t, do(t, h, http.MethodGet, "/api/v1/node/0", "", false), &detail)
	if len(detail.Neighbours) != detail.Node.Degree {
		t.Errorf("node 0 has %d neighbours, degree %d", len(detail.Neighbours), detail.Node.Degree)
	}
	if rec := do(t, h, http.MethodGet, "/api/v1/node/abc", "", false); rec.Code != http.StatusNotFound {
		t.Errorf("bad id status = %d", rec.Code)
	}

	var edges []map[string]int64
	decode(t, do(t, h, http.MethodGet, "/api/v1/edges", "", false), &edges)

	var summary map[string]any
	decode(t, do(t, h, http.MethodGet, "/api/v1/network", "", false), &summary)
	if summary["edges"] != float64(len(edges)) {
		t.Errorf("network edges = %v, edge list = %d", summary["edges"], len(edges))
	}
}

func TestAdminEndpointsRequireToken(t *testing.T) {
	s := newTestServer(t, 1)
	h := s.Handler()

	if rec := do(t, h, http.MethodPost, "/api/v1/speed", `{"speed":2}`, false); rec.Code != http.StatusUnauthorized {
		t.Errorf("unauthenticated speed status = %d", rec.Code)
	}

	s.AdminKey = ""
	if rec := do(t, s.Handler(), http.MethodPost, "/api/v1/reset", "", false); rec.Code != http.StatusForbidden {
		t.Errorf("disabled admin status = %d", rec.Code)
	}
}

func TestSpeed(t *testing.T) {
	s := newTestServer(t, 1)
	h := s.Handler()

	var resp map[string]float64
	decode(t, do(t, h, http.MethodPost, "/api/v1/speed", `{"speed":4}`, true), &resp)
	if resp["speed"] != 4 || s.Eng.Speed() != 4 {
		t.Errorf("speed = %v / %v", resp["speed"], s.Eng.Speed())
	}
	if rec := do(t, h, http.MethodPost, "/api/v1/speed", `{"speed":-1}`, true); rec.Code != http.StatusBadRequest {
		t.Errorf("negative speed status = %d", rec.Code)
	}
}

func TestReset(t *testing.T) {
	s := newTestServer(t, 10)
	before := s.Sim.RunID

	var resp map[string]any
	decode(t, do(t, s.Handler(), http.MethodPost, "/api/v1/reset", "", true), &resp)
	if resp["run_id"] == before || s.Sim.Run != 2 || s.Sim.Tick != 0 {
		t.Errorf("reset response %v, run %d tick %d", resp, s.Sim.Run, s.Sim.Tick)
	}
}

func TestExportWritesCSVAndDatabase(t *testing.T) {
	s := newTestServer(t, 10)
	dir := t.TempDir()
	w, err := export.NewWriter(dir, export.NetLogo)
	if err != nil {
		t.Fatal(err)
	}
	db, err := persistence.Open(filepath.Join(dir, "api.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	s.Export, s.DB = w, db
	h := s.Handler()

	var resp map[string]any
	decode(t, do(t, h, http.MethodPost, "/api/v1/export", "", true), &resp)
	if resp["saved"] != true {
		t.Errorf("response = %v", resp)
	}
	if _, err := os.Stat(filepath.Join(w.RunDir(s.Sim.RunID), export.NodesFile)); err != nil {
		t.Errorf("nodes.csv not written: %v", err)
	}

	// ExportLimit is 2 per hour.
	do(t, h, http.MethodPost, "/api/v1/export", "", true)
	rec := do(t, h, http.MethodPost, "/api/v1/export", "", true)
	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("third export status = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("missing Retry-After header")
	}

	var runs []persistence.Run
	decode(t, do(t, h, http.MethodGet, "/api/v1/runs", "", false), &runs)
	if len(runs) != 1 || runs[0].ID != s.Sim.RunID {
		t.Errorf("runs = %+v", runs)
	}
}

func TestStatsHistoryWithoutDatabase(t *testing.T) {
	s := newTestServer(t, 1)
	if rec := do(t, s.Handler(), http.MethodGet, "/api/v1/stats/history", "", false); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

func TestCORSPreflight(t *testing.T) {
	s := newTestServer(t, 1)
	req := httptest.NewRequest(http.MethodOptions, "/api/v1/status", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "http://localhost:5173" {
		t.Error("missing CORS header")
	}
}

func TestRateLimiterWindow(t *testing.T) {
	rl := NewRateLimiter(2, time.Minute)
	now := time.Unix(1000, 0)
	rl.now = func() time.Time { return now }

	if !rl.Allow("a") || !rl.Allow("a") {
		t.Fatal("first two requests should pass")
	}
	if rl.Allow("a") {
		t.Fatal("third request should be limited")
	}
	if !rl.Allow("b") {
		t.Error("other IPs have their own window")
	}
	if got := rl.RetryAfter("a"); got != 61 {
		t.Errorf("RetryAfter = %d, want 61", got)
	}
	now = now.Add(time.Minute)
	if !rl.Allow("a") {
		t.Error("window should reset")
	}
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:5555"
	if got := clientIP(req); got != "10.0.0.1" {
		t.Errorf("clientIP = %q", got)
	}
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	if got := clientIP(req); got != "203.0.113.9" {
		t.Errorf("clientIP with XFF = %q", got)
	}
}
