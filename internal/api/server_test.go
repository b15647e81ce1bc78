package api

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"testing/fstest"

	"github.com/jared-teets/flight-sim/internal/auth"
	"github.com/jared-teets/flight-sim/internal/status"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

type testServer struct {
	handler http.Handler
	store   *status.Store
	ready   atomic.Bool
	stops   atomic.Int32
}

func newTestServer(authCfg auth.Config, withWeb bool) *testServer {
	ts := &testServer{store: status.NewStore(8)}
	routes := Routes{
		Status: ts.store,
		Ready:  ts.ready.Load,
		Stop:   func() { ts.stops.Add(1) },
	}
	if withWeb {
		routes.Web = http.FileServerFS(fstest.MapFS{"index.html": {Data: []byte("<html>motion</html>")}})
	}
	srv := NewServer(":0", testLogger(), authCfg, routes)
	ts.handler = srv.HTTPServer().Handler
	return ts
}

func (ts *testServer) do(method, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	ts.handler.ServeHTTP(w, req)
	return w
}

func TestReadyz(t *testing.T) {
	ts := newTestServer(auth.Config{}, true)

	if w := ts.do("GET", "/readyz", ""); w.Code != http.StatusServiceUnavailable {
		t.Errorf("readyz before running = %d, want 503", w.Code)
	}
	ts.ready.Store(true)
	if w := ts.do("GET", "/readyz", ""); w.Code != http.StatusOK || w.Body.String() != "ready\n" {
		t.Errorf("readyz while running = %d %q", w.Code, w.Body.String())
	}
	if w := ts.do("GET", "/healthz", ""); w.Code != http.StatusOK {
		t.Errorf("healthz = %d", w.Code)
	}
}

func TestStatus(t *testing.T) {
	ts := newTestServer(auth.Config{}, true)

	w := ts.do("GET", "/api/v1/status", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var empty map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &empty); err != nil {
		t.Fatal(err)
	}
	if empty["state"] != "init" || empty["latest"] != nil {
		t.Errorf("before first tick = %v", empty)
	}

	ts.store.SetState("running")
	ts.store.Publish(status.Snapshot{Tick: 42, Hold: status.HoldPaused})

	w = ts.do("GET", "/api/v1/status", "")
	var resp statusResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.State != "running" || resp.Latest == nil || resp.Latest.Tick != 42 || resp.Latest.Hold != status.HoldPaused {
		t.Errorf("status = %+v", resp)
	}
}

// TestStopRequiresToken verifies the stop endpoint is guarded while the
// read-only endpoints stay public.
func TestStopRequiresToken(t *testing.T) {
	ts := newTestServer(auth.Config{Enabled: true, Token: "s3cret"}, true)

	if w := ts.do("POST", "/api/v1/stop", ""); w.Code != http.StatusUnauthorized {
		t.Errorf("stop without token = %d, want 401", w.Code)
	}
	if ts.stops.Load() != 0 {
		t.Fatal("stop called without a token")
	}

	w := ts.do("POST", "/api/v1/stop", "s3cret")
	if w.Code != http.StatusAccepted {
		t.Errorf("stop with token = %d, want 202", w.Code)
	}
	if ts.stops.Load() != 1 {
		t.Errorf("stop called %d times, want 1", ts.stops.Load())
	}

	if w := ts.do("GET", "/api/v1/status", ""); w.Code != http.StatusOK {
		t.Errorf("status without token = %d, want 200", w.Code)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	ts := newTestServer(auth.Config{}, false)
	if w := ts.do("GET", "/api/v1/stop", ""); w.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET /api/v1/stop = %d, want 405", w.Code)
	}
	if ts.stops.Load() != 0 {
		t.Error("stop called by GET")
	}
}

func TestWebIndex(t *testing.T) {
	ts := newTestServer(auth.Config{Enabled: true, Token: "s3cret"}, true)
	w := ts.do("GET", "/", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "motion") {
		t.Errorf("index = %d %q", w.Code, w.Body.String())
	}
}
