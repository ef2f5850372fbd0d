package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/jeongkyun-oh/arbitrum-load-test/internal/metrics"
	"github.com/jeongkyun-oh/arbitrum-load-test/internal/rpc/rpctest"
	"github.com/jeongkyun-oh/arbitrum-load-test/internal/storage"
	"github.com/jeongkyun-oh/arbitrum-load-test/pkg/types"
)

func newTestStore(t *testing.T) *storage.SQLiteStorage {
	t.Helper()
	store, err := storage.NewSQLiteStorage(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func saveTestRun(t *testing.T, store storage.Storage) *storage.SuiteRun {
	t.Helper()
	suite := types.SuiteReport{
		Timestamp: time.Now().UTC(),
		Tests: map[string]types.ScenarioReport{
			"ethTransfers": {Scenario: types.ScenarioTransfers, State: types.StateDone,
				Stats: types.Summary{TotalTx: 10, Succeeded: 10}},
		},
	}
	run := storage.NewSuiteRun(suite, storage.RunInfo{RPCURL: "http://127.0.0.1:8547", ChainID: 412346})
	if err := store.SaveSuite(context.Background(), run); err != nil {
		t.Fatalf("SaveSuite: %v", err)
	}
	return run
}

func newTestServer(t *testing.T, cfg ServerConfig) *httptest.Server {
	t.Helper()
	s := NewServer(cfg)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		ts.Close()
		s.Close()
	})
	return ts
}

func do(t *testing.T, method, url, body string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()

	var out map[string]any
	if resp.Header.Get("Content-Type") == "application/json" {
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			t.Fatalf("decode response: %v", err)
		}
	}
	return resp, out
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, ServerConfig{})

	resp, body := do(t, http.MethodGet, ts.URL+"/health", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if body["status"] != "healthy" {
		t.Errorf("status field = %v, want healthy", body["status"])
	}
	if _, ok := body["uptime_seconds"]; !ok {
		t.Error("missing uptime_seconds")
	}
}

func TestReady(t *testing.T) {
	tests := []struct {
		name       string
		nodeErr    error
		wantStatus int
		wantReady  bool
	}{
		{"node reachable", nil, http.StatusOK, true},
		{"node down", errors.New("connection refused"), http.StatusServiceUnavailable, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			node := rpctest.NewNode(412346)
			if tt.nodeErr != nil {
				node.Errors["eth_blockNumber"] = tt.nodeErr
			}
			ts := newTestServer(t, ServerConfig{Health: RPCHealth{Client: node}})

			resp, body := do(t, http.MethodGet, ts.URL+"/ready", "")
			if resp.StatusCode != tt.wantStatus {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}
			if body["ready"] != tt.wantReady {
				t.Errorf("ready = %v, want %v", body["ready"], tt.wantReady)
			}
			checks := body["checks"].([]any)
			if len(checks) != 1 {
				t.Fatalf("checks = %d, want 1", len(checks))
			}
			check := checks[0].(map[string]any)
			if tt.nodeErr != nil && check["error"] != tt.nodeErr.Error() {
				t.Errorf("check error = %v, want %q", check["error"], tt.nodeErr.Error())
			}
		})
	}
}

func TestReady_NoChecker(t *testing.T) {
	ts := newTestServer(t, ServerConfig{})
	resp, body := do(t, http.MethodGet, ts.URL+"/ready", "")
	if resp.StatusCode != http.StatusOK || body["ready"] != true {
		t.Errorf("got %d ready=%v, want 200 ready=true", resp.StatusCode, body["ready"])
	}
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewPrometheusMetrics(reg)
	m.RecordTxSent(types.TxKindTransfer)

	ts := newTestServer(t, ServerConfig{Gatherer: reg})

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()

	buf := new(bytes.Buffer)
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		t.Fatalf("read body: %v", err)
	}
	if !strings.Contains(buf.String(), `kind="transfer"`) {
		t.Errorf("metrics output missing transfer counter:\n%s", buf.String())
	}
}

func TestHistory_Disabled(t *testing.T) {
	ts := newTestServer(t, ServerConfig{})
	for _, path := range []string{"/history", "/history/abc"} {
		resp, _ := do(t, http.MethodGet, ts.URL+path, "")
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("%s: status = %d, want 404", path, resp.StatusCode)
		}
	}
}

func TestHistory_List(t *testing.T) {
	store := newTestStore(t)
	saveTestRun(t, store)
	saveTestRun(t, store)
	ts := newTestServer(t, ServerConfig{Store: store})

	tests := []struct {
		query     string
		wantLimit float64
		wantRuns  int
	}{
		{"", defaultHistoryLimit, 2},
		{"?limit=1", 1, 1},
		{"?limit=1&offset=1", 1, 1},
		{"?limit=1000", defaultHistoryLimit, 2}, // over the cap falls back to the default
		{"?limit=abc&offset=-3", defaultHistoryLimit, 2},
	}
	for _, tt := range tests {
		resp, body := do(t, http.MethodGet, ts.URL+"/history"+tt.query, "")
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("%q: status = %d", tt.query, resp.StatusCode)
		}
		if body["limit"] != tt.wantLimit {
			t.Errorf("%q: limit = %v, want %v", tt.query, body["limit"], tt.wantLimit)
		}
		if body["total"] != float64(2) {
			t.Errorf("%q: total = %v, want 2", tt.query, body["total"])
		}
		if runs := body["runs"].([]any); len(runs) != tt.wantRuns {
			t.Errorf("%q: runs = %d, want %d", tt.query, len(runs), tt.wantRuns)
		}
	}

	resp, _ := do(t, http.MethodPost, ts.URL+"/history", "")
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("POST status = %d, want 405", resp.StatusCode)
	}
}

func TestHistory_Detail(t *testing.T) {
	store := newTestStore(t)
	run := saveTestRun(t, store)
	ts := newTestServer(t, ServerConfig{Store: store})
	url := ts.URL + "/history/" + run.ID

	resp, body := do(t, http.MethodGet, url, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET status = %d", resp.StatusCode)
	}
	if body["id"] != run.ID {
		t.Errorf("id = %v, want %s", body["id"], run.ID)
	}
	if results := body["results"].([]any); len(results) != 1 {
		t.Errorf("results = %d, want 1", len(results))
	}

	resp, body = do(t, http.MethodPatch, url, `{"customName":"baseline","isFavorite":true}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("PATCH status = %d", resp.StatusCode)
	}
	if body["customName"] != "baseline" || body["isFavorite"] != true {
		t.Errorf("PATCH returned %v", body)
	}

	resp, _ = do(t, http.MethodPatch, url, `{`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad PATCH status = %d, want 400", resp.StatusCode)
	}

	resp, body = do(t, http.MethodDelete, url, "")
	if resp.StatusCode != http.StatusOK || body["deleted"] != true {
		t.Fatalf("DELETE got %d %v", resp.StatusCode, body)
	}

	resp, _ = do(t, http.MethodGet, url, "")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("GET after delete status = %d, want 404", resp.StatusCode)
	}
	resp, _ = do(t, http.MethodDelete, url, "")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("second DELETE status = %d, want 404", resp.StatusCode)
	}
	resp, _ = do(t, http.MethodPatch, url, `{"isFavorite":false}`)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("PATCH missing run status = %d, want 404", resp.StatusCode)
	}
}

func TestHistory_DetailBadPath(t *testing.T) {
	ts := newTestServer(t, ServerConfig{Store: newTestStore(t)})
	for _, path := range []string{"/history/", "/history/a/b"} {
		resp, _ := do(t, http.MethodGet, ts.URL+path, "")
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", path, resp.StatusCode)
		}
	}
}

func TestCORS(t *testing.T) {
	tests := []struct {
		name    string
		allowed string
		origin  string
		want    string
	}{
		{"allow all", "*", "http://example.com", "*"},
		{"empty allows all", "", "http://example.com", "*"},
		{"listed origin", "http://a.test, http://b.test", "http://b.test", "http://b.test"},
		{"unlisted origin", "http://a.test", "http://evil.test", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t, ServerConfig{Store: newTestStore(t), CORSAllowedOrigins: tt.allowed})

			req, _ := http.NewRequest(http.MethodOptions, ts.URL+"/history", nil)
			req.Header.Set("Origin", tt.origin)
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatalf("OPTIONS: %v", err)
			}
			resp.Body.Close()

			if resp.StatusCode != http.StatusNoContent {
				t.Errorf("status = %d, want 204", resp.StatusCode)
			}
			if got := resp.Header.Get("Access-Control-Allow-Origin"); got != tt.want {
				t.Errorf("Allow-Origin = %q, want %q", got, tt.want)
			}
		})
	}
}
