package mcp

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	gomcp "github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/stretchr/testify/require"

	"github.com/jeongkyun-oh/arbitrum-load-test/internal/scenario"
	"github.com/jeongkyun-oh/arbitrum-load-test/internal/storage"
	"github.com/jeongkyun-oh/arbitrum-load-test/pkg/types"
)

type fakeBackend struct {
	probe    types.ProbeResult
	probeErr error

	report  types.ScenarioReport
	gotName types.ScenarioName
	gotOpts scenario.Options
	runs    int
}

func (b *fakeBackend) Probe(ctx context.Context) (types.ProbeResult, error) {
	return b.probe, b.probeErr
}

func (b *fakeBackend) RunScenario(ctx context.Context, name types.ScenarioName, opts scenario.Options) types.ScenarioReport {
	b.runs++
	b.gotName = name
	b.gotOpts = opts
	r := b.report
	r.Scenario = name
	return r
}

func (b *fakeBackend) Record(ctx context.Context, store storage.Storage, suite types.SuiteReport) (*storage.SuiteRun, error) {
	run := storage.NewSuiteRun(suite, storage.RunInfo{RPCURL: "http://127.0.0.1:8547", ChainID: 412346})
	return run, store.SaveSuite(ctx, run)
}

func newTestStore(t *testing.T) *storage.SQLiteStorage {
	t.Helper()
	store, err := storage.NewSQLiteStorage(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func newTestServer(backend Backend, store storage.Storage) *server.MCPServer {
	s := server.NewMCPServer("arbitrum-load-test", "test", server.WithToolCapabilities(true))
	RegisterTools(s, backend, store)
	return s
}

func callTool(t *testing.T, s *server.MCPServer, name string, args map[string]any) (string, bool) {
	t.Helper()
	tool := s.GetTool(name)
	require.NotNil(t, tool, "tool %s not registered", name)

	req := gomcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args

	res, err := tool.Handler(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, res.Content, 1)
	text, ok := res.Content[0].(gomcp.TextContent)
	require.True(t, ok)
	return text.Text, res.IsError
}

func doneReport() types.ScenarioReport {
	return types.ScenarioReport{
		State: types.StateDone,
		Stats: types.Summary{
			TotalTx: 1200, Succeeded: 1198, Failed: 2,
			AvgConfirmationTime: 250, AvgGasUsed: 21000,
			Failures: map[types.FailureKind]int{types.FailureConfirmationTimeout: 2},
		},
		TotalDuration: 12,
		TPS:           100,
	}
}

func TestRegisterTools(t *testing.T) {
	s := newTestServer(&fakeBackend{}, nil)
	tools := s.ListTools()
	for _, name := range []string{"probe_node", "run_scenario", "list_runs", "get_run", "delete_run"} {
		require.Contains(t, tools, name)
	}
}

func TestProbeNode(t *testing.T) {
	backend := &fakeBackend{probe: types.ProbeResult{
		BlockNumber: 123456, ChainID: 412346, GasPrice: "100000000",
		Sender: "0x3f1Eae7D46d88F08fc2F8ed27FCb2AB183EB2d0E", Balance: "1000", EstimatedGas: 21000,
		ClientVersion: "nitro/v3.1.0",
	}}
	text, isErr := callTool(t, newTestServer(backend, nil), "probe_node", nil)
	require.False(t, isErr)
	require.Contains(t, text, "nitro/v3.1.0")
	require.Contains(t, text, "123,456")
	require.Contains(t, text, "21,000")

	backend.probeErr = errors.New("connection refused")
	text, isErr = callTool(t, newTestServer(backend, nil), "probe_node", nil)
	require.True(t, isErr)
	require.Contains(t, text, "connection refused")
}

func TestRunScenario_RecordsRun(t *testing.T) {
	store := newTestStore(t)
	backend := &fakeBackend{report: doneReport()}
	s := newTestServer(backend, store)

	text, isErr := callTool(t, s, "run_scenario", map[string]any{
		"scenario":    "eth-transfers",
		"count":       float64(50),
		"concurrency": float64(5),
	})
	require.False(t, isErr, text)
	require.Equal(t, types.ScenarioTransfers, backend.gotName)
	require.Equal(t, 50, backend.gotOpts.Count)
	require.Equal(t, 5, backend.gotOpts.Concurrency)
	require.Equal(t, scenario.DefaultOptions(types.ScenarioTransfers).Wallets, backend.gotOpts.Wallets)
	require.Contains(t, text, "1,200")
	require.Contains(t, text, "99.8%")
	require.Contains(t, text, "confirmation-timeout")
	require.Contains(t, text, "Run ID")

	page, err := store.ListRuns(context.Background(), 10, 0)
	require.NoError(t, err)
	require.Equal(t, 1, page.Total)

	text, isErr = callTool(t, s, "list_runs", nil)
	require.False(t, isErr)
	require.Contains(t, text, page.Runs[0].ID)

	text, isErr = callTool(t, s, "get_run", map[string]any{"id": page.Runs[0].ID})
	require.False(t, isErr)
	require.Contains(t, text, "Scenario eth-transfers: done")
	require.Contains(t, text, "412346")

	_, isErr = callTool(t, s, "delete_run", map[string]any{"id": page.Runs[0].ID})
	require.False(t, isErr)
	text, isErr = callTool(t, s, "get_run", map[string]any{"id": page.Runs[0].ID})
	require.True(t, isErr)
	require.Contains(t, text, "not found")
}

func TestRunScenario_ReportKeyAndMixedOptions(t *testing.T) {
	backend := &fakeBackend{report: doneReport()}
	s := newTestServer(backend, nil)

	_, isErr := callTool(t, s, "run_scenario", map[string]any{
		"scenario":     "mixedWorkload",
		"duration_sec": float64(5),
		"tps":          float64(12.5),
		"count":        float64(999), // ignored by the mixed workload
	})
	require.False(t, isErr)
	require.Equal(t, types.ScenarioMixed, backend.gotName)
	require.Equal(t, 5*time.Second, backend.gotOpts.Duration)
	require.Equal(t, 12.5, backend.gotOpts.TPS)
	require.Zero(t, backend.gotOpts.Count)
}

func TestRunScenario_InvalidArguments(t *testing.T) {
	tests := []struct {
		name string
		args map[string]any
		want string
	}{
		{"missing scenario", map[string]any{}, "scenario is required"},
		{"unknown scenario", map[string]any{"scenario": "stress"}, "unknown scenario"},
		{"count too large", map[string]any{"scenario": "contract-calls", "count": float64(maxCount + 1)}, "count must be"},
		{"negative concurrency", map[string]any{"scenario": "contract-calls", "concurrency": float64(-1)}, "concurrency must be"},
		{"duration too long", map[string]any{"scenario": "mixed-workload", "duration_sec": float64(maxDurationSec + 1)}, "duration_sec must be"},
		{"negative tps", map[string]any{"scenario": "mixed-workload", "tps": float64(-3)}, "tps must be positive"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := &fakeBackend{}
			text, isErr := callTool(t, newTestServer(backend, nil), "run_scenario", tt.args)
			require.True(t, isErr)
			require.Contains(t, text, tt.want)
			require.Zero(t, backend.runs)
		})
	}
}

func TestRunScenario_FailedScenarioIsError(t *testing.T) {
	backend := &fakeBackend{report: types.ScenarioReport{State: types.StateFailed, Error: "deploy fixture: timeout"}}
	text, isErr := callTool(t, newTestServer(backend, nil), "run_scenario", map[string]any{"scenario": "contract-calls"})
	require.True(t, isErr)
	require.Contains(t, text, "deploy fixture: timeout")
	require.NotContains(t, text, "Run ID")
}

func TestHistoryTools_Disabled(t *testing.T) {
	s := newTestServer(&fakeBackend{}, nil)
	for _, name := range []string{"list_runs", "get_run", "delete_run"} {
		text, isErr := callTool(t, s, name, map[string]any{"id": "x"})
		require.True(t, isErr, name)
		require.Contains(t, text, "disabled")
	}
}

func TestListRuns_Empty(t *testing.T) {
	text, isErr := callTool(t, newTestServer(&fakeBackend{}, newTestStore(t)), "list_runs", map[string]any{"limit": float64(500)})
	require.False(t, isErr)
	require.Contains(t, text, "No runs recorded.")
}

func TestDeleteRun_NotFound(t *testing.T) {
	text, isErr := callTool(t, newTestServer(&fakeBackend{}, newTestStore(t)), "delete_run", map[string]any{"id": "missing"})
	require.True(t, isErr)
	require.Contains(t, text, storage.ErrRunNotFound.Error())
}

func TestFormatNumber(t *testing.T) {
	tests := []struct {
		in   any
		want string
	}{
		{0, "0"},
		{999, "999"},
		{1000, "1,000"},
		{1234567, "1,234,567"},
		{-1234, "-1,234"},
		{int64(100000), "100,000"},
		{uint64(21000), "21,000"},
		{float64(5000), "5,000"},
		{2.5, "2.5"},
		{"x", "x"},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, formatNumber(tt.in), "formatNumber(%v)", tt.in)
	}
}

func TestFormatPct(t *testing.T) {
	require.Equal(t, "0.0%", formatPct(0, 0))
	require.Equal(t, "50.0%", formatPct(1, 2))
}
