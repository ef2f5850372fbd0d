// Package mcp exposes the load tester as MCP tools.
package mcp

import (
	"context"
	"errors"
	"fmt"
	"time"

	gomcp "github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/jeongkyun-oh/arbitrum-load-test/internal/scenario"
	"github.com/jeongkyun-oh/arbitrum-load-test/internal/storage"
	"github.com/jeongkyun-oh/arbitrum-load-test/pkg/types"
)

// Limits on tool arguments.
const (
	maxCount       = 10_000
	maxConcurrency = 1_000
	maxDurationSec = 3600
	maxHistory     = 100
)

// Backend runs probes and scenarios against the node under test.
type Backend interface {
	Probe(ctx context.Context) (types.ProbeResult, error)
	RunScenario(ctx context.Context, name types.ScenarioName, opts scenario.Options) types.ScenarioReport
	Record(ctx context.Context, store storage.Storage, suite types.SuiteReport) (*storage.SuiteRun, error)
}

// RegisterTools registers all load tester tools on the MCP server.
// store may be nil, in which case runs are not recorded and the history
// tools report that history is disabled.
func RegisterTools(s *server.MCPServer, backend Backend, store storage.Storage) {
	registerProbe(s, backend)
	registerRunScenario(s, backend, store)
	registerListRuns(s, store)
	registerGetRun(s, store)
	registerDeleteRun(s, store)
}

func registerProbe(s *server.MCPServer, backend Backend) {
	tool := gomcp.NewTool("probe_node",
		gomcp.WithDescription("Check that the node answers JSON-RPC and the sender can pay for a transfer: block, chain ID, gas price, balance, estimated transfer gas."),
		gomcp.WithReadOnlyHintAnnotation(true),
	)
	s.AddTool(tool, func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		res, err := backend.Probe(ctx)
		if err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("Node unreachable: %v", err)), nil
		}
		return gomcp.NewToolResultText(formatProbe(res)), nil
	})
}

func registerRunScenario(s *server.MCPServer, backend Backend, store storage.Storage) {
	tool := gomcp.NewTool("run_scenario",
		gomcp.WithDescription("Run one load scenario and return its statistics. This is a MUTATING operation: it sends real transactions."),
		gomcp.WithString("scenario",
			gomcp.Required(),
			gomcp.Description("Scenario: eth-transfers, contract-deployment, contract-calls, mixed-workload"),
			gomcp.Enum(string(types.ScenarioTransfers), string(types.ScenarioDeployments), string(types.ScenarioCalls), string(types.ScenarioMixed)),
		),
		gomcp.WithNumber("count",
			gomcp.Description("Transactions to send (count-driven scenarios)"),
		),
		gomcp.WithNumber("concurrency",
			gomcp.Description("Submissions in flight per batch (count-driven scenarios)"),
		),
		gomcp.WithNumber("duration_sec",
			gomcp.Description("Run time in seconds (mixed-workload)"),
		),
		gomcp.WithNumber("tps",
			gomcp.Description("Target submissions per second (mixed-workload)"),
		),
		gomcp.WithDestructiveHintAnnotation(false),
	)
	s.AddTool(tool, func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		raw, err := req.RequireString("scenario")
		if err != nil {
			return gomcp.NewToolResultError("scenario is required"), nil
		}
		name, ok := types.ParseScenario(raw)
		if !ok {
			return gomcp.NewToolResultError(fmt.Sprintf("unknown scenario %q", raw)), nil
		}

		opts, err := scenarioOptions(name, req)
		if err != nil {
			return gomcp.NewToolResultError(err.Error()), nil
		}

		suite := types.SuiteReport{Timestamp: time.Now().UTC()}
		report := backend.RunScenario(ctx, name, opts)
		suite.Tests = map[string]types.ScenarioReport{name.ReportKey(): report}

		text := formatReport(report)
		if store != nil {
			run, err := backend.Record(ctx, store, suite)
			if err != nil {
				text += "\n\n" + kv("History", "not recorded: "+err.Error())
			} else {
				text += "\n\n" + kv("Run ID", run.ID)
			}
		}

		if report.State == types.StateFailed {
			return gomcp.NewToolResultError(text), nil
		}
		return gomcp.NewToolResultText(text), nil
	})
}

// scenarioOptions overlays tool arguments on the scenario defaults.
func scenarioOptions(name types.ScenarioName, req gomcp.CallToolRequest) (scenario.Options, error) {
	opts := scenario.DefaultOptions(name)

	if name == types.ScenarioMixed {
		if v := req.GetInt("duration_sec", 0); v != 0 {
			if v < 0 || v > maxDurationSec {
				return opts, fmt.Errorf("duration_sec must be between 1 and %d", maxDurationSec)
			}
			opts.Duration = time.Duration(v) * time.Second
		}
		if v := req.GetFloat("tps", 0); v != 0 {
			if v < 0 {
				return opts, errors.New("tps must be positive")
			}
			opts.TPS = v
		}
		return opts, nil
	}

	if v := req.GetInt("count", 0); v != 0 {
		if v < 0 || v > maxCount {
			return opts, fmt.Errorf("count must be between 1 and %d", maxCount)
		}
		opts.Count = v
	}
	if v := req.GetInt("concurrency", 0); v != 0 {
		if v < 0 || v > maxConcurrency {
			return opts, fmt.Errorf("concurrency must be between 1 and %d", maxConcurrency)
		}
		opts.Concurrency = v
	}
	return opts, nil
}

func historyDisabled() *gomcp.CallToolResult {
	return gomcp.NewToolResultError("Run history is disabled (start the server with a database path)")
}

func registerListRuns(s *server.MCPServer, store storage.Storage) {
	tool := gomcp.NewTool("list_runs",
		gomcp.WithDescription("List recorded runs, favorites first, newest first."),
		gomcp.WithNumber("limit",
			gomcp.Description("Max results to return (default: 10, max: 100)"),
		),
		gomcp.WithNumber("offset",
			gomcp.Description("Results offset for pagination (default: 0)"),
		),
		gomcp.WithReadOnlyHintAnnotation(true),
	)
	s.AddTool(tool, func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		if store == nil {
			return historyDisabled(), nil
		}
		limit := req.GetInt("limit", 10)
		if limit <= 0 || limit > maxHistory {
			limit = 10
		}
		offset := max(req.GetInt("offset", 0), 0)

		page, err := store.ListRuns(ctx, limit, offset)
		if err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("History failed: %v", err)), nil
		}
		return gomcp.NewToolResultText(formatRuns(page)), nil
	})
}

func registerGetRun(s *server.MCPServer, store storage.Storage) {
	tool := gomcp.NewTool("get_run",
		gomcp.WithDescription("Get the per-scenario results of a recorded run."),
		gomcp.WithString("id",
			gomcp.Required(),
			gomcp.Description("Run ID"),
		),
		gomcp.WithReadOnlyHintAnnotation(true),
	)
	s.AddTool(tool, func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		if store == nil {
			return historyDisabled(), nil
		}
		id, err := req.RequireString("id")
		if err != nil {
			return gomcp.NewToolResultError("id is required"), nil
		}
		run, err := store.GetRun(ctx, id)
		if err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("Get run failed: %v", err)), nil
		}
		if run == nil {
			return gomcp.NewToolResultError(fmt.Sprintf("Run %s not found", id)), nil
		}
		return gomcp.NewToolResultText(formatRun(run)), nil
	})
}

func registerDeleteRun(s *server.MCPServer, store storage.Storage) {
	tool := gomcp.NewTool("delete_run",
		gomcp.WithDescription("Delete a recorded run and its scenario results. This is a MUTATING operation."),
		gomcp.WithString("id",
			gomcp.Required(),
			gomcp.Description("Run ID to delete"),
		),
		gomcp.WithDestructiveHintAnnotation(true),
	)
	s.AddTool(tool, func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		if store == nil {
			return historyDisabled(), nil
		}
		id, err := req.RequireString("id")
		if err != nil {
			return gomcp.NewToolResultError("id is required"), nil
		}
		if err := store.DeleteRun(ctx, id); err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("Delete failed: %v", err)), nil
		}
		return gomcp.NewToolResultText(joinLines(
			section("Run Deleted"),
			kv("ID", id),
		)), nil
	})
}
