package mcp

import (
	"fmt"
	"sort"
	"strings"

	"github.com/jeongkyun-oh/arbitrum-load-test/internal/storage"
	"github.com/jeongkyun-oh/arbitrum-load-test/pkg/types"
)

// formatNumber adds comma separators to integers.
func formatNumber(n any) string {
	var s string
	switch v := n.(type) {
	case float64:
		if v == float64(int64(v)) {
			s = fmt.Sprintf("%d", int64(v))
		} else {
			return fmt.Sprintf("%.1f", v)
		}
	case int64:
		s = fmt.Sprintf("%d", v)
	case uint64:
		s = fmt.Sprintf("%d", v)
	case int:
		s = fmt.Sprintf("%d", v)
	default:
		return fmt.Sprintf("%v", n)
	}

	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")
	if len(s) <= 3 {
		if neg {
			return "-" + s
		}
		return s
	}

	var result strings.Builder
	if neg {
		result.WriteByte('-')
	}
	start := len(s) % 3
	if start > 0 {
		result.WriteString(s[:start])
	}
	for i := start; i < len(s); i += 3 {
		if i > 0 {
			result.WriteByte(',')
		}
		result.WriteString(s[i : i+3])
	}
	return result.String()
}

// kv formats a key-value pair with aligned values (20 char key width).
func kv(key string, value any) string {
	return fmt.Sprintf("%-20s %v", key+":", value)
}

// section returns a markdown section header.
func section(title string) string {
	return "## " + title
}

// joinLines joins non-empty lines with newlines.
func joinLines(lines ...string) string {
	var result []string
	for _, l := range lines {
		if l != "" {
			result = append(result, l)
		}
	}
	return strings.Join(result, "\n")
}

// formatPct formats a ratio as a percentage string.
func formatPct(part, total int) string {
	if total == 0 {
		return "0.0%"
	}
	return fmt.Sprintf("%.1f%%", float64(part)*100/float64(total))
}

// formatMs formats milliseconds with a "ms" suffix.
func formatMs(v float64) string {
	return fmt.Sprintf("%.1fms", v)
}

func formatProbe(res types.ProbeResult) string {
	return joinLines(
		section("Node Probe: OK"),
		kv("Client", res.ClientVersion),
		kv("Chain ID", res.ChainID),
		kv("Block", formatNumber(res.BlockNumber)),
		kv("Gas Price", res.GasPrice+" wei"),
		kv("Sender", res.Sender),
		kv("Sender Balance", res.Balance+" wei"),
		kv("Transfer Gas", formatNumber(res.EstimatedGas)),
	)
}

func formatReport(r types.ScenarioReport) string {
	header := section(fmt.Sprintf("Scenario %s: %s", r.Scenario, r.State))
	if r.Error != "" {
		return joinLines(header, kv("Error", r.Error))
	}

	st := r.Stats
	lines := []string{
		header,
		kv("Total TXs", formatNumber(st.TotalTx)),
		kv("Succeeded", fmt.Sprintf("%s (%s)", formatNumber(st.Succeeded), formatPct(st.Succeeded, st.TotalTx))),
		kv("Failed", formatNumber(st.Failed)),
	}
	if r.TxCount > 0 {
		lines = append(lines, kv("Issued", formatNumber(r.TxCount)))
	}
	lines = append(lines,
		kv("Duration", fmt.Sprintf("%.2fs", r.TotalDuration)),
		kv("TPS", fmt.Sprintf("%.2f", r.TPS)),
		kv("Blocks Produced", formatNumber(r.BlocksProduced)),
	)
	out := joinLines(lines...)

	if st.Succeeded > 0 {
		out += "\n\n" + joinLines(
			section("Confirmation Latency"),
			kv("Avg", formatMs(st.AvgConfirmationTime)),
			kv("Median", formatMs(st.MedianConfirmationTime)),
			kv("P95", formatMs(st.P95ConfirmationTime)),
			kv("Min", formatMs(st.MinConfirmationTime)),
			kv("Max", formatMs(st.MaxConfirmationTime)),
			kv("Avg Gas Used", formatNumber(st.AvgGasUsed)),
		)
	}

	if len(st.Failures) > 0 {
		kinds := make([]string, 0, len(st.Failures))
		for k := range st.Failures {
			kinds = append(kinds, string(k))
		}
		sort.Strings(kinds)
		lines := []string{section("Failures")}
		for _, k := range kinds {
			lines = append(lines, kv(k, formatNumber(st.Failures[types.FailureKind(k)])))
		}
		out += "\n\n" + joinLines(lines...)
	}
	return out
}

func formatRuns(page *storage.PaginatedRuns) string {
	if len(page.Runs) == 0 {
		return joinLines(section("Run History"), "No runs recorded.")
	}

	lines := []string{
		section(fmt.Sprintf("Run History (%d-%d of %d)", page.Offset+1, page.Offset+len(page.Runs), page.Total)),
	}
	for _, run := range page.Runs {
		star := " "
		if run.IsFavorite {
			star = "*"
		}
		lines = append(lines, fmt.Sprintf("%s %s  %s  %-9s  %s txs, %s failed  %s",
			star,
			run.ID,
			run.StartedAt.UTC().Format("2006-01-02 15:04:05"),
			run.Status,
			formatNumber(run.TotalTx),
			formatNumber(run.Failed),
			nameOrEmpty(run.CustomName),
		))
	}
	return joinLines(lines...)
}

func formatRun(run *storage.SuiteRun) string {
	out := joinLines(
		section("Run "+run.DisplayName()),
		kv("ID", run.ID),
		kv("Status", run.Status),
		kv("Started", run.StartedAt.UTC().Format("2006-01-02 15:04:05")),
		kv("RPC", run.RPCURL),
		kv("Chain ID", run.ChainID),
		kv("Client", run.ClientVersion),
		kv("Total TXs", formatNumber(run.TotalTx)),
		kv("Succeeded", formatNumber(run.Succeeded)),
		kv("Failed", formatNumber(run.Failed)),
	)
	for _, res := range run.Results {
		out += "\n\n" + formatReport(res.Report)
	}
	return out
}

func nameOrEmpty(name *string) string {
	if name == nil {
		return ""
	}
	return *name
}
