// Package report persists suite results and renders them as console tables.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/jeongkyun-oh/arbitrum-load-test/pkg/types"
)

// FileName returns the results file name for a suite started at ts.
func FileName(ts time.Time) string {
	return fmt.Sprintf("load-test-results-%d.json", ts.UnixMilli())
}

// WriteJSON writes the suite report into dir and returns the file path. The
// file is written to a temporary name first and renamed into place, so a
// reader never sees a partial document.
func WriteJSON(dir string, suite types.SuiteReport) (string, error) {
	if suite.Timestamp.IsZero() {
		suite.Timestamp = time.Now().UTC()
	}
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}

	data, err := json.MarshalIndent(suite, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode report: %w", err)
	}

	path := filepath.Join(dir, FileName(suite.Timestamp))
	tmp, err := os.CreateTemp(dir, ".load-test-results-*.tmp")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		return "", fmt.Errorf("write report: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close report: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return "", err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("rename report: %w", err)
	}
	return path, nil
}

// ReadJSON loads a suite report written by WriteJSON.
func ReadJSON(path string) (types.SuiteReport, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return types.SuiteReport{}, err
	}
	var suite types.SuiteReport
	if err := json.Unmarshal(data, &suite); err != nil {
		return types.SuiteReport{}, fmt.Errorf("decode %s: %w", path, err)
	}
	return suite, nil
}

// PrintScenario renders one scenario's results.
func PrintScenario(w io.Writer, r types.ScenarioReport) {
	fmt.Fprintf(w, "=== %s (%s) ===\n", r.Scenario, r.State)
	if r.Error != "" {
		fmt.Fprintf(w, "error: %s\n", r.Error)
	}

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Metric", "Value"})
	table.SetAlignment(tablewriter.ALIGN_LEFT)

	s := r.Stats
	rows := [][]string{
		{"Total transactions", fmt.Sprintf("%d", s.TotalTx)},
		{"Succeeded", fmt.Sprintf("%d", s.Succeeded)},
		{"Failed", fmt.Sprintf("%d", s.Failed)},
	}
	if r.TxCount > 0 {
		rows = append(rows, []string{"Issued", fmt.Sprintf("%d", r.TxCount)})
	}
	rows = append(rows,
		[]string{"Total duration (s)", fmt.Sprintf("%.2f", r.TotalDuration)},
		[]string{"Transactions per second", fmt.Sprintf("%.2f", r.TPS)},
		[]string{"Avg confirmation (ms)", fmt.Sprintf("%.2f", s.AvgConfirmationTime)},
		[]string{"Median confirmation (ms)", fmt.Sprintf("%.2f", s.MedianConfirmationTime)},
		[]string{"Min confirmation (ms)", fmt.Sprintf("%.2f", s.MinConfirmationTime)},
		[]string{"Max confirmation (ms)", fmt.Sprintf("%.2f", s.MaxConfirmationTime)},
		[]string{"P95 confirmation (ms)", fmt.Sprintf("%.2f", s.P95ConfirmationTime)},
		[]string{"Total gas used", fmt.Sprintf("%d", s.TotalGasUsed)},
		[]string{"Avg gas per tx", fmt.Sprintf("%.2f", s.AvgGasUsed)},
		[]string{"Blocks produced", fmt.Sprintf("%d", r.BlocksProduced)},
	)
	table.AppendBulk(rows)
	table.Render()

	if len(s.ByKind) > 0 || len(s.Failures) > 0 {
		printBreakdown(w, s)
	}
}

func printBreakdown(w io.Writer, s types.Summary) {
	if len(s.ByKind) > 0 {
		table := tablewriter.NewWriter(w)
		table.SetHeader([]string{"Kind", "Succeeded", "Failed"})
		for _, kind := range sortedKeys(s.ByKind) {
			c := s.ByKind[kind]
			table.Append([]string{string(kind), fmt.Sprintf("%d", c.Succeeded), fmt.Sprintf("%d", c.Failed)})
		}
		table.Render()
	}

	if len(s.Failures) > 0 {
		table := tablewriter.NewWriter(w)
		table.SetHeader([]string{"Failure", "Count"})
		for _, kind := range sortedKeys(s.Failures) {
			table.Append([]string{string(kind), fmt.Sprintf("%d", s.Failures[kind])})
		}
		table.Render()
	}
}

// PrintSuite renders a one-row-per-scenario overview in suite order.
func PrintSuite(w io.Writer, suite types.SuiteReport) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{
		"Scenario",
		"State",
		"Txs",
		"OK",
		"Failed",
		"Duration (s)",
		"TPS",
		"Avg (ms)",
		"Median (ms)",
		"P95 (ms)",
		"Avg Gas",
		"Blocks",
	})

	for _, key := range suiteOrder(suite) {
		r := suite.Tests[key]
		table.Append([]string{
			key,
			string(r.State),
			fmt.Sprintf("%d", r.Stats.TotalTx),
			fmt.Sprintf("%d", r.Stats.Succeeded),
			fmt.Sprintf("%d", r.Stats.Failed),
			fmt.Sprintf("%.2f", r.TotalDuration),
			fmt.Sprintf("%.2f", r.TPS),
			fmt.Sprintf("%.2f", r.Stats.AvgConfirmationTime),
			fmt.Sprintf("%.2f", r.Stats.MedianConfirmationTime),
			fmt.Sprintf("%.2f", r.Stats.P95ConfirmationTime),
			fmt.Sprintf("%.0f", r.Stats.AvgGasUsed),
			fmt.Sprintf("%d", r.BlocksProduced),
		})
	}
	table.Render()
}

// suiteOrder lists known scenarios first, in run order, then anything else
// alphabetically.
func suiteOrder(suite types.SuiteReport) []string {
	keys := make([]string, 0, len(suite.Tests))
	known := make(map[string]bool, len(types.AllScenarios))
	for _, name := range types.AllScenarios {
		key := name.ReportKey()
		known[key] = true
		if _, ok := suite.Tests[key]; ok {
			keys = append(keys, key)
		}
	}
	var rest []string
	for key := range suite.Tests {
		if !known[key] {
			rest = append(rest, key)
		}
	}
	sort.Strings(rest)
	return append(keys, rest...)
}

func sortedKeys[K ~string, V any](m map[K]V) []K {
	keys := make([]K, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
