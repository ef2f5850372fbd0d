package report

import (
	"fmt"
	"io"

	"github.com/olekukonko/tablewriter"

	"github.com/jeongkyun-oh/arbitrum-load-test/internal/storage"
	"github.com/jeongkyun-oh/arbitrum-load-test/pkg/types"
)

const timeLayout = "2006-01-02 15:04:05"

// PrintProbe renders a node probe result.
func PrintProbe(w io.Writer, res types.ProbeResult) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Check", "Value"})
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.AppendBulk([][]string{
		{"Client version", res.ClientVersion},
		{"Chain ID", fmt.Sprintf("%d", res.ChainID)},
		{"Block number", fmt.Sprintf("%d", res.BlockNumber)},
		{"Gas price (wei)", res.GasPrice},
		{"Sender", res.Sender},
		{"Sender balance (wei)", res.Balance},
		{"Transfer gas estimate", fmt.Sprintf("%d", res.EstimatedGas)},
	})
	table.Render()
}

// PrintRuns renders one page of run history.
func PrintRuns(w io.Writer, page *storage.PaginatedRuns) {
	if len(page.Runs) == 0 {
		fmt.Fprintln(w, "no runs recorded")
		return
	}

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"", "ID", "Started", "Status", "Txs", "OK", "Failed", "Name"})
	for _, run := range page.Runs {
		star := ""
		if run.IsFavorite {
			star = "*"
		}
		name := ""
		if run.CustomName != nil {
			name = *run.CustomName
		}
		table.Append([]string{
			star,
			run.ID,
			run.StartedAt.Local().Format(timeLayout),
			run.Status,
			fmt.Sprintf("%d", run.TotalTx),
			fmt.Sprintf("%d", run.Succeeded),
			fmt.Sprintf("%d", run.Failed),
			name,
		})
	}
	table.Render()
	fmt.Fprintf(w, "showing %d-%d of %d\n", page.Offset+1, page.Offset+len(page.Runs), page.Total)
}

// PrintRun renders a stored run: its environment, then every scenario.
func PrintRun(w io.Writer, run *storage.SuiteRun) {
	fmt.Fprintf(w, "run %s (%s)\n", run.DisplayName(), run.Status)
	fmt.Fprintf(w, "  id:       %s\n", run.ID)
	fmt.Fprintf(w, "  started:  %s\n", run.StartedAt.Local().Format(timeLayout))
	fmt.Fprintf(w, "  rpc:      %s (chain %d)\n", run.RPCURL, run.ChainID)
	if run.ClientVersion != "" {
		fmt.Fprintf(w, "  client:   %s\n", run.ClientVersion)
	}
	fmt.Fprintf(w, "  sender:   %s\n", run.Sender)

	suite := run.SuiteReport()
	PrintSuite(w, suite)
	for _, key := range suiteOrder(suite) {
		PrintScenario(w, suite.Tests[key])
	}
}
