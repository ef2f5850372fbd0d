// Command loadtest drives transfer, deployment, call and mixed workloads
// against an EVM node's JSON-RPC endpoint and reports throughput, latency
// and gas statistics.
package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/jeongkyun-oh/arbitrum-load-test/internal/config"
	"github.com/jeongkyun-oh/arbitrum-load-test/internal/rpc"
	"github.com/jeongkyun-oh/arbitrum-load-test/pkg/types"
)

// errSuiteFailed makes the process exit non-zero after the report is written.
var errSuiteFailed = errors.New("one or more scenarios failed")

// app carries state shared by every subcommand.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	client rpc.Client // nil dials cfg.RPCURL
}

func main() {
	cfg, err := config.Load(config.DefaultEnvFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	if err := newRootCmd(cfg).Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(cfg *config.Config) *cobra.Command {
	return (&app{cfg: cfg}).rootCmd()
}

func (a *app) rootCmd() *cobra.Command {

	root := &cobra.Command{
		Use:   "loadtest",
		Short: "Load test an EVM node over JSON-RPC",
		Long: "loadtest submits ETH transfers, contract deployments and contract calls " +
			"to a node and reports throughput, confirmation latency and gas usage.\n\n" +
			"Settings are read from .env, then the environment (RPC_URL, PRIVATE_KEY, ...), then flags.",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.cfg.Validate(); err != nil {
				return err
			}
			a.logger = a.cfg.Logger(os.Stdout)
			slog.SetDefault(a.logger)
			return nil
		},
	}
	a.cfg.BindFlags(root.PersistentFlags())

	root.AddCommand(
		a.scenarioCmd("all", "Run every scenario in order", types.AllScenarios),
		a.scenarioCmd("transfers", "Send ETH transfers", []types.ScenarioName{types.ScenarioTransfers}),
		a.scenarioCmd("deployments", "Deploy the storage contract repeatedly", []types.ScenarioName{types.ScenarioDeployments}),
		a.scenarioCmd("calls", "Call the storage contract's store function", []types.ScenarioName{types.ScenarioCalls}),
		a.scenarioCmd("mixed", "Run a weighted mix of transfers, calls and deployments at a target rate", []types.ScenarioName{types.ScenarioMixed}),
		a.probeCmd(),
		a.historyCmd(),
	)

	return root
}
