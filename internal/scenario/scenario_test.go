package scenario

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/params"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/jeongkyun-oh/arbitrum-load-test/internal/account"
	"github.com/jeongkyun-oh/arbitrum-load-test/internal/metrics"
	"github.com/jeongkyun-oh/arbitrum-load-test/internal/pattern"
	"github.com/jeongkyun-oh/arbitrum-load-test/internal/pipeline"
	"github.com/jeongkyun-oh/arbitrum-load-test/internal/rpc/rpctest"
	"github.com/jeongkyun-oh/arbitrum-load-test/internal/runner"
	"github.com/jeongkyun-oh/arbitrum-load-test/internal/txbuilder"
	"github.com/jeongkyun-oh/arbitrum-load-test/pkg/types"
)

const testChainID = 412346

func newTestPipeline(t *testing.T, node *rpctest.Node, m *metrics.PrometheusMetrics) *pipeline.Pipeline {
	t.Helper()

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	signer, err := txbuilder.NewSigner(key, big.NewInt(testChainID), txbuilder.FeeConfig{GasPrice: big.NewInt(100_000_000)})
	require.NoError(t, err)
	node.SetBalance(signer.From(), new(big.Int).Mul(big.NewInt(1000), big.NewInt(params.Ether)))

	return pipeline.New(pipeline.Config{
		Client:         node,
		Signer:         signer,
		Nonces:         account.NewNonceAllocator(signer.From(), node),
		Metrics:        m,
		ConfirmTimeout: 300 * time.Millisecond,
		PollInterval:   2 * time.Millisecond,
	})
}

func newTestSuite(t *testing.T, node *rpctest.Node, cfg Config) *Suite {
	t.Helper()
	cfg.Pipeline = newTestPipeline(t, node, cfg.Metrics)
	if cfg.Tick == 0 {
		cfg.Tick = 5 * time.Millisecond
	}
	if cfg.ProgressInterval == 0 {
		cfg.ProgressInterval = 10 * time.Millisecond
	}
	return NewSuite(cfg)
}

func milliEther(n int64) *big.Int {
	return ether(n, 1000)
}

// recorder collects suite callbacks.
type recorder struct {
	mu       sync.Mutex
	states   []types.ScenarioState
	events   []types.ProgressEvent
	outcomes int
	expected map[types.ScenarioName]int
}

func newRecorder() *recorder {
	return &recorder{expected: make(map[types.ScenarioName]int)}
}

func (r *recorder) attach(cfg *Config) {
	cfg.OnState = func(_ types.ScenarioName, _, to types.ScenarioState) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.states = append(r.states, to)
	}
	cfg.OnProgress = func(ev types.ProgressEvent) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.events = append(r.events, ev)
	}
	cfg.OnOutcome = func(types.ScenarioName, runner.Outcome) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.outcomes++
	}
	cfg.OnStart = func(name types.ScenarioName, expected int) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.expected[name] = expected
	}
}

func TestTransfers_EndToEnd(t *testing.T) {
	node := rpctest.NewNode(testChainID)
	rec := newRecorder()
	cfg := Config{Options: map[types.ScenarioName]Options{
		types.ScenarioTransfers: {
			Count:       20,
			Concurrency: 5,
			Value:       milliEther(1),
			Wallets:     5,
			FundAmount:  ether(1, 1),
		},
	}}
	rec.attach(&cfg)
	s := newTestSuite(t, node, cfg)

	report := s.Run(context.Background(), types.ScenarioTransfers)

	require.Equal(t, types.StateDone, report.State, report.Error)
	require.Equal(t, 20, report.Stats.TotalTx)
	require.Equal(t, 20, report.Stats.Succeeded)
	require.Zero(t, report.Stats.Failed)
	require.Equal(t, uint64(20*rpctest.TransferGas), report.Stats.TotalGasUsed)
	require.Greater(t, report.FinalMetrics.BlockNumber, report.InitialMetrics.BlockNumber)
	require.Equal(t, int64(25), report.BlocksProduced) // 5 funding + 20 transfers
	require.Greater(t, report.TotalDuration, 0.0)
	require.Greater(t, report.TPS, 0.0)
	require.Zero(t, report.TxCount)
	require.Equal(t, 25, node.SendCount())

	require.Equal(t, []types.ScenarioState{
		types.StateInitializing,
		types.StateFundingWallets,
		types.StateSubmitting,
		types.StateDraining,
		types.StateSummarizing,
		types.StateDone,
	}, rec.states)
	require.Equal(t, 20, rec.outcomes)
	require.Equal(t, 20, rec.expected[types.ScenarioTransfers])

	last := rec.events[len(rec.events)-1]
	require.Equal(t, "state", last.Type)
	var final types.ProgressEvent
	for _, ev := range rec.events {
		if ev.Type == "progress" {
			final = ev
		}
	}
	require.Equal(t, 20, final.Sent)
	require.Equal(t, 20, final.Confirmed)
	require.Zero(t, final.InFlight)
}

func TestTransfers_SelfWithoutWallets(t *testing.T) {
	node := rpctest.NewNode(testChainID)
	s := newTestSuite(t, node, Config{Options: map[types.ScenarioName]Options{
		types.ScenarioTransfers: {Count: 6, Concurrency: 3, Value: big.NewInt(1), Sliding: true},
	}})

	report := s.Run(context.Background(), types.ScenarioTransfers)

	require.Equal(t, types.StateDone, report.State, report.Error)
	require.Equal(t, 6, report.Stats.Succeeded)
	require.Equal(t, 6, node.SendCount())
}

func TestTransfers_RejectedSubmissionsAreCounted(t *testing.T) {
	node := rpctest.NewNode(testChainID)
	node.Errors["eth_sendRawTransaction"] = errors.New("txpool is full")
	s := newTestSuite(t, node, Config{Options: map[types.ScenarioName]Options{
		types.ScenarioTransfers: {Count: 4, Concurrency: 2, Value: big.NewInt(1)},
	}})

	report := s.Run(context.Background(), types.ScenarioTransfers)

	require.Equal(t, types.StateDone, report.State)
	require.Equal(t, 4, report.Stats.TotalTx)
	require.Equal(t, 4, report.Stats.Failed)
	require.Equal(t, 4, report.Stats.Failures[types.FailureSubmissionRejected])
	require.InDelta(t, float64(4)/report.TotalDuration, report.TPS, 1e-6)
}

func TestDeployments(t *testing.T) {
	node := rpctest.NewNode(testChainID)
	s := newTestSuite(t, node, Config{Options: map[types.ScenarioName]Options{
		types.ScenarioDeployments: {Count: 4, Concurrency: 2},
	}})

	report := s.Run(context.Background(), types.ScenarioDeployments)

	require.Equal(t, types.StateDone, report.State, report.Error)
	require.Equal(t, 4, report.Stats.Succeeded)
	require.Equal(t, 4, report.Stats.ByKind[types.TxKindDeploy].Succeeded)
	require.Equal(t, 4, node.Contracts())
	require.Equal(t, float64(rpctest.DeployGas), report.Stats.AvgGasUsed)
}

func TestCalls(t *testing.T) {
	node := rpctest.NewNode(testChainID)
	rec := newRecorder()
	cfg := Config{Options: map[types.ScenarioName]Options{
		types.ScenarioCalls: {Count: 6, Concurrency: 3},
	}}
	rec.attach(&cfg)
	s := newTestSuite(t, node, cfg)

	report := s.Run(context.Background(), types.ScenarioCalls)

	require.Equal(t, types.StateDone, report.State, report.Error)
	require.Equal(t, 6, report.Stats.Succeeded)
	require.Equal(t, 1, node.Contracts())
	require.Contains(t, rec.states, types.StateDeployingFixture)
	require.NotContains(t, rec.states, types.StateFundingWallets)
}

func TestCalls_RevertsAreNodeErrors(t *testing.T) {
	node := rpctest.NewNode(testChainID)
	node.FailCalls = true
	s := newTestSuite(t, node, Config{Options: map[types.ScenarioName]Options{
		types.ScenarioCalls: {Count: 5, Concurrency: 5},
	}})

	report := s.Run(context.Background(), types.ScenarioCalls)

	require.Equal(t, types.StateDone, report.State, report.Error)
	require.Equal(t, 5, report.Stats.Failed)
	require.Equal(t, 5, report.Stats.Failures[types.FailureNodeError])
	require.Equal(t, 5, report.Stats.ByKind[types.TxKindCall].Failed)
}

func TestCalls_FixtureFailureFailsScenario(t *testing.T) {
	node := rpctest.NewNode(testChainID)
	node.HoldReceipts = true
	reg := prometheus.NewRegistry()
	m := metrics.NewPrometheusMetrics(reg)
	s := newTestSuite(t, node, Config{
		Metrics: m,
		Options: map[types.ScenarioName]Options{
			types.ScenarioCalls: {Count: 5, Concurrency: 5},
		},
	})

	report := s.Run(context.Background(), types.ScenarioCalls)

	require.Equal(t, types.StateFailed, report.State)
	require.Contains(t, report.Error, "deploy fixture")
	require.Zero(t, report.Stats.TotalTx)
	require.Equal(t, 1.0, testutil.ToFloat64(m.ScenarioState.WithLabelValues(string(types.ScenarioCalls), string(types.StateFailed))))
}

func TestRun_InitialSnapshotFailure(t *testing.T) {
	node := rpctest.NewNode(testChainID)
	node.Errors["eth_blockNumber"] = errors.New("connection refused")
	s := newTestSuite(t, node, Config{})

	report := s.Run(context.Background(), types.ScenarioDeployments)

	require.Equal(t, types.StateFailed, report.State)
	require.Contains(t, report.Error, "initial node metrics")
	require.Zero(t, node.SendCount())
}

func TestRun_UnknownScenario(t *testing.T) {
	s := newTestSuite(t, rpctest.NewNode(testChainID), Config{})
	report := s.Run(context.Background(), "swap")
	require.Equal(t, types.StateFailed, report.State)
	require.Contains(t, report.Error, "unknown scenario")
}

func TestMixed(t *testing.T) {
	node := rpctest.NewNode(testChainID)
	rec := newRecorder()
	cfg := Config{Options: map[types.ScenarioName]Options{
		types.ScenarioMixed: {
			Value:       big.NewInt(1),
			Wallets:     2,
			FundAmount:  milliEther(1),
			Duration:    300 * time.Millisecond,
			TPS:         100,
			MaxInFlight: 50,
			Variants:    txbuilder.DefaultVariants(),
		},
	}}
	rec.attach(&cfg)
	s := newTestSuite(t, node, cfg)

	report := s.Run(context.Background(), types.ScenarioMixed)

	require.Equal(t, types.StateDone, report.State, report.Error)
	require.Greater(t, report.TxCount, 0)
	require.LessOrEqual(t, report.TxCount, 30)
	require.Equal(t, report.TxCount, report.Stats.TotalTx)
	require.Equal(t, report.TxCount, report.Stats.Succeeded)
	require.GreaterOrEqual(t, report.TotalDuration, 0.3)
	require.Equal(t, -1, rec.expected[types.ScenarioMixed])

	kinds := 0
	for _, c := range report.Stats.ByKind {
		kinds += c.Succeeded
	}
	require.Equal(t, report.TxCount, kinds)
	require.Equal(t, []types.ScenarioState{
		types.StateInitializing,
		types.StateFundingWallets,
		types.StateDeployingFixture,
		types.StateSubmitting,
		types.StateDraining,
		types.StateSummarizing,
		types.StateDone,
	}, rec.states)
}

func TestMixed_InFlightCeiling(t *testing.T) {
	node := rpctest.NewNode(testChainID)
	node.HoldReceipts = true
	s := newTestSuite(t, node, Config{Options: map[types.ScenarioName]Options{
		types.ScenarioMixed: {
			Value:       big.NewInt(1),
			Duration:    100 * time.Millisecond,
			TPS:         1000,
			MaxInFlight: 3,
			Variants:    []txbuilder.Variant{{Kind: types.TxKindTransfer, Weight: 1}},
		},
	}})

	report := s.Run(context.Background(), types.ScenarioMixed)

	// Receipts never arrive, so the three slots stay occupied for the
	// whole run.
	require.Equal(t, types.StateDone, report.State, report.Error)
	require.Equal(t, 3, report.TxCount)
	require.Equal(t, 3, report.Stats.Failures[types.FailureConfirmationTimeout])
}

func TestMixed_Pattern(t *testing.T) {
	node := rpctest.NewNode(testChainID)
	s := newTestSuite(t, node, Config{Options: map[types.ScenarioName]Options{
		types.ScenarioMixed: {
			Value:       big.NewInt(1),
			Duration:    200 * time.Millisecond,
			TPS:         10,
			MaxInFlight: 500,
			Variants:    []txbuilder.Variant{{Kind: types.TxKindTransfer, Weight: 1}},
			// 10/s baseline, 1000/s for the second half of the run
			Pattern: pattern.NewSpike(10, 1000, 100*time.Millisecond, 200*time.Millisecond),
		},
	}})

	report := s.Run(context.Background(), types.ScenarioMixed)

	require.Equal(t, types.StateDone, report.State, report.Error)
	// a flat 10/s would issue at most two
	require.Greater(t, report.TxCount, 20)
	require.LessOrEqual(t, report.TxCount, 101)
}

func TestMixed_InvalidOptions(t *testing.T) {
	tests := []struct {
		name string
		opts Options
		want string
	}{
		{"no duration", Options{TPS: 10}, "duration must be positive"},
		{"no rate", Options{Duration: time.Second}, "target rate must be positive"},
		{"only throttled variants", Options{
			Duration: time.Second,
			TPS:      10,
			Variants: []txbuilder.Variant{{Kind: types.TxKindDeploy, Weight: 1, Every: 10}},
		}, ErrNoEligibleVariant.Error()},
		{"duplicate variant", Options{
			Duration: time.Second,
			TPS:      10,
			Variants: []txbuilder.Variant{{Kind: types.TxKindCall, Weight: 1}, {Kind: types.TxKindCall, Weight: 2}},
		}, "variant table"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			node := rpctest.NewNode(testChainID)
			s := newTestSuite(t, node, Config{Options: map[types.ScenarioName]Options{types.ScenarioMixed: tt.opts}})

			report := s.Run(context.Background(), types.ScenarioMixed)
			require.Equal(t, types.StateFailed, report.State)
			require.Contains(t, report.Error, tt.want)
			require.Zero(t, node.SendCount())
		})
	}
}

func TestRunAll(t *testing.T) {
	node := rpctest.NewNode(testChainID)
	s := newTestSuite(t, node, Config{Options: map[types.ScenarioName]Options{
		types.ScenarioTransfers:   {Count: 4, Concurrency: 2, Value: big.NewInt(1), Wallets: 2, FundAmount: big.NewInt(10)},
		types.ScenarioDeployments: {Count: 2, Concurrency: 2},
		types.ScenarioCalls:       {Count: 3, Concurrency: 3},
		types.ScenarioMixed: {
			Value:       big.NewInt(1),
			Duration:    100 * time.Millisecond,
			TPS:         50,
			MaxInFlight: 10,
			Variants:    []txbuilder.Variant{{Kind: types.TxKindTransfer, Weight: 1}},
		},
	}})

	suite := s.RunAll(context.Background())

	require.False(t, suite.Failed())
	require.Len(t, suite.Tests, 4)
	for _, name := range types.AllScenarios {
		report, ok := suite.Tests[name.ReportKey()]
		require.True(t, ok, "missing %s", name)
		require.Equal(t, types.StateDone, report.State, "%s: %s", name, report.Error)
	}
	require.Equal(t, 4, suite.Tests["ethTransfers"].Stats.Succeeded)
	require.Equal(t, 2, suite.Tests["contractDeployment"].Stats.Succeeded)
	require.Equal(t, 3, suite.Tests["contractCalls"].Stats.Succeeded)
	require.False(t, suite.Timestamp.IsZero())

	// One allocator across the suite: every send landed without a nonce gap.
	mixed := suite.Tests["mixedWorkload"]
	require.Equal(t, 2+4+2+1+3+mixed.TxCount, node.SendCount())
}

func TestRunAll_FailedScenarioDoesNotStopSuite(t *testing.T) {
	node := rpctest.NewNode(testChainID)
	node.Errors["eth_getCode"] = errors.New("state unavailable")
	s := newTestSuite(t, node, Config{Options: map[types.ScenarioName]Options{
		types.ScenarioTransfers:   {Count: 2, Concurrency: 2, Value: big.NewInt(1)},
		types.ScenarioDeployments: {Count: 2, Concurrency: 2},
		types.ScenarioCalls:       {Count: 2, Concurrency: 2},
		types.ScenarioMixed:       {Duration: time.Second},
	}})
	s.deployer.SetCodeTimeout(20 * time.Millisecond)

	suite := s.RunAll(context.Background())

	require.True(t, suite.Failed())
	require.Equal(t, types.StateDone, suite.Tests["ethTransfers"].State)
	require.Equal(t, types.StateDone, suite.Tests["contractDeployment"].State)
	require.Equal(t, types.StateFailed, suite.Tests["contractCalls"].State)
	require.Equal(t, types.StateFailed, suite.Tests["mixedWorkload"].State)
}

func TestRunAll_Cancelled(t *testing.T) {
	node := rpctest.NewNode(testChainID)
	s := newTestSuite(t, node, Config{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	suite := s.RunAll(ctx)

	require.Len(t, suite.Tests, 4)
	for key, report := range suite.Tests {
		require.Equal(t, types.StateFailed, report.State, key)
		require.Equal(t, context.Canceled.Error(), report.Error)
	}
	require.Zero(t, node.SendCount())
}

func TestDefaultOptions(t *testing.T) {
	transfers := DefaultOptions(types.ScenarioTransfers)
	require.Equal(t, 100, transfers.Count)
	require.Equal(t, 10, transfers.Concurrency)
	require.Equal(t, "1000000000000000", transfers.Value.String())
	require.Equal(t, uint64(21000), transfers.GasLimit)
	require.Equal(t, 10, transfers.Wallets)

	deploy := DefaultOptions(types.ScenarioDeployments)
	require.Equal(t, 10, deploy.Count)
	require.Equal(t, 5, deploy.Concurrency)
	require.Equal(t, uint64(2_000_000), deploy.GasLimit)

	calls := DefaultOptions(types.ScenarioCalls)
	require.Equal(t, uint64(100_000), calls.GasLimit)

	mixed := DefaultOptions(types.ScenarioMixed)
	require.Equal(t, 60*time.Second, mixed.Duration)
	require.Equal(t, 50.0, mixed.TPS)
	require.Equal(t, 200, mixed.MaxInFlight)
	require.Equal(t, "100000000000000", mixed.Value.String())
}
