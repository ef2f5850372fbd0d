// Package scenario drives the load-test workloads: it sets up wallets and
// fixtures, feeds submissions to the runner and summarizes the outcomes
// into a report.
package scenario

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/params"

	"github.com/jeongkyun-oh/arbitrum-load-test/internal/contract"
	"github.com/jeongkyun-oh/arbitrum-load-test/internal/metrics"
	"github.com/jeongkyun-oh/arbitrum-load-test/internal/pattern"
	"github.com/jeongkyun-oh/arbitrum-load-test/internal/pipeline"
	"github.com/jeongkyun-oh/arbitrum-load-test/internal/probe"
	"github.com/jeongkyun-oh/arbitrum-load-test/internal/rpc"
	"github.com/jeongkyun-oh/arbitrum-load-test/internal/runner"
	"github.com/jeongkyun-oh/arbitrum-load-test/internal/txbuilder"
	"github.com/jeongkyun-oh/arbitrum-load-test/pkg/types"
)

// Options configures one scenario run. Count, Concurrency and GasLimit apply
// to the count-driven scenarios; Duration, TPS, MaxInFlight and Variants to
// the mixed workload.
type Options struct {
	Count       int
	Concurrency int
	Value       *big.Int // wei per transfer
	GasLimit    uint64   // zero uses the builder default

	Wallets    int      // recipient wallets to generate
	FundAmount *big.Int // wei sent to each wallet; nil or zero skips funding

	Duration    time.Duration
	TPS         float64
	MaxInFlight int
	Variants    []txbuilder.Variant
	// Pattern shapes the target rate over time; nil holds TPS flat.
	Pattern pattern.Pattern

	// Sliding refills a slot as soon as any submission completes instead of
	// waiting for the whole batch.
	Sliding bool
}

func ether(numerator, denominator int64) *big.Int {
	v := new(big.Int).Mul(big.NewInt(params.Ether), big.NewInt(numerator))
	return v.Div(v, big.NewInt(denominator))
}

// DefaultOptions returns the stock configuration of a scenario.
func DefaultOptions(name types.ScenarioName) Options {
	switch name {
	case types.ScenarioTransfers:
		return Options{
			Count:       100,
			Concurrency: 10,
			Value:       ether(1, 1000),
			GasLimit:    txbuilder.TransferGasLimit,
			Wallets:     10,
			FundAmount:  ether(1, 1),
		}
	case types.ScenarioDeployments:
		return Options{
			Count:       10,
			Concurrency: 5,
			GasLimit:    txbuilder.DeployGasLimit,
		}
	case types.ScenarioCalls:
		return Options{
			Count:       100,
			Concurrency: 10,
			GasLimit:    txbuilder.StoreGasLimit,
		}
	case types.ScenarioMixed:
		return Options{
			Value:       ether(1, 10000),
			Wallets:     10,
			FundAmount:  ether(1, 1),
			Duration:    60 * time.Second,
			TPS:         50,
			MaxInFlight: 200,
			Variants:    txbuilder.DefaultVariants(),
		}
	default:
		return Options{}
	}
}

// Config for creating a Suite.
type Config struct {
	Pipeline *pipeline.Pipeline
	Metrics  *metrics.PrometheusMetrics // optional
	Logger   *slog.Logger

	// Options overrides DefaultOptions per scenario.
	Options map[types.ScenarioName]Options

	// OnState is called on every state change.
	OnState Listener
	// OnStart is called when submission begins; expected is -1 when the
	// count is not known in advance.
	OnStart func(scenario types.ScenarioName, expected int)
	// OnOutcome is called for every resolved submission.
	OnOutcome func(scenario types.ScenarioName, o runner.Outcome)
	// OnProgress receives state and progress events.
	OnProgress func(types.ProgressEvent)
	// ProgressInterval is how often progress events are emitted. Default 1s.
	ProgressInterval time.Duration

	// Rand drives variant selection. Default txbuilder.DefaultRand.
	Rand txbuilder.Rand
	// Tick is the mixed-workload scheduling interval. Default 100ms.
	Tick time.Duration
}

// Suite runs scenarios against one node with one sender. Every scenario
// shares the sender's nonce allocator.
type Suite struct {
	pipeline *pipeline.Pipeline
	client   rpc.Client
	deployer *contract.Deployer
	metrics  *metrics.PrometheusMetrics
	logger   *slog.Logger

	options map[types.ScenarioName]Options

	onState          Listener
	onStart          func(types.ScenarioName, int)
	onOutcome        func(types.ScenarioName, runner.Outcome)
	onProgress       func(types.ProgressEvent)
	progressInterval time.Duration

	rand txbuilder.Rand
	tick time.Duration
}

// NewSuite creates a Suite.
func NewSuite(cfg Config) *Suite {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	interval := cfg.ProgressInterval
	if interval <= 0 {
		interval = time.Second
	}
	r := cfg.Rand
	if r == nil {
		r = txbuilder.DefaultRand
	}
	tick := cfg.Tick
	if tick <= 0 {
		tick = 100 * time.Millisecond
	}

	return &Suite{
		pipeline:         cfg.Pipeline,
		client:           cfg.Pipeline.Client(),
		deployer:         contract.NewDeployer(cfg.Pipeline, logger),
		metrics:          cfg.Metrics,
		logger:           logger,
		options:          cfg.Options,
		onState:          cfg.OnState,
		onStart:          cfg.OnStart,
		onOutcome:        cfg.OnOutcome,
		onProgress:       cfg.OnProgress,
		progressInterval: interval,
		rand:             r,
		tick:             tick,
	}
}

// Options returns the effective options for a scenario.
func (s *Suite) Options(name types.ScenarioName) Options {
	if opts, ok := s.options[name]; ok {
		return opts
	}
	return DefaultOptions(name)
}

const finalSnapshotTimeout = 30 * time.Second

// phase is what a driver hands back for summarizing.
type phase struct {
	outcomes []runner.Outcome
	duration time.Duration
	issued   int
}

// run carries the per-scenario state shared by the drivers.
type run struct {
	name     types.ScenarioName
	opts     Options
	machine  *Machine
	progress *metrics.Progress
	logger   *slog.Logger
}

// Run executes one scenario. Fatal errors do not escape: they move the
// scenario to the failed state and are recorded in the report.
func (s *Suite) Run(ctx context.Context, name types.ScenarioName) types.ScenarioReport {
	r := &run{
		name:     name,
		opts:     s.Options(name),
		progress: metrics.NewProgress(name),
		logger:   s.logger.With(slog.String("scenario", string(name))),
	}
	r.machine = NewMachine(name, s.transitionListener(r))
	report := types.ScenarioReport{Scenario: name}

	before, err := probe.Snapshot(ctx, s.client, r.logger)
	if err != nil {
		return s.fail(r, report, fmt.Errorf("initial node metrics: %w", err))
	}
	report.InitialMetrics = before
	r.logger.Info("initial node metrics",
		slog.Uint64("block", before.BlockNumber),
		slog.Uint64("pending", before.PendingTransactions),
	)

	var ph phase
	switch name {
	case types.ScenarioTransfers:
		ph, err = s.runTransfers(ctx, r)
	case types.ScenarioDeployments:
		ph, err = s.runDeployments(ctx, r)
	case types.ScenarioCalls:
		ph, err = s.runCalls(ctx, r)
	case types.ScenarioMixed:
		ph, err = s.runMixed(ctx, r)
	default:
		err = fmt.Errorf("unknown scenario %q", name)
	}
	if err != nil {
		return s.fail(r, report, err)
	}

	if err := r.machine.Transition(types.StateSummarizing); err != nil {
		return s.fail(r, report, err)
	}
	// The final snapshot is still taken after an interrupt so the partial
	// run can be reported.
	snapCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalSnapshotTimeout)
	defer cancel()
	after, err := probe.Snapshot(snapCtx, s.client, r.logger)
	if err != nil {
		return s.fail(r, report, fmt.Errorf("final node metrics: %w", err))
	}

	report.Stats = metrics.Summarize(ph.outcomes)
	report.FinalMetrics = after
	report.BlocksProduced = probe.BlocksProduced(before, after)
	report.TotalDuration = ph.duration.Seconds()
	report.TPS = metrics.TPS(report.Stats.TotalTx, report.TotalDuration)
	if name == types.ScenarioMixed {
		report.TxCount = ph.issued
	}

	if err := r.machine.Transition(types.StateDone); err != nil {
		return s.fail(r, report, err)
	}
	report.State = r.machine.State()

	r.logger.Info("scenario complete",
		slog.Int("total", report.Stats.TotalTx),
		slog.Int("succeeded", report.Stats.Succeeded),
		slog.Int("failed", report.Stats.Failed),
		slog.Float64("duration_s", report.TotalDuration),
		slog.Float64("tps", report.TPS),
		slog.Int64("blocks", report.BlocksProduced),
	)
	return report
}

// RunAll runs every scenario in order. A failed scenario is recorded and
// the suite moves on to the next one.
func (s *Suite) RunAll(ctx context.Context) types.SuiteReport {
	suite := types.SuiteReport{
		Timestamp: time.Now().UTC(),
		Tests:     make(map[string]types.ScenarioReport, len(types.AllScenarios)),
	}
	for _, name := range types.AllScenarios {
		if err := ctx.Err(); err != nil {
			s.logger.Warn("suite cancelled", slog.String("skipped", string(name)))
			suite.Tests[name.ReportKey()] = types.ScenarioReport{
				Scenario: name,
				State:    types.StateFailed,
				Error:    err.Error(),
			}
			continue
		}
		suite.Tests[name.ReportKey()] = s.Run(ctx, name)
	}
	return suite
}

func (s *Suite) fail(r *run, report types.ScenarioReport, err error) types.ScenarioReport {
	r.machine.Fail()
	report.State = types.StateFailed
	report.Error = err.Error()
	r.logger.Error("scenario failed", slog.String("error", err.Error()))
	return report
}

func (s *Suite) transitionListener(r *run) Listener {
	return func(name types.ScenarioName, from, to types.ScenarioState) {
		r.logger.Info("scenario state", slog.String("from", string(from)), slog.String("to", string(to)))
		s.metrics.SetScenarioState(name, to)
		if s.onState != nil {
			s.onState(name, from, to)
		}
		s.emit(types.ProgressEvent{
			Type:      "state",
			Scenario:  name,
			State:     to,
			Timestamp: time.Now().UnixMilli(),
		})
	}
}

func (s *Suite) emit(ev types.ProgressEvent) {
	if s.onProgress != nil {
		s.onProgress(ev)
	}
}

// reportProgress emits progress events until the returned stop func is
// called, then emits a final one.
func (s *Suite) reportProgress(r *run) (stop func()) {
	done := make(chan struct{})
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		ticker := time.NewTicker(s.progressInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				s.emit(r.progress.Event())
			}
		}
	}()
	return func() {
		close(done)
		<-finished
		s.emit(r.progress.Event())
	}
}

func (s *Suite) observe(r *run) runner.OutcomeFunc {
	return func(o runner.Outcome) {
		r.progress.Observe(o)
		if s.onOutcome != nil {
			s.onOutcome(r.name, o)
		}
	}
}

func (s *Suite) started(r *run, expected int) {
	if s.onStart != nil {
		s.onStart(r.name, expected)
	}
}
