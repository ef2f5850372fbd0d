package scenario

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/jeongkyun-oh/arbitrum-load-test/internal/account"
	"github.com/jeongkyun-oh/arbitrum-load-test/internal/runner"
	"github.com/jeongkyun-oh/arbitrum-load-test/internal/txbuilder"
	"github.com/jeongkyun-oh/arbitrum-load-test/pkg/types"
)

// prepareWallets generates the recipient wallets and funds them when a fund
// amount is set. With no wallets the sender transfers to itself.
func (s *Suite) prepareWallets(ctx context.Context, r *run) ([]common.Address, error) {
	if r.opts.Wallets <= 0 {
		return []common.Address{s.pipeline.From()}, nil
	}

	wallets, err := account.GenerateAccounts(r.opts.Wallets, r.logger)
	if err != nil {
		return nil, fmt.Errorf("generate wallets: %w", err)
	}
	if r.opts.FundAmount == nil || r.opts.FundAmount.Sign() <= 0 {
		return account.Addresses(wallets), nil
	}

	if err := r.machine.Transition(types.StateFundingWallets); err != nil {
		return nil, err
	}
	funded, err := account.FundWallets(ctx, wallets, r.opts.FundAmount, s.pipeline.Transfer, r.logger)
	if err != nil {
		return nil, fmt.Errorf("fund wallets: %w", err)
	}
	return account.Addresses(funded), nil
}

func (s *Suite) deployFixture(ctx context.Context, r *run) (common.Address, error) {
	if err := r.machine.Transition(types.StateDeployingFixture); err != nil {
		return common.Address{}, err
	}
	addr, err := s.deployer.Deploy(ctx, "SimpleStorage", txbuilder.SimpleStorageBytecode)
	if err != nil {
		return common.Address{}, fmt.Errorf("deploy fixture: %w", err)
	}
	return addr, nil
}

// submit runs count submissions built by build, in batches or through a
// sliding window, and times the submission phase.
func (s *Suite) submit(ctx context.Context, r *run, build func(index int) txbuilder.Builder) (phase, error) {
	if err := r.machine.Transition(types.StateSubmitting); err != nil {
		return phase{}, err
	}
	s.started(r, r.opts.Count)
	stop := s.reportProgress(r)

	rn := runner.New(runner.Config{OnOutcome: s.observe(r), Logger: r.logger})
	factory := func(ctx context.Context, index int) runner.Outcome {
		r.progress.Sent()
		return s.pipeline.Execute(ctx, index, build(index))
	}

	start := time.Now()
	var outcomes []runner.Outcome
	if r.opts.Sliding {
		outcomes = rn.RunWindow(ctx, r.opts.Count, r.opts.Concurrency, factory)
	} else {
		outcomes = rn.Run(ctx, r.opts.Count, r.opts.Concurrency, factory)
	}

	// Run returns once every submission has resolved.
	if err := r.machine.Transition(types.StateDraining); err != nil {
		stop()
		return phase{}, err
	}
	duration := time.Since(start)
	stop()

	return phase{outcomes: outcomes, duration: duration, issued: len(outcomes)}, nil
}

func (s *Suite) runTransfers(ctx context.Context, r *run) (phase, error) {
	recipients, err := s.prepareWallets(ctx, r)
	if err != nil {
		return phase{}, err
	}
	value := r.opts.Value
	if value == nil {
		value = new(big.Int)
	}

	r.logger.Info("starting transfers",
		slog.Int("count", r.opts.Count),
		slog.Int("concurrency", r.opts.Concurrency),
		slog.Int("recipients", len(recipients)),
	)
	return s.submit(ctx, r, func(index int) txbuilder.Builder {
		return txbuilder.NewTransfer(recipients[index%len(recipients)], value, r.opts.GasLimit)
	})
}

func (s *Suite) runDeployments(ctx context.Context, r *run) (phase, error) {
	r.logger.Info("starting deployments",
		slog.Int("count", r.opts.Count),
		slog.Int("concurrency", r.opts.Concurrency),
	)
	return s.submit(ctx, r, func(int) txbuilder.Builder {
		return txbuilder.NewDeploy(txbuilder.SimpleStorageBytecode, r.opts.GasLimit)
	})
}

func (s *Suite) runCalls(ctx context.Context, r *run) (phase, error) {
	fixture, err := s.deployFixture(ctx, r)
	if err != nil {
		return phase{}, err
	}

	r.logger.Info("starting contract calls",
		slog.Int("count", r.opts.Count),
		slog.Int("concurrency", r.opts.Concurrency),
		slog.String("contract", fixture.Hex()),
	)
	ph, err := s.submit(ctx, r, func(index int) txbuilder.Builder {
		return txbuilder.NewStoreCall(fixture, big.NewInt(int64(index)), r.opts.GasLimit)
	})
	if err != nil {
		return phase{}, err
	}

	s.verifyCalls(ctx, r, fixture, ph.outcomes)
	return ph, nil
}

// verifyCalls compares the fixture's counter with the confirmed calls.
// A mismatch is logged; it does not fail the scenario.
func (s *Suite) verifyCalls(ctx context.Context, r *run, fixture common.Address, outcomes []runner.Outcome) {
	succeeded := 0
	for _, o := range outcomes {
		if o.Succeeded() && o.Kind == types.TxKindCall {
			succeeded++
		}
	}

	count, err := s.deployer.StoredCount(ctx, fixture)
	if err != nil {
		r.logger.Warn("could not read fixture counter", slog.String("error", err.Error()))
		return
	}
	if !count.IsInt64() || count.Int64() != int64(succeeded) {
		r.logger.Warn("fixture counter does not match confirmed calls",
			slog.String("counter", count.String()),
			slog.Int("confirmed", succeeded),
		)
		return
	}
	r.logger.Info("fixture counter verified", slog.Int("counter", succeeded))
}
