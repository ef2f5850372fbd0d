package scenario

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/jeongkyun-oh/arbitrum-load-test/internal/ratelimit"
	"github.com/jeongkyun-oh/arbitrum-load-test/internal/runner"
	"github.com/jeongkyun-oh/arbitrum-load-test/internal/sender"
	"github.com/jeongkyun-oh/arbitrum-load-test/internal/txbuilder"
	"github.com/jeongkyun-oh/arbitrum-load-test/pkg/types"
)

// ErrNoEligibleVariant is returned when the variant table can leave issue
// positions with nothing to pick.
var ErrNoEligibleVariant = errors.New("variant table needs a positive-weight variant without an every rule")

func (s *Suite) runMixed(ctx context.Context, r *run) (phase, error) {
	if r.opts.Duration <= 0 {
		return phase{}, fmt.Errorf("mixed workload duration must be positive, got %s", r.opts.Duration)
	}
	if r.opts.TPS <= 0 {
		return phase{}, fmt.Errorf("mixed workload target rate must be positive, got %v", r.opts.TPS)
	}

	variants := r.opts.Variants
	if len(variants) == 0 {
		variants = txbuilder.DefaultVariants()
	}
	table, err := txbuilder.NewVariantTable(variants...)
	if err != nil {
		return phase{}, fmt.Errorf("variant table: %w", err)
	}
	if !alwaysEligible(table) {
		return phase{}, ErrNoEligibleVariant
	}

	var recipients []common.Address
	if table.Has(types.TxKindTransfer) {
		if recipients, err = s.prepareWallets(ctx, r); err != nil {
			return phase{}, err
		}
	}
	var fixture common.Address
	if table.Has(types.TxKindCall) {
		if fixture, err = s.deployFixture(ctx, r); err != nil {
			return phase{}, err
		}
	}

	value := r.opts.Value
	if value == nil {
		value = new(big.Int)
	}
	build := func(kind types.TxKind, issued int) txbuilder.Builder {
		switch kind {
		case types.TxKindDeploy:
			return txbuilder.NewDeploy(txbuilder.SimpleStorageBytecode, 0)
		case types.TxKindCall:
			return txbuilder.NewStoreCall(fixture, big.NewInt(int64(issued)), 0)
		default:
			return txbuilder.NewTransfer(recipients[issued%len(recipients)], value, 0)
		}
	}

	if err := r.machine.Transition(types.StateSubmitting); err != nil {
		return phase{}, err
	}
	s.started(r, -1)
	stop := s.reportProgress(r)

	shape := types.PatternConstant
	if r.opts.Pattern != nil {
		shape = r.opts.Pattern.Name()
	}
	r.logger.Info("starting mixed workload",
		slog.Duration("duration", r.opts.Duration),
		slog.Float64("tps", r.opts.TPS),
		slog.String("pattern", string(shape)),
		slog.Int("max_in_flight", r.opts.MaxInFlight),
	)

	var (
		mu       sync.Mutex
		outcomes []runner.Outcome
	)
	observe := s.observe(r)
	collect := func(o runner.Outcome) {
		mu.Lock()
		outcomes = append(outcomes, o)
		mu.Unlock()
		observe(o)
	}

	window := sender.NewWindow(r.opts.MaxInFlight)
	admission := ratelimit.NewAdmission(r.opts.TPS)
	if r.opts.Pattern != nil {
		admission.Schedule = r.opts.Pattern
	}
	deadline := admission.Start.Add(r.opts.Duration)
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	issued := 0
	capped := 0
loop:
	for {
		now := time.Now()
		if !now.Before(deadline) {
			break
		}

		if short := admission.Shortfall(now.Sub(admission.Start), issued); short > window.Available() {
			capped++
		}
		n := admission.Admit(now, issued, window.Available())
		for i := 0; i < n; i++ {
			kind, _ := table.Pick(s.rand, issued)
			b := build(kind, issued)
			index := issued
			err := window.TryGo(func() {
				collect(s.pipeline.Execute(ctx, index, b))
			})
			if errors.Is(err, sender.ErrAtCapacity) {
				break
			}
			r.progress.Sent()
			issued++
		}

		select {
		case <-ctx.Done():
			r.logger.Warn("mixed workload cancelled", slog.Int("issued", issued))
			break loop
		case <-ticker.C:
		}
	}

	if err := r.machine.Transition(types.StateDraining); err != nil {
		stop()
		return phase{}, err
	}
	r.logger.Info("waiting for in-flight transactions", slog.Int("in_flight", window.InFlight()))
	_ = window.Wait(context.Background())
	duration := time.Since(admission.Start)
	stop()

	if capped > 0 {
		r.logger.Warn("target rate limited by in-flight ceiling",
			slog.Int("ticks", capped),
			slog.Int("max_in_flight", window.Capacity()),
		)
	}

	mu.Lock()
	defer mu.Unlock()
	return phase{outcomes: outcomes, duration: duration, issued: issued}, nil
}

// alwaysEligible reports whether some variant can be picked at every
// position.
func alwaysEligible(t *txbuilder.VariantTable) bool {
	for _, v := range t.Variants() {
		if v.Weight > 0 && v.Every <= 1 {
			return true
		}
	}
	return false
}
