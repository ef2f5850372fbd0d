// Package runner issues fixed-count transaction workloads with bounded concurrency.
package runner

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jeongkyun-oh/arbitrum-load-test/internal/sender"
)

// Factory performs one submission and its confirmation for a zero-based index.
// It must always return an Outcome; errors are recorded as failures.
type Factory func(ctx context.Context, index int) Outcome

// OutcomeFunc is notified of each completed submission. It is called from
// multiple goroutines.
type OutcomeFunc func(o Outcome)

// Config for creating a Runner.
type Config struct {
	OnOutcome OutcomeFunc
	Logger    *slog.Logger
}

// Runner executes workloads built from a Factory.
type Runner struct {
	onOutcome OutcomeFunc
	logger    *slog.Logger
}

// New creates a new Runner.
func New(cfg Config) *Runner {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{onOutcome: cfg.OnOutcome, logger: logger}
}

// Run issues total submissions in consecutive batches of at most concurrency.
// Every member of a batch runs concurrently and the whole batch is awaited
// before the next one starts. Outcomes are returned in batch order and, within
// a batch, in index order. A failed submission never aborts its batch.
//
// If ctx ends between batches the remaining batches are not started.
func (r *Runner) Run(ctx context.Context, total, concurrency int, factory Factory) []Outcome {
	if total <= 0 {
		return nil
	}
	if concurrency <= 0 {
		concurrency = 1
	}

	outcomes := make([]Outcome, 0, total)
	for start := 0; start < total; start += concurrency {
		if err := ctx.Err(); err != nil {
			r.logger.Warn("run cancelled between batches",
				slog.Int("issued", start),
				slog.Int("total", total),
				slog.String("error", err.Error()),
			)
			break
		}

		size := min(concurrency, total-start)
		batch := make([]Outcome, size)
		batchStart := time.Now()

		var g errgroup.Group
		for j := 0; j < size; j++ {
			index := start + j
			g.Go(func() error {
				batch[j] = factory(ctx, index)
				r.notify(batch[j])
				return nil
			})
		}
		_ = g.Wait()

		r.logger.Debug("batch complete",
			slog.Int("first", start),
			slog.Int("size", size),
			slog.Duration("elapsed", time.Since(batchStart)),
		)
		outcomes = append(outcomes, batch...)
	}
	return outcomes
}

// RunWindow issues total submissions with at most concurrency in flight,
// refilling a slot as soon as any submission completes. Outcomes are returned
// in index order.
//
// If ctx ends, no further submissions are started and those already in
// flight are awaited.
func (r *Runner) RunWindow(ctx context.Context, total, concurrency int, factory Factory) []Outcome {
	if total <= 0 {
		return nil
	}
	if concurrency <= 0 {
		concurrency = 1
	}

	window := sender.NewWindow(concurrency)
	outcomes := make([]Outcome, total)
	issued := 0
	for i := 0; i < total; i++ {
		index := i
		err := window.Go(ctx, func() {
			outcomes[index] = factory(ctx, index)
			r.notify(outcomes[index])
		})
		if err != nil {
			r.logger.Warn("run cancelled",
				slog.Int("issued", issued),
				slog.Int("total", total),
				slog.String("error", err.Error()),
			)
			break
		}
		issued++
	}

	_ = window.Wait(context.Background())
	return outcomes[:issued]
}

func (r *Runner) notify(o Outcome) {
	if r.onOutcome != nil {
		r.onOutcome(o)
	}
}
