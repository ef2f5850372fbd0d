// Package pipeline provides transaction lifecycle management.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/jeongkyun-oh/arbitrum-load-test/internal/account"
	"github.com/jeongkyun-oh/arbitrum-load-test/internal/metrics"
	"github.com/jeongkyun-oh/arbitrum-load-test/internal/rpc"
	"github.com/jeongkyun-oh/arbitrum-load-test/internal/runner"
	"github.com/jeongkyun-oh/arbitrum-load-test/internal/txbuilder"
	"github.com/jeongkyun-oh/arbitrum-load-test/pkg/types"
)

// DefaultConfirmTimeout bounds the wait for a single receipt.
const DefaultConfirmTimeout = 2 * time.Minute

// ErrNonceAllocation wraps failures to obtain a nonce.
var ErrNonceAllocation = errors.New("nonce allocation failed")

// Pipeline handles the complete transaction lifecycle for one sender:
// nonce allocation, build, sign, send and confirmation.
type Pipeline struct {
	client         rpc.Client
	signer         *txbuilder.Signer
	nonces         *account.NonceAllocator
	metrics        *metrics.PrometheusMetrics
	confirmTimeout time.Duration
	pollInterval   time.Duration
	logger         *slog.Logger
}

// Config for creating a Pipeline.
type Config struct {
	Client         rpc.Client
	Signer         *txbuilder.Signer
	Nonces         *account.NonceAllocator
	Metrics        *metrics.PrometheusMetrics // optional
	ConfirmTimeout time.Duration              // default: 2m
	PollInterval   time.Duration              // default: rpc.DefaultReceiptPollInterval
	Logger         *slog.Logger
}

// New creates a new Pipeline.
func New(cfg Config) *Pipeline {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	confirmTimeout := cfg.ConfirmTimeout
	if confirmTimeout <= 0 {
		confirmTimeout = DefaultConfirmTimeout
	}
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = rpc.DefaultReceiptPollInterval
	}

	return &Pipeline{
		client:         cfg.Client,
		signer:         cfg.Signer,
		nonces:         cfg.Nonces,
		metrics:        cfg.Metrics,
		confirmTimeout: confirmTimeout,
		pollInterval:   pollInterval,
		logger:         logger,
	}
}

// Client returns the RPC client transactions are sent through.
func (p *Pipeline) Client() rpc.Client {
	return p.client
}

// From returns the sender address.
func (p *Pipeline) From() common.Address {
	return p.signer.From()
}

// Submit allocates a nonce, builds, signs and sends the transaction.
// The nonce is taken before any network I/O for the transaction; a nonce
// allocated to a transaction that is later rejected is not reused.
func (p *Pipeline) Submit(ctx context.Context, b txbuilder.Builder) (*runner.Attempt, error) {
	start := time.Now()

	nonce, err := p.nonces.Next(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNonceAllocation, err)
	}

	signed, err := p.signer.Sign(b, nonce)
	if err != nil {
		return nil, err
	}

	data, err := signed.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}

	hash, err := p.client.SendRawTransaction(ctx, data)
	if err != nil {
		return nil, fmt.Errorf("send nonce %d: %w", nonce, err)
	}
	if hash == (common.Hash{}) {
		hash = signed.Hash()
	}

	p.metrics.RecordTxSent(b.Kind())
	return &runner.Attempt{
		Hash:        hash,
		From:        p.signer.From(),
		Nonce:       nonce,
		GasLimit:    b.GasLimit(),
		Kind:        b.Kind(),
		SubmittedAt: start,
	}, nil
}

// Confirm waits up to the confirm timeout for the attempt's receipt.
// The returned error is a *runner.Failure.
func (p *Pipeline) Confirm(ctx context.Context, a *runner.Attempt) (*rpc.TransactionReceipt, types.Measurement, error) {
	defer p.metrics.RecordResolved()

	waitCtx, cancel := context.WithTimeout(ctx, p.confirmTimeout)
	defer cancel()

	receipt, err := rpc.WaitForReceipt(waitCtx, p.client, a.Hash, p.pollInterval)
	latency := time.Since(a.SubmittedAt)
	if err != nil {
		kind := types.FailureNodeError
		if errors.Is(err, rpc.ErrReceiptTimeout) {
			kind = types.FailureConfirmationTimeout
		}
		return nil, types.Measurement{}, runner.NewFailure(kind, err)
	}

	m := types.Measurement{
		TxHash:           a.Hash.Hex(),
		ConfirmationTime: float64(latency.Microseconds()) / 1000,
		BlockNumber:      receipt.BlockNumber,
		GasUsed:          receipt.GasUsed,
	}
	if !receipt.Succeeded() {
		return receipt, m, runner.NewFailure(types.FailureNodeError,
			fmt.Errorf("transaction reverted in block %d", receipt.BlockNumber))
	}

	p.metrics.RecordTxConfirmed(a.Kind, latency)
	return receipt, m, nil
}

// Execute submits and confirms one transaction, returning its outcome.
// Failures are logged with their category and never returned as errors.
func (p *Pipeline) Execute(ctx context.Context, index int, b txbuilder.Builder) runner.Outcome {
	a, err := p.Submit(ctx, b)
	if err != nil {
		kind := types.FailureSubmissionRejected
		if errors.Is(err, ErrNonceAllocation) {
			kind = types.FailureNodeError
		}
		return p.fail(index, b.Kind(), nil, runner.NewFailure(kind, err))
	}

	_, m, err := p.Confirm(ctx, a)
	if err != nil {
		var f *runner.Failure
		if !errors.As(err, &f) {
			f = runner.NewFailure(types.FailureNodeError, err)
		}
		return p.fail(index, b.Kind(), a, f)
	}
	return runner.Confirmed(index, b.Kind(), a, m)
}

func (p *Pipeline) fail(index int, kind types.TxKind, a *runner.Attempt, f *runner.Failure) runner.Outcome {
	attrs := []any{
		slog.Int("index", index),
		slog.String("kind", string(kind)),
		slog.String("category", string(f.Kind)),
		slog.String("error", f.Message),
	}
	if a != nil {
		attrs = append(attrs, slog.String("tx", a.Hash.Hex()), slog.Uint64("nonce", a.Nonce))
	}
	p.logger.Warn("transaction failed", attrs...)
	p.metrics.RecordTxFailed(kind, f.Kind)
	return runner.Failed(index, kind, a, f)
}

// Transfer sends amount to the recipient and waits for a successful receipt.
// It satisfies account.TransferFunc for wallet funding.
func (p *Pipeline) Transfer(ctx context.Context, to common.Address, amount *big.Int) error {
	o := p.Execute(ctx, 0, txbuilder.NewTransfer(to, amount, 0))
	if !o.Succeeded() {
		return o.Failure
	}
	return nil
}
