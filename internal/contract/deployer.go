// Package contract handles deployment and inspection of the storage fixture.
package contract

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/jeongkyun-oh/arbitrum-load-test/internal/pipeline"
	"github.com/jeongkyun-oh/arbitrum-load-test/internal/rpc"
	"github.com/jeongkyun-oh/arbitrum-load-test/internal/txbuilder"
)

// Deployer handles contract deployment through a sender's pipeline.
type Deployer struct {
	pipeline    *pipeline.Pipeline
	client      rpc.Client
	codeTimeout time.Duration
	logger      *slog.Logger
}

// NewDeployer creates a new contract deployer.
func NewDeployer(p *pipeline.Pipeline, logger *slog.Logger) *Deployer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Deployer{
		pipeline:    p,
		client:      p.Client(),
		codeTimeout: 60 * time.Second,
		logger:      logger,
	}
}

// SetCodeTimeout bounds how long Deploy waits for code to appear after the
// receipt.
func (d *Deployer) SetCodeTimeout(timeout time.Duration) {
	d.codeTimeout = timeout
}

// Deploy publishes bytecode, waits for its receipt and verifies that code
// exists at the created address.
func (d *Deployer) Deploy(ctx context.Context, name string, bytecode []byte) (common.Address, error) {
	a, err := d.pipeline.Submit(ctx, txbuilder.NewDeploy(bytecode, 0))
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to send %s deployment: %w", name, err)
	}

	d.logger.Info("Deploying contract",
		slog.String("name", name),
		slog.String("tx", a.Hash.Hex()),
		slog.String("expected_address", crypto.CreateAddress(a.From, a.Nonce).Hex()),
	)

	receipt, _, err := d.pipeline.Confirm(ctx, a)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to confirm %s deployment: %w", name, err)
	}

	contractAddr := crypto.CreateAddress(a.From, a.Nonce)
	if receipt.ContractAddress != nil {
		contractAddr = *receipt.ContractAddress
	}

	if err := d.waitForCode(ctx, name, contractAddr); err != nil {
		return common.Address{}, err
	}

	d.logger.Info("Contract deployed",
		slog.String("name", name),
		slog.String("address", contractAddr.Hex()),
		slog.Uint64("block", receipt.BlockNumber),
		slog.Uint64("gas_used", receipt.GasUsed),
	)
	return contractAddr, nil
}

// Exists checks if a contract is deployed at the given address.
func (d *Deployer) Exists(ctx context.Context, addr common.Address) (bool, error) {
	code, err := d.client.GetCode(ctx, addr)
	if err != nil {
		return false, err
	}
	return len(code) > 0, nil
}

// waitForCode polls eth_getCode with exponential backoff. Some nodes serve
// receipts before state is queryable.
func (d *Deployer) waitForCode(ctx context.Context, name string, contractAddr common.Address) error {
	backoff := 200 * time.Millisecond
	maxBackoff := 2 * time.Second
	deadline := time.Now().Add(d.codeTimeout)

	for {
		exists, err := d.Exists(ctx, contractAddr)
		if err == nil && exists {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("timeout waiting for %s code at %s", name, contractAddr.Hex())
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, maxBackoff)
	}
}

// StoredCount reads the storage fixture's counter().
func (d *Deployer) StoredCount(ctx context.Context, addr common.Address) (*big.Int, error) {
	ret, err := d.client.CallContract(ctx, rpc.CallMsg{
		From: d.pipeline.From(),
		To:   &addr,
		Data: txbuilder.EncodeCounter(),
	})
	if err != nil {
		return nil, fmt.Errorf("call counter(): %w", err)
	}
	count, err := txbuilder.DecodeUint256(ret)
	if err != nil {
		return nil, fmt.Errorf("decode counter(): %w", err)
	}
	return count, nil
}
