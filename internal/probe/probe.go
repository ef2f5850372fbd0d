// Package probe collects node-level metrics around scenario runs.
package probe

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/params"

	"github.com/jeongkyun-oh/arbitrum-load-test/internal/rpc"
	"github.com/jeongkyun-oh/arbitrum-load-test/pkg/types"
)

// Snapshot captures block height, the latest block, client version and
// pending pool depth. Block height and the latest block are required; the
// client version and pending count are best effort and logged when missing.
func Snapshot(ctx context.Context, client rpc.Client, logger *slog.Logger) (types.NodeSnapshot, error) {
	if logger == nil {
		logger = slog.Default()
	}

	height, err := client.GetBlockNumber(ctx)
	if err != nil {
		return types.NodeSnapshot{}, fmt.Errorf("get block number: %w", err)
	}
	block, err := client.GetLatestBlock(ctx)
	if err != nil {
		return types.NodeSnapshot{}, fmt.Errorf("get latest block: %w", err)
	}

	snap := types.NodeSnapshot{
		BlockNumber:             height,
		LatestBlockTimestamp:    block.Timestamp,
		LatestBlockTransactions: block.TxCount(),
	}

	if version, err := client.ClientVersion(ctx); err != nil {
		logger.Debug("failed to fetch web3_clientVersion", "error", err)
	} else {
		snap.ClientVersion = version
	}

	if pending, err := client.PendingTransactionCount(ctx); err != nil {
		logger.Warn("pending transaction count unavailable, reporting 0", "error", err)
	} else {
		snap.PendingTransactions = pending
	}

	return snap, nil
}

// BlocksProduced returns the height delta between two snapshots.
func BlocksProduced(before, after types.NodeSnapshot) int64 {
	return int64(after.BlockNumber) - int64(before.BlockNumber)
}

// ProbeTransferValue is the self-transfer amount used for gas estimation (0.001 ETH).
var ProbeTransferValue = new(big.Int).Div(big.NewInt(params.Ether), big.NewInt(1000))

// Probe checks connectivity and the sender's readiness: block number,
// chain ID, gas price, sender balance and the estimated gas of a small
// self-transfer.
func Probe(ctx context.Context, client rpc.Client, sender common.Address) (types.ProbeResult, error) {
	height, err := client.GetBlockNumber(ctx)
	if err != nil {
		return types.ProbeResult{}, fmt.Errorf("get block number: %w", err)
	}
	chainID, err := client.GetChainID(ctx)
	if err != nil {
		return types.ProbeResult{}, fmt.Errorf("get chain id: %w", err)
	}
	gasPrice, err := client.GetGasPrice(ctx)
	if err != nil {
		return types.ProbeResult{}, fmt.Errorf("get gas price: %w", err)
	}
	balance, err := client.GetBalance(ctx, sender)
	if err != nil {
		return types.ProbeResult{}, fmt.Errorf("get balance of %s: %w", sender.Hex(), err)
	}
	to := sender
	gas, err := client.EstimateGas(ctx, rpc.CallMsg{From: sender, To: &to, Value: ProbeTransferValue})
	if err != nil {
		return types.ProbeResult{}, fmt.Errorf("estimate gas: %w", err)
	}

	result := types.ProbeResult{
		BlockNumber:  height,
		ChainID:      chainID.Uint64(),
		GasPrice:     gasPrice.String(),
		Sender:       sender.Hex(),
		Balance:      balance.String(),
		EstimatedGas: gas,
	}
	if version, err := client.ClientVersion(ctx); err == nil {
		result.ClientVersion = version
	}
	return result, nil
}
