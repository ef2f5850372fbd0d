package txbuilder

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/jeongkyun-oh/arbitrum-load-test/pkg/types"
)

// TransferGasLimit is the intrinsic gas of a plain value transfer.
const TransferGasLimit = 21000

// TransferBuilder builds native value transfers.
type TransferBuilder struct {
	to       common.Address
	value    *big.Int
	gasLimit uint64
}

// NewTransfer creates a builder sending value wei to the recipient.
// A zero gasLimit uses TransferGasLimit.
func NewTransfer(to common.Address, value *big.Int, gasLimit uint64) *TransferBuilder {
	if gasLimit == 0 {
		gasLimit = TransferGasLimit
	}
	return &TransferBuilder{to: to, value: value, gasLimit: gasLimit}
}

// Kind returns TxKindTransfer.
func (b *TransferBuilder) Kind() types.TxKind {
	return types.TxKindTransfer
}

// GasLimit returns the transfer gas limit.
func (b *TransferBuilder) GasLimit() uint64 {
	return b.gasLimit
}

// Build creates the transfer transaction.
func (b *TransferBuilder) Build(params TxParams) (*ethtypes.Transaction, error) {
	if err := params.validate(); err != nil {
		return nil, err
	}
	to := b.to
	return newTx(params, &to, b.value, b.gasLimit, nil), nil
}
