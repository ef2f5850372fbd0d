package txbuilder

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
)

// newTx creates either a DynamicFeeTx or LegacyTx depending on params.UseLegacy.
// A nil to creates a contract. For legacy transactions GasFeeCap is the gas price.
func newTx(params TxParams, to *common.Address, value *big.Int, gasLimit uint64, data []byte) *ethtypes.Transaction {
	if value == nil {
		value = new(big.Int)
	}
	if params.UseLegacy {
		return ethtypes.NewTx(&ethtypes.LegacyTx{
			Nonce:    params.Nonce,
			GasPrice: params.GasFeeCap,
			Gas:      gasLimit,
			To:       to,
			Value:    value,
			Data:     data,
		})
	}
	return ethtypes.NewTx(&ethtypes.DynamicFeeTx{
		ChainID:   params.ChainID,
		Nonce:     params.Nonce,
		GasTipCap: params.GasTipCap,
		GasFeeCap: params.GasFeeCap,
		Gas:       gasLimit,
		To:        to,
		Value:     value,
		Data:      data,
	})
}
