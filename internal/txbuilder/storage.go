package txbuilder

import (
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/jeongkyun-oh/arbitrum-load-test/pkg/types"
)

// SimpleStorageBytecode deploys the storage fixture. It exposes
// store(uint256), counter() and values(uint256); every store call writes
// the value under the current counter and increments it.
var SimpleStorageBytecode = common.FromHex("0x608060405234801561000f575f80fd5b506101db8061001d5f395ff3fe608060405234801561000f575f80fd5b506004361061004a575f3560e01c80635e383d211461004e5780636057361d1461007f57806361bc221a14610094578063a329e8de1461009c575b5f80fd5b61006d61005c36600461016a565b60016020525f908152604090205481565b60405190815260200160405180910390f35b61009261008d36600461016a565b6100af565b005b61006d5f5481565b6100926100aa36600461016a565b6100d5565b5f80548152600160205260408120829055805490806100cd83610181565b919050555050565b5f816040516020016100e991815260200190565b6040516020818303038152906040528051906020012090505f5b8281101561014257604080516020810184905201604051602081830303815290604052805190602001209150808061013a90610181565b915050610103565b505f805481526001602052604081208290558054908061016183610181565b91905055505050565b5f6020828403121561017a575f80fd5b5035919050565b5f6001820161019e57634e487b7160e01b5f52601160045260245ffd5b506001019056fea26469706673582212206182d890991e9bbd7a6af9c355812723ee8e626b7af95fbebe78a89baa5632e464736f6c63430008140033")

var (
	storeSelector   = common.FromHex("0x6057361d") // store(uint256)
	counterSelector = common.FromHex("0x61bc221a") // counter()
)

// Default gas limits for the storage fixture.
const (
	DeployGasLimit = 2_000_000
	StoreGasLimit  = 100_000
)

// EncodeStore encodes a store(uint256) call.
func EncodeStore(value *big.Int) ([]byte, error) {
	if value.Sign() < 0 || value.BitLen() > 256 {
		return nil, errors.New("store value must fit in uint256")
	}
	data := make([]byte, 4+32)
	copy(data[0:4], storeSelector)
	value.FillBytes(data[4:36])
	return data, nil
}

// EncodeCounter encodes a counter() call.
func EncodeCounter() []byte {
	return common.CopyBytes(counterSelector)
}

// DecodeUint256 decodes a single uint256 return value.
func DecodeUint256(ret []byte) (*big.Int, error) {
	if len(ret) < 32 {
		return nil, errors.New("return data shorter than one word")
	}
	return new(big.Int).SetBytes(ret[:32]), nil
}

// DeployBuilder builds contract creation transactions.
type DeployBuilder struct {
	bytecode []byte
	gasLimit uint64
}

// NewDeploy creates a builder deploying bytecode. A zero gasLimit uses DeployGasLimit.
func NewDeploy(bytecode []byte, gasLimit uint64) *DeployBuilder {
	if gasLimit == 0 {
		gasLimit = DeployGasLimit
	}
	return &DeployBuilder{bytecode: bytecode, gasLimit: gasLimit}
}

// Kind returns TxKindDeploy.
func (b *DeployBuilder) Kind() types.TxKind {
	return types.TxKindDeploy
}

// GasLimit returns the deployment gas limit.
func (b *DeployBuilder) GasLimit() uint64 {
	return b.gasLimit
}

// Build creates the contract creation transaction.
func (b *DeployBuilder) Build(params TxParams) (*ethtypes.Transaction, error) {
	if err := params.validate(); err != nil {
		return nil, err
	}
	if len(b.bytecode) == 0 {
		return nil, errors.New("empty contract bytecode")
	}
	return newTx(params, nil, nil, b.gasLimit, b.bytecode), nil
}

// StoreCallBuilder builds store(uint256) calls against the fixture.
type StoreCallBuilder struct {
	contract common.Address
	value    *big.Int
	gasLimit uint64
}

// NewStoreCall creates a builder calling store(value) on contract.
// A zero gasLimit uses StoreGasLimit.
func NewStoreCall(contract common.Address, value *big.Int, gasLimit uint64) *StoreCallBuilder {
	if gasLimit == 0 {
		gasLimit = StoreGasLimit
	}
	return &StoreCallBuilder{contract: contract, value: value, gasLimit: gasLimit}
}

// Kind returns TxKindCall.
func (b *StoreCallBuilder) Kind() types.TxKind {
	return types.TxKindCall
}

// GasLimit returns the call gas limit.
func (b *StoreCallBuilder) GasLimit() uint64 {
	return b.gasLimit
}

// Build creates the store call transaction.
func (b *StoreCallBuilder) Build(params TxParams) (*ethtypes.Transaction, error) {
	if err := params.validate(); err != nil {
		return nil, err
	}
	if b.contract == (common.Address{}) {
		return nil, errors.New("storage contract address not set")
	}
	data, err := EncodeStore(b.value)
	if err != nil {
		return nil, err
	}
	to := b.contract
	return newTx(params, &to, nil, b.gasLimit, data), nil
}
