// Package txbuilder provides transaction building for the load scenarios.
package txbuilder

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/jeongkyun-oh/arbitrum-load-test/pkg/types"
)

// ErrNoChainID is returned when building without a chain ID.
var ErrNoChainID = errors.New("chain ID must be non-nil and non-zero")

// TxParams holds the sender-side parameters for building a transaction.
type TxParams struct {
	ChainID   *big.Int
	Nonce     uint64
	GasTipCap *big.Int
	GasFeeCap *big.Int // gas price for legacy transactions
	UseLegacy bool
}

func (p TxParams) validate() error {
	if p.ChainID == nil || p.ChainID.Sign() == 0 {
		return ErrNoChainID
	}
	return nil
}

// Builder builds one kind of transaction.
type Builder interface {
	// Kind returns the workload variant this builder produces.
	Kind() types.TxKind

	// GasLimit returns the gas limit used for this transaction.
	GasLimit() uint64

	// Build creates an unsigned transaction.
	Build(params TxParams) (*ethtypes.Transaction, error)
}

// Signer holds a sender key together with the chain's fee parameters.
type Signer struct {
	key       *ecdsa.PrivateKey
	from      common.Address
	chainID   *big.Int
	gasTipCap *big.Int
	gasFeeCap *big.Int
	useLegacy bool
	signer    ethtypes.Signer
}

// FeeConfig describes how transactions are priced.
type FeeConfig struct {
	// GasPrice is the node's eth_gasPrice. Dynamic fee transactions use
	// twice this as the fee cap; legacy transactions use it as is.
	GasPrice *big.Int
	// GasTipCap is the EIP-1559 priority fee. Nil uses GasPrice.
	GasTipCap *big.Int
	UseLegacy bool
}

// NewSigner creates a Signer for key on chainID.
func NewSigner(key *ecdsa.PrivateKey, chainID *big.Int, fees FeeConfig) (*Signer, error) {
	if chainID == nil || chainID.Sign() == 0 {
		return nil, ErrNoChainID
	}
	if fees.GasPrice == nil || fees.GasPrice.Sign() < 0 {
		return nil, fmt.Errorf("gas price must be non-negative")
	}

	feeCap := new(big.Int).Set(fees.GasPrice)
	tip := fees.GasTipCap
	if tip == nil {
		tip = new(big.Int).Set(fees.GasPrice)
	}
	if !fees.UseLegacy {
		feeCap.Mul(feeCap, big.NewInt(2))
		feeCap.Add(feeCap, tip)
	}

	return &Signer{
		key:       key,
		from:      crypto.PubkeyToAddress(key.PublicKey),
		chainID:   new(big.Int).Set(chainID),
		gasTipCap: tip,
		gasFeeCap: feeCap,
		useLegacy: fees.UseLegacy,
		signer:    ethtypes.LatestSignerForChainID(chainID),
	}, nil
}

// Params returns the build parameters for nonce.
func (s *Signer) Params(nonce uint64) TxParams {
	return TxParams{
		ChainID:   s.chainID,
		Nonce:     nonce,
		GasTipCap: s.gasTipCap,
		GasFeeCap: s.gasFeeCap,
		UseLegacy: s.useLegacy,
	}
}

// From returns the sender address.
func (s *Signer) From() common.Address {
	return s.from
}

// ChainID returns the chain the signer signs for.
func (s *Signer) ChainID() *big.Int {
	return s.chainID
}

// Sign builds the transaction for nonce and signs it.
func (s *Signer) Sign(b Builder, nonce uint64) (*ethtypes.Transaction, error) {
	tx, err := b.Build(s.Params(nonce))
	if err != nil {
		return nil, fmt.Errorf("build %s: %w", b.Kind(), err)
	}
	signed, err := ethtypes.SignTx(tx, s.signer, s.key)
	if err != nil {
		return nil, fmt.Errorf("sign %s: %w", b.Kind(), err)
	}
	return signed, nil
}
