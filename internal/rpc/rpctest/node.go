// Package rpctest provides an in-memory rpc.Client that behaves like a
// single-sequencer dev node: every accepted transaction carrying the next
// expected nonce is mined into its own block.
package rpctest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/jeongkyun-oh/arbitrum-load-test/internal/rpc"
	"github.com/jeongkyun-oh/arbitrum-load-test/internal/txbuilder"
)

// Gas charged per transaction kind.
const (
	TransferGas = 21000
	DeployGas   = 180000
	CallGas     = 43000
)

var storeSelector = []byte{0x60, 0x57, 0x36, 0x1d}

// Node is a fake single-node chain. The zero value is not usable; use NewNode.
type Node struct {
	mu sync.Mutex

	chainID  *big.Int
	gasPrice *big.Int
	signer   ethtypes.Signer

	block     uint64
	blockTxs  []string
	nonces    map[common.Address]uint64
	queued    map[common.Address]map[uint64]*ethtypes.Transaction
	receipts  map[common.Hash]*rpc.TransactionReceipt
	code      map[common.Address][]byte
	counters  map[common.Address]uint64
	balances  map[common.Address]*big.Int
	sendCount int

	// RejectSend, when set, can refuse a transaction before it is accepted.
	RejectSend func(tx *ethtypes.Transaction) error
	// HoldReceipts keeps mined receipts hidden, simulating a stalled node.
	HoldReceipts bool
	// FailCalls makes every call transaction revert.
	FailCalls bool
	// Errors returned by specific methods, keyed by method name.
	Errors map[string]error
}

var _ rpc.Client = (*Node)(nil)

// NewNode creates a node at block height 1 for chainID.
func NewNode(chainID int64) *Node {
	id := big.NewInt(chainID)
	return &Node{
		chainID:  id,
		gasPrice: big.NewInt(100_000_000),
		signer:   ethtypes.LatestSignerForChainID(id),
		block:    1,
		nonces:   make(map[common.Address]uint64),
		queued:   make(map[common.Address]map[uint64]*ethtypes.Transaction),
		receipts: make(map[common.Hash]*rpc.TransactionReceipt),
		code:     make(map[common.Address][]byte),
		counters: make(map[common.Address]uint64),
		balances: make(map[common.Address]*big.Int),
		Errors:   make(map[string]error),
	}
}

// SetNonce sets the next expected nonce of addr.
func (n *Node) SetNonce(addr common.Address, nonce uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.nonces[addr] = nonce
}

// SetBalance sets the balance of addr.
func (n *Node) SetBalance(addr common.Address, wei *big.Int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.balances[addr] = new(big.Int).Set(wei)
}

// SendCount returns the number of accepted transactions.
func (n *Node) SendCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.sendCount
}

// Counter returns the stored counter of a deployed storage contract.
func (n *Node) Counter(addr common.Address) uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.counters[addr]
}

// Contracts returns the number of deployed contracts.
func (n *Node) Contracts() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.code)
}

func (n *Node) fail(method string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.Errors[method]
}

func (n *Node) Call(ctx context.Context, method string, params []interface{}) (json.RawMessage, error) {
	return nil, &rpc.RPCError{Code: -32601, Message: "the method " + method + " does not exist/is not available"}
}

func (n *Node) GetBlockNumber(ctx context.Context) (uint64, error) {
	if err := n.fail("eth_blockNumber"); err != nil {
		return 0, err
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.block, nil
}

func (n *Node) GetLatestBlock(ctx context.Context) (*rpc.Block, error) {
	if err := n.fail("eth_getBlockByNumber"); err != nil {
		return nil, err
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	return &rpc.Block{
		Number:       n.block,
		Timestamp:    uint64(time.Now().Unix()),
		GasLimit:     30_000_000,
		Transactions: append([]string(nil), n.blockTxs...),
	}, nil
}

func (n *Node) GetBalance(ctx context.Context, address common.Address) (*big.Int, error) {
	if err := n.fail("eth_getBalance"); err != nil {
		return nil, err
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if b, ok := n.balances[address]; ok {
		return new(big.Int).Set(b), nil
	}
	return new(big.Int), nil
}

func (n *Node) GetTransactionCount(ctx context.Context, address common.Address, blockTag string) (uint64, error) {
	if err := n.fail("eth_getTransactionCount"); err != nil {
		return 0, err
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.nonces[address], nil
}

func (n *Node) GetChainID(ctx context.Context) (*big.Int, error) {
	if err := n.fail("eth_chainId"); err != nil {
		return nil, err
	}
	return new(big.Int).Set(n.chainID), nil
}

func (n *Node) GetGasPrice(ctx context.Context) (*big.Int, error) {
	if err := n.fail("eth_gasPrice"); err != nil {
		return nil, err
	}
	return new(big.Int).Set(n.gasPrice), nil
}

func (n *Node) EstimateGas(ctx context.Context, msg rpc.CallMsg) (uint64, error) {
	if err := n.fail("eth_estimateGas"); err != nil {
		return 0, err
	}
	switch {
	case msg.To == nil:
		return DeployGas, nil
	case len(msg.Data) > 0:
		return CallGas, nil
	default:
		return TransferGas, nil
	}
}

// SendRawTransaction decodes and accepts a signed transaction. Nonces below
// the next expected one are rejected; nonces above it are queued until the
// gap is filled.
func (n *Node) SendRawTransaction(ctx context.Context, txRLP []byte) (common.Hash, error) {
	if err := n.fail("eth_sendRawTransaction"); err != nil {
		return common.Hash{}, err
	}

	tx := new(ethtypes.Transaction)
	if err := tx.UnmarshalBinary(txRLP); err != nil {
		return common.Hash{}, &rpc.RPCError{Code: -32000, Message: "rlp: " + err.Error()}
	}
	from, err := ethtypes.Sender(n.signer, tx)
	if err != nil {
		return common.Hash{}, &rpc.RPCError{Code: -32000, Message: "invalid sender: " + err.Error()}
	}

	if n.RejectSend != nil {
		if err := n.RejectSend(tx); err != nil {
			return common.Hash{}, err
		}
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	next := n.nonces[from]
	if tx.Nonce() < next {
		return common.Hash{}, &rpc.RPCError{Code: -32000, Message: fmt.Sprintf("nonce too low: next nonce %d, tx nonce %d", next, tx.Nonce())}
	}
	if n.queued[from] == nil {
		n.queued[from] = make(map[uint64]*ethtypes.Transaction)
	}
	if _, dup := n.queued[from][tx.Nonce()]; dup {
		return common.Hash{}, &rpc.RPCError{Code: -32000, Message: "already known"}
	}
	n.queued[from][tx.Nonce()] = tx
	n.sendCount++

	for {
		queued, ok := n.queued[from][n.nonces[from]]
		if !ok {
			break
		}
		delete(n.queued[from], n.nonces[from])
		n.mine(from, queued)
		n.nonces[from]++
	}
	return tx.Hash(), nil
}

// mine includes tx in a new block. Caller holds n.mu.
func (n *Node) mine(from common.Address, tx *ethtypes.Transaction) {
	n.block++
	n.blockTxs = []string{tx.Hash().Hex()}

	receipt := &rpc.TransactionReceipt{
		TxHash:      tx.Hash(),
		Status:      1,
		BlockNumber: n.block,
	}

	switch {
	case tx.To() == nil:
		addr := crypto.CreateAddress(from, tx.Nonce())
		n.code[addr] = common.CopyBytes(tx.Data())
		receipt.ContractAddress = &addr
		receipt.GasUsed = DeployGas
	case len(tx.Data()) > 0:
		receipt.GasUsed = CallGas
		to := *tx.To()
		if n.FailCalls || len(n.code[to]) == 0 || !bytes.HasPrefix(tx.Data(), storeSelector) {
			receipt.Status = 0
		} else {
			n.counters[to]++
		}
	default:
		receipt.GasUsed = TransferGas
		to := *tx.To()
		if n.balances[to] == nil {
			n.balances[to] = new(big.Int)
		}
		n.balances[to].Add(n.balances[to], tx.Value())
		if b := n.balances[from]; b != nil {
			b.Sub(b, tx.Value())
		}
	}
	n.receipts[tx.Hash()] = receipt
}

func (n *Node) GetTransactionReceipt(ctx context.Context, txHash common.Hash) (*rpc.TransactionReceipt, error) {
	if err := n.fail("eth_getTransactionReceipt"); err != nil {
		return nil, err
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.HoldReceipts {
		return nil, nil
	}
	r, ok := n.receipts[txHash]
	if !ok {
		return nil, nil
	}
	cp := *r
	return &cp, nil
}

func (n *Node) GetCode(ctx context.Context, address common.Address) ([]byte, error) {
	if err := n.fail("eth_getCode"); err != nil {
		return nil, err
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	return common.CopyBytes(n.code[address]), nil
}

// CallContract answers counter() on deployed storage contracts.
func (n *Node) CallContract(ctx context.Context, msg rpc.CallMsg) ([]byte, error) {
	if err := n.fail("eth_call"); err != nil {
		return nil, err
	}
	if msg.To == nil {
		return nil, errors.New("eth_call without recipient")
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.code[*msg.To]) == 0 {
		return nil, nil
	}
	if !bytes.Equal(msg.Data, txbuilder.EncodeCounter()) {
		return nil, &rpc.RPCError{Code: 3, Message: "execution reverted"}
	}
	return common.LeftPadBytes(new(big.Int).SetUint64(n.counters[*msg.To]).Bytes(), 32), nil
}

func (n *Node) ClientVersion(ctx context.Context) (string, error) {
	if err := n.fail("web3_clientVersion"); err != nil {
		return "", err
	}
	return "fakenode/v1.0.0", nil
}

// PendingTransactionCount returns the number of queued transactions waiting
// on a nonce gap.
func (n *Node) PendingTransactionCount(ctx context.Context) (uint64, error) {
	if err := n.fail("eth_getBlockTransactionCountByNumber"); err != nil {
		return 0, err
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	var count uint64
	for _, q := range n.queued {
		count += uint64(len(q))
	}
	return count, nil
}
