// Package rpc provides JSON-RPC client functionality with retry logic.
package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"golang.org/x/time/rate"
)

// Client is the interface for JSON-RPC communication with the node under test.
type Client interface {
	// Call makes a raw JSON-RPC call.
	Call(ctx context.Context, method string, params []interface{}) (json.RawMessage, error)

	// GetBlockNumber returns the latest block number.
	GetBlockNumber(ctx context.Context) (uint64, error)

	// GetLatestBlock fetches the latest block header with transaction hashes.
	GetLatestBlock(ctx context.Context) (*Block, error)

	// GetBalance returns the balance for an address at the latest block.
	GetBalance(ctx context.Context, address common.Address) (*big.Int, error)

	// GetTransactionCount returns the nonce for an address at the given block tag.
	GetTransactionCount(ctx context.Context, address common.Address, blockTag string) (uint64, error)

	// GetChainID returns the chain ID reported by the node.
	GetChainID(ctx context.Context) (*big.Int, error)

	// GetGasPrice returns the current gas price.
	GetGasPrice(ctx context.Context) (*big.Int, error)

	// EstimateGas estimates the gas required by a call.
	EstimateGas(ctx context.Context, msg CallMsg) (uint64, error)

	// SendRawTransaction sends a signed transaction and returns its hash.
	SendRawTransaction(ctx context.Context, txRLP []byte) (common.Hash, error)

	// GetTransactionReceipt returns the receipt, or nil if not yet mined.
	GetTransactionReceipt(ctx context.Context, txHash common.Hash) (*TransactionReceipt, error)

	// GetCode returns contract code at an address.
	GetCode(ctx context.Context, address common.Address) ([]byte, error)

	// CallContract executes eth_call against the latest block.
	CallContract(ctx context.Context, msg CallMsg) ([]byte, error)

	// ClientVersion returns web3_clientVersion.
	ClientVersion(ctx context.Context) (string, error)

	// PendingTransactionCount returns the number of transactions in the pending block.
	PendingTransactionCount(ctx context.Context) (uint64, error)
}

// TransactionReceipt represents an Ethereum transaction receipt.
type TransactionReceipt struct {
	TxHash            common.Hash     `json:"transactionHash"`
	Status            uint64          `json:"status"`            // 1 = success, 0 = failure
	GasUsed           uint64          `json:"gasUsed"`           // Actual gas consumed
	ContractAddress   *common.Address `json:"contractAddress"`   // Created contract address (if any)
	BlockNumber       uint64          `json:"blockNumber"`       // Block this tx was included in
	EffectiveGasPrice uint64          `json:"effectiveGasPrice"` // Actual gas price paid
}

// Succeeded reports whether the transaction executed without reverting.
func (r *TransactionReceipt) Succeeded() bool {
	return r.Status == 1
}

// Block represents a block header with transaction hashes.
type Block struct {
	Number       uint64   `json:"number"`
	Hash         string   `json:"hash"`
	Timestamp    uint64   `json:"timestamp"` // unix seconds
	GasUsed      uint64   `json:"gasUsed"`
	GasLimit     uint64   `json:"gasLimit"`
	Transactions []string `json:"transactions"`
}

// TxCount returns the number of transactions in the block.
func (b *Block) TxCount() int {
	return len(b.Transactions)
}

// CallMsg holds the fields of an eth_call or eth_estimateGas request.
type CallMsg struct {
	From     common.Address
	To       *common.Address // nil for contract creation
	Gas      uint64
	GasPrice *big.Int
	Value    *big.Int
	Data     []byte
}

func (m CallMsg) toArg() map[string]interface{} {
	arg := map[string]interface{}{
		"from": m.From,
	}
	if m.To != nil {
		arg["to"] = m.To
	}
	if len(m.Data) > 0 {
		arg["input"] = hexutil.Bytes(m.Data)
	}
	if m.Value != nil {
		arg["value"] = (*hexutil.Big)(m.Value)
	}
	if m.Gas != 0 {
		arg["gas"] = hexutil.Uint64(m.Gas)
	}
	if m.GasPrice != nil {
		arg["gasPrice"] = (*hexutil.Big)(m.GasPrice)
	}
	return arg
}

// JSONRPCRequest represents a JSON-RPC request.
type JSONRPCRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
	ID      uint64        `json:"id"`
}

// JSONRPCResponse represents a JSON-RPC response.
type JSONRPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *JSONRPCError   `json:"error,omitempty"`
	ID      uint64          `json:"id"`
}

// JSONRPCError represents a JSON-RPC error.
type JSONRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// ObserveFunc receives the duration and result of every JSON-RPC call.
type ObserveFunc func(method string, d time.Duration, err error)

// ClientConfig holds configuration for the RPC client.
type ClientConfig struct {
	URL            string
	Timeout        time.Duration
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// Limiter caps outgoing requests; nil means unlimited.
	Limiter  *rate.Limiter
	Observer ObserveFunc
	Logger   *slog.Logger
}

// DefaultClientConfig returns default configuration.
// Receipts can take a few seconds under load, so the per-request timeout
// is generous while retries stay short.
func DefaultClientConfig(url string) ClientConfig {
	return ClientConfig{
		URL:            url,
		Timeout:        10 * time.Second,
		MaxRetries:     3,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     2 * time.Second,
	}
}

// HTTPClient implements Client using HTTP.
type HTTPClient struct {
	url        string
	httpClient *http.Client
	maxRetries int
	backoff    time.Duration
	maxBackoff time.Duration
	limiter    *rate.Limiter
	observe    ObserveFunc
	nextID     atomic.Uint64
	logger     *slog.Logger
}

// NewHTTPClient creates a new HTTP-based RPC client.
func NewHTTPClient(cfg ClientConfig) *HTTPClient {
	transport := &http.Transport{
		MaxIdleConns:        512,
		MaxIdleConnsPerHost: 256,
		IdleConnTimeout:     90 * time.Second,
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &HTTPClient{
		url: cfg.URL,
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   cfg.Timeout,
		},
		maxRetries: cfg.MaxRetries,
		backoff:    cfg.InitialBackoff,
		maxBackoff: cfg.MaxBackoff,
		limiter:    cfg.Limiter,
		observe:    cfg.Observer,
		logger:     logger,
	}
}

// Call makes a JSON-RPC call with retry logic.
func (c *HTTPClient) Call(ctx context.Context, method string, params []interface{}) (json.RawMessage, error) {
	if params == nil {
		params = []interface{}{}
	}
	req := JSONRPCRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      c.nextID.Add(1),
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	start := time.Now()
	result, err := c.callWithRetry(ctx, method, body)
	if c.observe != nil {
		c.observe(method, time.Since(start), err)
	}
	return result, err
}

func (c *HTTPClient) callWithRetry(ctx context.Context, method string, body []byte) (json.RawMessage, error) {
	var lastErr error
	backoff := c.backoff

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, c.maxBackoff)
		}

		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}

		result, err := c.doRequest(ctx, body)
		if err == nil {
			return result, nil
		}

		lastErr = err

		// Don't retry on context cancellation
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		if isRetryableHTTPError(err) {
			backoff = getRetryDelay(err, backoff)
			c.logger.Debug("RPC got retryable HTTP error, retrying",
				slog.String("method", method),
				slog.Int("attempt", attempt+1),
				slog.String("error", err.Error()),
				slog.Duration("backoff", backoff),
			)
			continue
		}

		// Application-level errors are final
		if isRPCError(err) {
			return nil, err
		}

		var statusErr *HTTPStatusError
		if errors.As(err, &statusErr) {
			return nil, err
		}

		c.logger.Debug("RPC call failed, retrying",
			slog.String("method", method),
			slog.Int("attempt", attempt+1),
			slog.String("error", err.Error()),
		)
	}

	return nil, fmt.Errorf("all retries failed: %w", lastErr)
}

func (c *HTTPClient) doRequest(ctx context.Context, body []byte) (json.RawMessage, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		var retryAfter time.Duration
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if secs, err := strconv.ParseFloat(ra, 64); err == nil {
				retryAfter = time.Duration(secs * float64(time.Second))
			}
		}
		return nil, &HTTPStatusError{
			StatusCode: resp.StatusCode,
			RetryAfter: retryAfter,
			Body:       string(errBody),
		}
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var rpcResp JSONRPCResponse
	if err := json.Unmarshal(respBody, &rpcResp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	if rpcResp.Error != nil {
		return nil, &RPCError{
			Code:    rpcResp.Error.Code,
			Message: rpcResp.Error.Message,
		}
	}

	return rpcResp.Result, nil
}

// RPCError is an RPC-specific error.
type RPCError struct {
	Code    int
	Message string
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("RPC error %d: %s", e.Code, e.Message)
}

func isRPCError(err error) bool {
	var rpcErr *RPCError
	return errors.As(err, &rpcErr)
}

// HTTPStatusError represents an HTTP-level error (non-2xx status).
type HTTPStatusError struct {
	StatusCode int
	RetryAfter time.Duration
	Body       string
}

func (e *HTTPStatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("HTTP %d: %s (body: %s)", e.StatusCode, http.StatusText(e.StatusCode), e.Body)
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, http.StatusText(e.StatusCode))
}

// IsRetryable returns true if this HTTP error should be retried.
func (e *HTTPStatusError) IsRetryable() bool {
	// 429 Too Many Requests, 502 Bad Gateway, 503 Service Unavailable, 504 Gateway Timeout
	return e.StatusCode == 429 || e.StatusCode == 502 ||
		e.StatusCode == 503 || e.StatusCode == 504
}

func isRetryableHTTPError(err error) bool {
	var httpErr *HTTPStatusError
	if errors.As(err, &httpErr) {
		return httpErr.IsRetryable()
	}
	return false
}

func getRetryDelay(err error, defaultBackoff time.Duration) time.Duration {
	var httpErr *HTTPStatusError
	if errors.As(err, &httpErr) && httpErr.RetryAfter > 0 {
		return httpErr.RetryAfter
	}
	return defaultBackoff
}

func (c *HTTPClient) callUint64(ctx context.Context, method string, params []interface{}) (uint64, error) {
	result, err := c.Call(ctx, method, params)
	if err != nil {
		return 0, err
	}
	var v hexutil.Uint64
	if err := json.Unmarshal(result, &v); err != nil {
		return 0, fmt.Errorf("failed to unmarshal %s result: %w", method, err)
	}
	return uint64(v), nil
}

func (c *HTTPClient) callBig(ctx context.Context, method string, params []interface{}) (*big.Int, error) {
	result, err := c.Call(ctx, method, params)
	if err != nil {
		return nil, err
	}
	var v hexutil.Big
	if err := json.Unmarshal(result, &v); err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s result: %w", method, err)
	}
	return v.ToInt(), nil
}

func (c *HTTPClient) callBytes(ctx context.Context, method string, params []interface{}) ([]byte, error) {
	result, err := c.Call(ctx, method, params)
	if err != nil {
		return nil, err
	}
	var v hexutil.Bytes
	if err := json.Unmarshal(result, &v); err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s result: %w", method, err)
	}
	return v, nil
}

// GetBlockNumber returns the latest block number.
func (c *HTTPClient) GetBlockNumber(ctx context.Context) (uint64, error) {
	return c.callUint64(ctx, "eth_blockNumber", nil)
}

// GetLatestBlock fetches the latest block with transaction hashes.
func (c *HTTPClient) GetLatestBlock(ctx context.Context) (*Block, error) {
	result, err := c.Call(ctx, "eth_getBlockByNumber", []interface{}{"latest", false})
	if err != nil {
		return nil, err
	}
	if string(result) == "null" {
		return nil, fmt.Errorf("latest block not found")
	}

	var rawBlock struct {
		Number       hexutil.Uint64 `json:"number"`
		Hash         string         `json:"hash"`
		Timestamp    hexutil.Uint64 `json:"timestamp"`
		GasUsed      hexutil.Uint64 `json:"gasUsed"`
		GasLimit     hexutil.Uint64 `json:"gasLimit"`
		Transactions []string       `json:"transactions"`
	}
	if err := json.Unmarshal(result, &rawBlock); err != nil {
		return nil, fmt.Errorf("failed to unmarshal block: %w", err)
	}

	return &Block{
		Number:       uint64(rawBlock.Number),
		Hash:         rawBlock.Hash,
		Timestamp:    uint64(rawBlock.Timestamp),
		GasUsed:      uint64(rawBlock.GasUsed),
		GasLimit:     uint64(rawBlock.GasLimit),
		Transactions: rawBlock.Transactions,
	}, nil
}

// GetBalance returns the balance for an address at the latest block.
func (c *HTTPClient) GetBalance(ctx context.Context, address common.Address) (*big.Int, error) {
	return c.callBig(ctx, "eth_getBalance", []interface{}{address, "latest"})
}

// GetTransactionCount returns the nonce for an address.
// Use "pending" to include transactions still in the mempool.
func (c *HTTPClient) GetTransactionCount(ctx context.Context, address common.Address, blockTag string) (uint64, error) {
	return c.callUint64(ctx, "eth_getTransactionCount", []interface{}{address, blockTag})
}

// GetChainID returns the chain ID reported by the node.
func (c *HTTPClient) GetChainID(ctx context.Context) (*big.Int, error) {
	return c.callBig(ctx, "eth_chainId", nil)
}

// GetGasPrice returns the current gas price from the node.
func (c *HTTPClient) GetGasPrice(ctx context.Context) (*big.Int, error) {
	return c.callBig(ctx, "eth_gasPrice", nil)
}

// EstimateGas estimates the gas required by msg.
func (c *HTTPClient) EstimateGas(ctx context.Context, msg CallMsg) (uint64, error) {
	return c.callUint64(ctx, "eth_estimateGas", []interface{}{msg.toArg()})
}

// SendRawTransaction sends a signed transaction and returns the node-reported hash.
func (c *HTTPClient) SendRawTransaction(ctx context.Context, txRLP []byte) (common.Hash, error) {
	result, err := c.Call(ctx, "eth_sendRawTransaction", []interface{}{hexutil.Encode(txRLP)})
	if err != nil {
		return common.Hash{}, err
	}
	var hash common.Hash
	if err := json.Unmarshal(result, &hash); err != nil {
		return common.Hash{}, fmt.Errorf("failed to unmarshal tx hash: %w", err)
	}
	return hash, nil
}

// GetTransactionReceipt returns the receipt for a transaction.
// Returns nil, nil while the transaction is not mined.
func (c *HTTPClient) GetTransactionReceipt(ctx context.Context, txHash common.Hash) (*TransactionReceipt, error) {
	result, err := c.Call(ctx, "eth_getTransactionReceipt", []interface{}{txHash})
	if err != nil {
		return nil, err
	}

	if len(result) == 0 || string(result) == "null" {
		return nil, nil
	}

	return parseReceipt(result)
}

func parseReceipt(data json.RawMessage) (*TransactionReceipt, error) {
	var rawReceipt struct {
		TxHash            common.Hash     `json:"transactionHash"`
		Status            hexutil.Uint64  `json:"status"`
		GasUsed           hexutil.Uint64  `json:"gasUsed"`
		ContractAddress   *common.Address `json:"contractAddress"`
		BlockNumber       hexutil.Uint64  `json:"blockNumber"`
		EffectiveGasPrice *hexutil.Uint64 `json:"effectiveGasPrice"`
	}
	if err := json.Unmarshal(data, &rawReceipt); err != nil {
		return nil, fmt.Errorf("failed to unmarshal receipt: %w", err)
	}

	receipt := &TransactionReceipt{
		TxHash:          rawReceipt.TxHash,
		Status:          uint64(rawReceipt.Status),
		GasUsed:         uint64(rawReceipt.GasUsed),
		ContractAddress: rawReceipt.ContractAddress,
		BlockNumber:     uint64(rawReceipt.BlockNumber),
	}
	if rawReceipt.EffectiveGasPrice != nil {
		receipt.EffectiveGasPrice = uint64(*rawReceipt.EffectiveGasPrice)
	}
	return receipt, nil
}

// GetCode returns contract code at an address.
func (c *HTTPClient) GetCode(ctx context.Context, address common.Address) ([]byte, error) {
	return c.callBytes(ctx, "eth_getCode", []interface{}{address, "latest"})
}

// CallContract executes a read-only call against the latest block.
func (c *HTTPClient) CallContract(ctx context.Context, msg CallMsg) ([]byte, error) {
	return c.callBytes(ctx, "eth_call", []interface{}{msg.toArg(), "latest"})
}

// ClientVersion returns the node's client version string.
func (c *HTTPClient) ClientVersion(ctx context.Context) (string, error) {
	result, err := c.Call(ctx, "web3_clientVersion", nil)
	if err != nil {
		return "", err
	}
	var version string
	if err := json.Unmarshal(result, &version); err != nil {
		return "", fmt.Errorf("failed to unmarshal client version: %w", err)
	}
	return version, nil
}

// PendingTransactionCount returns the transaction count of the pending block.
// Nodes without a pending block return null, reported as 0.
func (c *HTTPClient) PendingTransactionCount(ctx context.Context) (uint64, error) {
	result, err := c.Call(ctx, "eth_getBlockTransactionCountByNumber", []interface{}{"pending"})
	if err != nil {
		return 0, err
	}
	if len(result) == 0 || string(result) == "null" {
		return 0, nil
	}
	var count hexutil.Uint64
	if err := json.Unmarshal(result, &count); err != nil {
		return 0, fmt.Errorf("failed to unmarshal pending count: %w", err)
	}
	return uint64(count), nil
}
