// Package account manages the sender and recipient accounts used by the load scenarios.
package account

import (
	"crypto/ecdsa"
	"fmt"
	"log/slog"
	"runtime"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// DevPrivateKey is the prefunded developer key of a local Nitro dev node.
const DevPrivateKey = "0xb6b15c8cb491557369f3c7d2c287b053eb229daa9c22138887752191c9520659"

// Account holds an account's key and address.
type Account struct {
	PrivateKey *ecdsa.PrivateKey
	Address    common.Address
}

// NewAccount creates an account from a private key.
func NewAccount(privateKey *ecdsa.PrivateKey) *Account {
	return &Account{
		PrivateKey: privateKey,
		Address:    crypto.PubkeyToAddress(privateKey.PublicKey),
	}
}

// NewAccountFromHex creates an account from a hex-encoded private key, with or without 0x prefix.
func NewAccountFromHex(hexKey string) (*Account, error) {
	privateKey, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return NewAccount(privateKey), nil
}

// GenerateAccounts creates count random accounts.
// Key generation is spread across a small worker pool.
func GenerateAccounts(count int, logger *slog.Logger) ([]*Account, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if count <= 0 {
		return nil, nil
	}

	accounts := make([]*Account, count)

	numWorkers := min(runtime.GOMAXPROCS(0), 16, count)

	var wg sync.WaitGroup
	errChan := make(chan error, numWorkers)
	workSize := (count + numWorkers - 1) / numWorkers

	for w := 0; w < numWorkers; w++ {
		start := w * workSize
		end := min(start+workSize, count)
		if start >= count {
			break
		}

		wg.Add(1)
		go func(start, end int) {
			defer wg.Done()
			for i := start; i < end; i++ {
				privateKey, err := crypto.GenerateKey()
				if err != nil {
					select {
					case errChan <- fmt.Errorf("key %d: %w", i, err):
					default:
					}
					return
				}
				accounts[i] = NewAccount(privateKey)
			}
		}(start, end)
	}

	wg.Wait()
	close(errChan)

	if err := <-errChan; err != nil {
		return nil, err
	}

	logger.Debug("generated accounts", slog.Int("count", count))
	return accounts, nil
}

// Addresses returns the addresses of accounts in order.
func Addresses(accounts []*Account) []common.Address {
	addrs := make([]common.Address, len(accounts))
	for i, a := range accounts {
		addrs[i] = a.Address
	}
	return addrs
}
