package account

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/singleflight"
)

// NonceSource reports an address's transaction count. rpc.Client satisfies it.
type NonceSource interface {
	GetTransactionCount(ctx context.Context, address common.Address, blockTag string) (uint64, error)
}

// NonceAllocator hands out sequential nonces for a single sender.
//
// The counter is seeded once from the chain's pending transaction count on
// first use. Every Next call returns the current value and increments it
// under the lock before returning, so no caller can observe a value another
// caller already holds, regardless of how long the subsequent send takes.
type NonceAllocator struct {
	address common.Address
	source  NonceSource

	mu     sync.Mutex
	seeded bool
	next   uint64
	issued uint64

	seed singleflight.Group
}

// NewNonceAllocator creates an unseeded allocator for address.
func NewNonceAllocator(address common.Address, source NonceSource) *NonceAllocator {
	return &NonceAllocator{
		address: address,
		source:  source,
	}
}

// Address returns the sender the allocator issues nonces for.
func (a *NonceAllocator) Address() common.Address {
	return a.address
}

// Next returns the next nonce, seeding the counter from the chain on first use.
// Concurrent first callers share one fetch; if it fails they all receive the
// error and the allocator stays unseeded so a later call fetches again.
func (a *NonceAllocator) Next(ctx context.Context) (uint64, error) {
	for {
		a.mu.Lock()
		if a.seeded {
			n := a.next
			a.next++
			a.issued++
			a.mu.Unlock()
			return n, nil
		}
		a.mu.Unlock()

		if err := a.fetchSeed(ctx); err != nil {
			return 0, err
		}
	}
}

func (a *NonceAllocator) fetchSeed(ctx context.Context) error {
	ch := a.seed.DoChan("seed", func() (interface{}, error) {
		n, err := a.source.GetTransactionCount(ctx, a.address, "pending")
		if err != nil {
			return nil, err
		}
		a.mu.Lock()
		if !a.seeded {
			a.next = n
			a.seeded = true
		}
		a.mu.Unlock()
		return n, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return fmt.Errorf("seed nonce for %s: %w", a.address.Hex(), res.Err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Seed sets the counter explicitly, replacing any previous seed.
func (a *NonceAllocator) Seed(n uint64) {
	a.mu.Lock()
	a.next = n
	a.seeded = true
	a.mu.Unlock()
}

// Peek returns the next nonce without allocating it.
// ok is false while the allocator is unseeded.
func (a *NonceAllocator) Peek() (n uint64, ok bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.next, a.seeded
}

// Issued returns the number of nonces handed out since creation.
func (a *NonceAllocator) Issued() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.issued
}

// Reset drops the seed; the next call to Next fetches it from the chain again.
func (a *NonceAllocator) Reset() {
	a.mu.Lock()
	a.seeded = false
	a.next = 0
	a.mu.Unlock()
}
