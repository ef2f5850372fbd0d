package rpc

import (
	"context"
	"errors"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ErrReceiptTimeout is returned when no receipt arrives before the context deadline.
var ErrReceiptTimeout = errors.New("timed out waiting for receipt")

// DefaultReceiptPollInterval is how often WaitForReceipt polls when no interval is given.
const DefaultReceiptPollInterval = 250 * time.Millisecond

// WaitForReceipt polls for the receipt of txHash until it is mined or ctx ends.
// A context deadline is reported as ErrReceiptTimeout; cancellation as ctx.Err().
// Transient polling errors are retried; the last one is returned only if the
// deadline is hit while they persist.
func WaitForReceipt(ctx context.Context, client Client, txHash common.Hash, interval time.Duration) (*TransactionReceipt, error) {
	if interval <= 0 {
		interval = DefaultReceiptPollInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var lastErr error
	for {
		receipt, err := client.GetTransactionReceipt(ctx, txHash)
		if err == nil && receipt != nil {
			return receipt, nil
		}
		if err != nil && ctx.Err() == nil {
			lastErr = err
		}

		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				if lastErr != nil {
					return nil, &PollError{Err: lastErr}
				}
				return nil, ErrReceiptTimeout
			}
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// PollError wraps the last error seen while polling for a receipt that never arrived.
type PollError struct {
	Err error
}

func (e *PollError) Error() string {
	return "receipt polling failed: " + e.Err.Error()
}

func (e *PollError) Unwrap() error {
	return e.Err
}
