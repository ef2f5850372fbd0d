package account

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// ErrFundingFailed is returned when no wallet could be funded.
var ErrFundingFailed = errors.New("failed to fund any wallet")

// TransferFunc sends amount to the recipient and waits for it to be mined.
type TransferFunc func(ctx context.Context, to common.Address, amount *big.Int) error

// FundWallets transfers amount to each wallet, one at a time, waiting for each
// transfer to confirm before sending the next. A failed transfer is logged and
// skipped. Returns the wallets that were funded, or ErrFundingFailed if none were.
func FundWallets(ctx context.Context, wallets []*Account, amount *big.Int, transfer TransferFunc, logger *slog.Logger) ([]*Account, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if len(wallets) == 0 {
		return nil, nil
	}

	funded := make([]*Account, 0, len(wallets))
	for i, w := range wallets {
		if err := ctx.Err(); err != nil {
			return funded, err
		}

		if err := transfer(ctx, w.Address, amount); err != nil {
			if ctx.Err() != nil {
				return funded, ctx.Err()
			}
			logger.Warn("failed to fund wallet",
				slog.Int("index", i),
				slog.String("address", w.Address.Hex()),
				slog.String("error", err.Error()),
			)
			continue
		}

		funded = append(funded, w)
		logger.Debug("funded wallet",
			slog.String("address", w.Address.Hex()),
			slog.String("amount", amount.String()),
		)
	}

	if len(funded) == 0 {
		return nil, fmt.Errorf("%w: %d attempted", ErrFundingFailed, len(wallets))
	}

	logger.Info("funded wallets",
		slog.Int("funded", len(funded)),
		slog.Int("requested", len(wallets)),
	)
	return funded, nil
}
