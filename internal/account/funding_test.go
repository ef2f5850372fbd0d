package account

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func TestFundWallets(t *testing.T) {
	wallets, err := GenerateAccounts(5, nil)
	if err != nil {
		t.Fatal(err)
	}
	amount := big.NewInt(1e18)

	var order []common.Address
	transfer := func(ctx context.Context, to common.Address, v *big.Int) error {
		if v.Cmp(amount) != 0 {
			t.Errorf("amount = %s, want %s", v, amount)
		}
		order = append(order, to)
		if to == wallets[2].Address {
			return errors.New("insufficient funds for gas * price + value")
		}
		return nil
	}

	funded, err := FundWallets(context.Background(), wallets, amount, transfer, nil)
	if err != nil {
		t.Fatalf("FundWallets: %v", err)
	}
	if len(funded) != 4 {
		t.Errorf("funded %d wallets, want 4", len(funded))
	}
	for _, w := range funded {
		if w == wallets[2] {
			t.Error("failed wallet should not be reported as funded")
		}
	}
	if len(order) != 5 {
		t.Fatalf("transfer called %d times, want 5", len(order))
	}
	for i, addr := range order {
		if addr != wallets[i].Address {
			t.Errorf("transfer %d went to %s, want wallets in order", i, addr.Hex())
		}
	}
}

func TestFundWallets_AllFail(t *testing.T) {
	wallets, _ := GenerateAccounts(3, nil)
	transfer := func(ctx context.Context, to common.Address, v *big.Int) error {
		return errors.New("rejected")
	}

	_, err := FundWallets(context.Background(), wallets, big.NewInt(1), transfer, nil)
	if !errors.Is(err, ErrFundingFailed) {
		t.Errorf("err = %v, want ErrFundingFailed", err)
	}
}

func TestFundWallets_Cancelled(t *testing.T) {
	wallets, _ := GenerateAccounts(3, nil)
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	transfer := func(ctx context.Context, to common.Address, v *big.Int) error {
		calls++
		cancel()
		return ctx.Err()
	}

	funded, err := FundWallets(ctx, wallets, big.NewInt(1), transfer, nil)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if len(funded) != 0 || calls != 1 {
		t.Errorf("funded=%d calls=%d, want 0 and 1", len(funded), calls)
	}
}
