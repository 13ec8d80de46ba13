package domain

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
)

// TokenBank is the ERC-20-style custody boundary for the stake token. Stakes
// are pulled with TransferFrom (requiring a prior Approve) and payouts are
// pushed with Transfer. All amounts are base units; implementations must make
// each call atomic and never leave a balance negative.
type TokenBank interface {
	BalanceOf(ctx context.Context, owner common.Address) (int64, error)
	Allowance(ctx context.Context, owner, spender common.Address) (int64, error)

	// Approve sets spender's allowance over owner's funds.
	Approve(ctx context.Context, owner, spender common.Address, amount int64) error

	// TransferFrom moves amount from `from` to `to` on behalf of spender,
	// consuming allowance. Fails with ErrInsufficientAllowance or
	// ErrInsufficientBalance.
	TransferFrom(ctx context.Context, spender, from, to common.Address, amount int64) error

	// Transfer moves amount from `from` to `to` directly. Fails with
	// ErrInsufficientBalance.
	Transfer(ctx context.Context, from, to common.Address, amount int64) error
}
