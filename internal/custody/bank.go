// Package custody implements the stake-token custody boundary. Bank is an
// in-process, ERC-20-semantics ledger used where the engine would otherwise
// talk to an external fungible-token contract: stakes are pulled via
// allowance-checked TransferFrom and payouts pushed via Transfer.
package custody

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/updownlabs/updown/internal/domain"
)

type allowanceKey struct {
	owner   common.Address
	spender common.Address
}

// Bank is a thread-safe token ledger. Every mutation is atomic: a failed
// precondition leaves all balances and allowances untouched.
type Bank struct {
	mu         sync.RWMutex
	balances   map[common.Address]int64
	allowances map[allowanceKey]int64
}

// NewBank creates an empty Bank.
func NewBank() *Bank {
	return &Bank{
		balances:   make(map[common.Address]int64),
		allowances: make(map[allowanceKey]int64),
	}
}

// Mint credits newly issued tokens to owner. Used to seed the treasury and
// user accounts; a real deployment would replace this with external deposits.
func (b *Bank) Mint(owner common.Address, amount int64) error {
	if amount <= 0 {
		return domain.ErrInvalidAmount
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.balances[owner] += amount
	return nil
}

// BalanceOf returns owner's balance.
func (b *Bank) BalanceOf(_ context.Context, owner common.Address) (int64, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.balances[owner], nil
}

// Allowance returns how much spender may pull from owner.
func (b *Bank) Allowance(_ context.Context, owner, spender common.Address) (int64, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.allowances[allowanceKey{owner, spender}], nil
}

// Approve sets spender's allowance over owner's funds.
func (b *Bank) Approve(_ context.Context, owner, spender common.Address, amount int64) error {
	if amount < 0 {
		return domain.ErrInvalidAmount
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.allowances[allowanceKey{owner, spender}] = amount
	return nil
}

// TransferFrom moves amount from `from` to `to`, consuming spender's
// allowance. When spender == from no allowance is required, matching the
// usual self-spend shortcut.
func (b *Bank) TransferFrom(_ context.Context, spender, from, to common.Address, amount int64) error {
	if amount <= 0 {
		return domain.ErrInvalidAmount
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if spender != from {
		key := allowanceKey{from, spender}
		if b.allowances[key] < amount {
			return domain.ErrInsufficientAllowance
		}
		if b.balances[from] < amount {
			return domain.ErrInsufficientBalance
		}
		b.allowances[key] -= amount
	} else if b.balances[from] < amount {
		return domain.ErrInsufficientBalance
	}

	b.balances[from] -= amount
	b.balances[to] += amount
	return nil
}

// Transfer moves amount from `from` to `to` directly.
func (b *Bank) Transfer(_ context.Context, from, to common.Address, amount int64) error {
	if amount <= 0 {
		return domain.ErrInvalidAmount
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.balances[from] < amount {
		return domain.ErrInsufficientBalance
	}
	b.balances[from] -= amount
	b.balances[to] += amount
	return nil
}

// TotalSupply returns the sum of all balances, for conservation checks.
func (b *Bank) TotalSupply() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var total int64
	for _, bal := range b.balances {
		total += bal
	}
	return total
}

// Compile-time interface check.
var _ domain.TokenBank = (*Bank)(nil)
