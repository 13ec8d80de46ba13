package domain

import "errors"

var (
	// Generic lookup failure, also wrapped by stores and caches.
	ErrNotFound = errors.New("not found")

	// Input validation. No state change when returned.
	ErrInvalidFeed     = errors.New("price feed not allowlisted")
	ErrInvalidDuration = errors.New("invalid market duration")
	ErrInvalidAmount   = errors.New("invalid amount")
	ErrInvalidOutcome  = errors.New("invalid outcome index")
	ErrSlippage        = errors.New("slippage limit exceeded")

	// State conflicts: the caller's view of market state is stale.
	ErrMarketNotFound        = errors.New("market not found")
	ErrMarketExpired         = errors.New("market expired")
	ErrMarketResolved        = errors.New("market resolved, trading closed")
	ErrMarketNotResolved     = errors.New("market not resolved")
	ErrMarketAlreadyResolved = errors.New("market already resolved")
	ErrMarketStillActive     = errors.New("market still active")
	ErrAlreadyRedeemed       = errors.New("position already redeemed")
	ErrIntervalNotElapsed    = errors.New("market creation interval not elapsed")

	// Resource insufficiency: caller must remediate externally and retry.
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrInsufficientAllowance = errors.New("insufficient allowance")
	ErrInsufficientTreasury  = errors.New("insufficient oracle treasury funding")

	// External dependency failure. The engine never retries; callers may.
	ErrStalePrice = errors.New("stale or missing price")

	// Coordination.
	ErrLockHeld = errors.New("lock already held")
)
