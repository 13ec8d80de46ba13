package engine

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/updownlabs/updown/internal/domain"
)

func TestCreateMarket(t *testing.T) {
	rig := newTestRig(t, defaultConfig())
	ctx := context.Background()
	require.NoError(t, rig.bank.Mint(treasuryAddr, 10_000))

	m, err := rig.eng.CreateMarket(ctx, testFeedID, time.Hour, nil)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(m.QuestionID, "0x"))
	assert.Len(t, m.QuestionID, 66)
	assert.Equal(t, testFeedID, m.PriceFeedID)
	assert.Equal(t, "ETH/USD", m.FeedSymbol)
	assert.Equal(t, int64(250_000_000_000), m.InitialPrice)
	assert.Equal(t, [2]int64{1000, 1000}, m.Reserves)
	assert.Equal(t, int64(1000), m.StakePool)
	assert.False(t, m.Resolved)
	assert.Equal(t, m.BeginTimestamp.Add(time.Hour), m.EndTimestamp)

	stored, err := rig.markets.GetByID(ctx, m.QuestionID)
	require.NoError(t, err)
	assert.Equal(t, m.QuestionID, stored.QuestionID)

	require.NoError(t, rig.eng.CheckConservation(m.QuestionID))
}

func TestCreateMarket_Validation(t *testing.T) {
	cfg := defaultConfig()
	cfg.CreationInterval = 10 * time.Minute

	tests := []struct {
		name    string
		setup   func(rig *testRig)
		feedID  string
		dur     time.Duration
		wantErr error
	}{
		{
			name:    "unknown feed",
			feedID:  "0xdeadbeef",
			dur:     time.Hour,
			wantErr: domain.ErrInvalidFeed,
		},
		{
			name:    "duration too short",
			feedID:  testFeedID,
			dur:     time.Second,
			wantErr: domain.ErrInvalidDuration,
		},
		{
			name:    "duration too long",
			feedID:  testFeedID,
			dur:     48 * time.Hour,
			wantErr: domain.ErrInvalidDuration,
		},
		{
			name:    "treasury underfunded",
			setup:   func(rig *testRig) {}, // no mint
			feedID:  testFeedID,
			dur:     time.Hour,
			wantErr: domain.ErrInsufficientTreasury,
		},
		{
			name: "stale price",
			setup: func(rig *testRig) {
				require.NoError(t, rig.bank.Mint(treasuryAddr, 10_000))
				rig.feed.err = domain.ErrStalePrice
			},
			feedID:  testFeedID,
			dur:     time.Hour,
			wantErr: domain.ErrStalePrice,
		},
		{
			name: "interval not elapsed",
			setup: func(rig *testRig) {
				require.NoError(t, rig.bank.Mint(treasuryAddr, 10_000))
				_, err := rig.eng.CreateMarket(context.Background(), testFeedID, time.Hour, nil)
				require.NoError(t, err)
			},
			feedID:  testFeedID,
			dur:     time.Hour,
			wantErr: domain.ErrIntervalNotElapsed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rig := newTestRig(t, cfg)
			if tt.setup != nil {
				tt.setup(rig)
			} else {
				require.NoError(t, rig.bank.Mint(treasuryAddr, 10_000))
			}
			_, err := rig.eng.CreateMarket(context.Background(), tt.feedID, tt.dur, nil)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestCreateMarket_IntervalReopens(t *testing.T) {
	cfg := defaultConfig()
	cfg.CreationInterval = 10 * time.Minute
	rig := newTestRig(t, cfg)
	ctx := context.Background()
	require.NoError(t, rig.bank.Mint(treasuryAddr, 10_000))

	_, err := rig.eng.CreateMarket(ctx, testFeedID, time.Hour, nil)
	require.NoError(t, err)
	assert.False(t, rig.eng.CanCreateMarket(rig.clock.now()))

	rig.clock.advance(10 * time.Minute)
	assert.True(t, rig.eng.CanCreateMarket(rig.clock.now()))
	_, err = rig.eng.CreateMarket(ctx, testFeedID, time.Hour, nil)
	require.NoError(t, err)
}

func TestCreateMarket_UpdateFeeBudget(t *testing.T) {
	rig := newTestRig(t, defaultConfig())
	ctx := context.Background()
	require.NoError(t, rig.bank.Mint(treasuryAddr, 10_000))
	rig.feed.fee = 5

	update := domain.UpdatePayload{[]byte(`{}`)}
	_, err := rig.eng.CreateMarket(ctx, testFeedID, time.Hour, update)
	assert.ErrorIs(t, err, domain.ErrInsufficientTreasury)

	require.NoError(t, rig.eng.FundNative(5))
	_, err = rig.eng.CreateMarket(ctx, testFeedID, time.Hour, update)
	require.NoError(t, err)
	assert.Equal(t, int64(0), rig.eng.NativeBalance())
}

func TestCreateRandomMarket_RotatesFeeds(t *testing.T) {
	cfg := defaultConfig()
	second := "0xe62df6c8b4a85fe1a67db44dc12de5db330f7ac66b72dc658afedf0f4a415b43"
	cfg.PriceFeedAllowlist = []string{testFeedID, second}
	rig := newTestRig(t, cfg)
	ctx := context.Background()
	require.NoError(t, rig.bank.Mint(treasuryAddr, 10_000))

	m1, err := rig.eng.CreateRandomMarket(ctx, time.Hour, nil)
	require.NoError(t, err)
	m2, err := rig.eng.CreateRandomMarket(ctx, time.Hour, nil)
	require.NoError(t, err)

	assert.Equal(t, testFeedID, m1.PriceFeedID)
	assert.Equal(t, second, m2.PriceFeedID)
}

func TestBuyPosition(t *testing.T) {
	rig := newTestRig(t, defaultConfig())
	ctx := context.Background()
	require.NoError(t, rig.bank.Mint(treasuryAddr, 10_000))
	rig.fundAndApprove(t, alice, 500)

	m, err := rig.eng.CreateMarket(ctx, testFeedID, time.Hour, nil)
	require.NoError(t, err)

	receipt, err := rig.eng.BuyPosition(ctx, alice, alice, m.QuestionID, domain.OutcomeUp, 100, 0)
	require.NoError(t, err)

	// Constant-product rebalance of 1000/1000 with a 100 net stake.
	assert.Equal(t, int64(191), receipt.TokensOut)
	assert.Equal(t, [2]int64{909, 1100}, receipt.Reserves)
	assert.Equal(t, int64(0), receipt.Fee)

	pos, err := rig.eng.Position(ctx, m.QuestionID, alice)
	require.NoError(t, err)
	assert.Equal(t, [2]int64{191, 0}, pos.Balances)

	balance, err := rig.bank.BalanceOf(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, int64(400), balance)

	stats := rig.eng.Stats(ctx, alice)
	assert.Equal(t, int64(100), stats.TotalSpending)
	assert.Equal(t, []string{m.QuestionID}, stats.Open)

	require.NoError(t, rig.eng.CheckConservation(m.QuestionID))
}

func TestBuyPosition_FeeAccrues(t *testing.T) {
	cfg := defaultConfig()
	cfg.FeeBps = 200
	rig := newTestRig(t, cfg)
	ctx := context.Background()
	require.NoError(t, rig.bank.Mint(treasuryAddr, 10_000))
	rig.fundAndApprove(t, alice, 500)

	m, err := rig.eng.CreateMarket(ctx, testFeedID, time.Hour, nil)
	require.NoError(t, err)

	receipt, err := rig.eng.BuyPosition(ctx, alice, alice, m.QuestionID, domain.OutcomeDown, 100, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(2), receipt.Fee)

	updated, _, err := rig.eng.GetMarket(ctx, m.QuestionID)
	require.NoError(t, err)
	// The pool tracks net stake; the fee stays in the treasury.
	assert.Equal(t, int64(1000+98), updated.StakePool)
	require.NoError(t, rig.eng.CheckConservation(m.QuestionID))
}

func TestBuyPosition_Guards(t *testing.T) {
	rig := newTestRig(t, defaultConfig())
	ctx := context.Background()
	require.NoError(t, rig.bank.Mint(treasuryAddr, 10_000))
	rig.fundAndApprove(t, alice, 500)

	m, err := rig.eng.CreateMarket(ctx, testFeedID, time.Hour, nil)
	require.NoError(t, err)

	_, err = rig.eng.BuyPosition(ctx, alice, alice, "0xmissing", domain.OutcomeUp, 100, 0)
	assert.ErrorIs(t, err, domain.ErrMarketNotFound)

	_, err = rig.eng.BuyPosition(ctx, alice, alice, m.QuestionID, 2, 100, 0)
	assert.ErrorIs(t, err, domain.ErrInvalidOutcome)

	_, err = rig.eng.BuyPosition(ctx, alice, alice, m.QuestionID, domain.OutcomeUp, 0, 0)
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)

	_, err = rig.eng.BuyPosition(ctx, alice, alice, m.QuestionID, domain.OutcomeUp, 100, 192)
	assert.ErrorIs(t, err, domain.ErrSlippage)

	_, err = rig.eng.BuyPosition(ctx, bob, bob, m.QuestionID, domain.OutcomeUp, 100, 0)
	assert.ErrorIs(t, err, domain.ErrInsufficientAllowance)

	rig.clock.advance(time.Hour)
	_, err = rig.eng.BuyPosition(ctx, alice, alice, m.QuestionID, domain.OutcomeUp, 100, 0)
	assert.ErrorIs(t, err, domain.ErrMarketExpired)

	balance, err := rig.bank.BalanceOf(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, int64(500), balance, "failed buys must not move stake")
	require.NoError(t, rig.eng.CheckConservation(m.QuestionID))
}

func TestBuyPosition_RollbackOnStoreFailure(t *testing.T) {
	rig := newTestRig(t, defaultConfig())
	ctx := context.Background()
	require.NoError(t, rig.bank.Mint(treasuryAddr, 10_000))
	rig.fundAndApprove(t, alice, 500)

	m, err := rig.eng.CreateMarket(ctx, testFeedID, time.Hour, nil)
	require.NoError(t, err)

	boom := errors.New("db down")
	rig.positions.failErr = boom

	_, err = rig.eng.BuyPosition(ctx, alice, alice, m.QuestionID, domain.OutcomeUp, 100, 0)
	require.ErrorIs(t, err, boom)

	// Memory and custody both back to their pre-buy state.
	unchanged, _, err := rig.eng.GetMarket(ctx, m.QuestionID)
	require.NoError(t, err)
	assert.Equal(t, [2]int64{1000, 1000}, unchanged.Reserves)
	assert.Equal(t, int64(1000), unchanged.StakePool)

	balance, err := rig.bank.BalanceOf(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, int64(500), balance)

	_, err = rig.eng.Position(ctx, m.QuestionID, alice)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	require.NoError(t, rig.eng.CheckConservation(m.QuestionID))

	rig.positions.failErr = nil
	_, err = rig.eng.BuyPosition(ctx, alice, alice, m.QuestionID, domain.OutcomeUp, 100, 0)
	require.NoError(t, err)
}

func TestBuyPosition_StoreRestoredOnFailure(t *testing.T) {
	rig := newTestRig(t, defaultConfig())
	ctx := context.Background()
	require.NoError(t, rig.bank.Mint(treasuryAddr, 10_000))
	rig.fundAndApprove(t, alice, 500)

	m, err := rig.eng.CreateMarket(ctx, testFeedID, time.Hour, nil)
	require.NoError(t, err)

	// The market row commits before the position write fails; the rollback
	// must re-write the pre-buy row so a restart cannot hydrate the reserves
	// of an aborted trade.
	boom := errors.New("db down")
	rig.positions.failErr = boom
	_, err = rig.eng.BuyPosition(ctx, alice, alice, m.QuestionID, domain.OutcomeUp, 100, 0)
	require.ErrorIs(t, err, boom)
	rig.positions.failErr = nil

	stored, err := rig.markets.GetByID(ctx, m.QuestionID)
	require.NoError(t, err)
	assert.Equal(t, [2]int64{1000, 1000}, stored.Reserves)
	assert.Equal(t, int64(1000), stored.StakePool)
	_, err = rig.positions.Get(ctx, m.QuestionID, alice)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	// Failing one write later leaves a committed position row behind; the
	// rollback overwrites it with the pre-buy balances.
	rig.users.failErr = boom
	_, err = rig.eng.BuyPosition(ctx, alice, alice, m.QuestionID, domain.OutcomeUp, 100, 0)
	require.ErrorIs(t, err, boom)
	rig.users.failErr = nil

	stored, err = rig.markets.GetByID(ctx, m.QuestionID)
	require.NoError(t, err)
	assert.Equal(t, [2]int64{1000, 1000}, stored.Reserves)
	assert.Equal(t, int64(1000), stored.StakePool)
	pos, err := rig.positions.Get(ctx, m.QuestionID, alice)
	require.NoError(t, err)
	assert.Equal(t, [2]int64{0, 0}, pos.Balances)

	// A reload from the stores agrees with the live engine.
	fresh := New(defaultConfig(), rig.bank, rig.feed, treasuryAddr,
		rig.markets, rig.positions, rig.users, Options{}, testLogger())
	require.NoError(t, fresh.Load(ctx))
	reloaded, _, err := fresh.GetMarket(ctx, m.QuestionID)
	require.NoError(t, err)
	assert.Equal(t, [2]int64{1000, 1000}, reloaded.Reserves)
	require.NoError(t, fresh.CheckConservation(m.QuestionID))
}

func TestConservation_AcrossManyBuys(t *testing.T) {
	rig := newTestRig(t, defaultConfig())
	ctx := context.Background()
	require.NoError(t, rig.bank.Mint(treasuryAddr, 10_000))
	rig.fundAndApprove(t, alice, 5_000)
	rig.fundAndApprove(t, bob, 5_000)

	m, err := rig.eng.CreateMarket(ctx, testFeedID, time.Hour, nil)
	require.NoError(t, err)

	stakes := []int64{100, 37, 250, 1, 999}
	for i, stake := range stakes {
		buyer := alice
		if i%2 == 1 {
			buyer = bob
		}
		_, err := rig.eng.BuyPosition(ctx, buyer, buyer, m.QuestionID, i%2, stake, 0)
		require.NoError(t, err)
		require.NoError(t, rig.eng.CheckConservation(m.QuestionID))
	}
}

func TestLoad_RebuildsState(t *testing.T) {
	rig := newTestRig(t, defaultConfig())
	ctx := context.Background()
	require.NoError(t, rig.bank.Mint(treasuryAddr, 10_000))
	rig.fundAndApprove(t, alice, 500)

	m, err := rig.eng.CreateMarket(ctx, testFeedID, time.Hour, nil)
	require.NoError(t, err)
	_, err = rig.eng.BuyPosition(ctx, alice, alice, m.QuestionID, domain.OutcomeUp, 100, 0)
	require.NoError(t, err)

	reloaded := New(defaultConfig(), rig.bank, rig.feed, treasuryAddr,
		rig.markets, rig.positions, rig.users, Options{}, testLogger())
	reloaded.now = rig.clock.now
	require.NoError(t, reloaded.Load(ctx))

	pos, err := reloaded.Position(ctx, m.QuestionID, alice)
	require.NoError(t, err)
	assert.Equal(t, [2]int64{191, 0}, pos.Balances)

	got, status, err := reloaded.GetMarket(ctx, m.QuestionID)
	require.NoError(t, err)
	assert.Equal(t, domain.MarketStatusOpen, status)
	assert.Equal(t, [2]int64{909, 1100}, got.Reserves)
	require.NoError(t, reloaded.CheckConservation(m.QuestionID))

	stats := reloaded.Stats(ctx, alice)
	assert.Equal(t, []string{m.QuestionID}, stats.Open)
}
