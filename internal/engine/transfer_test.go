package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/updownlabs/updown/internal/domain"
)

func TestTransferPosition(t *testing.T) {
	rig := newTestRig(t, defaultConfig())
	ctx := context.Background()
	m := openMarket(t, rig)

	alicePos, err := rig.eng.Position(ctx, m.QuestionID, alice)
	require.NoError(t, err)
	held := alicePos.Balances[domain.OutcomeUp]
	require.Greater(t, held, int64(1))

	half := held / 2
	require.NoError(t, rig.eng.TransferPosition(ctx, m.QuestionID, domain.OutcomeUp, alice, bob, half))

	alicePos, err = rig.eng.Position(ctx, m.QuestionID, alice)
	require.NoError(t, err)
	assert.Equal(t, held-half, alicePos.Balances[domain.OutcomeUp])

	bobPos, err := rig.eng.Position(ctx, m.QuestionID, bob)
	require.NoError(t, err)
	assert.Equal(t, half, bobPos.Balances[domain.OutcomeUp])

	// The move is written through to the store.
	stored, err := rig.positions.Get(ctx, m.QuestionID, bob)
	require.NoError(t, err)
	assert.Equal(t, half, stored.Balances[domain.OutcomeUp])

	require.NoError(t, rig.eng.CheckConservation(m.QuestionID))
}

func TestTransferPosition_FullBalanceClosesSender(t *testing.T) {
	rig := newTestRig(t, defaultConfig())
	ctx := context.Background()
	require.NoError(t, rig.bank.Mint(treasuryAddr, 10_000))
	rig.fundAndApprove(t, alice, 1_000)

	m, err := rig.eng.CreateMarket(ctx, testFeedID, time.Hour, nil)
	require.NoError(t, err)
	receipt, err := rig.eng.BuyPosition(ctx, alice, alice, m.QuestionID, domain.OutcomeUp, 100, 0)
	require.NoError(t, err)

	require.NoError(t, rig.eng.TransferPosition(ctx, m.QuestionID, domain.OutcomeUp, alice, bob, receipt.TokensOut))

	aliceStats := rig.eng.Stats(ctx, alice)
	assert.Empty(t, aliceStats.Open, "an emptied sender leaves the open set")
	bobStats := rig.eng.Stats(ctx, bob)
	assert.Equal(t, []string{m.QuestionID}, bobStats.Open)

	// The recipient settles the full transferred balance.
	rig.clock.advance(time.Hour)
	rig.feed.setPrice(260_000_000_000)
	_, err = rig.eng.ResolveMarket(ctx, m.QuestionID, nil, false, "")
	require.NoError(t, err)

	payout, err := rig.eng.RedeemPosition(ctx, bob, m.QuestionID)
	require.NoError(t, err)
	assert.Equal(t, receipt.TokensOut, payout)
	require.NoError(t, rig.eng.CheckConservation(m.QuestionID))
}

func TestTransferPosition_Guards(t *testing.T) {
	rig := newTestRig(t, defaultConfig())
	ctx := context.Background()
	m := openMarket(t, rig)

	err := rig.eng.TransferPosition(ctx, "0xmissing", domain.OutcomeUp, alice, bob, 1)
	assert.ErrorIs(t, err, domain.ErrMarketNotFound)

	err = rig.eng.TransferPosition(ctx, m.QuestionID, 2, alice, bob, 1)
	assert.ErrorIs(t, err, domain.ErrInvalidOutcome)

	err = rig.eng.TransferPosition(ctx, m.QuestionID, domain.OutcomeUp, alice, bob, 0)
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)

	err = rig.eng.TransferPosition(ctx, m.QuestionID, domain.OutcomeUp, alice, bob, 1_000_000)
	assert.ErrorIs(t, err, domain.ErrInsufficientBalance)

	// Bob holds DOWN, not UP.
	err = rig.eng.TransferPosition(ctx, m.QuestionID, domain.OutcomeUp, bob, alice, 1)
	assert.ErrorIs(t, err, domain.ErrInsufficientBalance)

	// A settled owner can neither send nor receive.
	rig.clock.advance(time.Hour)
	rig.feed.setPrice(260_000_000_000)
	_, err = rig.eng.ResolveMarket(ctx, m.QuestionID, nil, false, "")
	require.NoError(t, err)
	_, err = rig.eng.RedeemPosition(ctx, alice, m.QuestionID)
	require.NoError(t, err)

	err = rig.eng.TransferPosition(ctx, m.QuestionID, domain.OutcomeDown, bob, alice, 1)
	assert.ErrorIs(t, err, domain.ErrAlreadyRedeemed)

	require.NoError(t, rig.eng.CheckConservation(m.QuestionID))
}

func TestTransferPosition_RollbackOnStoreFailure(t *testing.T) {
	rig := newTestRig(t, defaultConfig())
	ctx := context.Background()
	m := openMarket(t, rig)

	alicePos, err := rig.eng.Position(ctx, m.QuestionID, alice)
	require.NoError(t, err)
	held := alicePos.Balances[domain.OutcomeUp]

	boom := errors.New("db down")
	rig.users.failErr = boom
	err = rig.eng.TransferPosition(ctx, m.QuestionID, domain.OutcomeUp, alice, bob, held)
	require.ErrorIs(t, err, boom)
	rig.users.failErr = nil

	// Memory and the store both keep the pre-transfer balances.
	alicePos, err = rig.eng.Position(ctx, m.QuestionID, alice)
	require.NoError(t, err)
	assert.Equal(t, held, alicePos.Balances[domain.OutcomeUp])

	stored, err := rig.positions.Get(ctx, m.QuestionID, alice)
	require.NoError(t, err)
	assert.Equal(t, held, stored.Balances[domain.OutcomeUp])

	aliceStats := rig.eng.Stats(ctx, alice)
	assert.Contains(t, aliceStats.Open, m.QuestionID)
	require.NoError(t, rig.eng.CheckConservation(m.QuestionID))

	require.NoError(t, rig.eng.TransferPosition(ctx, m.QuestionID, domain.OutcomeUp, alice, bob, held))
}
