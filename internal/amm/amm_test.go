package amm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/updownlabs/updown/internal/domain"
)

func TestBuy_ReferenceArithmetic(t *testing.T) {
	// R0 = R1 = 1000, stake 100, zero fee:
	// R1' = 1100, tokensOut = 1000 + 100 - floor(1_000_000/1100) = 1100 - 909 = 191.
	q, err := Buy([2]int64{1000, 1000}, 0, 100, 0, 0)
	require.NoError(t, err)

	assert.Equal(t, int64(0), q.Fee)
	assert.Equal(t, int64(100), q.Net)
	assert.Equal(t, int64(191), q.TokensOut)
	assert.Equal(t, int64(909), q.Reserves[0])
	assert.Equal(t, int64(1100), q.Reserves[1])
}

func TestBuy_FeeRoundsDown(t *testing.T) {
	// 2% of 99 = 1.98, floored to 1; net = 98.
	q, err := Buy([2]int64{1000, 1000}, 1, 99, 200, 0)
	require.NoError(t, err)

	assert.Equal(t, int64(1), q.Fee)
	assert.Equal(t, int64(98), q.Net)
}

func TestBuy_SymmetricOutcomes(t *testing.T) {
	up, err := Buy([2]int64{5000, 5000}, 0, 250, 100, 0)
	require.NoError(t, err)
	down, err := Buy([2]int64{5000, 5000}, 1, 250, 100, 0)
	require.NoError(t, err)

	assert.Equal(t, up.TokensOut, down.TokensOut)
	assert.Equal(t, up.Reserves[0], down.Reserves[1])
	assert.Equal(t, up.Reserves[1], down.Reserves[0])
}

func TestBuy_ProductNonDecreasingWithFee(t *testing.T) {
	reserves := [2]int64{1000 * 1000, 1000 * 1000}
	before := Product(reserves)

	q, err := Buy(reserves, 0, 50_000, 250, 0)
	require.NoError(t, err)

	after := Product(q.Reserves)
	// Floor division hands the truncation dust to the pool's counterasset,
	// so the product may dip below the pre-trade value by less than one
	// division unit (the grown opposite reserve).
	slack := q.Reserves[1]
	diff := before.Sub(before, after).Int64()
	assert.Less(t, diff, slack, "product may only drop by floor-division dust")
}

func TestBuy_ReservesStayPositive(t *testing.T) {
	q, err := Buy([2]int64{1000, 1000}, 0, 1_000_000, 0, 0)
	if err == nil {
		assert.Positive(t, q.Reserves[0])
		assert.Positive(t, q.Reserves[1])
	} else {
		assert.ErrorIs(t, err, domain.ErrInvalidAmount)
	}
}

func TestBuy_Slippage(t *testing.T) {
	_, err := Buy([2]int64{1000, 1000}, 0, 100, 0, 192)
	assert.ErrorIs(t, err, domain.ErrSlippage)

	// Exactly the computed output is accepted.
	q, err := Buy([2]int64{1000, 1000}, 0, 100, 0, 191)
	require.NoError(t, err)
	assert.Equal(t, int64(191), q.TokensOut)
}

func TestBuy_InvalidInputs(t *testing.T) {
	tests := []struct {
		name    string
		outcome int
		stake   int64
		want    error
	}{
		{"zero stake", 0, 0, domain.ErrInvalidAmount},
		{"negative stake", 1, -5, domain.ErrInvalidAmount},
		{"outcome too high", 2, 100, domain.ErrInvalidOutcome},
		{"outcome negative", -1, 100, domain.ErrInvalidOutcome},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Buy([2]int64{1000, 1000}, tt.outcome, tt.stake, 0, 0)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestBuy_LargeReservesNoOverflow(t *testing.T) {
	// Reserves near 4e18 each: the product exceeds int64 but the quote must
	// still come out exact.
	r := [2]int64{4_000_000_000_000_000_000, 4_000_000_000_000_000_000}
	q, err := Buy(r, 0, 1_000_000_000, 0, 0)
	require.NoError(t, err)
	assert.Positive(t, q.TokensOut)
	assert.Positive(t, q.Reserves[0])
}

func TestProbabilities(t *testing.T) {
	probs := Probabilities([2]int64{1000, 1000})
	assert.Equal(t, [2]int64{500_000, 500_000}, probs)

	// After buying "up" the up reserve shrinks, so up becomes more likely.
	probs = Probabilities([2]int64{909, 1100})
	assert.Greater(t, probs[0], probs[1])
	assert.InDelta(t, ProbScale, probs[0]+probs[1], 1)
}

func TestProbabilities_MovesWithBuys(t *testing.T) {
	reserves := [2]int64{10_000, 10_000}
	prev := Probabilities(reserves)[0]

	for i := 0; i < 5; i++ {
		q, err := Buy(reserves, 0, 1_000, 0, 0)
		require.NoError(t, err)
		reserves = q.Reserves

		p := Probabilities(reserves)[0]
		assert.Greater(t, p, prev, "buying up must raise the up probability")
		prev = p
	}
}
