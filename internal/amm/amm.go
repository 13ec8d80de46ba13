// Package amm implements the fixed-product market maker math for two
// complementary outcome reserves. All arithmetic is integer in the token's
// smallest unit; division truncates toward zero and fees round down, so no
// rounding ever favors the buyer. The reserve product is computed in math/big
// because R0*R1 can exceed int64 for well-funded markets.
//
// Fees are carved off the stake before it touches the reserves and accrue to
// the treasury, not to the pool. The reserve product therefore does not grow
// with fee revenue the way a fee-reinvesting pool's would: each buy preserves
// R0*R1 up to the truncation in TokensOut, which can shave at most a fraction
// of one token unit off the product. The invariant maintained here is exact
// integer conservation of minted tokens, not monotone product growth.
package amm

import (
	"math/big"

	"github.com/updownlabs/updown/internal/domain"
)

// FeeDenominator converts basis points into a fraction.
const FeeDenominator = 10_000

// ProbScale is the parts-per-million scale of derived probabilities.
const ProbScale = 1_000_000

// Quote is the outcome of pricing a buy against a reserve pair. Reserves in
// the quote are the post-trade values; the caller applies them atomically.
type Quote struct {
	Fee       int64
	Net       int64
	TokensOut int64
	Reserves  [2]int64
}

// Buy prices a stake against the reserves for the chosen outcome.
//
// The stake first buys into the pool at 1:1 (minting net complementary
// pairs), then the constant-product invariant is rebalanced against the
// pre-trade product:
//
//	fee       = stake * feeBps / 10000
//	net       = stake - fee
//	R[1-i]   += net
//	tokensOut = R[i] + net - floor(R0*R1 / R[1-i])
//	R[i]      = floor(R0*R1 / R[1-i])
//
// Buy never mutates its input; it returns ErrInvalidAmount for a non-positive
// stake or one large enough to drain the chosen reserve, ErrInvalidOutcome
// for an index outside {0,1}, and ErrSlippage when tokensOut < minOut.
func Buy(reserves [2]int64, outcome int, stake, feeBps, minOut int64) (Quote, error) {
	if outcome != 0 && outcome != 1 {
		return Quote{}, domain.ErrInvalidOutcome
	}
	if stake <= 0 {
		return Quote{}, domain.ErrInvalidAmount
	}

	fee := mulDiv(stake, feeBps, FeeDenominator)
	net := stake - fee
	if net <= 0 {
		return Quote{}, domain.ErrInvalidAmount
	}

	other := 1 - outcome

	k := new(big.Int).Mul(big.NewInt(reserves[0]), big.NewInt(reserves[1]))
	newOther := new(big.Int).Add(big.NewInt(reserves[other]), big.NewInt(net))

	// Floor division: the pool keeps the dust.
	newChosen := new(big.Int).Quo(k, newOther)
	if newChosen.Sign() <= 0 {
		// The stake would drain the chosen reserve to zero; reserves must
		// stay strictly positive for the life of the market.
		return Quote{}, domain.ErrInvalidAmount
	}

	tokensOut := new(big.Int).Add(big.NewInt(reserves[outcome]), big.NewInt(net))
	tokensOut.Sub(tokensOut, newChosen)

	if !tokensOut.IsInt64() || !newOther.IsInt64() || !newChosen.IsInt64() {
		return Quote{}, domain.ErrInvalidAmount
	}

	out := tokensOut.Int64()
	if out < minOut {
		return Quote{}, domain.ErrSlippage
	}

	q := Quote{
		Fee:       fee,
		Net:       net,
		TokensOut: out,
	}
	q.Reserves[outcome] = newChosen.Int64()
	q.Reserves[other] = newOther.Int64()
	return q, nil
}

// Probabilities derives the implied outcome probabilities from the reserves,
// in parts-per-million: p_i = R[1-i] / (R0 + R1). The two entries sum to
// ProbScale up to one unit of truncation.
func Probabilities(reserves [2]int64) [2]int64 {
	total := new(big.Int).Add(big.NewInt(reserves[0]), big.NewInt(reserves[1]))
	if total.Sign() == 0 {
		return [2]int64{ProbScale / 2, ProbScale / 2}
	}
	p0 := mulDivBig(reserves[1], ProbScale, total)
	p1 := mulDivBig(reserves[0], ProbScale, total)
	return [2]int64{p0, p1}
}

// Product returns R0*R1 as a big integer.
func Product(reserves [2]int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(reserves[0]), big.NewInt(reserves[1]))
}

// mulDiv computes floor(a*b/den) without intermediate overflow.
func mulDiv(a, b, den int64) int64 {
	r := new(big.Int).Mul(big.NewInt(a), big.NewInt(b))
	r.Quo(r, big.NewInt(den))
	return r.Int64()
}

func mulDivBig(a, b int64, den *big.Int) int64 {
	r := new(big.Int).Mul(big.NewInt(a), big.NewInt(b))
	r.Quo(r, den)
	return r.Int64()
}
