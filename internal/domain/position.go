package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Position is one owner's outcome-token holdings in one market. Balances only
// ever reach zero through redemption or transfer; they are never negative.
type Position struct {
	Owner      common.Address `json:"owner"`
	QuestionID string         `json:"question_id"`
	Balances   [2]int64       `json:"balances"` // outcome-token units, indexed by outcome
	Redeemed   bool           `json:"redeemed"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// Empty reports whether both outcome balances are zero.
func (p *Position) Empty() bool {
	return p.Balances[0] == 0 && p.Balances[1] == 0
}

// UserStats is the per-user aggregate: which markets the user still has an
// unredeemed stake in, which have been settled, and running money totals.
// A question id lives in exactly one of Open/Closed at any time.
type UserStats struct {
	Address        common.Address `json:"address"`
	Open           []string       `json:"open_positions"`
	Closed         []string       `json:"closed_positions"`
	TotalSpending  int64          `json:"total_spending"`
	TotalRedeemed  int64          `json:"total_redeemed"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// BuyReceipt reports the result of a committed position purchase.
type BuyReceipt struct {
	QuestionID string         `json:"question_id"`
	Outcome    int            `json:"outcome"`
	Receiver   common.Address `json:"receiver"`
	Stake      int64          `json:"stake"`
	Fee        int64          `json:"fee"`
	TokensOut  int64          `json:"tokens_out"`
	Reserves   [2]int64       `json:"reserves"`
}
