package engine

import (
	"context"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"

	"github.com/updownlabs/updown/internal/amm"
	"github.com/updownlabs/updown/internal/domain"
)

// Config returns the engine's market-creation configuration.
func (e *Engine) Config() domain.MarketConfig {
	return e.cfg
}

// Treasury returns the engine's stake-token custody address.
func (e *Engine) Treasury() common.Address {
	return e.treasury
}

// GetMarket returns a market snapshot and its derived lifecycle status.
func (e *Engine) GetMarket(_ context.Context, questionID string) (domain.Market, domain.MarketStatus, error) {
	st, err := e.getState(questionID)
	if err != nil {
		return domain.Market{}, "", err
	}
	st.mu.Lock()
	m := st.market
	st.mu.Unlock()
	return m, m.Status(e.now()), nil
}

// ListMarkets returns snapshots of every market, newest first.
func (e *Engine) ListMarkets(_ context.Context) []domain.Market {
	e.mu.RLock()
	states := make([]*marketState, 0, len(e.state))
	for _, st := range e.state {
		states = append(states, st)
	}
	e.mu.RUnlock()

	out := make([]domain.Market, 0, len(states))
	for _, st := range states {
		st.mu.Lock()
		out = append(out, st.market)
		st.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// ActiveMarkets returns every open market, newest first.
func (e *Engine) ActiveMarkets(ctx context.Context) []domain.Market {
	now := e.now()
	var out []domain.Market
	for _, m := range e.ListMarkets(ctx) {
		if m.Status(now) == domain.MarketStatusOpen {
			out = append(out, m)
		}
	}
	return out
}

// ExpiredMarketIDs returns markets past their end that have not resolved,
// for the resolution sweep.
func (e *Engine) ExpiredMarketIDs(ctx context.Context) []string {
	now := e.now()
	var out []string
	for _, m := range e.ListMarkets(ctx) {
		if m.Expired(now) {
			out = append(out, m.QuestionID)
		}
	}
	return out
}

// Probabilities returns the market's implied outcome probabilities in
// parts-per-million, derived from the live reserves.
func (e *Engine) Probabilities(_ context.Context, questionID string) ([2]int64, error) {
	st, err := e.getState(questionID)
	if err != nil {
		return [2]int64{}, err
	}
	st.mu.Lock()
	reserves := st.market.Reserves
	st.mu.Unlock()
	return amm.Probabilities(reserves), nil
}

// Quote prices a hypothetical buy without committing anything.
func (e *Engine) Quote(_ context.Context, questionID string, outcome int, stake int64) (amm.Quote, error) {
	st, err := e.getState(questionID)
	if err != nil {
		return amm.Quote{}, err
	}
	st.mu.Lock()
	reserves := st.market.Reserves
	feeBps := st.market.FeeBps
	st.mu.Unlock()
	return amm.Buy(reserves, outcome, stake, feeBps, 0)
}

// Position returns one owner's live balances in a market.
func (e *Engine) Position(_ context.Context, questionID string, owner common.Address) (domain.Position, error) {
	st, err := e.getState(questionID)
	if err != nil {
		return domain.Position{}, err
	}
	st.mu.Lock()
	defer st.mu.Unlock()

	pos := domain.Position{
		Owner:      owner,
		QuestionID: questionID,
		Balances:   [2]int64{st.balances[0][owner], st.balances[1][owner]},
		Redeemed:   st.redeemed[owner],
	}
	if pos.Empty() && !pos.Redeemed {
		return domain.Position{}, fmt.Errorf("engine: no position for %s on market %s: %w",
			owner.Hex(), questionID, domain.ErrNotFound)
	}
	return pos, nil
}

// Stats returns the user's aggregate. Unknown users get a zero aggregate,
// not an error.
func (e *Engine) Stats(_ context.Context, owner common.Address) domain.UserStats {
	e.statsMu.Lock()
	defer e.statsMu.Unlock()
	s, ok := e.stats[owner]
	if !ok {
		return domain.UserStats{Address: owner}
	}
	s.Open = append([]string(nil), s.Open...)
	s.Closed = append([]string(nil), s.Closed...)
	return s
}

// UserAddresses returns every address with a recorded aggregate, for the
// settlement sweep.
func (e *Engine) UserAddresses() []common.Address {
	e.statsMu.Lock()
	defer e.statsMu.Unlock()
	out := make([]common.Address, 0, len(e.stats))
	for addr := range e.stats {
		out = append(out, addr)
	}
	return out
}

// CheckConservation verifies the ledger invariant for a market: per outcome,
// the reserve plus every live holder balance equals the total minted. It
// exists for tests and operational spot checks.
func (e *Engine) CheckConservation(questionID string) error {
	st, err := e.getState(questionID)
	if err != nil {
		return err
	}
	st.mu.Lock()
	defer st.mu.Unlock()

	for i := 0; i < 2; i++ {
		sum := st.market.Reserves[i]
		for _, b := range st.balances[i] {
			sum += b
		}
		if sum != st.minted[i] {
			return fmt.Errorf("engine: market %s outcome %d: reserve+balances %d != minted %d",
				questionID, i, sum, st.minted[i])
		}
	}
	return nil
}
