// Package engine implements the authoritative market engine: market
// lifecycle, the outcome-token ledger, trade execution against the AMM, and
// settlement. All state mutations happen in memory under per-market locks and
// are written through to the stores before an operation commits; a store
// failure rolls the in-memory mutation back so memory and storage never
// diverge.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/updownlabs/updown/internal/domain"
)

// marketState is the in-memory authority for one market: the market record,
// every holder's outcome balances, the total minted per outcome, and the set
// of owners who already redeemed. mu serializes every operation touching this
// market; operations on different markets run in parallel.
type marketState struct {
	mu       sync.Mutex
	market   domain.Market
	balances [2]map[common.Address]int64
	minted   [2]int64
	redeemed map[common.Address]bool
}

func newMarketState(m domain.Market) *marketState {
	return &marketState{
		market: m,
		balances: [2]map[common.Address]int64{
			make(map[common.Address]int64),
			make(map[common.Address]int64),
		},
		minted:   [2]int64{m.Reserves[0], m.Reserves[1]},
		redeemed: make(map[common.Address]bool),
	}
}

// Options carries the optional engine collaborators. A nil field disables the
// corresponding side effect; the engine's core semantics never depend on
// them.
type Options struct {
	Bus         domain.SignalBus
	MarketCache domain.MarketCache
	ProbCache   domain.ProbabilityCache
	Audit       domain.AuditStore
}

// Engine is the single writer over market and position state. It owns a
// treasury address in the stake-token bank (stakes are pulled into it,
// payouts are paid out of it) and a native-currency budget that funds oracle
// update fees.
type Engine struct {
	cfg      domain.MarketConfig
	bank     domain.TokenBank
	feed     domain.PriceFeed
	treasury common.Address
	logger   *slog.Logger

	markets   domain.MarketStore
	positions domain.PositionStore
	users     domain.UserStore

	bus         domain.SignalBus
	marketCache domain.MarketCache
	probCache   domain.ProbabilityCache
	audit       domain.AuditStore

	mu           sync.RWMutex
	state        map[string]*marketState
	lastCreation time.Time
	feedCursor   int

	statsMu sync.Mutex
	stats   map[common.Address]domain.UserStats

	nativeMu      sync.Mutex
	nativeBalance int64

	nonce atomic.Uint64
	now   func() time.Time
}

// New builds an Engine. markets, positions and users are required; opts
// fields are optional.
func New(
	cfg domain.MarketConfig,
	bank domain.TokenBank,
	feed domain.PriceFeed,
	treasury common.Address,
	markets domain.MarketStore,
	positions domain.PositionStore,
	users domain.UserStore,
	opts Options,
	logger *slog.Logger,
) *Engine {
	return &Engine{
		cfg:         cfg,
		bank:        bank,
		feed:        feed,
		treasury:    treasury,
		logger:      logger.With(slog.String("component", "engine")),
		markets:     markets,
		positions:   positions,
		users:       users,
		bus:         opts.Bus,
		marketCache: opts.MarketCache,
		probCache:   opts.ProbCache,
		audit:       opts.Audit,
		state:       make(map[string]*marketState),
		stats:       make(map[common.Address]domain.UserStats),
		now:         time.Now,
	}
}

// Load hydrates the engine from the stores. It must run before the engine
// serves operations; it rebuilds per-market balances, minted totals, and
// redemption flags from persisted positions.
func (e *Engine) Load(ctx context.Context) error {
	markets, err := e.markets.ListAll(ctx)
	if err != nil {
		return fmt.Errorf("engine: load markets: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	for _, m := range markets {
		st := newMarketState(m)
		positions, err := e.positions.ListByMarket(ctx, m.QuestionID)
		if err != nil {
			return fmt.Errorf("engine: load positions for %s: %w", m.QuestionID, err)
		}
		for _, p := range positions {
			if p.Redeemed {
				st.redeemed[p.Owner] = true
				continue
			}
			for i := 0; i < 2; i++ {
				if p.Balances[i] != 0 {
					st.balances[i][p.Owner] = p.Balances[i]
					st.minted[i] += p.Balances[i]
				}
			}
		}
		e.state[m.QuestionID] = st
		if m.CreatedAt.After(e.lastCreation) {
			e.lastCreation = m.CreatedAt
		}
	}

	users, err := e.users.ListAll(ctx)
	if err != nil {
		return fmt.Errorf("engine: load users: %w", err)
	}
	e.statsMu.Lock()
	for _, u := range users {
		e.stats[u.Address] = u
	}
	e.statsMu.Unlock()

	e.logger.InfoContext(ctx, "engine loaded",
		slog.Int("markets", len(markets)),
		slog.Int("users", len(users)),
	)
	return nil
}

// FundNative credits the engine's native-currency budget used to pay oracle
// update fees.
func (e *Engine) FundNative(amount int64) error {
	if amount <= 0 {
		return domain.ErrInvalidAmount
	}
	e.nativeMu.Lock()
	e.nativeBalance += amount
	e.nativeMu.Unlock()
	return nil
}

// NativeBalance returns the remaining native-currency budget.
func (e *Engine) NativeBalance() int64 {
	e.nativeMu.Lock()
	defer e.nativeMu.Unlock()
	return e.nativeBalance
}

// payUpdateFee debits the native budget for applying an oracle update
// payload. It fails with ErrInsufficientTreasury without debiting when the
// budget cannot cover the fee.
func (e *Engine) payUpdateFee(update domain.UpdatePayload) (int64, error) {
	fee := e.feed.UpdateFee(update)
	if fee == 0 {
		return 0, nil
	}
	e.nativeMu.Lock()
	defer e.nativeMu.Unlock()
	if e.nativeBalance < fee {
		return 0, fmt.Errorf("engine: oracle update fee %d exceeds native budget %d: %w",
			fee, e.nativeBalance, domain.ErrInsufficientTreasury)
	}
	e.nativeBalance -= fee
	return fee, nil
}

func (e *Engine) refundUpdateFee(fee int64) {
	if fee == 0 {
		return
	}
	e.nativeMu.Lock()
	e.nativeBalance += fee
	e.nativeMu.Unlock()
}

// getState returns the in-memory state for a market.
func (e *Engine) getState(questionID string) (*marketState, error) {
	e.mu.RLock()
	st, ok := e.state[questionID]
	e.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("engine: market %s: %w", questionID, domain.ErrMarketNotFound)
	}
	return st, nil
}

// persistMarket writes the market through to the store and refreshes the
// cache. Callers must hold the market lock.
func (e *Engine) persistMarket(ctx context.Context, m domain.Market) error {
	if err := e.markets.Upsert(ctx, m); err != nil {
		return fmt.Errorf("engine: persist market %s: %w", m.QuestionID, err)
	}
	if e.marketCache != nil {
		if err := e.marketCache.Set(ctx, m); err != nil {
			e.logger.WarnContext(ctx, "market cache set failed",
				slog.String("question_id", m.QuestionID),
				slog.String("error", err.Error()),
			)
		}
	}
	return nil
}

// persistPosition writes one owner's position through to the store. Callers
// must hold the market lock.
func (e *Engine) persistPosition(ctx context.Context, st *marketState, owner common.Address) error {
	pos := domain.Position{
		Owner:      owner,
		QuestionID: st.market.QuestionID,
		Balances:   [2]int64{st.balances[0][owner], st.balances[1][owner]},
		Redeemed:   st.redeemed[owner],
		UpdatedAt:  e.now(),
	}
	if err := e.positions.Upsert(ctx, pos); err != nil {
		return fmt.Errorf("engine: persist position %s/%s: %w", st.market.QuestionID, owner.Hex(), err)
	}
	return nil
}

// restoreStores re-writes the market and position rows from the in-memory
// state after a failed write-through, so the stores do not keep rows from an
// aborted operation. Callers must hold the market lock and must have rolled
// the in-memory state back first. A failure here means the store itself is
// still down; it is logged, and the rows converge again on the next
// successful write-through.
func (e *Engine) restoreStores(ctx context.Context, st *marketState, owner common.Address) {
	if err := e.persistMarket(ctx, st.market); err != nil {
		e.logger.ErrorContext(ctx, "market restore failed after rollback",
			slog.String("question_id", st.market.QuestionID),
			slog.String("error", err.Error()),
		)
	}
	if err := e.persistPosition(ctx, st, owner); err != nil {
		e.logger.ErrorContext(ctx, "position restore failed after rollback",
			slog.String("question_id", st.market.QuestionID),
			slog.String("owner", owner.Hex()),
			slog.String("error", err.Error()),
		)
	}
}

// mutateStats applies fn to the user's aggregate under the stats lock and
// writes it through. A store failure rolls the in-memory aggregate back.
func (e *Engine) mutateStats(ctx context.Context, addr common.Address, fn func(*domain.UserStats)) error {
	e.statsMu.Lock()
	defer e.statsMu.Unlock()

	prev, ok := e.stats[addr]
	cur := prev
	if !ok {
		cur = domain.UserStats{Address: addr}
	}
	cur.Open = append([]string(nil), cur.Open...)
	cur.Closed = append([]string(nil), cur.Closed...)
	fn(&cur)
	cur.UpdatedAt = e.now()

	e.stats[addr] = cur
	if err := e.users.Upsert(ctx, cur); err != nil {
		if ok {
			e.stats[addr] = prev
		} else {
			delete(e.stats, addr)
		}
		return fmt.Errorf("engine: persist user %s: %w", addr.Hex(), err)
	}
	return nil
}

// auditLog appends an audit row; failures are logged, never surfaced, so the
// audit trail cannot veto a committed operation.
func (e *Engine) auditLog(ctx context.Context, event string, detail map[string]any) {
	if e.audit == nil {
		return
	}
	if err := e.audit.Log(ctx, event, detail); err != nil {
		e.logger.WarnContext(ctx, "audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func remove(list []string, s string) []string {
	out := list[:0]
	for _, v := range list {
		if v != s {
			out = append(out, v)
		}
	}
	return out
}
