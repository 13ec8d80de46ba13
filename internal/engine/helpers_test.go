package engine

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/updownlabs/updown/internal/custody"
	"github.com/updownlabs/updown/internal/domain"
)

// In-memory store fakes with optional error injection, so rollback paths can
// be exercised without a database.

type memMarketStore struct {
	mu      sync.Mutex
	m       map[string]domain.Market
	failErr error
}

func newMemMarketStore() *memMarketStore {
	return &memMarketStore{m: make(map[string]domain.Market)}
}

func (s *memMarketStore) Upsert(_ context.Context, market domain.Market) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failErr != nil {
		return s.failErr
	}
	s.m[market.QuestionID] = market
	return nil
}

func (s *memMarketStore) GetByID(_ context.Context, id string) (domain.Market, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.m[id]
	if !ok {
		return domain.Market{}, domain.ErrNotFound
	}
	return m, nil
}

func (s *memMarketStore) ListActive(_ context.Context, _ domain.ListOpts) ([]domain.Market, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Market
	for _, m := range s.m {
		if !m.Resolved {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *memMarketStore) ListAll(_ context.Context) ([]domain.Market, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Market, 0, len(s.m))
	for _, m := range s.m {
		out = append(out, m)
	}
	return out, nil
}

func (s *memMarketStore) ListResolvedBefore(_ context.Context, before time.Time) ([]domain.Market, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Market
	for _, m := range s.m {
		if m.Resolved && m.AnswerTimestamp.Before(before) {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *memMarketStore) Count(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.m)), nil
}

type posKey struct {
	id    string
	owner common.Address
}

type memPositionStore struct {
	mu      sync.Mutex
	m       map[posKey]domain.Position
	failErr error
}

func newMemPositionStore() *memPositionStore {
	return &memPositionStore{m: make(map[posKey]domain.Position)}
}

func (s *memPositionStore) Upsert(_ context.Context, pos domain.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failErr != nil {
		return s.failErr
	}
	s.m[posKey{pos.QuestionID, pos.Owner}] = pos
	return nil
}

func (s *memPositionStore) Get(_ context.Context, id string, owner common.Address) (domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.m[posKey{id, owner}]
	if !ok {
		return domain.Position{}, domain.ErrNotFound
	}
	return p, nil
}

func (s *memPositionStore) ListByOwner(_ context.Context, owner common.Address) ([]domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Position
	for k, p := range s.m {
		if k.owner == owner {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *memPositionStore) ListByMarket(_ context.Context, id string) ([]domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Position
	for k, p := range s.m {
		if k.id == id {
			out = append(out, p)
		}
	}
	return out, nil
}

type memUserStore struct {
	mu      sync.Mutex
	m       map[common.Address]domain.UserStats
	failErr error
}

func newMemUserStore() *memUserStore {
	return &memUserStore{m: make(map[common.Address]domain.UserStats)}
}

func (s *memUserStore) Upsert(_ context.Context, stats domain.UserStats) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failErr != nil {
		return s.failErr
	}
	s.m[stats.Address] = stats
	return nil
}

func (s *memUserStore) Get(_ context.Context, addr common.Address) (domain.UserStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.m[addr]
	if !ok {
		return domain.UserStats{}, domain.ErrNotFound
	}
	return u, nil
}

func (s *memUserStore) ListAll(_ context.Context) ([]domain.UserStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.UserStats, 0, len(s.m))
	for _, u := range s.m {
		out = append(out, u)
	}
	return out, nil
}

// stubFeed is a deterministic domain.PriceFeed for engine tests.
type stubFeed struct {
	mu    sync.Mutex
	price int64
	expo  int32
	fee   int64
	err   error
}

func (f *stubFeed) setPrice(p int64) {
	f.mu.Lock()
	f.price = p
	f.mu.Unlock()
}

func (f *stubFeed) Fetch(_ context.Context, feedID string, _ domain.UpdatePayload) (domain.PriceReading, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return domain.PriceReading{}, f.err
	}
	return domain.PriceReading{FeedID: feedID, Price: f.price, Expo: f.expo, PublishTime: time.Now()}, nil
}

func (f *stubFeed) FetchNoOlderThan(ctx context.Context, feedID string, update domain.UpdatePayload, _ time.Duration) (domain.PriceReading, error) {
	return f.Fetch(ctx, feedID, update)
}

func (f *stubFeed) UpdateFee(update domain.UpdatePayload) int64 {
	return f.fee * int64(len(update))
}

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

const testFeedID = "0xff61491a931112ddf1bd8147cd1b641375f79f5825126d665480874634fd0ace"

var (
	treasuryAddr = common.HexToAddress("0x00000000000000000000000000000000000000ee")
	alice        = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	bob          = common.HexToAddress("0x00000000000000000000000000000000000000b2")
)

type testRig struct {
	eng       *Engine
	bank      *custody.Bank
	feed      *stubFeed
	markets   *memMarketStore
	positions *memPositionStore
	users     *memUserStore
	clock     *fakeClock
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestRig(t *testing.T, cfg domain.MarketConfig) *testRig {
	t.Helper()

	bank := custody.NewBank()
	feed := &stubFeed{price: 250_000_000_000, expo: -8}
	markets := newMemMarketStore()
	positions := newMemPositionStore()
	users := newMemUserStore()
	clock := &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}

	eng := New(cfg, bank, feed, treasuryAddr, markets, positions, users, Options{}, testLogger())
	eng.now = clock.now

	return &testRig{
		eng:       eng,
		bank:      bank,
		feed:      feed,
		markets:   markets,
		positions: positions,
		users:     users,
		clock:     clock,
	}
}

func defaultConfig() domain.MarketConfig {
	return domain.MarketConfig{
		PriceFeedAllowlist: []string{testFeedID},
		InitialFunding:     1000,
		FeeBps:             0,
		CreationInterval:   0,
		MinDuration:        time.Minute,
		MaxDuration:        24 * time.Hour,
	}
}

// fundAndApprove mints stake to the address and approves the treasury to
// pull it.
func (r *testRig) fundAndApprove(t *testing.T, addr common.Address, amount int64) {
	t.Helper()
	ctx := context.Background()
	if err := r.bank.Mint(addr, amount); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := r.bank.Approve(ctx, addr, treasuryAddr, amount); err != nil {
		t.Fatalf("approve: %v", err)
	}
}
