package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/updownlabs/updown/internal/domain"
)

type fakeEngine struct {
	mu          sync.Mutex
	canCreate   bool
	created     int
	expired     []string
	resolved    []string
	resolveErr  error
	users       []common.Address
	redeemCalls map[common.Address]int
}

func (f *fakeEngine) CanCreateMarket(time.Time) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.canCreate
}

func (f *fakeEngine) CreateRandomMarket(_ context.Context, _ time.Duration, _ domain.UpdatePayload) (domain.Market, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created++
	return domain.Market{QuestionID: "0xabc", FeedSymbol: "ETH/USD"}, nil
}

func (f *fakeEngine) ResolveMarket(_ context.Context, questionID string, _ domain.UpdatePayload, _ bool, _ string) (domain.Market, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.resolveErr != nil {
		return domain.Market{}, f.resolveErr
	}
	f.resolved = append(f.resolved, questionID)
	return domain.Market{QuestionID: questionID, Resolved: true, PayoutVector: [2]int64{1, 0}}, nil
}

func (f *fakeEngine) GetMarket(_ context.Context, questionID string) (domain.Market, domain.MarketStatus, error) {
	return domain.Market{QuestionID: questionID, PriceFeedID: "0xfeed"}, domain.MarketStatusExpired, nil
}

func (f *fakeEngine) ExpiredMarketIDs(context.Context) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.expired...)
}

func (f *fakeEngine) UserAddresses() []common.Address {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]common.Address(nil), f.users...)
}

func (f *fakeEngine) RedeemPositions(_ context.Context, owner common.Address, maxCount int) ([]string, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.redeemCalls == nil {
		f.redeemCalls = make(map[common.Address]int)
	}
	f.redeemCalls[owner] = maxCount
	return []string{"0xabc"}, 42, nil
}

type fakeLocks struct {
	mu       sync.Mutex
	held     bool
	acquired int
}

func (l *fakeLocks) Acquire(context.Context, string, time.Duration) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held {
		return nil, domain.ErrLockHeld
	}
	l.acquired++
	return func() {}, nil
}

func testConfig() Config {
	return Config{
		CreationInterval: time.Minute,
		MarketDuration:   time.Hour,
		SweepInterval:    time.Minute,
		RedeemBatchSize:  5,
	}
}

func TestCreateTick(t *testing.T) {
	eng := &fakeEngine{canCreate: true}
	s := New(testConfig(), eng, nil, nil, testLogger())

	s.createTick(context.Background())
	assert.Equal(t, 1, eng.created)

	eng.canCreate = false
	s.createTick(context.Background())
	assert.Equal(t, 1, eng.created, "interval gate must skip the tick")
}

func TestCreateTick_LockHeldSkips(t *testing.T) {
	eng := &fakeEngine{canCreate: true}
	locks := &fakeLocks{held: true}
	s := New(testConfig(), eng, nil, locks, testLogger())

	s.createTick(context.Background())
	assert.Equal(t, 0, eng.created)

	locks.held = false
	s.createTick(context.Background())
	assert.Equal(t, 1, eng.created)
	assert.Equal(t, 1, locks.acquired)
}

func TestSweepTick(t *testing.T) {
	eng := &fakeEngine{
		expired: []string{"0x1", "0x2"},
		users:   []common.Address{common.HexToAddress("0xa1")},
	}
	s := New(testConfig(), eng, nil, nil, testLogger())

	s.sweepTick(context.Background())

	assert.Equal(t, []string{"0x1", "0x2"}, eng.resolved)
	require.Contains(t, eng.redeemCalls, common.HexToAddress("0xa1"))
	assert.Equal(t, 5, eng.redeemCalls[common.HexToAddress("0xa1")])
}

func TestSweepTick_ResolveFailureDoesNotStopRedemption(t *testing.T) {
	eng := &fakeEngine{
		expired:    []string{"0x1"},
		resolveErr: domain.ErrStalePrice,
		users:      []common.Address{common.HexToAddress("0xa1")},
	}
	s := New(testConfig(), eng, nil, nil, testLogger())

	s.sweepTick(context.Background())

	assert.Empty(t, eng.resolved)
	assert.Contains(t, eng.redeemCalls, common.HexToAddress("0xa1"))
}
