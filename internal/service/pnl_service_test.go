package service

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/backstop-dashboard/internal/config"
	"github.com/backstop-dashboard/internal/models"
	"github.com/backstop-dashboard/internal/types"
)

// In-memory stores for service tests

const (
	testPool   = "pool-1"
	testAsset  = "asset-1"
	testWallet = "wallet-a"
)

func storeKey(parts ...string) string { return strings.Join(parts, "|") }

type mockEventStore struct {
	actions     map[string][]models.Event       // address
	actionsErr  map[string]error                // address
	deposits    map[string][]models.PricedEvent // address|pool|asset
	depositsErr map[string]error                // address|pool|asset
	borrows     map[string][]models.PricedEvent // address|pool|asset
	backstops   map[string][]models.BackstopEvent

	mu   sync.Mutex
	locs []string // locations received by the date-bucketing queries
}

func (m *mockEventStore) recordLoc(loc *time.Location) {
	m.mu.Lock()
	m.locs = append(m.locs, loc.String())
	m.mu.Unlock()
}

func newMockEventStore() *mockEventStore {
	return &mockEventStore{
		actions:     map[string][]models.Event{},
		actionsErr:  map[string]error{},
		deposits:    map[string][]models.PricedEvent{},
		depositsErr: map[string]error{},
		borrows:     map[string][]models.PricedEvent{},
		backstops:   map[string][]models.BackstopEvent{},
	}
}

func (m *mockEventStore) GetUserActions(ctx context.Context, address string, filter models.ActionFilter) ([]models.Event, error) {
	if err := m.actionsErr[address]; err != nil {
		return nil, err
	}
	events := m.actions[address]
	if len(filter.ActionTypes) == 0 {
		return events, nil
	}
	allowed := map[types.ActionType]bool{}
	for _, a := range filter.ActionTypes {
		allowed[a] = true
	}
	var out []models.Event
	for _, e := range events {
		if allowed[e.Action] {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *mockEventStore) GetDepositEventsWithPrices(ctx context.Context, address, poolID, assetAddress string, loc *time.Location) ([]models.PricedEvent, error) {
	m.recordLoc(loc)
	k := storeKey(address, poolID, assetAddress)
	if err := m.depositsErr[k]; err != nil {
		return nil, err
	}
	return m.deposits[k], nil
}

func (m *mockEventStore) GetBorrowEventsWithPrices(ctx context.Context, address, poolID, assetAddress string, loc *time.Location) ([]models.PricedEvent, error) {
	m.recordLoc(loc)
	return m.borrows[storeKey(address, poolID, assetAddress)], nil
}

func (m *mockEventStore) GetBackstopEvents(ctx context.Context, address, poolAddress string, loc *time.Location) ([]models.BackstopEvent, error) {
	m.recordLoc(loc)
	return m.backstops[storeKey(address, poolAddress)], nil
}

type mockSnapshotStore struct {
	balances   map[string]models.BalanceHistory     // address|pool|asset
	bsHistory  map[string][]models.BackstopSnapshot // address|pool
	rates      map[string]models.RatePair           // pool|asset|date
	shareRates map[string]float64                   // pool|date
	emissions  map[string]models.EmissionRate       // pool|asset
}

func newMockSnapshotStore() *mockSnapshotStore {
	return &mockSnapshotStore{
		balances:   map[string]models.BalanceHistory{},
		bsHistory:  map[string][]models.BackstopSnapshot{},
		rates:      map[string]models.RatePair{},
		shareRates: map[string]float64{},
		emissions:  map[string]models.EmissionRate{},
	}
}

func (m *mockSnapshotStore) GetBalanceHistory(ctx context.Context, address, poolID, assetAddress string, loc *time.Location) (models.BalanceHistory, error) {
	return m.balances[storeKey(address, poolID, assetAddress)], nil
}

func (m *mockSnapshotStore) GetBackstopBalanceHistory(ctx context.Context, address, poolAddress string) ([]models.BackstopSnapshot, error) {
	return m.bsHistory[storeKey(address, poolAddress)], nil
}

func (m *mockSnapshotStore) GetRateAtStartOfDay(ctx context.Context, poolID, assetAddress string, date types.DateKey) (models.RatePair, bool, error) {
	rate, ok := m.rates[storeKey(poolID, assetAddress, string(date))]
	return rate, ok, nil
}

func (m *mockSnapshotStore) GetBackstopShareRateAtStartOfDay(ctx context.Context, poolAddress string, date types.DateKey) (float64, bool, error) {
	rate, ok := m.shareRates[storeKey(poolAddress, string(date))]
	return rate, ok, nil
}

func (m *mockSnapshotStore) GetEmissionRates(ctx context.Context, poolID, assetAddress string) (models.EmissionRate, bool, error) {
	er, ok := m.emissions[storeKey(poolID, assetAddress)]
	return er, ok, nil
}

// pnlFixture wires the mocks behind a PnlService with a pinned clock
type pnlFixture struct {
	events *mockEventStore
	snaps  *mockSnapshotStore
	prices *stubPriceStore
	now    time.Time
}

func newPnlFixture() *pnlFixture {
	return &pnlFixture{
		events: newMockEventStore(),
		snaps:  newMockSnapshotStore(),
		prices: &stubPriceStore{prices: map[string]map[types.DateKey]float64{}},
		now:    time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC),
	}
}

func (f *pnlFixture) service() *PnlService {
	svc := NewPnlService(f.events, f.snaps, NewPriceResolver(f.prices), config.PnlConfig{
		InterestSanityDailyRate: 0.01,
		DefaultTimezone:         "UTC",
		MaxRangeDays:            366,
		DefaultRangeDays:        30,
		DailyBarThresholdDays:   31,
		RewardTokenAddress:      testRewardToken,
	})
	svc.now = func() time.Time { return f.now }
	return svc
}

func (f *pnlFixture) setPrice(token string, from, to types.DateKey, price float64) {
	byDate := f.prices.prices[token]
	if byDate == nil {
		byDate = map[types.DateKey]float64{}
		f.prices.prices[token] = byDate
	}
	for _, d := range types.DateRange(from, to) {
		byDate[d] = price
	}
}

func action(ts time.Time, seq uint64, a types.ActionType, asset string, amount float64) models.Event {
	return models.Event{
		PoolID:       testPool,
		AssetAddress: asset,
		Action:       a,
		Timestamp:    ts,
		LedgerSeq:    seq,
		Amount:       amount,
	}
}

func day(d int) time.Time { return time.Date(2024, 3, d, 8, 0, 0, 0, time.UTC) }

// addLendingWallet sets up the standard scenario: 100 tokens supplied on
// 03-01 at $1, interest accruing to 102 tokens by 03-05, a backstop deposit
// of 50 LP tokens on 03-02, and a 5-token reward claim on 03-04.
func (f *pnlFixture) addLendingWallet(address string) {
	claim := action(day(4), 40, types.ActionClaim, testAsset, 0)
	claim.ClaimAmount = 5

	f.events.actions[address] = []models.Event{
		action(day(1), 10, types.ActionSupply, testAsset, 100),
		action(day(2), 20, types.ActionBackstopDeposit, "", 50),
		claim,
	}
	f.snaps.balances[storeKey(address, testPool, testAsset)] = models.BalanceHistory{
		Snapshots: []models.BalanceSnapshot{
			snapshot("2024-03-01", 10, 100, 1.0, 0, 0),
			snapshot("2024-03-05", 50, 100, 1.02, 0, 0),
		},
		FirstEventDate: "2024-03-01",
	}
	f.events.deposits[storeKey(address, testPool, testAsset)] = []models.PricedEvent{
		pricedEvent(1, 10, types.ActionSupply, 100, 1.0),
	}
	f.snaps.bsHistory[storeKey(address, testPool)] = []models.BackstopSnapshot{
		{PoolAddress: testPool, Date: "2024-03-02", LedgerSeq: 20, Shares: 50, ShareRate: 1.0},
		{PoolAddress: testPool, Date: "2024-03-06", LedgerSeq: 60, Shares: 50, ShareRate: 1.05},
	}
	f.events.backstops[storeKey(address, testPool)] = []models.BackstopEvent{
		bsEvent(2, 20, types.ActionBackstopDeposit, 50, 50, 1.0),
	}

	f.setPrice(testAsset, "2024-03-01", "2024-03-10", 1.0)
	f.setPrice(testPool, "2024-03-01", "2024-03-10", 1.0)
	f.setPrice(testRewardToken, "2024-03-01", "2024-03-10", 2.0)
}

func TestGetDailyPnl_EmptyWallet(t *testing.T) {
	f := newPnlFixture()
	svc := f.service()

	report, err := svc.GetDailyPnl(context.Background(), "wallet-empty", ReportOptions{})
	require.NoError(t, err)
	assert.Empty(t, report.Points)
	assert.Empty(t, report.Omissions)
	assert.Equal(t, "UTC", report.Timezone)
}

func TestGetDailyPnl_Invariants(t *testing.T) {
	f := newPnlFixture()
	f.addLendingWallet(testWallet)
	svc := f.service()

	report, err := svc.GetDailyPnl(context.Background(), testWallet, ReportOptions{})
	require.NoError(t, err)
	require.Len(t, report.Points, 10)
	assert.Empty(t, report.Omissions)

	for _, p := range report.Points {
		tol := 1e-6 * math.Max(1, math.Abs(p.TotalPnl))
		assert.InDelta(t, p.UnrealizedPnl+p.RealizedPnl, p.TotalPnl, tol, "date %s", p.Date)
		assert.InDelta(t, p.LendingUnrealizedPnl+p.BackstopUnrealizedPnl, p.UnrealizedPnl, tol, "date %s", p.Date)
		assert.InDelta(t, p.LendingValue+p.BackstopValue, p.PortfolioValue, tol, "date %s", p.Date)
	}

	first := report.Points[0]
	assert.Equal(t, types.DateKey("2024-03-01"), first.Date)
	assert.InDelta(t, 100, first.LendingValue, 1e-9)
	assert.InDelta(t, 100, first.LendingCostBasis, 1e-9)
	assert.InDelta(t, 0, first.UnrealizedPnl, 1e-9)
	assert.InDelta(t, 0, first.RealizedPnl, 1e-9)

	last := report.Points[9]
	assert.Equal(t, types.DateKey("2024-03-10"), last.Date)
	assert.InDelta(t, 102, last.LendingValue, 1e-9)   // 100 raw × 1.02 bRate
	assert.InDelta(t, 52.5, last.BackstopValue, 1e-9) // 50 shares × 1.05 rate
	assert.InDelta(t, 2, last.LendingUnrealizedPnl, 1e-9)
	assert.InDelta(t, 2.5, last.BackstopUnrealizedPnl, 1e-9)
	assert.InDelta(t, 10, last.RealizedPnl, 1e-9) // 5 tokens × $2
	assert.InDelta(t, 14.5, last.TotalPnl, 1e-9)
}

func TestGetDailyPnl_WindowClamp(t *testing.T) {
	f := newPnlFixture()
	f.addLendingWallet(testWallet)
	svc := f.service()

	report, err := svc.GetDailyPnl(context.Background(), testWallet, ReportOptions{Days: 3})
	require.NoError(t, err)
	require.Len(t, report.Points, 3)
	assert.Equal(t, types.DateKey("2024-03-08"), report.Points[0].Date)
	assert.Equal(t, types.DateKey("2024-03-10"), report.Points[2].Date)

	// Cost basis accumulated before the window still counts
	assert.InDelta(t, 100, report.Points[0].LendingCostBasis, 1e-9)
}

func TestGetDailyPnl_Deterministic(t *testing.T) {
	f := newPnlFixture()
	f.addLendingWallet(testWallet)
	svc := f.service()

	a, err := svc.GetDailyPnl(context.Background(), testWallet, ReportOptions{})
	require.NoError(t, err)
	b, err := svc.GetDailyPnl(context.Background(), testWallet, ReportOptions{})
	require.NoError(t, err)
	require.Equal(t, a, b)
}

func TestGetDailyPnl_MissingPriceExcludesPosition(t *testing.T) {
	f := newPnlFixture()
	f.addLendingWallet(testWallet)
	// Wipe the asset's prices entirely: the position must be excluded from
	// every date with a named omission, not valued at zero silently.
	delete(f.prices.prices, testAsset)
	svc := f.service()

	report, err := svc.GetDailyPnl(context.Background(), testWallet, ReportOptions{})
	require.NoError(t, err)
	require.Len(t, report.Points, 10)

	for _, p := range report.Points {
		assert.InDelta(t, 0, p.LendingValue, 1e-9)
		assert.InDelta(t, 0, p.LendingCostBasis, 1e-9)
	}
	require.NotEmpty(t, report.Omissions)
	found := false
	for _, o := range report.Omissions {
		if strings.Contains(o, "no price available") && strings.Contains(o, testAsset) {
			found = true
		}
	}
	assert.True(t, found, "omissions: %v", report.Omissions)
}

func TestGetDailyPnl_SubqueryFailureExcludesPosition(t *testing.T) {
	f := newPnlFixture()
	f.addLendingWallet(testWallet)
	f.events.depositsErr[storeKey(testWallet, testPool, testAsset)] = errors.New("timeout")
	svc := f.service()

	report, err := svc.GetDailyPnl(context.Background(), testWallet, ReportOptions{})
	require.NoError(t, err)
	require.Len(t, report.Points, 10)

	// The backstop side still computes
	assert.InDelta(t, 50, report.Points[1].BackstopValue, 1e-9)
	assert.InDelta(t, 0, report.Points[1].LendingValue, 1e-9)

	require.NotEmpty(t, report.Omissions)
	assert.Contains(t, report.Omissions[0], "deposit events unavailable")
}

func TestGetDailyPnl_InvalidTimezone(t *testing.T) {
	f := newPnlFixture()
	svc := f.service()

	_, err := svc.GetDailyPnl(context.Background(), testWallet, ReportOptions{Timezone: "Not/AZone"})
	require.Error(t, err)
	var svcErr *types.ServiceError
	require.ErrorAs(t, err, &svcErr)
	assert.Equal(t, "INVALID_TIMEZONE", svcErr.Code)
}

func TestGetDailyPnl_RequestTimezoneReachesEventQueries(t *testing.T) {
	f := newPnlFixture()
	f.addLendingWallet(testWallet)
	svc := f.service()

	// Event dates must bucket in the caller's timezone, not UTC: an evening
	// UTC event is the prior local day in New York, and the same-day live
	// price policy keys off the local date.
	_, err := svc.GetDailyPnl(context.Background(), testWallet, ReportOptions{Timezone: "America/New_York"})
	require.NoError(t, err)

	require.NotEmpty(t, f.events.locs)
	for _, l := range f.events.locs {
		assert.Equal(t, "America/New_York", l)
	}
}

func TestGetRealizedYield(t *testing.T) {
	f := newPnlFixture()
	f.addLendingWallet(testWallet)
	svc := f.service()

	report, err := svc.GetRealizedYield(context.Background(), testWallet, ReportOptions{})
	require.NoError(t, err)
	require.Len(t, report.Transactions, 1)
	assert.InDelta(t, 10, report.TotalUSD, 1e-9)
	assert.InDelta(t, 10, report.TotalsByPool[testPool], 1e-9)
	assert.InDelta(t, 10, report.TotalsBySource[types.YieldSourceLending], 1e-9)
	require.Len(t, report.CumulativeByDate, 1)
	assert.Equal(t, types.DateKey("2024-03-04"), report.CumulativeByDate[0].Date)
}

func TestGetRealizedYield_NoClaims(t *testing.T) {
	f := newPnlFixture()
	svc := f.service()

	report, err := svc.GetRealizedYield(context.Background(), "wallet-empty", ReportOptions{})
	require.NoError(t, err)
	assert.Empty(t, report.Transactions)
	assert.InDelta(t, 0, report.TotalUSD, 1e-9)
}

func TestGetBorrowCostBasis(t *testing.T) {
	f := newPnlFixture()
	f.addLendingWallet(testWallet)
	f.events.borrows[storeKey(testWallet, testPool, testAsset)] = []models.PricedEvent{
		pricedEvent(2, 21, types.ActionBorrow, 100, 1.5),
		pricedEvent(3, 31, types.ActionRepay, 40, 1.5),
	}
	svc := f.service()

	breakdowns, omissions, err := svc.GetBorrowCostBasis(context.Background(), testWallet, ReportOptions{})
	require.NoError(t, err)
	assert.Empty(t, omissions)
	require.Len(t, breakdowns, 1)

	b := breakdowns[0]
	assert.Equal(t, types.PositionKey{PoolID: testPool, AssetAddress: testAsset}, b.Position)
	assert.InDelta(t, 60, b.NetTokens, 1e-9)
	assert.InDelta(t, 1.5, b.WeightedAvgPrice, 1e-9)
	assert.InDelta(t, 90, b.CostBasisUSD, 1e-9)
	assert.False(t, b.Flagged)
}
