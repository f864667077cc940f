package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/backstop-dashboard/internal/config"
	"github.com/backstop-dashboard/internal/logging"
	"github.com/backstop-dashboard/internal/models"
	"github.com/backstop-dashboard/internal/types"
)

// Repository interfaces for dependency injection

// EventStore is the event-repository surface the P&L engine consumes.
// Calendar-date bucketing of event timestamps follows the supplied location.
type EventStore interface {
	GetUserActions(ctx context.Context, address string, filter models.ActionFilter) ([]models.Event, error)
	GetDepositEventsWithPrices(ctx context.Context, address, poolID, assetAddress string, loc *time.Location) ([]models.PricedEvent, error)
	GetBorrowEventsWithPrices(ctx context.Context, address, poolID, assetAddress string, loc *time.Location) ([]models.PricedEvent, error)
	GetBackstopEvents(ctx context.Context, address, poolAddress string, loc *time.Location) ([]models.BackstopEvent, error)
}

// SnapshotStore is the snapshot-repository surface the P&L engine consumes
type SnapshotStore interface {
	GetBalanceHistory(ctx context.Context, address, poolID, assetAddress string, loc *time.Location) (models.BalanceHistory, error)
	GetBackstopBalanceHistory(ctx context.Context, address, poolAddress string) ([]models.BackstopSnapshot, error)
	GetRateAtStartOfDay(ctx context.Context, poolID, assetAddress string, date types.DateKey) (models.RatePair, bool, error)
	GetBackstopShareRateAtStartOfDay(ctx context.Context, poolAddress string, date types.DateKey) (float64, bool, error)
	GetEmissionRates(ctx context.Context, poolID, assetAddress string) (models.EmissionRate, bool, error)
}

// PnlService reconstructs daily and period P&L series from the event and
// snapshot stores. All computation is request-scoped and deterministic for
// a fixed reference "today"; nothing here mutates shared state.
type PnlService struct {
	events    EventStore
	snapshots SnapshotStore
	resolver  *PriceResolver
	cfg       config.PnlConfig
	now       func() time.Time
}

// NewPnlService creates a new P&L service
func NewPnlService(events EventStore, snapshots SnapshotStore, resolver *PriceResolver, cfg config.PnlConfig) *PnlService {
	return &PnlService{
		events:    events,
		snapshots: snapshots,
		resolver:  resolver,
		cfg:       cfg,
		now:       time.Now,
	}
}

// ReportOptions carries the request dimensions and caller-supplied live data
type ReportOptions struct {
	Timezone string
	Days     int // window length in days; 0 means since first event

	// Live inputs from the caller's SDK session; all optional
	LivePrices   map[string]float64            // token address → live USD price
	LiveBalances map[types.PositionKey]float64 // live supply underlying tokens
	LiveDebts    map[types.PositionKey]float64 // live debt underlying tokens

	// ActiveFilter restricts which wallets contribute to which positions in
	// multi-wallet aggregation. A wallet absent from a position's list
	// contributes nothing to it.
	ActiveFilter map[types.PositionKey][]string
}

// location resolves the request timezone, defaulting per config
func (s *PnlService) location(tz string) (*time.Location, error) {
	if tz == "" {
		tz = s.cfg.DefaultTimezone
	}
	if tz == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, &types.ServiceError{
			Code:    "INVALID_TIMEZONE",
			Message: fmt.Sprintf("unknown timezone: %s", tz),
			Details: map[string]interface{}{"timezone": tz},
		}
	}
	return loc, nil
}

// positionData is everything fetched for one lending/borrow position
type positionData struct {
	key     types.PositionKey
	history models.BalanceHistory
	// supply-side deposit/withdraw events, price-joined
	deposits []models.PricedEvent
	// borrow/repay events, price-joined
	borrows []models.PricedEvent
}

// backstopData is everything fetched for one backstop pool position
type backstopData struct {
	pool      string
	snapshots []models.BackstopSnapshot
	events    []models.BackstopEvent
}

// walletData is the full fetch result for one wallet
type walletData struct {
	address   string
	positions []positionData
	backstops []backstopData
	claims    []models.Event
	firstDate types.DateKey
	omissions []string
}

// tokens returns every token address the wallet's report needs prices for
func (w *walletData) tokens(rewardToken string) []string {
	seen := map[string]bool{}
	var out []string
	add := func(t string) {
		if t != "" && !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	for _, p := range w.positions {
		add(p.key.AssetAddress)
	}
	for _, b := range w.backstops {
		add(b.pool)
	}
	add(rewardToken)
	return out
}

// fetchWalletData loads a wallet's events then fans out the per-position
// sub-queries concurrently. Each goroutine writes a disjoint slot, so no
// locking is needed beyond the omissions collector. A failed sub-query
// excludes that position and records an omission; only the initial event
// fetch is fatal.
func (s *PnlService) fetchWalletData(ctx context.Context, address string, loc *time.Location) (*walletData, error) {
	events, err := s.events.GetUserActions(ctx, address, models.ActionFilter{})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch events for %s: %w", address, err)
	}

	w := &walletData{address: address}
	if len(events) == 0 {
		return w, nil
	}

	w.firstDate = types.NewDateKey(events[0].Timestamp, loc)

	posKeys := map[types.PositionKey]bool{}
	poolKeys := map[string]bool{}
	for _, e := range events {
		if e.Action.IsClaim() {
			w.claims = append(w.claims, e)
			continue
		}
		if e.AssetAddress != "" {
			posKeys[e.PositionKey()] = true
		} else {
			poolKeys[e.PoolID] = true
		}
	}

	positions := make([]positionData, 0, len(posKeys))
	for k := range posKeys {
		positions = append(positions, positionData{key: k})
	}
	sort.Slice(positions, func(i, j int) bool {
		return positions[i].key.String() < positions[j].key.String()
	})
	backstops := make([]backstopData, 0, len(poolKeys))
	for pool := range poolKeys {
		backstops = append(backstops, backstopData{pool: pool})
	}
	sort.Slice(backstops, func(i, j int) bool { return backstops[i].pool < backstops[j].pool })

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		posOK     = make([]bool, len(positions))
		bsOK      = make([]bool, len(backstops))
		omissions []string
	)
	fail := func(msg string) {
		mu.Lock()
		omissions = append(omissions, msg)
		mu.Unlock()
	}

	for i := range positions {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p := &positions[i]

			history, err := s.snapshots.GetBalanceHistory(ctx, address, p.key.PoolID, p.key.AssetAddress, loc)
			if err != nil {
				fail(fmt.Sprintf("position %s excluded: balance history unavailable", p.key))
				return
			}
			deposits, err := s.events.GetDepositEventsWithPrices(ctx, address, p.key.PoolID, p.key.AssetAddress, loc)
			if err != nil {
				fail(fmt.Sprintf("position %s excluded: deposit events unavailable", p.key))
				return
			}
			borrows, err := s.events.GetBorrowEventsWithPrices(ctx, address, p.key.PoolID, p.key.AssetAddress, loc)
			if err != nil {
				fail(fmt.Sprintf("position %s excluded: borrow events unavailable", p.key))
				return
			}

			p.history = history
			p.deposits = deposits
			p.borrows = borrows
			posOK[i] = true
		}(i)
	}

	for i := range backstops {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			b := &backstops[i]

			snapshots, err := s.snapshots.GetBackstopBalanceHistory(ctx, address, b.pool)
			if err != nil {
				fail(fmt.Sprintf("backstop %s excluded: balance history unavailable", b.pool))
				return
			}
			bsEvents, err := s.events.GetBackstopEvents(ctx, address, b.pool, loc)
			if err != nil {
				fail(fmt.Sprintf("backstop %s excluded: events unavailable", b.pool))
				return
			}

			b.snapshots = snapshots
			b.events = bsEvents
			bsOK[i] = true
		}(i)
	}

	wg.Wait()
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	for i, p := range positions {
		if posOK[i] {
			w.positions = append(w.positions, p)
		}
	}
	for i, b := range backstops {
		if bsOK[i] {
			w.backstops = append(w.backstops, b)
		}
	}
	w.omissions = omissions

	return w, nil
}

// applyActiveFilter drops positions the wallet is not marked active for.
// A nil filter keeps everything; a filter entry listing other wallets only
// excludes this wallet's contribution to that position.
func (w *walletData) applyActiveFilter(filter map[types.PositionKey][]string) {
	if filter == nil {
		return
	}
	kept := w.positions[:0]
	for _, p := range w.positions {
		active, constrained := filter[p.key]
		if !constrained {
			kept = append(kept, p)
			continue
		}
		for _, addr := range active {
			if addr == w.address {
				kept = append(kept, p)
				break
			}
		}
	}
	w.positions = kept
}

// GetDailyPnl reconstructs the wallet's daily P&L series from its first
// event (clamped to the requested window) through today. A wallet with no
// events returns an empty series.
func (s *PnlService) GetDailyPnl(ctx context.Context, address string, opts ReportOptions) (*models.DailyPnlReport, error) {
	loc, err := s.location(opts.Timezone)
	if err != nil {
		return nil, err
	}
	today := types.NewDateKey(s.now(), loc)

	w, err := s.fetchWalletData(ctx, address, loc)
	if err != nil {
		return nil, err
	}
	w.applyActiveFilter(opts.ActiveFilter)

	report := &models.DailyPnlReport{
		Address:  address,
		Timezone: loc.String(),
		Points:   []models.DailyPnlPoint{},
	}
	if w.firstDate == "" {
		return report, nil
	}

	from := w.firstDate
	if opts.Days > 0 {
		windowStart := today.AddDays(-(opts.Days - 1))
		if windowStart.After(from) {
			from = windowStart
		}
	}
	dates := types.DateRange(from, today)

	table, err := s.resolver.LoadTable(ctx, w.tokens(s.cfg.RewardTokenAddress), w.firstDate, today, today, opts.LivePrices)
	if err != nil {
		return nil, err
	}

	report.Points = s.buildDailyPoints(w, table, dates, today, loc, opts)
	report.Omissions = append(report.Omissions, w.omissions...)
	report.Omissions = append(report.Omissions, s.priceOmissions(w, table, dates)...)

	logging.FromContext(ctx).WithFields(map[string]interface{}{
		"address":   address,
		"points":    len(report.Points),
		"omissions": len(report.Omissions),
	}).Debug("Built daily P&L series")

	return report, nil
}

// positionSeries bundles the per-date lookups for one position
type positionSeries struct {
	key        types.PositionKey
	supply     map[types.DateKey]float64
	debt       map[types.DateKey]float64
	supplyCost *CostBasisSeries
	borrowCost *CostBasisSeries
}

// backstopSeries bundles the per-date lookups for one backstop pool
type backstopSeries struct {
	pool   string
	daily  map[types.DateKey]BackstopDailyPoint
	cost   *CostBasisSeries
	events []models.BackstopEvent
}

func (s *PnlService) buildPositionSeries(w *walletData, table *PriceTable, dates []types.DateKey, today types.DateKey, opts ReportOptions) ([]positionSeries, []backstopSeries) {
	positions := make([]positionSeries, 0, len(w.positions))
	for _, p := range w.positions {
		live, _ := table.LivePrice(p.key.AssetAddress)
		current := table.Resolve(p.key.AssetAddress, today).Price
		cbOpts := CostBasisOptions{Today: today, LivePrice: live, CurrentPrice: current}

		positions = append(positions, positionSeries{
			key:        p.key,
			supply:     BuildSupplyDailySeries(p.history.Snapshots, dates),
			debt:       BuildDebtDailySeries(p.history.Snapshots, dates),
			supplyCost: AccumulateCostBasis(p.deposits, cbOpts),
			borrowCost: AccumulateCostBasis(p.borrows, cbOpts),
		})
	}

	backstops := make([]backstopSeries, 0, len(w.backstops))
	for _, b := range w.backstops {
		priced, _ := BackstopPricedEvents(b.events, table, b.pool)
		live, _ := table.LivePrice(b.pool)
		current := table.Resolve(b.pool, today).Price

		backstops = append(backstops, backstopSeries{
			pool:   b.pool,
			daily:  BuildBackstopDailySeries(b.snapshots, dates),
			cost:   AccumulateCostBasis(priced, CostBasisOptions{Today: today, LivePrice: live, CurrentPrice: current}),
			events: b.events,
		})
	}

	return positions, backstops
}

func (s *PnlService) buildDailyPoints(w *walletData, table *PriceTable, dates []types.DateKey, today types.DateKey, loc *time.Location, opts ReportOptions) []models.DailyPnlPoint {
	positions, backstops := s.buildPositionSeries(w, table, dates, today, opts)

	realized := AggregateRealizedYield(w.claims, table, s.cfg.RewardTokenAddress, loc)

	points := make([]models.DailyPnlPoint, 0, len(dates))
	for _, date := range dates {
		point := models.DailyPnlPoint{Date: date}

		for _, p := range positions {
			price := table.Resolve(p.key.AssetAddress, date)
			if !price.Reliable() {
				// No price anywhere: the position is excluded from this
				// date rather than valued at zero
				continue
			}
			point.LendingValue += (p.supply[date] - p.debt[date]) * price.Price
			point.LendingCostBasis += p.supplyCost.At(date).CostBasisUSD - p.borrowCost.At(date).CostBasisUSD
		}

		for _, b := range backstops {
			price := table.Resolve(b.pool, date)
			if !price.Reliable() {
				continue
			}
			point.BackstopValue += b.daily[date].LPValue * price.Price
			point.BackstopCostBasis += b.cost.At(date).CostBasisUSD
		}

		point.PortfolioValue = point.LendingValue + point.BackstopValue
		point.CostBasis = point.LendingCostBasis + point.BackstopCostBasis
		point.LendingUnrealizedPnl = point.LendingValue - point.LendingCostBasis
		point.BackstopUnrealizedPnl = point.BackstopValue - point.BackstopCostBasis
		point.UnrealizedPnl = point.LendingUnrealizedPnl + point.BackstopUnrealizedPnl
		point.RealizedPnl = RealizedTotalAsOf(realized.CumulativeByDate, date)
		point.TotalPnl = point.UnrealizedPnl + point.RealizedPnl

		points = append(points, point)
	}

	return points
}

// priceOmissions names assets that had to be excluded on one or more dates
// because no price was available anywhere. One entry per asset keeps the
// list readable over long ranges.
func (s *PnlService) priceOmissions(w *walletData, table *PriceTable, dates []types.DateKey) []string {
	var omissions []string

	countMissing := func(token string) int {
		missing := 0
		for _, d := range dates {
			if !table.Resolve(token, d).Reliable() {
				missing++
			}
		}
		return missing
	}

	for _, p := range w.positions {
		if n := countMissing(p.key.AssetAddress); n > 0 {
			omissions = append(omissions,
				fmt.Sprintf("position %s excluded on %d of %d dates: no price available", p.key, n, len(dates)))
		}
	}
	for _, b := range w.backstops {
		if n := countMissing(b.pool); n > 0 {
			omissions = append(omissions,
				fmt.Sprintf("backstop %s excluded on %d of %d dates: no price available", b.pool, n, len(dates)))
		}
	}

	return omissions
}

// GetRealizedYield returns the wallet's realized reward-token yield summary
func (s *PnlService) GetRealizedYield(ctx context.Context, address string, opts ReportOptions) (*models.RealizedYieldReport, error) {
	loc, err := s.location(opts.Timezone)
	if err != nil {
		return nil, err
	}
	today := types.NewDateKey(s.now(), loc)

	claims, err := s.events.GetUserActions(ctx, address, models.ActionFilter{
		ActionTypes: []types.ActionType{types.ActionClaim, types.ActionBackstopClaim},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch claims for %s: %w", address, err)
	}

	report := &models.RealizedYieldReport{
		Address:          address,
		Transactions:     []models.ClaimTransaction{},
		CumulativeByDate: []models.CumulativePoint{},
		TotalsByPool:     map[string]float64{},
		TotalsBySource:   map[types.YieldSource]float64{},
	}
	if len(claims) == 0 {
		return report, nil
	}

	first := types.NewDateKey(claims[0].Timestamp, loc)
	table, err := s.resolver.LoadTable(ctx, []string{s.cfg.RewardTokenAddress}, first, today, today, opts.LivePrices)
	if err != nil {
		return nil, err
	}

	outcome := AggregateRealizedYield(claims, table, s.cfg.RewardTokenAddress, loc)
	report.Transactions = outcome.Transactions
	if outcome.CumulativeByDate != nil {
		report.CumulativeByDate = outcome.CumulativeByDate
	}
	report.TotalUSD = outcome.TotalUSD
	report.TotalsByPool = outcome.TotalsByPool
	report.TotalsBySource = outcome.TotalsBySource
	report.Omissions = outcome.Omissions

	return report, nil
}

// GetBorrowCostBasis returns the per-position borrow cost-basis breakdown
func (s *PnlService) GetBorrowCostBasis(ctx context.Context, address string, opts ReportOptions) ([]models.CostBasisBreakdown, []string, error) {
	loc, err := s.location(opts.Timezone)
	if err != nil {
		return nil, nil, err
	}
	today := types.NewDateKey(s.now(), loc)

	w, err := s.fetchWalletData(ctx, address, loc)
	if err != nil {
		return nil, nil, err
	}
	w.applyActiveFilter(opts.ActiveFilter)

	breakdowns := []models.CostBasisBreakdown{}
	if w.firstDate == "" {
		return breakdowns, nil, nil
	}

	table, err := s.resolver.LoadTable(ctx, w.tokens(s.cfg.RewardTokenAddress), w.firstDate, today, today, opts.LivePrices)
	if err != nil {
		return nil, nil, err
	}

	for _, p := range w.positions {
		if len(p.borrows) == 0 {
			continue
		}
		live, _ := table.LivePrice(p.key.AssetAddress)
		current := table.Resolve(p.key.AssetAddress, today).Price
		state := AccumulateCostBasis(p.borrows, CostBasisOptions{
			Today: today, LivePrice: live, CurrentPrice: current,
		}).Final()

		breakdowns = append(breakdowns, models.CostBasisBreakdown{
			Position:         p.key,
			DepositedTokens:  state.DepositedTokens,
			WithdrawnTokens:  state.WithdrawnTokens,
			DepositedUSD:     state.DepositedUSD,
			WeightedAvgPrice: state.WeightedAvgPrice,
			CostBasisUSD:     state.CostBasisUSD,
			NetTokens:        state.NetTokens,
			Flagged:          state.Flagged,
		})
	}

	return breakdowns, w.omissions, nil
}
