package service

import (
	"context"
	"fmt"
	"time"

	"github.com/backstop-dashboard/internal/logging"
	"github.com/backstop-dashboard/internal/models"
	"github.com/backstop-dashboard/internal/types"
)

// Period P&L composition. Each bar is classified HISTORICAL or LIVE: a bar
// is LIVE iff its end date equals the caller's "today" in the caller's
// timezone. Historical bars use recorded snapshots and historical prices
// exclusively. The live bar blends a start-of-day rate captured at the
// timezone boundary with the caller's live balances and prices at the end:
// snapshot rates are recorded at ledger events, not at local midnight, so
// the boundary rate gives a materially more accurate start-of-day value
// than reusing yesterday's end-of-day snapshot. Bars are immutable once
// emitted.

// PeriodOptions extends ReportOptions with an explicit window
type PeriodOptions struct {
	ReportOptions
	From types.DateKey
	To   types.DateKey
}

type periodBoundary struct {
	start types.DateKey
	end   types.DateKey
	live  bool
}

// buildPeriodBoundaries splits [from, to] into daily bars for short windows
// and calendar-month bars beyond the threshold. to is clamped at today and
// the final bar is live iff it ends today.
func (s *PnlService) buildPeriodBoundaries(from, to, today types.DateKey) []periodBoundary {
	if to.After(today) {
		to = today
	}
	if from.After(to) {
		return nil
	}

	span := diffDays(from, to) + 1
	var bars []periodBoundary

	if span <= s.cfg.DailyBarThresholdDays {
		for d := from; !d.After(to); d = d.AddDays(1) {
			bars = append(bars, periodBoundary{start: d, end: d, live: d == today})
		}
		return bars
	}

	start := from
	for !start.After(to) {
		end := monthEnd(start)
		if end.After(to) {
			end = to
		}
		bars = append(bars, periodBoundary{start: start, end: end, live: end == today})
		start = end.AddDays(1)
	}
	return bars
}

func diffDays(a, b types.DateKey) int {
	at, errA := a.Time(time.UTC)
	bt, errB := b.Time(time.UTC)
	if errA != nil || errB != nil {
		return 0
	}
	return int(bt.Sub(at).Hours() / 24)
}

func monthEnd(d types.DateKey) types.DateKey {
	t, err := d.Time(time.UTC)
	if err != nil {
		return d
	}
	firstOfNext := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, 0)
	return types.DateKey(firstOfNext.AddDate(0, 0, -1).Format(types.DateLayout))
}

// GetPeriodPnl computes the period-bar breakdown for one wallet
func (s *PnlService) GetPeriodPnl(ctx context.Context, address string, opts PeriodOptions) (*models.PeriodReport, error) {
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

	from, to := opts.From, opts.To
	if to == "" {
		to = today
	}
	if from == "" {
		if opts.Days > 0 {
			from = to.AddDays(-(opts.Days - 1))
		} else if w.firstDate != "" {
			from = w.firstDate
		} else {
			from = to
		}
	}
	if w.firstDate != "" && w.firstDate.After(from) {
		from = w.firstDate
	}
	if s.cfg.MaxRangeDays > 0 && diffDays(from, to) > s.cfg.MaxRangeDays {
		return nil, &types.ServiceError{
			Code:    "INVALID_PARAMETER",
			Message: fmt.Sprintf("requested range exceeds %d days", s.cfg.MaxRangeDays),
			Details: map[string]interface{}{"from": from, "to": to},
		}
	}

	bars := s.buildPeriodBoundaries(from, to, today)
	granularity := types.GranularityDaily
	if len(bars) > 0 && diffDays(from, to)+1 > s.cfg.DailyBarThresholdDays {
		granularity = types.GranularityMonthly
	}

	report := &models.PeriodReport{
		Address:     address,
		Granularity: granularity,
		Timezone:    loc.String(),
		Bars:        []models.PeriodBar{},
	}
	if w.firstDate == "" || len(bars) == 0 {
		return report, nil
	}

	// The series needs one day before the first bar for start-of-period values
	seriesFrom := from.AddDays(-1)
	dates := types.DateRange(seriesFrom, to)

	table, err := s.resolver.LoadTable(ctx, w.tokens(s.cfg.RewardTokenAddress), seriesFrom, to, today, opts.LivePrices)
	if err != nil {
		return nil, err
	}

	pc := &periodContext{
		svc:   s,
		w:     w,
		table: table,
		today: today,
		opts:  opts,
	}
	pc.prepare(dates)

	for _, b := range w.backstops {
		if drift, ok := ShareConservationDrift(b.snapshots, b.events); !ok {
			logging.FromContext(ctx).WithFields(map[string]interface{}{
				"address": address,
				"pool":    b.pool,
				"drift":   drift,
			}).Warn("Backstop share totals drift from recorded movements")
			pc.omitOnce(fmt.Sprintf("backstop %s: share totals inconsistent with recorded movements", b.pool))
		}
	}

	for _, bar := range bars {
		report.Bars = append(report.Bars, pc.computeBar(ctx, bar))
	}
	report.Omissions = append(report.Omissions, w.omissions...)
	report.Omissions = append(report.Omissions, pc.omissions...)

	return report, nil
}

// periodContext carries the precomputed series shared by all bars of one
// report
type periodContext struct {
	svc   *PnlService
	w     *walletData
	table *PriceTable
	today types.DateKey
	opts  PeriodOptions

	supply map[types.PositionKey]map[types.DateKey]float64
	debt   map[types.PositionKey]map[types.DateKey]float64
	bsView map[string]map[types.DateKey]BackstopDailyPoint

	omissions []string
	flagged   map[string]bool // dedupes repeated omissions across bars
}

func (pc *periodContext) prepare(dates []types.DateKey) {
	pc.supply = make(map[types.PositionKey]map[types.DateKey]float64, len(pc.w.positions))
	pc.debt = make(map[types.PositionKey]map[types.DateKey]float64, len(pc.w.positions))
	for _, p := range pc.w.positions {
		pc.supply[p.key] = BuildSupplyDailySeries(p.history.Snapshots, dates)
		pc.debt[p.key] = BuildDebtDailySeries(p.history.Snapshots, dates)
	}
	pc.bsView = make(map[string]map[types.DateKey]BackstopDailyPoint, len(pc.w.backstops))
	for _, b := range pc.w.backstops {
		pc.bsView[b.pool] = BuildBackstopDailySeries(b.snapshots, dates)
	}
	pc.flagged = map[string]bool{}
}

func (pc *periodContext) omitOnce(msg string) {
	if !pc.flagged[msg] {
		pc.flagged[msg] = true
		pc.omissions = append(pc.omissions, msg)
	}
}

// eventPrice values an in-period event, applying the same-day live-price
// policy used by the cost-basis accumulator.
func (pc *periodContext) eventPrice(asset string, e models.PricedEvent) float64 {
	if e.Date == pc.today {
		if live, ok := pc.table.LivePrice(asset); ok {
			return live
		}
	}
	if e.PriceUSD > 0 {
		return e.PriceUSD
	}
	return pc.table.Resolve(asset, e.Date).Price
}

func (pc *periodContext) computeBar(ctx context.Context, bar periodBoundary) models.PeriodBar {
	out := models.PeriodBar{
		PeriodStart: bar.start,
		PeriodEnd:   bar.end,
		IsLive:      bar.live,
	}
	days := diffDays(bar.start, bar.end) + 1
	startPrev := bar.start.AddDays(-1)

	rewardPrice := pc.table.Resolve(pc.svc.cfg.RewardTokenAddress, bar.end).Price

	for _, p := range pc.w.positions {
		endPoint := pc.table.Resolve(p.key.AssetAddress, bar.end)
		if !endPoint.Reliable() {
			pc.omitOnce(fmt.Sprintf("position %s excluded from period bars: no end price", p.key))
			continue
		}
		priceEnd := endPoint.Price
		// Start-of-period price is the prior day's close, same boundary the
		// balances open on. Resolving at bar.start would collapse daily bars
		// to a zero price move.
		startPoint := pc.table.Resolve(p.key.AssetAddress, startPrev)
		priceStart := startPoint.Price
		if !startPoint.Reliable() {
			priceStart = priceEnd
		}

		supplyStart := pc.supply[p.key][startPrev]
		supplyEnd := pc.supply[p.key][bar.end]
		debtStart := pc.debt[p.key][startPrev]
		debtEnd := pc.debt[p.key][bar.end]

		if bar.live {
			supplyStart, debtStart = pc.liveStartBalances(ctx, p, bar.start, supplyStart, debtStart)
			if liveSupply, ok := pc.opts.LiveBalances[p.key]; ok {
				supplyEnd = liveSupply
			}
			if liveDebt, ok := pc.opts.LiveDebts[p.key]; ok {
				debtEnd = liveDebt
			}
		}

		// Supply side
		var netDeposited float64
		for _, e := range p.deposits {
			if e.Date.Before(bar.start) || e.Date.After(bar.end) {
				continue
			}
			pAt := pc.eventPrice(p.key.AssetAddress, e)
			switch {
			case isDepositDirection(e.Action):
				netDeposited += e.Tokens
				out.PriceChange += e.Tokens * (priceEnd - pAt)
			case isWithdrawalDirection(e.Action):
				netDeposited -= e.Tokens
				out.PriceChange -= e.Tokens * (priceEnd - pAt)
			}
		}
		interestTokens := supplyEnd - supplyStart - netDeposited
		out.SupplyYield += interestTokens * priceEnd
		out.PriceChange += supplyStart * (priceEnd - priceStart)

		// Borrow side, sign flipped: debt growth beyond net new borrows is
		// interest cost; a debt in an appreciating asset is a price loss
		var netBorrowed float64
		for _, e := range p.borrows {
			if e.Date.Before(bar.start) || e.Date.After(bar.end) {
				continue
			}
			pAt := pc.eventPrice(p.key.AssetAddress, e)
			switch {
			case isDepositDirection(e.Action):
				netBorrowed += e.Tokens
				out.PriceChange -= e.Tokens * (priceEnd - pAt)
			case isWithdrawalDirection(e.Action):
				netBorrowed -= e.Tokens
				out.PriceChange += e.Tokens * (priceEnd - pAt)
			}
		}
		interestDebtTokens := debtEnd - debtStart - netBorrowed
		costUSD := interestDebtTokens * priceEnd
		if costUSD > 0 {
			avgDebtUSD := (debtStart + debtEnd) / 2 * priceEnd
			ceiling := pc.svc.cfg.InterestSanityDailyRate * avgDebtUSD * float64(days)
			if avgDebtUSD > 0 && costUSD > ceiling {
				logging.FromContext(ctx).WithFields(map[string]interface{}{
					"position":    p.key.String(),
					"periodStart": string(bar.start),
					"interestUsd": costUSD,
					"ceilingUsd":  ceiling,
				}).Warn("Implausible borrow interest zeroed")
				pc.omitOnce(fmt.Sprintf("position %s: implausible interest zeroed in one or more periods", p.key))
				costUSD = 0
			}
			out.BorrowInterestCost -= costUSD
		}
		out.PriceChange -= debtStart * (priceEnd - priceStart)

		// Emission rewards, time-weighted by held fraction of the period
		if er, ok, err := pc.svc.snapshots.GetEmissionRates(ctx, p.key.PoolID, p.key.AssetAddress); err == nil && ok && rewardPrice > 0 {
			supplyRewardTokens := supplyStart * er.SupplyPerTokenDay * float64(days)
			borrowRewardTokens := debtStart * er.BorrowPerTokenDay * float64(days)
			for _, e := range p.deposits {
				if e.Date.Before(bar.start) || e.Date.After(bar.end) {
					continue
				}
				remaining := float64(diffDays(e.Date, bar.end))
				if isDepositDirection(e.Action) {
					supplyRewardTokens += e.Tokens * er.SupplyPerTokenDay * remaining
				} else if isWithdrawalDirection(e.Action) {
					supplyRewardTokens -= e.Tokens * er.SupplyPerTokenDay * remaining
				}
			}
			for _, e := range p.borrows {
				if e.Date.Before(bar.start) || e.Date.After(bar.end) {
					continue
				}
				remaining := float64(diffDays(e.Date, bar.end))
				if isDepositDirection(e.Action) {
					borrowRewardTokens += e.Tokens * er.BorrowPerTokenDay * remaining
				} else if isWithdrawalDirection(e.Action) {
					borrowRewardTokens -= e.Tokens * er.BorrowPerTokenDay * remaining
				}
			}
			if supplyRewardTokens > 0 {
				out.RewardYieldSupply += supplyRewardTokens * rewardPrice
			}
			if borrowRewardTokens > 0 {
				out.RewardYieldBorrow += borrowRewardTokens * rewardPrice
			}
		}
	}

	for _, b := range pc.w.backstops {
		endPoint := pc.table.Resolve(b.pool, bar.end)
		if !endPoint.Reliable() {
			pc.omitOnce(fmt.Sprintf("backstop %s excluded from period bars: no end price", b.pool))
			continue
		}
		lpPriceEnd := endPoint.Price

		view := pc.bsView[b.pool]
		sharesStart := view[startPrev].Shares
		rateStart := view[startPrev].ShareRate
		if rate, ok, err := pc.svc.snapshots.GetBackstopShareRateAtStartOfDay(ctx, b.pool, bar.start); err == nil && ok && rate > 0 {
			rateStart = rate
		}
		rateEnd := view[bar.end].ShareRate
		if rateEnd == 0 {
			rateEnd = rateStart
		}

		yieldLP := PeriodShareYield(b.events, sharesStart, rateStart, rateEnd, bar.start, bar.end)
		out.BackstopYield += yieldLP * lpPriceEnd

		if er, ok, err := pc.svc.snapshots.GetEmissionRates(ctx, b.pool, ""); err == nil && ok && rewardPrice > 0 {
			lpStart := view[startPrev].LPValue
			rewardTokens := lpStart * er.SupplyPerTokenDay * float64(days)
			for _, e := range b.events {
				if e.Date.Before(bar.start) || e.Date.After(bar.end) {
					continue
				}
				remaining := float64(diffDays(e.Date, bar.end))
				switch e.Action {
				case types.ActionBackstopDeposit:
					rewardTokens += e.LPTokens * er.SupplyPerTokenDay * remaining
				case types.ActionBackstopWithdraw:
					rewardTokens -= e.LPTokens * er.SupplyPerTokenDay * remaining
				}
			}
			if rewardTokens > 0 {
				out.RewardYieldBackstop += rewardTokens * rewardPrice
			}
		}
	}

	out.Total = out.SupplyYield + out.RewardYieldSupply +
		out.BackstopYield + out.RewardYieldBackstop +
		out.BorrowInterestCost + out.RewardYieldBorrow +
		out.PriceChange

	return out
}

// liveStartBalances blends the start-of-day rate captured at the timezone
// boundary with the last recorded raw token amounts. Falls back to the
// carried-forward series values when no boundary rate exists.
func (pc *periodContext) liveStartBalances(ctx context.Context, p positionData, start types.DateKey, supplyFallback, debtFallback float64) (float64, float64) {
	rate, ok, err := pc.svc.snapshots.GetRateAtStartOfDay(ctx, p.key.PoolID, p.key.AssetAddress, start)
	if err != nil || !ok {
		return supplyFallback, debtFallback
	}

	startPrev := start.AddDays(-1)
	var last *models.BalanceSnapshot
	for i := range p.history.Snapshots {
		s := p.history.Snapshots[i]
		if s.Date.After(startPrev) {
			break
		}
		last = &p.history.Snapshots[i]
	}
	if last == nil {
		return supplyFallback, debtFallback
	}

	supply := (last.SupplyRaw + last.CollateralRaw) * rate.BRate
	debt := last.DebtRaw * rate.DRate
	return supply, debt
}
