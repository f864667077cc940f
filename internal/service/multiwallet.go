package service

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/backstop-dashboard/internal/logging"
	"github.com/backstop-dashboard/internal/models"
	"github.com/backstop-dashboard/internal/types"
)

// Multi-wallet aggregation fans the per-wallet period computation out
// concurrently and sums the USD fields. Wallets are independent: each
// branch reads immutable historical data and returns its own report, so the
// only synchronization is collecting results. A failed wallet excludes that
// wallet with a named omission; the combined report still covers the rest.

// GetPortfolioPnl computes one combined period report across wallets. The
// active-position filter in opts excludes an exited wallet's cost-basis and
// event contributions per (pool, asset) so closed positions cannot inflate
// the combined basis.
func (s *PnlService) GetPortfolioPnl(ctx context.Context, addresses []string, opts PeriodOptions) (*models.PeriodReport, error) {
	if len(addresses) == 0 {
		return nil, &types.ServiceError{
			Code:    "MISSING_PARAMETER",
			Message: "at least one wallet address is required",
		}
	}

	loc, err := s.location(opts.Timezone)
	if err != nil {
		return nil, err
	}
	today := types.NewDateKey(s.now(), loc)

	// Pin the window here so every wallet computes over identical boundaries
	if opts.To == "" {
		opts.To = today
	}
	if opts.From == "" {
		days := opts.Days
		if days <= 0 {
			days = s.cfg.DefaultRangeDays
		}
		opts.From = opts.To.AddDays(-(days - 1))
	}

	type result struct {
		address string
		report  *models.PeriodReport
		err     error
	}

	results := make([]result, len(addresses))
	var wg sync.WaitGroup
	for i, addr := range addresses {
		wg.Add(1)
		go func(i int, addr string) {
			defer wg.Done()
			report, err := s.GetPeriodPnl(ctx, addr, opts)
			results[i] = result{address: addr, report: report, err: err}
		}(i, addr)
	}
	wg.Wait()
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	combined := &models.PeriodReport{
		Granularity: types.GranularityDaily,
		Timezone:    loc.String(),
		Bars:        []models.PeriodBar{},
	}

	// Sum bars by period boundary: wallets whose history starts mid-window
	// contribute only to the bars they cover
	type barKey struct{ start, end types.DateKey }
	sums := map[barKey]*models.PeriodBar{}
	var keys []barKey

	failed := 0
	for _, r := range results {
		if r.err != nil {
			failed++
			logging.FromContext(ctx).WithError(r.err).WithField("address", r.address).Warn("Wallet excluded from portfolio aggregation")
			combined.Omissions = append(combined.Omissions, fmt.Sprintf("wallet %s excluded: computation failed", r.address))
			continue
		}
		combined.Granularity = r.report.Granularity
		combined.Omissions = append(combined.Omissions, r.report.Omissions...)

		for _, bar := range r.report.Bars {
			k := barKey{start: bar.PeriodStart, end: bar.PeriodEnd}
			acc, ok := sums[k]
			if !ok {
				acc = &models.PeriodBar{PeriodStart: bar.PeriodStart, PeriodEnd: bar.PeriodEnd}
				sums[k] = acc
				keys = append(keys, k)
			}
			acc.SupplyYield += bar.SupplyYield
			acc.RewardYieldSupply += bar.RewardYieldSupply
			acc.BackstopYield += bar.BackstopYield
			acc.RewardYieldBackstop += bar.RewardYieldBackstop
			acc.BorrowInterestCost += bar.BorrowInterestCost
			acc.RewardYieldBorrow += bar.RewardYieldBorrow
			acc.PriceChange += bar.PriceChange
			acc.Total += bar.Total
			acc.IsLive = acc.IsLive || bar.IsLive
		}
	}

	if failed == len(addresses) {
		return nil, fmt.Errorf("all %d wallets failed to compute", failed)
	}

	sort.Slice(keys, func(i, j int) bool { return keys[i].start.Before(keys[j].start) })
	for _, k := range keys {
		combined.Bars = append(combined.Bars, *sums[k])
	}

	return combined, nil
}
