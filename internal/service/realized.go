package service

import (
	"fmt"
	"sort"
	"time"

	"github.com/backstop-dashboard/internal/models"
	"github.com/backstop-dashboard/internal/types"
)

// Realized yield aggregation. Reward-token claims are pure summation: each
// claim contributes claimAmount × priceAtClaimDate to its date bucket and
// the cumulative series is a running sum. No cost-basis logic applies;
// claims are always counted as profit in full.

// RealizedOutcome is the aggregation result before response assembly
type RealizedOutcome struct {
	Transactions     []models.ClaimTransaction
	CumulativeByDate []models.CumulativePoint
	TotalUSD         float64
	TotalsByPool     map[string]float64
	TotalsBySource   map[types.YieldSource]float64
	Omissions        []string
}

// AggregateRealizedYield values each claim event at its claim-date price for
// the reward token. Claims whose date has no resolvable price are listed as
// unreliable transactions, excluded from every total, and named in
// Omissions.
func AggregateRealizedYield(claims []models.Event, table *PriceTable, rewardToken string, loc *time.Location) RealizedOutcome {
	sorted := make([]models.Event, len(claims))
	copy(sorted, claims)
	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].Timestamp.Equal(sorted[j].Timestamp) {
			return sorted[i].Timestamp.Before(sorted[j].Timestamp)
		}
		return sorted[i].LedgerSeq < sorted[j].LedgerSeq
	})

	outcome := RealizedOutcome{
		Transactions:   []models.ClaimTransaction{},
		TotalsByPool:   map[string]float64{},
		TotalsBySource: map[types.YieldSource]float64{},
	}

	byDate := map[types.DateKey]float64{}
	var dates []types.DateKey

	for _, e := range sorted {
		if !e.Action.IsClaim() || e.ClaimAmount <= 0 {
			continue
		}

		date := types.NewDateKey(e.Timestamp, loc)
		point := table.Resolve(rewardToken, date)

		source := types.YieldSourceLending
		if e.Action == types.ActionBackstopClaim {
			source = types.YieldSourceBackstop
		}

		tx := models.ClaimTransaction{
			PoolID:   e.PoolID,
			Source:   source,
			Token:    rewardToken,
			Date:     date,
			Tokens:   e.ClaimAmount,
			ValueUSD: e.ClaimAmount * point.Price,
			Reliable: point.Reliable(),
		}
		outcome.Transactions = append(outcome.Transactions, tx)

		if !tx.Reliable {
			outcome.Omissions = append(outcome.Omissions,
				fmt.Sprintf("claim on %s in pool %s excluded: no price for reward token", date, e.PoolID))
			continue
		}

		outcome.TotalUSD += tx.ValueUSD
		outcome.TotalsByPool[e.PoolID] += tx.ValueUSD
		outcome.TotalsBySource[source] += tx.ValueUSD

		if _, seen := byDate[date]; !seen {
			dates = append(dates, date)
		}
		byDate[date] += tx.ValueUSD
	}

	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })
	running := 0.0
	for _, d := range dates {
		running += byDate[d]
		outcome.CumulativeByDate = append(outcome.CumulativeByDate, models.CumulativePoint{
			Date:     d,
			TotalUSD: running,
		})
	}

	return outcome
}

// RealizedTotalAsOf returns the cumulative realized yield up to and
// including a date. The cumulative series is sorted, so the last point at
// or before the date carries the total.
func RealizedTotalAsOf(cumulative []models.CumulativePoint, date types.DateKey) float64 {
	idx := sort.Search(len(cumulative), func(i int) bool {
		return cumulative[i].Date.After(date)
	})
	if idx == 0 {
		return 0
	}
	return cumulative[idx-1].TotalUSD
}
