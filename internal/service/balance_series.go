package service

import (
	"sort"

	"github.com/backstop-dashboard/internal/models"
	"github.com/backstop-dashboard/internal/types"
)

// Balance series building: sparse snapshots become a dense daily series in a
// single forward sweep. Snapshots are sorted once; a cursor advances past
// every snapshot dated at or before the current date and the last one wins.
// Dates before the first snapshot resolve to zero. O(snapshots + dates).

// sortSnapshots orders snapshots ascending by (date, ledgerSeq) so that the
// later entry in ledger order wins a same-date tie.
func sortSnapshots(snapshots []models.BalanceSnapshot) []models.BalanceSnapshot {
	sorted := make([]models.BalanceSnapshot, len(snapshots))
	copy(sorted, snapshots)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Date != sorted[j].Date {
			return sorted[i].Date.Before(sorted[j].Date)
		}
		return sorted[i].LedgerSeq < sorted[j].LedgerSeq
	})
	return sorted
}

// BuildSupplyDailySeries returns the supply-side underlying token balance for
// every date in dateRange, carrying the last known snapshot forward across
// gaps.
func BuildSupplyDailySeries(snapshots []models.BalanceSnapshot, dateRange []types.DateKey) map[types.DateKey]float64 {
	return buildDailySeries(snapshots, dateRange, models.BalanceSnapshot.SupplyUnderlying)
}

// BuildDebtDailySeries is the borrow-side analog of BuildSupplyDailySeries.
func BuildDebtDailySeries(snapshots []models.BalanceSnapshot, dateRange []types.DateKey) map[types.DateKey]float64 {
	return buildDailySeries(snapshots, dateRange, models.BalanceSnapshot.DebtUnderlying)
}

func buildDailySeries(snapshots []models.BalanceSnapshot, dateRange []types.DateKey, value func(models.BalanceSnapshot) float64) map[types.DateKey]float64 {
	series := make(map[types.DateKey]float64, len(dateRange))
	if len(dateRange) == 0 {
		return series
	}

	sorted := sortSnapshots(snapshots)

	cursor := 0
	current := 0.0
	for _, date := range dateRange {
		for cursor < len(sorted) && !sorted[cursor].Date.After(date) {
			current = value(sorted[cursor])
			cursor++
		}
		series[date] = current
	}
	return series
}

// BackstopDailyPoint is one date of the reconciled backstop series
type BackstopDailyPoint struct {
	Shares    float64 // held + queued, the conserved quantity
	ShareRate float64
	LPValue   float64
}

// BuildBackstopDailySeries carries backstop snapshots forward the same way.
// Queued (Q4W) shares are included in the conserved total since they keep
// earning until the withdrawal executes.
func BuildBackstopDailySeries(snapshots []models.BackstopSnapshot, dateRange []types.DateKey) map[types.DateKey]BackstopDailyPoint {
	series := make(map[types.DateKey]BackstopDailyPoint, len(dateRange))
	if len(dateRange) == 0 {
		return series
	}

	sorted := make([]models.BackstopSnapshot, len(snapshots))
	copy(sorted, snapshots)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Date != sorted[j].Date {
			return sorted[i].Date.Before(sorted[j].Date)
		}
		return sorted[i].LedgerSeq < sorted[j].LedgerSeq
	})

	cursor := 0
	var current BackstopDailyPoint
	for _, date := range dateRange {
		for cursor < len(sorted) && !sorted[cursor].Date.After(date) {
			s := sorted[cursor]
			current = BackstopDailyPoint{
				Shares:    s.Shares + s.QueuedShares,
				ShareRate: s.ShareRate,
				LPValue:   s.LPValue(),
			}
			cursor++
		}
		series[date] = current
	}
	return series
}
