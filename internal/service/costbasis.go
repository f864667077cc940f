package service

import (
	"sort"

	"github.com/backstop-dashboard/internal/models"
	"github.com/backstop-dashboard/internal/types"
)

// Average-cost accumulation over deposit/withdrawal (or borrow/repay)
// events. Every unit withdrawn removes cost at the running average entry
// price, so the remaining basis always reflects what was actually paid for
// what is still held. Events must be processed in (timestamp, ledgerSeq)
// order; the accumulator sorts explicitly rather than trusting storage
// order.

// CostBasisOptions configures one accumulation run
type CostBasisOptions struct {
	// Today is the reference current day. Deposits dated today use LivePrice
	// instead of their historical row: intraday noise on one day of price
	// granularity would otherwise inject spurious P&L.
	Today types.DateKey
	// LivePrice is the caller-supplied live price for the position's asset
	LivePrice float64
	// CurrentPrice backs the divide-by-zero guard on the average price
	CurrentPrice float64
}

// CostBasisState is the accumulated ledger as of some date
type CostBasisState struct {
	DepositedTokens  float64
	WithdrawnTokens  float64
	DepositedUSD     float64
	CostRemovedUSD   float64
	WeightedAvgPrice float64
	CostBasisUSD     float64
	NetTokens        float64
	// Flagged marks a state with no verifiable cost basis: negative net
	// tokens from data gaps, or deposits with no resolvable price.
	Flagged bool
}

type costBasisCheckpoint struct {
	date  types.DateKey
	state CostBasisState
}

// CostBasisSeries is the per-date view of an accumulation run. Checkpoints
// exist only on event dates; At samples with the same
// last-checkpoint-at-or-before rule as the balance series.
type CostBasisSeries struct {
	checkpoints []costBasisCheckpoint
}

// AccumulateCostBasis runs the average-cost method over the position's
// events. Direction is derived from the action: supply/borrow add principal,
// withdraw/repay remove it.
func AccumulateCostBasis(events []models.PricedEvent, opts CostBasisOptions) *CostBasisSeries {
	sorted := make([]models.PricedEvent, len(events))
	copy(sorted, events)
	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].Timestamp.Equal(sorted[j].Timestamp) {
			return sorted[i].Timestamp.Before(sorted[j].Timestamp)
		}
		return sorted[i].LedgerSeq < sorted[j].LedgerSeq
	})

	series := &CostBasisSeries{}
	var (
		depositedTokens float64
		withdrawnTokens float64
		depositedUSD    float64
		costRemovedUSD  float64
		flagged         bool
	)

	for _, e := range sorted {
		switch {
		case isDepositDirection(e.Action):
			price := e.PriceUSD
			if e.Date == opts.Today && opts.LivePrice > 0 {
				price = opts.LivePrice
			}
			if price <= 0 {
				// No resolvable price for this deposit: tokens still count
				// toward the position, the basis is unverifiable
				flagged = true
			}
			depositedTokens += e.Tokens
			depositedUSD += e.Tokens * price

		case isWithdrawalDirection(e.Action):
			avg := opts.CurrentPrice
			if depositedTokens > 0 {
				avg = depositedUSD / depositedTokens
			}
			withdrawnTokens += e.Tokens
			costRemovedUSD += e.Tokens * avg

		default:
			continue
		}

		state := buildState(depositedTokens, withdrawnTokens, depositedUSD, costRemovedUSD, opts.CurrentPrice, flagged)
		if n := len(series.checkpoints); n > 0 && series.checkpoints[n-1].date == e.Date {
			series.checkpoints[n-1].state = state
		} else {
			series.checkpoints = append(series.checkpoints, costBasisCheckpoint{date: e.Date, state: state})
		}
	}

	return series
}

func buildState(depositedTokens, withdrawnTokens, depositedUSD, costRemovedUSD, currentPrice float64, flagged bool) CostBasisState {
	state := CostBasisState{
		DepositedTokens: depositedTokens,
		WithdrawnTokens: withdrawnTokens,
		DepositedUSD:    depositedUSD,
		CostRemovedUSD:  costRemovedUSD,
		NetTokens:       depositedTokens - withdrawnTokens,
		Flagged:         flagged,
	}
	if depositedTokens > 0 {
		state.WeightedAvgPrice = depositedUSD / depositedTokens
	} else {
		state.WeightedAvgPrice = currentPrice
	}
	state.CostBasisUSD = depositedUSD - costRemovedUSD
	if state.NetTokens < 0 || state.CostBasisUSD < 0 {
		// Data gaps can leave more withdrawn than deposited; negative basis
		// is never propagated
		state.CostBasisUSD = 0
		state.Flagged = true
	}
	return state
}

// At returns the accumulated state as of the end of the given date
func (s *CostBasisSeries) At(date types.DateKey) CostBasisState {
	idx := sort.Search(len(s.checkpoints), func(i int) bool {
		return s.checkpoints[i].date.After(date)
	})
	if idx == 0 {
		return CostBasisState{}
	}
	return s.checkpoints[idx-1].state
}

// Final returns the state after all events
func (s *CostBasisSeries) Final() CostBasisState {
	if len(s.checkpoints) == 0 {
		return CostBasisState{}
	}
	return s.checkpoints[len(s.checkpoints)-1].state
}

func isDepositDirection(a types.ActionType) bool {
	return a.IsDeposit() || a == types.ActionBorrow || a == types.ActionBackstopDeposit
}

func isWithdrawalDirection(a types.ActionType) bool {
	return a.IsWithdrawal() || a == types.ActionRepay || a == types.ActionBackstopWithdraw
}
