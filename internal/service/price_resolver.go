package service

import (
	"context"
	"fmt"
	"sort"

	"github.com/backstop-dashboard/internal/models"
	"github.com/backstop-dashboard/internal/types"
)

// PriceStore is the repository surface the price resolver consumes
type PriceStore interface {
	GetHistoricalPrices(ctx context.Context, tokenAddress string, from, to types.DateKey) (map[types.DateKey]float64, error)
	GetHistoricalPricesBatch(ctx context.Context, tokenAddresses []string, from, to types.DateKey) (map[string]map[types.DateKey]float64, error)
}

// PriceResolver resolves (token, date) pairs to the best-known price.
// Resolution order for a past date: exact historical row, else forward-fill
// from the nearest earlier recorded date. The current day never forward-fills
// or interpolates; only the caller-supplied live price may stand in for it.
// When nothing is available the price is 0 with SourceMissing, and downstream
// consumers exclude the value instead of displaying it.
type PriceResolver struct {
	prices PriceStore
}

// NewPriceResolver creates a new price resolver
func NewPriceResolver(prices PriceStore) *PriceResolver {
	return &PriceResolver{prices: prices}
}

// PriceTable is a preloaded, immutable view of prices for a set of tokens
// over a date range. Loading once and resolving in memory keeps per-date
// lookups off the hot path of the daily sweep.
type PriceTable struct {
	today      types.DateKey
	historical map[string]map[types.DateKey]float64
	sorted     map[string][]types.DateKey // recorded dates per token, ascending
	live       map[string]float64
}

// LoadTable fetches historical prices for all tokens over [from, to] in one
// batch and attaches the caller-supplied live prices. today is the reference
// current day in the caller's timezone.
func (r *PriceResolver) LoadTable(ctx context.Context, tokens []string, from, to, today types.DateKey, livePrices map[string]float64) (*PriceTable, error) {
	historical, err := r.prices.GetHistoricalPricesBatch(ctx, tokens, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to load price table: %w", err)
	}
	return NewPriceTable(historical, livePrices, today), nil
}

// NewPriceTable builds a table from already-fetched data
func NewPriceTable(historical map[string]map[types.DateKey]float64, livePrices map[string]float64, today types.DateKey) *PriceTable {
	sorted := make(map[string][]types.DateKey, len(historical))
	for token, byDate := range historical {
		dates := make([]types.DateKey, 0, len(byDate))
		for d := range byDate {
			dates = append(dates, d)
		}
		sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })
		sorted[token] = dates
	}
	if livePrices == nil {
		livePrices = map[string]float64{}
	}
	return &PriceTable{
		today:      today,
		historical: historical,
		sorted:     sorted,
		live:       livePrices,
	}
}

// Resolve returns the best-known price for a token on a date
func (t *PriceTable) Resolve(tokenAddress string, date types.DateKey) models.PricePoint {
	point := models.PricePoint{TokenAddress: tokenAddress, Date: date}

	if byDate, ok := t.historical[tokenAddress]; ok {
		if price, ok := byDate[date]; ok && price > 0 {
			point.Price = price
			point.Source = types.SourceHistorical
			return point
		}
	}

	if date == t.today {
		// Current day: live fallback only, never forward-fill
		if live, ok := t.live[tokenAddress]; ok && live > 0 {
			point.Price = live
			point.Source = types.SourceLiveFallback
			return point
		}
		point.Source = types.SourceMissing
		return point
	}

	// Past date: forward-fill from the nearest earlier recorded date
	if dates, ok := t.sorted[tokenAddress]; ok && len(dates) > 0 {
		idx := sort.Search(len(dates), func(i int) bool { return dates[i].After(date) })
		if idx > 0 {
			point.Price = t.historical[tokenAddress][dates[idx-1]]
			point.Source = types.SourceHistorical
			return point
		}
	}

	if live, ok := t.live[tokenAddress]; ok && live > 0 {
		point.Price = live
		point.Source = types.SourceLiveFallback
		return point
	}

	point.Source = types.SourceMissing
	return point
}

// ResolveBatch resolves a set of (token, date) requests in one pass
func (t *PriceTable) ResolveBatch(requests []PriceRequest) map[PriceRequest]models.PricePoint {
	result := make(map[PriceRequest]models.PricePoint, len(requests))
	for _, req := range requests {
		result[req] = t.Resolve(req.TokenAddress, req.Date)
	}
	return result
}

// LivePrice returns the caller-supplied live price for a token, ok false
// when none was supplied.
func (t *PriceTable) LivePrice(tokenAddress string) (float64, bool) {
	p, ok := t.live[tokenAddress]
	return p, ok && p > 0
}

// Today returns the table's reference current day
func (t *PriceTable) Today() types.DateKey {
	return t.today
}

// PriceRequest is one (token, date) lookup
type PriceRequest struct {
	TokenAddress string
	Date         types.DateKey
}
