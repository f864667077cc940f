package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/backstop-dashboard/internal/types"
)

// PriceRepository reads the historical daily price store. Prices are
// recorded once per (token, date); the price resolver layers live-fallback
// and missing-price policy on top of these raw reads.
type PriceRepository struct {
	db *ClickHouseDB
}

// NewPriceRepository creates a new price repository
func NewPriceRepository(db *ClickHouseDB) *PriceRepository {
	return &PriceRepository{db: db}
}

// GetHistoricalPrices returns the recorded daily prices for one token over
// an inclusive date range, keyed by date. Dates with no recorded price are
// simply absent from the map.
func (r *PriceRepository) GetHistoricalPrices(ctx context.Context, tokenAddress string, from, to types.DateKey) (map[types.DateKey]float64, error) {
	fromT, err := from.Time(time.UTC)
	if err != nil {
		return nil, fmt.Errorf("invalid from date: %w", err)
	}
	toT, err := to.Time(time.UTC)
	if err != nil {
		return nil, fmt.Errorf("invalid to date: %w", err)
	}

	query := `
		SELECT price_date, price_usd
		FROM daily_prices
		WHERE token_address = ?
		  AND price_date >= ?
		  AND price_date <= ?
		ORDER BY price_date ASC
	`

	rows, err := r.db.Conn().Query(ctx, query, strings.ToLower(tokenAddress), fromT, toT)
	if err != nil {
		return nil, fmt.Errorf("failed to query historical prices: %w", err)
	}
	defer rows.Close()

	prices := make(map[types.DateKey]float64)
	for rows.Next() {
		var (
			date  time.Time
			price float64
		)
		if err := rows.Scan(&date, &price); err != nil {
			return nil, fmt.Errorf("failed to scan price row: %w", err)
		}
		prices[types.NewDateKey(date, time.UTC)] = price
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate price rows: %w", err)
	}

	return prices, nil
}

// GetHistoricalPricesBatch returns daily prices for several tokens in one
// query, keyed by token address then date.
func (r *PriceRepository) GetHistoricalPricesBatch(ctx context.Context, tokenAddresses []string, from, to types.DateKey) (map[string]map[types.DateKey]float64, error) {
	result := make(map[string]map[types.DateKey]float64, len(tokenAddresses))
	if len(tokenAddresses) == 0 {
		return result, nil
	}

	fromT, err := from.Time(time.UTC)
	if err != nil {
		return nil, fmt.Errorf("invalid from date: %w", err)
	}
	toT, err := to.Time(time.UTC)
	if err != nil {
		return nil, fmt.Errorf("invalid to date: %w", err)
	}

	placeholders := make([]string, len(tokenAddresses))
	args := make([]interface{}, 0, len(tokenAddresses)+2)
	for i, addr := range tokenAddresses {
		placeholders[i] = "?"
		args = append(args, strings.ToLower(addr))
	}
	args = append(args, fromT, toT)

	query := fmt.Sprintf(`
		SELECT token_address, price_date, price_usd
		FROM daily_prices
		WHERE token_address IN (%s)
		  AND price_date >= ?
		  AND price_date <= ?
		ORDER BY token_address, price_date ASC
	`, strings.Join(placeholders, ", "))

	rows, err := r.db.Conn().Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query price batch: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			token string
			date  time.Time
			price float64
		)
		if err := rows.Scan(&token, &date, &price); err != nil {
			return nil, fmt.Errorf("failed to scan price batch row: %w", err)
		}
		if result[token] == nil {
			result[token] = make(map[types.DateKey]float64)
		}
		result[token][types.NewDateKey(date, time.UTC)] = price
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate price batch rows: %w", err)
	}

	return result, nil
}
