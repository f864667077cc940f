package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/backstop-dashboard/internal/types"
)

// RatesRepository maintains the daily_rates table: one start-of-day
// exchange-rate row per (pool, asset) plus one share-rate row per backstop
// pool (asset_address = ''). The refresh worker calls RefreshDailyRates once
// per UTC day; re-running for the same day is harmless because the table
// deduplicates on (pool_id, asset_address, rate_date).
type RatesRepository struct {
	db *ClickHouseDB
}

// NewRatesRepository creates a new rates repository
func NewRatesRepository(db *ClickHouseDB) *RatesRepository {
	return &RatesRepository{db: db}
}

// RefreshDailyRates captures the latest observed rates for every known
// position bucket and backstop pool as that date's start-of-day rates.
// Source of truth is the snapshot stores; the latest snapshot at or before
// the boundary carries the correct rate because rates only move on chain
// activity that also writes a snapshot.
func (r *RatesRepository) RefreshDailyRates(ctx context.Context, date types.DateKey) error {
	dateT, err := date.Time(time.UTC)
	if err != nil {
		return fmt.Errorf("invalid refresh date: %w", err)
	}

	lendingQuery := `
		INSERT INTO daily_rates (pool_id, asset_address, rate_date, b_rate, d_rate, share_rate)
		SELECT pool_id, asset_address, ? AS rate_date,
		       argMax(b_rate, (snapshot_date, ledger_seq)) AS b_rate,
		       argMax(d_rate, (snapshot_date, ledger_seq)) AS d_rate,
		       0 AS share_rate
		FROM balance_snapshots
		WHERE snapshot_date < ?
		GROUP BY pool_id, asset_address
	`
	if err := r.db.Conn().Exec(ctx, lendingQuery, dateT, dateT.AddDate(0, 0, 1)); err != nil {
		return fmt.Errorf("failed to refresh lending rates: %w", err)
	}

	backstopQuery := `
		INSERT INTO daily_rates (pool_id, asset_address, rate_date, b_rate, d_rate, share_rate)
		SELECT pool_address AS pool_id, '' AS asset_address, ? AS rate_date,
		       0 AS b_rate, 0 AS d_rate,
		       argMax(share_rate, (snapshot_date, ledger_seq)) AS share_rate
		FROM backstop_snapshots
		WHERE snapshot_date < ?
		GROUP BY pool_address
	`
	if err := r.db.Conn().Exec(ctx, backstopQuery, dateT, dateT.AddDate(0, 0, 1)); err != nil {
		return fmt.Errorf("failed to refresh backstop share rates: %w", err)
	}

	return nil
}

// LatestRateDate returns the most recent date with refreshed rates, or ok
// false when the table is empty.
func (r *RatesRepository) LatestRateDate(ctx context.Context) (types.DateKey, bool, error) {
	query := `SELECT max(rate_date) FROM daily_rates`

	var date time.Time
	row := r.db.Conn().QueryRow(ctx, query)
	if err := row.Scan(&date); err != nil {
		return "", false, fmt.Errorf("failed to query latest rate date: %w", err)
	}
	if date.IsZero() || date.Year() <= 1970 {
		return "", false, nil
	}
	return types.NewDateKey(date, time.UTC), true, nil
}
