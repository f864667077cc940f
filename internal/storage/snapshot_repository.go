package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/backstop-dashboard/internal/models"
	"github.com/backstop-dashboard/internal/types"
)

// SnapshotRepository reads the sparse balance snapshot stores. Snapshots
// exist only on change days; carrying balances across the gaps is the
// balance series builder's job, not a query concern.
type SnapshotRepository struct {
	db *ClickHouseDB
}

// NewSnapshotRepository creates a new snapshot repository
func NewSnapshotRepository(db *ClickHouseDB) *SnapshotRepository {
	return &SnapshotRepository{db: db}
}

// GetBalanceHistory returns the lending-position snapshots for one
// (wallet, pool, asset) triple in ascending date order, plus the wallet's
// first event date for that position, bucketed in the caller's timezone.
// A position with no snapshots returns an empty history.
func (r *SnapshotRepository) GetBalanceHistory(ctx context.Context, address, poolID, assetAddress string, loc *time.Location) (models.BalanceHistory, error) {
	query := `
		SELECT snapshot_date, ledger_seq,
		       supply_raw, collateral_raw, debt_raw, b_rate, d_rate
		FROM balance_snapshots
		WHERE user_address = ?
		  AND pool_id = ?
		  AND asset_address = ?
		ORDER BY snapshot_date ASC, ledger_seq ASC
	`

	rows, err := r.db.Conn().Query(ctx, query,
		strings.ToLower(address), poolID, strings.ToLower(assetAddress))
	if err != nil {
		return models.BalanceHistory{}, fmt.Errorf("failed to query balance history: %w", err)
	}
	defer rows.Close()

	history := models.BalanceHistory{Snapshots: []models.BalanceSnapshot{}}
	for rows.Next() {
		var (
			s    models.BalanceSnapshot
			date time.Time
		)
		if err := rows.Scan(&date, &s.LedgerSeq, &s.SupplyRaw, &s.CollateralRaw, &s.DebtRaw, &s.BRate, &s.DRate); err != nil {
			return models.BalanceHistory{}, fmt.Errorf("failed to scan snapshot row: %w", err)
		}
		s.PoolID = poolID
		s.AssetAddress = assetAddress
		s.Date = types.NewDateKey(date, time.UTC)
		history.Snapshots = append(history.Snapshots, s)
	}
	if err := rows.Err(); err != nil {
		return models.BalanceHistory{}, fmt.Errorf("failed to iterate snapshot rows: %w", err)
	}

	firstEvent, err := r.firstEventDate(ctx, address, poolID, assetAddress, loc)
	if err != nil {
		return models.BalanceHistory{}, err
	}
	history.FirstEventDate = firstEvent

	return history, nil
}

func (r *SnapshotRepository) firstEventDate(ctx context.Context, address, poolID, assetAddress string, loc *time.Location) (types.DateKey, error) {
	query := `
		SELECT min(timestamp)
		FROM pool_events
		WHERE user_address = ?
		  AND pool_id = ?
		  AND asset_address = ?
	`

	var ts time.Time
	row := r.db.Conn().QueryRow(ctx, query,
		strings.ToLower(address), poolID, strings.ToLower(assetAddress))
	if err := row.Scan(&ts); err != nil {
		return "", fmt.Errorf("failed to query first event date: %w", err)
	}
	if ts.IsZero() || ts.Year() <= 1970 {
		return "", nil
	}
	return types.NewDateKey(ts, loc), nil
}

// GetBackstopBalanceHistory returns the backstop snapshots for one
// (wallet, pool) pair in ascending date order.
func (r *SnapshotRepository) GetBackstopBalanceHistory(ctx context.Context, address, poolAddress string) ([]models.BackstopSnapshot, error) {
	query := `
		SELECT snapshot_date, ledger_seq, shares, queued_shares, share_rate
		FROM backstop_snapshots
		WHERE user_address = ?
		  AND pool_address = ?
		ORDER BY snapshot_date ASC, ledger_seq ASC
	`

	rows, err := r.db.Conn().Query(ctx, query, strings.ToLower(address), poolAddress)
	if err != nil {
		return nil, fmt.Errorf("failed to query backstop history: %w", err)
	}
	defer rows.Close()

	snapshots := []models.BackstopSnapshot{}
	for rows.Next() {
		var (
			s    models.BackstopSnapshot
			date time.Time
		)
		if err := rows.Scan(&date, &s.LedgerSeq, &s.Shares, &s.QueuedShares, &s.ShareRate); err != nil {
			return nil, fmt.Errorf("failed to scan backstop snapshot row: %w", err)
		}
		s.PoolAddress = poolAddress
		s.Date = types.NewDateKey(date, time.UTC)
		snapshots = append(snapshots, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate backstop snapshot rows: %w", err)
	}

	return snapshots, nil
}

// GetRateAtStartOfDay returns the exchange-rate pair recorded at the
// start-of-day boundary for a (pool, asset) pair. When the exact date is
// missing it falls back to the most recent earlier rate; rates are
// monotonically non-decreasing so an earlier rate only understates interest,
// never fabricates it. ok is false when no rate exists at or before the date.
func (r *SnapshotRepository) GetRateAtStartOfDay(ctx context.Context, poolID, assetAddress string, date types.DateKey) (models.RatePair, bool, error) {
	query := `
		SELECT b_rate, d_rate
		FROM daily_rates
		WHERE pool_id = ?
		  AND asset_address = ?
		  AND rate_date <= ?
		ORDER BY rate_date DESC
		LIMIT 1
	`

	dateT, err := date.Time(time.UTC)
	if err != nil {
		return models.RatePair{}, false, fmt.Errorf("invalid rate date: %w", err)
	}

	rows, err := r.db.Conn().Query(ctx, query, poolID, strings.ToLower(assetAddress), dateT)
	if err != nil {
		return models.RatePair{}, false, fmt.Errorf("failed to query daily rate: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return models.RatePair{}, false, rows.Err()
	}

	var pair models.RatePair
	if err := rows.Scan(&pair.BRate, &pair.DRate); err != nil {
		return models.RatePair{}, false, fmt.Errorf("failed to scan daily rate: %w", err)
	}
	return pair, true, nil
}

// GetBackstopShareRateAtStartOfDay returns the backstop share rate recorded
// at the start-of-day boundary for a pool, with the same
// most-recent-earlier fallback as lending rates.
func (r *SnapshotRepository) GetBackstopShareRateAtStartOfDay(ctx context.Context, poolAddress string, date types.DateKey) (float64, bool, error) {
	query := `
		SELECT share_rate
		FROM daily_rates
		WHERE pool_id = ?
		  AND asset_address = ''
		  AND rate_date <= ?
		ORDER BY rate_date DESC
		LIMIT 1
	`

	dateT, err := date.Time(time.UTC)
	if err != nil {
		return 0, false, fmt.Errorf("invalid rate date: %w", err)
	}

	rows, err := r.db.Conn().Query(ctx, query, poolAddress, dateT)
	if err != nil {
		return 0, false, fmt.Errorf("failed to query backstop share rate: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return 0, false, rows.Err()
	}

	var rate float64
	if err := rows.Scan(&rate); err != nil {
		return 0, false, fmt.Errorf("failed to scan backstop share rate: %w", err)
	}
	return rate, true, nil
}

// GetEmissionRates returns the current reward-token emission rates per
// position bucket.
func (r *SnapshotRepository) GetEmissionRates(ctx context.Context, poolID, assetAddress string) (models.EmissionRate, bool, error) {
	query := `
		SELECT supply_per_token_day, borrow_per_token_day, reward_token
		FROM emission_rates
		WHERE pool_id = ?
		  AND asset_address = ?
		ORDER BY updated_at DESC
		LIMIT 1
	`

	rows, err := r.db.Conn().Query(ctx, query, poolID, strings.ToLower(assetAddress))
	if err != nil {
		return models.EmissionRate{}, false, fmt.Errorf("failed to query emission rates: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return models.EmissionRate{}, false, rows.Err()
	}

	var rate models.EmissionRate
	if err := rows.Scan(&rate.SupplyPerTokenDay, &rate.BorrowPerTokenDay, &rate.RewardToken); err != nil {
		return models.EmissionRate{}, false, fmt.Errorf("failed to scan emission rate: %w", err)
	}
	return rate, true, nil
}
