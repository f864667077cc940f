package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/backstop-dashboard/internal/models"
	"github.com/backstop-dashboard/internal/types"
)

// EventRepository reads the append-only protocol event store in ClickHouse.
// All amounts come back pre-scaled to underlying token units; raw integer
// amounts at asset-decimals scale stay inside the queries.
type EventRepository struct {
	db *ClickHouseDB
}

// NewEventRepository creates a new event repository
func NewEventRepository(db *ClickHouseDB) *EventRepository {
	return &EventRepository{db: db}
}

// GetUserActions returns the wallet's protocol events ordered by
// (timestamp, ledger_seq). A wallet with no events returns an empty slice,
// never an error.
func (r *EventRepository) GetUserActions(ctx context.Context, address string, filter models.ActionFilter) ([]models.Event, error) {
	var sb strings.Builder
	sb.WriteString(`
		SELECT pool_id, asset_address, action_type, timestamp, ledger_seq,
		       raw_amount,
		       toFloat64OrZero(raw_amount) / pow(10, asset_decimals) AS amount,
		       claim_amount, lp_tokens, shares, asset_symbol, asset_decimals
		FROM pool_events
		WHERE user_address = ?
	`)
	args := []interface{}{strings.ToLower(address)}

	if len(filter.ActionTypes) > 0 {
		placeholders := make([]string, len(filter.ActionTypes))
		for i, a := range filter.ActionTypes {
			placeholders[i] = "?"
			args = append(args, string(a))
		}
		sb.WriteString(fmt.Sprintf(" AND action_type IN (%s)", strings.Join(placeholders, ", ")))
	}
	if filter.PoolID != "" {
		sb.WriteString(" AND pool_id = ?")
		args = append(args, filter.PoolID)
	}
	if filter.AssetAddress != "" {
		sb.WriteString(" AND asset_address = ?")
		args = append(args, strings.ToLower(filter.AssetAddress))
	}
	if filter.From != nil {
		sb.WriteString(" AND timestamp >= ?")
		args = append(args, *filter.From)
	}
	if filter.To != nil {
		sb.WriteString(" AND timestamp < ?")
		args = append(args, *filter.To)
	}

	sb.WriteString(" ORDER BY timestamp ASC, ledger_seq ASC")
	if filter.Limit > 0 {
		sb.WriteString(" LIMIT ?")
		args = append(args, filter.Limit)
	}

	rows, err := r.db.Conn().Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query user actions: %w", err)
	}
	defer rows.Close()

	events := []models.Event{}
	for rows.Next() {
		var (
			e        models.Event
			action   string
			decimals uint8
		)
		if err := rows.Scan(
			&e.PoolID,
			&e.AssetAddress,
			&action,
			&e.Timestamp,
			&e.LedgerSeq,
			&e.RawAmount,
			&e.Amount,
			&e.ClaimAmount,
			&e.LPTokens,
			&e.Shares,
			&e.AssetSymbol,
			&decimals,
		); err != nil {
			return nil, fmt.Errorf("failed to scan event row: %w", err)
		}
		e.Action = types.ActionType(action)
		e.AssetDecimals = int(decimals)
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate event rows: %w", err)
	}

	return events, nil
}

// GetDepositEventsWithPrices returns the wallet's supply-side deposit and
// withdrawal events for one position, pre-joined with the historical price
// recorded for each event's calendar date in the caller's timezone. Events
// whose date has no price row come back with price 0; the accumulator
// decides how to treat them.
func (r *EventRepository) GetDepositEventsWithPrices(ctx context.Context, address, poolID, assetAddress string, loc *time.Location) ([]models.PricedEvent, error) {
	actions := []types.ActionType{
		types.ActionSupply, types.ActionSupplyCollateral,
		types.ActionWithdraw, types.ActionWithdrawCollateral,
	}
	return r.getPricedEvents(ctx, address, poolID, assetAddress, actions, loc)
}

// GetBorrowEventsWithPrices returns the wallet's borrow and repay events for
// one position, price-joined the same way as deposits. The cost-basis math
// is identical with the flow direction flipped.
func (r *EventRepository) GetBorrowEventsWithPrices(ctx context.Context, address, poolID, assetAddress string, loc *time.Location) ([]models.PricedEvent, error) {
	actions := []types.ActionType{types.ActionBorrow, types.ActionRepay}
	return r.getPricedEvents(ctx, address, poolID, assetAddress, actions, loc)
}

func (r *EventRepository) getPricedEvents(ctx context.Context, address, poolID, assetAddress string, actions []types.ActionType, loc *time.Location) ([]models.PricedEvent, error) {
	tz, err := tzLiteral(loc)
	if err != nil {
		return nil, err
	}

	placeholders := make([]string, len(actions))
	args := []interface{}{strings.ToLower(address), poolID, strings.ToLower(assetAddress)}
	for i, a := range actions {
		placeholders[i] = "?"
		args = append(args, string(a))
	}

	query := fmt.Sprintf(`
		SELECT e.timestamp, e.ledger_seq, e.action_type,
		       toFloat64OrZero(e.raw_amount) / pow(10, e.asset_decimals) AS tokens,
		       coalesce(p.price_usd, 0) AS price_usd
		FROM pool_events e
		LEFT JOIN daily_prices p
		    ON p.token_address = e.asset_address
		   AND p.price_date = toDate(e.timestamp, %[1]s)
		WHERE e.user_address = ?
		  AND e.pool_id = ?
		  AND e.asset_address = ?
		  AND e.action_type IN (%[2]s)
		ORDER BY e.timestamp ASC, e.ledger_seq ASC
	`, tz, strings.Join(placeholders, ", "))

	rows, err := r.db.Conn().Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query priced events: %w", err)
	}
	defer rows.Close()

	events := []models.PricedEvent{}
	for rows.Next() {
		var (
			e      models.PricedEvent
			action string
		)
		if err := rows.Scan(&e.Timestamp, &e.LedgerSeq, &action, &e.Tokens, &e.PriceUSD); err != nil {
			return nil, fmt.Errorf("failed to scan priced event row: %w", err)
		}
		e.Date = types.NewDateKey(e.Timestamp, loc)
		e.Action = types.ActionType(action)
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate priced event rows: %w", err)
	}

	return events, nil
}

// tzLiteral renders a location as a quoted ClickHouse timezone literal.
// toDate's timezone argument must be a constant expression, so it cannot be
// bound as a query parameter; the name is restricted to the IANA identifier
// charset before interpolation.
func tzLiteral(loc *time.Location) (string, error) {
	name := "UTC"
	if loc != nil && loc.String() != "" && loc.String() != "Local" {
		name = loc.String()
	}
	for _, c := range name {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9',
			c == '/', c == '_', c == '+', c == '-':
		default:
			return "", fmt.Errorf("invalid timezone name: %q", name)
		}
	}
	return "'" + name + "'", nil
}

// GetBackstopEvents returns the wallet's backstop share movements for one
// pool, each with the share rate observed at the event, ordered by
// (timestamp, ledger_seq). Queue and dequeue events are included; they move
// shares between buckets without changing the conserved total.
func (r *EventRepository) GetBackstopEvents(ctx context.Context, address, poolAddress string, loc *time.Location) ([]models.BackstopEvent, error) {
	query := `
		SELECT pool_id, timestamp, ledger_seq, action_type,
		       shares, lp_tokens, share_rate
		FROM pool_events
		WHERE user_address = ?
		  AND pool_id = ?
		  AND action_type IN (?, ?, ?, ?, ?)
		ORDER BY timestamp ASC, ledger_seq ASC
	`

	rows, err := r.db.Conn().Query(ctx, query,
		strings.ToLower(address),
		poolAddress,
		string(types.ActionBackstopDeposit),
		string(types.ActionBackstopWithdraw),
		string(types.ActionBackstopQueueWithdrawal),
		string(types.ActionBackstopDequeueWithdrawal),
		string(types.ActionBackstopClaim),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query backstop events: %w", err)
	}
	defer rows.Close()

	events := []models.BackstopEvent{}
	for rows.Next() {
		var (
			e      models.BackstopEvent
			action string
		)
		if err := rows.Scan(&e.PoolAddress, &e.Timestamp, &e.LedgerSeq, &action, &e.Shares, &e.LPTokens, &e.ShareRate); err != nil {
			return nil, fmt.Errorf("failed to scan backstop event row: %w", err)
		}
		e.Date = types.NewDateKey(e.Timestamp, loc)
		e.Action = types.ActionType(action)
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate backstop event rows: %w", err)
	}

	return events, nil
}
