// Package types provides common type definitions for the lending dashboard system.
package types

import (
	"fmt"
	"time"
)

// ActionType represents the kind of on-chain protocol event
type ActionType string

const (
	// ActionSupply represents a supply of assets into a lending pool
	ActionSupply ActionType = "supply"
	// ActionSupplyCollateral represents a supply posted as collateral
	ActionSupplyCollateral ActionType = "supply_collateral"
	// ActionWithdraw represents a withdrawal of supplied assets
	ActionWithdraw ActionType = "withdraw"
	// ActionWithdrawCollateral represents a withdrawal of collateral
	ActionWithdrawCollateral ActionType = "withdraw_collateral"
	// ActionBorrow represents a borrow against collateral
	ActionBorrow ActionType = "borrow"
	// ActionRepay represents a repayment of borrowed assets
	ActionRepay ActionType = "repay"
	// ActionClaim represents a reward-token emission claim from lending
	ActionClaim ActionType = "claim"
	// ActionBackstopDeposit represents a deposit into the pool backstop
	ActionBackstopDeposit ActionType = "backstop_deposit"
	// ActionBackstopWithdraw represents an executed backstop withdrawal
	ActionBackstopWithdraw ActionType = "backstop_withdraw"
	// ActionBackstopQueueWithdrawal represents a queue-for-withdrawal (Q4W) request
	ActionBackstopQueueWithdrawal ActionType = "backstop_queue_withdrawal"
	// ActionBackstopDequeueWithdrawal represents a cancelled Q4W request
	ActionBackstopDequeueWithdrawal ActionType = "backstop_dequeue_withdrawal"
	// ActionBackstopClaim represents a reward-token emission claim from the backstop
	ActionBackstopClaim ActionType = "backstop_claim"
)

// IsDeposit reports whether the action adds principal to a lending position.
func (a ActionType) IsDeposit() bool {
	return a == ActionSupply || a == ActionSupplyCollateral
}

// IsWithdrawal reports whether the action removes principal from a lending position.
func (a ActionType) IsWithdrawal() bool {
	return a == ActionWithdraw || a == ActionWithdrawCollateral
}

// IsClaim reports whether the action is a reward-token claim.
func (a ActionType) IsClaim() bool {
	return a == ActionClaim || a == ActionBackstopClaim
}

// PriceSource indicates where a resolved price came from
type PriceSource string

const (
	// SourceHistorical means the price came from a recorded historical row
	SourceHistorical PriceSource = "historical"
	// SourceLiveFallback means the caller-supplied live price was substituted
	SourceLiveFallback PriceSource = "live-fallback"
	// SourceMissing means no price was available anywhere; the value is 0 and
	// downstream consumers must exclude rather than display it
	SourceMissing PriceSource = "missing"
)

// PositionKey identifies a lending or borrow position bucket. It is a value
// type usable directly as a map key, instead of a formatted composite string.
type PositionKey struct {
	PoolID       string `json:"poolId"`
	AssetAddress string `json:"assetAddress"`
}

func (k PositionKey) String() string {
	return fmt.Sprintf("%s/%s", k.PoolID, k.AssetAddress)
}

// DateKey is a calendar date in YYYY-MM-DD form. Keys compare
// chronologically under ordinary string comparison.
type DateKey string

// DateLayout is the wire format for all date fields.
const DateLayout = "2006-01-02"

// NewDateKey buckets an instant into a calendar date in the given location.
func NewDateKey(t time.Time, loc *time.Location) DateKey {
	if loc == nil {
		loc = time.UTC
	}
	return DateKey(t.In(loc).Format(DateLayout))
}

// ParseDateKey validates a YYYY-MM-DD string.
func ParseDateKey(s string) (DateKey, error) {
	if _, err := time.Parse(DateLayout, s); err != nil {
		return "", fmt.Errorf("invalid date %q: %w", s, err)
	}
	return DateKey(s), nil
}

// Time returns the start-of-day instant for the date in the given location.
func (d DateKey) Time(loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	return time.ParseInLocation(DateLayout, string(d), loc)
}

// AddDays returns the date shifted by n calendar days.
func (d DateKey) AddDays(n int) DateKey {
	t, err := d.Time(time.UTC)
	if err != nil {
		return d
	}
	return DateKey(t.AddDate(0, 0, n).Format(DateLayout))
}

// Before reports whether d is chronologically before other.
func (d DateKey) Before(other DateKey) bool { return string(d) < string(other) }

// After reports whether d is chronologically after other.
func (d DateKey) After(other DateKey) bool { return string(d) > string(other) }

// DateRange returns every calendar date from start through end inclusive.
// An inverted range yields nil.
func DateRange(start, end DateKey) []DateKey {
	if start == "" || end == "" || start.After(end) {
		return nil
	}
	startT, err := start.Time(time.UTC)
	if err != nil {
		return nil
	}
	endT, err := end.Time(time.UTC)
	if err != nil {
		return nil
	}
	days := int(endT.Sub(startT).Hours()/24) + 1
	out := make([]DateKey, 0, days)
	for d := start; !d.After(end); d = d.AddDays(1) {
		out = append(out, d)
	}
	return out
}

// Granularity represents the bar width of a period P&L report
type Granularity string

const (
	// GranularityDaily emits one bar per calendar day
	GranularityDaily Granularity = "daily"
	// GranularityMonthly emits one bar per calendar month
	GranularityMonthly Granularity = "monthly"
)

// YieldSource labels where realized yield came from
type YieldSource string

const (
	// YieldSourceLending is emission yield claimed from lending positions
	YieldSourceLending YieldSource = "lending"
	// YieldSourceBackstop is emission yield claimed from backstop positions
	YieldSourceBackstop YieldSource = "backstop"
)

// ServiceError represents a structured error response
type ServiceError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func (e *ServiceError) Error() string {
	return e.Message
}
