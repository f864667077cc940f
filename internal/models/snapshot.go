package models

import (
	"github.com/backstop-dashboard/internal/types"
)

// BalanceSnapshot is a sparse point-in-time record of a lending position.
// One row exists per change, not per day; gaps are carried forward by the
// balance series builder. Raw token amounts convert to underlying units via
// the monotonically non-decreasing exchange rates: underlying = raw × rate.
type BalanceSnapshot struct {
	PoolID        string        `json:"poolId"`
	AssetAddress  string        `json:"assetAddress"`
	Date          types.DateKey `json:"snapshotDate"`
	LedgerSeq     uint64        `json:"ledgerSeq"`
	SupplyRaw     float64       `json:"supplyRawTokens"`
	CollateralRaw float64       `json:"collateralRawTokens"`
	DebtRaw       float64       `json:"debtRawTokens"`
	BRate         float64       `json:"bRate"`
	DRate         float64       `json:"dRate"`
}

// SupplyUnderlying returns the supply-side underlying token balance.
func (s BalanceSnapshot) SupplyUnderlying() float64 {
	return (s.SupplyRaw + s.CollateralRaw) * s.BRate
}

// DebtUnderlying returns the debt-side underlying token balance.
func (s BalanceSnapshot) DebtUnderlying() float64 {
	return s.DebtRaw * s.DRate
}

// BalanceHistory is the repository result for one (wallet, asset) pair.
type BalanceHistory struct {
	Snapshots      []BalanceSnapshot `json:"history"`
	FirstEventDate types.DateKey     `json:"firstEventDate"`
}

// BackstopSnapshot is the sparse record of a backstop position, denominated
// in pool shares. LPValue = Shares × ShareRate at snapshot time.
type BackstopSnapshot struct {
	PoolAddress string        `json:"poolAddress"`
	Date        types.DateKey `json:"snapshotDate"`
	LedgerSeq   uint64        `json:"ledgerSeq"`
	Shares      float64       `json:"shares"`
	QueuedShares float64      `json:"queuedShares"` // Q4W: queued but still earning
	ShareRate   float64       `json:"shareRate"`
}

// LPValue returns the LP-token value of the position (queued shares included,
// they keep earning until the withdrawal executes).
func (s BackstopSnapshot) LPValue() float64 {
	return (s.Shares + s.QueuedShares) * s.ShareRate
}

// RatePair is the exchange-rate pair captured at a start-of-day boundary.
type RatePair struct {
	BRate float64 `json:"bRate"`
	DRate float64 `json:"dRate"`
}

// PricePoint is a resolved (token, date) price.
type PricePoint struct {
	TokenAddress string            `json:"tokenAddress"`
	Date         types.DateKey     `json:"date"`
	Price        float64           `json:"price"`
	Source       types.PriceSource `json:"source"`
}

// Reliable reports whether USD values derived from this price can be shown.
func (p PricePoint) Reliable() bool {
	return p.Source != types.SourceMissing
}

// EmissionRate describes reward-token emissions for one position bucket, in
// reward tokens per held underlying token per day.
type EmissionRate struct {
	SupplyPerTokenDay float64 `json:"supplyPerTokenDay"`
	BorrowPerTokenDay float64 `json:"borrowPerTokenDay"`
	RewardToken       string  `json:"rewardToken"`
}
