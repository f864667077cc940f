package models

import (
	"github.com/backstop-dashboard/internal/types"
)

// DailyPnlPoint is one day of the reconstructed P&L series. For every point
// TotalPnl = UnrealizedPnl + RealizedPnl and
// UnrealizedPnl = LendingUnrealizedPnl + BackstopUnrealizedPnl.
type DailyPnlPoint struct {
	Date                  types.DateKey `json:"date"`
	PortfolioValue        float64       `json:"portfolioValue"`
	CostBasis             float64       `json:"costBasis"`
	UnrealizedPnl         float64       `json:"unrealizedPnl"`
	RealizedPnl           float64       `json:"realizedPnl"`
	TotalPnl              float64       `json:"totalPnl"`
	LendingValue          float64       `json:"lendingValue"`
	BackstopValue         float64       `json:"backstopValue"`
	LendingCostBasis      float64       `json:"lendingCostBasis"`
	BackstopCostBasis     float64       `json:"backstopCostBasis"`
	LendingUnrealizedPnl  float64       `json:"lendingUnrealizedPnl"`
	BackstopUnrealizedPnl float64       `json:"backstopUnrealizedPnl"`
}

// PeriodBar is one bar of the period P&L breakdown. Computed on demand and
// never persisted; immutable once emitted. BorrowInterestCost is reported
// ≤ 0 (a cost); RewardYieldBorrow is reported ≥ 0.
type PeriodBar struct {
	PeriodStart        types.DateKey `json:"periodStart"`
	PeriodEnd          types.DateKey `json:"periodEnd"`
	SupplyYield        float64       `json:"supplyYield"`
	RewardYieldSupply  float64       `json:"rewardYieldSupply"`
	BackstopYield      float64       `json:"backstopYield"`
	RewardYieldBackstop float64      `json:"rewardYieldBackstop"`
	BorrowInterestCost float64       `json:"borrowInterestCost"`
	RewardYieldBorrow  float64       `json:"rewardYieldBorrow"`
	PriceChange        float64       `json:"priceChange"`
	Total              float64       `json:"total"`
	IsLive             bool          `json:"isLive"`
}

// PeriodReport is the period-bar response for one wallet or an aggregate.
type PeriodReport struct {
	Address     string            `json:"address,omitempty"`
	Granularity types.Granularity `json:"granularity"`
	Timezone    string            `json:"timezone"`
	Bars        []PeriodBar       `json:"bars"`
	Omissions   []string          `json:"omissions,omitempty"`
	Cached      bool              `json:"cached,omitempty"`
}

// DailyPnlReport is the daily-series response.
type DailyPnlReport struct {
	Address   string          `json:"address,omitempty"`
	Timezone  string          `json:"timezone"`
	Points    []DailyPnlPoint `json:"points"`
	Omissions []string        `json:"omissions,omitempty"`
}

// ClaimTransaction is one reward claim valued at its claim-date price.
type ClaimTransaction struct {
	PoolID   string            `json:"poolId"`
	Source   types.YieldSource `json:"source"`
	Token    string            `json:"token"`
	Date     types.DateKey     `json:"date"`
	Tokens   float64           `json:"tokens"`
	ValueUSD float64           `json:"valueUsd"`
	Reliable bool              `json:"reliable"`
}

// RealizedYieldReport summarizes reward-token claims. Claims are always
// counted as profit in full; no cost-basis netting applies.
type RealizedYieldReport struct {
	Address          string                        `json:"address"`
	Transactions     []ClaimTransaction            `json:"transactions"`
	CumulativeByDate []CumulativePoint             `json:"cumulativeByDate"`
	TotalUSD         float64                       `json:"totalUsd"`
	TotalsByPool     map[string]float64            `json:"totalsByPool"`
	TotalsBySource   map[types.YieldSource]float64 `json:"totalsBySource"`
	Omissions        []string                      `json:"omissions,omitempty"`
}

// CumulativePoint is a running-sum sample of realized yield.
type CumulativePoint struct {
	Date     types.DateKey `json:"date"`
	TotalUSD float64       `json:"totalUsd"`
}

// CostBasisBreakdown is the per-position borrow (or supply) cost-basis view.
type CostBasisBreakdown struct {
	Position         types.PositionKey `json:"position"`
	DepositedTokens  float64           `json:"depositedTokens"`
	WithdrawnTokens  float64           `json:"withdrawnTokens"`
	DepositedUSD     float64           `json:"depositedUsd"`
	WeightedAvgPrice float64           `json:"weightedAvgPrice"`
	CostBasisUSD     float64           `json:"costBasisUsd"`
	NetTokens        float64           `json:"netTokens"`
	Flagged          bool              `json:"flagged,omitempty"`
}
