package models

import (
	"time"

	"github.com/backstop-dashboard/internal/types"
)

// Event represents a single on-chain protocol action for a wallet. Events are
// immutable and append-only; ordering key is (Timestamp, LedgerSeq).
type Event struct {
	PoolID       string           `json:"poolId"`
	AssetAddress string           `json:"assetAddress,omitempty"` // empty for backstop events
	Action       types.ActionType `json:"actionType"`
	Timestamp    time.Time        `json:"timestamp"`
	LedgerSeq    uint64           `json:"ledgerSeq"`
	RawAmount    string           `json:"rawAmount,omitempty"` // integer at asset-decimals scale
	Amount       float64          `json:"amount"`              // underlying token units
	ClaimAmount  float64          `json:"claimAmount,omitempty"`
	LPTokens     float64          `json:"lpTokens,omitempty"`
	Shares       float64          `json:"shares,omitempty"`
	AssetSymbol  string           `json:"assetSymbol,omitempty"`
	AssetDecimals int             `json:"assetDecimals,omitempty"`
}

// PositionKey returns the (pool, asset) bucket this event belongs to.
func (e Event) PositionKey() types.PositionKey {
	return types.PositionKey{PoolID: e.PoolID, AssetAddress: e.AssetAddress}
}

// PricedEvent is a pre-joined event + historical-price view used by the
// cost-basis accumulator. Tokens is in underlying units; PriceUSD is the
// historical price recorded for the event's calendar date.
type PricedEvent struct {
	Timestamp time.Time        `json:"timestamp"`
	LedgerSeq uint64           `json:"ledgerSeq"`
	Date      types.DateKey    `json:"date"`
	Action    types.ActionType `json:"actionType"`
	Tokens    float64          `json:"tokens"`
	PriceUSD  float64          `json:"priceUsd"`
}

// BackstopEvent is a backstop share movement with the share rate observed at
// the event. Shares are the conserved accounting quantity; LPTokens is the
// rate-dependent equivalent recorded for display only.
type BackstopEvent struct {
	PoolAddress string           `json:"poolAddress"`
	Timestamp   time.Time        `json:"timestamp"`
	LedgerSeq   uint64           `json:"ledgerSeq"`
	Date        types.DateKey    `json:"date"`
	Action      types.ActionType `json:"actionType"`
	Shares      float64          `json:"shares"`
	LPTokens    float64          `json:"lpTokens"`
	ShareRate   float64          `json:"shareRate"`
}

// ActionFilter narrows a GetUserActions query.
type ActionFilter struct {
	ActionTypes  []types.ActionType
	PoolID       string
	AssetAddress string
	From         *time.Time
	To           *time.Time
	Limit        int
}
