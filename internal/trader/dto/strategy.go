package dto

import "time"

type Direction string

const (
	DirectionLong  Direction = "long"
	DirectionShort Direction = "short"
)

type StopLossKind string

const (
	StopLossFixed    StopLossKind = "fixed"
	StopLossTrailing StopLossKind = "trailing"
)

type TakeProfitKind string

const (
	TakeProfitFixed   TakeProfitKind = "fixed"
	TakeProfitPartial TakeProfitKind = "partial"
)

// StopLossSpec describes how the protective stop for a strategy behaves.
type StopLossSpec struct {
	Kind                StopLossKind `json:"kind"`
	Percentage          float64      `json:"percentage"`
	TrailingDistancePct float64      `json:"trailing_distance_pct,omitempty"`
}

// TakeProfitSpec describes the profit target for a strategy.
type TakeProfitSpec struct {
	Kind       TakeProfitKind `json:"kind"`
	Percentage float64        `json:"percentage"`
}

// Strategy is a candidate trade produced by the oracle. It is immutable once
// created; adjustments produce a new value via WithNotional.
type Strategy struct {
	Symbol     string         `json:"symbol"`
	Direction  Direction      `json:"direction"`
	EntryPrice float64        `json:"entry_price"`
	Leverage   float64        `json:"leverage"`
	Notional   float64        `json:"notional"`
	StopLoss   StopLossSpec   `json:"stop_loss"`
	TakeProfit TakeProfitSpec `json:"take_profit"`
	Confidence float64        `json:"confidence"`
	RiskScore  float64        `json:"risk_score"`
	Provenance string         `json:"provenance"`
	CreatedAt  time.Time      `json:"created_at"`
}

// WithNotional returns a copy of the strategy with a different notional size.
func (s Strategy) WithNotional(notional float64) Strategy {
	adjusted := s
	adjusted.Notional = notional
	return adjusted
}

// RiskHints carries the oracle's optimization commentary for a candidate.
type RiskHints struct {
	SuggestedLeverage float64  `json:"suggested_leverage"`
	SuggestedNotional float64  `json:"suggested_notional"`
	Warnings          []string `json:"warnings"`
}

// ExecutionPlan is the oracle's order-placement advice for an admitted strategy.
type ExecutionPlan struct {
	ShouldExecute bool     `json:"should_execute"`
	OrderKind     string   `json:"order_kind"`
	LimitPrice    *float64 `json:"limit_price,omitempty"`
	Reasoning     string   `json:"reasoning,omitempty"`
}
