package dto

import "time"

// MarketSnapshot is the per-symbol market state fed to the oracle each cycle.
type MarketSnapshot struct {
	Symbol      string    `json:"symbol"`
	LastPrice   float64   `json:"last_price"`
	MarkPrice   float64   `json:"mark_price"`
	High24h     float64   `json:"high_24h"`
	Low24h      float64   `json:"low_24h"`
	Volume24h   float64   `json:"volume_24h"`
	FundingRate float64   `json:"funding_rate"`
	Timestamp   time.Time `json:"timestamp"`
}

type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

type OrderType string

const (
	OrderTypeMarket OrderType = "MARKET"
	OrderTypeLimit  OrderType = "LIMIT"
	OrderTypeStop   OrderType = "STOP_MARKET"
	OrderTypeTarget OrderType = "TAKE_PROFIT_MARKET"
)

// OrderSpec describes one order submitted to the exchange gateway.
type OrderSpec struct {
	Symbol        string    `json:"symbol"`
	Side          OrderSide `json:"side"`
	Type          OrderType `json:"type"`
	Quantity      float64   `json:"quantity"`
	Price         float64   `json:"price,omitempty"`
	StopPrice     float64   `json:"stop_price,omitempty"`
	ReduceOnly    bool      `json:"reduce_only"`
	ClientOrderID string    `json:"client_order_id"`
}

// OrderResult is the exchange's acknowledgement of a submitted order.
type OrderResult struct {
	OrderID     string  `json:"order_id"`
	Status      string  `json:"status"`
	AvgPrice    float64 `json:"avg_price"`
	ExecutedQty float64 `json:"executed_qty"`
}

// TradeEvent is published to the trade-event stream for dashboard consumers.
type TradeEvent struct {
	Type       string    `json:"type"`
	Symbol     string    `json:"symbol"`
	PnLPct     float64   `json:"pnl_pct,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}
