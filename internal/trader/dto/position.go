package dto

import "time"

// Position is a live leveraged position supervised by a monitor. It is
// mutated only by its owning monitor on each price tick.
type Position struct {
	ID               string    `json:"id"`
	Symbol           string    `json:"symbol"`
	Direction        Direction `json:"direction"`
	EntryPrice       float64   `json:"entry_price"`
	CurrentPrice     float64   `json:"current_price"`
	Notional         float64   `json:"notional"`
	Leverage         float64   `json:"leverage"`
	UnrealizedPnLPct float64   `json:"unrealized_pnl_pct"`
	RealizedPnLPct   float64   `json:"realized_pnl_pct"`
	StopPrice        float64   `json:"stop_price"`
	TakeProfitPrice  float64   `json:"take_profit_price"`
	TrailingStop     bool      `json:"trailing_stop"`
	TrailingDistance float64   `json:"trailing_distance_pct,omitempty"`
	OpenedAt         time.Time `json:"opened_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// PriceTick is one price update for a symbol from the exchange stream.
type PriceTick struct {
	Symbol    string    `json:"symbol"`
	Price     float64   `json:"price"`
	Timestamp time.Time `json:"timestamp"`
}

// TraderStatus is the dashboard-facing snapshot of the orchestrator.
type TraderStatus struct {
	Running         bool       `json:"running"`
	ActivePositions []Position `json:"active_positions"`
	DailyStats      DailyStats `json:"daily_stats"`
}
