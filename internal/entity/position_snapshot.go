package entity

import "time"

// PositionSnapshot is the persisted record of a position at open and close.
type PositionSnapshot struct {
	ID               uint      `gorm:"primaryKey" json:"id"`
	PositionID       string    `gorm:"not null;index" json:"position_id"`
	Symbol           string    `gorm:"not null" json:"symbol"`
	Direction        string    `gorm:"not null" json:"direction"`
	EntryPrice       float64   `gorm:"not null" json:"entry_price"`
	ExitPrice        float64   `json:"exit_price"`
	Notional         float64   `gorm:"not null" json:"notional"`
	Leverage         float64   `gorm:"not null" json:"leverage"`
	RealizedPnLPct   float64   `json:"realized_pnl_pct"`
	StopPrice        float64   `json:"stop_price"`
	TakeProfitPrice  float64   `json:"take_profit_price"`
	CloseReason      string    `json:"close_reason"`
	OpenedAt         time.Time `gorm:"not null" json:"opened_at"`
	ClosedAt         time.Time `json:"closed_at"`
	CreatedAt        time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (PositionSnapshot) TableName() string {
	return "position_snapshots"
}
