package common

const (
	RedisStreamTradeEvents = "trader.trade.events"

	TradeEventCycleCompleted = "cycle.completed"
	TradeEventCycleRejected  = "cycle.rejected"
	TradeEventPositionOpened = "position.opened"
	TradeEventPositionClosed = "position.closed"
)
