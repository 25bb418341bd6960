package repository

import (
	"context"

	"golang-leverage-trader/internal/entity"
	"golang-leverage-trader/internal/trader/dto"
)

// StrategyOracle produces candidate strategies and execution advice. The
// orchestrator treats it as an opaque scoring oracle.
type StrategyOracle interface {
	GenerateCandidate(ctx context.Context, symbol string, snapshot *dto.MarketSnapshot, openPositions []dto.Position) (*dto.Strategy, error)
	OptimizeCandidate(ctx context.Context, candidate *dto.Strategy, openPositions []dto.Position) (*dto.Strategy, *dto.RiskHints, error)
	GenerateExecutionPlan(ctx context.Context, strategy *dto.Strategy, snapshot *dto.MarketSnapshot) (*dto.ExecutionPlan, error)
}

// ExchangeGateway is the futures exchange collaborator. Reads are idempotent;
// writes are at-most-once from the caller's perspective.
type ExchangeGateway interface {
	GetMarketSnapshot(ctx context.Context, symbol string) (*dto.MarketSnapshot, error)
	PlaceOrder(ctx context.Context, spec dto.OrderSpec) (*dto.OrderResult, error)
	ClosePosition(ctx context.Context, symbol string, direction dto.Direction, quantity float64) (*dto.OrderResult, error)
	ListPositions(ctx context.Context) ([]dto.Position, error)
	SubscribePriceTicks(ctx context.Context, symbol string) (<-chan dto.PriceTick, error)
	Unsubscribe(symbol string)
}

// BalanceReader reports the available wallet balance used for sizing.
type BalanceReader interface {
	GetAvailableBalance(ctx context.Context) (float64, error)
}

// AuditLogRepository is the append-only store for pipeline audit entries.
type AuditLogRepository interface {
	Append(ctx context.Context, entry *entity.AuditLogEntry) error
	ReadAll(ctx context.Context) ([]entity.AuditLogEntry, error)
}

// PositionSnapshotRepository persists position state at open and close.
type PositionSnapshotRepository interface {
	Create(ctx context.Context, snapshot *entity.PositionSnapshot) error
	ReadAll(ctx context.Context) ([]entity.PositionSnapshot, error)
}

// TradeEventPublisher pushes trade events to the dashboard event stream.
type TradeEventPublisher interface {
	Publish(ctx context.Context, event dto.TradeEvent) error
}
