package service

import (
	"context"
	"sync"

	"golang-leverage-trader/internal/entity"
	"golang-leverage-trader/internal/trader/dto"
)

// fakeExchange is an in-memory ExchangeGateway and BalanceReader used by the
// monitor and orchestrator tests.
type fakeExchange struct {
	mu sync.Mutex

	snapshot  *dto.MarketSnapshot
	balance   float64
	positions []dto.Position

	orders          []dto.OrderSpec
	placeOrderErrs  []error
	closeCalls      int
	closeFailsLeft  int
	subscribedTicks chan dto.PriceTick
}

func newFakeExchange() *fakeExchange {
	return &fakeExchange{
		snapshot: &dto.MarketSnapshot{Symbol: "BTCUSDT", LastPrice: 100, MarkPrice: 100},
		balance:  100000,
	}
}

func (f *fakeExchange) GetMarketSnapshot(ctx context.Context, symbol string) (*dto.MarketSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	snap := *f.snapshot
	snap.Symbol = symbol
	return &snap, nil
}

func (f *fakeExchange) PlaceOrder(ctx context.Context, spec dto.OrderSpec) (*dto.OrderResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.orders = append(f.orders, spec)
	if len(f.placeOrderErrs) > 0 {
		err := f.placeOrderErrs[0]
		f.placeOrderErrs = f.placeOrderErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	return &dto.OrderResult{OrderID: "1", Status: "FILLED", AvgPrice: f.snapshot.LastPrice, ExecutedQty: spec.Quantity}, nil
}

func (f *fakeExchange) ClosePosition(ctx context.Context, symbol string, direction dto.Direction, quantity float64) (*dto.OrderResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closeCalls++
	if f.closeFailsLeft > 0 {
		f.closeFailsLeft--
		return nil, context.DeadlineExceeded
	}
	return &dto.OrderResult{OrderID: "2", Status: "FILLED", ExecutedQty: quantity}, nil
}

func (f *fakeExchange) ListPositions(ctx context.Context) ([]dto.Position, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]dto.Position, len(f.positions))
	copy(out, f.positions)
	return out, nil
}

func (f *fakeExchange) SubscribePriceTicks(ctx context.Context, symbol string) (<-chan dto.PriceTick, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribedTicks = make(chan dto.PriceTick, 16)
	return f.subscribedTicks, nil
}

func (f *fakeExchange) Unsubscribe(symbol string) {}

func (f *fakeExchange) GetAvailableBalance(ctx context.Context) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.balance, nil
}

func (f *fakeExchange) placedOrders() []dto.OrderSpec {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]dto.OrderSpec, len(f.orders))
	copy(out, f.orders)
	return out
}

func (f *fakeExchange) closeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closeCalls
}

type fakeSnapshotRepo struct {
	mu        sync.Mutex
	snapshots []entity.PositionSnapshot
}

func (f *fakeSnapshotRepo) Create(ctx context.Context, snapshot *entity.PositionSnapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snapshots = append(f.snapshots, *snapshot)
	return nil
}

func (f *fakeSnapshotRepo) ReadAll(ctx context.Context) ([]entity.PositionSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]entity.PositionSnapshot, len(f.snapshots))
	copy(out, f.snapshots)
	return out, nil
}

func (f *fakeSnapshotRepo) created() []entity.PositionSnapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]entity.PositionSnapshot, len(f.snapshots))
	copy(out, f.snapshots)
	return out
}

type fakeAuditRepo struct {
	mu        sync.Mutex
	appended  []entity.AuditLogEntry
	persisted []entity.AuditLogEntry
}

func (f *fakeAuditRepo) Append(ctx context.Context, entry *entity.AuditLogEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.appended = append(f.appended, *entry)
	return nil
}

func (f *fakeAuditRepo) ReadAll(ctx context.Context) ([]entity.AuditLogEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]entity.AuditLogEntry, len(f.persisted))
	copy(out, f.persisted)
	return out, nil
}

func (f *fakeAuditRepo) entries() []entity.AuditLogEntry {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]entity.AuditLogEntry, len(f.appended))
	copy(out, f.appended)
	return out
}

type fakeEventPublisher struct {
	mu     sync.Mutex
	events []dto.TradeEvent
}

func (f *fakeEventPublisher) Publish(ctx context.Context, event dto.TradeEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return nil
}

func (f *fakeEventPublisher) published() []dto.TradeEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]dto.TradeEvent, len(f.events))
	copy(out, f.events)
	return out
}

type fakeNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (f *fakeNotifier) SendMessage(text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, text)
	return nil
}

func (f *fakeNotifier) sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.messages))
	copy(out, f.messages)
	return out
}
