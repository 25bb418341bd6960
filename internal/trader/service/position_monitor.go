package service

import (
	"context"
	"sync"
	"time"

	"golang-leverage-trader/internal/entity"
	"golang-leverage-trader/internal/trader/config"
	"golang-leverage-trader/internal/trader/dto"
	"golang-leverage-trader/internal/trader/repository"
	"golang-leverage-trader/pkg/common"
	"golang-leverage-trader/pkg/logger"
	"golang-leverage-trader/pkg/telegram"
)

type MonitorState string

const (
	MonitorStateActive  MonitorState = "active"
	MonitorStateClosing MonitorState = "closing"
	MonitorStateClosed  MonitorState = "closed"
)

const (
	CloseReasonStopLoss   = "stop_loss"
	CloseReasonTakeProfit = "take_profit"
	CloseReasonExternal   = "external"
)

// PositionMonitor supervises one open position: it consumes price ticks,
// evaluates stop and target triggers, tightens a trailing stop, and
// periodically reconciles against the authoritative exchange position list.
// All tick processing for a symbol happens on a single goroutine, so the
// trigger state machine never races against itself.
type PositionMonitor struct {
	cfg          *config.Config
	logger       *logger.Logger
	riskEngine   RiskEngine
	exchange     repository.ExchangeGateway
	snapshotRepo repository.PositionSnapshotRepository
	events       repository.TradeEventPublisher
	notifier     telegram.Notifier

	mu          sync.RWMutex
	position    dto.Position
	state       MonitorState
	closeReason string

	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}

	// onClosed lets the orchestrator drop the monitor from the active set.
	onClosed func(symbol string)
}

// NewPositionMonitor creates a monitor for a freshly opened position.
func NewPositionMonitor(
	cfg *config.Config,
	log *logger.Logger,
	riskEngine RiskEngine,
	exchange repository.ExchangeGateway,
	snapshotRepo repository.PositionSnapshotRepository,
	events repository.TradeEventPublisher,
	notifier telegram.Notifier,
	position dto.Position,
	onClosed func(symbol string),
) *PositionMonitor {
	return &PositionMonitor{
		cfg:          cfg,
		logger:       log,
		riskEngine:   riskEngine,
		exchange:     exchange,
		snapshotRepo: snapshotRepo,
		events:       events,
		notifier:     notifier,
		position:     position,
		state:        MonitorStateActive,
		stopCh:       make(chan struct{}),
		done:         make(chan struct{}),
		onClosed:     onClosed,
	}
}

// Position returns a copy of the supervised position.
func (m *PositionMonitor) Position() dto.Position {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.position
}

// State returns the monitor's lifecycle state.
func (m *PositionMonitor) State() MonitorState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Stop halts the monitor's subscription and timers without closing the
// position. Safe to call more than once.
func (m *PositionMonitor) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
}

// Done is closed when the monitor's loop has exited.
func (m *PositionMonitor) Done() <-chan struct{} {
	return m.done
}

// Run drives the monitor loop until the position closes or the monitor is
// stopped. It owns the price subscription and the reconciliation ticker.
func (m *PositionMonitor) Run(ctx context.Context) {
	defer close(m.done)

	symbol := m.Position().Symbol
	defer m.exchange.Unsubscribe(symbol)

	ticks, err := m.exchange.SubscribePriceTicks(ctx, symbol)
	if err != nil {
		m.logger.Error("Failed to subscribe to price ticks",
			logger.StringField("symbol", symbol), logger.ErrorField(err))
		return
	}

	reconcile := time.NewTicker(m.cfg.Monitor.ReconcileInterval)
	defer reconcile.Stop()

	m.logger.Info("Position monitor started",
		logger.StringField("symbol", symbol),
		logger.Float64Field("entry_price", m.Position().EntryPrice),
		logger.Float64Field("stop_price", m.Position().StopPrice),
		logger.Float64Field("take_profit_price", m.Position().TakeProfitPrice),
	)

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			m.logger.Info("Position monitor stopped, position left open",
				logger.StringField("symbol", symbol))
			return
		case tick, ok := <-ticks:
			if !ok {
				return
			}
			m.handleTick(ctx, tick)
		case <-reconcile.C:
			m.reconcile(ctx)
		}
		if m.State() == MonitorStateClosed {
			return
		}
	}
}

// handleTick updates the position with the new price and evaluates triggers.
// The stop is checked before the target: when a gapped price crosses both
// levels at once, capital preservation wins over profit-taking.
func (m *PositionMonitor) handleTick(ctx context.Context, tick dto.PriceTick) {
	m.mu.Lock()
	if m.state == MonitorStateClosed {
		m.mu.Unlock()
		return
	}

	m.position.CurrentPrice = tick.Price
	m.position.UpdatedAt = tick.Timestamp
	m.position.UnrealizedPnLPct = m.riskEngine.ComputePnLPercent(
		m.position.EntryPrice, tick.Price, m.position.Notional, m.position.Leverage, m.position.Direction)

	pos := m.position
	state := m.state
	m.mu.Unlock()

	// A monitor stuck in Closing retries the close on every tick until a
	// submission succeeds or reconciliation resolves it.
	if state == MonitorStateClosing {
		m.attemptClose(ctx, m.pendingCloseReason())
		return
	}

	if m.riskEngine.ShouldTriggerStop(pos.CurrentPrice, pos.StopPrice, pos.Direction) {
		m.logger.Info("Stop triggered",
			logger.StringField("symbol", pos.Symbol),
			logger.Float64Field("price", pos.CurrentPrice),
			logger.Float64Field("stop_price", pos.StopPrice),
		)
		m.attemptClose(ctx, CloseReasonStopLoss)
		return
	}

	if m.riskEngine.ShouldTriggerTarget(pos.CurrentPrice, pos.TakeProfitPrice, pos.Direction) {
		m.logger.Info("Target triggered",
			logger.StringField("symbol", pos.Symbol),
			logger.Float64Field("price", pos.CurrentPrice),
			logger.Float64Field("take_profit_price", pos.TakeProfitPrice),
		)
		m.attemptClose(ctx, CloseReasonTakeProfit)
		return
	}

	if pos.TrailingStop && pos.UnrealizedPnLPct >= m.cfg.Monitor.TrailingActivationPct {
		m.tightenTrailingStop(pos)
	}
}

// tightenTrailingStop replaces the stored stop only when the re-anchored
// value is strictly tighter in the position's favor. The stop never loosens.
func (m *PositionMonitor) tightenTrailingStop(pos dto.Position) {
	distance := pos.TrailingDistance
	if distance <= 0 {
		distance = m.cfg.Monitor.TrailingDistancePct
	}
	if distance <= 0 {
		return
	}
	newStop := m.riskEngine.ComputeTrailingStop(pos.CurrentPrice, pos.Direction, distance)

	tighter := newStop > pos.StopPrice
	if pos.Direction == dto.DirectionShort {
		tighter = newStop < pos.StopPrice
	}
	if !tighter {
		return
	}

	m.mu.Lock()
	m.position.StopPrice = newStop
	m.mu.Unlock()

	m.logger.Debug("Trailing stop tightened",
		logger.StringField("symbol", pos.Symbol),
		logger.Float64Field("stop_price", newStop),
	)
}

// attemptClose submits a reduce-only close for the full position. A failed
// submission leaves the monitor in Closing; the next tick or reconciliation
// pass retries.
func (m *PositionMonitor) attemptClose(ctx context.Context, reason string) {
	m.mu.Lock()
	if m.state == MonitorStateClosed {
		m.mu.Unlock()
		return
	}
	m.state = MonitorStateClosing
	if m.closeReason == "" {
		m.closeReason = reason
	}
	reason = m.closeReason
	pos := m.position
	m.mu.Unlock()

	quantity := pos.Notional / pos.EntryPrice
	if _, err := m.exchange.ClosePosition(ctx, pos.Symbol, pos.Direction, quantity); err != nil {
		m.logger.Error("Close order submission failed, will retry",
			logger.StringField("symbol", pos.Symbol),
			logger.StringField("reason", reason),
			logger.ErrorField(err),
		)
		return
	}

	m.finalizeClose(ctx, pos.CurrentPrice, reason)
}

func (m *PositionMonitor) pendingCloseReason() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closeReason != "" {
		return m.closeReason
	}
	return CloseReasonStopLoss
}

// reconcile re-reads the authoritative position list. When the position has
// disappeared upstream (closed externally, liquidated) the monitor
// transitions to Closed without issuing a close order.
func (m *PositionMonitor) reconcile(ctx context.Context) {
	if m.State() == MonitorStateClosed {
		return
	}

	pos := m.Position()
	positions, err := m.exchange.ListPositions(ctx)
	if err != nil {
		m.logger.Error("Reconciliation failed",
			logger.StringField("symbol", pos.Symbol), logger.ErrorField(err))
		return
	}

	for _, p := range positions {
		if p.Symbol == pos.Symbol {
			// Still open upstream. A monitor in Closing uses the pass to
			// retry the pending close.
			if m.State() == MonitorStateClosing {
				m.attemptClose(ctx, m.pendingCloseReason())
			}
			return
		}
	}

	m.logger.Warn("Position absent on exchange, closing monitor",
		logger.StringField("symbol", pos.Symbol))
	m.finalizeClose(ctx, pos.CurrentPrice, CloseReasonExternal)
}

// finalizeClose transitions to Closed exactly once, feeds the realized
// result into the daily counter, persists the final snapshot, and notifies.
func (m *PositionMonitor) finalizeClose(ctx context.Context, exitPrice float64, reason string) {
	m.mu.Lock()
	if m.state == MonitorStateClosed {
		m.mu.Unlock()
		return
	}
	m.state = MonitorStateClosed
	m.position.RealizedPnLPct = m.riskEngine.ComputePnLPercent(
		m.position.EntryPrice, exitPrice, m.position.Notional, m.position.Leverage, m.position.Direction)
	pos := m.position
	m.mu.Unlock()

	m.riskEngine.UpdateDailyPnL(pos.RealizedPnLPct)

	closedAt := time.Now().UTC()
	if err := m.snapshotRepo.Create(ctx, &entity.PositionSnapshot{
		PositionID:      pos.ID,
		Symbol:          pos.Symbol,
		Direction:       string(pos.Direction),
		EntryPrice:      pos.EntryPrice,
		ExitPrice:       exitPrice,
		Notional:        pos.Notional,
		Leverage:        pos.Leverage,
		RealizedPnLPct:  pos.RealizedPnLPct,
		StopPrice:       pos.StopPrice,
		TakeProfitPrice: pos.TakeProfitPrice,
		CloseReason:     reason,
		OpenedAt:        pos.OpenedAt,
		ClosedAt:        closedAt,
	}); err != nil {
		m.logger.Error("Failed to persist close snapshot",
			logger.StringField("symbol", pos.Symbol), logger.ErrorField(err))
	}

	if err := m.events.Publish(ctx, dto.TradeEvent{
		Type:       common.TradeEventPositionClosed,
		Symbol:     pos.Symbol,
		PnLPct:     pos.RealizedPnLPct,
		Reason:     reason,
		OccurredAt: closedAt,
	}); err != nil {
		m.logger.Error("Failed to publish close event",
			logger.StringField("symbol", pos.Symbol), logger.ErrorField(err))
	}

	if m.notifier != nil {
		if err := m.notifier.SendMessage(telegram.FormatPositionClosedMessage(pos, reason)); err != nil {
			m.logger.Error("Failed to send close notification",
				logger.StringField("symbol", pos.Symbol), logger.ErrorField(err))
		}
	}

	m.logger.Info("Position closed",
		logger.StringField("symbol", pos.Symbol),
		logger.StringField("reason", reason),
		logger.Float64Field("realized_pnl_pct", pos.RealizedPnLPct),
	)

	if m.onClosed != nil {
		m.onClosed(pos.Symbol)
	}
}
