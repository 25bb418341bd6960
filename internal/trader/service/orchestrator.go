package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang-leverage-trader/internal/entity"
	"golang-leverage-trader/internal/trader/config"
	"golang-leverage-trader/internal/trader/dto"
	"golang-leverage-trader/internal/trader/repository"
	"golang-leverage-trader/pkg/common"
	"golang-leverage-trader/pkg/logger"
	"golang-leverage-trader/pkg/telegram"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"gorm.io/datatypes"
)

const (
	StageCollect = "collect"
	StageAssess  = "assess"
	StageExecute = "execute"
)

// Fallback protective distances for positions adopted from the exchange
// without a strategy of record.
const (
	adoptedStopPct   = 2.0
	adoptedTargetPct = 4.0
)

// Orchestrator drives the collect, assess, execute pipeline once per cycle
// and owns the live position monitors and the append-only audit log.
type Orchestrator struct {
	cfg          *config.Config
	logger       *logger.Logger
	riskEngine   RiskEngine
	oracle       repository.StrategyOracle
	exchange     repository.ExchangeGateway
	balance      repository.BalanceReader
	auditRepo    repository.AuditLogRepository
	snapshotRepo repository.PositionSnapshotRepository
	events       repository.TradeEventPublisher
	notifier     telegram.Notifier

	mu            sync.Mutex
	running       bool
	symbol        string
	monitors      map[string]*PositionMonitor
	memLog        []entity.AuditLogEntry
	cronRunner    *cron.Cron
	monitorCtx    context.Context
	monitorCancel context.CancelFunc

	cycleActive atomic.Bool
}

// NewOrchestrator wires the orchestrator with its collaborators.
func NewOrchestrator(
	cfg *config.Config,
	log *logger.Logger,
	riskEngine RiskEngine,
	oracle repository.StrategyOracle,
	exchange repository.ExchangeGateway,
	balance repository.BalanceReader,
	auditRepo repository.AuditLogRepository,
	snapshotRepo repository.PositionSnapshotRepository,
	events repository.TradeEventPublisher,
	notifier telegram.Notifier,
) *Orchestrator {
	return &Orchestrator{
		cfg:          cfg,
		logger:       log,
		riskEngine:   riskEngine,
		oracle:       oracle,
		exchange:     exchange,
		balance:      balance,
		auditRepo:    auditRepo,
		snapshotRepo: snapshotRepo,
		events:       events,
		notifier:     notifier,
		monitors:     make(map[string]*PositionMonitor),
	}
}

// Start transitions to Running, adopts any positions already open on the
// exchange, runs one cycle immediately, and arms the recurring timer when
// recurring mode is enabled. Starting an already-running orchestrator is a
// no-op.
func (o *Orchestrator) Start(ctx context.Context, symbol string) error {
	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		o.logger.Warn("Start requested but orchestrator already running")
		return nil
	}
	if symbol == "" {
		symbol = o.cfg.Trading.DefaultSymbol
	}
	o.running = true
	o.symbol = symbol
	o.monitorCtx, o.monitorCancel = context.WithCancel(context.Background())
	o.mu.Unlock()

	o.logger.Info("Orchestrator starting", logger.StringField("symbol", symbol))

	o.adoptOpenPositions(ctx)
	o.RunOneCycle(ctx, symbol)

	if o.cfg.Trading.Recurring && o.cfg.Trading.CycleCron != "" {
		runner := cron.New()
		if _, err := runner.AddFunc(o.cfg.Trading.CycleCron, func() {
			o.RunOneCycle(context.Background(), symbol)
		}); err != nil {
			o.Stop()
			return fmt.Errorf("invalid cycle cron expression: %w", err)
		}
		runner.Start()

		o.mu.Lock()
		o.cronRunner = runner
		o.mu.Unlock()
	}

	return nil
}

// Stop disarms the recurring timer and halts every monitor's subscription
// without closing positions, then transitions back to Idle. It does not wait
// for in-flight close orders.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if !o.running {
		o.mu.Unlock()
		return
	}
	o.running = false
	runner := o.cronRunner
	o.cronRunner = nil
	cancel := o.monitorCancel
	monitors := o.monitors
	o.monitors = make(map[string]*PositionMonitor)
	o.mu.Unlock()

	if runner != nil {
		runner.Stop()
	}
	for _, m := range monitors {
		m.Stop()
	}
	if cancel != nil {
		cancel()
	}

	o.logger.Info("Orchestrator stopped, open positions left on exchange",
		logger.IntField("monitors_halted", len(monitors)))
}

// Close releases the orchestrator. Implements a clean lifecycle for DI users.
func (o *Orchestrator) Close() {
	o.Stop()
}

// RunOneCycle executes a single collect, assess, execute pass. Only one
// cycle runs at a time; a request while one is active is dropped.
func (o *Orchestrator) RunOneCycle(ctx context.Context, symbol string) {
	if !o.cycleActive.CompareAndSwap(false, true) {
		o.logger.Warn("Cycle requested while another is active, skipping",
			logger.StringField("symbol", symbol))
		return
	}
	defer o.cycleActive.Store(false)

	defer func() {
		if r := recover(); r != nil {
			o.appendAudit(ctx, StageCollect, entity.AuditStatusError, nil, "",
				fmt.Sprintf("cycle panic: %v", r))
			o.logger.Error("Cycle panicked", logger.Field("panic", r))
		}
	}()

	if symbol == "" {
		symbol = o.cfg.Trading.DefaultSymbol
	}

	o.logger.Info("Cycle started", logger.StringField("symbol", symbol))
	o.runCycle(ctx, symbol)
}

func (o *Orchestrator) runCycle(ctx context.Context, symbol string) {
	// Stage 1: collect a candidate strategy from the oracle.
	snapshot, err := o.exchange.GetMarketSnapshot(ctx, symbol)
	if err != nil {
		o.appendAudit(ctx, StageCollect, entity.AuditStatusError, nil, "", err.Error())
		return
	}

	open := o.activePositions()

	candidate, err := o.oracle.GenerateCandidate(ctx, symbol, snapshot, open)
	if err != nil {
		if !errors.Is(err, repository.ErrMalformedOracleOutput) {
			o.appendAudit(ctx, StageCollect, entity.AuditStatusError, nil, "", err.Error())
			return
		}
		// Unparseable oracle output degrades to the deterministic minimal
		// strategy rather than aborting the cycle.
		candidate = repository.FallbackStrategy(o.cfg, symbol, snapshot)
		o.logger.Warn("Oracle output malformed, using fallback strategy",
			logger.StringField("symbol", symbol), logger.ErrorField(err))
	}
	o.appendAudit(ctx, StageCollect, entity.AuditStatusSuccess, candidate, StageAssess, "")

	// Stage 2: size against balance, optimize, and risk-assess.
	availableBalance, err := o.balance.GetAvailableBalance(ctx)
	if err != nil {
		o.appendAudit(ctx, StageAssess, entity.AuditStatusError, nil, "", err.Error())
		return
	}

	sizeCap := availableBalance * o.cfg.Trading.BalanceFraction
	sized := candidate.WithNotional(math.Min(candidate.Notional, sizeCap))

	optimized, hints, err := o.oracle.OptimizeCandidate(ctx, &sized, open)
	if err != nil {
		o.logger.Warn("Optimization failed, using unoptimized candidate", logger.ErrorField(err))
		optimized = &sized
		hints = &dto.RiskHints{}
	}

	assessment := o.riskEngine.AssessRisk(optimized, open)
	nextStage := StageExecute
	if assessment.Recommendation == dto.RecommendationReject {
		nextStage = ""
	}
	o.appendAudit(ctx, StageAssess, entity.AuditStatusSuccess, map[string]interface{}{
		"assessment": assessment,
		"hints":      hints,
		"balance":    availableBalance,
	}, nextStage, "")

	if assessment.Recommendation == dto.RecommendationReject {
		o.logger.Info("Candidate rejected",
			logger.StringField("symbol", symbol),
			logger.Field("reasons", assessment.Reasons),
		)
		o.publishEvent(ctx, dto.TradeEvent{
			Type:       common.TradeEventCycleRejected,
			Symbol:     symbol,
			Reason:     fmt.Sprintf("%v", assessment.Reasons),
			OccurredAt: time.Now().UTC(),
		})
		o.notify(telegram.FormatCycleRejectedMessage(symbol, assessment.Reasons))
		return
	}

	strategy := *optimized
	if assessment.Recommendation == dto.RecommendationReduceSize {
		strategy = strategy.WithNotional(strategy.Notional / 2)
		o.logger.Info("Position size halved on risk engine advice",
			logger.Float64Field("notional", strategy.Notional))
	}

	// Stage 3: execute. Logged independently so a failure here does not
	// erase stages 1-2 from the audit trail.
	if err := o.execute(ctx, &strategy, snapshot); err != nil {
		o.appendAudit(ctx, StageExecute, entity.AuditStatusError, strategy, "", err.Error())
		o.logger.Error("Execution failed", logger.StringField("symbol", symbol), logger.ErrorField(err))
		return
	}

	o.publishEvent(ctx, dto.TradeEvent{
		Type:       common.TradeEventCycleCompleted,
		Symbol:     symbol,
		OccurredAt: time.Now().UTC(),
	})
}

func (o *Orchestrator) execute(ctx context.Context, strategy *dto.Strategy, snapshot *dto.MarketSnapshot) error {
	plan, err := o.oracle.GenerateExecutionPlan(ctx, strategy, snapshot)
	if err != nil {
		return fmt.Errorf("failed to generate execution plan: %w", err)
	}
	if !plan.ShouldExecute {
		o.appendAudit(ctx, StageExecute, entity.AuditStatusSuccess, map[string]interface{}{
			"skipped": true,
			"plan":    plan,
		}, "", "")
		o.logger.Info("Execution plan advised skipping", logger.StringField("reason", plan.Reasoning))
		return nil
	}

	entryPrice := strategy.EntryPrice
	if entryPrice <= 0 {
		entryPrice = snapshot.LastPrice
	}

	side := dto.OrderSideBuy
	if strategy.Direction == dto.DirectionShort {
		side = dto.OrderSideSell
	}
	spec := dto.OrderSpec{
		Symbol:        strategy.Symbol,
		Side:          side,
		Type:          dto.OrderTypeMarket,
		Quantity:      strategy.Notional / entryPrice,
		ClientOrderID: "entry-" + uuid.NewString(),
	}
	if plan.OrderKind == "limit" && plan.LimitPrice != nil {
		spec.Type = dto.OrderTypeLimit
		spec.Price = *plan.LimitPrice
	}

	result, remediation, err := o.placeEntryOrder(ctx, spec)
	if err != nil {
		return fmt.Errorf("entry order failed: %w", err)
	}
	if result.AvgPrice > 0 {
		entryPrice = result.AvgPrice
	}

	stopPrice := o.riskEngine.ComputeStopPrice(entryPrice, strategy.Direction, strategy.StopLoss.Percentage)
	targetPrice := o.riskEngine.ComputeTargetPrice(entryPrice, strategy.Direction, strategy.TakeProfit.Percentage)

	protectiveErrs := o.placeProtectiveOrders(ctx, strategy, spec.Quantity, stopPrice, targetPrice)

	position := dto.Position{
		ID:               uuid.NewString(),
		Symbol:           strategy.Symbol,
		Direction:        strategy.Direction,
		EntryPrice:       entryPrice,
		CurrentPrice:     entryPrice,
		Notional:         strategy.Notional,
		Leverage:         strategy.Leverage,
		StopPrice:        stopPrice,
		TakeProfitPrice:  targetPrice,
		TrailingStop:     strategy.StopLoss.Kind == dto.StopLossTrailing,
		TrailingDistance: strategy.StopLoss.TrailingDistancePct,
		OpenedAt:         time.Now().UTC(),
		UpdatedAt:        time.Now().UTC(),
	}

	if err := o.snapshotRepo.Create(ctx, &entity.PositionSnapshot{
		PositionID:      position.ID,
		Symbol:          position.Symbol,
		Direction:       string(position.Direction),
		EntryPrice:      position.EntryPrice,
		Notional:        position.Notional,
		Leverage:        position.Leverage,
		StopPrice:       position.StopPrice,
		TakeProfitPrice: position.TakeProfitPrice,
		OpenedAt:        position.OpenedAt,
	}); err != nil {
		o.logger.Error("Failed to persist open snapshot", logger.ErrorField(err))
	}

	if err := o.spawnMonitor(position); err != nil {
		return err
	}

	o.appendAudit(ctx, StageExecute, entity.AuditStatusSuccess, map[string]interface{}{
		"order":            result,
		"position_id":      position.ID,
		"stop_price":       stopPrice,
		"target_price":     targetPrice,
		"remediation":      remediation,
		"protective_error": protectiveErrs,
	}, "", "")

	o.publishEvent(ctx, dto.TradeEvent{
		Type:       common.TradeEventPositionOpened,
		Symbol:     position.Symbol,
		OccurredAt: position.OpenedAt,
	})
	o.notify(telegram.FormatPositionOpenedMessage(position))

	return nil
}

// placeEntryOrder submits the order and applies one bounded remediation for
// the exchange error codes the gateway can explain: insufficient margin
// retries once at minimum size after re-checking balance, and a price
// precision rejection retries once with a coarser rounded price. The
// remediation taken, if any, is returned for the audit trail.
func (o *Orchestrator) placeEntryOrder(ctx context.Context, spec dto.OrderSpec) (*dto.OrderResult, string, error) {
	result, err := o.exchange.PlaceOrder(ctx, spec)
	if err == nil {
		return result, "", nil
	}

	var exchErr *repository.ExchangeError
	if !errors.As(err, &exchErr) {
		return nil, "", err
	}

	switch {
	case exchErr.IsInsufficientMargin():
		balance, balErr := o.balance.GetAvailableBalance(ctx)
		if balErr != nil || balance <= 0 {
			return nil, "", err
		}
		price := spec.Price
		if price <= 0 {
			snapshot, snapErr := o.exchange.GetMarketSnapshot(ctx, spec.Symbol)
			if snapErr != nil {
				return nil, "", err
			}
			price = snapshot.LastPrice
		}
		retry := spec
		retry.Quantity = o.cfg.Trading.MinNotional / price
		retry.ClientOrderID = "entry-retry-" + uuid.NewString()
		result, retryErr := o.exchange.PlaceOrder(ctx, retry)
		if retryErr != nil {
			return nil, "", retryErr
		}
		return result, "insufficient margin: retried once at minimum order size", nil

	case exchErr.IsPricePrecision():
		retry := spec
		retry.Price = math.Round(spec.Price*100) / 100
		retry.ClientOrderID = "entry-retry-" + uuid.NewString()
		result, retryErr := o.exchange.PlaceOrder(ctx, retry)
		if retryErr != nil {
			return nil, "", retryErr
		}
		return result, "price precision rejected: retried once with rounded price", nil
	}

	return nil, "", err
}

// placeProtectiveOrders submits the exchange-side stop and target orders.
// Failures are tolerated; the monitor enforces the same levels in software.
func (o *Orchestrator) placeProtectiveOrders(ctx context.Context, strategy *dto.Strategy, quantity, stopPrice, targetPrice float64) []string {
	closeSide := dto.OrderSideSell
	if strategy.Direction == dto.DirectionShort {
		closeSide = dto.OrderSideBuy
	}

	var failures []string
	if _, err := o.exchange.PlaceOrder(ctx, dto.OrderSpec{
		Symbol:        strategy.Symbol,
		Side:          closeSide,
		Type:          dto.OrderTypeStop,
		Quantity:      quantity,
		StopPrice:     stopPrice,
		ReduceOnly:    true,
		ClientOrderID: "stop-" + uuid.NewString(),
	}); err != nil {
		o.logger.Error("Failed to place protective stop order", logger.ErrorField(err))
		failures = append(failures, "stop: "+err.Error())
	}

	if _, err := o.exchange.PlaceOrder(ctx, dto.OrderSpec{
		Symbol:        strategy.Symbol,
		Side:          closeSide,
		Type:          dto.OrderTypeTarget,
		Quantity:      quantity,
		StopPrice:     targetPrice,
		ReduceOnly:    true,
		ClientOrderID: "target-" + uuid.NewString(),
	}); err != nil {
		o.logger.Error("Failed to place protective target order", logger.ErrorField(err))
		failures = append(failures, "target: "+err.Error())
	}
	return failures
}

// spawnMonitor registers and starts a monitor for a new position. At most
// one monitor exists per symbol; admission control prevents duplicates, and
// this guard catches programming errors.
func (o *Orchestrator) spawnMonitor(position dto.Position) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if _, exists := o.monitors[position.Symbol]; exists {
		return fmt.Errorf("monitor already exists for %s", position.Symbol)
	}
	if o.monitorCtx == nil {
		o.monitorCtx, o.monitorCancel = context.WithCancel(context.Background())
	}

	monitor := NewPositionMonitor(o.cfg, o.logger, o.riskEngine, o.exchange,
		o.snapshotRepo, o.events, o.notifier, position, o.removeMonitor)
	o.monitors[position.Symbol] = monitor
	go monitor.Run(o.monitorCtx)

	return nil
}

func (o *Orchestrator) removeMonitor(symbol string) {
	o.mu.Lock()
	delete(o.monitors, symbol)
	o.mu.Unlock()
}

// adoptOpenPositions spawns monitors for positions already open on the
// exchange, e.g. after a restart. Protective levels fall back to defaults
// since the original strategy is not on record.
func (o *Orchestrator) adoptOpenPositions(ctx context.Context) {
	positions, err := o.exchange.ListPositions(ctx)
	if err != nil {
		o.logger.Error("Failed to list positions for adoption", logger.ErrorField(err))
		return
	}

	for _, p := range positions {
		p.ID = uuid.NewString()
		p.StopPrice = o.riskEngine.ComputeStopPrice(p.EntryPrice, p.Direction, adoptedStopPct)
		p.TakeProfitPrice = o.riskEngine.ComputeTargetPrice(p.EntryPrice, p.Direction, adoptedTargetPct)
		p.OpenedAt = p.UpdatedAt

		if err := o.spawnMonitor(p); err != nil {
			o.logger.Warn("Skipping adoption", logger.StringField("symbol", p.Symbol), logger.ErrorField(err))
			continue
		}
		o.logger.Info("Adopted open position from exchange",
			logger.StringField("symbol", p.Symbol),
			logger.Float64Field("entry_price", p.EntryPrice),
		)
	}
}

func (o *Orchestrator) activePositions() []dto.Position {
	o.mu.Lock()
	defer o.mu.Unlock()

	positions := make([]dto.Position, 0, len(o.monitors))
	for _, m := range o.monitors {
		if m.State() != MonitorStateClosed {
			positions = append(positions, m.Position())
		}
	}
	return positions
}

// GetStatus reports the dashboard-facing orchestrator state.
func (o *Orchestrator) GetStatus() dto.TraderStatus {
	o.mu.Lock()
	running := o.running
	o.mu.Unlock()

	return dto.TraderStatus{
		Running:         running,
		ActivePositions: o.activePositions(),
		DailyStats:      o.riskEngine.DailyStats(),
	}
}

// GetHistory merges the in-memory entries for the current run with the
// persisted entries from prior runs, de-duplicated by timestamp identity and
// ordered newest first.
func (o *Orchestrator) GetHistory(ctx context.Context) ([]entity.AuditLogEntry, error) {
	o.mu.Lock()
	merged := make([]entity.AuditLogEntry, len(o.memLog))
	copy(merged, o.memLog)
	o.mu.Unlock()

	seen := make(map[int64]struct{}, len(merged))
	for _, e := range merged {
		seen[e.Timestamp.UnixNano()] = struct{}{}
	}

	persisted, err := o.auditRepo.ReadAll(ctx)
	if err != nil {
		o.logger.Error("Failed to read persisted audit log", logger.ErrorField(err))
	} else {
		for _, e := range persisted {
			if _, dup := seen[e.Timestamp.UnixNano()]; dup {
				continue
			}
			merged = append(merged, e)
		}
	}

	sort.Slice(merged, func(i, j int) bool {
		return merged[i].Timestamp.After(merged[j].Timestamp)
	})
	return merged, nil
}

// appendAudit records one stage outcome in memory and in the persistent
// store. Persistence failures are logged but never fail the cycle.
func (o *Orchestrator) appendAudit(ctx context.Context, stage, status string, payload interface{}, nextStage, errMsg string) {
	var payloadJSON []byte
	if payload != nil {
		var err error
		payloadJSON, err = json.Marshal(payload)
		if err != nil {
			o.logger.Error("Failed to marshal audit payload", logger.ErrorField(err))
			payloadJSON = nil
		}
	}

	entry := entity.AuditLogEntry{
		Stage:        stage,
		Status:       status,
		Payload:      datatypes.JSON(payloadJSON),
		NextStage:    nextStage,
		ErrorMessage: errMsg,
		Timestamp:    time.Now().UTC(),
	}

	o.mu.Lock()
	o.memLog = append(o.memLog, entry)
	o.mu.Unlock()

	if err := o.auditRepo.Append(ctx, &entry); err != nil {
		o.logger.Error("Failed to persist audit entry",
			logger.StringField("stage", stage), logger.ErrorField(err))
	}
}

func (o *Orchestrator) publishEvent(ctx context.Context, event dto.TradeEvent) {
	if o.events == nil {
		return
	}
	if err := o.events.Publish(ctx, event); err != nil {
		o.logger.Error("Failed to publish trade event", logger.ErrorField(err))
	}
}

func (o *Orchestrator) notify(message string) {
	if o.notifier == nil {
		return
	}
	if err := o.notifier.SendMessage(message); err != nil {
		o.logger.Error("Failed to send telegram notification", logger.ErrorField(err))
	}
}
