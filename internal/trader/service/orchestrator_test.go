package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"golang-leverage-trader/internal/entity"
	"golang-leverage-trader/internal/trader/dto"
	"golang-leverage-trader/internal/trader/repository"
	"golang-leverage-trader/pkg/common"
	"golang-leverage-trader/pkg/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeOracle struct {
	candidate    *dto.Strategy
	candidateErr error
	optimizeErr  error
	plan         *dto.ExecutionPlan
	planErr      error
}

func (f *fakeOracle) GenerateCandidate(ctx context.Context, symbol string, snapshot *dto.MarketSnapshot, openPositions []dto.Position) (*dto.Strategy, error) {
	if f.candidateErr != nil {
		return nil, f.candidateErr
	}
	candidate := *f.candidate
	return &candidate, nil
}

func (f *fakeOracle) OptimizeCandidate(ctx context.Context, candidate *dto.Strategy, openPositions []dto.Position) (*dto.Strategy, *dto.RiskHints, error) {
	if f.optimizeErr != nil {
		return nil, nil, f.optimizeErr
	}
	optimized := *candidate
	return &optimized, &dto.RiskHints{}, nil
}

func (f *fakeOracle) GenerateExecutionPlan(ctx context.Context, strategy *dto.Strategy, snapshot *dto.MarketSnapshot) (*dto.ExecutionPlan, error) {
	if f.planErr != nil {
		return nil, f.planErr
	}
	if f.plan != nil {
		return f.plan, nil
	}
	return &dto.ExecutionPlan{ShouldExecute: true, OrderKind: "market"}, nil
}

type orchestratorFixture struct {
	orchestrator *Orchestrator
	oracle       *fakeOracle
	exchange     *fakeExchange
	audit        *fakeAuditRepo
	snaps        *fakeSnapshotRepo
	events       *fakeEventPublisher
	notifier     *fakeNotifier
}

func newOrchestratorFixture() *orchestratorFixture {
	cfg := testConfig()
	f := &orchestratorFixture{
		oracle:   &fakeOracle{candidate: testCandidate()},
		exchange: newFakeExchange(),
		audit:    &fakeAuditRepo{},
		snaps:    &fakeSnapshotRepo{},
		events:   &fakeEventPublisher{},
		notifier: &fakeNotifier{},
	}
	f.orchestrator = NewOrchestrator(cfg, testLogger(), NewRiskEngine(&cfg.Risk),
		f.oracle, f.exchange, f.exchange, f.audit, f.snaps, f.events, f.notifier)
	return f
}

// stopMonitors halts any monitors a cycle spawned so their goroutines exit.
func (f *orchestratorFixture) stopMonitors() {
	f.orchestrator.mu.Lock()
	monitors := make([]*PositionMonitor, 0, len(f.orchestrator.monitors))
	for _, m := range f.orchestrator.monitors {
		monitors = append(monitors, m)
	}
	f.orchestrator.mu.Unlock()

	for _, m := range monitors {
		m.Stop()
		<-m.Done()
	}
}

func auditStages(entries []entity.AuditLogEntry) []string {
	stages := make([]string, len(entries))
	for i, e := range entries {
		stages[i] = e.Stage + ":" + e.Status
	}
	return stages
}

func TestRunOneCycle_ApprovedCandidateOpensPosition(t *testing.T) {
	f := newOrchestratorFixture()

	f.orchestrator.RunOneCycle(context.Background(), "BTCUSDT")

	orders := f.exchange.placedOrders()
	require.Len(t, orders, 3)
	assert.Equal(t, dto.OrderTypeMarket, orders[0].Type)
	assert.Equal(t, dto.OrderSideBuy, orders[0].Side)
	assert.Equal(t, dto.OrderTypeStop, orders[1].Type)
	assert.True(t, orders[1].ReduceOnly)
	assert.Equal(t, dto.OrderTypeTarget, orders[2].Type)

	assert.Equal(t, []string{
		"collect:success",
		"assess:success",
		"execute:success",
	}, auditStages(f.audit.entries()))

	events := f.events.published()
	require.Len(t, events, 2)
	assert.Equal(t, common.TradeEventPositionOpened, events[0].Type)
	assert.Equal(t, common.TradeEventCycleCompleted, events[1].Type)

	status := f.orchestrator.GetStatus()
	require.Len(t, status.ActivePositions, 1)
	assert.Equal(t, "BTCUSDT", status.ActivePositions[0].Symbol)
	assert.NotEmpty(t, f.notifier.sent())

	f.stopMonitors()
}

func TestRunOneCycle_RejectEndsPipeline(t *testing.T) {
	f := newOrchestratorFixture()
	f.oracle.candidate.Leverage = 20

	f.orchestrator.RunOneCycle(context.Background(), "BTCUSDT")

	assert.Empty(t, f.exchange.placedOrders())

	entries := f.audit.entries()
	require.Len(t, entries, 2)
	assert.Equal(t, StageAssess, entries[1].Stage)
	assert.Empty(t, entries[1].NextStage)

	events := f.events.published()
	require.Len(t, events, 1)
	assert.Equal(t, common.TradeEventCycleRejected, events[0].Type)
	assert.NotEmpty(t, f.notifier.sent())
}

func TestRunOneCycle_ReduceSizeHalvesNotional(t *testing.T) {
	f := newOrchestratorFixture()
	f.oracle.candidate.Leverage = 10
	f.oracle.candidate.Notional = 1000
	f.oracle.candidate.Confidence = 0.5
	f.oracle.candidate.RiskScore = 6

	f.orchestrator.RunOneCycle(context.Background(), "BTCUSDT")

	orders := f.exchange.placedOrders()
	require.NotEmpty(t, orders)
	// 1000 notional halved to 500 at entry price 100.
	assert.InDelta(t, 5.0, orders[0].Quantity, 0.0001)

	f.stopMonitors()
}

func TestRunOneCycle_SkipsWhileAnotherCycleActive(t *testing.T) {
	f := newOrchestratorFixture()
	f.orchestrator.cycleActive.Store(true)

	f.orchestrator.RunOneCycle(context.Background(), "BTCUSDT")

	assert.Empty(t, f.audit.entries())
	assert.Empty(t, f.exchange.placedOrders())
	assert.True(t, f.orchestrator.cycleActive.Load())
}

func TestRunOneCycle_MalformedOracleOutputUsesFallback(t *testing.T) {
	f := newOrchestratorFixture()
	f.oracle.candidateErr = fmt.Errorf("%w: not json", repository.ErrMalformedOracleOutput)

	f.orchestrator.RunOneCycle(context.Background(), "BTCUSDT")

	orders := f.exchange.placedOrders()
	require.NotEmpty(t, orders)
	// Minimum configured notional at the snapshot price.
	assert.InDelta(t, 1.0, orders[0].Quantity, 0.0001)

	events := f.events.published()
	require.Len(t, events, 2)
	assert.Equal(t, common.TradeEventPositionOpened, events[0].Type)

	f.stopMonitors()
}

func TestRunOneCycle_OracleFailureAbortsCycle(t *testing.T) {
	f := newOrchestratorFixture()
	f.oracle.candidateErr = fmt.Errorf("gemini unavailable")

	f.orchestrator.RunOneCycle(context.Background(), "BTCUSDT")

	assert.Empty(t, f.exchange.placedOrders())
	entries := f.audit.entries()
	require.Len(t, entries, 1)
	assert.Equal(t, entity.AuditStatusError, entries[0].Status)
}

func TestRunOneCycle_ExecuteFailureKeepsEarlierStages(t *testing.T) {
	f := newOrchestratorFixture()
	f.oracle.planErr = fmt.Errorf("plan generation failed")

	f.orchestrator.RunOneCycle(context.Background(), "BTCUSDT")

	assert.Equal(t, []string{
		"collect:success",
		"assess:success",
		"execute:error",
	}, auditStages(f.audit.entries()))
	assert.Empty(t, f.exchange.placedOrders())
}

func TestRunOneCycle_PlanAdvisesSkip(t *testing.T) {
	f := newOrchestratorFixture()
	f.oracle.plan = &dto.ExecutionPlan{ShouldExecute: false, Reasoning: "funding rate unfavorable"}

	f.orchestrator.RunOneCycle(context.Background(), "BTCUSDT")

	assert.Empty(t, f.exchange.placedOrders())
	entries := f.audit.entries()
	require.Len(t, entries, 3)
	assert.Equal(t, entity.AuditStatusSuccess, entries[2].Status)

	// A skipped plan still completes the cycle.
	events := f.events.published()
	require.Len(t, events, 1)
	assert.Equal(t, common.TradeEventCycleCompleted, events[0].Type)
}

func TestRunOneCycle_LimitPlanPlacesLimitEntry(t *testing.T) {
	f := newOrchestratorFixture()
	f.oracle.plan = &dto.ExecutionPlan{
		ShouldExecute: true,
		OrderKind:     "limit",
		LimitPrice:    utils.ToPointer(99.5),
	}

	f.orchestrator.RunOneCycle(context.Background(), "BTCUSDT")

	orders := f.exchange.placedOrders()
	require.NotEmpty(t, orders)
	assert.Equal(t, dto.OrderTypeLimit, orders[0].Type)
	assert.InDelta(t, 99.5, orders[0].Price, 0.0001)

	f.stopMonitors()
}

func TestGetHistory_MergesAndDeduplicatesNewestFirst(t *testing.T) {
	f := newOrchestratorFixture()

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	f.orchestrator.memLog = []entity.AuditLogEntry{
		{Stage: StageAssess, Status: entity.AuditStatusSuccess, Timestamp: base.Add(2 * time.Second)},
		{Stage: StageCollect, Status: entity.AuditStatusSuccess, Timestamp: base.Add(time.Second)},
	}
	f.audit.persisted = []entity.AuditLogEntry{
		// Same instant as an in-memory entry: the in-memory copy wins.
		{Stage: StageCollect, Status: entity.AuditStatusSuccess, Timestamp: base.Add(time.Second)},
		{Stage: StageExecute, Status: entity.AuditStatusError, Timestamp: base},
	}

	history, err := f.orchestrator.GetHistory(context.Background())
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, StageAssess, history[0].Stage)
	assert.Equal(t, StageCollect, history[1].Stage)
	assert.Equal(t, StageExecute, history[2].Stage)
}

func TestPlaceEntryOrder_InsufficientMarginRetriesAtMinimumSize(t *testing.T) {
	f := newOrchestratorFixture()
	f.exchange.placeOrderErrs = []error{
		&repository.ExchangeError{Code: -2019, Message: "Margin is insufficient."},
	}

	spec := dto.OrderSpec{
		Symbol:   "BTCUSDT",
		Side:     dto.OrderSideBuy,
		Type:     dto.OrderTypeMarket,
		Quantity: 50,
	}
	result, remediation, err := f.orchestrator.placeEntryOrder(context.Background(), spec)

	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Contains(t, remediation, "insufficient margin")

	orders := f.exchange.placedOrders()
	require.Len(t, orders, 2)
	// Minimum notional 100 over the snapshot price 100.
	assert.InDelta(t, 1.0, orders[1].Quantity, 0.0001)
}

func TestPlaceEntryOrder_PricePrecisionRetriesWithRoundedPrice(t *testing.T) {
	f := newOrchestratorFixture()
	f.exchange.placeOrderErrs = []error{
		&repository.ExchangeError{Code: -1111, Message: "Precision is over the maximum defined for this asset."},
	}

	spec := dto.OrderSpec{
		Symbol:   "BTCUSDT",
		Side:     dto.OrderSideBuy,
		Type:     dto.OrderTypeLimit,
		Quantity: 1,
		Price:    100.123456,
	}
	result, remediation, err := f.orchestrator.placeEntryOrder(context.Background(), spec)

	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Contains(t, remediation, "price precision")

	orders := f.exchange.placedOrders()
	require.Len(t, orders, 2)
	assert.InDelta(t, 100.12, orders[1].Price, 0.0001)
}

func TestPlaceEntryOrder_UnknownErrorNotRetried(t *testing.T) {
	f := newOrchestratorFixture()
	f.exchange.placeOrderErrs = []error{
		&repository.ExchangeError{Code: -1000, Message: "An unknown error occurred."},
	}

	_, remediation, err := f.orchestrator.placeEntryOrder(context.Background(), dto.OrderSpec{
		Symbol: "BTCUSDT", Side: dto.OrderSideBuy, Type: dto.OrderTypeMarket, Quantity: 1,
	})

	require.Error(t, err)
	assert.Empty(t, remediation)
	assert.Len(t, f.exchange.placedOrders(), 1)
}
