package service

import (
	"testing"
	"time"

	"golang-leverage-trader/internal/trader/config"
	"golang-leverage-trader/internal/trader/dto"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRiskConfig() *config.Risk {
	return &config.Risk{
		MaxLeverage:            10,
		MaxPositionNotional:    1000,
		MaxConcurrentPositions: 3,
		DailyLossLimitPct:      3.0,
		AllowedSymbols:         []string{"BTCUSDT", "ETHUSDT", "SOLUSDT"},
	}
}

func testCandidate() *dto.Strategy {
	return &dto.Strategy{
		Symbol:     "BTCUSDT",
		Direction:  dto.DirectionLong,
		EntryPrice: 100,
		Leverage:   2,
		Notional:   100,
		StopLoss:   dto.StopLossSpec{Kind: dto.StopLossFixed, Percentage: 2},
		TakeProfit: dto.TakeProfitSpec{Kind: dto.TakeProfitFixed, Percentage: 4},
		Confidence: 0.8,
		RiskScore:  3,
	}
}

func TestAssessRisk_ApprovesConservativeCandidate(t *testing.T) {
	engine := NewRiskEngine(testRiskConfig())

	assessment := engine.AssessRisk(testCandidate(), nil)

	assert.Equal(t, dto.RecommendationApprove, assessment.Recommendation)
	assert.Empty(t, assessment.Reasons)
	assert.Len(t, assessment.Factors, 5)
	assert.InDelta(t, 1.85, assessment.Score, 0.001)
}

func TestAssessRisk_RejectsExcessiveLeverage(t *testing.T) {
	engine := NewRiskEngine(testRiskConfig())

	candidate := testCandidate()
	candidate.Leverage = 20

	assessment := engine.AssessRisk(candidate, nil)

	assert.Equal(t, dto.RecommendationReject, assessment.Recommendation)
	require.NotEmpty(t, assessment.Reasons)
	assert.Contains(t, assessment.Reasons[0], "leverage")
}

func TestAssessRisk_RejectsExcessiveNotional(t *testing.T) {
	engine := NewRiskEngine(testRiskConfig())

	candidate := testCandidate()
	candidate.Notional = 5000

	assessment := engine.AssessRisk(candidate, nil)

	assert.Equal(t, dto.RecommendationReject, assessment.Recommendation)
}

func TestAssessRisk_RejectsDisallowedSymbol(t *testing.T) {
	engine := NewRiskEngine(testRiskConfig())

	candidate := testCandidate()
	candidate.Symbol = "DOGEUSDT"

	assessment := engine.AssessRisk(candidate, nil)

	assert.Equal(t, dto.RecommendationReject, assessment.Recommendation)
	require.NotEmpty(t, assessment.Reasons)
	assert.Contains(t, assessment.Reasons[0], "allow-list")
}

func TestAssessRisk_RejectsDuplicateSymbol(t *testing.T) {
	engine := NewRiskEngine(testRiskConfig())

	open := []dto.Position{{Symbol: "BTCUSDT", Direction: dto.DirectionLong}}
	assessment := engine.AssessRisk(testCandidate(), open)

	assert.Equal(t, dto.RecommendationReject, assessment.Recommendation)
	require.NotEmpty(t, assessment.Reasons)
	assert.Contains(t, assessment.Reasons[0], "already have position")
}

func TestAssessRisk_RejectsAtMaxConcurrentPositions(t *testing.T) {
	engine := NewRiskEngine(testRiskConfig())

	open := []dto.Position{
		{Symbol: "ETHUSDT"},
		{Symbol: "SOLUSDT"},
		{Symbol: "XRPUSDT"},
	}
	assessment := engine.AssessRisk(testCandidate(), open)

	assert.Equal(t, dto.RecommendationReject, assessment.Recommendation)
}

func TestAssessRisk_ReducesSizeForElevatedScore(t *testing.T) {
	engine := NewRiskEngine(testRiskConfig())

	// leverage 10/10, notional 1000/1000, confidence 0.5, own score 6:
	// 3.0 + 2.0 + 0.75 + 1.5 = 7.25, between the reduce and reject thresholds.
	candidate := testCandidate()
	candidate.Leverage = 10
	candidate.Notional = 1000
	candidate.Confidence = 0.5
	candidate.RiskScore = 6

	assessment := engine.AssessRisk(candidate, nil)

	assert.Equal(t, dto.RecommendationReduceSize, assessment.Recommendation)
	assert.InDelta(t, 7.25, assessment.Score, 0.001)
}

func TestDailyLossLimit_RejectsAfterCumulativeLosses(t *testing.T) {
	engine := NewRiskEngine(testRiskConfig())

	engine.UpdateDailyPnL(-1.5)
	assert.False(t, engine.IsDailyLossLimitExceeded())

	engine.UpdateDailyPnL(-1.5)
	assert.True(t, engine.IsDailyLossLimitExceeded())

	assessment := engine.AssessRisk(testCandidate(), nil)
	assert.Equal(t, dto.RecommendationReject, assessment.Recommendation)
	require.NotEmpty(t, assessment.Reasons)
	assert.Contains(t, assessment.Reasons[0], "daily loss limit")
}

func TestDailyLossLimit_ResetsOnUTCDayRollover(t *testing.T) {
	current := time.Date(2025, 6, 1, 23, 50, 0, 0, time.UTC)
	engine := newRiskEngine(testRiskConfig(), func() time.Time { return current })

	engine.UpdateDailyPnL(-3.5)
	assert.True(t, engine.IsDailyLossLimitExceeded())
	assert.Equal(t, 1, engine.DailyStats().TradeCount)

	current = current.Add(20 * time.Minute)

	assert.False(t, engine.IsDailyLossLimitExceeded())
	stats := engine.DailyStats()
	assert.Zero(t, stats.RealizedPnLPct)
	assert.Zero(t, stats.TradeCount)
	assert.Equal(t, time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC), stats.Date)
}

func TestComputeStopAndTargetPrices(t *testing.T) {
	engine := NewRiskEngine(testRiskConfig())

	assert.InDelta(t, 98.0, engine.ComputeStopPrice(100, dto.DirectionLong, 2), 0.0001)
	assert.InDelta(t, 104.0, engine.ComputeTargetPrice(100, dto.DirectionLong, 4), 0.0001)
	assert.InDelta(t, 102.0, engine.ComputeStopPrice(100, dto.DirectionShort, 2), 0.0001)
	assert.InDelta(t, 96.0, engine.ComputeTargetPrice(100, dto.DirectionShort, 4), 0.0001)
}

func TestShouldTriggerStopAndTarget(t *testing.T) {
	engine := NewRiskEngine(testRiskConfig())

	assert.True(t, engine.ShouldTriggerStop(97.9, 98, dto.DirectionLong))
	assert.True(t, engine.ShouldTriggerStop(98, 98, dto.DirectionLong))
	assert.False(t, engine.ShouldTriggerStop(98.1, 98, dto.DirectionLong))

	assert.True(t, engine.ShouldTriggerStop(102.1, 102, dto.DirectionShort))
	assert.False(t, engine.ShouldTriggerStop(101.9, 102, dto.DirectionShort))

	assert.True(t, engine.ShouldTriggerTarget(104, 104, dto.DirectionLong))
	assert.False(t, engine.ShouldTriggerTarget(103.9, 104, dto.DirectionLong))

	assert.True(t, engine.ShouldTriggerTarget(95.9, 96, dto.DirectionShort))
	assert.False(t, engine.ShouldTriggerTarget(96.1, 96, dto.DirectionShort))
}

func TestComputeTrailingStop(t *testing.T) {
	engine := NewRiskEngine(testRiskConfig())

	assert.InDelta(t, 107.8, engine.ComputeTrailingStop(110, dto.DirectionLong, 2), 0.0001)
	assert.InDelta(t, 91.8, engine.ComputeTrailingStop(90, dto.DirectionShort, 2), 0.0001)
}

func TestComputePnLPercent(t *testing.T) {
	engine := NewRiskEngine(testRiskConfig())

	// +4% price move at 3x leverage is a +12% margin return.
	assert.InDelta(t, 12.0, engine.ComputePnLPercent(100, 104, 1000, 3, dto.DirectionLong), 0.0001)
	assert.InDelta(t, -12.0, engine.ComputePnLPercent(100, 104, 1000, 3, dto.DirectionShort), 0.0001)
	assert.InDelta(t, -6.0, engine.ComputePnLPercent(100, 98, 1000, 3, dto.DirectionLong), 0.0001)
	assert.Zero(t, engine.ComputePnLPercent(0, 104, 1000, 3, dto.DirectionLong))
}
