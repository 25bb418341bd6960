package service

import (
	"fmt"
	"math"
	"sync"
	"time"

	"golang-leverage-trader/internal/trader/config"
	"golang-leverage-trader/internal/trader/dto"
	"golang-leverage-trader/pkg/utils"
)

// Factor weights for the admission score. They sum to 1.0.
const (
	weightLeverage      = 0.30
	weightPositionSize  = 0.20
	weightConfidence    = 0.15
	weightOwnRiskScore  = 0.25
	weightConcentration = 0.10

	rejectScoreThreshold = 8.0
	reduceScoreThreshold = 6.0
)

// RiskEngine performs admission control for candidate strategies and owns
// the daily risk counter. Price and P&L math is exposed for monitors.
type RiskEngine interface {
	AssessRisk(candidate *dto.Strategy, openPositions []dto.Position) *dto.RiskAssessment
	UpdateDailyPnL(pnlPct float64)
	IsDailyLossLimitExceeded() bool
	DailyStats() dto.DailyStats

	ComputeStopPrice(entry float64, direction dto.Direction, pct float64) float64
	ComputeTargetPrice(entry float64, direction dto.Direction, pct float64) float64
	ComputeTrailingStop(current float64, direction dto.Direction, trailingDistancePct float64) float64
	ShouldTriggerStop(current, stop float64, direction dto.Direction) bool
	ShouldTriggerTarget(current, target float64, direction dto.Direction) bool
	ComputePnLPercent(entry, current, notional, leverage float64, direction dto.Direction) float64
}

type riskEngine struct {
	cfg *config.Risk

	mu         sync.Mutex
	dailyDate  time.Time
	dailyPnL   float64
	tradeCount int

	now func() time.Time
}

// NewRiskEngine creates a risk engine with a fresh daily counter.
func NewRiskEngine(cfg *config.Risk) RiskEngine {
	return newRiskEngine(cfg, time.Now)
}

func newRiskEngine(cfg *config.Risk, now func() time.Time) *riskEngine {
	return &riskEngine{
		cfg:       cfg,
		dailyDate: utils.StartOfUTCDay(now()),
		now:       now,
	}
}

// AssessRisk scores a candidate against limits and current exposure. The
// score-based verdict is computed first, then hard overrides are applied;
// overrides only ever tighten the outcome, never loosen it.
func (e *riskEngine) AssessRisk(candidate *dto.Strategy, openPositions []dto.Position) *dto.RiskAssessment {
	e.mu.Lock()
	e.rolloverLocked()
	lossLimitHit := e.lossLimitExceededLocked()
	e.mu.Unlock()

	factors := []dto.RiskFactor{
		{Name: "leverage_ratio", Value: candidate.Leverage / e.cfg.MaxLeverage, Weight: weightLeverage},
		{Name: "position_size_ratio", Value: candidate.Notional / e.cfg.MaxPositionNotional, Weight: weightPositionSize},
		{Name: "inverse_confidence", Value: 1 - candidate.Confidence, Weight: weightConfidence},
		{Name: "strategy_risk_score", Value: candidate.RiskScore / 10, Weight: weightOwnRiskScore},
		{Name: "position_concentration", Value: math.Min(float64(len(openPositions))/float64(e.cfg.MaxConcurrentPositions), 1.0), Weight: weightConcentration},
	}

	var score float64
	for _, f := range factors {
		score += f.Value * f.Weight * 10
	}
	score = math.Max(0, math.Min(score, 10))

	assessment := &dto.RiskAssessment{
		Score:      score,
		Factors:    factors,
		AssessedAt: e.now().UTC(),
	}

	switch {
	case score > rejectScoreThreshold:
		assessment.Recommendation = dto.RecommendationReject
		assessment.Reasons = append(assessment.Reasons, fmt.Sprintf("risk score %.1f exceeds reject threshold %.1f", score, rejectScoreThreshold))
	case score > reduceScoreThreshold:
		assessment.Recommendation = dto.RecommendationReduceSize
		assessment.Reasons = append(assessment.Reasons, fmt.Sprintf("risk score %.1f warrants reduced position size", score))
	default:
		assessment.Recommendation = dto.RecommendationApprove
	}

	// Hard overrides. Each one forces Reject and appends its reason.
	if lossLimitHit {
		e.reject(assessment, fmt.Sprintf("daily loss limit exceeded (%.2f%% of %.2f%% allowed)", e.DailyStats().RealizedPnLPct, e.cfg.DailyLossLimitPct))
	}
	if candidate.Leverage > e.cfg.MaxLeverage {
		e.reject(assessment, fmt.Sprintf("leverage %.1fx exceeds maximum %.1fx", candidate.Leverage, e.cfg.MaxLeverage))
	}
	if candidate.Notional > e.cfg.MaxPositionNotional {
		e.reject(assessment, fmt.Sprintf("notional %.2f exceeds maximum %.2f", candidate.Notional, e.cfg.MaxPositionNotional))
	}
	if !e.symbolAllowed(candidate.Symbol) {
		e.reject(assessment, fmt.Sprintf("symbol %s is not in the tradable allow-list", candidate.Symbol))
	}
	if len(openPositions) >= e.cfg.MaxConcurrentPositions {
		e.reject(assessment, fmt.Sprintf("maximum concurrent positions reached (%d)", e.cfg.MaxConcurrentPositions))
	}
	for _, p := range openPositions {
		if p.Symbol == candidate.Symbol {
			e.reject(assessment, fmt.Sprintf("already have position for %s", candidate.Symbol))
			break
		}
	}

	return assessment
}

func (e *riskEngine) reject(a *dto.RiskAssessment, reason string) {
	a.Recommendation = dto.RecommendationReject
	a.Reasons = append(a.Reasons, reason)
}

func (e *riskEngine) symbolAllowed(symbol string) bool {
	for _, s := range e.cfg.AllowedSymbols {
		if s == symbol {
			return true
		}
	}
	return false
}

// UpdateDailyPnL adds a realized result to the daily counter.
func (e *riskEngine) UpdateDailyPnL(pnlPct float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rolloverLocked()
	e.dailyPnL += pnlPct
	e.tradeCount++
}

// IsDailyLossLimitExceeded reports whether today's cumulative loss has
// reached the configured limit.
func (e *riskEngine) IsDailyLossLimitExceeded() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rolloverLocked()
	return e.lossLimitExceededLocked()
}

// DailyStats returns the current daily counter.
func (e *riskEngine) DailyStats() dto.DailyStats {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rolloverLocked()
	return dto.DailyStats{
		Date:           e.dailyDate,
		RealizedPnLPct: e.dailyPnL,
		TradeCount:     e.tradeCount,
	}
}

// rolloverLocked resets the counter when the UTC date has advanced past the
// stored reset date. The reset is lazy and idempotent.
func (e *riskEngine) rolloverLocked() {
	today := utils.StartOfUTCDay(e.now())
	if today.After(e.dailyDate) {
		e.dailyDate = today
		e.dailyPnL = 0
		e.tradeCount = 0
	}
}

func (e *riskEngine) lossLimitExceededLocked() bool {
	return math.Abs(e.dailyPnL) >= e.cfg.DailyLossLimitPct
}

// ComputeStopPrice returns the stop price for an entry at the given
// percentage distance. Callers are responsible for tick-size rounding.
func (e *riskEngine) ComputeStopPrice(entry float64, direction dto.Direction, pct float64) float64 {
	if direction == dto.DirectionShort {
		return entry * (1 + pct/100)
	}
	return entry * (1 - pct/100)
}

// ComputeTargetPrice returns the take-profit price for an entry at the given
// percentage distance.
func (e *riskEngine) ComputeTargetPrice(entry float64, direction dto.Direction, pct float64) float64 {
	if direction == dto.DirectionShort {
		return entry * (1 - pct/100)
	}
	return entry * (1 + pct/100)
}

// ComputeTrailingStop re-anchors a trailing stop to the current price.
func (e *riskEngine) ComputeTrailingStop(current float64, direction dto.Direction, trailingDistancePct float64) float64 {
	if direction == dto.DirectionShort {
		return current * (1 + trailingDistancePct/100)
	}
	return current * (1 - trailingDistancePct/100)
}

// ShouldTriggerStop reports whether the price has crossed the stop level.
func (e *riskEngine) ShouldTriggerStop(current, stop float64, direction dto.Direction) bool {
	if direction == dto.DirectionShort {
		return current >= stop
	}
	return current <= stop
}

// ShouldTriggerTarget reports whether the price has crossed the target level.
func (e *riskEngine) ShouldTriggerTarget(current, target float64, direction dto.Direction) bool {
	if direction == dto.DirectionShort {
		return current <= target
	}
	return current >= target
}

// ComputePnLPercent returns the leveraged margin return in percent. Notional
// is not applied here; callers multiply by notional for a dollar figure.
func (e *riskEngine) ComputePnLPercent(entry, current, notional, leverage float64, direction dto.Direction) float64 {
	_ = notional
	if entry == 0 {
		return 0
	}
	change := (current - entry) / entry
	if direction == dto.DirectionShort {
		change = -change
	}
	return change * leverage * 100
}
