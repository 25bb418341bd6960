package repository

import (
	"fmt"
	"strings"

	"golang-leverage-trader/internal/trader/dto"
)

func formatOpenPositions(positions []dto.Position) string {
	if len(positions) == 0 {
		return "none"
	}
	var b strings.Builder
	for i, p := range positions {
		b.WriteString(fmt.Sprintf(
			"%d. %s %s entry=%.4f current=%.4f notional=%.2f leverage=%.1fx unrealized_pnl=%.2f%%\n",
			i+1, p.Symbol, p.Direction, p.EntryPrice, p.CurrentPrice, p.Notional, p.Leverage, p.UnrealizedPnLPct,
		))
	}
	return b.String()
}

// BuildGenerateCandidatePrompt asks the model for one candidate strategy as
// strict JSON matching dto.Strategy.
func BuildGenerateCandidatePrompt(symbol string, snapshot *dto.MarketSnapshot, openPositions []dto.Position) string {
	return fmt.Sprintf(`You are a leveraged futures trading strategist. Propose exactly one candidate trade for %s based on the market snapshot below.

Market snapshot:
- last price: %.4f
- mark price: %.4f
- 24h high: %.4f
- 24h low: %.4f
- 24h volume: %.2f
- funding rate: %.6f

Currently open positions:
%s

Respond with JSON only, no commentary, in this exact shape:

{
  "symbol": "%s",
  "direction": "long | short",
  "entry_price": {number},
  "leverage": {number, 1-20},
  "notional": {number, USD exposure},
  "stop_loss": {"kind": "fixed | trailing", "percentage": {number}, "trailing_distance_pct": {number, only for trailing}},
  "take_profit": {"kind": "fixed | partial", "percentage": {number}},
  "confidence": {0.0 - 1.0},
  "risk_score": {0.0 - 10.0},
  "provenance": "{one-line rationale}"
}`,
		symbol,
		snapshot.LastPrice, snapshot.MarkPrice, snapshot.High24h, snapshot.Low24h,
		snapshot.Volume24h, snapshot.FundingRate,
		formatOpenPositions(openPositions),
		symbol,
	)
}

// BuildOptimizeCandidatePrompt asks the model to tune a candidate against the
// current portfolio and return the adjusted strategy plus risk hints.
func BuildOptimizeCandidatePrompt(candidate *dto.Strategy, openPositions []dto.Position) string {
	return fmt.Sprintf(`You are a portfolio risk optimizer for a leveraged futures account. Review this candidate trade against the open positions and suggest adjustments. You may lower leverage or notional; never raise either.

Candidate:
- symbol: %s
- direction: %s
- entry price: %.4f
- leverage: %.1fx
- notional: %.2f USD
- stop loss: %.2f%% (%s)
- take profit: %.2f%% (%s)
- confidence: %.2f
- risk score: %.1f

Currently open positions:
%s

Respond with JSON only:

{
  "strategy": { same shape as the candidate, with adjusted values },
  "hints": {
    "suggested_leverage": {number},
    "suggested_notional": {number},
    "warnings": ["{short warning strings}"]
  }
}`,
		candidate.Symbol, candidate.Direction, candidate.EntryPrice,
		candidate.Leverage, candidate.Notional,
		candidate.StopLoss.Percentage, candidate.StopLoss.Kind,
		candidate.TakeProfit.Percentage, candidate.TakeProfit.Kind,
		candidate.Confidence, candidate.RiskScore,
		formatOpenPositions(openPositions),
	)
}

// BuildExecutionPlanPrompt asks the model whether and how to place the entry
// order for an admitted strategy.
func BuildExecutionPlanPrompt(strategy *dto.Strategy, snapshot *dto.MarketSnapshot) string {
	return fmt.Sprintf(`You are a trade execution planner. Decide whether this admitted strategy should be executed right now and with which order type.

Strategy: %s %s, entry %.4f, leverage %.1fx, notional %.2f USD.
Current market: last price %.4f, mark price %.4f, funding rate %.6f.

Respond with JSON only:

{
  "should_execute": {true | false},
  "order_kind": "market | limit",
  "limit_price": {number, only when order_kind is "limit"},
  "reasoning": "{one line}"
}`,
		strategy.Symbol, strategy.Direction, strategy.EntryPrice,
		strategy.Leverage, strategy.Notional,
		snapshot.LastPrice, snapshot.MarkPrice, snapshot.FundingRate,
	)
}
