package dto

import "time"

type Recommendation string

const (
	RecommendationApprove    Recommendation = "APPROVE"
	RecommendationReject     Recommendation = "REJECT"
	RecommendationReduceSize Recommendation = "REDUCE_SIZE"
)

// RiskFactor is one weighted component of a risk score.
type RiskFactor struct {
	Name   string  `json:"name"`
	Value  float64 `json:"value"`
	Weight float64 `json:"weight"`
}

// RiskAssessment is the admission-control verdict for a candidate strategy.
type RiskAssessment struct {
	Score          float64        `json:"score"`
	Factors        []RiskFactor   `json:"factors"`
	Recommendation Recommendation `json:"recommendation"`
	Reasons        []string       `json:"reasons"`
	AssessedAt     time.Time      `json:"assessed_at"`
}

// DailyStats is the cumulative realized result since the last UTC day boundary.
type DailyStats struct {
	Date           time.Time `json:"date"`
	RealizedPnLPct float64   `json:"realized_pnl_pct"`
	TradeCount     int       `json:"trade_count"`
}
