package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang-leverage-trader/internal/trader/config"
	"golang-leverage-trader/internal/trader/dto"
	"golang-leverage-trader/pkg/logger"
	"golang-leverage-trader/pkg/ratelimit"

	"golang.org/x/time/rate"
	"google.golang.org/genai"
)

// ErrMalformedOracleOutput marks oracle responses that could not be parsed
// into a typed strategy. Callers may fall back to a deterministic strategy.
var ErrMalformedOracleOutput = errors.New("malformed oracle output")

// geminiOracleRepository implements StrategyOracle against the Gemini API.
type geminiOracleRepository struct {
	cfg            *config.Config
	logger         *logger.Logger
	genAiClient    *genai.Client
	requestLimiter *rate.Limiter
	tokenLimiter   *ratelimit.TokenLimiter
}

// NewGeminiOracleRepository creates a rate-limited Gemini-backed oracle.
func NewGeminiOracleRepository(cfg *config.Config, log *logger.Logger, genAiClient *genai.Client) (StrategyOracle, error) {
	if cfg.Gemini.MaxRequestPerMinute <= 0 {
		return nil, fmt.Errorf("gemini max_request_per_minute must be positive")
	}
	secondsPerRequest := time.Minute / time.Duration(cfg.Gemini.MaxRequestPerMinute)
	return &geminiOracleRepository{
		cfg:            cfg,
		logger:         log,
		genAiClient:    genAiClient,
		requestLimiter: rate.NewLimiter(rate.Every(secondsPerRequest), 1),
		tokenLimiter:   ratelimit.NewTokenLimiter(cfg.Gemini.MaxTokenPerMinute),
	}, nil
}

// GenerateCandidate asks the model for one candidate strategy for the symbol.
func (r *geminiOracleRepository) GenerateCandidate(ctx context.Context, symbol string, snapshot *dto.MarketSnapshot, openPositions []dto.Position) (*dto.Strategy, error) {
	prompt := BuildGenerateCandidatePrompt(symbol, snapshot, openPositions)

	raw, err := r.executeRequest(ctx, prompt)
	if err != nil {
		return nil, err
	}

	var strategy dto.Strategy
	if err := json.Unmarshal([]byte(raw), &strategy); err != nil {
		r.logger.Error("Failed to unmarshal candidate strategy", logger.ErrorField(err), logger.StringField("raw", raw))
		return nil, fmt.Errorf("%w: %v", ErrMalformedOracleOutput, err)
	}
	if strategy.Symbol == "" || strategy.EntryPrice <= 0 {
		return nil, fmt.Errorf("%w: missing symbol or entry price", ErrMalformedOracleOutput)
	}
	strategy.CreatedAt = time.Now().UTC()
	if strategy.Provenance == "" {
		strategy.Provenance = "gemini:" + r.cfg.Gemini.Model
	}
	return &strategy, nil
}

type optimizeResponse struct {
	Strategy dto.Strategy  `json:"strategy"`
	Hints    dto.RiskHints `json:"hints"`
}

// OptimizeCandidate asks the model to tune a candidate against the open
// positions. The original candidate is never mutated.
func (r *geminiOracleRepository) OptimizeCandidate(ctx context.Context, candidate *dto.Strategy, openPositions []dto.Position) (*dto.Strategy, *dto.RiskHints, error) {
	prompt := BuildOptimizeCandidatePrompt(candidate, openPositions)

	raw, err := r.executeRequest(ctx, prompt)
	if err != nil {
		return nil, nil, err
	}

	var resp optimizeResponse
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrMalformedOracleOutput, err)
	}

	adjusted := resp.Strategy
	adjusted.CreatedAt = candidate.CreatedAt
	adjusted.Provenance = candidate.Provenance
	// The optimizer may only tighten exposure.
	if adjusted.Leverage > candidate.Leverage {
		adjusted.Leverage = candidate.Leverage
	}
	if adjusted.Notional > candidate.Notional {
		adjusted.Notional = candidate.Notional
	}
	return &adjusted, &resp.Hints, nil
}

// GenerateExecutionPlan asks the model whether to execute an admitted strategy.
func (r *geminiOracleRepository) GenerateExecutionPlan(ctx context.Context, strategy *dto.Strategy, snapshot *dto.MarketSnapshot) (*dto.ExecutionPlan, error) {
	prompt := BuildExecutionPlanPrompt(strategy, snapshot)

	raw, err := r.executeRequest(ctx, prompt)
	if err != nil {
		return nil, err
	}

	var plan dto.ExecutionPlan
	if err := json.Unmarshal([]byte(raw), &plan); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedOracleOutput, err)
	}
	return &plan, nil
}

func (r *geminiOracleRepository) executeRequest(ctx context.Context, prompt string) (string, error) {
	contents := []*genai.Content{
		genai.NewContentFromText(prompt, "user"),
	}

	tokenResp, err := r.genAiClient.Models.CountTokens(ctx, r.cfg.Gemini.Model, contents, nil)
	if err != nil {
		return "", fmt.Errorf("failed to count tokens: %w", err)
	}

	r.logger.Debug("Oracle request token usage",
		logger.IntField("tokens", int(tokenResp.TotalTokens)),
		logger.IntField("remaining", r.tokenLimiter.GetRemaining()),
	)

	if err := r.tokenLimiter.Wait(ctx, int(tokenResp.TotalTokens)); err != nil {
		return "", fmt.Errorf("failed to wait for token limit: %w", err)
	}
	if err := r.requestLimiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("failed to wait for request limit: %w", err)
	}

	resp, err := r.genAiClient.Models.GenerateContent(ctx, r.cfg.Gemini.Model, contents, nil)
	if err != nil {
		return "", fmt.Errorf("failed to call Gemini API: %w", err)
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("%w: no content in Gemini response", ErrMalformedOracleOutput)
	}

	return StripCodeFences(resp.Candidates[0].Content.Parts[0].Text), nil
}

// StripCodeFences removes a surrounding markdown code fence from a model
// response, tolerating a json language tag.
func StripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	return strings.TrimSpace(s)
}

// FallbackStrategy is the deterministic minimal strategy used when the oracle
// returns unparseable output: smallest configured size, no leverage appetite.
func FallbackStrategy(cfg *config.Config, symbol string, snapshot *dto.MarketSnapshot) *dto.Strategy {
	return &dto.Strategy{
		Symbol:     symbol,
		Direction:  dto.DirectionLong,
		EntryPrice: snapshot.LastPrice,
		Leverage:   1,
		Notional:   cfg.Trading.MinNotional,
		StopLoss:   dto.StopLossSpec{Kind: dto.StopLossFixed, Percentage: 2},
		TakeProfit: dto.TakeProfitSpec{Kind: dto.TakeProfitFixed, Percentage: 4},
		Confidence: 0.1,
		RiskScore:  5,
		Provenance: "fallback:minimal",
		CreatedAt:  time.Now().UTC(),
	}
}
