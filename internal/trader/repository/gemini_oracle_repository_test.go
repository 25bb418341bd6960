package repository

import (
	"testing"

	"golang-leverage-trader/internal/trader/config"
	"golang-leverage-trader/internal/trader/dto"

	"github.com/stretchr/testify/assert"
)

func TestStripCodeFences(t *testing.T) {
	cases := []struct {
		name     string
		input    string
		expected string
	}{
		{"plain json", `{"symbol":"BTCUSDT"}`, `{"symbol":"BTCUSDT"}`},
		{"json fence", "```json\n{\"symbol\":\"BTCUSDT\"}\n```", `{"symbol":"BTCUSDT"}`},
		{"bare fence", "```\n{\"a\":1}\n```", `{"a":1}`},
		{"leading whitespace", "  \n```json\n{}\n```  ", "{}"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, StripCodeFences(tc.input))
		})
	}
}

func TestFallbackStrategy(t *testing.T) {
	cfg := &config.Config{
		Trading: config.Trading{MinNotional: 100},
	}
	snapshot := &dto.MarketSnapshot{Symbol: "ETHUSDT", LastPrice: 2500}

	strategy := FallbackStrategy(cfg, "ETHUSDT", snapshot)

	assert.Equal(t, "ETHUSDT", strategy.Symbol)
	assert.Equal(t, dto.DirectionLong, strategy.Direction)
	assert.Equal(t, float64(1), strategy.Leverage)
	assert.Equal(t, float64(100), strategy.Notional)
	assert.Equal(t, float64(2500), strategy.EntryPrice)
	assert.Equal(t, dto.StopLossFixed, strategy.StopLoss.Kind)
	assert.Equal(t, "fallback:minimal", strategy.Provenance)
	assert.Less(t, strategy.Confidence, 0.5)
}
