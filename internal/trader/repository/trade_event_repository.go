package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"golang-leverage-trader/internal/trader/dto"
	"golang-leverage-trader/pkg/common"

	"github.com/redis/go-redis/v9"
)

type tradeEventRepository struct {
	redisClient  *redis.Client
	streamMaxLen int64
}

// NewTradeEventRepository creates a redis-stream trade event publisher.
func NewTradeEventRepository(redisClient *redis.Client, streamMaxLen int64) TradeEventPublisher {
	return &tradeEventRepository{
		redisClient:  redisClient,
		streamMaxLen: streamMaxLen,
	}
}

// Publish appends a trade event to the dashboard event stream.
func (r *tradeEventRepository) Publish(ctx context.Context, event dto.TradeEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal trade event: %w", err)
	}

	return r.redisClient.XAdd(ctx, &redis.XAddArgs{
		Stream: common.RedisStreamTradeEvents,
		Values: map[string]interface{}{"payload": payload},
		MaxLen: r.streamMaxLen,
		Approx: true,
	}).Err()
}
