package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"golang-leverage-trader/internal/trader/dto"
	"golang-leverage-trader/pkg/logger"

	"github.com/gorilla/websocket"
)

const (
	wsReconnectMin = 1 * time.Second
	wsReconnectMax = 30 * time.Second
	wsReadLimit    = 1 << 20
)

// tickSubscription owns one websocket connection streaming mark-price
// updates for a single symbol.
type tickSubscription struct {
	symbol string
	ticks  chan dto.PriceTick
	cancel context.CancelFunc
}

type markPriceEvent struct {
	EventType string `json:"e"`
	EventTime int64  `json:"E"`
	Symbol    string `json:"s"`
	MarkPrice string `json:"p"`
}

// SubscribePriceTicks opens a mark-price stream for the symbol and returns a
// channel of ticks. A second subscription for the same symbol is rejected;
// each position has exactly one monitor consuming its stream.
func (r *BinanceFuturesRepository) SubscribePriceTicks(ctx context.Context, symbol string) (<-chan dto.PriceTick, error) {
	r.subsMu.Lock()
	defer r.subsMu.Unlock()

	if _, exists := r.subscribers[symbol]; exists {
		return nil, fmt.Errorf("already subscribed to %s", symbol)
	}

	bufferSize := r.cfg.Monitor.TickBufferSize
	if bufferSize <= 0 {
		bufferSize = 100
	}

	streamCtx, cancel := context.WithCancel(ctx)
	sub := &tickSubscription{
		symbol: symbol,
		ticks:  make(chan dto.PriceTick, bufferSize),
		cancel: cancel,
	}
	r.subscribers[symbol] = sub

	go r.streamLoop(streamCtx, sub)

	return sub.ticks, nil
}

// Unsubscribe tears down the price stream for a symbol. Safe to call for a
// symbol that was never subscribed.
func (r *BinanceFuturesRepository) Unsubscribe(symbol string) {
	r.subsMu.Lock()
	defer r.subsMu.Unlock()

	sub, exists := r.subscribers[symbol]
	if !exists {
		return
	}
	sub.cancel()
	delete(r.subscribers, symbol)
}

// streamLoop dials the stream and re-dials with capped backoff until the
// subscription context is canceled. The tick channel is closed on exit.
func (r *BinanceFuturesRepository) streamLoop(ctx context.Context, sub *tickSubscription) {
	defer close(sub.ticks)

	backoff := wsReconnectMin
	for {
		if err := r.readStream(ctx, sub); err != nil {
			if ctx.Err() != nil {
				return
			}
			r.logger.Warn("Price stream disconnected, reconnecting",
				logger.StringField("symbol", sub.symbol),
				logger.ErrorField(err),
			)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > wsReconnectMax {
			backoff = wsReconnectMax
		}
	}
}

func (r *BinanceFuturesRepository) readStream(ctx context.Context, sub *tickSubscription) error {
	streamURL := fmt.Sprintf("%s/ws/%s@markPrice@1s", r.cfg.Exchange.WSBaseURL, strings.ToLower(sub.symbol))

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, streamURL, nil)
	if err != nil {
		return fmt.Errorf("failed to dial price stream: %w", err)
	}
	defer conn.Close()
	conn.SetReadLimit(wsReadLimit)

	r.logger.Info("Price stream connected", logger.StringField("symbol", sub.symbol))

	// Close the connection when the context is canceled so ReadMessage unblocks.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var event markPriceEvent
		if err := json.Unmarshal(message, &event); err != nil {
			r.logger.Warn("Failed to decode price stream message", logger.ErrorField(err))
			continue
		}
		if event.EventType != "markPriceUpdate" {
			continue
		}

		tick := dto.PriceTick{
			Symbol:    event.Symbol,
			Price:     parseFloat(event.MarkPrice),
			Timestamp: time.UnixMilli(event.EventTime).UTC(),
		}

		select {
		case sub.ticks <- tick:
		default:
			// Monitor is behind; drop the oldest tick rather than block the reader.
			select {
			case <-sub.ticks:
			default:
			}
			sub.ticks <- tick
		}
	}
}
