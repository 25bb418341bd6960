package repository

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang-leverage-trader/internal/trader/config"
	"golang-leverage-trader/internal/trader/dto"
	"golang-leverage-trader/pkg/logger"

	"github.com/go-resty/resty/v2"
	"github.com/patrickmn/go-cache"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

const (
	// Binance futures error codes the gateway knows how to remediate.
	codeInsufficientMargin = -2019
	codePricePrecision     = -1111
)

// ExchangeError is a typed error returned by the exchange REST API.
type ExchangeError struct {
	Code    int    `json:"code"`
	Message string `json:"msg"`
}

func (e *ExchangeError) Error() string {
	return fmt.Sprintf("exchange error %d: %s", e.Code, e.Message)
}

// IsInsufficientMargin reports whether the error is an insufficient-margin rejection.
func (e *ExchangeError) IsInsufficientMargin() bool { return e.Code == codeInsufficientMargin }

// IsPricePrecision reports whether the error is a price-precision rejection.
func (e *ExchangeError) IsPricePrecision() bool { return e.Code == codePricePrecision }

type symbolFilters struct {
	TickSize    decimal.Decimal
	StepSize    decimal.Decimal
	MinQty      decimal.Decimal
	MinNotional decimal.Decimal
}

// BinanceFuturesRepository implements ExchangeGateway and BalanceReader
// against the Binance USDT-M futures API.
type BinanceFuturesRepository struct {
	cfg         *config.Config
	logger      *logger.Logger
	client      *resty.Client
	limiter     *rate.Limiter
	snapshots   *cache.Cache
	filtersMu   sync.RWMutex
	filters     map[string]symbolFilters
	subsMu      sync.Mutex
	subscribers map[string]*tickSubscription
}

// NewBinanceFuturesRepository creates the futures exchange gateway.
func NewBinanceFuturesRepository(cfg *config.Config, log *logger.Logger) (*BinanceFuturesRepository, error) {
	if cfg.Exchange.BaseURL == "" {
		return nil, fmt.Errorf("exchange base_url is required")
	}
	client := resty.New().
		SetBaseURL(cfg.Exchange.BaseURL).
		SetTimeout(cfg.Exchange.Timeout).
		SetHeader("X-MBX-APIKEY", cfg.Exchange.APIKey)

	maxReq := cfg.Exchange.MaxReqPerMin
	if maxReq <= 0 {
		maxReq = 1200
	}
	snapshotTTL := cfg.Exchange.SnapshotTTL
	if snapshotTTL <= 0 {
		snapshotTTL = 2 * time.Second
	}

	return &BinanceFuturesRepository{
		cfg:         cfg,
		logger:      log,
		client:      client,
		limiter:     rate.NewLimiter(rate.Every(time.Minute/time.Duration(maxReq)), 5),
		snapshots:   cache.New(snapshotTTL, time.Minute),
		filters:     make(map[string]symbolFilters),
		subscribers: make(map[string]*tickSubscription),
	}, nil
}

type ticker24hResponse struct {
	Symbol    string `json:"symbol"`
	LastPrice string `json:"lastPrice"`
	HighPrice string `json:"highPrice"`
	LowPrice  string `json:"lowPrice"`
	Volume    string `json:"volume"`
}

type premiumIndexResponse struct {
	Symbol          string `json:"symbol"`
	MarkPrice       string `json:"markPrice"`
	LastFundingRate string `json:"lastFundingRate"`
}

// GetMarketSnapshot returns the current market state for a symbol. Results
// are cached briefly so repeated reads within a cycle hit the exchange once.
func (r *BinanceFuturesRepository) GetMarketSnapshot(ctx context.Context, symbol string) (*dto.MarketSnapshot, error) {
	if cached, found := r.snapshots.Get(symbol); found {
		return cached.(*dto.MarketSnapshot), nil
	}

	var ticker ticker24hResponse
	if err := r.get(ctx, "/fapi/v1/ticker/24hr", map[string]string{"symbol": symbol}, &ticker); err != nil {
		return nil, fmt.Errorf("failed to fetch 24h ticker: %w", err)
	}

	var premium premiumIndexResponse
	if err := r.get(ctx, "/fapi/v1/premiumIndex", map[string]string{"symbol": symbol}, &premium); err != nil {
		return nil, fmt.Errorf("failed to fetch premium index: %w", err)
	}

	snapshot := &dto.MarketSnapshot{
		Symbol:      symbol,
		LastPrice:   parseFloat(ticker.LastPrice),
		MarkPrice:   parseFloat(premium.MarkPrice),
		High24h:     parseFloat(ticker.HighPrice),
		Low24h:      parseFloat(ticker.LowPrice),
		Volume24h:   parseFloat(ticker.Volume),
		FundingRate: parseFloat(premium.LastFundingRate),
		Timestamp:   time.Now().UTC(),
	}
	r.snapshots.SetDefault(symbol, snapshot)
	return snapshot, nil
}

type orderResponse struct {
	OrderID     int64  `json:"orderId"`
	Status      string `json:"status"`
	AvgPrice    string `json:"avgPrice"`
	ExecutedQty string `json:"executedQty"`
}

// PlaceOrder submits an order, normalizing price and quantity to the
// symbol's tick and step sizes first.
func (r *BinanceFuturesRepository) PlaceOrder(ctx context.Context, spec dto.OrderSpec) (*dto.OrderResult, error) {
	filters, err := r.symbolFilters(ctx, spec.Symbol)
	if err != nil {
		return nil, err
	}

	params := map[string]string{
		"symbol":           spec.Symbol,
		"side":             string(spec.Side),
		"type":             string(spec.Type),
		"quantity":         roundToStep(spec.Quantity, filters.StepSize),
		"newClientOrderId": spec.ClientOrderID,
	}
	if spec.Type == dto.OrderTypeLimit {
		params["price"] = roundToStep(spec.Price, filters.TickSize)
		params["timeInForce"] = "GTC"
	}
	if spec.Type == dto.OrderTypeStop || spec.Type == dto.OrderTypeTarget {
		params["stopPrice"] = roundToStep(spec.StopPrice, filters.TickSize)
	}
	if spec.ReduceOnly {
		params["reduceOnly"] = "true"
	}

	var resp orderResponse
	if err := r.signedPost(ctx, "/fapi/v1/order", params, &resp); err != nil {
		return nil, err
	}

	return &dto.OrderResult{
		OrderID:     strconv.FormatInt(resp.OrderID, 10),
		Status:      resp.Status,
		AvgPrice:    parseFloat(resp.AvgPrice),
		ExecutedQty: parseFloat(resp.ExecutedQty),
	}, nil
}

// ClosePosition submits a reduce-only market order for the full quantity on
// the opposite side of the position.
func (r *BinanceFuturesRepository) ClosePosition(ctx context.Context, symbol string, direction dto.Direction, quantity float64) (*dto.OrderResult, error) {
	side := dto.OrderSideSell
	if direction == dto.DirectionShort {
		side = dto.OrderSideBuy
	}
	return r.PlaceOrder(ctx, dto.OrderSpec{
		Symbol:        symbol,
		Side:          side,
		Type:          dto.OrderTypeMarket,
		Quantity:      quantity,
		ReduceOnly:    true,
		ClientOrderID: fmt.Sprintf("close-%s-%d", strings.ToLower(symbol), time.Now().UnixMilli()),
	})
}

type positionRiskResponse struct {
	Symbol           string `json:"symbol"`
	PositionAmt      string `json:"positionAmt"`
	EntryPrice       string `json:"entryPrice"`
	MarkPrice        string `json:"markPrice"`
	UnRealizedProfit string `json:"unRealizedProfit"`
	Leverage         string `json:"leverage"`
	UpdateTime       int64  `json:"updateTime"`
}

// ListPositions returns the authoritative open positions from the exchange.
func (r *BinanceFuturesRepository) ListPositions(ctx context.Context) ([]dto.Position, error) {
	var resp []positionRiskResponse
	if err := r.signedGet(ctx, "/fapi/v2/positionRisk", nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to list positions: %w", err)
	}

	var positions []dto.Position
	for _, p := range resp {
		amt := parseFloat(p.PositionAmt)
		if amt == 0 {
			continue
		}
		direction := dto.DirectionLong
		if amt < 0 {
			direction = dto.DirectionShort
			amt = -amt
		}
		entry := parseFloat(p.EntryPrice)
		positions = append(positions, dto.Position{
			Symbol:       p.Symbol,
			Direction:    direction,
			EntryPrice:   entry,
			CurrentPrice: parseFloat(p.MarkPrice),
			Notional:     amt * entry,
			Leverage:     parseFloat(p.Leverage),
			UpdatedAt:    time.UnixMilli(p.UpdateTime).UTC(),
		})
	}
	return positions, nil
}

type balanceResponse struct {
	Asset            string `json:"asset"`
	AvailableBalance string `json:"availableBalance"`
}

// GetAvailableBalance returns the available USDT wallet balance.
func (r *BinanceFuturesRepository) GetAvailableBalance(ctx context.Context) (float64, error) {
	var resp []balanceResponse
	if err := r.signedGet(ctx, "/fapi/v2/balance", nil, &resp); err != nil {
		return 0, fmt.Errorf("failed to fetch balance: %w", err)
	}
	for _, b := range resp {
		if b.Asset == "USDT" {
			return parseFloat(b.AvailableBalance), nil
		}
	}
	return 0, fmt.Errorf("no USDT balance entry in exchange response")
}

type exchangeInfoResponse struct {
	Symbols []struct {
		Symbol  string `json:"symbol"`
		Filters []struct {
			FilterType  string `json:"filterType"`
			TickSize    string `json:"tickSize"`
			StepSize    string `json:"stepSize"`
			MinQty      string `json:"minQty"`
			MinNotional string `json:"notional"`
		} `json:"filters"`
	} `json:"symbols"`
}

func (r *BinanceFuturesRepository) symbolFilters(ctx context.Context, symbol string) (symbolFilters, error) {
	r.filtersMu.RLock()
	if f, ok := r.filters[symbol]; ok {
		r.filtersMu.RUnlock()
		return f, nil
	}
	r.filtersMu.RUnlock()

	var info exchangeInfoResponse
	if err := r.get(ctx, "/fapi/v1/exchangeInfo", map[string]string{"symbol": symbol}, &info); err != nil {
		return symbolFilters{}, fmt.Errorf("failed to fetch exchange info: %w", err)
	}

	for _, s := range info.Symbols {
		if s.Symbol != symbol {
			continue
		}
		var f symbolFilters
		for _, filter := range s.Filters {
			switch filter.FilterType {
			case "PRICE_FILTER":
				f.TickSize, _ = decimal.NewFromString(filter.TickSize)
			case "LOT_SIZE":
				f.StepSize, _ = decimal.NewFromString(filter.StepSize)
				f.MinQty, _ = decimal.NewFromString(filter.MinQty)
			case "MIN_NOTIONAL":
				f.MinNotional, _ = decimal.NewFromString(filter.MinNotional)
			}
		}
		r.filtersMu.Lock()
		r.filters[symbol] = f
		r.filtersMu.Unlock()
		return f, nil
	}
	return symbolFilters{}, fmt.Errorf("symbol %s not found in exchange info", symbol)
}

func (r *BinanceFuturesRepository) get(ctx context.Context, path string, params map[string]string, out interface{}) error {
	if err := r.limiter.Wait(ctx); err != nil {
		return err
	}
	resp, err := r.client.R().
		SetContext(ctx).
		SetQueryParams(params).
		Get(path)
	if err != nil {
		return err
	}
	return r.decode(resp, out)
}

func (r *BinanceFuturesRepository) signedGet(ctx context.Context, path string, params map[string]string, out interface{}) error {
	if err := r.limiter.Wait(ctx); err != nil {
		return err
	}
	query := r.sign(params)
	resp, err := r.client.R().
		SetContext(ctx).
		SetQueryString(query).
		Get(path)
	if err != nil {
		return err
	}
	return r.decode(resp, out)
}

func (r *BinanceFuturesRepository) signedPost(ctx context.Context, path string, params map[string]string, out interface{}) error {
	if err := r.limiter.Wait(ctx); err != nil {
		return err
	}
	query := r.sign(params)
	resp, err := r.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/x-www-form-urlencoded").
		SetBody(query).
		Post(path)
	if err != nil {
		return err
	}
	return r.decode(resp, out)
}

func (r *BinanceFuturesRepository) sign(params map[string]string) string {
	values := url.Values{}
	for k, v := range params {
		if v != "" {
			values.Set(k, v)
		}
	}
	values.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))
	values.Set("recvWindow", "5000")

	payload := values.Encode()
	mac := hmac.New(sha256.New, []byte(r.cfg.Exchange.APISecret))
	mac.Write([]byte(payload))
	return payload + "&signature=" + hex.EncodeToString(mac.Sum(nil))
}

func (r *BinanceFuturesRepository) decode(resp *resty.Response, out interface{}) error {
	if resp.IsError() {
		var exchErr ExchangeError
		if err := json.Unmarshal(resp.Body(), &exchErr); err == nil && exchErr.Code != 0 {
			return &exchErr
		}
		return fmt.Errorf("exchange returned status %d: %s", resp.StatusCode(), resp.String())
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return fmt.Errorf("failed to decode exchange response: %w", err)
	}
	return nil
}

func roundToStep(value float64, step decimal.Decimal) string {
	v := decimal.NewFromFloat(value)
	if step.IsZero() {
		return v.String()
	}
	return v.Div(step).Floor().Mul(step).String()
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}
