// Package binanceclient implements ports.ExchangeClient against Binance
// USD-M futures through the go-binance library.
package binanceclient

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"cryptoTrendBot/internal/domain"
	"cryptoTrendBot/internal/ports"

	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"
)

const (
	baseURLProduction = "https://fapi.binance.com"
	baseURLTestnet    = "https://testnet.binancefuture.com"

	// Binance: "No need to change position side." Returned when the account is
	// already in the requested mode; harmless for an idempotent setup call.
	codeNoPositionSideChange = -4059
)

// Client adapts the Binance futures API to ports.ExchangeClient.
type Client struct {
	futuresClient        *futures.Client
	logger               ports.Logger
	reconnectDelay       time.Duration
	maxReconnectAttempts int
}

// Config holds configuration for the Binance client adapter.
type Config struct {
	APIKey               string
	SecretKey            string
	UseTestnet           bool
	Logger               ports.Logger
	ReconnectDelay       time.Duration
	MaxReconnectAttempts int
}

// New creates a Binance client adapter.
func New(cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for Binance client")
	}
	if cfg.APIKey == "" || cfg.SecretKey == "" {
		cfg.Logger.Warn(context.Background(), "APIKey or SecretKey is empty; only public endpoints will work")
	}

	client := futures.NewClient(cfg.APIKey, cfg.SecretKey)
	if cfg.UseTestnet {
		client.BaseURL = baseURLTestnet
	} else {
		client.BaseURL = baseURLProduction
	}
	cfg.Logger.Info(context.Background(), "Binance client configured", map[string]interface{}{
		"baseURL": client.BaseURL, "testnet": cfg.UseTestnet,
	})

	reconnectDelay := cfg.ReconnectDelay
	if reconnectDelay <= 0 {
		reconnectDelay = time.Second
	}
	maxAttempts := cfg.MaxReconnectAttempts
	if maxAttempts <= 0 {
		maxAttempts = 10
	}

	return &Client{
		futuresClient:        client,
		logger:               cfg.Logger,
		reconnectDelay:       reconnectDelay,
		maxReconnectAttempts: maxAttempts,
	}, nil
}

// apiErrorCodes maps Binance API error codes to port sentinel errors.
var apiErrorCodes = map[int64]error{
	-1003: ports.ErrRateLimited,            // too many requests
	-1021: ports.ErrTimeout,                // timestamp outside recvWindow
	-1022: ports.ErrAuthenticationFailed,   // invalid signature
	-2010: ports.ErrOrderPlacementFailed,   // new order rejected
	-2013: ports.ErrNotFound,               // order does not exist
	-2014: ports.ErrInvalidAPIKeys,         // API-key format invalid
	-2015: ports.ErrInvalidAPIKeys,         // invalid key, IP or permissions
	-2019: ports.ErrInsufficientFunds,      // margin insufficient
	-2022: ports.ErrOrderPlacementFailed,   // reduce-only order rejected
	-3005: ports.ErrInsufficientFunds,      // insufficient balance
	-3041: ports.ErrInsufficientFunds,      // position not sufficient
	-4003: ports.ErrInvalidRequest,         // quantity out of range
	-4014: ports.ErrInvalidRequest,         // price out of range
	-4015: ports.ErrInvalidRequest,         // invalid leverage
	-4044: ports.ErrPositionNotFound,       // position not found
	-4047: ports.ErrInsufficientFunds,      // max position at current leverage
}

// handleError translates Binance API and transport errors into port errors.
func (c *Client) handleError(ctx context.Context, err error, operation string) error {
	if err == nil {
		return nil
	}

	fields := map[string]interface{}{"operation": operation, "originalError": err.Error()}

	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		fields["apiErrorCode"] = apiErr.Code
		fields["apiErrorMessage"] = apiErr.Message

		mapped, ok := apiErrorCodes[apiErr.Code]
		if !ok {
			if apiErr.Code <= -1100 && apiErr.Code >= -1130 {
				mapped = ports.ErrInvalidRequest // parameter / request format errors
			} else {
				mapped = ports.ErrUnknown
			}
		}
		c.logger.Error(ctx, err, operation+" failed with API error", fields)
		return fmt.Errorf("%s failed: %w: %w", operation, mapped, err)
	}

	var finalErr error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrTimeout, err)
	case errors.Is(err, context.Canceled):
		finalErr = fmt.Errorf("%s canceled: %w: %w", operation, ports.ErrContextCanceled, err)
	case strings.Contains(err.Error(), "use of closed network connection"),
		strings.Contains(err.Error(), "connection refused"),
		strings.Contains(err.Error(), "connection reset by peer"):
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrConnectionFailed, err)
	default:
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrUnknown, err)
	}

	c.logger.Error(ctx, err, operation+" failed", fields)
	return finalErr
}

// SetServerTime synchronizes the client's time offset with the server.
func (c *Client) SetServerTime(ctx context.Context) error {
	op := "SetServerTime"
	if _, err := c.futuresClient.NewSetServerTimeService().Do(ctx); err != nil {
		return c.handleError(ctx, err, op)
	}
	c.logger.Debug(ctx, op+" successful")
	return nil
}

// GetTickerPrice retrieves the last traded price for a symbol.
func (c *Client) GetTickerPrice(ctx context.Context, symbol string) (float64, error) {
	op := "GetTickerPrice"
	tickers, err := c.futuresClient.NewListPriceChangeStatsService().Symbol(symbol).Do(ctx)
	if err != nil {
		return 0, c.handleError(ctx, err, op)
	}
	if len(tickers) == 0 {
		return 0, c.handleError(ctx, fmt.Errorf("no ticker data returned for symbol %s", symbol), op)
	}

	price, err := strconv.ParseFloat(tickers[0].LastPrice, 64)
	if err != nil {
		return 0, c.handleError(ctx, fmt.Errorf("could not parse price '%s': %w", tickers[0].LastPrice, err), op)
	}
	return price, nil
}

// GetAccountBalance retrieves the wallet balance for an asset (e.g. "USDT").
func (c *Client) GetAccountBalance(ctx context.Context, asset string) (float64, error) {
	op := "GetAccountBalance"
	account, err := c.futuresClient.NewGetAccountService().Do(ctx)
	if err != nil {
		return 0, c.handleError(ctx, err, op)
	}

	for _, bal := range account.Assets {
		if bal.Asset != asset {
			continue
		}
		balance, err := strconv.ParseFloat(bal.WalletBalance, 64)
		if err != nil {
			return 0, c.handleError(ctx, fmt.Errorf("could not parse balance '%s' for asset %s: %w", bal.WalletBalance, asset, err), op)
		}
		return balance, nil
	}
	return 0, c.handleError(ctx, fmt.Errorf("asset %s not found in account balance", asset), op)
}

// SetLeverage sets the leverage for a symbol.
func (c *Client) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	op := "SetLeverage"
	_, err := c.futuresClient.NewChangeLeverageService().
		Symbol(symbol).
		Leverage(leverage).
		Do(ctx)
	if err != nil {
		return c.handleError(ctx, err, op)
	}
	c.logger.Info(ctx, op+" successful", map[string]interface{}{"symbol": symbol, "leverage": leverage})
	return nil
}

// SetHedgeMode switches the account between one-way and hedge position mode.
// The "no need to change" response counts as success.
func (c *Client) SetHedgeMode(ctx context.Context, enabled bool) error {
	op := "SetHedgeMode"
	err := c.futuresClient.NewChangePositionModeService().DualSide(enabled).Do(ctx)
	if err != nil {
		var apiErr *common.APIError
		if errors.As(err, &apiErr) && apiErr.Code == codeNoPositionSideChange {
			c.logger.Debug(ctx, op+": position mode already set", map[string]interface{}{"hedgeMode": enabled})
			return nil
		}
		return c.handleError(ctx, err, op)
	}
	c.logger.Info(ctx, op+" successful", map[string]interface{}{"hedgeMode": enabled})
	return nil
}

// GetSymbolFilters retrieves the quantity step size and minimum notional for
// a symbol from the exchange info endpoint.
func (c *Client) GetSymbolFilters(ctx context.Context, symbol string) (*ports.SymbolFilters, error) {
	op := "GetSymbolFilters"
	info, err := c.futuresClient.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}

	for _, s := range info.Symbols {
		if s.Symbol != symbol {
			continue
		}
		filters := &ports.SymbolFilters{}
		if f := s.LotSizeFilter(); f != nil {
			step, err := strconv.ParseFloat(f.StepSize, 64)
			if err != nil {
				return nil, c.handleError(ctx, fmt.Errorf("could not parse step size '%s': %w", f.StepSize, err), op)
			}
			filters.StepSize = step
		}
		if f := s.MinNotionalFilter(); f != nil {
			minNotional, err := strconv.ParseFloat(f.Notional, 64)
			if err != nil {
				return nil, c.handleError(ctx, fmt.Errorf("could not parse min notional '%s': %w", f.Notional, err), op)
			}
			filters.MinNotional = minNotional
		}
		if filters.StepSize <= 0 {
			return nil, c.handleError(ctx, fmt.Errorf("symbol %s reports no lot size filter", symbol), op)
		}
		c.logger.Debug(ctx, op+" successful", map[string]interface{}{
			"symbol": symbol, "stepSize": filters.StepSize, "minNotional": filters.MinNotional,
		})
		return filters, nil
	}
	return nil, c.handleError(ctx, fmt.Errorf("symbol %s not found in exchange info: %w", symbol, ports.ErrNotFound), op)
}

// SubmitMarketOrder places a market order and returns the exchange's fill
// report. reduceOnly is only valid in one-way mode; in hedge mode the
// position side itself scopes the order to a leg.
func (c *Client) SubmitMarketOrder(ctx context.Context, symbol string, side domain.OrderSide, quantity string, reduceOnly bool, positionSide domain.PositionSide, clientOrderID string) (*ports.OrderResult, error) {
	op := "SubmitMarketOrder"

	svc := c.futuresClient.NewCreateOrderService().
		Symbol(symbol).
		Side(futures.SideType(side)).
		Type(futures.OrderTypeMarket).
		Quantity(quantity).
		NewOrderResponseType(futures.NewOrderRespTypeRESULT)
	if clientOrderID != "" {
		svc = svc.NewClientOrderID(clientOrderID)
	}
	if positionSide != domain.SideFlat {
		svc = svc.PositionSide(futures.PositionSideType(positionSide))
	} else if reduceOnly {
		svc = svc.ReduceOnly(true)
	}

	order, err := svc.Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}

	result := translateOrder(order)
	c.logger.Info(ctx, op+" successful", map[string]interface{}{
		"symbol": symbol, "side": side, "quantity": quantity, "reduceOnly": reduceOnly,
		"orderID": result.OrderID, "status": result.Status, "executedQty": result.ExecutedQty,
	})
	return result, nil
}

// QueryPosition retrieves the exchange's authoritative position for a symbol.
// Returns nil, nil when the exchange holds nothing. preferSide picks the
// matching hedge-mode leg when both are open.
func (c *Client) QueryPosition(ctx context.Context, symbol string, preferSide domain.PositionSide) (*ports.ExchangePosition, error) {
	op := "QueryPosition"
	positions, err := c.futuresClient.NewGetPositionRiskService().Symbol(symbol).Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}

	var fallback *ports.ExchangePosition
	for _, p := range positions {
		pos, err := translatePosition(p)
		if err != nil {
			return nil, c.handleError(ctx, err, op)
		}
		if pos == nil {
			continue
		}
		if preferSide == domain.SideFlat || pos.Side() == preferSide {
			return pos, nil
		}
		if fallback == nil {
			fallback = pos
		}
	}
	if fallback != nil {
		return fallback, nil
	}
	c.logger.Debug(ctx, op+": no open position", map[string]interface{}{"symbol": symbol})
	return nil, nil
}

// GetKlines retrieves the most recent historical klines for a symbol.
func (c *Client) GetKlines(ctx context.Context, symbol string, interval string, limit int) ([]*domain.Kline, error) {
	op := "GetKlines"
	binanceKlines, err := c.futuresClient.NewKlinesService().Symbol(symbol).Interval(interval).Limit(limit).Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}

	klines := make([]*domain.Kline, 0, len(binanceKlines))
	for _, bk := range binanceKlines {
		dk, err := translateKline(bk, symbol, interval)
		if err != nil {
			return nil, c.handleError(ctx, fmt.Errorf("failed to translate historical kline: %w", err), op)
		}
		klines = append(klines, dk)
	}
	return klines, nil
}

// GetKlinesRange fetches all klines for a symbol/interval between start and
// end, paging through the API limit.
func (c *Client) GetKlinesRange(ctx context.Context, symbol, interval string, start, end time.Time) ([]*domain.Kline, error) {
	op := "GetKlinesRange"
	const maxLimit = 1500

	var all []*domain.Kline
	from := start
	for {
		page, err := c.futuresClient.NewKlinesService().
			Symbol(symbol).
			Interval(interval).
			StartTime(from.UnixMilli()).
			EndTime(end.UnixMilli()).
			Limit(maxLimit).
			Do(ctx)
		if err != nil {
			return nil, c.handleError(ctx, err, op)
		}
		if len(page) == 0 {
			break
		}
		for _, bk := range page {
			dk, err := translateKline(bk, symbol, interval)
			if err != nil {
				return nil, c.handleError(ctx, fmt.Errorf("failed to translate kline range: %w", err), op)
			}
			all = append(all, dk)
		}
		last := page[len(page)-1]
		from = time.UnixMilli(last.CloseTime)
		if from.After(end) || len(page) < maxLimit {
			break
		}
	}
	return all, nil
}

// StreamKlines starts a WebSocket kline stream with automatic reconnection.
// doneCh closes when the stream permanently stops; sending on stopCh (or
// cancelling ctx) shuts it down.
func (c *Client) StreamKlines(ctx context.Context, symbol, interval string, handler func(kline *domain.Kline), errHandler func(err error)) (doneCh chan struct{}, stopCh chan struct{}, err error) {
	op := "StreamKlines"
	wsCtx, cancelWs := context.WithCancel(ctx)

	binanceHandler := func(event *futures.WsKlineEvent) {
		dk, err := translateWsKline(event)
		if err != nil {
			c.logger.Error(wsCtx, err, op+": failed to translate kline event")
			return
		}
		handler(dk)
	}
	binanceErrHandler := func(err error) {
		errHandler(c.handleError(wsCtx, err, op+" websocket"))
	}

	go func() {
		defer cancelWs()

		attempt := 0
		for {
			if wsCtx.Err() != nil {
				return
			}

			c.logger.Info(wsCtx, op+": connecting", map[string]interface{}{
				"symbol": symbol, "interval": interval, "attempt": attempt + 1,
			})
			innerDoneCh, innerStopCh, connectErr := futures.WsKlineServe(symbol, interval, binanceHandler, binanceErrHandler)
			if connectErr != nil {
				c.handleError(wsCtx, connectErr, op+" connection attempt")
				attempt++
				if attempt >= c.maxReconnectAttempts {
					c.logger.Error(wsCtx, connectErr, op+": max reconnection attempts exceeded, giving up", map[string]interface{}{
						"symbol": symbol, "interval": interval, "maxAttempts": c.maxReconnectAttempts,
					})
					return
				}
				backoff := c.reconnectDelay * time.Duration(1<<uint(attempt-1))
				select {
				case <-time.After(backoff):
					continue
				case <-wsCtx.Done():
					return
				}
			}

			c.logger.Info(wsCtx, op+": connection established", map[string]interface{}{"symbol": symbol, "interval": interval})
			attempt = 0

			select {
			case <-innerDoneCh:
				c.logger.Warn(wsCtx, op+": connection closed unexpectedly, reconnecting", map[string]interface{}{
					"symbol": symbol, "interval": interval,
				})
			case <-wsCtx.Done():
				select {
				case innerStopCh <- struct{}{}:
				default:
				}
				return
			}
		}
	}()

	doneCh = make(chan struct{})
	stopCh = make(chan struct{})

	go func() {
		select {
		case <-stopCh:
			cancelWs()
		case <-wsCtx.Done():
		}
	}()
	go func() {
		<-wsCtx.Done()
		close(doneCh)
	}()

	return doneCh, stopCh, nil
}

// Ping checks connectivity to the exchange API.
func (c *Client) Ping(ctx context.Context) error {
	op := "Ping"
	if err := c.futuresClient.NewPingService().Do(ctx); err != nil {
		return c.handleError(ctx, err, op)
	}
	return nil
}

// --- Translation helpers ---

func translateOrder(order *futures.CreateOrderResponse) *ports.OrderResult {
	if order == nil {
		return nil
	}
	avgPrice, _ := strconv.ParseFloat(order.AvgPrice, 64)
	execQty, _ := strconv.ParseFloat(order.ExecutedQuantity, 64)

	return &ports.OrderResult{
		OrderID:       order.OrderID,
		ClientOrderID: order.ClientOrderID,
		ExecutedPrice: avgPrice,
		ExecutedQty:   execQty,
		Status:        string(order.Status),
		Timestamp:     time.UnixMilli(order.UpdateTime),
	}
}

// translatePosition maps a position risk record to the port type. A zero
// position amount means no position and yields nil.
func translatePosition(pos *futures.PositionRisk) (*ports.ExchangePosition, error) {
	if pos == nil {
		return nil, nil
	}
	qty, err := strconv.ParseFloat(pos.PositionAmt, 64)
	if err != nil {
		return nil, fmt.Errorf("parsing position amount '%s': %w", pos.PositionAmt, err)
	}
	if qty == 0 {
		return nil, nil
	}
	entryPrice, err := strconv.ParseFloat(pos.EntryPrice, 64)
	if err != nil {
		return nil, fmt.Errorf("parsing entry price '%s': %w", pos.EntryPrice, err)
	}
	margin, _ := strconv.ParseFloat(pos.IsolatedMargin, 64)
	unPnL, _ := strconv.ParseFloat(pos.UnRealizedProfit, 64)
	leverage, _ := strconv.Atoi(pos.Leverage)

	return &ports.ExchangePosition{
		Symbol:        pos.Symbol,
		Quantity:      qty,
		EntryPrice:    entryPrice,
		Margin:        margin,
		UnrealizedPnL: unPnL,
		Leverage:      leverage,
	}, nil
}

func translateWsKline(event *futures.WsKlineEvent) (*domain.Kline, error) {
	if event == nil {
		return nil, errors.New("received nil kline event")
	}
	k := event.Kline
	prices, err := parseFloats(k.Open, k.High, k.Low, k.Close, k.Volume)
	if err != nil {
		return nil, err
	}
	return &domain.Kline{
		OpenTime:  time.UnixMilli(k.StartTime),
		CloseTime: time.UnixMilli(k.EndTime),
		Symbol:    k.Symbol,
		Interval:  k.Interval,
		Open:      prices[0],
		High:      prices[1],
		Low:       prices[2],
		Close:     prices[3],
		Volume:    prices[4],
		IsFinal:   k.IsFinal,
	}, nil
}

func translateKline(bk *futures.Kline, symbol, interval string) (*domain.Kline, error) {
	if bk == nil {
		return nil, errors.New("received nil historical kline")
	}
	prices, err := parseFloats(bk.Open, bk.High, bk.Low, bk.Close, bk.Volume)
	if err != nil {
		return nil, err
	}
	return &domain.Kline{
		OpenTime:  time.UnixMilli(bk.OpenTime),
		CloseTime: time.UnixMilli(bk.CloseTime),
		Symbol:    symbol, // not carried in futures.Kline
		Interval:  interval,
		Open:      prices[0],
		High:      prices[1],
		Low:       prices[2],
		Close:     prices[3],
		Volume:    prices[4],
		// REST kline responses include the still-forming candle as the last
		// entry; only a candle whose close time has passed is final.
		IsFinal: !time.UnixMilli(bk.CloseTime).After(time.Now()),
	}, nil
}

func parseFloats(values ...string) ([]float64, error) {
	out := make([]float64, len(values))
	for i, v := range values {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("parsing numeric field '%s': %w", v, err)
		}
		out[i] = f
	}
	return out, nil
}
