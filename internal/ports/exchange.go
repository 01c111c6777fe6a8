package ports

import (
	"context"
	"time"

	"cryptoTrendBot/internal/domain"
)

// OrderResult holds the essential details the exchange reports for a submitted order.
type OrderResult struct {
	OrderID       int64     // Exchange's order ID
	ClientOrderID string    // Caller-supplied dedupe ID
	ExecutedPrice float64   // Average filled price (0 if not yet reported)
	ExecutedQty   float64   // Quantity filled so far
	Status        string    // Order status (e.g., NEW, FILLED, EXPIRED)
	Timestamp     time.Time // Time the order response was generated
}

// Filled reports whether the exchange acknowledged an actual execution.
func (r *OrderResult) Filled() bool {
	return r != nil && (r.Status == "FILLED" || r.ExecutedQty > 0)
}

// ExchangePosition is the exchange's authoritative view of an open position.
// Quantity is signed: positive for long, negative for short.
type ExchangePosition struct {
	Symbol        string
	Quantity      float64
	EntryPrice    float64
	Margin        float64
	UnrealizedPnL float64
	Leverage      int
}

// Side derives the position direction from the signed quantity.
func (p *ExchangePosition) Side() domain.PositionSide {
	switch {
	case p == nil || p.Quantity == 0:
		return domain.SideFlat
	case p.Quantity > 0:
		return domain.SideLong
	default:
		return domain.SideShort
	}
}

// AbsQuantity returns the unsigned position size.
func (p *ExchangePosition) AbsQuantity() float64 {
	if p == nil {
		return 0
	}
	if p.Quantity < 0 {
		return -p.Quantity
	}
	return p.Quantity
}

// SymbolFilters are the exchange's order-size constraints for a symbol.
type SymbolFilters struct {
	StepSize    float64 // Minimum quantity increment
	MinNotional float64 // Minimum price*quantity per order
}

// ExchangeClient defines the interface for interacting with a cryptocurrency exchange.
// This abstraction allows decoupling the core engine from specific exchange implementations.
type ExchangeClient interface {
	// SetServerTime synchronizes the client's time with the server's time.
	SetServerTime(ctx context.Context) error

	// GetTickerPrice retrieves the last ticker price for a given symbol.
	GetTickerPrice(ctx context.Context, symbol string) (float64, error)

	// GetAccountBalance retrieves the available balance for a specific asset (e.g., "USDT").
	GetAccountBalance(ctx context.Context, asset string) (float64, error)

	// SetLeverage sets the leverage for a specific symbol. Idempotent setup call.
	SetLeverage(ctx context.Context, symbol string, leverage int) error

	// SetHedgeMode switches the account between one-way and hedge position mode.
	// Idempotent: "already in this mode" responses are not errors.
	SetHedgeMode(ctx context.Context, enabled bool) error

	// GetSymbolFilters retrieves the quantity step size and minimum notional for a symbol.
	GetSymbolFilters(ctx context.Context, symbol string) (*SymbolFilters, error)

	// SubmitMarketOrder places a market order. Close orders set reduceOnly so they
	// can only shrink exposure. In hedge mode, positionSide selects the leg; pass
	// SideFlat in one-way mode. clientOrderID makes retried submissions dedupe-safe.
	SubmitMarketOrder(ctx context.Context, symbol string, side domain.OrderSide, quantity string, reduceOnly bool, positionSide domain.PositionSide, clientOrderID string) (*OrderResult, error)

	// QueryPosition retrieves the exchange's authoritative position for a symbol.
	// preferSide disambiguates hedge-mode accounts holding both legs; pass SideFlat
	// to accept any non-zero leg. Returns nil, nil when no position exists.
	QueryPosition(ctx context.Context, symbol string, preferSide domain.PositionSide) (*ExchangePosition, error)

	// GetKlines retrieves the most recent historical klines for the given symbol.
	GetKlines(ctx context.Context, symbol string, interval string, limit int) ([]*domain.Kline, error)

	// GetKlinesRange retrieves all klines between start and end time.
	GetKlinesRange(ctx context.Context, symbol, interval string, start, end time.Time) ([]*domain.Kline, error)

	// StreamKlines starts a WebSocket stream for K-line/candlestick data.
	// It takes handlers for processing domain.Kline events and errors.
	// Returns channels to control the stream (doneCh, stopCh) or an error if connection fails.
	StreamKlines(ctx context.Context, symbol, interval string, handler func(kline *domain.Kline), errHandler func(err error)) (doneCh chan struct{}, stopCh chan struct{}, err error)

	// Ping checks the connectivity to the exchange API.
	Ping(ctx context.Context) error
}
