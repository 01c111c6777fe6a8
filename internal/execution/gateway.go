package execution

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"cryptoTrendBot/internal/domain"
	"cryptoTrendBot/internal/metrics"
	"cryptoTrendBot/internal/ports"
)

// Fill reports what actually executed, which may differ from the request due
// to slippage or partial fill reporting.
type Fill struct {
	Price    float64
	Quantity float64
}

// Gateway converts trading intents into exchange market orders and runs the
// confirm-and-retry protocol: after a nominally successful submission, the
// exchange's authoritative position query is polled until the expected
// post-condition is observed. The gateway never mutates engine or ledger
// state; a failure means no local side effect may be assumed by the caller.
type Gateway struct {
	exchange  ports.ExchangeClient
	logger    ports.Logger
	metrics   *metrics.Metrics
	symbol    string
	sizer     Sizer
	policy    RetryPolicy
	hedgeMode bool
}

// Config holds the gateway's dependencies and order-shaping parameters.
type Config struct {
	Exchange  ports.ExchangeClient
	Logger    ports.Logger
	Metrics   *metrics.Metrics
	Symbol    string
	Sizer     Sizer
	Policy    RetryPolicy
	HedgeMode bool
}

// NewGateway creates an order execution gateway.
func NewGateway(cfg Config) (*Gateway, error) {
	if cfg.Exchange == nil || cfg.Logger == nil {
		return nil, fmt.Errorf("exchange client and logger are required for the gateway")
	}
	if cfg.Symbol == "" {
		return nil, fmt.Errorf("symbol is required for the gateway")
	}
	return &Gateway{
		exchange:  cfg.Exchange,
		logger:    cfg.Logger,
		metrics:   cfg.Metrics,
		symbol:    cfg.Symbol,
		sizer:     cfg.Sizer,
		policy:    cfg.Policy.withDefaults(),
		hedgeMode: cfg.HedgeMode,
	}, nil
}

// Open submits a market order establishing a position in the given direction
// and confirms it against the exchange's position query. refPrice is used for
// sizing and as the fill-price fallback when the exchange omits an average
// price. capital, riskFraction and leverage drive quantity derivation.
func (g *Gateway) Open(ctx context.Context, side domain.PositionSide, refPrice, capital, riskFraction float64, leverage int) (*Fill, error) {
	op := "Open"
	if side != domain.SideLong && side != domain.SideShort {
		return nil, fmt.Errorf("cannot open a %s position", side)
	}
	qty, err := g.sizer.Quantity(refPrice, capital, riskFraction, leverage)
	if err != nil {
		return nil, fmt.Errorf("sizing open order: %w", err)
	}
	qtyStr := g.sizer.Format(qty)

	var lastErr error
	for attempt := 1; attempt <= g.policy.MaxAttempts; attempt++ {
		if attempt > 1 {
			if err := sleep(ctx, g.policy.AttemptDelay); err != nil {
				return nil, err
			}
		}
		res, err := g.exchange.SubmitMarketOrder(ctx, g.symbol, side.OrderSide(), qtyStr, false, g.positionSide(side), uuid.New().String())
		if err != nil {
			lastErr = err
			g.countOrder(side, "failed")
			g.logger.Warn(ctx, op+": order submission failed, will retry", map[string]interface{}{
				"symbol": g.symbol, "side": side, "quantity": qtyStr, "attempt": attempt, "error": err.Error(),
			})
			continue
		}

		pos, err := g.awaitPresent(ctx, side)
		if err != nil {
			lastErr = err
			g.countOrder(side, "failed")
			g.logger.Warn(ctx, op+": position not confirmed within timeout", map[string]interface{}{
				"symbol": g.symbol, "side": side, "attempt": attempt,
			})
			continue
		}

		fill := &Fill{Price: res.ExecutedPrice, Quantity: pos.AbsQuantity()}
		if fill.Price == 0 {
			if pos.EntryPrice > 0 {
				fill.Price = pos.EntryPrice
			} else {
				fill.Price = refPrice
			}
		}
		if fill.Quantity == 0 {
			fill.Quantity = qty
		}
		g.countOrder(side, "confirmed")
		g.logger.Info(ctx, op+": position confirmed", map[string]interface{}{
			"symbol": g.symbol, "side": side, "price": fill.Price, "quantity": fill.Quantity, "attempt": attempt,
		})
		return fill, nil
	}
	return nil, fmt.Errorf("open %s %s after %d attempts: %w (last: %v)",
		side, g.symbol, g.policy.MaxAttempts, ports.ErrRetriesExhausted, lastErr)
}

// Close submits reduce-only market orders sized to the held quantity until
// the exchange reports no remaining position. On success the returned Fill
// covers the full held quantity and remaining is 0. On failure remaining is
// the exchange-reported residual, so the caller can shrink its local position
// to what is actually left (partial fill) before the next evaluation.
func (g *Gateway) Close(ctx context.Context, pos domain.Position, refPrice float64) (fill *Fill, remaining float64, err error) {
	op := "Close"
	if pos.IsFlat() {
		return nil, 0, fmt.Errorf("no open position to close")
	}
	remaining = pos.Quantity
	closeSide := pos.Side.Opposite().OrderSide()
	var lastPrice float64
	var lastErr error

	for attempt := 1; attempt <= g.policy.MaxAttempts; attempt++ {
		if attempt > 1 {
			if err := sleep(ctx, g.policy.AttemptDelay); err != nil {
				return nil, remaining, err
			}
		}
		res, err := g.exchange.SubmitMarketOrder(ctx, g.symbol, closeSide, g.sizer.Format(remaining), true, g.positionSide(pos.Side), uuid.New().String())
		if err != nil {
			lastErr = err
			g.countOrder(pos.Side, "failed")
			g.logger.Warn(ctx, op+": close submission failed, will retry", map[string]interface{}{
				"symbol": g.symbol, "side": pos.Side, "quantity": remaining, "attempt": attempt, "error": err.Error(),
			})
			continue
		}
		if res.ExecutedPrice > 0 {
			lastPrice = res.ExecutedPrice
		}

		residual, err := g.awaitAbsent(ctx, pos.Side)
		if err == nil {
			price := lastPrice
			if price == 0 {
				price = refPrice
			}
			g.countOrder(pos.Side, "confirmed")
			g.logger.Info(ctx, op+": position fully closed", map[string]interface{}{
				"symbol": g.symbol, "side": pos.Side, "price": price, "quantity": pos.Quantity, "attempt": attempt,
			})
			return &Fill{Price: price, Quantity: pos.Quantity}, 0, nil
		}
		lastErr = err
		if residual > 0 && residual < remaining {
			// Partial fill: next retry closes only what the exchange still reports.
			remaining = residual
			g.logger.Warn(ctx, op+": partial close detected", map[string]interface{}{
				"symbol": g.symbol, "side": pos.Side, "remaining": remaining, "attempt": attempt,
			})
		}
		g.countOrder(pos.Side, "failed")
	}
	return nil, remaining, fmt.Errorf("close %s %s after %d attempts: %w (last: %v)",
		pos.Side, g.symbol, g.policy.MaxAttempts, ports.ErrRetriesExhausted, lastErr)
}

// awaitPresent polls until a non-zero position on the given side is reported
// or the confirmation window elapses.
func (g *Gateway) awaitPresent(ctx context.Context, side domain.PositionSide) (*ports.ExchangePosition, error) {
	deadline := time.Now().Add(g.policy.ConfirmTimeout)
	for {
		g.countPoll()
		pos, err := g.exchange.QueryPosition(ctx, g.symbol, side)
		if err != nil {
			g.logger.Debug(ctx, "confirm poll failed", map[string]interface{}{"symbol": g.symbol, "error": err.Error()})
		} else if pos != nil && pos.Side() == side && pos.AbsQuantity() > 0 {
			return pos, nil
		}
		if time.Now().After(deadline) {
			return nil, ports.ErrConfirmationTimeout
		}
		if err := sleep(ctx, g.policy.PollInterval); err != nil {
			return nil, err
		}
	}
}

// awaitAbsent polls until no position remains on the given side. On timeout
// it returns the last reported residual quantity alongside the error.
func (g *Gateway) awaitAbsent(ctx context.Context, side domain.PositionSide) (float64, error) {
	deadline := time.Now().Add(g.policy.ConfirmTimeout)
	residual := 0.0
	for {
		g.countPoll()
		pos, err := g.exchange.QueryPosition(ctx, g.symbol, side)
		if err != nil {
			g.logger.Debug(ctx, "confirm poll failed", map[string]interface{}{"symbol": g.symbol, "error": err.Error()})
		} else if pos == nil || pos.AbsQuantity() == 0 {
			return 0, nil
		} else {
			residual = pos.AbsQuantity()
		}
		if time.Now().After(deadline) {
			return residual, ports.ErrConfirmationTimeout
		}
		if err := sleep(ctx, g.policy.PollInterval); err != nil {
			return residual, err
		}
	}
}

// positionSide selects the hedge-mode leg; one-way accounts pass no leg.
func (g *Gateway) positionSide(side domain.PositionSide) domain.PositionSide {
	if g.hedgeMode {
		return side
	}
	return domain.SideFlat
}

func (g *Gateway) countOrder(side domain.PositionSide, outcome string) {
	if g.metrics != nil {
		g.metrics.Orders.WithLabelValues(string(side), outcome).Inc()
	}
}

func (g *Gateway) countPoll() {
	if g.metrics != nil {
		g.metrics.ConfirmPolls.Inc()
	}
}
