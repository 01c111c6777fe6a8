// Package reconcile keeps the engine's local position belief consistent with
// the exchange. The exchange's reported position is authoritative; local
// state is a cache that is repaired, never trusted over the exchange.
package reconcile

import (
	"context"
	"fmt"

	"cryptoTrendBot/internal/domain"
	"cryptoTrendBot/internal/metrics"
	"cryptoTrendBot/internal/ports"
)

// Reconciler queries exchange position truth on behalf of the engine.
type Reconciler struct {
	exchange ports.ExchangeClient
	logger   ports.Logger
	metrics  *metrics.Metrics
	symbol   string
}

// New creates a reconciler for a single symbol.
func New(exchange ports.ExchangeClient, logger ports.Logger, m *metrics.Metrics, symbol string) (*Reconciler, error) {
	if exchange == nil || logger == nil {
		return nil, fmt.Errorf("exchange client and logger are required for the reconciler")
	}
	if symbol == "" {
		return nil, fmt.Errorf("symbol is required for the reconciler")
	}
	return &Reconciler{exchange: exchange, logger: logger, metrics: m, symbol: symbol}, nil
}

// Truth returns the exchange's current position for the symbol, or nil when
// the exchange reports none.
func (r *Reconciler) Truth(ctx context.Context) (*ports.ExchangePosition, error) {
	return r.exchange.QueryPosition(ctx, r.symbol, domain.SideFlat)
}

// Opposing returns the exchange position standing against the intended open
// direction, if one exists. An open must never proceed while an opposing
// exchange position stands; the required sequence is close-then-open.
func (r *Reconciler) Opposing(ctx context.Context, intended domain.PositionSide) (*ports.ExchangePosition, error) {
	opposite := intended.Opposite()
	pos, err := r.exchange.QueryPosition(ctx, r.symbol, opposite)
	if err != nil {
		return nil, err
	}
	if pos != nil && pos.Side() == opposite && pos.AbsQuantity() > 0 {
		return pos, nil
	}
	return nil, nil
}

// Holds reports whether the exchange actually has a position on the given
// side. Called before a close: a false result means the position is already
// gone (manual intervention, prior partial success) and the engine should
// treat itself as flat.
func (r *Reconciler) Holds(ctx context.Context, side domain.PositionSide) (bool, *ports.ExchangePosition, error) {
	pos, err := r.exchange.QueryPosition(ctx, r.symbol, side)
	if err != nil {
		return false, nil, err
	}
	if pos != nil && pos.Side() == side && pos.AbsQuantity() > 0 {
		return true, pos, nil
	}
	return false, nil, nil
}

// Adopt converts an exchange-reported position into the engine's local
// representation. The open fee is recorded as zero since the true fee of a
// position opened outside this engine's order flow is unknowable.
func (r *Reconciler) Adopt(ctx context.Context, pos *ports.ExchangePosition) domain.Position {
	if pos == nil || pos.AbsQuantity() == 0 {
		return domain.Flat()
	}
	adopted := domain.Open(pos.Side(), pos.EntryPrice, pos.AbsQuantity(), 0)
	r.count("adopt")
	r.logger.Warn(ctx, "Adopting exchange-reported position into local state", map[string]interface{}{
		"symbol":     r.symbol,
		"side":       adopted.Side,
		"entryPrice": adopted.EntryPrice,
		"quantity":   adopted.Quantity,
	})
	return adopted
}

// Repair compares local belief against exchange truth and returns the
// corrected position plus whether a repair was needed. Side and quantity
// always follow the exchange; when the side matches, the locally stored
// entry fee is preserved so close-side accounting stays accurate.
func (r *Reconciler) Repair(ctx context.Context, local domain.Position, truth *ports.ExchangePosition) (domain.Position, bool) {
	truthSide := truth.Side()
	switch {
	case truthSide == domain.SideFlat && local.IsFlat():
		return local, false
	case truthSide == domain.SideFlat:
		r.count("clear")
		r.logger.Warn(ctx, "Exchange reports no position; clearing local state", map[string]interface{}{
			"symbol": r.symbol, "localSide": local.Side, "localQuantity": local.Quantity,
		})
		return domain.Flat(), true
	case local.IsFlat():
		return r.Adopt(ctx, truth), true
	case local.Side != truthSide:
		return r.Adopt(ctx, truth), true
	case local.Quantity != truth.AbsQuantity() || local.EntryPrice != truth.EntryPrice:
		r.count("resize")
		r.logger.Warn(ctx, "Exchange position differs from local belief; preferring exchange truth", map[string]interface{}{
			"symbol": r.symbol, "localQuantity": local.Quantity, "exchangeQuantity": truth.AbsQuantity(),
		})
		return domain.Open(truthSide, truth.EntryPrice, truth.AbsQuantity(), local.OpenFee), true
	default:
		return local, false
	}
}

func (r *Reconciler) count(kind string) {
	if r.metrics != nil {
		r.metrics.Reconciliations.WithLabelValues(kind).Inc()
	}
}
