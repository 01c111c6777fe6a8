// Package engine owns the trading decision core: the closed-price series,
// the EMA/SMA indicator state, the single live position and the wallet
// balance. Every mutation entry point serializes behind one lock so the
// realtime stream, the backfill sweep and the account poller can never
// interleave on the same state.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"cryptoTrendBot/internal/domain"
	"cryptoTrendBot/internal/execution"
	"cryptoTrendBot/internal/metrics"
	"cryptoTrendBot/internal/ports"
	"cryptoTrendBot/internal/strategy/indicators"
)

const defaultMaxSeriesLen = 1000

// OrderGateway executes trading intents against the exchange and confirms
// them. Implemented by execution.Gateway.
type OrderGateway interface {
	Open(ctx context.Context, side domain.PositionSide, refPrice, capital, riskFraction float64, leverage int) (*execution.Fill, error)
	Close(ctx context.Context, pos domain.Position, refPrice float64) (fill *execution.Fill, remaining float64, err error)
}

// PositionReconciler supplies exchange position truth and repairs local
// belief against it. Implemented by reconcile.Reconciler.
type PositionReconciler interface {
	Truth(ctx context.Context) (*ports.ExchangePosition, error)
	Opposing(ctx context.Context, intended domain.PositionSide) (*ports.ExchangePosition, error)
	Holds(ctx context.Context, side domain.PositionSide) (bool, *ports.ExchangePosition, error)
	Adopt(ctx context.Context, pos *ports.ExchangePosition) domain.Position
	Repair(ctx context.Context, local domain.Position, truth *ports.ExchangePosition) (domain.Position, bool)
}

// Config holds the engine's trading parameters.
type Config struct {
	Symbol         string
	Interval       string
	InitialBalance float64
	RiskFraction   float64 // Fraction of the balance committed per open
	Leverage       int
	FeeRate        float64
	EMAPeriod      int
	SMAPeriod      int
	SlopeLookback  int     // Samples the slope gate inspects (default 3)
	CrossEpsilon   float64 // Absolute tolerance for crossover detection
	UseClosedOnly  bool    // Advance indicators on finalized candles only
	UseSlope       bool    // Gate new entries on EMA slope
	MaxSeriesLen   int     // Cap on the in-memory close series (default 1000)
}

// Deps are the engine's collaborators.
type Deps struct {
	Logger     ports.Logger
	Klines     ports.KlineRepository
	Trades     ports.TradeRepository
	Wallet     ports.WalletRepository
	Positions  ports.PositionRepository
	Runs       ports.RunRepository
	Gateway    OrderGateway
	Reconciler PositionReconciler
	Metrics    *metrics.Metrics
}

// Engine is the trading decision and execution core for a single instrument.
type Engine struct {
	cfg  Config
	deps Deps

	mu           sync.RWMutex
	balance      float64
	position     domain.Position
	timestamps   []int64 // close_time ms, strictly increasing
	closes       []float64
	emaVals      []float64
	smaVals      []float64
	currentPrice float64
	latestKline  *domain.Kline // mutable in-progress candle view
	startedAt    time.Time
	truthOK      bool // last exchange position query succeeded
}

// New validates the configuration and creates an engine. Recovery and
// exchange reconciliation happen in Start.
func New(cfg Config, deps Deps) (*Engine, error) {
	if deps.Logger == nil || deps.Klines == nil || deps.Trades == nil || deps.Wallet == nil ||
		deps.Positions == nil || deps.Runs == nil || deps.Gateway == nil || deps.Reconciler == nil {
		return nil, fmt.Errorf("missing required dependencies for engine")
	}
	if cfg.Symbol == "" || cfg.Interval == "" {
		return nil, fmt.Errorf("symbol and interval must be set")
	}
	if cfg.EMAPeriod <= 0 || cfg.SMAPeriod <= 0 {
		return nil, fmt.Errorf("indicator periods must be positive")
	}
	if cfg.EMAPeriod >= cfg.SMAPeriod {
		return nil, fmt.Errorf("EMA period must be less than SMA period")
	}
	if cfg.RiskFraction <= 0 || cfg.RiskFraction > 1 {
		return nil, fmt.Errorf("risk fraction must be in (0, 1]")
	}
	if cfg.Leverage <= 0 {
		return nil, fmt.Errorf("leverage must be positive")
	}
	if cfg.FeeRate < 0 {
		return nil, fmt.Errorf("fee rate cannot be negative")
	}
	if cfg.InitialBalance <= 0 {
		return nil, fmt.Errorf("initial balance must be positive")
	}
	if cfg.SlopeLookback <= 0 {
		cfg.SlopeLookback = 3
	}
	if cfg.MaxSeriesLen <= 0 {
		cfg.MaxSeriesLen = defaultMaxSeriesLen
	}
	return &Engine{
		cfg:      cfg,
		deps:     deps,
		position: domain.Flat(),
	}, nil
}

// Start recovers durable state and reconciles it against exchange truth.
// Must be called once before feeding price updates.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.startedAt = time.Now().UTC()
	if err := e.deps.Runs.RecordStart(ctx, e.startedAt); err != nil {
		return fmt.Errorf("recording run start: %w", err)
	}

	if err := e.restoreBalance(ctx); err != nil {
		return err
	}
	if err := e.restorePosition(ctx); err != nil {
		return err
	}

	// Exchange truth wins over whatever the store said.
	truth, err := e.deps.Reconciler.Truth(ctx)
	if err != nil {
		e.truthOK = false
		e.deps.Logger.Warn(ctx, "Could not query exchange position at startup; keeping recovered state", map[string]interface{}{
			"symbol": e.cfg.Symbol, "error": err.Error(),
		})
	} else {
		e.truthOK = true
		if repaired, changed := e.deps.Reconciler.Repair(ctx, e.position, truth); changed {
			e.position = repaired
			if err := e.persistPosition(ctx); err != nil {
				return err
			}
		}
	}

	e.gaugeEquity()
	e.deps.Logger.Info(ctx, "Engine started", map[string]interface{}{
		"symbol":   e.cfg.Symbol,
		"interval": e.cfg.Interval,
		"balance":  e.balance,
		"side":     e.position.Side,
	})
	return nil
}

// restoreBalance seeds the wallet from the most recent snapshot, or records
// the configured initial balance as the accounting baseline on first run.
func (e *Engine) restoreBalance(ctx context.Context) error {
	balance, ok, err := e.deps.Wallet.LatestBalance(ctx)
	if err != nil {
		return fmt.Errorf("restoring balance: %w", err)
	}
	if ok {
		e.balance = balance
		return nil
	}
	e.balance = e.cfg.InitialBalance
	if err := e.deps.Wallet.AppendSnapshot(ctx, &domain.WalletSnapshot{Time: time.Now().UTC(), Balance: e.balance}); err != nil {
		return fmt.Errorf("seeding wallet baseline: %w", err)
	}
	return nil
}

// restorePosition prefers the dedicated current-position record and falls
// back to inference from the trade ledger. A disagreement between the two
// sources is surfaced, never silently ignored.
func (e *Engine) restorePosition(ctx context.Context) error {
	recorded, haveRecord, err := e.deps.Positions.FindOpen(ctx, e.cfg.Symbol)
	if err != nil {
		return fmt.Errorf("restoring position record: %w", err)
	}
	inferred, haveInferred, err := e.deps.Positions.InferOpenFromTrades(ctx, e.cfg.Symbol)
	if err != nil {
		return fmt.Errorf("inferring position from trades: %w", err)
	}

	switch {
	case haveRecord:
		e.position = recorded
		if haveInferred && inferred != recorded {
			e.deps.Logger.Warn(ctx, "Position record and ledger inference disagree; using the record", map[string]interface{}{
				"symbol": e.cfg.Symbol, "recordSide": recorded.Side, "inferredSide": inferred.Side,
			})
		}
	case haveInferred:
		e.position = inferred
		e.deps.Logger.Warn(ctx, "Recovered open position by ledger inference; dedicated record was absent", map[string]interface{}{
			"symbol": e.cfg.Symbol, "side": inferred.Side, "quantity": inferred.Quantity,
		})
		if err := e.deps.Positions.SaveOpen(ctx, e.cfg.Symbol, inferred); err != nil {
			return fmt.Errorf("repairing position record: %w", err)
		}
	default:
		e.position = domain.Flat()
	}
	return nil
}

// IngestHistorical seeds the closed-price series and persists the candles.
func (e *Engine) IngestHistorical(ctx context.Context, klines []*domain.Kline) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, k := range klines {
		if err := k.Validate(); err != nil {
			return fmt.Errorf("historical candle: %w", err)
		}
		if !k.IsFinal {
			// REST history ends with the still-forming candle; its close
			// price is partial and must not enter the series or the ledger.
			continue
		}
		closeMs := k.CloseTime.UnixMilli()
		if n := len(e.timestamps); n > 0 && closeMs <= e.timestamps[n-1] {
			continue // already seen
		}
		if err := e.deps.Klines.AppendKline(ctx, k); err != nil {
			return err
		}
		e.appendClose(closeMs, k.Close)
	}
	return e.recalcIndicators()
}

// OnPriceUpdate processes one realtime candle event. Intra-candle ticks
// refresh the live price and the in-progress candle view; whether they also
// advance the series and may fire transitions depends on UseClosedOnly.
func (e *Engine) OnPriceUpdate(ctx context.Context, k *domain.Kline) error {
	if err := k.Validate(); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	price := k.Close
	closeMs := k.CloseTime.UnixMilli()
	if n := len(e.timestamps); n > 0 && closeMs < e.timestamps[n-1] {
		e.deps.Logger.Debug(ctx, "Dropping stale candle event", map[string]interface{}{
			"symbol": e.cfg.Symbol, "closeTime": closeMs,
		})
		return nil
	}

	e.currentPrice = price
	kc := *k
	e.latestKline = &kc

	accepted := false
	if e.cfg.UseClosedOnly {
		if k.IsFinal {
			e.advance(closeMs, price)
			accepted = true
		}
	} else {
		e.advance(closeMs, price)
		accepted = true
	}

	if k.IsFinal {
		if err := e.deps.Klines.AppendKline(ctx, k); err != nil {
			e.deps.Logger.Error(ctx, err, "Failed to persist finalized candle", map[string]interface{}{"symbol": e.cfg.Symbol})
		}
	}

	if !accepted {
		return nil
	}
	if err := e.recalcIndicators(); err != nil {
		return err
	}
	e.evaluate(ctx, price)
	return nil
}

// BackfillKlines repairs gaps in the closed series after stream outages.
// Only finalized candles newer than the last accepted one are applied; no
// transitions fire from a backfill.
func (e *Engine) BackfillKlines(ctx context.Context, klines []*domain.Kline) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	applied := 0
	for _, k := range klines {
		if !k.IsFinal {
			continue
		}
		if err := k.Validate(); err != nil {
			continue
		}
		closeMs := k.CloseTime.UnixMilli()
		if n := len(e.timestamps); n > 0 && closeMs <= e.timestamps[n-1] {
			continue
		}
		if err := e.deps.Klines.AppendKline(ctx, k); err != nil {
			return err
		}
		e.appendClose(closeMs, k.Close)
		applied++
	}
	if applied == 0 {
		return nil
	}
	e.deps.Logger.Info(ctx, "Backfilled missing candles", map[string]interface{}{
		"symbol": e.cfg.Symbol, "count": applied,
	})
	return e.recalcIndicators()
}

// ReconcileNow queries exchange position truth and repairs local belief.
// Called periodically by the account poller; safe at any time.
func (e *Engine) ReconcileNow(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	truth, err := e.deps.Reconciler.Truth(ctx)
	if err != nil {
		e.truthOK = false
		return err
	}
	e.truthOK = true
	if repaired, changed := e.deps.Reconciler.Repair(ctx, e.position, truth); changed {
		e.position = repaired
		if err := e.persistPosition(ctx); err != nil {
			return err
		}
	}
	e.gaugeEquity()
	return nil
}

// advance appends a new closed sample or overwrites the still-open last one.
func (e *Engine) advance(closeMs int64, price float64) {
	if n := len(e.timestamps); n > 0 && closeMs == e.timestamps[n-1] {
		e.closes[n-1] = price
		return
	}
	e.appendClose(closeMs, price)
}

func (e *Engine) appendClose(closeMs int64, price float64) {
	e.timestamps = append(e.timestamps, closeMs)
	e.closes = append(e.closes, price)
	if len(e.closes) > e.cfg.MaxSeriesLen {
		drop := len(e.closes) - e.cfg.MaxSeriesLen
		e.timestamps = e.timestamps[drop:]
		e.closes = e.closes[drop:]
	}
}

func (e *Engine) recalcIndicators() error {
	emaVals, err := indicators.EMA(e.closes, e.cfg.EMAPeriod)
	if err != nil {
		return err
	}
	smaVals, err := indicators.SMA(e.closes, e.cfg.SMAPeriod)
	if err != nil {
		return err
	}
	e.emaVals, e.smaVals = emaVals, smaVals
	return nil
}

// evaluate runs one pass of the state machine against the latest sample.
// Callers hold the write lock.
func (e *Engine) evaluate(ctx context.Context, price float64) {
	if len(e.emaVals) == 0 || len(e.smaVals) == 0 {
		return
	}
	emaCurr := e.emaVals[len(e.emaVals)-1]
	smaCurr := e.smaVals[len(e.smaVals)-1]
	if !indicators.Defined(emaCurr) || !indicators.Defined(smaCurr) {
		return
	}

	cross := indicators.Crossover(e.emaVals, e.smaVals, e.cfg.CrossEpsilon)
	e.countDecision(cross)

	if e.position.IsFlat() {
		// The exchange may hold a position this engine never opened (manual
		// trade, prior crash): adopt it instead of trading against it.
		if e.adoptExternal(ctx) {
			return
		}
		emaRising := indicators.IsRising(e.emaVals, e.cfg.SlopeLookback)
		slopeOKLong := !e.cfg.UseSlope || emaRising
		slopeOKShort := !e.cfg.UseSlope || !emaRising
		switch {
		case cross.GoldenCross && price > emaCurr && emaCurr > smaCurr && slopeOKLong:
			e.openPosition(ctx, domain.SideLong, price)
		case cross.DeathCross && price < emaCurr && emaCurr < smaCurr && slopeOKShort:
			e.openPosition(ctx, domain.SideShort, price)
		}
		return
	}

	// Reversals follow the cross strictly: close the held side, then open the
	// opposite in the same evaluation. The second leg only runs once the
	// close is confirmed; if the open leg fails the engine stays flat and
	// re-evaluates on the next accepted tick.
	switch {
	case e.position.Side == domain.SideLong && cross.DeathCross:
		if err := e.closePosition(ctx, price); err != nil {
			e.deps.Logger.Error(ctx, err, "Close leg of reversal failed; position unchanged", map[string]interface{}{"symbol": e.cfg.Symbol})
			return
		}
		e.openPosition(ctx, domain.SideShort, price)
	case e.position.Side == domain.SideShort && cross.GoldenCross:
		if err := e.closePosition(ctx, price); err != nil {
			e.deps.Logger.Error(ctx, err, "Close leg of reversal failed; position unchanged", map[string]interface{}{"symbol": e.cfg.Symbol})
			return
		}
		e.openPosition(ctx, domain.SideLong, price)
	}
}

// adoptExternal pulls in a non-zero exchange position while local state is
// flat. Returns true when one was adopted (no entry evaluation then).
func (e *Engine) adoptExternal(ctx context.Context) bool {
	truth, err := e.deps.Reconciler.Truth(ctx)
	if err != nil {
		e.truthOK = false
		e.deps.Logger.Warn(ctx, "Exchange position check failed; proceeding on local state", map[string]interface{}{
			"symbol": e.cfg.Symbol, "error": err.Error(),
		})
		return false
	}
	e.truthOK = true
	if truth == nil || truth.AbsQuantity() == 0 {
		return false
	}
	e.position = e.deps.Reconciler.Adopt(ctx, truth)
	if err := e.persistPosition(ctx); err != nil {
		e.deps.Logger.Error(ctx, err, "Failed to persist adopted position", map[string]interface{}{"symbol": e.cfg.Symbol})
	}
	return true
}

// openPosition runs the open leg: opposing-position check, gateway execution
// with confirmation, then ledger and state mutation. Nothing local changes on
// failure.
func (e *Engine) openPosition(ctx context.Context, side domain.PositionSide, price float64) {
	op := "openPosition"

	opposing, err := e.deps.Reconciler.Opposing(ctx, side)
	if err != nil {
		e.deps.Logger.Error(ctx, err, op+": opposing-position check failed; not opening", map[string]interface{}{"symbol": e.cfg.Symbol, "side": side})
		return
	}
	if opposing != nil {
		// Never open while an opposing exchange position stands: close it
		// first, booking the close against the adopted view.
		adopted := e.deps.Reconciler.Adopt(ctx, opposing)
		e.deps.Logger.Warn(ctx, op+": opposing exchange position found; closing before open", map[string]interface{}{
			"symbol": e.cfg.Symbol, "opposingSide": adopted.Side, "quantity": adopted.Quantity,
		})
		if err := e.settleClose(ctx, adopted, price); err != nil {
			e.deps.Logger.Error(ctx, err, op+": failed to clear opposing position; not opening", map[string]interface{}{"symbol": e.cfg.Symbol})
			return
		}
	}

	fill, err := e.deps.Gateway.Open(ctx, side, price, e.balance, e.cfg.RiskFraction, e.cfg.Leverage)
	if err != nil {
		e.deps.Logger.Error(ctx, err, op+": open failed; no local state was changed", map[string]interface{}{"symbol": e.cfg.Symbol, "side": side})
		return
	}

	fee := fill.Price * fill.Quantity * e.cfg.FeeRate
	e.balance -= fee
	e.position = domain.Open(side, fill.Price, fill.Quantity, fee)

	now := time.Now().UTC()
	if _, err := e.deps.Trades.AppendTrade(ctx, &domain.Trade{
		Time: now, Symbol: e.cfg.Symbol, Side: side.TradeSide(),
		Price: fill.Price, Quantity: fill.Quantity, Fee: fee, PnL: -fee, BalanceAfter: e.balance,
	}); err != nil {
		e.deps.Logger.Error(ctx, err, op+": failed to append open trade record", map[string]interface{}{"symbol": e.cfg.Symbol})
	}
	if err := e.deps.Wallet.AppendSnapshot(ctx, &domain.WalletSnapshot{Time: now, Balance: e.balance}); err != nil {
		e.deps.Logger.Error(ctx, err, op+": failed to append wallet snapshot", map[string]interface{}{"symbol": e.cfg.Symbol})
	}
	if err := e.deps.Positions.SaveOpen(ctx, e.cfg.Symbol, e.position); err != nil {
		e.deps.Logger.Error(ctx, err, op+": failed to save open position record", map[string]interface{}{"symbol": e.cfg.Symbol})
	}
	e.gaugeEquity()
	e.deps.Logger.Info(ctx, op+": position opened", map[string]interface{}{
		"symbol": e.cfg.Symbol, "side": side, "price": fill.Price, "quantity": fill.Quantity, "fee": fee, "balance": e.balance,
	})
}

// closePosition closes the held position after verifying the exchange still
// reports it. An already-gone exchange position clears local state without
// booking a trade.
func (e *Engine) closePosition(ctx context.Context, price float64) error {
	op := "closePosition"
	if e.position.IsFlat() {
		return nil
	}

	held, truthPos, err := e.deps.Reconciler.Holds(ctx, e.position.Side)
	if err != nil {
		return fmt.Errorf("%s: position check failed: %w", op, err)
	}
	if !held {
		e.deps.Logger.Warn(ctx, op+": exchange reports no position on our side; treating as already closed", map[string]interface{}{
			"symbol": e.cfg.Symbol, "localSide": e.position.Side, "localQuantity": e.position.Quantity,
		})
		e.position = domain.Flat()
		if err := e.deps.Positions.ClearOpen(ctx, e.cfg.Symbol); err != nil {
			e.deps.Logger.Error(ctx, err, op+": failed to clear stale position record", map[string]interface{}{"symbol": e.cfg.Symbol})
		}
		return nil
	}
	if q := truthPos.AbsQuantity(); q != e.position.Quantity {
		// Close what the exchange actually reports, not what we remembered.
		e.position.Quantity = q
	}

	return e.settleClose(ctx, e.position, price)
}

// settleClose executes the close through the gateway and books the result.
// pos must be the position being closed; on success local state goes flat.
func (e *Engine) settleClose(ctx context.Context, pos domain.Position, price float64) error {
	fill, remaining, err := e.deps.Gateway.Close(ctx, pos, price)
	if err != nil {
		if remaining > 0 && remaining < pos.Quantity && pos.Side == e.position.Side {
			// Partially closed: shrink local belief to the confirmed residual.
			e.position.Quantity = remaining
			if perr := e.deps.Positions.SaveOpen(ctx, e.cfg.Symbol, e.position); perr != nil {
				e.deps.Logger.Error(ctx, perr, "Failed to persist residual position", map[string]interface{}{"symbol": e.cfg.Symbol})
			}
		}
		return err
	}

	gross := pos.GrossPnL(fill.Price)
	closeFee := fill.Price * fill.Quantity * e.cfg.FeeRate
	e.balance += gross - closeFee
	netPnL := gross - closeFee - pos.OpenFee

	now := time.Now().UTC()
	if _, err := e.deps.Trades.AppendTrade(ctx, &domain.Trade{
		Time: now, Symbol: e.cfg.Symbol, Side: domain.TradeClose,
		Price: fill.Price, Quantity: fill.Quantity, Fee: closeFee, PnL: netPnL, BalanceAfter: e.balance,
	}); err != nil {
		e.deps.Logger.Error(ctx, err, "Failed to append close trade record", map[string]interface{}{"symbol": e.cfg.Symbol})
	}
	if err := e.deps.Wallet.AppendSnapshot(ctx, &domain.WalletSnapshot{Time: now, Balance: e.balance}); err != nil {
		e.deps.Logger.Error(ctx, err, "Failed to append wallet snapshot", map[string]interface{}{"symbol": e.cfg.Symbol})
	}
	if pos.Side == e.position.Side {
		e.position = domain.Flat()
		if err := e.deps.Positions.ClearOpen(ctx, e.cfg.Symbol); err != nil {
			e.deps.Logger.Error(ctx, err, "Failed to clear position record after close", map[string]interface{}{"symbol": e.cfg.Symbol})
		}
	}
	e.gaugeEquity()
	e.deps.Logger.Info(ctx, "Position closed", map[string]interface{}{
		"symbol": e.cfg.Symbol, "side": pos.Side, "exitPrice": fill.Price,
		"grossPnL": gross, "closeFee": closeFee, "openFee": pos.OpenFee, "netPnL": netPnL, "balance": e.balance,
	})
	return nil
}

// persistPosition writes the current position to the store: SaveOpen when
// live, ClearOpen when flat. Callers hold the write lock.
func (e *Engine) persistPosition(ctx context.Context) error {
	if e.position.IsFlat() {
		return e.deps.Positions.ClearOpen(ctx, e.cfg.Symbol)
	}
	return e.deps.Positions.SaveOpen(ctx, e.cfg.Symbol, e.position)
}

func (e *Engine) countDecision(cross indicators.CrossSignal) {
	if e.deps.Metrics == nil {
		return
	}
	switch {
	case cross.GoldenCross:
		e.deps.Metrics.Decisions.WithLabelValues("golden").Inc()
	case cross.DeathCross:
		e.deps.Metrics.Decisions.WithLabelValues("death").Inc()
	default:
		e.deps.Metrics.Decisions.WithLabelValues("none").Inc()
	}
}

func (e *Engine) gaugeEquity() {
	if e.deps.Metrics != nil {
		e.deps.Metrics.Equity.Set(e.balance)
	}
}
