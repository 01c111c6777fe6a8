package engine

import (
	"context"
	"time"

	"cryptoTrendBot/internal/accounting"
	"cryptoTrendBot/internal/domain"
	"cryptoTrendBot/internal/strategy/indicators"
)

// PositionStatus is a read-only view of the held position.
type PositionStatus struct {
	Side       domain.PositionSide `json:"side"`
	EntryPrice float64             `json:"entryPrice"`
	Quantity   float64             `json:"quantity"`
	Value      float64             `json:"value"` // quantity at the current price
	OpenFee    float64             `json:"openFee"`
}

// Status is a consistent snapshot of the engine state. All fields are read
// under one lock acquisition, so balance, position and indicators always
// belong to the same instant.
type Status struct {
	Symbol          string         `json:"symbol"`
	Interval        string         `json:"interval"`
	Balance         float64        `json:"balance"`
	InitialBalance  float64        `json:"initialBalance"`
	Leverage        int            `json:"leverage"`
	FeeRate         float64        `json:"feeRate"`
	RiskFraction    float64        `json:"riskFraction"`
	CurrentPrice    float64        `json:"currentPrice"`
	EMAPeriod       int            `json:"emaPeriod"`
	SMAPeriod       int            `json:"smaPeriod"`
	IndicatorsReady bool           `json:"indicatorsReady"`
	EMA             float64        `json:"ema"` // zero until IndicatorsReady
	SMA             float64        `json:"sma"` // zero until IndicatorsReady
	Position        PositionStatus `json:"position"`
	LatestKline     *domain.Kline  `json:"latestKline,omitempty"`
	StartedAt       time.Time      `json:"startedAt"`
	// ExchangeSynced is false when the last exchange position query failed,
	// meaning position fields reflect last-good local state.
	ExchangeSynced bool `json:"exchangeSynced"`
}

// Status returns a snapshot of the current engine state.
func (e *Engine) Status() Status {
	e.mu.RLock()
	defer e.mu.RUnlock()

	st := Status{
		Symbol:         e.cfg.Symbol,
		Interval:       e.cfg.Interval,
		Balance:        e.balance,
		InitialBalance: e.cfg.InitialBalance,
		Leverage:       e.cfg.Leverage,
		FeeRate:        e.cfg.FeeRate,
		RiskFraction:   e.cfg.RiskFraction,
		CurrentPrice:   e.currentPrice,
		EMAPeriod:      e.cfg.EMAPeriod,
		SMAPeriod:      e.cfg.SMAPeriod,
		StartedAt:      e.startedAt,
		ExchangeSynced: e.truthOK,
		Position: PositionStatus{
			Side:       e.position.Side,
			EntryPrice: e.position.EntryPrice,
			Quantity:   e.position.Quantity,
			Value:      e.position.Quantity * e.currentPrice,
			OpenFee:    e.position.OpenFee,
		},
	}
	if n := len(e.emaVals); n > 0 && indicators.Defined(e.emaVals[n-1]) {
		if m := len(e.smaVals); m > 0 && indicators.Defined(e.smaVals[m-1]) {
			st.IndicatorsReady = true
			st.EMA = e.emaVals[n-1]
			st.SMA = e.smaVals[m-1]
		}
	}
	if e.latestKline != nil {
		kc := *e.latestKline
		st.LatestKline = &kc
	}
	return st
}

// RecentTrades returns the newest trades, most recent first.
func (e *Engine) RecentTrades(ctx context.Context, limit int) ([]*domain.Trade, error) {
	return e.deps.Trades.RecentTrades(ctx, e.cfg.Symbol, limit)
}

// RecentKlines returns the newest persisted candles, most recent first.
func (e *Engine) RecentKlines(ctx context.Context, limit int) ([]*domain.Kline, error) {
	return e.deps.Klines.RecentKlines(ctx, e.cfg.Symbol, limit)
}

// Totals computes account aggregates over the full trade ledger. The ROI base
// is the first recorded wallet snapshot, or the configured initial balance
// when no snapshot exists yet.
func (e *Engine) Totals(ctx context.Context) (accounting.Totals, error) {
	trades, err := e.deps.Trades.AllTrades(ctx, e.cfg.Symbol)
	if err != nil {
		return accounting.Totals{}, err
	}
	base, ok, err := e.deps.Wallet.FirstBalance(ctx)
	if err != nil {
		return accounting.Totals{}, err
	}
	if !ok {
		base = e.cfg.InitialBalance
	}
	return accounting.Compute(trades, base), nil
}
