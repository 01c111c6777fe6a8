// Package app wires the engine to the exchange stream and runs the process
// lifecycle: setup calls, candle warm-up, the WebSocket loop, background
// reconciliation and graceful shutdown.
package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cryptoTrendBot/config"
	"cryptoTrendBot/internal/domain"
	"cryptoTrendBot/internal/engine"
	"cryptoTrendBot/internal/ports"
)

// Runner drives the trading engine against a live exchange connection.
type Runner struct {
	cfg      *config.Config
	logger   ports.Logger
	exchange ports.ExchangeClient
	klines   ports.KlineRepository
	engine   *engine.Engine
}

// NewRunner creates the application runner.
func NewRunner(cfg *config.Config, logger ports.Logger, exchange ports.ExchangeClient, klines ports.KlineRepository, eng *engine.Engine) (*Runner, error) {
	if cfg == nil || logger == nil || exchange == nil || klines == nil || eng == nil {
		return nil, fmt.Errorf("all runner dependencies are required")
	}
	return &Runner{
		cfg:      cfg,
		logger:   logger,
		exchange: exchange,
		klines:   klines,
		engine:   eng,
	}, nil
}

// Start runs the bot until the context is cancelled or a shutdown signal
// arrives.
func (r *Runner) Start(ctx context.Context) error {
	r.logger.Info(ctx, "Starting trend bot", map[string]interface{}{
		"symbol": r.cfg.Symbol, "interval": r.cfg.Interval,
	})

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			r.logger.Info(ctx, "Received shutdown signal", map[string]interface{}{"signal": sig.String()})
			cancel()
		case <-ctx.Done():
		}
	}()

	if err := r.setupExchange(ctx); err != nil {
		return err
	}
	if err := r.engine.Start(ctx); err != nil {
		return fmt.Errorf("starting engine: %w", err)
	}
	if err := r.warmUp(ctx); err != nil {
		return err
	}

	wsDoneCh, wsStopCh, err := r.exchange.StreamKlines(ctx, r.cfg.Symbol, r.cfg.Interval,
		func(k *domain.Kline) {
			if err := r.engine.OnPriceUpdate(ctx, k); err != nil {
				r.logger.Error(ctx, err, "Failed to process candle event", map[string]interface{}{"symbol": r.cfg.Symbol})
			}
		},
		func(err error) {
			r.logger.Warn(ctx, "Kline stream error", map[string]interface{}{"error": err.Error()})
		},
	)
	if err != nil {
		return fmt.Errorf("starting kline stream: %w", err)
	}

	go r.accountPollLoop(ctx)
	go r.klineSweepLoop(ctx)

	select {
	case <-ctx.Done():
		r.logger.Info(ctx, "Shutting down, stopping kline stream")
		select {
		case wsStopCh <- struct{}{}:
		default:
		}
		select {
		case <-wsDoneCh:
		case <-time.After(5 * time.Second):
			r.logger.Warn(ctx, "Timed out waiting for kline stream to stop")
		}
	case <-wsDoneCh:
		// The stream gave up reconnecting; nothing more to trade on.
		r.logger.Error(ctx, fmt.Errorf("kline stream terminated"), "Kline stream closed permanently, shutting down")
		cancel()
	}

	r.logger.Info(ctx, "Trend bot stopped")
	return nil
}

// setupExchange performs the idempotent session setup calls.
func (r *Runner) setupExchange(ctx context.Context) error {
	if err := r.exchange.SetServerTime(ctx); err != nil {
		return fmt.Errorf("synchronizing server time: %w", err)
	}
	if err := r.exchange.SetHedgeMode(ctx, r.cfg.HedgeMode); err != nil {
		return fmt.Errorf("setting position mode: %w", err)
	}
	if err := r.exchange.SetLeverage(ctx, r.cfg.Symbol, r.cfg.Leverage); err != nil {
		return fmt.Errorf("setting leverage: %w", err)
	}
	return nil
}

// warmUp seeds the indicator series from recent exchange history so the bot
// can evaluate signals from the first live candle.
func (r *Runner) warmUp(ctx context.Context) error {
	klines, err := r.exchange.GetKlines(ctx, r.cfg.Symbol, r.cfg.Interval, r.cfg.HistoryLimit)
	if err != nil {
		return fmt.Errorf("fetching warm-up candles: %w", err)
	}
	if err := r.engine.IngestHistorical(ctx, klines); err != nil {
		return fmt.Errorf("ingesting warm-up candles: %w", err)
	}
	r.logger.Info(ctx, "Warm-up complete", map[string]interface{}{
		"symbol": r.cfg.Symbol, "candles": len(klines),
	})
	return nil
}

// accountPollLoop periodically reconciles local position belief against the
// exchange, covering drift that happens between trading events.
func (r *Runner) accountPollLoop(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.AccountPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.engine.ReconcileNow(ctx); err != nil {
				r.logger.Warn(ctx, "Periodic position reconciliation failed", map[string]interface{}{"error": err.Error()})
			}
		}
	}
}

// klineSweepLoop periodically fetches candles newer than the last persisted
// one and backfills gaps left by stream outages.
func (r *Runner) klineSweepLoop(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.KlineSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.sweepKlines(ctx); err != nil {
				r.logger.Warn(ctx, "Kline backfill sweep failed", map[string]interface{}{"error": err.Error()})
			}
		}
	}
}

func (r *Runner) sweepKlines(ctx context.Context) error {
	last, ok, err := r.klines.LastCloseTime(ctx, r.cfg.Symbol)
	if err != nil {
		return err
	}
	if !ok {
		return nil // nothing persisted yet, the warm-up covers this
	}
	now := time.Now().UTC()
	if !last.Before(now) {
		return nil
	}
	klines, err := r.exchange.GetKlinesRange(ctx, r.cfg.Symbol, r.cfg.Interval, last, now)
	if err != nil {
		return err
	}
	return r.engine.BackfillKlines(ctx, klines)
}
