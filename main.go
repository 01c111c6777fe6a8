package main

import (
	"context"
	"log" // standard log only for fatal errors before the logger is up
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"cryptoTrendBot/config"
	"cryptoTrendBot/internal/adapters/binanceclient"
	"cryptoTrendBot/internal/adapters/logger"
	"cryptoTrendBot/internal/adapters/sqlite"
	"cryptoTrendBot/internal/app"
	"cryptoTrendBot/internal/engine"
	"cryptoTrendBot/internal/execution"
	"cryptoTrendBot/internal/metrics"
	"cryptoTrendBot/internal/reconcile"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err)
	}

	appLogger := logger.NewStdLogger(cfg.LogLevel)
	ctx := context.Background()
	appLogger.Info(ctx, "Logger initialized", map[string]interface{}{"level": cfg.LogLevel.String()})

	repo, err := sqlite.NewRepository(sqlite.Config{
		DBPath: cfg.DBPath,
		Logger: appLogger,
	})
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize database repository: %v", err)
	}
	defer func() {
		if err := repo.Close(); err != nil {
			appLogger.Error(ctx, err, "Error closing database repository")
		}
	}()

	exchange, err := binanceclient.New(binanceclient.Config{
		APIKey:               cfg.APIKey,
		SecretKey:            cfg.SecretKey,
		UseTestnet:           cfg.IsTestnet,
		Logger:               appLogger,
		ReconnectDelay:       cfg.ReconnectDelay,
		MaxReconnectAttempts: cfg.MaxReconnectAttempts,
	})
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize Binance client: %v", err)
	}

	registry := prometheus.NewRegistry()
	botMetrics := metrics.New(registry)
	if cfg.MetricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
			if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
				appLogger.Error(ctx, err, "Metrics endpoint failed", map[string]interface{}{"addr": cfg.MetricsAddr})
			}
		}()
		appLogger.Info(ctx, "Metrics endpoint listening", map[string]interface{}{"addr": cfg.MetricsAddr})
	}

	filters, err := exchange.GetSymbolFilters(ctx, cfg.Symbol)
	if err != nil {
		log.Fatalf("FATAL: Failed to fetch symbol filters: %v", err)
	}

	gateway, err := execution.NewGateway(execution.Config{
		Exchange: exchange,
		Logger:   appLogger,
		Metrics:  botMetrics,
		Symbol:   cfg.Symbol,
		Sizer:    execution.NewSizer(filters),
		Policy: execution.RetryPolicy{
			MaxAttempts:    cfg.OrderMaxAttempts,
			AttemptDelay:   cfg.OrderRetryDelay,
			ConfirmTimeout: cfg.ConfirmTimeout,
			PollInterval:   cfg.ConfirmPoll,
		},
		HedgeMode: cfg.HedgeMode,
	})
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize order gateway: %v", err)
	}

	reconciler, err := reconcile.New(exchange, appLogger, botMetrics, cfg.Symbol)
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize reconciler: %v", err)
	}

	eng, err := engine.New(engine.Config{
		Symbol:         cfg.Symbol,
		Interval:       cfg.Interval,
		InitialBalance: cfg.InitialBalance,
		RiskFraction:   cfg.RiskFraction,
		Leverage:       cfg.Leverage,
		FeeRate:        cfg.FeeRate,
		EMAPeriod:      cfg.EMAPeriod,
		SMAPeriod:      cfg.SMAPeriod,
		SlopeLookback:  cfg.SlopeLookback,
		CrossEpsilon:   cfg.CrossEpsilon,
		UseClosedOnly:  cfg.UseClosedOnly,
		UseSlope:       cfg.UseSlope,
	}, engine.Deps{
		Logger:     appLogger,
		Klines:     repo,
		Trades:     repo,
		Wallet:     repo,
		Positions:  repo,
		Runs:       repo,
		Gateway:    gateway,
		Reconciler: reconciler,
		Metrics:    botMetrics,
	})
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize trading engine: %v", err)
	}

	runner, err := app.NewRunner(cfg, appLogger, exchange, repo, eng)
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize runner: %v", err)
	}

	if err := runner.Start(ctx); err != nil {
		appLogger.Error(ctx, err, "Trend bot exited with error")
		log.Fatalf("FATAL: Trend bot exited with error: %v", err)
	}
	appLogger.Info(ctx, "Application finished gracefully")
}
