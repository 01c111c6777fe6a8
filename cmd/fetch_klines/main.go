// Command fetch_klines backfills the candle store from the exchange REST API.
// Useful after extended downtime, before the periodic sweep would catch up.
package main

import (
	"context"
	"flag"
	"log"
	"time"

	"cryptoTrendBot/config"
	"cryptoTrendBot/internal/adapters/binanceclient"
	"cryptoTrendBot/internal/adapters/logger"
	"cryptoTrendBot/internal/adapters/sqlite"
)

func main() {
	days := flag.Int("days", 7, "how many days of history to fetch")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err)
	}

	appLogger := logger.NewStdLogger(cfg.LogLevel)
	ctx := context.Background()

	repo, err := sqlite.NewRepository(sqlite.Config{
		DBPath: cfg.DBPath,
		Logger: appLogger,
	})
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize database repository: %v", err)
	}
	defer repo.Close()

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

	end := time.Now().UTC()
	start := end.AddDate(0, 0, -*days)

	// Resume from the newest stored candle when it is inside the window.
	if last, ok, err := repo.LastCloseTime(ctx, cfg.Symbol); err != nil {
		log.Fatalf("FATAL: Failed to read last stored candle: %v", err)
	} else if ok && last.After(start) {
		start = last
	}

	appLogger.Info(ctx, "Fetching candle history", map[string]interface{}{
		"symbol": cfg.Symbol, "interval": cfg.Interval,
		"start": start.Format(time.RFC3339), "end": end.Format(time.RFC3339),
	})

	klines, err := exchange.GetKlinesRange(ctx, cfg.Symbol, cfg.Interval, start, end)
	if err != nil {
		log.Fatalf("FATAL: Failed to fetch candles: %v", err)
	}

	stored := 0
	for _, k := range klines {
		if !k.IsFinal {
			continue
		}
		if err := repo.AppendKline(ctx, k); err != nil {
			log.Fatalf("FATAL: Failed to store candle at %s: %v", k.CloseTime.Format(time.RFC3339), err)
		}
		stored++
	}

	appLogger.Info(ctx, "Backfill complete", map[string]interface{}{
		"symbol": cfg.Symbol, "fetched": len(klines), "stored": stored,
	})
}
