// Package config loads application configuration from environment variables,
// optionally seeded from a .env file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"cryptoTrendBot/internal/adapters/logger"
)

// Config holds all application configuration.
type Config struct {
	// Binance API
	APIKey    string
	SecretKey string
	IsTestnet bool

	// Trading parameters
	Symbol         string
	Interval       string
	InitialBalance float64 // Seed balance when no wallet history exists
	RiskFraction   float64 // Fraction of the balance committed per open
	Leverage       int
	FeeRate        float64 // Taker fee rate, e.g. 0.0004

	// Strategy parameters
	EMAPeriod     int
	SMAPeriod     int
	UseClosedOnly bool    // Evaluate on finalized candles only
	UseSlope      bool    // Gate entries on EMA slope direction
	SlopeLookback int     // Samples the slope gate inspects
	CrossEpsilon  float64 // Absolute tolerance for crossover detection
	HistoryLimit  int     // Candles fetched at startup to warm the series

	// Order execution
	HedgeMode        bool
	OrderMaxAttempts int
	OrderRetryDelay  time.Duration
	ConfirmTimeout   time.Duration
	ConfirmPoll      time.Duration

	// Background loops
	AccountPollInterval time.Duration
	KlineSweepInterval  time.Duration

	// Database
	DBPath string

	// Metrics endpoint listen address; empty disables the endpoint.
	MetricsAddr string

	// Logging
	LogLevel logger.LogLevel

	// Connection settings
	ReconnectDelay       time.Duration
	MaxReconnectAttempts int
}

// Load reads configuration from the environment (.env file first if present).
func Load() (*Config, error) {
	// Missing .env is fine, plain environment variables work too.
	_ = godotenv.Load()

	cfg := &Config{}
	var err error
	var errs []string

	// Binance API
	cfg.APIKey = getEnv("BINANCE_API_KEY", "")
	cfg.SecretKey = getEnv("BINANCE_API_SECRET", "")
	cfg.IsTestnet = getEnvAsBool("IS_TESTNET", true) // default to testnet for safety

	if cfg.APIKey == "" {
		errs = append(errs, "BINANCE_API_KEY must be set")
	}
	if cfg.SecretKey == "" {
		errs = append(errs, "BINANCE_API_SECRET must be set")
	}

	// Trading parameters
	cfg.Symbol = getEnv("SYMBOL", "BTCUSDT")
	if cfg.Symbol == "" {
		errs = append(errs, "SYMBOL must be set")
	}
	cfg.Interval = getEnv("INTERVAL", "1m")
	if cfg.Interval == "" {
		errs = append(errs, "INTERVAL must be set")
	}

	cfg.InitialBalance, err = getEnvAsFloatRequired("INITIAL_BALANCE", 1000.0)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid INITIAL_BALANCE: %v", err))
	} else if cfg.InitialBalance <= 0 {
		errs = append(errs, "INITIAL_BALANCE must be positive")
	}

	cfg.RiskFraction, err = getEnvAsFloatRequired("RISK_FRACTION", 0.1)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid RISK_FRACTION: %v", err))
	} else if cfg.RiskFraction <= 0 || cfg.RiskFraction > 1.0 {
		errs = append(errs, "RISK_FRACTION must be in (0.0, 1.0]")
	}

	cfg.Leverage, err = getEnvAsIntRequired("LEVERAGE", 1)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid LEVERAGE: %v", err))
	} else if cfg.Leverage <= 0 {
		errs = append(errs, "LEVERAGE must be positive")
	}

	cfg.FeeRate, err = getEnvAsFloatRequired("FEE_RATE", 0.0004)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid FEE_RATE: %v", err))
	} else if cfg.FeeRate < 0 {
		errs = append(errs, "FEE_RATE cannot be negative")
	}

	// Strategy parameters
	cfg.EMAPeriod = getEnvAsInt("EMA_PERIOD", 5)
	cfg.SMAPeriod = getEnvAsInt("MA_PERIOD", 15)
	if cfg.EMAPeriod <= 0 || cfg.SMAPeriod <= 0 {
		errs = append(errs, "EMA_PERIOD and MA_PERIOD must be positive")
	}
	if cfg.EMAPeriod >= cfg.SMAPeriod {
		errs = append(errs, "EMA_PERIOD must be less than MA_PERIOD")
	}
	cfg.UseClosedOnly = getEnvAsBool("USE_CLOSED_ONLY", true)
	cfg.UseSlope = getEnvAsBool("USE_SLOPE", true)
	cfg.SlopeLookback = getEnvAsInt("SLOPE_LOOKBACK", 3)
	if cfg.SlopeLookback <= 0 {
		errs = append(errs, "SLOPE_LOOKBACK must be positive")
	}
	cfg.CrossEpsilon = getEnvAsFloat("CROSS_EPSILON", 0.0)
	if cfg.CrossEpsilon < 0 {
		errs = append(errs, "CROSS_EPSILON cannot be negative")
	}
	cfg.HistoryLimit = getEnvAsInt("HISTORY_LIMIT", 200)
	if cfg.HistoryLimit < cfg.SMAPeriod {
		errs = append(errs, "HISTORY_LIMIT must be at least MA_PERIOD")
	}

	// Order execution
	cfg.HedgeMode = getEnvAsBool("HEDGE_MODE", false)
	cfg.OrderMaxAttempts = getEnvAsInt("ORDER_MAX_ATTEMPTS", 3)
	if cfg.OrderMaxAttempts <= 0 {
		errs = append(errs, "ORDER_MAX_ATTEMPTS must be positive")
	}
	retryDelaySeconds := getEnvAsInt("ORDER_RETRY_DELAY_SECONDS", 2)
	if retryDelaySeconds <= 0 {
		errs = append(errs, "ORDER_RETRY_DELAY_SECONDS must be positive")
	}
	cfg.OrderRetryDelay = time.Duration(retryDelaySeconds) * time.Second

	confirmTimeoutSeconds := getEnvAsInt("CONFIRM_TIMEOUT_SECONDS", 10)
	if confirmTimeoutSeconds <= 0 {
		errs = append(errs, "CONFIRM_TIMEOUT_SECONDS must be positive")
	}
	cfg.ConfirmTimeout = time.Duration(confirmTimeoutSeconds) * time.Second

	confirmPollMs := getEnvAsInt("CONFIRM_POLL_MS", 500)
	if confirmPollMs <= 0 {
		errs = append(errs, "CONFIRM_POLL_MS must be positive")
	}
	cfg.ConfirmPoll = time.Duration(confirmPollMs) * time.Millisecond

	// Background loops
	accountPollSeconds := getEnvAsInt("ACCOUNT_POLL_SECONDS", 60)
	if accountPollSeconds <= 0 {
		errs = append(errs, "ACCOUNT_POLL_SECONDS must be positive")
	}
	cfg.AccountPollInterval = time.Duration(accountPollSeconds) * time.Second

	klineSweepSeconds := getEnvAsInt("KLINE_SWEEP_SECONDS", 300)
	if klineSweepSeconds <= 0 {
		errs = append(errs, "KLINE_SWEEP_SECONDS must be positive")
	}
	cfg.KlineSweepInterval = time.Duration(klineSweepSeconds) * time.Second

	// Database
	cfg.DBPath = getEnv("DB_PATH", "./data/trend_bot.db")
	if cfg.DBPath == "" {
		errs = append(errs, "DB_PATH must be set")
	}

	// Metrics
	cfg.MetricsAddr = getEnv("METRICS_ADDR", "")

	// Logging
	cfg.LogLevel = logger.ParseLevel(getEnv("LOG_LEVEL", "INFO"))

	// Connection settings
	reconnectDelaySeconds := getEnvAsInt("RECONNECT_DELAY_SECONDS", 5)
	if reconnectDelaySeconds <= 0 {
		errs = append(errs, "RECONNECT_DELAY_SECONDS must be positive")
	}
	cfg.ReconnectDelay = time.Duration(reconnectDelaySeconds) * time.Second

	cfg.MaxReconnectAttempts = getEnvAsInt("MAX_RECONNECT_ATTEMPTS", 10)
	if cfg.MaxReconnectAttempts < 0 {
		errs = append(errs, "MAX_RECONNECT_ATTEMPTS cannot be negative")
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}
	return cfg, nil
}

// --- Env var helpers ---

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsIntRequired(key string, defaultValue int) (int, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue, nil
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return 0, fmt.Errorf("invalid integer value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloatRequired(key string, defaultValue float64) (float64, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue, nil
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid float value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
