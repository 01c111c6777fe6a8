package domain

import (
	"errors"
	"time"
)

// Validation errors for candle events arriving at the engine boundary.
var (
	ErrNilKline         = errors.New("nil kline event")
	ErrKlineNoCloseTime = errors.New("kline close time is not set")
	ErrKlineBadPrice    = errors.New("kline close price must be positive")
)

// Kline represents a single candlestick data point.
type Kline struct {
	OpenTime  time.Time // Start time of the interval
	CloseTime time.Time // End time of the interval
	Symbol    string    // Trading symbol
	Interval  string    // Kline interval (e.g., "1m", "1h")
	Open      float64   // Opening price
	High      float64   // Highest price
	Low       float64   // Lowest price
	Close     float64   // Closing price
	Volume    float64   // Trading volume
	IsFinal   bool      // Whether this kline is the final one for the interval
}

// Validate checks the boundary requirements for an incoming kline event.
func (k *Kline) Validate() error {
	switch {
	case k == nil:
		return ErrNilKline
	case k.CloseTime.IsZero():
		return ErrKlineNoCloseTime
	case k.Close <= 0:
		return ErrKlineBadPrice
	}
	return nil
}
