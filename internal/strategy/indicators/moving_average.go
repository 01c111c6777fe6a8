package indicators

import (
	"fmt"
	"math"
)

// Series values are aligned index-for-index with the input closes. Entries
// before the first complete window are NaN ("no value"); use Defined to test.

// Defined reports whether a series entry holds a computed value.
func Defined(v float64) bool {
	return !math.IsNaN(v)
}

// SMA computes the simple moving average series for the given period.
// Entries at indices < period-1 are NaN.
func SMA(values []float64, period int) ([]float64, error) {
	if period <= 0 {
		return nil, fmt.Errorf("SMA period must be positive, got %d", period)
	}
	out := make([]float64, len(values))
	sum := 0.0
	for i, v := range values {
		sum += v
		if i >= period {
			sum -= values[i-period]
		}
		if i < period-1 {
			out[i] = math.NaN()
		} else {
			out[i] = sum / float64(period)
		}
	}
	return out, nil
}

// EMA computes the exponential moving average series for the given period.
// The value at index period-1 is seeded with the SMA of the first period
// samples; later values follow EMA_t = v_t*k + EMA_{t-1}*(1-k) with
// k = 2/(period+1). Entries at indices < period-1 are NaN.
func EMA(values []float64, period int) ([]float64, error) {
	if period <= 0 {
		return nil, fmt.Errorf("EMA period must be positive, got %d", period)
	}
	out := make([]float64, len(values))
	k := 2.0 / float64(period+1)
	prev := math.NaN()
	for i, v := range values {
		switch {
		case i < period-1:
			out[i] = math.NaN()
		case i == period-1:
			sum := 0.0
			for _, w := range values[:period] {
				sum += w
			}
			prev = sum / float64(period)
			out[i] = prev
		default:
			prev = v*k + prev*(1-k)
			out[i] = prev
		}
	}
	return out, nil
}

// IsRising reports whether the last lookback values of the series are all
// defined and non-decreasing. Used as a trend/slope gate for new entries.
func IsRising(series []float64, lookback int) bool {
	if lookback <= 0 || len(series) < lookback {
		return false
	}
	tail := series[len(series)-lookback:]
	for i, v := range tail {
		if !Defined(v) {
			return false
		}
		if i > 0 && tail[i-1] > v {
			return false
		}
	}
	return true
}
