package indicators

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSMA(t *testing.T) {
	tests := []struct {
		name    string
		values  []float64
		period  int
		want    []float64 // NaN encoded as math.NaN()
		wantErr bool
	}{
		{
			name:   "basic window",
			values: []float64{1, 2, 3, 4, 5},
			period: 3,
			want:   []float64{math.NaN(), math.NaN(), 2, 3, 4},
		},
		{
			name:   "period one is identity",
			values: []float64{10, 12, 14},
			period: 1,
			want:   []float64{10, 12, 14},
		},
		{
			name:   "series shorter than period",
			values: []float64{1, 2},
			period: 5,
			want:   []float64{math.NaN(), math.NaN()},
		},
		{
			name:    "non-positive period",
			values:  []float64{1, 2, 3},
			period:  0,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SMA(tt.values, tt.period)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Len(t, got, len(tt.want))
			for i := range tt.want {
				if math.IsNaN(tt.want[i]) {
					assert.False(t, Defined(got[i]), "index %d should be undefined", i)
				} else {
					assert.InDelta(t, tt.want[i], got[i], 1e-9, "index %d", i)
				}
			}
		})
	}
}

func TestSMA_WindowMean(t *testing.T) {
	// sma(S,p)[i] is defined iff i >= p-1 and equals the mean of S[i-p+1..i].
	values := []float64{3, 1, 4, 1, 5, 9, 2, 6, 5, 3}
	period := 4
	got, err := SMA(values, period)
	require.NoError(t, err)
	for i := range values {
		if i < period-1 {
			assert.False(t, Defined(got[i]))
			continue
		}
		sum := 0.0
		for _, v := range values[i-period+1 : i+1] {
			sum += v
		}
		assert.InDelta(t, sum/float64(period), got[i], 1e-9, "index %d", i)
	}
}

func TestEMA(t *testing.T) {
	t.Run("seed equals SMA of first window", func(t *testing.T) {
		values := []float64{10, 10, 10, 10, 10, 12, 14, 16, 18, 20}
		period := 3
		emaVals, err := EMA(values, period)
		require.NoError(t, err)
		smaVals, err := SMA(values, period)
		require.NoError(t, err)
		assert.InDelta(t, smaVals[period-1], emaVals[period-1], 1e-9)
		assert.InDelta(t, 10.0, emaVals[period-1], 1e-9)
	})

	t.Run("recursive blend", func(t *testing.T) {
		values := []float64{1, 2, 3, 4, 5, 6}
		period := 3
		k := 2.0 / float64(period+1)
		emaVals, err := EMA(values, period)
		require.NoError(t, err)
		for i := period; i < len(values); i++ {
			want := values[i]*k + emaVals[i-1]*(1-k)
			assert.InDelta(t, want, emaVals[i], 1e-9, "index %d", i)
		}
	})

	t.Run("undefined before first window", func(t *testing.T) {
		emaVals, err := EMA([]float64{5, 6, 7, 8}, 4)
		require.NoError(t, err)
		for i := 0; i < 3; i++ {
			assert.False(t, Defined(emaVals[i]))
		}
		assert.True(t, Defined(emaVals[3]))
	})

	t.Run("non-positive period fails fast", func(t *testing.T) {
		_, err := EMA([]float64{1, 2, 3}, 0)
		require.Error(t, err)
		_, err = EMA([]float64{1, 2, 3}, -2)
		require.Error(t, err)
	})
}

func TestIsRising(t *testing.T) {
	nan := math.NaN()
	tests := []struct {
		name     string
		series   []float64
		lookback int
		want     bool
	}{
		{"monotonic tail", []float64{5, 4, 1, 2, 3}, 3, true},
		{"flat tail counts as rising", []float64{1, 2, 2, 2}, 3, true},
		{"falling tail", []float64{1, 3, 2}, 2, false},
		{"undefined value in tail", []float64{1, nan, 3}, 3, false},
		{"series shorter than lookback", []float64{1, 2}, 3, false},
		{"zero lookback", []float64{1, 2, 3}, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRising(tt.series, tt.lookback))
		})
	}
}
