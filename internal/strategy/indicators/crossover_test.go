package indicators

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCrossover(t *testing.T) {
	nan := math.NaN()
	tests := []struct {
		name    string
		fast    []float64
		slow    []float64
		epsilon float64
		want    CrossSignal
	}{
		{
			name: "golden cross",
			fast: []float64{9.0, 11.0},
			slow: []float64{10.0, 10.0},
			want: CrossSignal{GoldenCross: true},
		},
		{
			name: "death cross",
			fast: []float64{11.0, 9.0},
			slow: []float64{10.0, 10.0},
			want: CrossSignal{DeathCross: true},
		},
		{
			name: "no cross above",
			fast: []float64{11.0, 12.0},
			slow: []float64{10.0, 10.0},
			want: CrossSignal{},
		},
		{
			name: "touch from equality fires golden",
			fast: []float64{10.0, 10.5},
			slow: []float64{10.0, 10.0},
			want: CrossSignal{GoldenCross: true},
		},
		{
			name:    "epsilon absorbs boundary noise",
			fast:    []float64{9.0, 10.0 + 1e-10},
			slow:    []float64{10.0, 10.0},
			epsilon: 1e-6,
			want:    CrossSignal{},
		},
		{
			name: "undefined previous point",
			fast: []float64{nan, 11.0},
			slow: []float64{10.0, 10.0},
			want: CrossSignal{},
		},
		{
			name: "single point",
			fast: []float64{11.0},
			slow: []float64{10.0},
			want: CrossSignal{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Crossover(tt.fast, tt.slow, tt.epsilon)
			assert.Equal(t, tt.want, got)
			// At most one direction may fire.
			assert.False(t, got.GoldenCross && got.DeathCross)
		})
	}
}

func TestCrossover_IdempotentOnStableTail(t *testing.T) {
	fast := []float64{9.5, 10.5}
	slow := []float64{10.0, 10.0}
	first := Crossover(fast, slow, 0)
	second := Crossover(fast, slow, 0)
	assert.Equal(t, first, second)
	assert.True(t, first.GoldenCross)
}

// Feeding a flat-then-rising close series through EMA(3)/SMA(5) should seed
// the EMA at the flat price and produce a golden cross during the run-up.
func TestCrossover_RisingRunScenario(t *testing.T) {
	closes := []float64{10, 10, 10, 10, 10, 12, 14, 16, 18, 20}
	emaVals, err := EMA(closes, 3)
	require.NoError(t, err)
	smaVals, err := SMA(closes, 5)
	require.NoError(t, err)

	assert.InDelta(t, 10.0, emaVals[2], 1e-9)

	sawGolden := false
	for i := 2; i <= len(closes); i++ {
		sig := Crossover(emaVals[:i], smaVals[:i], 0)
		if sig.GoldenCross {
			sawGolden = true
			// The cross tick must satisfy prev<=prev and curr>curr.
			assert.LessOrEqual(t, emaVals[i-2], smaVals[i-2])
			assert.Greater(t, emaVals[i-1], smaVals[i-1])
		}
		assert.False(t, sig.DeathCross)
	}
	assert.True(t, sawGolden, "expected a golden cross during the upward run")
}
