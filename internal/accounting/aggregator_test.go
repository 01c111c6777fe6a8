package accounting

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"cryptoTrendBot/internal/domain"
)

func TestCompute(t *testing.T) {
	trades := []*domain.Trade{
		{Side: domain.TradeLong, Price: 100, Quantity: 1, Fee: 0.5, PnL: -0.5},
		{Side: domain.TradeClose, Price: 110, Quantity: 1, Fee: 0.55, PnL: 8.95},
		{Side: domain.TradeShort, Price: 110, Quantity: 1, Fee: 0.55, PnL: -0.55},
		{Side: domain.TradeClose, Price: 105, Quantity: 1, Fee: 0.525, PnL: 3.925},
	}

	got := Compute(trades, 1000)

	assert.InDelta(t, 12.875, got.TotalPnL, 1e-9)
	assert.InDelta(t, 2.125, got.TotalFee, 1e-9)
	assert.Equal(t, 2, got.TradeCount)
	assert.InDelta(t, 1000.0, got.BaseBalance, 1e-9)
	assert.InDelta(t, 0.012875, got.ROI, 1e-9)
}

func TestCompute_OrderIndependent(t *testing.T) {
	a := []*domain.Trade{
		{Side: domain.TradeClose, PnL: 5, Fee: 1},
		{Side: domain.TradeLong, PnL: -1, Fee: 1},
		{Side: domain.TradeClose, PnL: -2, Fee: 1},
	}
	b := []*domain.Trade{a[2], a[0], a[1]}

	assert.Equal(t, Compute(a, 500), Compute(b, 500))
}

func TestCompute_EmptyAndZeroBase(t *testing.T) {
	got := Compute(nil, 0)
	assert.Zero(t, got.TotalPnL)
	assert.Zero(t, got.TotalFee)
	assert.Zero(t, got.TradeCount)
	assert.Zero(t, got.ROI)

	// Negative base never divides.
	got = Compute([]*domain.Trade{{Side: domain.TradeClose, PnL: 10}}, -50)
	assert.Zero(t, got.ROI)
}
