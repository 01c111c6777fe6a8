package reconcile

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cryptoTrendBot/internal/domain"
	"cryptoTrendBot/internal/ports"
)

type mockLogger struct{}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

// queryOnlyExchange stubs QueryPosition; everything else is unused here.
type queryOnlyExchange struct {
	ports.ExchangeClient
	pos *ports.ExchangePosition
	err error
}

func (m *queryOnlyExchange) QueryPosition(ctx context.Context, symbol string, preferSide domain.PositionSide) (*ports.ExchangePosition, error) {
	return m.pos, m.err
}

func newTestReconciler(t *testing.T, ex ports.ExchangeClient) *Reconciler {
	t.Helper()
	r, err := New(ex, &mockLogger{}, nil, "BTCUSDT")
	require.NoError(t, err)
	return r
}

func TestReconciler_Opposing(t *testing.T) {
	short := &ports.ExchangePosition{Symbol: "BTCUSDT", Quantity: -0.3, EntryPrice: 100}

	t.Run("opposing short blocks a long open", func(t *testing.T) {
		r := newTestReconciler(t, &queryOnlyExchange{pos: short})
		got, err := r.Opposing(context.Background(), domain.SideLong)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, domain.SideShort, got.Side())
	})

	t.Run("same-direction position is not opposing", func(t *testing.T) {
		r := newTestReconciler(t, &queryOnlyExchange{pos: short})
		got, err := r.Opposing(context.Background(), domain.SideShort)
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("no position", func(t *testing.T) {
		r := newTestReconciler(t, &queryOnlyExchange{})
		got, err := r.Opposing(context.Background(), domain.SideLong)
		require.NoError(t, err)
		assert.Nil(t, got)
	})
}

func TestReconciler_Holds(t *testing.T) {
	r := newTestReconciler(t, &queryOnlyExchange{pos: &ports.ExchangePosition{Quantity: 0.2, EntryPrice: 50}})

	held, pos, err := r.Holds(context.Background(), domain.SideLong)
	require.NoError(t, err)
	assert.True(t, held)
	assert.InDelta(t, 0.2, pos.AbsQuantity(), 1e-9)

	held, _, err = r.Holds(context.Background(), domain.SideShort)
	require.NoError(t, err)
	assert.False(t, held)
}

func TestReconciler_Adopt(t *testing.T) {
	r := newTestReconciler(t, &queryOnlyExchange{})

	adopted := r.Adopt(context.Background(), &ports.ExchangePosition{Quantity: -1.5, EntryPrice: 2000})
	assert.Equal(t, domain.SideShort, adopted.Side)
	assert.InDelta(t, 2000.0, adopted.EntryPrice, 1e-9)
	assert.InDelta(t, 1.5, adopted.Quantity, 1e-9)
	assert.Zero(t, adopted.OpenFee, "fee of an externally opened position is unknowable")

	assert.True(t, r.Adopt(context.Background(), nil).IsFlat())
}

func TestReconciler_Repair(t *testing.T) {
	r := newTestReconciler(t, &queryOnlyExchange{})
	ctx := context.Background()
	long := domain.Open(domain.SideLong, 100, 1.0, 0.05)

	tests := []struct {
		name        string
		local       domain.Position
		truth       *ports.ExchangePosition
		want        domain.Position
		wantChanged bool
	}{
		{
			name:  "both flat",
			local: domain.Flat(),
			truth: nil,
			want:  domain.Flat(),
		},
		{
			name:        "exchange flat clears local",
			local:       long,
			truth:       nil,
			want:        domain.Flat(),
			wantChanged: true,
		},
		{
			name:        "local flat adopts exchange",
			local:       domain.Flat(),
			truth:       &ports.ExchangePosition{Quantity: 2, EntryPrice: 110},
			want:        domain.Open(domain.SideLong, 110, 2, 0),
			wantChanged: true,
		},
		{
			name:        "side mismatch adopts exchange with zero fee",
			local:       long,
			truth:       &ports.ExchangePosition{Quantity: -1, EntryPrice: 95},
			want:        domain.Open(domain.SideShort, 95, 1, 0),
			wantChanged: true,
		},
		{
			name:        "quantity drift keeps stored open fee",
			local:       long,
			truth:       &ports.ExchangePosition{Quantity: 0.6, EntryPrice: 100},
			want:        domain.Open(domain.SideLong, 100, 0.6, 0.05),
			wantChanged: true,
		},
		{
			name:  "agreement needs no repair",
			local: long,
			truth: &ports.ExchangePosition{Quantity: 1.0, EntryPrice: 100},
			want:  long,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, changed := r.Repair(ctx, tt.local, tt.truth)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.wantChanged, changed)
		})
	}
}
