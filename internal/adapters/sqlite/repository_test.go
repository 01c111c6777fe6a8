package sqlite

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"cryptoTrendBot/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockLogger implements ports.Logger for testing
type mockLogger struct{}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

// setupTestDB creates a temporary database for testing
func setupTestDB(t *testing.T) (*Repository, func()) {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "trend-bot-test-*")
	require.NoError(t, err)

	dbPath := filepath.Join(tmpDir, "test.db")
	repo, err := NewRepository(Config{
		DBPath: dbPath,
		Logger: &mockLogger{},
	})
	require.NoError(t, err)

	cleanup := func() {
		repo.Close()
		os.RemoveAll(tmpDir)
	}
	return repo, cleanup
}

func TestRepository_Klines(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	base := time.UnixMilli(1700000000000)
	for i := 0; i < 3; i++ {
		k := &domain.Kline{
			Symbol:    "BTCUSDT",
			Interval:  "1m",
			OpenTime:  base.Add(time.Duration(i) * time.Minute),
			CloseTime: base.Add(time.Duration(i+1) * time.Minute),
			Open:      100 + float64(i),
			High:      101 + float64(i),
			Low:       99 + float64(i),
			Close:     100.5 + float64(i),
			Volume:    10,
		}
		require.NoError(t, repo.AppendKline(ctx, k))
		// Duplicate close_time must be a no-op.
		require.NoError(t, repo.AppendKline(ctx, k))
	}

	klines, err := repo.RecentKlines(ctx, "BTCUSDT", 10)
	require.NoError(t, err)
	require.Len(t, klines, 3)
	assert.InDelta(t, 102.5, klines[0].Close, 1e-9, "newest first")
	assert.True(t, klines[0].IsFinal)

	last, ok, err := repo.LastCloseTime(ctx, "BTCUSDT")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, base.Add(3*time.Minute).UnixMilli(), last.UnixMilli())

	_, ok, err = repo.LastCloseTime(ctx, "ETHUSDT")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRepository_TradesAndWallet(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	now := time.Now()
	open := &domain.Trade{
		Time: now, Symbol: "BTCUSDT", Side: domain.TradeLong,
		Price: 100, Quantity: 1, Fee: 0.5, PnL: -0.5, BalanceAfter: 999.5,
	}
	id, err := repo.AppendTrade(ctx, open)
	require.NoError(t, err)
	assert.Positive(t, id)

	closeTr := &domain.Trade{
		Time: now.Add(time.Minute), Symbol: "BTCUSDT", Side: domain.TradeClose,
		Price: 110, Quantity: 1, Fee: 0.55, PnL: 8.95, BalanceAfter: 1008.95,
	}
	_, err = repo.AppendTrade(ctx, closeTr)
	require.NoError(t, err)

	recent, err := repo.RecentTrades(ctx, "BTCUSDT", 1)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, domain.TradeClose, recent[0].Side)

	all, err := repo.AllTrades(ctx, "BTCUSDT")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, domain.TradeLong, all[0].Side, "append order")

	require.NoError(t, repo.AppendSnapshot(ctx, &domain.WalletSnapshot{Time: now, Balance: 1000}))
	require.NoError(t, repo.AppendSnapshot(ctx, &domain.WalletSnapshot{Time: now.Add(time.Minute), Balance: 1008.95}))

	first, ok, err := repo.FirstBalance(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.InDelta(t, 1000.0, first, 1e-9)

	latest, ok, err := repo.LatestBalance(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.InDelta(t, 1008.95, latest, 1e-9)
}

func TestRepository_WalletEmpty(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()

	_, ok, err := repo.LatestBalance(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRepository_CurrentPosition(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	_, found, err := repo.FindOpen(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.False(t, found)

	pos := domain.Open(domain.SideLong, 100, 0.5, 0.025)
	require.NoError(t, repo.SaveOpen(ctx, "BTCUSDT", pos))

	got, found, err := repo.FindOpen(ctx, "BTCUSDT")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, pos, got)

	// Overwrite with a reversed position; still a single row.
	rev := domain.Open(domain.SideShort, 110, 0.6, 0.03)
	require.NoError(t, repo.SaveOpen(ctx, "BTCUSDT", rev))
	got, found, err = repo.FindOpen(ctx, "BTCUSDT")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, rev, got)

	require.NoError(t, repo.ClearOpen(ctx, "BTCUSDT"))
	_, found, err = repo.FindOpen(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.False(t, found)

	// Saving a flat position is a precondition violation.
	require.Error(t, repo.SaveOpen(ctx, "BTCUSDT", domain.Flat()))
}

func TestRepository_InferOpenFromTrades(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()
	now := time.Now()

	// Empty ledger: nothing to infer.
	_, found, err := repo.InferOpenFromTrades(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.False(t, found)

	// Open with no later close implies still-open.
	_, err = repo.AppendTrade(ctx, &domain.Trade{
		Time: now, Symbol: "BTCUSDT", Side: domain.TradeShort,
		Price: 200, Quantity: 2, Fee: 0.2, PnL: -0.2, BalanceAfter: 999.8,
	})
	require.NoError(t, err)

	pos, found, err := repo.InferOpenFromTrades(ctx, "BTCUSDT")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, domain.Open(domain.SideShort, 200, 2, 0.2), pos)

	// A trailing close record means flat.
	_, err = repo.AppendTrade(ctx, &domain.Trade{
		Time: now.Add(time.Minute), Symbol: "BTCUSDT", Side: domain.TradeClose,
		Price: 190, Quantity: 2, Fee: 0.19, PnL: 19.61, BalanceAfter: 1019.41,
	})
	require.NoError(t, err)

	_, found, err = repo.InferOpenFromTrades(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestRepository_RunMetadata(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	_, ok, err := repo.FirstStart(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	first := time.UnixMilli(1700000000000)
	require.NoError(t, repo.RecordStart(ctx, first))
	require.NoError(t, repo.RecordStart(ctx, first.Add(time.Hour)))

	got, ok, err := repo.FirstStart(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, first.UnixMilli(), got.UnixMilli())
}
