package ports

import (
	"context"
	"time"

	"cryptoTrendBot/internal/domain"
)

// KlineRepository stores the append-only candle history.
type KlineRepository interface {
	// AppendKline persists a finalized candle. Re-appending the same close_time
	// for a symbol/interval is a no-op so backfill sweeps can overlap the stream.
	AppendKline(ctx context.Context, k *domain.Kline) error
	// RecentKlines retrieves the most recent persisted candles, newest first.
	RecentKlines(ctx context.Context, symbol string, limit int) ([]*domain.Kline, error)
	// LastCloseTime returns the newest persisted close_time for a symbol, if any.
	LastCloseTime(ctx context.Context, symbol string) (time.Time, bool, error)
}

// TradeRepository stores the append-only trade ledger.
type TradeRepository interface {
	// AppendTrade saves a new trade record and returns its assigned ID.
	AppendTrade(ctx context.Context, t *domain.Trade) (int64, error)
	// RecentTrades retrieves the most recent trades, newest first.
	RecentTrades(ctx context.Context, symbol string, limit int) ([]*domain.Trade, error)
	// AllTrades retrieves every trade record in append order.
	AllTrades(ctx context.Context, symbol string) ([]*domain.Trade, error)
}

// WalletRepository stores balance snapshots.
type WalletRepository interface {
	// AppendSnapshot records a balance after a balance-affecting event.
	AppendSnapshot(ctx context.Context, s *domain.WalletSnapshot) error
	// LatestBalance returns the most recent snapshot balance, if any.
	LatestBalance(ctx context.Context) (float64, bool, error)
	// FirstBalance returns the earliest snapshot balance (the accounting baseline), if any.
	FirstBalance(ctx context.Context) (float64, bool, error)
}

// PositionRepository stores the single current open position (0 or 1 row).
type PositionRepository interface {
	// SaveOpen inserts or overwrites the current open position for a symbol.
	SaveOpen(ctx context.Context, symbol string, pos domain.Position) error
	// ClearOpen deletes the current open position row, if present.
	ClearOpen(ctx context.Context, symbol string) error
	// FindOpen retrieves the current open position, if any.
	FindOpen(ctx context.Context, symbol string) (domain.Position, bool, error)
	// InferOpenFromTrades reconstructs the open position from the trade ledger:
	// a trailing open record with no later close implies still-open. Fallback
	// recovery path when the dedicated row is absent.
	InferOpenFromTrades(ctx context.Context, symbol string) (domain.Position, bool, error)
}

// RunRepository stores engine run metadata.
type RunRepository interface {
	// RecordStart appends the engine start timestamp.
	RecordStart(ctx context.Context, t time.Time) error
	// FirstStart returns the earliest recorded start, if any.
	FirstStart(ctx context.Context) (time.Time, bool, error)
}
