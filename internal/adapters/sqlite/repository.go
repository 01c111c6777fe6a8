package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"cryptoTrendBot/internal/domain"
	"cryptoTrendBot/internal/ports"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// Repository implements the ledger repositories (klines, trades, wallet,
// current position, run metadata) on SQLite. Writes are synchronous with each
// engine mutation; WAL mode lets readers aggregate without blocking writers.
type Repository struct {
	db     *sql.DB
	logger ports.Logger
}

// Config holds configuration for the SQLite repository.
type Config struct {
	DBPath string
	Logger ports.Logger
}

// NewRepository creates a new SQLite repository instance.
func NewRepository(cfg Config) (*Repository, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for SQLite repository")
	}
	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath = "./db/trading.db"
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		err = fmt.Errorf("failed to create data directory '%s': %w", filepath.Dir(dbPath), err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		err = fmt.Errorf("failed to open database at '%s': %w", dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		err = fmt.Errorf("failed to ping database at '%s': %w", dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	// SQLite handles concurrency internally; the Go driver benefits from a single connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	repo := &Repository{db: db, logger: cfg.Logger}
	if err := repo.initializeSchema(context.Background()); err != nil {
		db.Close()
		err = fmt.Errorf("failed to initialize database schema: %w", err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}
	cfg.Logger.Info(context.Background(), "SQLite ledger ready", map[string]interface{}{"path": dbPath})
	return repo, nil
}

func (r *Repository) initializeSchema(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS klines (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		symbol TEXT NOT NULL,
		interval TEXT NOT NULL,
		open_time INTEGER NOT NULL,
		close_time INTEGER NOT NULL,
		open REAL NOT NULL, high REAL NOT NULL, low REAL NOT NULL, close REAL NOT NULL,
		volume REAL NOT NULL DEFAULT 0,
		UNIQUE (symbol, interval, close_time)
	);

	CREATE TABLE IF NOT EXISTS trades (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		time INTEGER NOT NULL,
		symbol TEXT NOT NULL,
		side TEXT NOT NULL,
		price REAL NOT NULL,
		qty REAL NOT NULL,
		fee REAL NOT NULL,
		pnl REAL NOT NULL,
		balance_after REAL NOT NULL
	);

	CREATE TABLE IF NOT EXISTS wallet (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		time INTEGER NOT NULL,
		balance REAL NOT NULL
	);

	CREATE TABLE IF NOT EXISTS current_position (
		symbol TEXT PRIMARY KEY,
		side TEXT NOT NULL,
		entry_price REAL NOT NULL,
		qty REAL NOT NULL,
		open_fee REAL NOT NULL,
		updated_time INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS run_metadata (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		started_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_klines_symbol_close_time ON klines (symbol, close_time);
	CREATE INDEX IF NOT EXISTS idx_trades_symbol_time ON trades (symbol, time);
	`
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to execute schema initialization: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (r *Repository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// --- KlineRepository Implementation ---

// AppendKline persists a finalized candle. Duplicate close times for the same
// symbol/interval are ignored so backfill sweeps can overlap the stream.
func (r *Repository) AppendKline(ctx context.Context, k *domain.Kline) error {
	const query = `
	INSERT OR IGNORE INTO klines (symbol, interval, open_time, close_time, open, high, low, close, volume)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		k.Symbol, k.Interval, k.OpenTime.UnixMilli(), k.CloseTime.UnixMilli(),
		k.Open, k.High, k.Low, k.Close, k.Volume)
	if err != nil {
		return fmt.Errorf("failed to insert kline for %s at %d: %w", k.Symbol, k.CloseTime.UnixMilli(), err)
	}
	return nil
}

// RecentKlines retrieves the most recent persisted candles, newest first.
func (r *Repository) RecentKlines(ctx context.Context, symbol string, limit int) ([]*domain.Kline, error) {
	const query = `
	SELECT symbol, interval, open_time, close_time, open, high, low, close, volume
	FROM klines WHERE symbol = ? ORDER BY close_time DESC LIMIT ?`

	rows, err := r.db.QueryContext(ctx, query, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent klines for %s: %w", symbol, err)
	}
	defer rows.Close()

	var klines []*domain.Kline
	for rows.Next() {
		var k domain.Kline
		var openMs, closeMs int64
		if err := rows.Scan(&k.Symbol, &k.Interval, &openMs, &closeMs, &k.Open, &k.High, &k.Low, &k.Close, &k.Volume); err != nil {
			return nil, fmt.Errorf("failed to scan kline row: %w", err)
		}
		k.OpenTime = time.UnixMilli(openMs)
		k.CloseTime = time.UnixMilli(closeMs)
		k.IsFinal = true
		klines = append(klines, &k)
	}
	return klines, rows.Err()
}

// LastCloseTime returns the newest persisted close_time for a symbol.
func (r *Repository) LastCloseTime(ctx context.Context, symbol string) (time.Time, bool, error) {
	var closeMs sql.NullInt64
	err := r.db.QueryRowContext(ctx,
		`SELECT MAX(close_time) FROM klines WHERE symbol = ?`, symbol).Scan(&closeMs)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to query last close time for %s: %w", symbol, err)
	}
	if !closeMs.Valid {
		return time.Time{}, false, nil
	}
	return time.UnixMilli(closeMs.Int64), true, nil
}

// --- TradeRepository Implementation ---

// AppendTrade saves a new trade record and returns its assigned ID.
func (r *Repository) AppendTrade(ctx context.Context, t *domain.Trade) (int64, error) {
	const query = `
	INSERT INTO trades (time, symbol, side, price, qty, fee, pnl, balance_after)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	result, err := r.db.ExecContext(ctx, query,
		t.Time.UnixMilli(), t.Symbol, string(t.Side), t.Price, t.Quantity, t.Fee, t.PnL, t.BalanceAfter)
	if err != nil {
		return 0, fmt.Errorf("failed to insert trade for %s: %w", t.Symbol, err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID for trade: %w", err)
	}
	t.ID = id
	r.logger.Debug(ctx, "Trade appended", map[string]interface{}{"tradeID": id, "symbol": t.Symbol, "side": t.Side})
	return id, nil
}

// RecentTrades retrieves the most recent trades, newest first.
func (r *Repository) RecentTrades(ctx context.Context, symbol string, limit int) ([]*domain.Trade, error) {
	const query = `
	SELECT id, time, symbol, side, price, qty, fee, pnl, balance_after
	FROM trades WHERE symbol = ? ORDER BY id DESC LIMIT ?`
	return r.queryTrades(ctx, query, symbol, limit)
}

// AllTrades retrieves every trade record in append order.
func (r *Repository) AllTrades(ctx context.Context, symbol string) ([]*domain.Trade, error) {
	const query = `
	SELECT id, time, symbol, side, price, qty, fee, pnl, balance_after
	FROM trades WHERE symbol = ? ORDER BY id ASC`
	return r.queryTrades(ctx, query, symbol)
}

func (r *Repository) queryTrades(ctx context.Context, query string, args ...interface{}) ([]*domain.Trade, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query trades: %w", err)
	}
	defer rows.Close()

	var trades []*domain.Trade
	for rows.Next() {
		var t domain.Trade
		var side string
		var timeMs int64
		if err := rows.Scan(&t.ID, &timeMs, &t.Symbol, &side, &t.Price, &t.Quantity, &t.Fee, &t.PnL, &t.BalanceAfter); err != nil {
			return nil, fmt.Errorf("failed to scan trade row: %w", err)
		}
		t.Time = time.UnixMilli(timeMs)
		t.Side = domain.TradeSide(side)
		trades = append(trades, &t)
	}
	return trades, rows.Err()
}

// --- WalletRepository Implementation ---

// AppendSnapshot records a balance after a balance-affecting event.
func (r *Repository) AppendSnapshot(ctx context.Context, s *domain.WalletSnapshot) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO wallet (time, balance) VALUES (?, ?)`, s.Time.UnixMilli(), s.Balance)
	if err != nil {
		return fmt.Errorf("failed to insert wallet snapshot: %w", err)
	}
	return nil
}

// LatestBalance returns the most recent snapshot balance.
func (r *Repository) LatestBalance(ctx context.Context) (float64, bool, error) {
	return r.balanceRow(ctx, `SELECT balance FROM wallet ORDER BY id DESC LIMIT 1`)
}

// FirstBalance returns the earliest snapshot balance, the accounting baseline.
func (r *Repository) FirstBalance(ctx context.Context) (float64, bool, error) {
	return r.balanceRow(ctx, `SELECT balance FROM wallet ORDER BY id ASC LIMIT 1`)
}

func (r *Repository) balanceRow(ctx context.Context, query string) (float64, bool, error) {
	var balance float64
	err := r.db.QueryRowContext(ctx, query).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to query wallet balance: %w", err)
	}
	return balance, true, nil
}

// --- PositionRepository Implementation ---

// SaveOpen inserts or overwrites the current open position row for a symbol.
func (r *Repository) SaveOpen(ctx context.Context, symbol string, pos domain.Position) error {
	if pos.IsFlat() {
		return fmt.Errorf("refusing to save a flat position for %s", symbol)
	}
	const query = `
	INSERT INTO current_position (symbol, side, entry_price, qty, open_fee, updated_time)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(symbol) DO UPDATE SET
		side = excluded.side, entry_price = excluded.entry_price,
		qty = excluded.qty, open_fee = excluded.open_fee, updated_time = excluded.updated_time`

	_, err := r.db.ExecContext(ctx, query,
		symbol, string(pos.Side), pos.EntryPrice, pos.Quantity, pos.OpenFee, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to save open position for %s: %w", symbol, err)
	}
	return nil
}

// ClearOpen deletes the current open position row, if present.
func (r *Repository) ClearOpen(ctx context.Context, symbol string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM current_position WHERE symbol = ?`, symbol); err != nil {
		return fmt.Errorf("failed to clear open position for %s: %w", symbol, err)
	}
	return nil
}

// FindOpen retrieves the current open position for a symbol, if any.
func (r *Repository) FindOpen(ctx context.Context, symbol string) (domain.Position, bool, error) {
	var side string
	var entry, qty, fee float64
	err := r.db.QueryRowContext(ctx,
		`SELECT side, entry_price, qty, open_fee FROM current_position WHERE symbol = ?`, symbol).
		Scan(&side, &entry, &qty, &fee)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Flat(), false, nil
	}
	if err != nil {
		return domain.Flat(), false, fmt.Errorf("failed to query open position for %s: %w", symbol, err)
	}
	return domain.Open(domain.PositionSide(side), entry, qty, fee), true, nil
}

// InferOpenFromTrades reconstructs the open position from the trade ledger:
// if the most recent trade record is an open (LONG/SHORT) with no later
// close, that position is still live. Best-effort fallback for recovery when
// the dedicated current_position row was lost.
func (r *Repository) InferOpenFromTrades(ctx context.Context, symbol string) (domain.Position, bool, error) {
	var side string
	var price, qty, fee float64
	err := r.db.QueryRowContext(ctx,
		`SELECT side, price, qty, fee FROM trades WHERE symbol = ? ORDER BY id DESC LIMIT 1`, symbol).
		Scan(&side, &price, &qty, &fee)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Flat(), false, nil
	}
	if err != nil {
		return domain.Flat(), false, fmt.Errorf("failed to infer open position for %s: %w", symbol, err)
	}
	if domain.TradeSide(side) == domain.TradeClose {
		return domain.Flat(), false, nil
	}
	return domain.Open(domain.PositionSide(side), price, qty, fee), true, nil
}

// --- RunRepository Implementation ---

// RecordStart appends the engine start timestamp.
func (r *Repository) RecordStart(ctx context.Context, t time.Time) error {
	if _, err := r.db.ExecContext(ctx,
		`INSERT INTO run_metadata (started_at) VALUES (?)`, t.UnixMilli()); err != nil {
		return fmt.Errorf("failed to record run start: %w", err)
	}
	return nil
}

// FirstStart returns the earliest recorded engine start.
func (r *Repository) FirstStart(ctx context.Context) (time.Time, bool, error) {
	var ms int64
	err := r.db.QueryRowContext(ctx,
		`SELECT started_at FROM run_metadata ORDER BY id ASC LIMIT 1`).Scan(&ms)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to query run metadata: %w", err)
	}
	return time.UnixMilli(ms), true, nil
}
