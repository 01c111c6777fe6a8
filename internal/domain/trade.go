package domain

import "time"

// Trade is an append-only ledger record of a confirmed open or close.
// Open records carry PnL = -fee (cost of entry). Close records carry the net
// result: gross price delta minus the close fee minus the stored open fee.
type Trade struct {
	ID           int64     // Assigned by the store
	Time         time.Time // Execution time
	Symbol       string    // Trading symbol
	Side         TradeSide // LONG / SHORT open, or CLOSE
	Price        float64   // Executed price
	Quantity     float64   // Executed quantity
	Fee          float64   // Fee charged for this fill
	PnL          float64   // See above
	BalanceAfter float64   // Wallet balance after this record was applied
}

// WalletSnapshot records the balance after every balance-affecting event.
// The earliest snapshot is the accounting baseline for return-on-capital.
type WalletSnapshot struct {
	ID      int64
	Time    time.Time
	Balance float64
}
