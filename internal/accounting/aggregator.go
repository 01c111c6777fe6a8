// Package accounting derives read-side aggregates from the trade ledger.
// Projections here are pure: they never mutate state and can be recomputed
// from the ledger at any time.
package accounting

import "cryptoTrendBot/internal/domain"

// Totals summarizes realized performance since the ledger baseline.
type Totals struct {
	TotalPnL    float64 // Sum of pnl over close records only
	TotalFee    float64 // Sum of fees over all records
	TradeCount  int     // Number of close records (one per round trip)
	BaseBalance float64 // Earliest wallet snapshot, or the configured seed
	ROI         float64 // TotalPnL / BaseBalance, 0 when the base is not positive
}

// Compute aggregates the trade ledger against the accounting baseline.
// Open records contribute only their fee; realized PnL comes from close
// records, whose pnl already nets out both legs' fees.
func Compute(trades []*domain.Trade, baseBalance float64) Totals {
	t := Totals{BaseBalance: baseBalance}
	for _, tr := range trades {
		t.TotalFee += tr.Fee
		if tr.Side == domain.TradeClose {
			t.TotalPnL += tr.PnL
			t.TradeCount++
		}
	}
	if t.BaseBalance > 0 {
		t.ROI = t.TotalPnL / t.BaseBalance
	}
	return t
}
