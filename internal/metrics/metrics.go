// Package metrics holds the Prometheus instruments the engine and gateway
// update during operation:
//
//   - bot_decisions_total{signal}          – signal evaluations (golden|death|none)
//   - bot_orders_total{side,outcome}       – order attempts by outcome (confirmed|failed)
//   - bot_confirm_polls_total              – position-confirmation polls issued
//   - bot_reconciliations_total{kind}      – reconciliation repairs by kind
//   - bot_equity_usd                       – current wallet balance (gauge)
//
// The registry is exposed by whoever embeds the engine; the core only records.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics bundles the engine's Prometheus instruments.
type Metrics struct {
	Decisions       *prometheus.CounterVec
	Orders          *prometheus.CounterVec
	ConfirmPolls    prometheus.Counter
	Reconciliations *prometheus.CounterVec
	Equity          prometheus.Gauge
}

// New creates and registers the instruments. Pass nil to register on a
// private registry (useful in tests).
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := &Metrics{
		Decisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "bot_decisions_total", Help: "Signal evaluations taken"},
			[]string{"signal"},
		),
		Orders: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "bot_orders_total", Help: "Order attempts by outcome"},
			[]string{"side", "outcome"},
		),
		ConfirmPolls: prometheus.NewCounter(
			prometheus.CounterOpts{Name: "bot_confirm_polls_total", Help: "Position confirmation polls issued"},
		),
		Reconciliations: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "bot_reconciliations_total", Help: "Local state repairs from exchange truth"},
			[]string{"kind"},
		),
		Equity: prometheus.NewGauge(
			prometheus.GaugeOpts{Name: "bot_equity_usd", Help: "Current wallet balance"},
		),
	}
	reg.MustRegister(m.Decisions, m.Orders, m.ConfirmPolls, m.Reconciliations, m.Equity)
	return m
}
