// Package metrics exposes Prometheus instrumentation for the trading core.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// OrdersAccepted counts committed orders by kind and side.
	OrdersAccepted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "spotdex",
		Name:      "orders_accepted_total",
		Help:      "Orders accepted by the matching engine",
	}, []string{"kind", "side"})

	// OrdersRejected counts rejected orders by kind and reason.
	OrdersRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "spotdex",
		Name:      "orders_rejected_total",
		Help:      "Orders rejected by the matching engine",
	}, []string{"kind", "reason"})

	// TradesExecuted counts fills per instrument.
	TradesExecuted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "spotdex",
		Name:      "trades_executed_total",
		Help:      "Executed fills",
	}, []string{"instrument"})

	// QuoteVolume accumulates quote-asset turnover per instrument.
	QuoteVolume = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "spotdex",
		Name:      "quote_volume_total",
		Help:      "Quote asset volume exchanged",
	}, []string{"instrument"})
)
