package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	WebhookEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_webhook_events_total",
			Help: "Payment webhook deliveries by outcome",
		},
		[]string{"outcome"},
	)

	WebhookSignatureFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_webhook_signature_failures_total",
			Help: "Rejected webhook signatures by reason",
		},
		[]string{"reason"},
	)

	PaymentIntentTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_intent_transitions_total",
			Help: "Payment intent state transitions by target state",
		},
		[]string{"status"},
	)

	InventoryMovementsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inventory_movements_total",
			Help: "Inventory ledger rows appended by action",
		},
		[]string{"action"},
	)

	InsufficientStockTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "inventory_insufficient_stock_total",
			Help: "Operations aborted because stock would go negative",
		},
	)

	POSSalesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pos_sales_total",
			Help: "Completed POS sales",
		},
	)

	POSSaleDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pos_sale_duration_seconds",
			Help:    "Duration of POS sale composition",
			Buckets: prometheus.DefBuckets,
		},
	)
)

// Register registers all collectors with the default registry.
func Register() {
	prometheus.MustRegister(
		WebhookEventsTotal,
		WebhookSignatureFailuresTotal,
		PaymentIntentTransitionsTotal,
		InventoryMovementsTotal,
		InsufficientStockTotal,
		POSSalesTotal,
		POSSaleDuration,
	)
}
