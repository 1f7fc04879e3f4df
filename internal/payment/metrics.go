package payment

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metric names.
const (
	MetricCheckoutSessions       = "payments_checkout_sessions_total"
	MetricWebhookEvents          = "payments_webhook_events_total"
	MetricReconciliations        = "payments_reconciliations_total"
	MetricReconciliationFailures = "payments_reconciliation_failures_total"
	MetricRefunds                = "payments_refunds_total"
	MetricRefundedAmount         = "payments_refunded_amount_minor_total"
)

// Metrics contains Prometheus metrics for the payment flows. A nil *Metrics
// is valid and records nothing.
type Metrics struct {
	checkoutSessions       *prometheus.CounterVec
	webhookEvents          *prometheus.CounterVec
	reconciliations        *prometheus.CounterVec
	reconciliationFailures *prometheus.CounterVec
	refunds                *prometheus.CounterVec
	refundedAmount         *prometheus.CounterVec
}

// NewMetrics creates the collectors. Call Register to expose them.
func NewMetrics() *Metrics {
	return &Metrics{
		checkoutSessions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricCheckoutSessions,
				Help: "Checkout session creation attempts by result",
			},
			[]string{"result"},
		),
		webhookEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricWebhookEvents,
				Help: "Webhook deliveries by event type and outcome",
			},
			[]string{"event_type", "outcome"},
		),
		reconciliations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricReconciliations,
				Help: "Session reconciliations by store outcome (inserted, updated, store_error)",
			},
			[]string{"outcome"},
		),
		reconciliationFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricReconciliationFailures,
				Help: "Webhook events acknowledged without a successful reconciliation; alert on any increase",
			},
			[]string{"event_type", "stage"},
		),
		refunds: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricRefunds,
				Help: "Refund requests by result",
			},
			[]string{"result"},
		),
		refundedAmount: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricRefundedAmount,
				Help: "Refunded amount in minor currency units",
			},
			[]string{"currency"},
		),
	}
}

// Register registers all metrics with the given registry.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range m.Collectors() {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// Collectors returns all Prometheus collectors.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.checkoutSessions,
		m.webhookEvents,
		m.reconciliations,
		m.reconciliationFailures,
		m.refunds,
		m.refundedAmount,
	}
}

func (m *Metrics) incCheckout(result string) {
	if m == nil {
		return
	}
	m.checkoutSessions.WithLabelValues(result).Inc()
}

// IncWebhookEvent counts a webhook delivery.
func (m *Metrics) IncWebhookEvent(eventType, outcome string) {
	if m == nil {
		return
	}
	m.webhookEvents.WithLabelValues(eventType, outcome).Inc()
}

func (m *Metrics) incReconciliation(outcome string) {
	if m == nil {
		return
	}
	m.reconciliations.WithLabelValues(outcome).Inc()
}

// IncReconciliationFailure counts an event whose reconciliation failed at
// the given stage (gateway, panic).
func (m *Metrics) IncReconciliationFailure(eventType, stage string) {
	if m == nil {
		return
	}
	m.reconciliationFailures.WithLabelValues(eventType, stage).Inc()
}

func (m *Metrics) observeRefund(result, currency string, amount int64) {
	if m == nil {
		return
	}
	m.refunds.WithLabelValues(result).Inc()
	if amount > 0 {
		m.refundedAmount.WithLabelValues(currency).Add(float64(amount))
	}
}
