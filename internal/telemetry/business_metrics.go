package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// BusinessMetrics holds Prometheus metrics for business-level observability.
// All metrics include studio_id label for per-tenant dashboard segmentation.
type BusinessMetrics struct {
	// Payments
	PaymentAttempts  *prometheus.CounterVec
	PaymentSucceeded *prometheus.CounterVec
	PaymentFailed    *prometheus.CounterVec
	PaymentAmount    *prometheus.HistogramVec

	// Invoices
	InvoicesHosted      *prometheus.CounterVec
	InvoicesPaid        *prometheus.CounterVec
	InvoicesMarkedPaid  *prometheus.CounterVec
	SubscriptionsOpened *prometheus.CounterVec

	// Ledger integrity
	LedgerGaps *prometheus.CounterVec

	// Webhooks
	WebhookReceived  *prometheus.CounterVec
	WebhookProcessed *prometheus.CounterVec
	WebhookDiscarded *prometheus.CounterVec
	WebhookFailed    *prometheus.CounterVec
	WebhookLatency   *prometheus.HistogramVec

	// Revenue tracking
	RevenueCollected *prometheus.CounterVec

	// Email delivery
	EmailSent   *prometheus.CounterVec
	EmailFailed *prometheus.CounterVec
}

// NewBusinessMetrics creates and registers all business metrics.
func NewBusinessMetrics(namespace string) *BusinessMetrics {
	if namespace == "" {
		namespace = "cadence"
	}

	subsystem := "billing"

	return &BusinessMetrics{
		PaymentAttempts: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "payment_attempts_total",
				Help:      "Total payment attempts against the processor",
			},
			[]string{"studio_id", "method"}, // method: stripe, bank_transfer
		),
		PaymentSucceeded: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "payment_succeeded_total",
				Help:      "Total payments that reached terminal success",
			},
			[]string{"studio_id", "method"},
		),
		PaymentFailed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "payment_failed_total",
				Help:      "Total payments that failed or were declined",
			},
			[]string{"studio_id", "method", "reason"}, // reason: declined, status, upstream
		),
		PaymentAmount: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "payment_amount",
				Help:      "Settled payment amounts in major currency units",
				Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500},
			},
			[]string{"studio_id", "currency"},
		),
		InvoicesHosted: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "invoices_hosted_total",
				Help:      "Total processor-hosted invoices created",
			},
			[]string{"studio_id", "fallback"}, // fallback: payment_link, none
		),
		InvoicesPaid: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "invoices_paid_total",
				Help:      "Total invoices transitioned to paid",
			},
			[]string{"studio_id", "source"}, // source: sync, webhook, manual
		),
		InvoicesMarkedPaid: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "invoices_marked_paid_total",
				Help:      "Total manual bank-transfer settlements recorded",
			},
			[]string{"studio_id"},
		),
		SubscriptionsOpened: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "subscriptions_opened_total",
				Help:      "Total recurring billing subscriptions created",
			},
			[]string{"studio_id", "interval"},
		),
		LedgerGaps: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "ledger_gaps_total",
				Help:      "Settlements applied to an invoice whose ledger row failed to write",
			},
			[]string{"studio_id"},
		),
		WebhookReceived: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "webhook_received_total",
				Help:      "Total webhook deliveries accepted after signature verification",
			},
			[]string{"event_type"},
		),
		WebhookProcessed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "webhook_processed_total",
				Help:      "Total webhook events applied to local state",
			},
			[]string{"event_type"},
		),
		WebhookDiscarded: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "webhook_discarded_total",
				Help:      "Total webhook events acknowledged without mutation",
			},
			[]string{"reason"}, // reason: no_invoice, already_paid, duplicate_intent
		),
		WebhookFailed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "webhook_failed_total",
				Help:      "Total webhook events that errored during processing",
			},
			[]string{"event_type"},
		),
		WebhookLatency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "webhook_latency_seconds",
				Help:      "Webhook handling duration",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"event_type"},
		),
		RevenueCollected: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "revenue_collected_total",
				Help:      "Settled revenue in major currency units",
			},
			[]string{"studio_id", "currency"},
		),
		EmailSent: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "email_sent_total",
				Help:      "Total notification emails dispatched",
			},
			[]string{"template"},
		),
		EmailFailed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "email_failed_total",
				Help:      "Total notification emails that failed to send",
			},
			[]string{"template"},
		),
	}
}
