package webhook

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/cadencehq/cadence/internal/billing"
	"github.com/cadencehq/cadence/internal/domain"
	"github.com/cadencehq/cadence/internal/telemetry"
	"github.com/stripe/stripe-go/v82"
)

// StripeHandler receives Stripe webhook deliveries and feeds settlement
// events to the reconciler.
type StripeHandler struct {
	provider   billing.Provider
	reconciler domain.Reconciler
	metrics    *telemetry.BusinessMetrics
	logger     *slog.Logger
	config     StripeWebhookConfig
}

// StripeWebhookConfig contains configuration for Stripe webhook handling.
type StripeWebhookConfig struct {
	// WebhookSecret is the endpoint signing secret from the Stripe
	// dashboard.
	WebhookSecret string
}

// NewStripeHandler creates a new Stripe webhook handler.
func NewStripeHandler(provider billing.Provider, reconciler domain.Reconciler, metrics *telemetry.BusinessMetrics, logger *slog.Logger, config StripeWebhookConfig) *StripeHandler {
	return &StripeHandler{
		provider:   provider,
		reconciler: reconciler,
		metrics:    metrics,
		logger:     logger,
		config:     config,
	}
}

// HandleWebhook processes incoming Stripe webhook events.
//
// The signature is verified against the raw payload before any parsing.
// Every verified delivery is acknowledged with 200 regardless of what the
// reconciler decides; returning an error here would make Stripe retry an
// event we have already inspected.
func (h *StripeHandler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()

	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusBadRequest)
		return
	}

	payload, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "Error reading request body", http.StatusBadRequest)
		return
	}

	signature := r.Header.Get("Stripe-Signature")
	if signature == "" {
		h.logger.Warn("webhook delivery missing signature header")
		http.Error(w, "Missing signature", http.StatusBadRequest)
		return
	}

	if err := h.provider.VerifyWebhookSignature(payload, signature, h.config.WebhookSecret); err != nil {
		h.logger.Warn("webhook signature verification failed", "error", err)
		http.Error(w, "Invalid signature", http.StatusBadRequest)
		return
	}

	var event stripe.Event
	if err := json.Unmarshal(payload, &event); err != nil {
		h.logger.Error("webhook payload is not valid JSON", "error", err)
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	eventType := string(event.Type)
	h.logger.Info("stripe webhook received", "event_type", eventType, "event_id", event.ID)
	if h.metrics != nil {
		h.metrics.WebhookReceived.WithLabelValues(eventType).Inc()
		defer func() {
			h.metrics.WebhookLatency.WithLabelValues(eventType).Observe(time.Since(startTime).Seconds())
		}()
	}

	settlement := h.parseSettlement(event)
	if settlement.Kind == domain.SettlementUnknown {
		h.logger.Debug("unhandled event type", "event_type", eventType)
		acknowledge(w)
		return
	}

	if err := h.reconciler.HandleSettlement(r.Context(), settlement); err != nil {
		// The status transition, if any, has already been decided; an
		// error here means the ledger or store misbehaved. Alert and
		// acknowledge so Stripe does not re-deliver a settled event.
		h.logger.Error("settlement processing failed",
			"event_type", eventType,
			"event_id", event.ID,
			"payment_intent_id", settlement.PaymentIntentID,
			"error", err)
		if h.metrics != nil {
			h.metrics.WebhookFailed.WithLabelValues(eventType).Inc()
		}
		telemetry.CaptureError(err, map[string]interface{}{
			"event_type":        eventType,
			"event_id":          event.ID,
			"payment_intent_id": settlement.PaymentIntentID,
		})
		acknowledge(w)
		return
	}

	if h.metrics != nil {
		h.metrics.WebhookProcessed.WithLabelValues(eventType).Inc()
	}
	acknowledge(w)
}

// parseSettlement maps a verified Stripe event onto the reconciler's view
// of the world. Event types outside the settlement surface come back as
// SettlementUnknown.
func (h *StripeHandler) parseSettlement(event stripe.Event) domain.SettlementEvent {
	switch event.Type {
	case "payment_intent.succeeded":
		return h.fromPaymentIntent(event, domain.SettlementSucceeded)
	case "payment_intent.payment_failed":
		return h.fromPaymentIntent(event, domain.SettlementFailed)
	case "invoice.payment_succeeded", "invoice.paid":
		return h.fromInvoice(event, domain.SettlementSucceeded)
	case "invoice.payment_failed":
		return h.fromInvoice(event, domain.SettlementFailed)
	default:
		return domain.SettlementEvent{Kind: domain.SettlementUnknown, EventID: event.ID}
	}
}

func (h *StripeHandler) fromPaymentIntent(event stripe.Event, kind domain.SettlementKind) domain.SettlementEvent {
	var pi stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
		h.logger.Error("error parsing payment intent from webhook", "event_id", event.ID, "error", err)
		return domain.SettlementEvent{Kind: domain.SettlementUnknown, EventID: event.ID}
	}

	settlement := domain.SettlementEvent{
		Kind:            kind,
		EventID:         event.ID,
		PaymentIntentID: pi.ID,
		InvoiceID:       pi.Metadata["invoice_id"],
	}
	if pi.OnBehalfOf != nil {
		settlement.DestinationAccount = pi.OnBehalfOf.ID
	} else if pi.TransferData != nil && pi.TransferData.Destination != nil {
		settlement.DestinationAccount = pi.TransferData.Destination.ID
	}
	if pi.LastPaymentError != nil {
		settlement.FailureMessage = pi.LastPaymentError.Msg
	}
	return settlement
}

func (h *StripeHandler) fromInvoice(event stripe.Event, kind domain.SettlementKind) domain.SettlementEvent {
	var inv stripe.Invoice
	if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
		h.logger.Error("error parsing invoice from webhook", "event_id", event.ID, "error", err)
		return domain.SettlementEvent{Kind: domain.SettlementUnknown, EventID: event.ID}
	}

	settlement := domain.SettlementEvent{
		Kind:            kind,
		EventID:         event.ID,
		StripeInvoiceID: inv.ID,
		InvoiceID:       inv.Metadata["invoice_id"],
	}
	// Invoice events carry payments as a nested list. Reconciliation
	// falls back to the stripe invoice id when no intent is present.
	if inv.Payments != nil {
		for _, p := range inv.Payments.Data {
			if p.Payment != nil && p.Payment.PaymentIntent != nil {
				settlement.PaymentIntentID = p.Payment.PaymentIntent.ID
				break
			}
		}
	}
	if inv.OnBehalfOf != nil {
		settlement.DestinationAccount = inv.OnBehalfOf.ID
	}
	return settlement
}

func acknowledge(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"ok": true}`))
}
