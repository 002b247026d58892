package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/cadencehq/cadence/internal/discount"
	"github.com/cadencehq/cadence/internal/domain"
	"github.com/cadencehq/cadence/internal/email"
	"github.com/cadencehq/cadence/internal/repository"
	"github.com/cadencehq/cadence/internal/telemetry"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
)

// Reconciler is re-exported from domain.
type Reconciler = domain.Reconciler

type reconciler struct {
	repo     repository.Querier
	notifier email.Notifier
	metrics  *telemetry.BusinessMetrics
	logger   *slog.Logger
}

// ReconcilerDeps carries the collaborators of the reconciler.
type ReconcilerDeps struct {
	Repo     repository.Querier
	Notifier email.Notifier
	Metrics  *telemetry.BusinessMetrics
	Logger   *slog.Logger
}

// NewReconciler creates the settlement event handler.
func NewReconciler(deps ReconcilerDeps) Reconciler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &reconciler{
		repo:     deps.Repo,
		notifier: deps.Notifier,
		metrics:  deps.Metrics,
		logger:   logger,
	}
}

// HandleSettlement applies one settlement event. Events that reference no
// known invoice are discarded; re-delivery of an applied event is a no-op.
// Asynchronous failure never moves an invoice to failed: the artifact may
// still be retried, so only the ledger learns about it.
func (r *reconciler) HandleSettlement(ctx context.Context, event domain.SettlementEvent) error {
	const op = "reconciler.HandleSettlement"

	if event.Kind == domain.SettlementUnknown {
		r.logger.Debug("ignoring settlement event of unknown kind", "event_id", event.EventID)
		return nil
	}

	inv, found, err := r.lookupInvoice(ctx, event)
	if err != nil {
		return domain.WrapError(err, domain.EINTERNAL, op, "Failed to look up invoice for settlement")
	}
	if !found {
		r.logger.Warn("settlement event references no known invoice",
			"event_id", event.EventID,
			"invoice_id", event.InvoiceID,
			"stripe_invoice_id", event.StripeInvoiceID)
		r.countDiscarded("no_invoice")
		return nil
	}

	switch event.Kind {
	case domain.SettlementSucceeded:
		return r.applySuccess(ctx, inv, event, op)
	case domain.SettlementFailed:
		return r.applyFailure(ctx, inv, event, op)
	default:
		return nil
	}
}

func (r *reconciler) applySuccess(ctx context.Context, inv repository.Invoice, event domain.SettlementEvent, op string) error {
	if inv.Status == domain.InvoiceStatusPaid {
		// Replay of an already-settled invoice, or a webhook racing the
		// synchronous collection path. The ledger row exists; nothing to do.
		r.logger.Info("settlement replay on paid invoice, skipping",
			"event_id", event.EventID, "invoice_id", inv.ID.String())
		r.countDiscarded("already_paid")
		return nil
	}

	if event.PaymentIntentID != "" {
		if _, err := r.repo.GetPaymentByIntent(ctx, repository.GetPaymentByIntentParams{
			StripePaymentIntentID: event.PaymentIntentID,
			Status:                domain.PaymentStatusCompleted,
		}); err == nil {
			r.logger.Info("settlement already in ledger, skipping",
				"event_id", event.EventID, "payment_intent_id", event.PaymentIntentID)
			r.countDiscarded("duplicate_intent")
			return nil
		} else if !repository.IsNotFound(err) {
			return domain.WrapError(err, domain.EINTERNAL, op, "Failed to check ledger for settlement")
		}
	}

	// A settlement can arrive while the invoice is still draft (sync
	// collection racing the webhook) or failed (a retried charge). Both
	// step through pending so the invoice reaches paid.
	if !domain.CanTransition(inv.Status, domain.InvoiceStatusPaid) &&
		domain.CanTransition(inv.Status, domain.InvoiceStatusPending) {
		if err := r.repo.UpdateInvoiceStatus(ctx, repository.UpdateInvoiceStatusParams{
			ID:     inv.ID,
			Status: domain.InvoiceStatusPending,
		}); err != nil {
			return domain.WrapError(err, domain.EINTERNAL, op, "Failed to move invoice to pending")
		}
		inv.Status = domain.InvoiceStatusPending
	}
	if err := r.repo.MarkInvoicePaid(ctx, repository.MarkInvoicePaidParams{
		ID:     inv.ID,
		PaidAt: pgtype.Timestamptz{Time: time.Now(), Valid: true},
	}); err != nil {
		return domain.WrapError(err, domain.EINTERNAL, op, "Failed to mark invoice paid")
	}

	original, final, discountAmt := r.settlementAmounts(inv)
	if _, err := r.repo.CreatePayment(ctx, repository.CreatePaymentParams{
		InvoiceID:             inv.ID,
		ParentID:              inv.ParentID,
		StudioID:              inv.StudioID,
		Amount:                repository.NumericFromDecimal(final),
		OriginalAmount:        repository.NumericFromDecimal(original),
		DiscountAmount:        repository.NumericFromDecimal(discountAmt),
		PaymentMethod:         domain.PaymentMethodStripe,
		StripePaymentIntentID: textValue(event.PaymentIntentID),
		Status:                domain.PaymentStatusCompleted,
		DestinationAccount:    textValue(event.DestinationAccount),
		IsRecurring:           inv.IsRecurring,
		RecurringInterval:     inv.RecurringInterval,
	}); err != nil {
		if repository.IsUniqueViolation(err) {
			// Concurrent delivery of the same event; the winner's row stands.
			r.countDiscarded("duplicate_intent")
			return nil
		}
		r.logger.Error("invoice marked paid but ledger write failed",
			"event_id", event.EventID,
			"invoice_id", inv.ID.String(),
			"payment_intent_id", event.PaymentIntentID,
			"error", err)
		r.countLedgerGap(inv.StudioID.String())
		return domain.ErrLedgerWriteFailed
	}

	if inv.IsRecurring && inv.StripeSubscriptionID.Valid {
		// First settled charge proves the subscription collects; the
		// reference flips to active.
		if err := r.repo.MarkInvoiceSubscriptionActive(ctx, inv.ID); err != nil {
			r.logger.Error("failed to flag subscription active",
				"invoice_id", inv.ID.String(),
				"subscription_id", inv.StripeSubscriptionID.String,
				"error", err)
		}
	}

	r.countPaid(inv, final)
	r.notifyPaymentConfirmation(inv, event.PaymentIntentID)

	r.logger.Info("settlement applied",
		"event_id", event.EventID,
		"invoice_id", inv.ID.String(),
		"payment_intent_id", event.PaymentIntentID)
	return nil
}

func (r *reconciler) applyFailure(ctx context.Context, inv repository.Invoice, event domain.SettlementEvent, op string) error {
	if inv.Status == domain.InvoiceStatusPaid {
		// A failure event for an invoice that has since settled carries no
		// authority to regress terminal state.
		r.logger.Warn("failure event on paid invoice, ignoring",
			"event_id", event.EventID, "invoice_id", inv.ID.String())
		r.countDiscarded("already_paid")
		return nil
	}

	if event.PaymentIntentID != "" {
		if _, err := r.repo.GetPaymentByIntent(ctx, repository.GetPaymentByIntentParams{
			StripePaymentIntentID: event.PaymentIntentID,
			Status:                domain.PaymentStatusFailed,
		}); err == nil {
			r.countDiscarded("duplicate_intent")
			return nil
		} else if !repository.IsNotFound(err) {
			return domain.WrapError(err, domain.EINTERNAL, op, "Failed to check ledger for settlement")
		}
	}

	original, final, discountAmt := r.settlementAmounts(inv)
	if _, err := r.repo.CreatePayment(ctx, repository.CreatePaymentParams{
		InvoiceID:             inv.ID,
		ParentID:              inv.ParentID,
		StudioID:              inv.StudioID,
		Amount:                repository.NumericFromDecimal(final),
		OriginalAmount:        repository.NumericFromDecimal(original),
		DiscountAmount:        repository.NumericFromDecimal(discountAmt),
		PaymentMethod:         domain.PaymentMethodStripe,
		StripePaymentIntentID: textValue(event.PaymentIntentID),
		Status:                domain.PaymentStatusFailed,
		DestinationAccount:    textValue(event.DestinationAccount),
		IsRecurring:           inv.IsRecurring,
		RecurringInterval:     inv.RecurringInterval,
	}); err != nil {
		if repository.IsUniqueViolation(err) {
			r.countDiscarded("duplicate_intent")
			return nil
		}
		return domain.WrapError(err, domain.EINTERNAL, op, "Failed to record failed settlement")
	}

	r.logger.Info("failed settlement recorded",
		"event_id", event.EventID,
		"invoice_id", inv.ID.String(),
		"payment_intent_id", event.PaymentIntentID,
		"failure_message", event.FailureMessage)
	return nil
}

// lookupInvoice resolves the event to a local invoice: the metadata
// identifier first, falling back to the processor invoice reference.
func (r *reconciler) lookupInvoice(ctx context.Context, event domain.SettlementEvent) (repository.Invoice, bool, error) {
	if event.InvoiceID != "" {
		id, err := parseUUID(event.InvoiceID)
		if err == nil {
			inv, err := r.repo.GetInvoiceByID(ctx, id)
			if err == nil {
				return inv, true, nil
			}
			if !repository.IsNotFound(err) {
				return repository.Invoice{}, false, err
			}
		}
	}
	if event.StripeInvoiceID != "" {
		inv, err := r.repo.GetInvoiceByStripeID(ctx, event.StripeInvoiceID)
		if err == nil {
			return inv, true, nil
		}
		if !repository.IsNotFound(err) {
			return repository.Invoice{}, false, err
		}
	}
	return repository.Invoice{}, false, nil
}

func (r *reconciler) settlementAmounts(inv repository.Invoice) (original, final, discountAmt decimal.Decimal) {
	original = repository.DecimalFromNumeric(inv.Total)
	final = discount.Apply(original, inv.DiscountType, repository.DecimalFromNumeric(inv.DiscountValue))
	discountAmt = original.Sub(final)
	return original, final, discountAmt
}

func (r *reconciler) notifyPaymentConfirmation(inv repository.Invoice, reference string) {
	if r.notifier == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		parent, err := r.repo.GetParentByID(ctx, inv.ParentID)
		if err != nil {
			return
		}
		studio, err := r.repo.GetStudioByID(ctx, inv.StudioID)
		if err != nil {
			return
		}
		_, final, _ := r.settlementAmounts(inv)

		if err := r.notifier.SendPaymentConfirmation(ctx, email.PaymentConfirmationEmail{
			Email:      parent.Email,
			ParentName: parentDisplayName(parent),
			StudioName: studio.Name,
			Amount:     final.StringFixed(2),
			Currency:   currencyLabel(inv.Currency),
			PaidAt:     time.Now(),
			Reference:  reference,
		}); err != nil {
			r.logger.Error("failed to send payment confirmation",
				"invoice_id", inv.ID.String(), "error", err)
		}
	}()
}

func (r *reconciler) countDiscarded(reason string) {
	if r.metrics != nil {
		r.metrics.WebhookDiscarded.WithLabelValues(reason).Inc()
	}
}

func (r *reconciler) countLedgerGap(studioID string) {
	if r.metrics != nil {
		r.metrics.LedgerGaps.WithLabelValues(studioID).Inc()
	}
}

func (r *reconciler) countPaid(inv repository.Invoice, amount decimal.Decimal) {
	if r.metrics == nil {
		return
	}
	studioID := inv.StudioID.String()
	r.metrics.PaymentSucceeded.WithLabelValues(studioID, domain.PaymentMethodStripe).Inc()
	r.metrics.InvoicesPaid.WithLabelValues(studioID, "webhook").Inc()
	f, _ := amount.Float64()
	r.metrics.PaymentAmount.WithLabelValues(studioID, inv.Currency).Observe(f)
	r.metrics.RevenueCollected.WithLabelValues(studioID, inv.Currency).Add(f)
}
