package service

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/cadencehq/cadence/internal/billing"
	"github.com/cadencehq/cadence/internal/discount"
	"github.com/cadencehq/cadence/internal/domain"
	"github.com/cadencehq/cadence/internal/email"
	"github.com/cadencehq/cadence/internal/repository"
	"github.com/cadencehq/cadence/internal/telemetry"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
)

// InvoiceService is re-exported from domain.
type InvoiceService = domain.InvoiceService

type invoiceService struct {
	repo            repository.Querier
	resolver        domain.IdentityResolver
	billingProvider billing.Provider
	notifier        email.Notifier
	metrics         *telemetry.BusinessMetrics
	logger          *slog.Logger
	baseURL         string
}

// InvoiceServiceDeps carries the collaborators of the invoice service.
type InvoiceServiceDeps struct {
	Repo            repository.Querier
	Resolver        domain.IdentityResolver
	BillingProvider billing.Provider
	Notifier        email.Notifier
	Metrics         *telemetry.BusinessMetrics
	Logger          *slog.Logger
	BaseURL         string
}

// NewInvoiceService creates a new InvoiceService instance.
func NewInvoiceService(deps InvoiceServiceDeps) InvoiceService {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &invoiceService{
		repo:            deps.Repo,
		resolver:        deps.Resolver,
		billingProvider: deps.BillingProvider,
		notifier:        deps.Notifier,
		metrics:         deps.Metrics,
		logger:          logger,
		baseURL:         deps.BaseURL,
	}
}

// GetInvoice retrieves an invoice with its line items, parent and studio.
func (s *invoiceService) GetInvoice(ctx context.Context, invoiceID string) (*domain.InvoiceDetail, error) {
	const op = "invoiceService.GetInvoice"

	inv, err := s.loadInvoice(ctx, invoiceID, op)
	if err != nil {
		return nil, err
	}

	items, err := s.repo.GetInvoiceItems(ctx, inv.ID)
	if err != nil {
		return nil, domain.WrapError(err, domain.EINTERNAL, op, "Failed to load invoice items")
	}

	detail := &domain.InvoiceDetail{Invoice: inv, Items: items}
	if parent, err := s.repo.GetParentByID(ctx, inv.ParentID); err == nil {
		detail.Parent = &parent
	}
	if studio, err := s.repo.GetStudioByID(ctx, inv.StudioID); err == nil {
		detail.Studio = &studio
	}
	return detail, nil
}

// CreateSetupIntent creates an off-session setup intent in the platform
// scope, where stored cards live.
func (s *invoiceService) CreateSetupIntent(ctx context.Context, parentID string) (*domain.SetupIntentResult, error) {
	const op = "invoiceService.CreateSetupIntent"

	resolved, err := s.resolver.ResolvePlatformCustomer(ctx, parentID)
	if err != nil {
		return nil, err
	}

	si, err := s.billingProvider.CreateSetupIntent(ctx, billing.CreateSetupIntentParams{
		CustomerID:         resolved.CustomerID,
		Metadata:           map[string]string{"parent_id": parentID},
		ConnectedAccountID: resolved.ConnectedAccountID,
	})
	if err != nil {
		return nil, wrapProviderErr(err, "Could not create setup intent", op)
	}

	return &domain.SetupIntentResult{
		ClientSecret:       si.ClientSecret,
		IsConnectedAccount: resolved.ConnectedAccountID != "",
		ConnectedAccountID: resolved.ConnectedAccountID,
	}, nil
}

// ListPaymentMethods returns the parent's stored cards. A parent with no
// processor customer yet gets an empty list.
func (s *invoiceService) ListPaymentMethods(ctx context.Context, parentID string) ([]domain.PaymentMethodInfo, error) {
	const op = "invoiceService.ListPaymentMethods"

	parentUUID, err := parseUUID(parentID)
	if err != nil {
		return nil, domain.Errorf(domain.EINVALID, op, "Invalid parent id")
	}
	parent, err := s.repo.GetParentByID(ctx, parentUUID)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, domain.ErrParentNotFound
		}
		return nil, domain.WrapError(err, domain.EINTERNAL, op, "Failed to load parent")
	}

	if !parent.StripeCustomerID.Valid || parent.StripeCustomerID.String == "" {
		return []domain.PaymentMethodInfo{}, nil
	}

	methods, err := s.billingProvider.ListPaymentMethods(ctx, billing.ListPaymentMethodsParams{
		CustomerID: parent.StripeCustomerID.String,
	})
	if err != nil {
		return nil, wrapProviderErr(err, "Could not list payment methods", op)
	}

	infos := make([]domain.PaymentMethodInfo, 0, len(methods))
	for _, m := range methods {
		infos = append(infos, domain.PaymentMethodInfo{
			ID:       m.ID,
			Brand:    m.Brand,
			Last4:    m.Last4,
			ExpMonth: m.ExpMonth,
			ExpYear:  m.ExpYear,
			Default:  m.IsDefault,
		})
	}
	return infos, nil
}

// ProcessImmediatePayment confirms an off-session charge for a booking
// invoice and settles it synchronously on terminal success.
func (s *invoiceService) ProcessImmediatePayment(ctx context.Context, params domain.ImmediatePaymentParams) (*domain.ImmediatePaymentResult, error) {
	const op = "invoiceService.ProcessImmediatePayment"

	if params.Amount.Sign() <= 0 {
		return nil, domain.Errorf(domain.EINVALID, op, "Amount must be positive")
	}

	inv, err := s.loadInvoice(ctx, params.BookingID, op)
	if err != nil {
		return nil, err
	}
	if inv.Status == domain.InvoiceStatusPaid {
		return nil, domain.ErrInvoiceAlreadyPaid
	}

	resolved, err := s.resolver.ResolveCustomer(ctx, params.ParentID, params.StudioID)
	if err != nil {
		return nil, err
	}

	s.countPaymentAttempt(params.StudioID, domain.PaymentMethodStripe)

	result, err := s.billingProvider.CreateImmediatePayment(ctx, billing.ImmediatePaymentParams{
		AmountMinor:     discount.MinorUnits(params.Amount),
		Currency:        resolved.Currency,
		CustomerID:      resolved.CustomerID,
		PaymentMethodID: params.PaymentMethodID,
		Metadata: map[string]string{
			"invoice_id": params.BookingID,
			"parent_id":  params.ParentID,
			"studio_id":  params.StudioID,
		},
		IdempotencyKey:     "charge-" + params.BookingID,
		ConnectedAccountID: resolved.ConnectedAccountID,
	})
	if err != nil {
		s.countPaymentFailure(params.StudioID, domain.PaymentMethodStripe, "upstream")
		return nil, wrapProviderErr(err, "Payment could not be processed", op)
	}

	// The charge is an artifact against the invoice: the invoice leaves
	// draft before the outcome is applied.
	inv = s.markPending(ctx, inv)

	if !result.Succeeded {
		// A status short of terminal success is a business failure the
		// caller reports, and also a failed-settlement ledger event.
		s.countPaymentFailure(params.StudioID, domain.PaymentMethodStripe, failureReason(result))
		if inv.Status == domain.InvoiceStatusPending {
			if err := s.repo.UpdateInvoiceStatus(ctx, repository.UpdateInvoiceStatusParams{
				ID:     inv.ID,
				Status: domain.InvoiceStatusFailed,
			}); err != nil {
				s.logger.Error("failed to mark invoice failed after declined charge",
					"invoice_id", params.BookingID, "error", err)
			}
		}
		s.recordFailedAttempt(ctx, inv, params.Amount, result.PaymentIntentID, resolved.ConnectedAccountID)
		return &domain.ImmediatePaymentResult{
			Succeeded:       false,
			PaymentIntentID: result.PaymentIntentID,
			ProcessorStatus: result.Status,
			DeclineMessage:  result.DeclineMessage,
		}, nil
	}

	ledgerGap := s.settle(ctx, inv, settleParams{
		amount:             params.Amount,
		paymentMethod:      domain.PaymentMethodStripe,
		paymentIntentID:    result.PaymentIntentID,
		destinationAccount: resolved.ConnectedAccountID,
		source:             "sync",
	})

	return &domain.ImmediatePaymentResult{
		Succeeded:       true,
		PaymentIntentID: result.PaymentIntentID,
		LedgerGap:       ledgerGap,
	}, nil
}

// CreateArtifact provisions the artifact kind the request selects: a
// setup intent, a subscription, or a client-confirmable payment intent.
func (s *invoiceService) CreateArtifact(ctx context.Context, params domain.CreateArtifactParams) (*domain.ArtifactResult, error) {
	const op = "invoiceService.CreateArtifact"

	inv, err := s.loadInvoice(ctx, params.InvoiceID, op)
	if err != nil {
		return nil, err
	}
	if inv.Status == domain.InvoiceStatusPaid {
		return nil, domain.ErrInvoiceAlreadyPaid
	}

	resolved, err := s.resolver.ResolveCustomer(ctx, inv.ParentID.String(), inv.StudioID.String())
	if err != nil {
		return nil, err
	}

	if params.Setup {
		si, err := s.billingProvider.CreateSetupIntent(ctx, billing.CreateSetupIntentParams{
			CustomerID:         resolved.CustomerID,
			Metadata:           map[string]string{"invoice_id": params.InvoiceID},
			ConnectedAccountID: resolved.ConnectedAccountID,
		})
		if err != nil {
			return nil, wrapProviderErr(err, "Could not create setup intent", op)
		}
		return &domain.ArtifactResult{ClientSecret: si.ClientSecret}, nil
	}

	base := params.Amount
	if base.Sign() <= 0 {
		base = repository.DecimalFromNumeric(inv.Total)
	} else if inv.StripeInvoiceID.Valid && !base.Equal(repository.DecimalFromNumeric(inv.Total)) {
		// A mirrored processor invoice pins the total.
		return nil, domain.ErrTotalLocked
	}
	final := discount.Apply(base, inv.DiscountType, repository.DecimalFromNumeric(inv.DiscountValue))
	if final.Sign() <= 0 {
		return nil, domain.Errorf(domain.EINVALID, op, "Nothing to charge after discount")
	}

	if params.Recurring {
		if params.RecurringInterval != domain.IntervalWeek && params.RecurringInterval != domain.IntervalMonth {
			return nil, domain.Errorf(domain.EINVALID, op, "Unsupported recurring interval %q", params.RecurringInterval)
		}
		if params.PaymentMethodID == "" {
			return nil, domain.Errorf(domain.EINVALID, op, "A confirmed payment method is required for recurring billing")
		}

		sub, err := s.billingProvider.CreateSubscription(ctx, billing.CreateSubscriptionParams{
			CustomerID:             resolved.CustomerID,
			Currency:               resolved.Currency,
			AmountMinor:            discount.MinorUnits(final),
			Interval:               params.RecurringInterval,
			ProductName:            "Recurring invoice " + params.InvoiceID,
			DefaultPaymentMethodID: params.PaymentMethodID,
			CancelAt:               params.RecurringEndDate,
			Metadata:               map[string]string{"invoice_id": params.InvoiceID},
			IdempotencyKey:         "sub-" + params.InvoiceID,
			ConnectedAccountID:     resolved.ConnectedAccountID,
		})
		if err != nil {
			return nil, wrapProviderErr(err, "Could not create subscription", op)
		}

		// The subscription reference survives the response: settlement
		// events later flag it active against this invoice.
		if err := s.repo.SetInvoiceSubscription(ctx, repository.SetInvoiceSubscriptionParams{
			ID:                   inv.ID,
			StripeSubscriptionID: textValue(sub.ID),
			SubscriptionStatus:   textValue(sub.Status),
		}); err != nil {
			s.logger.Error("failed to persist subscription reference",
				"invoice_id", params.InvoiceID,
				"subscription_id", sub.ID,
				"error", err)
		}

		s.markPending(ctx, inv)
		s.countSubscription(inv.StudioID.String(), params.RecurringInterval)
		return &domain.ArtifactResult{
			SubscriptionID: sub.ID,
			LatestInvoice:  sub.LatestInvoiceID,
		}, nil
	}

	pi, err := s.billingProvider.CreatePaymentIntent(ctx, billing.PaymentIntentParams{
		AmountMinor: discount.MinorUnits(final),
		Currency:    resolved.Currency,
		CustomerID:  resolved.CustomerID,
		Metadata: map[string]string{
			"invoice_id": params.InvoiceID,
		},
		IdempotencyKey:     "pi-" + params.InvoiceID,
		ConnectedAccountID: resolved.ConnectedAccountID,
	})
	if err != nil {
		return nil, wrapProviderErr(err, "Could not create payment intent", op)
	}

	s.markPending(ctx, inv)
	return &domain.ArtifactResult{
		ClientSecret: pi.ClientSecret,
		InvoiceID:    params.InvoiceID,
	}, nil
}

// CreateHostedInvoice mirrors the local invoice as a finalized send-mode
// processor invoice with a payer URL.
func (s *invoiceService) CreateHostedInvoice(ctx context.Context, invoiceID string) (*domain.HostedInvoiceResult, error) {
	const op = "invoiceService.CreateHostedInvoice"

	inv, err := s.loadInvoice(ctx, invoiceID, op)
	if err != nil {
		return nil, err
	}
	if inv.Status == domain.InvoiceStatusPaid {
		return nil, domain.ErrInvoiceAlreadyPaid
	}
	if inv.StripeInvoiceID.Valid && inv.StripeInvoiceID.String != "" {
		// Hosted invoice already exists; the stored refs are the
		// idempotent answer.
		return &domain.HostedInvoiceResult{
			StripeInvoiceID:  inv.StripeInvoiceID.String,
			HostedInvoiceURL: textString(inv.HostedInvoiceURL),
		}, nil
	}

	resolved, err := s.resolver.ResolveCustomer(ctx, inv.ParentID.String(), inv.StudioID.String())
	if err != nil {
		return nil, err
	}

	lineItems, err := s.hostedLineItems(ctx, inv)
	if err != nil {
		return nil, domain.WrapError(err, domain.EINTERNAL, op, "Failed to load invoice items")
	}

	couponID := ""
	if inv.DiscountType != domain.DiscountNone {
		couponID, err = s.ensureCoupon(ctx, inv, resolved)
		if err != nil {
			return nil, wrapProviderErr(err, "Could not provision discount", op)
		}
	}

	hosted, err := s.billingProvider.CreateHostedInvoice(ctx, billing.HostedInvoiceParams{
		CustomerID: resolved.CustomerID,
		Currency:   resolved.Currency,
		LineItems:  lineItems,
		CouponID:   couponID,
		DueDate:    dateTime(inv.DueDate),
		Metadata: map[string]string{
			"invoice_id": invoiceID,
			"studio_id":  inv.StudioID.String(),
		},
		IdempotencyKey:     "hosted-" + invoiceID,
		ConnectedAccountID: resolved.ConnectedAccountID,
	})
	if err != nil {
		return nil, wrapProviderErr(err, "Could not create hosted invoice", op)
	}

	if err := s.repo.SetInvoiceProcessorRefs(ctx, repository.SetInvoiceProcessorRefsParams{
		ID:               inv.ID,
		StripeInvoiceID:  textValue(hosted.ID),
		HostedInvoiceURL: textValue(hosted.HostedURL),
	}); err != nil {
		return nil, domain.WrapError(err, domain.EINTERNAL, op, "Failed to store processor references")
	}

	s.markPending(ctx, inv)
	s.countHostedInvoice(inv.StudioID.String(), hosted.UsedPaymentLink)
	s.notifyInvoiceCreated(inv, hosted.HostedURL)

	return &domain.HostedInvoiceResult{
		StripeInvoiceID:  hosted.ID,
		HostedInvoiceURL: hosted.HostedURL,
	}, nil
}

// CreateCheckoutLink returns a checkout URL collecting the outstanding
// amount of a hosted invoice.
func (s *invoiceService) CreateCheckoutLink(ctx context.Context, params domain.CheckoutLinkParams) (string, error) {
	const op = "invoiceService.CreateCheckoutLink"

	inv, err := s.loadInvoice(ctx, params.InvoiceID, op)
	if err != nil {
		return "", err
	}
	if inv.Status == domain.InvoiceStatusPaid {
		return "", domain.ErrInvoiceAlreadyPaid
	}
	if !inv.StripeInvoiceID.Valid || inv.StripeInvoiceID.String != params.StripeInvoiceID {
		return "", domain.Errorf(domain.EINVALID, op, "Processor invoice reference does not match")
	}

	successURL := params.SuccessURL
	if successURL == "" {
		if s.baseURL == "" {
			return "", domain.Errorf(domain.EINVALID, op, "A success URL is required")
		}
		successURL = strings.TrimRight(s.baseURL, "/") + "/invoices/" + params.InvoiceID
	}

	resolved, err := s.resolver.ResolveCustomer(ctx, inv.ParentID.String(), inv.StudioID.String())
	if err != nil {
		return "", err
	}

	_, final, _ := s.invoiceAmounts(inv)
	session, err := s.billingProvider.CreateCheckoutSession(ctx, billing.CheckoutSessionParams{
		CustomerID:  resolved.CustomerID,
		Currency:    resolved.Currency,
		AmountMinor: discount.MinorUnits(final),
		Description: "Invoice " + params.InvoiceID,
		SuccessURL:  successURL,
		Metadata: map[string]string{
			"invoice_id":        params.InvoiceID,
			"stripe_invoice_id": params.StripeInvoiceID,
		},
		ConnectedAccountID: resolved.ConnectedAccountID,
	})
	if err != nil {
		return "", wrapProviderErr(err, "Could not create checkout link", op)
	}
	return session.URL, nil
}

// PayHostedInvoice collects a hosted invoice immediately with a stored
// card, cloning it into the connected scope first when needed.
func (s *invoiceService) PayHostedInvoice(ctx context.Context, params domain.PayHostedInvoiceParams) (*domain.PayHostedInvoiceResult, error) {
	const op = "invoiceService.PayHostedInvoice"

	inv, err := s.loadInvoice(ctx, params.InvoiceID, op)
	if err != nil {
		return nil, err
	}
	if inv.Status == domain.InvoiceStatusPaid {
		return nil, domain.ErrInvoiceAlreadyPaid
	}
	if !inv.StripeInvoiceID.Valid || inv.StripeInvoiceID.String != params.StripeInvoiceID {
		return nil, domain.Errorf(domain.EINVALID, op, "Processor invoice reference does not match")
	}

	parentUUID, err := parseUUID(params.ParentID)
	if err != nil {
		return nil, domain.Errorf(domain.EINVALID, op, "Invalid parent id")
	}
	parent, err := s.repo.GetParentByID(ctx, parentUUID)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, domain.ErrParentNotFound
		}
		return nil, domain.WrapError(err, domain.EINTERNAL, op, "Failed to load parent")
	}
	if !parent.StripeCustomerID.Valid || parent.StripeCustomerID.String == "" {
		return nil, domain.Errorf(domain.EINVALID, op, "Parent has no stored payment methods")
	}

	resolved, err := s.resolver.ResolveCustomer(ctx, params.ParentID, inv.StudioID.String())
	if err != nil {
		return nil, err
	}

	s.countPaymentAttempt(inv.StudioID.String(), domain.PaymentMethodStripe)

	result, err := s.billingProvider.PayHostedInvoice(ctx, billing.PayHostedInvoiceParams{
		ProcessorInvoiceID: params.StripeInvoiceID,
		PaymentMethodID:    params.PaymentMethodID,
		PlatformCustomerID: parent.StripeCustomerID.String,
		CustomerID:         resolved.CustomerID,
		ConnectedAccountID: resolved.ConnectedAccountID,
	})
	if err != nil {
		s.countPaymentFailure(inv.StudioID.String(), domain.PaymentMethodStripe, "upstream")
		return nil, wrapProviderErr(err, "Payment could not be processed", op)
	}
	if !result.Succeeded {
		s.countPaymentFailure(inv.StudioID.String(), domain.PaymentMethodStripe, failureReason(result))
		msg := result.DeclineMessage
		if msg == "" {
			msg = "Payment was not completed"
		}
		return nil, &domain.Error{Code: domain.EPAYMENT, Message: msg, Op: op}
	}

	_, final, _ := s.invoiceAmounts(inv)
	s.settle(ctx, inv, settleParams{
		amount:             final,
		paymentMethod:      domain.PaymentMethodStripe,
		paymentIntentID:    result.PaymentIntentID,
		destinationAccount: resolved.ConnectedAccountID,
		source:             "sync",
	})

	return &domain.PayHostedInvoiceResult{
		InvoiceID:          params.InvoiceID,
		PaymentIntentID:    result.PaymentIntentID,
		UsesConnectAccount: resolved.ConnectedAccountID != "",
	}, nil
}

// MarkPaidManually records an out-of-band bank transfer settlement.
func (s *invoiceService) MarkPaidManually(ctx context.Context, params domain.MarkPaidParams) error {
	const op = "invoiceService.MarkPaidManually"

	if params.Actor == nil {
		return domain.Errorf(domain.EUNAUTHORIZED, op, "Authentication required")
	}

	inv, err := s.loadInvoice(ctx, params.InvoiceID, op)
	if err != nil {
		return err
	}

	if params.Actor.Role != domain.RoleOwner || !params.Actor.OwnsStudio(inv.StudioID.String()) {
		return domain.Errorf(domain.EFORBIDDEN, op, "Only the studio owner can mark invoices as paid")
	}
	if inv.PaymentMethod != domain.PaymentMethodBankTransfer {
		return domain.ErrNotBankTransfer
	}
	if inv.Status == domain.InvoiceStatusPaid {
		return domain.ErrInvoiceAlreadyPaid
	}
	if !domain.CanTransition(inv.Status, domain.InvoiceStatusPaid) {
		return domain.ErrInvoiceNotPending
	}

	paidDate := params.PaidDate
	if paidDate.IsZero() {
		paidDate = time.Now()
	}
	markedBy, err := parseUUID(params.Actor.ID)
	if err != nil {
		return domain.Errorf(domain.EINVALID, op, "Invalid actor id")
	}

	if err := s.repo.MarkInvoicePaidManually(ctx, repository.MarkInvoicePaidManuallyParams{
		ID:               inv.ID,
		PaidDate:         pgtype.Date{Time: paidDate, Valid: true},
		PaymentReference: textValue(params.PaymentReference),
		MarkedBy:         markedBy,
	}); err != nil {
		return domain.WrapError(err, domain.EINTERNAL, op, "Failed to record manual payment")
	}

	original, final, discountAmt := s.invoiceAmounts(inv)
	if err := s.writeLedgerRow(ctx, inv, ledgerRow{
		amount:      final,
		original:    original,
		discountAmt: discountAmt,
		method:      domain.PaymentMethodBankTransfer,
		status:      domain.PaymentStatusCompleted,
	}); err != nil {
		s.logger.Error("manual payment recorded but ledger write failed",
			"invoice_id", params.InvoiceID, "error", err)
		s.countLedgerGap(inv.StudioID.String())
		return domain.ErrLedgerWriteFailed
	}

	s.countMarkedPaid(inv.StudioID.String())
	s.countInvoicePaid(inv, final, "manual")
	s.notifyPaymentConfirmation(inv, final, params.PaymentReference)
	return nil
}

// ListDueReminders returns pending invoices due within the window that
// have not yet had a reminder sent.
func (s *invoiceService) ListDueReminders(ctx context.Context, dueWithin time.Duration) ([]repository.Invoice, error) {
	const op = "invoiceService.ListDueReminders"

	cutoff := time.Now().Add(dueWithin)
	invoices, err := s.repo.ListReminderDueInvoices(ctx, pgtype.Date{Time: cutoff, Valid: true})
	if err != nil {
		return nil, domain.WrapError(err, domain.EINTERNAL, op, "Failed to list due invoices")
	}
	return invoices, nil
}

// MarkReminderSent stamps an invoice after a reminder dispatch.
func (s *invoiceService) MarkReminderSent(ctx context.Context, invoiceID string) error {
	const op = "invoiceService.MarkReminderSent"

	id, err := parseUUID(invoiceID)
	if err != nil {
		return domain.Errorf(domain.EINVALID, op, "Invalid invoice id")
	}
	if err := s.repo.MarkInvoiceReminderSent(ctx, id); err != nil {
		return domain.WrapError(err, domain.EINTERNAL, op, "Failed to stamp reminder")
	}
	return nil
}

// --- internals ---

func (s *invoiceService) loadInvoice(ctx context.Context, invoiceID, op string) (repository.Invoice, error) {
	id, err := parseUUID(invoiceID)
	if err != nil {
		return repository.Invoice{}, domain.Errorf(domain.EINVALID, op, "Invalid invoice id")
	}
	inv, err := s.repo.GetInvoiceByID(ctx, id)
	if err != nil {
		if repository.IsNotFound(err) {
			return repository.Invoice{}, domain.ErrInvoiceNotFound
		}
		return repository.Invoice{}, domain.WrapError(err, domain.EINTERNAL, op, "Failed to load invoice")
	}
	return inv, nil
}

// invoiceAmounts recomputes settlement amounts from the stored discount
// fields. The processor's reported total is never used, so rounding is
// applied exactly once.
func (s *invoiceService) invoiceAmounts(inv repository.Invoice) (original, final, discountAmt decimal.Decimal) {
	original = repository.DecimalFromNumeric(inv.Total)
	final = discount.Apply(original, inv.DiscountType, repository.DecimalFromNumeric(inv.DiscountValue))
	discountAmt = original.Sub(final)
	return original, final, discountAmt
}

type settleParams struct {
	amount             decimal.Decimal
	paymentMethod      string
	paymentIntentID    string
	destinationAccount string
	source             string
}

// settle transitions the invoice to paid and writes the ledger row.
// A ledger failure after the status write is reported as a gap, never
// rolled back.
func (s *invoiceService) settle(ctx context.Context, inv repository.Invoice, p settleParams) (ledgerGap bool) {
	// Settlement on a draft or failed invoice steps through pending so
	// the invoice reaches paid rather than silently keeping its status.
	if !domain.CanTransition(inv.Status, domain.InvoiceStatusPaid) {
		inv = s.markPending(ctx, inv)
	}
	if domain.CanTransition(inv.Status, domain.InvoiceStatusPaid) {
		if err := s.repo.MarkInvoicePaid(ctx, repository.MarkInvoicePaidParams{
			ID:     inv.ID,
			PaidAt: pgtype.Timestamptz{Time: time.Now(), Valid: true},
		}); err != nil {
			s.logger.Error("failed to mark invoice paid after settlement",
				"invoice_id", inv.ID.String(), "error", err)
		}
	}

	original, _, discountAmt := s.invoiceAmounts(inv)
	if err := s.writeLedgerRow(ctx, inv, ledgerRow{
		amount:             p.amount,
		original:           original,
		discountAmt:        discountAmt,
		method:             p.paymentMethod,
		paymentIntentID:    p.paymentIntentID,
		status:             domain.PaymentStatusCompleted,
		destinationAccount: p.destinationAccount,
	}); err != nil {
		s.logger.Error("settlement applied but ledger write failed",
			"invoice_id", inv.ID.String(),
			"payment_intent_id", p.paymentIntentID,
			"error", err)
		s.countLedgerGap(inv.StudioID.String())
		return true
	}

	s.countInvoicePaid(inv, p.amount, p.source)
	s.notifyPaymentConfirmation(inv, p.amount, p.paymentIntentID)
	return false
}

type ledgerRow struct {
	amount             decimal.Decimal
	original           decimal.Decimal
	discountAmt        decimal.Decimal
	method             string
	paymentIntentID    string
	status             string
	destinationAccount string
}

func (s *invoiceService) writeLedgerRow(ctx context.Context, inv repository.Invoice, row ledgerRow) error {
	_, err := s.repo.CreatePayment(ctx, repository.CreatePaymentParams{
		InvoiceID:             inv.ID,
		ParentID:              inv.ParentID,
		StudioID:              inv.StudioID,
		Amount:                repository.NumericFromDecimal(row.amount),
		OriginalAmount:        repository.NumericFromDecimal(row.original),
		DiscountAmount:        repository.NumericFromDecimal(row.discountAmt),
		PaymentMethod:         row.method,
		StripePaymentIntentID: textValue(row.paymentIntentID),
		Status:                row.status,
		DestinationAccount:    textValue(row.destinationAccount),
		IsRecurring:           inv.IsRecurring,
		RecurringInterval:     inv.RecurringInterval,
	})
	return err
}

// recordFailedAttempt writes a failed ledger row. Failure to do so is
// logged only; a failed charge carries no money movement to lose.
func (s *invoiceService) recordFailedAttempt(ctx context.Context, inv repository.Invoice, amount decimal.Decimal, intentID, destination string) {
	original, _, discountAmt := s.invoiceAmounts(inv)
	if err := s.writeLedgerRow(ctx, inv, ledgerRow{
		amount:             amount,
		original:           original,
		discountAmt:        discountAmt,
		method:             domain.PaymentMethodStripe,
		paymentIntentID:    intentID,
		status:             domain.PaymentStatusFailed,
		destinationAccount: destination,
	}); err != nil {
		s.logger.Error("failed to record declined attempt",
			"invoice_id", inv.ID.String(), "error", err)
	}
}

// markPending moves a draft or failed invoice to pending once an
// artifact exists against it, and returns the invoice with the status
// it now carries.
func (s *invoiceService) markPending(ctx context.Context, inv repository.Invoice) repository.Invoice {
	if !domain.CanTransition(inv.Status, domain.InvoiceStatusPending) {
		return inv
	}
	if err := s.repo.UpdateInvoiceStatus(ctx, repository.UpdateInvoiceStatusParams{
		ID:     inv.ID,
		Status: domain.InvoiceStatusPending,
	}); err != nil {
		s.logger.Error("failed to move invoice to pending",
			"invoice_id", inv.ID.String(), "error", err)
		return inv
	}
	inv.Status = domain.InvoiceStatusPending
	return inv
}

func (s *invoiceService) hostedLineItems(ctx context.Context, inv repository.Invoice) ([]billing.InvoiceLineItem, error) {
	items, err := s.repo.GetInvoiceItems(ctx, inv.ID)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return []billing.InvoiceLineItem{{
			Description: "Invoice " + inv.ID.String(),
			AmountMinor: discount.MinorUnits(repository.DecimalFromNumeric(inv.Total)),
		}}, nil
	}

	lineItems := make([]billing.InvoiceLineItem, 0, len(items))
	for _, item := range items {
		unit := repository.DecimalFromNumeric(item.UnitPrice)
		total := unit.Mul(decimal.NewFromInt32(item.Quantity))
		lineItems = append(lineItems, billing.InvoiceLineItem{
			Description: item.Description,
			AmountMinor: discount.MinorUnits(total),
			Quantity:    int64(item.Quantity),
		})
	}
	return lineItems, nil
}

func (s *invoiceService) ensureCoupon(ctx context.Context, inv repository.Invoice, resolved *domain.ResolvedCustomer) (string, error) {
	value := repository.DecimalFromNumeric(inv.DiscountValue)
	params := billing.EnsureCouponParams{
		CouponID:           discount.CouponID(inv.DiscountType, value),
		Currency:           resolved.Currency,
		ConnectedAccountID: resolved.ConnectedAccountID,
	}
	switch inv.DiscountType {
	case domain.DiscountPercentage:
		f, _ := value.Float64()
		params.PercentOff = f
	case domain.DiscountFixed:
		params.AmountOffMinor = discount.MinorUnits(value)
	default:
		return "", nil
	}
	return s.billingProvider.EnsureCoupon(ctx, params)
}

func dateTime(d pgtype.Date) time.Time {
	if !d.Valid {
		return time.Time{}
	}
	return d.Time
}

func failureReason(result *billing.PaymentResult) string {
	if result.DeclineMessage != "" {
		return "declined"
	}
	return "status"
}

// --- side effects (best effort) ---

func (s *invoiceService) notifyInvoiceCreated(inv repository.Invoice, payURL string) {
	if s.notifier == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		parent, err := s.repo.GetParentByID(ctx, inv.ParentID)
		if err != nil {
			return
		}
		studio, err := s.repo.GetStudioByID(ctx, inv.StudioID)
		if err != nil {
			return
		}
		_, final, _ := s.invoiceAmounts(inv)

		err = s.notifier.SendInvoiceCreated(ctx, email.InvoiceCreatedEmail{
			Email:      parent.Email,
			ParentName: parentDisplayName(parent),
			StudioName: studio.Name,
			Amount:     final.StringFixed(2),
			Currency:   currencyLabel(inv.Currency),
			DueDate:    dateTime(inv.DueDate),
			PayURL:     payURL,
		})
		s.countEmail("invoice_created", err)
		if err != nil {
			s.logger.Error("failed to send invoice notification",
				"invoice_id", inv.ID.String(), "error", err)
		}
	}()
}

func (s *invoiceService) notifyPaymentConfirmation(inv repository.Invoice, amount decimal.Decimal, reference string) {
	if s.notifier == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		parent, err := s.repo.GetParentByID(ctx, inv.ParentID)
		if err != nil {
			return
		}
		studio, err := s.repo.GetStudioByID(ctx, inv.StudioID)
		if err != nil {
			return
		}

		err = s.notifier.SendPaymentConfirmation(ctx, email.PaymentConfirmationEmail{
			Email:      parent.Email,
			ParentName: parentDisplayName(parent),
			StudioName: studio.Name,
			Amount:     amount.StringFixed(2),
			Currency:   currencyLabel(inv.Currency),
			PaidAt:     time.Now(),
			Reference:  reference,
		})
		s.countEmail("payment_confirmation", err)
		if err != nil {
			s.logger.Error("failed to send payment confirmation",
				"invoice_id", inv.ID.String(), "error", err)
		}
	}()
}

// --- metrics (nil-safe for tests) ---

func (s *invoiceService) countPaymentAttempt(studioID, method string) {
	if s.metrics != nil {
		s.metrics.PaymentAttempts.WithLabelValues(studioID, method).Inc()
	}
}

func (s *invoiceService) countPaymentFailure(studioID, method, reason string) {
	if s.metrics != nil {
		s.metrics.PaymentFailed.WithLabelValues(studioID, method, reason).Inc()
	}
}

func (s *invoiceService) countInvoicePaid(inv repository.Invoice, amount decimal.Decimal, source string) {
	if s.metrics == nil {
		return
	}
	studioID := inv.StudioID.String()
	s.metrics.PaymentSucceeded.WithLabelValues(studioID, inv.PaymentMethod).Inc()
	s.metrics.InvoicesPaid.WithLabelValues(studioID, source).Inc()
	f, _ := amount.Float64()
	s.metrics.PaymentAmount.WithLabelValues(studioID, inv.Currency).Observe(f)
	s.metrics.RevenueCollected.WithLabelValues(studioID, inv.Currency).Add(f)
}

func (s *invoiceService) countMarkedPaid(studioID string) {
	if s.metrics != nil {
		s.metrics.InvoicesMarkedPaid.WithLabelValues(studioID).Inc()
	}
}

func (s *invoiceService) countSubscription(studioID, interval string) {
	if s.metrics != nil {
		s.metrics.SubscriptionsOpened.WithLabelValues(studioID, interval).Inc()
	}
}

func (s *invoiceService) countHostedInvoice(studioID string, fallback bool) {
	if s.metrics == nil {
		return
	}
	label := "none"
	if fallback {
		label = "payment_link"
	}
	s.metrics.InvoicesHosted.WithLabelValues(studioID, label).Inc()
}

func (s *invoiceService) countLedgerGap(studioID string) {
	if s.metrics != nil {
		s.metrics.LedgerGaps.WithLabelValues(studioID).Inc()
	}
}

func (s *invoiceService) countEmail(template string, err error) {
	if s.metrics == nil {
		return
	}
	if err != nil {
		s.metrics.EmailFailed.WithLabelValues(template).Inc()
		return
	}
	s.metrics.EmailSent.WithLabelValues(template).Inc()
}

func currencyLabel(currency string) string {
	if currency == "" {
		return "USD"
	}
	return strings.ToUpper(currency)
}
